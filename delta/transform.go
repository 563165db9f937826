package delta

// Transform rebases self past other, both expressed against the same
// starting state, per the pseudo-rule table in §4.5:
//
//	self       other      leftPriority   emit
//	insert X   insert Y   true           insert X, advance self
//	insert X   insert Y   false          retain |Y|, advance other
//	insert X   (any != insert)           insert X, advance self
//	retain/del insert Y   —              retain |Y|, advance other
//	delete     delete     —              drop (both sides consume)
//	delete     retain     —              delete n
//	retain     delete     —              drop
//	retain     retain     —              retain n (attribute side: self)
//
// The attribute-transform open question (what Attr a retain/retain
// collision keeps) is resolved as "self wins": the emitted retain
// always carries self's attribute, never other's.
func Transform[V any](self, other *Rope[V], leftPriority bool) *Rope[V] {
	out := New[V]()
	ps := newPeekable(self.Items())
	po := newPeekable(other.Items())

	for !ps.done() || !po.done() {
		if !ps.done() {
			sKind, sAttr, sLen := ps.head()
			if sKind == kindInsert {
				if !po.done() {
					oKind, _, oLen := po.head()
					if oKind == kindInsert {
						if leftPriority {
							v := ps.take(sLen)
							out.PushReplace(v, sAttr, 0)
						} else {
							po.take(oLen)
							out.PushRetain(oLen, nil)
						}
						continue
					}
				}
				v := ps.take(sLen)
				out.PushReplace(v, sAttr, 0)
				continue
			}
		}

		if !po.done() {
			oKind, _, oLen := po.head()
			if oKind == kindInsert {
				po.take(oLen)
				out.PushRetain(oLen, nil)
				continue
			}
		}

		if ps.done() {
			// nothing left of self to rebase; any remaining other
			// content was already drained above (inserts) or implies
			// other extends past self, which is a caller error we
			// silently ignore by stopping.
			break
		}
		if po.done() {
			sKind, sAttr, sLen := ps.head()
			v := ps.take(sLen)
			switch sKind {
			case kindDelete:
				out.PushReplace(nil, sAttr, sLen)
			case kindRetain:
				out.PushRetain(sLen, sAttr)
			case kindInsert:
				out.PushReplace(v, sAttr, 0)
			}
			continue
		}

		sKind, sAttr, sLen := ps.head()
		oKind, _, oLen := po.head()
		n := minPositive(sLen, oLen)

		switch {
		case sKind == kindDelete && oKind == kindDelete:
			ps.take(n)
			po.take(n)
		case sKind == kindDelete && oKind == kindRetain:
			ps.take(n)
			po.take(n)
			out.PushReplace(nil, sAttr, n)
		case sKind == kindRetain && oKind == kindDelete:
			ps.take(n)
			po.take(n)
		case sKind == kindRetain && oKind == kindRetain:
			ps.take(n)
			po.take(n)
			out.PushRetain(n, sAttr)
		}
	}
	out.Chop()
	return out
}
