package id

// VersionVector maps PeerID to an exclusive upper bound on Counter: the
// peer has contributed counters [0, v[peer)). It is denser than
// Frontiers but equivalent under a complete oplog.
type VersionVector map[PeerID]Counter

// NewVersionVector builds an empty vector.
func NewVersionVector() VersionVector {
	return make(VersionVector)
}

// Get returns the exclusive upper bound for peer, 0 if unknown.
func (v VersionVector) Get(peer PeerID) Counter {
	return v[peer]
}

// SetIfGreater raises v[peer] to end if end is greater than the current
// value.
func (v VersionVector) SetIfGreater(peer PeerID, end Counter) {
	if cur, ok := v[peer]; !ok || end > cur {
		v[peer] = end
	}
}

// Clone returns an independent copy.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Includes reports whether the atom named by target has already been
// recorded in v (i.e. target.Counter < v[target.Peer]).
func (v VersionVector) Includes(target ID) bool {
	return target.Counter < v[target.Peer]
}

// Merge raises every slot in v to the max of v and other, in place.
func (v VersionVector) Merge(other VersionVector) {
	for peer, end := range other {
		v.SetIfGreater(peer, end)
	}
}

// Equal reports whether two vectors describe the same version, treating
// a missing/zero entry as equivalent.
func (v VersionVector) Equal(other VersionVector) bool {
	for peer, end := range v {
		if end != 0 && other[peer] != end {
			return false
		}
	}
	for peer, end := range other {
		if end != 0 && v[peer] != end {
			return false
		}
	}
	return true
}

// ToFrontiers converts the vector into the antichain of the latest IDs
// it implies: one ID per peer with a nonzero count, at Counter-1.
func (v VersionVector) ToFrontiers() Frontiers {
	out := make(Frontiers, 0, len(v))
	for peer, end := range v {
		if end > 0 {
			out = append(out, ID{Peer: peer, Counter: end - 1})
		}
	}
	return out
}

// FrontiersToVersionVector is the forward direction of the conversion
// named in §4.3: it requires a lookup callback because converting a
// single ID into "everything that peer has contributed" generally needs
// the AppDag (frontiers alone do not reveal the full causal history of
// other peers' earlier, non-frontier counters this ID transitively
// depends on). With a nil callback it uses the leaf counters alone,
// assuming the antichain already names the exclusive upper bound for
// each peer it mentions (true immediately after a local commit or an
// import); peers no leaf names are then absent from the result.
func FrontiersToVersionVector(f Frontiers, ancestorEnd func(ID) VersionVector) VersionVector {
	out := NewVersionVector()
	for _, leaf := range f {
		out.SetIfGreater(leaf.Peer, leaf.Counter+1)
		if ancestorEnd != nil {
			out.Merge(ancestorEnd(leaf))
		}
	}
	return out
}
