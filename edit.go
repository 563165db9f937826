package causaldoc

import (
	"github.com/goccy/go-json"

	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/op"
)

// beginOp reserves the next local counter and returns its id, starting a
// new in-progress Change on first use within the current commit window.
// It returns ErrUsedOpID if the reserved id somehow already names a
// stored change, which would otherwise silently corrupt the change
// store's per-peer counter contiguity invariant.
func (d *Document) beginOp() (id.ID, error) {
	if err := d.checkPoisoned(); err != nil {
		return id.ID{}, err
	}
	ident := id.ID{Peer: d.peer, Counter: d.localCounter}
	if d.changes.Has(ident) {
		return id.ID{}, ErrUsedOpID(ident)
	}
	d.localCounter++
	if d.curChange == nil {
		front := d.dag.Frontiers()
		deps := make(id.Frontiers, 0, len(front))
		depOnSelf := false
		for _, f := range front {
			if f.Peer == d.peer {
				depOnSelf = true
				continue
			}
			deps = append(deps, f)
		}
		d.curChange = &op.Change{ID: ident, Deps: deps, DepOnSelf: depOnSelf}
	}
	return ident, nil
}

func (d *Document) pushOp(o op.Op) {
	d.curChange.Ops = d.curChange.Ops.Push(o)
}

// checkInsertBound validates an insertion position against a
// container's current visible length: pos may range over [0, length],
// length itself meaning "insert at the end".
func checkInsertBound(pos, length int) error {
	if pos < 0 || pos > length {
		return ErrOutOfBound(pos, length)
	}
	return nil
}

// checkDeleteBound validates a [pos, pos+n) deletion range against a
// container's current visible length.
func checkDeleteBound(pos, n, length int) error {
	if pos < 0 || n < 0 || pos+n > length {
		return ErrOutOfBound(pos, length)
	}
	return nil
}

// InsertText inserts s at unicode position pos in the named text
// container, returning the first inserted atom's id.
func (d *Document) InsertText(name string, pos int, s string) (id.ID, error) {
	t := d.GetText(name)
	idx := d.getOrRegister(name, op.ContainerText)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	if err := checkInsertBound(pos, t.Len()); err != nil {
		return id.ID{}, err
	}

	left, right := t.Sequence().PositionToOrigins(pos)
	ident, err := d.beginOp()
	if err != nil {
		return id.ID{}, err
	}
	value := []rune(s)
	t.Insert(ident, value, left, right)

	start := d.arena.AllocStr(s)
	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind: op.KindListInsertText,
		ListInsertText: op.ListInsertText{
			Slice:        op.BytesSlice{Start: start.Start, End: start.End},
			UnicodeStart: 0,
			Len:          uint32(len(value)),
			Pos:          uint32(pos),
		},
	}})
	return ident, nil
}

// DeleteText deletes length unicode atoms starting at pos from the named
// text container.
func (d *Document) DeleteText(name string, pos, length int) error {
	t := d.GetText(name)
	idx := d.getOrRegister(name, op.ContainerText)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	if err := checkDeleteBound(pos, length, t.Len()); err != nil {
		return err
	}

	spans := t.IDSpansForRange(pos, length)
	t.ApplyDelete(spans)

	ident, err := d.beginOp()
	if err != nil {
		return err
	}
	d.deleteSpans[ident] = spans
	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:       op.KindListDelete,
		ListDelete: op.ListDelete{Pos: int64(pos), SignedLen: int64(length)},
	}})
	return nil
}

// InsertListValue inserts one arbitrary value at pos in the named list
// container.
func (d *Document) InsertListValue(name string, pos int, value any) (id.ID, error) {
	l := d.GetList(name)
	idx := d.getOrRegister(name, op.ContainerList)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	if err := checkInsertBound(pos, l.Len()); err != nil {
		return id.ID{}, err
	}

	left, right := l.Sequence().PositionToOrigins(pos)
	ident, err := d.beginOp()
	if err != nil {
		return id.ID{}, err
	}
	vIdx := d.arena.AllocValue(value)
	l.Insert(ident, []uint32{vIdx}, left, right)

	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:       op.KindListInsert,
		ListInsert: op.ListInsert{Slice: op.SliceRange{Start: vIdx, End: vIdx + 1}, Pos: uint32(pos)},
	}})
	return ident, nil
}

// DeleteListRange deletes length elements starting at pos from the named
// list container.
func (d *Document) DeleteListRange(name string, pos, length int) error {
	l := d.GetList(name)
	idx := d.getOrRegister(name, op.ContainerList)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	if err := checkDeleteBound(pos, length, l.Len()); err != nil {
		return err
	}

	spans := l.IDSpansForRange(pos, length)
	l.ApplyDelete(spans)

	ident, err := d.beginOp()
	if err != nil {
		return err
	}
	d.deleteSpans[ident] = spans
	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:       op.KindListDelete,
		ListDelete: op.ListDelete{Pos: int64(pos), SignedLen: int64(length)},
	}})
	return nil
}

// InsertMovableListValue inserts one arbitrary value at pos in the
// named movable-list container, returning the new element's stable id
// (the id to pass to MoveListElement later, which survives reordering).
func (d *Document) InsertMovableListValue(name string, pos int, value any) (id.ID, error) {
	l := d.GetMovableList(name)
	idx := d.getOrRegister(name, op.ContainerMovableList)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	if err := checkInsertBound(pos, l.Sequence().VisibleLen()); err != nil {
		return id.ID{}, err
	}

	left, right := l.Sequence().PositionToOrigins(pos)
	ident, err := d.beginOp()
	if err != nil {
		return id.ID{}, err
	}
	vIdx := d.arena.AllocValue(value)
	lamport := uint32(d.localLamport + 1)
	l.Insert(ident, vIdx, left, right, id.ID{}, lamport, uint64(d.peer))

	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:       op.KindListInsert,
		ListInsert: op.ListInsert{Slice: op.SliceRange{Start: vIdx, End: vIdx + 1}, Pos: uint32(pos)},
	}})
	return ident, nil
}

// MoveListElement moves element to sit immediately after afterID (the
// zero id.ID means "move to the front") in the named movable-list
// container.
func (d *Document) MoveListElement(name string, element, afterID id.ID) error {
	l := d.GetMovableList(name)
	idx := d.getOrRegister(name, op.ContainerMovableList)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	ident, err := d.beginOp()
	if err != nil {
		return err
	}
	lamport := uint32(d.localLamport + 1)
	l.Move(ident, element, afterID, lamport, uint64(d.peer))

	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:     op.KindListMove,
		ListMove: op.ListMove{Element: element, After: afterID},
	}})
	return nil
}

// SetMovableListValue overwrites element's value in the named
// movable-list container without changing its current position.
func (d *Document) SetMovableListValue(name string, element id.ID, value any) (id.ID, error) {
	l := d.GetMovableList(name)
	idx := d.getOrRegister(name, op.ContainerMovableList)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	ident, err := d.beginOp()
	if err != nil {
		return id.ID{}, err
	}
	vIdx := d.arena.AllocValue(value)
	lamport := uint32(d.localLamport + 1)
	l.SetValue(ident, element, vIdx, lamport, uint64(d.peer))

	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:    op.KindListSet,
		ListSet: op.ListSet{Element: element, Value: &vIdx},
	}})
	return ident, nil
}

// SetMapValue sets key to value in the named map container; value == nil
// tombstones the key.
func (d *Document) SetMapValue(name, key string, value any) (id.ID, error) {
	m := d.GetMap(name)
	idx := d.getOrRegister(name, op.ContainerMap)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	ident, err := d.beginOp()
	if err != nil {
		return id.ID{}, err
	}
	lamport := uint32(d.localLamport + 1)

	var vp *uint32
	if value != nil {
		v := d.arena.AllocValue(value)
		vp = &v
	}
	m.Apply(key, vp, lamport, uint64(d.peer))

	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:   op.KindMapSet,
		MapSet: op.MapSet{Key: key, Value: vp},
	}})
	return ident, nil
}

// MarkText applies (value != nil) or removes (value == nil) a named
// rich-text attribute over [pos, pos+length) unicode atoms of the named
// text container. The mark targets the underlying character ids, so it
// keeps covering the same text across concurrent inserts/deletes
// elsewhere in the document.
func (d *Document) MarkText(name string, pos, length int, key string, value any) (id.ID, error) {
	t := d.GetText(name)
	idx := d.getOrRegister(name, op.ContainerText)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	if err := checkDeleteBound(pos, length, t.Len()); err != nil {
		return id.ID{}, err
	}

	spans := t.IDSpansForRange(pos, length)
	ident, err := d.beginOp()
	if err != nil {
		return id.ID{}, err
	}

	var vp *uint32
	if value != nil {
		v := d.arena.AllocValue(value)
		vp = &v
	}
	t.ApplyMark(ident, spans, key, vp)

	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind: op.KindMark,
		Mark: op.Mark{Spans: spans, Key: key, Value: vp},
	}})
	return ident, nil
}

// SetMapValueJSON decodes rawJSON with github.com/goccy/go-json and sets key to the
// resulting value in the named map container, wrapping any decode
// failure in ErrDeserializeJSON. It is the entry point for callers that
// hold a document update as a JSON string (e.g. from a network request
// body) rather than an already-typed Go value.
func (d *Document) SetMapValueJSON(name, key, rawJSON string) (id.ID, error) {
	var value any
	if err := json.Unmarshal([]byte(rawJSON), &value); err != nil {
		return id.ID{}, ErrDeserializeJSON(err)
	}
	return d.SetMapValue(name, key, value)
}

// MoveTreeNode moves (or, with parent == nil, deletes) target to sit
// under parent, rejecting moves that would introduce a cycle.
func (d *Document) MoveTreeNode(name string, target id.ID, parent *id.ID) error {
	tr := d.GetTree(name)
	idx := d.getOrRegister(name, op.ContainerTree)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	if parent != nil && tr.IsAncestor(target, *parent) {
		return ErrCyclicMove(target)
	}

	ident, err := d.beginOp()
	if err != nil {
		return err
	}
	lamport := uint32(d.localLamport + 1)
	if err := tr.Apply(target, parent, lamport, uint64(d.peer)); err != nil {
		return err
	}
	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:     op.KindTreeMove,
		TreeMove: op.TreeMove{Target: target, Parent: parent},
	}})
	return nil
}

// IncrementCounter adds delta to the named counter container.
func (d *Document) IncrementCounter(name string, delta int64) (id.ID, error) {
	c := d.GetCounter(name)
	idx := d.getOrRegister(name, op.ContainerCounter)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	c.Apply(d.peer, delta)

	ident, err := d.beginOp()
	if err != nil {
		return id.ID{}, err
	}
	d.pushOp(op.Op{Counter: ident.Counter, Container: idx, Content: op.Content{
		Kind:             op.KindCounterIncrement,
		CounterIncrement: op.CounterIncrement{Delta: delta},
	}})
	return ident, nil
}
