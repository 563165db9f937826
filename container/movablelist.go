package container

import (
	"sort"
	"sync"

	"github.com/cshekharsharma/causaldoc/crdt"
	"github.com/cshekharsharma/causaldoc/id"
)

// moveRecord is one Move op's claim on an element's position, kept
// around (not discarded once it loses) so Checkout can retreat/forward
// past it: active is false while the owning op is outside the
// currently-materialised frontiers.
type moveRecord struct {
	active  bool
	lamport uint32
	peer    uint64
	after   id.ID
}

// setRecord mirrors moveRecord for a Set op's claim on an element's
// value.
type setRecord struct {
	active  bool
	lamport uint32
	peer    uint64
	value   uint32
}

// MovableList is the supplemented container from §6.4: a List whose
// elements also carry a stable identity that survives reordering. It is
// built from two parts: an ordinary sequence CRDT holding the elements
// in their *original* insertion order (so every element keeps exactly
// one id forever, same as List), plus a last-write-wins position map
// from element id to "current anchor" (the id of the element it now
// sits after, or the zero id for "at the front"), resolved exactly like
// Map's (lamport, peer) tiebreak. Materializing walks the position map
// to produce the effective order instead of the sequence's own order.
// A parallel value overlay lets an element's payload be overwritten
// (Set) independent of its position (Move); both are per-element LWW
// registers, and both keep every record they've ever seen (not just the
// winner) so a time-travel Checkout can deactivate/reactivate one
// record and recompute the winner from whatever remains active.
type MovableList struct {
	seq *crdt.Sequence[uint32]

	mu    sync.RWMutex
	after map[id.ID]id.ID // element id -> current winning anchor
	prio  map[id.ID]entry // element id -> current winning (lamport, peer) for its position

	setValue map[id.ID]uint32 // element id -> current winning value, if ever Set
	setPrio  map[id.ID]entry  // element id -> current winning (lamport, peer) for its value

	moveHist map[id.ID]map[id.ID]*moveRecord // element id -> move op ident -> record
	setHist  map[id.ID]map[id.ID]*setRecord  // element id -> set op ident -> record
}

// NewMovableList returns an empty movable list.
func NewMovableList() *MovableList {
	return &MovableList{
		seq:      crdt.NewSequence[uint32](),
		after:    make(map[id.ID]id.ID),
		prio:     make(map[id.ID]entry),
		setValue: make(map[id.ID]uint32),
		setPrio:  make(map[id.ID]entry),
		moveHist: make(map[id.ID]map[id.ID]*moveRecord),
		setHist:  make(map[id.ID]map[id.ID]*setRecord),
	}
}

// Insert integrates a brand-new element at the sequence level (giving it
// a permanent id) and records its initial position as following afterID
// (the zero id for "at the front"). The insert itself doubles as the
// element's baseline move record, keyed by the element's own id, so
// retreating every explicit Move still leaves the element wherever it
// was first placed instead of vanishing from moveHist entirely.
func (m *MovableList) Insert(newID id.ID, value uint32, originLeft, originRight *id.ID, afterID id.ID, lamport uint32, peer uint64) {
	m.seq.Insert(newID, []uint32{value}, originLeft, originRight)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.after[newID] = afterID
	m.prio[newID] = entry{lamport: lamport, peer: peer}
	m.moveHist[newID] = map[id.ID]*moveRecord{newID: {active: true, lamport: lamport, peer: peer, after: afterID}}
}

// Move reassigns element's position to follow afterID, subject to the
// same last-write-wins rule Map uses: only a strictly higher (lamport,
// peer) pair may override a previous move of the same element. ident
// names the op recording this claim, so a later Checkout can retreat or
// forward past it specifically.
func (m *MovableList) Move(ident, element, afterID id.ID, lamport uint32, peer uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist, ok := m.moveHist[element]
	if !ok {
		hist = make(map[id.ID]*moveRecord)
		m.moveHist[element] = hist
	}
	hist[ident] = &moveRecord{active: true, lamport: lamport, peer: peer, after: afterID}
	m.recomputeMove(element)
}

// SetValue overwrites element's visible value, independent of its
// position, subject to the same last-write-wins rule Move uses against
// its own (separate) priority map: position and value are independent
// LWW registers per element, so a concurrent Move and Set to the same
// element both win.
func (m *MovableList) SetValue(ident, element id.ID, value uint32, lamport uint32, peer uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist, ok := m.setHist[element]
	if !ok {
		hist = make(map[id.ID]*setRecord)
		m.setHist[element] = hist
	}
	hist[ident] = &setRecord{active: true, lamport: lamport, peer: peer, value: value}
	m.recomputeSet(element)
}

// RetreatMove deactivates the move record named ident on element,
// recomputing the winning position from whatever records remain active.
// Called with stateMu held by the document during a Checkout retreat.
func (m *MovableList) RetreatMove(element, ident id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.moveHist[element][ident]; ok {
		r.active = false
		m.recomputeMove(element)
	}
}

// ForwardMove reactivates a previously-retreated move record.
func (m *MovableList) ForwardMove(element, ident id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.moveHist[element][ident]; ok {
		r.active = true
		m.recomputeMove(element)
	}
}

// RetreatSet deactivates the set record named ident on element.
func (m *MovableList) RetreatSet(element, ident id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.setHist[element][ident]; ok {
		r.active = false
		m.recomputeSet(element)
	}
}

// ForwardSet reactivates a previously-retreated set record.
func (m *MovableList) ForwardSet(element, ident id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.setHist[element][ident]; ok {
		r.active = true
		m.recomputeSet(element)
	}
}

// recomputeMove rescans every record for element and installs the
// active one with the highest (lamport, peer) as the current winner.
// Callers must hold mu.
func (m *MovableList) recomputeMove(element id.ID) {
	var win *moveRecord
	for _, r := range m.moveHist[element] {
		if !r.active {
			continue
		}
		if win == nil || r.lamport > win.lamport || (r.lamport == win.lamport && r.peer > win.peer) {
			win = r
		}
	}
	if win == nil {
		delete(m.after, element)
		delete(m.prio, element)
		return
	}
	m.after[element] = win.after
	m.prio[element] = entry{lamport: win.lamport, peer: win.peer}
}

// recomputeSet mirrors recomputeMove for the value overlay; an element
// with no active set record falls back to its original sequence value.
func (m *MovableList) recomputeSet(element id.ID) {
	var win *setRecord
	for _, r := range m.setHist[element] {
		if !r.active {
			continue
		}
		if win == nil || r.lamport > win.lamport || (r.lamport == win.lamport && r.peer > win.peer) {
			win = r
		}
	}
	if win == nil {
		delete(m.setValue, element)
		return
	}
	m.setValue[element] = win.value
}

// ApplyDelete hides the element atoms in spans, same as List.
func (m *MovableList) ApplyDelete(spans id.IDSpanVector) { m.seq.ApplyDelete(spans) }

// Sequence exposes the underlying insertion-order sequence, used to
// derive insert origins from a position (PositionToOrigins) the same
// way List and Text do.
func (m *MovableList) Sequence() *crdt.Sequence[uint32] { return m.seq }

// Values returns the arena value indices in current effective order,
// reconstructed by following the after-chain from the front sentinel.
// Deleted/future elements are skipped. A cycle in the after-chain
// (which should never arise from well-formed ops, since Move always
// targets an existing element) breaks traversal rather than looping
// forever.
func (m *MovableList) Values() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	children := make(map[id.ID][]id.ID)
	for el, after := range m.after {
		children[after] = append(children[after], el)
	}
	// Map iteration order is random, so multiple elements sharing the
	// same anchor (concurrent inserts, or a Move that lands two elements
	// on the same afterID) need an explicit, peer-independent tiebreak:
	// the winning (lamport, peer) pair for each element's position,
	// highest first, with the element id itself as a last resort so the
	// order is fully deterministic across replicas.
	for after, els := range children {
		sort.Slice(els, func(i, j int) bool {
			pi, pj := m.prio[els[i]], m.prio[els[j]]
			if pi.lamport != pj.lamport {
				return pi.lamport > pj.lamport
			}
			if pi.peer != pj.peer {
				return pi.peer > pj.peer
			}
			if els[i].Peer != els[j].Peer {
				return els[i].Peer < els[j].Peer
			}
			return els[i].Counter < els[j].Counter
		})
		children[after] = els
	}
	visible := make(map[id.ID]uint32)
	for _, v := range m.visibleValues() {
		visible[v.id] = v.value
	}

	var out []uint32
	visited := make(map[id.ID]bool)
	var walk func(id.ID)
	walk = func(from id.ID) {
		for _, el := range children[from] {
			if visited[el] {
				continue
			}
			visited[el] = true
			if v, ok := visible[el]; ok {
				if sv, ok := m.setValue[el]; ok {
					v = sv
				}
				out = append(out, v)
			}
			walk(el)
		}
	}
	walk(id.ID{})
	return out
}

type visibleValue struct {
	id    id.ID
	value uint32
}

// visibleValues walks the underlying sequence once to pair up each
// currently-visible element's id with its value, since Sequence only
// exposes the concatenated value slice, not per-atom ids, via
// Materialize.
func (m *MovableList) visibleValues() []visibleValue {
	var out []visibleValue
	for _, atom := range m.seq.VisibleIDs() {
		out = append(out, visibleValue{id: atom.ID, value: atom.Value})
	}
	return out
}
