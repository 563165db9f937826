// Package arena implements the interning tables shared by the oplog and
// the materialised container state: container identifiers, string
// bytes, opaque values, and the parent map over containers.
//
// Grounded on the teacher's mutex-guarded map pattern (gocrdt.GCounter's
// sync.RWMutex-protected slots map), generalized to the several
// append-only tables the engine needs.
package arena

import (
	"sync"
	"unicode/utf16"

	"github.com/cshekharsharma/causaldoc/op"
)

// ContainerID names a container: either a root, addressed by name and
// type, or a normal container, addressed by the ID of the op that
// created it.
type ContainerID struct {
	IsRoot bool
	Name   string // meaningful iff IsRoot
	Peer   uint64 // meaningful iff !IsRoot
	Ctr    int32  // meaningful iff !IsRoot
	Type   op.ContainerType
}

// RootContainerID builds a root container id.
func RootContainerID(name string, typ op.ContainerType) ContainerID {
	return ContainerID{IsRoot: true, Name: name, Type: typ}
}

// NormalContainerID builds a normal (non-root) container id from the op
// that created it.
func NormalContainerID(peer uint64, ctr int32, typ op.ContainerType) ContainerID {
	return ContainerID{IsRoot: false, Peer: peer, Ctr: ctr, Type: typ}
}

// StrRange is a stable reference into the arena's append-only byte
// buffer.
type StrRange struct {
	Start, End uint32
	Utf16Len   uint32
}

// Arena is the interning store. All of its public methods are safe for
// concurrent use; writers hold only the short critical section needed
// to append, never a lock spanning caller logic.
type Arena struct {
	mu sync.RWMutex

	idToIdx map[ContainerID]op.ContainerIdx
	idxToID []ContainerID
	roots   []op.ContainerIdx
	parents map[op.ContainerIdx]*op.ContainerIdx

	strBuf      []byte
	strUtf16Len uint32

	values []any
}

// New returns an empty arena.
func New() *Arena {
	return &Arena{
		idToIdx: make(map[ContainerID]op.ContainerIdx),
		parents: make(map[op.ContainerIdx]*op.ContainerIdx),
	}
}

// RegisterContainer idempotently assigns idx for id, registering it on
// first call and returning the existing idx on subsequent calls.
func (a *Arena) RegisterContainer(cid ContainerID) op.ContainerIdx {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.idToIdx[cid]; ok {
		return idx
	}

	idx := op.NewContainerIdx(uint32(len(a.idxToID)), cid.Type)
	a.idToIdx[cid] = idx
	a.idxToID = append(a.idxToID, cid)
	a.parents[idx] = nil
	if cid.IsRoot {
		a.roots = append(a.roots, idx)
	}
	return idx
}

// ContainerIDOf returns the ContainerID registered at idx.
func (a *Arena) ContainerIDOf(idx op.ContainerIdx) (ContainerID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	order := idx.Order()
	if int(order) >= len(a.idxToID) {
		return ContainerID{}, false
	}
	return a.idxToID[order], true
}

// IdxOf looks up the idx already registered for id, if any.
func (a *Arena) IdxOf(cid ContainerID) (op.ContainerIdx, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	idx, ok := a.idToIdx[cid]
	return idx, ok
}

// Roots returns the container idxs registered as roots, in registration
// order.
func (a *Arena) Roots() []op.ContainerIdx {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]op.ContainerIdx, len(a.roots))
	copy(out, a.roots)
	return out
}

// SetParent records child's parent, last-write-wins.
func (a *Arena) SetParent(child op.ContainerIdx, parent *op.ContainerIdx) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parents[child] = parent
}

// GetParent returns child's recorded parent, or nil if child is
// unattached (a normal container with no recorded parent yet) or a
// root.
func (a *Arena) GetParent(child op.ContainerIdx) *op.ContainerIdx {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.parents[child]
}

// WithAncestors walks child -> parent -> ... until a nil parent,
// calling f(idx, isFirst) for each visited idx. isFirst is true only for
// the visit of child itself and false for every ancestor after it.
func (a *Arena) WithAncestors(child op.ContainerIdx, f func(idx op.ContainerIdx, isFirst bool)) {
	cur := child
	first := true
	for {
		f(cur, first)
		first = false
		parent := a.GetParent(cur)
		if parent == nil {
			return
		}
		cur = *parent
	}
}

// AllocStr appends s to the append-only byte buffer and returns a
// stable range plus the string's own UTF-16 length.
func (a *Arena) AllocStr(s string) StrRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := uint32(len(a.strBuf))
	a.strBuf = append(a.strBuf, s...)
	end := uint32(len(a.strBuf))
	u16 := uint32(len(utf16.Encode([]rune(s))))
	a.strUtf16Len += u16
	return StrRange{Start: start, End: end, Utf16Len: u16}
}

// StrSlice returns the bytes for a previously-allocated range. The
// returned slice must not be mutated; callers that need ownership
// should copy it.
func (a *Arena) StrSlice(r StrRange) []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.strBuf[r.Start:r.End]
}

// AllocValue appends v to the append-only value table and returns its
// stable index.
func (a *Arena) AllocValue(v any) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := uint32(len(a.values))
	a.values = append(a.values, v)
	return idx
}

// Value returns the value previously stored at idx.
func (a *Arena) Value(idx uint32) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if int(idx) >= len(a.values) {
		return nil, false
	}
	return a.values[idx], true
}

// Slice returns the values in [start, end).
func (a *Arena) Slice(start, end uint32) []any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]any, end-start)
	copy(out, a.values[start:end])
	return out
}
