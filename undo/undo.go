// Package undo implements the supplemented undo/redo manager named in
// §6.4: a stack of reversible checkouts layered on top of the sequence
// CRDT's retreat/forward primitive (§4.4.5), the same mechanism time
// travel and branching already use.
package undo

import (
	"sync"

	"github.com/cshekharsharma/causaldoc/id"
)

// Entry is one undoable unit: the frontiers immediately before and
// after a commit, matching what the document layer already tracks for
// every committed change.
type Entry struct {
	Before  id.Frontiers
	After   id.Frontiers
	Message string
}

// Manager tracks a linear undo/redo history of committed changes. It
// does not itself perform the checkout; Undo/Redo return the frontiers
// the caller should check out to, leaving the actual state mutation to
// the document (which already exposes Checkout for time travel).
type Manager struct {
	mu     sync.Mutex
	done   []Entry
	undone []Entry
	cap    int
}

// NewManager returns an undo manager retaining up to capacity entries
// (0 means unbounded).
func NewManager(capacity int) *Manager {
	return &Manager{cap: capacity}
}

// Push records a newly-committed change as the next undoable entry and
// clears the redo stack, matching standard undo-stack semantics: once a
// new change is made, previously-undone changes can no longer be redone.
func (m *Manager) Push(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = append(m.done, e)
	m.undone = nil
	if m.cap > 0 && len(m.done) > m.cap {
		m.done = m.done[len(m.done)-m.cap:]
	}
}

// CanUndo reports whether there is an entry left to undo.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.done) > 0
}

// CanRedo reports whether there is an entry left to redo.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undone) > 0
}

// Undo pops the most recent entry and returns the frontiers to check
// out to reverse it (Entry.Before), moving it onto the redo stack.
func (m *Manager) Undo() (id.Frontiers, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.done) == 0 {
		return nil, false
	}
	e := m.done[len(m.done)-1]
	m.done = m.done[:len(m.done)-1]
	m.undone = append(m.undone, e)
	return e.Before, true
}

// Redo pops the most recently undone entry and returns the frontiers to
// check out to reapply it (Entry.After), moving it back onto the undo
// stack.
func (m *Manager) Redo() (id.Frontiers, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undone) == 0 {
		return nil, false
	}
	e := m.undone[len(m.undone)-1]
	m.undone = m.undone[:len(m.undone)-1]
	m.done = append(m.done, e)
	return e.After, true
}
