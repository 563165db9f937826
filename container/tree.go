package container

import (
	"sync"

	"github.com/cshekharsharma/causaldoc/id"
)

// treeEntry is the resolved state of one tree node: its current parent
// (nil at the forest root) and the (lamport, peer) of the move that set
// it, for last-write-wins resolution of concurrent moves of the same
// node.
type treeEntry struct {
	parent  *id.ID
	lamport uint32
	peer    uint64
	deleted bool
}

// Tree is a forest of movable nodes, per §6.4's supplemented Tree
// container: every TreeMove op either creates a node (first time its
// target is seen), re-parents it, or deletes it (parent == nil is
// reserved for "no parent recorded yet"; deletion is modelled as its own
// flag so a node can still be queried for its last known position).
type Tree struct {
	mu       sync.RWMutex
	children map[id.ID][]id.ID // parent -> ordered children (roots live under the zero ID)
	nodes    map[id.ID]*treeEntry
}

// rootID is the sentinel standing in for "no parent", i.e. a node at the
// top level of the forest.
var rootID = id.ID{}

// NewTree returns an empty forest.
func NewTree() *Tree {
	return &Tree{children: make(map[id.ID][]id.ID), nodes: make(map[id.ID]*treeEntry)}
}

// IsAncestor reports whether candidate is target or an ancestor of
// target in the tree's current shape, walking parent pointers. Used to
// reject moves that would introduce a cycle before they are applied.
func (t *Tree) IsAncestor(candidate, target id.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur := target
	for {
		if cur == candidate {
			return true
		}
		e, ok := t.nodes[cur]
		if !ok || e.parent == nil {
			return false
		}
		cur = *e.parent
	}
}

// Apply folds one TreeMove op into the forest. A nil parent creates
// target as a root node the first time target is seen, and deletes it
// otherwise; deleting still records the node (so later queries can report
// it as deleted rather than unknown) but removes it from its parent's
// child list. Apply does not check for cycles: callers must check
// IsAncestor(target, *parent) before calling Apply when parent is
// non-nil, as MoveTreeNode does.
func (t *Tree) Apply(target id.ID, parent *id.ID, lamport uint32, peer uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, existed := t.nodes[target]
	if existed && (lamport < cur.lamport || (lamport == cur.lamport && peer < cur.peer)) {
		return nil // a later-dominant move already won this slot
	}

	if existed && cur.parent != nil {
		t.removeChild(*cur.parent, target)
	} else if existed {
		t.removeChild(rootID, target)
	}

	entry := &treeEntry{parent: parent, lamport: lamport, peer: peer, deleted: parent == nil && existed}
	t.nodes[target] = entry

	if parent != nil {
		t.children[*parent] = append(t.children[*parent], target)
	} else if !entry.deleted {
		t.children[rootID] = append(t.children[rootID], target)
	}
	return nil
}

func (t *Tree) removeChild(parent, child id.ID) {
	list := t.children[parent]
	for i, c := range list {
		if c == child {
			t.children[parent] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// TreeNode is the exported, queryable shape of one forest node.
type TreeNode struct {
	ID       id.ID
	Parent   *id.ID
	Children []id.ID
	Deleted  bool
}

// Node returns the current state of one tree node.
func (t *Tree) Node(target id.ID) (TreeNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.nodes[target]
	if !ok {
		return TreeNode{}, false
	}
	return TreeNode{ID: target, Parent: e.parent, Children: append([]id.ID(nil), t.children[target]...), Deleted: e.deleted}, true
}

// Roots returns the top-level (parentless, non-deleted) node ids.
func (t *Tree) Roots() []id.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]id.ID(nil), t.children[rootID]...)
}

