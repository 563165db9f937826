package causaldoc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cshekharsharma/causaldoc/id"
)

// TestScenarioDeleteConcurrentWithInsert exercises the "delete concurrent
// with insert" scenario: starting from "12345", one peer deletes [0,3)
// while another concurrently inserts "X" at position 1. After
// bidirectional import both replicas must converge on the literal
// string "X45".
func TestScenarioDeleteConcurrentWithInsert(t *testing.T) {
	alice := NewWithPeerID(1)
	_, err := alice.InsertText("doc", 0, "12345")
	require.NoError(t, err)
	require.True(t, alice.Commit("seed 12345"))

	bob, err := alice.Fork()
	require.NoError(t, err)

	require.NoError(t, alice.DeleteText("doc", 0, 3))
	require.True(t, alice.Commit("alice deletes 123"))

	_, err = bob.InsertText("doc", 1, "X")
	require.NoError(t, err)
	require.True(t, bob.Commit("bob inserts X"))

	aliceSnap, err := alice.ExportSnapshot()
	require.NoError(t, err)
	bobSnap, err := bob.ExportSnapshot()
	require.NoError(t, err)

	require.NoError(t, alice.Import(bobSnap))
	require.NoError(t, bob.Import(aliceSnap))

	require.Equal(t, "X45", alice.GetText("doc").String())
	require.Equal(t, "X45", bob.GetText("doc").String())
}

// TestScenarioTextMarksUndoRedo exercises the "text with marks" scenario:
// insert "Bold and Italic", mark [0,4) bold and [9,15) italic, undo both
// marks, then redo both. The final deep value (text plus active marks)
// must match the fully-styled value captured before the undo chain.
func TestScenarioTextMarksUndoRedo(t *testing.T) {
	d := New()
	_, err := d.InsertText("doc", 0, "Bold and Italic")
	require.NoError(t, err)
	require.True(t, d.Commit("insert text"))

	_, err = d.MarkText("doc", 0, 4, "bold", true)
	require.NoError(t, err)
	require.True(t, d.Commit("mark bold"))

	_, err = d.MarkText("doc", 9, 6, "italic", true)
	require.NoError(t, err)
	require.True(t, d.Commit("mark italic"))

	require.Equal(t, "Bold and Italic", d.GetText("doc").String())
	fullyStyled := d.ActiveTextMarks("doc")
	require.ElementsMatch(t, []TextMarkValue{
		{Key: "bold", Value: true},
		{Key: "italic", Value: true},
	}, fullyStyled)

	require.True(t, d.Undo()) // undo italic
	require.Equal(t, []TextMarkValue{{Key: "bold", Value: true}}, d.ActiveTextMarks("doc"))

	require.True(t, d.Undo()) // undo bold
	require.Empty(t, d.ActiveTextMarks("doc"))
	require.Equal(t, "Bold and Italic", d.GetText("doc").String())

	require.True(t, d.Redo()) // redo bold
	require.True(t, d.Redo()) // redo italic

	require.Equal(t, "Bold and Italic", d.GetText("doc").String())
	require.ElementsMatch(t, fullyStyled, d.ActiveTextMarks("doc"))
}

// TestScenarioShallowSnapshot exercises the "shallow snapshot" scenario:
// after a run of operations by one peer, a shallow snapshot taken mid-run
// must let a fresh replica materialise the exact same value without the
// genesis history, while refusing any Updates import that targets a
// version older than the boundary it was given.
func TestScenarioShallowSnapshot(t *testing.T) {
	source := NewWithPeerID(1)
	text := strings.Repeat("a", 100)
	_, err := source.InsertText("doc", 0, text)
	require.NoError(t, err)
	require.True(t, source.Commit("insert 100 chars"))

	boundary := id.Frontiers{id.NewID(1, 49)}
	shallow, err := source.ExportShallowSnapshot(boundary)
	require.NoError(t, err)

	fresh := New()
	require.NoError(t, fresh.Import(shallow))

	require.Equal(t, source.GetText("doc").String(), fresh.GetText("doc").String())

	vv := fresh.ShallowSinceVV()
	require.NotNil(t, vv)
	require.Equal(t, id.Counter(50), vv.Get(id.PeerID(1)))

	outdated, err := source.ExportUpdates(id.NewVersionVector())
	require.NoError(t, err)
	err = fresh.Import(outdated)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindImportUpdatesOutdated, kind)
}

// TestScenarioLCAThreeWay exercises the "LCA three-way" scenario: one
// peer writes, forks to two others who each write independently, and the
// least common ancestor of their two frontiers must name exactly the
// forking peer's own last id.
func TestScenarioLCAThreeWay(t *testing.T) {
	peer1 := NewWithPeerID(1)
	_, err := peer1.InsertText("doc", 0, "a")
	require.NoError(t, err)
	require.True(t, peer1.Commit("peer1 writes a"))

	peer2, err := peer1.Fork()
	require.NoError(t, err)
	peer3, err := peer1.Fork()
	require.NoError(t, err)

	_, err = peer2.InsertText("doc", 1, "b")
	require.NoError(t, err)
	require.True(t, peer2.Commit("peer2 writes b"))

	_, err = peer3.InsertText("doc", 1, "c")
	require.NoError(t, err)
	require.True(t, peer3.Commit("peer3 writes c"))

	observer := New()
	snap2, err := peer2.ExportSnapshot()
	require.NoError(t, err)
	snap3, err := peer3.ExportSnapshot()
	require.NoError(t, err)
	require.NoError(t, observer.Import(snap2))
	require.NoError(t, observer.Import(snap3))

	lca := observer.dag.FindCommonAncestor(peer2.OplogFrontiers(), peer3.OplogFrontiers())
	require.Equal(t, id.Frontiers{id.NewID(1, 0)}, lca)
}

// TestScenarioMovableListMoveAndSetUndoRedo exercises the "movable list
// move + set" scenario: create [A,B,C], move index 2 before index 0, set
// index 2 to "B-modified", then undo twice and redo twice, checking the
// literal element order at each step.
func TestScenarioMovableListMoveAndSetUndoRedo(t *testing.T) {
	d := New()
	_, err := d.InsertMovableListValue("items", 0, "A")
	require.NoError(t, err)
	b, err := d.InsertMovableListValue("items", 1, "B")
	require.NoError(t, err)
	c, err := d.InsertMovableListValue("items", 2, "C")
	require.NoError(t, err)
	require.True(t, d.Commit("seed A B C"))

	require.Equal(t, []any{"A", "B", "C"}, d.ToJSON()["items"])

	require.NoError(t, d.MoveListElement("items", c, id.ID{}))
	require.True(t, d.Commit("move C before A"))
	require.Equal(t, []any{"C", "A", "B"}, d.ToJSON()["items"])

	// After the move, index 2 names B (order is now [C, A, B]).
	_, err = d.SetMovableListValue("items", b, "B-modified")
	require.NoError(t, err)
	require.True(t, d.Commit("set index 2 to B-modified"))
	require.Equal(t, []any{"C", "A", "B-modified"}, d.ToJSON()["items"])

	require.True(t, d.Undo()) // undo the set
	require.Equal(t, []any{"C", "A", "B"}, d.ToJSON()["items"])

	require.True(t, d.Undo()) // undo the move
	require.Equal(t, []any{"A", "B", "C"}, d.ToJSON()["items"])

	require.True(t, d.Redo()) // redo the move
	require.Equal(t, []any{"C", "A", "B"}, d.ToJSON()["items"])

	require.True(t, d.Redo()) // redo the set
	require.Equal(t, []any{"C", "A", "B-modified"}, d.ToJSON()["items"])
}
