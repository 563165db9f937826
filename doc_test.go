package causaldoc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/cshekharsharma/causaldoc/delta"
	"github.com/cshekharsharma/causaldoc/id"
)

func TestTextInsertDeleteMaterializes(t *testing.T) {
	d := New()
	d.InsertText("title", 0, "hello")
	require.True(t, d.Commit("insert hello"))
	d.DeleteText("title", 1, 2)
	require.True(t, d.Commit("delete el"))

	require.Equal(t, "hlo", d.GetText("title").String())
}

func TestCounterIncrementsAccumulate(t *testing.T) {
	d := New()
	d.IncrementCounter("views", 3)
	d.IncrementCounter("views", -1)
	require.True(t, d.Commit("bump views"))
	require.Equal(t, int64(2), d.GetCounter("views").Value())
}

func TestMapSetAndTombstone(t *testing.T) {
	d := New()
	d.SetMapValue("meta", "author", "ada")
	require.True(t, d.Commit("set author"))
	d.SetMapValue("meta", "author", nil)
	require.True(t, d.Commit("clear author"))

	_, ok := d.GetMap("meta").Get("author")
	require.False(t, ok)
}

func TestMovableListInsertAndMove(t *testing.T) {
	d := New()
	a, err := d.InsertMovableListValue("todo", 0, "wash dishes")
	require.NoError(t, err)
	_, err = d.InsertMovableListValue("todo", 1, "walk dog")
	require.NoError(t, err)
	require.True(t, d.Commit("seed todo"))

	require.NoError(t, d.MoveListElement("todo", a, id.ID{}))
	require.True(t, d.Commit("reprioritize"))

	values := d.GetMovableList("todo").Values()
	require.Len(t, values, 2)
}

// TestCommitIsNoopWithoutOps guards against Commit starting a change and
// then finalizing it with zero ops, which would otherwise advance the
// dag's frontiers for nothing.
func TestCommitIsNoopWithoutOps(t *testing.T) {
	d := New()
	require.False(t, d.Commit("nothing happened"))
}

func TestConvergenceAcrossPeersViaImport(t *testing.T) {
	alice := NewWithPeerID(1)
	bob := NewWithPeerID(2)

	alice.InsertText("doc", 0, "hello")
	require.True(t, alice.Commit("alice writes hello"))

	bob.InsertText("doc", 0, "world")
	require.True(t, bob.Commit("bob writes world"))

	aliceSnap, err := alice.ExportSnapshot()
	require.NoError(t, err)
	bobSnap, err := bob.ExportSnapshot()
	require.NoError(t, err)

	require.NoError(t, alice.Import(bobSnap))
	require.NoError(t, bob.Import(aliceSnap))

	require.Equal(t, alice.GetText("doc").String(), bob.GetText("doc").String())
	require.Empty(t, cmp.Diff(alice.ToJSON(), bob.ToJSON()))
}

func TestImportIsIdempotent(t *testing.T) {
	alice := NewWithPeerID(1)
	bob := NewWithPeerID(2)

	alice.InsertText("doc", 0, "hi")
	require.True(t, alice.Commit("hi"))

	snap, err := alice.ExportSnapshot()
	require.NoError(t, err)

	require.NoError(t, bob.Import(snap))
	first := bob.GetText("doc").String()
	require.NoError(t, bob.Import(snap))
	require.Equal(t, first, bob.GetText("doc").String())
}

func TestExportUpdatesOnlyCoversNewChanges(t *testing.T) {
	alice := NewWithPeerID(1)
	alice.InsertText("doc", 0, "abc")
	require.True(t, alice.Commit("abc"))

	bob := NewWithPeerID(2)
	base, err := alice.ExportSnapshot()
	require.NoError(t, err)
	require.NoError(t, bob.Import(base))

	knownVV := bob.changes.VersionVector()

	alice.InsertText("doc", 3, "def")
	require.True(t, alice.Commit("def"))

	updates, err := alice.ExportUpdates(knownVV)
	require.NoError(t, err)
	require.NoError(t, bob.Import(updates))
	require.Equal(t, "abcdef", bob.GetText("doc").String())
}

func TestForkIsIndependent(t *testing.T) {
	d := New()
	d.InsertText("doc", 0, "base")
	require.True(t, d.Commit("base"))

	fork, err := d.Fork()
	require.NoError(t, err)
	require.Equal(t, "base", fork.GetText("doc").String())

	fork.InsertText("doc", 4, "-fork")
	require.True(t, fork.Commit("fork edit"))

	require.Equal(t, "base", d.GetText("doc").String())
	require.Equal(t, "base-fork", fork.GetText("doc").String())
}

func TestListInsertAndDeleteRange(t *testing.T) {
	d := New()
	d.InsertListValue("tags", 0, "go")
	d.InsertListValue("tags", 1, "crdt")
	d.InsertListValue("tags", 2, "delta")
	require.True(t, d.Commit("seed tags"))

	d.DeleteListRange("tags", 1, 1)
	require.True(t, d.Commit("drop crdt"))

	values := d.GetList("tags").Values()
	require.Len(t, values, 2)
}

func TestMoveTreeNodeRejectsCycles(t *testing.T) {
	d := New()
	a := id.NewID(d.PeerID(), 0)
	require.NoError(t, d.MoveTreeNode("outline", a, nil))
	require.True(t, d.Commit("add a"))

	b := id.NewID(d.PeerID(), 1)
	require.NoError(t, d.MoveTreeNode("outline", b, &a))
	require.True(t, d.Commit("add b under a"))

	err := d.MoveTreeNode("outline", a, &b)
	require.Error(t, err)
}

func TestToJSONTreeForest(t *testing.T) {
	d := New()
	a := id.NewID(d.PeerID(), 0)
	require.NoError(t, d.MoveTreeNode("outline", a, nil))
	require.True(t, d.Commit("add a"))

	out := d.ToJSON()
	forest, ok := out["outline"].([]treeJSONNode)
	require.True(t, ok)
	require.Len(t, forest, 1)
	require.Equal(t, a.String(), forest[0].ID)
	require.Nil(t, forest[0].Parent)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	d := New()
	d.InsertText("doc", 0, "a")
	require.True(t, d.Commit("insert a"))

	d.InsertText("doc", 1, "b")
	require.True(t, d.Commit("insert b"))
	require.Equal(t, "ab", d.GetText("doc").String())

	require.True(t, d.Undo())
	require.Equal(t, "a", d.GetText("doc").String())

	require.True(t, d.Redo())
	require.Equal(t, "ab", d.GetText("doc").String())

	require.False(t, d.Redo())
}

func TestCheckoutDiffEmitsDeltaForChangedContainers(t *testing.T) {
	d := New()
	d.InsertText("doc", 0, "a")
	require.True(t, d.Commit("insert a"))
	mid := d.OplogFrontiers()

	d.InsertText("doc", 1, "b")
	require.True(t, d.Commit("insert b"))
	head := d.OplogFrontiers()

	require.NoError(t, d.Checkout(mid))
	diffs, err := d.CheckoutDiff(head)
	require.NoError(t, err)
	require.Contains(t, diffs, "doc")

	rope, ok := diffs["doc"].(*delta.Rope[rune])
	require.True(t, ok)
	require.NotEmpty(t, rope.Items())
}

func TestCheckoutRetreatsAndForwardsText(t *testing.T) {
	d := New()
	d.InsertText("doc", 0, "a")
	require.True(t, d.Commit("insert a"))
	mid := d.OplogFrontiers()

	d.InsertText("doc", 1, "b")
	require.True(t, d.Commit("insert b"))
	head := d.OplogFrontiers()

	require.NoError(t, d.Checkout(mid))
	require.Equal(t, "a", d.GetText("doc").String())

	require.NoError(t, d.Checkout(head))
	require.Equal(t, "ab", d.GetText("doc").String())

	require.NoError(t, d.CheckoutToLatest())
	require.Equal(t, "ab", d.GetText("doc").String())
}

func TestComposeTextDiffsAcrossCheckoutHops(t *testing.T) {
	d := New()
	d.InsertText("doc", 0, "a")
	require.True(t, d.Commit("insert a"))
	start := d.OplogFrontiers()

	d.InsertText("doc", 1, "b")
	require.True(t, d.Commit("insert b"))
	mid := d.OplogFrontiers()

	d.InsertText("doc", 2, "c")
	require.True(t, d.Commit("insert c"))
	head := d.OplogFrontiers()

	require.NoError(t, d.Checkout(start))
	firstDiff, err := d.CheckoutDiff(mid)
	require.NoError(t, err)
	secondDiff, err := d.CheckoutDiff(head)
	require.NoError(t, err)
	firstHop := firstDiff["doc"].(*delta.Rope[rune])
	secondHop := secondDiff["doc"].(*delta.Rope[rune])

	composed, err := ComposeTextDiffs(firstHop, secondHop)
	require.NoError(t, err)
	require.NotNil(t, composed)
}

func TestRebaseLocalTextAgainstRemoteDiff(t *testing.T) {
	local := delta.New[rune]()
	local.PushRetain(1, nil)
	local.PushReplace([]rune("X"), nil, 0)
	local.PushRetain(2, nil)

	remote := delta.New[rune]()
	remote.PushReplace([]rune("Y"), nil, 0)
	remote.PushRetain(3, nil)

	rebased := RebaseLocalText(local, remote, true)
	require.NotNil(t, rebased)
	// The rebased rope is retain 2 (remote's "Y" plus the first base
	// atom), then "X"; Transform chops the trailing retain.
	require.Equal(t, 3, rebased.DataLen())
}

func TestToJSONMaterializesEveryContainerKind(t *testing.T) {
	d := New()
	d.InsertText("title", 0, "hi")
	d.SetMapValue("meta", "k", "v")
	d.InsertListValue("tags", 0, "go")
	d.IncrementCounter("likes", 5)
	root, err := d.InsertMovableListValue("todo", 0, "first")
	require.NoError(t, err)
	require.True(t, d.Commit("seed"))
	_ = root

	out := d.ToJSON()
	require.Equal(t, "hi", out["title"])
	require.Equal(t, map[string]any{"k": "v"}, out["meta"])
	require.Equal(t, []any{"go"}, out["tags"])
	require.Equal(t, int64(5), out["likes"])
	require.Equal(t, []any{"first"}, out["todo"])
}
