package oplog

import (
	"container/heap"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cshekharsharma/causaldoc/id"
)

// dagNode is a run-length entry covering [cntStart, cntStart+len) of one
// peer's counters, sharing lamport arithmetic and deps, per §4.3's
// "per-peer RLE array" design.
type dagNode struct {
	peer         id.PeerID
	cntStart     id.Counter
	lamportStart id.Lamport
	deps         id.Frontiers
	depOnSelf    bool
	vv           id.VersionVector // version immediately after this node
	len          int
}

func (n *dagNode) cntEnd() id.Counter { return n.cntStart + id.Counter(n.len) }
func (n *dagNode) lamportEnd() id.Lamport {
	return n.lamportStart + id.Lamport(n.len)
}

// AppDag answers reachability and LCA queries over the causal graph
// implied by every change inserted so far.
type AppDag struct {
	perPeer map[id.PeerID][]*dagNode
	vv      id.VersionVector
	front   id.Frontiers

	// peerSeq assigns each peer a small dense integer so the LCA
	// bidirectional walk can pack (peerSeq<<32 | counter) into a single
	// 64-bit key for its roaring-bitmap visited set.
	peerSeq map[id.PeerID]uint32
}

// NewAppDag returns an empty dag.
func NewAppDag() *AppDag {
	return &AppDag{
		perPeer: make(map[id.PeerID][]*dagNode),
		vv:      id.NewVersionVector(),
		peerSeq: make(map[id.PeerID]uint32),
	}
}

func (d *AppDag) seqOf(p id.PeerID) uint32 {
	if s, ok := d.peerSeq[p]; ok {
		return s
	}
	s := uint32(len(d.peerSeq))
	d.peerSeq[p] = s
	return s
}

func packKey(peerSeq uint32, counter id.Counter) uint64 {
	return uint64(peerSeq)<<32 | uint64(uint32(counter))
}

// VV returns the current version vector.
func (d *AppDag) VV() id.VersionVector { return d.vv.Clone() }

// Frontiers returns the current antichain.
func (d *AppDag) Frontiers() id.Frontiers { return d.front.Clone() }

// RegisterChange adds a new node to the dag for a change that has just
// been inserted into the ChangeStore. It merges with the previous node
// for the same peer when lamport arithmetic and deps line up (single
// dep-on-self, no explicit deps), exactly as §4.3 describes.
func (d *AppDag) RegisterChange(ident id.ID, lamport id.Lamport, deps id.Frontiers, depOnSelf bool, atomLen int) {
	nodes := d.perPeer[ident.Peer]
	if n := len(nodes); n > 0 {
		last := nodes[n-1]
		if last.cntEnd() == ident.Counter && last.lamportEnd() == lamport &&
			depOnSelf && len(deps) == 0 {
			last.len += atomLen
			d.advanceVV(ident.Peer, last.cntEnd())
			d.updateFrontiers(ident, atomLen)
			return
		}
	}

	nodeVV := d.vv.Clone()
	node := &dagNode{
		peer:         ident.Peer,
		cntStart:     ident.Counter,
		lamportStart: lamport,
		deps:         deps.Clone(),
		depOnSelf:    depOnSelf,
		len:          atomLen,
	}
	d.perPeer[ident.Peer] = append(d.perPeer[ident.Peer], node)
	d.advanceVV(ident.Peer, node.cntEnd())
	node.vv = nodeVV
	node.vv.SetIfGreater(ident.Peer, node.cntEnd())
	d.updateFrontiers(ident, atomLen)
}

func (d *AppDag) advanceVV(peer id.PeerID, end id.Counter) {
	d.vv.SetIfGreater(peer, end)
}

func (d *AppDag) updateFrontiers(ident id.ID, atomLen int) {
	last := ident.Inc(int32(atomLen) - 1)
	d.front = d.front.Replace(last)
}

// findNode returns the dagNode covering ident, if any.
func (d *AppDag) findNode(ident id.ID) (*dagNode, bool) {
	nodes := d.perPeer[ident.Peer]
	i := sort.Search(len(nodes), func(i int) bool { return nodes[i].cntEnd() > ident.Counter })
	if i >= len(nodes) || nodes[i].cntStart > ident.Counter {
		return nil, false
	}
	return nodes[i], true
}

// lamportOf returns the lamport value of the exact atom ident names.
func (d *AppDag) lamportOf(ident id.ID) (id.Lamport, bool) {
	n, ok := d.findNode(ident)
	if !ok {
		return 0, false
	}
	return n.lamportStart + id.Lamport(ident.Counter-n.cntStart), true
}

// LamportOf is the exported form of lamportOf, used by callers assigning
// a lamport to a new change from its dependencies' lamports.
func (d *AppDag) LamportOf(ident id.ID) (id.Lamport, bool) {
	return d.lamportOf(ident)
}

// NextLamport computes 1 + max(lamportOf(dep) for dep in deps), the
// lamport a new change depending on every id in deps must carry, per
// the rule that a change's lamport strictly exceeds every dependency's.
// Deps absent from the dag (unknown to this replica) are skipped; the
// caller is responsible for ensuring deps are already known, typically
// because Commit only ever depends on this replica's own frontiers.
func (d *AppDag) NextLamport(deps id.Frontiers) id.Lamport {
	var max id.Lamport
	for _, dep := range deps {
		if l, ok := d.lamportOf(dep); ok && l > max {
			max = l
		}
	}
	return max + 1
}

// directDeps returns the immediate dependencies of the atom named by
// ident: the node's own explicit deps (only meaningful at the node's
// first counter) plus, if ident is mid-node or depOnSelf is set, the
// implicit predecessor on the same peer.
func (d *AppDag) directDeps(ident id.ID) id.Frontiers {
	n, ok := d.findNode(ident)
	if !ok {
		return nil
	}
	if ident.Counter > n.cntStart {
		return id.Frontiers{{Peer: ident.Peer, Counter: ident.Counter - 1}}
	}
	var out id.Frontiers
	out = append(out, n.deps...)
	if n.depOnSelf && n.cntStart > 0 {
		out = append(out, id.ID{Peer: ident.Peer, Counter: n.cntStart - 1})
	}
	return out
}

// VVToFrontiers converts a version vector into the corresponding
// antichain: exactly one entry per peer named, no ancestor lookup
// needed since a VV already names an exclusive upper bound.
func (d *AppDag) VVToFrontiers(vv id.VersionVector) id.Frontiers {
	return vv.ToFrontiers()
}

// FrontiersToVV converts frontiers into the version vector covering
// every change causally reachable from them: each frontier leaf
// contributes its own peer's counter plus, transitively, every node it
// depends on.
func (d *AppDag) FrontiersToVV(f id.Frontiers) id.VersionVector {
	out := id.NewVersionVector()
	visited := roaring64{}
	var walk func(ident id.ID)
	walk = func(ident id.ID) {
		key := packKey(d.seqOf(ident.Peer), ident.Counter)
		if visited.contains(key) {
			return
		}
		visited.add(key)
		out.SetIfGreater(ident.Peer, ident.Counter+1)
		for _, dep := range d.directDeps(ident) {
			walk(dep)
		}
	}
	for _, leaf := range f {
		walk(leaf)
	}
	return out
}

// roaring64 wraps two 32-bit roaring bitmaps to approximate a 64-bit
// keyed "seen" set, since github.com/RoaringBitmap/roaring/v2 indexes
// by uint32: the high 32 bits (peer sequence) select a shard bitmap and
// the low 32 bits (counter) are the membership key within that shard.
// Grounded on AKJUS-bsc-erigon's direct dependency on
// RoaringBitmap/roaring/v2 for exactly this compact dense-integer
// "visited" pattern.
type roaring64 struct {
	shards map[uint32]*roaring.Bitmap
}

func (r *roaring64) contains(key uint64) bool {
	if r.shards == nil {
		return false
	}
	hi, lo := uint32(key>>32), uint32(key)
	b, ok := r.shards[hi]
	return ok && b.Contains(lo)
}

func (r *roaring64) add(key uint64) {
	if r.shards == nil {
		r.shards = make(map[uint32]*roaring.Bitmap)
	}
	hi, lo := uint32(key>>32), uint32(key)
	b, ok := r.shards[hi]
	if !ok {
		b = roaring.New()
		r.shards[hi] = b
	}
	b.Add(lo)
}

// --- LCA ---

type lcaItem struct {
	ident   id.ID
	lamport id.Lamport
}

type lcaHeap []lcaItem

func (h lcaHeap) Len() int            { return len(h) }
func (h lcaHeap) Less(i, j int) bool  { return h[i].lamport > h[j].lamport } // max-heap
func (h lcaHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lcaHeap) Push(x interface{}) { *h = append(*h, x.(lcaItem)) }
func (h *lcaHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// FindCommonAncestor returns the LCA antichain of a and b: a
// bidirectional frontier walk in lamport-descending order that runs
// until both sides are exhausted, collecting every node reached from
// both sides; dedupAntichain then drops the ones dominated by another
// common node. Correctness relies on
// the invariant that every change's lamport strictly exceeds every
// dependency's, which guarantees the walk never needs to revisit a
// lamport band once both sides have passed it.
func (d *AppDag) FindCommonAncestor(a, b id.Frontiers) id.Frontiers {
	seenA := roaring64{}
	seenB := roaring64{}
	var common id.Frontiers

	var hA, hB lcaHeap
	push := func(h *lcaHeap, ident id.ID) {
		lam, ok := d.lamportOf(ident)
		if !ok {
			return
		}
		heap.Push(h, lcaItem{ident: ident, lamport: lam})
	}
	for _, x := range a {
		push(&hA, x)
	}
	for _, x := range b {
		push(&hB, x)
	}
	heap.Init(&hA)
	heap.Init(&hB)

	isCommon := func(ident id.ID) bool {
		key := packKey(d.seqOf(ident.Peer), ident.Counter)
		return seenA.contains(key) && seenB.contains(key)
	}

	stepSide := func(h *lcaHeap, seen *roaring64) {
		if h.Len() == 0 {
			return
		}
		cur := heap.Pop(h).(lcaItem)
		key := packKey(d.seqOf(cur.ident.Peer), cur.ident.Counter)
		if seen.contains(key) {
			return
		}
		seen.add(key)
		for _, dep := range d.directDeps(cur.ident) {
			push(h, dep)
		}
	}

	for hA.Len() > 0 || hB.Len() > 0 {
		var lamA, lamB id.Lamport = 0, 0
		if hA.Len() > 0 {
			lamA = hA[0].lamport
		}
		if hB.Len() > 0 {
			lamB = hB[0].lamport
		}
		if hA.Len() > 0 && (hB.Len() == 0 || lamA >= lamB) {
			top := hA[0].ident
			stepSide(&hA, &seenA)
			if isCommon(top) && !common.Contains(top) {
				common = append(common, top)
			}
		} else {
			top := hB[0].ident
			stepSide(&hB, &seenB)
			if isCommon(top) && !common.Contains(top) {
				common = append(common, top)
			}
		}
	}
	return dedupAntichain(common, d)
}

// dedupAntichain removes any element of f that is causally dominated by
// another element of f, leaving only the maximal antichain.
func dedupAntichain(f id.Frontiers, d *AppDag) id.Frontiers {
	if len(f) <= 1 {
		return f
	}
	dominated := make([]bool, len(f))
	for i, a := range f {
		for j, b := range f {
			if i == j || dominated[i] {
				continue
			}
			if d.isAncestorOf(a, b) {
				dominated[i] = true
			}
		}
	}
	var out id.Frontiers
	for i, x := range f {
		if !dominated[i] {
			out = append(out, x)
		}
	}
	return out
}

func (d *AppDag) isAncestorOf(ancestor, descendant id.ID) bool {
	if ancestor == descendant {
		return false
	}
	visited := roaring64{}
	var stack []id.ID
	stack = append(stack, descendant)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		key := packKey(d.seqOf(cur.Peer), cur.Counter)
		if visited.contains(key) {
			continue
		}
		visited.add(key)
		for _, dep := range d.directDeps(cur) {
			if dep == ancestor {
				return true
			}
			stack = append(stack, dep)
		}
	}
	return false
}

// FindPath returns the spans to retreat (present in from but not to)
// and forward (present in to but not from) to move a cursor between two
// frontiers, per §4.3.
func (d *AppDag) FindPath(from, to id.Frontiers) (left, right id.IDSpanVector) {
	fromVV := d.FrontiersToVV(from)
	toVV := d.FrontiersToVV(to)
	return d.diffVV(fromVV, toVV)
}

func (d *AppDag) diffVV(a, b id.VersionVector) (onlyA, onlyB id.IDSpanVector) {
	peers := map[id.PeerID]bool{}
	for p := range a {
		peers[p] = true
	}
	for p := range b {
		peers[p] = true
	}
	for p := range peers {
		av, bv := a.Get(p), b.Get(p)
		if av > bv {
			onlyA = append(onlyA, id.NewIDSpan(p, bv, av))
		} else if bv > av {
			onlyB = append(onlyB, id.NewIDSpan(p, av, bv))
		}
	}
	return onlyA, onlyB
}

// IterCausal yields each change node (possibly sliced) whose span lies
// within diff, in an order consistent with causality: lamport ascending,
// ties broken by peer, per §4.3.
func (d *AppDag) IterCausal(diff id.IDSpanVector, yield func(peer id.PeerID, span id.IDSpan, lamport id.Lamport) bool) {
	type piece struct {
		peer    id.PeerID
		span    id.IDSpan
		lamport id.Lamport
	}
	var pieces []piece
	for _, span := range diff {
		n := span.Normalized()
		node, ok := d.findNode(id.ID{Peer: n.Peer, Counter: n.Start})
		if !ok {
			continue
		}
		lam := node.lamportStart + id.Lamport(n.Start-node.cntStart)
		pieces = append(pieces, piece{peer: n.Peer, span: n, lamport: lam})
	}
	sort.Slice(pieces, func(i, j int) bool {
		if pieces[i].lamport != pieces[j].lamport {
			return pieces[i].lamport < pieces[j].lamport
		}
		return pieces[i].peer < pieces[j].peer
	})
	for _, p := range pieces {
		if !yield(p.peer, p.span, p.lamport) {
			return
		}
	}
}
