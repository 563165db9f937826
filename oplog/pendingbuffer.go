package oplog

import (
	"sort"

	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/op"
)

// PendingChange is a change buffered because at least one of its
// dependencies has not yet arrived.
type PendingChange struct {
	Change      *op.Change
	MissingDeps id.Frontiers
}

// PendingBuffer holds changes whose causal dependencies are not yet
// present and re-drives application as new ids arrive.
//
// Grounded directly on the teacher's pendingOrphans map[ID][]Node +
// processNode causal-buffering pattern in rga.go, generalized from a
// single parent dependency to the full Frontiers a Change can carry and
// from one flat bucket to the PeerID -> Counter -> []PendingChange
// structure named in §4.6.
type PendingBuffer struct {
	buckets map[id.PeerID]map[id.Counter][]*PendingChange
}

// NewPendingBuffer returns an empty buffer.
func NewPendingBuffer() *PendingBuffer {
	return &PendingBuffer{buckets: make(map[id.PeerID]map[id.Counter][]*PendingChange)}
}

// lowestMissingDep returns the dep among missing that sorts lowest by
// peer, then by counter, which becomes the bucket key: once that one specific dep arrives, the
// change becomes worth re-checking (though it may still have others
// missing, in which case it is re-bucketed under a new key).
func lowestMissingDep(missing id.Frontiers) id.ID {
	lowest := missing[0]
	for _, m := range missing[1:] {
		if m.Peer < lowest.Peer || (m.Peer == lowest.Peer && m.Counter < lowest.Counter) {
			lowest = m
		}
	}
	return lowest
}

// Add buffers a change under the counter of its lowest missing
// dependency.
func (p *PendingBuffer) Add(c *op.Change, missingDeps id.Frontiers) {
	key := lowestMissingDep(missingDeps)
	perPeer, ok := p.buckets[key.Peer]
	if !ok {
		perPeer = make(map[id.Counter][]*PendingChange)
		p.buckets[key.Peer] = perPeer
	}
	perPeer[key.Counter] = append(perPeer[key.Counter], &PendingChange{Change: c, MissingDeps: missingDeps})
}

// Drain removes and returns every pending change bucketed under a
// missing-dep counter <= newID.Counter for newID.Peer: these are the
// changes that might now be ready given newID has just been applied.
func (p *PendingBuffer) Drain(newID id.ID) []*PendingChange {
	perPeer, ok := p.buckets[newID.Peer]
	if !ok {
		return nil
	}
	var out []*PendingChange
	var keys []id.Counter
	for k := range perPeer {
		if k <= newID.Counter {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		out = append(out, perPeer[k]...)
		delete(perPeer, k)
	}
	return out
}

// IsEmpty reports whether every bucket has drained.
func (p *PendingBuffer) IsEmpty() bool {
	for _, perPeer := range p.buckets {
		if len(perPeer) > 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of changes currently buffered.
func (p *PendingBuffer) Len() int {
	n := 0
	for _, perPeer := range p.buckets {
		for _, list := range perPeer {
			n += len(list)
		}
	}
	return n
}

// Drive applies newly-ready changes by repeatedly draining the buffer
// around every id the apply callback reports as newly committed, until
// a full round adds nothing. apply must insert the change into the
// ChangeStore/AppDag and return the set of ids it just made available
// (normally just the change's own span endpoints) plus the deps it
// still lacks; a non-empty stillMissing makes Drive re-bucket it.
func (p *PendingBuffer) Drive(seed []id.ID, hasDep func(id.ID) bool, apply func(c *op.Change) (newIDs []id.ID, stillMissing id.Frontiers, err error)) error {
	queue := append([]id.ID{}, seed...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, pc := range p.Drain(next) {
			var stillMissing id.Frontiers
			for _, dep := range pc.MissingDeps {
				if !hasDep(dep) {
					stillMissing = append(stillMissing, dep)
				}
			}
			if len(stillMissing) > 0 {
				p.Add(pc.Change, stillMissing)
				continue
			}
			newIDs, missing, err := apply(pc.Change)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				p.Add(pc.Change, missing)
				continue
			}
			queue = append(queue, newIDs...)
		}
	}
	return nil
}

// RepairLamports recomputes Lamport for every change in pending whose
// value is 0 (the marker used by changes recovered from legacy columnar
// blocks that predate lamport persistence), via a queue-based sweep:
// repeat until every change's deps are known, then set
// lamport = 1 + max(dep.LamportLast). Termination is detected by a full
// round with no assignment, which signals corruption (a cycle or a
// permanently-missing dependency) rather than looping forever.
func RepairLamports(changes []*op.Change, lamportEnd func(id.ID) (id.Lamport, bool)) error {
	remaining := make([]*op.Change, 0, len(changes))
	for _, c := range changes {
		if c.Lamport == 0 && c.ID.Counter != 0 {
			remaining = append(remaining, c)
		}
	}
	resolved := map[id.ID]id.Lamport{}
	for _, c := range changes {
		if c.Lamport != 0 || c.ID.Counter == 0 {
			resolved[c.ID] = c.Lamport
		}
	}

	for len(remaining) > 0 {
		var next []*op.Change
		progress := false
		for _, c := range remaining {
			maxDep := id.Lamport(0)
			ready := true
			for _, dep := range c.AllDeps() {
				if end, ok := lamportEnd(dep); ok {
					if end > maxDep {
						maxDep = end
					}
					continue
				}
				if end, ok := resolvedEnd(resolved, dep); ok {
					if end > maxDep {
						maxDep = end
					}
					continue
				}
				ready = false
				break
			}
			if !ready {
				next = append(next, c)
				continue
			}
			c.Lamport = maxDep + 1
			resolved[c.ID] = c.Lamport
			progress = true
		}
		if !progress && len(next) > 0 {
			return errLamportRepairStuck
		}
		remaining = next
	}
	return nil
}

func resolvedEnd(resolved map[id.ID]id.Lamport, dep id.ID) (id.Lamport, bool) {
	lam, ok := resolved[dep]
	return lam + 1, ok
}

var errLamportRepairStuck = lamportRepairStuckError{}

type lamportRepairStuckError struct{}

func (lamportRepairStuckError) Error() string {
	return "oplog: lamport repair made no progress in a full round (corrupt or cyclic deps)"
}
