// Package container implements the typed state replicas a document
// exposes: Text, List, MovableList, Map, Tree, Counter. Each container
// is driven purely by applying ops from the oplog; none of them touch
// the oplog or arena directly except through the values an op already
// carries.
package container

import (
	"sync"

	"github.com/cshekharsharma/causaldoc/id"
)

// Counter generalises the teacher's PNCounter from a single fixed peer
// to an arbitrary, growing set of peers: every peer gets its own
// increment and decrement slots (two GCounter-style grow-only maps),
// and the current value is the sum of increments minus the sum of
// decrements across every peer, exactly as PNCounter derives Value from
// its two GCounters, generalized from one hardcoded nodeID to whichever
// peer committed each op.
type Counter struct {
	mu         sync.RWMutex
	increments map[id.PeerID]int64
	decrements map[id.PeerID]int64
}

// NewCounter returns a zero-valued counter.
func NewCounter() *Counter {
	return &Counter{increments: make(map[id.PeerID]int64), decrements: make(map[id.PeerID]int64)}
}

// Apply folds one committing peer's delta into the counter: a positive
// delta accumulates into that peer's increment slot, a negative delta
// into its decrement slot (as a positive magnitude), mirroring
// PNCounter.Increment/Decrement but keyed per-peer instead of per the
// single constructing nodeID, and replaying rather than mutating
// in-place so operations can be applied in any causal order.
func (c *Counter) Apply(peer id.PeerID, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if delta >= 0 {
		c.increments[peer] += delta
	} else {
		c.decrements[peer] += -delta
	}
}

// Value sums every peer's increments minus every peer's decrements,
// exactly as PNCounter.Value does across its two GCounters.
func (c *Counter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, v := range c.increments {
		total += v
	}
	for _, v := range c.decrements {
		total -= v
	}
	return total
}
