package container

import "sync"

// entry pairs a map value with the lamport and peer of the op that
// wrote it, so concurrent
// sets to the same key converge via last-writer-wins keyed on (lamport,
// peer) rather than arrival order.
type entry struct {
	value   *uint32 // nil = tombstone, matching op.MapSet's Option<u32>
	lamport uint32
	peer    uint64
}

// Map is a last-write-wins string-keyed map container. Ties between
// concurrent writes to the same key are broken by (lamport desc, peer
// desc), i.e. the op with the higher lamport wins, peer id as tiebreak.
type Map struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMap returns an empty map container.
func NewMap() *Map {
	return &Map{entries: make(map[string]entry)}
}

// Apply folds one MapSet op into the map, keeping whichever write has
// the higher (lamport, peer) pair.
func (m *Map) Apply(key string, value *uint32, lamport uint32, peer uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[key]
	if !ok || lamport > cur.lamport || (lamport == cur.lamport && peer > cur.peer) {
		m.entries[key] = entry{value: value, lamport: lamport, peer: peer}
	}
}

// Get returns the current value index for key, or ok=false if absent or
// tombstoned.
func (m *Map) Get(key string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || e.value == nil {
		return 0, false
	}
	return *e.value, true
}

// Keys returns every non-tombstoned key currently set.
func (m *Map) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k, e := range m.entries {
		if e.value != nil {
			out = append(out, k)
		}
	}
	return out
}
