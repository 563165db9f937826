package id

import "sort"

// Frontiers is a minimal antichain of IDs representing a version: no
// element may causally dominate another.
type Frontiers []ID

// Clone returns an independent copy.
func (f Frontiers) Clone() Frontiers {
	out := make(Frontiers, len(f))
	copy(out, f)
	return out
}

// Sorted returns a copy ordered by (peer, counter) for deterministic
// comparison and serialization.
func (f Frontiers) Sorted() Frontiers {
	out := f.Clone()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Counter < out[j].Counter
	})
	return out
}

// Equal reports whether two Frontiers contain exactly the same IDs.
func (f Frontiers) Equal(other Frontiers) bool {
	if len(f) != len(other) {
		return false
	}
	a, b := f.Sorted(), other.Sorted()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Contains reports whether target is present in the antichain.
func (f Frontiers) Contains(target ID) bool {
	for _, x := range f {
		if x == target {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the frontiers describe the empty version.
func (f Frontiers) IsEmpty() bool {
	return len(f) == 0
}

// Replace removes any element with the same Peer as newID and appends
// newID. Used when a peer commits a new change: its previous frontier
// entry for that peer, if any, is superseded.
func (f Frontiers) Replace(newID ID) Frontiers {
	out := make(Frontiers, 0, len(f)+1)
	for _, x := range f {
		if x.Peer != newID.Peer {
			out = append(out, x)
		}
	}
	out = append(out, newID)
	return out
}
