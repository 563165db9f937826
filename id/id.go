// Package id defines the identifiers and logical clocks that the causal
// oplog is built on: PeerID, Counter, the (peer, counter) pair ID, Lamport
// timestamps, and id spans.
package id

import "fmt"

// PeerID uniquely names a replica. Peers generate their own PeerID at
// random; the engine never assigns them centrally.
type PeerID uint64

// Counter is a peer-local, zero-based, dense, monotone sequence number.
// Each op a peer creates locally gets the next Counter value.
type Counter int32

// Lamport is a logical clock: for any change C with dependencies D,
// C.Lamport = 1 + max(d.LamportLast for d in D).
type Lamport uint32

// Timestamp is advisory wall-clock time. It is never consulted for
// conflict resolution.
type Timestamp int64

// ID names one atomic operation.
type ID struct {
	Peer    PeerID
	Counter Counter
}

// NewID builds an ID from its parts.
func NewID(peer PeerID, counter Counter) ID {
	return ID{Peer: peer, Counter: counter}
}

// Next returns the ID immediately following this one in the same peer's
// counter space.
func (i ID) Next() ID {
	return ID{Peer: i.Peer, Counter: i.Counter + 1}
}

// Inc returns the ID offset by delta counters within the same peer.
func (i ID) Inc(delta int32) ID {
	return ID{Peer: i.Peer, Counter: i.Counter + Counter(delta)}
}

func (i ID) String() string {
	return fmt.Sprintf("%d@%d", i.Counter, i.Peer)
}

// IDSpan is a half-open range [Start, End) of Counter values owned by
// Peer. It may be stored reversed (Start > End) so that backward
// deletions can be merged the same way forward insertions are.
type IDSpan struct {
	Peer  PeerID
	Start Counter
	End   Counter
}

// NewIDSpan builds a forward span [start, end).
func NewIDSpan(peer PeerID, start, end Counter) IDSpan {
	return IDSpan{Peer: peer, Start: start, End: end}
}

// Len returns the number of atoms the span covers, regardless of
// direction.
func (s IDSpan) Len() int {
	if s.Start <= s.End {
		return int(s.End - s.Start)
	}
	return int(s.Start - s.End)
}

// IsReversed reports whether the span is stored backward.
func (s IDSpan) IsReversed() bool {
	return s.Start > s.End
}

// Normalized returns the span with Start <= End, preserving the same
// atom set.
func (s IDSpan) Normalized() IDSpan {
	if !s.IsReversed() {
		return s
	}
	return IDSpan{Peer: s.Peer, Start: s.End + 1, End: s.Start + 1}
}

// Min is the lowest counter contained in the span (after normalizing).
func (s IDSpan) Min() Counter {
	n := s.Normalized()
	return n.Start
}

// Max is the exclusive upper bound of the span (after normalizing).
func (s IDSpan) Max() Counter {
	n := s.Normalized()
	return n.End
}

// ContainsCounter reports whether c falls within the span, ignoring
// direction.
func (s IDSpan) ContainsCounter(c Counter) bool {
	n := s.Normalized()
	return c >= n.Start && c < n.End
}

// CanMergeForward reports whether other can be appended after s to form
// a single contiguous forward span.
func (s IDSpan) CanMergeForward(other IDSpan) bool {
	return s.Peer == other.Peer && !s.IsReversed() && !other.IsReversed() && s.End == other.Start
}

// IDSpanVector groups spans, typically one contiguous run per peer, used
// by AppDag.FindPath to describe which atoms to retreat or forward.
type IDSpanVector []IDSpan

// TotalLen sums the lengths of every span in the vector.
func (v IDSpanVector) TotalLen() int {
	total := 0
	for _, s := range v {
		total += s.Len()
	}
	return total
}
