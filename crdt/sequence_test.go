package crdt

import (
	"testing"

	"github.com/cshekharsharma/causaldoc/id"
)

func TestSequenceInsertAtEndMaterializes(t *testing.T) {
	s := NewSequence[rune]()
	s.Insert(id.NewID(1, 0), []rune("abc"), nil, nil)
	s.Insert(id.NewID(1, 3), []rune("def"), idPtr(id.NewID(1, 2)), nil)

	got := string(s.Materialize())
	if got != "abcdef" {
		t.Fatalf("got %q, want abcdef", got)
	}
}

func TestSequenceConcurrentInsertAtSameOriginOrdersByPeer(t *testing.T) {
	s := NewSequence[rune]()
	s.Insert(id.NewID(1, 0), []rune("a"), nil, nil)
	// Both peers 2 and 3 insert concurrently right after peer 1's "a".
	origin := idPtr(id.NewID(1, 0))
	s.Insert(id.NewID(3, 0), []rune("Y"), origin, nil)
	s.Insert(id.NewID(2, 0), []rune("X"), origin, nil)

	got := string(s.Materialize())
	if got != "aXY" {
		t.Fatalf("expected peer 2's X ahead of peer 3's Y, got %q", got)
	}
}

func TestSequenceDeleteHidesAtoms(t *testing.T) {
	s := NewSequence[rune]()
	s.Insert(id.NewID(1, 0), []rune("abcdef"), nil, nil)
	spans := s.VisibleIDSpansForRange(1, 3)
	s.ApplyDelete(spans)

	got := string(s.Materialize())
	if got != "aef" {
		t.Fatalf("got %q, want aef", got)
	}
	if s.VisibleLen() != 3 {
		t.Fatalf("expected visible len 3, got %d", s.VisibleLen())
	}
}

func TestSequenceUndoDeleteRestoresAtoms(t *testing.T) {
	s := NewSequence[rune]()
	s.Insert(id.NewID(1, 0), []rune("abcdef"), nil, nil)
	spans := s.VisibleIDSpansForRange(1, 3)
	s.ApplyDelete(spans)
	s.UndoDelete(spans)

	got := string(s.Materialize())
	if got != "abcdef" {
		t.Fatalf("got %q, want abcdef", got)
	}
}

func idPtr(i id.ID) *id.ID { return &i }
