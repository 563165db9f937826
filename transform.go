package causaldoc

import (
	"github.com/cshekharsharma/causaldoc/delta"
)

// ComposeTextDiffs folds a sequence of successive CheckoutDiff results for
// the same text container into the single equivalent rope a client could
// apply instead of replaying each hop individually, per §4.5's compose
// being associative concatenation under OT semantics.
func ComposeTextDiffs(diffs ...*delta.Rope[rune]) (*delta.Rope[rune], error) {
	if len(diffs) == 0 {
		return delta.New[rune](), nil
	}
	out := diffs[0]
	for _, next := range diffs[1:] {
		composed, err := delta.Compose(out, next)
		if err != nil {
			return nil, err
		}
		out = composed
	}
	return out, nil
}

// RebaseLocalText transforms a not-yet-committed local edit (expressed as
// a delta against the text's pre-edit state) past a concurrently received
// remote diff covering the same container, so the local edit can still be
// replayed on top of the now-merged state. localHasPriority controls which
// side wins a concurrent insert at the same position, per §4.5's
// left_priority parameter.
func RebaseLocalText(local, remote *delta.Rope[rune], localHasPriority bool) *delta.Rope[rune] {
	return delta.Transform(local, remote, localHasPriority)
}
