package crdt

import "github.com/cshekharsharma/causaldoc/id"

// Checkout moves the sequence's effective state along the diff produced
// by AppDag.FindPath, per §4.4.5: retreat every span in left (hide
// inserts, undo deletes over it), then forward every span in right
// (reveal inserts, apply deletes). Deletes and inserts sharing the
// retreated/forwarded range are both driven off the same id spans since,
// at this layer, "retreat/forward an id span" means flip the insert's
// future bit and replay any delete ops whose target span overlaps it;
// callers that also maintain an op log pass deletesToUndo/deletesToApply
// separately because a delete op's own committing atoms are distinct
// atoms from the atoms it targets.
func (s *Sequence[V]) Checkout(left, right id.IDSpanVector, deletesToUndo, deletesToApply id.IDSpanVector) {
	if len(deletesToUndo) > 0 {
		s.UndoDelete(deletesToUndo)
	}
	if len(left) > 0 {
		s.SetFuture(left, true)
	}
	if len(right) > 0 {
		s.SetFuture(right, false)
	}
	if len(deletesToApply) > 0 {
		s.ApplyDelete(deletesToApply)
	}
}
