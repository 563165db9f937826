package causaldoc

import (
	"time"

	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/op"
	"github.com/cshekharsharma/causaldoc/undo"
)

// Commit closes the in-progress change (if any), stamping its lamport
// and timestamp, inserting it into the oplog and dag, and recording an
// undo entry. It returns false if there was nothing to commit.
func (d *Document) Commit(message string) (ok bool) {
	if d.checkPoisoned() != nil {
		return false
	}
	var recoverErr error
	defer d.recoverPoison(&recoverErr)
	defer func() {
		if recoverErr != nil {
			ok = false
		}
	}()

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	if d.curChange == nil || len(d.curChange.Ops) == 0 {
		return false
	}

	before := d.dag.Frontiers()

	c := d.curChange
	c.Message = message
	c.Lamport = d.dag.NextLamport(c.AllDeps())
	c.Timestamp = id.Timestamp(time.Now().UnixMilli())

	d.changes.Insert(c)
	d.dag.RegisterChange(c.ID, c.Lamport, c.Deps, c.DepOnSelf, c.AtomLen())
	d.localLamport = c.Lamport + id.Lamport(c.AtomLen())

	after := d.dag.Frontiers()
	d.undo.Push(undo.Entry{Before: before, After: after, Message: message})

	d.curChange = nil
	d.notify([]*op.Change{c})
	return true
}

// Undo checks the document out to the frontiers immediately before the
// most recently committed (and not yet undone) change, returning false
// if there is nothing left to undo. The frontiers the undo manager
// hands back always name changes already in this replica's own log, so
// the only way Checkout's ErrFrontiersNotFound could fire here is a bug
// in the undo stack itself; that case surfaces as false rather than a
// panic, matching Undo's existing boolean contract.
func (d *Document) Undo() bool {
	frontiers, ok := d.undo.Undo()
	if !ok {
		return false
	}
	return d.Checkout(frontiers) == nil
}

// Redo reapplies the most recently undone change, returning false if
// there is nothing to redo.
func (d *Document) Redo() bool {
	frontiers, ok := d.undo.Redo()
	if !ok {
		return false
	}
	return d.Checkout(frontiers) == nil
}
