package causaldoc

import (
	"encoding/binary"

	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/op"
	"github.com/cshekharsharma/causaldoc/oplog"
)

// ExportSnapshot serializes the full causal log: every change this
// replica has ever stored, in the Snapshot export mode.
func (d *Document) ExportSnapshot() ([]byte, error) {
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()
	return d.changes.EncodeSnapshot(nil)
}

// ExportShallowSnapshot writes a ShallowSnapshot rooted at at: the state
// section carries every change reachable from at (so an importer can
// materialise the exact value at at without replaying from genesis),
// the oplog section carries only what came after, and the trimmed
// section carries at itself, encoded as a version vector, so the
// importer can enforce the boundary on every later Updates import (see
// Import). Returns ErrFrontiersNotFound if at names an id this replica
// does not have.
func (d *Document) ExportShallowSnapshot(at id.Frontiers) ([]byte, error) {
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	for _, f := range at {
		if _, ok := d.dag.LamportOf(f); !ok {
			return nil, ErrFrontiersNotFound(at)
		}
	}

	stateBytes, err := d.changes.ForkChangesUpTo(at)
	if err != nil {
		return nil, err
	}
	trimmedBytes := oplog.EncodeVersionVector(id.FrontiersToVersionVector(at, nil))
	return d.changes.EncodeShallowSnapshot(at, stateBytes, trimmedBytes)
}

// ExportUpdates writes the minimal block stream covering every change
// not already reflected in from.
func (d *Document) ExportUpdates(from id.VersionVector) ([]byte, error) {
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()
	return d.changes.ExportBlocksFrom(from)
}

// ExportUpdatesInRange writes exactly the changes whose spans intersect
// spans.
func (d *Document) ExportUpdatesInRange(spans id.IDSpanVector) ([]byte, error) {
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()
	return d.changes.ExportInRange(spans)
}

// looksLikeSnapshot reports whether data's first four bytes, read as a
// u32 LE oplog-section length, are self-consistent with the Snapshot
// framing's three length-prefixed sections exactly filling data. The
// Updates framing has no such top-level envelope (it is a bare
// concatenation of [varint len, block] frames), so a false positive
// would require an Updates stream whose very first block's length
// happened to equal the byte offset of a second, equally-confabulated
// section boundary -- vanishingly unlikely for real payloads, and
// harmless here even if it occurred, since ImportUpdates and
// DecodeSnapshot would each simply fail to parse the other's bytes.
func looksLikeSnapshot(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	oplogLen := binary.LittleEndian.Uint32(data[0:4])
	off := 4 + int(oplogLen)
	if off+4 > len(data) {
		return false
	}
	stateLen := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4 + int(stateLen)
	if off+4 > len(data) {
		return false
	}
	trimmedLen := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4 + int(trimmedLen)
	return off == len(data)
}

// Import merges bytes produced by any export mode, auto-detecting
// Snapshot versus Updates framing by prefix layout. Newly-arrived
// changes whose dependencies are not yet satisfied are buffered in the
// pending buffer and replayed automatically once their deps arrive.
//
// A bare Updates blob (no Snapshot framing) is rejected wholesale with
// ErrImportUpdatesOutdated if any change it carries falls below this
// replica's shallowSinceVV boundary (set by a prior ShallowSnapshot
// import): once a peer has told this replica "you may assume everything
// before here", accepting raw updates from before that point would
// silently resurrect a version the peer relationship has already agreed
// to treat as gone, even on a replica that happens to still hold the
// bytes locally. A Snapshot's own state/oplog sections are exempt from
// this check, since they are exactly the authoritative reconstruction of
// (or continuation from) a boundary, not a stray older update.
func (d *Document) Import(data []byte) (err error) {
	if pErr := d.checkPoisoned(); pErr != nil {
		return pErr
	}
	defer d.recoverPoison(&err)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	var stateChanges, newChanges []*op.Change
	var trimmedVV id.VersionVector

	if looksLikeSnapshot(data) {
		snap, err := oplog.DecodeSnapshot(data)
		if err != nil {
			return err
		}
		if len(snap.TrimmedBytes) > 0 {
			vv, err := oplog.DecodeVersionVector(snap.TrimmedBytes)
			if err != nil {
				return err
			}
			trimmedVV = vv
		}
		if snap.StateBytes != nil {
			sc, err := oplog.DecodeUpdateBlocks(snap.StateBytes)
			if err != nil {
				return err
			}
			stateChanges = sc
		}
		nc, err := oplog.DecodeUpdateBlocks(snap.OplogBytes)
		if err != nil {
			return err
		}
		newChanges = nc
	} else {
		changes, err := oplog.DecodeUpdateBlocks(data)
		if err != nil {
			return err
		}
		if d.shallowSinceVV != nil {
			for _, c := range changes {
				if d.shallowSinceVV.Includes(c.ID) {
					return ErrImportUpdatesOutdated()
				}
			}
		}
		newChanges = changes
	}

	added := append(d.changes.InsertNew(stateChanges), d.changes.InsertNew(newChanges)...)
	if trimmedVV != nil {
		if d.shallowSinceVV == nil {
			d.shallowSinceVV = trimmedVV
		} else {
			d.shallowSinceVV.Merge(trimmedVV)
		}
	}
	if len(added) == 0 {
		return nil
	}

	var applied []*op.Change
	seed := make([]id.ID, 0, len(added))
	for _, ident := range added {
		c, _ := d.changes.GetChange(ident)
		ready, missing := d.dependenciesOf(c)
		if !ready {
			d.pending.Add(c, missing)
			continue
		}
		d.integrateChange(c)
		applied = append(applied, c)
		seed = append(seed, c.ID.Inc(int32(c.AtomLen())-1))
	}

	err = d.pending.Drive(seed, d.hasDep, func(c *op.Change) ([]id.ID, id.Frontiers, error) {
		ready, missing := d.dependenciesOf(c)
		if !ready {
			return nil, missing, nil
		}
		d.integrateChange(c)
		applied = append(applied, c)
		return []id.ID{c.ID.Inc(int32(c.AtomLen()) - 1)}, nil, nil
	})
	if err != nil {
		return err
	}

	d.notify(applied)
	return nil
}

// dependenciesOf reports whether every one of c's dependencies is
// already known to the dag, and if not, which ones are missing.
func (d *Document) dependenciesOf(c *op.Change) (ready bool, missing id.Frontiers) {
	for _, dep := range c.AllDeps() {
		if !d.hasDep(dep) {
			missing = append(missing, dep)
		}
	}
	return len(missing) == 0, missing
}

func (d *Document) hasDep(dep id.ID) bool {
	_, ok := d.dag.LamportOf(dep)
	return ok
}

// integrateChange registers a causally-ready change with the dag and
// replays its ops into the live container state. The change is already
// present in the ChangeStore (inserted at decode time); this only
// updates the derived structures.
func (d *Document) integrateChange(c *op.Change) {
	d.dag.RegisterChange(c.ID, c.Lamport, c.Deps, c.DepOnSelf, c.AtomLen())
	if end := c.LamportEnd(); end > d.localLamport {
		d.localLamport = end
	}
	d.applyChangeToContainers(c)
}
