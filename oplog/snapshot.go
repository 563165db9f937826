package oplog

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/cshekharsharma/causaldoc/columnar"
	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/op"
)

// emptyStateSentinel marks the "no state blob" case of a snapshot's
// state section, per §4.2's "or the sentinel byte 'E' for empty".
const emptyStateSentinel = 'E'

// ExportBlocksFrom writes the minimum set of blocks whose union covers
// every change not already reflected in vv, following the Updates
// framing: a concatenation of [varint block_len, block_bytes] frames.
func (cs *ChangeStore) ExportBlocksFrom(vv id.VersionVector) ([]byte, error) {
	changes := cs.AllChangesFrom(vv)
	return cs.encodeUpdateBlocks(changes)
}

// ExportInRange writes exactly the changes whose spans intersect the
// requested id spans (UpdatesInRange export mode).
func (cs *ChangeStore) ExportInRange(spans id.IDSpanVector) ([]byte, error) {
	var changes []*op.Change
	for _, span := range spans {
		n := span.Normalized()
		for _, c := range cs.perPeer[span.Peer] {
			cEnd := c.ID.Counter + id.Counter(c.AtomLen())
			if c.ID.Counter < n.End && cEnd > n.Start {
				changes = append(changes, c)
			}
		}
	}
	return cs.encodeUpdateBlocks(changes)
}

func (cs *ChangeStore) encodeUpdateBlocks(changes []*op.Change) ([]byte, error) {
	var out bytes.Buffer
	for start := 0; start < len(changes); {
		end := start + 1
		size := estimateChangeBytes(changes[start])
		for end < len(changes) && size < cs.blockTargetBytes {
			size += estimateChangeBytes(changes[end])
			end++
		}
		block, err := encodeBlock(changes[start:end])
		if err != nil {
			return nil, err
		}
		// varint block_len as specified in §6.2/§4.2's Updates framing.
		columnar.PutUvarint(&out, uint64(len(block)))
		out.Write(block)
		start = end
	}
	return out.Bytes(), nil
}

func estimateChangeBytes(c *op.Change) int {
	return 32 + len(c.Ops)*24 + len(c.Deps)*12
}

// DecodeUpdateBlocks decodes a concatenation of [varint len, block]
// frames into the changes it carries, without inserting any of them
// into the store. Callers that need to validate a batch (e.g. against a
// shallow snapshot's trimmed boundary) before committing it use this,
// then InsertNew once validation passes; ImportUpdates itself is just
// this followed by an unconditional InsertNew.
func DecodeUpdateBlocks(data []byte) ([]*op.Change, error) {
	r := bytes.NewReader(data)
	var out []*op.Change
	for r.Len() > 0 {
		n, err := columnar.ReadUvarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "oplog: truncated update block length")
		}
		blockBytes := make([]byte, n)
		if n > 0 {
			if _, err := r.Read(blockBytes); err != nil {
				return nil, errors.Wrap(err, "oplog: truncated update block body")
			}
		}
		changes, err := decodeBlock(blockBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, changes...)
	}
	return out, nil
}

// ImportUpdates decodes a concatenation of [varint len, block] frames
// and merges every change whose span is not already present. It returns
// the set of newly-added change IDs (per-peer starting IDs), for the
// caller to drive PendingBuffer re-evaluation and subscriber events.
func (cs *ChangeStore) ImportUpdates(data []byte) ([]id.ID, error) {
	changes, err := DecodeUpdateBlocks(data)
	if err != nil {
		return nil, err
	}
	return cs.InsertNew(changes), nil
}

// --- Snapshot framing: three length-prefixed sections ---
//
//	u32 LE oplog_len, oplog_bytes,
//	u32 LE state_len, state_bytes (or sentinel 'E'),
//	u32 LE trimmed_len, trimmed_bytes.

// EncodeSnapshot writes the full Snapshot export mode: the complete
// oplog plus the caller-supplied materialised state bytes. trimmed is
// empty unless this is a shallow snapshot (see EncodeShallowSnapshot).
func (cs *ChangeStore) EncodeSnapshot(stateBytes []byte) ([]byte, error) {
	oplogBytes, err := cs.encodeUpdateBlocks(cs.AllChanges())
	if err != nil {
		return nil, err
	}
	return assembleSnapshot(oplogBytes, stateBytes, nil), nil
}

// EncodeShallowSnapshot writes a ShallowSnapshot: state plus only the
// changes needed to reach newer frontiers than at, with trimmedBytes
// carrying whatever the caller needs to resume causal replay from at.
func (cs *ChangeStore) EncodeShallowSnapshot(at id.Frontiers, stateBytes, trimmedBytes []byte) ([]byte, error) {
	vv := id.FrontiersToVersionVector(at, nil)
	oplogBytes, err := cs.encodeUpdateBlocks(cs.AllChangesFrom(vv))
	if err != nil {
		return nil, err
	}
	return assembleSnapshot(oplogBytes, stateBytes, trimmedBytes), nil
}

func assembleSnapshot(oplogBytes, stateBytes, trimmedBytes []byte) []byte {
	var out bytes.Buffer
	writeU32Section(&out, oplogBytes)
	if stateBytes == nil {
		writeU32Section(&out, []byte{emptyStateSentinel})
	} else {
		writeU32Section(&out, stateBytes)
	}
	writeU32Section(&out, trimmedBytes)
	return out.Bytes()
}

func writeU32Section(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func readU32Section(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return nil, errors.Wrap(err, "oplog: truncated snapshot section length")
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(data); err != nil {
			return nil, errors.Wrap(err, "oplog: truncated snapshot section body")
		}
	}
	return data, nil
}

// DecodedSnapshot holds the three sections of a decoded snapshot byte
// buffer.
type DecodedSnapshot struct {
	OplogBytes   []byte
	StateBytes   []byte // nil if the source used the empty-state sentinel
	TrimmedBytes []byte
}

// DecodeSnapshot splits raw snapshot bytes into their three sections
// without importing them; Document.Import handles all three sections.
func DecodeSnapshot(data []byte) (DecodedSnapshot, error) {
	r := bytes.NewReader(data)
	oplogBytes, err := readU32Section(r)
	if err != nil {
		return DecodedSnapshot{}, err
	}
	stateBytes, err := readU32Section(r)
	if err != nil {
		return DecodedSnapshot{}, err
	}
	trimmedBytes, err := readU32Section(r)
	if err != nil {
		return DecodedSnapshot{}, err
	}
	if len(stateBytes) == 1 && stateBytes[0] == emptyStateSentinel {
		stateBytes = nil
	}
	return DecodedSnapshot{OplogBytes: oplogBytes, StateBytes: stateBytes, TrimmedBytes: trimmedBytes}, nil
}

// EncodeVersionVector serializes vv as [varint count, (varint peer,
// varint end)*count], peers in ascending order for determinism. Used to
// carry a shallow snapshot's trimmed boundary inside trimmedBytes.
func EncodeVersionVector(vv id.VersionVector) []byte {
	peers := make([]id.PeerID, 0, len(vv))
	for p := range vv {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	var buf bytes.Buffer
	columnar.PutUvarint(&buf, uint64(len(peers)))
	for _, p := range peers {
		columnar.PutUvarint(&buf, uint64(p))
		columnar.PutVarint(&buf, int64(vv[p]))
	}
	return buf.Bytes()
}

// DecodeVersionVector reverses EncodeVersionVector. Empty data decodes
// to an empty (non-nil) version vector.
func DecodeVersionVector(data []byte) (id.VersionVector, error) {
	vv := id.NewVersionVector()
	if len(data) == 0 {
		return vv, nil
	}
	r := bytes.NewReader(data)
	count, err := columnar.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "oplog: truncated version vector count")
	}
	for i := uint64(0); i < count; i++ {
		peer, err := columnar.ReadUvarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "oplog: truncated version vector peer")
		}
		end, err := columnar.ReadVarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "oplog: truncated version vector end")
		}
		vv.SetIfGreater(id.PeerID(peer), id.Counter(end))
	}
	return vv, nil
}

// ForkChangesUpTo writes the subset of changes whose reachable closure
// equals frontiers, failing if any listed ID is unknown. Used by
// fork/branch operations that need a self-contained byte stream rooted
// exactly at frontiers.
func (cs *ChangeStore) ForkChangesUpTo(frontiers id.Frontiers) ([]byte, error) {
	for _, f := range frontiers {
		if _, ok := cs.FindChangeContaining(f); !ok {
			return nil, errors.Errorf("oplog: frontier %s not found", f)
		}
	}
	vv := id.FrontiersToVersionVector(frontiers, nil)
	changes := cs.AllChangesFrom(id.NewVersionVector())
	var out []*op.Change
	for _, c := range changes {
		end := c.ID.Counter + id.Counter(c.AtomLen())
		if end <= vv.Get(c.ID.Peer) {
			out = append(out, c)
		}
	}
	return cs.encodeUpdateBlocks(out)
}
