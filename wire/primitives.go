// Package wire implements the binary primitives, PADMÉ padding policy
// and length-prefixed framing; package protocol's codec and package
// transport's padding are built on it (spec §4.B). It
// hand-rolls big-endian integer encoding the same way the teacher's
// msg.go frames message headers — a shift loop over a small fixed
// buffer rather than a serialization library. ReadFrame/WriteFrame's
// 4-byte length prefix targets a raw byte-stream transport; the
// WebSocket transport frames messages itself and calls wire.Pad
// directly instead.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/evolu-go/sync/synerr"
)

// Writer accumulates a wire message into a byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer, optionally pre-sized.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) PutU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutBytes appends raw bytes with no length prefix.
func (w *Writer) PutBytes(b []byte) { w.buf = append(w.buf, b...) }

// PutVarBytes appends a u32-length-prefixed byte string.
func (w *Writer) PutVarBytes(b []byte) {
	w.PutU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Reader consumes a wire message from a byte buffer, tracking an
// offset and surfacing short-buffer conditions as *synerr.Protocol.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return &synerr.Protocol{Detail: "wire: unexpected end of message"}
	}
	return nil
}

func (r *Reader) GetU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) GetU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) GetU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) GetU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// GetBytes returns the next n raw bytes without copying the backing
// array (callers must copy before mutating or retaining beyond the
// lifetime of the decoded frame).
func (r *Reader) GetBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// GetVarBytes reads a u32-length-prefixed byte string.
func (r *Reader) GetVarBytes() ([]byte, error) {
	n, err := r.GetU32()
	if err != nil {
		return nil, err
	}
	return r.GetBytes(int(n))
}

// ReadFrame reads one 4-byte-big-endian-length-prefixed frame from r,
// the framing for Protocol messages over a byte-stream transport (spec
// §6); package transport's WebSocket Conn does not use it. It mirrors
// msg.go's reading loop: read the fixed header, then read exactly that
// many content bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes b prefixed by its 4-byte big-endian length.
func WriteFrame(w io.Writer, b []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
