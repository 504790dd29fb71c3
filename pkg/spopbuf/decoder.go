package spopbuf

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrShortBuffer is returned when the Reader has fewer bytes than required.
	ErrShortBuffer = errors.New("spopbuf: insufficient data in buffer")

	// ErrVarintOverflow is returned when a varint runs past the widest
	// encoding a 64-bit value can occupy.
	ErrVarintOverflow = errors.New("spopbuf: varint exceeds 64 bits")
)

// Reader provides sequential, zero-copy decoding of SPOP-encoded data.
type Reader struct {
	data   []byte
	offset int
}

// NewReader wraps an existing byte slice for decoding.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.offset
}

// need checks that at least n bytes remain and returns the current offset.
func (r *Reader) need(n int) (int, error) {
	if r.offset+n > len(r.data) {
		return 0, ErrShortBuffer
	}
	off := r.offset
	r.offset += n
	return off, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	off, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return r.data[off], nil
}

// ReadUint32 reads a 32-bit unsigned integer in network order.
func (r *Reader) ReadUint32() (uint32, error) {
	off, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.data[off:]), nil
}

// ReadRaw reads exactly n bytes with no length prefix. The returned slice
// aliases the Reader's underlying buffer (zero-copy).
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	off, err := r.need(n)
	if err != nil {
		return nil, err
	}
	return r.data[off : off+n], nil
}

// ReadString reads a varint-length-prefixed UTF-8 string. The returned
// string holds its own copy of the data (safe after the Reader is discarded).
func (r *Reader) ReadString() (string, error) {
	length, err := r.ReadVarint()
	if err != nil {
		return "", err
	}
	if length > uint64(r.Remaining()) {
		return "", ErrShortBuffer
	}
	off, err := r.need(int(length))
	if err != nil {
		return "", err
	}
	return string(r.data[off : off+int(length)]), nil
}

// ReadBytes reads a varint-length-prefixed byte slice. The returned slice
// is a sub-slice of the Reader's underlying buffer (zero-copy).
func (r *Reader) ReadBytes() ([]byte, error) {
	length, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	if length > uint64(r.Remaining()) {
		return nil, ErrShortBuffer
	}
	off, err := r.need(int(length))
	if err != nil {
		return nil, err
	}
	return r.data[off : off+int(length)], nil
}
