// Package spopbuf implements the primitive binary encoding shared by every
// SPOP codec: big-endian fixed-width integers, self-terminating varints,
// and varint-length-prefixed strings and byte blobs.
package spopbuf

import "encoding/binary"

// Buffer is a growable byte buffer used for SPOP binary encoding.
// Fixed-width multi-byte integers are written in network (big-endian) order.
type Buffer struct {
	data []byte
}

// NewBuffer returns a Buffer pre-allocated with the given capacity.
func NewBuffer(cap int) *Buffer {
	return &Buffer{data: make([]byte, 0, cap)}
}

// Bytes returns the accumulated encoded bytes.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset clears the buffer for reuse.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// grow ensures room for n additional bytes, returning the write offset.
func (b *Buffer) grow(n int) int {
	off := len(b.data)
	need := off + n
	if need <= cap(b.data) {
		b.data = b.data[:need]
		return off
	}
	newCap := cap(b.data) * 2
	if newCap < need {
		newCap = need
	}
	tmp := make([]byte, need, newCap)
	copy(tmp, b.data)
	b.data = tmp
	return off
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	off := b.grow(1)
	b.data[off] = v
}

// WriteUint32 appends a 32-bit unsigned integer in network order.
func (b *Buffer) WriteUint32(v uint32) {
	off := b.grow(4)
	binary.BigEndian.PutUint32(b.data[off:], v)
}

// WriteRaw appends p verbatim, with no length prefix.
func (b *Buffer) WriteRaw(p []byte) {
	off := b.grow(len(p))
	copy(b.data[off:], p)
}

// WriteString appends a varint-length-prefixed UTF-8 string.
// SPOP strings carry no terminator.
func (b *Buffer) WriteString(s string) {
	b.WriteVarint(uint64(len(s)))
	off := b.grow(len(s))
	copy(b.data[off:], s)
}

// WriteBytes appends a varint-length-prefixed byte slice.
func (b *Buffer) WriteBytes(p []byte) {
	b.WriteVarint(uint64(len(p)))
	off := b.grow(len(p))
	copy(b.data[off:], p)
}
