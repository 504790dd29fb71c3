package protocol

import (
	"fmt"
	"net/netip"

	"github.com/spop-protocol/spop/pkg/spopbuf"
)

// Kind identifies a typed-data type on the wire. The tag byte carries the
// kind in its low nibble and per-type flags in the high nibble:
//
//	TYPED-DATA : <TYPE:4 bits><FLAGS:4 bits><DATA>
//
// The only defined flag is the boolean TRUE bit (0x10), which packs the
// boolean's value into the tag byte itself.
type Kind uint8

const (
	KindNull   Kind = 0 // NULL   : < 0 >
	KindBool   Kind = 1 // BOOL   : < 1+FLAG >
	KindInt32  Kind = 2 // INT32  : < 2 > < VALUE:varint >
	KindUint32 Kind = 3 // UINT32 : < 3 > < VALUE:varint >
	KindInt64  Kind = 4 // INT64  : < 4 > < VALUE:varint >
	KindUint64 Kind = 5 // UINT64 : < 5 > < VALUE:varint >
	KindIPv4   Kind = 6 // IPV4   : < 6 > < ADDR:4 bytes >
	KindIPv6   Kind = 7 // IPV6   : < 7 > < ADDR:16 bytes >
	KindString Kind = 8 // STRING : < 8 > < LENGTH:varint > < BYTES >
	KindBinary Kind = 9 // BINARY : < 9 > < LENGTH:varint > < BYTES >
)

const (
	kindMask  = 0x0F
	flagsMask = 0xF0
	flagTrue  = 0x10
)

// Value is one SPOP typed datum: the tagged scalar carried in key/value
// lists and action arguments. The implementations form a closed set
// mirroring the wire's type tags.
type Value interface {
	Kind() Kind
	encode(b *spopbuf.Buffer)
}

// Null is the NULL value.
type Null struct{}

// Bool is a boolean value; its value travels in the tag byte's flag bits.
type Bool bool

// Int32 is a 32-bit signed integer, varint-encoded.
type Int32 int32

// Uint32 is a 32-bit unsigned integer, varint-encoded.
type Uint32 uint32

// Int64 is a 64-bit signed integer, varint-encoded.
type Int64 int64

// Uint64 is a 64-bit unsigned integer, varint-encoded.
type Uint64 uint64

// IPv4 is an IPv4 address, four raw bytes on the wire.
type IPv4 [4]byte

// IPv6 is an IPv6 address, sixteen raw bytes on the wire.
type IPv6 [16]byte

// String is a varint-length-prefixed UTF-8 string.
type String string

// Binary is a varint-length-prefixed byte blob.
type Binary []byte

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int32) Kind() Kind  { return KindInt32 }
func (Uint32) Kind() Kind { return KindUint32 }
func (Int64) Kind() Kind  { return KindInt64 }
func (Uint64) Kind() Kind { return KindUint64 }
func (IPv4) Kind() Kind   { return KindIPv4 }
func (IPv6) Kind() Kind   { return KindIPv6 }
func (String) Kind() Kind { return KindString }
func (Binary) Kind() Kind { return KindBinary }

// Addr returns the address as a netip.Addr.
func (v IPv4) Addr() netip.Addr { return netip.AddrFrom4(v) }

// Addr returns the address as a netip.Addr.
func (v IPv6) Addr() netip.Addr { return netip.AddrFrom16(v) }

// AddrValue converts addr to the matching typed value.
func AddrValue(addr netip.Addr) Value {
	if addr.Is4() {
		return IPv4(addr.As4())
	}
	return IPv6(addr.As16())
}

func (Null) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindNull))
}

func (v Bool) encode(b *spopbuf.Buffer) {
	tag := uint8(KindBool)
	if v {
		tag |= flagTrue
	}
	b.WriteUint8(tag)
}

// Signed integers travel as the unsigned varint of their 64-bit
// two's-complement pattern; the decoder truncates back to the declared
// width. This matches the peer implementation byte for byte.
func (v Int32) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindInt32))
	b.WriteVarint(uint64(v))
}

func (v Uint32) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindUint32))
	b.WriteVarint(uint64(v))
}

func (v Int64) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindInt64))
	b.WriteVarint(uint64(v))
}

func (v Uint64) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindUint64))
	b.WriteVarint(uint64(v))
}

func (v IPv4) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindIPv4))
	b.WriteRaw(v[:])
}

func (v IPv6) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindIPv6))
	b.WriteRaw(v[:])
}

func (v String) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindString))
	b.WriteString(string(v))
}

func (v Binary) encode(b *spopbuf.Buffer) {
	b.WriteUint8(uint8(KindBinary))
	b.WriteBytes(v)
}

// EncodeValue appends v in typed-data format. Encoding is total: it cannot
// fail for any Value in the closed set.
func EncodeValue(b *spopbuf.Buffer, v Value) {
	v.encode(b)
}

// DecodeValue reads one typed value. It returns ErrUnknownDataType for a
// tag in the reserved range and spopbuf.ErrShortBuffer when fewer bytes
// remain than the tag requires.
func DecodeValue(r *spopbuf.Reader) (Value, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	kind := Kind(tag & kindMask)
	flags := tag & flagsMask

	switch kind {
	case KindNull:
		return Null{}, nil
	case KindBool:
		return Bool(flags&flagTrue != 0), nil
	case KindInt32:
		n, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		return Int32(n), nil
	case KindUint32:
		n, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		return Uint32(n), nil
	case KindInt64:
		n, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		return Int64(n), nil
	case KindUint64:
		n, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		return Uint64(n), nil
	case KindIPv4:
		raw, err := r.ReadRaw(4)
		if err != nil {
			return nil, err
		}
		var v IPv4
		copy(v[:], raw)
		return v, nil
	case KindIPv6:
		raw, err := r.ReadRaw(16)
		if err != nil {
			return nil, err
		}
		var v IPv6
		copy(v[:], raw)
		return v, nil
	case KindString:
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case KindBinary:
		raw, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		// Copy out of the reader buffer so the value outlives the frame.
		v := make(Binary, len(raw))
		copy(v, raw)
		return v, nil
	default:
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrUnknownDataType, tag)
	}
}
