package protocol

import (
	"bytes"
	"errors"
	"math"
	"net/netip"
	"testing"

	"github.com/spop-protocol/spop/pkg/spopbuf"
)

// Wire vectors for typed data entries: tag byte, then the kind's payload.
func TestTypedValueVectors(t *testing.T) {
	cases := []struct {
		value Value
		wire  []byte
	}{
		{Null{}, []byte{0x00}},
		{Bool(false), []byte{0x01}},
		{Bool(true), []byte{0x11}},
		{Int32(123), []byte{0x02, 123}},
		{Uint32(456), []byte{0x03, 0xF8, 0x0D}},
		{Int64(789), []byte{0x04, 0xF5, 0x22}},
		{Uint64(999), []byte{0x05, 0xF7, 0x2F}},
		{IPv4{127, 0, 0, 1}, []byte{0x06, 127, 0, 0, 1}},
		{String("ok"), []byte{0x08, 0x02, 'o', 'k'}},
		{Binary{0xDE, 0xAD}, []byte{0x09, 0x02, 0xDE, 0xAD}},
	}
	for _, tc := range cases {
		buf := spopbuf.NewBuffer(32)
		EncodeValue(buf, tc.value)
		if !bytes.Equal(buf.Bytes(), tc.wire) {
			t.Errorf("EncodeValue(%#v) = % X, want % X", tc.value, buf.Bytes(), tc.wire)
		}

		r := spopbuf.NewReader(tc.wire)
		got, err := DecodeValue(r)
		if err != nil {
			t.Fatalf("DecodeValue(% X): %v", tc.wire, err)
		}
		if got != toComparable(tc.value) && !binaryEqual(got, tc.value) {
			t.Errorf("DecodeValue(% X) = %#v, want %#v", tc.wire, got, tc.value)
		}
		if r.Remaining() != 0 {
			t.Errorf("DecodeValue(% X) left %d bytes unread", tc.wire, r.Remaining())
		}
	}
}

// Binary values are slices, so == does not apply.
func toComparable(v Value) Value {
	if _, ok := v.(Binary); ok {
		return nil
	}
	return v
}

func binaryEqual(a, b Value) bool {
	ab, ok := a.(Binary)
	if !ok {
		return false
	}
	bb, ok := b.(Binary)
	return ok && bytes.Equal(ab, bb)
}

func TestTypedValueRoundTrip(t *testing.T) {
	values := []Value{
		Null{},
		Bool(true),
		Bool(false),
		Int32(math.MinInt32),
		Int32(math.MaxInt32),
		Int32(-1),
		Uint32(math.MaxUint32),
		Int64(math.MinInt64),
		Int64(-42),
		Uint64(math.MaxUint64),
		IPv4{10, 0, 0, 7},
		IPv6(netip.MustParseAddr("2001:db8::1").As16()),
		String(""),
		String("capabilities"),
	}

	buf := spopbuf.NewBuffer(256)
	for _, v := range values {
		EncodeValue(buf, v)
	}
	r := spopbuf.NewReader(buf.Bytes())
	for _, want := range values {
		got, err := DecodeValue(r)
		if err != nil {
			t.Fatalf("DecodeValue: %v", err)
		}
		if got != want {
			t.Errorf("DecodeValue = %#v, want %#v", got, want)
		}
	}
	if r.Remaining() != 0 {
		t.Errorf("reader has %d trailing bytes", r.Remaining())
	}
}

func TestDecodeValueUnknownKind(t *testing.T) {
	for _, tag := range []byte{0x0A, 0x0F, 0x7C} {
		r := spopbuf.NewReader([]byte{tag})
		if _, err := DecodeValue(r); !errors.Is(err, ErrUnknownDataType) {
			t.Errorf("DecodeValue(tag %#x) = %v, want ErrUnknownDataType", tag, err)
		}
	}
}

func TestDecodeValueTruncated(t *testing.T) {
	cases := [][]byte{
		{},                // no tag
		{0x02},            // int32 missing varint
		{0x06, 127, 0, 0}, // ipv4 short one byte
		{0x08, 0x05, 'a'}, // string shorter than its length
		{0x09, 0xF0},      // binary with truncated length varint
	}
	for _, wire := range cases {
		r := spopbuf.NewReader(wire)
		if _, err := DecodeValue(r); !errors.Is(err, spopbuf.ErrShortBuffer) {
			t.Errorf("DecodeValue(% X) = %v, want ErrShortBuffer", wire, err)
		}
	}
}

func TestAddrValue(t *testing.T) {
	v4 := AddrValue(netip.MustParseAddr("192.0.2.1"))
	if _, ok := v4.(IPv4); !ok {
		t.Errorf("AddrValue(v4) = %T, want IPv4", v4)
	}
	v6 := AddrValue(netip.MustParseAddr("2001:db8::2"))
	if _, ok := v6.(IPv6); !ok {
		t.Errorf("AddrValue(v6) = %T, want IPv6", v6)
	}
	if got := v4.(IPv4).Addr().String(); got != "192.0.2.1" {
		t.Errorf("Addr round trip = %s, want 192.0.2.1", got)
	}
}

func TestSignedTruncation(t *testing.T) {
	// A negative int64 re-read as int32 keeps the low 32 bits, matching
	// the two's-complement varint transport.
	buf := spopbuf.NewBuffer(16)
	EncodeValue(buf, Int32(-1))
	r := spopbuf.NewReader(buf.Bytes())
	got, err := DecodeValue(r)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got != Int32(-1) {
		t.Errorf("DecodeValue = %#v, want Int32(-1)", got)
	}
}
