package spopbuf

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

// Wire vectors from the HAProxy variable-length integer encoding.
var varintVectors = []struct {
	value uint64
	wire  []byte
}{
	{0, []byte{0x00}},
	{1, []byte{0x01}},
	{239, []byte{0xEF}},
	{240, []byte{0xF0, 0x00}},
	{2287, []byte{0xFF, 0x7F}},
	{2288, []byte{0xF0, 0x80, 0x00}},
	{16384, []byte{0xF0, 0xF1, 0x06}},
	{math.MaxUint32, []byte{0xFF, 0xF0, 0xFE, 0xFE, 0x7E}},
	{math.MaxUint64, []byte{0xFF, 0xF0, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0x0E}},
}

func TestVarintVectors(t *testing.T) {
	for _, tc := range varintVectors {
		buf := NewBuffer(16)
		buf.WriteVarint(tc.value)
		if !bytes.Equal(buf.Bytes(), tc.wire) {
			t.Errorf("WriteVarint(%d) = % X, want % X", tc.value, buf.Bytes(), tc.wire)
		}
		if got := VarintLen(tc.value); got != len(tc.wire) {
			t.Errorf("VarintLen(%d) = %d, want %d", tc.value, got, len(tc.wire))
		}

		r := NewReader(tc.wire)
		got, err := r.ReadVarint()
		if err != nil {
			t.Fatalf("ReadVarint(% X): %v", tc.wire, err)
		}
		if got != tc.value {
			t.Errorf("ReadVarint(% X) = %d, want %d", tc.wire, got, tc.value)
		}
		if r.Remaining() != 0 {
			t.Errorf("ReadVarint(% X) left %d bytes unread", tc.wire, r.Remaining())
		}
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 239, 240, 241, 1000, 2287, 2288,
		1 << 20, 1 << 32, 1 << 48, math.MaxUint64 - 1, math.MaxUint64}

	buf := NewBuffer(64)
	for _, v := range values {
		buf.WriteVarint(v)
	}
	r := NewReader(buf.Bytes())
	for _, want := range values {
		got, err := r.ReadVarint()
		if err != nil {
			t.Fatalf("ReadVarint: %v", err)
		}
		if got != want {
			t.Errorf("ReadVarint = %d, want %d", got, want)
		}
	}
	if r.Remaining() != 0 {
		t.Errorf("reader has %d trailing bytes", r.Remaining())
	}
}

func TestVarintTruncated(t *testing.T) {
	buf := NewBuffer(16)
	buf.WriteVarint(math.MaxUint64)
	wire := buf.Bytes()

	for n := 0; n < len(wire); n++ {
		r := NewReader(wire[:n])
		if _, err := r.ReadVarint(); !errors.Is(err, ErrShortBuffer) {
			t.Errorf("ReadVarint on %d-byte prefix: err = %v, want ErrShortBuffer", n, err)
		}
	}
}

func TestVarintOverflow(t *testing.T) {
	// One continuation byte beyond what a uint64 can hold.
	wire := []byte{0xFF, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0x0E}
	r := NewReader(wire)
	if _, err := r.ReadVarint(); !errors.Is(err, ErrVarintOverflow) {
		t.Errorf("ReadVarint = %v, want ErrVarintOverflow", err)
	}
}

func FuzzVarintRoundTrip(f *testing.F) {
	for _, tc := range varintVectors {
		f.Add(tc.value)
	}
	f.Fuzz(func(t *testing.T, v uint64) {
		buf := NewBuffer(16)
		buf.WriteVarint(v)
		r := NewReader(buf.Bytes())
		got, err := r.ReadVarint()
		if err != nil {
			t.Fatalf("ReadVarint: %v", err)
		}
		if got != v {
			t.Fatalf("round trip = %d, want %d", got, v)
		}
		if r.Remaining() != 0 {
			t.Fatalf("%d trailing bytes after decode", r.Remaining())
		}
	})
}

func BenchmarkWriteVarint(b *testing.B) {
	buf := NewBuffer(16)
	for i := 0; i < b.N; i++ {
		buf.Reset()
		buf.WriteVarint(uint64(i) * 2654435761)
	}
}
