package spopbuf

import (
	"bytes"
	"errors"
	"testing"
)

func TestUint32BigEndian(t *testing.T) {
	buf := NewBuffer(8)
	buf.WriteUint32(0x01020304)
	if want := []byte{0x01, 0x02, 0x03, 0x04}; !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("WriteUint32 = % X, want % X", buf.Bytes(), want)
	}

	r := NewReader(buf.Bytes())
	got, err := r.ReadUint32()
	if err != nil {
		t.Fatalf("ReadUint32: %v", err)
	}
	if got != 0x01020304 {
		t.Errorf("ReadUint32 = %#x, want 0x01020304", got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	values := []string{"", "a", "supported-versions", "héllo wörld"}
	buf := NewBuffer(64)
	for _, v := range values {
		buf.WriteString(v)
	}

	r := NewReader(buf.Bytes())
	for _, want := range values {
		got, err := r.ReadString()
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if got != want {
			t.Errorf("ReadString = %q, want %q", got, want)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xFF, 0x7F}
	buf := NewBuffer(16)
	buf.WriteBytes(payload)

	r := NewReader(buf.Bytes())
	got, err := r.ReadBytes()
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadBytes = % X, want % X", got, payload)
	}
	if r.Remaining() != 0 {
		t.Errorf("reader has %d trailing bytes", r.Remaining())
	}
}

func TestReadStringShortBuffer(t *testing.T) {
	// Declared length 10 but only 3 bytes follow.
	r := NewReader([]byte{0x0A, 'a', 'b', 'c'})
	if _, err := r.ReadString(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("ReadString = %v, want ErrShortBuffer", err)
	}
}

func TestReadBytesHugeLength(t *testing.T) {
	// A length far past the buffer must fail cleanly, not allocate.
	buf := NewBuffer(16)
	buf.WriteVarint(1 << 40)
	r := NewReader(buf.Bytes())
	if _, err := r.ReadBytes(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("ReadBytes = %v, want ErrShortBuffer", err)
	}
}

func TestBufferReset(t *testing.T) {
	buf := NewBuffer(4)
	buf.WriteString("payload")
	buf.Reset()
	if buf.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", buf.Len())
	}
	buf.WriteUint8(0x42)
	if want := []byte{0x42}; !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("Bytes after Reset = % X, want % X", buf.Bytes(), want)
	}
}
