package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

// encodeBody encodes f and strips the length prefix, leaving what
// DecodeFrame consumes.
func encodeBody(t *testing.T, f Frame) []byte {
	t.Helper()
	wire, err := EncodeFrame(f, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("EncodeFrame(%s): %v", f.FrameType(), err)
	}
	return wire[4:]
}

func TestEngineHelloRoundTrip(t *testing.T) {
	in := &EngineHello{
		SupportedVersions: []Version{V20},
		MaxFrameSize:      16384,
		Capabilities:      []Capability{CapPipelining, CapAsync},
		EngineID:          "engine-7f2a",
	}
	out, err := DecodeFrame(encodeBody(t, in))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	got, ok := out.(*EngineHello)
	if !ok {
		t.Fatalf("DecodeFrame = %T, want *EngineHello", out)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("round trip = %+v, want %+v", got, in)
	}
}

func TestEngineHelloHealthcheck(t *testing.T) {
	in := &EngineHello{
		SupportedVersions: []Version{V20},
		MaxFrameSize:      1024,
		Capabilities:      nil,
		Healthcheck:       true,
	}
	out, err := DecodeFrame(encodeBody(t, in))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !out.(*EngineHello).Healthcheck {
		t.Error("Healthcheck flag lost in round trip")
	}
}

func TestAgentHelloRoundTrip(t *testing.T) {
	in := &AgentHello{
		Version:      V20,
		MaxFrameSize: 4096,
		Capabilities: []Capability{CapFragmentation},
	}
	out, err := DecodeFrame(encodeBody(t, in))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestDisconnectRoundTrip(t *testing.T) {
	in := &AgentDisconnect{Disconnect{
		StatusCode: StatusTooBig,
		Message:    StatusTooBig.Message(),
	}}
	out, err := DecodeFrame(encodeBody(t, in))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestNotifyRoundTrip(t *testing.T) {
	in := &Notify{
		StreamID: 3,
		FrameID:  9,
		Messages: []Message{
			{
				Name: "check-client-ip",
				Args: KVList{
					{Key: "ip", Value: IPv4{192, 0, 2, 9}},
					{Key: "port", Value: Uint32(443)},
				},
			},
			{Name: "log-request", Args: nil},
		},
	}
	out, err := DecodeFrame(encodeBody(t, in))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	got, ok := out.(*Notify)
	if !ok {
		t.Fatalf("DecodeFrame = %T, want *Notify", out)
	}
	if got.StreamID != 3 || got.FrameID != 9 {
		t.Errorf("ids = %d/%d, want 3/9", got.StreamID, got.FrameID)
	}
	if got.Fragmented {
		t.Error("unfragmented NOTIFY decoded as fragmented")
	}
	if !reflect.DeepEqual(got.Messages, in.Messages) {
		t.Errorf("messages = %+v, want %+v", got.Messages, in.Messages)
	}
}

func TestNotifyFragmentFlag(t *testing.T) {
	in := &Notify{Fragmented: true, StreamID: 1, FrameID: 1,
		Messages: []Message{{Name: "part"}}}
	out, err := DecodeFrame(encodeBody(t, in))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !out.(*Notify).Fragmented {
		t.Error("FIN-clear NOTIFY decoded as final")
	}
}

func TestAckRoundTrip(t *testing.T) {
	in := NewAck(5, 12)
	in.Actions = []Action{
		SetVar(ScopeTransaction, "verdict", String("deny")),
		UnsetVar(ScopeSession, "score"),
	}
	out, err := DecodeFrame(encodeBody(t, in))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	got, ok := out.(*Ack)
	if !ok {
		t.Fatalf("DecodeFrame = %T, want *Ack", out)
	}
	if got.StreamID != 5 || got.FrameID != 12 {
		t.Errorf("ids = %d/%d, want 5/12", got.StreamID, got.FrameID)
	}
	if !reflect.DeepEqual(got.Actions, in.Actions) {
		t.Errorf("actions = %+v, want %+v", got.Actions, in.Actions)
	}
}

func TestControlFrameWithStreamIDs(t *testing.T) {
	// A HELLO body with stream-id 1 violates the control-frame rule.
	body := encodeBody(t, &EngineHello{
		SupportedVersions: []Version{V20},
		MaxFrameSize:      16384,
	})
	// type(1) flags(4), then the stream-id varint.
	body[5] = 0x01
	if _, err := DecodeFrame(body); !errors.Is(err, ErrPayloadMalformed) {
		t.Errorf("DecodeFrame = %v, want ErrPayloadMalformed", err)
	}
}

func TestNotifyFrameIDZero(t *testing.T) {
	body := encodeBody(t, &Notify{StreamID: 1, FrameID: 1,
		Messages: []Message{{Name: "m"}}})
	body[6] = 0x00 // frame-id varint follows type, flags, stream-id
	if _, err := DecodeFrame(body); !errors.Is(err, ErrPayloadMalformed) {
		t.Errorf("DecodeFrame = %v, want ErrPayloadMalformed", err)
	}
}

func TestDecodeFrameUnknownType(t *testing.T) {
	body := encodeBody(t, &Notify{StreamID: 1, FrameID: 1,
		Messages: []Message{{Name: "m"}}})
	body[0] = 0x42
	if _, err := DecodeFrame(body); !errors.Is(err, ErrUnknownFrameType) {
		t.Errorf("DecodeFrame = %v, want ErrUnknownFrameType", err)
	}
}

// Every strict prefix of a HELLO body must fail cleanly: with all three
// mandatory keys required, no truncation point leaves a valid frame.
func TestDecodeHelloTruncated(t *testing.T) {
	frames := []Frame{
		&EngineHello{SupportedVersions: []Version{V20}, MaxFrameSize: 16384,
			Capabilities: []Capability{CapPipelining}},
		&AgentHello{Version: V20, MaxFrameSize: 16384,
			Capabilities: []Capability{CapPipelining}},
	}
	for _, f := range frames {
		body := encodeBody(t, f)
		for n := 0; n < len(body); n++ {
			if _, err := DecodeFrame(body[:n]); err == nil {
				t.Errorf("%s: DecodeFrame on %d/%d bytes succeeded",
					f.FrameType(), n, len(body))
			}
		}
	}
}

// A NOTIFY or ACK cut mid-element must fail; a cut at the list boundary
// (the bare header) is a legal empty frame and decodes.
func TestDecodePayloadTruncatedMidElement(t *testing.T) {
	frames := []Frame{
		&Notify{StreamID: 1, FrameID: 1, Messages: []Message{
			{Name: "msg", Args: KVList{{Key: "k", Value: String("v")}}}}},
		func() Frame {
			a := NewAck(1, 1)
			a.Actions = []Action{SetVar(ScopeRequest, "n", Int64(-5))}
			return a
		}(),
	}
	const header = 7 // type, flags, stream-id, frame-id
	for _, f := range frames {
		body := encodeBody(t, f)
		if _, err := DecodeFrame(body[:header]); err != nil {
			t.Errorf("%s: empty payload rejected: %v", f.FrameType(), err)
		}
		for n := header + 1; n < len(body); n++ {
			if _, err := DecodeFrame(body[:n]); !errors.Is(err, ErrPayloadMalformed) {
				t.Errorf("%s: DecodeFrame on %d/%d bytes = %v, want ErrPayloadMalformed",
					f.FrameType(), n, len(body), err)
			}
		}
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	big := &Notify{StreamID: 1, FrameID: 1, Messages: []Message{{
		Name: "blob",
		Args: KVList{{Key: "data", Value: Binary(make([]byte, 4096))}},
	}}}
	if _, err := EncodeFrame(big, 1024); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("EncodeFrame = %v, want ErrFrameTooLarge", err)
	}
	if _, err := EncodeFrame(big, 16384); err != nil {
		t.Errorf("EncodeFrame under the limit: %v", err)
	}
}

func TestReadWriteFrame(t *testing.T) {
	var sock bytes.Buffer
	in := &Notify{StreamID: 2, FrameID: 4,
		Messages: []Message{{Name: "ping"}}}
	if err := WriteFrame(&sock, in, DefaultMaxFrameSize); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	out, err := ReadFrame(&sock, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got := out.(*Notify); got.StreamID != 2 || got.FrameID != 4 {
		t.Errorf("ids = %d/%d, want 2/4", got.StreamID, got.FrameID)
	}

	// The stream is drained; the next read reports clean EOF.
	if _, err := ReadFrame(&sock, DefaultMaxFrameSize); err != io.EOF {
		t.Errorf("ReadFrame on empty stream = %v, want io.EOF", err)
	}
}

func TestReadFrameOversizedLength(t *testing.T) {
	// Length prefix far past the negotiated max: reject before reading
	// the body.
	var sock bytes.Buffer
	sock.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadFrame(&sock, DefaultMaxFrameSize); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadFrame = %v, want ErrFrameTooLarge", err)
	}
}

func BenchmarkEncodeNotify(b *testing.B) {
	f := &Notify{StreamID: 1, FrameID: 1, Messages: []Message{{
		Name: "check-client-ip",
		Args: KVList{
			{Key: "ip", Value: IPv4{192, 0, 2, 9}},
			{Key: "port", Value: Uint32(443)},
		},
	}}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := EncodeFrame(f, DefaultMaxFrameSize); err != nil {
			b.Fatal(err)
		}
	}
}

func TestVersionListFormat(t *testing.T) {
	got := FormatVersionList([]Version{V20})
	if got != "2.0" {
		t.Errorf("FormatVersionList = %q, want %q", got, "2.0")
	}
	parsed, err := ParseVersionList("1.0, 2.0")
	if err != nil {
		t.Fatalf("ParseVersionList: %v", err)
	}
	if len(parsed) != 2 || parsed[1] != V20 {
		t.Errorf("ParseVersionList = %v", parsed)
	}
}

func TestCapabilitiesFormat(t *testing.T) {
	caps := ParseCapabilities("pipelining, async")
	if len(caps) != 2 || caps[0] != CapPipelining || caps[1] != CapAsync {
		t.Errorf("ParseCapabilities = %v", caps)
	}
	common := IntersectCapabilities(
		[]Capability{CapFragmentation, CapPipelining},
		[]Capability{CapPipelining, CapAsync},
	)
	if len(common) != 1 || common[0] != CapPipelining {
		t.Errorf("IntersectCapabilities = %v", common)
	}
}
