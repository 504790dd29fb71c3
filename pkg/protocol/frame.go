package protocol

import (
	"errors"
	"fmt"

	"github.com/spop-protocol/spop/pkg/spopbuf"
)

// DefaultMaxFrameSize is the frame size advertised before negotiation and
// the upper bound this implementation accepts.
const DefaultMaxFrameSize = 16384

// frameLengthSize is the size of the length prefix preceding each frame.
const frameLengthSize = 4

// Metadata is the per-frame header following the type byte: flag bits plus
// the stream and frame identifiers.
type Metadata struct {
	Flags    Flags
	StreamID uint64
	FrameID  uint64
}

// Frame is one SPOP frame. The implementations form the protocol's closed
// frame set; DecodeFrame dispatches on the explicit type byte.
type Frame interface {
	FrameType() FrameType
	Metadata() Metadata
	encodePayload(b *spopbuf.Buffer)
}

// EngineHello is the HAPROXY-HELLO frame, the first frame the engine sends
// on a fresh connection.
type EngineHello struct {
	// SupportedVersions lists the SPOP versions the engine speaks.
	SupportedVersions []Version
	// MaxFrameSize is the largest frame the engine accepts.
	MaxFrameSize uint32
	// Capabilities the engine supports.
	Capabilities []Capability
	// Healthcheck is set when this HELLO belongs to a health check; the
	// connection closes right after the handshake.
	Healthcheck bool
	// EngineID uniquely identifies the SPOE engine, when provided.
	EngineID string
}

func (*EngineHello) FrameType() FrameType { return TypeEngineHello }
func (*EngineHello) Metadata() Metadata   { return Metadata{Flags: FlagFin} }

func (h *EngineHello) encodePayload(b *spopbuf.Buffer) {
	kv := KVList{
		{Key: KeySupportedVersions, Value: String(FormatVersionList(h.SupportedVersions))},
		{Key: KeyMaxFrameSize, Value: Uint32(h.MaxFrameSize)},
		{Key: KeyCapabilities, Value: String(FormatCapabilities(h.Capabilities))},
	}
	if h.Healthcheck {
		kv = append(kv, KV{Key: KeyHealthcheck, Value: Bool(true)})
	}
	if h.EngineID != "" {
		kv = append(kv, KV{Key: KeyEngineID, Value: String(h.EngineID)})
	}
	kv.encode(b)
}

// AgentHello is the AGENT-HELLO frame, the agent's reply completing the
// handshake with the negotiated version, frame size, and capabilities.
type AgentHello struct {
	Version      Version
	MaxFrameSize uint32
	Capabilities []Capability
}

func (*AgentHello) FrameType() FrameType { return TypeAgentHello }
func (*AgentHello) Metadata() Metadata   { return Metadata{Flags: FlagFin} }

func (h *AgentHello) encodePayload(b *spopbuf.Buffer) {
	KVList{
		{Key: KeyVersion, Value: String(h.Version.String())},
		{Key: KeyMaxFrameSize, Value: Uint32(h.MaxFrameSize)},
		{Key: KeyCapabilities, Value: String(FormatCapabilities(h.Capabilities))},
	}.encode(b)
}

// Disconnect carries the status code and reason either peer sends just
// before closing the connection.
type Disconnect struct {
	StatusCode Status
	Message    string
}

func (d *Disconnect) encodePayload(b *spopbuf.Buffer) {
	KVList{
		{Key: KeyStatusCode, Value: Uint32(d.StatusCode)},
		{Key: KeyMessage, Value: String(d.Message)},
	}.encode(b)
}

func (*Disconnect) Metadata() Metadata { return Metadata{Flags: FlagFin} }

// EngineDisconnect is the HAPROXY-DISCONNECT frame.
type EngineDisconnect struct{ Disconnect }

func (*EngineDisconnect) FrameType() FrameType { return TypeEngineDisconnect }

// AgentDisconnect is the AGENT-DISCONNECT frame.
type AgentDisconnect struct{ Disconnect }

func (*AgentDisconnect) FrameType() FrameType { return TypeAgentDisconnect }

// Notify is the NOTIFY frame carrying messages for the agent to process.
// One logical unit may span several NOTIFY frames: every fragment but the
// last has the FIN bit clear.
type Notify struct {
	// Fragmented marks a non-final fragment (FIN clear).
	Fragmented bool
	// Aborted cancels the fragmented unit in progress (ABORT set).
	Aborted  bool
	StreamID uint64
	FrameID  uint64
	Messages []Message
}

func (*Notify) FrameType() FrameType { return TypeNotify }

func (n *Notify) Metadata() Metadata {
	flags := FlagFin
	if n.Fragmented {
		flags = 0
	}
	if n.Aborted {
		flags |= FlagAbort
	}
	return Metadata{Flags: flags, StreamID: n.StreamID, FrameID: n.FrameID}
}

func (n *Notify) encodePayload(b *spopbuf.Buffer) {
	for i := range n.Messages {
		n.Messages[i].encode(b)
	}
}

// Ack is the ACK frame acknowledging a NOTIFY logical unit, carrying the
// actions the agent wants applied. StreamID and FrameID must echo the
// triggering NOTIFY.
type Ack struct {
	Fragmented bool
	Aborted    bool
	StreamID   uint64
	FrameID    uint64
	Actions    []Action
}

// NewAck returns an empty ACK correlated to the given stream and frame.
func NewAck(streamID, frameID uint64) *Ack {
	return &Ack{StreamID: streamID, FrameID: frameID}
}

func (*Ack) FrameType() FrameType { return TypeAck }

func (a *Ack) Metadata() Metadata {
	flags := FlagFin
	if a.Fragmented {
		flags = 0
	}
	if a.Aborted {
		flags |= FlagAbort
	}
	return Metadata{Flags: flags, StreamID: a.StreamID, FrameID: a.FrameID}
}

func (a *Ack) encodePayload(b *spopbuf.Buffer) {
	for i := range a.Actions {
		a.Actions[i].encode(b)
	}
}

// EncodeFrame serializes f as a complete wire frame, length prefix
// included. It fails with ErrFrameTooLarge when the frame body would
// exceed maxFrameSize; the caller must then fragment the logical payload
// (NOTIFY) or reject the request (HELLO/ACK never fragment on this side).
func EncodeFrame(f Frame, maxFrameSize uint32) ([]byte, error) {
	b := spopbuf.NewBuffer(256)
	b.WriteUint32(0) // length placeholder

	md := f.Metadata()
	b.WriteUint8(uint8(f.FrameType()))
	b.WriteUint32(uint32(md.Flags))
	b.WriteVarint(md.StreamID)
	b.WriteVarint(md.FrameID)
	f.encodePayload(b)

	body := uint32(b.Len() - frameLengthSize)
	if body > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes, negotiated max %d", ErrFrameTooLarge, body, maxFrameSize)
	}
	wire := b.Bytes()
	wire[0] = byte(body >> 24)
	wire[1] = byte(body >> 16)
	wire[2] = byte(body >> 8)
	wire[3] = byte(body)
	return wire, nil
}

// DecodeFrame parses one frame body (everything after the length prefix).
// The payload must be consumed exactly; leftover or missing bytes yield
// ErrPayloadMalformed.
func DecodeFrame(body []byte) (Frame, error) {
	r := spopbuf.NewReader(body)

	ty, err := r.ReadUint8()
	if err != nil {
		return nil, malformed(err)
	}
	flags, err := r.ReadUint32()
	if err != nil {
		return nil, malformed(err)
	}
	streamID, err := r.ReadVarint()
	if err != nil {
		return nil, malformed(err)
	}
	frameID, err := r.ReadVarint()
	if err != nil {
		return nil, malformed(err)
	}
	md := Metadata{Flags: Flags(flags), StreamID: streamID, FrameID: frameID}

	switch FrameType(ty) {
	case TypeEngineHello:
		if err := wantControlIDs(md); err != nil {
			return nil, err
		}
		return decodeEngineHello(r)
	case TypeAgentHello:
		if err := wantControlIDs(md); err != nil {
			return nil, err
		}
		return decodeAgentHello(r)
	case TypeEngineDisconnect:
		if err := wantControlIDs(md); err != nil {
			return nil, err
		}
		d, err := decodeDisconnect(r)
		if err != nil {
			return nil, err
		}
		return &EngineDisconnect{Disconnect: d}, nil
	case TypeAgentDisconnect:
		if err := wantControlIDs(md); err != nil {
			return nil, err
		}
		d, err := decodeDisconnect(r)
		if err != nil {
			return nil, err
		}
		return &AgentDisconnect{Disconnect: d}, nil
	case TypeNotify:
		if md.FrameID == 0 {
			return nil, fmt.Errorf("%w: NOTIFY with frame-id 0", ErrPayloadMalformed)
		}
		msgs, err := decodeMessages(r)
		if err != nil {
			return nil, malformed(err)
		}
		return &Notify{
			Fragmented: md.Flags.Fragmented(),
			Aborted:    md.Flags.IsAbort(),
			StreamID:   md.StreamID,
			FrameID:    md.FrameID,
			Messages:   msgs,
		}, nil
	case TypeAck:
		if md.FrameID == 0 {
			return nil, fmt.Errorf("%w: ACK with frame-id 0", ErrPayloadMalformed)
		}
		actions, err := decodeActions(r)
		if err != nil {
			return nil, malformed(err)
		}
		return &Ack{
			Fragmented: md.Flags.Fragmented(),
			Aborted:    md.Flags.IsAbort(),
			StreamID:   md.StreamID,
			FrameID:    md.FrameID,
			Actions:    actions,
		}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFrameType, ty)
	}
}

// wantControlIDs enforces the rule that HELLO and DISCONNECT frames carry
// stream-id 0 and frame-id 0.
func wantControlIDs(md Metadata) error {
	if md.StreamID != 0 || md.FrameID != 0 {
		return fmt.Errorf("%w: control frame with stream-id %d frame-id %d",
			ErrPayloadMalformed, md.StreamID, md.FrameID)
	}
	return nil
}

func malformed(err error) error {
	if errors.Is(err, ErrPayloadMalformed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
}

func decodeEngineHello(r *spopbuf.Reader) (*EngineHello, error) {
	kv, err := decodeKVList(r)
	if err != nil {
		return nil, malformed(err)
	}
	hello := &EngineHello{}

	versions, ok := kv.String(KeySupportedVersions)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, StatusNoVersion)
	}
	if hello.SupportedVersions, err = ParseVersionList(versions); err != nil {
		return nil, malformed(err)
	}

	size, ok := kv.Uint(KeyMaxFrameSize)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, StatusNoFrameSize)
	}
	hello.MaxFrameSize = uint32(size)

	caps, ok := kv.String(KeyCapabilities)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, StatusNoCapabilities)
	}
	hello.Capabilities = ParseCapabilities(caps)

	hello.Healthcheck, _ = kv.Bool(KeyHealthcheck)
	hello.EngineID, _ = kv.String(KeyEngineID)
	return hello, nil
}

func decodeAgentHello(r *spopbuf.Reader) (*AgentHello, error) {
	kv, err := decodeKVList(r)
	if err != nil {
		return nil, malformed(err)
	}
	hello := &AgentHello{}

	version, ok := kv.String(KeyVersion)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, StatusNoVersion)
	}
	if hello.Version, err = ParseVersion(version); err != nil {
		return nil, malformed(err)
	}

	size, ok := kv.Uint(KeyMaxFrameSize)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, StatusNoFrameSize)
	}
	hello.MaxFrameSize = uint32(size)

	caps, ok := kv.String(KeyCapabilities)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, StatusNoCapabilities)
	}
	hello.Capabilities = ParseCapabilities(caps)
	return hello, nil
}

func decodeDisconnect(r *spopbuf.Reader) (Disconnect, error) {
	kv, err := decodeKVList(r)
	if err != nil {
		return Disconnect{}, malformed(err)
	}
	code, _ := kv.Uint(KeyStatusCode)
	msg, _ := kv.String(KeyMessage)
	return Disconnect{StatusCode: Status(code), Message: msg}, nil
}
