// Package protocol defines the SPOP wire protocol: frame types, typed data,
// actions, handshake keys, and the frame codec spoken between HAProxy and
// offload agents.
package protocol

// FrameType identifies a SPOP frame on the wire.
type FrameType uint8

// SPOP frame type constants. Engine-originated types are low numbered;
// agent-originated types start at 101.
const (
	TypeUnset            FrameType = 0
	TypeEngineHello      FrameType = 1   // HAPROXY-HELLO
	TypeEngineDisconnect FrameType = 2   // HAPROXY-DISCONNECT
	TypeNotify           FrameType = 3   // NOTIFY
	TypeAgentHello       FrameType = 101 // AGENT-HELLO
	TypeAgentDisconnect  FrameType = 102 // AGENT-DISCONNECT
	TypeAck              FrameType = 103 // ACK
)

// FrameTypeNames maps frame types to their protocol names for logging.
var FrameTypeNames = map[FrameType]string{
	TypeUnset:            "UNSET",
	TypeEngineHello:      "HAPROXY-HELLO",
	TypeEngineDisconnect: "HAPROXY-DISCONNECT",
	TypeNotify:           "NOTIFY",
	TypeAgentHello:       "AGENT-HELLO",
	TypeAgentDisconnect:  "AGENT-DISCONNECT",
	TypeAck:              "ACK",
}

// String returns the protocol name of t, or "UNKNOWN" for unassigned values.
func (t FrameType) String() string {
	if name, ok := FrameTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Flags is the 32-bit flag field carried in every frame header.
type Flags uint32

const (
	// FlagFin indicates that this frame completes the logical unit
	// (it is the final payload fragment).
	FlagFin Flags = 0x00000001
	// FlagAbort indicates that processing of the fragmented unit in
	// progress must be cancelled.
	FlagAbort Flags = 0x00000002
)

// IsFin reports whether the FIN bit is set.
func (f Flags) IsFin() bool { return f&FlagFin != 0 }

// IsAbort reports whether the ABORT bit is set.
func (f Flags) IsAbort() bool { return f&FlagAbort != 0 }

// Fragmented reports whether the frame is a non-final payload fragment.
func (f Flags) Fragmented() bool { return !f.IsFin() }
