package agent

import "errors"

var (
	// ErrTooManyStreams is returned when a NOTIFY would push the number
	// of in-flight streams past the negotiated limit. The peer is
	// expected to honor the limit, so this is connection-fatal.
	ErrTooManyStreams = errors.New("spop agent: in-flight stream limit exceeded")

	// ErrProtocolViolation covers frames that are illegal in the current
	// connection state: a non-HELLO first frame, agent-side frame types
	// arriving from the engine, or NOTIFY before the handshake completed.
	ErrProtocolViolation = errors.New("spop agent: protocol violation")
)
