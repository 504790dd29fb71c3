package protocol

import "errors"

var (
	// ErrFrameTooLarge is returned when a frame's declared or serialized
	// size exceeds the negotiated maximum frame size.
	ErrFrameTooLarge = errors.New("spop: frame exceeds maximum frame size")

	// ErrUnknownFrameType is returned for a frame type byte outside the
	// protocol's closed set.
	ErrUnknownFrameType = errors.New("spop: unknown frame type")

	// ErrUnknownDataType is returned for a typed-data tag in the
	// unused/reserved range (10-15).
	ErrUnknownDataType = errors.New("spop: unknown typed data type")

	// ErrPayloadMalformed is returned when a frame payload cannot be
	// consumed exactly to its declared length: truncated lists, trailing
	// garbage, or metadata invalid for the frame type.
	ErrPayloadMalformed = errors.New("spop: malformed frame payload")

	// ErrUnknownAction is returned for an action type byte outside the
	// protocol's action set, or an action with the wrong argument count.
	ErrUnknownAction = errors.New("spop: unknown action")
)
