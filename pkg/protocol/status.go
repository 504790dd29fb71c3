package protocol

// Status is a SPOP status code, carried in the "status-code" key of
// DISCONNECT frames.
type Status uint32

// SPOP status codes, as assigned by the upstream protocol specification.
const (
	StatusNone            Status = 0  // normal
	StatusIO              Status = 1  // I/O error
	StatusTimeout         Status = 2  // a timeout occurred
	StatusTooBig          Status = 3  // frame is too big
	StatusInvalid         Status = 4  // invalid frame received
	StatusNoVersion       Status = 5  // version value not found
	StatusNoFrameSize     Status = 6  // max-frame-size value not found
	StatusNoCapabilities  Status = 7  // capabilities value not found
	StatusBadVersion      Status = 8  // unsupported version
	StatusBadFrameSize    Status = 9  // max-frame-size too big or too small
	StatusFragNotSupport  Status = 10 // fragmentation not supported
	StatusInterlacedFrame Status = 11 // invalid interlaced frames
	StatusFrameIDNotFound Status = 12 // frame-id not found
	StatusResource        Status = 13 // resource allocation error
	StatusUnknown         Status = 99 // an unknown error occurred
)

var statusMessages = map[Status]string{
	StatusNone:            "normal",
	StatusIO:              "I/O error",
	StatusTimeout:         "a timeout occurred",
	StatusTooBig:          "frame is too big",
	StatusInvalid:         "invalid frame received",
	StatusNoVersion:       "version value not found",
	StatusNoFrameSize:     "max-frame-size value not found",
	StatusNoCapabilities:  "capabilities value not found",
	StatusBadVersion:      "unsupported version",
	StatusBadFrameSize:    "max-frame-size too big or too small",
	StatusFragNotSupport:  "fragmentation not supported",
	StatusInterlacedFrame: "invalid interlaced frames",
	StatusFrameIDNotFound: "frame-id not found",
	StatusResource:        "resource allocation error",
	StatusUnknown:         "an unknown error occurred",
}

// Message returns the human-readable text for s, suitable for the "message"
// key of a DISCONNECT frame.
func (s Status) Message() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return statusMessages[StatusUnknown]
}

// Error makes Status usable as an error value on negotiation failure paths.
func (s Status) Error() string {
	return "spop: " + s.Message()
}
