package protocol

import "strings"

// Capability is a named optional protocol feature negotiated at handshake.
type Capability string

const (
	// CapFragmentation is the ability to accept fragmented payloads in
	// received frames.
	CapFragmentation Capability = "fragmentation"
	// CapPipelining is the ability to decouple NOTIFY and ACK frames, so
	// multiple NOTIFY frames may be in flight on one connection.
	CapPipelining Capability = "pipelining"
	// CapAsync extends pipelining: an ACK may be sent on any established
	// connection between the engine and the agent, not just the one the
	// NOTIFY arrived on.
	CapAsync Capability = "async"
)

// ParseCapabilities parses the comma-separated capability list carried by
// the "capabilities" HELLO key. Unknown tokens are preserved; negotiation
// intersects them away.
func ParseCapabilities(s string) []Capability {
	var caps []Capability
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		caps = append(caps, Capability(part))
	}
	return caps
}

// FormatCapabilities renders caps as the comma-separated wire form.
func FormatCapabilities(caps []Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// IntersectCapabilities returns the capabilities present in both sets,
// preserving the order of the first.
func IntersectCapabilities(a, b []Capability) []Capability {
	have := make(map[Capability]struct{}, len(b))
	for _, c := range b {
		have[c] = struct{}{}
	}
	var out []Capability
	for _, c := range a {
		if _, ok := have[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// HasCapability reports whether caps contains c.
func HasCapability(caps []Capability, c Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}
