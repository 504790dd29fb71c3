package agent

import (
	"fmt"
	"sort"

	"github.com/spop-protocol/spop/pkg/protocol"
)

// HandshakeState tracks the HELLO exchange on the agent side. The state
// machine is driven by discrete events so timeout and cancellation behavior
// is testable without a live socket.
type HandshakeState int

const (
	// StateAwaitHello: fresh connection, no frame seen yet. The first
	// frame must be HAPROXY-HELLO.
	StateAwaitHello HandshakeState = iota
	// StateNegotiating: HELLO received, computing the effective
	// version/frame-size/capability set.
	StateNegotiating
	// StateReady: AGENT-HELLO sent; NOTIFY/ACK may now flow.
	StateReady
	// StateRejected: terminal failure; an AGENT-DISCONNECT carrying the
	// status code has been (or is about to be) sent.
	StateRejected
)

func (s HandshakeState) String() string {
	switch s {
	case StateAwaitHello:
		return "await-hello"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handshaker holds the local side of the HELLO negotiation and the result
// once it completes.
type Handshaker struct {
	state HandshakeState

	// Local advertisement.
	supportedVersions []protocol.Version
	maxFrameSize      uint32
	capabilities      []protocol.Capability

	// Negotiated outcome, valid once state == StateReady.
	negotiated Negotiated
}

// Negotiated is the effective handshake outcome a connection operates
// under: highest common version, min of both max-frame-sizes, and the
// capability intersection.
type Negotiated struct {
	Version      protocol.Version
	MaxFrameSize uint32
	Capabilities []protocol.Capability
	EngineID     string
	Healthcheck  bool
}

// HasCapability reports whether c survived negotiation.
func (n *Negotiated) HasCapability(c protocol.Capability) bool {
	return protocol.HasCapability(n.Capabilities, c)
}

// NewHandshaker returns a Handshaker advertising the given local limits.
func NewHandshaker(versions []protocol.Version, maxFrameSize uint32, caps []protocol.Capability) *Handshaker {
	return &Handshaker{
		state:             StateAwaitHello,
		supportedVersions: versions,
		maxFrameSize:      maxFrameSize,
		capabilities:      caps,
	}
}

// State returns the current handshake state.
func (h *Handshaker) State() HandshakeState { return h.state }

// Negotiated returns the handshake outcome. Only meaningful in StateReady.
func (h *Handshaker) Negotiated() Negotiated { return h.negotiated }

// OnHello consumes the engine's HELLO and computes the negotiated values,
// returning the AGENT-HELLO reply. On failure it returns the SPOP status
// the agent must report in its AGENT-DISCONNECT, and the handshake moves
// to StateRejected.
func (h *Handshaker) OnHello(hello *protocol.EngineHello) (*protocol.AgentHello, error) {
	if h.state != StateAwaitHello {
		return nil, fmt.Errorf("spop agent: HELLO in state %s: %w", h.state, protocol.StatusInvalid)
	}
	h.state = StateNegotiating

	version, ok := highestCommonVersion(h.supportedVersions, hello.SupportedVersions)
	if !ok {
		h.state = StateRejected
		return nil, protocol.StatusNoVersion
	}
	if hello.MaxFrameSize == 0 {
		h.state = StateRejected
		return nil, protocol.StatusBadFrameSize
	}

	h.negotiated = Negotiated{
		Version:      version,
		MaxFrameSize: min(hello.MaxFrameSize, h.maxFrameSize),
		Capabilities: protocol.IntersectCapabilities(h.capabilities, hello.Capabilities),
		EngineID:     hello.EngineID,
		Healthcheck:  hello.Healthcheck,
	}
	h.state = StateReady

	return &protocol.AgentHello{
		Version:      h.negotiated.Version,
		MaxFrameSize: h.negotiated.MaxFrameSize,
		Capabilities: h.negotiated.Capabilities,
	}, nil
}

// highestCommonVersion returns the largest version present in both lists.
func highestCommonVersion(local, peer []protocol.Version) (protocol.Version, bool) {
	common := make([]protocol.Version, 0, len(peer))
	for _, pv := range peer {
		for _, lv := range local {
			if pv == lv {
				common = append(common, pv)
			}
		}
	}
	if len(common) == 0 {
		return protocol.Version{}, false
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Less(common[j]) })
	return common[len(common)-1], true
}
