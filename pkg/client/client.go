// Package client implements the engine side of SPOP: it opens a connection
// to an agent, drives the HELLO handshake, and exchanges NOTIFY/ACK frames.
// It exists for integration testing and for tooling that replays traffic at
// an agent; it is not a stream-processing front-end.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/spop-protocol/spop/pkg/protocol"
)

// ErrClientClosed is returned by operations on a closed client, and is the
// failure every pending Notify observes when the connection dies.
var ErrClientClosed = errors.New("spop client: connection closed")

// DisconnectError reports that the agent terminated the connection with an
// AGENT-DISCONNECT frame.
type DisconnectError struct {
	Status  protocol.Status
	Message string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("spop client: agent disconnect: status %d: %s", e.Status, e.Message)
}

// Option configures a Client during Dial.
type Option func(*Client)

// WithMaxFrameSize sets the frame size advertised to the agent.
func WithMaxFrameSize(size uint32) Option {
	return func(c *Client) { c.maxFrameSize = size }
}

// WithCapabilities overrides the advertised capability set.
func WithCapabilities(caps ...protocol.Capability) Option {
	return func(c *Client) { c.capabilities = caps }
}

// WithEngineID sets the engine-id announced in the HELLO frame.
func WithEngineID(id string) Option {
	return func(c *Client) { c.engineID = id }
}

// unitKey correlates an ACK with the NOTIFY unit that triggered it.
type unitKey struct {
	streamID uint64
	frameID  uint64
}

type ackResult struct {
	actions []protocol.Action
	aborted bool
	err     error
}

// Client is one engine-side SPOP connection. It is safe for concurrent use;
// streams are correlated by stream-id/frame-id, so many Notify calls may be
// in flight when the agent negotiated pipelining.
type Client struct {
	sock         net.Conn
	maxFrameSize uint32
	capabilities []protocol.Capability
	engineID     string

	neg protocol.AgentHello

	// wmu serializes whole-frame writes onto the socket.
	wmu sync.Mutex

	mu       sync.Mutex
	pending  map[unitKey]chan ackResult
	reasm    map[unitKey][]protocol.Action
	closed   bool
	closeErr error

	nextStream uint64
	nextFrame  uint64
}

// Dial connects to an agent at addr ("unix:/path" or TCP host:port) and
// performs the HELLO handshake.
func Dial(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		maxFrameSize: protocol.DefaultMaxFrameSize,
		capabilities: []protocol.Capability{
			protocol.CapFragmentation,
			protocol.CapPipelining,
		},
		pending: make(map[unitKey]chan ackResult),
		reasm:   make(map[unitKey][]protocol.Action),
	}
	for _, opt := range opts {
		opt(c)
	}

	network, bind := "tcp", addr
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		network, bind = "unix", path
	}
	sock, err := net.Dial(network, bind)
	if err != nil {
		return nil, fmt.Errorf("spop client: dial %s: %w", addr, err)
	}
	c.sock = sock

	if err := c.handshake(); err != nil {
		sock.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

// handshake sends HAPROXY-HELLO and consumes the agent's reply.
func (c *Client) handshake() error {
	hello := &protocol.EngineHello{
		SupportedVersions: protocol.SupportedVersions,
		MaxFrameSize:      c.maxFrameSize,
		Capabilities:      c.capabilities,
		EngineID:          c.engineID,
	}
	if err := protocol.WriteFrame(c.sock, hello, c.maxFrameSize); err != nil {
		return err
	}

	f, err := protocol.ReadFrame(c.sock, c.maxFrameSize)
	if err != nil {
		return fmt.Errorf("spop client: read AGENT-HELLO: %w", err)
	}
	switch f := f.(type) {
	case *protocol.AgentHello:
		c.neg = *f
		if c.neg.MaxFrameSize < c.maxFrameSize {
			c.maxFrameSize = c.neg.MaxFrameSize
		}
		return nil
	case *protocol.AgentDisconnect:
		return &DisconnectError{Status: f.StatusCode, Message: f.Message}
	default:
		return fmt.Errorf("spop client: unexpected %s frame during handshake", f.FrameType())
	}
}

// Negotiated returns the agent's HELLO reply.
func (c *Client) Negotiated() protocol.AgentHello {
	return c.neg
}

// Notify sends one logical unit of messages to the agent and blocks until
// its correlated ACK arrives, returning the agent's actions. When the
// messages do not fit one frame and the agent negotiated fragmentation,
// the unit is split across frames at message boundaries.
func (c *Client) Notify(ctx context.Context, messages []protocol.Message) ([]protocol.Action, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextStream++
	c.nextFrame++
	key := unitKey{streamID: c.nextStream, frameID: c.nextFrame}
	ch := make(chan ackResult, 1)
	c.pending[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if err := c.sendNotify(key, messages); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.aborted {
			return nil, fmt.Errorf("spop client: stream %d aborted by agent", key.streamID)
		}
		return res.actions, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendNotify writes the unit as one frame, or as several fragments when it
// exceeds the negotiated frame size.
func (c *Client) sendNotify(key unitKey, messages []protocol.Message) error {
	whole := &protocol.Notify{StreamID: key.streamID, FrameID: key.frameID, Messages: messages}
	wire, err := protocol.EncodeFrame(whole, c.maxFrameSize)
	if err == nil {
		return c.writeWire(wire)
	}
	if !errors.Is(err, protocol.ErrFrameTooLarge) {
		return err
	}
	if !protocol.HasCapability(c.neg.Capabilities, protocol.CapFragmentation) {
		return err
	}
	return c.writeFragments(key, messages)
}

// writeFragments packs messages greedily into fragments, each as large as
// the negotiated frame size allows; only the final fragment carries FIN.
// The fragments go out back to back under the write lock so no other
// unit's frames interleave with the sequence.
func (c *Client) writeFragments(key unitKey, messages []protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	start := 0
	for start < len(messages) {
		var wire []byte
		final := false
		end := start + 1
		for end <= len(messages) {
			candidate := &protocol.Notify{
				Fragmented: end != len(messages),
				StreamID:   key.streamID,
				FrameID:    key.frameID,
				Messages:   messages[start:end],
			}
			w, err := protocol.EncodeFrame(candidate, c.maxFrameSize)
			if err != nil {
				if errors.Is(err, protocol.ErrFrameTooLarge) && end > start+1 {
					break
				}
				return err
			}
			wire = w
			final = end == len(messages)
			end++
		}
		if _, err := c.sock.Write(wire); err != nil {
			return fmt.Errorf("spop client: write notify fragment: %w", err)
		}
		if final {
			return nil
		}
		start = end - 1
	}
	return nil
}

func (c *Client) writeWire(wire []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.sock.Write(wire); err != nil {
		return fmt.Errorf("spop client: write frame: %w", err)
	}
	return nil
}

// readLoop delivers ACK frames to their pending Notify calls, reassembling
// fragmented ACKs at message boundaries.
func (c *Client) readLoop() {
	for {
		f, err := protocol.ReadFrame(c.sock, c.maxFrameSize)
		if err != nil {
			c.failAll(ErrClientClosed)
			return
		}
		switch f := f.(type) {
		case *protocol.Ack:
			key := unitKey{streamID: f.StreamID, frameID: f.FrameID}
			c.mu.Lock()
			if f.Fragmented {
				c.reasm[key] = append(c.reasm[key], f.Actions...)
				c.mu.Unlock()
				continue
			}
			actions := append(c.reasm[key], f.Actions...)
			delete(c.reasm, key)
			ch := c.pending[key]
			c.mu.Unlock()
			if ch != nil {
				// Non-blocking: a duplicate ACK for an already-answered
				// unit must not stall the read loop.
				select {
				case ch <- ackResult{actions: actions, aborted: f.Aborted}:
				default:
				}
			}
		case *protocol.AgentDisconnect:
			c.failAll(&DisconnectError{Status: f.StatusCode, Message: f.Message})
			return
		default:
			c.failAll(fmt.Errorf("spop client: unexpected %s frame", f.FrameType()))
			return
		}
	}
}

// failAll marks the client closed and wakes every pending Notify with err.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = err
	for key, ch := range c.pending {
		select {
		case ch <- ackResult{err: err}:
		default:
		}
		delete(c.pending, key)
	}
	c.sock.Close()
}

// Close sends a best-effort HAPROXY-DISCONNECT and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	if c.closeErr == nil {
		c.closeErr = ErrClientClosed
	}
	c.mu.Unlock()
	if alreadyClosed {
		return nil
	}

	bye := &protocol.EngineDisconnect{Disconnect: protocol.Disconnect{
		StatusCode: protocol.StatusNone,
		Message:    protocol.StatusNone.Message(),
	}}
	wire, err := protocol.EncodeFrame(bye, c.maxFrameSize)
	if err == nil {
		c.wmu.Lock()
		_, _ = c.sock.Write(wire)
		c.wmu.Unlock()
	}
	return c.sock.Close()
}

// Healthcheck opens a throwaway connection, performs a health-check HELLO
// handshake, and reports whether the agent answered with AGENT-HELLO.
func Healthcheck(addr string, opts ...Option) error {
	c := &Client{
		maxFrameSize: protocol.DefaultMaxFrameSize,
		capabilities: []protocol.Capability{},
		pending:      make(map[unitKey]chan ackResult),
		reasm:        make(map[unitKey][]protocol.Action),
	}
	for _, opt := range opts {
		opt(c)
	}

	network, bind := "tcp", addr
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		network, bind = "unix", path
	}
	sock, err := net.Dial(network, bind)
	if err != nil {
		return fmt.Errorf("spop client: dial %s: %w", addr, err)
	}
	defer sock.Close()

	hello := &protocol.EngineHello{
		SupportedVersions: protocol.SupportedVersions,
		MaxFrameSize:      c.maxFrameSize,
		Capabilities:      c.capabilities,
		Healthcheck:       true,
	}
	if err := protocol.WriteFrame(sock, hello, c.maxFrameSize); err != nil {
		return err
	}
	f, err := protocol.ReadFrame(sock, c.maxFrameSize)
	if err != nil {
		return fmt.Errorf("spop client: read healthcheck reply: %w", err)
	}
	switch f := f.(type) {
	case *protocol.AgentHello:
		return nil
	case *protocol.AgentDisconnect:
		return &DisconnectError{Status: f.StatusCode, Message: f.Message}
	default:
		return fmt.Errorf("spop client: unexpected %s frame during healthcheck", f.FrameType())
	}
}
