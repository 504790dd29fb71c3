package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spop-protocol/spop/pkg/observability"
	"github.com/spop-protocol/spop/pkg/protocol"
)

// errEngineClosed marks a graceful HAPROXY-DISCONNECT, as opposed to a
// protocol or I/O failure.
var errEngineClosed = errors.New("spop agent: engine closed the connection")

// outboundDepth is the buffer of the single-writer frame channel. Dispatch
// goroutines block (with cancellation) once it fills, which is the
// backpressure point between processing and the socket.
const outboundDepth = 32

var tracer = otel.Tracer("github.com/spop-protocol/spop/pkg/agent")

// conn supervises one engine connection: handshake first, then a read loop
// feeding the multiplexer and a write loop draining the outbound channel.
type conn struct {
	sock    net.Conn
	handler Handler
	log     zerolog.Logger
	metrics *observability.Metrics

	localMaxFrameSize uint32
	handshakeTimeout  time.Duration
	idleTimeout       time.Duration

	hs  *Handshaker
	neg Negotiated
	mux *mux

	// out is the single ordered path to the socket. Everything that
	// wants to send a frame after the handshake goes through it.
	out chan protocol.Frame

	dispatches sync.WaitGroup
}

// serve drives the connection to completion. It returns nil for graceful
// shutdown (engine disconnect, healthcheck, or server stop) and the fatal
// error otherwise.
func (c *conn) serve(parent context.Context) error {
	defer c.sock.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Server shutdown must unblock a read parked in ReadFrame; closing
	// the socket is the only thing that does. Watch the parent, not the
	// derived context: teardown below cancels the latter and still needs
	// the socket for the farewell frame.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-parent.Done():
			c.sock.Close()
		case <-stopped:
		}
	}()

	if err := c.handshake(); err != nil {
		c.log.Debug().Err(err).Msg("handshake failed")
		return err
	}
	if c.neg.Healthcheck {
		c.log.Debug().Msg("healthcheck handshake, closing")
		return nil
	}
	c.log.Debug().
		Str("version", c.neg.Version.String()).
		Uint32("max_frame_size", c.neg.MaxFrameSize).
		Str("engine_id", c.neg.EngineID).
		Msg("handshake complete")

	writeDone := make(chan error, 1)
	go func() { writeDone <- c.writeLoop(ctx) }()

	rdErr := c.readLoop(ctx)

	// Teardown: stop accepting work, cancel pending dispatches, drain
	// the write loop, then report the failure to the peer if we still
	// can. Open streams are never ACKed past this point.
	cancel()
	c.dispatches.Wait()
	c.mux.abortAll()
	writeErr := <-writeDone

	switch {
	case errors.Is(rdErr, errEngineClosed):
		c.sendFinalDisconnect(protocol.StatusNone)
		return nil
	case rdErr != nil && writeErr == nil:
		c.sendFinalDisconnect(statusFor(rdErr))
		return rdErr
	case writeErr != nil:
		// The socket is not trustworthy anymore; no farewell frame.
		return writeErr
	default:
		return rdErr
	}
}

// handshake runs the HELLO exchange. The negotiator owns the state
// machine; this method only moves frames. Replies with AGENT-DISCONNECT on
// negotiation failure. A first frame that is not HAPROXY-HELLO is a fatal
// violation answered by closing the connection without any reply.
func (c *conn) handshake() error {
	if c.handshakeTimeout > 0 {
		if err := c.sock.SetReadDeadline(time.Now().Add(c.handshakeTimeout)); err != nil {
			return fmt.Errorf("spop agent: set handshake deadline: %w", err)
		}
	}

	f, err := protocol.ReadFrame(c.sock, c.localMaxFrameSize)
	if err != nil {
		return fmt.Errorf("spop agent: read HELLO: %w", err)
	}
	hello, ok := f.(*protocol.EngineHello)
	if !ok {
		return fmt.Errorf("%w: first frame is %s, want HAPROXY-HELLO",
			ErrProtocolViolation, f.FrameType())
	}

	reply, err := c.hs.OnHello(hello)
	if err != nil {
		status := statusFor(err)
		c.sendFinalDisconnect(status)
		return fmt.Errorf("spop agent: negotiation: %w", err)
	}
	c.neg = c.hs.Negotiated()

	if err := protocol.WriteFrame(c.sock, reply, c.localMaxFrameSize); err != nil {
		return err
	}
	return c.sock.SetReadDeadline(time.Time{})
}

// readLoop decodes frames until the connection dies or the engine says
// goodbye, feeding NOTIFY frames to the multiplexer.
func (c *conn) readLoop(ctx context.Context) error {
	for {
		if c.idleTimeout > 0 {
			if err := c.sock.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
				return fmt.Errorf("spop agent: set idle deadline: %w", err)
			}
		}
		f, err := protocol.ReadFrame(c.sock, c.neg.MaxFrameSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("spop agent: %w", io.ErrUnexpectedEOF)
			}
			return err
		}
		c.metrics.FramesTotal.WithLabelValues(f.FrameType().String()).Inc()

		switch f := f.(type) {
		case *protocol.Notify:
			u, err := c.mux.onNotify(f, &c.neg)
			if err != nil {
				return err
			}
			if u != nil {
				c.dispatch(ctx, u)
			}
		case *protocol.EngineDisconnect:
			c.log.Debug().
				Uint32("status_code", uint32(f.StatusCode)).
				Str("message", f.Message).
				Msg("engine disconnect")
			return errEngineClosed
		default:
			return fmt.Errorf("%w: unexpected %s frame from engine",
				ErrProtocolViolation, f.FrameType())
		}
	}
}

// writeLoop is the connection's single writer: every outbound frame after
// the handshake flows through c.out, so partial writes never interleave.
//
// An ACK whose action list exceeds the negotiated frame size fails in
// EncodeFrame with no byte written; the socket is still healthy, so only
// that request is rejected: its stream gets an empty ACK instead.
func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case f := <-c.out:
			wire, err := protocol.EncodeFrame(f, c.neg.MaxFrameSize)
			if err != nil {
				ack, isAck := f.(*protocol.Ack)
				if !errors.Is(err, protocol.ErrFrameTooLarge) || !isAck {
					c.sock.Close()
					return err
				}
				c.log.Warn().Err(err).
					Uint64("stream_id", ack.StreamID).
					Msg("ack exceeds negotiated frame size, sending empty ack")
				if wire, err = protocol.EncodeFrame(protocol.NewAck(ack.StreamID, ack.FrameID), c.neg.MaxFrameSize); err != nil {
					c.sock.Close()
					return err
				}
			}
			if _, err := c.sock.Write(wire); err != nil {
				// Unblock the read loop.
				c.sock.Close()
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch hands a completed unit to the application handler on its own
// goroutine. Streams complete independently; each queues exactly one ACK
// echoing its own stream-id/frame-id.
func (c *conn) dispatch(ctx context.Context, u *unit) {
	c.metrics.OpenStreams.Inc()
	c.dispatches.Add(1)
	go func() {
		defer c.dispatches.Done()
		defer c.metrics.OpenStreams.Dec()
		defer c.mux.completed(u.key.streamID)

		ctx, span := tracer.Start(ctx, "spop.dispatch", trace.WithAttributes(
			attribute.Int64("spop.stream_id", int64(u.key.streamID)),
			attribute.Int64("spop.frame_id", int64(u.key.frameID)),
			attribute.Int("spop.messages", len(u.messages)),
		))
		defer span.End()

		w := &AckWriter{}
		if err := c.handler.HandleNotify(ctx, u.messages, w); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Fail open: the stream still gets its ACK, with no actions.
			c.log.Warn().Err(err).
				Uint64("stream_id", u.key.streamID).
				Msg("handler failed, sending empty ack")
			c.metrics.HandlerErrors.Inc()
			span.RecordError(err)
			w = &AckWriter{}
		}

		ack := protocol.NewAck(u.key.streamID, u.key.frameID)
		ack.Actions = w.Actions()
		select {
		case c.out <- ack:
			c.metrics.AcksTotal.Inc()
		case <-ctx.Done():
		}
	}()
}

// sendFinalDisconnect writes an AGENT-DISCONNECT straight to the socket,
// best effort, bypassing the (already stopped) write loop.
func (c *conn) sendFinalDisconnect(status protocol.Status) {
	_ = c.sock.SetWriteDeadline(time.Now().Add(time.Second))
	frame := &protocol.AgentDisconnect{Disconnect: protocol.Disconnect{
		StatusCode: status,
		Message:    status.Message(),
	}}
	_ = protocol.WriteFrame(c.sock, frame, c.localMaxFrameSize)
}

// statusFor maps an error to the SPOP status code reported in the final
// AGENT-DISCONNECT.
func statusFor(err error) protocol.Status {
	var status protocol.Status
	if errors.As(err, &status) {
		return status
	}
	var netErr net.Error
	switch {
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return protocol.StatusTooBig
	case errors.Is(err, ErrTooManyStreams):
		return protocol.StatusResource
	case errors.As(err, &netErr) && netErr.Timeout():
		return protocol.StatusTimeout
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return protocol.StatusIO
	default:
		return protocol.StatusInvalid
	}
}
