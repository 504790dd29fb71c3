package agent

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/spop-protocol/spop/pkg/observability"
	"github.com/spop-protocol/spop/pkg/protocol"
)

// Defaults applied by New when the corresponding option is absent.
const (
	// defaultMaxInFlight bounds concurrently-open streams per connection.
	defaultMaxInFlight = 20
	// defaultMaxConnections bounds concurrently served engine connections.
	defaultMaxConnections   = 256
	defaultHandshakeTimeout = 10 * time.Second
	// defaultShutdownTimeout is how long Stop waits for connections to
	// drain before returning anyway.
	defaultShutdownTimeout = 5 * time.Second
)

// defaultCapabilities is what the agent advertises unless overridden.
var defaultCapabilities = []protocol.Capability{
	protocol.CapFragmentation,
	protocol.CapPipelining,
	protocol.CapAsync,
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger; connections derive theirs from it.
func WithLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the Prometheus collectors the server reports into.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithMaxFrameSize sets the frame size the agent advertises at handshake.
func WithMaxFrameSize(size uint32) ServerOption {
	return func(s *Server) { s.maxFrameSize = size }
}

// WithMaxInFlightStreams bounds concurrently-open streams per connection.
// A NOTIFY past the bound is connection-fatal: the peer committed to the
// limit at handshake.
func WithMaxInFlightStreams(n int) ServerOption {
	return func(s *Server) { s.maxInFlight = n }
}

// WithMaxConnections bounds concurrently served engine connections;
// connections past the bound are closed immediately.
func WithMaxConnections(n int) ServerOption {
	return func(s *Server) { s.maxConnections = n }
}

// WithHandshakeTimeout bounds how long a fresh connection may take to
// deliver its HELLO.
func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.handshakeTimeout = d }
}

// WithIdleTimeout closes a connection that stays silent for d. Zero
// disables the idle check.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.idleTimeout = d }
}

// WithCapabilities overrides the advertised capability set.
func WithCapabilities(caps ...protocol.Capability) ServerOption {
	return func(s *Server) { s.capabilities = caps }
}

// WithShutdownTimeout configures how long Stop waits for in-flight
// connections to finish before returning.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.shutdownTimeout = d }
}

// Server accepts engine connections and runs the SPOP agent protocol on
// each, dispatching completed streams to the application Handler.
type Server struct {
	handler Handler
	log     zerolog.Logger
	metrics *observability.Metrics

	maxFrameSize     uint32
	maxInFlight      int
	maxConnections   int
	handshakeTimeout time.Duration
	idleTimeout      time.Duration
	shutdownTimeout  time.Duration
	capabilities     []protocol.Capability

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}

	// sem bounds concurrently served connections; conns tracks them so
	// Stop can drain gracefully.
	sem   chan struct{}
	conns sync.WaitGroup
}

// New creates a Server dispatching to handler.
func New(handler Handler, opts ...ServerOption) *Server {
	s := &Server{
		handler:          handler,
		log:              zerolog.Nop(),
		maxFrameSize:     protocol.DefaultMaxFrameSize,
		maxInFlight:      defaultMaxInFlight,
		maxConnections:   defaultMaxConnections,
		handshakeTimeout: defaultHandshakeTimeout,
		shutdownTimeout:  defaultShutdownTimeout,
		capabilities:     defaultCapabilities,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	s.sem = make(chan struct{}, s.maxConnections)
	return s
}

// ListenAndServe binds to addr and serves until Stop is called or a fatal
// accept error occurs. An address of the form "unix:/path" binds a Unix
// socket; anything else is a TCP host:port.
func (s *Server) ListenAndServe(addr string) error {
	network, bind := "tcp", addr
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		network, bind = "unix", path
	}
	ln, err := net.Listen(network, bind)
	if err != nil {
		return fmt.Errorf("spop agent: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done
		cancel()
		ln.Close()
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("agent listening")

	for {
		sock, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil // graceful shutdown
			default:
				return fmt.Errorf("spop agent: accept: %w", err)
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn().
				Str("peer", sock.RemoteAddr().String()).
				Msg("connection limit reached, refusing")
			s.metrics.ConnectionsRejected.Inc()
			sock.Close()
			continue
		}

		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ActiveConnections.Inc()
		s.conns.Add(1)
		go func(sock net.Conn) {
			defer s.conns.Done()
			defer func() { <-s.sem }()
			defer s.metrics.ActiveConnections.Dec()
			s.serveConn(ctx, sock)
		}(sock)
	}
}

func (s *Server) serveConn(ctx context.Context, sock net.Conn) {
	log := s.log.With().Str("peer", sock.RemoteAddr().String()).Logger()
	c := &conn{
		sock:              sock,
		handler:           s.handler,
		log:               log,
		metrics:           s.metrics,
		localMaxFrameSize: s.maxFrameSize,
		handshakeTimeout:  s.handshakeTimeout,
		idleTimeout:       s.idleTimeout,
		hs:                NewHandshaker(protocol.SupportedVersions, s.maxFrameSize, s.capabilities),
		mux:               newMux(s.maxInFlight),
		out:               make(chan protocol.Frame, outboundDepth),
	}
	if err := c.serve(ctx); err != nil {
		log.Warn().Err(err).Msg("connection failed")
		return
	}
	log.Debug().Msg("connection closed")
}

// Stop shuts the server down: the listener closes, per-connection contexts
// cancel, and Stop waits up to the shutdown timeout for connections to
// drain.
func (s *Server) Stop() {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return // already stopped
	default:
		close(s.done)
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.Debug().Msg("all connections drained")
	case <-time.After(s.shutdownTimeout):
		s.log.Warn().Dur("timeout", s.shutdownTimeout).Msg("shutdown timeout exceeded")
	}
}
