// Package config loads agent configuration from a YAML file, filling in
// defaults for anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spop-protocol/spop/pkg/protocol"
)

const (
	// DefaultBind is the default agent listen address.
	DefaultBind = "127.0.0.1:12345"

	// DefaultMaxConnections caps concurrently served engine connections.
	DefaultMaxConnections = 256

	// DefaultMaxInFlight caps un-acknowledged streams per connection.
	DefaultMaxInFlight = 20

	// DefaultHandshakeTimeout bounds the wait for HAPROXY-HELLO.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultIdleTimeout bounds the wait between frames on an idle
	// connection. Zero disables the idle deadline.
	DefaultIdleTimeout = 0
)

// Config is the agent configuration as read from YAML.
type Config struct {
	// Bind is the listen address: host:port, or "unix:/path" for a
	// unix domain socket.
	Bind string `yaml:"bind"`

	// MaxConnections caps concurrently served engine connections.
	MaxConnections int `yaml:"max_connections"`

	// MaxFrameSize is the frame size advertised during the handshake.
	MaxFrameSize uint32 `yaml:"max_frame_size"`

	// MaxInFlight caps un-acknowledged streams per connection. A stream
	// past the cap is a protocol error and tears the connection down.
	MaxInFlight int `yaml:"max_in_flight"`

	// HandshakeTimeout bounds the wait for the engine's HELLO frame.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// IdleTimeout bounds the wait between frames. Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MetricsBind is the Prometheus scrape endpoint address. Empty
	// disables the metrics listener.
	MetricsBind string `yaml:"metrics_bind"`
}

// Default returns a Config populated with the package defaults.
func Default() Config {
	return Config{
		Bind:             DefaultBind,
		MaxConnections:   DefaultMaxConnections,
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		MaxInFlight:      DefaultMaxInFlight,
		HandshakeTimeout: DefaultHandshakeTimeout,
		IdleTimeout:      DefaultIdleTimeout,
	}
}

// Load reads a YAML config file. Missing keys keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the protocol or the runtime cannot honor.
func (c Config) Validate() error {
	if c.Bind == "" {
		return fmt.Errorf("config: bind address must not be empty")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("config: max_in_flight must be positive, got %d", c.MaxInFlight)
	}
	if c.MaxFrameSize < 256 {
		return fmt.Errorf("config: max_frame_size %d too small, minimum 256", c.MaxFrameSize)
	}
	if c.HandshakeTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	return nil
}
