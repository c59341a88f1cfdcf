package core

import (
	"errors"
	"log/slog"
	"time"

	"github.com/socketd-go/socketd/pkg/fragment"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Role tells which side of the handshake a channel plays.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// String returns the string representation of the role.
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Config holds the engine settings shared by every channel of a client or
// server.
type Config struct {
	// Role selects client or server handshake behavior.
	Role Role

	// Fragment splits and reassembles large payloads.
	// Default: fragment.NewHandler() (512KB threshold).
	Fragment *fragment.Handler

	// Executor runs listener hooks and reply callbacks.
	// Default: a WorkerPool with DefaultWorkers goroutines, started by Validate.
	Executor Executor

	// RequestTimeout bounds SendAndRequest when the caller passes zero.
	// Default: 10 seconds.
	RequestTimeout time.Duration

	// StreamTimeout bounds subscriptions when the caller passes zero.
	// Default: 2 hours.
	StreamTimeout time.Duration

	// MaxFrameSize is handed to transport codecs.
	// Default: protocol.DefaultMaxFrameSize.
	MaxFrameSize int

	// Logger is the base logger; channels add role and address attributes.
	// Default: slog.Default() with component=socketd.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults for role.
func DefaultConfig(role Role) *Config {
	return &Config{
		Role:           role,
		Fragment:       fragment.NewHandler(),
		RequestTimeout: 10 * time.Second,
		StreamTimeout:  2 * time.Hour,
		MaxFrameSize:   protocol.DefaultMaxFrameSize,
		Logger:         slog.Default().With("component", "socketd"),
	}
}

// Clone returns a shallow copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Validate reports configuration errors and fills unset optional fields.
func (c *Config) Validate() error {
	if c.Role != RoleClient && c.Role != RoleServer {
		return errors.New("core: invalid role")
	}
	if c.RequestTimeout < 0 || c.StreamTimeout < 0 {
		return errors.New("core: timeouts must not be negative")
	}
	if c.MaxFrameSize < 0 {
		return errors.New("core: MaxFrameSize must not be negative")
	}
	if c.Fragment == nil {
		c.Fragment = fragment.NewHandler()
	}
	if c.Executor == nil {
		c.Executor = NewWorkerPool(DefaultWorkers, DefaultQueueSize)
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "socketd")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = 2 * time.Hour
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	return nil
}

// Codec returns the frame codec transports should use for this config.
func (c *Config) Codec() *protocol.BinaryCodec {
	return &protocol.BinaryCodec{MaxFrameSize: c.MaxFrameSize}
}
