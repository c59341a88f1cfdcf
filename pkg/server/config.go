package server

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/fragment"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Config holds server configuration.
type Config struct {
	// Schema selects the transport (tcp, tcps, ws, wss).
	// Default: "tcp".
	Schema string

	// Host and Port form the listen address.
	// Default: all interfaces, port 8602.
	Host string
	Port int

	// IdleTimeout closes channels that received nothing for this long.
	// Zero disables it. Default: 60 seconds.
	IdleTimeout time.Duration

	// SweepInterval is how often idle channels and expired streams are checked.
	// Default: 5 seconds.
	SweepInterval time.Duration

	// MaxConnections caps concurrent channels. Zero means no limit.
	MaxConnections int

	// ShutdownTimeout bounds Stop.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// TLS serves the secure variant of the schema when set.
	TLS *tls.Config

	// Path is the HTTP path of the WebSocket endpoint for ws and wss.
	// Default: "/".
	Path string

	// RequestTimeout and StreamTimeout are the engine defaults for
	// server-initiated requests and subscriptions.
	RequestTimeout time.Duration
	StreamTimeout  time.Duration

	// FragmentSize is the fragmentation threshold. Zero means 512KB.
	FragmentSize int

	// MaxFrameSize bounds inbound frames. Zero means protocol.DefaultMaxFrameSize.
	MaxFrameSize int

	// Executor runs listener hooks. Nil starts a core.WorkerPool.
	Executor core.Executor

	// WrapTransport, when set, decorates every accepted transport
	// (metrics, tracing).
	WrapTransport func(core.Transport) core.Transport

	// Logger is the base logger.
	// Default: slog.Default() with component=socketd-server.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schema:          "tcp",
		Port:            protocol.DefaultPort,
		Path:            "/",
		IdleTimeout:     60 * time.Second,
		SweepInterval:   5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestTimeout:  10 * time.Second,
		StreamTimeout:   2 * time.Hour,
		Logger:          slog.Default().With("component", "socketd-server"),
	}
}

// Validate reports configuration errors and fills unset optional fields.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("server: invalid port")
	}
	if c.IdleTimeout < 0 || c.ShutdownTimeout < 0 || c.SweepInterval < 0 {
		return errors.New("server: timeouts must not be negative")
	}
	if c.MaxConnections < 0 {
		return errors.New("server: MaxConnections must not be negative")
	}
	if c.Schema == "" {
		c.Schema = "tcp"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "socketd-server")
	}
	return nil
}

// Address returns host:port for listening.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CoreConfig builds the engine config for this server.
func (c *Config) CoreConfig() *core.Config {
	cfg := core.DefaultConfig(core.RoleServer)
	cfg.Executor = c.Executor
	cfg.Logger = c.Logger
	if c.RequestTimeout > 0 {
		cfg.RequestTimeout = c.RequestTimeout
	}
	if c.StreamTimeout > 0 {
		cfg.StreamTimeout = c.StreamTimeout
	}
	if c.MaxFrameSize > 0 {
		cfg.MaxFrameSize = c.MaxFrameSize
	}
	if c.FragmentSize > 0 {
		cfg.Fragment = fragment.NewHandler()
		cfg.Fragment.MaxSize = c.FragmentSize
	}
	return cfg
}
