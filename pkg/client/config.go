package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/fragment"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Config holds the settings of one client.
type Config struct {
	// Scheme selects the transport (tcp, tcps, ws, wss, ...).
	Scheme string

	// URL is the connection URL without the "sd:" prefix.
	URL string

	// URI is the parsed URL.
	URI *url.URL

	// Host and Port are the dial target. Port defaults to 8602.
	Host string
	Port int

	// ConnectTimeout bounds dial plus handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// HeartbeatInterval is the time between Ping frames.
	// Default: 20 seconds.
	HeartbeatInterval time.Duration

	// RequestTimeout bounds SendAndRequest when the caller passes zero.
	// Default: 10 seconds.
	RequestTimeout time.Duration

	// StreamTimeout bounds subscriptions when the caller passes zero.
	// Default: 2 hours.
	StreamTimeout time.Duration

	// IdleTimeout closes a connection that received nothing for this long.
	// Always 0 (disabled) while AutoReconnect is on.
	IdleTimeout time.Duration

	// AutoReconnect re-dials when the connection drops.
	// Default: true.
	AutoReconnect bool

	// TLS enables the secure variant of the transport when set.
	TLS *tls.Config

	// FragmentSize is the fragmentation threshold. Zero means 512KB.
	FragmentSize int

	// Executor runs listener hooks. Nil starts a core.WorkerPool.
	Executor core.Executor

	// Logger is the base logger.
	// Default: slog.Default() with component=socketd-client.
	Logger *slog.Logger
}

// Option customizes a Config.
type Option func(*Config)

// WithConnectTimeout sets the dial plus handshake timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithHeartbeatInterval sets the time between Ping frames.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatInterval = d }
}

// WithRequestTimeout sets the default request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

// WithStreamTimeout sets the default subscription timeout.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Config) { c.StreamTimeout = d }
}

// WithIdleTimeout sets the idle timeout. It is ignored while auto-reconnect is on.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) { c.IdleTimeout = d }
}

// WithAutoReconnect turns automatic reconnection on or off.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Config) { c.AutoReconnect = enabled }
}

// WithTLSConfig sets the TLS configuration for secure transports.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Config) { c.TLS = cfg }
}

// WithFragmentSize sets the fragmentation threshold.
func WithFragmentSize(n int) Option {
	return func(c *Config) { c.FragmentSize = n }
}

// WithExecutor sets the executor for listener hooks.
func WithExecutor(e core.Executor) Option {
	return func(c *Config) { c.Executor = e }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// ParseConfig parses a connection URL of the form
// [sd:]scheme://host[:port][/path][?query] and applies opts.
func ParseConfig(rawURL string, opts ...Option) (*Config, error) {
	link := strings.TrimPrefix(rawURL, protocol.URLPrefix)
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("client: invalid url %q: %w", rawURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("client: url %q has no scheme", rawURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("client: url %q has no host", rawURL)
	}

	port := protocol.DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("client: invalid port in %q", rawURL)
		}
	}

	c := &Config{
		Scheme:            strings.ToLower(u.Scheme),
		URL:               link,
		URI:               u,
		Host:              u.Hostname(),
		Port:              port,
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		RequestTimeout:    10 * time.Second,
		StreamTimeout:     2 * time.Hour,
		AutoReconnect:     true,
		Logger:            slog.Default().With("component", "socketd-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports configuration errors and normalizes dependent settings.
func (c *Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return errors.New("client: ConnectTimeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("client: HeartbeatInterval must be positive")
	}
	if c.RequestTimeout < 0 || c.StreamTimeout < 0 || c.IdleTimeout < 0 {
		return errors.New("client: timeouts must not be negative")
	}
	if c.AutoReconnect {
		c.IdleTimeout = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "socketd-client")
	}
	return nil
}

// Address returns host:port for dialing.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LinkURL returns the URL sent in the Connect frame.
func (c *Config) LinkURL() string {
	return protocol.URLPrefix + c.URL
}

// CoreConfig builds the engine config for this client.
func (c *Config) CoreConfig() *core.Config {
	cfg := core.DefaultConfig(core.RoleClient)
	cfg.Executor = c.Executor
	cfg.RequestTimeout = c.RequestTimeout
	cfg.StreamTimeout = c.StreamTimeout
	cfg.Logger = c.Logger
	if c.FragmentSize > 0 {
		cfg.Fragment = fragment.NewHandler()
		cfg.Fragment.MaxSize = c.FragmentSize
	}
	return cfg
}
