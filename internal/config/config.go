package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/socketd-go/socketd/internal/errors"
	"github.com/socketd-go/socketd/pkg/protocol"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "socketd.yaml"

	// DefaultSchema is the default server transport.
	DefaultSchema = "tcp"

	// DefaultMetricsPath is where `socketd serve` exposes Prometheus metrics.
	DefaultMetricsPath = "/metrics"

	// DefaultHealthPath is the liveness endpoint of `socketd serve`.
	DefaultHealthPath = "/healthz"
)

// Duration is a time.Duration written as a string ("30s") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete socketd.yaml configuration.
type Config struct {
	// Server contains `socketd serve` settings.
	Server ServerConfig `yaml:"server"`

	// Client contains settings for send, request and subscribe.
	Client ClientConfig `yaml:"client"`

	// Fragment contains large-payload settings shared by both sides.
	Fragment FragmentConfig `yaml:"fragment"`

	// Log contains logging settings.
	Log LogConfig `yaml:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains server settings.
type ServerConfig struct {
	// Schema is the transport: tcp, tcps, ws or wss.
	Schema string `yaml:"schema"`

	// Host is the interface to bind; empty means all.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// IdleTimeout closes channels that stay silent this long.
	IdleTimeout Duration `yaml:"idleTimeout"`

	// SweepInterval is how often idle channels are checked.
	SweepInterval Duration `yaml:"sweepInterval"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// MaxConnections caps concurrent channels; 0 means unlimited.
	MaxConnections int `yaml:"maxConnections"`

	// TLS holds certificate files for tcps and wss.
	TLS TLSConfig `yaml:"tls"`

	// HTTP contains the HTTP endpoints served alongside ws/wss.
	HTTP HTTPConfig `yaml:"http"`

	// Metrics enables Prometheus collectors.
	Metrics bool `yaml:"metrics"`
}

// TLSConfig names PEM files.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// Enabled reports whether both files are set.
func (t TLSConfig) Enabled() bool { return t.Cert != "" && t.Key != "" }

// HTTPConfig contains the HTTP routes of the server. WebSocket schemas
// serve them on the listen address; tcp schemas on Addr.
type HTTPConfig struct {
	// Addr is the HTTP address of tcp servers; empty disables HTTP.
	Addr string `yaml:"addr"`

	// Path is the WebSocket endpoint.
	Path string `yaml:"path"`

	// MetricsPath serves Prometheus metrics; empty disables it.
	MetricsPath string `yaml:"metricsPath"`

	// HealthPath serves a liveness probe; empty disables it.
	HealthPath string `yaml:"healthPath"`
}

// ClientConfig contains client settings.
type ClientConfig struct {
	// URL is the default server URL.
	URL string `yaml:"url"`

	ConnectTimeout    Duration `yaml:"connectTimeout"`
	HeartbeatInterval Duration `yaml:"heartbeatInterval"`
	RequestTimeout    Duration `yaml:"requestTimeout"`
	StreamTimeout     Duration `yaml:"streamTimeout"`

	// AutoReconnect re-dials dropped connections.
	AutoReconnect *bool `yaml:"autoReconnect"`
}

// Reconnect returns AutoReconnect, defaulting to true.
func (c ClientConfig) Reconnect() bool {
	return c.AutoReconnect == nil || *c.AutoReconnect
}

// FragmentConfig contains fragmentation settings.
type FragmentConfig struct {
	// Size is the fragment threshold in bytes.
	Size int `yaml:"size"`

	// MaxFrameSize bounds inbound frames.
	MaxFrameSize int `yaml:"maxFrameSize"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// New creates a new Config with default values.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the specified directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E100").Wrap(err)
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E101").Wrap(err)
	}
	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}
	return LoadFile(path)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.New("E101").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New("E101").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for missing configuration.
func (c *Config) applyDefaults() {
	s := &c.Server
	if s.Schema == "" {
		s.Schema = DefaultSchema
	}
	if s.Port == 0 {
		s.Port = protocol.DefaultPort
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = Duration(60 * time.Second)
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = Duration(5 * time.Second)
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Duration(10 * time.Second)
	}
	if s.HTTP.Path == "" {
		s.HTTP.Path = "/"
	}
	if s.HTTP.MetricsPath == "" {
		s.HTTP.MetricsPath = DefaultMetricsPath
	}
	if s.HTTP.HealthPath == "" {
		s.HTTP.HealthPath = DefaultHealthPath
	}

	cl := &c.Client
	if cl.URL == "" {
		cl.URL = fmt.Sprintf("%stcp://127.0.0.1:%d/", protocol.URLPrefix, protocol.DefaultPort)
	}
	if cl.ConnectTimeout == 0 {
		cl.ConnectTimeout = Duration(10 * time.Second)
	}
	if cl.HeartbeatInterval == 0 {
		cl.HeartbeatInterval = Duration(20 * time.Second)
	}
	if cl.RequestTimeout == 0 {
		cl.RequestTimeout = Duration(10 * time.Second)
	}
	if cl.StreamTimeout == 0 {
		cl.StreamTimeout = Duration(2 * time.Hour)
	}

	if c.Fragment.Size == 0 {
		c.Fragment.Size = 512 * 1024
	}
	if c.Fragment.MaxFrameSize == 0 {
		c.Fragment.MaxFrameSize = protocol.DefaultMaxFrameSize
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New("E102").WithDetail(fmt.Sprintf(format, args...))
	}

	switch c.Server.Schema {
	case "tcp", "tcps", "ws", "wss":
	default:
		return invalid("server.schema %q is not one of tcp, tcps, ws, wss", c.Server.Schema)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return invalid("server.maxConnections must not be negative")
	}
	if (c.Server.Schema == "tcps" || c.Server.Schema == "wss") && !c.Server.TLS.Enabled() {
		return invalid("server.schema %s needs server.tls.cert and server.tls.key", c.Server.Schema)
	}
	if c.Server.IdleTimeout < 0 || c.Client.RequestTimeout < 0 || c.Client.StreamTimeout < 0 {
		return invalid("timeouts must not be negative")
	}
	if !strings.HasPrefix(c.Server.HTTP.Path, "/") {
		return invalid("server.http.path %q must start with /", c.Server.HTTP.Path)
	}
	if c.Fragment.Size < 1024 {
		return invalid("fragment.size %d is below 1024", c.Fragment.Size)
	}
	if c.Fragment.MaxFrameSize <= c.Fragment.Size {
		return invalid("fragment.maxFrameSize must exceed fragment.size")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format %q is not text or json", c.Log.Format)
	}
	return nil
}

// Address returns the server listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Logger builds the process logger described by the log section.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
