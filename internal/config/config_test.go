package config

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/socketd-go/socketd/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Schema != DefaultSchema {
		t.Errorf("Server.Schema = %q, want %q", cfg.Server.Schema, DefaultSchema)
	}
	if cfg.Server.Port != 8602 {
		t.Errorf("Server.Port = %d, want 8602", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout.Std() != time.Minute {
		t.Errorf("Server.IdleTimeout = %v, want 1m", cfg.Server.IdleTimeout.Std())
	}
	if cfg.Client.URL != "sd:tcp://127.0.0.1:8602/" {
		t.Errorf("Client.URL = %q", cfg.Client.URL)
	}
	if !cfg.Client.Reconnect() {
		t.Error("Client.Reconnect() = false by default")
	}
	if cfg.Fragment.Size != 512*1024 {
		t.Errorf("Fragment.Size = %d", cfg.Fragment.Size)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := Load(tmpDir)
	var coded *errors.Error
	if !stderrors.As(err, &coded) || coded.Code != "E100" {
		t.Fatalf("Load(missing) = %v, want E100", err)
	}

	yml := `
server:
  schema: ws
  port: 9000
  idleTimeout: 90s
  maxConnections: 100
  http:
    path: /socketd
client:
  url: sd:ws://example.com:9000/socketd
  heartbeatInterval: 5s
  autoReconnect: false
fragment:
  size: 65536
log:
  level: debug
  format: json
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Schema != "ws" || cfg.Server.Port != 9000 {
		t.Errorf("Server = %s:%d, want ws:9000", cfg.Server.Schema, cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout.Std() != 90*time.Second {
		t.Errorf("IdleTimeout = %v, want 90s", cfg.Server.IdleTimeout.Std())
	}
	if cfg.Server.SweepInterval.Std() != 5*time.Second {
		t.Errorf("SweepInterval default = %v, want 5s", cfg.Server.SweepInterval.Std())
	}
	if cfg.Server.HTTP.Path != "/socketd" || cfg.Server.HTTP.MetricsPath != DefaultMetricsPath {
		t.Errorf("HTTP = %+v", cfg.Server.HTTP)
	}
	if cfg.Client.HeartbeatInterval.Std() != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Client.HeartbeatInterval.Std())
	}
	if cfg.Client.Reconnect() {
		t.Error("Client.Reconnect() = true, want false")
	}
	if cfg.Fragment.Size != 65536 {
		t.Errorf("Fragment.Size = %d", cfg.Fragment.Size)
	}
	if cfg.Path() != filepath.Join(tmpDir, ConfigFileName) {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		code string
	}{
		{"bad_yaml", "server: [", "E101"},
		{"bad_duration", "server:\n  idleTimeout: soon\n", "E101"},
		{"bad_schema", "server:\n  schema: udp\n", "E102"},
		{"bad_port", "server:\n  port: 70000\n", "E102"},
		{"tls_missing", "server:\n  schema: wss\n", "E102"},
		{"small_fragment", "fragment:\n  size: 10\n", "E102"},
		{"bad_level", "log:\n  level: loud\n", "E102"},
		{"bad_path", "server:\n  http:\n    path: socketd\n", "E102"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ConfigFileName)
			if err := os.WriteFile(path, []byte(tt.yml), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadFile(path)
			var coded *errors.Error
			if !stderrors.As(err, &coded) {
				t.Fatalf("LoadFile() = %v, want coded error", err)
			}
			if coded.Code != tt.code {
				t.Errorf("Code = %s, want %s (%v)", coded.Code, tt.code, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := New()
	cfg.Server.Port = 7000
	cfg.Client.HeartbeatInterval = Duration(3 * time.Second)

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "heartbeatInterval: 3s") {
		t.Errorf("saved YAML missing duration string:\n%s", data)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 7000 || loaded.Client.HeartbeatInterval.Std() != 3*time.Second {
		t.Errorf("round trip = port %d, heartbeat %v", loaded.Server.Port, loaded.Client.HeartbeatInterval.Std())
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil || cfg.Server.Port != 8602 {
		t.Errorf("LoadOrDefault(\"\") = %+v, %v", cfg, err)
	}
}

func TestAddressAndLogger(t *testing.T) {
	cfg := New()
	cfg.Server.Host = "::1"
	if got := cfg.Address(); got != "[::1]:8602" {
		t.Errorf("Address() = %q", got)
	}

	var buf bytes.Buffer
	cfg.Log = LogConfig{Level: "warn", Format: "json"}
	logger := cfg.Log.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("json output = %q", out)
	}
}
