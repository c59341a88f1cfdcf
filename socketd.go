// Package socketd is the entry point of the SocketD duplex messaging
// protocol: it picks the transport for a URL scheme and wires clients and
// servers to it.
//
//	srv, err := socketd.CreateServer(cfg, listener)
//	err = srv.Start()
//
//	c, err := socketd.CreateClient("sd:tcp://127.0.0.1:8602/?@=demo")
//	session, err := c.Listen(l).Open(ctx)
//
// Schemes tcp, tcps, ws and wss are built in. RegisterDialer adds others.
package socketd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/socketd-go/socketd/pkg/client"
	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
	"github.com/socketd-go/socketd/pkg/server"
	"github.com/socketd-go/socketd/pkg/transport/tcp"
	"github.com/socketd-go/socketd/pkg/transport/ws"
)

// Version is the protocol version this module speaks.
const Version = protocol.Version

// ErrUnsupportedScheme is returned for URL schemes without a transport.
var ErrUnsupportedScheme = errors.New("socketd: unsupported scheme")

var (
	dialersMu sync.RWMutex
	dialers   = map[string]func() client.Dialer{
		tcp.Scheme:       func() client.Dialer { return tcp.NewDialer() },
		tcp.SchemeSecure: func() client.Dialer { return tcp.NewDialer() },
		ws.Scheme:        func() client.Dialer { return ws.NewDialer() },
		ws.SchemeSecure:  func() client.Dialer { return ws.NewDialer() },
	}
)

// RegisterDialer makes factory the dialer source for scheme, replacing any
// earlier registration.
func RegisterDialer(scheme string, factory func() client.Dialer) {
	dialersMu.Lock()
	dialers[strings.ToLower(scheme)] = factory
	dialersMu.Unlock()
}

// NewDialer returns a dialer for scheme.
func NewDialer(scheme string) (client.Dialer, error) {
	dialersMu.RLock()
	factory, ok := dialers[strings.ToLower(scheme)]
	dialersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return factory(), nil
}

// CreateClient creates a client for rawURL with the dialer of its scheme.
func CreateClient(rawURL string, opts ...client.Option) (*client.Client, error) {
	cfg, err := client.ParseConfig(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	d, err := NewDialer(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	return client.NewWithConfig(cfg, d), nil
}

// Open creates a client for rawURL and opens a session in one step.
func Open(ctx context.Context, rawURL string, l core.Listener, opts ...client.Option) (*core.Session, error) {
	c, err := CreateClient(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	return c.Listen(l).Open(ctx)
}

// Server runs a server.Server on the transport its config names.
// WebSocket schemas serve HTTP through a chi router, which callers may
// extend with their own routes before Start.
type Server struct {
	*server.Server

	router chi.Router

	mu   sync.Mutex
	addr net.Addr
	http *http.Server
}

// CreateServer creates a server for cfg.Schema dispatching to l.
func CreateServer(cfg *server.Config, l core.Listener) (*Server, error) {
	if cfg == nil {
		cfg = server.DefaultConfig()
	}
	switch cfg.Schema {
	case "", tcp.Scheme, tcp.SchemeSecure, ws.Scheme, ws.SchemeSecure:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, cfg.Schema)
	}
	srv, err := server.New(cfg, l)
	if err != nil {
		return nil, err
	}
	return &Server{Server: srv, router: chi.NewRouter()}, nil
}

// Router returns the HTTP router of ws and wss servers.
func (s *Server) Router() chi.Router { return s.router }

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	cfg := s.Config()
	secure := cfg.Schema == tcp.SchemeSecure || cfg.Schema == ws.SchemeSecure
	if secure && cfg.TLS == nil {
		return fmt.Errorf("socketd: schema %s needs a TLS config", cfg.Schema)
	}
	var tlsCfg *tls.Config
	if secure {
		tlsCfg = cfg.TLS
	}

	switch cfg.Schema {
	case ws.Scheme, ws.SchemeSecure:
		return s.startHTTP(tlsCfg)
	default:
		ln, err := tcp.Listen(cfg.Address(), tlsCfg, s.Processor().Config().Codec())
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.addr = ln.Addr()
		s.mu.Unlock()
		go func() {
			if err := s.Serve(ln); err != nil && !errors.Is(err, server.ErrServerClosed) {
				cfg.Logger.Error("serve failed", "error", err)
			}
		}()
		return nil
	}
}

func (s *Server) startHTTP(tlsCfg *tls.Config) error {
	cfg := s.Config()
	ln, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.router.Handle(cfg.Path, ws.NewHandler(s.Server, nil))
	hs := &http.Server{Handler: s.router}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.http = hs
	s.mu.Unlock()

	cfg.Logger.Info("server listening", "addr", ln.Addr().String(), "schema", cfg.Schema, "path", cfg.Path)
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.Logger.Error("http serve failed", "error", err)
		}
	}()
	return nil
}

// URL returns the client URL of the running server, using host in place
// of an unspecified bind address.
func (s *Server) URL(host string) string {
	cfg := s.Config()
	port := cfg.Port
	if tcpAddr, ok := s.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	u := url.URL{
		Scheme: cfg.Schema,
		Host:   net.JoinHostPort(host, fmt.Sprint(port)),
		Path:   "/",
	}
	if cfg.Schema == ws.Scheme || cfg.Schema == ws.SchemeSecure {
		u.Path = cfg.Path
	}
	return protocol.URLPrefix + u.String()
}

// Stop closes every channel, then the HTTP server if one is running.
func (s *Server) Stop(ctx context.Context) error {
	err := s.Server.Stop(ctx)
	s.mu.Lock()
	hs := s.http
	s.mu.Unlock()
	if hs != nil {
		if herr := hs.Shutdown(ctx); herr != nil && err == nil {
			err = herr
		}
	}
	return err
}
