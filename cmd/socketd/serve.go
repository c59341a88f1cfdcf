package main

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/socketd-go/socketd"
	"github.com/socketd-go/socketd/internal/config"
	"github.com/socketd-go/socketd/internal/errors"
	"github.com/socketd-go/socketd/pkg/broker"
	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/middleware"
	"github.com/socketd-go/socketd/pkg/protocol"
	"github.com/socketd-go/socketd/pkg/server"
)

type serveOptions struct {
	schema   string
	host     string
	port     int
	path     string
	httpAddr string
	cert     string
	key      string
	metrics  bool
	broker   bool
}

func serveCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a SocketD server",
		Long: `Run a SocketD server.

Without --broker the server answers every request and subscription with
the payload it received. With --broker, peers that name themselves with
the @ handshake parameter can address each other through the server.

WebSocket schemas also serve /healthz and, with --metrics, /metrics on
the same port. For tcp schemas these HTTP routes need --http.

Examples:
  socketd serve
  socketd serve --schema ws --port 8080 --path /socketd --metrics
  socketd serve --broker --http :9602 --metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger, opts)
		},
	}

	cmd.Flags().StringVar(&opts.schema, "schema", "", "Transport: tcp, tcps, ws, wss (default from config)")
	cmd.Flags().StringVarP(&opts.host, "host", "H", "", "Host to bind to (default: all interfaces)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to listen on (default 8602)")
	cmd.Flags().StringVar(&opts.path, "path", "", "WebSocket endpoint path (ws, wss)")
	cmd.Flags().StringVar(&opts.httpAddr, "http", "", "HTTP address for /metrics and /healthz (tcp, tcps)")
	cmd.Flags().StringVar(&opts.cert, "cert", "", "TLS certificate PEM file")
	cmd.Flags().StringVar(&opts.key, "key", "", "TLS key PEM file")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Collect Prometheus metrics")
	cmd.Flags().BoolVar(&opts.broker, "broker", false, "Relay messages between named peers")

	return cmd
}

// apply copies the flags that were set onto cfg.
func (o serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("schema") {
		cfg.Server.Schema = o.schema
	}
	if flags.Changed("host") {
		cfg.Server.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("path") {
		cfg.Server.HTTP.Path = o.path
	}
	if flags.Changed("http") {
		cfg.Server.HTTP.Addr = o.httpAddr
	}
	if flags.Changed("cert") {
		cfg.Server.TLS.Cert = o.cert
	}
	if flags.Changed("key") {
		cfg.Server.TLS.Key = o.key
	}
	if o.metrics {
		cfg.Server.Metrics = true
	}
}

// serverConfig maps the file config onto the engine config.
func serverConfig(cfg *config.Config, logger *slog.Logger) (*server.Config, error) {
	sc := server.DefaultConfig()
	sc.Schema = cfg.Server.Schema
	sc.Host = cfg.Server.Host
	sc.Port = cfg.Server.Port
	sc.Path = cfg.Server.HTTP.Path
	sc.IdleTimeout = cfg.Server.IdleTimeout.Std()
	sc.SweepInterval = cfg.Server.SweepInterval.Std()
	sc.ShutdownTimeout = cfg.Server.ShutdownTimeout.Std()
	sc.MaxConnections = cfg.Server.MaxConnections
	sc.FragmentSize = cfg.Fragment.Size
	sc.MaxFrameSize = cfg.Fragment.MaxFrameSize
	sc.Logger = logger.With("component", "socketd-server")

	if cfg.Server.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.Cert, cfg.Server.TLS.Key)
		if err != nil {
			return nil, errors.New("E121").Wrap(err)
		}
		sc.TLS = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	return sc, nil
}

// echoListener answers requests and subscriptions with their own payload.
func echoListener(logger *slog.Logger) core.Listener {
	return core.NewEventListener().
		DoOnOpen(func(s *core.Session) error {
			logger.Info("session opened", "session", s.ID(), "name", s.Name(), "remote", addrString(s))
			return nil
		}).
		DoOnClose(func(s *core.Session) {
			logger.Info("session closed", "session", s.ID())
		}).
		DoOnError(func(s *core.Session, err error) {
			logger.Warn("session error", "session", s.ID(), "error", err)
		}).
		DoOnMessage(func(s *core.Session, msg *protocol.Message) error {
			logger.Debug("message", "session", s.ID(), "event", msg.Event(), "sid", msg.SID(), "size", msg.DataSize())
			switch {
			case msg.IsRequest():
				return s.Reply(msg, msg.Entity())
			case msg.IsSubscribe():
				return s.ReplyEnd(msg, msg.Entity())
			}
			return nil
		})
}

func addrString(s *core.Session) string {
	if a := s.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// newHTTPRouter mounts the health probe and, when reg is set, the metrics
// endpoint on r.
func newHTTPRouter(r chi.Router, cfg *config.Config, reg *prometheus.Registry) {
	if p := cfg.Server.HTTP.HealthPath; p != "" {
		r.Get(p, func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "ok")
		})
	}
	if p := cfg.Server.HTTP.MetricsPath; reg != nil && p != "" {
		r.Handle(p, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts serveOptions) error {
	sc, err := serverConfig(cfg, logger)
	if err != nil {
		return err
	}

	var listener core.Listener = echoListener(logger)
	if opts.broker {
		listener = broker.New(listener).WithLogger(logger.With("component", "socketd-broker"))
	}
	listener = middleware.Tracing(listener)

	var reg *prometheus.Registry
	if cfg.Server.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := middleware.NewMetrics(middleware.WithRegistry(reg))
		sc.WrapTransport = m.Transport
		listener = m.Listener(listener)
	}

	srv, err := socketd.CreateServer(sc, listener)
	if err != nil {
		return errors.FromError(err, "E102")
	}

	var side *http.Server
	switch sc.Schema {
	case "ws", "wss":
		newHTTPRouter(srv.Router(), cfg, reg)
	default:
		if addr := cfg.Server.HTTP.Addr; addr != "" {
			r := chi.NewRouter()
			newHTTPRouter(r, cfg, reg)
			side = &http.Server{Addr: addr, Handler: r}
			go func() {
				if err := side.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", "addr", addr, "error", err)
				}
			}()
		}
	}

	if err := srv.Start(); err != nil {
		return errors.New("E120").Wrap(err)
	}
	success("Serving %s on %s", sc.Schema, srv.Addr())
	info("Connect with: socketd request --url %s <event> <data>", srv.URL("127.0.0.1"))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()
	if side != nil {
		side.Shutdown(shutdownCtx)
	}
	return srv.Stop(shutdownCtx)
}
