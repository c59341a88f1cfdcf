// Package middleware provides observability decorators for SocketD
// listeners and transports.
//
// # Prometheus Metrics
//
// Metrics counts sessions, messages, errors and frames:
//
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//	cfg := server.DefaultConfig()
//	cfg.WrapTransport = m.Transport
//	srv, err := server.New(cfg, m.Listener(router))
//
// Expose the registry with promhttp:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # OpenTelemetry Tracing
//
// Tracing runs every OnOpen and OnMessage inside a span named after the
// event:
//
//	l := middleware.Tracing(router, middleware.WithTracerName("chat"))
//
// Inside a handler the span is reachable through the message:
//
//	func(s *core.Session, msg *protocol.Message) error {
//	    req, _ := http.NewRequestWithContext(middleware.TraceContext(msg), "GET", url, nil)
//	    ...
//	}
//
// Decorators compose; put Tracing inside Metrics to count traced handlers.
package middleware
