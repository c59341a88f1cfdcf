package middleware

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "socketd").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for handler duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "socketd",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the SocketD collectors. One Metrics serves any number of
// listeners and transports; register it once per registry.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	messagesTotal   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	framesTotal     *prometheus.CounterVec
	payloadBytes    *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
//
// Metrics collected:
//   - socketd_sessions_active: Gauge of open sessions
//   - socketd_sessions_total: Counter of handshakes by status (accepted, rejected)
//   - socketd_messages_total: Counter of inbound messages by flag and status
//   - socketd_handler_duration_seconds: Histogram of OnMessage duration by flag
//   - socketd_errors_total: Counter of reported errors by type
//   - socketd_frames_total: Counter of frames by direction and flag
//   - socketd_payload_bytes_total: Counter of message data bytes by direction
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_active",
			Help:        "Number of open sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_total",
			Help:        "Total number of handshakes by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_total",
			Help:        "Total number of inbound messages handled",
			ConstLabels: config.ConstLabels,
		}, []string{"flag", "status"}),

		handlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_duration_seconds",
			Help:        "Message handler duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"flag"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors reported to listeners",
			ConstLabels: config.ConstLabels,
		}, []string{"error_type"}),

		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_total",
			Help:        "Total number of frames by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction", "flag"}),

		payloadBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "payload_bytes_total",
			Help:        "Total message data bytes by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction"}),
	}
}

// categorizeError maps err to a low-cardinality label.
func categorizeError(err error) string {
	var panicErr *core.PanicError
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrAlarm):
		return "alarm"
	case errors.Is(err, protocol.ErrCodec):
		return "codec"
	case errors.Is(err, protocol.ErrProtocol):
		return "protocol"
	case errors.Is(err, protocol.ErrConnection), errors.Is(err, protocol.ErrClosed):
		return "connection"
	case errors.As(err, &panicErr):
		return "panic"
	default:
		return "internal"
	}
}

// openedAttr marks sessions counted in sessions_active.
const openedAttr = "middleware.metrics.opened"

// Listener wraps next so every hook is counted.
func (m *Metrics) Listener(next core.Listener) core.Listener {
	if next == nil {
		next = core.SimpleListener{}
	}
	return &metricsListener{m: m, next: next}
}

type metricsListener struct {
	m    *Metrics
	next core.Listener
}

func (l *metricsListener) OnOpen(s *core.Session) error {
	if err := l.next.OnOpen(s); err != nil {
		l.m.sessionsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	l.m.sessionsTotal.WithLabelValues("accepted").Inc()
	l.m.sessionsActive.Inc()
	s.AttrPut(openedAttr, true)
	return nil
}

func (l *metricsListener) OnMessage(s *core.Session, msg *protocol.Message) error {
	flag := msg.Flag().String()
	start := time.Now()

	err := l.next.OnMessage(s, msg)

	l.m.handlerDuration.WithLabelValues(flag).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	l.m.messagesTotal.WithLabelValues(flag, status).Inc()
	return err
}

func (l *metricsListener) OnClose(s *core.Session) {
	if opened, _ := s.Attr(openedAttr).(bool); opened {
		s.AttrPut(openedAttr, false)
		l.m.sessionsActive.Dec()
	}
	l.next.OnClose(s)
}

func (l *metricsListener) OnError(s *core.Session, err error) {
	l.m.errorsTotal.WithLabelValues(categorizeError(err)).Inc()
	l.next.OnError(s, err)
}

// Transport wraps t so every frame is counted. Its signature matches
// server.Config.WrapTransport.
func (m *Metrics) Transport(t core.Transport) core.Transport {
	return &metricsTransport{Transport: t, m: m}
}

type metricsTransport struct {
	core.Transport
	m *Metrics
}

func (t *metricsTransport) Write(f *protocol.Frame) error {
	size := 0
	if f.Message != nil {
		size = f.Message.DataSize()
	}
	if err := t.Transport.Write(f); err != nil {
		return err
	}
	t.m.framesTotal.WithLabelValues("out", f.Flag.String()).Inc()
	t.m.payloadBytes.WithLabelValues("out").Add(float64(size))
	return nil
}

func (t *metricsTransport) Read() (*protocol.Frame, error) {
	f, err := t.Transport.Read()
	if err != nil {
		return nil, err
	}
	t.m.framesTotal.WithLabelValues("in", f.Flag.String()).Inc()
	if f.Message != nil {
		t.m.payloadBytes.WithLabelValues("in").Add(float64(f.Message.DataSize()))
	}
	return f, nil
}
