package middleware

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Default tracer name for SocketD listeners.
const defaultTracerName = "socketd"

// OTelConfig configures the tracing listener.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "socketd").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider (otel.GetTracerProvider()).
	TracerProvider trace.TracerProvider

	// IncludeParams adds the handshake parameters to open spans.
	// May contain credentials - disabled by default.
	IncludeParams bool

	// Filter determines which messages to trace.
	// If nil, all messages are traced.
	Filter func(s *core.Session, msg *protocol.Message) bool

	// AttributeExtractor adds custom attributes to message spans.
	AttributeExtractor func(s *core.Session, msg *protocol.Message) []attribute.KeyValue
}

// OTelOption configures the tracing listener.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeParams enables handshake parameters on open spans.
func WithIncludeParams(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeParams = include
	}
}

// WithMessageFilter sets a filter function for messages.
func WithMessageFilter(filter func(s *core.Session, msg *protocol.Message) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(s *core.Session, msg *protocol.Message) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// Tracing wraps next so that OnOpen and OnMessage each run inside a span.
//
// The tracer comes from the global OpenTelemetry provider unless
// WithTracerProvider is given. Configure it in main() before starting:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//
// Handlers reach the active span with SpanFromMessage or TraceContext.
func Tracing(next core.Listener, opts ...OTelOption) core.Listener {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if next == nil {
		next = core.SimpleListener{}
	}
	return &tracingListener{
		config: config,
		tracer: config.TracerProvider.Tracer(config.TracerName),
		next:   next,
	}
}

type tracingListener struct {
	config OTelConfig
	tracer trace.Tracer
	next   core.Listener
}

func (l *tracingListener) OnOpen(s *core.Session) error {
	attrs := []attribute.KeyValue{
		attribute.String("socketd.session_id", s.ID()),
		attribute.String("socketd.path", s.Path()),
	}
	if name := s.Name(); name != "" {
		attrs = append(attrs, attribute.String("socketd.peer_name", name))
	}
	if l.config.IncludeParams {
		if h := s.Handshake(); h != nil {
			for k, v := range h.Params() {
				attrs = append(attrs, attribute.String("socketd.param."+k, v))
			}
		}
	}

	_, span := l.tracer.Start(context.Background(), "socketd open",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	err := l.next.OnOpen(s)
	recordResult(span, err)
	return err
}

func (l *tracingListener) OnMessage(s *core.Session, msg *protocol.Message) error {
	if l.config.Filter != nil && !l.config.Filter(s, msg) {
		return l.next.OnMessage(s, msg)
	}

	attrs := []attribute.KeyValue{
		attribute.String("socketd.session_id", s.ID()),
		attribute.String("socketd.sid", msg.SID()),
		attribute.String("socketd.event", msg.Event()),
		attribute.String("socketd.flag", msg.Flag().String()),
		attribute.Int("socketd.data_size", msg.DataSize()),
	}
	if l.config.AttributeExtractor != nil {
		attrs = append(attrs, l.config.AttributeExtractor(s, msg)...)
	}

	ctx, span := l.tracer.Start(context.Background(), fmt.Sprintf("socketd %s", msg.Event()),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	activeSpans.Store(msg, ctx)
	defer activeSpans.Delete(msg)

	err := l.next.OnMessage(s, msg)
	recordResult(span, err)
	return err
}

func (l *tracingListener) OnClose(s *core.Session) {
	l.next.OnClose(s)
}

func (l *tracingListener) OnError(s *core.Session, err error) {
	l.next.OnError(s, err)
}

func recordResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// activeSpans maps messages under a traced handler to their span context.
var activeSpans sync.Map

// TraceContext returns the span context of the handler processing msg, for
// propagation to downstream calls. Outside a traced handler it returns
// context.Background().
func TraceContext(msg *protocol.Message) context.Context {
	if ctx, ok := activeSpans.Load(msg); ok {
		return ctx.(context.Context)
	}
	return context.Background()
}

// SpanFromMessage returns the span of the handler processing msg, or nil.
func SpanFromMessage(msg *protocol.Message) trace.Span {
	if ctx, ok := activeSpans.Load(msg); ok {
		return trace.SpanFromContext(ctx.(context.Context))
	}
	return nil
}
