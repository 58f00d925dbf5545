package tracing

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/shared/id"
)

// Propagation headers.
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

const (
	tracePrefix   = "trc"
	spanPrefix    = "spn"
	defaultBuffer = 1024
)

// TraceID identifies a chain of related operations
type TraceID string

// SpanID identifies a single operation
type SpanID string

// Span is one timed operation. A span from a nil Tracer records nothing.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error

	mu     sync.Mutex
	tags   map[string]string
	tracer *Tracer
	ended  bool
}

// SetTag attaches a key/value to the span.
func (s *Span) SetTag(key, value string) {
	s.mu.Lock()
	if s.tags == nil {
		s.tags = make(map[string]string)
	}
	s.tags[key] = value
	s.mu.Unlock()
}

// Tag returns a tag value.
func (s *Span) Tag(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[key]
}

// SetStatus records an HTTP status.
func (s *Span) SetStatus(code int) {
	s.mu.Lock()
	s.Status = code
	s.mu.Unlock()
}

// SetError marks the span as failed.
func (s *Span) SetError(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

// End stops the clock and hands the span to its tracer. Later calls are
// ignored.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.Duration = time.Since(s.Start)
	s.mu.Unlock()

	if s.tracer != nil {
		s.tracer.submit(s)
	}
}

// Tracer collects finished spans and logs them.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// New creates a tracer. buffer bounds the spans waiting to be logged; zero
// means a default size.
func New(service string, logger *zap.Logger, buffer int) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, buffer),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// Start opens a span as a child of the span in ctx, if any, and returns a
// context carrying it.
func (t *Tracer) Start(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = TraceID(id.Default().GenerateWithPrefix(tracePrefix))
	}
	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.Default().GenerateWithPrefix(spanPrefix)),
		ParentID: SpanIDFrom(ctx),
		Name:     name,
		Start:    time.Now(),
		tracer:   t,
	}
	ctx = context.WithValue(ctx, traceIDKey, span.TraceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Dropped returns the number of spans discarded on a full buffer.
func (t *Tracer) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.dropped.Load()
}

// Close flushes pending spans and stops the collector.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.spans)
	}
	t.mu.Unlock()
	<-t.done
}

func (t *Tracer) submit(s *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- s:
	default:
		t.dropped.Add(1)
	}
}

func (t *Tracer) collect() {
	defer close(t.done)
	for s := range t.spans {
		t.log(s)
	}
}

func (t *Tracer) log(s *Span) {
	s.mu.Lock()
	fields := []zap.Field{
		zap.String("service", t.service),
		zap.String("trace_id", string(s.TraceID)),
		zap.String("span_id", string(s.SpanID)),
		zap.String("operation", s.Name),
		zap.Duration("duration", s.Duration),
	}
	if s.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(s.ParentID)))
	}
	if s.Status != 0 {
		fields = append(fields, zap.Int("status", s.Status))
	}
	for k, v := range s.tags {
		fields = append(fields, zap.String(k, v))
	}
	err := s.Err
	s.mu.Unlock()

	if err != nil {
		t.logger.Warn("Span failed", append(fields, zap.Error(err))...)
		return
	}
	t.logger.Debug("Span", fields...)
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// TraceIDFrom returns the trace id carried by ctx.
func TraceIDFrom(ctx context.Context) TraceID {
	v, _ := ctx.Value(traceIDKey).(TraceID)
	return v
}

// SpanIDFrom returns the current span id carried by ctx.
func SpanIDFrom(ctx context.Context) SpanID {
	v, _ := ctx.Value(spanIDKey).(SpanID)
	return v
}

// Inject writes the trace context of ctx into outbound headers.
func Inject(ctx context.Context, h http.Header) {
	if v := TraceIDFrom(ctx); v != "" {
		h.Set(TraceHeader, string(v))
	}
	if v := SpanIDFrom(ctx); v != "" {
		h.Set(SpanHeader, string(v))
	}
}

// Extract returns ctx extended with the trace context found in inbound
// headers. Oversized values are ignored.
func Extract(ctx context.Context, h http.Header) context.Context {
	if v := h.Get(TraceHeader); v != "" && len(v) <= maxHeaderLen {
		ctx = context.WithValue(ctx, traceIDKey, TraceID(v))
	}
	if v := h.Get(SpanHeader); v != "" && len(v) <= maxHeaderLen {
		ctx = context.WithValue(ctx, spanIDKey, SpanID(v))
	}
	return ctx
}

const maxHeaderLen = 128
