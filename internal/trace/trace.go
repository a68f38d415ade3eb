// Package trace carries trace and span ids through contexts, HTTP requests,
// gRPC metadata, and log records.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// Propagation keys, shared by HTTP headers and gRPC metadata.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

type ctxKey struct{}

// Context identifies one span within a trace.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New starts a trace.
func New() Context {
	return Context{TraceID: generateTraceID(), SpanID: generateSpanID()}
}

// NewChild opens a span under parent.
func NewChild(parent Context) Context {
	return Context{TraceID: parent.TraceID, SpanID: generateSpanID(), ParentSpanID: parent.SpanID}
}

func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns the trace on ctx, starting one if there is none.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// 128-bit trace ids and 64-bit span ids, hex encoded.
func generateTraceID() string { return randomHex(16) }
func generateSpanID() string  { return randomHex(8) }

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ToMap exports the context for headers or metadata.
func (c Context) ToMap() map[string]string {
	m := map[string]string{TraceIDKey: c.TraceID, SpanIDKey: c.SpanID}
	if c.ParentSpanID != "" {
		m[ParentSpanIDKey] = c.ParentSpanID
	}
	return m
}

// FromMap continues a caller's trace: the caller's span becomes the parent of
// a fresh span. A missing trace id starts a new trace.
func FromMap(m map[string]string) Context {
	tc := Context{TraceID: m[TraceIDKey], SpanID: generateSpanID(), ParentSpanID: m[SpanIDKey]}
	if tc.TraceID == "" {
		tc.TraceID = generateTraceID()
	}
	return tc
}

// Span times one operation.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time

	mu    sync.Mutex
	Attrs map[string]any
	Err   error
}

// StartSpan opens a span under the trace on ctx, or a new trace.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = NewChild(parent)
	}
	s := &Span{Name: name, Ctx: tc, StartTime: time.Now(), Attrs: make(map[string]any)}
	return WithContext(ctx, tc), s
}

// End closes the span and logs it at debug level, or warn when it failed.
func (s *Span) End() {
	s.mu.Lock()
	s.EndTime = time.Now()
	failed := s.Err != nil
	s.mu.Unlock()

	if failed {
		slog.Warn("span failed", "span", s)
		return
	}
	slog.Debug("span finished", "span", s)
}

func (s *Span) SetAttr(key string, val any) {
	s.mu.Lock()
	s.Attrs[key] = val
	s.mu.Unlock()
}

// SetError records why the span failed.
func (s *Span) SetError(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.ParentSpanID))
	}
	if s.Err != nil {
		attrs = append(attrs, slog.String("error", s.Err.Error()))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with the trace on ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := []any{"trace_id", tc.TraceID, "span_id", tc.SpanID}
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}
