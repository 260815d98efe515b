package trace

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OtelSink maps spans and events onto OpenTelemetry spans. Pass a provider
// from NewOTLPProvider, or nil to use whatever the host program installed
// globally; with neither the sink records nothing.
type OtelSink struct {
	tracer oteltrace.Tracer

	mu    sync.Mutex
	spans map[string]oteltrace.Span
	ctxs  map[string]context.Context
}

// NewOtelSink uses tp, or the global provider when tp is nil.
func NewOtelSink(tp oteltrace.TracerProvider) *OtelSink {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OtelSink{
		tracer: tp.Tracer("github.com/ChamsBouzaiene/forge"),
		spans:  make(map[string]oteltrace.Span),
		ctxs:   make(map[string]context.Context),
	}
}

func (s *OtelSink) Emit(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Kind {
	case KindSpanStart:
		parent := context.Background()
		if pctx, ok := s.ctxs[r.ParentID]; ok {
			parent = pctx
		}
		attrs := append([]attribute.KeyValue{attribute.String("forge.task_id", r.TaskID)}, attrsOf(r.Data)...)
		ctx, span := s.tracer.Start(parent, r.Name,
			oteltrace.WithTimestamp(r.Time),
			oteltrace.WithAttributes(attrs...))
		s.spans[r.SpanID] = span
		s.ctxs[r.SpanID] = ctx

	case KindSpanEnd:
		span, ok := s.spans[r.SpanID]
		if !ok {
			return
		}
		if r.Err != "" {
			span.SetStatus(codes.Error, r.Err)
		}
		span.End(oteltrace.WithTimestamp(r.Time))
		delete(s.spans, r.SpanID)
		delete(s.ctxs, r.SpanID)

	case KindEvent:
		span, ok := s.spans[r.SpanID]
		if !ok {
			return
		}
		span.AddEvent(string(r.Type), oteltrace.WithTimestamp(r.Time), oteltrace.WithAttributes(attrsOf(r.Data)...))
	}
}

// Open returns the number of spans started but not yet ended.
func (s *OtelSink) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spans)
}

func attrsOf(data map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(data))
	for k, v := range data {
		key := "forge." + k
		switch x := v.(type) {
		case string:
			out = append(out, attribute.String(key, x))
		case bool:
			out = append(out, attribute.Bool(key, x))
		case int:
			out = append(out, attribute.Int(key, x))
		case int64:
			out = append(out, attribute.Int64(key, x))
		case float64:
			out = append(out, attribute.Float64(key, x))
		case []string:
			out = append(out, attribute.StringSlice(key, x))
		default:
			out = append(out, attribute.String(key, fmt.Sprint(x)))
		}
	}
	return out
}
