package trace

import (
	"time"

	"github.com/google/uuid"
)

// Tracer emits the records of one task. A nil *Tracer is valid and records
// nothing, as are the spans it hands out.
type Tracer struct {
	sink   Sink
	taskID string
	now    func() time.Time
}

// New creates a tracer for taskID.
func New(sink Sink, taskID string) *Tracer {
	if sink == nil {
		sink = Discard
	}
	return &Tracer{sink: sink, taskID: taskID, now: time.Now}
}

// TaskID returns the traced task.
func (t *Tracer) TaskID() string {
	if t == nil {
		return ""
	}
	return t.taskID
}

// Span is an open unit of work.
type Span struct {
	t      *Tracer
	id     string
	parent string
	name   string
	ended  bool
}

func newID() string {
	return uuid.NewString()[:12]
}

// Start opens a span under parent, which may be nil for a root span.
func (t *Tracer) Start(parent *Span, name string, data map[string]any) *Span {
	if t == nil {
		return nil
	}
	s := &Span{t: t, id: newID(), name: name}
	if parent != nil {
		s.parent = parent.id
	}
	t.sink.Emit(Record{
		Kind:     KindSpanStart,
		TaskID:   t.taskID,
		SpanID:   s.id,
		ParentID: s.parent,
		Name:     name,
		Data:     data,
		Time:     t.now(),
	})
	return s
}

// ID returns the span id.
func (s *Span) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Child opens a span under s.
func (s *Span) Child(name string, data map[string]any) *Span {
	if s == nil {
		return nil
	}
	return s.t.Start(s, name, data)
}

// Event records a point event inside the span.
func (s *Span) Event(typ EventType, data map[string]any) {
	if s == nil {
		return
	}
	s.t.sink.Emit(Record{
		Kind:     KindEvent,
		TaskID:   s.t.taskID,
		SpanID:   s.id,
		ParentID: s.parent,
		Type:     typ,
		Data:     data,
		Time:     s.t.now(),
	})
}

// End closes the span. Only the first call has an effect.
func (s *Span) End(err error) {
	if s == nil || s.ended {
		return
	}
	s.ended = true
	r := Record{
		Kind:     KindSpanEnd,
		TaskID:   s.t.taskID,
		SpanID:   s.id,
		ParentID: s.parent,
		Name:     s.name,
		Time:     s.t.now(),
	}
	if err != nil {
		r.Err = err.Error()
	}
	s.t.sink.Emit(r)
}
