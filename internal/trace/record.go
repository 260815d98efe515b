// Package trace records what a task did as hierarchical spans and typed
// events, and fans the records out to pluggable sinks.
package trace

import (
	"sync"
	"time"
)

// Kind distinguishes span boundaries from point events.
type Kind string

const (
	KindSpanStart Kind = "span_start"
	KindSpanEnd   Kind = "span_end"
	KindEvent     Kind = "event"
)

// EventType classifies an event.
type EventType string

const (
	LLMRequest    EventType = "llm_request"
	LLMResponse   EventType = "llm_response"
	ToolCall      EventType = "tool_call"
	ToolResult    EventType = "tool_result"
	Thought       EventType = "thought"
	PlanStep      EventType = "plan_step"
	CriticCheck   EventType = "critic_check"
	CacheHit      EventType = "cache_hit"
	CacheMiss     EventType = "cache_miss"
	MemoryStore   EventType = "memory_store"
	MemoryRecall  EventType = "memory_recall"
	Error         EventType = "error"
	BudgetWarning EventType = "budget_warning"
	Route         EventType = "route"
)

// Record is one trace record.
type Record struct {
	Kind     Kind           `json:"kind"`
	TaskID   string         `json:"task_id"`
	SpanID   string         `json:"span_id"`
	ParentID string         `json:"parent_id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Type     EventType      `json:"type,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Time     time.Time      `json:"time"`
	Err      string         `json:"error,omitempty"`
}

// Sink receives records. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Record)
}

// Multi fans records out to several sinks.
type Multi []Sink

func (m Multi) Emit(r Record) {
	for _, s := range m {
		if s != nil {
			s.Emit(r)
		}
	}
}

// Discard drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Record) {}

// Memory keeps every record in order. Mostly useful in tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Emit(r Record) {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
}

// Records returns a copy of what was emitted.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Events returns the events of type t.
func (m *Memory) Events(t EventType) []Record {
	var out []Record
	for _, r := range m.Records() {
		if r.Kind == KindEvent && r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// Spans returns the names of started spans, in order.
func (m *Memory) Spans() []string {
	var out []string
	for _, r := range m.Records() {
		if r.Kind == KindSpanStart {
			out = append(out, r.Name)
		}
	}
	return out
}
