package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SpanDoc is a span as persisted to disk.
type SpanDoc struct {
	SpanID     string         `json:"span_id"`
	Name       string         `json:"name"`
	ParentID   string         `json:"parent_id,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	DurationMS *float64       `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Events     []EventDoc     `json:"events"`
}

// EventDoc is an event as persisted to disk.
type EventDoc struct {
	Type EventType      `json:"event_type"`
	Data map[string]any `json:"data,omitempty"`
	Time time.Time      `json:"timestamp"`
}

// TraceDoc is the persisted trace of one task.
type TraceDoc struct {
	TaskID      string     `json:"task_id"`
	Spans       []*SpanDoc `json:"spans"`
	TotalEvents int        `json:"total_events"`
}

type taskTrace struct {
	spans  []*SpanDoc
	byID   map[string]*SpanDoc
	events int
}

// Collector aggregates records per task and saves each task's trace as
// trace_<task>.json under Dir.
type Collector struct {
	Dir string

	mu    sync.Mutex
	tasks map[string]*taskTrace
}

// NewCollector creates a collector writing under dir. An empty dir keeps
// traces in memory only.
func NewCollector(dir string) *Collector {
	return &Collector{Dir: dir, tasks: make(map[string]*taskTrace)}
}

func (c *Collector) Emit(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tt, ok := c.tasks[r.TaskID]
	if !ok {
		tt = &taskTrace{byID: make(map[string]*SpanDoc)}
		c.tasks[r.TaskID] = tt
	}

	switch r.Kind {
	case KindSpanStart:
		s := &SpanDoc{SpanID: r.SpanID, Name: r.Name, ParentID: r.ParentID, StartTime: r.Time, Metadata: r.Data, Events: []EventDoc{}}
		tt.spans = append(tt.spans, s)
		tt.byID[r.SpanID] = s
	case KindSpanEnd:
		if s, ok := tt.byID[r.SpanID]; ok {
			end := r.Time
			ms := float64(end.Sub(s.StartTime).Microseconds()) / 1000
			s.EndTime, s.DurationMS, s.Error = &end, &ms, r.Err
		}
	case KindEvent:
		s, ok := tt.byID[r.SpanID]
		if !ok {
			s = &SpanDoc{SpanID: r.SpanID, Name: "orphan", StartTime: r.Time, Events: []EventDoc{}}
			tt.spans = append(tt.spans, s)
			tt.byID[r.SpanID] = s
		}
		s.Events = append(s.Events, EventDoc{Type: r.Type, Data: r.Data, Time: r.Time})
		tt.events++
	}
}

// Trace returns a snapshot of a task's trace.
func (c *Collector) Trace(taskID string) TraceDoc {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := TraceDoc{TaskID: taskID, Spans: []*SpanDoc{}}
	tt, ok := c.tasks[taskID]
	if !ok {
		return doc
	}
	for _, s := range tt.spans {
		cp := *s
		cp.Events = append([]EventDoc(nil), s.Events...)
		doc.Spans = append(doc.Spans, &cp)
	}
	doc.TotalEvents = tt.events
	return doc
}

// EventsOf returns a task's events of type t across spans.
func (c *Collector) EventsOf(taskID string, t EventType) []EventDoc {
	var out []EventDoc
	for _, s := range c.Trace(taskID).Spans {
		for _, e := range s.Events {
			if e.Type == t {
				out = append(out, e)
			}
		}
	}
	return out
}

// Save writes the task's trace and drops it from memory. It returns the path
// written, or "" when Dir is empty.
func (c *Collector) Save(taskID string) (string, error) {
	doc := c.Trace(taskID)
	c.mu.Lock()
	delete(c.tasks, taskID)
	c.mu.Unlock()

	if c.Dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create trace dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode trace: %w", err)
	}
	path := filepath.Join(c.Dir, fmt.Sprintf("trace_%s.json", taskID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write trace: %w", err)
	}
	return path, nil
}
