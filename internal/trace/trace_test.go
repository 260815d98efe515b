package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

func TestTracerSpansAndEvents(t *testing.T) {
	mem := &Memory{}
	tr := New(mem, "t1")

	root := tr.Start(nil, "task", map[string]any{"description": "x"})
	child := root.Child("route", nil)
	child.Event(Route, map[string]any{"class": "simple"})
	child.End(nil)
	child.End(errors.New("ignored"))
	root.End(errors.New("boom"))

	recs := mem.Records()
	if len(recs) != 5 {
		t.Fatalf("records = %d, want 5", len(recs))
	}
	if recs[1].ParentID != root.ID() || recs[2].SpanID != child.ID() {
		t.Errorf("span linkage wrong: %+v", recs)
	}
	if recs[4].Kind != KindSpanEnd || recs[4].Err != "boom" {
		t.Errorf("root end = %+v", recs[4])
	}
	if got := mem.Spans(); strings.Join(got, ",") != "task,route" {
		t.Errorf("Spans() = %v", got)
	}
}

func TestNilTracerIsSafe(t *testing.T) {
	var tr *Tracer
	s := tr.Start(nil, "task", nil)
	s.Event(Error, nil)
	s.Child("x", nil).End(nil)
	s.End(nil)
	if s.ID() != "" || tr.TaskID() != "" {
		t.Error("nil tracer produced ids")
	}
}

func TestCollectorSave(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir)
	tr := New(c, "abc")

	root := tr.Start(nil, "task", nil)
	it := root.Child("iteration_1", nil)
	it.Event(LLMRequest, map[string]any{"messages": 2})
	it.Event(ToolCall, map[string]any{"tool": "read_file"})
	it.End(nil)
	root.Event(CacheMiss, nil)
	root.End(nil)

	if got := len(c.EventsOf("abc", ToolCall)); got != 1 {
		t.Errorf("EventsOf(tool_call) = %d, want 1", got)
	}

	path, err := c.Save("abc")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Base(path) != "trace_abc.json" {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc TraceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("saved trace is not JSON: %v", err)
	}
	if doc.TaskID != "abc" || len(doc.Spans) != 2 || doc.TotalEvents != 3 {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Spans[0].DurationMS == nil || doc.Spans[1].ParentID != doc.Spans[0].SpanID {
		t.Errorf("span fields missing: %+v %+v", doc.Spans[0], doc.Spans[1])
	}
	if len(c.Trace("abc").Spans) != 0 {
		t.Error("Save() did not release the task")
	}
}

func TestCollectorOrphanEvent(t *testing.T) {
	c := NewCollector("")
	c.Emit(Record{Kind: KindEvent, TaskID: "t", SpanID: "zzz", Type: Error})
	doc := c.Trace("t")
	if len(doc.Spans) != 1 || doc.Spans[0].Name != "orphan" {
		t.Errorf("Trace() = %+v", doc)
	}
	if path, err := c.Save("t"); err != nil || path != "" {
		t.Errorf("Save() without dir = %q, %v", path, err)
	}
}

func TestCollectorConcurrentTasks(t *testing.T) {
	c := NewCollector("")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := New(c, string(rune('a'+i)))
			s := tr.Start(nil, "task", nil)
			for j := 0; j < 20; j++ {
				s.Event(ToolResult, nil)
			}
			s.End(nil)
		}(i)
	}
	wg.Wait()
	for i := 0; i < 10; i++ {
		if got := c.Trace(string(rune('a' + i))).TotalEvents; got != 20 {
			t.Errorf("task %d events = %d, want 20", i, got)
		}
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := &LogSink{L: log.New(&buf, "", 0), Events: map[EventType]bool{CacheHit: true}}
	tr := New(s, "t9")
	sp := tr.Start(nil, "task", nil)
	sp.Event(CacheHit, map[string]any{"similarity": 0.9, "entry": "e1"})
	sp.Event(ToolCall, nil)
	sp.End(nil)

	out := buf.String()
	if !strings.Contains(out, "event=cache_hit entry=e1 similarity=0.9") {
		t.Errorf("log output = %q", out)
	}
	if strings.Contains(out, "tool_call") {
		t.Errorf("filtered event logged: %q", out)
	}
	if strings.Count(out, "\n") != 3 {
		t.Errorf("lines = %d, want 3", strings.Count(out, "\n"))
	}
}

func TestOtelSinkClosesSpans(t *testing.T) {
	s := NewOtelSink(noop.NewTracerProvider())
	tr := New(Multi{s, Discard}, "t")
	root := tr.Start(nil, "task", map[string]any{"n": 1, "ok": true, "tags": []string{"a"}})
	child := root.Child("step", nil)
	child.Event(PlanStep, map[string]any{"status": "running"})
	if s.Open() != 2 {
		t.Errorf("Open() = %d, want 2", s.Open())
	}
	child.End(errors.New("failed"))
	root.End(nil)
	if s.Open() != 0 {
		t.Errorf("Open() = %d after End, want 0", s.Open())
	}
}

func TestOtelSinkExportsThroughSDK(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tr := New(NewOtelSink(tp), "t")
	root := tr.Start(nil, "task", map[string]any{"description": "list files"})
	child := root.Child("verification", nil)
	child.Event(CriticCheck, map[string]any{"stage": "syntax"})
	child.End(errors.New("syntax error"))
	root.End(nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported spans = %d, want 2", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	v, ok := byName["verification"]
	if !ok || len(v.Events) != 1 || v.Events[0].Name != string(CriticCheck) {
		t.Errorf("verification span = %+v", v)
	}
	if v.Parent.SpanID() != byName["task"].SpanContext.SpanID() {
		t.Error("verification span is not a child of task")
	}
	if v.Status.Description != "syntax error" {
		t.Errorf("status = %+v", v.Status)
	}
}

func TestNewOTLPProvider(t *testing.T) {
	tp, err := NewOTLPProvider(context.Background(), "http://127.0.0.1:4318", "")
	if err != nil {
		t.Fatalf("NewOTLPProvider() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Nothing was recorded, so shutdown has nothing to send.
	if err := tp.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestHookRecordsIterations(t *testing.T) {
	mem := &Memory{}
	root := New(mem, "t").Start(nil, "task", nil)
	h := NewHook(root)
	ctx := context.Background()
	st := engine.NewState("t", "", "do it")

	for i := 0; i < 2; i++ {
		h.OnIterationStart(ctx, st)
		st.Iteration++
		h.OnBeforeLLM(ctx, st, st.History, nil)
		h.OnAfterLLM(ctx, st, engine.LLMResponse{
			Assistant: engine.ChatMessage{Content: "thinking"},
			ToolCalls: []engine.ToolCall{{ID: "c1", Name: "read_file"}},
		})
		h.OnToolCall(ctx, st, engine.ToolCall{ID: "c1", Name: "read_file"})
		h.OnToolResult(ctx, st, engine.ToolResult{CallID: "c1", Name: "read_file", Success: true})
	}
	st.Status = engine.StatusCompleted
	h.OnDone(ctx, st)

	if got := strings.Join(mem.Spans(), ","); got != "task,iteration_1,iteration_2" {
		t.Errorf("spans = %s", got)
	}
	if n := len(mem.Events(Thought)); n != 2 {
		t.Errorf("thought events = %d, want 2", n)
	}
	ends := 0
	for _, r := range mem.Records() {
		if r.Kind == KindSpanEnd {
			ends++
		}
	}
	if ends != 2 {
		t.Errorf("span ends = %d, want 2 iteration spans closed", ends)
	}
}
