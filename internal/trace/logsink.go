package trace

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// LogSink mirrors records into a logger as key=value lines.
type LogSink struct {
	L *log.Logger
	// Events limits which event types are logged; empty logs all of them.
	Events map[EventType]bool

	mu sync.Mutex
}

func (s *LogSink) Emit(r Record) {
	if r.Kind == KindEvent && len(s.Events) > 0 && !s.Events[r.Type] {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "task=%s span=%s", r.TaskID, r.SpanID)
	switch r.Kind {
	case KindSpanStart:
		fmt.Fprintf(&b, " start=%s", r.Name)
	case KindSpanEnd:
		fmt.Fprintf(&b, " end=%s", r.Name)
	default:
		fmt.Fprintf(&b, " event=%s", r.Type)
	}
	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, r.Data[k])
	}
	if r.Err != "" {
		fmt.Fprintf(&b, " error=%q", r.Err)
	}

	s.mu.Lock()
	s.L.Print(b.String())
	s.mu.Unlock()
}
