package memory

import (
	"slices"
	"strings"
	"sync"
)

const workingValueLimit = 200

// Working is the in-context scratchpad of a session: recent tool results and
// the outcome of the last task, rendered into every new system prompt. It
// holds at most max keys; the least recently used key is evicted first.
type Working struct {
	mu    sync.Mutex
	max   int
	order []string // least recently used first
	items map[string]string
}

// NewWorking returns a scratchpad of at most max keys. max <= 0 means 20.
func NewWorking(max int) *Working {
	if max <= 0 {
		max = 20
	}
	return &Working{max: max, items: make(map[string]string)}
}

func (w *Working) touch(key string) {
	if i := slices.Index(w.order, key); i >= 0 {
		w.order = slices.Delete(w.order, i, i+1)
	}
	w.order = append(w.order, key)
}

// Set stores value under key, cut to 200 runes.
func (w *Working) Set(key, value string) {
	if r := []rune(value); len(r) > workingValueLimit {
		value = string(r[:workingValueLimit]) + "..."
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items[key] = value
	w.touch(key)
	for len(w.order) > w.max {
		delete(w.items, w.order[0])
		w.order = w.order[1:]
	}
}

// Get returns the value under key and marks it recently used.
func (w *Working) Get(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.items[key]
	if ok {
		w.touch(key)
	}
	return v, ok
}

// Delete removes key and reports whether it was present.
func (w *Working) Delete(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.items[key]; !ok {
		return false
	}
	delete(w.items, key)
	w.order = slices.DeleteFunc(w.order, func(k string) bool { return k == key })
	return true
}

// Keys returns the keys, least recently used first.
func (w *Working) Keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.order)
}

// Len returns the number of keys.
func (w *Working) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Clear drops every key.
func (w *Working) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.order = nil
	clear(w.items)
}

// Context renders the scratchpad for a system prompt, or "" when empty.
func (w *Working) Context() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Working memory:")
	for _, k := range w.order {
		b.WriteString("\n  " + k + ": " + strings.ReplaceAll(w.items[k], "\n", " "))
	}
	return b.String()
}
