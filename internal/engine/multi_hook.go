package engine

import (
	"context"
	"time"
)

// Hooks fans out every callback. The loop only invokes hooks from its own
// goroutine, so implementations need no locking for loop callbacks.
type Hooks []Hook

func (hs Hooks) each(fn func(Hook)) {
	for _, h := range hs {
		fn(h)
	}
}

func (hs Hooks) OnIterationStart(ctx context.Context, st *State) {
	hs.each(func(h Hook) { h.OnIterationStart(ctx, st) })
}
func (hs Hooks) OnBeforeLLM(ctx context.Context, st *State, m []ChatMessage, schemas []ToolSchema) {
	hs.each(func(h Hook) { h.OnBeforeLLM(ctx, st, m, schemas) })
}
func (hs Hooks) OnAfterLLM(ctx context.Context, st *State, r LLMResponse) {
	hs.each(func(h Hook) { h.OnAfterLLM(ctx, st, r) })
}
func (hs Hooks) OnToolCall(ctx context.Context, st *State, c ToolCall) {
	hs.each(func(h Hook) { h.OnToolCall(ctx, st, c) })
}
func (hs Hooks) OnToolResult(ctx context.Context, st *State, r ToolResult) {
	hs.each(func(h Hook) { h.OnToolResult(ctx, st, r) })
}
func (hs Hooks) OnRetryAttempt(ctx context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	hs.each(func(h Hook) { h.OnRetryAttempt(ctx, st, attempt, maxAttempts, delay, err) })
}
func (hs Hooks) OnStatus(ctx context.Context, st *State, from, to LoopStatus) {
	hs.each(func(h Hook) { h.OnStatus(ctx, st, from, to) })
}
func (hs Hooks) OnDone(ctx context.Context, st *State) {
	hs.each(func(h Hook) { h.OnDone(ctx, st) })
}
