package engine

import (
	"context"
	"time"
)

type Event struct {
	Kind   string // "iteration", "tool_start", "tool_done", "status", "retry_attempt", "done"
	TaskID string
	Data   any
}

// ChannelHook bridges engine → CLI progress output. Sends never block: a
// full channel drops the event.
type ChannelHook struct{ Ch chan<- Event }

func (h ChannelHook) send(st *State, kind string, data any) {
	select {
	case h.Ch <- Event{Kind: kind, TaskID: st.TaskID, Data: data}:
	default:
	}
}

func (h ChannelHook) OnIterationStart(_ context.Context, st *State) {
	h.send(st, "iteration", st.Iteration)
}
func (h ChannelHook) OnBeforeLLM(context.Context, *State, []ChatMessage, []ToolSchema) {}
func (h ChannelHook) OnAfterLLM(_ context.Context, st *State, r LLMResponse) {
	if r.Assistant.Content != "" && len(r.ToolCalls) > 0 {
		h.send(st, "thought", r.Assistant.Content)
	}
}
func (h ChannelHook) OnToolCall(_ context.Context, st *State, c ToolCall) {
	h.send(st, "tool_start", c.Name)
}
func (h ChannelHook) OnToolResult(_ context.Context, st *State, r ToolResult) {
	h.send(st, "tool_done", map[string]any{"tool": r.Name, "success": r.Success, "error": r.Error})
}
func (h ChannelHook) OnRetryAttempt(_ context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	h.send(st, "retry_attempt", map[string]any{
		"attempt":     attempt,
		"maxAttempts": maxAttempts,
		"delay":       delay,
		"error":       err.Error(),
	})
}
func (h ChannelHook) OnStatus(_ context.Context, st *State, _, to LoopStatus) {
	h.send(st, "status", string(to))
}
func (h ChannelHook) OnDone(_ context.Context, st *State) {
	h.send(st, "done", st.Totals)
}
