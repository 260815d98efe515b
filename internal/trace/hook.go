package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

// Hook turns loop callbacks into records under Parent: one "iteration" span
// per reasoning round with its LLM and tool events inside.
type Hook struct {
	Parent *Span
	iter   *Span
}

// NewHook creates a hook recording under parent.
func NewHook(parent *Span) *Hook { return &Hook{Parent: parent} }

var _ engine.Hook = (*Hook)(nil)

func (h *Hook) span() *Span {
	if h.iter != nil {
		return h.iter
	}
	return h.Parent
}

func (h *Hook) OnIterationStart(_ context.Context, st *engine.State) {
	h.iter.End(nil)
	h.iter = h.Parent.Child(fmt.Sprintf("iteration_%d", st.Iteration+1), map[string]any{"iteration": st.Iteration + 1})
}

func (h *Hook) OnBeforeLLM(_ context.Context, st *engine.State, msgs []engine.ChatMessage, schemas []engine.ToolSchema) {
	h.span().Event(LLMRequest, map[string]any{
		"model":    st.Model,
		"messages": len(msgs),
		"tools":    len(schemas),
		"tokens":   engine.EstimateMessages(msgs) + engine.EstimateSchemas(schemas),
	})
}

func (h *Hook) OnAfterLLM(_ context.Context, _ *engine.State, r engine.LLMResponse) {
	h.span().Event(LLMResponse, map[string]any{
		"finish_reason":     r.FinishReason,
		"tool_calls":        len(r.ToolCalls),
		"prompt_tokens":     r.Usage.Prompt,
		"completion_tokens": r.Usage.Completion,
	})
	if r.Assistant.Content != "" && len(r.ToolCalls) > 0 {
		h.span().Event(Thought, map[string]any{"content": engine.Truncate(r.Assistant.Content, 500)})
	}
}

func (h *Hook) OnToolCall(_ context.Context, _ *engine.State, c engine.ToolCall) {
	h.span().Event(ToolCall, map[string]any{"tool": c.Name, "call_id": c.ID, "args": fmt.Sprint(c.Args)})
}

func (h *Hook) OnToolResult(_ context.Context, _ *engine.State, r engine.ToolResult) {
	data := map[string]any{
		"tool":        r.Name,
		"call_id":     r.CallID,
		"success":     r.Success,
		"duration_ms": r.Duration.Milliseconds(),
		"output":      engine.Truncate(r.Output, 200),
	}
	if r.Error != "" {
		data["error"] = r.Error
	}
	h.span().Event(ToolResult, data)
}

func (h *Hook) OnRetryAttempt(_ context.Context, _ *engine.State, attempt, maxAttempts int, delay time.Duration, err error) {
	h.span().Event(Error, map[string]any{
		"retry":        attempt,
		"max_attempts": maxAttempts,
		"delay_ms":     delay.Milliseconds(),
		"error":        fmt.Sprint(err),
	})
}

func (h *Hook) OnStatus(context.Context, *engine.State, engine.LoopStatus, engine.LoopStatus) {}

func (h *Hook) OnDone(_ context.Context, st *engine.State) {
	var err error
	if st.Status != engine.StatusCompleted && st.LastError != nil {
		err = st.LastError
	}
	h.iter.End(err)
	h.iter = nil
}
