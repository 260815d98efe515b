package engine

import (
	"context"
	"log"
	"time"
)

type LoggerHook struct{ L *log.Logger }

func (h LoggerHook) OnIterationStart(_ context.Context, st *State) {
	h.L.Printf("task=%s iter=%d status=%s", st.TaskID, st.Iteration, st.Status)
}
func (h LoggerHook) OnBeforeLLM(_ context.Context, st *State, msgs []ChatMessage, toolSchemas []ToolSchema) {
	h.L.Printf("task=%s iter=%d llm_request msgs=%d tokens=~%d tools=%d",
		st.TaskID, st.Iteration, len(msgs), EstimateMessages(msgs)+EstimateSchemas(toolSchemas), len(toolSchemas))
}
func (h LoggerHook) OnAfterLLM(_ context.Context, st *State, r LLMResponse) {
	h.L.Printf("task=%s finish=%s calls=%d tokens: prompt=%d completion=%d (cumulative=%d)",
		st.TaskID, r.FinishReason, len(r.ToolCalls), r.Usage.Prompt, r.Usage.Completion, st.Totals.Total)
}
func (h LoggerHook) OnToolCall(_ context.Context, st *State, c ToolCall) {
	h.L.Printf("task=%s tool → %s args=%v", st.TaskID, c.Name, c.Args)
}
func (h LoggerHook) OnToolResult(_ context.Context, st *State, r ToolResult) {
	if !r.Success {
		h.L.Printf("task=%s tool %s error: %s (%s)", st.TaskID, r.Name, r.Error, r.Duration)
		return
	}
	preview := r.Output
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	h.L.Printf("task=%s tool %s result: %s (%s)", st.TaskID, r.Name, preview, r.Duration)
}
func (h LoggerHook) OnRetryAttempt(_ context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	h.L.Printf("task=%s retry attempt=%d/%d delay=%v error=%v", st.TaskID, attempt, maxAttempts, delay, err)
}
func (h LoggerHook) OnStatus(_ context.Context, st *State, from, to LoopStatus) {
	h.L.Printf("task=%s status %s → %s", st.TaskID, from, to)
}
func (h LoggerHook) OnDone(_ context.Context, st *State) {
	h.L.Printf("task=%s done: status=%s iterations=%d tokens=%d", st.TaskID, st.Status, st.Iteration, st.Totals.Total)
}
