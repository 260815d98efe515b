package engine

import (
	"context"
	"time"
)

type Hook interface {
	OnIterationStart(ctx context.Context, st *State)
	OnBeforeLLM(ctx context.Context, st *State, messages []ChatMessage, toolSchemas []ToolSchema)
	OnAfterLLM(ctx context.Context, st *State, resp LLMResponse)
	OnToolCall(ctx context.Context, st *State, call ToolCall)
	OnToolResult(ctx context.Context, st *State, result ToolResult)
	OnRetryAttempt(ctx context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error)
	OnStatus(ctx context.Context, st *State, from, to LoopStatus)
	OnDone(ctx context.Context, st *State)
}

// NopHook lets you implement only the hooks you need.
type NopHook struct{}

func (NopHook) OnIterationStart(context.Context, *State)                                {}
func (NopHook) OnBeforeLLM(context.Context, *State, []ChatMessage, []ToolSchema)        {}
func (NopHook) OnAfterLLM(context.Context, *State, LLMResponse)                         {}
func (NopHook) OnToolCall(context.Context, *State, ToolCall)                            {}
func (NopHook) OnToolResult(context.Context, *State, ToolResult)                        {}
func (NopHook) OnRetryAttempt(context.Context, *State, int, int, time.Duration, error)  {}
func (NopHook) OnStatus(context.Context, *State, LoopStatus, LoopStatus)                {}
func (NopHook) OnDone(context.Context, *State)                                          {}
