// Package enginetest provides a scripted oracle for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

// ErrScriptExhausted is returned when a ScriptedLLM runs out of replies.
var ErrScriptExhausted = errors.New("bad request: script exhausted")

// Reply is one scripted oracle response.
type Reply struct {
	Resp  engine.LLMResponse
	Err   error
	Delay time.Duration // honours ctx cancellation
}

// ScriptedLLM replays Replies in order. When Func is set it is used instead.
type ScriptedLLM struct {
	Replies  []Reply
	Fallback *Reply
	Func     func(ctx context.Context, messages []engine.ChatMessage) (engine.LLMResponse, error)

	mu    sync.Mutex
	calls [][]engine.ChatMessage
	opts  []engine.ChatOptions
}

func (m *ScriptedLLM) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	m.mu.Lock()
	i := len(m.calls)
	m.calls = append(m.calls, append([]engine.ChatMessage(nil), messages...))
	m.opts = append(m.opts, opts)
	m.mu.Unlock()

	if m.Func != nil {
		return m.Func(ctx, messages)
	}

	var r Reply
	switch {
	case i < len(m.Replies):
		r = m.Replies[i]
	case m.Fallback != nil:
		r = *m.Fallback
	default:
		return engine.LLMResponse{}, ErrScriptExhausted
	}
	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return engine.LLMResponse{}, ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	return r.Resp, r.Err
}

// CallCount returns the number of Chat invocations.
func (m *ScriptedLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Call returns the messages sent on the i-th invocation.
func (m *ScriptedLLM) Call(i int) []engine.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

// Answer builds a final-answer response.
func Answer(text string) Reply {
	return Reply{Resp: engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: text},
		Usage:        engine.Usage{Prompt: 100, Completion: 20, Total: 120},
		FinishReason: "stop",
	}}
}

// Calls builds a response requesting the given tool calls. IDs are filled in
// when empty.
func Calls(calls ...engine.ToolCall) Reply {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("call_%d", i+1)
		}
	}
	return Reply{Resp: engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant},
		ToolCalls:    calls,
		Usage:        engine.Usage{Prompt: 100, Completion: 20, Total: 120},
		FinishReason: "tool_calls",
	}}
}

// Fail builds an error reply.
func Fail(err error) Reply { return Reply{Err: err} }

// Call is a shorthand for a ToolCall.
func Call(name string, args map[string]any) engine.ToolCall {
	return engine.ToolCall{Name: name, Args: args}
}

// FastRetry is a retry config without delays.
func FastRetry() engine.RetryConfig {
	p := engine.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return engine.RetryConfig{LLMPolicy: p, ToolPolicy: p}
}
