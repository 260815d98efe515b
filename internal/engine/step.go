package engine

import (
	"context"
	"sync"
	"time"
)

const emptyResponseNudge = "Your last reply had neither a tool call nor an answer. Call a tool or reply with the final answer."

// stepOnce performs one reasoning call and executes the requested tools.
// It returns done=true once the state is terminal.
func (l *Loop) stepOnce(ctx context.Context, st *State, opts LoopOptions) (bool, error) {
	schemas := l.Registry.Schemas()
	msgs := compactHistory(st.History, opts.KeepToolCycles, opts.MaxObservationChars)
	l.Hooks.OnBeforeLLM(ctx, st, msgs, schemas)

	st.Iteration++
	resp, err := RetryLLMCall(ctx, opts.Retry.LLMPolicy, l.LLM, st.Model, msgs, schemas, opts.Chat, opts.OracleTimeout,
		func(attempt int, delay time.Duration, err error) {
			l.Hooks.OnRetryAttempt(ctx, st, attempt, opts.Retry.LLMPolicy.MaxRetries, delay, err)
		})
	if err != nil {
		status, cause := classifyLLMFailure(ctx, err)
		return true, l.finish(ctx, st, status, WrapWithContext(cause, st, "llm_call", ""))
	}

	st.Totals = st.Totals.Add(resp.Usage)
	l.Hooks.OnAfterLLM(ctx, st, resp)

	msg := resp.Assistant
	msg.Role = RoleAssistant
	msg.ToolCalls = resp.ToolCalls
	st.Append(msg)

	if len(resp.ToolCalls) == 0 {
		if resp.Assistant.Content == "" {
			st.Append(ChatMessage{Role: RoleUser, Content: emptyResponseNudge})
			return false, nil
		}
		st.Answer = resp.Assistant.Content
		return true, l.finish(ctx, st, StatusCompleted, nil)
	}

	l.transition(ctx, st, StatusExecutingTools)
	results := l.executeTools(ctx, st, resp.ToolCalls)
	// Every executed call is recorded before the failure limit is applied.
	var fail *ToolFailureError
	for _, r := range results {
		st.Append(ChatMessage{Role: RoleTool, Name: r.CallID, Content: r.Observation()})
		st.Results = append(st.Results, r)
		if r.Success {
			st.Chain = append(st.Chain, ChainStep{Tool: r.Name, Args: r.Args})
			delete(st.FailureCounts, r.Name)
			continue
		}
		if r.Violation {
			continue
		}
		st.FailureCounts[r.Name]++
		if fail == nil && st.FailureCounts[r.Name] >= opts.MaxToolFailures {
			fail = &ToolFailureError{ToolName: r.Name, Failures: st.FailureCounts[r.Name], Last: r.Error}
		}
	}
	if fail != nil {
		return true, l.finish(ctx, st, StatusFailed, WrapWithContext(fail, st, "tool_execution", fail.ToolName))
	}

	// Calls left without a result were interrupted by cancellation and stay pending.
	if len(results) < len(resp.ToolCalls) {
		return true, l.finish(ctx, st, StatusAborted, WrapWithContext(context.Cause(ctx), st, "tool_execution", ""))
	}

	l.transition(ctx, st, StatusAwaitingReasoning)
	return false, nil
}

// executeTools dispatches calls in order. Consecutive read-only calls with
// declared, pairwise disjoint footprints form one concurrent batch. Every other
// call runs alone; mutating and process-spawning calls hold the workspace lock.
// Hooks fire from this goroutine only.
func (l *Loop) executeTools(ctx context.Context, st *State, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for i := 0; i < len(calls); {
		if ctx.Err() != nil {
			break
		}
		batch := l.nextBatch(calls[i:])
		for _, c := range batch {
			l.Hooks.OnToolCall(ctx, st, c)
		}
		out := l.runBatch(ctx, st, batch)
		for _, r := range out {
			l.Hooks.OnToolResult(ctx, st, r)
		}
		results = append(results, out...)
		i += len(batch)
	}
	return results
}

func (l *Loop) footprint(call ToolCall) ([]string, bool) {
	t, ok := l.Registry.Lookup(call.Name)
	if !ok || call.Error != "" || t.SideEffect != ReadOnly || t.Footprint == nil {
		return nil, false
	}
	return t.Footprint(call.Args), true
}

func (l *Loop) nextBatch(calls []ToolCall) []ToolCall {
	fp, ok := l.footprint(calls[0])
	if !ok {
		return calls[:1]
	}
	used := make(map[string]bool, len(fp))
	for _, r := range fp {
		used[r] = true
	}
	n := 1
	for ; n < len(calls); n++ {
		next, ok := l.footprint(calls[n])
		if !ok || overlaps(used, next) {
			break
		}
		for _, r := range next {
			used[r] = true
		}
	}
	return calls[:n]
}

func overlaps(used map[string]bool, fp []string) bool {
	for _, r := range fp {
		if used[r] {
			return true
		}
	}
	return false
}

func (l *Loop) runBatch(ctx context.Context, st *State, batch []ToolCall) []ToolResult {
	if len(batch) == 1 {
		return []ToolResult{l.dispatchOne(ctx, st, batch[0])}
	}

	var wg sync.WaitGroup
	out := make([]ToolResult, len(batch))
	for i, call := range batch {
		wg.Add(1)
		go func(i int, c ToolCall) {
			defer wg.Done()
			out[i] = l.Registry.Dispatch(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return out
}

func (l *Loop) dispatchOne(ctx context.Context, st *State, call ToolCall) ToolResult {
	if t, ok := l.Registry.Lookup(call.Name); ok && t.SideEffect != ReadOnly {
		st.Workspace.Lock()
		defer st.Workspace.Unlock()
	}
	return l.Registry.Dispatch(ctx, call)
}
