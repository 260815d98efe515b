package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/trace"
	"github.com/ChamsBouzaiene/forge/internal/verify"
)

// ErrReplayFailed means a cached chain could not be re-executed as stored.
var ErrReplayFailed = errors.New("replay failed")

// Replay re-executes a cached chain against reg without the oracle. Every
// step is validated against the current schemas before any step runs, so a
// chain recorded against an older tool set fails without side effects. The
// first failed step stops the replay; the results so far are returned.
func Replay(ctx context.Context, reg *engine.Registry, chain []engine.ChainStep) ([]engine.ToolResult, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty chain", ErrReplayFailed)
	}
	for i, step := range chain {
		if err := reg.Validate(step.Tool, step.Args); err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrReplayFailed, i+1, err)
		}
	}

	results := make([]engine.ToolResult, 0, len(chain))
	for i, step := range chain {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("%w: %w", ErrReplayFailed, err)
		}
		res := reg.Dispatch(ctx, engine.ToolCall{ID: fmt.Sprintf("replay_%d", i+1), Name: step.Tool, Args: step.Args})
		results = append(results, res)
		if !res.Success {
			return results, fmt.Errorf("%w: step %d (%s): %s", ErrReplayFailed, i+1, step.Tool, res.Error)
		}
	}
	return results, nil
}

// tryReplay looks the task up in the cache and, on a hit, replays and
// verifies the stored chain. It reports whether the task completed; any
// failure leaves the task running for full reasoning.
func (a *Agent) tryReplay(ctx context.Context, r *run) bool {
	if a.Cache == nil {
		return false
	}
	hit, similarity, err := a.Cache.Lookup(r.metered(ctx), r.task.Description)
	if err != nil {
		log.Printf("WARNING: cache lookup for task %s: %v", r.task.ID, err)
		return false
	}
	if hit == nil {
		r.span.Event(trace.CacheMiss, map[string]any{"best_similarity": similarity})
		return false
	}
	defer hit.Release()
	r.span.Event(trace.CacheHit, map[string]any{
		"entry":      hit.ID,
		"similarity": hit.Similarity,
		"steps":      len(hit.Chain),
		"uses":       hit.UsageCount,
	})

	span := r.span.Child("replay", map[string]any{"entry": hit.ID, "steps": len(hit.Chain)})
	r.workspace.Lock()
	results, err := Replay(ctx, a.Registry, hit.Chain)
	r.workspace.Unlock()
	for _, res := range results {
		data := map[string]any{"tool": res.Name, "success": res.Success, "output": engine.Truncate(res.Output, 200)}
		if res.Error != "" {
			data["error"] = res.Error
		}
		span.Event(trace.ToolResult, data)
	}
	if err != nil {
		span.End(err)
		log.Printf("task %s: %v; falling back to reasoning", r.task.ID, err)
		return false
	}

	st := &engine.State{Results: results}
	changed := mergePaths(st.ChangedPaths(), hit.FilesModified)
	// A replay spends no reasoning calls, so the oracle review is left out.
	pipeline := r.pipeline.Without("rubric")
	pipeline.OnCheck = func(c verify.Check) {
		span.Event(trace.CriticCheck, map[string]any{"stage": c.Stage, "name": c.Name, "status": string(c.Status), "message": c.Message})
	}
	rep := pipeline.Run(ctx, verify.Artifact{
		TaskID:      r.task.ID,
		Description: r.task.Description,
		RepoRoot:    a.Root,
		Changed:     changed,
		Workspace:   r.workspace,
	})
	r.task.Verifications++
	if !rep.Passed() {
		verr := rep.Err
		if verr == nil {
			verr = fmt.Errorf("%w: %s", engine.ErrVerification, headline(rep))
		}
		span.End(verr)
		r.task.Feedback = rep.Feedback()
		log.Printf("task %s: replayed chain failed verification; falling back to reasoning", r.task.ID)
		return false
	}
	span.End(nil)

	chain := make([]engine.ChainStep, len(results))
	for i, res := range results {
		chain[i] = engine.ChainStep{Tool: res.Name, Args: res.Args}
	}
	r.task.Replayed = true
	r.task.Chain = chain
	r.task.Changed = changed
	r.task.Feedback = ""
	r.task.finish(Completed, replayAnswer(results), nil)
	return true
}

// replayAnswer renders the answer from the fresh outputs, since the cached
// answer may describe a repository state that no longer exists.
func replayAnswer(results []engine.ToolResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Replayed %d cached tool call(s):\n", len(results))
	for i, res := range results {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n", i+1, res.Name, engine.Truncate(strings.TrimSpace(res.Output), 1000))
	}
	return strings.TrimRight(b.String(), "\n")
}
