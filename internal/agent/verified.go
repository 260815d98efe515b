package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/trace"
	"github.com/ChamsBouzaiene/forge/internal/verify"
)

// outcome is the result of one verified loop.
type outcome struct {
	status   Status
	answer   string
	feedback string
	chain    []engine.ChainStep
	changed  []string
	attempts int // verification runs
	err      error
}

func (o outcome) text() string {
	if o.status == Completed {
		return o.answer
	}
	if o.err != nil {
		return o.err.Error()
	}
	return ""
}

// runVerified runs the loop to completion and verifies the files it changed.
// A failed verification is fed back with Loop.Resume; after MaxAttempts
// failing runs the outcome is Failed with the last feedback attached.
func (a *Agent) runVerified(ctx context.Context, r *run, span *trace.Span, st *engine.State) outcome {
	st.Workspace = r.workspace
	lp := a.loop(r, span)
	w := a.openWindow()
	maxAttempts := a.maxAttempts()

	out := outcome{}
	err := lp.Run(ctx, st)
	for {
		out.chain = st.Chain
		if st.Status != engine.StatusCompleted {
			out.answer = partialAnswer(st)
			out.err = err
			if st.Status == engine.StatusAborted {
				out.status = Aborted
			} else {
				out.status = Failed
			}
			return out
		}
		out.answer = st.Answer
		out.changed = a.changed(st, w)

		vspan := span.Child("verification", map[string]any{"attempt": out.attempts + 1, "files": len(out.changed)})
		r.pipeline.OnCheck = func(c verify.Check) {
			vspan.Event(trace.CriticCheck, map[string]any{
				"stage":   c.Stage,
				"name":    c.Name,
				"status":  string(c.Status),
				"message": c.Message,
			})
		}
		rep := r.pipeline.Run(ctx, verify.Artifact{
			TaskID:      r.task.ID,
			Description: r.task.Description,
			RepoRoot:    a.Root,
			Changed:     out.changed,
			Workspace:   r.workspace,
		})
		out.attempts++

		if rep.Err != nil {
			vspan.End(rep.Err)
			out.status = Aborted
			out.err = rep.Err
			return out
		}
		if rep.Passed() {
			vspan.End(nil)
			out.status = Completed
			out.feedback = ""
			return out
		}

		out.feedback = rep.Feedback()
		verr := fmt.Errorf("%w: %s", engine.ErrVerification, headline(rep))
		vspan.End(verr)
		if out.attempts >= maxAttempts {
			out.status = Failed
			out.err = fmt.Errorf("%w after %d attempts", verr, out.attempts)
			return out
		}
		err = lp.Resume(ctx, st, out.feedback)
	}
}

func headline(rep verify.Report) string {
	if fails := rep.Failures(); len(fails) > 0 {
		return fails[0].Name + ": " + fails[0].Message
	}
	return "no passing checks"
}

// window is the span of one verified loop as the change tracker sees it.
type window struct {
	start time.Time
	epoch int64 // Submit calls so far
	solo  bool  // no other task was in flight at start
}

func (a *Agent) openWindow() window {
	return window{start: time.Now(), epoch: a.submitted.Load(), solo: a.running.Load() <= 1}
}

// changed merges the paths written through mutating tools with what the
// change tracker saw since the window opened. Tracker paths are dropped when
// another task ran during the window, since they may be that task's writes.
func (a *Agent) changed(st *engine.State, w window) []string {
	paths := st.ChangedPaths()
	if a.Tracker == nil {
		return paths
	}
	a.Tracker.Settle(100*time.Millisecond, time.Second)
	seen := a.Tracker.Since(w.start)
	if !w.solo || a.submitted.Load() != w.epoch {
		return paths
	}
	return mergePaths(paths, seen)
}

// partialAnswer is the last thing the oracle said before the loop stopped.
func partialAnswer(st *engine.State) string {
	if st.Answer != "" {
		return st.Answer
	}
	for i := len(st.History) - 1; i >= 0; i-- {
		m := st.History[i]
		if m.Role == engine.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}
