package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Loop drives one reason/act conversation to a terminal status.
// A Loop holds no per-task state and may be shared across tasks.
type Loop struct {
	LLM      LLMClient
	Registry *Registry
	Hooks    Hooks
	Opts     LoopOptions
}

// Run executes the loop until the state reaches Completed, Failed or Aborted.
// The returned error is nil only for Completed; st.Status always reflects the
// outcome and st.LastError carries the cause.
func (l *Loop) Run(ctx context.Context, st *State) error {
	if st.Status.Terminal() {
		return fmt.Errorf("loop for task %s already %s", st.TaskID, st.Status)
	}
	return l.run(ctx, st)
}

// Resume reopens a Completed loop with verification feedback as the next
// observation. Iterations keep counting against the same cap.
func (l *Loop) Resume(ctx context.Context, st *State, feedback string) error {
	if st.Status != StatusCompleted {
		return fmt.Errorf("cannot resume task %s from %s", st.TaskID, st.Status)
	}
	st.Append(ChatMessage{Role: RoleUser, Content: feedback})
	st.Answer = ""
	return l.run(ctx, st)
}

func (l *Loop) run(ctx context.Context, st *State) error {
	opts := l.Opts.withDefaults()
	if st.Model == "" {
		st.Model = opts.Model
	}
	if st.MaxIterations <= 0 {
		st.MaxIterations = opts.MaxIterations
	}
	if st.FailureCounts == nil {
		st.FailureCounts = make(map[string]int)
	}
	if st.Workspace == nil {
		st.Workspace = &sync.Mutex{}
	}

	l.transition(ctx, st, StatusAwaitingReasoning)
	for {
		if err := ctx.Err(); err != nil {
			return l.finish(ctx, st, StatusAborted, fmt.Errorf("execution cancelled: %w", err))
		}
		if st.Iteration >= st.MaxIterations {
			return l.finish(ctx, st, StatusFailed, fmt.Errorf("%w: %d", ErrMaxIterations, st.MaxIterations))
		}
		l.Hooks.OnIterationStart(ctx, st)

		done, err := l.stepOnce(ctx, st, opts)
		if done {
			return err
		}
	}
}

func (l *Loop) transition(ctx context.Context, st *State, to LoopStatus) {
	from := st.Status
	if from == to {
		return
	}
	st.Status = to
	l.Hooks.OnStatus(ctx, st, from, to)
}

// finish moves the state to a terminal status. Completed returns nil.
func (l *Loop) finish(ctx context.Context, st *State, to LoopStatus, err error) error {
	l.transition(ctx, st, to)
	st.LastError = err
	l.Hooks.OnDone(ctx, st)
	return err
}

// classifyLLMFailure maps an oracle failure onto the terminal status.
func classifyLLMFailure(ctx context.Context, err error) (LoopStatus, error) {
	switch {
	case errors.Is(err, ErrBudgetExceeded):
		return StatusAborted, err
	case ctx.Err() != nil:
		return StatusAborted, fmt.Errorf("execution cancelled: %w", ctx.Err())
	default:
		return StatusFailed, &OracleError{Err: err}
	}
}
