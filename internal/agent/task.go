// Package agent runs natural-language tasks end to end: it routes them,
// replays cached tool chains, drives the reason/act loop or a multi-step
// plan, verifies the result and records what happened.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/planner"
	"github.com/ChamsBouzaiene/forge/internal/router"
)

// Status is the lifecycle of a task.
type Status string

const (
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Aborted   Status = "aborted"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Aborted
}

// Task is one submitted unit of work and its outcome.
type Task struct {
	ID          string
	Description string
	Class       router.Class
	Decision    router.Decision
	Budget      float64
	Status      Status

	Answer   string // final answer, or the partial answer of an aborted task
	Reason   string // why the task failed or was aborted
	Feedback string // last verification feedback
	Err      error

	Plan     *planner.Plan
	Chain    []engine.ChainStep
	Changed  []string
	Replayed bool

	ReasoningCalls int
	Verifications  int
	Spend          float64
	Started        time.Time
	Finished       time.Time
	TracePath      string
}

func newTask(description string, budget float64) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Description: description,
		Budget:      budget,
		Status:      Running,
		Started:     time.Now(),
	}
}

// finish sets the terminal status. Only the first call has an effect.
func (t *Task) finish(status Status, text string, err error) {
	if t.Status.Terminal() {
		return
	}
	t.Status = status
	t.Err = err
	t.Finished = time.Now()
	switch status {
	case Completed:
		t.Answer = text
	default:
		t.Reason = text
		if t.Reason == "" && err != nil {
			t.Reason = err.Error()
		}
	}
}

// Duration is the wall time of the task so far.
func (t *Task) Duration() time.Duration {
	if t.Finished.IsZero() {
		return time.Since(t.Started)
	}
	return t.Finished.Sub(t.Started)
}

// Summary renders the outcome for people.
func (t *Task) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "task %s: %s", t.ID, t.Status)
	if t.Replayed {
		b.WriteString(" (replayed from cache)")
	}
	fmt.Fprintf(&b, "\nclass: %s, reasoning calls: %d, spend: $%.4f, duration: %s\n",
		t.Class, t.ReasoningCalls, t.Spend, t.Duration().Round(time.Millisecond))
	if t.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", t.Reason)
	}
	if t.Feedback != "" && t.Status != Completed {
		fmt.Fprintf(&b, "last feedback:\n%s\n", engine.Truncate(t.Feedback, 1000))
	}
	if t.Answer != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Answer)
	}
	return strings.TrimRight(b.String(), "\n")
}
