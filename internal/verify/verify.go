// Package verify checks the files a task changed before its result is
// accepted: syntax, static analysis, tests and an optional oracle review.
package verify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

// Status of a check.
type Status string

const (
	Passed  Status = "passed"
	Failed  Status = "failed"
	Skipped Status = "skipped"
)

// Artifact is what gets verified.
type Artifact struct {
	TaskID      string
	Description string
	RepoRoot    string
	Changed     []string // repo-relative paths
	// Workspace serializes process stages with the task's mutating tools.
	Workspace *sync.Mutex
}

// Check is the outcome of one stage, or one file within a stage.
type Check struct {
	Stage    string
	Name     string
	Status   Status
	Message  string
	Details  string
	Duration time.Duration
}

// Report aggregates one pipeline run.
type Report struct {
	Checks []Check
	// Err is set when a stage was interrupted by cancellation or the budget.
	Err error
}

// Passed reports whether no check failed and the run was not interrupted.
func (r Report) Passed() bool {
	if r.Err != nil {
		return false
	}
	for _, c := range r.Checks {
		if c.Status == Failed {
			return false
		}
	}
	return true
}

// Failures returns the failed checks.
func (r Report) Failures() []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Status == Failed {
			out = append(out, c)
		}
	}
	return out
}

// Summary renders one line per check.
func (r Report) Summary() string {
	var b strings.Builder
	for _, c := range r.Checks {
		icon := map[Status]string{Passed: "OK", Failed: "FAIL", Skipped: "SKIP"}[c.Status]
		fmt.Fprintf(&b, "[%s] %s: %s\n", icon, c.Name, c.Message)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "[ABORT] %v\n", r.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Feedback is the observation handed back to the loop after a failed run.
func (r Report) Feedback() string {
	fails := r.Failures()
	if len(fails) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Verification failed. Fix the problems below and finish again.\n")
	for _, c := range fails {
		fmt.Fprintf(&b, "\n[%s] %s\n", c.Name, c.Message)
		if c.Details != "" {
			b.WriteString(engine.Truncate(c.Details, 2000))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Stage is one verification step.
type Stage interface {
	Name() string
	Enabled() bool
	// Check returns the stage's checks. A non-nil error means the stage was
	// interrupted and the pipeline must stop without a verdict.
	Check(ctx context.Context, a Artifact) ([]Check, error)
}

// Pipeline runs stages in order and stops at the first failing stage.
type Pipeline struct {
	Stages []Stage
	// OnCheck observes every check as it is produced.
	OnCheck func(Check)
}

// New creates a pipeline.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{Stages: stages}
}

// Without returns a copy of p that leaves out the named stages.
func (p *Pipeline) Without(names ...string) *Pipeline {
	out := &Pipeline{OnCheck: p.OnCheck}
	for _, s := range p.Stages {
		if !slices.Contains(names, s.Name()) {
			out.Stages = append(out.Stages, s)
		}
	}
	return out
}

// Run verifies a. With no changed files every stage is skipped.
func (p *Pipeline) Run(ctx context.Context, a Artifact) Report {
	var rep Report
	emit := func(c Check) {
		rep.Checks = append(rep.Checks, c)
		if p.OnCheck != nil {
			p.OnCheck(c)
		}
	}

	if len(a.Changed) == 0 {
		for _, s := range p.Stages {
			emit(Check{Stage: s.Name(), Name: s.Name(), Status: Skipped, Message: "no changed files"})
		}
		return rep
	}

	for _, s := range p.Stages {
		if err := ctx.Err(); err != nil {
			rep.Err = err
			return rep
		}
		if !s.Enabled() {
			emit(Check{Stage: s.Name(), Name: s.Name(), Status: Skipped, Message: "disabled"})
			continue
		}
		start := time.Now()
		checks, err := s.Check(ctx, a)
		failed := false
		for _, c := range checks {
			if c.Stage == "" {
				c.Stage = s.Name()
			}
			if c.Duration == 0 {
				c.Duration = time.Since(start)
			}
			if c.Status == Failed {
				failed = true
			}
			emit(c)
		}
		if err != nil {
			rep.Err = fmt.Errorf("verification stage %s: %w", s.Name(), err)
			return rep
		}
		if failed {
			return rep
		}
	}
	return rep
}

// interrupted reports errors that must stop verification rather than fail it.
func interrupted(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, engine.ErrBudgetExceeded) || ctx.Err() != nil
}
