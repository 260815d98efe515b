// Package planner decomposes complex tasks into ordered steps, runs them one
// at a time and replans the unexecuted remainder when a step fails.
package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

// StepStatus is the lifecycle of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Step is one unit of a plan.
type Step struct {
	ID          string
	Ordinal     int
	Description string
	Status      StepStatus
	Output      string
	Feedback    string
	Chain       []engine.ChainStep
}

// Plan is an ordered list of steps. Ordinals are unique and strictly
// increasing; a succeeded step is never modified again.
type Plan struct {
	TaskID   string
	Task     string
	Steps    []*Step
	Revision int
	Failures int
}

func (p *Plan) nextOrdinal() int {
	if len(p.Steps) == 0 {
		return 1
	}
	return p.Steps[len(p.Steps)-1].Ordinal + 1
}

func (p *Plan) append(descs []string) {
	for _, d := range descs {
		p.Steps = append(p.Steps, &Step{
			ID:          uuid.NewString(),
			Ordinal:     p.nextOrdinal(),
			Description: d,
			Status:      StepPending,
		})
	}
}

// replacePending drops every pending step and appends descs as new ones.
func (p *Plan) replacePending(descs []string) {
	next := p.nextOrdinal()
	kept := p.Steps[:0]
	for _, s := range p.Steps {
		if s.Status != StepPending {
			kept = append(kept, s)
		}
	}
	p.Steps = kept
	for _, d := range descs {
		p.Steps = append(p.Steps, &Step{ID: uuid.NewString(), Ordinal: next, Description: d, Status: StepPending})
		next++
	}
	p.Revision++
}

// Next returns the first pending step, or nil when none is left.
func (p *Plan) Next() *Step {
	for _, s := range p.Steps {
		if s.Status == StepPending {
			return s
		}
	}
	return nil
}

// Succeeded returns the succeeded steps in order.
func (p *Plan) Succeeded() []*Step {
	var out []*Step
	for _, s := range p.Steps {
		if s.Status == StepSucceeded {
			out = append(out, s)
		}
	}
	return out
}

// Chain concatenates the chains of succeeded steps.
func (p *Plan) Chain() []engine.ChainStep {
	var out []engine.ChainStep
	for _, s := range p.Succeeded() {
		out = append(out, s.Chain...)
	}
	return out
}

// Done reports whether every step succeeded.
func (p *Plan) Done() bool {
	for _, s := range p.Steps {
		if s.Status != StepSucceeded {
			return false
		}
	}
	return len(p.Steps) > 0
}

// Digest summarizes succeeded outputs for the next step. Each output is cut
// to perStep runes; when the whole exceeds total, the oldest steps are
// dropped first.
func (p *Plan) Digest(perStep, total int) string {
	done := p.Succeeded()
	if len(done) == 0 {
		return "(none yet)"
	}
	entries := make([]string, len(done))
	for i, s := range done {
		out := strings.Join(strings.Fields(s.Output), " ")
		if out == "" {
			out = "(no output)"
		}
		entries[i] = fmt.Sprintf("%d. %s: %s", s.Ordinal, s.Description, engine.Truncate(out, perStep))
	}

	var kept []string
	size := 0
	for i := len(entries) - 1; i >= 0; i-- {
		n := len([]rune(entries[i])) + 1
		if total > 0 && size+n > total {
			if len(kept) == 0 {
				kept = append(kept, engine.Truncate(entries[i], total))
			}
			break
		}
		kept = append(kept, entries[i])
		size += n
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	digest := strings.Join(kept, "\n")
	if omitted := len(entries) - len(kept); omitted > 0 {
		digest = fmt.Sprintf("(%d earlier steps omitted)\n", omitted) + digest
	}
	return digest
}

// String renders the plan with a status marker per step.
func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan for: %s (revision %d)\n", p.Task, p.Revision)
	for _, s := range p.Steps {
		mark := map[StepStatus]string{
			StepPending:   "[ ]",
			StepRunning:   "[>]",
			StepSucceeded: "[x]",
			StepFailed:    "[!]",
		}[s.Status]
		fmt.Fprintf(&b, "%s %d. %s\n", mark, s.Ordinal, s.Description)
		if s.Status == StepFailed && s.Feedback != "" {
			fmt.Fprintf(&b, "    error: %s\n", engine.Truncate(s.Feedback, 100))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

var stepLineRe = regexp.MustCompile(`(?m)^\s*(\d+)[.)]\s*(.+)$`)

// ParseSteps extracts the descriptions of a numbered list, in order of
// appearance.
func ParseSteps(text string) []string {
	var out []string
	for _, m := range stepLineRe.FindAllStringSubmatch(text, -1) {
		if _, err := strconv.Atoi(m[1]); err != nil {
			continue
		}
		if d := strings.TrimSpace(m[2]); d != "" {
			out = append(out, d)
		}
	}
	return out
}
