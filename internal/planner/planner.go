package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/prompts"
	"github.com/ChamsBouzaiene/forge/internal/trace"
)

var (
	// ErrInvalidPlan means the oracle never produced an acceptable step list.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrPlanFailed means steps kept failing after replanning.
	ErrPlanFailed = errors.New("plan failed")
)

// Config holds the planner knobs.
type Config struct {
	MaxSteps            int
	ReplanAfterFailures int
	DecomposeAttempts   int
	DigestCharsPerStep  int
	DigestMaxChars      int
	MaxTokens           int
	OracleTimeout       time.Duration
}

// DefaultConfig returns the stock planner settings.
func DefaultConfig() Config {
	return Config{
		MaxSteps:            10,
		ReplanAfterFailures: 2,
		DecomposeAttempts:   3,
		DigestCharsPerStep:  400,
		DigestMaxChars:      2000,
		MaxTokens:           1024,
		OracleTimeout:       60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.ReplanAfterFailures <= 0 {
		c.ReplanAfterFailures = d.ReplanAfterFailures
	}
	if c.DecomposeAttempts <= 0 {
		c.DecomposeAttempts = d.DecomposeAttempts
	}
	if c.DigestCharsPerStep <= 0 {
		c.DigestCharsPerStep = d.DigestCharsPerStep
	}
	if c.DigestMaxChars <= 0 {
		c.DigestMaxChars = d.DigestMaxChars
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = d.OracleTimeout
	}
	return c
}

// StepInput is what a runner gets for one step.
type StepInput struct {
	Plan   *Plan
	Step   *Step
	Digest string
	Span   *trace.Span
}

// StepResult is what a runner reports back. Output and Chain are kept on
// success; Feedback explains a failure.
type StepResult struct {
	Output   string
	Feedback string
	Chain    []engine.ChainStep
}

// StepRunner executes one step: a scoped loop followed by verification.
// A nil error means the step succeeded.
type StepRunner interface {
	RunStep(ctx context.Context, in StepInput) (StepResult, error)
}

// StepRunnerFunc adapts a function to StepRunner.
type StepRunnerFunc func(ctx context.Context, in StepInput) (StepResult, error)

func (f StepRunnerFunc) RunStep(ctx context.Context, in StepInput) (StepResult, error) {
	return f(ctx, in)
}

// Planner plans and runs complex tasks. Build one per task: it reports on
// the task's span and calls the oracle through the task's metered client.
type Planner struct {
	cfg   Config
	llm   engine.LLMClient
	model string
	retry engine.RetryPolicy

	// Span receives plan_step events and step spans. May be nil.
	Span *trace.Span
	// Context is extra text for the first decomposition, such as recalled lessons.
	Context string
}

// New creates a planner.
func New(cfg Config, llm engine.LLMClient, model string) *Planner {
	return &Planner{cfg: cfg.withDefaults(), llm: llm, model: model, retry: engine.DefaultRetryConfig().LLMPolicy}
}

// WithRetryPolicy overrides the oracle retry policy.
func (p *Planner) WithRetryPolicy(rp engine.RetryPolicy) *Planner {
	p.retry = rp
	return p
}

// Decompose asks the oracle for a numbered step list. A reply with no steps
// or too many is re-requested, up to the configured number of attempts.
func (p *Planner) Decompose(ctx context.Context, task, prior string) ([]string, error) {
	extra := ""
	if strings.TrimSpace(prior) != "" {
		extra = "\nContext:\n" + prior + "\n"
	}
	return p.ask(ctx, prompts.MustRender(prompts.IDPlanner, map[string]string{
		"task":      task,
		"context":   extra,
		"max_steps": strconv.Itoa(p.cfg.MaxSteps),
	}))
}

func (p *Planner) ask(ctx context.Context, prompt string) ([]string, error) {
	msgs := []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: "You are a precise task planner."},
		{Role: engine.RoleUser, Content: prompt},
	}
	opts := engine.ChatOptions{Temperature: 0, MaxOutputTokens: p.cfg.MaxTokens}

	var got int
	for attempt := 1; attempt <= p.cfg.DecomposeAttempts; attempt++ {
		resp, err := engine.RetryLLMCall(ctx, p.retry, p.llm, p.model, msgs, nil, opts, p.cfg.OracleTimeout, nil)
		if err != nil {
			if stopsPlan(ctx, err) {
				return nil, err
			}
			return nil, &engine.OracleError{Err: err}
		}
		steps := ParseSteps(resp.Assistant.Content)
		got = len(steps)
		if got >= 1 && got <= p.cfg.MaxSteps {
			return steps, nil
		}
		log.Printf("planner: attempt %d/%d returned %d steps", attempt, p.cfg.DecomposeAttempts, got)
		msgs = append(msgs,
			engine.ChatMessage{Role: engine.RoleAssistant, Content: resp.Assistant.Content},
			engine.ChatMessage{Role: engine.RoleUser, Content: fmt.Sprintf(
				"That reply had %d steps. Reply with a numbered list of between 1 and %d steps, one per line, and nothing else.",
				got, p.cfg.MaxSteps)},
		)
	}
	return nil, fmt.Errorf("%w: %d steps after %d attempts (want 1 to %d)", ErrInvalidPlan, got, p.cfg.DecomposeAttempts, p.cfg.MaxSteps)
}

// Execute decomposes the task and runs the steps in order. On a step failure
// the remainder is replanned until ReplanAfterFailures failures accumulate.
// The returned plan is non-nil whenever decomposition succeeded.
func (p *Planner) Execute(ctx context.Context, taskID, description string, runner StepRunner) (*Plan, error) {
	descs, err := p.Decompose(ctx, description, p.Context)
	if err != nil {
		return nil, err
	}
	plan := &Plan{TaskID: taskID, Task: description}
	plan.append(descs)
	p.Span.Event(trace.PlanStep, map[string]any{"action": "created", "steps": descs})

	for {
		step := plan.Next()
		if step == nil {
			return plan, nil
		}
		if err := ctx.Err(); err != nil {
			return plan, fmt.Errorf("plan cancelled: %w", err)
		}

		p.setStatus(step, StepRunning)
		span := p.Span.Child("step", map[string]any{"ordinal": step.Ordinal, "description": step.Description})
		res, err := runner.RunStep(ctx, StepInput{
			Plan:   plan,
			Step:   step,
			Digest: plan.Digest(p.cfg.DigestCharsPerStep, p.cfg.DigestMaxChars),
			Span:   span,
		})
		span.End(err)

		step.Chain = res.Chain
		step.Output = res.Output
		step.Feedback = res.Feedback
		if err == nil {
			p.setStatus(step, StepSucceeded)
			continue
		}
		if step.Feedback == "" {
			step.Feedback = err.Error()
		}
		p.setStatus(step, StepFailed)
		if stopsPlan(ctx, err) {
			return plan, err
		}

		plan.Failures++
		if plan.Failures >= p.cfg.ReplanAfterFailures {
			return plan, fmt.Errorf("%w: step %d (%s) failed after %d failures: %w",
				ErrPlanFailed, step.Ordinal, step.Description, plan.Failures, err)
		}
		if err := p.replan(ctx, plan, step); err != nil {
			if stopsPlan(ctx, err) {
				return plan, err
			}
			return plan, fmt.Errorf("%w: replan: %w", ErrPlanFailed, err)
		}
	}
}

// replan swaps the pending remainder for a fresh list. Succeeded steps go in
// as fixed context.
func (p *Planner) replan(ctx context.Context, plan *Plan, failed *Step) error {
	var done strings.Builder
	for _, s := range plan.Succeeded() {
		fmt.Fprintf(&done, "%d. %s: %s\n", s.Ordinal, s.Description, engine.Truncate(strings.TrimSpace(s.Output), p.cfg.DigestCharsPerStep))
	}
	if done.Len() == 0 {
		done.WriteString("(none)\n")
	}
	descs, err := p.ask(ctx, prompts.MustRender(prompts.IDReplan, map[string]string{
		"task":      plan.Task,
		"completed": strings.TrimRight(done.String(), "\n"),
		"failed":    fmt.Sprintf("%d. %s", failed.Ordinal, failed.Description),
		"feedback":  engine.Truncate(failed.Feedback, 2000),
		"max_steps": strconv.Itoa(p.cfg.MaxSteps),
	}))
	if err != nil {
		return err
	}
	plan.replacePending(descs)
	p.Span.Event(trace.PlanStep, map[string]any{
		"action":   "replanned",
		"revision": plan.Revision,
		"failures": plan.Failures,
		"steps":    descs,
	})
	log.Printf("planner: task %s replanned (revision %d, %d new steps)", plan.TaskID, plan.Revision, len(descs))
	return nil
}

func (p *Planner) setStatus(s *Step, to StepStatus) {
	s.Status = to
	data := map[string]any{
		"action":      "status",
		"step_id":     s.ID,
		"ordinal":     s.Ordinal,
		"description": s.Description,
		"status":      string(to),
	}
	if to == StepFailed {
		data["feedback"] = engine.Truncate(s.Feedback, 500)
	}
	p.Span.Event(trace.PlanStep, data)
}

// stopsPlan reports errors that end the plan without replanning.
func stopsPlan(ctx context.Context, err error) bool {
	return errors.Is(err, engine.ErrBudgetExceeded) || ctx.Err() != nil
}
