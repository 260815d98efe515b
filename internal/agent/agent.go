package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/budget"
	"github.com/ChamsBouzaiene/forge/internal/cache"
	"github.com/ChamsBouzaiene/forge/internal/config"
	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/memory"
	"github.com/ChamsBouzaiene/forge/internal/planner"
	"github.com/ChamsBouzaiene/forge/internal/project"
	"github.com/ChamsBouzaiene/forge/internal/prompts"
	"github.com/ChamsBouzaiene/forge/internal/router"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
	"github.com/ChamsBouzaiene/forge/internal/trace"
	"github.com/ChamsBouzaiene/forge/internal/verify"
	"github.com/ChamsBouzaiene/forge/internal/workspace"
)

// Agent executes tasks against one repository. It holds no per-task state,
// so Submit may be called from several goroutines at once. The cache, the
// memories and the trace sinks do their own locking.
type Agent struct {
	Root     string
	Settings config.Settings
	LLM      engine.LLMClient
	Registry *engine.Registry
	Runner   sandbox.Runner

	// Optional collaborators. A nil value disables the feature.
	Cache        *cache.Cache
	Memory       *memory.Memory
	Consolidator *memory.Consolidator
	Working      *memory.Working
	Tracker      *workspace.ChangeTracker
	Sink         trace.Sink
	Collector    *trace.Collector
	Logger       *log.Logger // loop transitions are logged when set

	// Rules are repository instructions appended to every system prompt.
	Rules string

	// Retry overrides the oracle and tool retry policies.
	Retry engine.RetryConfig
	// Pipeline builds the verification pipeline of one task from the task's
	// metered client. Nil builds it from Settings.Verification.
	Pipeline func(llm engine.LLMClient) *verify.Pipeline

	// submitted counts Submit calls and running the ones in flight. The
	// change tracker watches the whole repository, so its paths are only
	// attributed to a task that ran alone.
	submitted atomic.Int64
	running   atomic.Int64
}

// run is the per-task context shared by the execution paths.
type run struct {
	task      *Task
	span      *trace.Span
	ledger    *budget.Ledger
	llm       *engine.MeteredClient
	pipeline  *verify.Pipeline
	workspace *sync.Mutex
	system    string
	lessons   string
}

// Submit runs one task to a terminal status. The returned error reports
// only invalid input; the outcome of the task itself is on the Task.
func (a *Agent) Submit(ctx context.Context, description string) (*Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, errors.New("empty task description")
	}
	if a.LLM == nil || a.Registry == nil {
		return nil, errors.New("agent needs an llm client and a tool registry")
	}

	a.submitted.Add(1)
	a.running.Add(1)
	defer a.running.Add(-1)

	s := a.Settings
	task := newTask(description, s.Cost.BudgetPerTask)
	r := &run{task: task, workspace: &sync.Mutex{}}

	tracer := trace.New(a.sink(), task.ID)
	r.span = tracer.Start(nil, "task", map[string]any{"description": description, "budget": task.Budget})
	r.ledger = budget.NewLedger(s.Cost.BudgetPerTask, s.PricingTable(),
		budget.WithWarnRatio(s.Cost.WarnRatio),
		budget.WithWarnFunc(func(spent, cap float64) {
			r.span.Event(trace.BudgetWarning, map[string]any{"spent": spent, "cap": cap})
			log.Printf("WARNING: task %s spent $%.4f of $%.2f", task.ID, spent, cap)
		}),
	)
	r.llm = engine.NewMeteredClient(a.LLM, r.ledger)
	if s.LLM.MaxOutputTokens > 0 {
		r.llm.DefaultMaxOutput = s.LLM.MaxOutputTokens
	}
	r.pipeline = a.pipeline(r)

	// The cache comes before any reasoning call, the router's tie-break
	// included, so a replayed task is classified by score alone.
	rt := a.router(r)
	if a.tryReplay(ctx, r) {
		a.route(r, rt.Heuristic(description))
	} else {
		a.route(r, rt.Classify(ctx, description))
		r.lessons = a.recall(ctx, r)
		r.system = prompts.Compose(prompts.IDExecutor, map[string]string{"repo": a.Root},
			project.RulesSection(a.Rules), r.lessons)

		switch task.Class {
		case router.Simple:
			a.runSimple(ctx, r)
		default:
			a.runPlan(ctx, r)
		}
		if task.Status == Completed {
			a.store(ctx, r)
		}
	}

	task.ReasoningCalls = r.llm.Calls()
	task.Spend = r.ledger.Spent()
	a.remember(ctx, r)
	a.note(r)

	r.span.End(task.Err)
	if a.Collector != nil {
		path, err := a.Collector.Save(task.ID)
		if err != nil {
			log.Printf("WARNING: save trace for task %s: %v", task.ID, err)
		}
		task.TracePath = path
	}
	log.Printf("task %s %s after %d reasoning calls ($%.4f)", task.ID, task.Status, task.ReasoningCalls, task.Spend)
	return task, nil
}

// metered charges paid embedding calls made under ctx to the task's ledger.
func (r *run) metered(ctx context.Context) context.Context {
	return cache.WithMeter(ctx, r.ledger.ChargeTool)
}

func (a *Agent) sink() trace.Sink {
	var sinks trace.Multi
	if a.Collector != nil {
		sinks = append(sinks, a.Collector)
	}
	if a.Sink != nil {
		sinks = append(sinks, a.Sink)
	}
	if len(sinks) == 0 {
		return trace.Discard
	}
	return sinks
}

func (a *Agent) router(r *run) *router.Router {
	s := a.Settings
	return router.New(router.Config{
		Threshold:     s.Router.ComplexityThreshold,
		Band:          s.Router.BorderlineBand,
		OracleTimeout: s.Router.OracleTimeout,
	}, r.llm, s.LLM.Model)
}

func (a *Agent) route(r *run, d router.Decision) {
	span := r.span.Child("route", nil)
	r.task.Decision = d
	r.task.Class = d.Class

	data := map[string]any{
		"class":       string(d.Class),
		"score":       d.Score,
		"confidence":  d.Confidence,
		"used_oracle": d.UsedOracle,
		"reason":      d.Signals.Reason(),
	}
	if d.OracleErr != nil {
		data["oracle_error"] = d.OracleErr.Error()
	}
	span.Event(trace.Route, data)
	span.End(nil)
}

func (a *Agent) recall(ctx context.Context, r *run) string {
	k := a.Settings.Memory.RecallLimit
	if a.Memory == nil || k <= 0 {
		return ""
	}
	lessons, err := a.Memory.Recall(ctx, r.task.Description, k)
	if err != nil {
		log.Printf("WARNING: memory recall: %v", err)
		return ""
	}
	r.span.Event(trace.MemoryRecall, map[string]any{"lessons": len(lessons)})
	return memory.FormatLessons(lessons)
}

func (a *Agent) hooks(span *trace.Span) engine.Hooks {
	hs := engine.Hooks{trace.NewHook(span)}
	if a.Logger != nil {
		hs = append(hs, engine.LoggerHook{L: a.Logger})
	}
	if a.Working != nil {
		hs = append(hs, workingHook{mem: a.Working})
	}
	return hs
}

func (a *Agent) loop(r *run, span *trace.Span) *engine.Loop {
	s := a.Settings
	return &engine.Loop{
		LLM:      r.llm,
		Registry: a.Registry,
		Hooks:    a.hooks(span),
		Opts: engine.LoopOptions{
			Model:           s.LLM.Model,
			MaxIterations:   s.LLM.MaxToolIterations,
			MaxToolFailures: s.LLM.MaxToolFailures,
			OracleTimeout:   s.LLM.OracleTimeout,
			Chat:            engine.ChatOptions{Temperature: s.LLM.Temperature, MaxOutputTokens: s.LLM.MaxOutputTokens},
			Retry:           a.Retry,
		},
	}
}

func (a *Agent) pipeline(r *run) *verify.Pipeline {
	if a.Pipeline != nil {
		return a.Pipeline(r.llm)
	}
	v := a.Settings.Verification
	return verify.New(
		&verify.SyntaxStage{On: v.SyntaxCheck, Runner: a.Runner, Timeout: v.StageTimeout},
		verify.NewStaticStage(a.Runner, v.LintCommand, v.RunLint, v.StageTimeout),
		verify.NewDynamicStage(a.Runner, v.TestCommand, v.RunTests, v.StageTimeout),
		&verify.RubricStage{
			On:            v.RubricEnabled,
			LLM:           r.llm,
			Model:         a.Settings.LLM.Model,
			OracleTimeout: a.Settings.LLM.OracleTimeout,
			Retry:         a.llmRetry(),
		},
	)
}

func (a *Agent) llmRetry() engine.RetryPolicy {
	if a.Retry != (engine.RetryConfig{}) {
		return a.Retry.LLMPolicy
	}
	return engine.DefaultRetryConfig().LLMPolicy
}

func (a *Agent) maxAttempts() int {
	if n := a.Settings.Verification.MaxAttempts; n > 0 {
		return n
	}
	return 3
}

// runSimple drives one verified loop over the whole task.
func (a *Agent) runSimple(ctx context.Context, r *run) {
	st := engine.NewState(r.task.ID, a.system(r), r.task.Description)
	out := a.runVerified(ctx, r, r.span, st)
	r.task.Verifications += out.attempts
	r.task.Chain = out.chain
	r.task.Changed = out.changed
	r.task.Feedback = out.feedback
	r.task.finish(out.status, out.text(), out.err)
	if out.status == Aborted {
		r.task.Answer = out.answer
	}
}

// runPlan decomposes the task and runs every step as its own verified loop.
func (a *Agent) runPlan(ctx context.Context, r *run) {
	s := a.Settings
	p := planner.New(planner.Config{
		MaxSteps:            s.Planner.MaxPlanSteps,
		ReplanAfterFailures: s.Planner.ReplanAfterFailures,
		DecomposeAttempts:   s.Planner.DecomposeAttempts,
		DigestCharsPerStep:  s.Planner.DigestCharsPerStep,
		DigestMaxChars:      s.Planner.DigestMaxChars,
		OracleTimeout:       s.LLM.OracleTimeout,
	}, r.llm, s.LLM.Model)
	if a.Retry != (engine.RetryConfig{}) {
		p.WithRetryPolicy(a.Retry.LLMPolicy)
	}
	p.Span = r.span
	p.Context = r.lessons

	var changed []string
	plan, err := p.Execute(ctx, r.task.ID, r.task.Description, planner.StepRunnerFunc(
		func(ctx context.Context, in planner.StepInput) (planner.StepResult, error) {
			prompt := prompts.MustRender(prompts.IDStep, map[string]string{
				"task":    r.task.Description,
				"ordinal": strconv.Itoa(in.Step.Ordinal),
				"step":    in.Step.Description,
				"digest":  in.Digest,
			})
			st := engine.NewState(r.task.ID, a.system(r), prompt)
			out := a.runVerified(ctx, r, in.Span, st)
			r.task.Verifications += out.attempts
			changed = mergePaths(changed, out.changed)
			res := planner.StepResult{Output: out.answer, Feedback: out.feedback, Chain: out.chain}
			if out.status != Completed {
				return res, out.err
			}
			return res, nil
		}))

	task := r.task
	task.Plan = plan
	task.Changed = changed
	if plan != nil {
		task.Chain = plan.Chain()
		if f := lastFailed(plan); f != nil {
			task.Feedback = f.Feedback
		}
	}
	switch {
	case err == nil:
		task.finish(Completed, planAnswer(plan), nil)
	case errors.Is(err, engine.ErrBudgetExceeded) || ctx.Err() != nil:
		task.Answer = planAnswer(plan)
		task.finish(Aborted, err.Error(), err)
	default:
		task.finish(Failed, err.Error(), err)
	}
}

func lastFailed(plan *planner.Plan) *planner.Step {
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		if plan.Steps[i].Status == planner.StepFailed {
			return plan.Steps[i]
		}
	}
	return nil
}

func planAnswer(plan *planner.Plan) string {
	if plan == nil {
		return ""
	}
	var b strings.Builder
	for _, s := range plan.Succeeded() {
		fmt.Fprintf(&b, "Step %d. %s\n%s\n\n", s.Ordinal, s.Description, strings.TrimSpace(s.Output))
	}
	return strings.TrimSpace(b.String())
}

// store caches the chain of a verified task. Failures only cost a future
// replay, so they are logged.
func (a *Agent) store(ctx context.Context, r *run) {
	if a.Cache == nil || len(r.task.Chain) == 0 {
		return
	}
	if err := a.Cache.Store(r.metered(ctx), r.task.Description, r.task.Chain, r.task.Changed, r.ledger.Spent()); err != nil {
		log.Printf("WARNING: cache store for task %s: %v", r.task.ID, err)
		return
	}
	r.span.Event(trace.MemoryStore, map[string]any{"store": "cache", "steps": len(r.task.Chain)})
}

func (a *Agent) remember(ctx context.Context, r *run) {
	if a.Memory == nil {
		return
	}
	task := r.task
	outcome := memory.OutcomeFailure
	summary := task.Reason
	switch task.Status {
	case Completed:
		outcome = memory.OutcomeSuccess
		summary = task.Answer
	case Aborted:
		outcome = memory.OutcomeAborted
	}
	tools := make([]string, len(task.Chain))
	for i, c := range task.Chain {
		tools[i] = c.Tool
	}
	ep := memory.Episode{
		TaskID:        task.ID,
		Description:   task.Description,
		Outcome:       outcome,
		Summary:       engine.Truncate(strings.TrimSpace(summary), 500),
		ToolChain:     tools,
		FilesModified: task.Changed,
		Duration:      task.Duration(),
		CostUSD:       task.Spend,
		Time:          time.Now(),
		Replayed:      task.Replayed,
	}
	// The episode outlives a cancelled task.
	if err := a.Memory.RecordEpisode(context.WithoutCancel(ctx), ep); err != nil {
		log.Printf("WARNING: record episode %s: %v", task.ID, err)
		return
	}
	r.span.Event(trace.MemoryStore, map[string]any{"store": "episode", "outcome": string(outcome)})
	if a.Consolidator != nil {
		a.Consolidator.Notify(outcome)
	}
}

func mergePaths(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, p := range append(append([]string(nil), a...), b...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
