package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/agent"
	"github.com/ChamsBouzaiene/forge/internal/cache"
	"github.com/ChamsBouzaiene/forge/internal/config"
	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/memory"
	"github.com/ChamsBouzaiene/forge/internal/project"
	"github.com/ChamsBouzaiene/forge/internal/prompts"
	"github.com/ChamsBouzaiene/forge/internal/providers"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
	"github.com/ChamsBouzaiene/forge/internal/tools"
	"github.com/ChamsBouzaiene/forge/internal/trace"
	"github.com/ChamsBouzaiene/forge/internal/workspace"
)

// runtimeEnv owns everything opened for one invocation.
type runtimeEnv struct {
	RepoRoot string
	Settings *config.Settings
	Verbose  bool

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (r *runtimeEnv) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Printf("WARNING: shutdown: %v", err)
		}
	}
	r.closers = nil
}

func (r *runtimeEnv) onClose(fn func() error) { r.closers = append(r.closers, fn) }

// prepareRuntimeEnv resolves the repository and loads the settings.
func prepareRuntimeEnv(g *Globals) (*runtimeEnv, error) {
	repoRoot := g.Repo
	if repoRoot == "" {
		var err error
		repoRoot, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	absRepoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path: %w", err)
	}
	if info, err := os.Stat(absRepoRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("repository path is not a valid directory: %s", absRepoRoot)
	}

	path := g.Config
	if path == "" {
		path = project.ConfigPath(absRepoRoot)
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if g.Budget >= 0 {
		settings.Cost.BudgetPerTask = g.Budget
	}
	return &runtimeEnv{RepoRoot: absRepoRoot, Settings: settings, Verbose: g.Verbose}, nil
}

func (r *runtimeEnv) embedder() cache.Embedder {
	c := r.Settings.Cache
	if c.Embedder != "openai" {
		return cache.NewHashEmbedder(c.EmbeddingDim)
	}
	key, baseURL := os.Getenv("OPENAI_API_KEY"), ""
	if r.Settings.LLM.Provider == "openai" {
		if r.Settings.LLM.APIKey != "" {
			key = r.Settings.LLM.APIKey
		}
		baseURL = r.Settings.LLM.BaseURL
	}
	return cache.NewOpenAIEmbedder(key, baseURL, c.EmbeddingModel, c.EmbeddingDim)
}

func (r *runtimeEnv) openCache(ctx context.Context) (*cache.Cache, error) {
	c := r.Settings.Cache
	cc, err := cache.Open(ctx, r.Settings.DataPath(r.RepoRoot, "cache.db"), r.embedder(), cache.Config{
		Enabled:    c.Enabled,
		Threshold:  c.SimilarityThreshold,
		MaxEntries: c.MaxEntries,
	})
	if err != nil {
		return nil, err
	}
	r.onClose(cc.Close)
	return cc, nil
}

func (r *runtimeEnv) openMemory(ctx context.Context) (*memory.Memory, error) {
	if err := os.MkdirAll(r.Settings.DataPath(r.RepoRoot), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	mem, err := memory.Open(ctx,
		r.Settings.DataPath(r.RepoRoot, "memory.db"),
		r.Settings.DataPath(r.RepoRoot, "memory.bleve"))
	if err != nil {
		return nil, err
	}
	r.onClose(mem.Close)
	return mem, nil
}

// buildAgent wires the oracle, the sandbox, the tools and the optional
// cache, memory and trace collaborators into an agent.
func (r *runtimeEnv) buildAgent(ctx context.Context) (*agent.Agent, error) {
	s := r.Settings
	log.Printf("Repository root: %s", r.RepoRoot)

	llm, err := providers.NewClientFromSettings(s.LLM)
	if err != nil {
		return nil, err
	}

	runner, err := sandbox.NewRunner(ctx, s.SandboxSettings())
	if err != nil {
		return nil, err
	}
	if c, ok := runner.(io.Closer); ok {
		r.onClose(c.Close)
	}

	var logger *log.Logger
	if r.Verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	reg, err := tools.NewRegistry(r.RepoRoot, runner, tools.Settings{
		Groups:          tools.AllGroups(),
		AllowedCommands: s.Tools.AllowedCommands,
		ShellTimeout:    s.Tools.ShellTimeout,
		IgnorePatterns:  s.Tools.IgnorePatterns,
		MaxOutputLines:  s.Tools.MaxOutputLines,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	a := &agent.Agent{
		Root:     r.RepoRoot,
		Settings: *s,
		LLM:      llm,
		Registry: reg,
		Runner:   runner,
		Logger:   logger,
		Retry:    engine.DefaultRetryConfig(),
	}
	if a.Rules, err = project.LoadRules(s.DataPath(r.RepoRoot)); err != nil {
		log.Printf("WARNING: %v", err)
	}
	if ids, err := prompts.DefaultRegistry().LoadOverrides(s.DataPath(r.RepoRoot, "prompts")); err != nil {
		log.Printf("WARNING: %v", err)
	} else if len(ids) > 0 {
		log.Printf("Prompt overrides: %v", ids)
	}

	if s.Cache.Enabled {
		if a.Cache, err = r.openCache(ctx); err != nil {
			return nil, err
		}
		log.Printf("Cache: %d chains", a.Cache.Len())
	}

	if s.Memory.Enabled {
		if a.Memory, err = r.openMemory(ctx); err != nil {
			return nil, err
		}
		a.Consolidator = memory.NewConsolidator(a.Memory, s.Memory.ConsolidationThreshold)
		a.Consolidator.Start(ctx)
		r.onClose(func() error { a.Consolidator.Stop(); return nil })
	}
	if s.Memory.MaxWorkingItems > 0 {
		a.Working = memory.NewWorking(s.Memory.MaxWorkingItems)
	}

	tracker, err := workspace.NewChangeTracker(r.RepoRoot, workspace.LoadIgnore(r.RepoRoot, s.Tools.IgnorePatterns...))
	if err != nil {
		log.Printf("WARNING: file watcher unavailable: %v (relying on recorded tool writes)", err)
	} else {
		a.Tracker = tracker
		r.onClose(tracker.Close)
	}

	if s.Trace.Enabled {
		a.Collector = trace.NewCollector(s.DataPath(r.RepoRoot, s.Trace.LogDir))
	}
	var sinks trace.Multi
	if r.Verbose {
		sinks = append(sinks, &trace.LogSink{L: log.New(os.Stderr, "trace ", log.LstdFlags)})
	}
	if s.Trace.Otel {
		tp, err := trace.NewOTLPProvider(ctx, s.Trace.OtelEndpoint, "forge")
		if err != nil {
			return nil, err
		}
		r.onClose(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tp.Shutdown(ctx)
		})
		sinks = append(sinks, trace.NewOtelSink(tp))
	}
	if len(sinks) > 0 {
		a.Sink = sinks
	}

	log.Printf("Agent ready (provider: %s, model: %s, budget: $%.2f)", s.LLM.Provider, s.LLM.Model, s.Cost.BudgetPerTask)
	return a, nil
}

// errTaskFailed makes the process exit non-zero when a run does not complete.
var errTaskFailed = errors.New("task did not complete")
