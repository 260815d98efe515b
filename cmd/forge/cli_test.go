package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/ChamsBouzaiene/forge/internal/agent"
	"github.com/ChamsBouzaiene/forge/internal/config"
	"github.com/ChamsBouzaiene/forge/internal/engine/enginetest"
	"github.com/ChamsBouzaiene/forge/internal/sandbox/sandboxtest"
	"github.com/ChamsBouzaiene/forge/internal/tools"
)

func parse(t *testing.T, args ...string) (*CLI, string) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return &cli, ctx.Command()
}

func TestParseCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
	}{
		{"run", []string{"run", "add", "a", "test"}, "run <task>"},
		{"repl", []string{"repl"}, "repl"},
		{"default is repl", []string{}, "repl"},
		{"cache stats", []string{"cache", "stats"}, "cache stats"},
		{"cache clear", []string{"cache", "clear"}, "cache clear"},
		{"memory search", []string{"memory", "search", "flaky", "test"}, "memory search <query>"},
		{"config show", []string{"config", "show"}, "config show"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cmd := parse(t, tt.args...)
			if cmd != tt.command {
				t.Errorf("command = %q, want %q", cmd, tt.command)
			}
		})
	}
}

func TestRunCmdJoinsTask(t *testing.T) {
	cli, _ := parse(t, "run", "list", "the", "files")
	if got := strings.Join(cli.Run.Task, " "); got != "list the files" {
		t.Errorf("task = %q", got)
	}
}

func TestGlobalFlags(t *testing.T) {
	cli, _ := parse(t, "--config", "forge.yaml", "--budget", "0.5", "-v", "run", "x")
	if !strings.HasSuffix(cli.Config, "forge.yaml") {
		t.Errorf("Config = %q", cli.Config)
	}
	if cli.Budget != 0.5 || !cli.Verbose {
		t.Errorf("Budget = %g, Verbose = %v", cli.Budget, cli.Verbose)
	}

	cli, _ = parse(t, "run", "x")
	if cli.Budget >= 0 {
		t.Errorf("default Budget = %g, want negative", cli.Budget)
	}
}

func TestMemorySearchLimit(t *testing.T) {
	cli, _ := parse(t, "memory", "search", "-n", "2", "cache")
	if cli.Memory.Search.Limit != 2 {
		t.Errorf("Limit = %d, want 2", cli.Memory.Search.Limit)
	}
	cli, _ = parse(t, "memory", "search", "cache")
	if cli.Memory.Search.Limit != 5 {
		t.Errorf("default Limit = %d, want 5", cli.Memory.Search.Limit)
	}
}

func TestPrepareRuntimeEnv(t *testing.T) {
	repo := t.TempDir()
	cfg := filepath.Join(t.TempDir(), "forge.yaml")
	if err := os.WriteFile(cfg, []byte("llm:\n  model: test-model\ncost:\n  budget_per_task: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("config file", func(t *testing.T) {
		env, err := prepareRuntimeEnv(&Globals{Repo: repo, Config: cfg, Budget: -1})
		if err != nil {
			t.Fatalf("prepareRuntimeEnv() error = %v", err)
		}
		if env.Settings.LLM.Model != "test-model" || env.Settings.Cost.BudgetPerTask != 2 {
			t.Errorf("settings = %s %g", env.Settings.LLM.Model, env.Settings.Cost.BudgetPerTask)
		}
		if !filepath.IsAbs(env.RepoRoot) {
			t.Errorf("RepoRoot %q is not absolute", env.RepoRoot)
		}
	})

	t.Run("budget flag wins", func(t *testing.T) {
		env, err := prepareRuntimeEnv(&Globals{Repo: repo, Config: cfg, Budget: 0.25})
		if err != nil {
			t.Fatalf("prepareRuntimeEnv() error = %v", err)
		}
		if env.Settings.Cost.BudgetPerTask != 0.25 {
			t.Errorf("BudgetPerTask = %g, want 0.25", env.Settings.Cost.BudgetPerTask)
		}
	})

	t.Run("missing repo", func(t *testing.T) {
		if _, err := prepareRuntimeEnv(&Globals{Repo: filepath.Join(repo, "nope"), Budget: -1}); err == nil {
			t.Error("want error for a missing repository")
		}
	})
}

func TestOpenCacheAndMemory(t *testing.T) {
	ctx := context.Background()
	repo := t.TempDir()
	env := &runtimeEnv{RepoRoot: repo, Settings: config.Default()}
	defer env.Close()

	cc, err := env.openCache(ctx)
	if err != nil {
		t.Fatalf("openCache() error = %v", err)
	}
	st, err := cc.Stats(ctx)
	if err != nil || st.Entries != 0 {
		t.Fatalf("Stats() = %+v, %v", st, err)
	}
	if _, err := env.openMemory(ctx); err != nil {
		t.Fatalf("openMemory() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(repo, ".forge", "cache.db")); err != nil {
		t.Errorf("cache.db not created: %v", err)
	}
}

func TestRepl(t *testing.T) {
	root := t.TempDir()
	runner := &sandboxtest.MockRunner{}
	reg, err := tools.NewRegistry(root, runner, tools.Settings{Groups: tools.AllGroups()})
	if err != nil {
		t.Fatal(err)
	}
	answer := enginetest.Answer("nothing to do")
	llm := &enginetest.ScriptedLLM{Fallback: &answer}
	a := &agent.Agent{
		Root:     root,
		Settings: *config.Default(),
		LLM:      llm,
		Registry: reg,
		Runner:   runner,
		Retry:    enginetest.FastRetry(),
	}

	in := strings.NewReader("explain what is pkg\n\n   \nexit\nnever submitted\n")
	var out bytes.Buffer
	if err := repl(context.Background(), a, in, &out); err != nil {
		t.Fatalf("repl() error = %v", err)
	}
	got := out.String()
	if strings.Count(got, "task ") != 1 || !strings.Contains(got, "completed") {
		t.Errorf("output = %q", got)
	}
	if !strings.Contains(got, "nothing to do") {
		t.Errorf("answer missing from output %q", got)
	}
}
