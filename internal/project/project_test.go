package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigPath(t *testing.T) {
	repo := t.TempDir()
	if got := ConfigPath(repo); got != "" {
		t.Errorf("ConfigPath() = %q with no config, want empty", got)
	}

	if err := os.MkdirAll(filepath.Join(repo, Dir), 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(repo, Dir, ConfigFile)
	if err := os.WriteFile(want, []byte("llm:\n  model: m\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ConfigPath(repo); got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()

	rules, err := LoadRules(dir)
	if err != nil || rules != "" {
		t.Fatalf("LoadRules() on empty dir = %q, %v", rules, err)
	}

	if err := os.WriteFile(filepath.Join(dir, RulesFile), []byte("\nAlways run gofmt.\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rules, err = LoadRules(dir)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if rules != "Always run gofmt." {
		t.Errorf("rules = %q", rules)
	}
	if got := RulesSection(rules); got != "## Project rules\n\nAlways run gofmt." {
		t.Errorf("RulesSection() = %q", got)
	}
	if RulesSection("") != "" {
		t.Error("RulesSection(\"\") should be empty")
	}
}
