package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinsRegistered(t *testing.T) {
	for _, id := range []string{IDExecutor, IDRouter, IDPlanner, IDReplan, IDRubric, IDStep} {
		if _, err := DefaultRegistry().GetLatest(id); err != nil {
			t.Errorf("GetLatest(%q) error = %v", id, err)
		}
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{name: "substitutes", tmpl: "Task: {{task}}", vars: map[string]string{"task": "x"}, want: "Task: x"},
		{name: "unknown kept", tmpl: "{{a}} {{b}}", vars: map[string]string{"a": "1"}, want: "1 {{b}}"},
		{name: "no vars", tmpl: "plain", want: "plain"},
		{name: "value not re-expanded", tmpl: "{{a}}", vars: map[string]string{"a": "{{b}}", "b": "no"}, want: "{{b}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.tmpl, tt.vars); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetLatestSkipsDeprecated(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "p", Version: "1.0.0", Content: "old"})
	r.Register(&Prompt{ID: "p", Version: "2.0.0", Content: "new", Deprecated: true})

	got, err := r.GetLatest("p")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if got.Content != "old" {
		t.Errorf("GetLatest() = %q, want the non-deprecated version", got.Content)
	}
}

func TestCompose(t *testing.T) {
	out := Compose(IDExecutor, map[string]string{"repo": "/src"}, "", "  ", "Lessons:\n- be careful")
	if !strings.Contains(out, "/src") || !strings.HasSuffix(out, "\n\nLessons:\n- be careful") {
		t.Errorf("Compose() = %q", out)
	}
}

func TestVersionOrdering(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "p", Version: "9.0.0", Content: "nine"})
	r.Register(&Prompt{ID: "p", Version: "10.0.0", Content: "ten"})
	got, err := r.GetLatest("p")
	if err != nil || got.Content != "ten" {
		t.Fatalf("GetLatest() = %v, %v; want 10.0.0", got, err)
	}
	if _, err := r.Get("p", "1.0.0"); err == nil {
		t.Error("Get() of a missing version should fail")
	}
	if _, err := r.Get("q", PromptV1); err == nil {
		t.Error("Get() of a missing id should fail")
	}
}

func TestLoadOverrides(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "executor", Version: PromptV1, Content: "stock"})
	r.Register(&Prompt{ID: "router", Version: PromptV1, Content: "stock router"})

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "executor.md"), []byte("\ncustom {{repo}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "unknown.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := r.LoadOverrides(dir)
	if err != nil {
		t.Fatalf("LoadOverrides() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0] != "executor" {
		t.Errorf("loaded = %v, want [executor]", loaded)
	}
	got, _ := r.GetLatest("executor")
	if got.Content != "custom {{repo}}" || got.Version != VersionOverride {
		t.Errorf("GetLatest(executor) = %+v", got)
	}
	if got, _ := r.GetLatest("router"); got.Content != "stock router" {
		t.Errorf("router changed: %q", got.Content)
	}

	if loaded, err := r.LoadOverrides(filepath.Join(dir, "missing")); err != nil || len(loaded) != 0 {
		t.Errorf("LoadOverrides(missing) = %v, %v", loaded, err)
	}
}
