package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/budget"
	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/engine/enginetest"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
	"github.com/ChamsBouzaiene/forge/internal/sandbox/sandboxtest"
)

func repoWith(t *testing.T, files map[string]string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	var changed []string
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		changed = append(changed, name)
	}
	return dir, changed
}

func TestSyntaxStage(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantFail bool
	}{
		{name: "valid go", file: "main.go", content: "package main\n\nfunc main() {}\n"},
		{name: "broken go", file: "main.go", content: "package main\n\nfunc main( {\n", wantFail: true},
		{name: "valid json", file: "a.json", content: `{"a": [1, 2]}`},
		{name: "trailing json", file: "a.json", content: `{"a": 1} {"b": 2}`, wantFail: true},
		{name: "broken json", file: "a.json", content: `{"a": }`, wantFail: true},
		{name: "valid yaml", file: "c.yaml", content: "a: 1\n---\nb: [x, y]\n"},
		{name: "broken yaml", file: "c.yml", content: "a: [1, 2\n", wantFail: true},
		{name: "unknown extension", file: "README.md", content: "# {{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, changed := repoWith(t, map[string]string{tt.file: tt.content})
			s := &SyntaxStage{On: true}
			checks, err := s.Check(context.Background(), Artifact{RepoRoot: dir, Changed: changed})
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			failed := !(Report{Checks: checks}).Passed()
			if failed != tt.wantFail {
				t.Errorf("failed = %v, want %v (%+v)", failed, tt.wantFail, checks)
			}
		})
	}
}

func TestSyntaxStagePythonUsesRunner(t *testing.T) {
	dir, changed := repoWith(t, map[string]string{"app.py": "def f(:\n"})
	runner := &sandboxtest.MockRunner{
		RunCmdFunc: func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
			return sandbox.Result{Code: 1, Stderr: "SyntaxError: invalid syntax"}, nil
		},
	}
	s := &SyntaxStage{On: true, Runner: runner}
	checks, err := s.Check(context.Background(), Artifact{RepoRoot: dir, Changed: changed})
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 1 || checks[0].Status != Failed || !strings.Contains(checks[0].Details, "SyntaxError") {
		t.Errorf("checks = %+v", checks)
	}
	if got := runner.Lines(); len(got) != 1 || got[0] != "python3 -m py_compile app.py" {
		t.Errorf("runner lines = %v", got)
	}
}

func TestPipelineShortCircuits(t *testing.T) {
	dir, changed := repoWith(t, map[string]string{"main.go": "package main\nfunc (\n", "go.mod": "module x\n"})
	runner := &sandboxtest.MockRunner{}
	p := New(
		&SyntaxStage{On: true},
		NewStaticStage(runner, "", true, 0),
		NewDynamicStage(runner, "", true, 0),
	)
	rep := p.Run(context.Background(), Artifact{RepoRoot: dir, Changed: changed})
	if rep.Passed() {
		t.Fatal("Run() passed with a syntax error")
	}
	if len(runner.Calls()) != 0 {
		t.Errorf("later stages ran after a failure: %v", runner.Lines())
	}
	if !strings.Contains(rep.Feedback(), "syntax error") {
		t.Errorf("Feedback() = %q", rep.Feedback())
	}
}

func TestPipelineCommandStages(t *testing.T) {
	dir, changed := repoWith(t, map[string]string{"main.go": "package main\n", "go.mod": "module x\n"})

	tests := []struct {
		name      string
		result    func(name string) sandbox.Result
		err       error
		wantPass  bool
		wantLines []string
	}{
		{
			name:      "all pass",
			result:    func(string) sandbox.Result { return sandbox.Result{} },
			wantPass:  true,
			wantLines: []string{"go vet ./...", "go test ./..."},
		},
		{
			name: "lint failure stops the pipeline",
			result: func(name string) sandbox.Result {
				return sandbox.Result{Code: 1, Stdout: "--- FAIL: TestX"}
			},
			wantLines: []string{"go vet ./..."},
		},
		{
			name:      "linter missing is skipped",
			result:    func(string) sandbox.Result { return sandbox.Result{Code: -1} },
			err:       errNotFound(),
			wantPass:  true,
			wantLines: []string{"go vet ./...", "go test ./..."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &sandboxtest.MockRunner{
				RunCmdFunc: func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
					return tt.result(name), tt.err
				},
			}
			p := New(&SyntaxStage{On: true}, NewStaticStage(runner, "", true, 0), NewDynamicStage(runner, "", true, 0))
			rep := p.Run(context.Background(), Artifact{RepoRoot: dir, Changed: changed})
			if rep.Passed() != tt.wantPass {
				t.Errorf("Passed() = %v, want %v\n%s", rep.Passed(), tt.wantPass, rep.Summary())
			}
			got := runner.Lines()
			if strings.Join(got, "|") != strings.Join(tt.wantLines, "|") {
				t.Errorf("commands = %v, want %v", got, tt.wantLines)
			}
		})
	}
}

func TestPipelineOverrideAndDisabled(t *testing.T) {
	dir, changed := repoWith(t, map[string]string{"main.go": "package main\n"})
	runner := &sandboxtest.MockRunner{}
	p := New(
		&SyntaxStage{On: false},
		NewStaticStage(runner, "make lint", true, 0),
		NewDynamicStage(runner, "", false, 0),
	)
	var seen []Check
	p.OnCheck = func(c Check) { seen = append(seen, c) }
	rep := p.Run(context.Background(), Artifact{RepoRoot: dir, Changed: changed})
	if !rep.Passed() {
		t.Fatalf("Run() failed:\n%s", rep.Summary())
	}
	if got := runner.Lines(); len(got) != 1 || got[0] != "make lint" {
		t.Errorf("commands = %v", got)
	}
	if len(seen) != 3 || seen[0].Status != Skipped || seen[2].Status != Skipped {
		t.Errorf("checks = %+v", seen)
	}
}

func TestPipelineNoChangedFilesSkipsAll(t *testing.T) {
	runner := &sandboxtest.MockRunner{}
	llm := &enginetest.ScriptedLLM{}
	p := New(&SyntaxStage{On: true}, NewStaticStage(runner, "", true, 0), &RubricStage{On: true, LLM: llm})
	rep := p.Run(context.Background(), Artifact{RepoRoot: t.TempDir()})
	if !rep.Passed() || len(rep.Checks) != 3 {
		t.Fatalf("Run() = %+v", rep)
	}
	for _, c := range rep.Checks {
		if c.Status != Skipped {
			t.Errorf("check %s = %s, want skipped", c.Name, c.Status)
		}
	}
	if len(runner.Calls()) != 0 || llm.CallCount() != 0 {
		t.Error("stages ran with no changed files")
	}
}

func TestParseReview(t *testing.T) {
	text := "Here you go:\n```json\n" +
		`{"correctness":{"score":9,"reasoning":"ok"},"style":{"score":0,"reasoning":"meh"},"overall_verdict":"PASS","suggestions":["add a test"]}` +
		"\n```"
	r, err := ParseReview(text)
	if err != nil {
		t.Fatalf("ParseReview() error = %v", err)
	}
	if !r.Passed() || len(r.Scores) != 2 || r.Scores[0].Score != 5 || r.Scores[1].Score != 1 {
		t.Errorf("ParseReview() = %+v", r)
	}
	if len(r.Suggestions) != 1 {
		t.Errorf("Suggestions = %v", r.Suggestions)
	}
	if _, err := ParseReview("looks fine to me"); err == nil {
		t.Error("ParseReview() expected error without JSON")
	}
}

func TestRubricStage(t *testing.T) {
	dir, changed := repoWith(t, map[string]string{"main.go": "package main\n"})
	a := Artifact{RepoRoot: dir, Changed: changed, Description: "add main"}

	tests := []struct {
		name       string
		reply      enginetest.Reply
		wantStatus Status
		wantErr    bool
	}{
		{name: "pass verdict", reply: enginetest.Answer(`{"correctness":{"score":5},"overall_verdict":"pass"}`), wantStatus: Passed},
		{name: "fail verdict", reply: enginetest.Answer(`{"correctness":{"score":2},"overall_verdict":"fail","suggestions":["handle nil"]}`), wantStatus: Failed},
		{name: "unparseable passes", reply: enginetest.Answer("I like it"), wantStatus: Passed},
		{name: "oracle error fails", reply: enginetest.Fail(errors.New("503 service unavailable")), wantStatus: Failed},
		{name: "budget propagates", reply: enginetest.Fail(&budget.ExceededError{Spent: 1, Projected: 1, Cap: 1}), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &enginetest.ScriptedLLM{Replies: []enginetest.Reply{tt.reply}}
			s := &RubricStage{On: true, LLM: llm, Model: "m"}
			checks, err := s.Check(context.Background(), a)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, engine.ErrBudgetExceeded) {
					t.Errorf("error = %v, want budget exceeded", err)
				}
				return
			}
			if len(checks) != 1 || checks[0].Status != tt.wantStatus {
				t.Errorf("checks = %+v, want %s", checks, tt.wantStatus)
			}
			msgs := llm.Call(0)
			if !strings.Contains(msgs[len(msgs)-1].Content, "// main.go") {
				t.Errorf("rubric prompt missing code")
			}
		})
	}
}

func TestRubricStageRetriesAndTimesOut(t *testing.T) {
	dir, changed := repoWith(t, map[string]string{"main.go": "package main\n"})
	a := Artifact{RepoRoot: dir, Changed: changed, Description: "add main"}
	retry := engine.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	t.Run("transient error is retried", func(t *testing.T) {
		llm := &enginetest.ScriptedLLM{Replies: []enginetest.Reply{
			enginetest.Fail(errors.New("503 service unavailable")),
			enginetest.Answer(`{"correctness":{"score":5},"overall_verdict":"pass"}`),
		}}
		s := &RubricStage{On: true, LLM: llm, Model: "m", Retry: retry}
		checks, err := s.Check(context.Background(), a)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if len(checks) != 1 || checks[0].Status != Passed {
			t.Errorf("checks = %+v, want passed", checks)
		}
		if llm.CallCount() != 2 {
			t.Errorf("CallCount() = %d, want 2", llm.CallCount())
		}
	})

	t.Run("slow oracle is bounded", func(t *testing.T) {
		slow := enginetest.Answer(`{"overall_verdict":"pass"}`)
		slow.Delay = time.Minute
		llm := &enginetest.ScriptedLLM{Replies: []enginetest.Reply{slow}}
		s := &RubricStage{On: true, LLM: llm, Model: "m", OracleTimeout: 20 * time.Millisecond}
		start := time.Now()
		checks, err := s.Check(context.Background(), a)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if len(checks) != 1 || checks[0].Status != Failed {
			t.Errorf("checks = %+v, want failed", checks)
		}
		if time.Since(start) > 10*time.Second {
			t.Error("review was not bounded by OracleTimeout")
		}
	})
}

func TestPipelineWithout(t *testing.T) {
	rubric := &RubricStage{On: true}
	syntax := &SyntaxStage{On: true}
	p := New(syntax, rubric)
	p.OnCheck = func(Check) {}

	got := p.Without("rubric")
	if len(got.Stages) != 1 || got.Stages[0] != Stage(syntax) || got.OnCheck == nil {
		t.Errorf("Without() = %+v", got)
	}
	if len(p.Stages) != 2 {
		t.Errorf("Without() modified the receiver: %d stages", len(p.Stages))
	}
}

func TestCollectCodeTruncates(t *testing.T) {
	dir, changed := repoWith(t, map[string]string{"big.go": strings.Repeat("x", 5000)})
	code := collectCode(Artifact{RepoRoot: dir, Changed: changed}, maxRubricCode)
	if n := len([]rune(code)); n != maxRubricCode {
		t.Errorf("len = %d, want %d", n, maxRubricCode)
	}
}

func TestPipelineBudgetAbort(t *testing.T) {
	dir, changed := repoWith(t, map[string]string{"main.go": "package main\n"})
	llm := &enginetest.ScriptedLLM{Replies: []enginetest.Reply{enginetest.Fail(budget.ErrBudgetExceeded)}}
	rep := New(&SyntaxStage{On: true}, &RubricStage{On: true, LLM: llm}).Run(context.Background(), Artifact{RepoRoot: dir, Changed: changed})
	if rep.Passed() || !errors.Is(rep.Err, engine.ErrBudgetExceeded) {
		t.Errorf("Run() = %+v, want budget error", rep)
	}
	if rep.Feedback() != "" {
		t.Errorf("Feedback() = %q, want empty for an interrupted run", rep.Feedback())
	}
}
