package execution

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
	"github.com/ChamsBouzaiene/forge/internal/sandbox/sandboxtest"
)

func TestRunCmd(t *testing.T) {
	tests := []struct {
		name        string
		cmd         string
		args        string
		mockResult  sandbox.Result
		mockErr     error
		wantErr     string
		wantTimeout bool
		wantStdout  string
		wantCalled  bool
	}{
		{
			name:       "allowed command",
			cmd:        "go",
			args:       "version",
			mockResult: sandbox.Result{Stdout: "go version go1.24"},
			wantStdout: "go version go1.24",
			wantCalled: true,
		},
		{
			name:    "disallowed command",
			cmd:     "shutdown",
			args:    "-h now",
			wantErr: "not allowed",
		},
		{
			name:       "non-zero exit carries output",
			cmd:        "go",
			args:       "test ./...",
			mockResult: sandbox.Result{Stdout: "--- FAIL: TestX", Code: 1},
			wantErr:    "exited with code 1\n--- FAIL: TestX",
			wantCalled: true,
		},
		{
			name:        "timeout",
			cmd:         "make",
			mockResult:  sandbox.Result{Stdout: "partial", TimedOut: true, Code: -1},
			wantErr:     "timeout: make",
			wantTimeout: true,
			wantCalled:  true,
		},
		{
			name:       "runner failure",
			cmd:        "git",
			args:       "status",
			mockErr:    errors.New("docker daemon unavailable"),
			wantErr:    "docker daemon unavailable",
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &sandboxtest.MockRunner{
				RunCmdFunc: func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
					if repoDir != "/repo" {
						t.Errorf("repoDir = %q", repoDir)
					}
					return tt.mockResult, tt.mockErr
				},
			}
			opts := CmdOptions{}.withDefaults()
			out, err := runCmd(context.Background(), runner, "/repo", opts, cmdRequest{
				cmd: tt.cmd, args: tt.args, timeout: opts.Timeout, maxLines: opts.MaxLines,
			})
			if called := len(runner.Calls()) > 0; called != tt.wantCalled {
				t.Errorf("runner called = %v, want %v", called, tt.wantCalled)
			}
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				if errors.Is(err, engine.ErrToolTimeout) != tt.wantTimeout {
					t.Errorf("timeout classification wrong for %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("runCmd() error = %v", err)
			}
			var res engine.ExecutionResult
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				t.Fatal(err)
			}
			if res.Stdout != tt.wantStdout || res.Status != "ok" {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestRunCmdTimeoutThroughRegistry(t *testing.T) {
	runner := &sandboxtest.MockRunner{
		RunCmdFunc: func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
			return sandbox.Result{TimedOut: true, Code: -1}, nil
		},
	}
	reg, err := engine.NewRegistry(NewRunCmdTool("/repo", runner, CmdOptions{Timeout: 10 * time.Second}))
	if err != nil {
		t.Fatal(err)
	}
	res := reg.Dispatch(context.Background(), engine.ToolCall{ID: "1", Name: "run_cmd", Args: map[string]any{"cmd": "sleep_forever_not_allowed"}})
	if res.Success || !strings.Contains(res.Error, "not allowed") {
		t.Errorf("disallowed result = %+v", res)
	}

	res = reg.Dispatch(context.Background(), engine.ToolCall{ID: "2", Name: "run_cmd", Args: map[string]any{"cmd": "make", "args": "slow"}})
	if res.Success || res.Error != "timeout" || !errors.Is(res.Err, engine.ErrToolTimeout) {
		t.Errorf("timeout result = %+v", res)
	}
	// run_cmd is non-idempotent: one attempt per dispatch.
	if got := len(runner.Calls()); got != 1 {
		t.Errorf("runner calls = %d, want 1", got)
	}
	if c := runner.Calls()[0]; c.Timeout != 10*time.Second || !reflect.DeepEqual(c.Args, []string{"slow"}) {
		t.Errorf("invocation = %+v", c)
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "test ./...", want: []string{"test", "./..."}},
		{in: `commit -m "fix the bug"`, want: []string{"commit", "-m", "fix the bug"}},
		{in: `-c 'echo "hi"'`, want: []string{"-c", `echo "hi"`}},
		{in: `a  ""  b`, want: []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseArgs(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseArgs(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTimeoutArg(t *testing.T) {
	def := 30 * time.Second
	tests := []struct {
		in   any
		want time.Duration
	}{
		{in: nil, want: def},
		{in: float64(0), want: def},
		{in: float64(1), want: minRunCmdTimeout},
		{in: float64(90), want: 90 * time.Second},
		{in: float64(9999), want: maxRunCmdTimeout},
	}
	for _, tt := range tests {
		if got := parseTimeoutArg(tt.in, def); got != tt.want {
			t.Errorf("parseTimeoutArg(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncateOutput(t *testing.T) {
	out, trunc := truncateOutput("a\nb\nc\nd", 2)
	if out != "a\nb" || !trunc {
		t.Errorf("got %q, %v", out, trunc)
	}
	out, trunc = truncateOutput(strings.Repeat("x", maxRunCmdChars+10), 5)
	if len(out) != maxRunCmdChars || !trunc {
		t.Errorf("got %d chars, %v", len(out), trunc)
	}
	if out, trunc = truncateOutput("", 5); out != "" || trunc {
		t.Errorf("empty: %q, %v", out, trunc)
	}
}

func TestGitTools(t *testing.T) {
	runner := &sandboxtest.MockRunner{
		RunCmdFunc: func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
			return sandbox.Result{Stdout: "## main\n M a.go"}, nil
		},
	}
	status := NewGitStatusTool("/repo", runner, 0)
	if _, err := status.Fn(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	diff := NewGitDiffTool("/repo", runner, 0)
	if _, err := diff.Fn(context.Background(), map[string]any{"path": "a.go", "staged": true}); err != nil {
		t.Fatal(err)
	}
	if _, err := diff.Fn(context.Background(), map[string]any{"path": "../x"}); err == nil {
		t.Error("expected error for path outside the repository")
	}
	want := []string{"git status --short --branch", "git diff --no-color --cached -- a.go"}
	if got := runner.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
	if status.SideEffect != engine.ReadOnly || status.Footprint(nil)[0] != diff.Footprint(nil)[0] {
		t.Error("git tools must be read-only and share a footprint")
	}
}

func TestProjectTools(t *testing.T) {
	tests := []struct {
		name       string
		files      []string
		tool       func(string, sandbox.Runner, int) engine.Tool
		wantLine   string
		wantStatus string
	}{
		{name: "go tests", files: []string{"go.mod"}, tool: NewRunTestsTool, wantLine: "go test ./...", wantStatus: "ok"},
		{name: "python tests", files: []string{"pyproject.toml"}, tool: NewRunTestsTool, wantLine: "python -m pytest -q", wantStatus: "ok"},
		{name: "rust build", files: []string{"Cargo.toml"}, tool: NewRunBuildTool, wantLine: "cargo build", wantStatus: "ok"},
		{name: "unknown project", tool: NewRunTestsTool, wantStatus: "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, f := range tt.files {
				if err := os.WriteFile(filepath.Join(root, f), nil, 0o644); err != nil {
					t.Fatal(err)
				}
			}
			runner := &sandboxtest.MockRunner{}
			out, err := tt.tool(root, runner, 0).Fn(context.Background(), nil)
			if err != nil {
				t.Fatal(err)
			}
			var res engine.ExecutionResult
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				t.Fatal(err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", res.Status, tt.wantStatus)
			}
			lines := runner.Lines()
			if tt.wantLine == "" {
				if len(lines) != 0 {
					t.Errorf("ran %q", lines)
				}
				return
			}
			if len(lines) != 1 || lines[0] != tt.wantLine {
				t.Errorf("lines = %q, want %q", lines, tt.wantLine)
			}
		})
	}
}
