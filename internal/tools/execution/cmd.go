// Package execution holds the tools that spawn processes: run_cmd, the git
// tools, run_tests and run_build. Every process goes through a
// sandbox.Runner.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
)

const (
	DefaultShellTimeout = 30 * time.Second
	maxRunCmdTimeout    = 5 * time.Minute
	minRunCmdTimeout    = 5 * time.Second
	DefaultOutputLines  = 40
	minRunCmdLines      = 5
	maxRunCmdLines      = 200
	maxRunCmdChars      = 4000

	// timeoutGrace lets the runner report its own timeout before the
	// registry's hard deadline fires.
	timeoutGrace = 5 * time.Second
)

// DefaultAllowedCommands is the run_cmd allow-list when none is configured.
var DefaultAllowedCommands = []string{
	"go", "gofmt", "goimports",
	"npm", "npx", "yarn", "pnpm", "node", "tsc",
	"python", "python3", "pip", "pip3", "pytest", "uv",
	"cargo", "rustc", "rustfmt",
	"make",
	"eslint", "prettier", "ruff", "black", "mypy", "golangci-lint",
	"mkdir", "touch", "rm", "cp", "mv",
	"cat", "head", "tail", "ls", "find", "tree",
	"wc", "grep", "sort", "uniq", "diff",
	"git",
	"echo", "which", "env",
	"jq",
}

// CmdOptions configures run_cmd.
type CmdOptions struct {
	Allowed  []string
	Timeout  time.Duration // default and upper bound of per-call timeouts
	MaxLines int
}

func (o CmdOptions) withDefaults() CmdOptions {
	if len(o.Allowed) == 0 {
		o.Allowed = DefaultAllowedCommands
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultShellTimeout
	}
	if o.MaxLines <= 0 {
		o.MaxLines = DefaultOutputLines
	}
	return o
}

type cmdRequest struct {
	cmd      string
	args     string
	timeout  time.Duration
	maxLines int
}

func runCmd(ctx context.Context, runner sandbox.Runner, root string, opts CmdOptions, req cmdRequest) (string, error) {
	if !slices.Contains(opts.Allowed, req.cmd) {
		return "", fmt.Errorf("command %q is not allowed; allowed commands: %s", req.cmd, strings.Join(opts.Allowed, ", "))
	}
	args := parseArgs(req.args)
	res, err := runner.RunCmd(ctx, root, req.cmd, args, req.timeout)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", engine.ErrToolExecution, req.cmd, err)
	}
	return report(strings.TrimSpace(req.cmd+" "+strings.Join(args, " ")), res, req.timeout, req.maxLines)
}

// report renders a finished command. A timeout or a non-zero exit is
// returned as an error carrying the truncated output.
func report(cmdLine string, res sandbox.Result, timeout time.Duration, maxLines int) (string, error) {
	stdout, stdoutTrunc := truncateOutput(res.Stdout, maxLines)
	stderr, stderrTrunc := truncateOutput(res.Stderr, maxLines)
	exec := engine.ExecutionResult{
		Cmd:             cmdLine,
		ExitCode:        res.Code,
		Stdout:          stdout,
		Stderr:          stderr,
		TimedOut:        res.TimedOut,
		Status:          "ok",
		StdoutTruncated: stdoutTrunc,
		StderrTruncated: stderrTrunc,
	}
	switch {
	case res.TimedOut:
		return "", fmt.Errorf("%w: %s after %s\n%s", engine.ErrToolTimeout, cmdLine, timeout, combine(stdout, stderr))
	case res.Code != 0:
		return "", fmt.Errorf("%s exited with code %d\n%s", cmdLine, res.Code, combine(stdout, stderr))
	}
	out, err := json.Marshal(exec)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func combine(stdout, stderr string) string {
	return sandbox.Result{Stdout: stdout, Stderr: stderr}.Combined()
}

// parseArgs splits on spaces, honoring single and double quotes.
func parseArgs(s string) []string {
	var (
		args    []string
		current strings.Builder
		quote   byte
		started bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
			current.WriteByte(c)
		case c == '"' || c == '\'':
			quote, started = c, true
		case c == ' ' || c == '\t':
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteByte(c)
			started = true
		}
	}
	if started {
		args = append(args, current.String())
	}
	return args
}

func parseTimeoutArg(value any, def time.Duration) time.Duration {
	var seconds float64
	switch v := value.(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	}
	if seconds <= 0 {
		return def
	}
	return min(max(time.Duration(seconds*float64(time.Second)), minRunCmdTimeout), max(def, maxRunCmdTimeout))
}

func parseLinesArg(value any, def int) int {
	var lines int
	switch v := value.(type) {
	case float64:
		lines = int(v)
	case int:
		lines = v
	default:
		return def
	}
	return min(max(lines, minRunCmdLines), maxRunCmdLines)
}

func truncateOutput(output string, maxLines int) (string, bool) {
	if output == "" {
		return "", false
	}
	truncated := false
	lines := strings.Split(output, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}
	joined := strings.Join(lines, "\n")
	if len(joined) > maxRunCmdChars {
		joined = joined[:maxRunCmdChars]
		truncated = true
	}
	return joined, truncated
}

// NewRunCmdTool creates the run_cmd tool. Commands can have arbitrary side
// effects, so it is never retried.
func NewRunCmdTool(root string, runner sandbox.Runner, opts CmdOptions) engine.Tool {
	opts = opts.withDefaults()
	return engine.Tool{
		Name: "run_cmd",
		Description: "Runs an allow-listed command in the repository sandbox. Allowed: " +
			strings.Join(opts.Allowed, ", ") + ". Output is truncated; a non-zero exit is reported as a failure with its output.",
		SchemaJSON: `{"type":"object","properties":{
			"cmd":{"type":"string","minLength":1,"description":"Command name (must be allow-listed)"},
			"args":{"type":"string","description":"Arguments as one space-separated string; quotes group words"},
			"timeout_seconds":{"type":"integer","minimum":5,"maximum":300},
			"max_output_lines":{"type":"integer","minimum":5,"maximum":200}
		},"required":["cmd"],"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			req := cmdRequest{
				timeout:  parseTimeoutArg(args["timeout_seconds"], opts.Timeout),
				maxLines: parseLinesArg(args["max_output_lines"], opts.MaxLines),
			}
			req.cmd, _ = args["cmd"].(string)
			req.args, _ = args["args"].(string)
			return runCmd(ctx, runner, root, opts, req)
		},
		SideEffect:  engine.ProcessSpawning,
		Idempotency: engine.NonIdempotent,
		Timeout:     max(opts.Timeout, maxRunCmdTimeout) + timeoutGrace,
		Category:    "execution",
	}
}
