// Package sandboxtest provides a scriptable sandbox.Runner for tests.
package sandboxtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/sandbox"
)

// Invocation is one recorded RunCmd call.
type Invocation struct {
	Dir     string
	Name    string
	Args    []string
	Timeout time.Duration
}

// Line renders the command line.
func (i Invocation) Line() string {
	return strings.TrimSpace(i.Name + " " + strings.Join(i.Args, " "))
}

// MockRunner records invocations and delegates to RunCmdFunc.
// With no RunCmdFunc every command succeeds with empty output.
type MockRunner struct {
	RunCmdFunc func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error)

	mu    sync.Mutex
	calls []Invocation
}

func (m *MockRunner) RunCmd(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Invocation{Dir: repoDir, Name: name, Args: append([]string(nil), args...), Timeout: timeout})
	m.mu.Unlock()
	if m.RunCmdFunc != nil {
		return m.RunCmdFunc(ctx, repoDir, name, args, timeout)
	}
	return sandbox.Result{}, nil
}

// Calls returns a copy of recorded invocations.
func (m *MockRunner) Calls() []Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Invocation(nil), m.calls...)
}

// Lines returns the recorded command lines.
func (m *MockRunner) Lines() []string {
	var out []string
	for _, c := range m.Calls() {
		out = append(out, c.Line())
	}
	return out
}
