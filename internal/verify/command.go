package verify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
	"github.com/ChamsBouzaiene/forge/internal/workspace"
)

// CommandStage runs a project command and fails on a non-zero exit or a
// timeout. It backs both static analysis and the test run.
type CommandStage struct {
	StageName string
	On        bool
	Runner    sandbox.Runner
	// Command overrides the per-project default from Resolve.
	Command workspace.Command
	Resolve func(workspace.ProjectType) workspace.Command
	Timeout time.Duration
}

// NewStaticStage runs the project lint command.
func NewStaticStage(runner sandbox.Runner, override string, on bool, timeout time.Duration) *CommandStage {
	return &CommandStage{
		StageName: "lint",
		On:        on,
		Runner:    runner,
		Command:   workspace.ParseCommand(override),
		Resolve:   workspace.LintCommand,
		Timeout:   timeout,
	}
}

// NewDynamicStage runs the project test command.
func NewDynamicStage(runner sandbox.Runner, override string, on bool, timeout time.Duration) *CommandStage {
	return &CommandStage{
		StageName: "tests",
		On:        on,
		Runner:    runner,
		Command:   workspace.ParseCommand(override),
		Resolve:   workspace.TestCommand,
		Timeout:   timeout,
	}
}

func (s *CommandStage) Name() string  { return s.StageName }
func (s *CommandStage) Enabled() bool { return s.On }

func (s *CommandStage) Check(ctx context.Context, a Artifact) ([]Check, error) {
	cmd := s.Command
	if cmd.Empty() && s.Resolve != nil {
		cmd = s.Resolve(workspace.DetectProjectType(a.RepoRoot))
	}
	if cmd.Empty() {
		return []Check{{Name: s.StageName, Status: Skipped, Message: "no command for this project"}}, nil
	}

	if a.Workspace != nil {
		a.Workspace.Lock()
		defer a.Workspace.Unlock()
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	res, err := s.Runner.RunCmd(ctx, a.RepoRoot, cmd.Name, cmd.Args, timeout)
	if interrupted(ctx, err) {
		return nil, err
	}
	name := s.StageName + ":" + cmd.String()
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return []Check{{Name: name, Status: Skipped, Message: cmd.Name + " not found"}}, nil
	case err != nil:
		return []Check{{Name: name, Status: Failed, Message: "could not run", Details: err.Error()}}, nil
	case res.TimedOut:
		return []Check{{Name: name, Status: Failed, Message: fmt.Sprintf("timed out after %s", timeout), Details: engine.Truncate(res.Combined(), 4000)}}, nil
	case res.Code != 0:
		return []Check{{Name: name, Status: Failed, Message: fmt.Sprintf("exit code %d", res.Code), Details: engine.Truncate(res.Combined(), 4000)}}, nil
	}
	return []Check{{Name: name, Status: Passed, Message: "ok", Duration: res.Duration}}, nil
}
