package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
	"github.com/ChamsBouzaiene/forge/internal/workspace"
)

const projectTimeout = 5 * time.Minute

type projectStep struct {
	name    string
	command func(workspace.ProjectType) workspace.Command
}

var (
	testStep  = projectStep{name: "test", command: workspace.TestCommand}
	buildStep = projectStep{name: "build", command: workspace.BuildCommand}
)

// runProject runs the detected project's test or build command. A project
// without one is reported as unavailable rather than failed.
func runProject(ctx context.Context, runner sandbox.Runner, root string, step projectStep, maxLines int) (string, error) {
	pt := workspace.DetectProjectType(root)
	cmd := step.command(pt)
	if cmd.Empty() {
		out, err := json.Marshal(engine.ExecutionResult{
			Status: "unavailable",
			Reason: "not_configured",
			Stderr: fmt.Sprintf("no %s command for project type %s", step.name, pt),
		})
		return string(out), err
	}
	res, err := runner.RunCmd(ctx, root, cmd.Name, cmd.Args, projectTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", engine.ErrToolExecution, cmd, err)
	}
	return report(cmd.String(), res, projectTimeout, maxLines)
}

func newProjectTool(root string, runner sandbox.Runner, maxLines int, step projectStep, name, desc string) engine.Tool {
	if maxLines <= 0 {
		maxLines = DefaultOutputLines
	}
	return engine.Tool{
		Name:        name,
		Description: desc,
		SchemaJSON:  `{"type":"object","properties":{},"additionalProperties":false}`,
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			return runProject(ctx, runner, root, step, maxLines)
		},
		SideEffect:  engine.ProcessSpawning,
		Idempotency: engine.Idempotent,
		Timeout:     projectTimeout + timeoutGrace,
		Category:    "execution",
	}
}

// NewRunTestsTool creates run_tests. The command follows the detected project
// type (go test, npm test, pytest, cargo test).
func NewRunTestsTool(root string, runner sandbox.Runner, maxLines int) engine.Tool {
	return newProjectTool(root, runner, maxLines, testStep, "run_tests",
		"Runs the project's test suite. The command is chosen from the detected project type (Go, Node, Python, Rust).")
}

// NewRunBuildTool creates run_build.
func NewRunBuildTool(root string, runner sandbox.Runner, maxLines int) engine.Tool {
	return newProjectTool(root, runner, maxLines, buildStep, "run_build",
		"Builds the project with the command for its detected type. Failures include the compiler output.")
}
