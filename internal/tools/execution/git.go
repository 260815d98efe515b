package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
)

const gitTimeout = 20 * time.Second

func gitFootprint(map[string]any) []string { return []string{"git:index"} }

func runGit(ctx context.Context, runner sandbox.Runner, root string, maxLines int, args ...string) (string, error) {
	res, err := runner.RunCmd(ctx, root, "git", args, gitTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: git: %w", engine.ErrToolExecution, err)
	}
	return report("git "+strings.Join(args, " "), res, gitTimeout, maxLines)
}

// NewGitStatusTool creates git_status.
func NewGitStatusTool(root string, runner sandbox.Runner, maxLines int) engine.Tool {
	return engine.Tool{
		Name:        "git_status",
		Description: "Shows the working tree status in short format with the current branch.",
		SchemaJSON:  `{"type":"object","properties":{},"additionalProperties":false}`,
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			return runGit(ctx, runner, root, max(maxLines, maxRunCmdLines), "status", "--short", "--branch")
		},
		SideEffect: engine.ReadOnly,
		Retryable:  true,
		Timeout:    gitTimeout + timeoutGrace,
		Category:   "git",
		Footprint:  gitFootprint,
	}
}

// NewGitDiffTool creates git_diff. With staged set it shows the index
// against HEAD; path narrows the diff to one file or directory.
func NewGitDiffTool(root string, runner sandbox.Runner, maxLines int) engine.Tool {
	return engine.Tool{
		Name:        "git_diff",
		Description: "Shows uncommitted changes as a unified diff. Optionally limited to a path or to staged changes.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"File or directory to diff"},
			"staged":{"type":"boolean","description":"Diff the index instead of the working tree"},
			"stat":{"type":"boolean","description":"Only show a per-file summary"}
		},"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			gitArgs := []string{"diff", "--no-color"}
			if staged, _ := args["staged"].(bool); staged {
				gitArgs = append(gitArgs, "--cached")
			}
			if stat, _ := args["stat"].(bool); stat {
				gitArgs = append(gitArgs, "--stat")
			}
			if p, _ := args["path"].(string); p != "" {
				if strings.HasPrefix(p, "..") {
					return "", fmt.Errorf("path %s is outside repository root", p)
				}
				gitArgs = append(gitArgs, "--", p)
			}
			return runGit(ctx, runner, root, max(maxLines, maxRunCmdLines), gitArgs...)
		},
		SideEffect: engine.ReadOnly,
		Retryable:  true,
		Timeout:    gitTimeout + timeoutGrace,
		Category:   "git",
		Footprint:  gitFootprint,
	}
}
