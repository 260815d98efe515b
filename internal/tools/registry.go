// Package tools assembles the tool registry a task runs with.
package tools

import (
	"log"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/codemap"
	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
	"github.com/ChamsBouzaiene/forge/internal/tools/editing"
	"github.com/ChamsBouzaiene/forge/internal/tools/execution"
	"github.com/ChamsBouzaiene/forge/internal/tools/filesystem"
	"github.com/ChamsBouzaiene/forge/internal/tools/reasoning"
	"github.com/ChamsBouzaiene/forge/internal/tools/search"
)

// Groups selects which families of tools are registered.
type Groups struct {
	Filesystem bool // read_file, list_files, write_file, delete_file
	Search     bool // grep, repo_map, find_symbol
	Editing    bool // search_replace
	Execution  bool // run_cmd, run_tests, run_build
	Git        bool // git_status, git_diff
	Meta       bool // think
}

// AllGroups enables every tool.
func AllGroups() Groups {
	return Groups{Filesystem: true, Search: true, Editing: true, Execution: true, Git: true, Meta: true}
}

// Settings configures the tools.
type Settings struct {
	Groups          Groups
	AllowedCommands []string
	ShellTimeout    time.Duration
	IgnorePatterns  []string
	MaxOutputLines  int
	FS              filesystem.FileSystem // nil uses the real filesystem
	Logger          *log.Logger
}

// NewRegistry builds the immutable registry for a repository.
func NewRegistry(root string, runner sandbox.Runner, s Settings) (*engine.Registry, error) {
	fsys := s.FS
	if fsys == nil {
		fsys = filesystem.OSFileSystem{}
	}

	var all []engine.Tool
	if s.Groups.Filesystem {
		all = append(all,
			filesystem.NewReadFileTool(root, fsys),
			filesystem.NewListFilesTool(root, fsys, s.IgnorePatterns),
			filesystem.NewWriteFileTool(root, fsys),
			filesystem.NewDeleteFileTool(root, fsys),
		)
	}
	if s.Groups.Search {
		idx, err := codemap.Open(root, s.IgnorePatterns...)
		if err != nil {
			return nil, err
		}
		all = append(all,
			search.NewGrepTool(root, runner),
			search.NewRepoMapTool(idx),
			search.NewFindSymbolTool(idx),
		)
	}
	if s.Groups.Editing {
		all = append(all, editing.NewSearchReplaceTool(root, fsys))
	}
	if s.Groups.Execution {
		all = append(all,
			execution.NewRunCmdTool(root, runner, execution.CmdOptions{
				Allowed:  s.AllowedCommands,
				Timeout:  s.ShellTimeout,
				MaxLines: s.MaxOutputLines,
			}),
			execution.NewRunTestsTool(root, runner, s.MaxOutputLines),
			execution.NewRunBuildTool(root, runner, s.MaxOutputLines),
		)
	}
	if s.Groups.Git {
		all = append(all,
			execution.NewGitStatusTool(root, runner, s.MaxOutputLines),
			execution.NewGitDiffTool(root, runner, s.MaxOutputLines),
		)
	}
	if s.Groups.Meta {
		all = append(all, reasoning.NewThinkTool(s.Logger))
	}
	return engine.NewRegistry(all...)
}
