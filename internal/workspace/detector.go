// Package workspace inspects the repository a task runs against.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectType represents the type of project.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeRust    ProjectType = "rust"
	ProjectTypeUnknown ProjectType = "unknown"
)

var manifests = []struct {
	file string
	typ  ProjectType
}{
	{"go.mod", ProjectTypeGo},
	{"package.json", ProjectTypeNode},
	{"pyproject.toml", ProjectTypePython},
	{"requirements.txt", ProjectTypePython},
	{"setup.py", ProjectTypePython},
	{"Cargo.toml", ProjectTypeRust},
}

var extTypes = map[string]ProjectType{
	".go":  ProjectTypeGo,
	".ts":  ProjectTypeNode,
	".tsx": ProjectTypeNode,
	".js":  ProjectTypeNode,
	".jsx": ProjectTypeNode,
	".py":  ProjectTypePython,
	".rs":  ProjectTypeRust,
}

// DetectProjectType detects the project type from its manifest, falling back
// to the dominant source extension in the root (at least three files).
func DetectProjectType(repoRoot string) ProjectType {
	for _, m := range manifests {
		if _, err := os.Stat(filepath.Join(repoRoot, m.file)); err == nil {
			return m.typ
		}
	}

	entries, err := os.ReadDir(repoRoot)
	if err != nil {
		return ProjectTypeUnknown
	}
	counts := make(map[ProjectType]int)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if t, ok := extTypes[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			counts[t]++
		}
	}

	best, bestCount := ProjectTypeUnknown, 0
	for _, t := range []ProjectType{ProjectTypeGo, ProjectTypeNode, ProjectTypePython, ProjectTypeRust} {
		if counts[t] > bestCount {
			best, bestCount = t, counts[t]
		}
	}
	if bestCount >= 3 {
		return best
	}
	return ProjectTypeUnknown
}

// Command is an executable plus arguments.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a configured command line on whitespace.
func ParseCommand(line string) Command {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Command{}
	}
	return Command{Name: f[0], Args: f[1:]}
}

// Empty reports whether there is nothing to run.
func (c Command) Empty() bool { return c.Name == "" }

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// LintCommand returns the static analysis command for a project type.
func LintCommand(projectType ProjectType) Command {
	switch projectType {
	case ProjectTypeGo:
		return Command{Name: "go", Args: []string{"vet", "./..."}}
	case ProjectTypeNode:
		return Command{Name: "npm", Args: []string{"run", "lint"}}
	case ProjectTypePython:
		return Command{Name: "ruff", Args: []string{"check", "."}}
	case ProjectTypeRust:
		return Command{Name: "cargo", Args: []string{"clippy", "--", "-D", "warnings"}}
	default:
		return Command{}
	}
}

// BuildCommand returns the build command for a project type.
func BuildCommand(projectType ProjectType) Command {
	switch projectType {
	case ProjectTypeGo:
		return Command{Name: "go", Args: []string{"build", "./..."}}
	case ProjectTypeNode:
		return Command{Name: "npm", Args: []string{"run", "build"}}
	case ProjectTypeRust:
		return Command{Name: "cargo", Args: []string{"build"}}
	default:
		return Command{}
	}
}

// TestCommand returns the test command for a project type.
func TestCommand(projectType ProjectType) Command {
	switch projectType {
	case ProjectTypeGo:
		return Command{Name: "go", Args: []string{"test", "./..."}}
	case ProjectTypeNode:
		return Command{Name: "npm", Args: []string{"test"}}
	case ProjectTypePython:
		return Command{Name: "python", Args: []string{"-m", "pytest", "-q"}}
	case ProjectTypeRust:
		return Command{Name: "cargo", Args: []string{"test"}}
	default:
		return Command{}
	}
}
