package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnorePatterns are always excluded from listings and change tracking.
var DefaultIgnorePatterns = []string{
	".git/",
	".forge/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	".venv/",
	"*.pyc",
	"*.db",
	"*.db-wal",
	"*.db-shm",
	"*.swp",
	"*~",
}

// IgnoreMatcher reports whether a repo-relative path is ignored.
type IgnoreMatcher interface {
	MatchesPath(path string) bool
}

// LoadIgnore compiles the default patterns, the root .gitignore and extra.
func LoadIgnore(repoRoot string, extra ...string) IgnoreMatcher {
	patterns := append([]string(nil), DefaultIgnorePatterns...)
	patterns = append(patterns, readIgnoreLines(filepath.Join(repoRoot, ".gitignore"))...)
	patterns = append(patterns, extra...)
	return gitignore.CompileIgnoreLines(patterns...)
}

func readIgnoreLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
