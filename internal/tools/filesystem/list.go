package filesystem

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/workspace"
)

const defaultListLimit = 1000

type listResult struct {
	Path      string   `json:"path"`
	Files     []string `json:"files"`
	Recursive bool     `json:"recursive"`
	Truncated bool     `json:"truncated"`
}

type listOptions struct {
	recursive bool
	maxDepth  int
	limit     int
	extra     []string
}

func listFiles(fsys FileSystem, root, path string, opts listOptions) (string, error) {
	dir, err := Resolve(root, path)
	if err != nil {
		return "", err
	}
	if opts.limit <= 0 {
		opts.limit = defaultListLimit
	}
	ignore := workspace.LoadIgnore(root, opts.extra...)
	ignored := func(rel string, isDir bool) bool {
		rel = filepath.ToSlash(rel)
		if isDir {
			return ignore.MatchesPath(rel + "/")
		}
		return ignore.MatchesPath(rel)
	}

	res := listResult{Path: path, Files: []string{}, Recursive: opts.recursive}

	if !opts.recursive {
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			rel := filepath.Join(path, e.Name())
			if ignored(rel, e.IsDir()) {
				continue
			}
			if e.IsDir() {
				rel += "/"
			}
			res.Files = append(res.Files, filepath.ToSlash(rel))
			if len(res.Files) >= opts.limit {
				res.Truncated = true
				break
			}
		}
		return marshalList(res)
	}

	err = fsys.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == dir {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		if ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.maxDepth >= 0 {
			fromStart, _ := filepath.Rel(dir, p)
			if strings.Count(fromStart, string(filepath.Separator)) > opts.maxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}
		res.Files = append(res.Files, filepath.ToSlash(rel))
		if len(res.Files) >= opts.limit {
			res.Truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return marshalList(res)
}

func marshalList(res listResult) (string, error) {
	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewListFilesTool creates the list_files tool. Entries matched by the
// repository .gitignore, the default patterns or extraIgnore are skipped.
func NewListFilesTool(root string, fsys FileSystem, extraIgnore []string) engine.Tool {
	return engine.Tool{
		Name:        "list_files",
		Description: "Lists files in a repository directory. Ignored files (.gitignore, VCS and dependency directories) are skipped. Directories end with '/' in non-recursive listings.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"Directory relative to the repository root; empty for the root"},
			"recursive":{"type":"boolean","description":"List files in subdirectories too"},
			"max_depth":{"type":"integer","minimum":0,"description":"Maximum depth for recursive listings"},
			"limit":{"type":"integer","minimum":1,"maximum":5000,"description":"Maximum entries to return (default 1000)"}
		},"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			recursive, _ := args["recursive"].(bool)
			return listFiles(fsys, root, stringArg(args, "path"), listOptions{
				recursive: recursive,
				maxDepth:  intArg(args, "max_depth", -1),
				limit:     intArg(args, "limit", defaultListLimit),
				extra:     extraIgnore,
			})
		},
		SideEffect: engine.ReadOnly,
		Retryable:  true,
		Category:   "filesystem",
		Footprint: func(args map[string]any) []string {
			return []string{"dir:" + filepath.ToSlash(filepath.Clean(stringArg(args, "path")))}
		},
	}
}
