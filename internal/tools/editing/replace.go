// Package editing holds in-place file edits.
package editing

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/tools/filesystem"
)

const (
	maxEditLines  = 500
	warnEditLines = 200
)

var textExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".rs": true, ".rb": true, ".php": true, ".html": true, ".css": true, ".scss": true,
	".md": true, ".txt": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".sh": true, ".bash": true, ".zsh": true, ".sql": true, ".xml": true, ".mod": true,
}

var generatedMarkers = []string{
	"Code generated",
	"DO NOT EDIT",
	"Auto-generated",
	"automatically generated",
	"This file is generated",
}

type replaceResult struct {
	Path         string `json:"path"`
	Replacements int    `json:"replacements"`
	Warning      string `json:"warning,omitempty"`
}

type replaceRequest struct {
	path       string
	old, new   string
	replaceAll bool
}

func searchReplace(fsys filesystem.FileSystem, root string, req replaceRequest) (string, error) {
	abs, err := filesystem.Resolve(root, req.path)
	if err != nil {
		return "", err
	}
	if !textExts[strings.ToLower(filepath.Ext(abs))] {
		return "", fmt.Errorf("search_replace only edits text files, not %s", req.path)
	}
	if req.old == req.new {
		return "", fmt.Errorf("old_string and new_string are identical")
	}

	data, err := fsys.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", req.path, err)
	}
	content := string(data)

	if marker := generatedMarker(content); marker != "" {
		return "", fmt.Errorf("%s looks generated (found %q); edit its generator instead", req.path, marker)
	}

	res := replaceResult{Path: req.path}
	switch lines := strings.Count(req.old, "\n"); {
	case lines > maxEditLines:
		return "", fmt.Errorf("old_string spans %d lines (max %d); split the change", lines, maxEditLines)
	case lines > warnEditLines:
		res.Warning = fmt.Sprintf("old_string spans %d lines; smaller edits are safer", lines)
	}

	count := strings.Count(content, req.old)
	switch {
	case count == 0:
		hint := ""
		if strings.Contains(strings.Join(strings.Fields(content), " "), strings.Join(strings.Fields(req.old), " ")) {
			hint = "; the text exists with different whitespace"
		}
		return "", fmt.Errorf("old_string not found in %s (file indents with %s%s); read the file again and copy the exact text",
			req.path, indentation(content), hint)
	case count > 1 && !req.replaceAll:
		return "", fmt.Errorf("old_string appears %d times in %s%s; add surrounding context or set replace_all",
			count, req.path, occurrenceLines(content, req.old))
	}

	updated := strings.Replace(content, req.old, req.new, 1)
	res.Replacements = 1
	if req.replaceAll {
		updated = strings.ReplaceAll(content, req.old, req.new)
		res.Replacements = count
	}
	if err := fsys.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", req.path, err)
	}

	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func generatedMarker(content string) string {
	preview := content
	if len(preview) > 500 {
		preview = preview[:500]
	}
	for _, m := range generatedMarkers {
		if strings.Contains(preview, m) {
			return m
		}
	}
	return ""
}

func indentation(content string) string {
	switch {
	case strings.Contains(content, "\n\t"):
		return "tabs"
	case strings.Contains(content, "\n    "):
		return "4 spaces"
	case strings.Contains(content, "\n  "):
		return "2 spaces"
	default:
		return "no indentation"
	}
}

// occurrenceLines hints where the first line of old appears, up to five places.
func occurrenceLines(content, old string) string {
	first := strings.TrimSpace(strings.SplitN(old, "\n", 2)[0])
	if first == "" {
		return ""
	}
	var nums []string
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, first) {
			nums = append(nums, fmt.Sprint(i+1))
			if len(nums) == 5 {
				break
			}
		}
	}
	if len(nums) == 0 {
		return ""
	}
	return " (lines " + strings.Join(nums, ", ") + ")"
}

// NewSearchReplaceTool creates the search_replace tool. Repeating a
// replacement can match text the first one produced, so it is not idempotent.
func NewSearchReplaceTool(root string, fsys filesystem.FileSystem) engine.Tool {
	return engine.Tool{
		Name:        "search_replace",
		Description: "Replaces an exact string in a text file. Read the file first and copy old_string exactly, including indentation. old_string must be unique unless replace_all is set.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","minLength":1,"description":"Path relative to the repository root"},
			"old_string":{"type":"string","minLength":1,"description":"Exact text to replace"},
			"new_string":{"type":"string","description":"Replacement text"},
			"replace_all":{"type":"boolean","description":"Replace every occurrence"}
		},"required":["path","old_string","new_string"],"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			oldS, _ := args["old_string"].(string)
			newS, _ := args["new_string"].(string)
			all, _ := args["replace_all"].(bool)
			return searchReplace(fsys, root, replaceRequest{path: path, old: oldS, new: newS, replaceAll: all})
		},
		SideEffect:  engine.Mutating,
		Idempotency: engine.NonIdempotent,
		Category:    "editing",
		Footprint: func(args map[string]any) []string {
			p, _ := args["path"].(string)
			return []string{"file:" + filepath.ToSlash(filepath.Clean(p))}
		},
	}
}
