package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

const (
	outlineThreshold = 400 // files with more lines are returned as an outline
	maxSpanLines     = 400
)

type readResult struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	LineCount   int    `json:"line_count"`
	ContentType string `json:"content_type"` // full, span or outline
	Start       int    `json:"start,omitempty"`
	End         int    `json:"end,omitempty"`
}

func readFile(fsys FileSystem, root, path string, start, end int) (string, error) {
	abs, err := Resolve(root, path)
	if err != nil {
		return "", err
	}
	data, err := fsys.ReadFile(abs)
	if err != nil {
		return "", err
	}
	content := string(data)
	lines := strings.Split(content, "\n")
	res := readResult{Path: path, LineCount: len(lines)}

	switch {
	case start > 0 || end > 0:
		start, end = clampSpan(start, end, len(lines))
		res.Content = numbered(lines[start-1:end], start)
		res.ContentType = "span"
		res.Start, res.End = start, end
	case len(lines) <= outlineThreshold:
		res.Content = content
		res.ContentType = "full"
	default:
		res.Content = outline(content, path)
		res.ContentType = "outline"
	}

	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func clampSpan(start, end, n int) (int, int) {
	if start < 1 {
		start = 1
	}
	if end < 1 || end > n {
		end = n
	}
	if end < start {
		start, end = end, start
	}
	if end-start+1 > maxSpanLines {
		end = start + maxSpanLines - 1
	}
	return start, end
}

func numbered(lines []string, first int) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%5d  %s\n", first+i, l)
	}
	return b.String()
}

// outline lists the declaration lines of a large file so the caller can ask
// for a span.
func outline(content, path string) string {
	var prefixes []string
	switch filepath.Ext(path) {
	case ".go":
		prefixes = []string{"package ", "import", "type ", "func ", "const ", "var "}
	case ".py":
		prefixes = []string{"import ", "from ", "class ", "def ", "async def ", "@"}
	case ".ts", ".tsx", ".js", ".jsx":
		prefixes = []string{"import ", "export ", "class ", "function ", "interface ", "type "}
	}

	lines := strings.Split(content, "\n")
	var b strings.Builder
	fmt.Fprintf(&b, "OUTLINE ONLY: %s has %d lines. Call read_file with start and end to read a section.\n\n", path, len(lines))
	if prefixes == nil {
		for i := 0; i < 30 && i < len(lines); i++ {
			fmt.Fprintf(&b, "Line %4d: %s\n", i+1, lines[i])
		}
		fmt.Fprintf(&b, "... %d more lines ...\n", max(len(lines)-30, 0))
		return b.String()
	}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, p := range prefixes {
			if strings.HasPrefix(trimmed, p) {
				fmt.Fprintf(&b, "Line %4d: %s\n", i+1, trimmed)
				break
			}
		}
	}
	return b.String()
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(root string, fsys FileSystem) engine.Tool {
	return engine.Tool{
		Name: "read_file",
		Description: "Reads a file from the repository. Files over 400 lines come back as an outline; " +
			"pass start and end (1-based, inclusive) to read a numbered line range.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","minLength":1,"description":"Path relative to the repository root"},
			"start":{"type":"integer","minimum":1,"description":"First line to read"},
			"end":{"type":"integer","minimum":1,"description":"Last line to read"}
		},"required":["path"],"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return readFile(fsys, root, stringArg(args, "path"), intArg(args, "start", 0), intArg(args, "end", 0))
		},
		SideEffect: engine.ReadOnly,
		Retryable:  true,
		Category:   "filesystem",
		Footprint:  pathFootprint,
	}
}
