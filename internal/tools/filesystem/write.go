package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

type writeResult struct {
	Path   string `json:"path"`
	Status string `json:"status"` // created, overwritten or unchanged
	Lines  int    `json:"lines"`
}

func writeFile(fsys FileSystem, root, path, content string) (string, error) {
	abs, err := Resolve(root, path)
	if err != nil {
		return "", err
	}
	res := writeResult{Path: path, Status: "created", Lines: strings.Count(content, "\n") + 1}

	if info, err := fsys.Stat(abs); err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", path)
		}
		res.Status = "overwritten"
		if old, err := fsys.ReadFile(abs); err == nil && string(old) == content {
			res.Status = "unchanged"
			return marshalWrite(res)
		}
	}

	if err := fsys.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := fsys.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return marshalWrite(res)
}

func marshalWrite(res writeResult) (string, error) {
	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewWriteFileTool creates the write_file tool. Writing the same content
// twice leaves the same file, so the tool is idempotent.
func NewWriteFileTool(root string, fsys FileSystem) engine.Tool {
	return engine.Tool{
		Name:        "write_file",
		Description: "Writes the complete content of a file, creating parent directories as needed. Overwrites existing files.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","minLength":1,"description":"Path relative to the repository root"},
			"content":{"type":"string","description":"Full file content"}
		},"required":["path","content"],"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return writeFile(fsys, root, stringArg(args, "path"), stringArg(args, "content"))
		},
		SideEffect:  engine.Mutating,
		Idempotency: engine.Idempotent,
		Retryable:   true,
		Category:    "filesystem",
		Footprint:   pathFootprint,
	}
}
