package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

type deleteResult struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
	Message string `json:"message,omitempty"`
}

func deleteFile(fsys FileSystem, root, path string) (string, error) {
	abs, err := Resolve(root, path)
	if err != nil {
		return "", err
	}
	if abs == filepath.Clean(root) {
		return "", fmt.Errorf("refusing to delete the repository root")
	}

	res := deleteResult{Path: path}
	info, err := fsys.Stat(abs)
	switch {
	case os.IsNotExist(err):
		res.Message = "file does not exist"
	case err != nil:
		return "", fmt.Errorf("failed to check file: %w", err)
	case info.IsDir():
		return "", fmt.Errorf("cannot delete directory %s", path)
	default:
		if err := fsys.Remove(abs); err != nil {
			return "", fmt.Errorf("failed to delete file: %w", err)
		}
		res.Deleted = true
	}

	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewDeleteFileTool creates the delete_file tool. Deleting a missing file
// succeeds, so repeating a call is harmless.
func NewDeleteFileTool(root string, fsys FileSystem) engine.Tool {
	return engine.Tool{
		Name:        "delete_file",
		Description: "Deletes one file from the repository. Directories cannot be deleted.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","minLength":1,"description":"Path relative to the repository root"}},"required":["path"],"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return deleteFile(fsys, root, stringArg(args, "path"))
		},
		SideEffect:  engine.Mutating,
		Idempotency: engine.Idempotent,
		Category:    "filesystem",
		Footprint:   pathFootprint,
	}
}
