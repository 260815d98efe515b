package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// MockFileSystem is a mock implementation of the FileSystem interface.
type MockFileSystem struct {
	StatFunc      func(name string) (os.FileInfo, error)
	ReadFileFunc  func(name string) ([]byte, error)
	WriteFileFunc func(name string, data []byte, perm os.FileMode) error
	MkdirAllFunc  func(path string, perm os.FileMode) error
	RemoveFunc    func(name string) error
	ReadDirFunc   func(name string) ([]os.DirEntry, error)
	WalkDirFunc   func(root string, fn fs.WalkDirFunc) error
}

func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	if m.StatFunc != nil {
		return m.StatFunc(name)
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) ReadFile(name string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(name)
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(name, data, perm)
	}
	return nil
}

func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	if m.MkdirAllFunc != nil {
		return m.MkdirAllFunc(path, perm)
	}
	return nil
}

func (m *MockFileSystem) Remove(name string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(name)
	}
	return nil
}

func (m *MockFileSystem) ReadDir(name string) ([]os.DirEntry, error) {
	if m.ReadDirFunc != nil {
		return m.ReadDirFunc(name)
	}
	return nil, nil
}

func (m *MockFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	if m.WalkDirFunc != nil {
		return m.WalkDirFunc(root, fn)
	}
	return nil
}

type mockFileInfo struct {
	name  string
	isDir bool
}

func (m mockFileInfo) Name() string       { return m.name }
func (m mockFileInfo) Size() int64        { return 0 }
func (m mockFileInfo) Mode() os.FileMode  { return 0 }
func (m mockFileInfo) ModTime() time.Time { return time.Now() }
func (m mockFileInfo) IsDir() bool        { return m.isDir }
func (m mockFileInfo) Sys() any           { return nil }

type mockDirEntry struct {
	name  string
	isDir bool
}

func (m mockDirEntry) Name() string               { return m.name }
func (m mockDirEntry) IsDir() bool                { return m.isDir }
func (m mockDirEntry) Type() os.FileMode          { return 0 }
func (m mockDirEntry) Info() (os.FileInfo, error) { return nil, nil }

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	return v
}

func TestResolve(t *testing.T) {
	tests := []struct {
		rel     string
		want    string
		wantErr bool
	}{
		{rel: "a/b.go", want: "/repo/a/b.go"},
		{rel: "", want: "/repo"},
		{rel: "a/../b.go", want: "/repo/b.go"},
		{rel: "../secret", wantErr: true},
		{rel: "a/../../secret", wantErr: true},
		{rel: "..foo/x", want: "/repo/..foo/x"},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got, err := Resolve("/repo", tt.rel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.rel, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	var long strings.Builder
	long.WriteString("package big\n\n")
	for i := 0; i < 450; i++ {
		fmt.Fprintf(&long, "func F%d() {}\n", i)
	}

	tests := []struct {
		name        string
		path        string
		content     string
		readErr     error
		start, end  int
		wantErr     bool
		wantType    string
		wantContain string
	}{
		{name: "small file is returned whole", path: "a.txt", content: "hello world", wantType: "full", wantContain: "hello world"},
		{name: "large file becomes an outline", path: "big.go", content: long.String(), wantType: "outline", wantContain: "Line    3: func F0() {}"},
		{name: "span is numbered", path: "a.txt", content: "one\ntwo\nthree\nfour", start: 2, end: 3, wantType: "span", wantContain: "    2  two\n    3  three\n"},
		{name: "span end past the file is clamped", path: "a.txt", content: "one\ntwo", start: 2, end: 99, wantType: "span", wantContain: "    2  two"},
		{name: "missing file", path: "missing.txt", readErr: os.ErrNotExist, wantErr: true},
		{name: "path traversal", path: "../secret.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := &MockFileSystem{
				ReadFileFunc: func(name string) ([]byte, error) {
					if name != filepath.Join("/repo", tt.path) {
						t.Errorf("read %q", name)
					}
					return []byte(tt.content), tt.readErr
				},
			}
			out, err := readFile(fsys, "/repo", tt.path, tt.start, tt.end)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			res := decode[readResult](t, out)
			if res.ContentType != tt.wantType {
				t.Errorf("content type = %q, want %q", res.ContentType, tt.wantType)
			}
			if !strings.Contains(res.Content, tt.wantContain) {
				t.Errorf("content %q does not contain %q", res.Content, tt.wantContain)
			}
		})
	}
}

func TestClampSpan(t *testing.T) {
	tests := []struct {
		start, end, n int
		wantS, wantE  int
	}{
		{start: 0, end: 0, n: 10, wantS: 1, wantE: 10},
		{start: 5, end: 2, n: 10, wantS: 2, wantE: 5},
		{start: 1, end: 1000, n: 1000, wantS: 1, wantE: maxSpanLines},
	}
	for _, tt := range tests {
		s, e := clampSpan(tt.start, tt.end, tt.n)
		if s != tt.wantS || e != tt.wantE {
			t.Errorf("clampSpan(%d, %d, %d) = %d, %d; want %d, %d", tt.start, tt.end, tt.n, s, e, tt.wantS, tt.wantE)
		}
	}
}

func TestWriteFile(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		existing   *string
		isDir      bool
		writeErr   error
		wantErr    bool
		wantStatus string
		wantWrite  bool
	}{
		{name: "new file", path: "src/a.go", wantStatus: "created", wantWrite: true},
		{name: "changed file", path: "a.go", existing: ptr("old"), wantStatus: "overwritten", wantWrite: true},
		{name: "same content", path: "a.go", existing: ptr("hello"), wantStatus: "unchanged"},
		{name: "directory", path: "src", isDir: true, wantErr: true},
		{name: "write failure", path: "a.go", writeErr: errors.New("disk full"), wantErr: true, wantWrite: true},
		{name: "path traversal", path: "../a.go", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrote := false
			var mkdir string
			fsys := &MockFileSystem{
				StatFunc: func(name string) (os.FileInfo, error) {
					if tt.isDir {
						return mockFileInfo{name: name, isDir: true}, nil
					}
					if tt.existing == nil {
						return nil, os.ErrNotExist
					}
					return mockFileInfo{name: name}, nil
				},
				ReadFileFunc: func(name string) ([]byte, error) { return []byte(*tt.existing), nil },
				MkdirAllFunc: func(path string, perm os.FileMode) error { mkdir = path; return nil },
				WriteFileFunc: func(name string, data []byte, perm os.FileMode) error {
					wrote = true
					if string(data) != "hello" {
						t.Errorf("wrote %q", data)
					}
					return tt.writeErr
				},
			}
			out, err := writeFile(fsys, "/repo", tt.path, "hello")
			if (err != nil) != tt.wantErr {
				t.Fatalf("writeFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if wrote != tt.wantWrite {
				t.Errorf("wrote = %v, want %v", wrote, tt.wantWrite)
			}
			if tt.wantErr {
				return
			}
			if res := decode[writeResult](t, out); res.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", res.Status, tt.wantStatus)
			}
			if tt.wantWrite && mkdir != filepath.Dir(filepath.Join("/repo", tt.path)) {
				t.Errorf("mkdir %q", mkdir)
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestDeleteFile(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		stat        os.FileInfo
		statErr     error
		wantErr     bool
		wantDeleted bool
	}{
		{name: "existing file", path: "test.txt", stat: mockFileInfo{name: "test.txt"}, wantDeleted: true},
		{name: "missing file", path: "missing.txt", statErr: os.ErrNotExist},
		{name: "directory", path: "dir", stat: mockFileInfo{name: "dir", isDir: true}, wantErr: true},
		{name: "repository root", path: ".", stat: mockFileInfo{name: "repo", isDir: true}, wantErr: true},
		{name: "path traversal", path: "../test.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			removed := ""
			fsys := &MockFileSystem{
				StatFunc:   func(name string) (os.FileInfo, error) { return tt.stat, tt.statErr },
				RemoveFunc: func(name string) error { removed = name; return nil },
			}
			out, err := deleteFile(fsys, "/repo", tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("deleteFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if removed != "" {
					t.Errorf("removed %q on error", removed)
				}
				return
			}
			res := decode[deleteResult](t, out)
			if res.Deleted != tt.wantDeleted {
				t.Errorf("deleted = %v, want %v", res.Deleted, tt.wantDeleted)
			}
			if tt.wantDeleted && removed != "/repo/test.txt" {
				t.Errorf("removed %q", removed)
			}
		})
	}
}

func TestListFiles(t *testing.T) {
	entries := []struct {
		path  string
		isDir bool
	}{
		{"/repo", true},
		{"/repo/file1.txt", false},
		{"/repo/error.log", false},
		{"/repo/node_modules", true},
		{"/repo/node_modules/x.js", false},
		{"/repo/src", true},
		{"/repo/src/main.go", false},
	}
	walk := func(root string, fn fs.WalkDirFunc) error {
		skipped := ""
		for _, e := range entries {
			if skipped != "" && strings.HasPrefix(e.path, skipped+"/") {
				continue
			}
			err := fn(e.path, mockDirEntry{name: filepath.Base(e.path), isDir: e.isDir}, nil)
			switch {
			case errors.Is(err, filepath.SkipAll):
				return nil
			case errors.Is(err, filepath.SkipDir):
				skipped = e.path
			case err != nil:
				return err
			}
		}
		return nil
	}

	tests := []struct {
		name          string
		opts          listOptions
		wantFiles     []string
		wantTruncated bool
	}{
		{
			name:      "non-recursive marks directories and skips ignored ones",
			opts:      listOptions{},
			wantFiles: []string{"file1.txt", "dir1/"},
		},
		{
			name:      "recursive honors extra patterns",
			opts:      listOptions{recursive: true, maxDepth: -1, extra: []string{"*.log"}},
			wantFiles: []string{"file1.txt", "src/main.go"},
		},
		{
			name:      "recursive with max depth",
			opts:      listOptions{recursive: true, maxDepth: 0},
			wantFiles: []string{"file1.txt", "error.log"},
		},
		{
			name:          "limit truncates",
			opts:          listOptions{recursive: true, maxDepth: -1, limit: 1},
			wantFiles:     []string{"file1.txt"},
			wantTruncated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := &MockFileSystem{
				ReadDirFunc: func(name string) ([]os.DirEntry, error) {
					return []os.DirEntry{
						mockDirEntry{name: "file1.txt"},
						mockDirEntry{name: "dir1", isDir: true},
						mockDirEntry{name: "node_modules", isDir: true},
						mockDirEntry{name: ".git", isDir: true},
					}, nil
				},
				WalkDirFunc: walk,
			}
			out, err := listFiles(fsys, "/repo", "", tt.opts)
			if err != nil {
				t.Fatalf("listFiles() error = %v", err)
			}
			res := decode[listResult](t, out)
			if strings.Join(res.Files, ",") != strings.Join(tt.wantFiles, ",") {
				t.Errorf("files = %v, want %v", res.Files, tt.wantFiles)
			}
			if res.Truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", res.Truncated, tt.wantTruncated)
			}
		})
	}
}

func TestToolsOnDisk(t *testing.T) {
	root := t.TempDir()
	fsys := OSFileSystem{}
	ctx := context.Background()

	write := NewWriteFileTool(root, fsys)
	if _, err := write.Fn(ctx, map[string]any{"path": "pkg/a.go", "content": "package pkg\n"}); err != nil {
		t.Fatalf("write_file: %v", err)
	}
	read := NewReadFileTool(root, fsys)
	out, err := read.Fn(ctx, map[string]any{"path": "pkg/a.go"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if res := decode[readResult](t, out); res.Content != "package pkg\n" {
		t.Errorf("content = %q", res.Content)
	}
	if got := read.Footprint(map[string]any{"path": "./pkg//a.go"}); len(got) != 1 || got[0] != "file:pkg/a.go" {
		t.Errorf("footprint = %v", got)
	}

	del := NewDeleteFileTool(root, fsys)
	if _, err := del.Fn(ctx, map[string]any{"path": "pkg/a.go"}); err != nil {
		t.Fatalf("delete_file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "pkg", "a.go")); !os.IsNotExist(err) {
		t.Errorf("file still exists: %v", err)
	}
}
