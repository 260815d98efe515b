package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/forge/internal/sandbox"
)

// SyntaxStage parses every changed file it understands and fails fast on the
// first error. Go, JSON and YAML are parsed in process; Python is compiled
// through the runner.
type SyntaxStage struct {
	On      bool
	Runner  sandbox.Runner
	Timeout time.Duration
}

func (s *SyntaxStage) Name() string  { return "syntax" }
func (s *SyntaxStage) Enabled() bool { return s.On }

func (s *SyntaxStage) Check(ctx context.Context, a Artifact) ([]Check, error) {
	var checks []Check
	for _, rel := range a.Changed {
		path := filepath.Join(a.RepoRoot, filepath.FromSlash(rel))
		src, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue // deleted
		}
		name := "syntax:" + rel
		if err != nil {
			checks = append(checks, Check{Name: name, Status: Failed, Message: "unreadable", Details: err.Error()})
			return checks, nil
		}

		var perr error
		switch strings.ToLower(filepath.Ext(rel)) {
		case ".go":
			perr = parseGo(path, src)
		case ".json":
			perr = parseJSON(src)
		case ".yaml", ".yml":
			perr = parseYAML(src)
		case ".py":
			msg, err := s.compilePython(ctx, a, rel)
			if interrupted(ctx, err) {
				return checks, err
			}
			if err != nil {
				checks = append(checks, Check{Name: name, Status: Skipped, Message: "python unavailable: " + err.Error()})
				continue
			}
			if msg != "" {
				perr = errors.New(msg)
			}
		default:
			continue
		}

		if perr != nil {
			checks = append(checks, Check{Name: name, Status: Failed, Message: "syntax error", Details: perr.Error()})
			return checks, nil
		}
		checks = append(checks, Check{Name: name, Status: Passed, Message: "syntax OK"})
	}
	if len(checks) == 0 {
		checks = append(checks, Check{Name: "syntax", Status: Skipped, Message: "no parseable files"})
	}
	return checks, nil
}

func parseGo(path string, src []byte) error {
	_, err := parser.ParseFile(token.NewFileSet(), path, src, parser.AllErrors)
	return err
}

func parseJSON(src []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(src))
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after top-level value")
	}
	return nil
}

func parseYAML(src []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	for {
		var v yaml.Node
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// compilePython returns the compiler's complaint, or an error when the
// compiler could not be run at all.
func (s *SyntaxStage) compilePython(ctx context.Context, a Artifact, rel string) (string, error) {
	if s.Runner == nil {
		return "", fmt.Errorf("no runner")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	res, err := s.Runner.RunCmd(ctx, a.RepoRoot, "python3", []string{"-m", "py_compile", rel}, timeout)
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "py_compile timed out", nil
	}
	if res.Code != 0 {
		return res.Combined(), nil
	}
	return "", nil
}
