// Package search holds the code search tool.
package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
)

const (
	maxResults  = 100
	grepTimeout = 10 * time.Second
)

// rgMessage is one line of `rg --json` output.
type rgMessage struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		Lines struct {
			Text string `json:"text"`
		} `json:"lines"`
		LineNumber int `json:"line_number"`
	} `json:"data"`
}

// Match is one matching line.
type Match struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

type grepResult struct {
	Pattern   string  `json:"pattern"`
	Results   []Match `json:"results"`
	Count     int     `json:"count"`
	Truncated bool    `json:"truncated"`
}

type grepRequest struct {
	pattern         string
	path            string
	globs           string
	caseInsensitive bool
}

func (r grepRequest) args() []string {
	args := []string{"--json"}
	if r.caseInsensitive {
		args = append(args, "-i")
	}
	for _, g := range strings.Split(r.globs, ",") {
		if g = strings.TrimSpace(g); g != "" {
			args = append(args, "-g", g)
		}
	}
	args = append(args, "-e", r.pattern)
	if r.path != "" {
		return append(args, r.path)
	}
	return append(args, ".")
}

func grep(ctx context.Context, runner sandbox.Runner, root string, req grepRequest) (string, error) {
	if strings.HasPrefix(strings.TrimSpace(req.path), "..") {
		return "", fmt.Errorf("path %s is outside repository root", req.path)
	}
	res, err := runner.RunCmd(ctx, root, "rg", req.args(), grepTimeout)
	if err != nil {
		return "", fmt.Errorf("grep failed: %w", err)
	}
	switch {
	case res.TimedOut:
		return "", fmt.Errorf("%w: grep after %s", engine.ErrToolTimeout, grepTimeout)
	case res.Code == 1: // rg exits 1 when nothing matched
	case res.Code != 0:
		return "", fmt.Errorf("grep failed with exit code %d: %s", res.Code, strings.TrimSpace(res.Stderr))
	}

	out := grepResult{Pattern: req.pattern, Results: []Match{}}
	sc := bufio.NewScanner(strings.NewReader(res.Stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var msg rgMessage
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil || msg.Type != "match" {
			continue
		}
		if len(out.Results) == maxResults {
			out.Truncated = true
			break
		}
		out.Results = append(out.Results, Match{
			Path:    msg.Data.Path.Text,
			Line:    msg.Data.LineNumber,
			Content: strings.TrimSpace(msg.Data.Lines.Text),
		})
	}
	out.Count = len(out.Results)

	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewGrepTool creates the grep tool. Searches run through runner so they
// get the same isolation as every other command.
func NewGrepTool(root string, runner sandbox.Runner) engine.Tool {
	return engine.Tool{
		Name:        "grep",
		Description: "Regex code search using ripgrep. Use it to find definitions, references and patterns. Supports case-insensitive search and comma-separated glob filters.",
		SchemaJSON: `{"type":"object","properties":{
			"pattern":{"type":"string","minLength":1,"description":"Regex pattern to search for"},
			"path":{"type":"string","description":"File or directory to search; defaults to the repository root"},
			"globs":{"type":"string","description":"Comma-separated file globs, e.g. *.go,!*_test.go"},
			"case_insensitive":{"type":"boolean"}
		},"required":["pattern"],"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			req := grepRequest{}
			req.pattern, _ = args["pattern"].(string)
			req.path, _ = args["path"].(string)
			req.globs, _ = args["globs"].(string)
			req.caseInsensitive, _ = args["case_insensitive"].(bool)
			return grep(ctx, runner, root, req)
		},
		SideEffect: engine.ReadOnly,
		Retryable:  true,
		Timeout:    grepTimeout + 5*time.Second,
		Category:   "search",
		Footprint:  func(map[string]any) []string { return []string{"search"} },
	}
}
