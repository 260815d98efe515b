package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/codemap"
	"github.com/ChamsBouzaiene/forge/internal/engine"
)

const (
	codemapTimeout     = 30 * time.Second
	defaultMapTokens   = 2000
	defaultSymbolLimit = 20
)

type symbolResult struct {
	Query   string          `json:"query"`
	Kind    string          `json:"kind,omitempty"`
	Results []codemap.Match `json:"results"`
	Count   int             `json:"count"`
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}

// NewRepoMapTool creates the repo_map tool over idx.
func NewRepoMapTool(idx *codemap.Index) engine.Tool {
	return engine.Tool{
		Name:        "repo_map",
		Description: "Overview of the repository: source files ranked by how often other files import them, each with the signatures it defines. Use it first to orient yourself in an unfamiliar codebase.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"Only map files under this directory"},
			"max_tokens":{"type":"integer","minimum":100,"maximum":8000,"description":"Approximate size of the map; defaults to 2000"}
		},"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			if _, err := idx.Refresh(ctx); err != nil {
				return "", fmt.Errorf("repo_map failed: %w", err)
			}
			prefix, _ := args["path"].(string)
			return idx.Map(prefix).Render(intArg(args, "max_tokens", defaultMapTokens)), nil
		},
		SideEffect: engine.ReadOnly,
		Retryable:  true,
		Timeout:    codemapTimeout,
		Category:   "search",
		Footprint:  func(map[string]any) []string { return []string{"codemap"} },
	}
}

// NewFindSymbolTool creates the find_symbol tool over idx.
func NewFindSymbolTool(idx *codemap.Index) engine.Tool {
	return engine.Tool{
		Name:        "find_symbol",
		Description: "Find function, method, type and class definitions by name. Exact names rank first, then prefixes, then substrings. Returns file, line range and signature.",
		SchemaJSON: `{"type":"object","properties":{
			"query":{"type":"string","minLength":1,"description":"Name, partial name or Parent.name"},
			"kind":{"type":"string","enum":["function","method","type","class"]},
			"max_results":{"type":"integer","minimum":1,"maximum":100}
		},"required":["query"],"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			if _, err := idx.Refresh(ctx); err != nil {
				return "", fmt.Errorf("find_symbol failed: %w", err)
			}
			q, _ := args["query"].(string)
			kind, _ := args["kind"].(string)
			matches, err := idx.Search(q, kind, intArg(args, "max_results", defaultSymbolLimit))
			if err != nil {
				return "", err
			}
			out := symbolResult{Query: q, Kind: kind, Results: matches, Count: len(matches)}
			if out.Results == nil {
				out.Results = []codemap.Match{}
			}
			b, err := json.Marshal(out)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
		SideEffect: engine.ReadOnly,
		Retryable:  true,
		Timeout:    codemapTimeout,
		Category:   "search",
		Footprint:  func(map[string]any) []string { return []string{"codemap"} },
	}
}
