// Package router classifies a task description as simple or complex.
package router

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/prompts"
)

// Class is the routing outcome.
type Class string

const (
	Simple  Class = "simple"
	Complex Class = "complex"
)

var complexKeywords = []string{
	"refactor", "migrate", "restructure", "redesign", "overhaul",
	"add feature", "implement", "build", "create new",
	"across files", "multiple files", "entire codebase",
	"test suite", "end to end", "integration",
	"optimize", "performance", "benchmark",
}

var simpleKeywords = []string{
	"fix typo", "rename", "add import", "remove unused",
	"update version", "change value", "read file",
	"what is", "explain", "show me", "find", "list",
}

const (
	keywordWeight  = 0.3
	lengthWeight   = 0.2
	fileRefWeight  = 0.2
	markerWeight   = 0.15
	numberedWeight = 0.15

	longTaskWords  = 50
	shortTaskWords = 10
	minFileRefs    = 3
)

var (
	fileRefRe  = regexp.MustCompile(`[\w/]+\.\w{1,4}`)
	markerRe   = regexp.MustCompile(`\b(?:then|after that|next|also|and then|finally)\b`)
	numberedRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+\S`)
)

// Signals are the heuristic inputs behind a score.
type Signals struct {
	ComplexKeywords []string
	SimpleKeywords  []string
	Words           int
	FileRefs        int
	StepMarkers     int
	NumberedSteps   int
}

// Reason renders the signals that moved the score.
func (s Signals) Reason() string {
	var parts []string
	if len(s.ComplexKeywords) > 0 {
		parts = append(parts, "complex keywords: "+strings.Join(s.ComplexKeywords, ", "))
	}
	if len(s.SimpleKeywords) > 0 {
		parts = append(parts, "simple keywords: "+strings.Join(s.SimpleKeywords, ", "))
	}
	if s.Words > longTaskWords {
		parts = append(parts, fmt.Sprintf("long description (%d words)", s.Words))
	} else if s.Words < shortTaskWords {
		parts = append(parts, fmt.Sprintf("short description (%d words)", s.Words))
	}
	if s.FileRefs >= minFileRefs {
		parts = append(parts, fmt.Sprintf("file references (%d)", s.FileRefs))
	}
	if s.StepMarkers > 0 {
		parts = append(parts, fmt.Sprintf("step markers (%d)", s.StepMarkers))
	}
	if s.NumberedSteps >= 2 {
		parts = append(parts, fmt.Sprintf("numbered steps (%d)", s.NumberedSteps))
	}
	if len(parts) == 0 {
		return "default classification"
	}
	return strings.Join(parts, "; ")
}

// Decision is the result of Classify.
type Decision struct {
	Class        Class
	Score        float64
	Confidence   float64
	Signals      Signals
	UsedOracle   bool
	OracleAnswer string
	OracleErr    error
}

func (d Decision) String() string {
	s := fmt.Sprintf("%s (score=%.2f confidence=%.2f: %s)", d.Class, d.Score, d.Confidence, d.Signals.Reason())
	if d.UsedOracle {
		s += fmt.Sprintf(" tie-break=%q", d.OracleAnswer)
		if d.OracleErr != nil {
			s += fmt.Sprintf(" err=%v", d.OracleErr)
		}
	}
	return s
}

// Config holds the router thresholds.
type Config struct {
	Threshold     float64       // score at or above which a task is complex
	Band          float64       // half-width of the borderline zone around Threshold
	OracleTimeout time.Duration // bound on the tie-break call
	MaxTokens     int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{Threshold: 0.6, Band: 0.1, OracleTimeout: 10 * time.Second, MaxTokens: 8}
}

// Router classifies tasks. Borderline scores are settled by one oracle call.
type Router struct {
	cfg    Config
	oracle engine.LLMClient
	model  string
}

// New creates a Router. oracle may be nil, in which case borderline tasks are complex.
func New(cfg Config, oracle engine.LLMClient, model string) *Router {
	d := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.Band < 0 {
		cfg.Band = 0
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = d.OracleTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	return &Router{cfg: cfg, oracle: oracle, model: model}
}

// Score computes the heuristic complexity score in [0, 1]. It is pure.
func Score(description string) (float64, Signals) {
	lower := strings.ToLower(description)
	var sig Signals
	score := 0.0

	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			sig.ComplexKeywords = append(sig.ComplexKeywords, kw)
		}
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(lower, kw) {
			sig.SimpleKeywords = append(sig.SimpleKeywords, kw)
		}
	}
	score += keywordWeight * float64(len(sig.ComplexKeywords))
	score -= keywordWeight * float64(len(sig.SimpleKeywords))

	sig.Words = len(strings.Fields(description))
	switch {
	case sig.Words > longTaskWords:
		score += lengthWeight
	case sig.Words < shortTaskWords:
		score -= lengthWeight
	}

	sig.FileRefs = len(fileRefRe.FindAllString(description, -1))
	if sig.FileRefs >= minFileRefs {
		score += fileRefWeight
	}

	sig.StepMarkers = len(markerRe.FindAllString(lower, -1))
	score += markerWeight * float64(sig.StepMarkers)

	sig.NumberedSteps = len(numberedRe.FindAllString(description, -1))
	if sig.NumberedSteps >= 2 {
		score += numberedWeight
	}

	return math.Max(0, math.Min(1, score+0.5)), sig
}

// borderline reports whether score is within the band around the threshold.
// The epsilon keeps scores that sit exactly on the band edge outside it.
func (r *Router) borderline(score float64) bool {
	return math.Abs(score-r.cfg.Threshold) < r.cfg.Band-1e-9
}

// Heuristic classifies by score alone, never calling the oracle.
func (r *Router) Heuristic(description string) Decision {
	score, sig := Score(description)
	d := Decision{
		Score:      score,
		Confidence: math.Abs(score-0.5) * 2,
		Signals:    sig,
		Class:      Simple,
	}
	if score >= r.cfg.Threshold {
		d.Class = Complex
	}
	return d
}

// Classify routes a task. It never fails: an unavailable oracle resolves a
// borderline task as complex.
func (r *Router) Classify(ctx context.Context, description string) Decision {
	d := r.Heuristic(description)
	if !r.borderline(d.Score) {
		return d
	}

	d.UsedOracle = true
	d.Class = Complex
	if r.oracle == nil {
		d.OracleErr = engine.ErrOracleUnavailable
		return d
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.OracleTimeout)
	defer cancel()
	msgs := []engine.ChatMessage{{
		Role:    engine.RoleUser,
		Content: prompts.MustRender(prompts.IDRouter, map[string]string{"task": description}),
	}}
	resp, err := r.oracle.Chat(ctx, r.model, msgs, nil, engine.ChatOptions{Temperature: 0, MaxOutputTokens: r.cfg.MaxTokens})
	if err != nil {
		d.OracleErr = err
		return d
	}
	d.OracleAnswer = strings.TrimSpace(resp.Assistant.Content)
	if parseAnswer(d.OracleAnswer) == Simple {
		d.Class = Simple
	}
	return d
}

// parseAnswer accepts only an unambiguous "simple".
func parseAnswer(answer string) Class {
	a := strings.ToLower(answer)
	if strings.Contains(a, "simple") && !strings.Contains(a, "complex") {
		return Simple
	}
	return Complex
}
