package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/prompts"
)

const maxRubricCode = 3000

var rubricDimensions = []string{"correctness", "style", "edge_cases", "simplicity"}

// Score is one rubric dimension.
type Score struct {
	Dimension string
	Score     int
	Reasoning string
}

// Review is a parsed rubric response.
type Review struct {
	Scores      []Score
	Verdict     string
	Suggestions []string
	Raw         string
}

// Average returns the mean score, or 0 with no scores.
func (r Review) Average() float64 {
	if len(r.Scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range r.Scores {
		sum += s.Score
	}
	return float64(sum) / float64(len(r.Scores))
}

func (r Review) Passed() bool { return r.Verdict == "pass" }

func (r Review) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "verdict %s (avg %.1f/5)", strings.ToUpper(r.Verdict), r.Average())
	for _, s := range r.Scores {
		fmt.Fprintf(&b, "\n  %s: %d/5 %s", s.Dimension, s.Score, s.Reasoning)
	}
	for _, s := range r.Suggestions {
		fmt.Fprintf(&b, "\n  - %s", s)
	}
	return b.String()
}

// ParseReview parses a rubric reply. Fenced or chatty replies are accepted as
// long as they contain one JSON object. Scores are clamped to 1..5.
func ParseReview(text string) (Review, error) {
	r := Review{Raw: text}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return r, fmt.Errorf("no JSON object in review")
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &data); err != nil {
		return r, fmt.Errorf("decode review: %w", err)
	}
	for _, dim := range rubricDimensions {
		raw, ok := data[dim]
		if !ok {
			continue
		}
		var d struct {
			Score     float64 `json:"score"`
			Reasoning string  `json:"reasoning"`
		}
		d.Score = 3
		if err := json.Unmarshal(raw, &d); err != nil {
			return r, fmt.Errorf("decode %s: %w", dim, err)
		}
		score := int(d.Score)
		if score < 1 {
			score = 1
		}
		if score > 5 {
			score = 5
		}
		r.Scores = append(r.Scores, Score{Dimension: dim, Score: score, Reasoning: d.Reasoning})
	}

	r.Verdict = "fail"
	if raw, ok := data["overall_verdict"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err == nil {
			r.Verdict = strings.ToLower(strings.TrimSpace(v))
		}
	}
	if raw, ok := data["suggestions"]; ok {
		_ = json.Unmarshal(raw, &r.Suggestions)
	}
	return r, nil
}

// RubricStage asks the oracle to review the change.
type RubricStage struct {
	On        bool
	LLM       engine.LLMClient
	Model     string
	MaxTokens int
	// OracleTimeout bounds each review attempt. Zero leaves only ctx.
	OracleTimeout time.Duration
	// Retry is the backoff for transient oracle errors. The zero policy
	// makes a single attempt.
	Retry engine.RetryPolicy
	// LastReview holds the most recent parsed review, for callers that want
	// the scores. It is not safe for concurrent pipelines.
	LastReview *Review
}

func (s *RubricStage) Name() string  { return "rubric" }
func (s *RubricStage) Enabled() bool { return s.On && s.LLM != nil }

func (s *RubricStage) Check(ctx context.Context, a Artifact) ([]Check, error) {
	code := collectCode(a, maxRubricCode)
	msgs := []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: "You are a precise code reviewer. Respond only with JSON."},
		{Role: engine.RoleUser, Content: prompts.MustRender(prompts.IDRubric, map[string]string{
			"task": a.Description,
			"code": code,
		})},
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	opts := engine.ChatOptions{Temperature: 0, MaxOutputTokens: maxTokens}
	resp, err := engine.RetryLLMCall(ctx, s.Retry, s.LLM, s.Model, msgs, nil, opts, s.OracleTimeout, nil)
	if interrupted(ctx, err) {
		return nil, err
	}
	if err != nil {
		return []Check{{Name: "rubric", Status: Failed, Message: "review unavailable", Details: err.Error()}}, nil
	}

	review, perr := ParseReview(resp.Assistant.Content)
	if perr != nil {
		review = Review{Verdict: "pass", Suggestions: []string{"review could not be parsed; manual review recommended"}, Raw: resp.Assistant.Content}
		s.LastReview = &review
		return []Check{{Name: "rubric", Status: Passed, Message: "unparseable review, passing", Details: perr.Error()}}, nil
	}
	s.LastReview = &review
	if review.Passed() {
		return []Check{{Name: "rubric", Status: Passed, Message: fmt.Sprintf("avg %.1f/5", review.Average())}}, nil
	}
	return []Check{{Name: "rubric", Status: Failed, Message: "reviewer rejected the change", Details: review.String()}}, nil
}

// collectCode concatenates the changed files under headers, capped at max runes.
func collectCode(a Artifact, max int) string {
	var b strings.Builder
	for _, rel := range a.Changed {
		src, err := os.ReadFile(filepath.Join(a.RepoRoot, filepath.FromSlash(rel)))
		if err != nil {
			fmt.Fprintf(&b, "// %s (deleted)\n", rel)
			continue
		}
		fmt.Fprintf(&b, "// %s\n%s\n", rel, src)
	}
	return engine.Truncate(b.String(), max)
}
