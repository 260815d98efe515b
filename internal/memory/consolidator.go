package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

const (
	defaultConsolidateEvery = 5
	chainPrefixLen          = 5
	maxChainPatterns        = 3
	maxFilePatterns         = 5
	maxLessonsPerRun        = 5
	minSummaryLen           = 20
)

// Consolidator distills lessons from successful episodes in the background.
// Every Threshold successes it wakes a worker that mines recent episodes for
// recurring tool chains and files and turns summaries into lessons.
type Consolidator struct {
	mem       *Memory
	threshold int

	// OnRun, when set, is called after every consolidation run.
	OnRun func(learned []Lesson, err error)

	mu        sync.Mutex
	successes int
	wake      chan struct{}
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// NewConsolidator creates a consolidator over mem. A threshold <= 0 uses 5.
func NewConsolidator(mem *Memory, threshold int) *Consolidator {
	if threshold <= 0 {
		threshold = defaultConsolidateEvery
	}
	return &Consolidator{mem: mem, threshold: threshold, wake: make(chan struct{}, 1)}
}

// Start launches the worker. It runs until ctx is done or Stop is called.
func (c *Consolidator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.stop = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				learned, err := c.Consolidate(ctx)
				if err != nil && ctx.Err() == nil {
					log.Printf("WARNING: memory consolidation failed: %v", err)
				}
				if c.OnRun != nil {
					c.OnRun(learned, err)
				}
			}
		}
	}()
}

// Stop halts the worker and waits for an in-flight run to finish.
func (c *Consolidator) Stop() {
	c.mu.Lock()
	cancel := c.stop
	c.stop = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Notify reports a finished task. It never blocks; a run already pending
// absorbs further wake-ups.
func (c *Consolidator) Notify(outcome Outcome) {
	if outcome != OutcomeSuccess {
		return
	}
	c.mu.Lock()
	c.successes++
	due := c.successes >= c.threshold
	if due {
		c.successes = 0
	}
	c.mu.Unlock()

	if due {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// Consolidate runs one pass synchronously and returns the lessons it stored.
func (c *Consolidator) Consolidate(ctx context.Context) ([]Lesson, error) {
	eps, err := c.mem.Store.Successful(ctx, c.threshold*4)
	if err != nil {
		return nil, fmt.Errorf("load episodes: %w", err)
	}
	if len(eps) == 0 {
		return nil, nil
	}

	candidates := append(chainPatterns(eps), filePatterns(eps)...)
	candidates = append(candidates, summaryLessons(eps)...)

	var learned []Lesson
	for _, l := range candidates {
		if err := ctx.Err(); err != nil {
			return learned, err
		}
		stored, err := c.mem.Learn(ctx, l)
		if err != nil {
			return learned, err
		}
		learned = append(learned, stored)
	}
	return learned, nil
}

type counted struct {
	key     string
	count   int
	sources []string
}

func topCounts(m map[string]*counted, minCount, limit int) []*counted {
	var out []*counted
	for _, c := range m {
		if c.count >= minCount {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func chainPatterns(eps []Episode) []Lesson {
	counts := make(map[string]*counted)
	for _, ep := range eps {
		if len(ep.ToolChain) == 0 {
			continue
		}
		prefix := ep.ToolChain
		if len(prefix) > chainPrefixLen {
			prefix = prefix[:chainPrefixLen]
		}
		key := strings.Join(prefix, " -> ")
		if counts[key] == nil {
			counts[key] = &counted{key: key}
		}
		counts[key].count++
		counts[key].sources = append(counts[key].sources, ep.TaskID)
	}

	var out []Lesson
	for _, c := range topCounts(counts, 2, maxChainPatterns) {
		out = append(out, Lesson{
			Category:      CategoryPattern,
			Content:       fmt.Sprintf("Common tool chain pattern (%d occurrences): %s", c.count, c.key),
			SourceTaskIDs: c.sources,
		})
	}
	return out
}

func filePatterns(eps []Episode) []Lesson {
	counts := make(map[string]*counted)
	for _, ep := range eps {
		seen := make(map[string]bool)
		for _, f := range ep.FilesModified {
			if seen[f] {
				continue
			}
			seen[f] = true
			if counts[f] == nil {
				counts[f] = &counted{key: f}
			}
			counts[f].count++
			counts[f].sources = append(counts[f].sources, ep.TaskID)
		}
	}

	var out []Lesson
	for _, c := range topCounts(counts, 2, maxFilePatterns) {
		out = append(out, Lesson{
			Category:      CategoryPattern,
			Content:       fmt.Sprintf("Frequently modified file (%d tasks): %s", c.count, c.key),
			SourceTaskIDs: c.sources,
		})
	}
	return out
}

func summaryLessons(eps []Episode) []Lesson {
	var out []Lesson
	for _, ep := range eps {
		if len(out) == maxLessonsPerRun {
			break
		}
		summary := strings.TrimSpace(ep.Summary)
		if len(summary) <= minSummaryLen {
			continue
		}
		desc := ep.Description
		if r := []rune(desc); len(r) > 50 {
			desc = string(r[:50])
		}
		out = append(out, Lesson{
			Category:      CategoryLesson,
			Content:       fmt.Sprintf("Lesson from task '%s': %s", desc, summary),
			SourceTaskIDs: []string{ep.TaskID},
		})
	}
	return out
}
