package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Memory combines the store and the keyword index.
type Memory struct {
	Store *Store
	Index *Index
}

// Open opens the store at dbPath and the index at indexPath ("" for an
// in-memory index). The index is rebuilt from the store when it is empty.
func Open(ctx context.Context, dbPath, indexPath string) (*Memory, error) {
	st, err := OpenStore(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	idx, err := OpenIndex(indexPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	m := &Memory{Store: st, Index: idx}
	if n, err := idx.Count(); err == nil && n == 0 {
		if err := m.reindex(ctx); err != nil {
			log.Printf("WARNING: memory reindex failed: %v", err)
		}
	}
	return m, nil
}

func (m *Memory) reindex(ctx context.Context) error {
	eps, err := m.Store.Recent(ctx, 10000)
	if err != nil {
		return err
	}
	for _, ep := range eps {
		if err := m.Index.AddEpisode(ep); err != nil {
			return err
		}
	}
	lessons, err := m.Store.Lessons(ctx)
	if err != nil {
		return err
	}
	for _, l := range lessons {
		if err := m.Index.AddLesson(l); err != nil {
			return err
		}
	}
	return nil
}

// Close closes both the index and the store.
func (m *Memory) Close() error {
	ierr := m.Index.Close()
	serr := m.Store.Close()
	if ierr != nil {
		return ierr
	}
	return serr
}

// RecordEpisode stores and indexes a finished task.
func (m *Memory) RecordEpisode(ctx context.Context, ep Episode) error {
	if err := m.Store.PutEpisode(ctx, ep); err != nil {
		return err
	}
	if err := m.Index.AddEpisode(ep); err != nil {
		return fmt.Errorf("index episode %s: %w", ep.TaskID, err)
	}
	return nil
}

// Learn stores and indexes a lesson.
func (m *Memory) Learn(ctx context.Context, l Lesson) (Lesson, error) {
	l, err := m.Store.PutLesson(ctx, l)
	if err != nil {
		return Lesson{}, err
	}
	if err := m.Index.AddLesson(l); err != nil {
		return Lesson{}, fmt.Errorf("index lesson: %w", err)
	}
	return l, nil
}

// Recall returns up to k lessons relevant to query, best first.
func (m *Memory) Recall(ctx context.Context, query string, k int) ([]Lesson, error) {
	hits, err := m.Index.Search(query, docLesson, k)
	if err != nil || len(hits) == 0 {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return m.Store.Lessons(ctx, ids...)
}

// SearchEpisodes returns up to k episodes relevant to query, best first.
func (m *Memory) SearchEpisodes(ctx context.Context, query string, k int) ([]Episode, error) {
	hits, err := m.Index.Search(query, docEpisode, k)
	if err != nil {
		return nil, err
	}
	out := make([]Episode, 0, len(hits))
	for _, h := range hits {
		ep, err := m.Store.Episode(ctx, h.ID)
		if err != nil {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// FormatLessons renders lessons for a system prompt.
func FormatLessons(lessons []Lesson) string {
	if len(lessons) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Lessons from earlier tasks in this repository:\n")
	for _, l := range lessons {
		fmt.Fprintf(&b, "- %s\n", l.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
