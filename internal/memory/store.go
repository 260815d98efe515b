// Package memory keeps what past tasks did (episodes) and what was learned
// from them (lessons), and feeds relevant lessons back into new tasks.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome of a finished task.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeAborted Outcome = "aborted"
)

// Episode is the record of one finished task.
type Episode struct {
	TaskID        string
	Description   string
	Outcome       Outcome
	Summary       string
	ToolChain     []string
	FilesModified []string
	Duration      time.Duration
	CostUSD       float64
	Time          time.Time
	Replayed      bool
}

// Category of a lesson.
type Category string

const (
	CategoryPattern Category = "pattern"
	CategoryLesson  Category = "lesson"
)

// Lesson is distilled, reusable knowledge.
type Lesson struct {
	ID            string
	Category      Category
	Content       string
	SourceTaskIDs []string
	CreatedAt     time.Time
}

// LessonID derives the id of a lesson from its content, so re-learning the
// same thing updates rather than duplicates it.
func LessonID(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:12])
}

// Store persists episodes and lessons in sqlite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping memory database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize memory schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS episodes (
		task_id        TEXT PRIMARY KEY,
		description    TEXT NOT NULL,
		outcome        TEXT NOT NULL,
		summary        TEXT NOT NULL,
		tool_chain     TEXT NOT NULL,
		files_modified TEXT NOT NULL,
		duration_ms    INTEGER NOT NULL DEFAULT 0,
		cost_usd       REAL NOT NULL DEFAULT 0,
		replayed       INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_created ON episodes(created_at DESC);

	CREATE TABLE IF NOT EXISTS lessons (
		id         TEXT PRIMARY KEY,
		category   TEXT NOT NULL,
		content    TEXT NOT NULL,
		sources    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`)
	return err
}

// PutEpisode inserts or replaces an episode.
func (s *Store) PutEpisode(ctx context.Context, ep Episode) error {
	chain, _ := json.Marshal(nonNil(ep.ToolChain))
	files, _ := json.Marshal(nonNil(ep.FilesModified))
	if ep.Time.IsZero() {
		ep.Time = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO episodes
		(task_id, description, outcome, summary, tool_chain, files_modified, duration_ms, cost_usd, replayed, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.TaskID, ep.Description, string(ep.Outcome), ep.Summary, string(chain), string(files),
		ep.Duration.Milliseconds(), ep.CostUSD, ep.Replayed, ep.Time.UnixNano())
	if err != nil {
		return fmt.Errorf("store episode %s: %w", ep.TaskID, err)
	}
	return nil
}

const episodeCols = `task_id, description, outcome, summary, tool_chain, files_modified, duration_ms, cost_usd, replayed, created_at`

func (s *Store) queryEpisodes(ctx context.Context, query string, args ...any) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var (
			ep           Episode
			outcome      string
			chain, files string
			durMS, nanos int64
		)
		if err := rows.Scan(&ep.TaskID, &ep.Description, &outcome, &ep.Summary, &chain, &files, &durMS, &ep.CostUSD, &ep.Replayed, &nanos); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.Outcome = Outcome(outcome)
		_ = json.Unmarshal([]byte(chain), &ep.ToolChain)
		_ = json.Unmarshal([]byte(files), &ep.FilesModified)
		ep.Duration = time.Duration(durMS) * time.Millisecond
		ep.Time = time.Unix(0, nanos)
		out = append(out, ep)
	}
	return out, rows.Err()
}

// Episode returns one episode by task id.
func (s *Store) Episode(ctx context.Context, taskID string) (Episode, error) {
	eps, err := s.queryEpisodes(ctx, `SELECT `+episodeCols+` FROM episodes WHERE task_id = ?`, taskID)
	if err != nil {
		return Episode{}, err
	}
	if len(eps) == 0 {
		return Episode{}, sql.ErrNoRows
	}
	return eps[0], nil
}

// Recent returns the newest episodes first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Episode, error) {
	return s.queryEpisodes(ctx, `SELECT `+episodeCols+` FROM episodes ORDER BY created_at DESC LIMIT ?`, limit)
}

// Successful returns the newest successful episodes first.
func (s *Store) Successful(ctx context.Context, limit int) ([]Episode, error) {
	return s.queryEpisodes(ctx, `SELECT `+episodeCols+` FROM episodes WHERE outcome = ? ORDER BY created_at DESC LIMIT ?`, string(OutcomeSuccess), limit)
}

// SearchEpisodes matches query as a substring of description or summary.
func (s *Store) SearchEpisodes(ctx context.Context, query string, limit int) ([]Episode, error) {
	like := "%" + query + "%"
	return s.queryEpisodes(ctx, `SELECT `+episodeCols+` FROM episodes WHERE description LIKE ? OR summary LIKE ? ORDER BY created_at DESC LIMIT ?`, like, like, limit)
}

// CountEpisodes returns the number of stored episodes.
func (s *Store) CountEpisodes(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n)
	return n, err
}

// PutLesson upserts a lesson, merging source task ids.
func (s *Store) PutLesson(ctx context.Context, l Lesson) (Lesson, error) {
	if l.ID == "" {
		l.ID = LessonID(l.Content)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Lesson{}, err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT sources FROM lessons WHERE id = ?`, l.ID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return Lesson{}, fmt.Errorf("read lesson: %w", err)
	default:
		var prev []string
		_ = json.Unmarshal([]byte(existing), &prev)
		l.SourceTaskIDs = mergeIDs(prev, l.SourceTaskIDs)
	}

	sources, _ := json.Marshal(nonNil(l.SourceTaskIDs))
	_, err = tx.ExecContext(ctx, `
	INSERT INTO lessons (id, category, content, sources, created_at) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET sources = excluded.sources`,
		l.ID, string(l.Category), l.Content, string(sources), l.CreatedAt.UnixNano())
	if err != nil {
		return Lesson{}, fmt.Errorf("store lesson: %w", err)
	}
	return l, tx.Commit()
}

// Lessons returns lessons by id, in the order given; unknown ids are skipped.
// With no ids it returns every lesson, newest first.
func (s *Store) Lessons(ctx context.Context, ids ...string) ([]Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, category, content, sources, created_at FROM lessons ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Lesson)
	var all []Lesson
	for rows.Next() {
		var (
			l        Lesson
			cat, src string
			nanos    int64
		)
		if err := rows.Scan(&l.ID, &cat, &l.Content, &src, &nanos); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.Category = Category(cat)
		_ = json.Unmarshal([]byte(src), &l.SourceTaskIDs)
		l.CreatedAt = time.Unix(0, nanos)
		byID[l.ID] = l
		all = append(all, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return all, nil
	}
	out := make([]Lesson, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string(nil), a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
