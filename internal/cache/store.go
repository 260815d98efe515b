// Package cache stores verified tool chains keyed by the embedding of the
// task description they solved.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

// Config holds cache knobs.
type Config struct {
	Enabled    bool
	Threshold  float64 // minimum cosine similarity for a hit
	MaxEntries int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{Enabled: true, Threshold: 0.85, MaxEntries: 1000}
}

// Entry is one cached chain.
type Entry struct {
	ID            string
	Description   string
	Chain         []engine.ChainStep
	FilesModified []string
	CostUSD       float64
	UsageCount    int
	CreatedAt     time.Time
	LastUsed      time.Time
}

// Hit is a successful lookup. The entry stays pinned, and so is never evicted,
// until Release is called.
type Hit struct {
	Entry
	Similarity float64
	release    func()
	once       sync.Once
}

// Release unpins the entry. Safe to call more than once.
func (h *Hit) Release() {
	if h == nil || h.release == nil {
		return
	}
	h.once.Do(h.release)
}

// Stats summarizes the store.
type Stats struct {
	Entries    int
	TotalUses  int
	SavedUSD   float64 // sum of cost_usd * usage_count
	Pinned     int
	MaxEntries int
}

type indexEntry struct {
	vector   []float32
	usage    int
	lastUsed time.Time
}

// Cache is safe for concurrent use. Lookups share a read lock on the
// in-memory index; inserts and evictions take the write lock and commit in a
// single transaction.
type Cache struct {
	db       *sql.DB
	embedder Embedder
	cfg      Config
	now      func() time.Time

	mu    sync.RWMutex
	index map[string]*indexEntry

	pinMu sync.Mutex
	pins  map[string]int
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Open opens (or creates) the sqlite store at path and loads the vector index.
func Open(ctx context.Context, path string, embedder Embedder, cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	c := &Cache{
		db:       db,
		embedder: embedder,
		cfg:      cfg,
		now:      time.Now,
		index:    make(map[string]*indexEntry),
		pins:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	if err := c.loadIndex(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) initSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS chains (
		id             TEXT PRIMARY KEY,
		description    TEXT NOT NULL,
		embedding      BLOB NOT NULL,
		chain          TEXT NOT NULL,
		files_modified TEXT NOT NULL DEFAULT '[]',
		cost_usd       REAL NOT NULL DEFAULT 0,
		usage_count    INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL,
		last_used      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chains_last_used ON chains(last_used);
	`)
	return err
}

func (c *Cache) loadIndex(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `SELECT id, embedding, usage_count, last_used FROM chains`)
	if err != nil {
		return fmt.Errorf("load cache index: %w", err)
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var (
			id       string
			blob     []byte
			usage    int
			lastUsed int64
		)
		if err := rows.Scan(&id, &blob, &usage, &lastUsed); err != nil {
			return fmt.Errorf("scan cache row: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			continue
		}
		c.index[id] = &indexEntry{vector: vec, usage: usage, lastUsed: time.Unix(0, lastUsed)}
	}
	return rows.Err()
}

// KeyOf returns the storage key for a description.
func KeyOf(description string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Threshold returns the similarity threshold for hits.
func (c *Cache) Threshold() float64 { return c.cfg.Threshold }

// Lookup returns the nearest stored chain when its similarity reaches the
// threshold. On a miss it returns a nil Hit and the best similarity seen.
func (c *Cache) Lookup(ctx context.Context, description string) (*Hit, float64, error) {
	if !c.cfg.Enabled {
		return nil, 0, nil
	}
	query, err := c.embedder.Embed(ctx, description)
	if err != nil {
		return nil, 0, fmt.Errorf("embed task: %w", err)
	}

	c.mu.RLock()
	bestID, best := "", -1.0
	for id, e := range c.index {
		s := Cosine(query, e.vector)
		if s > best || (s == best && id < bestID) {
			bestID, best = id, s
		}
	}
	if bestID == "" || best < c.cfg.Threshold {
		c.mu.RUnlock()
		return nil, math.Max(best, 0), nil
	}
	// Pin while the read lock still excludes eviction.
	c.pin(bestID)
	c.mu.RUnlock()

	entry, err := c.touch(ctx, bestID)
	if err != nil {
		c.unpin(bestID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, best, nil
		}
		return nil, best, err
	}
	return &Hit{Entry: entry, Similarity: best, release: func() { c.unpin(bestID) }}, best, nil
}

// touch increments usage_count, refreshes last_used and returns the row.
func (c *Cache) touch(ctx context.Context, id string) (Entry, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE chains SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`, now.UnixNano(), id)
	if err != nil {
		return Entry{}, fmt.Errorf("update cache usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Entry{}, sql.ErrNoRows
	}
	entry, err := c.get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if ie, ok := c.index[id]; ok {
		ie.usage = entry.UsageCount
		ie.lastUsed = entry.LastUsed
	}
	return entry, nil
}

func (c *Cache) get(ctx context.Context, id string) (Entry, error) {
	var (
		e                   Entry
		chainJSON, filesRaw string
		created, lastUsed   int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, description, chain, files_modified, cost_usd, usage_count, created_at, last_used FROM chains WHERE id = ?`, id).
		Scan(&e.ID, &e.Description, &chainJSON, &filesRaw, &e.CostUSD, &e.UsageCount, &created, &lastUsed)
	if err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(chainJSON), &e.Chain); err != nil {
		return Entry{}, fmt.Errorf("decode cached chain %s: %w", id, err)
	}
	_ = json.Unmarshal([]byte(filesRaw), &e.FilesModified)
	e.CreatedAt = time.Unix(0, created)
	e.LastUsed = time.Unix(0, lastUsed)
	return e, nil
}

// Get returns an entry by id without touching its usage.
func (c *Cache) Get(ctx context.Context, id string) (Entry, error) {
	return c.get(ctx, id)
}

// Store writes or refreshes the chain for description with usage_count reset,
// then evicts down to MaxEntries. Both happen in one transaction; on any error
// nothing is written. Chains without tool calls are not cached.
func (c *Cache) Store(ctx context.Context, description string, chain []engine.ChainStep, files []string, costUSD float64) error {
	if !c.cfg.Enabled || len(chain) == 0 {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, description)
	if err != nil {
		return fmt.Errorf("embed task: %w", err)
	}
	chainJSON, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}
	if files == nil {
		files = []string{}
	}
	filesJSON, _ := json.Marshal(files)
	id := KeyOf(description)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache write: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO chains (id, description, embedding, chain, files_modified, cost_usd, usage_count, created_at, last_used)
	VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		description = excluded.description,
		embedding = excluded.embedding,
		chain = excluded.chain,
		files_modified = excluded.files_modified,
		cost_usd = excluded.cost_usd,
		usage_count = 0,
		last_used = excluded.last_used`,
		id, description, EncodeVector(vec), string(chainJSON), string(filesJSON), costUSD, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}

	next := make(map[string]*indexEntry, len(c.index)+1)
	for k, v := range c.index {
		next[k] = v
	}
	next[id] = &indexEntry{vector: vec, usage: 0, lastUsed: now}

	victims := c.victims(next, id, now)
	for _, v := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chains WHERE id = ?`, v); err != nil {
			return fmt.Errorf("evict cache entry: %w", err)
		}
		delete(next, v)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache write: %w", err)
	}
	c.index = next
	return nil
}

// Score is the recency+frequency retention score; lower is evicted first.
func Score(usage int, lastUsed, now time.Time) float64 {
	hours := now.Sub(lastUsed).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Log1p(float64(usage)) + 1/(1+hours)
}

// victims picks entries to delete so that at most MaxEntries remain. Pinned
// entries and the entry being written are never chosen, so the store may
// stay above the bound while replays are in flight.
func (c *Cache) victims(index map[string]*indexEntry, keep string, now time.Time) []string {
	excess := len(index) - c.cfg.MaxEntries
	if excess <= 0 {
		return nil
	}

	type cand struct {
		id    string
		score float64
		last  time.Time
	}
	c.pinMu.Lock()
	cands := make([]cand, 0, len(index))
	for id, e := range index {
		if id == keep || c.pins[id] > 0 {
			continue
		}
		cands = append(cands, cand{id: id, score: Score(e.usage, e.lastUsed, now), last: e.lastUsed})
	}
	c.pinMu.Unlock()

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score < cands[j].score
		}
		if !cands[i].last.Equal(cands[j].last) {
			return cands[i].last.Before(cands[j].last)
		}
		return cands[i].id < cands[j].id
	})
	if excess > len(cands) {
		excess = len(cands)
	}
	out := make([]string, 0, excess)
	for _, cd := range cands[:excess] {
		out = append(out, cd.id)
	}
	return out
}

func (c *Cache) pin(id string) {
	c.pinMu.Lock()
	c.pins[id]++
	c.pinMu.Unlock()
}

func (c *Cache) unpin(id string) {
	c.pinMu.Lock()
	defer c.pinMu.Unlock()
	if c.pins[id] <= 1 {
		delete(c.pins, id)
		return
	}
	c.pins[id]--
}

// Stats reports store-wide counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(usage_count), 0), COALESCE(SUM(cost_usd * usage_count), 0) FROM chains`).
		Scan(&s.Entries, &s.TotalUses, &s.SavedUSD)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	c.pinMu.Lock()
	s.Pinned = len(c.pins)
	c.pinMu.Unlock()
	s.MaxEntries = c.cfg.MaxEntries
	return s, nil
}

// Clear removes every entry that is not pinned.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	c.pinMu.Lock()
	var ids []string
	for id := range c.index {
		if c.pins[id] == 0 {
			ids = append(ids, id)
		}
	}
	c.pinMu.Unlock()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chains WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("clear cache: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	for _, id := range ids {
		delete(c.index, id)
	}
	return len(ids), nil
}
