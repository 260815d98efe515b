package cache

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openTestCache(t *testing.T, cfg Config) (*Cache, *fakeClock, string) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(context.Background(), path, NewHashEmbedder(256), cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, clock, path
}

func chain(tools ...string) []engine.ChainStep {
	out := make([]engine.ChainStep, 0, len(tools))
	for _, name := range tools {
		out = append(out, engine.ChainStep{Tool: name, Args: map[string]any{"path": "main.go"}})
	}
	return out
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("DecodeVector() = %v, want %v", out, in)
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector() expected error for truncated data")
	}
}

func TestHashEmbedderSimilarity(t *testing.T) {
	e := NewHashEmbedder(512)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "fix typo in README")
	b, _ := e.Embed(ctx, "Fix  typo in README")
	c, _ := e.Embed(ctx, "migrate the payments database to postgres")

	if s := Cosine(a, b); math.Abs(s-1) > 1e-6 {
		t.Errorf("identical descriptions similarity = %v, want 1", s)
	}
	if s := Cosine(a, c); s > 0.5 {
		t.Errorf("unrelated descriptions similarity = %v, want < 0.5", s)
	}
}

func TestLookupHitAndMiss(t *testing.T) {
	c, _, _ := openTestCache(t, Config{Enabled: true, Threshold: 0.85, MaxEntries: 10})
	ctx := context.Background()

	if err := c.Store(ctx, "add a license header to main.go", chain("read_file", "write_file"), []string{"main.go"}, 0.02); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	hit, sim, err := c.Lookup(ctx, "Add a license header to main.go")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if hit == nil {
		t.Fatalf("Lookup() miss with similarity %v", sim)
	}
	defer hit.Release()
	if len(hit.Chain) != 2 || hit.Chain[1].Tool != "write_file" {
		t.Errorf("Chain = %+v", hit.Chain)
	}
	if hit.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", hit.UsageCount)
	}

	miss, best, err := c.Lookup(ctx, "explain the retry policy for tools")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if miss != nil {
		t.Errorf("Lookup() unexpected hit %q (similarity %v)", miss.Description, miss.Similarity)
	}
	if best >= c.Threshold() {
		t.Errorf("best similarity %v should be below threshold", best)
	}
}

func TestStoreSkipsEmptyChainAndDisabled(t *testing.T) {
	c, _, _ := openTestCache(t, Config{Enabled: true, MaxEntries: 10})
	ctx := context.Background()
	if err := c.Store(ctx, "what is this repo", nil, nil, 0.01); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for empty chain", c.Len())
	}

	off, _, _ := openTestCache(t, Config{Enabled: false, MaxEntries: 10})
	if err := off.Store(ctx, "fix typo", chain("read_file"), nil, 0); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if hit, _, _ := off.Lookup(ctx, "fix typo"); hit != nil {
		t.Error("disabled cache returned a hit")
	}
}

func TestStoreDeduplicatesAndResetsUsage(t *testing.T) {
	c, _, _ := openTestCache(t, Config{Enabled: true, MaxEntries: 10})
	ctx := context.Background()

	if err := c.Store(ctx, "bump version in go.mod", chain("read_file"), nil, 0.01); err != nil {
		t.Fatal(err)
	}
	hit, _, _ := c.Lookup(ctx, "bump version in go.mod")
	if hit == nil {
		t.Fatal("expected hit")
	}
	hit.Release()

	if err := c.Store(ctx, "Bump version in  go.mod", chain("read_file", "write_file"), nil, 0.03); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after re-store", c.Len())
	}
	e, err := c.Get(ctx, KeyOf("bump version in go.mod"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.UsageCount != 0 || len(e.Chain) != 2 {
		t.Errorf("entry = usage %d chain %d, want usage 0 chain 2", e.UsageCount, len(e.Chain))
	}
}

func TestEvictionBoundAndScore(t *testing.T) {
	c, clock, _ := openTestCache(t, Config{Enabled: true, MaxEntries: 3})
	ctx := context.Background()

	descs := []string{
		"rename handler in server.go",
		"update the readme badges",
		"add retry to http client",
	}
	for _, d := range descs {
		if err := c.Store(ctx, d, chain("read_file"), nil, 0.01); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Hour)
	}

	// Use the oldest entry so it outranks the untouched middle one.
	for i := 0; i < 3; i++ {
		hit, _, _ := c.Lookup(ctx, descs[0])
		if hit == nil {
			t.Fatal("expected hit on first entry")
		}
		hit.Release()
	}
	clock.Advance(time.Hour)

	if err := c.Store(ctx, "delete the stale fixtures directory", chain("run_cmd"), nil, 0.01); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if _, err := c.Get(ctx, KeyOf(descs[1])); err == nil {
		t.Error("least valuable entry was not evicted")
	}
	if _, err := c.Get(ctx, KeyOf(descs[0])); err != nil {
		t.Errorf("frequently used entry evicted: %v", err)
	}
}

func TestEvictionSkipsPinned(t *testing.T) {
	c, clock, _ := openTestCache(t, Config{Enabled: true, MaxEntries: 1})
	ctx := context.Background()

	if err := c.Store(ctx, "format all go files", chain("run_cmd"), nil, 0.01); err != nil {
		t.Fatal(err)
	}
	hit, _, _ := c.Lookup(ctx, "format all go files")
	if hit == nil {
		t.Fatal("expected hit")
	}
	clock.Advance(time.Hour)

	if err := c.Store(ctx, "vendor the dependencies", chain("run_cmd"), nil, 0.01); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 while the first entry is pinned", c.Len())
	}
	hit.Release()

	if err := c.Store(ctx, "tidy go.sum", chain("run_cmd"), nil, 0.01); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after release", c.Len())
	}
}

func TestScoreOrdering(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := Score(0, now, now)
	stale := Score(0, now.Add(-48*time.Hour), now)
	popular := Score(10, now.Add(-48*time.Hour), now)
	if !(stale < fresh && fresh < popular) {
		t.Errorf("scores stale=%v fresh=%v popular=%v, want stale < fresh < popular", stale, fresh, popular)
	}
}

func TestReopenLoadsIndex(t *testing.T) {
	c, _, path := openTestCache(t, Config{Enabled: true, MaxEntries: 10})
	ctx := context.Background()
	if err := c.Store(ctx, "add healthcheck endpoint", chain("write_file"), []string{"api.go"}, 0.05); err != nil {
		t.Fatal(err)
	}
	c.Close()

	again, err := Open(ctx, path, NewHashEmbedder(256), Config{Enabled: true, MaxEntries: 10})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer again.Close()
	hit, _, err := again.Lookup(ctx, "add healthcheck endpoint")
	if err != nil || hit == nil {
		t.Fatalf("Lookup() after reopen = %v, %v", hit, err)
	}
	hit.Release()
	if hit.FilesModified[0] != "api.go" {
		t.Errorf("FilesModified = %v", hit.FilesModified)
	}
}

func TestConcurrentLookupAndStore(t *testing.T) {
	c, _, _ := openTestCache(t, Config{Enabled: true, MaxEntries: 5})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			desc := fmt.Sprintf("task number %d touches file_%d.go", i, i)
			if err := c.Store(ctx, desc, chain("read_file"), nil, 0.01); err != nil {
				t.Errorf("Store() error = %v", err)
				return
			}
			if hit, _, err := c.Lookup(ctx, desc); err == nil && hit != nil {
				hit.Release()
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 5 {
		t.Errorf("Len() = %d, exceeds bound of 5", c.Len())
	}
	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != c.Len() || st.Pinned != 0 {
		t.Errorf("Stats() = %+v, Len() = %d", st, c.Len())
	}
}

func TestClear(t *testing.T) {
	c, _, _ := openTestCache(t, Config{Enabled: true, MaxEntries: 10})
	ctx := context.Background()
	_ = c.Store(ctx, "one", chain("read_file"), nil, 0)
	_ = c.Store(ctx, "two", chain("read_file"), nil, 0)
	n, err := c.Clear(ctx)
	if err != nil || n != 2 || c.Len() != 0 {
		t.Errorf("Clear() = %d, %v; Len() = %d", n, err, c.Len())
	}
}
