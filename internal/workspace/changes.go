package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeTracker records which files under a repository were created, written,
// renamed or removed while it runs. Tools that know what they changed can
// report it with Mark; filesystem events catch everything else, including
// files written by shell commands.
type ChangeTracker struct {
	root    string
	ignore  IgnoreMatcher
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	changed map[string]time.Time
	last    time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewChangeTracker starts watching every non-ignored directory under root.
func NewChangeTracker(root string, ignore IgnoreMatcher) (*ChangeTracker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if ignore == nil {
		ignore = LoadIgnore(abs)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	ct := &ChangeTracker{
		root:    abs,
		ignore:  ignore,
		watcher: w,
		changed: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	if err := ct.addTree(abs); err != nil {
		w.Close()
		return nil, err
	}
	ct.wg.Add(1)
	go ct.loop()
	return ct, nil
}

func (ct *ChangeTracker) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if rel, ok := ct.rel(path); ok && rel != "." && ct.ignore.MatchesPath(rel+"/") {
			return filepath.SkipDir
		}
		if err := ct.watcher.Add(path); err != nil {
			log.Printf("WARNING: failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (ct *ChangeTracker) rel(path string) (string, bool) {
	rel, err := filepath.Rel(ct.root, path)
	if err != nil || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (ct *ChangeTracker) loop() {
	defer ct.wg.Done()
	for {
		select {
		case <-ct.done:
			return
		case ev, ok := <-ct.watcher.Events:
			if !ok {
				return
			}
			ct.handle(ev)
		case err, ok := <-ct.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: watcher error: %v", err)
		}
	}
}

func (ct *ChangeTracker) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	rel, ok := ct.rel(ev.Name)
	if !ok || rel == "." || ct.ignore.MatchesPath(rel) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !ct.ignore.MatchesPath(rel + "/") {
				_ = ct.addTree(ev.Name)
			}
			return
		}
	}
	ct.record(rel)
}

func (ct *ChangeTracker) record(rel string) {
	ct.mu.Lock()
	now := time.Now()
	ct.changed[rel] = now
	ct.last = now
	ct.mu.Unlock()
}

// Mark records a change reported directly by a tool. path may be absolute or
// relative to the root.
func (ct *ChangeTracker) Mark(path string) {
	if filepath.IsAbs(path) {
		rel, ok := ct.rel(path)
		if !ok {
			return
		}
		path = rel
	}
	path = filepath.ToSlash(filepath.Clean(path))
	if ct.ignore.MatchesPath(path) {
		return
	}
	ct.record(path)
}

// Settle waits until no event has arrived for quiet, or max elapses.
func (ct *ChangeTracker) Settle(quiet, max time.Duration) {
	deadline := time.Now().Add(max)
	for time.Now().Before(deadline) {
		ct.mu.Lock()
		last := ct.last
		ct.mu.Unlock()
		if time.Since(last) >= quiet {
			return
		}
		time.Sleep(quiet / 2)
	}
}

// Changed returns the sorted repo-relative paths changed so far.
func (ct *ChangeTracker) Changed() []string {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make([]string, 0, len(ct.changed))
	for p := range ct.changed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Since returns paths changed at or after t.
func (ct *ChangeTracker) Since(t time.Time) []string {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	var out []string
	for p, at := range ct.changed {
		if !at.Before(t) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Reset forgets recorded changes.
func (ct *ChangeTracker) Reset() {
	ct.mu.Lock()
	ct.changed = make(map[string]time.Time)
	ct.mu.Unlock()
}

// Close stops watching.
func (ct *ChangeTracker) Close() error {
	select {
	case <-ct.done:
		return nil
	default:
	}
	close(ct.done)
	err := ct.watcher.Close()
	ct.wg.Wait()
	return err
}
