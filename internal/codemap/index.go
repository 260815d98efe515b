package codemap

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/ChamsBouzaiene/forge/internal/workspace"
)

const (
	defaultMaxFiles     = 500
	defaultMaxFileBytes = 512 << 10
	maxCandidates       = 1000
)

// Options bounds a walk.
type Options struct {
	MaxFiles     int   // default 500
	MaxFileBytes int64 // larger files are skipped; default 512KiB
	Ignore       workspace.IgnoreMatcher
}

type entry struct {
	mod  time.Time
	size int64
	file File
}

// Index holds the parsed source files of one tree and a symbol index over
// them. Refresh re-parses only files whose size or mtime changed.
type Index struct {
	fsys fs.FS
	opts Options

	mu        sync.Mutex
	files     map[string]entry
	truncated bool
	search    bleve.Index
}

// Stats reports what one Refresh did.
type Stats struct {
	Files     int
	Parsed    int
	Removed   int
	Truncated bool
}

// Match is a find_symbol result. Relevance is 1 for an exact name, 0.8
// for a prefix and 0.5 for a substring.
type Match struct {
	Symbol
	Relevance float64 `json:"relevance"`
}

// Open indexes the repository at root, honouring its ignore rules.
func Open(root string, extraIgnore ...string) (*Index, error) {
	return New(os.DirFS(root), Options{Ignore: workspace.LoadIgnore(root, extraIgnore...)})
}

// New creates an empty index over fsys. Nothing is read before Refresh.
func New(fsys fs.FS, opts Options) (*Index, error) {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultMaxFiles
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = defaultMaxFileBytes
	}
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create symbol index: %w", err)
	}
	return &Index{fsys: fsys, opts: opts, files: make(map[string]entry), search: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	for _, name := range []string{"name", "qualified", "kind", "path"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = false
		doc.AddFieldMappingsAt(name, f)
	}
	m.DefaultMapping = doc
	return m
}

// Close releases the symbol index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.search.Close()
}

func (x *Index) ignored(rel string, dir bool) bool {
	if x.opts.Ignore == nil {
		return false
	}
	if dir {
		return x.opts.Ignore.MatchesPath(rel + "/")
	}
	return x.opts.Ignore.MatchesPath(rel)
}

// Refresh walks the tree and brings the index up to date.
func (x *Index) Refresh(ctx context.Context) (Stats, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var st Stats
	seen := make(map[string]bool, len(x.files))
	batch := x.search.NewBatch()
	err := fs.WalkDir(x.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if d.IsDir() {
			if x.ignored(p, true) {
				return fs.SkipDir
			}
			return nil
		}
		if LangOf(p) == "" || x.ignored(p, false) {
			return nil
		}
		if len(seen) == x.opts.MaxFiles {
			st.Truncated = true
			return fs.SkipAll
		}
		info, err := d.Info()
		if err != nil || info.Size() > x.opts.MaxFileBytes {
			return nil
		}
		seen[p] = true
		old, ok := x.files[p]
		if ok && old.size == info.Size() && old.mod.Equal(info.ModTime()) {
			return nil
		}
		content, err := fs.ReadFile(x.fsys, p)
		if err != nil {
			delete(seen, p)
			return nil
		}
		if ok {
			unindex(batch, old.file)
		}
		f := Parse(p, content)
		x.files[p] = entry{mod: info.ModTime(), size: info.Size(), file: f}
		if err := index(batch, f); err != nil {
			return err
		}
		st.Parsed++
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("walk source tree: %w", err)
	}
	for p, e := range x.files {
		if !seen[p] {
			unindex(batch, e.file)
			delete(x.files, p)
			st.Removed++
		}
	}
	if err := x.search.Batch(batch); err != nil {
		return st, fmt.Errorf("update symbol index: %w", err)
	}
	x.truncated = st.Truncated
	st.Files = len(x.files)
	return st, nil
}

func docID(path string, i int) string {
	return path + "#" + strconv.Itoa(i)
}

func index(b *bleve.Batch, f File) error {
	for i, s := range f.Symbols {
		err := b.Index(docID(f.Path, i), map[string]any{
			"name":      strings.ToLower(s.Name),
			"qualified": strings.ToLower(s.QualifiedName()),
			"kind":      s.Kind,
			"path":      f.Path,
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", f.Path, err)
		}
	}
	return nil
}

func unindex(b *bleve.Batch, f File) {
	for i := range f.Symbols {
		b.Delete(docID(f.Path, i))
	}
}

// Files returns the parsed files in path order.
func (x *Index) Files() []File {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]File, 0, len(x.files))
	for _, e := range x.files {
		out = append(out, e.file)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Search finds symbols whose name or qualified name contains q, case
// insensitively, optionally restricted to one kind. Results are ranked
// exact, then prefix, then substring, and by name within a rank.
func (x *Index) Search(q, kind string, k int) ([]Match, error) {
	q = wildcards.Replace(strings.ToLower(strings.TrimSpace(q)))
	if q == "" || k <= 0 {
		return nil, nil
	}
	pattern := "*" + q + "*"
	name := bleve.NewWildcardQuery(pattern)
	name.SetField("name")
	qualified := bleve.NewWildcardQuery(pattern)
	qualified.SetField("qualified")
	var bq query.Query = bleve.NewDisjunctionQuery(name, qualified)
	if kind != "" {
		kq := bleve.NewTermQuery(kind)
		kq.SetField("kind")
		bq = bleve.NewConjunctionQuery(bq, kq)
	}
	req := bleve.NewSearchRequest(bq)
	req.Size = maxCandidates

	x.mu.Lock()
	defer x.mu.Unlock()
	res, err := x.search.Search(req)
	if err != nil {
		return nil, fmt.Errorf("symbol search failed: %w", err)
	}

	out := make([]Match, 0, len(res.Hits))
	for _, h := range res.Hits {
		s, ok := x.symbol(h.ID)
		if !ok {
			continue
		}
		out = append(out, Match{Symbol: s, Relevance: relevance(q, s)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (x *Index) symbol(id string) (Symbol, bool) {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return Symbol{}, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return Symbol{}, false
	}
	e, ok := x.files[id[:i]]
	if !ok || n >= len(e.file.Symbols) {
		return Symbol{}, false
	}
	return e.file.Symbols[n], true
}

func relevance(q string, s Symbol) float64 {
	name := strings.ToLower(s.Name)
	switch {
	case name == q || strings.ToLower(s.QualifiedName()) == q:
		return 1
	case strings.HasPrefix(name, q):
		return 0.8
	default:
		return 0.5
	}
}

// Symbol names never contain these, and bleve cannot escape them.
var wildcards = strings.NewReplacer("*", "", "?", "", `\`, "")
