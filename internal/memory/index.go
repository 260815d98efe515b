package memory

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	docEpisode = "episode"
	docLesson  = "lesson"
)

// Hit is one search result.
type Hit struct {
	ID    string
	Kind  string
	Score float64
}

// Index is a keyword index over episodes and lessons.
type Index struct {
	mu    sync.Mutex
	index bleve.Index
}

// OpenIndex opens or creates the index at path. An empty path keeps the index
// in memory. A corrupt index is deleted and rebuilt empty.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	switch {
	case err == bleve.ErrorIndexPathDoesNotExist:
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
	case err != nil:
		log.Printf("WARNING: memory index at %s is unreadable (%v), recreating", path, err)
		if idx != nil {
			idx.Close()
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove corrupt memory index: %w", err)
		}
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("recreate memory index: %w", err)
		}
	}
	return &Index{index: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	kind := bleve.NewTextFieldMapping()
	kind.Analyzer = keyword.Name
	kind.Store = true
	doc.AddFieldMappingsAt("kind", kind)

	category := bleve.NewTextFieldMapping()
	category.Analyzer = keyword.Name
	doc.AddFieldMappingsAt("category", category)

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false
	doc.AddFieldMappingsAt("text", text)

	files := bleve.NewTextFieldMapping()
	files.Analyzer = standard.Name
	doc.AddFieldMappingsAt("files", files)

	m.DefaultMapping = doc
	return m
}

// Close closes the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Close()
}

// AddEpisode indexes an episode under its task id.
func (x *Index) AddEpisode(ep Episode) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Index(docEpisode+":"+ep.TaskID, map[string]any{
		"kind":  docEpisode,
		"text":  ep.Description + "\n" + ep.Summary + "\n" + strings.Join(ep.ToolChain, " "),
		"files": strings.Join(ep.FilesModified, " "),
	})
}

// AddLesson indexes a lesson under its id.
func (x *Index) AddLesson(l Lesson) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Index(docLesson+":"+l.ID, map[string]any{
		"kind":     docLesson,
		"category": string(l.Category),
		"text":     l.Content,
	})
}

// Search returns up to k hits of the given kind ("" for any), best first.
func (x *Index) Search(query, kind string, k int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}
	text := bleve.NewMatchQuery(query)
	text.SetField("text")
	files := bleve.NewMatchQuery(query)
	files.SetField("files")
	q := bleve.NewDisjunctionQuery(text, files)

	req := bleve.NewSearchRequest(q)
	if kind != "" {
		kq := bleve.NewTermQuery(kind)
		kq.SetField("kind")
		req = bleve.NewSearchRequest(bleve.NewConjunctionQuery(q, kq))
	}
	req.Size = k

	x.mu.Lock()
	res, err := x.index.Search(req)
	x.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		k, id, ok := strings.Cut(h.ID, ":")
		if !ok {
			continue
		}
		out = append(out, Hit{ID: id, Kind: k, Score: h.Score})
	}
	return out, nil
}

// Count returns the number of indexed documents.
func (x *Index) Count() (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.DocCount()
}
