package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// Embedder turns a task description into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// Meter receives the cost of a paid embedding call.
type Meter func(name string, usd float64)

type meterKey struct{}

// WithMeter returns a context whose embedding calls are charged to m.
func WithMeter(ctx context.Context, m Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

func charge(ctx context.Context, name string, usd float64) {
	if m, ok := ctx.Value(meterKey{}).(Meter); ok && m != nil && usd > 0 {
		m(name, usd)
	}
}

// USD per million input tokens.
var embeddingPrices = map[string]float64{
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
	"text-embedding-ada-002": 0.10,
}

// HashEmbedder is a deterministic, offline embedder based on feature hashing
// of word unigrams, bigrams and character trigrams. Identical descriptions map
// to identical vectors, and lexically close descriptions land close together.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder. dim defaults to 384.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Name() string   { return "hash" }
func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '/' && r != '.'
	})
	add := func(feature string, weight float32) {
		h := fnv.New64a()
		h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		v[idx] += weight
	}
	for i, w := range words {
		add("w:"+w, 1)
		if i > 0 {
			add("b:"+words[i-1]+" "+w, 0.5)
		}
		padded := "^" + w + "$"
		r := []rune(padded)
		for j := 0; j+3 <= len(r); j++ {
			add("c:"+string(r[j:j+3]), 0.25)
		}
	}
	return normalize(v), nil
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	// PricePerMTok overrides the known price of the model.
	PricePerMTok float64

	mu  sync.Mutex
	dim int
}

// NewOpenAIEmbedder creates an embedder. model defaults to text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) *OpenAIEmbedder {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(config), model: model, dim: dim}
}

func (e *OpenAIEmbedder) Name() string { return "openai:" + e.model }

// Dimension is the configured size until the first response reports the
// real one.
func (e *OpenAIEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *OpenAIEmbedder) price() float64 {
	if e.PricePerMTok > 0 {
		return e.PricePerMTok
	}
	return embeddingPrices[e.model]
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	charge(ctx, e.Name(), float64(resp.Usage.PromptTokens)*e.price()/1e6)
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	vec := resp.Data[0].Embedding
	e.mu.Lock()
	e.dim = len(vec)
	e.mu.Unlock()
	return normalize(append([]float32(nil), vec...)), nil
}
