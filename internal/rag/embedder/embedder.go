// Package embedder produces dense vectors for chunk text ahead of indexing.
package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"docintel/internal/config"
)

// Embedder converts text to embedding vectors, batched.
type Embedder interface {
	// EmbedBatch returns an L2-normalized embedding vector per input text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns a model identifier string.
	Name() string
	// Dimension returns the embedding dimensionality.
	Dimension() int
}

// clientEmbedder calls an OpenAI-compatible embeddings endpoint.
type clientEmbedder struct {
	sdk   sdk.Client
	model string
	dim   int
}

// NewClient constructs an embedder backed by the OpenAI embeddings API
// (or any OpenAI-compatible endpoint reachable via cfg.BaseURL).
func NewClient(cfg config.LLMProviderConfig, dim int) Embedder {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &clientEmbedder{sdk: sdk.NewClient(opts...), model: model, dim: dim}
}

func (c *clientEmbedder) Name() string   { return c.model }
func (c *clientEmbedder) Dimension() int { return c.dim }

func (c *clientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if c.dim > 0 {
		params.Dimensions = sdk.Int(int64(c.dim))
	}

	resp, err := c.sdk.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed batch: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		normalize(vec)
		out[d.Index] = vec
	}
	return out, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum <= 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// deterministicEmbedder is a lightweight, deterministic embedder for tests.
// It hashes byte 3-grams into a fixed-size vector and L2-normalizes.
type deterministicEmbedder struct {
	dim  int
	seed uint64
	name string
}

// NewDeterministic constructs a deterministic embedder with the given
// dimension, for use in tests and the in-memory store path.
func NewDeterministic(dim int, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, seed: seed, name: "deterministic"}
}

func (d *deterministicEmbedder) Name() string   { return d.name }
func (d *deterministicEmbedder) Dimension() int { return d.dim }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) < 3 {
		add(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			add(d.seed, b[i:i+3], v)
		}
	}
	normalize(v)
	return v
}

func add(seed uint64, gram []byte, v []float32) {
	if len(v) == 0 {
		return
	}
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
