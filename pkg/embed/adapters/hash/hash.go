// Package hash provides a deterministic, dependency-free embedder. Vectors
// are derived from an FNV hash of the input text, normalized to unit length.
// It carries no semantic signal, so it is only suitable as a fallback when no
// real embedding backend is reachable, and as a test embedder.
package hash

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultDimension matches the output size of small sentence-transformer
// models so a deployment can swap in a real embedder without reindexing
// configuration.
const DefaultDimension = 384

// Embedder generates deterministic embeddings from a text hash.
type Embedder struct {
	dimension int
}

// New creates a hash embedder with the default dimension.
func New() *Embedder {
	return NewWithDimension(DefaultDimension)
}

// NewWithDimension creates a hash embedder producing vectors of the given
// length.
func NewWithDimension(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension}
}

// Embed implements the embed.Embedder interface.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dimension)
	for i := 0; i < e.dimension; i++ {
		// Linear congruential generator seeded by the text hash
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(vec), nil
}

// EmbedBatch implements the embed.Embedder interface.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimension implements the embed.Embedder interface.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// normalize scales a vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
