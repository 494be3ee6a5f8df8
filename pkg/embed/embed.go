// Package embed defines the embedding contract used by every vector store
// backend: a text maps to a fixed-length vector, and the dimensionality is
// stable for the lifetime of a deployment.
package embed

import (
	"context"

	"github.com/memkeep/memkeep/pkg/log"
)

// Embedder converts text into fixed-length vectors for similarity search.
//
// Implementations must be deterministic: the same text under the same
// configuration yields the same vector, so re-storing identical content is
// idempotent. Batch embedding must be semantically identical to embedding
// each item individually.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts several texts in one call, preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed output vector length.
	Dimension() int
}

// Fallback wraps a primary embedder with a secondary one that takes over
// when the primary fails. Both embedders must produce vectors of the same
// dimension; callers should verify this at construction time.
type Fallback struct {
	primary   Embedder
	secondary Embedder
}

// NewFallback creates an embedder that tries primary first and degrades to
// secondary on any error.
func NewFallback(primary, secondary Embedder) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

// Embed implements the Embedder interface.
func (f *Fallback) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	log.WarnContext(ctx, "Primary embedder failed, using fallback", "error", err)
	return f.secondary.Embed(ctx, text)
}

// EmbedBatch implements the Embedder interface.
func (f *Fallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	log.WarnContext(ctx, "Primary embedder failed, using fallback", "error", err, "count", len(texts))
	return f.secondary.EmbedBatch(ctx, texts)
}

// Dimension implements the Embedder interface.
func (f *Fallback) Dimension() int {
	return f.primary.Dimension()
}
