package embed_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/embed"
	"github.com/memkeep/memkeep/pkg/embed/adapters/hash"
)

type failingEmbedder struct {
	dimension int
	err       error
}

func (f *failingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, f.err
}

func (f *failingEmbedder) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, f.err
}

func (f *failingEmbedder) Dimension() int { return f.dimension }

func TestFallbackDegradesToSecondary(t *testing.T) {
	ctx := context.Background()
	secondary := hash.NewWithDimension(32)
	f := embed.NewFallback(&failingEmbedder{dimension: 32, err: errors.New("backend unreachable")}, secondary)

	vec, err := f.Embed(ctx, "hello")
	require.NoError(t, err)

	want, err := secondary.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, want, vec)

	batch, err := f.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestFallbackPrefersPrimary(t *testing.T) {
	ctx := context.Background()
	primary := hash.NewWithDimension(32)
	secondary := &failingEmbedder{dimension: 32, err: errors.New("should not be called")}
	f := embed.NewFallback(primary, secondary)

	vec, err := f.Embed(ctx, "hello")
	require.NoError(t, err)

	want, err := primary.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, want, vec)
	assert.Equal(t, 32, f.Dimension())
}
