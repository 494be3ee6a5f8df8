package flat

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/memstore"
	"github.com/memkeep/memkeep/pkg/tenant"
)

// stubEmbedder maps known texts to fixed vectors so tests control
// similarity scores exactly. Unknown texts get a distinct axis vector.
type stubEmbedder struct {
	vectors map[string][]float32
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: map[string][]float32{}}
}

func (e *stubEmbedder) set(text string, vec []float32) {
	e.vectors[text] = vec
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	// Unknown texts are orthogonal to everything the test set up.
	return []float32{0, 0, 1}, nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *stubEmbedder) Dimension() int { return 3 }

func newTestStore(t *testing.T) (*Store, *stubEmbedder) {
	t.Helper()
	embedder := newStubEmbedder()
	store, err := New(embedder, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, embedder
}

func ownerCtx(ownerID string) context.Context {
	return tenant.ContextWith(context.Background(), tenant.NewContext(tenant.OwnerID(ownerID), "conv-1"))
}

func TestInsertAndQuery(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	embedder.set("I prefer dark roast coffee", []float32{1, 0, 0})

	id, err := store.Insert(ctx, "I prefer dark roast coffee", memstore.Metadata{
		Category: memstore.CategoryPreference,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	results, err := store.Query(ctx, []float32{1, 0, 0}, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Record.ID)
	assert.Equal(t, "I prefer dark roast coffee", results[0].Record.Content)
	assert.Equal(t, memstore.CategoryPreference, results[0].Record.Metadata.Category)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, tenant.OwnerID("alice"), results[0].Record.Metadata.OwnerID)
	assert.False(t, results[0].Record.CreatedAt.IsZero())
}

func TestQueryEmptyStore(t *testing.T) {
	store, _ := newTestStore(t)

	results, err := store.Query(ownerCtx("alice"), []float32{1, 0, 0}, memstore.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMissingOwner(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Insert(context.Background(), "text", memstore.Metadata{})
	assert.ErrorIs(t, err, tenant.ErrMissingOwner)

	_, err = store.Query(context.Background(), []float32{1, 0, 0}, memstore.QueryOptions{})
	assert.ErrorIs(t, err, tenant.ErrMissingOwner)
}

func TestOwnerIsolation(t *testing.T) {
	store, embedder := newTestStore(t)

	embedder.set("alice's secret", []float32{1, 0, 0})
	embedder.set("bob's note", []float32{0.9, 0.1, 0})

	_, err := store.Insert(ownerCtx("alice"), "alice's secret", memstore.Metadata{})
	require.NoError(t, err)
	_, err = store.Insert(ownerCtx("bob"), "bob's note", memstore.Metadata{})
	require.NoError(t, err)

	results, err := store.Query(ownerCtx("bob"), []float32{1, 0, 0}, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob's note", results[0].Record.Content)
}

func TestTopKOrdering(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	// Scores against the query [1,0,0] descend from near-1 to near-0.
	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.435889894, 0},
		{0.7, 0.714142843, 0},
		{0.5, 0.866025404, 0},
	}
	for i, vec := range vecs {
		text := fmt.Sprintf("memory %d", i)
		embedder.set(text, vec)
		_, err := store.Insert(ctx, text, memstore.Metadata{})
		require.NoError(t, err)
	}

	results, err := store.Query(ctx, []float32{1, 0, 0}, memstore.QueryOptions{TopK: 2, MinScore: -1})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "memory 0", results[0].Record.Content)
	assert.Equal(t, "memory 1", results[1].Record.Content)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMinScoreThreshold(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	// Loosely related memory scoring 0.5 against the query.
	embedder.set("espresso machines are finicky", []float32{0.5, 0.866025404, 0})
	_, err := store.Insert(ctx, "espresso machines are finicky", memstore.Metadata{})
	require.NoError(t, err)

	// A strict threshold hides it.
	results, err := store.Query(ctx, []float32{1, 0, 0}, memstore.QueryOptions{MinScore: 0.7})
	require.NoError(t, err)
	assert.Empty(t, results)

	// A permissive one surfaces it.
	results, err = store.Query(ctx, []float32{1, 0, 0}, memstore.QueryOptions{MinScore: 0.3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].Score, 1e-6)
}

func TestDimensionMismatch(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Query(ownerCtx("alice"), []float32{1, 0}, memstore.QueryOptions{})
	assert.Error(t, err)
}

func TestQueryFilter(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	embedder.set("dark roast", []float32{1, 0, 0})
	embedder.set("project deadline friday", []float32{0.99, 0.141067360, 0})

	_, err := store.Insert(ctx, "dark roast", memstore.Metadata{Category: memstore.CategoryPreference})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "project deadline friday", memstore.Metadata{Category: memstore.CategoryProject})
	require.NoError(t, err)

	results, err := store.Query(ctx, []float32{1, 0, 0}, memstore.QueryOptions{
		Filter: memstore.Filter{Category: memstore.CategoryProject},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "project deadline friday", results[0].Record.Content)
}

func TestUpdateUpsert(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	embedder.set("old fact", []float32{1, 0, 0})
	embedder.set("new fact", []float32{0, 1, 0})

	id, err := store.Insert(ctx, "old fact", memstore.Metadata{})
	require.NoError(t, err)

	store.mu.RLock()
	created := store.records["alice"][id].CreatedAt
	store.mu.RUnlock()

	err = store.Update(ctx, id, "new fact", memstore.Metadata{Category: memstore.CategoryPersonal})
	require.NoError(t, err)

	results, err := store.Query(ctx, []float32{0, 1, 0}, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new fact", results[0].Record.Content)
	assert.Equal(t, created, results[0].Record.CreatedAt)
	assert.True(t, !results[0].Record.UpdatedAt.Before(created))

	// Unknown ID creates the record.
	err = store.Update(ctx, "fresh-id", "old fact", memstore.Metadata{})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
}

func TestDelete(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	embedder.set("to remove", []float32{1, 0, 0})
	id, err := store.Insert(ctx, "to remove", memstore.Metadata{})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))

	results, err := store.Query(ctx, []float32{1, 0, 0}, memstore.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Deleting an unknown ID is not an error.
	require.NoError(t, store.Delete(ctx, "no-such-id"))
}

func TestDeleteByFilter(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	embedder.set("keep me", []float32{1, 0, 0})
	embedder.set("drop me", []float32{0, 1, 0})

	_, err := store.Insert(ctx, "keep me", memstore.Metadata{Category: memstore.CategoryPersonal})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "drop me", memstore.Metadata{Category: memstore.CategoryCasual})
	require.NoError(t, err)
	_, err = store.Insert(ownerCtx("bob"), "drop me", memstore.Metadata{Category: memstore.CategoryCasual})
	require.NoError(t, err)

	removed, err := store.DeleteByFilter(ctx, memstore.Filter{Category: memstore.CategoryCasual})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecords)

	// Bob's records are untouched.
	stats, err = store.Stats(ownerCtx("bob"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecords)
}

func TestInsertBatch(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	embedder.set("one", []float32{1, 0, 0})
	embedder.set("two", []float32{0, 1, 0})

	ids, err := store.InsertBatch(ctx, []memstore.Item{
		{Content: "one", Metadata: memstore.Metadata{Category: memstore.CategoryGeneral}},
		{Content: "two", Metadata: memstore.Metadata{Category: memstore.CategoryGeneral}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 3, stats.Dimension)
}

func TestList(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := ownerCtx("alice")

	embedder.set("first", []float32{1, 0, 0})
	embedder.set("second", []float32{0, 1, 0})

	_, err := store.Insert(ctx, "first", memstore.Metadata{})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "second", memstore.Metadata{})
	require.NoError(t, err)
	_, err = store.Insert(ownerCtx("bob"), "second", memstore.Metadata{})
	require.NoError(t, err)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, !records[0].CreatedAt.After(records[1].CreatedAt))
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.db")
	embedder := newStubEmbedder()
	embedder.set("durable fact", []float32{1, 0, 0})

	store, err := New(embedder, Config{Path: path})
	require.NoError(t, err)
	ctx := ownerCtx("alice")

	id, err := store.Insert(ctx, "durable fact", memstore.Metadata{Category: memstore.CategoryPersonal})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := New(embedder, Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Query(ctx, []float32{1, 0, 0}, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Record.ID)
	assert.Equal(t, "durable fact", results[0].Record.Content)
}
