package qdrant

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/embed/adapters/hash"
	"github.com/memkeep/memkeep/pkg/memstore"
	"github.com/memkeep/memkeep/pkg/tenant"
)

// newIntegrationStore connects to a real Qdrant server. Tests are
// skipped unless QDRANT_HOST is set, and each test gets a throwaway
// collection so runs never interfere.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Qdrant integration test in short mode")
	}
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		t.Skip("QDRANT_HOST not set; skipping Qdrant integration test")
	}
	port := 6334
	if raw := os.Getenv("QDRANT_PORT"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		require.NoError(t, err)
		port = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	store, err := New(ctx, hash.New(), Config{
		Host:       host,
		Port:       port,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		Collection: fmt.Sprintf("memkeep-test-%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.client.DeleteCollection(context.Background(), store.collection)
		store.Close()
	})
	return store
}

func ownerCtx(ownerID string) context.Context {
	return tenant.ContextWith(context.Background(), tenant.NewContext(tenant.OwnerID(ownerID), "conv-1"))
}

func TestIntegrationRoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := ownerCtx("alice")
	embedder := hash.New()

	id, err := store.Insert(ctx, "I prefer dark roast coffee", memstore.Metadata{
		ConversationID: "conv-1",
		Role:           memstore.RoleUser,
		Category:       memstore.CategoryPreference,
		Importance:     0.8,
		Tags:           []string{"coffee"},
		Extra:          map[string]string{"source": "chat"},
	})
	require.NoError(t, err)

	vec, err := embedder.Embed(ctx, "I prefer dark roast coffee")
	require.NoError(t, err)

	results, err := store.Query(ctx, vec, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	record := results[0].Record
	assert.Equal(t, id, record.ID)
	assert.Equal(t, "I prefer dark roast coffee", record.Content)
	assert.Equal(t, tenant.OwnerID("alice"), record.Metadata.OwnerID)
	assert.Equal(t, memstore.CategoryPreference, record.Metadata.Category)
	assert.InDelta(t, 0.8, record.Metadata.Importance, 1e-6)
	assert.Equal(t, []string{"coffee"}, record.Metadata.Tags)
	assert.Equal(t, "chat", record.Metadata.Extra["source"])
	assert.False(t, record.CreatedAt.IsZero())
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
}

func TestIntegrationOwnerIsolation(t *testing.T) {
	store := newIntegrationStore(t)
	embedder := hash.New()

	_, err := store.Insert(ownerCtx("alice"), "alice only", memstore.Metadata{})
	require.NoError(t, err)

	vec, err := embedder.Embed(context.Background(), "alice only")
	require.NoError(t, err)

	results, err := store.Query(ownerCtx("bob"), vec, memstore.QueryOptions{MinScore: -1})
	require.NoError(t, err)
	assert.Empty(t, results)

	stats, err := store.Stats(ownerCtx("bob"))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRecords)
}

func TestIntegrationUpdateAndDelete(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := ownerCtx("alice")
	embedder := hash.New()

	id, err := store.Insert(ctx, "first draft", memstore.Metadata{})
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, id, "second draft", memstore.Metadata{
		Category: memstore.CategoryProject,
	}))

	vec, err := embedder.Embed(ctx, "second draft")
	require.NoError(t, err)
	results, err := store.Query(ctx, vec, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second draft", results[0].Record.Content)
	assert.True(t, results[0].Record.UpdatedAt.After(results[0].Record.CreatedAt) ||
		results[0].Record.UpdatedAt.Equal(results[0].Record.CreatedAt))

	// Bob cannot delete Alice's record.
	require.NoError(t, store.Delete(ownerCtx("bob"), id))
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecords)

	require.NoError(t, store.Delete(ctx, id))
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRecords)
}

func TestIntegrationDeleteByFilter(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := ownerCtx("alice")

	_, err := store.InsertBatch(ctx, []memstore.Item{
		{Content: "keep", Metadata: memstore.Metadata{Category: memstore.CategoryPersonal}},
		{Content: "drop one", Metadata: memstore.Metadata{Category: memstore.CategoryCasual}},
		{Content: "drop two", Metadata: memstore.Metadata{Category: memstore.CategoryCasual}},
	})
	require.NoError(t, err)

	removed, err := store.DeleteByFilter(ctx, memstore.Filter{Category: memstore.CategoryCasual})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecords)
}
