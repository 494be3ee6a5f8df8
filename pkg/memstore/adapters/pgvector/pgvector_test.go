package pgvector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/embed/adapters/hash"
	"github.com/memkeep/memkeep/pkg/memstore"
	"github.com/memkeep/memkeep/pkg/tenant"
)

// newIntegrationStore connects to a real PostgreSQL server with the
// pgvector extension. Tests are skipped unless PGVECTOR_TEST_URL is
// set, and each test gets a throwaway table.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping pgvector integration test in short mode")
	}
	url := os.Getenv("PGVECTOR_TEST_URL")
	if url == "" {
		url = os.Getenv("POSTGRES_URL")
	}
	if url == "" {
		t.Skip("PGVECTOR_TEST_URL not set; skipping pgvector integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	tableName := fmt.Sprintf("memkeep_test_%d", time.Now().UnixNano())
	store, err := New(ctx, hash.New(), Config{
		ConnectionString: url,
		TableName:        tableName,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.db.Exec(context.Background(), "DROP TABLE IF EXISTS "+tableName)
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

	id, err := store.Insert(ctx, "My name is Alice and I live in Lisbon", memstore.Metadata{
		ConversationID: "conv-1",
		Role:           memstore.RoleUser,
		Category:       memstore.CategoryPersonal,
		Importance:     0.9,
		Tags:           []string{"identity"},
		Extra:          map[string]string{"source": "chat"},
	})
	require.NoError(t, err)

	vec, err := embedder.Embed(ctx, "My name is Alice and I live in Lisbon")
	require.NoError(t, err)

	results, err := store.Query(ctx, vec, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	record := results[0].Record
	assert.Equal(t, id, record.ID)
	assert.Equal(t, "My name is Alice and I live in Lisbon", record.Content)
	assert.Equal(t, tenant.OwnerID("alice"), record.Metadata.OwnerID)
	assert.Equal(t, memstore.CategoryPersonal, record.Metadata.Category)
	assert.InDelta(t, 0.9, record.Metadata.Importance, 1e-6)
	assert.Equal(t, []string{"identity"}, record.Metadata.Tags)
	assert.Equal(t, "chat", record.Metadata.Extra["source"])
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
}

func TestIntegrationUpsert(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := ownerCtx("alice")
	embedder := hash.New()

	id, err := store.Insert(ctx, "draft one", memstore.Metadata{})
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, id, "draft two", memstore.Metadata{
		Category: memstore.CategoryProject,
	}))

	vec, err := embedder.Embed(ctx, "draft two")
	require.NoError(t, err)
	results, err := store.Query(ctx, vec, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "draft two", results[0].Record.Content)
	assert.Equal(t, memstore.CategoryProject, results[0].Record.Metadata.Category)
	assert.True(t, !results[0].Record.UpdatedAt.Before(results[0].Record.CreatedAt))

	// Another owner's upsert with the same ID changes nothing.
	require.NoError(t, store.Update(ownerCtx("bob"), id, "hijack", memstore.Metadata{}))
	results, err = store.Query(ctx, vec, memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "draft two", results[0].Record.Content)
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
