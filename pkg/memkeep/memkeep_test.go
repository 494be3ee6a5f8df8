package memkeep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/memstore"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewFromConfig(context.Background(), config.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewFromConfigDefaults(t *testing.T) {
	client := newTestClient(t)
	assert.NotNil(t, client.Memories())
}

func TestNewFromConfigRejectsUnknownStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Type = "redis"
	_, err := NewFromConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestHandleEndToEnd(t *testing.T) {
	client := newTestClient(t)
	ctx := client.OwnerContext(context.Background(), "alice", "conv-1")

	reply, err := client.Handle(ctx, "My name is Alice and I live in Lisbon")
	require.NoError(t, err)
	client.Flush()

	assert.NotEmpty(t, reply.Text)
	assert.True(t, reply.Decision.ShouldStore)
	assert.Equal(t, memstore.CategoryPersonal, reply.Decision.Category)

	stats, err := client.Memories().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)

	grouped, err := client.Memories().ListByOwner(ctx)
	require.NoError(t, err)
	assert.Len(t, grouped[memstore.CategoryPersonal], 2)
}

func TestChromemStoreEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Type = "chromem"

	client, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	ctx := client.OwnerContext(context.Background(), "alice", "conv-1")
	id, err := client.Memories().Store(ctx, "I prefer dark roast coffee", memstore.Metadata{
		Category: memstore.CategoryPreference,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Identical text embeds identically, so the match is exact.
	results, err := client.Memories().Search(ctx, "I prefer dark roast coffee", memstore.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
}
