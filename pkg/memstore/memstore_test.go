package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	identical := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	assert.InDelta(t, 1.0, identical, 1e-9)

	scaled := CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6})
	assert.InDelta(t, 1.0, scaled, 1e-6)

	orthogonal := CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0})
	assert.InDelta(t, 0.0, orthogonal, 1e-9)

	// Opposed vectors clamp to 0 rather than going negative.
	opposed := CosineSimilarity([]float32{1, 0, 0}, []float32{-1, 0, 0})
	assert.Equal(t, 0.0, opposed)
}

func TestCosineSimilarityDegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0, 0}, []float32{1, 0, 0}))
}

func TestQueryOptionsNormalize(t *testing.T) {
	defaults := QueryOptions{}.Normalize()
	assert.Equal(t, DefaultTopK, defaults.TopK)
	assert.Equal(t, DefaultMinScore, defaults.MinScore)

	explicit := QueryOptions{TopK: 12, MinScore: 0.55}.Normalize()
	assert.Equal(t, 12, explicit.TopK)
	assert.Equal(t, 0.55, explicit.MinScore)

	// Negative MinScore disables the floor.
	unfloored := QueryOptions{MinScore: -1}.Normalize()
	assert.Equal(t, 0.0, unfloored.MinScore)

	invalid := QueryOptions{TopK: -3}.Normalize()
	assert.Equal(t, DefaultTopK, invalid.TopK)
}

func TestFilterIsZero(t *testing.T) {
	assert.True(t, Filter{}.IsZero())
	assert.False(t, Filter{Category: CategoryPersonal}.IsZero())
	assert.False(t, Filter{Tag: "travel"}.IsZero())
	assert.False(t, Filter{Extra: map[string]string{"source": "import"}}.IsZero())
}

func TestFilterMatch(t *testing.T) {
	meta := Metadata{
		ConversationID: "conv-1",
		Role:           RoleUser,
		Category:       CategoryPreference,
		Tags:           []string{"coffee", "food"},
		Extra:          map[string]string{"source": "chat", "lang": "en"},
	}

	assert.True(t, Filter{}.Match(meta))
	assert.True(t, Filter{ConversationID: "conv-1", Role: RoleUser}.Match(meta))
	assert.True(t, Filter{Category: CategoryPreference, Tag: "coffee"}.Match(meta))
	assert.True(t, Filter{Extra: map[string]string{"source": "chat"}}.Match(meta))

	assert.False(t, Filter{ConversationID: "conv-2"}.Match(meta))
	assert.False(t, Filter{Role: RoleAssistant}.Match(meta))
	assert.False(t, Filter{Tag: "tea"}.Match(meta))
	assert.False(t, Filter{Extra: map[string]string{"source": "chat", "lang": "de"}}.Match(meta))

	// Extra filters never match records without an Extra map.
	assert.False(t, Filter{Extra: map[string]string{"source": "chat"}}.Match(Metadata{}))
}
