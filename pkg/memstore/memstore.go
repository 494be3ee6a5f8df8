// Package memstore defines the memory record model and the Store
// interface implemented by every persistence backend.
//
// Scores throughout the package are cosine similarities normalized to
// the range [0, 1]: 1 means identical direction, 0 means unrelated or
// opposed. Backends whose native distance metric differs must convert
// before returning results.
package memstore

import (
	"context"
	"math"
	"time"

	"github.com/memkeep/memkeep/pkg/tenant"
)

const (
	// DefaultTopK is the number of results returned when QueryOptions
	// does not specify a limit.
	DefaultTopK = 5

	// DefaultMinScore is the similarity floor applied when QueryOptions
	// does not specify one. Chosen low enough to surface loosely
	// related memories while still dropping noise.
	DefaultMinScore = 0.30

	// MaxListRecords caps how many records List returns. Hosted
	// backends impose fetch limits of their own; enforcing one cap
	// here keeps the contract identical across backends.
	MaxListRecords = 1000
)

// Memory categories assigned by the storage policy.
const (
	CategoryPersonal   = "personal"
	CategoryPreference = "preference"
	CategoryProject    = "project"
	CategoryQuestion   = "question"
	CategoryCasual     = "casual"
	CategoryGeneral    = "general"
)

// Roles for conversation-derived records.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Metadata describes a memory record. All fields except OwnerID are
// optional.
type Metadata struct {
	// OwnerID identifies the tenant the record belongs to. Every read
	// and write is scoped to a single owner.
	OwnerID tenant.OwnerID `json:"owner_id"`
	// ConversationID identifies the conversation the record came from.
	ConversationID string `json:"conversation_id,omitempty"`
	// Role is the conversational role that produced the content.
	Role string `json:"role,omitempty"`
	// Importance is the policy-assigned weight in [0, 1].
	Importance float64 `json:"importance,omitempty"`
	// Category is one of the Category* constants.
	Category string `json:"category,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
	// Extra holds application-defined key/value pairs.
	Extra map[string]string `json:"extra,omitempty"`
}

// MemoryRecord is a single stored memory.
type MemoryRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`
	// Content is the memory text.
	Content string `json:"content"`
	// Metadata describes the record.
	Metadata Metadata `json:"metadata"`
	// Embedding is the vector representation of Content.
	Embedding []float32 `json:"embedding,omitempty"`
	// CreatedAt is when the record was first stored.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Item pairs content with its metadata for batch inserts.
type Item struct {
	Content  string
	Metadata Metadata
}

// Filter restricts a query or deletion to records whose metadata
// matches every set field (conjunctive exact match). The zero value
// matches everything within the owner's scope.
type Filter struct {
	ConversationID string
	Role           string
	Category       string
	// Tag matches records carrying the given tag.
	Tag string
	// Extra matches records whose Extra map contains every given pair.
	Extra map[string]string
}

// IsZero reports whether the filter imposes no constraints.
func (f Filter) IsZero() bool {
	return f.ConversationID == "" && f.Role == "" && f.Category == "" &&
		f.Tag == "" && len(f.Extra) == 0
}

// Match reports whether the given metadata satisfies the filter.
func (f Filter) Match(m Metadata) bool {
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	if f.Role != "" && m.Role != f.Role {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range m.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, value := range f.Extra {
		if m.Extra[key] != value {
			return false
		}
	}
	return true
}

// QueryOptions controls a similarity search.
type QueryOptions struct {
	// TopK is the maximum number of results (DefaultTopK when <= 0).
	TopK int
	// MinScore drops results scoring below it. Zero means use
	// DefaultMinScore; pass a negative value to disable the floor.
	MinScore float64
	// Filter restricts candidates before ranking.
	Filter Filter
}

// Normalize fills in defaults for unset options.
func (o QueryOptions) Normalize() QueryOptions {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MinScore == 0 {
		o.MinScore = DefaultMinScore
	} else if o.MinScore < 0 {
		o.MinScore = 0
	}
	return o
}

// SearchResult is a record with its similarity score.
type SearchResult struct {
	Record MemoryRecord `json:"record"`
	Score  float64      `json:"score"`
}

// Stats summarizes a backend's state for one owner.
type Stats struct {
	// TotalRecords is the number of records stored for the owner.
	TotalRecords int `json:"total_records"`
	// Dimension is the embedding size the backend holds.
	Dimension int `json:"dimension"`
}

// Store is the interface implemented by every memory backend.
//
// All operations are scoped to the owner carried in ctx via
// tenant.ContextWith; implementations return tenant.ErrMissingOwner
// when it is absent. Backends embed content themselves on write, so
// callers pass plain text.
type Store interface {
	// Insert stores a new memory and returns its generated ID.
	Insert(ctx context.Context, content string, metadata Metadata) (string, error)

	// InsertBatch stores multiple memories and returns their IDs in
	// input order.
	InsertBatch(ctx context.Context, items []Item) ([]string, error)

	// Update replaces the content and metadata of an existing record,
	// re-embedding the content. If no record with the given ID exists
	// the record is created (upsert). CreatedAt is preserved on
	// updates; UpdatedAt is always refreshed.
	Update(ctx context.Context, id string, content string, metadata Metadata) error

	// Delete removes a record by ID. Deleting a missing ID is not an
	// error.
	Delete(ctx context.Context, id string) error

	// DeleteBatch removes multiple records by ID.
	DeleteBatch(ctx context.Context, ids []string) error

	// DeleteByFilter removes every record matching the filter and
	// returns the number removed. An all-zero filter removes every
	// record belonging to the owner.
	DeleteByFilter(ctx context.Context, filter Filter) (int, error)

	// Query returns records similar to the given embedding, ranked by
	// descending score.
	Query(ctx context.Context, embedding []float32, opts QueryOptions) ([]SearchResult, error)

	// List returns the owner's records, up to MaxListRecords.
	List(ctx context.Context) ([]MemoryRecord, error)

	// Stats reports the backend's state for the owner.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}

// CosineSimilarity computes the similarity between two vectors,
// normalized to [0, 1]. Negative raw similarities clamp to 0. Vectors
// of different lengths or zero magnitude score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}
