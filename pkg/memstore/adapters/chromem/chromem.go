// Package chromem provides an implementation of the memstore.Store
// interface using chromem-go, an embeddable vector database with
// optional on-disk persistence. Each owner gets its own collection.
package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromemgo "github.com/philippgille/chromem-go"

	"github.com/memkeep/memkeep/pkg/embed"
	memerrors "github.com/memkeep/memkeep/pkg/errors"
	"github.com/memkeep/memkeep/pkg/memstore"
	"github.com/memkeep/memkeep/pkg/tenant"
)

const collectionPrefix = "memories-"

// Metadata keys inside chromem documents. Tags and extra pairs are
// flattened into prefixed keys so every filter is a native exact match.
const (
	metaConversationID = "conversation_id"
	metaRole           = "role"
	metaCategory       = "category"
	metaImportance     = "importance"
	metaCreatedAt      = "created_at"
	metaUpdatedAt      = "updated_at"
	tagKeyPrefix       = "tag:"
	extraKeyPrefix     = "x:"
)

// Config holds the configuration for the chromem store.
type Config struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string
	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// Store implements the memstore.Store interface using chromem-go.
type Store struct {
	mu       sync.Mutex
	db       *chromemgo.DB
	embedder embed.Embedder
}

// New creates a chromem store.
func New(embedder embed.Embedder, config Config) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder cannot be nil", memerrors.ErrInvalidInput)
	}

	var db *chromemgo.DB
	var err error
	if config.Path != "" {
		db, err = chromemgo.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, memerrors.Backend("chromem", "open", err)
		}
	} else {
		db = chromemgo.NewDB()
	}

	return &Store{db: db, embedder: embedder}, nil
}

// collection returns the owner's collection, creating it on first use.
func (s *Store) collection(owner tenant.OwnerID) (*chromemgo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
	collection, err := s.db.GetOrCreateCollection(collectionPrefix+string(owner), nil, embeddingFunc)
	if err != nil {
		return nil, memerrors.Backend("chromem", "collection", err)
	}
	return collection, nil
}

func encodeMetadata(m memstore.Metadata, createdAt, updatedAt time.Time) map[string]string {
	encoded := map[string]string{
		metaCreatedAt: createdAt.Format(time.RFC3339Nano),
		metaUpdatedAt: updatedAt.Format(time.RFC3339Nano),
	}
	if m.ConversationID != "" {
		encoded[metaConversationID] = m.ConversationID
	}
	if m.Role != "" {
		encoded[metaRole] = m.Role
	}
	if m.Category != "" {
		encoded[metaCategory] = m.Category
	}
	if m.Importance != 0 {
		encoded[metaImportance] = strconv.FormatFloat(m.Importance, 'f', -1, 64)
	}
	for _, tag := range m.Tags {
		encoded[tagKeyPrefix+tag] = "true"
	}
	for key, value := range m.Extra {
		encoded[extraKeyPrefix+key] = value
	}
	return encoded
}

func decodeMetadata(owner tenant.OwnerID, encoded map[string]string) (memstore.Metadata, time.Time, time.Time) {
	m := memstore.Metadata{
		OwnerID:        owner,
		ConversationID: encoded[metaConversationID],
		Role:           encoded[metaRole],
		Category:       encoded[metaCategory],
	}
	if raw, ok := encoded[metaImportance]; ok {
		m.Importance, _ = strconv.ParseFloat(raw, 64)
	}
	for key, value := range encoded {
		switch {
		case strings.HasPrefix(key, tagKeyPrefix):
			m.Tags = append(m.Tags, strings.TrimPrefix(key, tagKeyPrefix))
		case strings.HasPrefix(key, extraKeyPrefix):
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[strings.TrimPrefix(key, extraKeyPrefix)] = value
		}
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, encoded[metaCreatedAt])
	updatedAt, _ := time.Parse(time.RFC3339Nano, encoded[metaUpdatedAt])
	return m, createdAt, updatedAt
}

func encodeFilter(f memstore.Filter) map[string]string {
	if f.IsZero() {
		return nil
	}
	where := map[string]string{}
	if f.ConversationID != "" {
		where[metaConversationID] = f.ConversationID
	}
	if f.Role != "" {
		where[metaRole] = f.Role
	}
	if f.Category != "" {
		where[metaCategory] = f.Category
	}
	if f.Tag != "" {
		where[tagKeyPrefix+f.Tag] = "true"
	}
	for key, value := range f.Extra {
		where[extraKeyPrefix+key] = value
	}
	return where
}

// Insert implements the memstore.Store interface.
func (s *Store) Insert(ctx context.Context, content string, metadata memstore.Metadata) (string, error) {
	ids, err := s.InsertBatch(ctx, []memstore.Item{{Content: content, Metadata: metadata}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertBatch implements the memstore.Store interface.
func (s *Store) InsertBatch(ctx context.Context, items []memstore.Item) ([]string, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		if item.Content == "" {
			return nil, fmt.Errorf("%w: content cannot be empty", memerrors.ErrInvalidInput)
		}
		texts[i] = item.Content
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	collection, err := s.collection(owner.OwnerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = uuid.New().String()
		doc := chromemgo.Document{
			ID:        ids[i],
			Content:   item.Content,
			Embedding: embeddings[i],
			Metadata:  encodeMetadata(item.Metadata, now, now),
		}
		if err := collection.AddDocument(ctx, doc); err != nil {
			return nil, memerrors.Backend("chromem", "insert", err)
		}
	}
	return ids, nil
}

// Update implements the memstore.Store interface. Adding a document
// with an existing ID overwrites it in place.
func (s *Store) Update(ctx context.Context, id string, content string, metadata memstore.Metadata) error {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", memerrors.ErrInvalidInput)
	}
	if content == "" {
		return fmt.Errorf("%w: content cannot be empty", memerrors.ErrInvalidInput)
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}

	collection, err := s.collection(owner.OwnerID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	createdAt := now
	if existing, err := collection.GetByID(ctx, id); err == nil {
		if parsed, perr := time.Parse(time.RFC3339Nano, existing.Metadata[metaCreatedAt]); perr == nil {
			createdAt = parsed
		}
	}

	doc := chromemgo.Document{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Metadata:  encodeMetadata(metadata, createdAt, now),
	}
	if err := collection.AddDocument(ctx, doc); err != nil {
		return memerrors.Backend("chromem", "update", err)
	}
	return nil
}

// Delete implements the memstore.Store interface.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.DeleteBatch(ctx, []string{id})
}

// DeleteBatch implements the memstore.Store interface.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	collection, err := s.collection(owner.OwnerID)
	if err != nil {
		return err
	}
	if collection.Count() == 0 {
		return nil
	}
	if err := collection.Delete(ctx, nil, nil, ids...); err != nil {
		return memerrors.Backend("chromem", "delete", err)
	}
	return nil
}

// DeleteByFilter implements the memstore.Store interface. chromem does
// not report how many documents a deletion touched, so the count comes
// from the collection size before and after.
func (s *Store) DeleteByFilter(ctx context.Context, filter memstore.Filter) (int, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return 0, err
	}

	collection, err := s.collection(owner.OwnerID)
	if err != nil {
		return 0, err
	}

	before := collection.Count()
	if before == 0 {
		return 0, nil
	}
	if filter.IsZero() {
		// Delete requires a selector; dropping the collection clears
		// the owner's records wholesale.
		if err := s.db.DeleteCollection(collectionPrefix + string(owner.OwnerID)); err != nil {
			return 0, memerrors.Backend("chromem", "delete", err)
		}
		return before, nil
	}
	if err := collection.Delete(ctx, encodeFilter(filter), nil); err != nil {
		return 0, memerrors.Backend("chromem", "delete", err)
	}
	return before - collection.Count(), nil
}

// Query implements the memstore.Store interface.
func (s *Store) Query(ctx context.Context, embedding []float32, opts memstore.QueryOptions) ([]memstore.SearchResult, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding cannot be empty", memerrors.ErrInvalidInput)
	}
	if len(embedding) != s.embedder.Dimension() {
		return nil, fmt.Errorf("%w: got %d, want %d",
			memerrors.ErrDimensionMismatch, len(embedding), s.embedder.Dimension())
	}
	opts = opts.Normalize()

	collection, err := s.collection(owner.OwnerID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the number of matching
	// documents, so walk the limit down until the query fits.
	nResults := opts.TopK
	if count := collection.Count(); count < nResults {
		nResults = count
	}
	if nResults == 0 {
		return []memstore.SearchResult{}, nil
	}

	where := encodeFilter(opts.Filter)
	var raw []chromemgo.Result
	for ; nResults >= 1; nResults-- {
		raw, err = collection.QueryEmbedding(ctx, embedding, nResults, where, nil)
		if err == nil {
			break
		}
		if !isInsufficientDocsError(err) {
			return nil, memerrors.Backend("chromem", "query", err)
		}
		if nResults == 1 {
			return []memstore.SearchResult{}, nil
		}
	}

	results := make([]memstore.SearchResult, 0, len(raw))
	for _, res := range raw {
		score := float64(res.Similarity)
		if score < 0 {
			score = 0
		}
		if score < opts.MinScore {
			continue
		}
		metadata, createdAt, updatedAt := decodeMetadata(owner.OwnerID, res.Metadata)
		results = append(results, memstore.SearchResult{
			Record: memstore.MemoryRecord{
				ID:        res.ID,
				Content:   res.Content,
				Metadata:  metadata,
				Embedding: res.Embedding,
				CreatedAt: createdAt,
				UpdatedAt: updatedAt,
			},
			Score: score,
		})
	}
	return results, nil
}

// List implements the memstore.Store interface. chromem has no native
// enumeration call, so the listing is a full-collection query against
// an arbitrary unit vector with the similarity scores discarded.
func (s *Store) List(ctx context.Context) ([]memstore.MemoryRecord, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	collection, err := s.collection(owner.OwnerID)
	if err != nil {
		return nil, err
	}

	count := collection.Count()
	if count == 0 {
		return []memstore.MemoryRecord{}, nil
	}
	if count > memstore.MaxListRecords {
		count = memstore.MaxListRecords
	}

	probe := make([]float32, s.embedder.Dimension())
	probe[0] = 1

	raw, err := collection.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, memerrors.Backend("chromem", "list", err)
	}

	records := make([]memstore.MemoryRecord, 0, len(raw))
	for _, res := range raw {
		metadata, createdAt, updatedAt := decodeMetadata(owner.OwnerID, res.Metadata)
		records = append(records, memstore.MemoryRecord{
			ID:        res.ID,
			Content:   res.Content,
			Metadata:  metadata,
			Embedding: res.Embedding,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Stats implements the memstore.Store interface.
func (s *Store) Stats(ctx context.Context) (memstore.Stats, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return memstore.Stats{}, err
	}

	collection, err := s.collection(owner.OwnerID)
	if err != nil {
		return memstore.Stats{}, err
	}
	return memstore.Stats{
		TotalRecords: collection.Count(),
		Dimension:    s.embedder.Dimension(),
	}, nil
}

// Close implements the memstore.Store interface. chromem holds no
// connections; persistence writes happen on every mutation.
func (s *Store) Close() error {
	return nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

func ownerFromContext(ctx context.Context) (tenant.Context, error) {
	owner, ok := tenant.FromContext(ctx)
	if !ok || owner.OwnerID == "" {
		return tenant.Context{}, tenant.ErrMissingOwner
	}
	return owner, nil
}
