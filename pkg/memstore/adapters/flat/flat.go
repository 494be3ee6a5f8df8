// Package flat provides an in-process implementation of the
// memstore.Store interface. Records live in memory and searches are a
// brute-force cosine scan, which is exact and fast enough for tens of
// thousands of records. An optional BoltDB file makes records survive
// restarts.
package flat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/memkeep/memkeep/pkg/embed"
	memerrors "github.com/memkeep/memkeep/pkg/errors"
	"github.com/memkeep/memkeep/pkg/log"
	"github.com/memkeep/memkeep/pkg/memstore"
	"github.com/memkeep/memkeep/pkg/tenant"
)

// Config holds the configuration for the flat store.
type Config struct {
	// Path is the BoltDB file path. Empty means memory-only.
	Path string
}

// Store implements the memstore.Store interface with an in-memory
// index and optional BoltDB persistence. One bucket per owner keeps
// tenants physically separated in the file.
type Store struct {
	mu       sync.RWMutex
	records  map[tenant.OwnerID]map[string]memstore.MemoryRecord
	db       *bbolt.DB
	embedder embed.Embedder
}

// New creates a flat store. When config.Path is set, existing records
// are loaded from the file on startup.
func New(embedder embed.Embedder, config Config) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder cannot be nil", memerrors.ErrInvalidInput)
	}

	s := &Store{
		records:  make(map[tenant.OwnerID]map[string]memstore.MemoryRecord),
		embedder: embedder,
	}

	if config.Path != "" {
		db, err := bbolt.Open(config.Path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
		if err != nil {
			return nil, memerrors.Backend("flat", "open", err)
		}
		s.db = db
		if err := s.load(); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

// load reads every record from every owner bucket into memory.
func (s *Store) load() error {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bbolt.Bucket) error {
			ownerID := tenant.OwnerID(name)
			return bucket.ForEach(func(_, value []byte) error {
				var record memstore.MemoryRecord
				if err := json.Unmarshal(value, &record); err != nil {
					return fmt.Errorf("decoding record in bucket %s: %w", name, err)
				}
				if s.records[ownerID] == nil {
					s.records[ownerID] = make(map[string]memstore.MemoryRecord)
				}
				s.records[ownerID][record.ID] = record
				count++
				return nil
			})
		})
	})
	if err != nil {
		return memerrors.Backend("flat", "load", err)
	}
	if count > 0 {
		log.Debug("Loaded persisted memories", "count", count, "path", s.db.Path())
	}
	return nil
}

// persist writes a record to the owner's bucket. No-op without a file.
func (s *Store) persist(record memstore.MemoryRecord) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(record.Metadata.OwnerID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// unpersist removes record IDs from the owner's bucket.
func (s *Store) unpersist(ownerID tenant.OwnerID, ids []string) error {
	if s.db == nil || len(ids) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ownerID))
		if bucket == nil {
			return nil
		}
		for _, id := range ids {
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
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

	now := time.Now().UTC()
	records := make([]memstore.MemoryRecord, len(items))
	ids := make([]string, len(items))
	for i, item := range items {
		metadata := item.Metadata
		metadata.OwnerID = owner.OwnerID
		ids[i] = uuid.New().String()
		records[i] = memstore.MemoryRecord{
			ID:        ids[i],
			Content:   item.Content,
			Metadata:  metadata,
			Embedding: embeddings[i],
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[owner.OwnerID] == nil {
		s.records[owner.OwnerID] = make(map[string]memstore.MemoryRecord)
	}
	for _, record := range records {
		if err := s.persist(record); err != nil {
			return nil, memerrors.Backend("flat", "insert", err)
		}
		s.records[owner.OwnerID][record.ID] = record
	}

	return ids, nil
}

// Update implements the memstore.Store interface.
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

	now := time.Now().UTC()
	metadata.OwnerID = owner.OwnerID

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[owner.OwnerID] == nil {
		s.records[owner.OwnerID] = make(map[string]memstore.MemoryRecord)
	}

	record := memstore.MemoryRecord{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: embedding,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := s.records[owner.OwnerID][id]; ok {
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.persist(record); err != nil {
		return memerrors.Backend("flat", "update", err)
	}
	s.records[owner.OwnerID][id] = record
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.unpersist(owner.OwnerID, ids); err != nil {
		return memerrors.Backend("flat", "delete", err)
	}
	for _, id := range ids {
		delete(s.records[owner.OwnerID], id)
	}
	return nil
}

// DeleteByFilter implements the memstore.Store interface.
func (s *Store) DeleteByFilter(ctx context.Context, filter memstore.Filter) (int, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, record := range s.records[owner.OwnerID] {
		if filter.Match(record.Metadata) {
			ids = append(ids, id)
		}
	}
	if err := s.unpersist(owner.OwnerID, ids); err != nil {
		return 0, memerrors.Backend("flat", "delete", err)
	}
	for _, id := range ids {
		delete(s.records[owner.OwnerID], id)
	}
	return len(ids), nil
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]memstore.SearchResult, 0, opts.TopK)
	for _, record := range s.records[owner.OwnerID] {
		if !opts.Filter.Match(record.Metadata) {
			continue
		}
		score := memstore.CosineSimilarity(embedding, record.Embedding)
		if score < opts.MinScore {
			continue
		}
		results = append(results, memstore.SearchResult{Record: record, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// List implements the memstore.Store interface.
func (s *Store) List(ctx context.Context) ([]memstore.MemoryRecord, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]memstore.MemoryRecord, 0, len(s.records[owner.OwnerID]))
	for _, record := range s.records[owner.OwnerID] {
		records = append(records, record)
		if len(records) == memstore.MaxListRecords {
			break
		}
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

	s.mu.RLock()
	defer s.mu.RUnlock()
	return memstore.Stats{
		TotalRecords: len(s.records[owner.OwnerID]),
		Dimension:    s.embedder.Dimension(),
	}, nil
}

// Close implements the memstore.Store interface.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func ownerFromContext(ctx context.Context) (tenant.Context, error) {
	owner, ok := tenant.FromContext(ctx)
	if !ok || owner.OwnerID == "" {
		return tenant.Context{}, tenant.ErrMissingOwner
	}
	return owner, nil
}
