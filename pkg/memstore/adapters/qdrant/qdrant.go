// Package qdrant provides an implementation of the memstore.Store
// interface backed by a Qdrant server. All owners share one collection;
// every read and write carries an owner_id payload filter, so a record
// is never visible outside its tenant.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	qdrantgo "github.com/qdrant/go-client/qdrant"

	"github.com/memkeep/memkeep/pkg/embed"
	memerrors "github.com/memkeep/memkeep/pkg/errors"
	"github.com/memkeep/memkeep/pkg/log"
	"github.com/memkeep/memkeep/pkg/memstore"
	"github.com/memkeep/memkeep/pkg/tenant"
)

const (
	// DefaultCollection is the collection name used when the config
	// does not specify one.
	DefaultCollection = "memories"

	// upsertChunkSize caps how many points go into a single Upsert
	// call.
	upsertChunkSize = 100

	// connectAttempts is how many times collection provisioning is
	// retried while the server comes up.
	connectAttempts = 5
)

// Payload field names.
const (
	fieldContent        = "content"
	fieldOwnerID        = "owner_id"
	fieldConversationID = "conversation_id"
	fieldRole           = "role"
	fieldCategory       = "category"
	fieldImportance     = "importance"
	fieldTags           = "tags"
	fieldExtra          = "extra"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
)

// Config holds the configuration for the Qdrant store.
type Config struct {
	// Host is the Qdrant server host.
	Host string
	// Port is the gRPC port (default 6334).
	Port int
	// APIKey authenticates against Qdrant Cloud. Empty for local
	// servers.
	APIKey string
	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool
	// Collection is the collection name (DefaultCollection if empty).
	Collection string
}

// Store implements the memstore.Store interface using Qdrant.
type Store struct {
	client     *qdrantgo.Client
	collection string
	embedder   embed.Embedder
}

// New creates a Qdrant store and provisions the collection if it does
// not exist. Provisioning is retried with backoff so a server that is
// still starting up does not fail the call.
func New(ctx context.Context, embedder embed.Embedder, config Config) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder cannot be nil", memerrors.ErrInvalidInput)
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 6334
	}
	if config.Collection == "" {
		config.Collection = DefaultCollection
	}

	client, err := qdrantgo.NewClient(&qdrantgo.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, memerrors.Backend("qdrant", "connect", err)
	}

	s := &Store{
		client:     client,
		collection: config.Collection,
		embedder:   embedder,
	}

	err = memstore.Retry(ctx, connectAttempts, func() error {
		return s.ensureCollection(ctx)
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return memerrors.Backend("qdrant", "collection-exists", err)
	}
	if exists {
		return nil
	}

	log.InfoContext(ctx, "Creating Qdrant collection",
		"collection", s.collection, "dimension", s.embedder.Dimension())

	err = s.client.CreateCollection(ctx, &qdrantgo.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrantgo.NewVectorsConfig(&qdrantgo.VectorParams{
			Size:     uint64(s.embedder.Dimension()),
			Distance: qdrantgo.Distance_Cosine,
		}),
	})
	if err != nil {
		return memerrors.Backend("qdrant", "create-collection", err)
	}
	return nil
}

func buildPayload(content string, owner tenant.OwnerID, m memstore.Metadata, createdAt, updatedAt time.Time) map[string]*qdrantgo.Value {
	payload := map[string]any{
		fieldContent:   content,
		fieldOwnerID:   string(owner),
		fieldCreatedAt: createdAt.Format(time.RFC3339Nano),
		fieldUpdatedAt: updatedAt.Format(time.RFC3339Nano),
	}
	if m.ConversationID != "" {
		payload[fieldConversationID] = m.ConversationID
	}
	if m.Role != "" {
		payload[fieldRole] = m.Role
	}
	if m.Category != "" {
		payload[fieldCategory] = m.Category
	}
	if m.Importance != 0 {
		payload[fieldImportance] = m.Importance
	}
	if len(m.Tags) > 0 {
		tags := make([]any, len(m.Tags))
		for i, tag := range m.Tags {
			tags[i] = tag
		}
		payload[fieldTags] = tags
	}
	if len(m.Extra) > 0 {
		extra := make(map[string]any, len(m.Extra))
		for key, value := range m.Extra {
			extra[key] = value
		}
		payload[fieldExtra] = extra
	}
	return qdrantgo.NewValueMap(payload)
}

func decodePayload(payload map[string]*qdrantgo.Value) (string, memstore.Metadata, time.Time, time.Time) {
	m := memstore.Metadata{
		OwnerID:        tenant.OwnerID(payload[fieldOwnerID].GetStringValue()),
		ConversationID: payload[fieldConversationID].GetStringValue(),
		Role:           payload[fieldRole].GetStringValue(),
		Category:       payload[fieldCategory].GetStringValue(),
		Importance:     payload[fieldImportance].GetDoubleValue(),
	}
	if list := payload[fieldTags].GetListValue(); list != nil {
		for _, value := range list.Values {
			m.Tags = append(m.Tags, value.GetStringValue())
		}
	}
	if extra := payload[fieldExtra].GetStructValue(); extra != nil {
		m.Extra = make(map[string]string, len(extra.Fields))
		for key, value := range extra.Fields {
			m.Extra[key] = value.GetStringValue()
		}
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, payload[fieldCreatedAt].GetStringValue())
	updatedAt, _ := time.Parse(time.RFC3339Nano, payload[fieldUpdatedAt].GetStringValue())
	return payload[fieldContent].GetStringValue(), m, createdAt, updatedAt
}

// ownerFilter builds the conjunctive payload filter for a query,
// always anchored on the owner.
func ownerFilter(owner tenant.OwnerID, f memstore.Filter) *qdrantgo.Filter {
	must := []*qdrantgo.Condition{
		qdrantgo.NewMatch(fieldOwnerID, string(owner)),
	}
	if f.ConversationID != "" {
		must = append(must, qdrantgo.NewMatch(fieldConversationID, f.ConversationID))
	}
	if f.Role != "" {
		must = append(must, qdrantgo.NewMatch(fieldRole, f.Role))
	}
	if f.Category != "" {
		must = append(must, qdrantgo.NewMatch(fieldCategory, f.Category))
	}
	if f.Tag != "" {
		must = append(must, qdrantgo.NewMatch(fieldTags, f.Tag))
	}
	for key, value := range f.Extra {
		must = append(must, qdrantgo.NewMatch(fieldExtra+"."+key, value))
	}
	return &qdrantgo.Filter{Must: must}
}

// Insert implements the memstore.Store interface.
func (s *Store) Insert(ctx context.Context, content string, metadata memstore.Metadata) (string, error) {
	ids, err := s.InsertBatch(ctx, []memstore.Item{{Content: content, Metadata: metadata}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertBatch implements the memstore.Store interface. Points are
// upserted in chunks so large batches stay within request limits.
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
	ids := make([]string, len(items))
	points := make([]*qdrantgo.PointStruct, len(items))
	for i, item := range items {
		ids[i] = uuid.New().String()
		points[i] = &qdrantgo.PointStruct{
			Id:      qdrantgo.NewID(ids[i]),
			Vectors: qdrantgo.NewVectors(embeddings[i]...),
			Payload: buildPayload(item.Content, owner.OwnerID, item.Metadata, now, now),
		}
	}

	for start := 0; start < len(points); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(points) {
			end = len(points)
		}
		chunk := points[start:end]
		err := memstore.Retry(ctx, 0, func() error {
			_, err := s.client.Upsert(ctx, &qdrantgo.UpsertPoints{
				CollectionName: s.collection,
				Points:         chunk,
				Wait:           qdrantgo.PtrOf(true),
			})
			return err
		})
		if err != nil {
			return nil, memerrors.Backend("qdrant", "upsert", err)
		}
	}
	return ids, nil
}

// Update implements the memstore.Store interface. The existing point's
// creation time carries over; a point belonging to another owner is
// never touched.
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
	createdAt := now

	existing, err := s.client.Get(ctx, &qdrantgo.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrantgo.PointId{qdrantgo.NewID(id)},
		WithPayload:    qdrantgo.NewWithPayload(true),
	})
	if err != nil {
		return memerrors.Backend("qdrant", "get", err)
	}
	if len(existing) > 0 {
		if existing[0].Payload[fieldOwnerID].GetStringValue() != string(owner.OwnerID) {
			return fmt.Errorf("%w: record belongs to another owner", memerrors.ErrInvalidInput)
		}
		if parsed, perr := time.Parse(time.RFC3339Nano, existing[0].Payload[fieldCreatedAt].GetStringValue()); perr == nil {
			createdAt = parsed
		}
	}

	_, err = s.client.Upsert(ctx, &qdrantgo.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrantgo.PtrOf(true),
		Points: []*qdrantgo.PointStruct{{
			Id:      qdrantgo.NewID(id),
			Vectors: qdrantgo.NewVectors(embedding...),
			Payload: buildPayload(content, owner.OwnerID, metadata, createdAt, now),
		}},
	})
	if err != nil {
		return memerrors.Backend("qdrant", "upsert", err)
	}
	return nil
}

// Delete implements the memstore.Store interface.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.DeleteBatch(ctx, []string{id})
}

// DeleteBatch implements the memstore.Store interface. The ID selector
// is combined with the owner filter so a tenant cannot delete another
// tenant's points.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrantgo.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrantgo.NewID(id)
	}
	filter := &qdrantgo.Filter{Must: []*qdrantgo.Condition{
		qdrantgo.NewMatch(fieldOwnerID, string(owner.OwnerID)),
		qdrantgo.NewHasID(pointIDs...),
	}}

	_, err = s.client.Delete(ctx, &qdrantgo.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrantgo.PtrOf(true),
		Points:         qdrantgo.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return memerrors.Backend("qdrant", "delete", err)
	}
	return nil
}

// DeleteByFilter implements the memstore.Store interface. Qdrant does
// not report how many points a filtered delete removed, so the count
// comes from an exact Count immediately before.
func (s *Store) DeleteByFilter(ctx context.Context, filter memstore.Filter) (int, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return 0, err
	}

	qf := ownerFilter(owner.OwnerID, filter)
	count, err := s.client.Count(ctx, &qdrantgo.CountPoints{
		CollectionName: s.collection,
		Filter:         qf,
		Exact:          qdrantgo.PtrOf(true),
	})
	if err != nil {
		return 0, memerrors.Backend("qdrant", "count", err)
	}
	if count == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrantgo.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrantgo.PtrOf(true),
		Points:         qdrantgo.NewPointsSelectorFilter(qf),
	})
	if err != nil {
		return 0, memerrors.Backend("qdrant", "delete", err)
	}
	return int(count), nil
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

	query := &qdrantgo.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrantgo.NewQuery(embedding...),
		Limit:          qdrantgo.PtrOf(uint64(opts.TopK)),
		Filter:         ownerFilter(owner.OwnerID, opts.Filter),
		WithPayload:    qdrantgo.NewWithPayload(true),
	}
	if opts.MinScore > 0 {
		query.ScoreThreshold = qdrantgo.PtrOf(float32(opts.MinScore))
	}

	var points []*qdrantgo.ScoredPoint
	err = memstore.Retry(ctx, 0, func() error {
		var qerr error
		points, qerr = s.client.Query(ctx, query)
		return qerr
	})
	if err != nil {
		return nil, memerrors.Backend("qdrant", "query", err)
	}

	results := make([]memstore.SearchResult, 0, len(points))
	for _, point := range points {
		content, metadata, createdAt, updatedAt := decodePayload(point.Payload)
		score := float64(point.Score)
		if score < 0 {
			score = 0
		}
		results = append(results, memstore.SearchResult{
			Record: memstore.MemoryRecord{
				ID:        point.Id.GetUuid(),
				Content:   content,
				Metadata:  metadata,
				CreatedAt: createdAt,
				UpdatedAt: updatedAt,
			},
			Score: score,
		})
	}
	return results, nil
}

// List implements the memstore.Store interface, scrolling the owner's
// points up to the memstore cap.
func (s *Store) List(ctx context.Context) ([]memstore.MemoryRecord, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	points, err := s.client.Scroll(ctx, &qdrantgo.ScrollPoints{
		CollectionName: s.collection,
		Filter:         ownerFilter(owner.OwnerID, memstore.Filter{}),
		Limit:          qdrantgo.PtrOf(uint32(memstore.MaxListRecords)),
		WithPayload:    qdrantgo.NewWithPayload(true),
	})
	if err != nil {
		return nil, memerrors.Backend("qdrant", "scroll", err)
	}

	records := make([]memstore.MemoryRecord, 0, len(points))
	for _, point := range points {
		content, metadata, createdAt, updatedAt := decodePayload(point.Payload)
		records = append(records, memstore.MemoryRecord{
			ID:        point.Id.GetUuid(),
			Content:   content,
			Metadata:  metadata,
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

	count, err := s.client.Count(ctx, &qdrantgo.CountPoints{
		CollectionName: s.collection,
		Filter:         ownerFilter(owner.OwnerID, memstore.Filter{}),
		Exact:          qdrantgo.PtrOf(true),
	})
	if err != nil {
		return memstore.Stats{}, memerrors.Backend("qdrant", "count", err)
	}
	return memstore.Stats{
		TotalRecords: int(count),
		Dimension:    s.embedder.Dimension(),
	}, nil
}

// Close implements the memstore.Store interface.
func (s *Store) Close() error {
	return s.client.Close()
}

func ownerFromContext(ctx context.Context) (tenant.Context, error) {
	owner, ok := tenant.FromContext(ctx)
	if !ok || owner.OwnerID == "" {
		return tenant.Context{}, tenant.ErrMissingOwner
	}
	return owner, nil
}
