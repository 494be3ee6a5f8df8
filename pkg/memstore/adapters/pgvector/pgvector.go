// Package pgvector provides an implementation of the memstore.Store
// interface using PostgreSQL with the pgvector extension. The table
// and indexes are provisioned on startup; every statement filters on
// owner_id so tenants stay isolated.
package pgvector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memkeep/memkeep/pkg/embed"
	memerrors "github.com/memkeep/memkeep/pkg/errors"
	"github.com/memkeep/memkeep/pkg/log"
	"github.com/memkeep/memkeep/pkg/memstore"
	"github.com/memkeep/memkeep/pkg/tenant"
)

// Config holds the configuration for the pgvector store.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// TableName is the table to use (default "memories").
	TableName string
}

// Store implements the memstore.Store interface using PostgreSQL with
// the pgvector extension.
type Store struct {
	db        *pgxpool.Pool
	tableName string
	embedder  embed.Embedder
}

// New creates a pgvector store, connecting to PostgreSQL and creating
// the table and indexes if they do not exist.
func New(ctx context.Context, embedder embed.Embedder, config Config) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder cannot be nil", memerrors.ErrInvalidInput)
	}
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("%w: connection string cannot be empty", memerrors.ErrInvalidInput)
	}
	if config.TableName == "" {
		config.TableName = "memories"
	}

	db, err := pgxpool.New(ctx, config.ConnectionString)
	if err != nil {
		return nil, memerrors.Backend("pgvector", "connect", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, memerrors.Backend("pgvector", "ping", err)
	}

	s := &Store{
		db:        db,
		tableName: config.TableName,
		embedder:  embedder,
	}
	if err := s.initializeTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initializeTable creates the extension, table, and indexes if needed.
func (s *Store) initializeTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return memerrors.Backend("pgvector", "create-extension", err)
	}

	_, err = s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			importance DOUBLE PRECISION NOT NULL DEFAULT 0,
			tags TEXT[] NOT NULL DEFAULT '{}',
			extra JSONB NOT NULL DEFAULT '{}',
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`, s.tableName, s.embedder.Dimension()))
	if err != nil {
		return memerrors.Backend("pgvector", "create-table", err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_owner_id_idx ON %s (owner_id)", s.tableName, s.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_owner_conversation_idx ON %s (owner_id, conversation_id)", s.tableName, s.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_owner_category_idx ON %s (owner_id, category)", s.tableName, s.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)", s.tableName, s.tableName),
	}
	for _, sql := range indexes {
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return memerrors.Backend("pgvector", "create-index", err)
		}
	}
	return nil
}

// Insert implements the memstore.Store interface.
func (s *Store) Insert(ctx context.Context, content string, metadata memstore.Metadata) (string, error) {
	ids, err := s.InsertBatch(ctx, []memstore.Item{{Content: content, Metadata: metadata}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertBatch implements the memstore.Store interface. The batch goes
// in as a single transaction.
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

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, memerrors.Backend("pgvector", "begin", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	ids := make([]string, len(items))
	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (
			id, owner_id, conversation_id, role, category, importance,
			tags, extra, content, embedding, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector, $11, $12)
	`, s.tableName)

	for i, item := range items {
		ids[i] = uuid.New().String()
		m := item.Metadata
		_, err = tx.Exec(ctx, insertSQL,
			ids[i],
			string(owner.OwnerID),
			m.ConversationID,
			m.Role,
			m.Category,
			m.Importance,
			tagsOrEmpty(m.Tags),
			extraOrEmpty(m.Extra),
			item.Content,
			embedToString(embeddings[i]),
			now,
			now,
		)
		if err != nil {
			return nil, memerrors.Backend("pgvector", "insert", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, memerrors.Backend("pgvector", "commit", err)
	}

	log.DebugContext(ctx, "Stored memories in pgvector",
		"count", len(ids), "owner_id", owner.OwnerID, "table", s.tableName)
	return ids, nil
}

// Update implements the memstore.Store interface. The upsert keeps the
// original created_at; a row owned by another tenant is left untouched.
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
	_, err = s.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, owner_id, conversation_id, role, category, importance,
			tags, extra, content, embedding, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector, $11, $11)
		ON CONFLICT (id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			role = EXCLUDED.role,
			category = EXCLUDED.category,
			importance = EXCLUDED.importance,
			tags = EXCLUDED.tags,
			extra = EXCLUDED.extra,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
		WHERE %s.owner_id = EXCLUDED.owner_id
	`, s.tableName, s.tableName),
		id,
		string(owner.OwnerID),
		metadata.ConversationID,
		metadata.Role,
		metadata.Category,
		metadata.Importance,
		tagsOrEmpty(metadata.Tags),
		extraOrEmpty(metadata.Extra),
		content,
		embedToString(embedding),
		now,
	)
	if err != nil {
		return memerrors.Backend("pgvector", "upsert", err)
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

	_, err = s.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE owner_id = $1 AND id = ANY($2)
	`, s.tableName), string(owner.OwnerID), ids)
	if err != nil {
		return memerrors.Backend("pgvector", "delete", err)
	}
	return nil
}

// DeleteByFilter implements the memstore.Store interface.
func (s *Store) DeleteByFilter(ctx context.Context, filter memstore.Filter) (int, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return 0, err
	}

	whereClause, args := buildWhereClause(owner.OwnerID, filter)
	result, err := s.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE %s
	`, s.tableName, whereClause), args...)
	if err != nil {
		return 0, memerrors.Backend("pgvector", "delete", err)
	}
	return int(result.RowsAffected()), nil
}

// Query implements the memstore.Store interface. The score is cosine
// similarity derived from pgvector's cosine distance operator.
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

	whereClause, args := buildWhereClause(owner.OwnerID, opts.Filter)
	args = append(args, embedToString(embedding))
	embeddingParam := len(args)
	args = append(args, opts.MinScore)
	minScoreParam := len(args)

	sqlQuery := fmt.Sprintf(`
		SELECT id, owner_id, conversation_id, role, category, importance,
		       tags, extra, content, embedding, created_at, updated_at,
		       GREATEST(1 - (embedding <=> $%d::vector), 0) AS score
		FROM %s
		WHERE %s AND GREATEST(1 - (embedding <=> $%d::vector), 0) >= $%d
		ORDER BY embedding <=> $%d::vector
		LIMIT %d
	`, embeddingParam, s.tableName, whereClause, embeddingParam, minScoreParam, embeddingParam, opts.TopK)

	rows, err := s.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, memerrors.Backend("pgvector", "query", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// List implements the memstore.Store interface.
func (s *Store) List(ctx context.Context) ([]memstore.MemoryRecord, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, owner_id, conversation_id, role, category, importance,
		       tags, extra, content, embedding, created_at, updated_at,
		       0::float8 AS score
		FROM %s
		WHERE owner_id = $1
		ORDER BY created_at
		LIMIT %d
	`, s.tableName, memstore.MaxListRecords), string(owner.OwnerID))
	if err != nil {
		return nil, memerrors.Backend("pgvector", "list", err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, err
	}
	records := make([]memstore.MemoryRecord, len(results))
	for i, result := range results {
		records[i] = result.Record
	}
	return records, nil
}

// Stats implements the memstore.Store interface.
func (s *Store) Stats(ctx context.Context) (memstore.Stats, error) {
	owner, err := ownerFromContext(ctx)
	if err != nil {
		return memstore.Stats{}, err
	}

	var count int
	err = s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE owner_id = $1
	`, s.tableName), string(owner.OwnerID)).Scan(&count)
	if err != nil {
		return memstore.Stats{}, memerrors.Backend("pgvector", "count", err)
	}
	return memstore.Stats{
		TotalRecords: count,
		Dimension:    s.embedder.Dimension(),
	}, nil
}

// Close implements the memstore.Store interface.
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// buildWhereClause constructs the WHERE clause for one owner's records.
func buildWhereClause(owner tenant.OwnerID, f memstore.Filter) (string, []interface{}) {
	conditions := []string{"owner_id = $1"}
	args := []interface{}{string(owner)}

	addCondition := func(column, value string) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if f.ConversationID != "" {
		addCondition("conversation_id", f.ConversationID)
	}
	if f.Role != "" {
		addCondition("role", f.Role)
	}
	if f.Category != "" {
		addCondition("category", f.Category)
	}
	if f.Tag != "" {
		args = append(args, f.Tag)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}
	for key, value := range f.Extra {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("extra->>'%s' = $%d", strings.ReplaceAll(key, "'", "''"), len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

func scanResults(rows pgx.Rows) ([]memstore.SearchResult, error) {
	var results []memstore.SearchResult
	for rows.Next() {
		var record memstore.MemoryRecord
		var ownerID, embeddingStr string
		var tags []string
		var extra map[string]string
		var score float64

		err := rows.Scan(
			&record.ID,
			&ownerID,
			&record.Metadata.ConversationID,
			&record.Metadata.Role,
			&record.Metadata.Category,
			&record.Metadata.Importance,
			&tags,
			&extra,
			&record.Content,
			&embeddingStr,
			&record.CreatedAt,
			&record.UpdatedAt,
			&score,
		)
		if err != nil {
			return nil, memerrors.Backend("pgvector", "scan", err)
		}

		record.Metadata.OwnerID = tenant.OwnerID(ownerID)
		if len(tags) > 0 {
			record.Metadata.Tags = tags
		}
		if len(extra) > 0 {
			record.Metadata.Extra = extra
		}
		record.Embedding = stringToEmbed(embeddingStr)
		results = append(results, memstore.SearchResult{Record: record, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, memerrors.Backend("pgvector", "rows", err)
	}
	return results, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func extraOrEmpty(extra map[string]string) map[string]string {
	if extra == nil {
		return map[string]string{}
	}
	return extra
}

// embedToString converts a vector to pgvector's text representation.
func embedToString(embedding []float32) string {
	elements := make([]string, len(embedding))
	for i, v := range embedding {
		elements[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(elements, ",") + "]"
}

// stringToEmbed parses pgvector's text representation back to a vector.
func stringToEmbed(embeddingStr string) []float32 {
	embeddingStr = strings.TrimPrefix(embeddingStr, "[")
	embeddingStr = strings.TrimSuffix(embeddingStr, "]")
	if embeddingStr == "" {
		return nil
	}

	elements := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(elements))
	for i, element := range elements {
		val, err := strconv.ParseFloat(strings.TrimSpace(element), 32)
		if err != nil {
			log.Error("Failed to parse embedding element", "error", err, "element", element)
			val = 0
		}
		embedding[i] = float32(val)
	}
	return embedding
}

func ownerFromContext(ctx context.Context) (tenant.Context, error) {
	owner, ok := tenant.FromContext(ctx)
	if !ok || owner.OwnerID == "" {
		return tenant.Context{}, tenant.ErrMissingOwner
	}
	return owner, nil
}
