// Package memory provides the service facade over an embedder and a
// memory store. It is stateless: every method is a composition of
// Embedder and Store calls, and dependency errors propagate unchanged.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/memkeep/memkeep/pkg/embed"
	memerrors "github.com/memkeep/memkeep/pkg/errors"
	"github.com/memkeep/memkeep/pkg/memstore"
)

// ContextHeader opens every composed context block. Prompt consumers
// key off it, so it is emitted whether or not anything was retrieved.
const ContextHeader = "Relevant memories:"

// noMemoriesLine is emitted under the header when nothing matched.
const noMemoriesLine = "No relevant memories found."

// Context is the result of ComposeContext.
type Context struct {
	// PromptText is the rendered block, ready to prepend to a prompt.
	PromptText string
	// Results are the raw search results behind the rendering.
	Results []memstore.SearchResult
}

// Exchange holds the record IDs created by RecordExchange.
type Exchange struct {
	UserID      string
	AssistantID string
}

// Service is the memory facade.
type Service struct {
	store    memstore.Store
	embedder embed.Embedder
}

// New creates a memory service.
func New(store memstore.Store, embedder embed.Embedder) *Service {
	return &Service{store: store, embedder: embedder}
}

// Store persists one memory and returns its ID.
func (s *Service) Store(ctx context.Context, text string, metadata memstore.Metadata) (string, error) {
	return s.store.Insert(ctx, text, metadata)
}

// Search embeds the query and runs a similarity search.
func (s *Service) Search(ctx context.Context, query string, opts memstore.QueryOptions) ([]memstore.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", memerrors.ErrInvalidInput)
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.store.Query(ctx, embedding, opts)
}

// ComposeContext searches for the query and renders the results into a
// prompt-ready block: ranked lines with a similarity percentage and
// timestamp, followed by the literal current message. The header and
// the current-message trailer are always present.
func (s *Service) ComposeContext(ctx context.Context, query string, opts memstore.QueryOptions) (Context, error) {
	results, err := s.Search(ctx, query, opts)
	if err != nil {
		return Context{}, err
	}

	var b strings.Builder
	b.WriteString(ContextHeader)
	b.WriteString("\n")
	if len(results) == 0 {
		b.WriteString(noMemoriesLine)
		b.WriteString("\n")
	} else {
		for i, result := range results {
			fmt.Fprintf(&b, "%d. [%d%% match, %s] %s\n",
				i+1,
				int(result.Score*100),
				result.Record.CreatedAt.Format("2006-01-02 15:04"),
				result.Record.Content,
			)
		}
	}
	b.WriteString("\nCurrent message: ")
	b.WriteString(query)

	return Context{PromptText: b.String(), Results: results}, nil
}

// RecordExchange stores both turns of a conversation under a shared
// conversation ID. The user turn goes in before the assistant turn is
// attempted.
func (s *Service) RecordExchange(ctx context.Context, userText, assistantText, conversationID string, metadata memstore.Metadata) (Exchange, error) {
	metadata.ConversationID = conversationID

	userMeta := metadata
	userMeta.Role = memstore.RoleUser
	userID, err := s.store.Insert(ctx, userText, userMeta)
	if err != nil {
		return Exchange{}, err
	}

	exchange := Exchange{UserID: userID}
	if strings.TrimSpace(assistantText) == "" {
		return exchange, nil
	}

	assistantMeta := metadata
	assistantMeta.Role = memstore.RoleAssistant
	assistantID, err := s.store.Insert(ctx, assistantText, assistantMeta)
	if err != nil {
		return exchange, err
	}
	exchange.AssistantID = assistantID
	return exchange, nil
}

// ListByOwner returns every record for the calling owner, grouped by
// category. Records without a category land under the general bucket.
func (s *Service) ListByOwner(ctx context.Context) (map[string][]memstore.MemoryRecord, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]memstore.MemoryRecord)
	for _, record := range records {
		category := record.Metadata.Category
		if category == "" {
			category = memstore.CategoryGeneral
		}
		grouped[category] = append(grouped[category], record)
	}
	return grouped, nil
}

// Stats reports the underlying store's state for the calling owner.
func (s *Service) Stats(ctx context.Context) (memstore.Stats, error) {
	return s.store.Stats(ctx)
}

// Delete removes one record by ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Forget removes every record matching the filter and returns how many
// went away.
func (s *Service) Forget(ctx context.Context, filter memstore.Filter) (int, error) {
	return s.store.DeleteByFilter(ctx, filter)
}
