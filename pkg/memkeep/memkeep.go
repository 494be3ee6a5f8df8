// Package memkeep wires the configured backends into a ready-to-use
// client: memory service, storage policy, and conversation flow behind
// one construction call.
package memkeep

import (
	"context"
	"fmt"
	"strings"

	"github.com/memkeep/memkeep/pkg/chat"
	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/embed"
	embedhash "github.com/memkeep/memkeep/pkg/embed/adapters/hash"
	embedopenai "github.com/memkeep/memkeep/pkg/embed/adapters/openai"
	"github.com/memkeep/memkeep/pkg/llm"
	llmmock "github.com/memkeep/memkeep/pkg/llm/adapters/mock"
	llmopenai "github.com/memkeep/memkeep/pkg/llm/adapters/openai"
	"github.com/memkeep/memkeep/pkg/log"
	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/memstore"
	storechromem "github.com/memkeep/memkeep/pkg/memstore/adapters/chromem"
	storeflat "github.com/memkeep/memkeep/pkg/memstore/adapters/flat"
	storepgvector "github.com/memkeep/memkeep/pkg/memstore/adapters/pgvector"
	storeqdrant "github.com/memkeep/memkeep/pkg/memstore/adapters/qdrant"
	"github.com/memkeep/memkeep/pkg/policy"
	"github.com/memkeep/memkeep/pkg/tenant"
)

// Client is the assembled memkeep instance.
type Client struct {
	config       *config.Config
	store        memstore.Store
	embedder     embed.Embedder
	engine       llm.Engine
	memories     *memory.Service
	orchestrator *chat.Orchestrator
}

// NewFromConfig builds a client from the given configuration.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	log.Setup(cfg.Logging)

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg, embedder)
	if err != nil {
		return nil, err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	var storePolicy *policy.Policy
	if cfg.Policy.UseModel {
		storePolicy = policy.New(engine)
	} else {
		storePolicy = policy.New(nil)
	}

	memories := memory.New(store, embedder)
	log.Info("memkeep initialized",
		"store", cfg.Store.Type,
		"embedder", cfg.Embedder.Provider,
		"llm", cfg.LLM.Provider,
		"dimension", embedder.Dimension())

	return &Client{
		config:       cfg,
		store:        store,
		embedder:     embedder,
		engine:       engine,
		memories:     memories,
		orchestrator: chat.New(memories, engine, storePolicy),
	}, nil
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	switch strings.ToLower(cfg.Embedder.Provider) {
	case "hash":
		if cfg.Embedder.Dimension > 0 {
			return embedhash.NewWithDimension(cfg.Embedder.Dimension), nil
		}
		return embedhash.New(), nil
	case "openai":
		embedder, err := embedopenai.New(embedopenai.Config{
			APIKey:    cfg.Embedder.APIKey,
			Model:     cfg.Embedder.Model,
			Dimension: cfg.Embedder.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("creating openai embedder: %w", err)
		}
		if cfg.Embedder.HashFallback {
			return embed.NewFallback(embedder, embedhash.NewWithDimension(embedder.Dimension())), nil
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Embedder.Provider)
	}
}

func buildStore(ctx context.Context, cfg *config.Config, embedder embed.Embedder) (memstore.Store, error) {
	switch strings.ToLower(cfg.Store.Type) {
	case "flat":
		return storeflat.New(embedder, storeflat.Config{
			Path: cfg.Store.Flat.Path,
		})
	case "chromem":
		return storechromem.New(embedder, storechromem.Config{
			Path:     cfg.Store.Chromem.Path,
			Compress: cfg.Store.Chromem.Compress,
		})
	case "qdrant":
		return storeqdrant.New(ctx, embedder, storeqdrant.Config{
			Host:       cfg.Store.Qdrant.Host,
			Port:       cfg.Store.Qdrant.Port,
			APIKey:     cfg.Store.Qdrant.APIKey,
			UseTLS:     cfg.Store.Qdrant.UseTLS,
			Collection: cfg.Store.Qdrant.Collection,
		})
	case "pgvector":
		return storepgvector.New(ctx, embedder, storepgvector.Config{
			ConnectionString: cfg.Store.PgVector.ConnectionString,
			TableName:        cfg.Store.PgVector.TableName,
		})
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Store.Type)
	}
}

func buildEngine(cfg *config.Config) (llm.Engine, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "mock":
		return llmmock.New(), nil
	case "openai":
		engine, err := llmopenai.New(llmopenai.Config{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("creating openai engine: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}

// Memories exposes the memory service for direct store and search.
func (c *Client) Memories() *memory.Service {
	return c.memories
}

// Handle runs one conversational turn for the owner carried in ctx,
// applying the configured retrieval defaults.
func (c *Client) Handle(ctx context.Context, userQuery string) (chat.Reply, error) {
	return c.orchestrator.Handle(ctx, userQuery, chat.Options{
		TopK:     c.config.Retrieval.TopK,
		MinScore: c.config.Retrieval.MinScore,
	})
}

// OwnerContext attaches an owner and conversation to a context.
func (c *Client) OwnerContext(ctx context.Context, ownerID, conversationID string) context.Context {
	return tenant.ContextWith(ctx, tenant.NewContext(tenant.OwnerID(ownerID), conversationID))
}

// Flush waits for background memory writes to finish.
func (c *Client) Flush() {
	c.orchestrator.Flush()
}

// Close flushes pending writes and releases backend resources.
func (c *Client) Close() error {
	c.orchestrator.Flush()
	return c.store.Close()
}
