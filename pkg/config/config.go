// Package config defines the YAML configuration for memkeep.
package config

import (
	"github.com/memkeep/memkeep/pkg/log"
)

// Config is the root configuration structure.
type Config struct {
	// Store configures the memory backend.
	Store StoreConfig `yaml:"store"`

	// Embedder configures the embedding provider.
	Embedder EmbedderConfig `yaml:"embedder"`

	// LLM configures the text-generation engine.
	LLM LLMConfig `yaml:"llm"`

	// Policy configures the store-worthiness policy.
	Policy PolicyConfig `yaml:"policy"`

	// Retrieval configures search defaults.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Logging configures the logger.
	Logging log.Config `yaml:"logging"`
}

// StoreConfig configures the memory backend.
type StoreConfig struct {
	// Type selects the backend: flat, chromem, qdrant, or pgvector.
	Type string `yaml:"type"`

	// Flat configures the in-process backend.
	Flat FlatConfig `yaml:"flat"`

	// Chromem configures the chromem-go backend.
	Chromem ChromemConfig `yaml:"chromem"`

	// Qdrant configures the Qdrant backend.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// PgVector configures the PostgreSQL pgvector backend.
	PgVector PgVectorConfig `yaml:"pgvector"`
}

// FlatConfig configures the in-process backend.
type FlatConfig struct {
	// Path is the BoltDB file path. Empty means memory-only.
	Path string `yaml:"path"`
}

// ChromemConfig configures the chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory.
	Path string `yaml:"path"`
	// Compress enables gzip compression of persisted documents.
	Compress bool `yaml:"compress"`
}

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// PgVectorConfig configures the PostgreSQL pgvector backend.
type PgVectorConfig struct {
	ConnectionString string `yaml:"connection_string"`
	TableName        string `yaml:"table_name"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	// Provider selects the embedder: openai or hash.
	Provider string `yaml:"provider"`
	// Model is the embedding model for hosted providers.
	Model string `yaml:"model"`
	// Dimension overrides the provider's default vector size.
	Dimension int `yaml:"dimension"`
	// APIKey is the provider API key.
	APIKey string `yaml:"api_key"`
	// HashFallback degrades to the deterministic hash embedder when
	// the hosted provider fails, instead of failing the operation.
	HashFallback bool `yaml:"hash_fallback"`
}

// LLMConfig configures the text-generation engine.
type LLMConfig struct {
	// Provider selects the engine: openai or mock.
	Provider string `yaml:"provider"`
	// Model is the chat model for hosted providers.
	Model string `yaml:"model"`
	// APIKey is the provider API key.
	APIKey string `yaml:"api_key"`
}

// PolicyConfig configures the store-worthiness policy.
type PolicyConfig struct {
	// UseModel enables the model-backed primary path. The heuristic
	// fallback is always available.
	UseModel bool `yaml:"use_model"`
}

// RetrievalConfig configures search defaults.
type RetrievalConfig struct {
	// TopK is the default number of memories retrieved per turn.
	TopK int `yaml:"top_k"`
	// MinScore is the default similarity floor.
	MinScore float64 `yaml:"min_score"`
}
