package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/memkeep/memkeep/pkg/memstore"
)

// DefaultConfig returns a configuration that works with no file at
// all: in-memory flat store, hash embedder, mock engine.
func DefaultConfig() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var config Config

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// applyEnvironmentOverrides applies environment variable overrides.
func applyEnvironmentOverrides(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.Embedder.APIKey == "" {
			config.Embedder.APIKey = apiKey
		}
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
	}
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		config.Store.Qdrant.Host = host
	}
	if port := os.Getenv("QDRANT_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			config.Store.Qdrant.Port = parsed
		}
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		config.Store.Qdrant.APIKey = apiKey
	}
	if url := os.Getenv("POSTGRES_URL"); url != "" {
		config.Store.PgVector.ConnectionString = url
	}
}

// applyDefaults fills in unset fields.
func applyDefaults(config *Config) {
	if config.Store.Type == "" {
		config.Store.Type = "flat"
	}
	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "hash"
	}
	if config.LLM.Provider == "" {
		config.LLM.Provider = "mock"
	}
	if config.Retrieval.TopK <= 0 {
		config.Retrieval.TopK = memstore.DefaultTopK
	}
	if config.Retrieval.MinScore == 0 {
		config.Retrieval.MinScore = memstore.DefaultMinScore
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
}

// validateConfig checks that the configuration is usable.
func validateConfig(config *Config) error {
	switch strings.ToLower(config.Store.Type) {
	case "flat", "chromem":
	case "qdrant":
		if config.Store.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required for qdrant store type")
		}
	case "pgvector":
		if config.Store.PgVector.ConnectionString == "" {
			return fmt.Errorf("connection string is required for pgvector store type")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", config.Store.Type)
	}

	switch strings.ToLower(config.Embedder.Provider) {
	case "hash":
	case "openai":
		if config.Embedder.APIKey == "" {
			return fmt.Errorf("api key is required for openai embedder")
		}
	default:
		return fmt.Errorf("unsupported embedder provider: %s", config.Embedder.Provider)
	}

	switch strings.ToLower(config.LLM.Provider) {
	case "mock":
	case "openai":
		if config.LLM.APIKey == "" {
			return fmt.Errorf("api key is required for openai llm")
		}
	default:
		return fmt.Errorf("unsupported llm provider: %s", config.LLM.Provider)
	}

	if config.Retrieval.MinScore < 0 || config.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval min_score must be in [0, 1]")
	}
	return nil
}
