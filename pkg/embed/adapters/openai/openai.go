// Package openai implements the embed.Embedder interface on top of the
// OpenAI embeddings API.
package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	memerrors "github.com/memkeep/memkeep/pkg/errors"
	"github.com/memkeep/memkeep/pkg/log"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
)

// Model dimensions for the embedding models this adapter knows about.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Config holds the configuration for the OpenAI embedder.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the embedding model, e.g. "text-embedding-3-small".
	Model string
	// Dimension overrides the model's default output size (0 = model default).
	Dimension int
	// BaseURL is the base URL for the OpenAI API (for testing).
	BaseURL string
}

// Embedder implements the embed.Embedder interface using the OpenAI API.
type Embedder struct {
	client *openai.Client
	model  string
	// dimension is the effective output size of every vector.
	dimension int
	// requestDimensions is sent to the API when the caller overrides the
	// model default (supported by the 3-series models only).
	requestDimensions int
}

// New creates a new OpenAI embedder.
func New(config Config) (*Embedder, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}

	dimension := config.Dimension
	requestDimensions := 0
	if dimension > 0 {
		requestDimensions = dimension
	} else {
		dimension = modelDimensions[config.Model]
		if dimension == 0 {
			dimension = 1536
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Embedder{
		client:            openai.NewClientWithConfig(clientConfig),
		model:             config.Model,
		dimension:         dimension,
		requestDimensions: requestDimensions,
	}, nil
}

// Embed implements the embed.Embedder interface.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements the embed.Embedder interface.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.DebugContext(ctx, "Generating embeddings", "count", len(texts), "model", e.model)

	request := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.requestDimensions,
	}

	response, err := e.client.CreateEmbeddings(ctx, request)
	if err != nil {
		log.ErrorContext(ctx, "Failed to generate embeddings", "error", err, "model", e.model)
		return nil, memerrors.Backend("openai-embeddings", "embed", err)
	}

	vecs := make([][]float32, len(response.Data))
	for i, data := range response.Data {
		vecs[i] = data.Embedding
	}

	return vecs, nil
}

// Dimension implements the embed.Embedder interface.
func (e *Embedder) Dimension() int {
	return e.dimension
}
