// Package openai implements the llm.Engine interface using the OpenAI
// chat completions API.
package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	memerrors "github.com/memkeep/memkeep/pkg/errors"
	"github.com/memkeep/memkeep/pkg/llm"
	"github.com/memkeep/memkeep/pkg/log"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse is returned when the API returns no choices.
	ErrEmptyResponse = errors.New("no completion choices returned")
)

// Config holds the configuration for the OpenAI engine.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the chat model, e.g. "gpt-4o-mini".
	Model string
	// BaseURL is the base URL for the OpenAI API (for testing).
	BaseURL string
}

// Engine implements the llm.Engine interface using the OpenAI API.
type Engine struct {
	client *openai.Client
	model  string
}

// New creates a new OpenAI engine.
func New(config Config) (*Engine, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Engine{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}, nil
}

// Complete implements the llm.Engine interface.
func (e *Engine) Complete(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	if prompt == "" {
		return "", llm.ErrEmptyPrompt
	}

	options := llm.ApplyOptions(opts...)

	model := e.model
	if options.Model != "" {
		model = options.Model
	}

	var messages []openai.ChatCompletionMessage
	if options.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	log.DebugContext(ctx, "Requesting completion", "model", model, "prompt_length", len(prompt))

	response, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	})
	if err != nil {
		log.ErrorContext(ctx, "Completion request failed", "error", err, "model", model)
		return "", memerrors.Backend("openai-chat", "complete", err)
	}

	if len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return response.Choices[0].Message.Content, nil
}
