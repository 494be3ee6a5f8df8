// Package llm defines the interface for text generation engines.
//
// An Engine turns a prompt into a completion. Concrete adapters live in
// the adapters/ subdirectory; the rest of the codebase depends only on
// this interface.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyPrompt is returned when an empty prompt is provided.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
)

// Engine defines the interface for text generation.
type Engine interface {
	// Complete generates a completion for the given prompt.
	Complete(ctx context.Context, prompt string, opts ...Option) (string, error)
}

// Options holds configuration for a completion request.
type Options struct {
	// Temperature controls randomness in generation (0.0-1.0).
	Temperature float64
	// MaxTokens limits the length of the generated response.
	MaxTokens int
	// Model overrides the engine's default model for this request.
	Model string
	// SystemPrompt is prepended as the system message when non-empty.
	SystemPrompt string
}

// Option is a functional option for configuring a completion request.
type Option func(*Options)

// DefaultOptions returns the default completion options.
func DefaultOptions() *Options {
	return &Options{
		Temperature: 0.7,
		MaxTokens:   1024,
	}
}

// WithTemperature sets the temperature for the request.
func WithTemperature(temperature float64) Option {
	return func(o *Options) {
		o.Temperature = temperature
	}
}

// WithMaxTokens sets the maximum response length for the request.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Options) {
		o.MaxTokens = maxTokens
	}
}

// WithModel overrides the model for the request.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithSystemPrompt sets the system message for the request.
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) {
		o.SystemPrompt = prompt
	}
}

// ApplyOptions applies the given options to the default options.
func ApplyOptions(opts ...Option) *Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
