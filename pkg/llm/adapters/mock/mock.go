// Package mock provides a mock implementation of the llm.Engine
// interface for testing.
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/memkeep/memkeep/pkg/llm"
)

// Engine implements the llm.Engine interface for testing. It returns
// canned responses and records every prompt it receives.
type Engine struct {
	mu sync.Mutex

	// Responses maps prompt substrings to canned responses.
	Responses map[string]string
	// DefaultResponse is returned when no substring matches.
	DefaultResponse string
	// Queue holds responses returned in order before any matching is
	// attempted. Useful for scripting multi-call interactions.
	Queue []string
	// Err, when set, is returned by every call.
	Err error

	// Calls records every prompt passed to Complete, in order.
	Calls []string
}

// New creates a new mock engine.
func New() *Engine {
	return &Engine{
		Responses:       make(map[string]string),
		DefaultResponse: "This is a mock response.",
	}
}

// Complete implements the llm.Engine interface.
func (e *Engine) Complete(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	if prompt == "" {
		return "", llm.ErrEmptyPrompt
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.Calls = append(e.Calls, prompt)

	if e.Err != nil {
		return "", e.Err
	}

	if len(e.Queue) > 0 {
		response := e.Queue[0]
		e.Queue = e.Queue[1:]
		return response, nil
	}

	for substring, response := range e.Responses {
		if strings.Contains(prompt, substring) {
			return response, nil
		}
	}

	return e.DefaultResponse, nil
}

// SetError makes every subsequent call fail with the given message.
func (e *Engine) SetError(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = errors.New(message)
}

// ClearError restores normal responses.
func (e *Engine) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = nil
}

// CallCount returns the number of Complete calls so far.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// LastCall returns the most recent prompt, or "" if there were none.
func (e *Engine) LastCall() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Calls) == 0 {
		return ""
	}
	return e.Calls[len(e.Calls)-1]
}

// Reset clears the call history, queue, and error state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
	e.Queue = nil
	e.Err = nil
}
