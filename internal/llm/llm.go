// Package llm wraps the external text generation capability behind a small
// Generator interface so the rest of the backend never touches a provider
// SDK directly and tests can substitute a mock.
package llm

import "context"

// Request is a single-turn chat completion request.
type Request struct {
	// System sets the generator's role and constraints.
	System string

	// User is the fully interpolated user message.
	User string

	// MaxTokens caps the response length.
	MaxTokens int

	// Temperature controls randomness, 0.0 - 1.0.
	Temperature float32
}

// Result is a successful generation.
type Result struct {
	Text  string
	Model string
}

// Generator is the external generation capability. Implementations return an
// error for any transport or provider failure; callers decide how to surface
// it.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	ModelID() string
}
