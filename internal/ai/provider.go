package ai

import (
	"context"
	"errors"
)

// ErrRateLimited signals upstream throttling. Callers decide the retry
// policy: embeddings retry with backoff, generation retries once.
var ErrRateLimited = errors.New("provider rate limited")

// Message is one prior turn passed to the completion endpoint.
type Message struct {
	Role    string
	Content string
}

// Provider is the embedding/completion collaborator. Implementations
// truncate over-long embedding input themselves; inputs are never
// rejected for length.
type Provider interface {
	Embed(ctx context.Context, text string) (vector []float32, tokens int, err error)
	Complete(ctx context.Context, messages []Message, maxTokens int, temperature float32) (text string, tokens int, err error)
	EmbeddingModel() string
	GenerationModel() string
}

// Truncate hard-caps text at maxChars bytes, cutting back to the previous
// rune boundary so the result stays valid UTF-8.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && (text[cut]&0xC0) == 0x80 {
		cut--
	}
	return text[:cut]
}

// EstimateTokens approximates token usage when the provider response
// carries no usage metadata. Roughly 4 characters per token.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
