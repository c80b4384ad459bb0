package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdfchat-backend/internal/ai"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/models"
)

// FallbackAnswer is returned when generation fails so the pipeline
// always completes and always produces a persistable turn.
const FallbackAnswer = "I'm sorry, I couldn't generate an answer right now. Please try again in a moment."

const synthesizerInstructions = `You answer questions using only the numbered passages below and the prior conversation.
If the passages and conversation do not contain enough information, say so explicitly instead of guessing.
Cite the passages you used by their number, e.g. [1] or [2][3].
When several passages are relevant, synthesize them into one coherent answer.
Respond in the same language as the question.`

// Synthesis is the outcome of an answer generation. Degraded marks the
// apology fallback taken after a provider failure.
type Synthesis struct {
	Answer     string
	TokensUsed int
	Degraded   bool
	Reason     string
}

// SynthesizerConfig carries the generation parameters and the single
// retry backoff applied on throttling.
type SynthesizerConfig struct {
	MaxTokens    int
	Temperature  float32
	RetryBackoff time.Duration
}

// Synthesizer generates a grounded answer from retrieved passages and
// prior turns.
type Synthesizer struct {
	provider ai.Provider
	cfg      SynthesizerConfig
}

func NewSynthesizer(provider ai.Provider, cfg SynthesizerConfig) *Synthesizer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Synthesizer{provider: provider, cfg: cfg}
}

func (s *Synthesizer) Synthesize(ctx context.Context, rawQuery string, results []models.SearchResult, history []models.ConversationTurn) Synthesis {
	messages := buildGroundedMessages(rawQuery, results, history)

	text, tokens, err := s.provider.Complete(ctx, messages, s.cfg.MaxTokens, s.cfg.Temperature)
	if err != nil && errors.Is(err, ai.ErrRateLimited) {
		logger.Warn("Generation rate limited, retrying once", "backoff", s.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			return Synthesis{Answer: FallbackAnswer, Degraded: true, Reason: ctx.Err().Error()}
		case <-time.After(s.cfg.RetryBackoff):
		}
		text, tokens, err = s.provider.Complete(ctx, messages, s.cfg.MaxTokens, s.cfg.Temperature)
	}
	if err != nil {
		logger.Error("Answer generation failed, returning fallback", "error", err)
		return Synthesis{Answer: FallbackAnswer, Degraded: true, Reason: err.Error()}
	}

	answer := strings.TrimSpace(text)
	if answer == "" {
		return Synthesis{Answer: FallbackAnswer, Degraded: true, Reason: "empty generation"}
	}
	return Synthesis{Answer: answer, TokensUsed: tokens}
}

func buildGroundedMessages(rawQuery string, results []models.SearchResult, history []models.ConversationTurn) []ai.Message {
	var b strings.Builder
	b.WriteString(synthesizerInstructions)
	b.WriteString("\n\n")

	if len(results) == 0 {
		b.WriteString("No passages were retrieved for this question.\n")
	}
	for i, r := range results {
		fmt.Fprintf(&b, "Passage %d (from %s, page %d):\n%s\n\n",
			i+1, r.Payload.DocumentName, r.Payload.PageNumber, r.Payload.Text)
	}

	messages := []ai.Message{{Role: "system", Content: b.String()}}
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		messages = append(messages, ai.Message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: rawQuery})
	return messages
}
