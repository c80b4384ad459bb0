package rag

import (
	"context"
	"strings"

	"pdfchat-backend/internal/ai"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/models"
)

const refinerInstructions = `Rewrite the user's query into a form optimized for semantic document search.
Correct typos and grammar, expand abbreviations, add close synonyms for key terms, and remove conversational filler.
Preserve the original intent and the original language of the query.
Respond with the rewritten query only, no explanations.`

// Refinement is the outcome of a refine call. Degraded marks the
// fallback path: the raw query passed through because the provider
// failed. Refinement is best-effort and never blocks the pipeline.
type Refinement struct {
	Query      string
	TokensUsed int
	Degraded   bool
	Reason     string
}

// Refiner rewrites a raw user query into a search-optimized form using
// conversational context.
type Refiner struct {
	provider ai.Provider
}

func NewRefiner(provider ai.Provider) *Refiner {
	return &Refiner{provider: provider}
}

func (r *Refiner) Refine(ctx context.Context, rawQuery string, history []models.ConversationTurn) Refinement {
	messages := []ai.Message{{Role: "system", Content: refinerInstructions}}

	// history arrives most recent first; replay it chronologically
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		messages = append(messages, ai.Message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: "Query to rewrite: " + rawQuery})

	text, tokens, err := r.provider.Complete(ctx, messages, 256, 0.1)
	if err != nil {
		logger.Warn("Query refinement failed, using raw query", "error", err)
		return Refinement{Query: rawQuery, Degraded: true, Reason: err.Error()}
	}

	refined := strings.TrimSpace(text)
	if refined == "" {
		return Refinement{Query: rawQuery, Degraded: true, Reason: "empty refinement"}
	}
	return Refinement{Query: refined, TokensUsed: tokens}
}
