package rag

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"pdfchat-backend/internal/ai"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/models"
)

// Ledger is the conversation persistence surface the pipeline depends on.
type Ledger interface {
	GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error)
	RecordExchange(ctx context.Context, sessionID, userMessage, assistantMessage string, userUsage, assistantUsage models.TurnUsage, related []models.RelatedDocument) string
}

// ChatParams are the per-request inputs to the pipeline.
type ChatParams struct {
	Prompt         string
	SessionID      string
	Limit          int
	ScoreThreshold *float64
	Filter         map[string]any
}

// Service runs the per-request pipeline: refine, retrieve, synthesize,
// persist — strictly in that order, each stage feeding the next. The
// ledger is also read before refinement and synthesis, which is how
// earlier turns of the session feed back into later answers.
type Service struct {
	provider     ai.Provider
	refiner      *Refiner
	retriever    *Retriever
	synthesizer  *Synthesizer
	ledger       Ledger
	historyLimit int
}

func NewService(provider ai.Provider, refiner *Refiner, retriever *Retriever, synthesizer *Synthesizer, ledger Ledger, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Service{
		provider:     provider,
		refiner:      refiner,
		retriever:    retriever,
		synthesizer:  synthesizer,
		ledger:       ledger,
		historyLimit: historyLimit,
	}
}

// Chat answers one prompt. Retrieval failure (embedding or store) is
// the only error surfaced to the caller; refinement, generation and
// persistence all degrade instead of failing the request.
func (s *Service) Chat(ctx context.Context, p ChatParams) (*models.ChatResponse, error) {
	tracer := otel.Tracer("rag-pipeline")
	ctx, span := tracer.Start(ctx, "rag.chat")
	defer span.End()

	history, err := s.ledger.GetHistory(ctx, p.SessionID, s.historyLimit)
	if err != nil {
		// history is context, not a prerequisite
		logger.Warn("Failed to load chat history", "session_id", p.SessionID, "error", err)
		history = nil
	}

	refinement := s.refiner.Refine(ctx, p.Prompt, history)
	span.SetAttributes(attribute.Bool("rag.refine_degraded", refinement.Degraded))

	results, embedTokens, err := s.retriever.Retrieve(ctx, refinement.Query, p.Limit, p.ScoreThreshold, p.Filter)
	if err != nil {
		span.SetAttributes(attribute.Bool("rag.error", true))
		return nil, err
	}
	span.SetAttributes(attribute.Int("rag.results", len(results)))

	synthesis := s.synthesizer.Synthesize(ctx, p.Prompt, results, history)
	span.SetAttributes(attribute.Bool("rag.synthesis_degraded", synthesis.Degraded))

	related := relatedDocuments(results)

	userUsage := models.TurnUsage{
		EmbeddingTokens: embedTokens,
		EmbeddingModel:  s.provider.EmbeddingModel(),
	}
	assistantUsage := models.TurnUsage{
		GenerationTokens: refinement.TokensUsed + synthesis.TokensUsed,
		GenerationModel:  s.provider.GenerationModel(),
	}
	sessionID := s.ledger.RecordExchange(ctx, p.SessionID, p.Prompt, synthesis.Answer, userUsage, assistantUsage, related)

	return &models.ChatResponse{
		Query:            refinement.Query,
		Answer:           synthesis.Answer,
		SessionID:        sessionID,
		Results:          results,
		Count:            len(results),
		TokensUsed:       embedTokens + refinement.TokensUsed + synthesis.TokensUsed,
		RelatedDocuments: related,
	}, nil
}

// relatedDocuments maps the retrieved chunks to document provenance
// entries, in result order.
func relatedDocuments(results []models.SearchResult) []models.RelatedDocument {
	related := make([]models.RelatedDocument, 0, len(results))
	for _, r := range results {
		related = append(related, models.RelatedDocument{
			Name:         r.Payload.DocumentName,
			Locator:      r.Payload.ChunkID,
			Score:        r.Score,
			DocumentHash: r.Payload.DocumentHash,
		})
	}
	return related
}
