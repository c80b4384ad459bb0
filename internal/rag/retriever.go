package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdfchat-backend/internal/ai"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/models"
)

// ErrDimensionMismatch marks a provider/store configuration
// inconsistency. It is fatal for the request and never retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Searcher is the vector store surface the retriever depends on.
type Searcher interface {
	Query(ctx context.Context, vector []float32, limit int, scoreThreshold float64, filter map[string]any) ([]models.SearchResult, error)
	Dimension() int
}

// RetrieverConfig carries the retrieval defaults and the embedding
// retry policy. MaxRetries 0 retries until the context is done.
type RetrieverConfig struct {
	DefaultLimit     int
	DefaultThreshold float64
	RetryBackoff     time.Duration
	MaxRetries       int
}

// Retriever embeds a refined query and runs thresholded
// nearest-neighbor search against the vector store.
type Retriever struct {
	provider ai.Provider
	store    Searcher
	cfg      RetrieverConfig
}

func NewRetriever(provider ai.Provider, store Searcher, cfg RetrieverConfig) *Retriever {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Retriever{provider: provider, store: store, cfg: cfg}
}

// Retrieve embeds query and returns results at or above the score
// threshold, descending by score. An empty result set is a valid,
// non-error outcome. Also returns the embedding token count.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int, scoreThreshold *float64, filter map[string]any) ([]models.SearchResult, int, error) {
	vector, tokens, err := r.embedWithRetry(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	if dim := r.store.Dimension(); dim > 0 && len(vector) != dim {
		return nil, 0, fmt.Errorf("%w: provider returned %d, store configured for %d",
			ErrDimensionMismatch, len(vector), dim)
	}

	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}
	threshold := r.cfg.DefaultThreshold
	if scoreThreshold != nil {
		threshold = *scoreThreshold
	}

	results, err := r.store.Query(ctx, vector, limit, threshold, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("vector search failed: %w", err)
	}
	return results, tokens, nil
}

// embedWithRetry retries rate-limited embeddings with a fixed backoff.
// Embeddings are a hard prerequisite with no fallback answer, so the
// retry count is unbounded by default; any other failure propagates
// immediately.
func (r *Retriever) embedWithRetry(ctx context.Context, query string) ([]float32, int, error) {
	attempts := 0
	for {
		vector, tokens, err := r.provider.Embed(ctx, query)
		if err == nil {
			return vector, tokens, nil
		}
		if !errors.Is(err, ai.ErrRateLimited) {
			return nil, 0, fmt.Errorf("embedding failed: %w", err)
		}

		attempts++
		if r.cfg.MaxRetries > 0 && attempts >= r.cfg.MaxRetries {
			return nil, 0, fmt.Errorf("embedding failed after %d attempts: %w", attempts, err)
		}
		logger.Warn("Embedding rate limited, backing off", "attempt", attempts, "backoff", r.cfg.RetryBackoff)

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(r.cfg.RetryBackoff):
		}
	}
}
