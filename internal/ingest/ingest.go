package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"pdfchat-backend/internal/ai"
	"pdfchat-backend/internal/chunker"
	"pdfchat-backend/internal/extractor"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/internal/vectorstore/qdrant"
	"pdfchat-backend/models"
)

const (
	upsertBatchSize  = 64
	defaultListLimit = 256
	cacheTTL         = 7 * 24 * time.Hour
)

// Extractor pulls text out of a source file.
type Extractor interface {
	Extract(path string) (*extractor.Extraction, error)
}

// Index is the vector store surface ingestion writes to.
type Index interface {
	Upsert(ctx context.Context, points []qdrant.Point) error
	ScrollAll(ctx context.Context, limit int) ([]models.IndexEntry, error)
	Clear(ctx context.Context) error
	Dimension() int
}

// Config carries the embedding retry policy for ingestion. MaxRetries
// zero means retry until the context is cancelled.
type Config struct {
	RetryBackoff time.Duration
	MaxRetries   int
}

// Report summarizes one ingestion run.
type Report struct {
	Document        models.SourceDocument `json:"document"`
	Chunks          int                   `json:"chunks"`
	PointsUpserted  int                   `json:"points_upserted"`
	EmbeddingTokens int                   `json:"embedding_tokens"`
	CacheHits       int                   `json:"cache_hits"`
}

// Service turns PDF files into embedded chunks in the vector store.
// Chunk IDs are content-derived, so re-ingesting an unchanged file
// overwrites its points in place instead of duplicating them.
type Service struct {
	extractor Extractor
	builder   *chunker.Builder
	provider  ai.Provider
	index     Index
	cache     *redis.Client
	cfg       Config
}

func NewService(ext Extractor, builder *chunker.Builder, provider ai.Provider, index Index, cache *redis.Client, cfg Config) *Service {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Service{
		extractor: ext,
		builder:   builder,
		provider:  provider,
		index:     index,
		cache:     cache,
		cfg:       cfg,
	}
}

// IngestFile extracts, chunks, embeds and upserts one PDF.
func (s *Service) IngestFile(ctx context.Context, path string) (*Report, error) {
	tracer := otel.Tracer("ingest")
	ctx, span := tracer.Start(ctx, "ingest.file")
	defer span.End()
	span.SetAttributes(attribute.String("ingest.path", path))

	ex, err := s.extractor.Extract(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}

	fullText := extractor.Normalize(ex.FullText)
	pages := make([]string, len(ex.Pages))
	for i, p := range ex.Pages {
		pages[i] = extractor.Normalize(p)
	}

	chunks := s.builder.Build(fullText, pages, ex.Source)
	report := &Report{Document: ex.Source, Chunks: len(chunks)}
	span.SetAttributes(attribute.Int("ingest.chunks", len(chunks)))

	batch := make([]qdrant.Point, 0, upsertBatchSize)
	for _, chunk := range chunks {
		vector, tokens, hit, err := s.embed(ctx, chunk)
		if err != nil {
			return report, fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
		}
		if len(vector) != s.index.Dimension() {
			return report, fmt.Errorf("chunk %s: embedding dimension %d does not match collection dimension %d",
				chunk.ID, len(vector), s.index.Dimension())
		}
		chunk.TokensUsed = tokens
		report.EmbeddingTokens += tokens
		if hit {
			report.CacheHits++
		}

		batch = append(batch, qdrant.Point{
			ID:      PointID(chunk.ID),
			Vector:  vector,
			Payload: models.PayloadFromChunk(chunk),
		})
		if len(batch) == upsertBatchSize {
			if err := s.index.Upsert(ctx, batch); err != nil {
				return report, fmt.Errorf("upsert batch: %w", err)
			}
			report.PointsUpserted += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.index.Upsert(ctx, batch); err != nil {
			return report, fmt.Errorf("upsert batch: %w", err)
		}
		report.PointsUpserted += len(batch)
	}

	logger.Info("Ingested document",
		"name", ex.Source.Name,
		"hash", ex.Source.ContentHash,
		"chunks", report.Chunks,
		"tokens", report.EmbeddingTokens,
		"cache_hits", report.CacheHits)
	return report, nil
}

// Reindex clears the collection and ingests the given files from scratch.
func (s *Service) Reindex(ctx context.Context, paths []string) ([]*Report, error) {
	if err := s.index.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear collection: %w", err)
	}
	reports := make([]*Report, 0, len(paths))
	for _, path := range paths {
		report, err := s.IngestFile(ctx, path)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ListEntries pages through stored points, up to limit. A non-positive
// limit uses the default page budget.
func (s *Service) ListEntries(ctx context.Context, limit int) ([]models.IndexEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.index.ScrollAll(ctx, limit)
}

// embed returns the vector for a chunk, consulting the redis cache
// first. The cache is best-effort: any cache failure falls through to
// the provider.
func (s *Service) embed(ctx context.Context, chunk models.Chunk) ([]float32, int, bool, error) {
	key := s.cacheKey(chunk.ID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var vector []float32
			if err := json.Unmarshal(raw, &vector); err == nil && len(vector) > 0 {
				return vector, 0, true, nil
			}
		}
	}

	vector, tokens, err := s.embedWithRetry(ctx, chunk.Text)
	if err != nil {
		return nil, 0, false, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(vector); err == nil {
			if err := s.cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
				logger.Debug("Embedding cache write failed", "chunk_id", chunk.ID, "error", err)
			}
		}
	}
	return vector, tokens, false, nil
}

func (s *Service) embedWithRetry(ctx context.Context, text string) ([]float32, int, error) {
	attempt := 0
	for {
		vector, tokens, err := s.provider.Embed(ctx, text)
		if err == nil {
			return vector, tokens, nil
		}
		if !errors.Is(err, ai.ErrRateLimited) {
			return nil, 0, err
		}
		attempt++
		if s.cfg.MaxRetries > 0 && attempt > s.cfg.MaxRetries {
			return nil, 0, err
		}
		logger.Warn("Embedding rate limited, backing off", "attempt", attempt, "backoff", s.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(s.cfg.RetryBackoff):
		}
	}
}

func (s *Service) cacheKey(chunkID string) string {
	return "embed:" + s.provider.EmbeddingModel() + ":" + chunkID
}

// PointID derives the stable UUID the vector store requires from a
// chunk ID. Same chunk ID, same point ID, so upserts stay idempotent.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}
