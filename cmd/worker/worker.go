package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"pdfchat-backend/internal/ai"
	"pdfchat-backend/internal/chunker"
	"pdfchat-backend/internal/config"
	"pdfchat-backend/internal/extractor"
	"pdfchat-backend/internal/ingest"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/internal/queue"
	"pdfchat-backend/internal/vectorstore/qdrant"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	ctx := context.Background()

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, embedding cache disabled", "error", err)
		rdb = nil
	}

	vectorClient := qdrant.NewClient(qdrant.Config{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	})
	if err := vectorClient.EnsureCollection(ctx, cfg.VectorDimensions); err != nil {
		log.Fatal("Failed to prepare vector collection:", err)
	}

	limiter := rate.NewLimiter(rate.Every(cfg.ProviderMinInterval), 1)
	provider, err := ai.NewGeminiProvider(ctx, ai.GeminiConfig{
		APIKey:          cfg.GeminiAPIKey,
		GenerationModel: cfg.GenerationModel,
		EmbeddingModel:  cfg.EmbeddingModel,
		EmbedMaxChars:   cfg.EmbedMaxChars,
	}, limiter)
	if err != nil {
		log.Fatal("Failed to init Gemini provider:", err)
	}
	defer provider.Close()

	builder, err := chunker.NewBuilder(chunker.Config{
		HeadingPattern:  cfg.HeadingPattern,
		MinParagraphLen: cfg.MinParagraphLen,
		ParagraphLevel:  cfg.ParagraphLevel,
	})
	if err != nil {
		log.Fatal("Invalid chunker configuration:", err)
	}

	ingester := ingest.NewService(extractor.NewPDFExtractor(), builder, provider, vectorClient, rdb, ingest.Config{
		RetryBackoff: cfg.ProviderRetryBackoff,
		MaxRetries:   cfg.MaxEmbedRetries,
	})

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"ingest":  6,
				"default": 4,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(ingester)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestPDF, processor.HandleIngestPDF)

	logger.Info("Starting ingest worker", "redis", cfg.RedisURL)
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
