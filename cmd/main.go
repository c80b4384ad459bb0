package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"pdfchat-backend/internal/ai"
	"pdfchat-backend/internal/chunker"
	"pdfchat-backend/internal/config"
	"pdfchat-backend/internal/extractor"
	"pdfchat-backend/internal/ingest"
	"pdfchat-backend/internal/ledger"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/internal/rag"
	"pdfchat-backend/internal/telemetry"
	"pdfchat-backend/internal/vectorstore/qdrant"
	"pdfchat-backend/middleware"
	"pdfchat-backend/routes"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("pdfchat-backend", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to init tracing:", err)
		}
		defer shutdown()
	}

	ctx := context.Background()

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, rate limiting and embedding cache disabled", "error", err)
		rdb = nil
	}

	store, err := ledger.NewStore(cfg.SQLitePath)
	if err != nil {
		log.Fatal("Failed to open conversation store:", err)
	}
	defer store.Close()

	vectorClient := qdrant.NewClient(qdrant.Config{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	})
	if err := vectorClient.EnsureCollection(ctx, cfg.VectorDimensions); err != nil {
		log.Fatal("Failed to prepare vector collection:", err)
	}

	// one limiter for the whole process: every Gemini call shares it
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

	chatService := rag.NewService(
		provider,
		rag.NewRefiner(provider),
		rag.NewRetriever(provider, vectorClient, rag.RetrieverConfig{
			DefaultLimit:     cfg.SearchLimit,
			DefaultThreshold: cfg.ScoreThreshold,
			RetryBackoff:     cfg.ProviderRetryBackoff,
			MaxRetries:       cfg.MaxEmbedRetries,
		}),
		rag.NewSynthesizer(provider, rag.SynthesizerConfig{
			MaxTokens:    cfg.MaxOutputTokens,
			Temperature:  float32(cfg.Temperature),
			RetryBackoff: cfg.ProviderRetryBackoff,
		}),
		store,
		cfg.HistoryLimitChat,
	)

	var queueClient *asynq.Client
	if rdb != nil {
		queueClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer queueClient.Close()
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if cfg.TracingEnabled {
		router.Use(middleware.Tracing())
		router.Use(middleware.EnrichTrace())
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With", "X-Request-ID"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	if rdb != nil {
		router.Use(middleware.RateLimit(rdb, cfg))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	routes.SetupChatRoutes(router, cfg, chatService, store)
	routes.SetupDocumentRoutes(router, cfg, ingester, queueClient)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
