package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Gemini provider
	GeminiAPIKey    string
	GenerationModel string
	EmbeddingModel  string
	EmbedMaxChars   int
	MaxOutputTokens int
	Temperature     float64

	// Provider pacing: minimum interval between successive provider calls,
	// shared process-wide. See cmd/main.go for the limiter construction.
	ProviderMinInterval time.Duration
	// Backoff applied between embedding retries and before the single
	// generation retry when the provider reports throttling.
	ProviderRetryBackoff time.Duration
	// Cap on embedding retries. 0 means retry until the context is done.
	MaxEmbedRetries int

	// Qdrant
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	VectorDimensions int

	// Retrieval defaults
	SearchLimit    int
	ScoreThreshold float64

	// Conversation ledger
	SQLitePath        string
	HistoryLimitAPI   int
	HistoryLimitChat  int

	// Chunking
	HeadingPattern  string
	MinParagraphLen int
	ParagraphLevel  bool

	// Ingestion
	FileStorageDir      string
	MaxFileSize         int64
	SyncProcessingLimit int64

	// Redis (asynq broker + embedding cache)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// HTTP rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// CORS
	CORSOrigins []string

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GenerationModel: getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		EmbedMaxChars:   getEnvInt("EMBED_MAX_CHARS", 8000),
		MaxOutputTokens: getEnvInt("MAX_OUTPUT_TOKENS", 2048),
		Temperature:     getEnvFloat64("TEMPERATURE", 0.2),

		ProviderMinInterval:  getEnvDuration("PROVIDER_MIN_INTERVAL", 200*time.Millisecond),
		ProviderRetryBackoff: getEnvDuration("PROVIDER_RETRY_BACKOFF", 2*time.Second),
		MaxEmbedRetries:      getEnvInt("MAX_EMBED_RETRIES", 0),

		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "pdf_chunks"),
		VectorDimensions: getEnvInt("VECTOR_DIM", 768),

		SearchLimit:    getEnvInt("SEARCH_LIMIT", 10),
		ScoreThreshold: getEnvFloat64("SCORE_THRESHOLD", 0.35),

		SQLitePath:       getEnv("SQLITE_PATH", "./data/conversations.db"),
		HistoryLimitAPI:  getEnvInt("HISTORY_LIMIT_API", 50),
		HistoryLimitChat: getEnvInt("HISTORY_LIMIT_CHAT", 20),

		HeadingPattern:  getEnv("HEADING_PATTERN", `^#{1,6}\s`),
		MinParagraphLen: getEnvInt("MIN_PARAGRAPH_LEN", 100),
		ParagraphLevel:  getEnvBool("PARAGRAPH_LEVEL", true),

		FileStorageDir:      getEnv("FILE_STORAGE_DIR", "./storage"),
		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 20971520), // 20MB processed inline

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.VectorDimensions <= 0 {
		return nil, fmt.Errorf("VECTOR_DIM must be positive")
	}

	if cfg.ScoreThreshold < 0 {
		return nil, fmt.Errorf("SCORE_THRESHOLD must not be negative")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
