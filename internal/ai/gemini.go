package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"pdfchat-backend/internal/logger"
)

// GeminiConfig configures the Gemini-backed provider.
type GeminiConfig struct {
	APIKey          string
	GenerationModel string
	EmbeddingModel  string
	EmbedMaxChars   int
}

// GeminiProvider implements Provider on the Google Generative AI SDK.
// The rate limiter is the process-wide pacing state: it is constructed
// once at startup and shared by every component that calls the provider.
type GeminiProvider struct {
	client        *genai.Client
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	genModel      string
	embedModel    string
	embedMaxChars int
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, limiter *rate.Limiter) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing Gemini API key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &GeminiProvider{
		client:        client,
		limiter:       limiter,
		breaker:       breaker,
		genModel:      cfg.GenerationModel,
		embedModel:    cfg.EmbeddingModel,
		embedMaxChars: cfg.EmbedMaxChars,
	}, nil
}

func (p *GeminiProvider) EmbeddingModel() string  { return p.embedModel }
func (p *GeminiProvider) GenerationModel() string { return p.genModel }

// Embed returns the embedding vector for text, truncated to the model's
// maximum input length.
func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, int, error) {
	tracer := otel.Tracer("gemini-provider")
	ctx, span := tracer.Start(ctx, "gemini.embed")
	defer span.End()

	text = Truncate(text, p.embedMaxChars)
	span.SetAttributes(
		attribute.String("gemini.model", p.embedModel),
		attribute.Int("gemini.input_chars", len(text)),
	)

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	model := p.client.EmbeddingModel(p.embedModel)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, 0, classifyError(err)
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, 0, fmt.Errorf("no embedding returned")
	}

	// The embeddings endpoint reports no usage metadata.
	tokens := EstimateTokens(text)
	span.SetAttributes(attribute.Int("gemini.tokens", tokens))
	return resp.Embedding.Values, tokens, nil
}

// Complete generates text from the supplied messages. The last message is
// the active prompt; earlier ones are prepended as conversation context.
func (p *GeminiProvider) Complete(ctx context.Context, messages []Message, maxTokens int, temperature float32) (string, int, error) {
	tracer := otel.Tracer("gemini-provider")
	ctx, span := tracer.Start(ctx, "gemini.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("gemini.model", p.genModel),
		attribute.Int("gemini.messages", len(messages)),
	)

	if err := p.limiter.Wait(ctx); err != nil {
		return "", 0, err
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		model := p.client.GenerativeModel(p.genModel)
		model.SetTemperature(temperature)
		model.SetMaxOutputTokens(int32(maxTokens))

		resp, err := model.GenerateContent(ctx, genai.Text(flattenMessages(messages)))
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", 0, fmt.Errorf("%w: circuit breaker open", ErrRateLimited)
		}
		return "", 0, classifyError(err)
	}

	resp := result.(*genai.GenerateContentResponse)
	text := extractText(resp)
	if text == "" {
		return "", 0, fmt.Errorf("no candidates in response")
	}

	tokens := extractTokenUsage(resp)
	span.SetAttributes(attribute.Int("gemini.tokens", tokens))
	return text, tokens, nil
}

// Close the underlying client.
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// classifyError maps upstream throttling onto ErrRateLimited so callers
// can tell transient quota pressure from hard failures.
func classifyError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 429 {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") || strings.Contains(err.Error(), "429") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}

func flattenMessages(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role != "" {
			b.WriteString(m.Role)
			b.WriteString(": ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func extractText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return b.String()
}

// extractTokenUsage reads actual usage from response metadata, falling
// back to estimation from the response text.
func extractTokenUsage(resp *genai.GenerateContentResponse) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}
	return EstimateTokens(extractText(resp))
}
