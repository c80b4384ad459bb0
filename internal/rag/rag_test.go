package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat-backend/internal/ai"
	"pdfchat-backend/models"
)

type fakeProvider struct {
	embedVec    []float32
	embedErrs   []error
	embedCalls  int
	completeFn  func(call int, messages []ai.Message) (string, int, error)
	complCalls  int
	lastPrompt  []ai.Message
	embedTokens int
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, int, error) {
	call := f.embedCalls
	f.embedCalls++
	if call < len(f.embedErrs) && f.embedErrs[call] != nil {
		return nil, 0, f.embedErrs[call]
	}
	tokens := f.embedTokens
	if tokens == 0 {
		tokens = 7
	}
	return f.embedVec, tokens, nil
}

func (f *fakeProvider) Complete(ctx context.Context, messages []ai.Message, maxTokens int, temperature float32) (string, int, error) {
	call := f.complCalls
	f.complCalls++
	f.lastPrompt = messages
	if f.completeFn != nil {
		return f.completeFn(call, messages)
	}
	return "generated answer", 11, nil
}

func (f *fakeProvider) EmbeddingModel() string  { return "fake-embed" }
func (f *fakeProvider) GenerationModel() string { return "fake-gen" }

type fakeSearcher struct {
	results       []models.SearchResult
	err           error
	dim           int
	lastLimit     int
	lastThreshold float64
	lastVector    []float32
	lastFilter    map[string]any
}

func (f *fakeSearcher) Query(ctx context.Context, vector []float32, limit int, threshold float64, filter map[string]any) ([]models.SearchResult, error) {
	f.lastVector = vector
	f.lastLimit = limit
	f.lastThreshold = threshold
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSearcher) Dimension() int { return f.dim }

type fakeLedger struct {
	history        []models.ConversationTurn
	historyErr     error
	sessionID      string
	recordedUser   string
	recordedAnswer string
	userUsage      models.TurnUsage
	assistantUsage models.TurnUsage
	related        []models.RelatedDocument
}

func (f *fakeLedger) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeLedger) RecordExchange(ctx context.Context, sessionID, userMessage, assistantMessage string, userUsage, assistantUsage models.TurnUsage, related []models.RelatedDocument) string {
	f.recordedUser = userMessage
	f.recordedAnswer = assistantMessage
	f.userUsage = userUsage
	f.assistantUsage = assistantUsage
	f.related = related
	if sessionID != "" {
		return sessionID
	}
	return f.sessionID
}

func vector(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i) * 0.01
	}
	return v
}

func sampleResults() []models.SearchResult {
	return []models.SearchResult{
		{Score: 0.91, Payload: models.ChunkPayload{
			ChunkID:      "abc123-2-1",
			Level:        models.LevelParagraph,
			Text:         "Gophers tunnel extensively.",
			PageNumber:   2,
			DocumentName: "gophers.pdf",
			DocumentHash: "abc123",
		}},
		{Score: 0.55, Payload: models.ChunkPayload{
			ChunkID:      "abc123-4-2",
			Level:        models.LevelParagraph,
			Text:         "Their burrows aerate the soil.",
			PageNumber:   4,
			DocumentName: "gophers.pdf",
			DocumentHash: "abc123",
		}},
	}
}

func TestRefinerRewritesWithHistory(t *testing.T) {
	provider := &fakeProvider{
		completeFn: func(call int, messages []ai.Message) (string, int, error) {
			return "  gopher tunneling habits  ", 5, nil
		},
	}
	refiner := NewRefiner(provider)

	history := []models.ConversationTurn{
		{Role: models.RoleAssistant, Content: "They dig."},
		{Role: models.RoleUser, Content: "what do gophers do?"},
	}
	out := refiner.Refine(context.Background(), "and how deep?", history)

	assert.False(t, out.Degraded)
	assert.Equal(t, "gopher tunneling habits", out.Query)
	assert.Equal(t, 5, out.TokensUsed)

	// history arrives most-recent-first and must be replayed oldest-first
	require.GreaterOrEqual(t, len(provider.lastPrompt), 4)
	assert.Equal(t, "what do gophers do?", provider.lastPrompt[1].Content)
	assert.Equal(t, "They dig.", provider.lastPrompt[2].Content)
}

func TestRefinerFallsBackToRawQuery(t *testing.T) {
	provider := &fakeProvider{
		completeFn: func(call int, messages []ai.Message) (string, int, error) {
			return "", 0, errors.New("model unavailable")
		},
	}
	refiner := NewRefiner(provider)

	out := refiner.Refine(context.Background(), "original question", nil)

	assert.True(t, out.Degraded)
	assert.Equal(t, "original question", out.Query)
}

func TestRetrieveUsesDefaultsAndOverrides(t *testing.T) {
	provider := &fakeProvider{embedVec: vector(8)}
	store := &fakeSearcher{dim: 8, results: sampleResults()}
	r := NewRetriever(provider, store, RetrieverConfig{DefaultLimit: 10, DefaultThreshold: 0.35})

	_, tokens, err := r.Retrieve(context.Background(), "q", 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, tokens)
	assert.Equal(t, 10, store.lastLimit)
	assert.InDelta(t, 0.35, store.lastThreshold, 1e-9)

	override := 0.8
	filter := map[string]any{"must": []any{map[string]any{"key": "document_hash"}}}
	_, _, err = r.Retrieve(context.Background(), "q", 3, &override, filter)
	require.NoError(t, err)
	assert.Equal(t, 3, store.lastLimit)
	assert.InDelta(t, 0.8, store.lastThreshold, 1e-9)
	assert.Equal(t, filter, store.lastFilter, "filter passes through unmodified")
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	provider := &fakeProvider{embedVec: vector(8)}
	store := &fakeSearcher{dim: 8}
	r := NewRetriever(provider, store, RetrieverConfig{DefaultLimit: 10, DefaultThreshold: 0.35})

	results, _, err := r.Retrieve(context.Background(), "q", 0, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveDimensionMismatchIsFatal(t *testing.T) {
	provider := &fakeProvider{embedVec: vector(8)}
	store := &fakeSearcher{dim: 768}
	r := NewRetriever(provider, store, RetrieverConfig{DefaultLimit: 10, DefaultThreshold: 0.35})

	_, _, err := r.Retrieve(context.Background(), "q", 0, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, provider.embedCalls, "dimension mismatch must not be retried")
}

func TestRetrieveRetriesOnlyRateLimits(t *testing.T) {
	provider := &fakeProvider{
		embedVec:  vector(8),
		embedErrs: []error{ai.ErrRateLimited, ai.ErrRateLimited, nil},
	}
	store := &fakeSearcher{dim: 8, results: sampleResults()}
	r := NewRetriever(provider, store, RetrieverConfig{
		DefaultLimit:     10,
		DefaultThreshold: 0.35,
		RetryBackoff:     time.Millisecond,
	})

	results, _, err := r.Retrieve(context.Background(), "q", 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, provider.embedCalls)
	assert.Len(t, results, 2)
}

func TestRetrieveNonThrottleErrorPropagates(t *testing.T) {
	provider := &fakeProvider{embedErrs: []error{errors.New("bad request")}}
	store := &fakeSearcher{dim: 8}
	r := NewRetriever(provider, store, RetrieverConfig{DefaultLimit: 10, DefaultThreshold: 0.35})

	_, _, err := r.Retrieve(context.Background(), "q", 0, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, provider.embedCalls)
}

func TestRetrieveRetryStopsOnContextCancel(t *testing.T) {
	provider := &fakeProvider{embedErrs: []error{ai.ErrRateLimited, ai.ErrRateLimited, ai.ErrRateLimited}}
	store := &fakeSearcher{dim: 8}
	r := NewRetriever(provider, store, RetrieverConfig{
		DefaultLimit:     10,
		DefaultThreshold: 0.35,
		RetryBackoff:     time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := r.Retrieve(ctx, "q", 0, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSynthesizeGroundsPromptInPassages(t *testing.T) {
	provider := &fakeProvider{}
	s := NewSynthesizer(provider, SynthesizerConfig{MaxTokens: 512})

	out := s.Synthesize(context.Background(), "how deep do gophers dig?", sampleResults(), nil)

	assert.False(t, out.Degraded)
	assert.Equal(t, "generated answer", out.Answer)
	require.NotEmpty(t, provider.lastPrompt)
	system := provider.lastPrompt[0].Content
	assert.Contains(t, system, "Passage 1 (from gophers.pdf, page 2)")
	assert.Contains(t, system, "Gophers tunnel extensively.")
	assert.Contains(t, system, "Passage 2 (from gophers.pdf, page 4)")
}

func TestSynthesizeRetriesOnceOnThrottle(t *testing.T) {
	provider := &fakeProvider{
		completeFn: func(call int, messages []ai.Message) (string, int, error) {
			if call == 0 {
				return "", 0, ai.ErrRateLimited
			}
			return "second try answer", 9, nil
		},
	}
	s := NewSynthesizer(provider, SynthesizerConfig{MaxTokens: 512, RetryBackoff: time.Millisecond})

	out := s.Synthesize(context.Background(), "q", sampleResults(), nil)

	assert.False(t, out.Degraded)
	assert.Equal(t, "second try answer", out.Answer)
	assert.Equal(t, 2, provider.complCalls)
}

func TestSynthesizeDegradesToFallbackAnswer(t *testing.T) {
	provider := &fakeProvider{
		completeFn: func(call int, messages []ai.Message) (string, int, error) {
			return "", 0, ai.ErrRateLimited
		},
	}
	s := NewSynthesizer(provider, SynthesizerConfig{MaxTokens: 512, RetryBackoff: time.Millisecond})

	out := s.Synthesize(context.Background(), "q", sampleResults(), nil)

	assert.True(t, out.Degraded)
	assert.Equal(t, FallbackAnswer, out.Answer)
	assert.Equal(t, 2, provider.complCalls, "throttled generation is retried exactly once")
}

func TestChatPipelineHappyPath(t *testing.T) {
	provider := &fakeProvider{
		embedVec:    vector(8),
		embedTokens: 4,
		completeFn: func(call int, messages []ai.Message) (string, int, error) {
			// first call refines, second synthesizes
			if strings.Contains(messages[0].Content, "rewrite") || strings.Contains(messages[0].Content, "Rewrite") {
				return "refined query", 3, nil
			}
			return "final answer", 10, nil
		},
	}
	store := &fakeSearcher{dim: 8, results: sampleResults()}
	ledger := &fakeLedger{sessionID: "1700000000000_ab12cd34"}

	svc := NewService(
		provider,
		NewRefiner(provider),
		NewRetriever(provider, store, RetrieverConfig{DefaultLimit: 10, DefaultThreshold: 0.35}),
		NewSynthesizer(provider, SynthesizerConfig{MaxTokens: 512}),
		ledger,
		20,
	)

	resp, err := svc.Chat(context.Background(), ChatParams{Prompt: "how deep do gophers dig?"})
	require.NoError(t, err)

	assert.Equal(t, "refined query", resp.Query)
	assert.Equal(t, "final answer", resp.Answer)
	assert.Equal(t, "1700000000000_ab12cd34", resp.SessionID)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 4+3+10, resp.TokensUsed)

	require.Len(t, resp.RelatedDocuments, 2)
	assert.Equal(t, "gophers.pdf", resp.RelatedDocuments[0].Name)
	assert.Equal(t, "abc123-2-1", resp.RelatedDocuments[0].Locator)
	assert.InDelta(t, 0.91, resp.RelatedDocuments[0].Score, 1e-6)

	assert.Equal(t, "how deep do gophers dig?", ledger.recordedUser)
	assert.Equal(t, "final answer", ledger.recordedAnswer)
	assert.Equal(t, 4, ledger.userUsage.EmbeddingTokens)
	assert.Equal(t, "fake-embed", ledger.userUsage.EmbeddingModel)
	assert.Equal(t, 13, ledger.assistantUsage.GenerationTokens)
	assert.Equal(t, "fake-gen", ledger.assistantUsage.GenerationModel)
}

func TestChatSurfacesRetrievalFailure(t *testing.T) {
	provider := &fakeProvider{embedVec: vector(8)}
	store := &fakeSearcher{dim: 8, err: errors.New("store unreachable")}
	ledger := &fakeLedger{sessionID: "s"}

	svc := NewService(
		provider,
		NewRefiner(provider),
		NewRetriever(provider, store, RetrieverConfig{DefaultLimit: 10, DefaultThreshold: 0.35}),
		NewSynthesizer(provider, SynthesizerConfig{MaxTokens: 512}),
		ledger,
		20,
	)

	_, err := svc.Chat(context.Background(), ChatParams{Prompt: "q"})
	require.Error(t, err)
	assert.Empty(t, ledger.recordedUser, "failed requests are not persisted")
}

func TestChatToleratesHistoryFailure(t *testing.T) {
	provider := &fakeProvider{embedVec: vector(8)}
	store := &fakeSearcher{dim: 8, results: sampleResults()}
	ledger := &fakeLedger{sessionID: "s", historyErr: errors.New("db locked")}

	svc := NewService(
		provider,
		NewRefiner(provider),
		NewRetriever(provider, store, RetrieverConfig{DefaultLimit: 10, DefaultThreshold: 0.35}),
		NewSynthesizer(provider, SynthesizerConfig{MaxTokens: 512}),
		ledger,
		20,
	)

	resp, err := svc.Chat(context.Background(), ChatParams{Prompt: "q", SessionID: "existing"})
	require.NoError(t, err)
	assert.Equal(t, "existing", resp.SessionID)
}
