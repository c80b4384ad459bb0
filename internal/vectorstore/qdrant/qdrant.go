package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pdfchat-backend/internal/logger"
	"pdfchat-backend/models"
)

// Client is a minimal REST client to Qdrant. It assumes cosine distance.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	http       *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Point is one (id, vector, payload) triple. ID must be a Qdrant point id
// (UUID); the chunk id lives in the payload.
type Point struct {
	ID      string              `json:"id"`
	Vector  []float32           `json:"vector"`
	Payload models.ChunkPayload `json:"payload"`
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		http:       &http.Client{Timeout: timeout},
	}
}

// Dimension returns the configured vector dimensionality.
func (c *Client) Dimension() int { return c.dimension }

// EnsureCollection creates the collection if missing. An existing
// collection whose stored dimension disagrees with dim is dropped and
// recreated; this is the only destructive operation performed at setup.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("invalid dimension")
	}
	c.dimension = dim

	existing, err := c.collectionDimension(ctx)
	if err != nil {
		return err
	}
	if existing == dim {
		return nil
	}
	if existing > 0 {
		logger.Warn("Collection dimension mismatch, recreating",
			"collection", c.collection, "stored", existing, "configured", dim)
		if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", c.collection), nil, nil); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", c.collection), body, nil); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// collectionDimension returns the stored vector size, or 0 when the
// collection does not exist.
func (c *Client) collectionDimension(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", c.collection), nil, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return 0, nil
		}
		return 0, err
	}
	return resp.Result.Config.Params.Vectors.Size, nil
}

// Upsert writes points by id. Deterministic ids make re-ingestion
// idempotent: the same chunk overwrites its previous vector.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", c.collection), body, nil)
}

// Query runs thresholded nearest-neighbor search. filter, when non-nil,
// is passed through unmodified as the Qdrant filter clause.
func (c *Client) Query(ctx context.Context, vector []float32, limit int, scoreThreshold float64, filter map[string]any) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	}
	if filter != nil {
		req["filter"] = filter
	}

	var resp struct {
		Result []struct {
			Score   float64             `json:"score"`
			Payload models.ChunkPayload `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", c.collection), req, &resp); err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, models.SearchResult{Score: r.Score, Payload: r.Payload})
	}
	return results, nil
}

// ScrollAll pages through stored points without a query vector.
func (c *Client) ScrollAll(ctx context.Context, limit int) ([]models.IndexEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries := make([]models.IndexEntry, 0, limit)
	var offset any

	for len(entries) < limit {
		req := map[string]any{
			"limit":        limit - len(entries),
			"with_payload": true,
		}
		if offset != nil {
			req["offset"] = offset
		}

		var resp struct {
			Result struct {
				Points []struct {
					ID      any                 `json:"id"`
					Payload models.ChunkPayload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", c.collection), req, &resp); err != nil {
			return nil, err
		}

		for _, p := range resp.Result.Points {
			entries = append(entries, models.IndexEntry{ID: fmt.Sprint(p.ID), Payload: p.Payload})
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	return entries, nil
}

// DeleteAll removes the given point ids.
func (c *Client) DeleteAll(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection), body, nil)
}

// Clear removes every point in the collection. Used before a full
// re-ingestion.
func (c *Client) Clear(ctx context.Context) error {
	body := map[string]any{"filter": map[string]any{}}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection), body, nil)
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant request failed: %s", e.status)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
