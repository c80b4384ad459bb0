package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat-backend/models"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{URL: srv.URL, APIKey: "secret", Collection: "pdf_chunks"})
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			assert.Equal(t, "/collections/pdf_chunks", r.URL.Path)
			created = decodeBody(t, r)
			w.Write([]byte(`{"result": true}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.EnsureCollection(context.Background(), 768))
	assert.Equal(t, 768, c.Dimension())

	require.NotNil(t, created)
	vectors := created["vectors"].(map[string]any)
	assert.Equal(t, float64(768), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestEnsureCollectionKeepsMatchingCollection(t *testing.T) {
	var puts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":768}}}}}`))
		case http.MethodPut, http.MethodDelete:
			puts++
			w.Write([]byte(`{"result": true}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.EnsureCollection(context.Background(), 768))
	assert.Zero(t, puts, "matching collection must be left untouched")
}

func TestEnsureCollectionRecreatesOnDimensionMismatch(t *testing.T) {
	var deleted, created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":384}}}}}`))
		case http.MethodDelete:
			deleted = true
			w.Write([]byte(`{"result": true}`))
		case http.MethodPut:
			created = true
			w.Write([]byte(`{"result": true}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.EnsureCollection(context.Background(), 768))
	assert.True(t, deleted)
	assert.True(t, created)
}

func TestUpsertSendsPointsWithWait(t *testing.T) {
	var path, rawQuery, apiKey string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		rawQuery = r.URL.RawQuery
		apiKey = r.Header.Get("api-key")
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.Upsert(context.Background(), []Point{{
		ID:      "8a2b6c1e-0000-5000-8000-000000000001",
		Vector:  []float32{0.1, 0.2},
		Payload: models.ChunkPayload{ChunkID: "deadbeef-1-1", Level: models.LevelParagraph},
	}})
	require.NoError(t, err)

	assert.Equal(t, "/collections/pdf_chunks/points", path)
	assert.Equal(t, "wait=true", rawQuery)
	assert.Equal(t, "secret", apiKey)

	points := body["points"].([]any)
	require.Len(t, points, 1)
	payload := points[0].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, "deadbeef-1-1", payload["chunk_id"])
}

func TestUpsertSkipsEmptyBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.Upsert(context.Background(), nil))
}

func TestQuerySendsThresholdAndFilter(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/pdf_chunks/points/search", r.URL.Path)
		body = decodeBody(t, r)
		w.Write([]byte(`{"result":[
			{"score":0.91,"payload":{"chunk_id":"deadbeef-2-1","level":"paragraph","text":"Gophers dig.","page_number":2}},
			{"score":0.55,"payload":{"chunk_id":"deadbeef-4-2","level":"paragraph","text":"Burrows aerate.","page_number":4}}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	results, err := c.Query(context.Background(), []float32{0.1, 0.2}, 5, 0.35,
		map[string]any{"must": []any{map[string]any{"key": "document_hash", "match": map[string]any{"value": "deadbeef"}}}})
	require.NoError(t, err)

	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, 0.35, body["score_threshold"])
	assert.Equal(t, true, body["with_payload"])
	assert.Contains(t, body, "filter")

	require.Len(t, results, 2)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)
	assert.Equal(t, "deadbeef-2-1", results[0].Payload.ChunkID)
	assert.Equal(t, 2, results[0].Payload.PageNumber)
}

func TestQueryOmitsFilterWhenNil(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	results, err := c.Query(context.Background(), []float32{0.1}, 0, 0.35, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotContains(t, body, "filter")
	assert.Equal(t, float64(10), body["limit"], "non-positive limit falls back to the default")
}

func TestScrollAllFollowsNextPageOffset(t *testing.T) {
	var offsets []any
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/pdf_chunks/points/scroll", r.URL.Path)
		body := decodeBody(t, r)
		offsets = append(offsets, body["offset"])
		page++
		if page == 1 {
			w.Write([]byte(`{"result":{"points":[{"id":"a","payload":{"chunk_id":"deadbeef-1-1"}}],"next_page_offset":"cursor-2"}}`))
			return
		}
		w.Write([]byte(`{"result":{"points":[{"id":"b","payload":{"chunk_id":"deadbeef-1-2"}}],"next_page_offset":null}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	entries, err := c.ScrollAll(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "deadbeef-1-2", entries[1].Payload.ChunkID)

	require.Len(t, offsets, 2)
	assert.Nil(t, offsets[0])
	assert.Equal(t, "cursor-2", offsets[1])
}

func TestDeleteAllSendsPointIDs(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/pdf_chunks/points/delete", r.URL.Path)
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.DeleteAll(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []any{"a", "b"}, body["points"])

	require.NoError(t, c.DeleteAll(context.Background(), nil), "empty id list is a no-op")
}

func TestClearDeletesByEmptyFilter(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/pdf_chunks/points/delete", r.URL.Path)
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.Clear(context.Background()))
	assert.Equal(t, map[string]any{}, body["filter"])
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.Query(context.Background(), []float32{0.1}, 5, 0.35, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
