// Package knowledge persists and retrieves semantic memories. Admission
// is gated by the WAMA scorer: content is embedded and upserted into the
// vector store only when the scorer does not reject it, so no embedding
// credits are spent on content that would fade anyway.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oogalieboogalie/ThinkSpace/internal/httpkit"
)

// qdrantClient is a minimal REST client for the Qdrant HTTP API.
type qdrantClient struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

func newQdrantClient(rawURL, apiKey, collection string) *qdrantClient {
	base := strings.TrimSuffix(rawURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &qdrantClient{
		baseURL:    base,
		apiKey:     apiKey,
		collection: collection,
		client: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
		),
	}
}

// do sends a JSON request to the Qdrant API and decodes the response
// into out when out is non-nil.
func (q *qdrantClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("Api-Key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("vector store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return resp.StatusCode, fmt.Errorf("vector store returned status %d: %s", resp.StatusCode, errBody)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	} else {
		httpkit.DrainAndClose(resp.Body, 4096)
	}

	return resp.StatusCode, nil
}

// ensureCollection creates the collection (Cosine distance) and a
// keyword payload index on user_id so searches can be owner-scoped.
// Both calls are idempotent: an already-exists conflict is not an error.
func (q *qdrantClient) ensureCollection(ctx context.Context, vectorSize int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	status, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection, body, nil)
	if err != nil && status != http.StatusConflict {
		return fmt.Errorf("create collection: %w", err)
	}

	indexBody := map[string]any{
		"field_name":   "user_id",
		"field_schema": "keyword",
	}
	status, err = q.do(ctx, http.MethodPut, "/collections/"+q.collection+"/index", indexBody, nil)
	if err != nil && status != http.StatusConflict {
		return fmt.Errorf("create user_id index: %w", err)
	}

	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (q *qdrantClient) upsert(ctx context.Context, points []qdrantPoint) error {
	body := map[string]any{"points": points}
	if _, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection+"/points", body, nil); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

type qdrantHit struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// search runs a vector similarity query with a must-match filter on
// user_id, so one user's memories never surface for another.
func (q *qdrantClient) search(ctx context.Context, vector []float32, limit int, userID string) ([]qdrantHit, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "user_id", "match": map[string]any{"value": userID}},
			},
		},
	}

	var resp struct {
		Result []qdrantHit `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/search", body, &resp); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	return resp.Result, nil
}
