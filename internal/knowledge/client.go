package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// HTTPClient is the transport contract, injectable for tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const clientTimeout = 20 * time.Second

// Client talks to the vector-store sidecar over its REST interface.
type Client struct {
	baseURL    string
	httpClient HTTPClient
}

// NewClient creates a sidecar-backed knowledge base.
func NewClient(baseURL string, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: clientTimeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

type queryRequest struct {
	QueryText string `json:"query_text"`
	NResults  int    `json:"n_results"`
}

type queryResponse struct {
	Documents []Document `json:"documents"`
}

type upsertRequest struct {
	Documents []Document `json:"documents"`
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create knowledge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("knowledge request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode knowledge response: %w", err)
	}
	return nil
}

// Query returns up to limit documents from a collection ranked by similarity.
func (c *Client) Query(ctx context.Context, collection, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 3
	}
	var result queryResponse
	path := "/collections/" + url.PathEscape(collection) + "/query"
	if err := c.post(ctx, path, queryRequest{QueryText: query, NResults: limit}, &result); err != nil {
		return nil, err
	}
	return result.Documents, nil
}

// Store upserts documents into a collection.
func (c *Client) Store(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	path := "/collections/" + url.PathEscape(collection) + "/upsert"
	return c.post(ctx, path, upsertRequest{Documents: docs}, nil)
}

// BuildContext aggregates per-collection hits into a prompt block.
func (c *Client) BuildContext(ctx context.Context, topic string, limitPerCollection int) (string, error) {
	return buildContext(ctx, c, topic, limitPerCollection)
}

// IngestEpisode stores a finished episode's summary and guest opinions so
// later shows can refer back to them.
func (c *Client) IngestEpisode(ctx context.Context, ep *podcast.Episode) error {
	archive, opinions := episodeDocuments(ep)
	if err := c.Store(ctx, CollectionHistoryArchive, archive); err != nil {
		return err
	}
	return c.Store(ctx, CollectionExpertOpinions, opinions)
}

// Noop is the knowledge base used when no sidecar is configured: queries
// return nothing and writes succeed silently.
type Noop struct{}

func (Noop) Query(context.Context, string, string, int) ([]Document, error) { return nil, nil }
func (Noop) Store(context.Context, string, []Document) error                { return nil }
func (Noop) BuildContext(context.Context, string, int) (string, error)      { return "", nil }
func (Noop) IngestEpisode(context.Context, *podcast.Episode) error          { return nil }
