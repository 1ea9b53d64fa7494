package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/user/threat-ingestor/internal/domain"
)

// Extraction is one per-item result from the inference service: the place
// name it extracted from the text, with coordinates when the model provided
// them.
type Extraction struct {
	ItemID    string   `json:"item_id"`
	Place     string   `json:"place"`
	City      string   `json:"city,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Client calls the external inference service for ambiguous location
// extraction, one HTTP call per flushed batch, protected by the circuit
// breaker.
type Client struct {
	url     string
	apiKey  string
	breaker *Breaker
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates the inference client.
func NewClient(url, apiKey string, breaker *Breaker, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		apiKey:  apiKey,
		breaker: breaker,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "inference_client"),
	}
}

type extractRequest struct {
	Items []extractItem `json:"items"`
}

type extractItem struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
}

type extractResponse struct {
	Results []Extraction `json:"results"`
}

// ExtractBatch sends one batch of text excerpts for location extraction.
// When the breaker is open it returns ErrBreakerOpen immediately, without
// any network attempt; callers degrade to deterministic-only resolution.
func (c *Client) ExtractBatch(ctx context.Context, items []domain.LocationBatchItem) (map[string]Extraction, error) {
	if len(items) == 0 {
		return map[string]Extraction{}, nil
	}

	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	results, err := c.call(ctx, items)
	if err != nil {
		c.breaker.Failure()
		return nil, err
	}

	c.breaker.Success()
	return results, nil
}

func (c *Client) call(ctx context.Context, items []domain.LocationBatchItem) (map[string]Extraction, error) {
	reqBody := extractRequest{Items: make([]extractItem, 0, len(items))}
	for _, item := range items {
		reqBody.Items = append(reqBody.Items, extractItem{ItemID: item.ItemID, Text: item.TextExcerpt})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}

	results := make(map[string]Extraction, len(parsed.Results))
	for _, r := range parsed.Results {
		results[r.ItemID] = r
	}
	return results, nil
}
