package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/user/threat-ingestor/internal/adapter/metrics"
)

// Dimensions of every vector this package produces, remote or fallback.
const Dimensions = 256

// Client computes text embeddings. The remote service is metered: before
// every call the quota manager is consulted, and on denial or on any remote
// failure the client degrades to a deterministic hash-based pseudo-
// embedding. Callers never observe an error from this path.
type Client struct {
	url     string
	apiKey  string
	quota   *QuotaManager
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
}

// NewClient creates the embedding client. An empty url disables the remote
// path entirely; every call then uses the deterministic fallback.
func NewClient(url, apiKey string, quota *QuotaManager, timeout time.Duration, logger *slog.Logger, m *metrics.PipelineMetrics) *Client {
	return &Client{
		url:     url,
		apiKey:  apiKey,
		quota:   quota,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "embedding_client"),
		metrics: m,
	}
}

// Embed returns a vector for the input text. The second return value
// reports whether the remote service produced it; false means the
// deterministic fallback was used (quota exhausted, service down, or no
// service configured).
func (c *Client) Embed(ctx context.Context, text string) ([]float32, bool) {
	if c.url == "" {
		return c.fallback(text), false
	}

	estimated := EstimateTokens(text)
	if !c.quota.Reserve(estimated) {
		c.logger.Debug("embedding quota exhausted, using deterministic fallback")
		return c.fallback(text), false
	}

	vector, err := c.callRemote(ctx, text)
	if err != nil {
		c.quota.Release(estimated)
		c.logger.Warn("embedding service call failed, using deterministic fallback", "error", err)
		return c.fallback(text), false
	}

	if c.metrics != nil {
		c.metrics.EmbeddingCalls.WithLabelValues("remote").Inc()
	}
	return vector, true
}

// EstimateTokens approximates the token cost of a text for quota
// accounting. Four bytes per token tracks the usual subword tokenizers
// closely enough for budgeting.
func EstimateTokens(text string) int64 {
	n := int64(len(text)) / 4
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Client) callRemote(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{"input": text})
	if err != nil {
		return nil, err
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
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return parsed.Embedding, nil
}

// fallback produces the deterministic hash-based pseudo-embedding: the same
// input always yields byte-identical output, with or without quota.
func (c *Client) fallback(text string) []float32 {
	if c.metrics != nil {
		c.metrics.EmbeddingCalls.WithLabelValues("fallback").Inc()
	}
	return PseudoEmbedding(text)
}

// PseudoEmbedding expands a SHA-256 chain over the input into a unit vector
// of Dimensions components. Purely a degraded-mode stand-in: it preserves
// determinism and exact-duplicate similarity, not semantics.
func PseudoEmbedding(text string) []float32 {
	vector := make([]float32, Dimensions)
	digest := sha256.Sum256([]byte(text))

	var norm float64
	for i := 0; i < Dimensions; i++ {
		if i%8 == 0 && i > 0 {
			digest = sha256.Sum256(digest[:])
		}
		bits := binary.BigEndian.Uint32(digest[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1).
		v := float64(bits)/float64(math.MaxUint32)*2 - 1
		vector[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}
	return vector
}

// CosineSimilarity compares two vectors of equal dimension; zero for a
// dimension mismatch.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
