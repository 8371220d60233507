// Package embedding talks to an OpenAI-compatible embeddings endpoint and
// caches vectors in the key-value store.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/adapters/retry"
	"github.com/mira-ai/mira/internal/ports"
)

const (
	// embedTimeout is the maximum time to wait for embedding generation.
	embedTimeout = 30 * time.Second
	// cacheTTL bounds staleness of cached vectors. The model is fixed per
	// deployment, so cached vectors never go wrong, only cold.
	cacheTTL = 15 * time.Minute

	queryCachePrefix = "embedding_768_query:"
	docCachePrefix   = "embedding_768_doc:"
)

// Client encodes text into 768-dim vectors. Realtime encodings serve
// interactive queries; deep encodings serve stored documents. Both flow
// through a msgpack cache keyed by SHA-256 of the text.
type Client struct {
	baseURL       string
	apiKey        string
	realtimeModel string
	deepModel     string
	dimensions    int
	httpClient    *http.Client
	retryConfig   retry.BackoffConfig
	cache         ports.BinaryKVStore
	logger        *slog.Logger
}

// NewClient creates an embedding client. cache may be nil, which disables
// caching but not encoding.
func NewClient(baseURL, apiKey, realtimeModel, deepModel string, dimensions int, cache ports.BinaryKVStore, logger *slog.Logger) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if logger == nil {
		logger = slog.Default()
	}
	if deepModel == "" {
		deepModel = realtimeModel
	}

	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		realtimeModel: realtimeModel,
		deepModel:     deepModel,
		dimensions:    dimensions,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryConfig: retry.HTTPConfig(),
		cache:       cache,
		logger:      logger,
	}
}

// embedRequest is the request to the embeddings API.
type embedRequest struct {
	Input any    `json:"input"` // string or []string
	Model string `json:"model"`
}

// embedResponse is the response from the embeddings API.
type embedResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EncodeRealtime encodes one query text.
func (c *Client) EncodeRealtime(ctx context.Context, text string) ([]float32, error) {
	return c.encodeOne(ctx, queryCachePrefix, c.realtimeModel, text)
}

// EncodeDeep encodes one document text.
func (c *Client) EncodeDeep(ctx context.Context, text string) ([]float32, error) {
	return c.encodeOne(ctx, docCachePrefix, c.deepModel, text)
}

// EncodeRealtimeBatch encodes several query texts, filling cache misses with
// a single upstream call.
func (c *Client) EncodeRealtimeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vector, ok := c.cacheGet(ctx, queryCachePrefix, text); ok {
			results[i] = vector
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	vectors, err := c.embedBatch(ctx, c.realtimeModel, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		results[i] = vectors[j]
		c.cachePut(ctx, queryCachePrefix, texts[i], vectors[j])
	}
	return results, nil
}

// Dimensions returns the dimensionality of the embeddings.
func (c *Client) Dimensions() int {
	return c.dimensions
}

func (c *Client) encodeOne(ctx context.Context, prefix, model, text string) ([]float32, error) {
	if vector, ok := c.cacheGet(ctx, prefix, text); ok {
		return vector, nil
	}

	vectors, err := c.embedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	c.cachePut(ctx, prefix, text, vectors[0])
	return vectors[0], nil
}

func (c *Client) cacheGet(ctx context.Context, prefix, text string) ([]float32, bool) {
	if c.cache == nil {
		return nil, false
	}
	var vector []float32
	hit, err := c.cache.GetBinary(ctx, prefix+hashText(text), &vector)
	if err != nil {
		c.logger.Warn("embedding cache read failed", "error", err)
		return nil, false
	}
	return vector, hit
}

func (c *Client) cachePut(ctx context.Context, prefix, text string, vector []float32) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetBinary(ctx, prefix+hashText(text), vector, cacheTTL); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// curlExample returns a curl command for debugging embedding requests.
func (c *Client) curlExample(model string) string {
	authHeader := ""
	if c.apiKey != "" {
		authHeader = fmt.Sprintf(` -H "Authorization: Bearer %s"`, c.apiKey)
	}
	return fmt.Sprintf(
		`curl -X POST "%s/v1/embeddings" -H "Content-Type: application/json"%s -d '{"input": "test", "model": "%s"}'`,
		c.baseURL, authHeader, model,
	)
}

func (c *Client) embedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	req := embedRequest{Model: model}
	if len(texts) == 1 {
		req.Input = texts[0]
	} else {
		req.Input = texts
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	var respBody []byte
	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return 0, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("embeddings API %s: %s", resp.Status, string(respBody))
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		c.logger.Error("embedding request failed", "model", model, "error", err)
		return nil, fmt.Errorf("%w (debug: %s)", err, c.curlExample(model))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, data := range parsed.Data {
		if c.dimensions > 0 && len(data.Embedding) != c.dimensions {
			return nil, fmt.Errorf("expected %d dimensions but got %d", c.dimensions, len(data.Embedding))
		}
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}
