package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	ragerr "github.com/lballaty/myragdb/internal/errors"
)

const (
	ollamaRequestTimeout = 60 * time.Second
	ollamaProbeTimeout   = 5 * time.Second
)

// OllamaConfig configures the Ollama-backed embedder.
type OllamaConfig struct {
	// Host is the Ollama API base URL.
	Host string
	// Model is the embedding model name.
	Model string
	// Dimensions overrides auto-detection when non-zero.
	Dimensions int
	// BatchSize caps texts per API call.
	BatchSize int
}

// OllamaEmbedder generates embeddings through Ollama's /api/embed.
// A circuit breaker fails calls fast once the server stops responding,
// so indexing runs surface one clear error instead of per-batch
// timeouts.
type OllamaEmbedder struct {
	client  *http.Client
	config  OllamaConfig
	breaker *ragerr.CircuitBreaker

	mu     sync.RWMutex
	closed bool
	dims   int
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaEmbedder creates the embedder and probes the server once to
// detect the embedding width.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Model == "" {
		return nil, ragerr.New(ragerr.ErrCodeConfigInvalid, "ollama embedder requires a model name", nil)
	}

	e := &OllamaEmbedder{
		client:  &http.Client{Timeout: ollamaRequestTimeout},
		config:  cfg,
		breaker: ragerr.NewCircuitBreaker("ollama-embed"),
		dims:    cfg.Dimensions,
	}

	if e.dims == 0 {
		dims, err := e.detectDimensions(ctx)
		if err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeEmbedUnavailable, err).
				WithDetail("host", cfg.Host).
				WithDetail("model", cfg.Model).
				WithSuggestion("check that Ollama is running and the model is pulled")
		}
		e.dims = dims
	}

	return e, nil
}

// detectDimensions embeds a probe text and measures the result width.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, ollamaRequestTimeout)
	defer cancel()

	embeddings, err := e.callEmbed(probeCtx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned by %s", e.config.Model)
	}
	return len(embeddings[0]), nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// Empty texts become zero vectors locally; only real text goes to
	// the API.
	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+e.config.BatchSize, len(pending))
		batch := pending[start:end]
		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		embeddings, err := ragerr.ExecuteWithFallback(e.breaker,
			func() ([][]float32, error) {
				return e.callEmbed(ctx, batchTexts)
			},
			func() ([][]float32, error) {
				return nil, ragerr.New(ragerr.ErrCodeEmbedUnavailable,
					"embedding server unavailable", ragerr.ErrCircuitOpen).
					WithDetail("host", e.config.Host)
			})
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(embeddings))
		}

		for i, emb := range embeddings {
			results[batch[i]] = emb
		}
	}

	return results, nil
}

// callEmbed performs one /api/embed request.
func (e *OllamaEmbedder) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		embeddings[i] = normalize(vec)
	}
	return embeddings, nil
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }

func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Available probes /api/tags with a short timeout.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
