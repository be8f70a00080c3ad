// Package rewrite turns raw user queries into structured search input
// with a small local language model.
//
// Rewriting is strictly best-effort: when the model server is down,
// slow, or returns garbage, the original query text is used for both
// the keyword and semantic sides. A failed rewrite never fails the
// search.
package rewrite

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

	"github.com/lballaty/myragdb/internal/config"
	ragerr "github.com/lballaty/myragdb/internal/errors"
)

// Filters are structured constraints the model extracted from the
// query ("go code under handlers" yields extension go and folder
// handlers).
type Filters struct {
	Extensions   []string `json:"extensions,omitempty"`
	FolderName   string   `json:"folder_name,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
}

// Result is the structured form of a query.
type Result struct {
	// Keywords feeds the BM25 side.
	Keywords string `json:"keywords"`
	// SemanticIntent feeds the embedding side.
	SemanticIntent string `json:"semantic_intent"`
	// Filters narrow both sides.
	Filters Filters `json:"filters"`
	// Rewritten is false when the fallback was used.
	Rewritten bool `json:"-"`
}

// Rewriter calls an OpenAI-style chat completions endpoint.
type Rewriter struct {
	cfg     config.RewriteConfig
	client  *http.Client
	breaker *ragerr.CircuitBreaker
	logger  *slog.Logger
}

const systemPrompt = `You rewrite code search queries. Respond with ONLY a JSON object:
{"keywords": "space separated search terms", "semantic_intent": "one sentence describing what the user wants", "filters": {"extensions": [], "folder_name": null, "languages": [], "content_types": []}}
Allowed content_types: code, markdown, text, config. Extensions are lowercase without a dot. Use lowercase language names. Leave filters empty unless the query names them explicitly.`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// New creates a rewriter from config. A nil logger uses the default.
func New(cfg config.RewriteConfig, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Rewriter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		breaker: ragerr.NewCircuitBreaker("query-rewrite"),
		logger:  logger,
	}
}

// Rewrite returns the structured form of query. It never returns an
// error; any failure falls back to the query text itself.
func (r *Rewriter) Rewrite(ctx context.Context, query string) *Result {
	if !r.cfg.Enabled || strings.TrimSpace(query) == "" {
		return fallback(query)
	}

	result, err := ragerr.ExecuteWithFallback(r.breaker,
		func() (*Result, error) { return r.callModel(ctx, query) },
		func() (*Result, error) {
			return nil, ragerr.New(ragerr.ErrCodeRewriteUnavailable,
				"rewrite model unavailable", ragerr.ErrCircuitOpen)
		})
	if err != nil {
		r.logger.Debug("query_rewrite_fallback",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return fallback(query)
	}
	return result
}

func (r *Rewriter) callModel(ctx context.Context, query string) (*Result, error) {
	body, err := json.Marshal(chatRequest{
		Model: r.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: query},
		},
		Temperature: r.cfg.Temperature,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rewrite request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rewrite request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rewrite request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode rewrite response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("rewrite response has no choices")
	}

	result, err := parseModelOutput(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	// An empty rewrite is useless; keep the original terms.
	if strings.TrimSpace(result.Keywords) == "" {
		result.Keywords = query
	}
	if strings.TrimSpace(result.SemanticIntent) == "" {
		result.SemanticIntent = query
	}
	result.Rewritten = true
	return result, nil
}

// parseModelOutput extracts the JSON object from model text, tolerating
// code fences and surrounding chatter.
func parseModelOutput(content string) (*Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("rewrite response is not JSON: %q", content)
	}

	var result Result
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("parse rewrite JSON: %w", err)
	}
	return &result, nil
}

func fallback(query string) *Result {
	return &Result{
		Keywords:       query,
		SemanticIntent: query,
	}
}
