package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lballaty/myragdb/internal/embed"
	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/index"
	"github.com/lballaty/myragdb/internal/index/keyword"
	"github.com/lballaty/myragdb/internal/index/vector"
	"github.com/lballaty/myragdb/internal/rewrite"
	"github.com/lballaty/myragdb/internal/store"
)

const (
	// DefaultLimit applies when the caller leaves Options.Limit at zero.
	DefaultLimit = 20
	// MaxLimit bounds Options.Limit.
	MaxLimit = 100

	// fetchMultiplier over-fetches each backend so fusion has enough
	// overlap to rank from.
	fetchMultiplier = 3
)

// MetricRecorder receives per-query timing rows. *store.SQLiteStore
// satisfies it.
type MetricRecorder interface {
	RecordSearchMetric(ctx context.Context, m *store.SearchMetric) error
}

// Engine runs hybrid queries over the keyword and vector indexes.
type Engine struct {
	keyword  *keyword.Index
	vector   *vector.Index
	embedder embed.Embedder

	rewriter *rewrite.Rewriter
	metrics  MetricRecorder
	weightFn func(sourceID string) float64
	rrfK     int
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRewriter enables query rewriting before retrieval.
func WithRewriter(r *rewrite.Rewriter) Option {
	return func(e *Engine) { e.rewriter = r }
}

// WithMetrics records per-query timings to the given store.
func WithMetrics(m MetricRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSourceWeights supplies the priority multiplier per source.
// Unknown sources weigh 1.0.
func WithSourceWeights(fn func(sourceID string) float64) Option {
	return func(e *Engine) { e.weightFn = fn }
}

// WithRRFConstant overrides the RRF smoothing parameter.
func WithRRFConstant(k int) Option {
	return func(e *Engine) { e.rrfK = k }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine wires the retrieval backends together.
func NewEngine(kw *keyword.Index, vec *vector.Index, embedder embed.Embedder, opts ...Option) *Engine {
	e := &Engine{
		keyword:  kw,
		vector:   vec,
		embedder: embedder,
		rrfK:     DefaultRRFConstant,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search executes one query.
//
// In hybrid mode a single failing backend degrades to the other side's
// results with a warning; both failing yields an empty result list, not
// an error. Single-backend modes surface their backend's error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	started := time.Now()

	// A blank query matches nothing; it is not an input error.
	if strings.TrimSpace(query) == "" {
		return []*Result{}, nil
	}

	limit := opts.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, ragerr.New(ragerr.ErrCodeInvalidLimit,
			fmt.Sprintf("limit %d is out of range 1..%d", opts.Limit, MaxLimit), nil)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	switch mode {
	case ModeHybrid, ModeKeyword, ModeSemantic:
	default:
		return nil, ragerr.New(ragerr.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown search mode %q", mode), nil)
	}

	keywordText := query
	semanticText := query
	rewrittenText := ""
	if e.rewriter != nil && !opts.DisableRewrite {
		rw := e.rewriter.Rewrite(ctx, query)
		keywordText = rw.Keywords
		semanticText = rw.SemanticIntent
		if rw.Rewritten {
			rewrittenText = rw.Keywords
		}
		// Model-suggested filters never override the caller's.
		if len(opts.Extensions) == 0 {
			opts.Extensions = rw.Filters.Extensions
		}
		if len(opts.FolderNames) == 0 && rw.Filters.FolderName != "" {
			opts.FolderNames = []string{rw.Filters.FolderName}
		}
		if len(opts.Languages) == 0 {
			opts.Languages = rw.Filters.Languages
		}
		if len(opts.ContentTypes) == 0 {
			opts.ContentTypes = rw.Filters.ContentTypes
		}
	}

	fetch := limit * fetchMultiplier

	var (
		kwHits     []*keyword.Result
		vecHits    []*vector.Result
		kwErr      error
		vecErr     error
		keywordMS  int64
		vectorMS   int64
		runKeyword = mode != ModeSemantic
		runVector  = mode != ModeKeyword
	)

	g, gctx := errgroup.WithContext(ctx)

	if runKeyword {
		g.Go(func() error {
			t := time.Now()
			kwHits, kwErr = e.keyword.Search(gctx, keywordText, keyword.Filters{
				SourceIDs:    opts.SourceIDs,
				Repositories: opts.Repositories,
				FolderNames:  opts.FolderNames,
				Extensions:   opts.Extensions,
				Languages:    opts.Languages,
				ContentTypes: opts.ContentTypes,
			}, fetch)
			keywordMS = time.Since(t).Milliseconds()
			return nil
		})
	}

	if runVector {
		g.Go(func() error {
			t := time.Now()
			vecHits, vecErr = e.vectorSearch(gctx, semanticText, opts, fetch)
			vectorMS = time.Since(t).Milliseconds()
			return nil
		})
	}

	// The goroutines capture their own errors so one backend failing
	// never cancels the other.
	_ = g.Wait()

	if kwErr != nil {
		if mode == ModeKeyword {
			return nil, kwErr
		}
		e.logger.Warn("keyword_search_failed",
			slog.String("query", query),
			slog.String("error", kwErr.Error()))
		kwHits = nil
	}
	if vecErr != nil {
		if mode == ModeSemantic {
			return nil, vecErr
		}
		e.logger.Warn("vector_search_failed",
			slog.String("query", query),
			slog.String("error", vecErr.Error()))
		vecHits = nil
	}

	fused := newFuser(e.rrfK).fuse(kwHits, vecHits)

	results, err := e.hydrate(ctx, fused, opts)
	if err != nil {
		return nil, err
	}

	e.applyWeights(results)
	sortResults(results)

	if opts.MinScore > 0 {
		results = filterMinScore(results, opts.MinScore)
	}
	if len(results) > limit {
		results = results[:limit]
	}

	e.recordMetric(ctx, &store.SearchMetric{
		Query:       query,
		Rewritten:   rewrittenText,
		Limit:       limit,
		ResultCount: len(results),
		KeywordMS:   keywordMS,
		VectorMS:    vectorMS,
		TotalMS:     time.Since(started).Milliseconds(),
	})

	return results, nil
}

// vectorSearch embeds the semantic intent and queries the graph. Source
// filtering happens here; language and content-type filters need stored
// fields and apply during hydration.
func (e *Engine) vectorSearch(ctx context.Context, text string, opts Options, fetch int) ([]*vector.Result, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	hits, err := e.vector.Search(ctx, vec, fetch)
	if err != nil {
		return nil, err
	}

	if len(opts.SourceIDs) == 0 {
		return hits, nil
	}

	allowed := make(map[string]struct{}, len(opts.SourceIDs))
	for _, id := range opts.SourceIDs {
		allowed[id] = struct{}{}
	}
	filtered := hits[:0]
	for _, h := range hits {
		if _, ok := allowed[h.SourceID]; ok {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}

// hydrate fills document fields, preferring the keyword hit's values.
// Vector-only documents are fetched from the keyword store and must
// still pass the language and content-type filters the keyword query
// already enforced on its side.
func (e *Engine) hydrate(ctx context.Context, fused []*fusedResult, opts Options) ([]*Result, error) {
	var missing []string
	for _, f := range fused {
		if f.Keyword == nil {
			missing = append(missing, f.DocID)
		}
	}

	var fetched map[string]*keyword.Result
	if len(missing) > 0 {
		var err error
		fetched, err = e.keyword.FetchDocs(ctx, missing)
		if err != nil {
			e.logger.Warn("hydrate_fetch_failed", slog.String("error", err.Error()))
			fetched = map[string]*keyword.Result{}
		}
	}

	results := make([]*Result, 0, len(fused))
	for _, f := range fused {
		hit := f.Keyword
		if hit == nil {
			hit = fetched[f.DocID]
		}

		r := &Result{
			DocID:        f.DocID,
			SourceID:     f.SourceID,
			Score:        f.RRFScore,
			KeywordScore: f.KeywordScore,
			VectorScore:  f.VectorScore,
			InBoth:       f.InBoth,
		}
		if hit != nil {
			r.Path = hit.Path
			r.FileName = hit.FileName
			r.FolderName = hit.FolderName
			r.Extension = hit.Extension
			r.Repository = hit.Repository
			r.Language = hit.Language
			r.ContentType = hit.ContentType
			r.Snippet = hit.Snippet
			r.MatchedTerms = hit.MatchedTerms
			if r.SourceID == "" {
				r.SourceID = hit.SourceID
			}
		}

		// A vector-only hit bypassed the keyword-side filters.
		if f.Keyword == nil && !matchesFilters(r, opts) {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func matchesFilters(r *Result, opts Options) bool {
	return containsOrEmpty(opts.Repositories, r.Repository) &&
		containsOrEmpty(opts.FolderNames, r.FolderName) &&
		containsOrEmpty(normalizeExtensions(opts.Extensions), r.Extension) &&
		containsOrEmpty(opts.Languages, r.Language) &&
		containsOrEmpty(opts.ContentTypes, r.ContentType)
}

func normalizeExtensions(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = index.NormalizeExtension(v)
	}
	return out
}

func containsOrEmpty(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// applyWeights multiplies scores by each source's priority weight.
func (e *Engine) applyWeights(results []*Result) {
	if e.weightFn == nil {
		return
	}
	for _, r := range results {
		if w := e.weightFn(r.SourceID); w > 0 {
			r.Score *= w
		}
	}
}

func sortResults(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InBoth != b.InBoth {
			return a.InBoth
		}
		if a.KeywordScore != b.KeywordScore {
			return a.KeywordScore > b.KeywordScore
		}
		return a.DocID < b.DocID
	})
}

func filterMinScore(results []*Result, min float64) []*Result {
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= min {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func (e *Engine) recordMetric(ctx context.Context, m *store.SearchMetric) {
	if e.metrics == nil {
		return
	}
	if err := e.metrics.RecordSearchMetric(ctx, m); err != nil {
		e.logger.Debug("search_metric_failed", slog.String("error", err.Error()))
	}
}
