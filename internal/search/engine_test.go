package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lballaty/myragdb/internal/embed"
	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/index"
	"github.com/lballaty/myragdb/internal/index/keyword"
	"github.com/lballaty/myragdb/internal/index/vector"
	"github.com/lballaty/myragdb/internal/store"
)

func testDoc(sourceID, path, language, contentType, content string) *index.Document {
	fileName, dirPath, folderName := index.SplitPath(path)
	return &index.Document{
		ID:            index.DocumentID(sourceID, path),
		SourceID:      sourceID,
		Path:          path,
		FileName:      fileName,
		DirectoryPath: dirPath,
		FolderName:    folderName,
		Extension:     index.PathExtension(path),
		Language:      language,
		ContentType:   contentType,
		Content:       content,
	}
}

func testCorpus() []*index.Document {
	return []*index.Document{
		testDoc("src-a", "net/dial.go", "go", "code",
			"func dialTCPSocket opens a tcp socket connection to the remote network address"),
		testDoc("src-a", "http/header.go", "go", "code",
			"func parseHTTPHeader parses the http request header fields into a map"),
		testDoc("src-b", "docs/watcher.md", "", "markdown",
			"the filesystem watcher debounces change events before reindexing files"),
	}
}

// newTestEngine builds an engine over in-memory indexes with the static
// embedder, indexing docs on both sides.
func newTestEngine(t *testing.T, docs []*index.Document, opts ...Option) *Engine {
	t.Helper()
	ctx := context.Background()

	kw, err := keyword.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	vec, err := vector.New(vector.Config{Dimensions: embed.StaticDimensions})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	embedder := embed.NewStaticEmbedder()

	require.NoError(t, kw.Index(ctx, docs))
	for _, doc := range docs {
		chunks := index.ChunkDocument(doc, index.DefaultChunkSize)
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		require.NoError(t, err)
		require.NoError(t, vec.Add(ctx, doc.SourceID, chunks, vectors))
	}

	return NewEngine(kw, vec, embedder, opts...)
}

func TestSearch_EmptyQueryYieldsNoResults(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	hits, err := e.Search(context.Background(), "   ", Options{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_LimitOutOfRangeRejected(t *testing.T) {
	e := newTestEngine(t, testCorpus())
	ctx := context.Background()

	_, err := e.Search(ctx, "socket", Options{Limit: -1})
	assert.Equal(t, ragerr.ErrCodeInvalidLimit, ragerr.GetCode(err))

	_, err = e.Search(ctx, "socket", Options{Limit: MaxLimit + 1})
	assert.Equal(t, ragerr.ErrCodeInvalidLimit, ragerr.GetCode(err))

	// Zero means the default.
	results, err := e.Search(ctx, "socket", Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestSearch_UnknownModeRejected(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	_, err := e.Search(context.Background(), "socket", Options{Mode: "fuzzy"})
	assert.Equal(t, ragerr.ErrCodeInvalidQuery, ragerr.GetCode(err))
}

func TestSearch_HybridHydratesResults(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	results, err := e.Search(context.Background(), "tcp socket connection", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	assert.Equal(t, "net/dial.go", top.Path)
	assert.Equal(t, "src-a", top.SourceID)
	assert.Equal(t, "go", top.Language)
	assert.Equal(t, "code", top.ContentType)
	assert.NotEmpty(t, top.Snippet)
	assert.True(t, top.InBoth)
	assert.Greater(t, top.KeywordScore, 0.0)
	assert.Greater(t, top.VectorScore, 0.0)
}

func TestSearch_KeywordModeSkipsVectorSide(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	results, err := e.Search(context.Background(), "parseHTTPHeader", Options{Mode: ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Zero(t, r.VectorScore)
		assert.False(t, r.InBoth)
	}
	assert.Equal(t, "http/header.go", results[0].Path)
}

func TestSearch_SemanticModeSkipsKeywordSide(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	results, err := e.Search(context.Background(), "watcher debounces change events", Options{Mode: ModeSemantic})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Zero(t, r.KeywordScore)
	}
	// Semantic-only hits still hydrate from the keyword store.
	assert.Equal(t, "docs/watcher.md", results[0].Path)
	assert.NotEmpty(t, results[0].Snippet)
}

func TestSearch_SourceFilterAppliesToBothSides(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	results, err := e.Search(context.Background(), "watcher debounce files",
		Options{SourceIDs: []string{"src-a"}})
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, "src-a", r.SourceID)
	}
}

func TestSearch_ContentTypeFilterAppliesToVectorOnlyHits(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	results, err := e.Search(context.Background(), "watcher debounces change events",
		Options{Mode: ModeSemantic, ContentTypes: []string{"code"}})
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, "code", r.ContentType)
	}
}

func TestSearch_ExtensionFilterAppliesToBothSides(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	results, err := e.Search(context.Background(), "watcher debounces change events",
		Options{Extensions: []string{".md"}})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Equal(t, "md", r.Extension)
	}
	assert.Equal(t, "docs/watcher.md", results[0].Path)
}

func TestSearch_FolderNameFilterAppliesToVectorOnlyHits(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	results, err := e.Search(context.Background(), "parses request header fields",
		Options{Mode: ModeSemantic, FolderNames: []string{"http"}})
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, "http", r.FolderName)
	}
}

func TestSearch_MinScoreDropsWeakResults(t *testing.T) {
	e := newTestEngine(t, testCorpus())
	ctx := context.Background()

	all, err := e.Search(ctx, "tcp socket connection", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, all)

	filtered, err := e.Search(ctx, "tcp socket connection", Options{MinScore: 0.99})
	require.NoError(t, err)
	assert.Less(t, len(filtered), len(all))
	for _, r := range filtered {
		assert.GreaterOrEqual(t, r.Score, 0.99)
	}
}

func TestSearch_LimitTruncatesResults(t *testing.T) {
	e := newTestEngine(t, testCorpus())

	results, err := e.Search(context.Background(), "go http tcp watcher files", Options{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearch_SourceWeightReordersResults(t *testing.T) {
	// src-b outranks src-a on this query; weighting src-b down and
	// src-a up must flip the order.
	weights := map[string]float64{"src-a": 1.5, "src-b": 0.1}
	e := newTestEngine(t, testCorpus(),
		WithSourceWeights(func(id string) float64 { return weights[id] }))

	results, err := e.Search(context.Background(), "watcher files socket", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "src-a", results[0].SourceID)
}

func TestSearch_BothBackendsFailingYieldsEmptyList(t *testing.T) {
	kw, err := keyword.Open("")
	require.NoError(t, err)
	vec, err := vector.New(vector.Config{Dimensions: embed.StaticDimensions})
	require.NoError(t, err)
	require.NoError(t, kw.Close())
	require.NoError(t, vec.Close())

	e := NewEngine(kw, vec, embed.NewStaticEmbedder())

	results, err := e.Search(context.Background(), "anything", Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_SingleModeSurfacesBackendError(t *testing.T) {
	kw, err := keyword.Open("")
	require.NoError(t, err)
	require.NoError(t, kw.Close())
	vec, err := vector.New(vector.Config{Dimensions: embed.StaticDimensions})
	require.NoError(t, err)

	e := NewEngine(kw, vec, embed.NewStaticEmbedder())

	_, err = e.Search(context.Background(), "anything", Options{Mode: ModeKeyword})
	assert.Error(t, err)
}

type metricCapture struct {
	last *store.SearchMetric
}

func (m *metricCapture) RecordSearchMetric(_ context.Context, metric *store.SearchMetric) error {
	m.last = metric
	return nil
}

func TestSearch_RecordsMetric(t *testing.T) {
	capture := &metricCapture{}
	e := newTestEngine(t, testCorpus(), WithMetrics(capture))

	results, err := e.Search(context.Background(), "tcp socket", Options{Limit: 5})
	require.NoError(t, err)
	require.NotNil(t, capture.last)

	assert.Equal(t, "tcp socket", capture.last.Query)
	assert.Equal(t, 5, capture.last.Limit)
	assert.Equal(t, len(results), capture.last.ResultCount)
	assert.GreaterOrEqual(t, capture.last.TotalMS, int64(0))
}
