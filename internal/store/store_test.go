package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lballaty/myragdb/internal/config"
	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/source"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), ".myragdb", "metadata.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteStore_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	var version int
	err := s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// Reopening must be a no-op, not a re-apply.
	s2, err := NewSQLiteStore(s.Path())
	require.NoError(t, err)
	defer s2.Close()

	var count int
	err = s2.DB().QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertFiles_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	modTime := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	rec := &FileRecord{
		SourceID:    "src-1",
		Path:        "pkg/util.go",
		AbsPath:     "/repo/pkg/util.go",
		Size:        1234,
		ModTime:     modTime,
		ContentHash: "abc123",
		Language:    "go",
		ChunkCount:  3,
	}
	require.NoError(t, s.UpsertFiles(ctx, []*FileRecord{rec}))

	got, err := s.GetFile(ctx, "src-1", "pkg/util.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Equal(t, int64(1234), got.Size)
	assert.Equal(t, 3, got.ChunkCount)
	// Sub-second precision is dropped on write.
	assert.Equal(t, modTime.Truncate(time.Second), got.ModTime)
	assert.False(t, got.IndexedAt.IsZero())
}

func TestUpsertFiles_UpdatesExistingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &FileRecord{SourceID: "src-1", Path: "a.go", ContentHash: "v1", ChunkCount: 1}
	require.NoError(t, s.UpsertFiles(ctx, []*FileRecord{rec}))

	rec.ContentHash = "v2"
	rec.ChunkCount = 5
	require.NoError(t, s.UpsertFiles(ctx, []*FileRecord{rec}))

	got, err := s.GetFile(ctx, "src-1", "a.go")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ContentHash)
	assert.Equal(t, 5, got.ChunkCount)

	files, err := s.ListFiles(ctx, "src-1")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestGetFile_MissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetFile(context.Background(), "src-1", "nope.go")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFiles(ctx, []*FileRecord{
		{SourceID: "src-1", Path: "a.go"},
		{SourceID: "src-1", Path: "b.go"},
		{SourceID: "src-2", Path: "a.go"},
	}))

	require.NoError(t, s.DeleteFiles(ctx, "src-1", []string{"a.go"}))

	files, err := s.ListFiles(ctx, "src-1")
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Contains(t, files, "b.go")

	// Same path under another source is untouched.
	other, err := s.ListFiles(ctx, "src-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestDeleteSourceFiles_PurgesFilesAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFiles(ctx, []*FileRecord{
		{SourceID: "src-1", Path: "a.go", ChunkCount: 2},
	}))
	require.NoError(t, s.RefreshSourceStats(ctx, "src-1"))

	require.NoError(t, s.DeleteSourceFiles(ctx, "src-1"))

	files, err := s.ListFiles(ctx, "src-1")
	require.NoError(t, err)
	assert.Empty(t, files)

	stats, err := s.GetSourceStats(ctx, "src-1")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestSourceStats_UpdateAndRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	initial := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.UpdateSourceStats(ctx, &SourceStats{
		SourceID:          "src-1",
		FileCount:         10,
		ChunkCount:        42,
		TotalBytes:        2048,
		InitialIndexedAt:  initial,
		InitialDurationMS: 900,
		LastRunType:       "full_rebuild",
		LastRunStatus:     "succeeded",
		LastIndexedAt:     time.Now().UTC(),
		LastDurationMS:    1500,
	}))

	stats, err := s.GetSourceStats(ctx, "src-1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 10, stats.FileCount)
	assert.Equal(t, int64(2048), stats.TotalBytes)
	assert.Equal(t, int64(900), stats.InitialDurationMS)
	assert.False(t, stats.InitialIndexedAt.IsZero())
	assert.Equal(t, "full_rebuild", stats.LastRunType)
	assert.False(t, stats.LastIndexedAt.IsZero())

	// Refresh recomputes counts and bytes from checkpoint rows but
	// leaves the initial-run stamp alone.
	require.NoError(t, s.UpsertFiles(ctx, []*FileRecord{
		{SourceID: "src-1", Path: "a.go", Size: 100, ChunkCount: 2},
		{SourceID: "src-1", Path: "b.go", Size: 250, ChunkCount: 3},
	}))
	require.NoError(t, s.RefreshSourceStats(ctx, "src-1"))

	stats, err = s.GetSourceStats(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileCount)
	assert.Equal(t, 5, stats.ChunkCount)
	assert.Equal(t, int64(350), stats.TotalBytes)
	assert.Equal(t, int64(900), stats.InitialDurationMS)
	assert.False(t, stats.InitialIndexedAt.IsZero())

	all, err := s.ListSourceStats(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSystemMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	value, err := s.GetMeta(ctx, "index_format")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, s.SetMeta(ctx, "index_format", "1"))
	require.NoError(t, s.SetMeta(ctx, "index_format", "2"))

	value, err = s.GetMeta(ctx, "index_format")
	require.NoError(t, err)
	assert.Equal(t, "2", value)

	require.NoError(t, s.ClearMeta(ctx))
	value, err = s.GetMeta(ctx, "index_format")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestSources_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	src := &source.Source{
		ID:        source.DeriveID(source.KindRepository, "/repos/alpha"),
		Name:      "alpha",
		Kind:      source.KindRepository,
		Path:      "/repos/alpha",
		RemoteURL: "github.com/org/alpha",
		Priority:  config.PriorityHigh,
		Include:   []string{"**/*.go"},
		Exclude:   []string{"vendor/**"},
		Enabled:   true,
		AddedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveSource(src))

	listed, err := s.ListSources()
	require.NoError(t, err)
	require.Len(t, listed, 1)

	got := listed[0]
	assert.Equal(t, src.ID, got.ID)
	assert.Equal(t, source.KindRepository, got.Kind)
	assert.Equal(t, config.PriorityHigh, got.Priority)
	assert.Equal(t, []string{"**/*.go"}, got.Include)
	assert.Equal(t, []string{"vendor/**"}, got.Exclude)
	assert.True(t, got.Enabled)
	assert.False(t, got.AddedAt.IsZero())
}

func TestSources_SaveIsUpsert(t *testing.T) {
	s := newTestStore(t)

	src := &source.Source{
		ID:      "id-1",
		Name:    "alpha",
		Kind:    source.KindDirectory,
		Path:    "/docs",
		Enabled: true,
		AddedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveSource(src))

	src.Enabled = false
	src.Priority = config.PriorityLow
	require.NoError(t, s.SaveSource(src))

	listed, err := s.ListSources()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].Enabled)
	assert.Equal(t, config.PriorityLow, listed[0].Priority)
	// Empty globs come back as nil, not empty slices.
	assert.Nil(t, listed[0].Include)
}

func TestSources_Delete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveSource(&source.Source{
		ID: "id-1", Name: "alpha", Kind: source.KindDirectory,
		Path: "/a", AddedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.DeleteSource("id-1"))

	listed, err := s.ListSources()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestRecordSearchMetric(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{
		Query:       "hybrid fusion",
		Rewritten:   "hybrid fusion rrf",
		Limit:       20,
		ResultCount: 7,
		KeywordMS:   12,
		VectorMS:    30,
		TotalMS:     45,
	}))

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM search_metrics`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRecordError_CodedAndPlain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	coded := ragerr.New(ragerr.ErrCodeEmbedUnavailable, "ollama is down", nil).
		WithDetail("endpoint", "http://localhost:11434")
	require.NoError(t, s.RecordError(ctx, coded))
	require.NoError(t, s.RecordError(ctx, assert.AnError))

	rows, err := s.DB().Query(`SELECT code, category FROM error_log ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var codes, categories []string
	for rows.Next() {
		var code, category string
		require.NoError(t, rows.Scan(&code, &category))
		codes = append(codes, code)
		categories = append(categories, category)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{ragerr.ErrCodeEmbedUnavailable, ragerr.ErrCodeInternal}, codes)
	assert.Equal(t, []string{string(ragerr.CategoryTransient), string(ragerr.CategoryPermanent)}, categories)
}

func TestResolveErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordError(ctx, ragerr.New(ragerr.ErrCodeTimeout, "slow", nil)))
	require.NoError(t, s.RecordError(ctx, ragerr.New(ragerr.ErrCodeTimeout, "slower", nil)))
	require.NoError(t, s.RecordError(ctx, ragerr.New(ragerr.ErrCodeInternal, "boom", nil)))

	n, err := s.ResolveErrors(ctx, ragerr.ErrCodeTimeout)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	open, err := s.CountUnresolvedErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestPruneObservability_KeepsUnresolvedErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{Query: "old"}))
	require.NoError(t, s.RecordIndexingEvent(ctx, &IndexingEvent{
		SourceID: "src-1", RunType: "incremental", Event: "completed",
	}))
	require.NoError(t, s.RecordError(ctx, ragerr.New(ragerr.ErrCodeTimeout, "resolved later", nil)))
	require.NoError(t, s.RecordError(ctx, ragerr.New(ragerr.ErrCodeInternal, "still open", nil)))

	_, err := s.ResolveErrors(ctx, ragerr.ErrCodeTimeout)
	require.NoError(t, err)

	// Cutoff in the future ages out every prunable row.
	deleted, err := s.PruneObservability(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	open, err := s.CountUnresolvedErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	var metrics int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM search_metrics`).Scan(&metrics))
	assert.Equal(t, 0, metrics)
}

func TestMigrationVersion(t *testing.T) {
	v, err := migrationVersion("002_observability.sql")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = migrationVersion("noversion.sql")
	assert.Error(t, err)
}
