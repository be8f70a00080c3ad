// Package coordinator drives indexing runs. It is the single writer to
// the keyword index, the vector index, and the checkpoint store: full
// rebuilds, incremental updates, watcher batches, and startup
// reconciliation all funnel through it, and overlapping runs for the
// same source are rejected.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lballaty/myragdb/internal/embed"
	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/index"
	"github.com/lballaty/myragdb/internal/index/keyword"
	"github.com/lballaty/myragdb/internal/index/vector"
	"github.com/lballaty/myragdb/internal/scanner"
	"github.com/lballaty/myragdb/internal/source"
	"github.com/lballaty/myragdb/internal/store"
	"github.com/lballaty/myragdb/internal/watcher"
)

// RunType selects how much of a source is reprocessed.
type RunType string

const (
	// RunIncremental reindexes only files whose checkpoint is stale.
	RunIncremental RunType = "incremental"
	// RunFullRebuild clears the source from every backend first.
	RunFullRebuild RunType = "full_rebuild"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	// DefaultKeywordBatchSize is how many documents accumulate before a
	// keyword flush.
	DefaultKeywordBatchSize = 50_000
	// DefaultVectorBatchSize is how many chunks go into one embedding
	// call. Matches the embedding provider batch width.
	DefaultVectorBatchSize = embed.DefaultBatchSize
)

// bookkeepingTimeout bounds terminal store writes so a cancelled caller
// context cannot lose the run's outcome.
const bookkeepingTimeout = 5 * time.Second

// MetaLastIndexTime is the system_metadata key stamped after every run.
const MetaLastIndexTime = "last_index_time"

// Result summarizes one indexing run. Counts reflect flushed work: a
// cancelled or failed run reports only what was durably applied.
type Result struct {
	SourceID string
	RunType  RunType
	Status   Status

	FilesProcessed int
	FilesUnchanged int
	FilesFailed    int
	FilesRemoved   int
	Chunks         int
	Bytes          int64
	Duration       time.Duration

	Err error
}

// Config tunes batch sizes and file limits.
type Config struct {
	// KeywordBatchSize is the document count per keyword flush
	// (0 = 50000).
	KeywordBatchSize int
	// VectorBatchSize is the chunk count per embedding call (0 = 32).
	VectorBatchSize int
	// MaxFileSize is the inclusive per-file byte cap (0 = scanner
	// default).
	MaxFileSize int64
	// ChunkSize is the target chunk length in characters (0 = 1000).
	ChunkSize int
	// VectorPath, when set, persists the vector index after each run.
	VectorPath string
}

func (c Config) withDefaults() Config {
	if c.KeywordBatchSize <= 0 {
		c.KeywordBatchSize = DefaultKeywordBatchSize
	}
	if c.VectorBatchSize <= 0 {
		c.VectorBatchSize = DefaultVectorBatchSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = index.DefaultChunkSize
	}
	return c
}

// Coordinator owns the write path of all index backends.
type Coordinator struct {
	cfg      Config
	store    *store.SQLiteStore
	keyword  *keyword.Index
	vector   *vector.Index
	embedder embed.Embedder
	scanner  *scanner.Scanner
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a Coordinator over the given backends.
func New(cfg Config, st *store.SQLiteStore, kw *keyword.Index, vec *vector.Index, embedder embed.Embedder, logger *slog.Logger) (*Coordinator, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		store:    st,
		keyword:  kw,
		vector:   vec,
		embedder: embedder,
		scanner:  sc,
		logger:   logger,
		active:   make(map[string]context.CancelFunc),
	}, nil
}

// acquire registers a run as the source's single writer. The returned
// context is cancelled by StopSource and Stop; release must be called
// when the run ends.
func (c *Coordinator) acquire(ctx context.Context, sourceID string) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.active[sourceID]; busy {
		return nil, nil, ragerr.New(ragerr.ErrCodeRunActive,
			fmt.Sprintf("indexing already running for source %s", sourceID), nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.active[sourceID] = cancel

	release := func() {
		c.mu.Lock()
		delete(c.active, sourceID)
		c.mu.Unlock()
		cancel()
	}
	return runCtx, release, nil
}

// StopSource cancels the active run for one source, if any. The run
// ends with status cancelled at its next batch boundary.
func (c *Coordinator) StopSource(sourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cancel, ok := c.active[sourceID]
	if ok {
		cancel()
	}
	return ok
}

// Stop cancels every active run.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cancel := range c.active {
		cancel()
	}
}

// Active returns the IDs of sources with a run in flight, sorted.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Index runs a full scan of the source. Incremental runs skip files
// whose checkpoint matches on mtime and size, then on content hash;
// full rebuilds clear the source from every backend first.
func (c *Coordinator) Index(ctx context.Context, src *source.Source, runType RunType) (*Result, error) {
	runCtx, release, err := c.acquire(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	res := &Result{SourceID: src.ID, RunType: runType, Status: StatusComplete}

	c.recordEvent(&store.IndexingEvent{
		SourceID: src.ID,
		RunType:  string(runType),
		Kind:     "both",
		Event:    "start",
	})
	c.logger.Info("index_run_started",
		slog.String("source_id", src.ID),
		slog.String("run_type", string(runType)))

	if runCtx.Err() != nil {
		res.Status = StatusCancelled
		return c.finish(src, res, started, nil)
	}

	if runType == RunFullRebuild {
		if err := c.clearSource(runCtx, src.ID); err != nil {
			return c.failOrCancel(runCtx, src, res, started, err)
		}
	}

	known := map[string]*store.FileRecord{}
	if runType == RunIncremental {
		known, err = c.store.ListFiles(runCtx, src.ID)
		if err != nil {
			return c.failOrCancel(runCtx, src, res, started,
				ragerr.New(ragerr.ErrCodeStoreFailed, "failed to load checkpoint", err))
		}
	}

	results, err := c.scanner.Scan(runCtx, scanOptions(src, c.cfg.MaxFileSize))
	if err != nil {
		return c.failOrCancel(runCtx, src, res, started,
			ragerr.New(ragerr.ErrCodeIndexFailed, "scan failed", err))
	}

	batch := &runBatch{}
	for r := range results {
		if r.Error != nil {
			return c.failOrCancel(runCtx, src, res, started,
				ragerr.New(ragerr.ErrCodeIndexFailed, "scan failed", r.Error))
		}
		file := r.File
		rec := known[file.Path]

		if runType == RunIncremental && rec != nil && unchangedByStat(rec, file) {
			res.FilesUnchanged++
			continue
		}

		content, err := scanner.ReadFileText(file.AbsPath)
		if err != nil {
			// Unreadable or binary files are skipped, never fatal.
			c.logger.Warn("index_file_skipped",
				slog.String("source_id", src.ID),
				slog.String("path", file.Path),
				slog.String("error", err.Error()))
			res.FilesFailed++
			continue
		}

		hash := index.HashContent([]byte(content))
		if runType == RunIncremental && rec != nil && rec.ContentHash == hash {
			// Touched but identical. Refresh the checkpoint mtime so
			// the next run skips on stat alone.
			batch.records = append(batch.records, fileRecord(src.ID, file, hash, rec.ChunkCount))
			res.FilesUnchanged++
		} else {
			doc := buildDocument(src, file, content)
			chunks := index.ChunkDocument(doc, c.cfg.ChunkSize)
			if rec != nil {
				// A shrinking file would otherwise leave stale trailing
				// chunks behind.
				c.vector.DeleteDoc(runCtx, doc.ID)
			}
			batch.add(doc, chunks, fileRecord(src.ID, file, hash, len(chunks)))
		}

		// VectorBatchSize only slices embedding calls inside the flush;
		// the keyword batch size alone decides when to flush.
		if len(batch.docs) >= c.cfg.KeywordBatchSize {
			if err := c.flush(runCtx, src.ID, batch, res); err != nil {
				return c.failOrCancel(runCtx, src, res, started, err)
			}
			// Cancellation is honored between batches so flushed work
			// stays durable.
			if runCtx.Err() != nil {
				res.Status = StatusCancelled
				return c.finish(src, res, started, nil)
			}
		}
	}

	if runCtx.Err() != nil {
		res.Status = StatusCancelled
		return c.finish(src, res, started, nil)
	}

	if err := c.flush(runCtx, src.ID, batch, res); err != nil {
		return c.failOrCancel(runCtx, src, res, started, err)
	}
	return c.finish(src, res, started, nil)
}

// failOrCancel distinguishes a genuine failure from a step that errored
// only because the run was cancelled.
func (c *Coordinator) failOrCancel(runCtx context.Context, src *source.Source, res *Result, started time.Time, err error) (*Result, error) {
	if runCtx.Err() != nil {
		res.Status = StatusCancelled
		return c.finish(src, res, started, nil)
	}
	return c.finish(src, res, started, err)
}

// HandleRequest applies one debounced watcher batch as an incremental
// update: upserts reindex the file, removes delete it from every
// backend. Per-file failures are logged and counted, never fatal.
func (c *Coordinator) HandleRequest(ctx context.Context, src *source.Source, changes []watcher.Change) (*Result, error) {
	runCtx, release, err := c.acquire(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	res := &Result{SourceID: src.ID, RunType: RunIncremental, Status: StatusComplete}

	for _, ch := range changes {
		if runCtx.Err() != nil {
			res.Status = StatusCancelled
			break
		}
		switch ch.Op {
		case watcher.OpRemove:
			if err := c.removeFile(runCtx, src.ID, ch.Path); err != nil {
				c.logger.Warn("watch_remove_failed",
					slog.String("source_id", src.ID),
					slog.String("path", ch.Path),
					slog.String("error", err.Error()))
				res.FilesFailed++
			} else {
				res.FilesRemoved++
			}
		case watcher.OpUpsert:
			c.upsertPath(runCtx, src, ch.Path, res)
		}
	}

	return c.finish(src, res, started, nil)
}

// Reconcile brings a source back in sync after changes made while the
// service was down. Checkpoint rows without a file on disk are removed
// first, then a normal incremental run picks up additions and edits.
// A source that was never indexed is left alone; the initial run is an
// explicit operation.
func (c *Coordinator) Reconcile(ctx context.Context, src *source.Source) (*Result, error) {
	known, err := c.store.ListFiles(ctx, src.ID)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeStoreFailed, "failed to load checkpoint", err)
	}
	if len(known) == 0 {
		return &Result{SourceID: src.ID, RunType: RunIncremental, Status: StatusComplete}, nil
	}

	removed, err := c.removeStale(ctx, src)
	if err != nil {
		return nil, err
	}

	res, err := c.Index(ctx, src, RunIncremental)
	if res != nil {
		res.FilesRemoved += removed
	}
	return res, err
}

// removeStale deletes checkpoint entries whose file no longer exists.
// Deletions run before upserts so a rename never briefly duplicates.
func (c *Coordinator) removeStale(ctx context.Context, src *source.Source) (int, error) {
	runCtx, release, err := c.acquire(ctx, src.ID)
	if err != nil {
		return 0, err
	}
	defer release()

	known, err := c.store.ListFiles(runCtx, src.ID)
	if err != nil {
		return 0, ragerr.New(ragerr.ErrCodeStoreFailed, "failed to load checkpoint", err)
	}
	if len(known) == 0 {
		return 0, nil
	}

	results, err := c.scanner.Scan(runCtx, scanOptions(src, c.cfg.MaxFileSize))
	if err != nil {
		return 0, ragerr.New(ragerr.ErrCodeIndexFailed, "scan failed", err)
	}
	current := make(map[string]bool, len(known))
	for r := range results {
		if r.Error != nil {
			return 0, ragerr.New(ragerr.ErrCodeIndexFailed, "scan failed", r.Error)
		}
		current[r.File.Path] = true
	}

	var stale []string
	for path := range known {
		if !current[path] {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)

	removed := 0
	for _, path := range stale {
		if err := c.removeFile(runCtx, src.ID, path); err != nil {
			c.logger.Warn("reconcile_remove_failed",
				slog.String("source_id", src.ID),
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("reconcile_removed_stale",
			slog.String("source_id", src.ID),
			slog.Int("removed", removed))
	}
	return removed, nil
}

// upsertPath reindexes a single file outside a scan, for watcher
// batches. Filtering already happened at the watcher; only the size cap
// and binary sniff apply here.
func (c *Coordinator) upsertPath(ctx context.Context, src *source.Source, relPath string, res *Result) {
	absPath := filepath.Join(src.Path, filepath.FromSlash(relPath))

	info, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		// Vanished between the event and the debounce flush.
		if rerr := c.removeFile(ctx, src.ID, relPath); rerr == nil {
			res.FilesRemoved++
		}
		return
	}
	if err != nil {
		c.logger.Warn("index_file_skipped",
			slog.String("source_id", src.ID),
			slog.String("path", relPath),
			slog.String("error", err.Error()))
		res.FilesFailed++
		return
	}
	if info.IsDir() {
		return
	}

	maxSize := c.cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = scanner.DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		return
	}

	content, err := scanner.ReadFileText(absPath)
	if err != nil {
		c.logger.Warn("index_file_skipped",
			slog.String("source_id", src.ID),
			slog.String("path", relPath),
			slog.String("error", err.Error()))
		res.FilesFailed++
		return
	}

	language, contentType := scanner.DetectKind(relPath)
	file := &scanner.FileInfo{
		Path:        relPath,
		AbsPath:     absPath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: contentType,
		Language:    language,
	}

	doc := buildDocument(src, file, content)
	chunks := index.ChunkDocument(doc, c.cfg.ChunkSize)
	c.vector.DeleteDoc(ctx, doc.ID)

	batch := &runBatch{}
	batch.add(doc, chunks, fileRecord(src.ID, file, index.HashContent([]byte(content)), len(chunks)))
	if err := c.flush(ctx, src.ID, batch, res); err != nil {
		c.logger.Warn("watch_upsert_failed",
			slog.String("source_id", src.ID),
			slog.String("path", relPath),
			slog.String("error", err.Error()))
		res.FilesFailed++
	}
}

// removeFile deletes one document from every backend.
func (c *Coordinator) removeFile(ctx context.Context, sourceID, relPath string) error {
	docID := index.DocumentID(sourceID, relPath)

	if err := c.keyword.DeleteDocs(ctx, []string{docID}); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, "keyword delete failed", err)
	}
	c.vector.DeleteDoc(ctx, docID)
	if err := c.store.DeleteFiles(ctx, sourceID, []string{relPath}); err != nil {
		return ragerr.New(ragerr.ErrCodeStoreFailed, "checkpoint delete failed", err)
	}
	return nil
}

// clearSource drops a source from every backend before a full rebuild.
func (c *Coordinator) clearSource(ctx context.Context, sourceID string) error {
	docs, err := c.keyword.DeleteBySource(ctx, sourceID)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, "keyword clear failed", err)
	}
	chunks := c.vector.DeleteBySource(ctx, sourceID)
	if err := c.store.DeleteSourceFiles(ctx, sourceID); err != nil {
		return ragerr.New(ragerr.ErrCodeStoreFailed, "checkpoint clear failed", err)
	}

	c.logger.Info("source_cleared",
		slog.String("source_id", sourceID),
		slog.Int("documents", docs),
		slog.Int("chunks", chunks))
	return nil
}

// runBatch accumulates one flush worth of work. Result counters merge
// only on flush success, so partial runs report durable work.
type runBatch struct {
	docs    []*index.Document
	chunks  []*index.Chunk
	records []*store.FileRecord

	files      int
	chunkCount int
	bytes      int64
}

func (b *runBatch) add(doc *index.Document, chunks []*index.Chunk, rec *store.FileRecord) {
	b.docs = append(b.docs, doc)
	b.chunks = append(b.chunks, chunks...)
	b.records = append(b.records, rec)
	b.files++
	b.chunkCount += len(chunks)
	b.bytes += rec.Size
}

func (b *runBatch) empty() bool {
	return len(b.docs) == 0 && len(b.records) == 0
}

func (b *runBatch) reset() {
	*b = runBatch{}
}

// flush writes one batch: keyword first, then vectors, then the
// checkpoint rows. Each backend call retries once before the run fails.
func (c *Coordinator) flush(ctx context.Context, sourceID string, b *runBatch, res *Result) error {
	if b.empty() {
		return nil
	}

	if len(b.docs) > 0 {
		if err := ragerr.Retry(ctx, ragerr.BatchRetryConfig(), func() error {
			return c.keyword.Index(ctx, b.docs)
		}); err != nil {
			return ragerr.New(ragerr.ErrCodeIndexFailed, "keyword batch failed", err)
		}
	}

	if err := c.embedAndAdd(ctx, sourceID, b.chunks); err != nil {
		return err
	}

	if err := c.store.UpsertFiles(ctx, b.records); err != nil {
		return ragerr.New(ragerr.ErrCodeStoreFailed, "checkpoint write failed", err)
	}

	res.FilesProcessed += b.files
	res.Chunks += b.chunkCount
	res.Bytes += b.bytes
	b.reset()
	return nil
}

// embedAndAdd embeds chunks in provider-sized slices and feeds the
// vector index.
func (c *Coordinator) embedAndAdd(ctx context.Context, sourceID string, chunks []*index.Chunk) error {
	for start := 0; start < len(chunks); start += c.cfg.VectorBatchSize {
		end := min(start+c.cfg.VectorBatchSize, len(chunks))
		part := chunks[start:end]

		texts := make([]string, len(part))
		for i, ch := range part {
			texts[i] = ch.Content
		}

		vectors, err := ragerr.RetryWithResult(ctx, ragerr.BatchRetryConfig(), func() ([][]float32, error) {
			return c.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return ragerr.New(ragerr.ErrCodeEmbedUnavailable, "embedding batch failed", err)
		}

		if err := c.vector.Add(ctx, sourceID, part, vectors); err != nil {
			return ragerr.New(ragerr.ErrCodeIndexFailed, "vector batch failed", err)
		}
	}
	return nil
}

// finish records the terminal event and stats, persists the vector
// index, and logs the outcome. Bookkeeping uses its own context so a
// cancelled run still records its result.
func (c *Coordinator) finish(src *source.Source, res *Result, started time.Time, runErr error) (*Result, error) {
	res.Duration = time.Since(started)
	if runErr != nil {
		res.Status = StatusFailed
		res.Err = runErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	ev := &store.IndexingEvent{
		SourceID:   src.ID,
		RunType:    string(res.RunType),
		Kind:       "both",
		Event:      string(res.Status),
		Files:      res.FilesProcessed,
		Chunks:     res.Chunks,
		DurationMS: res.Duration.Milliseconds(),
	}
	if runErr != nil {
		ev.Error = runErr.Error()
		if err := c.store.RecordError(ctx, runErr); err != nil {
			c.logger.Debug("error_log_write_failed", slog.String("error", err.Error()))
		}
	}
	c.recordEvent(ev)

	c.updateStats(ctx, res)
	c.persistVectors()

	attrs := []any{
		slog.String("source_id", src.ID),
		slog.String("run_type", string(res.RunType)),
		slog.String("status", string(res.Status)),
		slog.Int("files_processed", res.FilesProcessed),
		slog.Int("files_unchanged", res.FilesUnchanged),
		slog.Int("files_failed", res.FilesFailed),
		slog.Int("files_removed", res.FilesRemoved),
		slog.Int("chunks", res.Chunks),
		slog.Int64("duration_ms", res.Duration.Milliseconds()),
	}
	if runErr != nil {
		attrs = append(attrs, slog.String("error", runErr.Error()))
		c.logger.Error("index_run_failed", attrs...)
	} else {
		c.logger.Info("index_run_finished", attrs...)
	}

	return res, runErr
}

// recordEvent writes a lifecycle row, best effort.
func (c *Coordinator) recordEvent(ev *store.IndexingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	if err := c.store.RecordIndexingEvent(ctx, ev); err != nil {
		c.logger.Debug("indexing_event_write_failed",
			slog.String("source_id", ev.SourceID),
			slog.String("error", err.Error()))
	}
}

// updateStats recomputes the source's aggregate counts from checkpoint
// rows and stamps the run outcome.
func (c *Coordinator) updateStats(ctx context.Context, res *Result) {
	if err := c.store.RefreshSourceStats(ctx, res.SourceID); err != nil {
		c.logger.Warn("source_stats_refresh_failed",
			slog.String("source_id", res.SourceID),
			slog.String("error", err.Error()))
		return
	}

	stats, err := c.store.GetSourceStats(ctx, res.SourceID)
	if err != nil || stats == nil {
		return
	}
	stats.LastRunType = string(res.RunType)
	stats.LastRunStatus = string(res.Status)
	stats.LastIndexedAt = time.Now().UTC()
	stats.LastDurationMS = res.Duration.Milliseconds()

	// The first completed run is the initial index; the stamp is
	// written once and survives every later reindex.
	if stats.InitialIndexedAt.IsZero() && res.Status == StatusComplete {
		stats.InitialIndexedAt = stats.LastIndexedAt
		stats.InitialDurationMS = stats.LastDurationMS
	}

	if err := c.store.UpdateSourceStats(ctx, stats); err != nil {
		c.logger.Warn("source_stats_update_failed",
			slog.String("source_id", res.SourceID),
			slog.String("error", err.Error()))
	}

	if err := c.store.SetMeta(ctx, MetaLastIndexTime, time.Now().UTC().Format(time.RFC3339)); err != nil {
		c.logger.Debug("meta_write_failed", slog.String("error", err.Error()))
	}
}

// persistVectors saves the vector graph when a path is configured.
func (c *Coordinator) persistVectors() {
	if c.cfg.VectorPath == "" {
		return
	}
	if err := c.vector.Save(c.cfg.VectorPath); err != nil {
		c.logger.Warn("vector_save_failed",
			slog.String("path", c.cfg.VectorPath),
			slog.String("error", err.Error()))
	}
}

func scanOptions(src *source.Source, maxFileSize int64) *scanner.ScanOptions {
	return &scanner.ScanOptions{
		RootDir:          src.Path,
		IncludePatterns:  src.Include,
		ExcludePatterns:  src.Exclude,
		MaxFileSize:      maxFileSize,
		RespectGitignore: src.Kind == source.KindRepository,
	}
}

// unchangedByStat compares against the checkpoint at whole-second
// resolution, matching how mod_time is stored.
func unchangedByStat(rec *store.FileRecord, file *scanner.FileInfo) bool {
	return rec.Size == file.Size &&
		!file.ModTime.Truncate(time.Second).After(rec.ModTime)
}

func buildDocument(src *source.Source, file *scanner.FileInfo, content string) *index.Document {
	fileName, dirPath, folderName := index.SplitPath(file.Path)
	repo := ""
	if src.Kind == source.KindRepository {
		repo = src.Name
	}
	return &index.Document{
		ID:            index.DocumentID(src.ID, file.Path),
		SourceID:      src.ID,
		SourceType:    string(src.Kind),
		Repository:    repo,
		Path:          file.Path,
		AbsPath:       file.AbsPath,
		FileName:      fileName,
		DirectoryPath: dirPath,
		FolderName:    folderName,
		Extension:     index.PathExtension(file.Path),
		Language:      file.Language,
		ContentType:   string(file.ContentType),
		Size:          file.Size,
		LastModified:  file.ModTime,
		Content:       content,
	}
}

func fileRecord(sourceID string, file *scanner.FileInfo, hash string, chunkCount int) *store.FileRecord {
	return &store.FileRecord{
		SourceID:    sourceID,
		Path:        file.Path,
		AbsPath:     file.AbsPath,
		Size:        file.Size,
		ModTime:     file.ModTime,
		ContentHash: hash,
		Language:    file.Language,
		ChunkCount:  chunkCount,
		IndexedAt:   time.Now().UTC(),
	}
}
