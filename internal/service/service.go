// Package service wires the subsystems together and exposes the
// synchronous facade the CLI boundary talks to.
//
// Start order: writer lock, metadata store and migrations, source
// catalogue, index backends, embedder, search engine, coordinator,
// watchers. Shutdown reverses it: watchers stop first so no new work
// arrives, then active runs are cancelled and allowed to reach a batch
// boundary, then the backends close.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/lballaty/myragdb/internal/config"
	"github.com/lballaty/myragdb/internal/coordinator"
	"github.com/lballaty/myragdb/internal/embed"
	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/index/keyword"
	"github.com/lballaty/myragdb/internal/index/vector"
	"github.com/lballaty/myragdb/internal/rewrite"
	"github.com/lballaty/myragdb/internal/search"
	"github.com/lballaty/myragdb/internal/source"
	"github.com/lballaty/myragdb/internal/store"
	"github.com/lballaty/myragdb/internal/watcher"
)

// sweepInterval is how often the observability retention sweep runs.
const sweepInterval = 24 * time.Hour

// Service owns the lifecycle of every subsystem.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	lock     *flock.Flock
	store    *store.SQLiteStore
	registry *source.Registry
	keyword  *keyword.Index
	vector   *vector.Index
	embedder embed.Embedder
	rewriter *rewrite.Rewriter
	engine   *search.Engine
	coord    *coordinator.Coordinator
	watcher  *watcher.Watcher

	// runCtx outlives caller contexts; background runs and watch
	// dispatch hang off it and end at Close.
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Open builds the service from configuration. The returned service
// holds the data-directory writer lock until Close.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.DataDir, "writer.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("writer lock: %w", err)
	}
	if !locked {
		return nil, ragerr.New(ragerr.ErrCodeLockHeld,
			fmt.Sprintf("another process holds the writer lock in %s", cfg.DataDir), nil).
			WithSuggestion("stop the other myragdb process or use a different data_dir")
	}

	s := &Service{cfg: cfg, logger: logger, lock: lock}
	if err := s.start(ctx); err != nil {
		s.teardown()
		return nil, err
	}
	return s, nil
}

func (s *Service) start(ctx context.Context) error {
	cfg := s.cfg

	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, "metadata.db"))
	if err != nil {
		return err
	}
	s.store = st

	registry, err := source.NewRegistry(st)
	if err != nil {
		return err
	}
	s.registry = registry
	if err := s.syncConfigSources(); err != nil {
		return err
	}

	s.embedder, err = embed.New(ctx, cfg.Embeddings, cfg.Index.EmbedBatchSize)
	if err != nil {
		return err
	}

	s.keyword, err = keyword.Open(filepath.Join(cfg.DataDir, "index", "keyword"))
	if err != nil {
		return err
	}

	vectorPath := filepath.Join(cfg.DataDir, "index", "vectors.gob")
	s.vector, err = vector.Open(vectorPath, vector.Config{Dimensions: s.embedder.Dimensions()})
	if err != nil {
		return err
	}

	engineOpts := []search.Option{
		search.WithMetrics(st),
		search.WithSourceWeights(s.sourceWeight),
		search.WithRRFConstant(cfg.Search.RRFConstant),
		search.WithLogger(s.logger),
	}
	if cfg.Rewrite.Enabled {
		s.rewriter = rewrite.New(cfg.Rewrite, s.logger)
		engineOpts = append(engineOpts, search.WithRewriter(s.rewriter))
	}
	s.engine = search.NewEngine(s.keyword, s.vector, s.embedder, engineOpts...)

	s.coord, err = coordinator.New(coordinator.Config{
		KeywordBatchSize: cfg.Index.KeywordBatchSize,
		VectorBatchSize:  cfg.Index.EmbedBatchSize,
		MaxFileSize:      int64(cfg.Index.MaxFileSizeMB) << 20,
		ChunkSize:        cfg.Index.ChunkSize,
		VectorPath:       vectorPath,
	}, st, s.keyword, s.vector, s.embedder, s.logger)
	if err != nil {
		return err
	}

	s.runCtx, s.cancel = context.WithCancel(context.Background())

	if cfg.Watch.Enabled {
		s.watcher = watcher.New(watcher.Options{DebounceWindow: cfg.Watch.Debounce}, s.logger)
		for _, src := range s.registry.Enabled() {
			if err := s.watcher.Watch(s.runCtx, src); err != nil {
				s.logger.Warn("watch_start_failed",
					slog.String("source", src.Name),
					slog.String("error", err.Error()))
			}
		}
		s.wg.Add(1)
		go s.dispatchWatchRequests()
	}

	s.wg.Add(1)
	go s.reconcileOnStartup()

	s.wg.Add(1)
	go s.retentionLoop()

	s.logger.Info("service_ready",
		slog.String("data_dir", cfg.DataDir),
		slog.Int("sources", len(s.registry.List())),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("embedder", s.embedder.ModelName()))
	return nil
}

// syncConfigSources folds declarative config sources into the
// persisted catalogue. Config wins on conflicting settings; sources
// added at runtime survive alongside.
func (s *Service) syncConfigSources() error {
	add := func(sc config.SourceConfig, kind source.Kind) error {
		src := source.FromConfig(sc, kind)
		if err := s.registry.Add(src); err != nil {
			return fmt.Errorf("source %q: %w", sc.Name, err)
		}
		return nil
	}

	for _, sc := range s.cfg.Repositories {
		if err := add(sc, source.KindRepository); err != nil {
			return err
		}
	}
	for _, sc := range s.cfg.Directories {
		if err := add(sc, source.KindDirectory); err != nil {
			return err
		}
	}
	return nil
}

// sourceWeight is the priority multiplier fed to the search engine.
func (s *Service) sourceWeight(sourceID string) float64 {
	src, err := s.registry.Get(sourceID)
	if err != nil {
		return 1.0
	}
	return src.Weight()
}

// dispatchWatchRequests feeds debounced watcher batches to the
// coordinator. A batch arriving while a run holds the source's writer
// is dropped; the startup reconcile or next run picks the change up.
func (s *Service) dispatchWatchRequests() {
	defer s.wg.Done()

	for req := range s.watcher.Requests() {
		src, err := s.registry.Get(req.SourceID)
		if err != nil {
			continue
		}

		s.logger.Info("watch_triggered",
			slog.String("source", src.Name),
			slog.Int("changes", len(req.Changes)))

		res, err := s.coord.HandleRequest(s.runCtx, src, req.Changes)
		if err != nil {
			s.logger.Warn("watch_request_skipped",
				slog.String("source", src.Name),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("watch_applied",
			slog.String("source", src.Name),
			slog.Int("processed", res.FilesProcessed),
			slog.Int("removed", res.FilesRemoved),
			slog.Int("failed", res.FilesFailed))
	}
}

// reconcileOnStartup diffs each enabled source against its checkpoint
// so changes made while the service was down are picked up.
func (s *Service) reconcileOnStartup() {
	defer s.wg.Done()

	for _, src := range s.registry.Enabled() {
		if s.runCtx.Err() != nil {
			return
		}
		res, err := s.coord.Reconcile(s.runCtx, src)
		if err != nil {
			s.logger.Warn("reconcile_failed",
				slog.String("source", src.Name),
				slog.String("error", err.Error()))
			continue
		}
		if res.FilesProcessed > 0 || res.FilesRemoved > 0 {
			s.logger.Info("reconcile_applied",
				slog.String("source", src.Name),
				slog.Int("processed", res.FilesProcessed),
				slog.Int("removed", res.FilesRemoved))
		}
	}
}

// retentionLoop prunes old observability rows on an interval.
func (s *Service) retentionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(s.runCtx); err != nil && s.runCtx.Err() == nil {
			s.logger.Warn("retention_sweep_failed", slog.String("error", err.Error()))
		}
		select {
		case <-s.runCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close shuts the service down: watchers first, then active runs, then
// the backends. Safe to call once; later calls are no-ops.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if s.coord != nil {
		s.coord.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.teardown()
	s.logger.Info("service_stopped")
	return nil
}

// teardown releases everything start acquired, tolerating partial
// construction.
func (s *Service) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.vector != nil {
		_ = s.vector.Close()
	}
	if s.keyword != nil {
		_ = s.keyword.Close()
	}
	if s.embedder != nil {
		_ = s.embedder.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}
