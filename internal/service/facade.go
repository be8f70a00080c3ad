package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lballaty/myragdb/internal/config"
	"github.com/lballaty/myragdb/internal/coordinator"
	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/search"
	"github.com/lballaty/myragdb/internal/source"
)

// indexParallelism bounds concurrent per-source runs. Each source still
// has exactly one writer; this only overlaps different sources.
const indexParallelism = 2

// Search resolves source names to IDs and runs a hybrid query.
func (s *Service) Search(ctx context.Context, query string, opts search.Options, sourceNames []string) ([]*search.Result, error) {
	if len(sourceNames) > 0 {
		ids, err := s.registry.ResolveNames(sourceNames)
		if err != nil {
			return nil, err
		}
		opts.SourceIDs = ids
	}
	return s.engine.Search(ctx, query, opts)
}

// SourceStatus is the per-source slice of Stats.
type SourceStatus struct {
	Name           string
	ID             string
	Kind           source.Kind
	Path           string
	Priority       config.Priority
	Enabled        bool
	Indexing          bool
	FileCount         int
	ChunkCount        int
	TotalBytes        int64
	InitialIndexedAt  time.Time
	InitialDurationMS int64
	LastRunType       string
	LastRunStatus     string
	LastIndexedAt     time.Time
	LastDurationMS    int64
}

// Stats is the service-wide status snapshot.
type Stats struct {
	KeywordDocuments uint64
	VectorChunks     int
	IsIndexing       bool
	ActiveSources    []string
	LastIndexTime    time.Time
	Sources          []*SourceStatus
}

// Stats reports index sizes, run activity, and per-source totals.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	docs, err := s.keyword.DocCount()
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, "keyword doc count failed", err)
	}

	active := s.coord.Active()
	activeSet := make(map[string]bool, len(active))
	for _, id := range active {
		activeSet[id] = true
	}

	byID := make(map[string]*SourceStatus)
	out := &Stats{
		KeywordDocuments: docs,
		VectorChunks:     s.vector.Count(),
		IsIndexing:       len(active) > 0,
	}
	for _, src := range s.registry.List() {
		status := &SourceStatus{
			Name:     src.Name,
			ID:       src.ID,
			Kind:     src.Kind,
			Path:     src.Path,
			Priority: src.EffectivePriority(),
			Enabled:  src.Enabled,
			Indexing: activeSet[src.ID],
		}
		byID[src.ID] = status
		out.Sources = append(out.Sources, status)
	}
	for _, id := range active {
		if src, ok := byID[id]; ok {
			out.ActiveSources = append(out.ActiveSources, src.Name)
		} else {
			out.ActiveSources = append(out.ActiveSources, id)
		}
	}

	perSource, err := s.store.ListSourceStats(ctx)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeStoreFailed, "failed to load source stats", err)
	}
	for _, st := range perSource {
		status, ok := byID[st.SourceID]
		if !ok {
			continue
		}
		status.FileCount = st.FileCount
		status.ChunkCount = st.ChunkCount
		status.TotalBytes = st.TotalBytes
		status.InitialIndexedAt = st.InitialIndexedAt
		status.InitialDurationMS = st.InitialDurationMS
		status.LastRunType = st.LastRunType
		status.LastRunStatus = st.LastRunStatus
		status.LastIndexedAt = st.LastIndexedAt
		status.LastDurationMS = st.LastDurationMS
	}

	if raw, err := s.store.GetMeta(ctx, coordinator.MetaLastIndexTime); err == nil && raw != "" {
		if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
			out.LastIndexTime = t
		}
	}

	return out, nil
}

// ReindexStatus acknowledges a background reindex request.
type ReindexStatus struct {
	Status    string
	StartedAt time.Time
	Sources   []string
}

// Reindex starts a background run for the named sources (all enabled
// sources when empty). A run always rebuilds the keyword and vector
// indexes together; they share one checkpoint table and cannot drift
// apart. Progress is observed through Stats.
func (s *Service) Reindex(sourceNames []string, fullRebuild bool) (*ReindexStatus, error) {
	srcs, err := s.resolveSources(sourceNames)
	if err != nil {
		return nil, err
	}

	runType := coordinator.RunIncremental
	if fullRebuild {
		runType = coordinator.RunFullRebuild
	}

	names := make([]string, len(srcs))
	for i, src := range srcs {
		names[i] = src.Name
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if fullRebuild && len(sourceNames) == 0 {
			s.clearSystemMeta(s.runCtx)
		}
		_, _ = s.runSources(s.runCtx, srcs, runType)
	}()

	return &ReindexStatus{Status: "started", StartedAt: time.Now().UTC(), Sources: names}, nil
}

// IndexNow runs the named sources synchronously and returns the
// per-source results. Like Reindex it always covers both indexes.
// Used by the one-shot CLI path.
func (s *Service) IndexNow(ctx context.Context, sourceNames []string, fullRebuild bool) ([]*coordinator.Result, error) {
	srcs, err := s.resolveSources(sourceNames)
	if err != nil {
		return nil, err
	}

	runType := coordinator.RunIncremental
	if fullRebuild {
		runType = coordinator.RunFullRebuild
	}
	if fullRebuild && len(sourceNames) == 0 {
		s.clearSystemMeta(ctx)
	}
	return s.runSources(ctx, srcs, runType)
}

// clearSystemMeta drops system markers ahead of a rebuild of every
// source, so stale values never survive the data they describe.
func (s *Service) clearSystemMeta(ctx context.Context) {
	if err := s.store.ClearMeta(ctx); err != nil {
		s.logger.Warn("system_meta_clear_failed", slog.String("error", err.Error()))
	}
}

// runSources indexes sources with bounded parallelism. A failed source
// does not stop the others; its result carries the error.
func (s *Service) runSources(ctx context.Context, srcs []*source.Source, runType coordinator.RunType) ([]*coordinator.Result, error) {
	results := make([]*coordinator.Result, len(srcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexParallelism)
	for i, src := range srcs {
		g.Go(func() error {
			res, err := s.coord.Index(gctx, src, runType)
			if err != nil && res == nil {
				res = &coordinator.Result{
					SourceID: src.ID,
					RunType:  runType,
					Status:   coordinator.StatusFailed,
					Err:      err,
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// resolveSources maps names to catalogue entries; empty means all
// enabled sources.
func (s *Service) resolveSources(names []string) ([]*source.Source, error) {
	if len(names) == 0 {
		srcs := s.registry.Enabled()
		if len(srcs) == 0 {
			return nil, ragerr.New(ragerr.ErrCodeSourceNotFound, "no enabled sources configured", nil).
				WithSuggestion("declare sources in myragdb.yaml or run 'myragdb sources add'")
		}
		return srcs, nil
	}

	srcs := make([]*source.Source, 0, len(names))
	for _, name := range names {
		src, err := s.registry.Get(name)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, src)
	}
	return srcs, nil
}

// StopIndexing cancels active runs and reports which sources stopped.
func (s *Service) StopIndexing() []string {
	active := s.coord.Active()
	s.coord.Stop()

	names := make([]string, 0, len(active))
	for _, id := range active {
		if src, err := s.registry.Get(id); err == nil {
			names = append(names, src.Name)
		} else {
			names = append(names, id)
		}
	}
	return names
}

// DiscoveredSource is one repository candidate found by Discover.
type DiscoveredSource struct {
	Source         *source.Source
	AlreadyIndexed bool
}

// DiscoveryReport summarizes one discovery walk.
type DiscoveryReport struct {
	TotalFound     int
	New            int
	AlreadyIndexed int
	Items          []*DiscoveredSource
}

// Discover walks root for version-controlled repositories, at most
// maxDepth directories deep (<= 0 means the default), and marks
// candidates already present in the catalogue.
func (s *Service) Discover(root string, maxDepth int) (*DiscoveryReport, error) {
	candidates, err := source.Discover(root, maxDepth)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeInvalidPath,
			fmt.Sprintf("discovery failed under %s", root), err)
	}

	report := &DiscoveryReport{TotalFound: len(candidates)}
	for _, cand := range candidates {
		item := &DiscoveredSource{Source: cand}
		if _, err := s.registry.Get(cand.ID); err == nil {
			item.AlreadyIndexed = true
			report.AlreadyIndexed++
		} else {
			report.New++
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}

// AddReport summarizes an AddSources call.
type AddReport struct {
	Added   []string
	Skipped []string
}

// AddSources registers the given paths as sources. A path containing a
// .git marker becomes a repository source, anything else a directory
// source. Paths already in the catalogue are skipped.
func (s *Service) AddSources(paths []string, priority config.Priority, enabled bool) (*AddReport, error) {
	if priority != "" && !priority.Valid() {
		return nil, ragerr.New(ragerr.ErrCodeInvalidInput,
			fmt.Sprintf("priority must be high, medium, or low, got %q", priority), nil)
	}

	report := &AddReport{}
	for _, raw := range paths {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, ragerr.New(ragerr.ErrCodeInvalidPath, fmt.Sprintf("bad path %q", raw), err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, ragerr.New(ragerr.ErrCodeInvalidPath,
				fmt.Sprintf("%s is not a directory", abs), err)
		}

		kind := source.KindDirectory
		if _, err := os.Stat(filepath.Join(abs, ".git")); err == nil {
			kind = source.KindRepository
		}

		src := &source.Source{
			ID:       source.DeriveID(kind, abs),
			Name:     filepath.Base(abs),
			Kind:     kind,
			Path:     abs,
			Priority: priority,
			Enabled:  enabled,
			AddedAt:  time.Now().UTC(),
		}
		if _, err := s.registry.Get(src.ID); err == nil {
			report.Skipped = append(report.Skipped, src.Name)
			continue
		}

		if err := s.registry.Add(src); err != nil {
			if ragerr.GetCode(err) == ragerr.ErrCodeSourceExists {
				report.Skipped = append(report.Skipped, src.Name)
				continue
			}
			return nil, err
		}
		report.Added = append(report.Added, src.Name)

		if enabled && s.watcher != nil {
			if err := s.watcher.Watch(s.runCtx, src); err != nil {
				s.logger.Warn("watch_start_failed",
					slog.String("source", src.Name),
					slog.String("error", err.Error()))
			}
		}
	}
	return report, nil
}

// EnableSource turns a source back on and resumes watching it.
func (s *Service) EnableSource(nameOrID string) error {
	src, err := s.registry.SetEnabled(nameOrID, true)
	if err != nil {
		return err
	}

	if s.watcher != nil {
		if err := s.watcher.Watch(s.runCtx, src); err != nil &&
			ragerr.GetCode(err) != ragerr.ErrCodeSourceExists {
			s.logger.Warn("watch_start_failed",
				slog.String("source", src.Name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// DisableSource stops watching and indexing a source but keeps its
// indexed documents searchable.
func (s *Service) DisableSource(nameOrID string) error {
	src, err := s.registry.SetEnabled(nameOrID, false)
	if err != nil {
		return err
	}

	if s.watcher != nil {
		if err := s.watcher.Unwatch(src.ID); err != nil &&
			ragerr.GetCode(err) != ragerr.ErrCodeSourceNotFound {
			return err
		}
	}
	s.coord.StopSource(src.ID)
	return nil
}

// RemoveSource drops a source from the catalogue and synchronously
// purges its documents from both indexes and the checkpoint store.
func (s *Service) RemoveSource(ctx context.Context, nameOrID string) error {
	src, err := s.registry.Get(nameOrID)
	if err != nil {
		return err
	}

	s.coord.StopSource(src.ID)
	if s.watcher != nil {
		if err := s.watcher.Unwatch(src.ID); err != nil &&
			ragerr.GetCode(err) != ragerr.ErrCodeSourceNotFound {
			return err
		}
	}

	if _, err := s.registry.Remove(src.ID); err != nil {
		return err
	}

	docs, err := s.keyword.DeleteBySource(ctx, src.ID)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, "keyword purge failed", err)
	}
	chunks := s.vector.DeleteBySource(ctx, src.ID)
	if err := s.store.DeleteSourceFiles(ctx, src.ID); err != nil {
		return ragerr.New(ragerr.ErrCodeStoreFailed, "checkpoint purge failed", err)
	}

	s.logger.Info("source_removed",
		slog.String("source", src.Name),
		slog.Int("documents", docs),
		slog.Int("chunks", chunks))
	return nil
}

// Sources lists the catalogue ordered by name.
func (s *Service) Sources() []*source.Source {
	return s.registry.List()
}

// Sweep prunes observability rows older than the retention window.
// Unresolved error rows are preserved.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	pruned, err := s.store.PruneObservability(ctx, cutoff)
	if err != nil {
		return 0, ragerr.New(ragerr.ErrCodeStoreFailed, "retention sweep failed", err)
	}
	if pruned > 0 {
		s.logger.Info("retention_sweep",
			slog.Int64("rows_pruned", pruned),
			slog.Time("cutoff", cutoff))
	}
	return pruned, nil
}
