// Package watcher turns raw filesystem notifications into coalesced
// reindex requests.
//
// Each watched source gets its own subscription and debounce timer.
// Bursts of events within the debounce window collapse into a single
// request carrying the changed paths, which the indexing coordinator
// consumes as an incremental run.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/scanner"
	"github.com/lballaty/myragdb/internal/source"
)

// Op is the index operation a file change maps to.
type Op int

const (
	// OpUpsert reindexes the file (created, modified, or moved in).
	OpUpsert Op = iota
	// OpRemove deletes the file from both indexes.
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpUpsert:
		return "upsert"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is one debounced file-level change.
type Change struct {
	// Path is relative to the source root, slash-separated.
	Path string
	// Op is the index operation.
	Op Op
}

// Request is one coalesced batch handed to the indexing coordinator.
type Request struct {
	SourceID string
	Changes  []Change
}

// DefaultDebounceWindow is the quiet interval after the last event
// before a request is emitted.
const DefaultDebounceWindow = 5 * time.Second

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the quiet interval before emitting a request.
	// Default 5s.
	DebounceWindow time.Duration

	// PollInterval drives the polling fallback when fsnotify cannot
	// initialize. Default 5s.
	PollInterval time.Duration

	// RequestBuffer is the request channel capacity. Default 64.
	RequestBuffer int
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.RequestBuffer == 0 {
		o.RequestBuffer = 64
	}
	return o
}

// Watcher manages per-source filesystem subscriptions and emits
// debounced reindex requests on a shared channel.
type Watcher struct {
	opts     Options
	logger   *slog.Logger
	requests chan *Request

	mu      sync.Mutex
	sources map[string]*subscription
	closed  bool

	droppedBatches atomic.Uint64
}

type subscription struct {
	source   *source.Source
	scanOpts *scanner.ScanOptions

	fs     *fsnotify.Watcher // nil when polling
	poll   *poller           // nil when fsnotify is active
	deb    *Debouncer
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New creates a watcher. A nil logger uses the default.
func New(opts Options, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Watcher{
		opts:     opts,
		logger:   logger,
		requests: make(chan *Request, opts.RequestBuffer),
		sources:  make(map[string]*subscription),
	}
}

// Requests returns the channel of coalesced reindex requests.
// The channel closes when the watcher closes.
func (w *Watcher) Requests() <-chan *Request {
	return w.requests
}

// Watch subscribes to filesystem events under src's root. Events are
// filtered with the same rules the scanner applies, debounced, and
// emitted on Requests. Falls back to mtime polling when the platform
// notification API is unavailable.
func (w *Watcher) Watch(ctx context.Context, src *source.Source) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ragerr.New(ragerr.ErrCodeShutdown, "watcher is closed", nil)
	}
	if _, exists := w.sources[src.ID]; exists {
		return ragerr.New(ragerr.ErrCodeSourceExists,
			fmt.Sprintf("source %s is already watched", src.Name), nil)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		source: src,
		scanOpts: &scanner.ScanOptions{
			RootDir:         src.Path,
			IncludePatterns: src.Include,
			ExcludePatterns: src.Exclude,
		},
		deb:    NewDebouncer(w.opts.DebounceWindow),
		cancel: cancel,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		sub.fs = fsw
		if err := w.addRecursive(sub, src.Path); err != nil {
			_ = fsw.Close()
			cancel()
			return fmt.Errorf("subscribe to %s: %w", src.Path, err)
		}
	} else {
		w.logger.Warn("fsnotify_unavailable",
			slog.String("source", src.Name),
			slog.String("error", err.Error()))
		sub.poll = newPoller(w.opts.PollInterval, src.Path, sub.scanOpts, sub.deb.Add)
	}

	sub.done.Add(2)
	go func() {
		defer sub.done.Done()
		w.run(subCtx, sub)
	}()
	go func() {
		defer sub.done.Done()
		w.forward(subCtx, sub)
	}()

	w.sources[src.ID] = sub
	w.logger.Info("watch_started",
		slog.String("source", src.Name),
		slog.String("path", src.Path),
		slog.Duration("debounce_window", w.opts.DebounceWindow))
	return nil
}

// Unwatch cancels the source's timer, drops pending work, and tears
// down the subscription.
func (w *Watcher) Unwatch(sourceID string) error {
	w.mu.Lock()
	sub, ok := w.sources[sourceID]
	if ok {
		delete(w.sources, sourceID)
	}
	w.mu.Unlock()

	if !ok {
		return ragerr.New(ragerr.ErrCodeSourceNotFound,
			fmt.Sprintf("source %s is not watched", sourceID), nil)
	}

	w.teardown(sub)
	w.logger.Info("watch_stopped", slog.String("source", sub.source.Name))
	return nil
}

// Watched returns the IDs of currently watched sources.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.sources))
	for id := range w.sources {
		ids = append(ids, id)
	}
	return ids
}

// DroppedBatches returns how many request batches were dropped because
// the coordinator fell behind.
func (w *Watcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Close tears down every subscription and closes the request channel.
// Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	subs := make([]*subscription, 0, len(w.sources))
	for _, sub := range w.sources {
		subs = append(subs, sub)
	}
	w.sources = make(map[string]*subscription)
	w.mu.Unlock()

	for _, sub := range subs {
		w.teardown(sub)
	}
	close(w.requests)
	return nil
}

func (w *Watcher) teardown(sub *subscription) {
	sub.cancel()
	sub.deb.Stop()
	if sub.fs != nil {
		_ = sub.fs.Close()
	}
	sub.done.Wait()
}

// run consumes raw notifications for one subscription.
func (w *Watcher) run(ctx context.Context, sub *subscription) {
	if sub.poll != nil {
		sub.poll.run(ctx)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(sub, event)
		case err, ok := <-sub.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error",
				slog.String("source", sub.source.Name),
				slog.String("error", err.Error()))
		}
	}
}

// handleEvent maps one fsnotify event to an index operation.
// Created and modified files upsert; deleted files remove. A move
// surfaces as a rename of the old path (remove) plus a create of the
// new one (upsert). Directory events are not indexed, but a created
// directory extends the subscription so its files are seen.
func (w *Watcher) handleEvent(sub *subscription, event fsnotify.Event) {
	rel, err := filepath.Rel(sub.source.Path, event.Name)
	if err != nil || rel == "." {
		return
	}
	relSlash := filepath.ToSlash(rel)

	if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 &&
			!scanner.ExcludedDir(filepath.Base(event.Name), relSlash, sub.scanOpts) {
			if addErr := w.addRecursive(sub, event.Name); addErr != nil {
				w.logger.Warn("watch_subtree_failed",
					slog.String("source", sub.source.Name),
					slog.String("path", relSlash),
					slog.String("error", addErr.Error()))
			}
		}
		return
	}

	var op Op
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		op = OpUpsert
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpRemove
	default:
		// Chmod and friends never change content.
		return
	}

	if !scanner.MatchesFilters(relSlash, sub.scanOpts) {
		return
	}

	sub.deb.Add(Change{Path: relSlash, Op: op})
}

// forward wraps debounced batches into requests for the coordinator.
func (w *Watcher) forward(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case changes, ok := <-sub.deb.Output():
			if !ok {
				return
			}
			if len(changes) == 0 {
				continue
			}
			w.emit(&Request{SourceID: sub.source.ID, Changes: changes})
		}
	}
}

// emit delivers a request without blocking the subscription loop.
func (w *Watcher) emit(req *Request) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	select {
	case w.requests <- req:
	default:
		count := w.droppedBatches.Add(1)
		w.logger.Warn("watch_request_dropped",
			slog.String("source", req.SourceID),
			slog.Int("changes", len(req.Changes)),
			slog.Uint64("total_dropped", count))
	}
}

// addRecursive subscribes to root and every non-excluded directory
// under it.
func (w *Watcher) addRecursive(sub *subscription, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(sub.source.Path, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return sub.fs.Add(path)
		}

		relSlash := filepath.ToSlash(rel)
		if scanner.ExcludedDir(d.Name(), relSlash, sub.scanOpts) {
			return filepath.SkipDir
		}
		return sub.fs.Add(path)
	})
}
