package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/lballaty/myragdb/internal/scanner"
)

// poller is the fallback when fsnotify cannot initialize (exotic
// filesystems, fd exhaustion). It diff-scans file mtimes on an
// interval and feeds the same debouncer as the notification path.
type poller struct {
	interval time.Duration
	root     string
	scanOpts *scanner.ScanOptions
	emit     func(Change)

	state map[string]pollSnapshot
}

type pollSnapshot struct {
	modTime time.Time
	size    int64
}

func newPoller(interval time.Duration, root string, scanOpts *scanner.ScanOptions, emit func(Change)) *poller {
	return &poller{
		interval: interval,
		root:     root,
		scanOpts: scanOpts,
		emit:     emit,
	}
}

// run polls until the context is cancelled. The first sweep only
// establishes the baseline and emits nothing.
func (p *poller) run(ctx context.Context) {
	p.state = p.snapshot()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep diffs the current tree against the last snapshot.
func (p *poller) sweep() {
	current := p.snapshot()

	for path, snap := range current {
		prev, existed := p.state[path]
		if !existed || prev.modTime != snap.modTime || prev.size != snap.size {
			p.emit(Change{Path: path, Op: OpUpsert})
		}
	}
	for path := range p.state {
		if _, exists := current[path]; !exists {
			p.emit(Change{Path: path, Op: OpRemove})
		}
	}

	p.state = current
}

// snapshot records mtime and size for every file passing the scan
// filters.
func (p *poller) snapshot() map[string]pollSnapshot {
	state := make(map[string]pollSnapshot)

	_ = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		rel, relErr := filepath.Rel(p.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		relSlash := filepath.ToSlash(rel)

		if d.IsDir() {
			if scanner.ExcludedDir(d.Name(), relSlash, p.scanOpts) {
				return filepath.SkipDir
			}
			return nil
		}

		if !scanner.MatchesFilters(relSlash, p.scanOpts) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		state[relSlash] = pollSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})

	return state
}
