package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid file changes so a burst of events produces
// one reindex request. The timer restarts on every accepted change;
// the pending set flushes only after a full quiet window.
//
// Changes for the same path collapse to the latest operation: upsert
// followed by remove is a remove, remove followed by upsert is an
// upsert (the file was replaced). Both operations describe an absolute
// target state, so last-wins is exact.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]Op
	timer   *time.Timer
	output  chan []Change
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]Op),
		output:  make(chan []Change, 10),
	}
}

// Add records a change and restarts the quiet-window timer.
func (d *Debouncer) Add(change Change) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending[change.Path] = change.Op

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush snapshots the pending set and emits it as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	changes := make([]Change, 0, len(d.pending))
	for path, op := range d.pending {
		changes = append(changes, Change{Path: path, Op: op})
	}
	d.pending = make(map[string]Op)

	// Deterministic batch order.
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	select {
	case d.output <- changes:
	default:
		slog.Warn("debounce_output_full",
			slog.Int("batch_size", len(changes)))
	}
}

// Output returns the channel of coalesced batches.
func (d *Debouncer) Output() <-chan []Change {
	return d.output
}

// Pending returns the number of paths awaiting flush.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels the timer, drops pending work, and closes the output
// channel. Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = nil
	close(d.output)
}
