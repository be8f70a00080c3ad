package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitBatch(t *testing.T, d *Debouncer, timeout time.Duration) []Change {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(timeout):
		t.Fatal("timed out waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_BurstCollapsesToOneBatch(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(Change{Path: "a.go", Op: OpUpsert})
	d.Add(Change{Path: "b.go", Op: OpUpsert})
	d.Add(Change{Path: "c.go", Op: OpUpsert})

	batch := awaitBatch(t, d, 2*time.Second)
	require.Len(t, batch, 3)

	// Batches come out sorted by path.
	assert.Equal(t, "a.go", batch[0].Path)
	assert.Equal(t, "b.go", batch[1].Path)
	assert.Equal(t, "c.go", batch[2].Path)

	select {
	case extra := <-d.Output():
		t.Fatalf("unexpected second batch: %v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncer_LatestOperationWins(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(Change{Path: "gone.go", Op: OpUpsert})
	d.Add(Change{Path: "gone.go", Op: OpRemove})
	d.Add(Change{Path: "replaced.go", Op: OpRemove})
	d.Add(Change{Path: "replaced.go", Op: OpUpsert})

	batch := awaitBatch(t, d, 2*time.Second)
	require.Len(t, batch, 2)

	byPath := make(map[string]Op, len(batch))
	for _, c := range batch {
		byPath[c.Path] = c.Op
	}
	assert.Equal(t, OpRemove, byPath["gone.go"])
	assert.Equal(t, OpUpsert, byPath["replaced.go"])
}

func TestDebouncer_TimerRestartsOnEachChange(t *testing.T) {
	d := NewDebouncer(200 * time.Millisecond)
	defer d.Stop()

	d.Add(Change{Path: "a.go", Op: OpUpsert})
	time.Sleep(120 * time.Millisecond)
	d.Add(Change{Path: "b.go", Op: OpUpsert})

	// 120ms after the second change the original window has elapsed,
	// but the restarted one has not.
	select {
	case batch := <-d.Output():
		t.Fatalf("flushed before the quiet window elapsed: %v", batch)
	case <-time.After(120 * time.Millisecond):
	}

	batch := awaitBatch(t, d, 2*time.Second)
	assert.Len(t, batch, 2)
}

func TestDebouncer_StopDropsPendingWork(t *testing.T) {
	d := NewDebouncer(time.Hour)

	d.Add(Change{Path: "a.go", Op: OpUpsert})
	assert.Equal(t, 1, d.Pending())

	d.Stop()

	_, open := <-d.Output()
	assert.False(t, open)
}

func TestDebouncer_AddAfterStopIsNoop(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Stop()
	d.Add(Change{Path: "a.go", Op: OpUpsert})
	d.Stop()
}
