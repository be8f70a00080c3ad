package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/source"
)

func testSource(t *testing.T, root string) *source.Source {
	t.Helper()
	return &source.Source{
		ID:      source.DeriveID(source.KindDirectory, root),
		Name:    "test-source",
		Kind:    source.KindDirectory,
		Path:    root,
		Exclude: []string{"**/*.log"},
		Enabled: true,
	}
}

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w := New(Options{DebounceWindow: 100 * time.Millisecond}, nil)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func awaitRequest(t *testing.T, w *Watcher, timeout time.Duration) *Request {
	t.Helper()
	select {
	case req := <-w.Requests():
		return req
	case <-time.After(timeout):
		t.Fatal("timed out waiting for watch request")
		return nil
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatch_CreateEmitsUpsert(t *testing.T) {
	root := t.TempDir()
	src := testSource(t, root)
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(context.Background(), src))

	writeFile(t, filepath.Join(root, "main.go"), "package main")

	req := awaitRequest(t, w, 5*time.Second)
	assert.Equal(t, src.ID, req.SourceID)
	require.Len(t, req.Changes, 1)
	assert.Equal(t, "main.go", req.Changes[0].Path)
	assert.Equal(t, OpUpsert, req.Changes[0].Op)
}

func TestWatch_BurstCoalescesIntoOneRequest(t *testing.T) {
	root := t.TempDir()
	src := testSource(t, root)
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(context.Background(), src))

	writeFile(t, filepath.Join(root, "a.go"), "package a")
	writeFile(t, filepath.Join(root, "b.go"), "package b")
	writeFile(t, filepath.Join(root, "c.go"), "package c")

	req := awaitRequest(t, w, 5*time.Second)
	paths := make(map[string]bool)
	for _, c := range req.Changes {
		paths[c.Path] = true
	}
	assert.True(t, paths["a.go"])
	assert.True(t, paths["b.go"])
	assert.True(t, paths["c.go"])
}

func TestWatch_DeleteEmitsRemove(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "doomed.go")
	writeFile(t, path, "package doomed")

	src := testSource(t, root)
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(context.Background(), src))

	require.NoError(t, os.Remove(path))

	req := awaitRequest(t, w, 5*time.Second)
	require.Len(t, req.Changes, 1)
	assert.Equal(t, "doomed.go", req.Changes[0].Path)
	assert.Equal(t, OpRemove, req.Changes[0].Op)
}

func TestWatch_ExcludedPathsProduceNothing(t *testing.T) {
	root := t.TempDir()
	src := testSource(t, root)
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(context.Background(), src))

	writeFile(t, filepath.Join(root, "debug.log"), "noise")

	select {
	case req := <-w.Requests():
		t.Fatalf("excluded file produced a request: %v", req)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatch_NewSubdirectoryIsCovered(t *testing.T) {
	root := t.TempDir()
	src := testSource(t, root)
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(context.Background(), src))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	// Give fsnotify a moment to pick up the new directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, filepath.Join(root, "pkg", "util.go"), "package pkg")

	req := awaitRequest(t, w, 5*time.Second)
	paths := make(map[string]Op)
	for _, c := range req.Changes {
		paths[c.Path] = c.Op
	}
	assert.Equal(t, OpUpsert, paths["pkg/util.go"])
}

func TestWatch_SameSourceTwiceRejected(t *testing.T) {
	root := t.TempDir()
	src := testSource(t, root)
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(context.Background(), src))

	err := w.Watch(context.Background(), src)
	assert.Equal(t, ragerr.ErrCodeSourceExists, ragerr.GetCode(err))
}

func TestUnwatch_DropsPendingWork(t *testing.T) {
	root := t.TempDir()
	src := testSource(t, root)
	w := New(Options{DebounceWindow: time.Hour}, nil)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Watch(context.Background(), src))

	writeFile(t, filepath.Join(root, "pending.go"), "package pending")
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, w.Unwatch(src.ID))
	assert.Empty(t, w.Watched())

	select {
	case req, open := <-w.Requests():
		if open {
			t.Fatalf("pending work flushed after unwatch: %v", req)
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestUnwatch_UnknownSource(t *testing.T) {
	w := newTestWatcher(t)
	err := w.Unwatch("no-such-source")
	assert.Equal(t, ragerr.ErrCodeSourceNotFound, ragerr.GetCode(err))
}

func TestClose_ClosesRequestChannel(t *testing.T) {
	root := t.TempDir()
	w := New(Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, w.Watch(context.Background(), testSource(t, root)))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, open := <-w.Requests()
	assert.False(t, open)
}

func TestWatch_AfterCloseRejected(t *testing.T) {
	w := New(Options{}, nil)
	require.NoError(t, w.Close())

	err := w.Watch(context.Background(), testSource(t, t.TempDir()))
	assert.Equal(t, ragerr.ErrCodeShutdown, ragerr.GetCode(err))
}
