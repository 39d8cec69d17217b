package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// collectEvents drains the watcher's event stream into a snapshot function.
func collectEvents(t *testing.T, w *Watcher) func() []string {
	t.Helper()

	var mu sync.Mutex
	var paths []string
	go func() {
		for path := range w.Events() {
			mu.Lock()
			paths = append(paths, path)
			mu.Unlock()
		}
	}()

	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), paths...)
	}
}

func TestWatcherDeliversFileEvents(t *testing.T) {
	dir := t.TempDir()

	w := NewWatcher(dir, nil)
	w.SetDebounceTimeout(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	drain := collectEvents(t, w)

	target := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		for _, p := range drain() {
			if p == target {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcherFiltersExcludedPaths(t *testing.T) {
	dir := t.TempDir()
	filter := NewFilter(dir, []string{"*.tmp"}, nil)

	w := NewWatcher(dir, filter.ShouldExclude)
	w.SetDebounceTimeout(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	drain := collectEvents(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0o644))
	wanted := filepath.Join(dir, "kept.txt")
	require.NoError(t, os.WriteFile(wanted, []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, p := range drain() {
			if p == wanted {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)

	for _, p := range drain() {
		require.NotEqual(t, filepath.Join(dir, "scratch.tmp"), p)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	w.Stop()
	w.Stop() // second call must not panic or block
}
