package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(push TransferFunc) *Scheduler {
	cs := NewChangeSet("/project")
	return NewScheduler("/project", cs, push, 5*time.Second, 300*time.Second)
}

func okPush(ctx context.Context, changed []string) error { return nil }

func TestShouldSyncNow(t *testing.T) {
	t.Run("forced interval exceeded without pending changes", func(t *testing.T) {
		s := newTestScheduler(okPush)
		s.stats.LastSyncAt = time.Now().Add(-301 * time.Second)
		assert.True(t, s.ShouldSyncNow())
	})

	t.Run("never synced counts as overdue", func(t *testing.T) {
		s := newTestScheduler(okPush)
		assert.True(t, s.ShouldSyncNow())
	})

	t.Run("adaptive delay elapsed since first change", func(t *testing.T) {
		s := newTestScheduler(okPush)
		s.stats.LastSyncAt = time.Now()
		s.changes.Add("/project/a.txt")
		s.changes.mu.Lock()
		s.changes.firstChangeAt = time.Now().Add(-200 * time.Millisecond)
		s.changes.mu.Unlock()
		// 1 pending -> 100ms tier, 200ms elapsed
		assert.True(t, s.ShouldSyncNow())
	})

	t.Run("adaptive delay not yet elapsed", func(t *testing.T) {
		s := newTestScheduler(okPush)
		s.stats.LastSyncAt = time.Now()
		s.changes.Add("/project/a.txt")
		s.changes.Add("/project/b.txt")
		// 2 pending -> 300ms tier, change is fresh
		assert.False(t, s.ShouldSyncNow())
	})

	t.Run("no pending changes within forced interval", func(t *testing.T) {
		s := newTestScheduler(okPush)
		s.stats.LastSyncAt = time.Now()
		assert.False(t, s.ShouldSyncNow())
	})
}

func TestPerformSyncSuccess(t *testing.T) {
	var got []string
	s := newTestScheduler(func(ctx context.Context, changed []string) error {
		got = changed
		return nil
	})
	s.changes.Add("/project/a.txt")
	s.changes.Add("/project/b.txt")
	s.changes.Add("/project/c.txt")

	before := time.Now()
	ran, err := s.PerformSync(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, got, 3)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.SyncCount)
	assert.False(t, stats.LastSyncAt.Before(before))
	assert.GreaterOrEqual(t, stats.LastSyncDurationMs, 0.0)
	assert.Equal(t, 0, s.changes.Len(), "pending changes drained")
}

func TestPerformSyncFailureLeavesStatsUntouched(t *testing.T) {
	pushErr := errors.New("remote exploded")
	s := newTestScheduler(func(ctx context.Context, changed []string) error {
		return pushErr
	})
	s.changes.Add("/project/a.txt")

	ran, err := s.PerformSync(context.Background())
	assert.True(t, ran)
	assert.ErrorIs(t, err, pushErr)

	stats := s.Stats()
	assert.Equal(t, uint64(0), stats.SyncCount)
	assert.True(t, stats.LastSyncAt.IsZero())
	assert.Equal(t, 0.0, stats.LastSyncDurationMs)
}

func TestPerformSyncExclusion(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32

	s := newTestScheduler(func(ctx context.Context, changed []string) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	})
	s.changes.Add("/project/a.txt")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ran, err := s.PerformSync(context.Background())
		assert.True(t, ran)
		assert.NoError(t, err)
	}()

	<-entered
	// second trigger while the first is in flight: no-op, nothing drained
	s.changes.Add("/project/b.txt")
	ran, err := s.PerformSync(context.Background())
	assert.False(t, ran)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.changes.Len(), "concurrent trigger must not drain")

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestSchedulerStatsCallback(t *testing.T) {
	s := newTestScheduler(okPush)

	var gotLast time.Time
	var gotCount uint64
	s.OnSynced(func(lastSync time.Time, count uint64) {
		gotLast = lastSync
		gotCount = count
	})

	_, err := s.PerformSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gotCount)
	assert.Equal(t, s.Stats().LastSyncAt, gotLast)
}

func TestSchedulerEndToEndBurst(t *testing.T) {
	// 3 changes within 0.2s with base delay 5s -> 300ms tier
	var got []string
	s := newTestScheduler(func(ctx context.Context, changed []string) error {
		got = changed
		return nil
	})
	s.stats.LastSyncAt = time.Now() // keep the forced-interval path out

	s.changes.Add("/project/one.txt")
	s.changes.Add("/project/two.txt")
	s.changes.Add("/project/three.txt")
	assert.Equal(t, 300*time.Millisecond, s.changes.AdaptiveDelay(5*time.Second))
	assert.False(t, s.ShouldSyncNow())

	s.changes.mu.Lock()
	s.changes.firstChangeAt = time.Now().Add(-310 * time.Millisecond)
	s.changes.mu.Unlock()
	assert.True(t, s.ShouldSyncNow())

	ran, err := s.PerformSync(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.ElementsMatch(t, []string{"/project/one.txt", "/project/two.txt", "/project/three.txt"}, got)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.SyncCount)
	assert.GreaterOrEqual(t, stats.LastSyncDurationMs, 0.0)
}

func TestSchedulerRunWakesOnNotify(t *testing.T) {
	synced := make(chan []string, 1)
	s := newTestScheduler(func(ctx context.Context, changed []string) error {
		select {
		case synced <- changed:
		default:
		}
		return nil
	})
	s.stats.LastSyncAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// single change: 100ms tier, the wake signal should get it synced fast
	s.Notify("/project/a.txt")

	select {
	case changed := <-synced:
		assert.Equal(t, []string{"/project/a.txt"}, changed)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler never synced after notify")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not stop on cancel")
	}
}

func TestNextWaitBounds(t *testing.T) {
	s := newTestScheduler(okPush)

	t.Run("floors at minWait when overdue", func(t *testing.T) {
		s.stats.LastSyncAt = time.Now().Add(-400 * time.Second)
		assert.Equal(t, minWait, s.nextWait())
	})

	t.Run("tracks the adaptive deadline when sooner", func(t *testing.T) {
		s.stats.LastSyncAt = time.Now()
		s.changes.Add("/project/a.txt")
		wait := s.nextWait()
		assert.LessOrEqual(t, wait, delaySingle)
	})
}
