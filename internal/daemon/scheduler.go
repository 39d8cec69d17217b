package daemon

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/csync-dev/csync/internal/utils"
)

const (
	// minWait floors the interruptible wait so an overdue decision point
	// doesn't degenerate into a busy loop.
	minWait = 50 * time.Millisecond

	// errorBackoff is the pause after an unexpected sync failure before the
	// loop resumes.
	errorBackoff = 5 * time.Second

	// maxChangesShown caps how many changed paths a sync logs individually.
	maxChangesShown = 5
)

// TransferFunc pushes the local tree to the remote target. The changed paths
// are advisory; the delegate decides whether to transfer the batch or the
// whole tree.
type TransferFunc func(ctx context.Context, changed []string) error

// Stats is a snapshot of the scheduler's sync counters. Duration keeps its
// prior value when a sync attempt fails.
type Stats struct {
	SyncCount          uint64
	LastSyncAt         time.Time
	LastSyncDurationMs float64
}

// Scheduler owns the ChangeSet and decides when to trigger a transfer. At
// most one transfer runs at a time; a trigger that finds one in flight is a
// no-op, not queued.
type Scheduler struct {
	root        string
	changes     *ChangeSet
	push        TransferFunc
	baseDelay   time.Duration
	maxInterval time.Duration

	// onSynced propagates stats after each successful sync (to the process
	// registry). Optional.
	onSynced func(lastSync time.Time, count uint64)

	mu    sync.Mutex // guards stats
	stats Stats

	syncMu sync.Mutex // sync exclusion, acquired with TryLock only

	wake chan struct{}
}

func NewScheduler(root string, changes *ChangeSet, push TransferFunc, baseDelay, maxInterval time.Duration) *Scheduler {
	return &Scheduler{
		root:        root,
		changes:     changes,
		push:        push,
		baseDelay:   baseDelay,
		maxInterval: maxInterval,
		wake:        make(chan struct{}, 1),
	}
}

// OnSynced registers a callback invoked after every successful sync.
func (s *Scheduler) OnSynced(fn func(lastSync time.Time, count uint64)) {
	s.onSynced = fn
}

// Notify records a changed path and wakes the loop so a fresh event can
// shorten the next check.
func (s *Scheduler) Notify(path string) {
	s.changes.Add(path)
	s.Wake()
}

// Wake interrupts the loop's timed wait. Coalesces when a wakeup is already
// pending.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the sync counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ShouldSyncNow reports whether a sync is due: either the forced interval
// since the last sync has elapsed (periodic sync even with no detected
// changes), or the adaptive delay since the first pending change has passed.
func (s *Scheduler) ShouldSyncNow() bool {
	s.mu.Lock()
	last := s.stats.LastSyncAt
	s.mu.Unlock()

	if time.Since(last) > s.maxInterval {
		return true
	}

	if first, ok := s.changes.FirstChangeAt(); ok {
		if time.Since(first) > s.changes.AdaptiveDelay(s.baseDelay) {
			return true
		}
	}

	return false
}

// PerformSync drains the ChangeSet and invokes the transfer delegate. When
// another sync is already in flight it returns (false, nil) without touching
// the ChangeSet. Stats are only updated after the delegate reports success.
func (s *Scheduler) PerformSync(ctx context.Context) (bool, error) {
	if !s.syncMu.TryLock() {
		return false, nil
	}
	defer s.syncMu.Unlock()

	changed := s.changes.Drain()
	s.logBatch(changed)

	start := time.Now()
	if err := s.push(ctx, changed); err != nil {
		return true, err
	}
	elapsed := time.Since(start)

	s.mu.Lock()
	s.stats.SyncCount++
	s.stats.LastSyncAt = time.Now()
	s.stats.LastSyncDurationMs = float64(elapsed.Microseconds()) / 1000.0
	count := s.stats.SyncCount
	lastSync := s.stats.LastSyncAt
	s.mu.Unlock()

	if s.onSynced != nil {
		s.onSynced(lastSync, count)
	}

	slog.Info("sync completed", "files", len(changed), "duration", elapsed.Round(time.Millisecond))
	return true, nil
}

func (s *Scheduler) logBatch(changed []string) {
	if len(changed) == 0 {
		slog.Info("performing scheduled sync")
		return
	}

	sort.Strings(changed)
	shown := changed
	if len(shown) > maxChangesShown {
		shown = shown[:maxChangesShown]
	}
	for _, path := range shown {
		slog.Debug("pending change", "path", utils.RelPath(s.root, path))
	}
	if rest := len(changed) - len(shown); rest > 0 {
		slog.Debug("pending changes", "more", rest)
	}
	slog.Info("syncing changes", "files", len(changed))
}

// nextWait returns the remaining time until the next scheduling decision
// point: the sooner of the adaptive-delay deadline and the forced-interval
// deadline.
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	last := s.stats.LastSyncAt
	s.mu.Unlock()

	next := s.maxInterval - time.Since(last)

	if first, ok := s.changes.FirstChangeAt(); ok {
		remaining := s.changes.AdaptiveDelay(s.baseDelay) - time.Since(first)
		if remaining < next {
			next = remaining
		}
	}

	if next < minWait {
		next = minWait
	}
	if next > s.maxInterval {
		next = s.maxInterval
	}
	return next
}

// Run is the scheduler main loop: an event-driven wait that is interrupted
// by Wake and by context cancellation. Sync failures are logged and followed
// by a backoff; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler loop start", "base_delay", s.baseDelay, "max_interval", s.maxInterval)
	defer slog.Info("scheduler loop stop")

	for {
		timer := time.NewTimer(s.nextWait())

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}

		if !s.ShouldSyncNow() {
			continue
		}

		if _, err := s.PerformSync(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("sync failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
		}
	}
}
