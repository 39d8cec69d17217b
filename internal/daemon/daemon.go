// Package daemon implements the csync background daemon: a change-coalescing
// scheduler fed by a recursive file watcher, supervised per watched path.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/csync-dev/csync/internal/config"
	"github.com/csync-dev/csync/internal/registry"
	"github.com/csync-dev/csync/internal/transfer"
)

var (
	ErrAlreadyRunning    = errors.New("daemon already running for this path")
	ErrRemoteUnreachable = errors.New("cannot reach remote over ssh")
)

// Daemon wires the watcher, change set, scheduler, transfer delegate and
// process registry for one watched path, and owns their lifecycle.
type Daemon struct {
	cfg       *config.Config
	reg       *registry.Registry
	rsync     *transfer.Rsync
	watcher   *Watcher
	scheduler *Scheduler
	signature string

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(cfg *config.Config, reg *registry.Registry) *Daemon {
	// transfers run with verbose/progress options stripped so the daemon log
	// stays readable
	quiet := cfg.Quiet()
	root := cfg.Root()

	rsync := transfer.NewRsync(quiet)
	filter := NewFilter(root, cfg.ExcludePatterns, cfg.IgnoreMatcher())
	changes := NewChangeSet(root)

	push := func(ctx context.Context, _ []string) error {
		// whole-tree sync; the drained batch only drives scheduling and logs
		return rsync.Push(ctx, transfer.PushOptions{})
	}

	scheduler := NewScheduler(root, changes, push, cfg.Delay(), cfg.MaxInterval())
	scheduler.OnSynced(func(lastSync time.Time, count uint64) {
		if err := reg.UpdateStats(root, lastSync, count); err != nil {
			slog.Warn("stats update failed", "error", err)
		}
	})

	return &Daemon{
		cfg:       cfg,
		reg:       reg,
		rsync:     rsync,
		watcher:   NewWatcher(root, filter.ShouldExclude),
		scheduler: scheduler,
		signature: registry.Signature(root),
	}
}

// Signature identifies this daemon instance in the process registry.
func (d *Daemon) Signature() string {
	return d.signature
}

// Scheduler exposes the scheduler, mainly for stats inspection.
func (d *Daemon) Scheduler() *Scheduler {
	return d.scheduler
}

// Start runs the daemon until ctx is cancelled. Startup preconditions fail
// fast, in order: an existing live daemon for the path, then remote
// reachability. Registration happens under the current process identity,
// which in detached mode is already the final daemon process.
func (d *Daemon) Start(ctx context.Context) error {
	root := d.cfg.Root()

	if existing := d.reg.FindByPath(root); existing != nil {
		return fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, root, existing.PID)
	}

	slog.Info("checking ssh connectivity", "target", d.cfg.RemoteTarget())
	if !CheckSSH(ctx, d.cfg) {
		return fmt.Errorf("%w: %s, check your config and network", ErrRemoteUnreachable, d.cfg.RemoteTarget())
	}

	if err := d.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	ok, err := d.reg.Register(&registry.Record{
		PID:          os.Getpid(),
		LocalPath:    root,
		RemoteTarget: d.cfg.RemoteTarget(),
		ConfigFile:   d.cfg.Path,
		Signature:    d.signature,
		StartedAt:    time.Now(),
	})
	if err != nil {
		d.watcher.Stop()
		return fmt.Errorf("register daemon: %w", err)
	}
	if !ok {
		d.watcher.Stop()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, root)
	}

	d.wg.Add(1)
	go d.pumpEvents()

	slog.Info("watching for changes", "path", root, "target", d.cfg.RemoteTarget())

	// initial sync so a fresh daemon doesn't sit out the first debounce window
	slog.Info("performing initial sync")
	if _, err := d.scheduler.PerformSync(ctx); err != nil {
		slog.Error("initial sync failed", "error", err)
	}

	d.scheduler.Run(ctx)

	d.Stop()
	return nil
}

// pumpEvents feeds watcher events into the scheduler. The filter/accumulate
// step never blocks event delivery beyond channel buffering.
func (d *Daemon) pumpEvents() {
	defer d.wg.Done()
	for path := range d.watcher.Events() {
		d.scheduler.Notify(path)
	}
}

// Stop shuts the daemon down: stop watching, join the event pump, deregister.
// Idempotent.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.watcher.Stop()
		d.wg.Wait()
		d.reg.Remove(d.signature)
		slog.Info("daemon stopped", "signature", d.signature)
	})
}
