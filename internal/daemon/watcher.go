package daemon

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// ExcludeCallback returns true if the event for the path should be dropped.
type ExcludeCallback func(path string) bool

// Watcher delivers recursive file-change notifications for a directory tree.
// Raw events are filtered through the exclude callback, then debounced
// per-path: editors and inotify both emit bursts of writes for one save.
type Watcher struct {
	watchDir  string
	rawEvents chan notify.EventInfo
	events    chan string
	exclude   ExcludeCallback

	done chan struct{}
	wg   sync.WaitGroup

	pendingEvents   map[string]notify.EventInfo
	eventTimers     map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration

	// closed is set under debounceMu before the events channel is closed, so
	// straggling debounce timers can never send on a closed channel.
	closed bool

	stopOnce sync.Once
}

func NewWatcher(watchDir string, exclude ExcludeCallback) *Watcher {
	return &Watcher{
		watchDir:        watchDir,
		exclude:         exclude,
		done:            make(chan struct{}),
		pendingEvents:   make(map[string]notify.EventInfo),
		eventTimers:     make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout overrides the per-path debounce window.
func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "dir", w.watchDir)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan string, eventBufferSize)

	recursivePath := w.watchDir + "/..."
	if err := notify.Watch(recursivePath, w.rawEvents, notify.All); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	return nil
}

// Stop halts watching and joins the filter goroutine. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		slog.Info("watcher stopping")

		close(w.done)
		if w.rawEvents != nil {
			notify.Stop(w.rawEvents)
		}
		w.wg.Wait()

		slog.Info("watcher stopped")
	})
}

// Events is the stream of debounced, filtered file paths.
func (w *Watcher) Events() <-chan string {
	return w.events
}

func (w *Watcher) filterEvents(ctx context.Context) {
	defer func() {
		// Cancel pending timers and flush what they held. The closed flag is
		// set under the same lock the timers send under, so once it is up no
		// straggler can reach the channel.
		w.debounceMu.Lock()
		for path, timer := range w.eventTimers {
			timer.Stop()
			delete(w.eventTimers, path)
			if _, exists := w.pendingEvents[path]; exists {
				delete(w.pendingEvents, path)
				select {
				case w.events <- path:
				default:
					slog.Warn("watcher channel full during exit, dropping event", "path", path)
				}
			}
		}
		w.closed = true
		w.debounceMu.Unlock()

		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}

			if isDirectory(event.Path()) {
				continue
			}

			if w.exclude != nil && w.exclude(event.Path()) {
				continue
			}

			w.debounceEvent(event)
		}
	}
}

func (w *Watcher) debounceEvent(event notify.EventInfo) {
	path := event.Path()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.eventTimers[path]; exists {
		timer.Stop()
		delete(w.eventTimers, path)
	}

	w.pendingEvents[path] = event

	timer := time.AfterFunc(w.debounceTimeout, func() {
		w.flushEvent(path)
	})
	w.eventTimers[path] = timer
}

func (w *Watcher) flushEvent(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	event, exists := w.pendingEvents[path]
	if !exists || w.closed {
		return
	}
	delete(w.pendingEvents, path)
	delete(w.eventTimers, path)

	// non-blocking: holding debounceMu here, never wait on the consumer
	select {
	case w.events <- path:
		slog.Debug("watcher", "event", event.Event(), "path", path)
	default:
		slog.Warn("watcher dropped", "reason", "channel full", "path", path)
	}
}

// isDirectory reports whether path is a directory that still exists. A path
// that can't be stat'ed (removed file) is treated as a file so deletions
// still count as changes.
func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
