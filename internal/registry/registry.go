// Package registry persists one record per running csync daemon so that
// independent processes can discover, inspect and stop each other. Records
// are keyed by a deterministic signature of the watched path; staleness is
// detected lazily on read and self-healed by deletion.
package registry

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/csync-dev/csync/internal/utils"
)

const (
	signaturePrefix = "csync-"
	signatureLen    = 12

	stopWait     = 10 * time.Second
	stopPollStep = 100 * time.Millisecond
)

var ErrDaemonNotFound = errors.New("no daemon found for path")

// Record describes one running daemon. Persisted as flat JSON next to a pid
// liveness marker.
type Record struct {
	PID          int        `json:"pid"`
	LocalPath    string     `json:"local_path"`
	RemoteTarget string     `json:"remote_target"`
	ConfigFile   string     `json:"config_file"`
	Signature    string     `json:"signature"`
	StartedAt    time.Time  `json:"started_at"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	SyncCount    uint64     `json:"sync_count"`
}

// Registry is an on-disk registry of daemon instances rooted at an injected
// directory, so tests can use a temporary root. The directory is shared by
// all daemons of one user; a file lock serializes mutation across processes.
type Registry struct {
	root string
	lock *flock.Flock
}

// DefaultRoot is the per-user registry directory.
func DefaultRoot() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".csync", "daemons")
}

func New(root string) (*Registry, error) {
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &Registry{
		root: root,
		lock: flock.New(filepath.Join(root, ".registry.lock")),
	}, nil
}

func (r *Registry) Root() string {
	return r.root
}

// Signature derives the deterministic identifier for a watched path, stable
// across processes and restarts.
func Signature(localPath string) string {
	abs, err := utils.ResolvePath(localPath)
	if err != nil {
		abs = localPath
	}
	abs = strings.TrimSuffix(abs, "/")
	sum := md5.Sum([]byte(abs))
	return signaturePrefix + hex.EncodeToString(sum[:])[:signatureLen]
}

func (r *Registry) recordPath(signature string) string {
	return filepath.Join(r.root, signature+".json")
}

func (r *Registry) pidPath(signature string) string {
	return filepath.Join(r.root, signature+".pid")
}

// LogPath is where a detached daemon with this signature writes its log.
func (r *Registry) LogPath(signature string) string {
	return filepath.Join(r.root, signature+".log")
}

// IsProcessRunning distinguishes a genuinely running process from a missing
// PID, a reused one we can't see, or a zombie.
func IsProcessRunning(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}

	running, err := proc.IsRunning()
	if err != nil || !running {
		return false
	}

	statuses, err := proc.Status()
	if err == nil && slices.Contains(statuses, process.Zombie) {
		return false
	}
	return true
}

// Register persists the record unless a live daemon already exists for the
// same path. Returns false without overwriting in that case.
func (r *Registry) Register(rec *Record) (bool, error) {
	if err := r.lock.Lock(); err != nil {
		return false, fmt.Errorf("registry lock: %w", err)
	}
	defer r.lock.Unlock()

	existing := r.readLive(rec.Signature)
	if existing != nil {
		return false, nil
	}

	if err := r.writeRecord(rec); err != nil {
		return false, err
	}
	slog.Info("daemon registered", "path", rec.LocalPath, "pid", rec.PID, "signature", rec.Signature)
	return true, nil
}

// FindByPath returns the live record for a watched path, or nil. A record
// whose process has died is deleted on the spot.
func (r *Registry) FindByPath(localPath string) *Record {
	return r.readLive(Signature(localPath))
}

// ListAll enumerates live records, evicting stale ones as it goes.
func (r *Registry) ListAll() []*Record {
	matches, err := filepath.Glob(filepath.Join(r.root, signaturePrefix+"*.json"))
	if err != nil {
		return nil
	}

	var records []*Record
	for _, path := range matches {
		signature := strings.TrimSuffix(filepath.Base(path), ".json")
		if rec := r.readLive(signature); rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

// UpdateStats refreshes last-sync info on an existing record. Best effort:
// a missing record is not an error.
func (r *Registry) UpdateStats(localPath string, lastSync time.Time, count uint64) error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("registry lock: %w", err)
	}
	defer r.lock.Unlock()

	rec := r.readRecord(Signature(localPath))
	if rec == nil {
		return nil
	}

	rec.LastSync = &lastSync
	rec.SyncCount = count
	return r.writeRecord(rec)
}

// Remove deletes all persisted state for a signature. Idempotent; the log
// file is left behind for postmortems.
func (r *Registry) Remove(signature string) {
	for _, path := range []string{r.recordPath(signature), r.pidPath(signature)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("registry cleanup", "path", path, "error", err)
		}
	}
}

// StopDaemon terminates the daemon watching localPath: SIGTERM, a grace
// period, then SIGKILL (immediately with force). Stale records are cleaned
// up and reported as success.
func (r *Registry) StopDaemon(localPath string, force bool) error {
	signature := Signature(localPath)
	rec := r.readRecord(signature)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrDaemonNotFound, localPath)
	}

	if !IsProcessRunning(rec.PID) {
		slog.Warn("daemon not running, cleaning up stale files", "signature", signature)
		r.Remove(signature)
		return nil
	}

	proc, err := process.NewProcess(int32(rec.PID))
	if err != nil {
		return fmt.Errorf("stop daemon pid %d: %w", rec.PID, err)
	}

	if force {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("kill daemon pid %d: %w", rec.PID, err)
		}
	} else {
		if err := proc.Terminate(); err != nil {
			return fmt.Errorf("terminate daemon pid %d: %w", rec.PID, err)
		}
		if !waitForExit(rec.PID, stopWait) {
			slog.Warn("daemon did not stop gracefully, killing", "pid", rec.PID)
			_ = proc.Kill()
		}
	}

	r.Remove(signature)
	slog.Info("daemon stopped", "path", localPath, "pid", rec.PID)
	return nil
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			return true
		}
		time.Sleep(stopPollStep)
	}
	return !IsProcessRunning(pid)
}

// readLive returns the record only when its process is alive; otherwise the
// stale files are deleted and nil returned.
func (r *Registry) readLive(signature string) *Record {
	rec := r.readRecord(signature)
	if rec == nil {
		return nil
	}
	if !IsProcessRunning(rec.PID) {
		slog.Debug("evicting stale daemon record", "signature", signature, "pid", rec.PID)
		r.Remove(signature)
		return nil
	}
	return rec
}

// readRecord loads a record from disk. A missing or corrupt file reads as
// absent; corrupt files are removed so they can't wedge status/stop.
func (r *Registry) readRecord(signature string) *Record {
	data, err := os.ReadFile(r.recordPath(signature))
	if err != nil {
		return nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("removing corrupt daemon record", "signature", signature, "error", err)
		r.Remove(signature)
		return nil
	}
	return &rec
}

// writeRecord persists the record and pid marker atomically (temp file +
// rename), so other processes never observe a half-written record.
func (r *Registry) writeRecord(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	if err := atomicWrite(r.recordPath(rec.Signature), data); err != nil {
		return fmt.Errorf("write daemon record: %w", err)
	}
	if err := atomicWrite(r.pidPath(rec.Signature), []byte(strconv.Itoa(rec.PID))); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
