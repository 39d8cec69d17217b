// Package transfer wraps the rsync binary as csync's transfer delegate.
// The daemon core only depends on its push/pull success contract; retry
// policy and the partial-transfer special case live here.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/csync-dev/csync/internal/config"
	"github.com/csync-dev/csync/internal/utils"
)

const (
	maxRetries     = 3
	initialBackoff = 2 * time.Second

	// rsync exit code 23: partial transfer, typically because targeted files
	// disappeared between enumeration and copy. Not retried.
	exitPartialTransfer = 23
)

var ErrRsyncNotFound = errors.New("rsync command not found, please install rsync")

// runner executes an rsync command line and reports its exit code. Injectable
// for tests.
type runner func(ctx context.Context, argv []string, stdin []byte) (int, error)

// PushOptions modify a single push invocation.
type PushOptions struct {
	DryRun bool

	// FilesFrom limits the transfer to the listed paths (relative to the
	// local root), delivered to rsync on stdin. Enables partial-transfer
	// tolerance, since listed files may vanish before rsync runs.
	FilesFrom []string
}

// PullOptions modify a single pull invocation.
type PullOptions struct {
	DryRun bool
}

// Rsync invokes the rsync binary with the resolved configuration. The static
// command prefix (options, excludes, ssh transport) is built once.
type Rsync struct {
	cfg     *config.Config
	baseCmd []string

	run     runner
	backoff time.Duration
}

func NewRsync(cfg *config.Config) *Rsync {
	r := &Rsync{
		cfg:     cfg,
		run:     runCommand,
		backoff: initialBackoff,
	}
	r.baseCmd = r.buildBaseCmd()
	return r
}

// sshControlArgs enables SSH ControlMaster connection reuse so bursts of
// syncs don't pay the handshake every time.
func (r *Rsync) sshControlArgs() []string {
	home, _ := os.UserHomeDir()
	controlPath := filepath.Join(home, ".csync", "ssh-%r@%h:%p")

	sshCmd := fmt.Sprintf("ssh -o ControlMaster=auto -o ControlPath=%s -o ControlPersist=60", controlPath)
	if r.cfg.SSHPort != 0 {
		sshCmd = fmt.Sprintf("%s -p %d", sshCmd, r.cfg.SSHPort)
	}
	return []string{"-e", sshCmd}
}

func (r *Rsync) buildBaseCmd() []string {
	cmd := append([]string{"rsync"}, r.cfg.RsyncOptions...)
	for _, pattern := range r.cfg.ExcludePatterns {
		cmd = append(cmd, "--exclude", pattern)
	}
	if r.cfg.RemoteHost != "" {
		cmd = append(cmd, r.sshControlArgs()...)
	}
	return cmd
}

func (r *Rsync) buildCmd(source, destination string, dryRun bool) []string {
	cmd := append([]string{}, r.baseCmd...)
	if dryRun {
		cmd = append(cmd, "--dry-run")
	}
	return append(cmd, source, destination)
}

// Push syncs the local tree to the remote target.
func (r *Rsync) Push(ctx context.Context, opts PushOptions) error {
	cmd := r.buildCmd(r.cfg.LocalPath, r.cfg.RemoteTarget(), opts.DryRun)

	var stdin []byte
	if opts.FilesFrom != nil {
		// paths arrive via stdin, flag goes before the source/dest args
		cmd = slices.Insert(cmd, len(cmd)-2, "--files-from=-")
		stdin = []byte(strings.Join(opts.FilesFrom, "\n"))
	}

	slog.Debug("rsync push", "cmd", strings.Join(cmd, " "))
	return r.runWithRetry(ctx, cmd, stdin, opts.FilesFrom != nil)
}

// Pull syncs the remote target into the local tree, creating it if needed.
func (r *Rsync) Pull(ctx context.Context, opts PullOptions) error {
	if err := utils.EnsureDir(r.cfg.Root()); err != nil {
		return fmt.Errorf("create local path: %w", err)
	}

	cmd := r.buildCmd(r.cfg.RemoteTarget(), r.cfg.LocalPath, opts.DryRun)
	slog.Debug("rsync pull", "cmd", strings.Join(cmd, " "))
	return r.runWithRetry(ctx, cmd, nil, false)
}

// runWithRetry runs the command, retrying transient failures with
// exponential backoff. A partial transfer counts as success when partialOK
// is set; a missing binary is never retried.
func (r *Rsync) runWithRetry(ctx context.Context, argv []string, stdin []byte, partialOK bool) error {
	delay := r.backoff

	for attempt := 0; ; attempt++ {
		code, err := r.run(ctx, argv, stdin)
		if err != nil {
			return err
		}
		if code == 0 {
			return nil
		}

		if partialOK && code == exitPartialTransfer {
			slog.Warn("rsync partial transfer, some files disappeared before sync; treating as success", "exit_code", code)
			return nil
		}

		if attempt == maxRetries {
			return fmt.Errorf("rsync failed after %d retries (exit code %d)", maxRetries, code)
		}

		slog.Warn("rsync attempt failed, retrying", "attempt", attempt+1, "exit_code", code, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// runCommand is the real runner: exit codes come back as values so the retry
// loop can tell transient failures from hard errors.
func runCommand(ctx context.Context, argv []string, stdin []byte) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return 0, ErrRsyncNotFound
	}
	return 0, err
}
