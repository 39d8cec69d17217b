package daemon

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/csync-dev/csync/internal/config"
)

const (
	sshConnectTimeout = 5 * time.Second
	preflightTimeout  = 10 * time.Second
)

// sshPreflightArgs builds the ssh argument list for the reachability check.
// The port flag is only present when a non-default port is configured, and
// the target carries no user decoration when no user is configured.
func sshPreflightArgs(cfg *config.Config) []string {
	target := cfg.RemoteHost
	if cfg.SSHUser != "" {
		target = cfg.SSHUser + "@" + cfg.RemoteHost
	}

	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(int(sshConnectTimeout.Seconds())),
	}
	if cfg.SSHPort != 0 {
		args = append(args, "-p", strconv.Itoa(cfg.SSHPort))
	}
	return append(args, target, "exit")
}

// CheckSSH runs a one-shot reachability check against the remote before the
// daemon commits to a watch loop. This is a startup precondition, not a
// monitored health signal.
func CheckSSH(ctx context.Context, cfg *config.Config) bool {
	ctx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ssh", sshPreflightArgs(cfg)...)
	if err := cmd.Run(); err != nil {
		slog.Debug("ssh preflight failed", "target", cfg.RemoteTarget(), "error", err)
		return false
	}
	return true
}
