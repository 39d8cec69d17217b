package daemon

import (
	"fmt"
	"os"
	"os/exec"
)

// DetachedEnv marks a process as the detached daemon child. The child picks
// its own log destination based on it.
const DetachedEnv = "CSYNC_DETACHED"

// IsDetachedChild reports whether this process was spawned by Detach.
func IsDetachedChild() bool {
	return os.Getenv(DetachedEnv) == "1"
}

// Detach re-executes the current binary as a session-leader child running the
// foreground daemon, with stdio disconnected. The child registers itself in
// the process registry under its own pid, so stop/status always address the
// final daemon identity. Returns the child pid.
func Detach(configPath string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	args := []string{"start", "--foreground"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer devnull.Close()

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), DetachedEnv+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = detachSysProcAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	return pid, nil
}
