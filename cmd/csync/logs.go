package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/csync-dev/csync/internal/registry"
	"github.com/csync-dev/csync/internal/utils"
)

const logTailLines = 50

func init() {
	rootCmd.AddCommand(newLogsCmd())
}

func newLogsCmd() *cobra.Command {
	var follow bool

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log output for the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			reg, err := registry.New(registry.DefaultRoot())
			if err != nil {
				return err
			}

			logPath := reg.LogPath(registry.Signature(cfg.Root()))
			if !utils.FileExists(logPath) {
				return fmt.Errorf("no daemon log file found, has a daemon been started?")
			}
			fmt.Println("Log file:", cyan(logPath))

			if !follow {
				return printTail(logPath, logTailLines)
			}

			fmt.Println(yellow("Following log (Ctrl-C to stop)..."))
			return followLog(cmd, logPath)
		},
	}

	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output (like tail -f)")

	return logsCmd
}

func printTail(path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func followLog(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		default:
		}

		n, err := f.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
			continue
		}
		if err != nil && err != io.EOF {
			return err
		}
		time.Sleep(500 * time.Millisecond)
	}
}
