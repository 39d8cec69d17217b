package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/csync-dev/csync/internal/daemon"
	"github.com/csync-dev/csync/internal/registry"
	"github.com/csync-dev/csync/internal/utils"
)

func init() {
	rootCmd.AddCommand(newStartCmd())
}

func newStartCmd() *cobra.Command {
	var foreground bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a background daemon that watches for changes and auto-syncs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			configPath, err := resolveConfigPath(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			reg, err := registry.New(registry.DefaultRoot())
			if err != nil {
				return err
			}

			signature := registry.Signature(cfg.Root())

			if !foreground {
				// fail fast in the parent so the user sees the error; the
				// child re-checks under the registry lock
				if existing := reg.FindByPath(cfg.Root()); existing != nil {
					return fmt.Errorf("daemon already running for %s (pid %d)", cfg.Root(), existing.PID)
				}

				pid, err := daemon.Detach(configPath)
				if err != nil {
					return err
				}
				fmt.Println(green("Daemon starting for"), cfg.Root(), fmt.Sprintf("(pid %d)", pid))
				fmt.Println("Log:", cyan(reg.LogPath(signature)))
				return nil
			}

			if daemon.IsDetachedChild() {
				// detached daemons log to their per-project file, addressable
				// by signature, instead of the vanished terminal
				setupDaemonLogging(reg.LogPath(signature))
			} else {
				// foreground runs mirror logs into the same file so
				// `csync logs` works either way
				setupForegroundLogging(reg.LogPath(signature))
			}

			d := daemon.New(cfg, reg)
			err = d.Start(cmd.Context())
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon start", "error", err)
				return err
			}
			return nil
		},
	}

	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in the foreground instead of detaching")

	return startCmd
}

func logFileOutput(logPath string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
}

func setupDaemonLogging(logPath string) {
	handler := slog.NewTextHandler(logFileOutput(logPath), &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
}

func setupForegroundLogging(logPath string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	console := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	file := slog.NewTextHandler(logFileOutput(logPath), &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(console, file)))
}
