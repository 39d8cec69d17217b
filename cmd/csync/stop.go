package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csync-dev/csync/internal/registry"
	"github.com/csync-dev/csync/internal/utils"
)

func init() {
	rootCmd.AddCommand(newStopCmd())
}

func newStopCmd() *cobra.Command {
	var localPath string
	var force bool

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon for the current or specified path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			target, err := resolveStopTarget(cmd, localPath)
			if err != nil {
				return err
			}

			reg, err := registry.New(registry.DefaultRoot())
			if err != nil {
				return err
			}

			if err := reg.StopDaemon(target, force); err != nil {
				return err
			}
			fmt.Println(green("Daemon stopped for"), target)
			return nil
		},
	}

	stopCmd.Flags().StringVar(&localPath, "path", "", "Local path of the daemon to stop")
	stopCmd.Flags().BoolVar(&force, "force", false, "Force kill the daemon")

	return stopCmd
}

// resolveStopTarget picks the daemon to stop: explicit --path, then the
// project config, then the working directory.
func resolveStopTarget(cmd *cobra.Command, localPath string) (string, error) {
	if localPath != "" {
		return utils.ResolvePath(localPath)
	}
	if cfg, err := loadConfig(cmd); err == nil {
		return cfg.Root(), nil
	}
	return utils.ResolvePath(".")
}
