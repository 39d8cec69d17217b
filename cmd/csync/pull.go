package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csync-dev/csync/internal/transfer"
)

func init() {
	rootCmd.AddCommand(newPullCmd())
}

func newPullCmd() *cobra.Command {
	var dryRun bool
	var quiet bool

	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull remote files to the local directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if quiet {
				cfg = cfg.Quiet()
			}

			if dryRun {
				fmt.Println(yellow("Dry run - showing what would be pulled:"))
			}

			rsync := transfer.NewRsync(cfg)
			if err := rsync.Pull(cmd.Context(), transfer.PullOptions{DryRun: dryRun}); err != nil {
				return err
			}

			if !dryRun {
				fmt.Println(green("Pull completed successfully"))
			}
			return nil
		},
	}

	pullCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be pulled without doing it")
	pullCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress verbose rsync output")

	return pullCmd
}
