package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csync-dev/csync/internal/transfer"
)

func init() {
	rootCmd.AddCommand(newPushCmd())
}

func newPushCmd() *cobra.Command {
	var dryRun bool
	var quiet bool

	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Push local files to the remote server",
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
				fmt.Println(yellow("Dry run - showing what would be pushed:"))
			}

			rsync := transfer.NewRsync(cfg)
			if err := rsync.Push(cmd.Context(), transfer.PushOptions{DryRun: dryRun}); err != nil {
				return err
			}

			if !dryRun {
				fmt.Println(green("Push completed successfully"))
			}
			return nil
		},
	}

	pushCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be pushed without doing it")
	pushCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress verbose rsync output")

	return pushCmd
}
