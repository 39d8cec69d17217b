package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/csync-dev/csync/internal/utils"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration status and connection details",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Println(cyan("csync configuration"))
			fmt.Printf("  %-12s %s\n", "Config:", cfg.Path)
			fmt.Printf("  %-12s %s\n", "Local path:", cfg.LocalPath)
			fmt.Printf("  %-12s %s\n", "Remote:", cfg.RemoteTarget())
			fmt.Printf("  %-12s %s\n", "Options:", strings.Join(cfg.RsyncOptions, " "))
			fmt.Printf("  %-12s %d patterns\n", "Excludes:", len(cfg.ExcludePatterns))
			fmt.Printf("  %-12s %v\n", "Gitignore:", cfg.RespectGitignore)

			if utils.DirExists(cfg.Root()) {
				fmt.Printf("  %-12s %s\n", "Local:", green("path exists"))
			} else {
				fmt.Printf("  %-12s %s\n", "Local:", red("path does not exist"))
			}
			return nil
		},
	}
}
