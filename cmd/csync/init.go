package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/csync-dev/csync/internal/config"
	"github.com/csync-dev/csync/internal/utils"
)

// starter .gitignore written when the project has none
const starterGitignore = `# csync config files
.csync.json
.csync.yaml
.csync.toml

# OS
.DS_Store
Thumbs.db

# Logs
*.log
`

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var (
		host       string
		remotePath string
		user       string
		port       int
		localPath  string
		format     string
		force      bool
	)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a csync config file for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if format != "json" && format != "yaml" && format != "toml" {
				return fmt.Errorf("unsupported config format %q", format)
			}

			root, err := utils.ResolvePath(localPath)
			if err != nil {
				return err
			}

			configPath := filepath.Join(root, ".csync."+format)
			if utils.FileExists(configPath) && !force {
				return fmt.Errorf("config file %s already exists, use --force to overwrite", configPath)
			}

			cfg := &config.Config{
				LocalPath:        root,
				RemoteHost:       host,
				RemotePath:       remotePath,
				SSHUser:          user,
				SSHPort:          port,
				RespectGitignore: true,
			}
			if err := cfg.Normalize(); err != nil {
				return err
			}
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Println(green("Created"), configPath)

			gitignorePath := filepath.Join(root, ".gitignore")
			if !utils.FileExists(gitignorePath) {
				if err := os.WriteFile(gitignorePath, []byte(starterGitignore), 0o644); err == nil {
					fmt.Println(green("Created"), gitignorePath)
				}
			}

			fmt.Printf("Syncing %s -> %s\n", cyan(cfg.LocalPath), cyan(cfg.RemoteTarget()))
			return nil
		},
	}

	initCmd.Flags().StringVar(&host, "host", "", "Remote host (required)")
	initCmd.Flags().StringVar(&remotePath, "remote-path", "", "Remote directory (required)")
	initCmd.Flags().StringVar(&user, "user", "", "SSH user")
	initCmd.Flags().IntVar(&port, "port", 0, "SSH port")
	initCmd.Flags().StringVar(&localPath, "local", ".", "Local directory to sync")
	initCmd.Flags().StringVar(&format, "format", "json", "Config format: json, yaml or toml")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	_ = initCmd.MarkFlagRequired("host")
	_ = initCmd.MarkFlagRequired("remote-path")

	return initCmd
}
