package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/viper"

	"github.com/csync-dev/csync/internal/utils"
)

const (
	// DefaultSyncDelay is the base debounce delay in seconds.
	DefaultSyncDelay = 5.0

	// DefaultMaxSyncInterval forces a sync at least this often (seconds),
	// guarding against missed or coalesced file-system events.
	DefaultMaxSyncInterval = 300.0
)

var (
	ErrNoConfig = errors.New("no config file found")

	// ConfigNames are the project config file names searched for, in order.
	ConfigNames = []string{".csync.json", ".csync.yaml", ".csync.yml", ".csync.toml"}

	DefaultRsyncOptions = []string{"-av", "--progress"}

	DefaultExcludePatterns = []string{
		".git/",
		"__pycache__/",
		"*.pyc",
		".DS_Store",
		"node_modules/",
		".venv/",
		"venv/",
		".pytest_cache/",
		"*.log",
	}

	// directories never descended into while harvesting .gitignore files
	gitignoreSkipDirs = map[string]bool{
		".git":         true,
		"node_modules": true,
		"__pycache__":  true,
		".venv":        true,
		"venv":         true,
	}
)

// Config is the resolved, immutable configuration for one watched project.
// It is built once by Load and passed by reference; components never
// re-parse configuration.
type Config struct {
	LocalPath        string   `mapstructure:"local_path"`
	RemoteHost       string   `mapstructure:"remote_host"`
	RemotePath       string   `mapstructure:"remote_path"`
	SSHUser          string   `mapstructure:"ssh_user"`
	SSHPort          int      `mapstructure:"ssh_port"`
	ExcludePatterns  []string `mapstructure:"exclude_patterns"`
	RsyncOptions     []string `mapstructure:"rsync_options"`
	RespectGitignore bool     `mapstructure:"respect_gitignore"`
	SyncDelay        float64  `mapstructure:"sync_delay"`
	MaxSyncInterval  float64  `mapstructure:"max_sync_interval"`

	// Path of the config file this was loaded from, empty when built in code.
	Path string `mapstructure:"-"`

	ignoreMatcher *gitignore.GitIgnore
}

// RemoteTarget returns the rsync destination, `user@host:path` or `host:path`.
func (c *Config) RemoteTarget() string {
	if c.SSHUser != "" {
		return fmt.Sprintf("%s@%s:%s", c.SSHUser, c.RemoteHost, c.RemotePath)
	}
	return fmt.Sprintf("%s:%s", c.RemoteHost, c.RemotePath)
}

// Delay returns the base debounce delay.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.SyncDelay * float64(time.Second))
}

// MaxInterval returns the forced-sync interval.
func (c *Config) MaxInterval() time.Duration {
	return time.Duration(c.MaxSyncInterval * float64(time.Second))
}

// IgnoreMatcher returns the compiled matcher for harvested .gitignore lines.
// Nil when RespectGitignore is off or nothing was harvested.
func (c *Config) IgnoreMatcher() *gitignore.GitIgnore {
	return c.ignoreMatcher
}

// Quiet returns a derived copy with verbose/progress rsync options stripped,
// so daemon logs stay readable. The receiver is not mutated.
func (c *Config) Quiet() *Config {
	quiet := *c
	quiet.RsyncOptions = slices.DeleteFunc(slices.Clone(c.RsyncOptions), func(opt string) bool {
		return opt == "-v" || opt == "--verbose" || opt == "--progress"
	})
	return &quiet
}

// Normalize validates the config, canonicalizes paths, fills defaults and
// harvests .gitignore patterns. Must be called before the config is used.
func (c *Config) Normalize() error {
	if c.RemoteHost == "" {
		return errors.New("remote_host is required")
	}
	if c.RemotePath == "" {
		return errors.New("remote_path is required")
	}

	if c.LocalPath == "" {
		c.LocalPath = "."
	}
	localPath, err := utils.ResolvePath(c.LocalPath)
	if err != nil {
		return fmt.Errorf("resolve local_path: %w", err)
	}
	// rsync semantics: trailing slash syncs directory contents
	c.LocalPath = localPath + "/"

	if !strings.HasSuffix(c.RemotePath, "/") {
		c.RemotePath += "/"
	}

	if c.RsyncOptions == nil {
		c.RsyncOptions = slices.Clone(DefaultRsyncOptions)
	}
	if c.ExcludePatterns == nil {
		c.ExcludePatterns = slices.Clone(DefaultExcludePatterns)
	}
	if c.SyncDelay <= 0 {
		c.SyncDelay = DefaultSyncDelay
	}
	if c.MaxSyncInterval <= 0 {
		c.MaxSyncInterval = DefaultMaxSyncInterval
	}

	if c.RespectGitignore {
		harvested := harvestGitignorePatterns(c.Root())
		for _, pattern := range harvested {
			if !slices.Contains(c.ExcludePatterns, pattern) {
				c.ExcludePatterns = append(c.ExcludePatterns, pattern)
			}
		}
		if len(harvested) > 0 {
			c.ignoreMatcher = gitignore.CompileIgnoreLines(harvested...)
		}
	}

	return nil
}

// Root returns the canonical local path without the trailing slash.
func (c *Config) Root() string {
	return strings.TrimSuffix(c.LocalPath, "/")
}

// Load reads a config file with viper, layers user-level defaults beneath it
// and returns the normalized result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	applyGlobalDefaults(v)
	v.SetDefault("respect_gitignore", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config read %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config parse %q: %w", path, err)
	}
	cfg.Path = path

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Find walks up from start looking for a project config file.
func Find(start string) (string, error) {
	dir, err := utils.ResolvePath(start)
	if err != nil {
		return "", err
	}

	for {
		for _, name := range ConfigNames {
			candidate := filepath.Join(dir, name)
			if utils.FileExists(candidate) {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoConfig
		}
		dir = parent
	}
}

// Save writes the config in the format implied by the file extension.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	v := viper.New()
	v.Set("local_path", c.LocalPath)
	v.Set("remote_host", c.RemoteHost)
	v.Set("remote_path", c.RemotePath)
	if c.SSHUser != "" {
		v.Set("ssh_user", c.SSHUser)
	}
	if c.SSHPort != 0 {
		v.Set("ssh_port", c.SSHPort)
	}
	v.Set("exclude_patterns", c.ExcludePatterns)
	v.Set("rsync_options", c.RsyncOptions)
	v.Set("respect_gitignore", c.RespectGitignore)
	v.Set("sync_delay", c.SyncDelay)
	v.Set("max_sync_interval", c.MaxSyncInterval)

	return v.WriteConfigAs(path)
}

// GlobalConfigDir holds user-level defaults shared across projects.
func GlobalConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "csync")
}

// applyGlobalDefaults seeds viper with values from ~/.config/csync/config.*
// so project files only need to set what differs.
func applyGlobalDefaults(v *viper.Viper) {
	g := viper.New()
	g.AddConfigPath(GlobalConfigDir())
	g.SetConfigName("config")
	if err := g.ReadInConfig(); err != nil {
		return
	}

	for _, key := range []string{"remote_host", "remote_path", "ssh_user", "ssh_port", "sync_delay"} {
		if g.IsSet(key) {
			v.SetDefault(key, g.Get(key))
		}
	}
}

// harvestGitignorePatterns collects patterns from .gitignore files under root
// (at most 5 levels deep), prefixing nested patterns with their directory so
// they stay valid when matched from the project root.
func harvestGitignorePatterns(root string) []string {
	var patterns []string

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		rel := utils.RelPath(root, path)
		if d.IsDir() {
			if gitignoreSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if rel != "." && strings.Count(rel, "/") >= 5 {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Name() != ".gitignore" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		prefix := ""
		if dir := filepath.Dir(rel); dir != "." {
			prefix = dir + "/"
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, prefix+line)
		}
		return nil
	})

	return patterns
}
