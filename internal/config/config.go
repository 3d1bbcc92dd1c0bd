// Package config handles Stagehand configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds Stagehand configuration
type Config struct {
	// Database location
	DatabasePath string `mapstructure:"database_path"`

	// Worker settings
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Queue retention
	RetentionDays int    `mapstructure:"retention_days"`
	PruneSchedule string `mapstructure:"prune_schedule"`

	// Enqueue admission
	DepthWarning int `mapstructure:"depth_warning"`

	// Optional custom pipeline definition (YAML); empty means built-in
	PipelineFile string `mapstructure:"pipeline_file"`

	// Default CLI tool recorded on queue items
	CLITool string `mapstructure:"cli_tool"`

	// Verbose mode for debugging
	Verbose bool `mapstructure:"verbose"`

	// Project directory (detected)
	ProjectDir string `mapstructure:"-"`
}

// Dir is the per-project directory holding database and config
const Dir = ".stagehand"

// Load reads configuration from .stagehand/config.yaml in the project
// directory, with STAGEHAND_* environment overrides and sane defaults.
// A missing config file is fine; defaults apply.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	v.SetDefault("database_path", filepath.Join(Dir, "stagehand.db"))
	v.SetDefault("workers", 3)
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("retention_days", 7)
	v.SetDefault("prune_schedule", "0 3 * * *")
	v.SetDefault("depth_warning", 25)
	v.SetDefault("pipeline_file", "")
	v.SetDefault("cli_tool", "")
	v.SetDefault("verbose", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectDir, Dir))

	v.SetEnvPrefix("STAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.ProjectDir = projectDir
	if !filepath.IsAbs(cfg.DatabasePath) {
		cfg.DatabasePath = filepath.Join(projectDir, cfg.DatabasePath)
	}
	if cfg.PipelineFile != "" && !filepath.IsAbs(cfg.PipelineFile) {
		cfg.PipelineFile = filepath.Join(projectDir, cfg.PipelineFile)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}

// FindProjectDir locates the project root by searching upward for the
// .stagehand directory, starting from the working directory.
func FindProjectDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, Dir)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s directory found; run 'stagehand init' first", Dir)
		}
		dir = parent
	}
}
