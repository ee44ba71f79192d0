// Package config loads server configuration using the hierarchy
// defaults < YAML file < environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "reviewhub.yaml"

type Config struct {
	Addr            string        `yaml:"addr"`
	RepoPath        string        `yaml:"repoPath"`
	ReviewDir       string        `yaml:"reviewDir"`
	RequirementsDir string        `yaml:"requirementsDir"`
	Username        string        `yaml:"username"`
	SyncTimeout     time.Duration `yaml:"syncTimeout"`
	GitOpsLimit     int           `yaml:"gitOpsLimit"`
	LogLevel        string        `yaml:"logLevel"`
}

func Defaults() Config {
	return Config{
		Addr:            ":8790",
		RepoPath:        "./data/repo",
		ReviewDir:       ".reviews",
		RequirementsDir: "requirements",
		Username:        defaultUsername(),
		SyncTimeout:     30 * time.Second,
		GitOpsLimit:     4,
		LogLevel:        "info",
	}
}

// Load returns a Config from the default YAML path and the environment.
func Load() (Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config from the given YAML path and the environment.
// The YAML file is optional; a missing file is not an error.
func LoadFrom(yamlPath string) (Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return Config{}, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validate: %w", err)
	}
	return cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	cfg.Addr = getenv("REVIEWHUB_ADDR", cfg.Addr)
	cfg.RepoPath = getenv("REVIEWHUB_REPO_PATH", cfg.RepoPath)
	cfg.ReviewDir = getenv("REVIEWHUB_REVIEW_DIR", cfg.ReviewDir)
	cfg.RequirementsDir = getenv("REVIEWHUB_REQUIREMENTS_DIR", cfg.RequirementsDir)
	cfg.Username = getenv("REVIEWHUB_USERNAME", cfg.Username)
	cfg.SyncTimeout = time.Duration(getenvInt("REVIEWHUB_SYNC_TIMEOUT_SECONDS", int(cfg.SyncTimeout/time.Second))) * time.Second
	cfg.GitOpsLimit = getenvInt("REVIEWHUB_GIT_OPS_LIMIT", cfg.GitOpsLimit)
	cfg.LogLevel = getenv("REVIEWHUB_LOG_LEVEL", cfg.LogLevel)
}

func validate(cfg *Config) error {
	if cfg.Username == "" {
		return fmt.Errorf("username is required (REVIEWHUB_USERNAME)")
	}
	if cfg.RepoPath == "" {
		return fmt.Errorf("repo path is required")
	}
	if filepath.IsAbs(cfg.ReviewDir) {
		return fmt.Errorf("review dir must be relative to the repo worktree, got %q", cfg.ReviewDir)
	}
	if cfg.SyncTimeout <= 0 {
		return fmt.Errorf("sync timeout must be positive")
	}
	if cfg.GitOpsLimit < 1 {
		cfg.GitOpsLimit = 1
	}
	return nil
}

// ReviewRoot is the absolute path of the review tree inside the worktree.
func (c Config) ReviewRoot() string {
	return filepath.Join(c.RepoPath, filepath.FromSlash(c.ReviewDir))
}

// RequirementsRoot is the absolute path of the requirement records.
func (c Config) RequirementsRoot() string {
	if filepath.IsAbs(c.RequirementsDir) {
		return c.RequirementsDir
	}
	return filepath.Join(c.RepoPath, filepath.FromSlash(c.RequirementsDir))
}

func defaultUsername() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "reviewer"
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
