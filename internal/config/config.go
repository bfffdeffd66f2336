// ABOUTME: Configuration loading and parsing for chatkit
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatkit configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Wrapper   WrapperConfig   `yaml:"wrapper"`
	Storage   StorageConfig   `yaml:"storage"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorkspaceConfig identifies the workspace a conversation belongs to.
type WorkspaceConfig struct {
	ID  string `yaml:"id"`
	Dir string `yaml:"dir"`
}

// WrapperConfig holds codeagent-wrapper invocation settings.
type WrapperConfig struct {
	BinaryPath         string `yaml:"binary_path"`
	Backend            string `yaml:"backend"` // codex | claude | gemini
	SkipPermissions    bool   `yaml:"skip_permissions"`
	MaxParallelWorkers int    `yaml:"max_parallel_workers"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// StorageConfig holds session database configuration.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// StreamConfig holds streaming behavior configuration.
type StreamConfig struct {
	StallTimeout    time.Duration `yaml:"-"`
	StallTimeoutRaw string        `yaml:"stall_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	switch c.Wrapper.Backend {
	case "", "codex", "claude", "gemini":
	default:
		return fmt.Errorf("wrapper.backend must be codex, claude, or gemini (got %q)", c.Wrapper.Backend)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Wrapper.TimeoutRaw != "" {
		cfg.Wrapper.Timeout, err = time.ParseDuration(cfg.Wrapper.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing wrapper timeout %q: %w", cfg.Wrapper.TimeoutRaw, err)
		}
	}

	if cfg.Stream.StallTimeoutRaw != "" {
		cfg.Stream.StallTimeout, err = time.ParseDuration(cfg.Stream.StallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stall_timeout %q: %w", cfg.Stream.StallTimeoutRaw, err)
		}
	}

	return nil
}
