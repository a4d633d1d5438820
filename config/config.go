// Package config provides configuration management for text-searcher.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration. Command line flags override it.
type Config struct {
	Search   SearchConfig  `yaml:"search"`
	UI       UIConfig      `yaml:"ui"`
	History  HistoryConfig `yaml:"history"`
	LogLevel string        `yaml:"log_level"`
}

// SearchConfig holds defaults for search requests and the engine.
type SearchConfig struct {
	// ContextLines is the default number of lines shown around a match.
	ContextLines int `yaml:"context_lines"`

	// SniffBytes is how much of each file charset detection looks at.
	SniffBytes int `yaml:"sniff_bytes"`

	// FallbackEncodings are tried after the detected encoding.
	FallbackEncodings []string `yaml:"fallback_encodings"`

	// SkipDirs lists directory names pruned from folder walks.
	SkipDirs []string `yaml:"skip_dirs"`

	// ExtractDocuments converts office, mail and PDF files to text first.
	ExtractDocuments bool `yaml:"extract_documents"`

	// DocumentTypes restricts extraction to these extensions.
	DocumentTypes []string `yaml:"document_types"`
}

// UIConfig tunes the terminal front ends.
type UIConfig struct {
	RefreshIntervalMs int `yaml:"refresh_interval_ms"`
	MaxLineWidth      int `yaml:"max_line_width"`
}

// HistoryConfig locates and bounds the keyword history.
type HistoryConfig struct {
	// Path overrides the history file; empty selects the data directory.
	Path  string `yaml:"path"`
	Limit int    `yaml:"limit"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			ContextLines:      0,
			SniffBytes:        10000,
			FallbackEncodings: []string{"UTF-8", "GBK", "GB2312", "GB18030"},
			SkipDirs:          []string{},
			ExtractDocuments:  false,
			DocumentTypes:     append([]string(nil), DocumentTypes...),
		},
		UI: UIConfig{
			RefreshIntervalMs: 100,
			MaxLineWidth:      0,
		},
		History: HistoryConfig{
			Limit: 20,
		},
		LogLevel: "warn",
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFromFile(DefaultPaths().ConfigFile())
}

// LoadFromFile loads configuration from path. A missing file yields the
// defaults. Environment overrides are applied last.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration to path, creating its directory.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies TEXT_SEARCHER_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TEXT_SEARCHER_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("TEXT_SEARCHER_HISTORY"); v != "" {
		c.History.Path = v
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Search.ContextLines < 0 {
		return errors.New("search.context_lines must be >= 0")
	}
	if c.Search.SniffBytes < 0 {
		return errors.New("search.sniff_bytes must be >= 0")
	}
	if c.UI.RefreshIntervalMs < 0 {
		return errors.New("ui.refresh_interval_ms must be >= 0")
	}
	if c.UI.MaxLineWidth < 0 {
		return errors.New("ui.max_line_width must be >= 0")
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be > 0 (got: %d)", c.History.Limit)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("log_level must be debug, info, warn, or error (got: %s)", c.LogLevel)
	}
	return nil
}

// HistoryPath returns the configured history file or the default location.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return DefaultPaths().HistoryFile()
}

// ParseLogLevel maps a level name to its slog level. Unknown names map to warn.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
