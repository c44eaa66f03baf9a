// Package config loads finsight configuration from YAML with environment
// overrides. Each concern gets its own section struct; duration fields are
// strings parsed on access so a hand-edited config stays forgiving.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all finsight configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM planner configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding service configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval engine configuration
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Resilience wrapper configuration
	Resilience ResilienceConfig `yaml:"resilience"`

	// Orchestration loop limits
	Limits LimitsConfig `yaml:"limits"`

	// Vector index / metrics storage
	Store StoreConfig `yaml:"store"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the local SQLite index.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr              string `yaml:"addr"`
	ReadHeaderTimeout string `yaml:"read_header_timeout"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "finsight",
		Version: "0.3.0",

		LLM:        DefaultLLMConfig(),
		Embedding:  DefaultEmbeddingConfig(),
		Retrieval:  DefaultRetrievalConfig(),
		Resilience: DefaultResilienceConfig(),
		Limits:     DefaultLimitsConfig(),

		Store: StoreConfig{
			DatabasePath: "data/finsight.db",
		},

		Server: ServerConfig{
			Addr:              ":3000",
			ReadHeaderTimeout: "5s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.Embedding.APIKey = key
	}
	if key := os.Getenv("FINSIGHT_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("FINSIGHT_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
	if model := os.Getenv("FINSIGHT_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("FINSIGHT_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if addr := os.Getenv("FINSIGHT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// parseDuration parses a duration field, returning fallback on any error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetReadHeaderTimeout returns the server read-header timeout as a duration.
func (c *Config) GetReadHeaderTimeout() time.Duration {
	return parseDuration(c.Server.ReadHeaderTimeout, 5*time.Second)
}
