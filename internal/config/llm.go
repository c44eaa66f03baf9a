package config

import "time"

// LLMConfig configures the language-model planner.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// MaxOutputTokens caps planner responses (default 8192).
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// Temperature for planner calls. HyDE and multi-query generation use
	// their own values in RetrievalConfig.
	Temperature float64 `yaml:"temperature"`
}

// DefaultLLMConfig returns planner defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:        "gemini",
		Model:           "gemini-2.0-flash",
		Timeout:         "120s",
		MaxOutputTokens: 8192,
		Temperature:     0.2,
	}
}

// GetTimeout returns the planner call timeout as a duration.
func (c LLMConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 120*time.Second)
}

// EmbeddingConfig configures the embedding service.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // genai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// DefaultEmbeddingConfig returns embedding defaults.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider: "genai",
		Model:    "gemini-embedding-001",
		Timeout:  "30s",
	}
}

// GetTimeout returns the embedding call timeout as a duration.
func (c EmbeddingConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}
