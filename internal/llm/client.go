// Package llm provides the language-model client used for planning,
// answer streaming, and query rewriting. Gemini is the production backend.
package llm

import (
	"fmt"

	"finsight/internal/config"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// New creates an LLM client from configuration.
func New(cfg config.LLMConfig) (types.LLMClient, error) {
	logging.Boot("Creating LLM client: provider=%s model=%s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "gemini", "genai", "":
		return NewGeminiClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'gemini')", cfg.Provider)
	}
}
