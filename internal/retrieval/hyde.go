package retrieval

import (
	"context"
	"errors"
	"strings"

	"finsight/internal/logging"
	"finsight/internal/resilience"
	"finsight/internal/types"
)

// errNoLLM marks strategies needing generation when no model is wired.
var errNoLLM = errors.New("no language model configured")

const hydePromptTemplate = `Write a short hypothetical passage from an earnings call transcript or financial filing that would directly answer the question below. Use the style of prepared remarks: specific figures, fiscal periods, and segment names. Do not explain that it is hypothetical. Keep it under 120 words.

Question: %s`

// retrieveHyDE generates a hypothetical answer and embeds that instead of
// the raw query. Short questions are lexically far from the long-form
// passages they should match; the generated text is closer in style and
// length. Generation failure degrades gracefully to plain dense retrieval.
// Returns the strategy actually used.
func (e *Engine) retrieveHyDE(ctx context.Context, text string, topK int, filter types.MetadataFilter) ([]types.ScoredChunk, types.StrategyKind, error) {
	hypothetical, err := e.generateHypothetical(ctx, text)
	if err != nil || strings.TrimSpace(hypothetical) == "" {
		logging.Retrieval("hyde: generation failed (%v), degrading to dense", err)
		chunks, derr := e.retrieveDense(ctx, text, topK, filter)
		return chunks, types.StrategyDense, derr
	}

	chunks, err := e.retrieveDense(ctx, hypothetical, topK, filter)
	if err != nil {
		return nil, types.StrategyHyDE, err
	}
	return chunks, types.StrategyHyDE, nil
}

// generateHypothetical asks the language model for a passage-style answer,
// trimmed to the configured word cap.
func (e *Engine) generateHypothetical(ctx context.Context, question string) (string, error) {
	if e.llm == nil {
		return "", resilience.Permanent(errNoLLM)
	}

	prompt := strings.Replace(hydePromptTemplate, "%s", question, 1)
	answer, err := resilience.DoValue(ctx, e.exec, depPlanner, func(ctx context.Context) (string, error) {
		return e.llm.Complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}

	words := strings.Fields(answer)
	max := e.cfg.HyDEMaxWords
	if max > 0 && len(words) > max {
		words = words[:max]
	}
	return strings.Join(words, " "), nil
}
