package retrieval

import (
	"context"
	"fmt"

	"finsight/internal/types"
)

// retrieveDense embeds the query text and returns the index's top-K as-is.
// Scores are whatever similarity the index reports (cosine-like).
func (e *Engine) retrieveDense(ctx context.Context, text string, topK int, filter types.MetadataFilter) ([]types.ScoredChunk, error) {
	vec, err := e.embedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("dense: embed query: %w", err)
	}

	chunks, err := e.queryIndex(ctx, types.IndexQuery{
		Dense:  vec,
		TopK:   topK,
		Filter: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("dense: index query: %w", err)
	}
	return chunks, nil
}
