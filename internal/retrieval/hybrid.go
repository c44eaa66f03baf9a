package retrieval

import (
	"context"
	"fmt"
	"sort"

	"finsight/internal/logging"
	"finsight/internal/types"
)

// retrieveHybrid fuses dense similarity with sparse keyword overlap,
// weighted by alpha (dense weight, in [0,1]). When the index fuses
// natively, both vectors are submitted and the service scores them;
// otherwise dense candidates are re-ranked client-side with a keyword
// overlap boost. Both paths produce comparably ordered top-K sets.
func (e *Engine) retrieveHybrid(ctx context.Context, text string, topK int, alpha float64, filter types.MetadataFilter) ([]types.ScoredChunk, error) {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	dense, err := e.embedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("hybrid: embed query: %w", err)
	}
	sparse := e.sparse.Encode(text)

	if sparse != nil && e.index.SupportsSparse() {
		chunks, err := e.queryIndex(ctx, types.IndexQuery{
			Dense:  dense,
			Sparse: sparse,
			Alpha:  alpha,
			TopK:   topK,
			Filter: filter,
		})
		if err != nil {
			return nil, fmt.Errorf("hybrid: native index query: %w", err)
		}
		return chunks, nil
	}

	// Client-side path: over-fetch dense candidates, then re-rank with the
	// keyword overlap boost. Overlap is normalized against the query's own
	// sparse magnitude so alpha keeps its meaning on both paths.
	fetch := topK * 3
	if fetch < topK {
		fetch = topK
	}
	candidates, err := e.queryIndex(ctx, types.IndexQuery{
		Dense:  dense,
		TopK:   fetch,
		Filter: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid: index query: %w", err)
	}

	reranked := rerankWithSparse(candidates, sparse, alpha, e.sparse)
	if len(reranked) > topK {
		reranked = reranked[:topK]
	}
	logging.RetrievalDebug("hybrid client-side rerank: %d candidates -> top %d (alpha=%.2f)",
		len(candidates), len(reranked), alpha)
	return reranked, nil
}

// rerankWithSparse rescores dense candidates as
// alpha*denseScore + (1-alpha)*overlap, where overlap is the sparse dot
// product of query and chunk text normalized by the query's self-similarity.
// With a nil query vector the dense ordering is returned unchanged.
func rerankWithSparse(candidates []types.ScoredChunk, query *types.SparseVector, alpha float64, enc *SparseEncoder) []types.ScoredChunk {
	if query.Len() == 0 {
		return candidates
	}

	norm := query.Dot(query)
	out := make([]types.ScoredChunk, len(candidates))
	for i, c := range candidates {
		overlap := 0.0
		if doc := enc.Encode(c.Chunk.Text); doc != nil {
			overlap = query.Dot(doc) / norm
		}
		out[i] = types.ScoredChunk{
			Chunk: c.Chunk,
			Score: alpha*c.Score + (1-alpha)*overlap,
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
