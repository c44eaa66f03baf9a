package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"finsight/internal/logging"
	"finsight/internal/resilience"
	"finsight/internal/types"
)

const multiQueryPromptTemplate = `Rewrite the financial question below as %d different search queries. Vary the phrasing and vocabulary: expand abbreviations, name the metric explicitly, try both company name and ticker. Output one query per line with no numbering and no commentary.

Question: %s`

// retrieveMultiQuery asks the model for query paraphrases, runs dense
// retrieval per variant, and fuses the ranked lists with reciprocal rank
// fusion. This reduces sensitivity to any single phrasing. Paraphrase
// failure degrades to plain dense retrieval. Returns the strategy actually
// used.
func (e *Engine) retrieveMultiQuery(ctx context.Context, text string, topK int, filter types.MetadataFilter) ([]types.ScoredChunk, types.StrategyKind, error) {
	variants, err := e.generateVariants(ctx, text)
	if err != nil || len(variants) == 0 {
		logging.Retrieval("multi-query: paraphrase generation failed (%v), degrading to dense", err)
		chunks, derr := e.retrieveDense(ctx, text, topK, filter)
		return chunks, types.StrategyDense, derr
	}

	// The original phrasing always participates alongside the paraphrases.
	variants = append([]string{text}, variants...)

	depth := e.cfg.MultiQueryDepth
	if depth < topK {
		depth = topK
	}

	// Variant retrievals are independent; run them concurrently. A single
	// failed variant drops its list rather than failing the fusion, but if
	// every variant fails the whole retrieval errors.
	lists := make([][]types.ScoredChunk, len(variants))
	var mu sync.Mutex
	var lastErr error
	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		g.Go(func() error {
			chunks, err := e.retrieveDense(gctx, variant, depth, filter)
			if err != nil {
				mu.Lock()
				lastErr = err
				mu.Unlock()
				logging.RetrievalDebug("multi-query: variant %d failed: %v", i, err)
				return nil
			}
			lists[i] = chunks
			return nil
		})
	}
	_ = g.Wait()

	populated := lists[:0]
	for _, l := range lists {
		if len(l) > 0 {
			populated = append(populated, l)
		}
	}
	if len(populated) == 0 {
		if lastErr != nil {
			return nil, types.StrategyMultiQuery, fmt.Errorf("multi-query: all variants failed: %w", lastErr)
		}
		return nil, types.StrategyMultiQuery, nil
	}

	fused := FuseRRF(populated, e.cfg.RRFConstant)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	logging.Retrieval("multi-query: fused %d lists into %d chunks", len(populated), len(fused))
	return fused, types.StrategyMultiQuery, nil
}

// generateVariants asks the model for paraphrases, one per line.
func (e *Engine) generateVariants(ctx context.Context, question string) ([]string, error) {
	if e.llm == nil {
		return nil, resilience.Permanent(errNoLLM)
	}

	count := e.cfg.MultiQueryCount
	if count <= 0 {
		count = 4
	}

	prompt := fmt.Sprintf(multiQueryPromptTemplate, count, question)
	raw, err := resilience.DoValue(ctx, e.exec, depPlanner, func(ctx context.Context) (string, error) {
		return e.llm.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, err
	}

	var variants []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		variants = append(variants, line)
		if len(variants) == count {
			break
		}
	}
	return variants, nil
}

// FuseRRF merges ranked lists with reciprocal rank fusion: each chunk
// scores the sum over lists containing it of 1/(rank+kappa), rank 1-based.
// A chunk absent from a list contributes nothing for that list. Chunks are
// deduplicated by identity (chunk ID, not text equality) before ranking;
// ties break on chunk ID for determinism.
func FuseRRF(lists [][]types.ScoredChunk, kappa float64) []types.ScoredChunk {
	if kappa <= 0 {
		kappa = 60
	}

	scores := make(map[string]float64)
	chunks := make(map[string]types.Chunk)
	for _, list := range lists {
		for rank, sc := range list {
			id := sc.Chunk.ID
			scores[id] += 1.0 / (float64(rank+1) + kappa)
			if _, seen := chunks[id]; !seen {
				chunks[id] = sc.Chunk
			}
		}
	}

	fused := make([]types.ScoredChunk, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, types.ScoredChunk{Chunk: chunks[id], Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Chunk.ID < fused[j].Chunk.ID
	})
	return fused
}
