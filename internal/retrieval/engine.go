package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"finsight/internal/config"
	"finsight/internal/logging"
	"finsight/internal/resilience"
	"finsight/internal/types"
)

// Dependency names used for circuit-breaker bookkeeping. One breaker per
// external service, shared by every strategy.
const (
	depEmbedder = "embedder"
	depIndex    = "vector-index"
	depPlanner  = "planner"
)

// Engine coordinates the retrieval strategies. Strategies are stateless
// pure functions of (query, services, config); the engine only holds the
// wired services and the sparse-encoder cache.
type Engine struct {
	embedder types.Embedder
	index    types.VectorIndex
	llm      types.LLMClient
	sparse   *SparseEncoder
	exec     *resilience.Executor
	cfg      config.RetrievalConfig
	rules    SelectorRules
}

// NewEngine wires an Engine. llm may be nil when only dense/hybrid
// retrieval is needed (HyDE and multi-query then degrade to dense).
func NewEngine(embedder types.Embedder, index types.VectorIndex, llm types.LLMClient, exec *resilience.Executor, cfg config.RetrievalConfig) *Engine {
	return &Engine{
		embedder: embedder,
		index:    index,
		llm:      llm,
		sparse:   NewSparseEncoder(cfg.SparseDimensions, cfg.SparseCacheSize),
		exec:     exec,
		cfg:      cfg,
		rules:    DefaultSelectorRules(),
	}
}

// Sparse exposes the engine's encoder (shared cache) for tooling.
func (e *Engine) Sparse() *SparseEncoder {
	return e.sparse
}

// Retrieve runs the query's strategy (auto-selecting when unset) and
// returns the ranked evidence list tagged with the strategy of origin.
func (e *Engine) Retrieve(ctx context.Context, q types.Query, topK int) (*types.RetrievalResult, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.Stop()

	if topK <= 0 {
		topK = e.cfg.TopK
	}
	alpha := e.cfg.HybridAlpha
	if q.Alpha != nil {
		alpha = *q.Alpha
	}

	strategy := q.Strategy
	if strategy == "" || strategy == types.StrategyAuto {
		strategy = ClassifyQuery(q.Text, e.rules)
		logging.Retrieval("auto-selected strategy %s for query %q", strategy, q.Text)
	}

	var chunks []types.ScoredChunk
	var err error
	switch strategy {
	case types.StrategyDense:
		chunks, err = e.retrieveDense(ctx, q.Text, topK, q.Hints)
	case types.StrategyHybrid:
		chunks, err = e.retrieveHybrid(ctx, q.Text, topK, alpha, q.Hints)
	case types.StrategyHyDE:
		chunks, strategy, err = e.retrieveHyDE(ctx, q.Text, topK, q.Hints)
	case types.StrategyMultiQuery:
		chunks, strategy, err = e.retrieveMultiQuery(ctx, q.Text, topK, q.Hints)
	default:
		return nil, fmt.Errorf("unknown retrieval strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	return &types.RetrievalResult{Strategy: strategy, Chunks: chunks}, nil
}

// ParseStrategy parses a strategy directive. Accepts the bare strategy
// names plus the evaluation-harness forms "dense-only" and "hybrid-<alpha>"
// (e.g. "hybrid-0.6"). Empty input means auto. The returned alpha is nil
// unless the directive spells one out, so "hybrid-0" stays distinguishable
// from "hybrid".
func ParseStrategy(s string) (types.StrategyKind, *float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "auto", "baseline":
		return types.StrategyAuto, nil, nil
	case "dense", "dense-only":
		return types.StrategyDense, nil, nil
	case "hybrid":
		return types.StrategyHybrid, nil, nil
	case "hyde":
		return types.StrategyHyDE, nil, nil
	case "multi_query", "multi-query", "multiquery":
		return types.StrategyMultiQuery, nil, nil
	}
	if rest, ok := strings.CutPrefix(s, "hybrid-"); ok {
		alpha, err := strconv.ParseFloat(rest, 64)
		if err != nil || alpha < 0 || alpha > 1 {
			return "", nil, fmt.Errorf("invalid hybrid alpha %q", rest)
		}
		return types.StrategyHybrid, &alpha, nil
	}
	return "", nil, fmt.Errorf("unknown strategy %q", s)
}

// embedQuery embeds text through the resilience wrapper.
func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	return resilience.DoValue(ctx, e.exec, depEmbedder, func(ctx context.Context) ([]float32, error) {
		return e.embedder.Embed(ctx, text, types.EmbedQuery)
	})
}

// queryIndex queries the vector index through the resilience wrapper.
func (e *Engine) queryIndex(ctx context.Context, q types.IndexQuery) ([]types.ScoredChunk, error) {
	return resilience.DoValue(ctx, e.exec, depIndex, func(ctx context.Context) ([]types.ScoredChunk, error) {
		return e.index.Query(ctx, q)
	})
}
