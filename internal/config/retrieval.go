package config

// RetrievalConfig configures the multi-strategy retrieval engine.
type RetrievalConfig struct {
	// TopK is the default number of chunks returned per query.
	TopK int `yaml:"top_k"`

	// HybridAlpha is the dense weight for hybrid fusion, in [0,1].
	// 1.0 degenerates to dense-only; 0.0 lets keyword overlap dominate.
	HybridAlpha float64 `yaml:"hybrid_alpha"`

	// SparseDimensions is the hash-space size for the sparse vectorizer.
	// Collisions are an accepted precision/memory trade-off.
	SparseDimensions int `yaml:"sparse_dimensions"`

	// SparseCacheSize bounds the LRU cache of encoded sparse vectors.
	SparseCacheSize int `yaml:"sparse_cache_size"`

	// MultiQueryCount is the number of paraphrases generated for
	// multi-query retrieval (small, 3-5).
	MultiQueryCount int `yaml:"multi_query_count"`

	// MultiQueryDepth is the per-variant topN fetched before fusion.
	// Must be >= TopK.
	MultiQueryDepth int `yaml:"multi_query_depth"`

	// RRFConstant is the kappa damping constant for reciprocal rank fusion.
	RRFConstant float64 `yaml:"rrf_constant"`

	// HyDEMaxWords trims runaway hypothetical answers before embedding.
	HyDEMaxWords int `yaml:"hyde_max_words"`
}

// DefaultRetrievalConfig returns retrieval defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:             8,
		HybridAlpha:      0.6,
		SparseDimensions: 30000,
		SparseCacheSize:  2048,
		MultiQueryCount:  4,
		MultiQueryDepth:  20,
		RRFConstant:      60,
		HyDEMaxWords:     160,
	}
}
