// Package embedding generates dense vectors for queries and filing chunks.
// The GenAI backend is the production path; tests use in-package stubs.
package embedding

import (
	"context"
	"fmt"
	"math"

	"finsight/internal/config"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// =============================================================================
// FACTORY
// =============================================================================

// BatchEmbedder is an optional interface for backends with native batch
// support. Ingestion uses it when available to cut API round-trips.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, kind types.EmbedKind) ([][]float32, error)
}

// NewEngine creates an embedder from configuration.
func NewEngine(cfg config.EmbeddingConfig) (types.Embedder, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine with provider=%s model=%s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "genai", "":
		return NewGenAIEmbedder(cfg.APIKey, cfg.Model)
	default:
		err := fmt.Errorf("unsupported embedding provider: %s (use 'genai')", cfg.Provider)
		logging.Get(logging.CategoryEmbedding).Error("%v", err)
		return nil, err
	}
}

// =============================================================================
// COSINE SIMILARITY UTILITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i] * b[i])
		aMag += float64(a[i] * a[i])
		bMag += float64(b[i] * b[i])
	}

	if aMag == 0 || bMag == 0 {
		logging.Get(logging.CategoryEmbedding).Warn("CosineSimilarity: zero magnitude vector")
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
