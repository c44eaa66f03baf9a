package embedding

import (
	"math"
	"testing"

	"finsight/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
}

func TestNewEngine_RejectsUnknownProvider(t *testing.T) {
	_, err := NewEngine(config.EmbeddingConfig{Provider: "mystery"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewGenAIEmbedder_RequiresAPIKey(t *testing.T) {
	if _, err := NewGenAIEmbedder("", "gemini-embedding-001"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
