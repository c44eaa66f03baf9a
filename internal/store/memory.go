package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"finsight/internal/embedding"
	"finsight/internal/types"
)

// =============================================================================
// IN-MEMORY INDEX
// =============================================================================

// MemoryIndex is a brute-force in-memory vector index. It serves tests and
// small ad-hoc corpora; it scores dense similarity only, so hybrid queries
// against it take the client-side rerank path.
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks []IndexedChunk
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Add appends chunks to the index. Duplicate IDs replace earlier entries.
func (m *MemoryIndex) Add(chunks ...IndexedChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ic := range chunks {
		replaced := false
		for i := range m.chunks {
			if m.chunks[i].Chunk.ID == ic.Chunk.ID {
				m.chunks[i] = ic
				replaced = true
				break
			}
		}
		if !replaced {
			m.chunks = append(m.chunks, ic)
		}
	}
}

// Len returns the number of indexed chunks.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Query returns the top-K chunks by cosine similarity, honoring the
// metadata filter.
func (m *MemoryIndex) Query(ctx context.Context, q types.IndexQuery) ([]types.ScoredChunk, error) {
	if len(q.Dense) == 0 {
		return nil, fmt.Errorf("index query requires a dense vector")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []types.ScoredChunk
	for _, ic := range m.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !q.Filter.Matches(ic.Chunk.Meta) {
			continue
		}
		cos, err := embedding.CosineSimilarity(q.Dense, ic.Dense)
		if err != nil {
			continue
		}
		scored = append(scored, types.ScoredChunk{Chunk: ic.Chunk, Score: cos})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// SupportsSparse reports that the memory index scores dense only.
func (m *MemoryIndex) SupportsSparse() bool {
	return false
}
