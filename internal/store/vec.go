package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"finsight/internal/logging"
	"finsight/internal/types"
)

// =============================================================================
// SQLITE-VEC KNN MIRROR
// =============================================================================

// ensureVecMirror creates the vec0 mirror table for the given embedding
// width. The mirror is best-effort: when the extension is missing or the
// table cannot be created, queries fall back to in-process scoring.
// Caller holds the write lock.
func (s *Store) ensureVecMirror(dims int) bool {
	if !s.vectorExt || dims <= 0 {
		return false
	}
	if s.vecDims == dims {
		return true
	}
	if s.vecDims != 0 {
		logging.Get(logging.CategoryStore).Warn(
			"vec mirror holds %d-dim vectors, got %d; mirroring disabled for this batch", s.vecDims, dims)
		return false
	}

	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec0(
		embedding float[%d],
		chunk_id TEXT
	)`, dims)
	if _, err := s.db.Exec(stmt); err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to create chunk_vectors table (sqlite-vec may not be available): %v", err)
		return false
	}
	s.vecDims = dims
	logging.StoreDebug("sqlite-vec mirror created with %d dimensions", dims)
	return true
}

// mirrorVectors refreshes the vec0 rows for the given chunks. Failures
// only disable KNN for the affected rows, never the upsert itself.
// Caller holds the write lock.
func (s *Store) mirrorVectors(ctx context.Context, chunks []IndexedChunk) {
	dims := 0
	for _, ic := range chunks {
		if len(ic.Dense) > 0 {
			dims = len(ic.Dense)
			break
		}
	}
	if !s.ensureVecMirror(dims) {
		return
	}

	for _, ic := range chunks {
		if len(ic.Dense) != s.vecDims {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM chunk_vectors WHERE chunk_id = ?", ic.Chunk.ID); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to clear vec mirror for %s: %v", ic.Chunk.ID, err)
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO chunk_vectors (embedding, chunk_id) VALUES (?, ?)",
			encodeVectorBlob(ic.Dense), ic.Chunk.ID); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to mirror vector for %s (KNN may be unavailable): %v", ic.Chunk.ID, err)
		}
	}
}

// dropMirroredSource removes the vec0 rows for a document before its
// chunks are deleted. Caller holds the write lock.
func (s *Store) dropMirroredSource(ctx context.Context, source string) {
	if s.vecDims == 0 {
		return
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM chunk_vectors WHERE chunk_id IN (SELECT id FROM chunks WHERE source = ?)",
		source); err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to clear vec mirror for source %s: %v", source, err)
	}
}

// queryVec runs the KNN through sqlite-vec, joining the mirror back to
// the chunks table for metadata and sparse fusion. Caller holds the read
// lock.
func (s *Store) queryVec(ctx context.Context, q types.IndexQuery, topK int) ([]types.ScoredChunk, error) {
	// With sparse fusion the KNN over-fetches so keyword-heavy chunks
	// outside the dense top-K can still surface.
	fetch := topK
	if q.Sparse.Len() > 0 {
		fetch = topK * 4
	}

	query := `SELECT c.id, c.text, c.source, c.ticker, c.fiscal_year, c.fiscal_quarter, c.section, c.sparse,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM chunk_vectors v
		JOIN chunks c ON c.id = v.chunk_id`
	args := []interface{}{encodeVectorBlob(q.Dense)}
	conds, condArgs := filterConds(q.Filter, "c.")
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, condArgs...)
	query += " ORDER BY distance ASC LIMIT ?"
	args = append(args, fetch)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vec knn query: %w", err)
	}
	defer rows.Close()

	var sparseNorm float64
	if q.Sparse.Len() > 0 {
		sparseNorm = q.Sparse.Dot(q.Sparse)
	}

	var scored []types.ScoredChunk
	for rows.Next() {
		var c types.Chunk
		var sparseJSON *string
		var distance float64
		if err := rows.Scan(&c.ID, &c.Text, &c.Source,
			&c.Meta.Ticker, &c.Meta.FiscalYear, &c.Meta.FiscalQuarter, &c.Meta.Section,
			&sparseJSON, &distance); err != nil {
			return nil, fmt.Errorf("scan vec row: %w", err)
		}

		score := 1.0 - distance
		if sparseNorm > 0 {
			overlap := 0.0
			if sparseJSON != nil {
				var sv types.SparseVector
				if err := json.Unmarshal([]byte(*sparseJSON), &sv); err == nil {
					overlap = q.Sparse.Dot(&sv) / sparseNorm
				}
			}
			score = q.Alpha*(1.0-distance) + (1-q.Alpha)*overlap
		}
		scored = append(scored, types.ScoredChunk{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vec rows: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	logging.StoreDebug("vec KNN returned %d results", len(scored))
	return scored, nil
}

// encodeVectorBlob renders a dense vector in the little-endian float32
// layout sqlite-vec expects.
func encodeVectorBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}
