package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"finsight/internal/embedding"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// =============================================================================
// VECTOR INDEX
// =============================================================================

// Query scores stored chunks against the request. Metadata filtering is
// pushed into SQL. KNN runs through the sqlite-vec mirror when the
// extension is loaded, with in-process cosine scoring as the fallback.
// When the request carries a sparse vector the dense and keyword scores
// are fused natively as alpha*cosine + (1-alpha)*overlap, overlap
// normalized by the query's sparse self-similarity.
func (s *Store) Query(ctx context.Context, q types.IndexQuery) ([]types.ScoredChunk, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Query")
	defer timer.Stop()

	if len(q.Dense) == 0 {
		return nil, fmt.Errorf("index query requires a dense vector")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vecDims > 0 && s.vecDims == len(q.Dense) {
		scored, err := s.queryVec(ctx, q, topK)
		if err == nil {
			return scored, nil
		}
		logging.StoreDebug("vec KNN failed, falling back to in-process scoring: %v", err)
	}
	return s.queryBrute(ctx, q, topK)
}

// queryBrute scans candidate rows and scores them in-process. Caller holds
// the read lock.
func (s *Store) queryBrute(ctx context.Context, q types.IndexQuery, topK int) ([]types.ScoredChunk, error) {
	sqlQuery, args := buildChunkQuery(q.Filter)
	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var sparseNorm float64
	if q.Sparse.Len() > 0 {
		sparseNorm = q.Sparse.Dot(q.Sparse)
	}

	var scored []types.ScoredChunk
	skipped := 0
	for rows.Next() {
		var c types.Chunk
		var embJSON, sparseJSON *string
		if err := rows.Scan(&c.ID, &c.Text, &c.Source,
			&c.Meta.Ticker, &c.Meta.FiscalYear, &c.Meta.FiscalQuarter, &c.Meta.Section,
			&embJSON, &sparseJSON); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if embJSON == nil {
			skipped++
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(*embJSON), &vec); err != nil {
			skipped++
			continue
		}
		cos, err := embedding.CosineSimilarity(q.Dense, vec)
		if err != nil {
			skipped++
			continue
		}

		score := cos
		if sparseNorm > 0 {
			overlap := 0.0
			if sparseJSON != nil {
				var sv types.SparseVector
				if err := json.Unmarshal([]byte(*sparseJSON), &sv); err == nil {
					overlap = q.Sparse.Dot(&sv) / sparseNorm
				}
			}
			score = q.Alpha*cos + (1-q.Alpha)*overlap
		}

		scored = append(scored, types.ScoredChunk{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	if skipped > 0 {
		logging.Get(logging.CategoryStore).Warn("Query skipped %d chunks with unusable vectors", skipped)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	logging.StoreDebug("Query returned %d of %d candidates", len(scored), len(scored)+skipped)
	return scored, nil
}

// SupportsSparse reports that the store fuses dense and sparse scores
// itself.
func (s *Store) SupportsSparse() bool {
	return true
}

// buildChunkQuery assembles the candidate SELECT with metadata pushdown.
func buildChunkQuery(f types.MetadataFilter) (string, []interface{}) {
	query := `SELECT id, text, source, ticker, fiscal_year, fiscal_quarter, section, embedding, sparse
		FROM chunks WHERE embedding IS NOT NULL`
	conds, args := filterConds(f, "")
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}
	return query, args
}

// filterConds renders the metadata filter as SQL conditions against the
// chunks table, optionally qualified with an alias prefix.
func filterConds(f types.MetadataFilter, prefix string) ([]string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.Ticker != "" {
		conds = append(conds, prefix+"ticker = ?")
		args = append(args, f.Ticker)
	}
	if f.FiscalYear != 0 {
		conds = append(conds, prefix+"fiscal_year = ?")
		args = append(args, f.FiscalYear)
	}
	if f.FiscalQuarter != "" {
		conds = append(conds, prefix+"fiscal_quarter = ?")
		args = append(args, f.FiscalQuarter)
	}
	if f.Section != "" {
		conds = append(conds, prefix+"section = ?")
		args = append(args, f.Section)
	}
	return conds, args
}
