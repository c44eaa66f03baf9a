package store

import (
	"context"
	"encoding/json"
	"fmt"

	"finsight/internal/logging"
	"finsight/internal/types"
)

// IndexedChunk is a chunk with its vectors, ready for storage.
type IndexedChunk struct {
	Chunk  types.Chunk
	Dense  []float32
	Sparse *types.SparseVector
}

// UpsertChunks writes chunks and their vectors in one transaction.
// Existing IDs are replaced.
func (s *Store) UpsertChunks(ctx context.Context, chunks []IndexedChunk) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertChunks")
	defer timer.Stop()

	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks
		(id, text, source, ticker, fiscal_year, fiscal_quarter, section, embedding, sparse)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, ic := range chunks {
		if ic.Chunk.ID == "" {
			return fmt.Errorf("chunk with empty ID (source=%s)", ic.Chunk.Source)
		}
		var embJSON, sparseJSON interface{}
		if len(ic.Dense) > 0 {
			b, err := json.Marshal(ic.Dense)
			if err != nil {
				return fmt.Errorf("serialize embedding for %s: %w", ic.Chunk.ID, err)
			}
			embJSON = string(b)
		}
		if ic.Sparse.Len() > 0 {
			if err := ic.Sparse.Validate(); err != nil {
				return fmt.Errorf("chunk %s: %w", ic.Chunk.ID, err)
			}
			b, err := json.Marshal(ic.Sparse)
			if err != nil {
				return fmt.Errorf("serialize sparse vector for %s: %w", ic.Chunk.ID, err)
			}
			sparseJSON = string(b)
		}

		m := ic.Chunk.Meta
		if _, err := stmt.ExecContext(ctx,
			ic.Chunk.ID, ic.Chunk.Text, ic.Chunk.Source,
			m.Ticker, m.FiscalYear, m.FiscalQuarter, m.Section,
			embJSON, sparseJSON,
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", ic.Chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	s.mirrorVectors(ctx, chunks)

	logging.StoreDebug("Upserted %d chunks", len(chunks))
	return nil
}

// CountChunks returns the number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteSource removes every chunk ingested from the given document.
func (s *Store) DeleteSource(ctx context.Context, source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropMirroredSource(ctx, source)
	res, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE source = ?", source)
	if err != nil {
		return 0, fmt.Errorf("delete source %s: %w", source, err)
	}
	return res.RowsAffected()
}
