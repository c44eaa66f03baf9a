// Package store persists the evidence corpus and financial metrics in
// SQLite. The chunk table doubles as the production vector index: dense
// embeddings and sparse keyword vectors are stored per chunk. When the
// sqlite-vec extension is present KNN runs inside SQLite over a vec0
// mirror table; otherwise scoring happens in-process at query time.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"finsight/internal/logging"
)

// Store is the SQLite-backed corpus and metrics store.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
	vecDims   int  // embedding width of the vec0 mirror, 0 until created
}

// New initializes the SQLite database at the given path.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "New")
	defer timer.Stop()

	logging.Store("Initializing store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// Safe with WAL: the log already provides crash recovery.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; using in-process scoring")
	}

	logging.Store("Store initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			source TEXT NOT NULL,
			ticker TEXT NOT NULL DEFAULT '',
			fiscal_year INTEGER NOT NULL DEFAULT 0,
			fiscal_quarter TEXT NOT NULL DEFAULT '',
			section TEXT NOT NULL DEFAULT '',
			embedding TEXT,
			sparse TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_ticker ON chunks(ticker)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_period ON chunks(fiscal_year, fiscal_quarter)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			ticker TEXT NOT NULL,
			metric TEXT NOT NULL,
			fiscal_year INTEGER NOT NULL,
			fiscal_quarter TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (ticker, metric, fiscal_year, fiscal_quarter)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_series ON metrics(ticker, metric, fiscal_year)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// detectVecExtension checks whether the sqlite-vec extension is loaded.
func (s *Store) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vectorExt = true
		logging.StoreDebug("sqlite-vec version: %s", version)
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
