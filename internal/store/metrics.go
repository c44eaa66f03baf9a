package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finsight/internal/logging"
)

// =============================================================================
// FINANCIAL METRICS
// =============================================================================

// ErrMetricNotFound is returned when no row matches a metric lookup.
var ErrMetricNotFound = errors.New("metric not found")

// Metric is one reported financial figure for a fiscal period.
type Metric struct {
	Ticker        string  `json:"ticker"`
	Name          string  `json:"metric"`
	FiscalYear    int     `json:"fiscal_year"`
	FiscalQuarter string  `json:"fiscal_quarter"`
	Value         float64 `json:"value"`
	Unit          string  `json:"unit,omitempty"`
	Source        string  `json:"source,omitempty"`
}

// PutMetrics upserts metric rows in one transaction.
func (s *Store) PutMetrics(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO metrics
		(ticker, metric, fiscal_year, fiscal_quarter, value, unit, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare metrics upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		if m.Ticker == "" || m.Name == "" {
			return fmt.Errorf("metric requires ticker and name: %+v", m)
		}
		if _, err := stmt.ExecContext(ctx,
			m.Ticker, m.Name, m.FiscalYear, m.FiscalQuarter, m.Value, m.Unit, m.Source,
		); err != nil {
			return fmt.Errorf("upsert metric %s/%s: %w", m.Ticker, m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics upsert: %w", err)
	}
	logging.StoreDebug("Upserted %d metrics", len(metrics))
	return nil
}

// GetMetric returns one metric for an exact fiscal period.
func (s *Store) GetMetric(ctx context.Context, ticker, name string, year int, quarter string) (Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m Metric
	err := s.db.QueryRowContext(ctx, `SELECT ticker, metric, fiscal_year, fiscal_quarter, value, unit, source
		FROM metrics WHERE ticker = ? AND metric = ? AND fiscal_year = ? AND fiscal_quarter = ?`,
		ticker, name, year, quarter,
	).Scan(&m.Ticker, &m.Name, &m.FiscalYear, &m.FiscalQuarter, &m.Value, &m.Unit, &m.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return Metric{}, fmt.Errorf("%w: %s %s %d %s", ErrMetricNotFound, ticker, name, year, quarter)
	}
	if err != nil {
		return Metric{}, fmt.Errorf("get metric: %w", err)
	}
	return m, nil
}

// GetMetricSeries returns every period of a metric for a ticker, ordered
// by fiscal year then quarter.
func (s *Store) GetMetricSeries(ctx context.Context, ticker, name string) ([]Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT ticker, metric, fiscal_year, fiscal_quarter, value, unit, source
		FROM metrics WHERE ticker = ? AND metric = ?
		ORDER BY fiscal_year, fiscal_quarter`,
		ticker, name,
	)
	if err != nil {
		return nil, fmt.Errorf("get metric series: %w", err)
	}
	defer rows.Close()

	var series []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.Ticker, &m.Name, &m.FiscalYear, &m.FiscalQuarter, &m.Value, &m.Unit, &m.Source); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		series = append(series, m)
	}
	return series, rows.Err()
}
