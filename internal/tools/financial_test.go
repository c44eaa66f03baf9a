package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"finsight/internal/store"
)

// fakeMetrics serves metrics from a map keyed by period.
type fakeMetrics struct {
	rows map[string]store.Metric
}

func metricKey(ticker, name string, year int, quarter string) string {
	return fmt.Sprintf("%s/%s/%d/%s", ticker, name, year, quarter)
}

func (f *fakeMetrics) GetMetric(ctx context.Context, ticker, name string, year int, quarter string) (store.Metric, error) {
	m, ok := f.rows[metricKey(ticker, name, year, quarter)]
	if !ok {
		return store.Metric{}, fmt.Errorf("%w: %s %s %d %s", store.ErrMetricNotFound, ticker, name, year, quarter)
	}
	return m, nil
}

func (f *fakeMetrics) GetMetricSeries(ctx context.Context, ticker, name string) ([]store.Metric, error) {
	var series []store.Metric
	for _, m := range f.rows {
		if m.Ticker == ticker && m.Name == name {
			series = append(series, m)
		}
	}
	return series, nil
}

func testMetrics() *fakeMetrics {
	rows := map[string]store.Metric{}
	add := func(year int, quarter string, value float64) {
		m := store.Metric{Ticker: "AMD", Name: "revenue", FiscalYear: year, FiscalQuarter: quarter, Value: value, Unit: "USD"}
		rows[metricKey("AMD", "revenue", year, quarter)] = m
	}
	add(2023, "Q3", 5.800e9)
	add(2024, "Q2", 5.835e9)
	add(2024, "Q3", 6.819e9)
	return &fakeMetrics{rows: rows}
}

func financialRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterFinancial(r, testMetrics())
	return r
}

func TestFetchMetric(t *testing.T) {
	r := financialRegistry(t)

	res, err := r.Execute(context.Background(), "fetch_metric", map[string]any{
		"ticker":         "AMD",
		"metric":         "revenue",
		"fiscal_year":    float64(2024), // planner arguments arrive as JSON numbers
		"fiscal_quarter": "Q3",
	})
	require.NoError(t, err)

	var m store.Metric
	require.NoError(t, json.Unmarshal([]byte(res.Result), &m))
	require.Equal(t, 6.819e9, m.Value)
	require.Equal(t, "Q3", m.FiscalQuarter)
}

func TestFetchMetric_NotFound(t *testing.T) {
	r := financialRegistry(t)

	_, err := r.Execute(context.Background(), "fetch_metric", map[string]any{
		"ticker":         "AMD",
		"metric":         "revenue",
		"fiscal_year":    2021,
		"fiscal_quarter": "Q1",
	})
	require.ErrorIs(t, err, store.ErrMetricNotFound)
}

func TestFetchMetricSeries(t *testing.T) {
	r := financialRegistry(t)

	res, err := r.Execute(context.Background(), "fetch_metric_series", map[string]any{
		"ticker": "AMD",
		"metric": "revenue",
	})
	require.NoError(t, err)

	var series []store.Metric
	require.NoError(t, json.Unmarshal([]byte(res.Result), &series))
	require.Len(t, series, 3)
}

func TestComputeGrowth_YoY(t *testing.T) {
	r := financialRegistry(t)

	res, err := r.Execute(context.Background(), "compute_growth", map[string]any{
		"ticker":         "AMD",
		"metric":         "revenue",
		"fiscal_year":    2024,
		"fiscal_quarter": "Q3",
	})
	require.NoError(t, err)

	var g growthResult
	require.NoError(t, json.Unmarshal([]byte(res.Result), &g))
	require.Equal(t, "yoy", g.Basis)
	require.Equal(t, 2023, g.Prior.FiscalYear)
	require.InDelta(t, (6.819e9-5.800e9)/5.800e9*100, g.GrowthPercent, 1e-9)
}

func TestComputeGrowth_QoQ(t *testing.T) {
	r := financialRegistry(t)

	res, err := r.Execute(context.Background(), "compute_growth", map[string]any{
		"ticker":         "AMD",
		"metric":         "revenue",
		"fiscal_year":    2024,
		"fiscal_quarter": "Q3",
		"basis":          "qoq",
	})
	require.NoError(t, err)

	var g growthResult
	require.NoError(t, json.Unmarshal([]byte(res.Result), &g))
	require.Equal(t, "Q2", g.Prior.FiscalQuarter)
	require.Equal(t, 2024, g.Prior.FiscalYear)
}

func TestComputeGrowth_RejectsBadBasis(t *testing.T) {
	r := financialRegistry(t)

	_, err := r.Execute(context.Background(), "compute_growth", map[string]any{
		"ticker":         "AMD",
		"metric":         "revenue",
		"fiscal_year":    2024,
		"fiscal_quarter": "Q3",
		"basis":          "mom",
	})
	require.True(t, errors.Is(err, ErrInvalidArgType))
}

func TestPriorPeriod_QoQWrapsFiscalYear(t *testing.T) {
	year, quarter, err := priorPeriod(2024, "Q1", "qoq")
	require.NoError(t, err)
	require.Equal(t, 2023, year)
	require.Equal(t, "Q4", quarter)
}
