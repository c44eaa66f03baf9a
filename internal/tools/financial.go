package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"finsight/internal/store"
)

// MetricsSource supplies structured financial figures. *store.Store is the
// production implementation.
type MetricsSource interface {
	GetMetric(ctx context.Context, ticker, name string, year int, quarter string) (store.Metric, error)
	GetMetricSeries(ctx context.Context, ticker, name string) ([]store.Metric, error)
}

// RegisterFinancial adds the metric lookup and analysis tools.
func RegisterFinancial(r *Registry, metrics MetricsSource) {
	r.MustRegister(fetchMetricTool(metrics))
	r.MustRegister(fetchMetricSeriesTool(metrics))
	r.MustRegister(computeGrowthTool(metrics))
}

func fetchMetricTool(metrics MetricsSource) *Tool {
	return &Tool{
		Name:        "fetch_metric",
		Description: "Fetch one reported financial metric for a company and fiscal period, e.g. revenue for AMD in Q3 2024. Values are as reported in USD unless the unit says otherwise.",
		Category:    CategoryMetrics,
		Schema: ToolSchema{
			Required: []string{"ticker", "metric", "fiscal_year", "fiscal_quarter"},
			Properties: map[string]Property{
				"ticker":         {Type: "string", Description: "Stock ticker, e.g. AMD"},
				"metric":         {Type: "string", Description: "Metric name, e.g. revenue, gross_margin, eps"},
				"fiscal_year":    {Type: "integer", Description: "Fiscal year, e.g. 2024"},
				"fiscal_quarter": {Type: "string", Description: "Fiscal quarter Q1-Q4", Enum: []any{"Q1", "Q2", "Q3", "Q4"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			ticker, err := argString(args, "ticker")
			if err != nil {
				return "", err
			}
			name, err := argString(args, "metric")
			if err != nil {
				return "", err
			}
			year, err := argInt(args, "fiscal_year")
			if err != nil {
				return "", err
			}
			quarter, err := argString(args, "fiscal_quarter")
			if err != nil {
				return "", err
			}

			m, err := metrics.GetMetric(ctx, ticker, name, year, quarter)
			if err != nil {
				return "", err
			}
			return marshalResult(m)
		},
	}
}

func fetchMetricSeriesTool(metrics MetricsSource) *Tool {
	return &Tool{
		Name:        "fetch_metric_series",
		Description: "Fetch every reported period of a financial metric for a company, ordered oldest to newest. Use for trend questions.",
		Category:    CategoryMetrics,
		Schema: ToolSchema{
			Required: []string{"ticker", "metric"},
			Properties: map[string]Property{
				"ticker": {Type: "string", Description: "Stock ticker, e.g. AMD"},
				"metric": {Type: "string", Description: "Metric name, e.g. revenue, gross_margin, eps"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			ticker, err := argString(args, "ticker")
			if err != nil {
				return "", err
			}
			name, err := argString(args, "metric")
			if err != nil {
				return "", err
			}

			series, err := metrics.GetMetricSeries(ctx, ticker, name)
			if err != nil {
				return "", err
			}
			if len(series) == 0 {
				return "", fmt.Errorf("%w: no periods for %s %s", store.ErrMetricNotFound, ticker, name)
			}
			return marshalResult(series)
		},
	}
}

// growthResult is the compute_growth payload.
type growthResult struct {
	Ticker        string       `json:"ticker"`
	Metric        string       `json:"metric"`
	Basis         string       `json:"basis"`
	Current       store.Metric `json:"current"`
	Prior         store.Metric `json:"prior"`
	GrowthPercent float64      `json:"growth_percent"`
}

func computeGrowthTool(metrics MetricsSource) *Tool {
	return &Tool{
		Name:        "compute_growth",
		Description: "Compute year-over-year or quarter-over-quarter growth of a financial metric for a company and fiscal period. Returns both periods and the growth percentage.",
		Category:    CategoryAnalysis,
		Schema: ToolSchema{
			Required: []string{"ticker", "metric", "fiscal_year", "fiscal_quarter"},
			Properties: map[string]Property{
				"ticker":         {Type: "string", Description: "Stock ticker, e.g. AMD"},
				"metric":         {Type: "string", Description: "Metric name, e.g. revenue"},
				"fiscal_year":    {Type: "integer", Description: "Fiscal year of the current period"},
				"fiscal_quarter": {Type: "string", Description: "Fiscal quarter Q1-Q4 of the current period", Enum: []any{"Q1", "Q2", "Q3", "Q4"}},
				"basis":          {Type: "string", Description: "Comparison basis", Default: "yoy", Enum: []any{"yoy", "qoq"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			ticker, err := argString(args, "ticker")
			if err != nil {
				return "", err
			}
			name, err := argString(args, "metric")
			if err != nil {
				return "", err
			}
			year, err := argInt(args, "fiscal_year")
			if err != nil {
				return "", err
			}
			quarter, err := argString(args, "fiscal_quarter")
			if err != nil {
				return "", err
			}
			basis, err := argString(args, "basis")
			if err != nil {
				return "", err
			}
			if basis == "" {
				basis = "yoy"
			}

			priorYear, priorQuarter, err := priorPeriod(year, quarter, basis)
			if err != nil {
				return "", err
			}

			current, err := metrics.GetMetric(ctx, ticker, name, year, quarter)
			if err != nil {
				return "", fmt.Errorf("current period: %w", err)
			}
			prior, err := metrics.GetMetric(ctx, ticker, name, priorYear, priorQuarter)
			if err != nil {
				return "", fmt.Errorf("prior period: %w", err)
			}
			if prior.Value == 0 {
				return "", fmt.Errorf("prior period value is zero, growth undefined")
			}

			return marshalResult(growthResult{
				Ticker:        ticker,
				Metric:        name,
				Basis:         basis,
				Current:       current,
				Prior:         prior,
				GrowthPercent: (current.Value - prior.Value) / prior.Value * 100,
			})
		},
	}
}

// priorPeriod resolves the comparison period for a growth basis.
func priorPeriod(year int, quarter, basis string) (int, string, error) {
	switch basis {
	case "yoy":
		return year - 1, quarter, nil
	case "qoq":
		switch quarter {
		case "Q1":
			return year - 1, "Q4", nil
		case "Q2":
			return year, "Q1", nil
		case "Q3":
			return year, "Q2", nil
		case "Q4":
			return year, "Q3", nil
		default:
			return 0, "", fmt.Errorf("%w: fiscal_quarter must be Q1-Q4, got %q", ErrInvalidArgType, quarter)
		}
	default:
		return 0, "", fmt.Errorf("%w: basis must be yoy or qoq, got %q", ErrInvalidArgType, basis)
	}
}

// marshalResult renders a tool payload as compact JSON.
func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}
