package tools

import (
	"context"
	"fmt"

	"finsight/internal/retrieval"
	"finsight/internal/types"
)

// NameSearchTranscripts is the registered name of the transcript search
// tool, referenced by callers that override its strategy argument.
const NameSearchTranscripts = "search_transcripts"

// Retriever runs a retrieval query. *retrieval.Engine is the production
// implementation.
type Retriever interface {
	Retrieve(ctx context.Context, q types.Query, topK int) (*types.RetrievalResult, error)
}

// transcriptHit is one search_transcripts result row.
type transcriptHit struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
	Text   string  `json:"text"`
}

// transcriptResult is the search_transcripts payload.
type transcriptResult struct {
	Strategy types.StrategyKind `json:"strategy"`
	Hits     []transcriptHit    `json:"hits"`
}

// RegisterTranscripts adds the transcript evidence search tool.
func RegisterTranscripts(r *Registry, retriever Retriever) {
	r.MustRegister(&Tool{
		Name:        NameSearchTranscripts,
		Description: "Search earnings-call transcripts and filings for passages relevant to a question. Returns ranked evidence excerpts with sources. Use ticker and period filters when the question names them.",
		Category:    CategoryTranscripts,
		Schema: ToolSchema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query":          {Type: "string", Description: "Natural-language search query"},
				"ticker":         {Type: "string", Description: "Restrict to one stock ticker"},
				"fiscal_year":    {Type: "integer", Description: "Restrict to one fiscal year"},
				"fiscal_quarter": {Type: "string", Description: "Restrict to one fiscal quarter Q1-Q4", Enum: []any{"Q1", "Q2", "Q3", "Q4"}},
				"strategy":       {Type: "string", Description: "Retrieval strategy override", Default: "auto", Enum: []any{"auto", "dense", "hybrid", "hyde", "multi_query"}},
				"top_k":          {Type: "integer", Description: "Number of passages to return"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			queryText, err := argString(args, "query")
			if err != nil {
				return "", err
			}
			ticker, err := argString(args, "ticker")
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
			strategyArg, err := argString(args, "strategy")
			if err != nil {
				return "", err
			}
			topK, err := argInt(args, "top_k")
			if err != nil {
				return "", err
			}

			strategy, alpha, err := retrieval.ParseStrategy(strategyArg)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidArgType, err)
			}

			result, err := retriever.Retrieve(ctx, types.Query{
				Text:     queryText,
				Strategy: strategy,
				Alpha:    alpha,
				Hints: types.MetadataFilter{
					Ticker:        ticker,
					FiscalYear:    year,
					FiscalQuarter: quarter,
				},
			}, topK)
			if err != nil {
				return "", err
			}

			out := transcriptResult{Strategy: result.Strategy}
			for _, sc := range result.Chunks {
				out.Hits = append(out.Hits, transcriptHit{
					ID:     sc.Chunk.ID,
					Source: sc.Chunk.Source,
					Score:  sc.Score,
					Text:   sc.Chunk.Text,
				})
			}
			return marshalResult(out)
		},
	})
}
