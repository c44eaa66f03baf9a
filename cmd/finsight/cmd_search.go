package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"finsight/internal/retrieval"
	"finsight/internal/types"
)

var (
	searchStrategy string
	searchTopK     int
	searchTicker   string
	searchYear     int
	searchQuarter  string
)

// searchCmd queries the retrieval engine directly
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed transcripts directly",
	Long: `Runs a retrieval query against the local index and prints the
ranked evidence chunks, bypassing the agent loop. Useful for inspecting
what each strategy surfaces for a question.

Example:
  finsight search --strategy multi_query "competitive pressure in AI accelerators"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchStrategy, "strategy", "", "Retrieval strategy (dense, hybrid, hybrid-<alpha>, hyde, multi_query, auto)")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "Number of results (default from config)")
	searchCmd.Flags().StringVar(&searchTicker, "ticker", "", "Restrict to a ticker")
	searchCmd.Flags().IntVar(&searchYear, "year", 0, "Restrict to a fiscal year")
	searchCmd.Flags().StringVar(&searchQuarter, "quarter", "", "Restrict to a fiscal quarter (Q1..Q4)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	q := types.Query{
		Text: strings.Join(args, " "),
		Hints: types.MetadataFilter{
			Ticker:        searchTicker,
			FiscalYear:    searchYear,
			FiscalQuarter: searchQuarter,
		},
	}
	if searchStrategy != "" {
		kind, alpha, err := retrieval.ParseStrategy(searchStrategy)
		if err != nil {
			return err
		}
		q.Strategy = kind
		q.Alpha = alpha
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := a.retriever.Retrieve(ctx, q, searchTopK)
	if err != nil {
		return err
	}

	fmt.Printf("Strategy: %s (%d results)\n\n", result.Strategy, len(result.Chunks))
	for i, sc := range result.Chunks {
		fmt.Printf("%2d. [%.4f] %s (%s)\n", i+1, sc.Score, sc.Chunk.ID, sc.Chunk.Source)
		fmt.Printf("    %s\n\n", excerpt(sc.Chunk.Text, 240))
	}
	return nil
}

// excerpt trims text to at most n runes on a word boundary.
func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
