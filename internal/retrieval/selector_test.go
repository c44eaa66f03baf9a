package retrieval

import (
	"testing"

	"finsight/internal/types"
)

func TestClassifyQuery(t *testing.T) {
	rules := DefaultSelectorRules()
	tests := []struct {
		name string
		text string
		want types.StrategyKind
	}{
		{"compare phrase", "compare NVDA and AMD data center revenue", types.StrategyMultiQuery},
		{"versus", "NVDA versus AMD gross margin trends this year", types.StrategyMultiQuery},
		{"difference between", "what is the difference between GAAP and non-GAAP operating income", types.StrategyMultiQuery},
		{"fiscal year", "what was total revenue in 2024 for the gaming segment", types.StrategyHybrid},
		{"quarter token", "q3 guidance for the automotive segment compared across regions", types.StrategyHybrid},
		{"dollar figure", "did operating expenses exceed $2 billion last quarter of the year", types.StrategyHybrid},
		{"percentage", "which segment grew more than 20% during the latest reporting period", types.StrategyHybrid},
		{"vague phrase", "what is management's outlook for the gaming business going forward", types.StrategyHyDE},
		{"sentiment", "describe analyst sentiment around the latest earnings call commentary", types.StrategyHyDE},
		{"short question", "how about margins", types.StrategyHyDE},
		{"specific prose", "which products did management highlight as drivers of data center demand during the call", types.StrategyDense},

		// Precedence: comparisons win over numerals, numerals over vagueness.
		{"compare beats numeric", "compare 2023 and 2024 data center revenue", types.StrategyMultiQuery},
		{"numeric beats vague", "overall how did 2024 go", types.StrategyHybrid},

		// Phrase rules match whole words only: "compared" is not "compare".
		{"vs token", "NVDA vs AMD data center revenue growth this cycle", types.StrategyMultiQuery},
		{"participle is not compare", "how automotive guidance compared across regions during the call", types.StrategyDense},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyQuery(tt.text, rules); got != tt.want {
				t.Fatalf("ClassifyQuery(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassifyQuery_ShortWordLimitIsConfigurable(t *testing.T) {
	rules := DefaultSelectorRules()
	rules.VagueMaxWords = 0
	rules.VaguePhrases = nil

	if got := ClassifyQuery("margins", rules); got != types.StrategyDense {
		t.Fatalf("with vague rules disabled, ClassifyQuery = %q, want dense", got)
	}
}
