package retrieval

import (
	"regexp"
	"strings"
	"unicode"

	"finsight/internal/types"
)

// SelectorRules is the data behind the auto-strategy classifier. Keeping
// the keyword lists and patterns here (rather than scattered conditionals)
// lets each rule be tuned and unit-tested independently. Classification is
// a heuristic: a miss is a quality issue, not a correctness bug.
type SelectorRules struct {
	// ComparePhrases route compound comparison questions to multi-query.
	// Checked first: comparisons usually also contain numerals, and the
	// multi-variant fan-out serves them better than hybrid.
	ComparePhrases []string

	// NumericPattern routes questions with explicit figures, years, or
	// fiscal periods to hybrid, where exact-token overlap matters.
	NumericPattern *regexp.Regexp

	// VaguePhrases route open-ended questions to HyDE.
	VaguePhrases []string

	// VagueMaxWords treats very short questions without numerals as vague.
	VagueMaxWords int
}

// DefaultSelectorRules returns the shipped rule set.
func DefaultSelectorRules() SelectorRules {
	return SelectorRules{
		ComparePhrases: []string{
			"compare", "versus", "vs", "difference between",
			"compared to", "compared with", "better than", "worse than",
		},
		NumericPattern: regexp.MustCompile(`(\d{4}|q[1-4]\b|fy\d{2,4}|\$\d|\d+(\.\d+)?%|\d+\.\d+)`),
		VaguePhrases: []string{
			"outlook", "sentiment", "overall", "in general", "thoughts on",
			"how is", "how are", "what about", "tell me about", "summarize",
			"summary of",
		},
		VagueMaxWords: 4,
	}
}

// ClassifyQuery picks a concrete strategy for a query with no explicit
// directive.
func ClassifyQuery(text string, rules SelectorRules) types.StrategyKind {
	lower := strings.ToLower(text)
	words := wordBoundaryForm(lower)

	for _, phrase := range rules.ComparePhrases {
		if containsPhrase(words, phrase) {
			return types.StrategyMultiQuery
		}
	}

	if rules.NumericPattern != nil && rules.NumericPattern.MatchString(lower) {
		return types.StrategyHybrid
	}

	for _, phrase := range rules.VaguePhrases {
		if containsPhrase(words, phrase) {
			return types.StrategyHyDE
		}
	}
	if rules.VagueMaxWords > 0 && len(strings.Fields(lower)) <= rules.VagueMaxWords {
		return types.StrategyHyDE
	}

	return types.StrategyDense
}

// wordBoundaryForm rewrites text as space-padded words so phrase matches
// only hit whole words: "compare" must not match "compared".
func wordBoundaryForm(lower string) string {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

// containsPhrase matches a rule phrase against the padded word form.
func containsPhrase(words, phrase string) bool {
	return strings.Contains(words, wordBoundaryForm(strings.ToLower(phrase)))
}
