// Package retrieval implements the multi-strategy retrieval engine: a
// deterministic sparse vectorizer plus dense, hybrid, HyDE, and
// multi-query+RRF strategies with an auto-selecting classifier.
package retrieval

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"finsight/internal/logging"
	"finsight/internal/types"
)

// =============================================================================
// SPARSE VECTORIZER - Deterministic lexical encoder
// =============================================================================

// SparseEncoder produces keyword-weighted sparse vectors from text.
// Encoding is deterministic: identical text always yields identical
// index/weight sequences, which makes results cacheable and tests
// reproducible. Hash collisions within the fixed index space are an
// accepted precision/memory trade-off.
type SparseEncoder struct {
	dims  uint32
	cache *lru.Cache[string, *types.SparseVector]
}

// DefaultSparseDimensions is the default hash-space size.
const DefaultSparseDimensions = 30000

// NewSparseEncoder creates an encoder over a fixed index space with an LRU
// cache of encoded vectors.
func NewSparseEncoder(dims, cacheSize int) *SparseEncoder {
	if dims <= 0 {
		dims = DefaultSparseDimensions
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, *types.SparseVector](cacheSize)
	if err != nil {
		// Only reachable with an invalid size, which we just normalized.
		panic(err)
	}
	return &SparseEncoder{dims: uint32(dims), cache: cache}
}

// Dimensions returns the hash-space size.
func (e *SparseEncoder) Dimensions() int {
	return int(e.dims)
}

// Encode tokenizes text and returns its sparse vector, or nil when no
// tokens survive filtering. Cached vectors are shared; callers must treat
// the result as read-only.
func (e *SparseEncoder) Encode(text string) *types.SparseVector {
	if cached, ok := e.cache.Get(text); ok {
		return cached
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		e.cache.Add(text, nil)
		return nil
	}

	// Per-token term frequency, then BM25-style dampened weight 1+ln(tf).
	// No IDF term: corpus document frequencies are not tracked here.
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}

	// Tokens colliding on the same hashed index sum their weights.
	byIndex := make(map[uint32]float64, len(tf))
	for tok, count := range tf {
		idx := e.hashToken(tok)
		byIndex[idx] += 1 + math.Log(float64(count))
	}

	vec := &types.SparseVector{
		Indices: make([]uint32, 0, len(byIndex)),
		Weights: make([]float64, 0, len(byIndex)),
	}
	for idx := range byIndex {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Slice(vec.Indices, func(i, j int) bool { return vec.Indices[i] < vec.Indices[j] })
	for _, idx := range vec.Indices {
		vec.Weights = append(vec.Weights, byIndex[idx])
	}

	logging.RetrievalDebug("sparse encode: %d tokens -> %d dims", len(tokens), vec.Len())
	e.cache.Add(text, vec)
	return vec
}

// hashToken maps a token into the fixed index space with FNV-1a.
func (e *SparseEncoder) hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32() % e.dims
}

// tokenize lowercases text, strips characters outside the whitelist
// (letters, digits, %, $, .), splits on whitespace, and drops short tokens
// and stopwords.
func tokenize(text string) []string {
	lower := strings.ToLower(text)

	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if len(tok) <= 2 || stopwords[tok] {
			return
		}
		tokens = append(tokens, tok)
	}

	for _, r := range lower {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '%' || r == '$' || r == '.':
			b.WriteRune(r)
		default:
			// Stripped: punctuation outside the whitelist.
		}
	}
	flush()

	return tokens
}


// stopwords is the fixed domain stopword set. Financial terms that carry
// signal (revenue, margin, guidance, quarter) are deliberately absent.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "has": true, "had": true, "have": true, "this": true,
	"that": true, "these": true, "those": true, "with": true, "from": true,
	"into": true, "over": true, "under": true, "about": true, "than": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"why": true, "how": true, "did": true, "does": true, "will": true,
	"would": true, "could": true, "should": true, "can": true, "its": true,
	"their": true, "they": true, "our": true, "your": true, "you": true,
	"but": true, "not": true, "all": true, "any": true, "been": true,
	"being": true, "also": true, "there": true, "during": true,
	"company": true, "companys": true, "please": true, "tell": true,
}
