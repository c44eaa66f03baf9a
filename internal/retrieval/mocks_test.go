package retrieval

import (
	"context"
	"errors"
	"sync"
	"time"

	"finsight/internal/config"
	"finsight/internal/resilience"
	"finsight/internal/types"
)

// stubEmbedder assigns each distinct text a unique one-hot-ish vector so
// tests can recognize which text an index query was embedded from.
type stubEmbedder struct {
	mu   sync.Mutex
	seen map[string]float32
	next float32
	err  error
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{seen: make(map[string]float32), next: 1}
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, kind types.EmbedKind) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.seen[text]
	if !ok {
		id = s.next
		s.next++
		s.seen[text] = id
	}
	return []float32{id}, nil
}

func (s *stubEmbedder) Dimensions() int { return 1 }

// fingerprint returns the vector id previously assigned to text, or 0.
func (s *stubEmbedder) fingerprint(text string) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[text]
}

// stubIndex answers queries through a caller-supplied function.
type stubIndex struct {
	fn     func(q types.IndexQuery) ([]types.ScoredChunk, error)
	sparse bool
}

func (s *stubIndex) Query(ctx context.Context, q types.IndexQuery) ([]types.ScoredChunk, error) {
	return s.fn(q)
}

func (s *stubIndex) SupportsSparse() bool { return s.sparse }

// stubLLM answers Complete through a caller-supplied function; the other
// client methods are unused by retrieval.
type stubLLM struct {
	complete func(prompt string) (string, error)
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.complete(prompt)
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubLLM) CompleteWithTools(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) CompleteStream(ctx context.Context, systemPrompt string, messages []types.Message, emit func(string) error) error {
	return errors.New("not implemented")
}

func testExecutor() *resilience.Executor {
	return resilience.New(resilience.Config{
		CallTimeout:      time.Second,
		MaxAttempts:      1,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		FailureThreshold: 100,
		CooldownWindow:   time.Second,
	})
}

func testRetrievalConfig() config.RetrievalConfig {
	cfg := config.DefaultRetrievalConfig()
	cfg.TopK = 5
	cfg.MultiQueryCount = 2
	cfg.MultiQueryDepth = 10
	return cfg
}

func chunk(id, text string) types.Chunk {
	return types.Chunk{ID: id, Text: text, Source: "test"}
}

func alphaOf(v float64) *float64 {
	return &v
}
