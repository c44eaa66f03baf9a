package types

import "context"

// EmbedKind selects the embedding task type. Queries and documents embed
// differently on asymmetric-retrieval models.
type EmbedKind string

const (
	EmbedQuery    EmbedKind = "query"
	EmbedDocument EmbedKind = "document"
)

// Embedder defines the interface to the embedding service.
type Embedder interface {
	Embed(ctx context.Context, text string, kind EmbedKind) ([]float32, error)
	Dimensions() int
}

// IndexQuery is a single vector-index lookup.
type IndexQuery struct {
	Dense  []float32
	Sparse *SparseVector // nil for dense-only
	Alpha  float64       // dense weight when the index fuses natively, in [0,1]
	TopK   int
	Filter MetadataFilter
}

// VectorIndex defines the interface to the vector index service. Upsert and
// delete are ingestion-side and intentionally absent from the query contract
// the core depends on.
type VectorIndex interface {
	// Query returns up to TopK chunks ranked by relevance.
	Query(ctx context.Context, q IndexQuery) ([]ScoredChunk, error)

	// SupportsSparse reports whether the index fuses dense+sparse natively.
	// When false, hybrid retrieval falls back to client-side reranking.
	SupportsSparse() bool
}

// LLMClient defines the interface to the language-model service.
type LLMClient interface {
	// Complete sends a single prompt and returns plain text.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a system prompt plus user prompt.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteWithTools sends conversation state with tool definitions and
	// returns the planner response with any tool-call requests.
	CompleteWithTools(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition) (*LLMToolResponse, error)

	// CompleteStream sends conversation state and delivers the response
	// incrementally through emit. Returning an error from emit aborts the
	// stream and propagates that error.
	CompleteStream(ctx context.Context, systemPrompt string, messages []Message, emit func(text string) error) error
}
