// Package types holds the shared data model for finsight: retrieval
// evidence, queries, tool-call structures, and the service interfaces the
// core consumes. Keeping these here avoids import cycles between the
// retrieval engine, the orchestration loop, and the service adapters.
package types

import "fmt"

// =============================================================================
// RETRIEVAL DATA MODEL
// =============================================================================

// StrategyKind identifies a retrieval strategy.
type StrategyKind string

const (
	StrategyDense      StrategyKind = "dense"
	StrategyHybrid     StrategyKind = "hybrid"
	StrategyHyDE       StrategyKind = "hyde"
	StrategyMultiQuery StrategyKind = "multi_query"
	StrategyAuto       StrategyKind = "auto"
)

// ChunkMetadata carries the provenance fields attached to each evidence
// chunk at ingestion time. Zero values mean "unknown".
type ChunkMetadata struct {
	Ticker        string `json:"ticker,omitempty"`
	FiscalYear    int    `json:"fiscal_year,omitempty"`
	FiscalQuarter string `json:"fiscal_quarter,omitempty"` // "Q1".."Q4"
	Section       string `json:"section,omitempty"`        // prepared_remarks, qa, guidance
}

// Chunk is a retrievable unit of evidence text. The core only ever holds
// read-only copies returned per query; the index owns the canonical data.
type Chunk struct {
	ID     string        `json:"id"`
	Text   string        `json:"text"`
	Source string        `json:"source"` // document identifier, e.g. "AMD-Q3-2024-call"
	Meta   ChunkMetadata `json:"meta"`
}

// ScoredChunk pairs a chunk with a strategy-local relevance score.
// Score semantics depend on the strategy that produced it (cosine-like for
// dense, fused dot-product for hybrid, RRF sum for multi-query); scores are
// never compared across strategies.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RetrievalResult is a ranked evidence list tagged with the strategy that
// produced it.
type RetrievalResult struct {
	Strategy StrategyKind  `json:"strategy"`
	Chunks   []ScoredChunk `json:"chunks"`
}

// MetadataFilter restricts an index query. Zero-valued fields do not filter.
type MetadataFilter struct {
	Ticker        string
	FiscalYear    int
	FiscalQuarter string
	Section       string
}

// IsZero reports whether the filter imposes no restriction.
func (f MetadataFilter) IsZero() bool {
	return f.Ticker == "" && f.FiscalYear == 0 && f.FiscalQuarter == "" && f.Section == ""
}

// Matches reports whether chunk metadata satisfies the filter.
func (f MetadataFilter) Matches(m ChunkMetadata) bool {
	if f.Ticker != "" && f.Ticker != m.Ticker {
		return false
	}
	if f.FiscalYear != 0 && f.FiscalYear != m.FiscalYear {
		return false
	}
	if f.FiscalQuarter != "" && f.FiscalQuarter != m.FiscalQuarter {
		return false
	}
	if f.Section != "" && f.Section != m.Section {
		return false
	}
	return true
}

// SparseVector is a keyword-weighted vector: parallel index/weight slices
// with indices unique and strictly ascending and weights > 0.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Weights []float64 `json:"weights"`
}

// Len returns the number of populated dimensions.
func (v *SparseVector) Len() int {
	if v == nil {
		return 0
	}
	return len(v.Indices)
}

// Validate checks the SparseVector invariants: matching slice lengths,
// strictly ascending indices, positive weights.
func (v *SparseVector) Validate() error {
	if v == nil {
		return nil
	}
	if len(v.Indices) != len(v.Weights) {
		return fmt.Errorf("sparse vector: %d indices but %d weights", len(v.Indices), len(v.Weights))
	}
	for i := range v.Indices {
		if i > 0 && v.Indices[i] <= v.Indices[i-1] {
			return fmt.Errorf("sparse vector: indices not strictly ascending at position %d", i)
		}
		if v.Weights[i] <= 0 {
			return fmt.Errorf("sparse vector: non-positive weight at position %d", i)
		}
	}
	return nil
}

// Dot returns the dot product with another sparse vector by merging the
// two ascending index lists. Either operand may be nil or empty.
func (v *SparseVector) Dot(o *SparseVector) float64 {
	if v.Len() == 0 || o.Len() == 0 {
		return 0
	}
	var sum float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			sum += v.Weights[i] * o.Weights[j]
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Query is a single retrieval request. Immutable once issued.
type Query struct {
	Text     string
	Strategy StrategyKind   // empty means auto-select
	Alpha    *float64       // hybrid dense weight; nil means use configured default
	Hints    MetadataFilter // optional entity/ticker hints
}

// =============================================================================
// TOOL CALLING
// =============================================================================

// ToolDefinition describes a tool that the LLM planner can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by the planner.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolOutcome is a completed tool call folded back into the conversation.
type ToolOutcome struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// UsageMetadata captures token usage metrics from the planner.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// LLMToolResponse contains both text response and tool calls from the planner.
type LLMToolResponse struct {
	Text       string        `json:"text"`        // May be empty if only tool calls
	ToolCalls  []ToolCall    `json:"tool_calls"`  // Tool invocations requested
	StopReason string        `json:"stop_reason"` // "end_turn", "tool_use", etc.
	Usage      UsageMetadata `json:"usage"`
}

// =============================================================================
// CONVERSATION
// =============================================================================

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of conversation state. A RoleAssistant turn may carry
// tool-call requests; a RoleTool turn carries their outcomes.
type Message struct {
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults []ToolOutcome `json:"tool_results,omitempty"`
}
