// Package agent runs the bounded tool-orchestration loop around the
// planner: plan, execute requested tools, fold results back, and stream
// the final answer as typed frames.
package agent

import (
	"finsight/internal/types"
)

// LoopState is the orchestration state machine position.
type LoopState string

const (
	StatePlanning       LoopState = "planning"
	StateExecutingTools LoopState = "executing_tools"
	StateStreamingFinal LoopState = "streaming_final"
	StateTerminated     LoopState = "terminated"
)

// FrameType identifies a stream frame.
type FrameType string

const (
	FrameMetadata   FrameType = "metadata"
	FrameStatus     FrameType = "status"
	FrameToolStart  FrameType = "tool_start"
	FrameToolResult FrameType = "tool_result"
	FrameContent    FrameType = "content"
	FrameMetrics    FrameType = "metrics"
	FrameEnd        FrameType = "end"
	FrameError      FrameType = "error"
)

// ToolFrame carries the tool-call fields of tool_start and tool_result
// frames.
type ToolFrame struct {
	CallID     string         `json:"call_id"`
	Name       string         `json:"name"`
	Input      map[string]any `json:"input,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

// Metrics summarizes one completed request.
type Metrics struct {
	Loops      int                 `json:"loops"`
	ToolCalls  int                 `json:"tool_calls"`
	DurationMs int64               `json:"duration_ms"`
	Usage      types.UsageMetadata `json:"usage"`
}

// Frame is one event in a request's stream. Type selects which fields are
// populated. Every request emits exactly one metadata frame first and
// exactly one terminal frame last: end on success, error on failure.
// Nothing follows the terminal frame.
type Frame struct {
	Type FrameType `json:"type"`

	// metadata
	RequestID string             `json:"request_id,omitempty"`
	Strategy  types.StrategyKind `json:"strategy,omitempty"`

	// status
	State LoopState `json:"state,omitempty"`

	// tool_start, tool_result
	Tool *ToolFrame `json:"tool,omitempty"`

	// content
	Text string `json:"text,omitempty"`

	// metrics
	Metrics *Metrics `json:"metrics,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}
