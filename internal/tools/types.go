// Package tools provides the registry and implementations of the tools the
// planner can call during a chat turn: metric lookups, transcript search,
// and growth computation.
package tools

import (
	"context"

	"finsight/internal/types"
)

// ToolCategory classifies tools for inspection and selective exposure.
type ToolCategory string

const (
	// CategoryMetrics covers structured financial figure lookups.
	CategoryMetrics ToolCategory = "metrics"

	// CategoryTranscripts covers evidence retrieval over call transcripts.
	CategoryTranscripts ToolCategory = "transcripts"

	// CategoryAnalysis covers derived computations over metrics.
	CategoryAnalysis ToolCategory = "analysis"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// InputSchema renders the schema as the JSON-schema object the planner
// API expects.
func (s ToolSchema) InputSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string (JSON for structured tools) and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines one callable tool.
type Tool struct {
	// Name is the unique identifier exposed to the planner.
	Name string

	// Description explains what the tool does, for planner tool selection.
	Description string

	// Category classifies the tool.
	Category ToolCategory

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition renders the tool as the planner-facing definition.
func (t *Tool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.Schema.InputSchema(),
	}
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
