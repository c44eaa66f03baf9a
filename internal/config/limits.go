package config

import "time"

// LimitsConfig bounds the orchestration loop. These guarantee bounded
// latency and cost regardless of planner behavior.
type LimitsConfig struct {
	// MaxToolLoops caps planning iterations per request.
	MaxToolLoops int `yaml:"max_tool_loops"`

	// MaxToolCallsPerLoop caps tool executions within one iteration.
	MaxToolCallsPerLoop int `yaml:"max_tool_calls_per_loop"`

	// MaxTotalToolCalls is the hard cap on tool executions per request.
	MaxTotalToolCalls int `yaml:"max_total_tool_calls"`

	// ToolTimeout is the maximum time for a single tool execution.
	ToolTimeout string `yaml:"tool_timeout"`

	// ConcurrentTools runs the tools of one loop iteration in parallel.
	// Sequential execution is the default; parallelism is permitted but
	// never required.
	ConcurrentTools bool `yaml:"concurrent_tools"`
}

// DefaultLimitsConfig returns loop-bound defaults.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxToolLoops:        6,
		MaxToolCallsPerLoop: 4,
		MaxTotalToolCalls:   12,
		ToolTimeout:         "60s",
	}
}

// GetToolTimeout returns the per-tool timeout as a duration.
func (c LimitsConfig) GetToolTimeout() time.Duration {
	return parseDuration(c.ToolTimeout, 60*time.Second)
}
