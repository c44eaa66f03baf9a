package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finsight/internal/agent"
	"finsight/internal/retrieval"
)

var (
	askStrategy string
	askJSON     bool
	askTimeout  time.Duration
)

// askCmd runs a single agent turn
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question and stream the grounded answer",
	Long: `Runs one agent turn: the planner decides which tools to call
(metric lookups, transcript search, growth computation), executes them,
and streams the final answer.

A --strategy override pins transcript retrieval to a specific strategy,
which the evaluation harness uses for reproducible runs:

  finsight ask --strategy hybrid-0.6 "How did AMD datacenter revenue grow in Q3 2024?"

With --json, raw stream frames are printed one per line instead of
rendered text.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askStrategy, "strategy", "", "Force retrieval strategy (dense, hybrid, hybrid-<alpha>, hyde, multi_query, auto)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print raw stream frames as JSON lines")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "Request timeout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req := agent.Request{Message: strings.Join(args, " ")}
	if askStrategy != "" {
		kind, alpha, err := retrieval.ParseStrategy(askStrategy)
		if err != nil {
			return err
		}
		req.Strategy = kind
		req.Alpha = alpha
	}

	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()

	frames := a.orchestrator.Run(ctx, req)
	if askJSON {
		return printFrameLines(frames)
	}
	return renderFrames(frames)
}

// printFrameLines emits each frame as one JSON line, the format the
// evaluation scripts consume.
func printFrameLines(frames <-chan agent.Frame) error {
	enc := json.NewEncoder(os.Stdout)
	for frame := range frames {
		if err := enc.Encode(frame); err != nil {
			return err
		}
	}
	return nil
}

// renderFrames writes answer content to stdout and tool/loop activity to
// stderr, returning an error when the stream reports one.
func renderFrames(frames <-chan agent.Frame) error {
	var streamErr string
	for frame := range frames {
		switch frame.Type {
		case agent.FrameContent:
			fmt.Print(frame.Text)
		case agent.FrameToolStart:
			logger.Debug("Tool call",
				zap.String("tool", frame.Tool.Name),
				zap.Any("input", frame.Tool.Input))
		case agent.FrameToolResult:
			logger.Debug("Tool result",
				zap.String("tool", frame.Tool.Name),
				zap.Int64("duration_ms", frame.Tool.DurationMs),
				zap.Bool("is_error", frame.Tool.IsError))
		case agent.FrameMetrics:
			logger.Debug("Request metrics",
				zap.Int("loops", frame.Metrics.Loops),
				zap.Int("tool_calls", frame.Metrics.ToolCalls),
				zap.Int64("duration_ms", frame.Metrics.DurationMs))
		case agent.FrameError:
			streamErr = frame.Error
		}
	}
	fmt.Println()

	if streamErr != "" {
		return errors.New(streamErr)
	}
	return nil
}
