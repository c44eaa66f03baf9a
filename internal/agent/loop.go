package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"finsight/internal/config"
	"finsight/internal/logging"
	"finsight/internal/resilience"
	"finsight/internal/tools"
	"finsight/internal/types"
)

// depPlanner is the circuit-breaker dependency name for planning calls.
const depPlanner = "planner"

// Request is one chat turn to orchestrate.
type Request struct {
	Message  string
	History  []types.Message
	Strategy types.StrategyKind // retrieval override, echoed in the metadata frame
	Alpha    *float64           // hybrid dense weight when Strategy forces hybrid; nil means default
}

// strategyDirective renders the request's retrieval override in the form
// the search tool parses, or "" when the planner should choose.
func (r Request) strategyDirective() string {
	switch r.Strategy {
	case "", types.StrategyAuto:
		return ""
	case types.StrategyHybrid:
		if r.Alpha != nil {
			return fmt.Sprintf("hybrid-%g", *r.Alpha)
		}
		return string(r.Strategy)
	default:
		return string(r.Strategy)
	}
}

// Orchestrator drives the bounded planning/tool loop for chat requests.
type Orchestrator struct {
	llm      types.LLMClient
	registry *tools.Registry
	exec     *resilience.Executor
	limits   config.LimitsConfig
}

// New wires an Orchestrator.
func New(llm types.LLMClient, registry *tools.Registry, exec *resilience.Executor, limits config.LimitsConfig) *Orchestrator {
	return &Orchestrator{
		llm:      llm,
		registry: registry,
		exec:     exec,
		limits:   limits,
	}
}

// Run orchestrates one request and streams frames on the returned channel.
// The channel is always closed when the request terminates, whether by
// completion, error, or context cancellation.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan Frame {
	ch := make(chan Frame, 16)
	go o.run(ctx, req, ch)
	return ch
}

// emitter delivers frames unless the consumer's context is gone.
type emitter struct {
	ctx context.Context
	ch  chan<- Frame
}

func (e *emitter) send(f Frame) bool {
	select {
	case e.ch <- f:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, ch chan<- Frame) {
	defer close(ch)

	timer := logging.StartTimer(logging.CategoryAgent, "Run")
	defer timer.Stop()

	start := time.Now()
	requestID := uuid.NewString()
	em := &emitter{ctx: ctx, ch: ch}
	metrics := Metrics{}

	// The stream's last frame is terminal: end on success, error on
	// failure. Metrics and the terminated status always precede it.
	finish := func(errText string) {
		metrics.DurationMs = time.Since(start).Milliseconds()
		em.send(Frame{Type: FrameMetrics, Metrics: &metrics})
		em.send(Frame{Type: FrameStatus, State: StateTerminated})
		if errText != "" {
			em.send(Frame{Type: FrameError, Error: errText})
			return
		}
		em.send(Frame{Type: FrameEnd})
	}

	em.send(Frame{Type: FrameMetadata, RequestID: requestID, Strategy: req.Strategy})
	logging.Agent("request %s: %q (strategy=%s)", requestID, req.Message, req.Strategy)

	messages := make([]types.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, types.Message{Role: types.RoleUser, Content: req.Message})

	defs := o.registry.Definitions()
	maxLoops := o.limits.MaxToolLoops
	if maxLoops <= 0 {
		maxLoops = 1
	}

	var finalText string
	forced := false

	for {
		if metrics.Loops >= maxLoops || forced {
			// Budget exhausted: one last planning call with no tools so
			// the model must answer from what it has.
			logging.Agent("request %s: forcing final answer after %d loops, %d tool calls",
				requestID, metrics.Loops, metrics.ToolCalls)
			messages = append(messages, types.Message{Role: types.RoleUser, Content: forcedFinalPrompt})
			em.send(Frame{Type: FrameStatus, State: StatePlanning})
			resp, err := o.plan(ctx, messages, nil)
			if err != nil {
				finish(fmt.Sprintf("final planning failed: %v", err))
				return
			}
			metrics.Usage = addUsage(metrics.Usage, resp.Usage)
			finalText = resp.Text
			break
		}

		metrics.Loops++
		em.send(Frame{Type: FrameStatus, State: StatePlanning})

		resp, err := o.plan(ctx, messages, defs)
		if err != nil {
			finish(fmt.Sprintf("planning failed: %v", err))
			return
		}
		metrics.Usage = addUsage(metrics.Usage, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Text
			break
		}

		calls := resp.ToolCalls
		if perLoop := o.limits.MaxToolCallsPerLoop; perLoop > 0 && len(calls) > perLoop {
			logging.Agent("request %s: truncating %d tool calls to per-loop cap %d", requestID, len(calls), perLoop)
			calls = calls[:perLoop]
		}
		if total := o.limits.MaxTotalToolCalls; total > 0 && metrics.ToolCalls+len(calls) >= total {
			remaining := total - metrics.ToolCalls
			if remaining < 0 {
				remaining = 0
			}
			if remaining < len(calls) {
				logging.Agent("request %s: truncating tool calls to total cap %d", requestID, total)
				calls = calls[:remaining]
			}
			forced = true
		}
		if len(calls) == 0 {
			continue
		}
		applyStrategyOverride(calls, req.strategyDirective())

		em.send(Frame{Type: FrameStatus, State: StateExecutingTools})
		outcomes := o.executeCalls(ctx, em, calls)
		metrics.ToolCalls += len(calls)

		messages = append(messages,
			types.Message{Role: types.RoleAssistant, Content: resp.Text, ToolCalls: calls},
			types.Message{Role: types.RoleTool, ToolResults: outcomes},
		)

		if ctx.Err() != nil {
			finish(fmt.Sprintf("request canceled: %v", ctx.Err()))
			return
		}
	}

	em.send(Frame{Type: FrameStatus, State: StateStreamingFinal})
	if finalText != "" {
		em.send(Frame{Type: FrameContent, Text: finalText})
	} else {
		// The planner finished without text; stream the answer directly.
		err := o.llm.CompleteStream(ctx, systemPrompt, messages, func(chunk string) error {
			if !em.send(Frame{Type: FrameContent, Text: chunk}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			finish(fmt.Sprintf("answer streaming failed: %v", err))
			return
		}
	}

	finish("")
}

// plan runs one planning call through the resilience wrapper.
func (o *Orchestrator) plan(ctx context.Context, messages []types.Message, defs []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return resilience.DoValue(ctx, o.exec, depPlanner, func(ctx context.Context) (*types.LLMToolResponse, error) {
		return o.llm.CompleteWithTools(ctx, systemPrompt, messages, defs)
	})
}

// executeCalls runs one batch of tool calls, emitting tool_start and
// tool_result frames. Outcomes come back in call order regardless of
// execution mode. A failed tool becomes an error outcome for the planner,
// never a loop failure.
func (o *Orchestrator) executeCalls(ctx context.Context, em *emitter, calls []types.ToolCall) []types.ToolOutcome {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = uuid.NewString()
		}
		em.send(Frame{Type: FrameToolStart, Tool: &ToolFrame{
			CallID: calls[i].ID,
			Name:   calls[i].Name,
			Input:  calls[i].Input,
		}})
	}

	outcomes := make([]types.ToolOutcome, len(calls))
	durations := make([]int64, len(calls))

	runOne := func(i int) {
		call := calls[i]

		// The tool timeout bounds the whole call, retries included; the
		// resilience executor applies its own per-attempt timeout inside.
		toolCtx := ctx
		var cancel context.CancelFunc
		if timeout := o.limits.GetToolTimeout(); timeout > 0 {
			toolCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		res, err := resilience.DoValue(toolCtx, o.exec, "tool:"+call.Name,
			func(ctx context.Context) (*tools.ToolResult, error) {
				res, err := o.registry.Execute(ctx, call.Name, call.Input)
				if err != nil && tools.IsInvocationError(err) {
					return res, resilience.Permanent(err)
				}
				return res, err
			})
		outcome := types.ToolOutcome{CallID: call.ID, Name: call.Name}
		if err != nil {
			outcome.Content = err.Error()
			outcome.IsError = true
			logging.Agent("tool %s (%s) failed: %v", call.Name, call.ID, err)
		} else {
			outcome.Content = res.Result
		}
		if res != nil {
			durations[i] = res.DurationMs
		}
		outcomes[i] = outcome
	}

	if o.limits.ConcurrentTools && len(calls) > 1 {
		g, _ := errgroup.WithContext(ctx)
		for i := range calls {
			g.Go(func() error {
				runOne(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range calls {
			runOne(i)
		}
	}

	for i, outcome := range outcomes {
		em.send(Frame{Type: FrameToolResult, Tool: &ToolFrame{
			CallID:     outcome.CallID,
			Name:       outcome.Name,
			DurationMs: durations[i],
			IsError:    outcome.IsError,
		}})
	}
	return outcomes
}

// applyStrategyOverride forces the request-level retrieval strategy onto
// every transcript search in the batch. A request-level directive exists
// for reproducible evaluation, so it wins over the planner's own choice.
func applyStrategyOverride(calls []types.ToolCall, directive string) {
	if directive == "" {
		return
	}
	for i := range calls {
		if calls[i].Name != tools.NameSearchTranscripts {
			continue
		}
		if calls[i].Input == nil {
			calls[i].Input = map[string]any{}
		}
		calls[i].Input["strategy"] = directive
	}
}

func addUsage(a, b types.UsageMetadata) types.UsageMetadata {
	return types.UsageMetadata{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
	}
}
