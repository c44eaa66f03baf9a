package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"finsight/internal/config"
	"finsight/internal/resilience"
	"finsight/internal/retrieval"
	"finsight/internal/store"
	"finsight/internal/tools"
	"finsight/internal/types"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (pulled in transitively) starts a permanent worker
	// goroutine in its package init; it is not a leak from code under test.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedLLM pops canned planning responses in order and records what the
// orchestrator sent.
type scriptedLLM struct {
	mu           sync.Mutex
	responses    []*types.LLMToolResponse
	planDefs     [][]types.ToolDefinition
	planMessages [][]types.Message
	streamChunks []string
	planErr      error
	streamErr    error
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedLLM) CompleteWithTools(ctx context.Context, systemPrompt string, messages []types.Message, defs []types.ToolDefinition) (*types.LLMToolResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.planErr != nil {
		return nil, s.planErr
	}
	s.planDefs = append(s.planDefs, defs)
	s.planMessages = append(s.planMessages, append([]types.Message(nil), messages...))
	if len(s.responses) == 0 {
		return &types.LLMToolResponse{Text: "out of script", StopReason: "end_turn"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) CompleteStream(ctx context.Context, systemPrompt string, messages []types.Message, emit func(string) error) error {
	if s.streamErr != nil {
		return s.streamErr
	}
	for _, chunk := range s.streamChunks {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

func answer(text string) *types.LLMToolResponse {
	return &types.LLMToolResponse{Text: text, StopReason: "end_turn", Usage: types.UsageMetadata{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

func wantsTools(calls ...types.ToolCall) *types.LLMToolResponse {
	return &types.LLMToolResponse{ToolCalls: calls, StopReason: "tool_use"}
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	r.MustRegister(&tools.Tool{
		Name:        "lookup",
		Description: "returns a number",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "42", nil
		},
	})
	r.MustRegister(&tools.Tool{
		Name:        "explode",
		Description: "always fails",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	})
	r.MustRegister(&tools.Tool{
		Name:        "sleepy",
		Description: "blocks until canceled",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	return r
}

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxToolLoops:        3,
		MaxToolCallsPerLoop: 4,
		MaxTotalToolCalls:   12,
		ToolTimeout:         "2s",
	}
}

func agentExecutor() *resilience.Executor {
	return resilience.New(resilience.Config{
		CallTimeout:      5 * time.Second,
		MaxAttempts:      1,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		FailureThreshold: 100,
		CooldownWindow:   time.Second,
	})
}

func alphaOf(v float64) *float64 { return &v }

func collect(t *testing.T, ch <-chan Frame) []Frame {
	t.Helper()
	var frames []Frame
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-deadline:
			t.Fatalf("stream did not terminate; got %d frames", len(frames))
		}
	}
}

func frameTypes(frames []Frame) []FrameType {
	out := make([]FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func findFrame(frames []Frame, typ FrameType) *Frame {
	for i := range frames {
		if frames[i].Type == typ {
			return &frames[i]
		}
	}
	return nil
}

func TestRun_ToolLoopThenAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "call_0", Name: "lookup", Input: map[string]any{"q": "revenue"}}),
		answer("Revenue was $6.8 billion in Q3 FY2024."),
	}}
	o := New(llm, testRegistry(t), agentExecutor(), testLimits())

	frames := collect(t, o.Run(context.Background(), Request{Message: "What was Q3 revenue?"}))

	if frames[0].Type != FrameMetadata || frames[0].RequestID == "" {
		t.Fatalf("first frame must be metadata with a request ID: %+v", frames[0])
	}
	if frames[len(frames)-1].Type != FrameEnd {
		t.Fatalf("last frame must be end: %+v", frames[len(frames)-1])
	}

	// One planning pass, tool execution, a second pass, then the final answer.
	want := []FrameType{
		FrameMetadata,
		FrameStatus, // planning
		FrameStatus, // executing_tools
		FrameToolStart,
		FrameToolResult,
		FrameStatus, // planning
		FrameStatus, // streaming_final
		FrameContent,
		FrameMetrics,
		FrameStatus, // terminated
		FrameEnd,
	}
	got := frameTypes(frames)
	if len(got) != len(want) {
		t.Fatalf("frame sequence mismatch:\n got %v\nwant %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}

	if content := findFrame(frames, FrameContent); content.Text != "Revenue was $6.8 billion in Q3 FY2024." {
		t.Fatalf("content = %q", content.Text)
	}
	ts := findFrame(frames, FrameToolStart)
	if ts.Tool.Name != "lookup" || ts.Tool.CallID != "call_0" {
		t.Fatalf("tool_start = %+v", ts.Tool)
	}
	tr := findFrame(frames, FrameToolResult)
	if tr.Tool.IsError {
		t.Fatalf("tool_result unexpectedly errored: %+v", tr.Tool)
	}

	m := findFrame(frames, FrameMetrics).Metrics
	if m.Loops != 2 || m.ToolCalls != 1 {
		t.Fatalf("metrics = %+v, want 2 loops and 1 tool call", m)
	}
	if m.Usage.TotalTokens != 15 {
		t.Fatalf("usage not accumulated: %+v", m.Usage)
	}

	// The second planning call must carry the tool outcome.
	second := llm.planMessages[1]
	last := second[len(second)-1]
	if last.Role != types.RoleTool || len(last.ToolResults) != 1 || last.ToolResults[0].Content != "42" {
		t.Fatalf("tool outcome not folded back: %+v", last)
	}
}

func TestRun_GreedyPlannerIsForcedToAnswer(t *testing.T) {
	// The planner requests tools on every pass; the loop bound must cut it
	// off and the final call must carry no tool definitions.
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "a", Name: "lookup"}),
		wantsTools(types.ToolCall{ID: "b", Name: "lookup"}),
		answer("Best effort answer."),
	}}
	limits := testLimits()
	limits.MaxToolLoops = 2
	o := New(llm, testRegistry(t), agentExecutor(), limits)

	frames := collect(t, o.Run(context.Background(), Request{Message: "dig forever"}))

	m := findFrame(frames, FrameMetrics).Metrics
	if m.Loops != 2 {
		t.Fatalf("loops = %d, want bound 2", m.Loops)
	}
	if m.ToolCalls != 2 {
		t.Fatalf("tool calls = %d, want 2", m.ToolCalls)
	}
	if content := findFrame(frames, FrameContent); content == nil || content.Text != "Best effort answer." {
		t.Fatalf("forced final answer missing: %+v", content)
	}

	finalDefs := llm.planDefs[len(llm.planDefs)-1]
	if len(finalDefs) != 0 {
		t.Fatalf("forced final call must carry no tools, got %d", len(finalDefs))
	}
	finalMsgs := llm.planMessages[len(llm.planMessages)-1]
	if finalMsgs[len(finalMsgs)-1].Content != forcedFinalPrompt {
		t.Fatalf("forced final prompt not appended: %q", finalMsgs[len(finalMsgs)-1].Content)
	}
}

func TestRun_TotalToolCallCapTruncatesBatch(t *testing.T) {
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(
			types.ToolCall{ID: "a", Name: "lookup"},
			types.ToolCall{ID: "b", Name: "lookup"},
			types.ToolCall{ID: "c", Name: "lookup"},
		),
		answer("Done."),
	}}
	limits := testLimits()
	limits.MaxTotalToolCalls = 2
	o := New(llm, testRegistry(t), agentExecutor(), limits)

	frames := collect(t, o.Run(context.Background(), Request{Message: "q"}))

	m := findFrame(frames, FrameMetrics).Metrics
	if m.ToolCalls != 2 {
		t.Fatalf("tool calls = %d, want hard cap 2", m.ToolCalls)
	}
	if content := findFrame(frames, FrameContent); content == nil || content.Text != "Done." {
		t.Fatalf("expected forced final answer, got %+v", content)
	}
}

func TestRun_ToolFailureBecomesErrorOutcome(t *testing.T) {
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "x", Name: "explode"}),
		answer("The tool failed, so I cannot say."),
	}}
	o := New(llm, testRegistry(t), agentExecutor(), testLimits())

	frames := collect(t, o.Run(context.Background(), Request{Message: "q"}))

	tr := findFrame(frames, FrameToolResult)
	if !tr.Tool.IsError {
		t.Fatalf("tool_result must flag the failure: %+v", tr.Tool)
	}
	if findFrame(frames, FrameError) != nil {
		t.Fatal("a failed tool must not fail the request")
	}

	second := llm.planMessages[1]
	last := second[len(second)-1]
	if !last.ToolResults[0].IsError || last.ToolResults[0].Content == "" {
		t.Fatalf("error outcome not folded back: %+v", last.ToolResults[0])
	}
}

func TestRun_UnknownToolBecomesErrorOutcome(t *testing.T) {
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "x", Name: "no_such_tool"}),
		answer("ok"),
	}}
	o := New(llm, testRegistry(t), agentExecutor(), testLimits())

	frames := collect(t, o.Run(context.Background(), Request{Message: "q"}))
	tr := findFrame(frames, FrameToolResult)
	if tr == nil || !tr.Tool.IsError {
		t.Fatalf("unknown tool must produce an error outcome: %+v", tr)
	}
}

func TestRun_PlannerFailureEndsStreamWithError(t *testing.T) {
	llm := &scriptedLLM{planErr: errors.New("model offline")}
	o := New(llm, testRegistry(t), agentExecutor(), testLimits())

	frames := collect(t, o.Run(context.Background(), Request{Message: "q"}))

	if findFrame(frames, FrameContent) != nil {
		t.Fatal("no content after a planning failure")
	}

	// The error frame is terminal: it must be the last frame, with no end
	// frame after it, and metrics plus the terminated status before it.
	last := frames[len(frames)-1]
	if last.Type != FrameError || last.Error == "" {
		t.Fatalf("last frame = %+v, want the error frame", last)
	}
	if findFrame(frames, FrameEnd) != nil {
		t.Fatalf("failed stream must not emit an end frame: %v", frameTypes(frames))
	}
	if findFrame(frames, FrameMetrics) == nil {
		t.Fatal("metrics must still be emitted on failure")
	}
	if frames[len(frames)-2].Type != FrameStatus || frames[len(frames)-2].State != StateTerminated {
		t.Fatalf("terminated status must precede the error frame: %v", frameTypes(frames))
	}
}

func TestRun_EmptyFinalTextStreamsAnswer(t *testing.T) {
	llm := &scriptedLLM{
		responses:    []*types.LLMToolResponse{{StopReason: "end_turn"}},
		streamChunks: []string{"Revenue ", "grew 18%."},
	}
	o := New(llm, testRegistry(t), agentExecutor(), testLimits())

	frames := collect(t, o.Run(context.Background(), Request{Message: "q"}))

	var text string
	for _, f := range frames {
		if f.Type == FrameContent {
			text += f.Text
		}
	}
	if text != "Revenue grew 18%." {
		t.Fatalf("streamed content = %q", text)
	}
}

func TestRun_CancellationAbortsToolExecution(t *testing.T) {
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "s", Name: "sleepy"}),
		answer("never reached"),
	}}
	o := New(llm, testRegistry(t), agentExecutor(), testLimits())

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Run(ctx, Request{Message: "q"})

	// Let the loop reach the blocking tool, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return // channel closed, no goroutine leaked
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestRun_StrategyOverrideReachesSearchTool(t *testing.T) {
	var gotArgs map[string]any
	r := tools.NewRegistry()
	r.MustRegister(&tools.Tool{
		Name:        tools.NameSearchTranscripts,
		Description: "stub search",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			gotArgs = args
			return "[]", nil
		},
	})

	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "s", Name: tools.NameSearchTranscripts,
			Input: map[string]any{"query": "margins", "strategy": "dense"}}),
		answer("done"),
	}}
	o := New(llm, r, agentExecutor(), testLimits())

	collect(t, o.Run(context.Background(), Request{
		Message:  "q",
		Strategy: types.StrategyHybrid,
		Alpha:    alphaOf(0.6),
	}))

	if gotArgs["strategy"] != "hybrid-0.6" {
		t.Fatalf("strategy arg = %v, want forced hybrid-0.6", gotArgs["strategy"])
	}
	if gotArgs["query"] != "margins" {
		t.Fatalf("other args must survive the override: %v", gotArgs)
	}
}

func retryingExecutor(callTimeout time.Duration) *resilience.Executor {
	return resilience.New(resilience.Config{
		CallTimeout:      callTimeout,
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		FailureThreshold: 100,
		CooldownWindow:   time.Second,
	})
}

func TestRun_TransientToolFailureIsRetried(t *testing.T) {
	var attempts atomic.Int32
	r := tools.NewRegistry()
	r.MustRegister(&tools.Tool{
		Name:        "flaky",
		Description: "always fails",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			attempts.Add(1)
			return "", errors.New("upstream hiccup")
		},
	})
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "f", Name: "flaky"}),
		answer("The upstream source is unavailable."),
	}}
	o := New(llm, r, retryingExecutor(time.Second), testLimits())

	frames := collect(t, o.Run(context.Background(), Request{Message: "q"}))

	if got := attempts.Load(); got != 3 {
		t.Fatalf("tool attempts = %d, want 3", got)
	}
	tr := findFrame(frames, FrameToolResult)
	if tr == nil || !tr.Tool.IsError {
		t.Fatalf("exhausted retries must surface an error outcome: %+v", tr)
	}
	if findFrame(frames, FrameError) != nil {
		t.Fatal("a failed tool must not fail the request")
	}
}

func TestRun_ToolTimeoutIsRetriedPerAttempt(t *testing.T) {
	var attempts atomic.Int32
	r := tools.NewRegistry()
	r.MustRegister(&tools.Tool{
		Name:        "stall",
		Description: "never returns in time",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			attempts.Add(1)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "s", Name: "stall"}),
		answer("The data source timed out."),
	}}
	// The per-attempt timeout is well inside the whole-call tool budget,
	// so every attempt times out and gets retried.
	o := New(llm, r, retryingExecutor(30*time.Millisecond), testLimits())

	frames := collect(t, o.Run(context.Background(), Request{Message: "q"}))

	if got := attempts.Load(); got != 3 {
		t.Fatalf("tool attempts = %d, want 3", got)
	}
	tr := findFrame(frames, FrameToolResult)
	if tr == nil || !tr.Tool.IsError {
		t.Fatalf("timed-out tool must surface an error outcome: %+v", tr)
	}
}

func TestRun_ConcurrentToolsPreserveOutcomeOrder(t *testing.T) {
	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(
			types.ToolCall{ID: "first", Name: "lookup"},
			types.ToolCall{ID: "second", Name: "explode"},
		),
		answer("done"),
	}}
	limits := testLimits()
	limits.ConcurrentTools = true
	o := New(llm, testRegistry(t), agentExecutor(), limits)

	frames := collect(t, o.Run(context.Background(), Request{Message: "q"}))

	second := llm.planMessages[1]
	outcomes := second[len(second)-1].ToolResults
	if len(outcomes) != 2 || outcomes[0].CallID != "first" || outcomes[1].CallID != "second" {
		t.Fatalf("outcomes out of order: %+v", outcomes)
	}
	if outcomes[0].IsError || !outcomes[1].IsError {
		t.Fatalf("outcome error flags wrong: %+v", outcomes)
	}
	if findFrame(frames, FrameError) != nil {
		t.Fatal("concurrent tool failure must not fail the request")
	}
}

// keywordEmbedder projects text onto a small fixed vocabulary so related
// texts land near each other in vector space.
type keywordEmbedder struct{ vocab []string }

func (k *keywordEmbedder) Embed(ctx context.Context, text string, kind types.EmbedKind) ([]float32, error) {
	vec := make([]float32, len(k.vocab))
	lower := strings.ToLower(text)
	for i, w := range k.vocab {
		if strings.Contains(lower, w) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (k *keywordEmbedder) Dimensions() int { return len(k.vocab) }

// The full evidence path: the planner calls search_transcripts, the tool
// runs the retrieval engine over an indexed corpus, and the figure from
// the best-matching passage flows back into the final answer turn.
func TestRun_SearchToolRetrievesIndexedEvidence(t *testing.T) {
	embedder := &keywordEmbedder{vocab: []string{"data", "center", "revenue", "gaming"}}
	index := store.NewMemoryIndex()
	index.Add(
		store.IndexedChunk{
			Chunk: types.Chunk{
				ID:     "amd-q3-dc",
				Text:   "Data Center segment revenue was a record $6.8 billion, up 69 percent year over year.",
				Source: "AMD-Q3-FY2024",
				Meta:   types.ChunkMetadata{Ticker: "AMD", FiscalYear: 2024, FiscalQuarter: "Q3"},
			},
			Dense: mustEmbed(t, embedder, "data center revenue"),
		},
		store.IndexedChunk{
			Chunk: types.Chunk{
				ID:     "amd-q3-gaming",
				Text:   "Gaming segment revenue declined on lower semi-custom sales.",
				Source: "AMD-Q3-FY2024",
				Meta:   types.ChunkMetadata{Ticker: "AMD", FiscalYear: 2024, FiscalQuarter: "Q3"},
			},
			Dense: mustEmbed(t, embedder, "gaming revenue"),
		},
	)

	exec := agentExecutor()
	engine := retrieval.NewEngine(embedder, index, &scriptedLLM{}, exec, config.DefaultRetrievalConfig())
	r := tools.NewRegistry()
	tools.RegisterTranscripts(r, engine)

	llm := &scriptedLLM{responses: []*types.LLMToolResponse{
		wantsTools(types.ToolCall{ID: "s1", Name: tools.NameSearchTranscripts,
			Input: map[string]any{"query": "AMD data center revenue", "strategy": "dense", "ticker": "AMD"}}),
		answer("AMD's data center revenue was $6.8 billion in Q3 FY2024."),
	}}
	o := New(llm, r, exec, testLimits())

	frames := collect(t, o.Run(context.Background(), Request{Message: "What was AMD's data center revenue?"}))

	tr := findFrame(frames, FrameToolResult)
	if tr == nil || tr.Tool.IsError {
		t.Fatalf("search must succeed: %+v", tr)
	}

	// The planner's second turn sees the retrieved evidence verbatim,
	// with the best-matching chunk ranked first.
	second := llm.planMessages[1]
	folded := second[len(second)-1].ToolResults[0].Content
	if !strings.Contains(folded, "$6.8 billion") {
		t.Fatalf("evidence not folded into the planning transcript: %q", folded)
	}
	if !strings.Contains(folded, "amd-q3-dc") {
		t.Fatalf("best-matching chunk not returned: %q", folded)
	}
	if strings.Index(folded, "amd-q3-dc") > strings.Index(folded, "amd-q3-gaming") && strings.Contains(folded, "amd-q3-gaming") {
		t.Fatalf("data center passage must rank first: %q", folded)
	}

	content := findFrame(frames, FrameContent)
	if content == nil || !strings.Contains(content.Text, "$6.8 billion") {
		t.Fatalf("final answer missing the figure: %+v", content)
	}
	if frames[len(frames)-1].Type != FrameEnd {
		t.Fatalf("last frame = %+v, want end", frames[len(frames)-1])
	}
}

func mustEmbed(t *testing.T, e types.Embedder, text string) []float32 {
	t.Helper()
	vec, err := e.Embed(context.Background(), text, types.EmbedDocument)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	return vec
}
