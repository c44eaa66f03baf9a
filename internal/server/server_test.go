package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"finsight/internal/agent"
	"finsight/internal/types"
)

// fakeRunner records the request and replays canned frames.
type fakeRunner struct {
	got    agent.Request
	frames []agent.Frame
}

func (f *fakeRunner) Run(ctx context.Context, req agent.Request) <-chan agent.Frame {
	f.got = req
	ch := make(chan agent.Frame, len(f.frames))
	for _, fr := range f.frames {
		ch <- fr
	}
	close(ch)
	return ch
}

func testFrames() []agent.Frame {
	return []agent.Frame{
		{Type: agent.FrameMetadata, RequestID: "req-1", Strategy: types.StrategyHybrid},
		{Type: agent.FrameContent, Text: "Revenue was $6.8 billion."},
		{Type: agent.FrameEnd},
	}
}

func postChat(t *testing.T, runner Runner, body string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(runner, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestChatStream_EmitsSSEFrames(t *testing.T) {
	runner := &fakeRunner{frames: testFrames()}
	w := postChat(t, runner, `{"message":"What was Q3 revenue?","strategy":"hybrid-0.6","chatHistory":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	if runner.got.Message != "What was Q3 revenue?" {
		t.Fatalf("message = %q", runner.got.Message)
	}
	if runner.got.Strategy != types.StrategyHybrid || runner.got.Alpha == nil || *runner.got.Alpha != 0.6 {
		t.Fatalf("strategy = %q alpha = %v, want hybrid 0.6", runner.got.Strategy, runner.got.Alpha)
	}
	if len(runner.got.History) != 2 || runner.got.History[1].Role != types.RoleAssistant {
		t.Fatalf("history not mapped: %+v", runner.got.History)
	}

	body := w.Body.String()
	for _, want := range []string{
		"event: metadata\n",
		"event: content\n",
		"event: end\n",
		`"request_id":"req-1"`,
		"Revenue was $6.8 billion.",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("response missing %q:\n%s", want, body)
		}
	}

	// Frame order on the wire matches emission order.
	if strings.Index(body, "event: metadata") > strings.Index(body, "event: content") {
		t.Fatal("metadata frame must precede content")
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "{\"type\":\"end\"}") {
		t.Fatalf("end frame must be last:\n%s", body)
	}
}

func TestChatStream_RejectsMissingMessage(t *testing.T) {
	w := postChat(t, &fakeRunner{}, `{"strategy":"dense"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["error"] == "" {
		t.Fatalf("expected error payload, got %s", w.Body.String())
	}
}

func TestChatStream_RejectsUnknownStrategy(t *testing.T) {
	w := postChat(t, &fakeRunner{}, `{"message":"q","strategy":"quantum"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChatStream_RejectsBadJSON(t *testing.T) {
	w := postChat(t, &fakeRunner{}, `{"message":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := NewServer(&fakeRunner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}
