// Package server exposes the chat orchestration loop over HTTP. The single
// streaming endpoint mirrors the calling UI's wire protocol: one POST, a
// server-sent-event stream of typed frames back.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"finsight/internal/agent"
	"finsight/internal/config"
	"finsight/internal/retrieval"
	"finsight/internal/types"
)

// Runner orchestrates one chat request. *agent.Orchestrator is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, req agent.Request) <-chan agent.Frame
}

// Server is the HTTP surface.
type Server struct {
	runner Runner
	logger *zap.Logger
}

// NewServer wires the HTTP surface.
func NewServer(runner Runner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{runner: runner, logger: logger}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// HTTPServer builds the configured http.Server around the mux.
func (s *Server) HTTPServer(cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.GetReadHeaderTimeout(),
	}
}

// historyTurn is one prior conversation turn in the request body.
type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the POST /api/chat/stream body.
type chatRequest struct {
	Message     string        `json:"message"`
	ChatHistory []historyTurn `json:"chatHistory"`
	Strategy    string        `json:"strategy"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if body.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	strategy, alpha, err := retrieval.ParseStrategy(body.Strategy)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	history := make([]types.Message, 0, len(body.ChatHistory))
	for _, turn := range body.ChatHistory {
		role := types.RoleUser
		if turn.Role == string(types.RoleAssistant) {
			role = types.RoleAssistant
		}
		history = append(history, types.Message{Role: role, Content: turn.Content})
	}

	s.logger.Info("chat stream request",
		zap.String("strategy", body.Strategy),
		zap.Int("history_turns", len(history)),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames := s.runner.Run(r.Context(), agent.Request{
		Message:  body.Message,
		History:  history,
		Strategy: strategy,
		Alpha:    alpha,
	})

	for frame := range frames {
		payload, err := json.Marshal(frame)
		if err != nil {
			s.logger.Error("marshal frame", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, payload); err != nil {
			// Client went away; the request context cancellation drains
			// the orchestrator.
			s.logger.Debug("client disconnected", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.logger.Warn("request rejected", zap.Int("status", code), zap.String("error", msg))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
