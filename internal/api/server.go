// Package api exposes the assistant over HTTP: posting messages,
// deciding proposals, inspecting conversations, and a websocket event
// feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/brightpost/assistant/internal/agent"
	"github.com/brightpost/assistant/internal/buildinfo"
	"github.com/brightpost/assistant/internal/convo"
	"github.com/brightpost/assistant/internal/events"
	"github.com/brightpost/assistant/internal/proposal"
)

// Server is the HTTP API server.
type Server struct {
	loop      *agent.Loop
	proposals *proposal.Service
	convs     convo.Store
	bus       *events.Bus
	logger    *slog.Logger

	httpServer *http.Server

	mu         sync.Mutex
	turns      int
	lastTurnAt time.Time
	tokensIn   int
	tokensOut  int
}

// NewServer creates the API server.
func NewServer(addr string, loop *agent.Loop, proposals *proposal.Service, convs convo.Store,
	bus *events.Bus, logger *slog.Logger) *Server {
	s := &Server{
		loop:      loop,
		proposals: proposals,
		convs:     convs,
		bus:       bus,
		logger:    logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/export", s.handleExport)
	mux.HandleFunc("POST /v1/proposals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/proposals/{id}/reject", s.handleReject)
	mux.HandleFunc("GET /v1/proposals/pending", s.handlePending)
	mux.HandleFunc("GET /v1/proposals/recent", s.handleRecent)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withLogging(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SessionStats is a snapshot of activity since startup.
type SessionStats struct {
	Turns      int       `json:"turns"`
	LastTurnAt time.Time `json:"last_turn_at,omitzero"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
}

// Stats returns activity counters since startup.
func (s *Server) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		Turns:      s.turns,
		LastTurnAt: s.lastTurnAt,
		TokensIn:   s.tokensIn,
		TokensOut:  s.tokensOut,
	}
}

func (s *Server) recordTurn(u agent.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	s.lastTurnAt = time.Now().UTC()
	s.tokensIn += u.InputTokens
	s.tokensOut += u.OutputTokens
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"uptime": buildinfo.Uptime().Truncate(time.Second).String(),
		"stats":  s.Stats(),
	})
}

type postMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.loop.PostUserMessage(r.Context(), conversationID, req.Text)
	if err != nil {
		if errors.Is(err, agent.ErrEmptyMessage) {
			errorResponse(w, http.StatusBadRequest, "message text is required")
			return
		}
		s.logger.Error("message turn failed", "conversation_id", conversationID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	s.recordTurn(result.Usage)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.convs.Conversation(r.PathValue("id"))
	if err != nil {
		s.logger.Error("load conversation failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// decisionRequest is the optional body for approve/reject. Reason is
// only meaningful on reject.
type decisionRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason"`
}

func decodeDecision(r *http.Request) decisionRequest {
	var req decisionRequest
	// An empty or malformed body is an anonymous decision.
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req := decodeDecision(r)
	p, err := s.proposals.Approve(r.Context(), r.PathValue("id"), req.Approver)
	if err != nil {
		s.proposalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	req := decodeDecision(r)
	p, err := s.proposals.Reject(r.PathValue("id"), req.Approver, req.Reason)
	if err != nil {
		s.proposalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// proposalError maps proposal errors to status codes: missing is 404, a
// decided proposal is 409 carrying its actual state.
func (s *Server) proposalError(w http.ResponseWriter, err error) {
	var conflict *proposal.ErrStateConflict
	switch {
	case errors.Is(err, proposal.ErrNotFound):
		errorResponse(w, http.StatusNotFound, "proposal not found")
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "proposal already decided",
			"status": string(conflict.Status),
		})
	default:
		s.logger.Error("proposal decision failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to process decision")
	}
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	pending, err := s.proposals.Pending(limit)
	if err != nil {
		s.logger.Error("list pending proposals failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to list proposals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(pending),
		"proposals": pending,
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	recent, err := s.proposals.Recent(limit)
	if err != nil {
		s.logger.Error("list recent proposals failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to list proposals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(recent),
		"proposals": recent,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}
