// Package api exposes CAAL's HTTP interface: the chat endpoint,
// session management, reload, and the health/version endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/AbdulShahzeb/CAAL/internal/buildinfo"
	"github.com/AbdulShahzeb/CAAL/internal/config"
	"github.com/AbdulShahzeb/CAAL/internal/session"
	"github.com/AbdulShahzeb/CAAL/internal/turn"
)

// BackendFactory builds a turn backend from (re)loaded configuration.
type BackendFactory func(cfg *config.Config, logger *slog.Logger) (*turn.Backend, error)

// Server is the HTTP API server. The backend lives inside the turn
// coordinator; reload swaps it there under the turn lock.
type Server struct {
	cfgPath  string
	logger   *slog.Logger
	sessions *session.Registry
	coord    *turn.Coordinator
	factory  BackendFactory

	httpServer *http.Server
}

// NewServer creates the API server around an initial backend.
func NewServer(cfgPath string, cfg *config.Config, backend *turn.Backend, sessions *session.Registry, factory BackendFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfgPath:  cfgPath,
		logger:   logger,
		sessions: sessions,
		coord:    turn.NewCoordinator(backend, logger),
		factory:  factory,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /api/chat/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/chat/reload", s.handleReload)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Ask runs one turn outside HTTP. It is the adapter other front ends
// (the MQTT satellite bridge, the ask CLI) use so every turn funnels
// through the same coordinator lock regardless of transport.
func (s *Server) Ask(ctx context.Context, sessionID, text string) (reply, sid string, err error) {
	sess := s.sessions.GetOrCreate(sessionID)

	result, err := s.coord.Execute(ctx, sess, text, false)
	if err != nil {
		return "", "", err
	}
	return result.Reply, sess.ID, nil
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Verbose   bool   `json:"verbose,omitempty"`
}

type chatResponse struct {
	Response    string            `json:"response"`
	SessionID   string            `json:"session_id"`
	Diagnostics *turn.Diagnostics `json:"diagnostics,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess := s.sessions.GetOrCreate(req.SessionID)

	result, err := s.coord.Execute(r.Context(), sess, req.Message, req.Verbose)
	if err != nil {
		s.logger.Error("turn failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, "chat backend error")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:    result.Reply,
		SessionID:   sess.ID,
		Diagnostics: result.Diagnostics,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.sessions.List(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reloadResponse struct {
	SessionsCleared int `json:"sessions_cleared"`
	Tools           int `json:"tools"`
}

// handleReload tears the backend down and rebuilds it from freshly
// loaded configuration. All sessions are cleared; the response reports
// how many, plus the tool count after rediscovery.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(s.cfgPath)
	if err != nil {
		s.logger.Error("reload: config load failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("config reload failed: %v", err))
		return
	}

	backend, err := s.factory(cfg, s.logger)
	if err != nil {
		s.logger.Error("reload: backend rebuild failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("backend rebuild failed: %v", err))
		return
	}
	backend.Registry.EnsureInitialized(r.Context())

	// Swap waits for any in-flight turn, so the old registry is idle
	// by the time it is closed.
	old := s.coord.Swap(backend)
	old.Registry.Close()

	cleared := s.sessions.Clear()
	tools := backend.Registry.ToolCount(r.Context())

	s.logger.Info("reload complete", "sessions_cleared", cleared, "tools", tools)
	writeJSON(w, http.StatusOK, reloadResponse{SessionsCleared: cleared, Tools: tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": buildinfo.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
