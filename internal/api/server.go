// Package api exposes the attendant's control surface over HTTP: a
// status endpoint, manual session control, and a WebSocket stream of
// operational events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wardenhq/attendant/internal/convo"
	"github.com/wardenhq/attendant/internal/events"
	"github.com/wardenhq/attendant/internal/presence"
)

// Conversation is the engine surface the API exposes. *convo.Engine
// satisfies it.
type Conversation interface {
	State() convo.State
	CurrentPerson() string
	StartSession(ctx context.Context, name string) bool
	ForceEnd(reason string)
}

// Presence is the tracker surface the API exposes. *presence.Tracker
// satisfies it.
type Presence interface {
	Snapshot() []presence.Status
}

// Server serves the control API.
type Server struct {
	engine  Conversation
	tracker Presence
	bus     *events.Bus
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer creates the API server. bus may be nil, which disables the
// event stream.
func NewServer(engine Conversation, tracker Presence, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		tracker: tracker,
		bus:     bus,
		logger:  logger.With("component", "api"),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/session", s.handleSession)
	s.mux.HandleFunc("/force_end", s.handleForceEnd)
	s.mux.HandleFunc("/events", s.handleEvents)
	return s
}

// Handler returns the root handler, for mounting or for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe runs the server until ctx ends, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the GET /status payload.
type statusResponse struct {
	State         string            `json:"state"`
	CurrentPerson string            `json:"current_person,omitempty"`
	Tracked       []presence.Status `json:"tracked"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		State:         string(s.engine.State()),
		CurrentPerson: s.engine.CurrentPerson(),
		Tracked:       s.tracker.Snapshot(),
	})
}

// handleSession starts a conversation manually, bypassing presence.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if !s.engine.StartSession(context.Background(), req.Name) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("conversation already active with %s", s.engine.CurrentPerson()))
		return
	}

	s.logger.Info("session started via api", "person", req.Name)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "person": req.Name})
}

// handleForceEnd terminates the active conversation.
func (s *Server) handleForceEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional; a bare POST uses the default reason.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "api_request"
	}

	s.engine.ForceEnd(req.Reason)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ending", "reason": req.Reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
