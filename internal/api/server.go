package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/drew/muxbot/internal/session"
	"github.com/drew/muxbot/internal/term"
)

// ExecRequest represents a POST /api/exec body
type ExecRequest struct {
	Command string `json:"command"`
	Shell   bool   `json:"shell,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server represents the HTTP control API
type Server struct {
	addr   string
	token  string
	shell  string
	guard  *session.Guard
	tasks  *session.Manager
	log    *slog.Logger
	server *http.Server
}

// New creates a new API server. An empty token disables authentication.
// shell is used for requests with "shell": true; commands the guard blocks
// are refused.
func New(addr, token, shell string, guard *session.Guard, tasks *session.Manager, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:  addr,
		token: token,
		shell: shell,
		guard: guard,
		tasks: tasks,
		log:   log.With("component", "api"),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/exec", s.handleExec)
	mux.HandleFunc("GET /api/tasks", s.handleList)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGet)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleCancel)
	return s.authenticate(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("starting HTTP server", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP server shutdown", "err", err)
		}
	}()

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	want := []byte("Bearer " + s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"running": s.tasks.Len(),
	})
}

// handleExec handles POST /api/exec
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		respondError(w, http.StatusBadRequest, "command field is required")
		return
	}

	if fragment, blocked := s.guard.Blocked(req.Command); blocked {
		s.log.Warn("dangerous command blocked", "command", req.Command, "fragment", fragment, "remote", r.RemoteAddr)
		respondError(w, http.StatusForbidden, "dangerous command blocked")
		return
	}

	spec := session.Spec{Kind: session.KindAPI, Command: req.Command}
	if req.Shell {
		spec.Shell = s.shell
	}

	e, err := s.tasks.Execute(spec)
	if err != nil {
		var spawnErr *term.SpawnError
		switch {
		case errors.As(err, &spawnErr):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, session.ErrTooManyTasks):
			respondError(w, http.StatusTooManyRequests, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.log.Info("task started from API", "id", e.ID, "command", e.Command, "remote", r.RemoteAddr)
	respondJSON(w, http.StatusAccepted, e.Snapshot(false))
}

// handleList handles GET /api/tasks
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries := s.tasks.List()
	snaps := make([]session.Snapshot, 0, len(entries))
	for _, e := range entries {
		snaps = append(snaps, e.Snapshot(false))
	}
	respondJSON(w, http.StatusOK, snaps)
}

// handleGet handles GET /api/tasks/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot(true))
}

// handleCancel handles POST /api/tasks/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tasks.Cancel(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Info("task cancelled from API", "id", id)

	e, err := s.tasks.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, e.Snapshot(false))
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
