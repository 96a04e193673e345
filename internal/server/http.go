// Package server exposes the kernel over HTTP: a /check endpoint accepting
// framework payloads, /health, and an optional WebSocket gateway proxy for
// OpenClaw installs.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/runtime"
)

// Server wraps the runtime with HTTP handlers.
type Server struct {
	rt     *runtime.Runtime
	logger *slog.Logger
}

// New creates a Server.
func New(rt *runtime.Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{rt: rt, logger: logger.With("component", "server")}
}

// Handler builds the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/check", s.handleCheck)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// checkRequest is the /check envelope: a framework tag plus the raw
// orchestrator payload.
type checkRequest struct {
	Framework string                 `json:"framework"`
	Payload   map[string]interface{} `json:"payload"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	fw := event.Framework(req.Framework)
	if req.Framework == "" {
		fw = event.FrameworkGeneric
	}

	resp, err := s.rt.Check(r.Context(), fw, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","profile":%q}`, s.rt.Config().Global.Profile)
}
