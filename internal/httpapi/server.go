// Package httpapi exposes the orchestration runtime's external interface
// (spec.md §6.1 / component C14): invoke, streamed invoke, resume, the
// OAuth authorize/callback pair, and a liveness probe. It is grounded on
// the teacher's internal/gateway/http_server.go, which builds its routes
// on a bare net/http.ServeMux plus promhttp.Handler rather than a web
// framework; this package keeps that choice and the mux's route shape,
// retargeted at the orchestrator's six endpoints instead of the
// teacher's chat-channel/web-UI surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teal-agents/agentcore/internal/oauthbroker"
	"github.com/teal-agents/agentcore/internal/observability"
	"github.com/teal-agents/agentcore/internal/orchestrator"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Orchestrator is the subset of orchestrator.Orchestrator this package
// depends on.
type Orchestrator interface {
	Invoke(ctx context.Context, authorizationHeader string, msg agentapi.UserMessage) (any, error)
	InvokeStream(ctx context.Context, authorizationHeader string, msg agentapi.UserMessage) <-chan orchestrator.StreamEvent
	Resume(ctx context.Context, authorizationHeader, taskID string, req agentapi.ResumeRequest) (any, error)
}

// AuthBroker is the subset of oauthbroker.Broker this package depends on.
type AuthBroker interface {
	InitiateAuthorizationFlow(ctx context.Context, server agentapi.McpServerConfig, userID string) (string, error)
	HandleCallback(ctx context.Context, code, state, userID string, server agentapi.McpServerConfig) (*agentapi.OAuth2AuthData, error)
}

// Server wires the orchestrator and OAuth broker onto an HTTP mux.
type Server struct {
	Orchestrator Orchestrator
	Broker       AuthBroker
	Discovery    agentapi.DiscoveryStore
	Servers      map[string]agentapi.McpServerConfig

	Name    string
	Version string

	Logger    *observability.Logger
	Metrics   *observability.Metrics
	StartTime time.Time
}

// Mux builds the http.Handler for the runtime's full external surface.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	base := "/" + s.Name + "/" + s.Version
	mux.HandleFunc("POST "+base+"/invoke", s.handleInvoke)
	mux.HandleFunc("POST "+base+"/invoke/stream", s.handleInvokeStream)
	mux.HandleFunc("POST "+base+"/resume/{task_id}", s.handleResume)
	mux.HandleFunc("GET /oauth/{server}/authorize", s.handleAuthorize)
	mux.HandleFunc("GET /oauth/{server}/callback", s.handleCallback)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var msg agentapi.UserMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	resp, err := s.Orchestrator.Invoke(r.Context(), r.Header.Get("Authorization"), msg)
	s.writeResult(w, r, resp, err)
}

func (s *Server) handleInvokeStream(w http.ResponseWriter, r *http.Request) {
	var msg agentapi.UserMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.Orchestrator.InvokeStream(r.Context(), r.Header.Get("Authorization"), msg)
	for event := range events {
		switch {
		case event.Partial != nil:
			writeSSE(w, "partial", event.Partial)
		case event.Err != nil:
			writeSSE(w, "error", errorPayload(event.Err))
		default:
			writeSSE(w, "final", event.Final)
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	var req agentapi.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	resp, err := s.Orchestrator.Resume(r.Context(), r.Header.Get("Authorization"), taskID, req)
	s.writeResult(w, r, resp, err)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	serverName := r.PathValue("server")
	server, ok := s.Servers[serverName]
	if !ok {
		http.Error(w, "unknown mcp server", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user_id")

	authURL, err := s.Broker.InitiateAuthorizationFlow(r.Context(), server, userID)
	if err != nil {
		http.Error(w, "unable to start authorization flow", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	serverName := r.PathValue("server")
	server, ok := s.Servers[serverName]
	if !ok {
		http.Error(w, "unknown mcp server", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	flow, err := s.Discovery.FlowStateByState(r.Context(), state)
	if err != nil {
		http.Error(w, "authorization flow expired or unknown", http.StatusBadRequest)
		return
	}

	if _, err := s.Broker.HandleCallback(r.Context(), code, state, flow.UserID, server); err != nil {
		var unauthorizedScopes *agentapi.UnauthorizedScopesError
		if errors.As(err, &unauthorizedScopes) {
			http.Error(w, "granted scopes exceed what was requested", http.StatusBadRequest)
			return
		}
		var exchangeErr *agentapi.TokenExchangeError
		if errors.As(err, &exchangeErr) {
			http.Error(w, "token exchange failed", http.StatusBadGateway)
			return
		}
		http.Error(w, "authorization failed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body><p>Authorization complete. You may close this tab.</p></body></html>"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"status":  "healthy",
		"uptime":  time.Since(s.StartTime).String(),
		"version": s.Version,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

// writeResult encodes the orchestrator's typed output, or maps a typed
// orchestration error onto the status codes spec.md §7 names.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, resp any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	data, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *agentapi.AuthenticationError
	if errors.As(err, &authErr) {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if errors.Is(err, agentapi.ErrTaskNotOwned) {
		http.Error(w, "task not owned by caller", http.StatusConflict)
		return
	}
	if errors.Is(err, agentapi.ErrTaskTerminal) {
		http.Error(w, "task is already terminal", http.StatusGone)
		return
	}
	if errors.Is(err, agentapi.ErrTaskNotPaused) {
		http.Error(w, "task is not paused", http.StatusConflict)
		return
	}
	if errors.Is(err, agentapi.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var loadErr *agentapi.PersistenceLoadError
	if errors.As(err, &loadErr) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	if s.Logger != nil {
		s.Logger.Error(r.Context(), "orchestrator invoke failed", "error", err)
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func errorPayload(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

var _ Orchestrator = (*orchestrator.Orchestrator)(nil)
var _ AuthBroker = (*oauthbroker.Broker)(nil)
