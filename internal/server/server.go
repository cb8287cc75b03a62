// Package server exposes the bridge over HTTP: the tool-aware chat endpoint,
// health, metrics, and a pass-through proxy for every other backend route.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/anatolykoptev/mcpbridge/internal/bridge"
	"github.com/anatolykoptev/mcpbridge/internal/mcpclient"
	"github.com/anatolykoptev/mcpbridge/internal/metrics"
	"github.com/anatolykoptev/mcpbridge/internal/ollama"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Chatter runs the orchestration loop.
type Chatter interface {
	Chat(ctx context.Context, req *ollama.ChatRequest) (json.RawMessage, error)
	ChatStream(ctx context.Context, req *ollama.ChatRequest, w bridge.RecordWriter) error
}

// Pinger probes the backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderLister reports provider connection state.
type ProviderLister interface {
	Status() []mcpclient.ProviderStatus
}

// Deps are the collaborators the server is built from.
type Deps struct {
	Chat       Chatter
	Backend    Pinger
	Tools      bridge.Tools
	Providers  ProviderLister
	Metrics    *metrics.Metrics
	BackendURL *url.URL
}

// Server routes the bridge's HTTP surface.
type Server struct {
	deps    Deps
	proxy   http.Handler
	handler http.Handler
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	s := &Server{deps: deps, proxy: newProxy(deps.BackendURL)}

	m := deps.Metrics
	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", m.Instrument("chat", http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /health", m.Instrument("health", http.HandlerFunc(s.handleHealth)))
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	mux.Handle("/", m.Instrument("proxy", s.proxy))

	s.handler = withRequestID(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// withRequestID tags every request with an id, echoed in the response and
// attached to the request logger.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		log := slog.Default().With(slog.String("request_id", id))
		next.ServeHTTP(w, r.WithContext(bridge.WithLogger(r.Context(), log)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
