package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/anatolykoptev/mcpbridge/internal/mcpclient"
)

// Health states.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Health is the /health payload.
type Health struct {
	Status           string                     `json:"status"`
	BackendReachable bool                       `json:"backend_reachable"`
	BackendError     string                     `json:"backend_error,omitempty"`
	ToolCount        int                        `json:"tool_count"`
	Providers        []mcpclient.ProviderStatus `json:"providers"`
}

// Health probes the backend and summarizes the catalog and providers.
// The bridge is healthy when the backend answers.
func (s *Server) Health(ctx context.Context) Health {
	h := Health{
		Status:    StatusHealthy,
		Providers: []mcpclient.ProviderStatus{},
	}
	if s.deps.Tools != nil {
		h.ToolCount = s.deps.Tools.Catalog().Len()
	}
	if s.deps.Providers != nil {
		h.Providers = s.deps.Providers.Status()
	}

	if err := s.deps.Backend.Ping(ctx); err != nil {
		h.Status = StatusDegraded
		h.BackendError = err.Error()
		return h
	}
	h.BackendReachable = true
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.Health(r.Context())
	status := http.StatusOK
	if h.Status != StatusHealthy {
		status = http.StatusServiceUnavailable
		slog.Warn("health degraded", slog.String("backend_error", h.BackendError))
	}
	writeJSON(w, status, h)
}
