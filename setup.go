package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/anatolykoptev/mcpbridge/internal/bridge"
	"github.com/anatolykoptev/mcpbridge/internal/config"
	"github.com/anatolykoptev/mcpbridge/internal/mcpclient"
	"github.com/anatolykoptev/mcpbridge/internal/metrics"
	"github.com/anatolykoptev/mcpbridge/internal/ollama"
	"github.com/anatolykoptev/mcpbridge/internal/server"
	"github.com/anatolykoptev/mcpbridge/internal/toolreg"
)

// bridgeStack holds the components behind the HTTP surface.
type bridgeStack struct {
	backend   *ollama.Client
	registry  *toolreg.Registry
	providers *mcpclient.Manager
	metrics   *metrics.Metrics
	chat      *bridge.Orchestrator
}

// buildStack connects the configured providers and assembles the
// orchestrator. Providers that fail to connect are logged and skipped.
func buildStack(ctx context.Context, cfg config.Config) (*bridgeStack, error) {
	backend := ollama.NewClient(cfg.OllamaURL, ollama.WithHealthTimeout(cfg.HealthTimeout))
	registry := toolreg.NewRegistry()
	providers := mcpclient.NewManager(registry, mcpclient.Options{
		ConnectRetries: cfg.ConnectRetries,
		ToolTimeout:    cfg.ToolTimeout,
	})

	cfgs, err := config.LoadProviders(cfg.ConfigFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("provider config not found, running without tools", slog.String("path", cfg.ConfigFile))
	case err != nil:
		return nil, err
	}

	connected := providers.ConnectAll(ctx, cfgs)
	slog.Info("tool registry initialized",
		slog.Int("providers", connected),
		slog.Int("configured", len(cfgs)),
		slog.Int("tools", registry.Catalog().Len()))

	m := metrics.New()
	m.Gauge("catalog_tools", "Tools in the current catalog.", func() float64 {
		return float64(registry.Catalog().Len())
	})
	m.Gauge("providers_connected", "Providers with a live session.", func() float64 {
		return float64(len(providers.Connected()))
	})

	return &bridgeStack{
		backend:   backend,
		registry:  registry,
		providers: providers,
		metrics:   m,
		chat: bridge.New(backend, registry,
			bridge.WithMaxRounds(cfg.MaxToolRounds),
			bridge.WithMetrics(m)),
	}, nil
}

// httpServer builds the bridge's HTTP surface.
func (s *bridgeStack) httpServer(cfg config.Config) (*server.Server, error) {
	target, err := url.Parse(cfg.OllamaURL)
	if err != nil {
		return nil, err
	}
	return server.New(server.Deps{
		Chat:       s.chat,
		Backend:    s.backend,
		Tools:      s.registry,
		Providers:  s.providers,
		Metrics:    s.metrics,
		BackendURL: target,
	}), nil
}

func (s *bridgeStack) Close() {
	s.providers.Close()
}

// startHTTPServer runs srv in a goroutine and shuts it down when ctx is done.
// Returns after shutdown completes, or with the listen error.
func startHTTPServer(ctx context.Context, srv *http.Server, label string) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info(label+" listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down " + label)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx) //nolint:errcheck
	slog.Info(label + " stopped")
	return nil
}
