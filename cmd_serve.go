package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/anatolykoptev/mcpbridge/internal/config"
)

// runServe probes the backend, connects providers and serves until
// SIGINT or SIGTERM.
func runServe(cfg config.Config) int {
	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack, err := buildStack(sigCtx, cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		return 1
	}
	defer stack.Close()

	if err := stack.backend.Ping(sigCtx); err != nil {
		slog.Error("backend unreachable, is ollama running?",
			slog.String("url", cfg.OllamaURL),
			slog.Any("error", err))
		return 1
	}

	srv, err := stack.httpServer(cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		return 1
	}

	if cfg.PingInterval > 0 {
		go stack.providers.Watch(sigCtx, cfg.PingInterval)
	}

	slog.Info("mcpbridge",
		slog.String("version", version),
		slog.String("backend", cfg.OllamaURL),
		slog.Int("max_tool_rounds", cfg.MaxToolRounds))

	err = startHTTPServer(sigCtx, &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}, "bridge")
	if err != nil {
		slog.Error("bridge failed", slog.Any("error", err))
		return 1
	}
	return 0
}
