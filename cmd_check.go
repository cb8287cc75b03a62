package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anatolykoptev/mcpbridge/internal/config"
	"github.com/anatolykoptev/mcpbridge/internal/server"
	"github.com/anatolykoptev/mcpbridge/internal/toolreg"
)

// checkReport is the check command's output.
type checkReport struct {
	Health server.Health            `json:"health"`
	Tools  []toolreg.ToolDefinition `json:"tools"`
}

// runCheck connects providers once, probes the backend and prints the
// resulting health and catalog. Exits non-zero when degraded.
func runCheck(cfg config.Config, asJSON bool) int {
	ctx := context.Background()

	stack, err := buildStack(ctx, cfg)
	if err != nil {
		slog.Error("check failed", slog.Any("error", err))
		return 1
	}
	defer stack.Close()

	srv, err := stack.httpServer(cfg)
	if err != nil {
		slog.Error("check failed", slog.Any("error", err))
		return 1
	}

	report := checkReport{
		Health: srv.Health(ctx),
		Tools:  stack.registry.Catalog().Definitions(),
	}

	if asJSON {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Print(formatReport(report))
	}

	if report.Health.Status != server.StatusHealthy {
		return 1
	}
	return 0
}

func formatReport(r checkReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\n", r.Health.Status)
	if r.Health.BackendReachable {
		b.WriteString("backend: reachable\n")
	} else {
		fmt.Fprintf(&b, "backend: unreachable (%s)\n", r.Health.BackendError)
	}

	fmt.Fprintf(&b, "\nproviders (%d):\n", len(r.Health.Providers))
	for _, p := range r.Health.Providers {
		state := "connected"
		if !p.Connected {
			state = "down"
			if p.Error != "" {
				state += ": " + p.Error
			}
		}
		fmt.Fprintf(&b, "  %-20s %3d tools  %s\n", p.Name, p.Tools, state)
	}

	fmt.Fprintf(&b, "\ntools (%d):\n", len(r.Tools))
	for _, t := range r.Tools {
		desc, _, _ := strings.Cut(t.Description, "\n")
		fmt.Fprintf(&b, "  %-32s %s\n", t.CatalogName, desc)
	}
	return b.String()
}
