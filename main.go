package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/anatolykoptev/mcpbridge/internal/config"
)

var version = "dev"

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	cmd, args := splitCommand(os.Args[1:])

	cfg := config.Init()
	if err := applyFlags(&cfg, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	switch cmd {
	case "serve":
		os.Exit(runServe(cfg))
	case "check":
		os.Exit(runCheck(cfg, hasFlag(args, "--json")))
	case "version":
		fmt.Println("mcpbridge", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mcpbridge - Ollama API proxy that gives models access to MCP tools

Usage:
  mcpbridge [serve] [flags]     Run the bridge (default)
  mcpbridge check [--json]      Probe the backend, connect providers, print the catalog
  mcpbridge version

Flags (override BRIDGE_* environment variables):
  --ollama-url URL     Backend base URL (BRIDGE_OLLAMA_URL)
  --config PATH        Provider config file (BRIDGE_CONFIG)
  --host HOST          Listen host (BRIDGE_HOST)
  --port PORT          Listen port (BRIDGE_PORT)
  --max-rounds N       Tool rounds per request (BRIDGE_MAX_TOOL_ROUNDS)
  --log-level LEVEL    debug, info, warn or error (BRIDGE_LOG_LEVEL)
`)
}

// splitCommand separates the subcommand from its flags. Without a
// subcommand the bridge serves.
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") && args[0] != "-h" && args[0] != "--help" {
		return "serve", args
	}
	return args[0], args[1:]
}

// applyFlags overrides environment configuration with command-line values.
func applyFlags(cfg *config.Config, args []string) error {
	if v := getFlagValue(args, "--ollama-url"); v != "" {
		cfg.OllamaURL = strings.TrimRight(v, "/")
	}
	if v := getFlagValue(args, "--config"); v != "" {
		cfg.ConfigFile = v
	}
	if v := getFlagValue(args, "--host"); v != "" {
		cfg.Host = v
	}
	if v := getFlagValue(args, "--log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := getFlagValue(args, "--port"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--port: %w", err)
		}
		cfg.Port = n
	}
	if v := getFlagValue(args, "--max-rounds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--max-rounds: %w", err)
		}
		cfg.MaxToolRounds = n
	}
	return nil
}

// hasFlag checks if a flag exists in args.
func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// getFlagValue returns the value after a flag (--flag value or --flag=value).
func getFlagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, flag+"=") {
			return strings.TrimPrefix(a, flag+"=")
		}
	}
	return ""
}
