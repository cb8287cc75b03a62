package mcpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport kinds.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// ProviderConfig describes how to reach one provider.
type ProviderConfig struct {
	Name      string
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Transport string // stdio, http or sse; inferred when empty
}

// Kind returns the transport kind, inferring it from the other fields
// when Transport is not set.
func (c ProviderConfig) Kind() string {
	if c.Transport != "" {
		return strings.ToLower(c.Transport)
	}
	switch {
	case c.Command != "":
		return TransportStdio
	case strings.HasSuffix(strings.TrimRight(c.URL, "/"), "/sse"):
		return TransportSSE
	default:
		return TransportHTTP
	}
}

// Validate checks that the fields required by the transport kind are present.
func (c ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is empty")
	}
	switch c.Kind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("provider %s: stdio transport needs a command", c.Name)
		}
	case TransportHTTP, TransportSSE:
		if _, err := normalizeURL(c.URL); err != nil {
			return fmt.Errorf("provider %s: %w", c.Name, err)
		}
	default:
		return fmt.Errorf("provider %s: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

// buildTransport creates a fresh transport. A stdio transport owns its
// process, so every connection attempt needs a new one.
func buildTransport(cfg ProviderConfig, hc *http.Client) (mcp.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind() {
	case TransportStdio:
		// #nosec G204 -- command comes from the operator's provider config
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = commandEnv(cfg.Env)
		cmd.Stderr = os.Stderr
		return &mcp.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		endpoint, _ := normalizeURL(cfg.URL)
		return &mcp.SSEClientTransport{Endpoint: endpoint, HTTPClient: hc}, nil
	default:
		endpoint, _ := normalizeURL(cfg.URL)
		return &mcp.StreamableClientTransport{Endpoint: endpoint, HTTPClient: hc}, nil
	}
}

// commandEnv returns the parent environment with extra applied on top,
// in a stable order.
func commandEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u.String(), nil
}
