// Package mcpclient connects to MCP tool providers and exposes their tools
// to the registry.
package mcpclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/mcpbridge/internal/errs"
	"github.com/anatolykoptev/mcpbridge/internal/toolreg"
)

const (
	clientName    = "ollama-mcp-bridge"
	clientVersion = "1.0.0"

	retryDelay    = 250 * time.Millisecond
	retryMaxDelay = 4 * time.Second
)

// Options tune how sessions are established and used.
type Options struct {
	// ConnectRetries is the number of extra connection attempts after the first.
	ConnectRetries int
	// ToolTimeout bounds a single tool invocation. Zero means no limit.
	ToolTimeout time.Duration
	// HTTPClient is used by the http and sse transports.
	HTTPClient *http.Client
}

// Session is a live MCP client session to one provider.
// It is safe for concurrent use.
type Session struct {
	name    string
	session *mcp.ClientSession
	invoke  failsafe.Executor[*mcp.CallToolResult]
	timeout time.Duration
}

// Connect starts the provider described by cfg and performs the MCP handshake.
func Connect(ctx context.Context, cfg ProviderConfig, opts Options) (*Session, error) {
	return Dial(ctx, cfg.Name, func() (mcp.Transport, error) {
		return buildTransport(cfg, opts.HTTPClient)
	}, opts)
}

// Dial connects through transports produced by newTransport, one per attempt.
func Dial(ctx context.Context, name string, newTransport func() (mcp.Transport, error), opts Options) (*Session, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	retry := retrypolicy.NewBuilder[*mcp.ClientSession]().
		WithMaxRetries(max(opts.ConnectRetries, 0)).
		WithBackoff(retryDelay, retryMaxDelay).
		OnRetry(func(e failsafe.ExecutionEvent[*mcp.ClientSession]) {
			slog.Warn("mcp connect failed, retrying",
				slog.String("provider", name),
				slog.Int("attempt", e.Attempts()),
				slog.Any("error", e.LastError()))
		}).
		Build()

	session, err := failsafe.With[*mcp.ClientSession](retry).
		WithContext(ctx).
		Get(func() (*mcp.ClientSession, error) {
			transport, err := newTransport()
			if err != nil {
				return nil, err
			}
			return client.Connect(ctx, transport, nil)
		})
	if err != nil {
		return nil, errs.New(errs.KindConnection, "connect "+name, err)
	}

	s := &Session{name: name, session: session, timeout: opts.ToolTimeout}
	if opts.ToolTimeout > 0 {
		s.invoke = failsafe.With[*mcp.CallToolResult](timeout.New[*mcp.CallToolResult](opts.ToolTimeout))
	}

	slog.Info("mcp provider connected", slog.String("provider", name))
	return s, nil
}

// Name returns the provider name.
func (s *Session) Name() string { return s.name }

// ListTools fetches every tool the provider advertises, in its order.
// Malformed metadata fails the whole listing.
func (s *Session) ListTools(ctx context.Context) ([]toolreg.ToolInfo, error) {
	var tools []toolreg.ToolInfo
	for t, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return nil, errs.New(errs.KindProtocol, "list tools "+s.name, err)
		}
		info, err := toolInfo(t)
		if err != nil {
			return nil, errs.New(errs.KindProtocol, "list tools "+s.name, err)
		}
		tools = append(tools, info)
	}
	return tools, nil
}

// Invoke calls a tool by its provider-local name and returns its text output.
// Multiple text parts are joined with newlines.
func (s *Session) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	op := "call " + s.name + "/" + name
	params := &mcp.CallToolParams{Name: name, Arguments: args}

	var (
		result *mcp.CallToolResult
		err    error
	)
	if s.invoke != nil {
		result, err = s.invoke.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*mcp.CallToolResult]) (*mcp.CallToolResult, error) {
			return s.session.CallTool(exec.Context(), params)
		})
	} else {
		result, err = s.session.CallTool(ctx, params)
	}
	if err != nil {
		if s.timedOut(ctx, err) {
			return "", errs.Newf(errs.KindTimeout, op, "no result after %s", s.timeout)
		}
		return "", errs.New(errs.KindInvocation, op, err)
	}

	text := joinText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errs.New(errs.KindInvocation, op, errors.New(text))
	}
	if text == "" {
		return "", errs.New(errs.KindInvocation, op, errors.New("no text content in result"))
	}
	return text, nil
}

// timedOut reports whether err came from the invocation time limit rather
// than from the caller giving up.
func (s *Session) timedOut(ctx context.Context, err error) bool {
	if errors.Is(err, timeout.ErrExceeded) {
		return true
	}
	return s.invoke != nil && ctx.Err() == nil &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}

// Ping checks that the provider still answers.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.session.Ping(ctx, nil); err != nil {
		return errs.New(errs.KindConnection, "ping "+s.name, err)
	}
	return nil
}

// Close ends the session and stops a stdio provider process.
func (s *Session) Close() error {
	return s.session.Close()
}

func joinText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
