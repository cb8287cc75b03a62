// Package bridge runs the chat orchestration loop: it offers the tool
// catalog to the backend, executes the tool calls the model asks for, and
// resubmits the conversation until the model answers without tools.
package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/anatolykoptev/mcpbridge/internal/metrics"
	"github.com/anatolykoptev/mcpbridge/internal/ollama"
	"github.com/anatolykoptev/mcpbridge/internal/toolreg"
)

// DefaultMaxRounds bounds the backend exchanges of one request.
const DefaultMaxRounds = 10

const (
	modeBuffered = "buffered"
	modeStream   = "stream"
)

// Backend sends chat requests to the model server.
type Backend interface {
	Chat(ctx context.Context, req *ollama.ChatRequest) (*ollama.Reply, error)
	ChatStream(ctx context.Context, req *ollama.ChatRequest) (io.ReadCloser, error)
}

// Tools provides the current catalog snapshot.
type Tools interface {
	Catalog() *toolreg.Catalog
}

// RecordWriter receives streamed records, one complete JSON object per call.
type RecordWriter interface {
	WriteRecord(rec json.RawMessage) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRounds sets the round limit. Values below 1 are ignored.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxRounds = n
		}
	}
}

// WithMetrics records loop activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator drives the request, tool call, resubmit loop.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	backend   Backend
	tools     Tools
	maxRounds int
	metrics   *metrics.Metrics
}

// New creates an orchestrator.
func New(backend Backend, tools Tools, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:   backend,
		tools:     tools,
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxRounds returns the configured round limit.
func (o *Orchestrator) MaxRounds() int { return o.maxRounds }

// conversation is the per-request state: the request being resubmitted and
// the catalog snapshot it started with.
type conversation struct {
	req     *ollama.ChatRequest
	catalog *toolreg.Catalog
	log     *slog.Logger
	rounds  int
}

func (o *Orchestrator) begin(ctx context.Context, req *ollama.ChatRequest) *conversation {
	cat := o.tools.Catalog()
	conv := &conversation{
		req:     req.Clone(),
		catalog: cat,
		log:     Logger(ctx),
	}
	// The catalog replaces whatever tools the caller sent; only catalog
	// tools can be dispatched.
	conv.req.Tools = cat.Tools()
	return conv
}

// Chat answers a buffered request. The returned bytes are the final backend
// response exactly as received.
func (o *Orchestrator) Chat(ctx context.Context, req *ollama.ChatRequest) (json.RawMessage, error) {
	conv := o.begin(ctx, req)
	raw, err := o.chat(ctx, conv)
	o.metrics.ChatDone(modeBuffered, conv.rounds, err)
	return raw, err
}

func (o *Orchestrator) chat(ctx context.Context, conv *conversation) (json.RawMessage, error) {
	for {
		conv.rounds++

		start := time.Now()
		reply, err := o.backend.Chat(ctx, conv.req)
		o.metrics.BackendRound(modeBuffered, time.Since(start))
		if err != nil {
			return nil, err
		}

		calls := reply.Response.ToolCalls()
		if len(calls) == 0 {
			return reply.Raw, nil
		}
		if conv.rounds >= o.maxRounds {
			o.roundLimit(conv, len(calls))
			return reply.Raw, nil
		}

		if err := o.invoke(ctx, conv, reply.Response.Message, calls); err != nil {
			return nil, err
		}
	}
}

// invoke appends the assistant turn, runs the calls in order and appends
// one tool message per call. Tools are not offered again afterwards.
func (o *Orchestrator) invoke(ctx context.Context, conv *conversation, assistant ollama.Message, calls []ollama.ToolCall) error {
	results := make([]ollama.Message, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}
		results = append(results, o.dispatch(ctx, conv, call))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conv.req.Messages = append(conv.req.Messages, ollama.Message{
		Role:      ollama.RoleAssistant,
		Content:   assistant.Content,
		Thinking:  assistant.Thinking,
		ToolCalls: calls,
	})
	conv.req.Messages = append(conv.req.Messages, results...)
	conv.req.Tools = nil
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, conv *conversation, call ollama.ToolCall) ollama.Message {
	name := call.Function.Name

	start := time.Now()
	out, err := conv.catalog.Dispatch(ctx, name, call.Function.Arguments)
	elapsed := time.Since(start)
	o.metrics.ToolCall(name, elapsed, err)

	if err != nil {
		conv.log.Warn("tool call failed",
			slog.String("tool", name),
			slog.Int("round", conv.rounds),
			slog.Any("error", err))
		out = "Error: " + err.Error()
	} else {
		conv.log.Debug("tool call done",
			slog.String("tool", name),
			slog.Int("round", conv.rounds),
			slog.Duration("elapsed", elapsed))
	}

	return ollama.Message{
		Role:     ollama.RoleTool,
		Content:  out,
		ToolName: name,
	}
}

func (o *Orchestrator) roundLimit(conv *conversation, pending int) {
	o.metrics.RoundLimitReached()
	conv.log.Warn("round limit reached, returning response with unanswered tool calls",
		slog.Int("max_rounds", o.maxRounds),
		slog.Int("tool_calls", pending))
}
