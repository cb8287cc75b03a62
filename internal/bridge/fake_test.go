package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/mcpbridge/internal/ollama"
	"github.com/anatolykoptev/mcpbridge/internal/toolreg"
)

// fakeBackend replays scripted rounds and records what it was sent.
type fakeBackend struct {
	t *testing.T

	mu       sync.Mutex
	replies  []string   // buffered bodies, one per round
	streams  [][]string // stream lines, one slice per round
	failAt   int        // 1-based round that fails; 0 never
	failErr  error
	requests []*ollama.ChatRequest
	bodies   []*trackedBody
}

func (b *fakeBackend) record(req *ollama.ChatRequest) int {
	b.t.Helper()
	data, err := json.Marshal(req)
	require.NoError(b.t, err)
	var cp ollama.ChatRequest
	require.NoError(b.t, json.Unmarshal(data, &cp))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, &cp)
	return len(b.requests)
}

func (b *fakeBackend) Chat(_ context.Context, req *ollama.ChatRequest) (*ollama.Reply, error) {
	round := b.record(req)
	if round == b.failAt {
		return nil, b.failErr
	}
	if round > len(b.replies) {
		return nil, fmt.Errorf("unexpected round %d", round)
	}
	body := b.replies[round-1]
	var resp ollama.ChatResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, err
	}
	return &ollama.Reply{Raw: json.RawMessage(body), Response: resp}, nil
}

func (b *fakeBackend) ChatStream(_ context.Context, req *ollama.ChatRequest) (io.ReadCloser, error) {
	round := b.record(req)
	if round == b.failAt {
		return nil, b.failErr
	}
	if round > len(b.streams) {
		return nil, fmt.Errorf("unexpected round %d", round)
	}
	body := &trackedBody{Reader: strings.NewReader(strings.Join(b.streams[round-1], "\n") + "\n")}

	b.mu.Lock()
	b.bodies = append(b.bodies, body)
	b.mu.Unlock()
	return body, nil
}

func (b *fakeBackend) rounds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

type trackedBody struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func (t *trackedBody) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *trackedBody) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// errBody yields some bytes and then a read error.
type errBody struct {
	io.Reader
}

func (errBody) Close() error { return nil }

// streamBackend returns fixed bodies from ChatStream.
type streamBackend struct {
	body io.ReadCloser
}

func (s *streamBackend) Chat(context.Context, *ollama.ChatRequest) (*ollama.Reply, error) {
	return nil, errors.New("not used")
}

func (s *streamBackend) ChatStream(context.Context, *ollama.ChatRequest) (io.ReadCloser, error) {
	return s.body, nil
}

// recordSink collects streamed records.
type recordSink struct {
	lines   []string
	failAt  int // 1-based record that fails; 0 never
	written int
}

func (s *recordSink) WriteRecord(rec json.RawMessage) error {
	s.written++
	if s.written == s.failAt {
		return errors.New("client went away")
	}
	s.lines = append(s.lines, string(rec))
	return nil
}

// toolCallLog records dispatched tool calls.
type toolCallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *toolCallLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *toolCallLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// weatherRegistry registers a "weather" provider with get_weather and
// get_time tools, and a "files" provider whose read tool always fails.
func weatherRegistry(t *testing.T, log *toolCallLog) *toolreg.Registry {
	t.Helper()
	reg := toolreg.NewRegistry()

	weather := toolreg.InvokerFunc(func(_ context.Context, name string, args map[string]any) (string, error) {
		city, _ := args["city"].(string)
		log.add(name + "(" + city + ")")
		switch name {
		case "get_weather":
			return "Sunny, 22°C in " + city, nil
		case "get_time":
			return "14:00 in " + city, nil
		}
		return "", fmt.Errorf("no such tool %s", name)
	})
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
		"required":   []any{"city"},
	}
	require.NoError(t, reg.Register("weather", weather, []toolreg.ToolInfo{
		{Name: "get_weather", Description: "Current weather for a city", Parameters: params},
		{Name: "get_time", Description: "Local time for a city", Parameters: params},
	}))

	files := toolreg.InvokerFunc(func(_ context.Context, name string, _ map[string]any) (string, error) {
		log.add(name)
		return "", errors.New("permission denied")
	})
	require.NoError(t, reg.Register("files", files, []toolreg.ToolInfo{{Name: "read", Description: "Read a file"}}))
	return reg
}

func userRequest(content string) *ollama.ChatRequest {
	return &ollama.ChatRequest{
		Model:    "qwen3",
		Messages: []ollama.Message{{Role: ollama.RoleUser, Content: content}},
	}
}
