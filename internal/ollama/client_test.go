package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anatolykoptev/mcpbridge/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- request schema ---------------------------------------------------------

func TestChatRequest_PreservesUnknownFields(t *testing.T) {
	in := `{"model":"m","messages":[{"role":"user","content":"hi"}],"options":{"temperature":0.7},"think":true,"custom":{"a":1}}`

	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(in), &req))
	assert.Equal(t, "m", req.Model)
	assert.Nil(t, req.Stream)
	assert.True(t, req.IsStream())
	assert.JSONEq(t, `{"a":1}`, string(req.Extra["custom"]))

	out, err := json.Marshal(req)
	require.NoError(t, err)

	var round map[string]any
	require.NoError(t, json.Unmarshal(out, &round))
	assert.Equal(t, map[string]any{"a": float64(1)}, round["custom"])
	assert.Equal(t, true, round["think"])
	assert.NotContains(t, round, "tools")
	assert.NotContains(t, round, "stream")
}

func TestChatRequest_EmptyToolsOmitted(t *testing.T) {
	req := ChatRequest{Model: "m", Tools: []Tool{}}
	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(out), `"tools"`)
}

func TestChatRequest_CloneIsIndependent(t *testing.T) {
	req := &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "a"}}}
	c := req.Clone()
	c.Messages = append(c.Messages, Message{Role: RoleTool, Content: "b"})
	c.Messages[0].Content = "changed"

	assert.Len(t, req.Messages, 1)
	assert.Equal(t, "a", req.Messages[0].Content)
}

func TestArguments_DecodesObjectOrString(t *testing.T) {
	var a, b, c ToolCallFunction
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","arguments":{"city":"Paris"}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","arguments":"{\"city\":\"Paris\"}"}`), &b))
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x"}`), &c))

	assert.Equal(t, Arguments{"city": "Paris"}, a.Arguments)
	assert.Equal(t, Arguments{"city": "Paris"}, b.Arguments)
	assert.Nil(t, c.Arguments)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","arguments":{}}`, string(out))
}

// --- Chat ---------------------------------------------------------------------

func TestChat_ReturnsRawBodyAndForcesNonStreaming(t *testing.T) {
	const body = `{"model":"m","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"hello"},"done":true,"eval_count":7}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)

		var got map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, false, got["stream"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body+"\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	reply, err := c.Chat(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, body, string(reply.Raw))
	assert.Equal(t, "hello", reply.Response.Message.Content)
	assert.True(t, reply.Response.Done)
}

func TestChat_StatusErrorIsTransportKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"nope\" not found"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Chat(context.Background(), &ChatRequest{Model: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTransport)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, `model "nope" not found`, se.Message)
	assert.True(t, se.IsClientError())
	assert.False(t, se.IsServerError())
}

func TestChat_MalformedBodyIsProtocolKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Chat(context.Background(), &ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, errs.ErrProtocol)
}

func TestChat_UnreachableIsTransportKind(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Chat(context.Background(), &ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, errs.ErrTransport)
}

// --- ChatStream ---------------------------------------------------------------

func TestChatStream_ReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, true, got["stream"])
		_, _ = io.WriteString(w, "{\"done\":false}\n{\"done\":true}\n")
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL).ChatStream(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "{\"done\":false}\n{\"done\":true}\n", string(data))
}

// --- Ping -----------------------------------------------------------------------

func TestPing(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHealthTimeout(time.Second))
	assert.NoError(t, c.Ping(context.Background()))

	status.Store(http.StatusInternalServerError)
	assert.ErrorIs(t, c.Ping(context.Background()), errs.ErrConnection)
}

func TestPing_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, WithHealthTimeout(50*time.Millisecond))
	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, errs.ErrConnection)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
