package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anatolykoptev/mcpbridge/internal/errs"
)

const (
	chatPath = "/api/chat"
	// tagsPath is the cheapest endpoint that proves the backend is serving.
	tagsPath = "/api/tags"
	// maxErrorBody caps how much of a failed reply is read.
	maxErrorBody = 64 << 10
)

// Client talks to an Ollama-compatible backend.
type Client struct {
	baseURL       string
	client        *http.Client
	healthTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithHealthTimeout bounds Ping.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) { c.healthTimeout = d }
}

// NewClient creates a backend client for baseURL, e.g. http://localhost:11434.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        newHTTPClient(),
		healthTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Reply is a complete buffered chat response.
// Raw is the body exactly as the backend sent it.
type Reply struct {
	Raw      json.RawMessage
	Response ChatResponse
}

// Chat sends a non-streaming chat request and waits for the whole reply.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*Reply, error) {
	out := *req
	stream := false
	out.Stream = &stream

	resp, err := c.post(ctx, &out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindTransport, "read chat response", err)
	}

	var decoded ChatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, errs.New(errs.KindProtocol, "decode chat response", err)
	}
	return &Reply{Raw: bytes.TrimSpace(data), Response: decoded}, nil
}

// ChatStream sends a streaming chat request and returns the NDJSON body.
// The caller must close it; closing abandons the rest of the stream.
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	out := *req
	stream := true
	out.Stream = &stream

	resp, err := c.post(ctx, &out)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Ping checks that the backend answers GET /api/tags with 200.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tagsPath, nil)
	if err != nil {
		return errs.New(errs.KindConnection, "ping", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errs.New(errs.KindConnection, "ping "+c.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.KindConnection, "ping "+c.baseURL, "status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, req *ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errs.New(errs.KindTransport, "POST "+chatPath, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errs.New(errs.KindTransport, "POST "+chatPath, parseStatusError(resp.StatusCode, body))
	}
	return resp, nil
}
