package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/anatolykoptev/mcpbridge/internal/bridge"
	"github.com/anatolykoptev/mcpbridge/internal/errs"
	"github.com/anatolykoptev/mcpbridge/internal/ollama"
)

// maxRequestBody caps an inbound chat request; images are sent inline.
const maxRequestBody = 64 << 20

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := bridge.Logger(ctx)

	var req ollama.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat request: "+err.Error())
		return
	}
	log = log.With(slog.String("model", req.Model), slog.Bool("stream", req.IsStream()))
	ctx = bridge.WithLogger(ctx, log)

	if req.IsStream() {
		s.streamChat(ctx, w, &req)
		return
	}

	raw, err := s.deps.Chat.Chat(ctx, &req)
	if err != nil {
		status, msg := errorStatus(err)
		log.Error("chat failed", slog.Int("status", status), slog.Any("error", err))
		writeError(w, status, msg)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, req *ollama.ChatRequest) {
	log := bridge.Logger(ctx)
	nw := &ndjsonWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		nw.flusher = f
	}

	err := s.deps.Chat.ChatStream(ctx, req, nw)
	switch {
	case err == nil:
		return
	case ctx.Err() != nil:
		log.Info("client went away during stream", slog.Any("error", err))
		return
	case !nw.started:
		status, msg := errorStatus(err)
		log.Error("chat stream failed", slog.Int("status", status), slog.Any("error", err))
		writeError(w, status, msg)
	default:
		_, msg := errorStatus(err)
		log.Error("chat stream failed mid-stream", slog.Any("error", err))
		data, _ := json.Marshal(map[string]string{"error": msg})
		_ = nw.WriteRecord(data)
	}
}

// ndjsonWriter writes one record per line and flushes after each.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (n *ndjsonWriter) WriteRecord(rec json.RawMessage) error {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	buf := make([]byte, 0, len(rec)+1)
	buf = append(buf, rec...)
	buf = append(buf, '\n')
	if _, err := n.w.Write(buf); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}

// errorStatus maps a chat failure to a response status and message.
func errorStatus(err error) (int, string) {
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return se.StatusCode, se.Message
	}
	switch errs.KindOf(err) {
	case errs.KindTransport, errs.KindConnection:
		return http.StatusServiceUnavailable, "could not connect to backend: " + err.Error()
	case errs.KindProtocol:
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, "chat failed: " + err.Error()
}
