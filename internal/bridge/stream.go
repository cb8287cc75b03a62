package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anatolykoptev/mcpbridge/internal/errs"
	"github.com/anatolykoptev/mcpbridge/internal/ndjson"
	"github.com/anatolykoptev/mcpbridge/internal/ollama"
)

// ChatStream answers a streaming request. Every backend record is written to
// w as soon as it arrives. When a record carries tool calls, the rest of that
// backend stream is dropped, the tools run, and the follow-up stream is
// forwarded in turn.
func (o *Orchestrator) ChatStream(ctx context.Context, req *ollama.ChatRequest, w RecordWriter) error {
	conv := o.begin(ctx, req)
	err := o.chatStream(ctx, conv, w)
	o.metrics.ChatDone(modeStream, conv.rounds, err)
	return err
}

func (o *Orchestrator) chatStream(ctx context.Context, conv *conversation, w RecordWriter) error {
	for {
		conv.rounds++
		final := conv.rounds >= o.maxRounds

		assistant, calls, err := o.streamRound(ctx, conv, w, final)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return nil
		}
		if err := o.invoke(ctx, conv, assistant, calls); err != nil {
			return err
		}
	}
}

// streamRound forwards one backend stream. It returns the tool calls of the
// first record that carries them, together with the assistant text seen so
// far in the round. On the final round tool calls are forwarded but not
// acted on.
func (o *Orchestrator) streamRound(ctx context.Context, conv *conversation, w RecordWriter, final bool) (ollama.Message, []ollama.ToolCall, error) {
	start := time.Now()
	body, err := o.backend.ChatStream(ctx, conv.req)
	o.metrics.BackendRound(modeStream, time.Since(start))
	if err != nil {
		return ollama.Message{}, nil, err
	}
	defer body.Close()

	var content, thinking strings.Builder
	limitLogged := false

	for rec, err := range ndjson.Records(ctx, body) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ollama.Message{}, nil, ctxErr
			}
			return ollama.Message{}, nil, errs.New(errs.KindTransport, "read chat stream", err)
		}
		if err := w.WriteRecord(rec); err != nil {
			return ollama.Message{}, nil, err
		}

		var resp ollama.ChatResponse
		if err := json.Unmarshal(rec, &resp); err != nil {
			return ollama.Message{}, nil, errs.New(errs.KindProtocol, "decode chat stream record", err)
		}
		content.WriteString(resp.Message.Content)
		thinking.WriteString(resp.Message.Thinking)

		if calls := resp.ToolCalls(); len(calls) > 0 {
			if !final {
				msg := ollama.Message{Content: content.String(), Thinking: thinking.String()}
				return msg, calls, nil
			}
			if !limitLogged {
				o.roundLimit(conv, len(calls))
				limitLogged = true
			}
		}
		if resp.Done || resp.Error != "" {
			break
		}
	}
	return ollama.Message{}, nil, nil
}
