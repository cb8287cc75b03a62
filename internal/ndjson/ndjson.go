// Package ndjson reassembles newline-delimited JSON records from a byte
// stream that arrives in arbitrary fragments.
package ndjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
)

// readSize is the fragment size requested from the upstream reader.
const readSize = 32 << 10

// Reassembler buffers fragments and cuts them into complete records.
// The zero value is ready to use. It is not safe for concurrent use.
type Reassembler struct {
	buf     []byte
	skipped int
}

// Feed appends a fragment and returns every record completed by it, in order.
// Empty lines are ignored; lines that are not a JSON object are dropped
// with a diagnostic.
func (r *Reassembler) Feed(chunk []byte) []json.RawMessage {
	r.buf = append(r.buf, chunk...)

	var out []json.RawMessage
	start := 0
	for {
		idx := bytes.IndexByte(r.buf[start:], '\n')
		if idx < 0 {
			break
		}
		if rec, ok := r.parse(r.buf[start : start+idx]); ok {
			out = append(out, rec)
		}
		start += idx + 1
	}
	if start > 0 {
		n := copy(r.buf, r.buf[start:])
		r.buf = r.buf[:n]
	}
	return out
}

// Flush parses whatever remains in the buffer as a final record.
// Call it once the upstream source is exhausted.
func (r *Reassembler) Flush() []json.RawMessage {
	rest := r.buf
	r.buf = nil
	if rec, ok := r.parse(rest); ok {
		return []json.RawMessage{rec}
	}
	return nil
}

// Skipped returns how many malformed lines were dropped so far.
func (r *Reassembler) Skipped() int { return r.skipped }

// Buffered returns the number of bytes waiting for a newline.
func (r *Reassembler) Buffered() int { return len(r.buf) }

func (r *Reassembler) parse(line []byte) (json.RawMessage, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	if line[0] != '{' || !json.Valid(line) {
		r.skipped++
		slog.Debug("skipping malformed ndjson line",
			slog.Int("len", len(line)),
			slog.String("head", head(line)))
		return nil, false
	}
	rec := make(json.RawMessage, len(line))
	copy(rec, line)
	return rec, true
}

// Records returns a lazy sequence of the JSON records read from rd.
//
// The sequence ends when rd reports io.EOF, after any unterminated trailing
// record has been yielded. A read failure or context cancellation is yielded
// once as a non-nil error and ends the sequence. Malformed lines never end it.
// The sequence consumes rd and cannot be restarted.
func Records(ctx context.Context, rd io.Reader) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		var ra Reassembler
		buf := make([]byte, readSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			n, err := rd.Read(buf)
			if n > 0 {
				for _, rec := range ra.Feed(buf[:n]) {
					if !yield(rec, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				for _, rec := range ra.Flush() {
					if !yield(rec, nil) {
						return
					}
				}
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func head(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
