package ollama

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	StatusCode int
	Message    string
	Raw        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama returned %d: %s", e.StatusCode, e.Message)
}

// IsClientError returns true for 4xx replies (bad model name, malformed request).
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError returns true for 5xx replies.
func (e *StatusError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// parseStatusError turns a non-2xx body into a StatusError.
// Ollama reports failures as {"error": "..."}.
func parseStatusError(statusCode int, body []byte) *StatusError {
	se := &StatusError{
		StatusCode: statusCode,
		Raw:        string(body),
	}

	var ollamaErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &ollamaErr) == nil && ollamaErr.Error != "" {
		se.Message = ollamaErr.Error
		return se
	}

	s := strings.TrimSpace(string(body))
	if idx := strings.IndexByte(s, '\n'); idx > 0 {
		s = s[:idx]
	}
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	if s == "" {
		s = http.StatusText(statusCode)
	}
	se.Message = s
	return se
}
