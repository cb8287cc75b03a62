package server

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/anatolykoptev/mcpbridge/internal/bridge"
)

// newProxy forwards requests unchanged to the backend. Responses are
// flushed as they arrive so streaming endpoints keep streaming.
func newProxy(target *url.URL) http.Handler {
	if target == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "no backend configured")
		})
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			bridge.Logger(r.Context()).Error("proxy request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			writeError(w, http.StatusServiceUnavailable, "could not connect to backend: "+err.Error())
		},
	}
}
