// ABOUTME: Reverse proxy for every path the gateway does not answer itself.
// ABOUTME: Preserves method, URL, and body; surfaces forward failures as 500 JSON.

package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"

	"github.com/2389/trestle-gateway/internal/upstream"
)

// newProxy builds the reverse proxy that forwards unhandled requests to
// Upstream, keeping path, query, and body intact.
func newProxy(client *upstream.Client, logger *slog.Logger) *httputil.ReverseProxy {
	host := client.Host()
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "http"
			req.URL.Host = host
			req.Host = host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("forwarding to upstream failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "upstream unreachable: " + err.Error(),
			})
		},
	}
}
