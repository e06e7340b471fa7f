// ABOUTME: Thin typed client for the upstream model server.
// ABOUTME: Issues HTTP calls with the modeluri query convention and dials WebSockets.

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/trestle-gateway/internal/config"
	"github.com/2389/trestle-gateway/internal/model"
)

// Client issues HTTP requests and opens WebSockets against the upstream model
// server. It interprets nothing beyond the {data: ...} response wrapper.
type Client struct {
	base   *url.URL
	httpc  *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
}

// Response is the outcome of an HTTP exchange with Upstream. Status and body
// are preserved verbatim so callers can re-surface upstream failures.
type Response struct {
	StatusCode int
	Body       []byte
}

// dataWrapper is the {data: ...} envelope upstream wraps payloads in.
type dataWrapper struct {
	Data json.RawMessage `json:"data"`
}

// New creates a client for the configured upstream endpoint.
func New(cfg config.UpstreamConfig, logger *slog.Logger) (*Client, error) {
	basePath := strings.Trim(cfg.BasePath, "/")
	raw := fmt.Sprintf("http://%s:%d/%s/v%d", cfg.Hostname, cfg.Port, basePath, cfg.APIVersion)
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("building upstream base URL: %w", err)
	}
	return &Client{
		base:   base,
		httpc:  &http.Client{Timeout: 60 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

// BaseURL returns the upstream API base, e.g. "http://localhost:8081/api/v2".
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Host returns the upstream host:port.
func (c *Client) Host() string {
	return c.base.Host
}

// URL builds an absolute upstream URL for an API-relative path such as
// "/models", attaching the modeluri query parameter when uri is non-empty.
func (c *Client) URL(path string, uri model.ModelURI) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	if uri != "" {
		q := u.Query()
		q.Set("modeluri", uri.String())
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Get issues a GET for the given API path.
func (c *Client) Get(ctx context.Context, path string, uri model.ModelURI) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, uri, nil)
}

// Post issues a POST with a JSON body for the given API path.
func (c *Client) Post(ctx context.Context, path string, uri model.ModelURI, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, uri, body)
}

// Put issues a PUT with a JSON body for the given API path.
func (c *Client) Put(ctx context.Context, path string, uri model.ModelURI, body any) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, uri, body)
}

// Delete issues a DELETE for the given API path.
func (c *Client) Delete(ctx context.Context, path string, uri model.ModelURI) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, uri, nil)
}

func (c *Client) do(ctx context.Context, method, path string, uri model.ModelURI, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, uri), reader)
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// CreateTransaction asks Upstream to open a transactional session on the model
// and returns the transaction URI to connect the WebSocket to.
func (c *Client) CreateTransaction(ctx context.Context, uri model.ModelURI, clientID string) (string, error) {
	resp, err := c.Post(ctx, "/transaction", uri, map[string]string{"data": clientID})
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upstream transaction open failed: status %d: %s", resp.StatusCode, resp.Body)
	}

	var wrapper dataWrapper
	if err := json.Unmarshal(resp.Body, &wrapper); err != nil {
		return "", fmt.Errorf("decoding transaction response: %w", err)
	}
	var payload struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(wrapper.Data, &payload); err != nil {
		return "", fmt.Errorf("decoding transaction URI: %w", err)
	}
	if payload.URI == "" {
		return "", fmt.Errorf("upstream returned empty transaction URI")
	}
	return payload.URI, nil
}

// WebSocketURL translates an upstream URI or API-relative path into the ws://
// form used for dialing. Absolute http(s) URLs keep their host; relative paths
// resolve against the upstream base.
func (c *Client) WebSocketURL(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		u2 := *c.base
		u2.Path = strings.TrimSuffix(u2.Path, "/") + "/" + strings.TrimPrefix(target, "/")
		u = &u2
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// BridgeURL maps an incoming request URI (path plus query, as received by
// the gateway) onto the upstream host for WebSocket bridging.
func (c *Client) BridgeURL(requestURI string) string {
	u := *c.base
	if parsed, err := url.ParseRequestURI(requestURI); err == nil {
		u.Path = parsed.Path
		u.RawQuery = parsed.RawQuery
	} else {
		u.Path = requestURI
		u.RawQuery = ""
	}
	u.Scheme = "ws"
	return u.String()
}

// DialWebSocket opens a WebSocket to the given upstream target, which may be
// an absolute URI from Upstream or an API-relative path.
func (c *Client) DialWebSocket(ctx context.Context, target string) (*websocket.Conn, error) {
	wsURL := c.WebSocketURL(target)
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("dialing upstream websocket %s (status %d): %w", wsURL, status, err)
	}
	c.logger.Debug("upstream websocket open", "url", wsURL)
	return conn, nil
}
