// ABOUTME: Tests for the upstream client covering URL building, the modeluri
// ABOUTME: query convention, transaction creation, and WebSocket URL translation.

package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/trestle-gateway/internal/config"
	"github.com/2389/trestle-gateway/internal/model"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	c, err := New(config.UpstreamConfig{
		Hostname:   u.Hostname(),
		Port:       port,
		BasePath:   "api",
		APIVersion: 2,
	}, slog.Default())
	require.NoError(t, err)
	return c
}

func TestURL(t *testing.T) {
	cfg := config.UpstreamConfig{Hostname: "models.internal", Port: 8081, BasePath: "api", APIVersion: 2}
	c, err := New(cfg, slog.Default())
	require.NoError(t, err)

	t.Run("base", func(t *testing.T) {
		assert.Equal(t, "http://models.internal:8081/api/v2", c.BaseURL())
	})

	t.Run("path without model uri", func(t *testing.T) {
		assert.Equal(t, "http://models.internal:8081/api/v2/models", c.URL("/models", ""))
	})

	t.Run("path with model uri", func(t *testing.T) {
		got := c.URL("models", model.NewModelURI("file:/m1"))
		assert.Equal(t, "http://models.internal:8081/api/v2/models?modeluri=file%3A%2Fm1", got)
	})
}

func TestCreateTransaction(t *testing.T) {
	t.Run("returns transaction URI", func(t *testing.T) {
		var gotPath, gotQuery, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.Query().Get("modeluri")
			raw, _ := io.ReadAll(r.Body)
			gotBody = string(raw)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data": {"uri": "http://upstream/api/v2/transaction/abc"}}`))
		}))
		defer srv.Close()

		c := testClient(t, srv)
		uri, err := c.CreateTransaction(context.Background(), model.NewModelURI("file:/m1"), "client-1")
		require.NoError(t, err)
		assert.Equal(t, "http://upstream/api/v2/transaction/abc", uri)
		assert.Equal(t, "/api/v2/transaction", gotPath)
		assert.Equal(t, "file:/m1", gotQuery)
		assert.Contains(t, gotBody, `"client-1"`)
	})

	t.Run("surfaces upstream failure with status and body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such model", http.StatusNotFound)
		}))
		defer srv.Close()

		c := testClient(t, srv)
		_, err := c.CreateTransaction(context.Background(), model.NewModelURI("file:/missing"), "client-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
		assert.Contains(t, err.Error(), "no such model")
	})

	t.Run("rejects empty transaction URI", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": {}}`))
		}))
		defer srv.Close()

		c := testClient(t, srv)
		_, err := c.CreateTransaction(context.Background(), model.NewModelURI("file:/m1"), "client-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty transaction URI")
	})
}

func TestWebSocketURL(t *testing.T) {
	cfg := config.UpstreamConfig{Hostname: "models.internal", Port: 8081, BasePath: "api", APIVersion: 2}
	c, err := New(cfg, slog.Default())
	require.NoError(t, err)

	t.Run("absolute http URL", func(t *testing.T) {
		got := c.WebSocketURL("http://other:9000/api/v2/transaction/abc")
		assert.Equal(t, "ws://other:9000/api/v2/transaction/abc", got)
	})

	t.Run("absolute https URL", func(t *testing.T) {
		got := c.WebSocketURL("https://other:9000/api/v2/subscribe")
		assert.Equal(t, "wss://other:9000/api/v2/subscribe", got)
	})

	t.Run("relative path resolves against base", func(t *testing.T) {
		got := c.WebSocketURL("/subscribe")
		assert.Equal(t, "ws://models.internal:8081/api/v2/subscribe", got)
	})
}

func TestVerbs(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_, _ = w.Write([]byte(`{"data": "ok"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	ctx := context.Background()
	uri := model.NewModelURI("file:/m1")

	for _, tc := range []struct {
		method string
		call   func() (*Response, error)
	}{
		{http.MethodGet, func() (*Response, error) { return c.Get(ctx, "/models", uri) }},
		{http.MethodPost, func() (*Response, error) { return c.Post(ctx, "/models", uri, map[string]string{"data": "x"}) }},
		{http.MethodPut, func() (*Response, error) { return c.Put(ctx, "/models", uri, map[string]string{"data": "x"}) }},
		{http.MethodDelete, func() (*Response, error) { return c.Delete(ctx, "/models", uri) }},
	} {
		resp, err := tc.call()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, tc.method, gotMethod)
		assert.True(t, strings.Contains(string(resp.Body), "ok"))
	}
}
