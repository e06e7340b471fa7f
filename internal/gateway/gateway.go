// ABOUTME: Gateway orchestrator: the HTTP/WebSocket front door of the system.
// ABOUTME: Hosts plug-in routers, keeps the backstop set, and proxies the rest to Upstream.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/2389/trestle-gateway/internal/config"
	"github.com/2389/trestle-gateway/internal/plugin"
	"github.com/2389/trestle-gateway/internal/transaction"
	"github.com/2389/trestle-gateway/internal/upstream"
)

// Gateway is the intermediary server in front of Upstream. Requests on paths
// it answers itself (health, metrics, and the plug-in backstop set) are served
// locally; WebSocket upgrades are bridged; everything else is reverse proxied.
type Gateway struct {
	config     *config.Config
	upstream   *upstream.Client
	txManager  *transaction.Manager
	plugins    *plugin.Registry
	proxy      *httputil.ReverseProxy
	upgrader   websocket.Upgrader
	metrics    *metrics
	httpServer *http.Server
	logger     *slog.Logger

	buildOnce sync.Once
	buildErr  error
	router    *mux.Router
	local     map[string]bool
	handler   http.Handler
}

// New creates a gateway for the given configuration. Plug-in routers are
// registered afterwards, before Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	client, err := upstream.New(cfg.Upstream, logger.With("component", "upstream"))
	if err != nil {
		return nil, fmt.Errorf("creating upstream client: %w", err)
	}

	commands := transaction.NewCommandRegistry(logger.With("component", "command-registry"))
	triggers := transaction.NewTriggerRegistry(logger.With("component", "trigger-registry"))
	txManager := transaction.NewManager(client, commands, triggers, cfg.Transactions, logger.With("component", "transactions"))

	g := &Gateway{
		config:    cfg,
		upstream:  client,
		txManager: txManager,
		plugins:   plugin.NewRegistry(logger.With("component", "plugin-registry")),
		logger:    logger.With("component", "gateway"),
	}
	g.proxy = newProxy(client, g.logger)
	// Clients of the bridged endpoints are arbitrary editors; origin policy
	// is Upstream's concern.
	g.upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	g.metrics = newMetrics(txManager.OpenCount)
	txManager.SetStats(g.metrics)
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Transactions returns the transaction manager, for plug-ins serving
// transactional routes.
func (g *Gateway) Transactions() *transaction.Manager {
	return g.txManager
}

// RegisterRouter adds a plug-in router. Must happen before the first request
// is served.
func (g *Gateway) RegisterRouter(router *plugin.Router) error {
	return g.plugins.Add(router)
}

// Use appends app-level middlewares wrapping every dispatch decision.
func (g *Gateway) Use(middlewares ...mux.MiddlewareFunc) {
	g.plugins.Use(middlewares...)
}

// apiPrefix returns the versioned API prefix shared with Upstream.
func (g *Gateway) apiPrefix() string {
	return fmt.Sprintf("/api/v%d", g.config.Upstream.APIVersion)
}

// Handler returns the gateway's root handler, building the route table on
// first use.
func (g *Gateway) Handler() (http.Handler, error) {
	g.buildOnce.Do(g.buildRoutes)
	return g.handler, g.buildErr
}

// buildRoutes mounts plug-in routers, computes the backstop set, registers
// the gateway's own endpoints, and wraps everything in the global middleware
// chain.
func (g *Gateway) buildRoutes() {
	g.router = mux.NewRouter()

	backstop, err := g.plugins.Mount(g.router, g.apiPrefix(), IsStandardRoute)
	if err != nil {
		g.buildErr = fmt.Errorf("mounting plug-in routers: %w", err)
		return
	}

	g.local = backstop
	for _, own := range g.registerOwnRoutes() {
		g.local[own] = true
	}

	var handler http.Handler = http.HandlerFunc(g.dispatch)
	middlewares := g.plugins.GlobalMiddlewares()
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	g.handler = handler
}

// registerOwnRoutes installs the gateway's own endpoints and returns their
// path templates. These are always local, never forwarded.
func (g *Gateway) registerOwnRoutes() []string {
	own := []string{"/health", "/health/ready"}
	g.router.HandleFunc("/health", g.handleHealth)
	g.router.HandleFunc("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		g.router.Handle(g.config.Metrics.Path, g.metrics.handler())
		own = append(own, g.config.Metrics.Path)
	}
	return own
}

// dispatch routes one request: WebSocket upgrades are bridged unless a plug-in
// claimed the path, backstopped paths are answered locally, and the rest is
// forwarded to Upstream.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	local := g.matchLocal(r)

	if websocket.IsWebSocketUpgrade(r) && !local {
		g.handleBridge(w, r)
		return
	}

	if local {
		g.metrics.requestBackstopped()
		g.router.ServeHTTP(w, r)
		return
	}

	g.metrics.requestForwarded()
	g.proxy.ServeHTTP(w, r)
}

// matchLocal reports whether the request resolves to a locally answered
// route.
func (g *Gateway) matchLocal(r *http.Request) bool {
	var match mux.RouteMatch
	if !g.router.Match(r, &match) || match.MatchErr != nil {
		return false
	}
	template, err := match.Route.GetPathTemplate()
	if err != nil {
		return false
	}
	return g.local[template]
}

// Run starts the HTTP listener and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	handler, err := g.Handler()
	if err != nil {
		return err
	}
	g.httpServer.Handler = handler

	listener, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", listener.Addr().String(), "upstream", g.upstream.BaseURL())
		if err := g.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case serveErr = <-errCh:
		g.logger.Error("HTTP server failed", "error", serveErr)
	}

	// The run context is already done at this point, so the drain gets its
	// own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// Shutdown drains the HTTP server and rolls back every open transaction.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "open_transactions", g.txManager.OpenCount())

	g.txManager.CloseAll(ctx, "gateway shutting down")

	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when Upstream answers its ping route.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp, err := g.upstream.Get(r.Context(), "/server/ping", "")
	if err != nil || resp.StatusCode != http.StatusOK {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (upstream %s)", g.upstream.Host())
}
