// ABOUTME: Thread-safe registry for plug-in routers contributed to the gateway.
// ABOUTME: Manages router registration, middleware chains, and backstop eligibility.

package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// ErrRouterAlreadyRegistered indicates a router with the same ID is already
// registered.
var ErrRouterAlreadyRegistered = errors.New("router already registered")

// ErrNilRegisterFunc indicates a router contribution without a Register
// function.
var ErrNilRegisterFunc = errors.New("router has no register function")

// ForwardPolicy controls whether a router's routes are answered locally or
// forwarded to Upstream.
type ForwardPolicy int

const (
	// ForwardDefault serves routes locally unless Upstream is known to serve
	// the same path, in which case Upstream wins.
	ForwardDefault ForwardPolicy = iota

	// ForwardLocal serves every route locally, shadowing Upstream even on
	// paths it serves.
	ForwardLocal

	// ForwardUpstream forwards every route to Upstream; requests on these
	// routes reach neither the contributed handlers nor this router's
	// middlewares.
	ForwardUpstream
)

// Router is one plug-in's contribution: an isolated set of routes registered
// under the gateway's API prefix, an optional ID, a forwarding policy, and
// middlewares wrapping just this router.
type Router struct {
	ID          string
	Policy      ForwardPolicy
	Middlewares []mux.MiddlewareFunc

	// Register contributes the plug-in's handlers. The passed router is
	// rooted at the gateway's /api/v<version> prefix.
	Register func(r *mux.Router)
}

// Registry collects plug-in routers before the gateway mounts them.
type Registry struct {
	mu      sync.RWMutex
	routers []*Router
	ids     map[string]bool
	global  []mux.MiddlewareFunc
	logger  *slog.Logger
}

// NewRegistry creates an empty plug-in router registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		ids:    make(map[string]bool),
		logger: logger,
	}
}

// Add registers a plug-in router. Routers with an empty ID get a positional
// one; duplicate IDs are rejected.
func (reg *Registry) Add(router *Router) error {
	if router == nil || router.Register == nil {
		return ErrNilRegisterFunc
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if router.ID == "" {
		router.ID = fmt.Sprintf("router-%d", len(reg.routers)+1)
	}
	if reg.ids[router.ID] {
		return fmt.Errorf("%w: %s", ErrRouterAlreadyRegistered, router.ID)
	}
	reg.ids[router.ID] = true
	reg.routers = append(reg.routers, router)

	reg.logger.Info("plug-in router registered",
		"router_id", router.ID,
		"policy", router.Policy,
		"total_routers", len(reg.routers),
	)
	return nil
}

// Use appends middlewares that wrap the whole gateway app, around every
// dispatch decision including forwarding.
func (reg *Registry) Use(middlewares ...mux.MiddlewareFunc) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.global = append(reg.global, middlewares...)
}

// GlobalMiddlewares returns the app-level middleware chain in registration
// order.
func (reg *Registry) GlobalMiddlewares() []mux.MiddlewareFunc {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return append([]mux.MiddlewareFunc(nil), reg.global...)
}

// Mount attaches every registered router under apiPrefix on root and returns
// the backstop set: the full path templates that must be answered locally and
// never forwarded to Upstream. standard reports whether Upstream serves a
// path (given relative to the prefix).
func (reg *Registry) Mount(root *mux.Router, apiPrefix string, standard func(string) bool) (map[string]bool, error) {
	reg.mu.RLock()
	routers := append([]*Router(nil), reg.routers...)
	reg.mu.RUnlock()

	backstop := make(map[string]bool)
	for _, router := range routers {
		sub := root.PathPrefix(apiPrefix).Subrouter()
		sub.Use(router.Middlewares...)
		router.Register(sub)

		err := sub.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
			template, err := route.GetPathTemplate()
			if err != nil {
				// Routes without a path (e.g. pure matchers) cannot be
				// backstopped.
				return nil
			}
			relative := strings.TrimPrefix(template, apiPrefix)
			if reg.backstopped(router.Policy, relative, standard) {
				backstop[template] = true
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking routes of %s: %w", router.ID, err)
		}

		reg.logger.Info("plug-in router mounted", "router_id", router.ID)
	}
	return backstop, nil
}

// backstopped decides whether a route is answered locally. Paths Upstream
// serves stay with Upstream unless the router opted into local handling;
// everything else is local.
func (reg *Registry) backstopped(policy ForwardPolicy, relative string, standard func(string) bool) bool {
	switch policy {
	case ForwardLocal:
		return true
	case ForwardUpstream:
		return false
	default:
		return !standard(relative)
	}
}
