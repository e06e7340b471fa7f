// ABOUTME: Tests for the plug-in router registry: registration, ID collisions,
// ABOUTME: and backstop computation per forwarding policy.

package plugin

import (
	"log/slog"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(w http.ResponseWriter, r *http.Request) {}

func isStandard(rel string) bool {
	return rel == "/models" || rel == "/transaction"
}

func TestRegistryAdd(t *testing.T) {
	t.Run("assigns positional ID when empty", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		router := &Router{Register: func(r *mux.Router) {}}
		require.NoError(t, reg.Add(router))
		assert.Equal(t, "router-1", router.ID)
	})

	t.Run("rejects duplicate IDs", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		require.NoError(t, reg.Add(&Router{ID: "forms", Register: func(r *mux.Router) {}}))
		err := reg.Add(&Router{ID: "forms", Register: func(r *mux.Router) {}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRouterAlreadyRegistered)
	})

	t.Run("rejects nil register func", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		assert.ErrorIs(t, reg.Add(&Router{ID: "broken"}), ErrNilRegisterFunc)
		assert.ErrorIs(t, reg.Add(nil), ErrNilRegisterFunc)
	})
}

func TestMountBackstop(t *testing.T) {
	t.Run("default policy backstops only non-standard routes", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		require.NoError(t, reg.Add(&Router{
			ID: "forms",
			Register: func(r *mux.Router) {
				r.HandleFunc("/foo", noopHandler).Methods(http.MethodGet)
				r.HandleFunc("/models", noopHandler).Methods(http.MethodGet)
			},
		}))

		root := mux.NewRouter()
		backstop, err := reg.Mount(root, "/api/v2", isStandard)
		require.NoError(t, err)

		assert.True(t, backstop["/api/v2/foo"], "non-standard route is backstopped")
		assert.False(t, backstop["/api/v2/models"], "standard route stays with Upstream")
	})

	t.Run("local policy backstops standard routes too", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		require.NoError(t, reg.Add(&Router{
			ID:     "override",
			Policy: ForwardLocal,
			Register: func(r *mux.Router) {
				r.HandleFunc("/models", noopHandler)
			},
		}))

		root := mux.NewRouter()
		backstop, err := reg.Mount(root, "/api/v2", isStandard)
		require.NoError(t, err)
		assert.True(t, backstop["/api/v2/models"])
	})

	t.Run("upstream policy backstops nothing", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		require.NoError(t, reg.Add(&Router{
			ID:     "observer",
			Policy: ForwardUpstream,
			Register: func(r *mux.Router) {
				r.HandleFunc("/foo", noopHandler)
				r.HandleFunc("/models", noopHandler)
			},
		}))

		root := mux.NewRouter()
		backstop, err := reg.Mount(root, "/api/v2", isStandard)
		require.NoError(t, err)
		assert.Empty(t, backstop)
	})

	t.Run("routers are isolated from each other", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		require.NoError(t, reg.Add(&Router{
			ID:       "a",
			Register: func(r *mux.Router) { r.HandleFunc("/a", noopHandler) },
		}))
		require.NoError(t, reg.Add(&Router{
			ID:     "b",
			Policy: ForwardUpstream,
			Register: func(r *mux.Router) {
				r.HandleFunc("/b", noopHandler)
			},
		}))

		root := mux.NewRouter()
		backstop, err := reg.Mount(root, "/api/v2", isStandard)
		require.NoError(t, err)
		assert.True(t, backstop["/api/v2/a"])
		assert.False(t, backstop["/api/v2/b"], "policy of one router must not leak to another")
	})
}

func TestGlobalMiddlewares(t *testing.T) {
	reg := NewRegistry(slog.Default())
	mw := func(next http.Handler) http.Handler { return next }
	reg.Use(mw, mw)
	assert.Len(t, reg.GlobalMiddlewares(), 2)
}
