// ABOUTME: TransactionManager: opens transactions via Upstream and tracks the
// ABOUTME: single root transaction per model, cleaning up on socket close.

package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/trestle-gateway/internal/config"
	"github.com/2389/trestle-gateway/internal/model"
	"github.com/2389/trestle-gateway/internal/upstream"
)

// Stats receives transaction lifecycle notifications, e.g. for metrics.
// Implementations must be safe for concurrent use.
type Stats interface {
	TransactionCommitted()
	TransactionRolledBack()
}

// Manager creates and tracks transactions. At most one root transaction
// exists per normalized model URI; a second open on the same model yields a
// nested child of the existing one.
type Manager struct {
	client   *upstream.Client
	commands *CommandRegistry
	triggers *TriggerRegistry
	cfg      config.TransactionsConfig
	stats    Stats
	logger   *slog.Logger

	mu   sync.Mutex
	open map[model.ModelURI]*Context
}

// NewManager creates a transaction manager backed by the given upstream
// client and provider registries.
func NewManager(client *upstream.Client, commands *CommandRegistry, triggers *TriggerRegistry, cfg config.TransactionsConfig, logger *slog.Logger) *Manager {
	return &Manager{
		client:   client,
		commands: commands,
		triggers: triggers,
		cfg:      cfg,
		logger:   logger,
		open:     make(map[model.ModelURI]*Context),
	}
}

// SetStats installs a lifecycle observer. Call before the first
// OpenTransaction; a nil Stats disables notifications.
func (m *Manager) SetStats(stats Stats) {
	m.stats = stats
}

// Commands returns the command provider registry, for plug-ins to register
// into.
func (m *Manager) Commands() *CommandRegistry {
	return m.commands
}

// Triggers returns the trigger provider registry, for plug-ins to register
// into.
func (m *Manager) Triggers() *TriggerRegistry {
	return m.triggers
}

// OpenTransaction opens a transactional session on the model. If a root
// session already exists for the normalized URI the returned transaction is a
// nested child of it; otherwise a new session is negotiated with Upstream.
func (m *Manager) OpenTransaction(ctx context.Context, rawURI model.ModelURI) (Transaction, error) {
	uri := model.NewModelURI(rawURI.String())

	m.mu.Lock()
	if existing, ok := m.open[uri]; ok {
		m.mu.Unlock()
		if err := existing.waitOpen(ctx); err != nil {
			return nil, fmt.Errorf("joining transaction on %s: %w", uri, err)
		}
		return existing.OpenTransaction(), nil
	}

	// Reserve the slot before releasing the lock so a concurrent open on the
	// same model nests instead of negotiating a second upstream session.
	clientID := uuid.NewString()
	tc := newContext(uri, clientID, m.client, m.commands, m.triggers,
		m.cfg.ConnectTimeout, m.cfg.ReplyTimeout, m.cfg.MaxTriggerRounds,
		m.stats, m.logger)
	m.open[uri] = tc
	m.mu.Unlock()

	transactionURI, err := m.client.CreateTransaction(ctx, uri, clientID)
	if err != nil {
		m.removeIfCurrent(uri, tc)
		tc.failOpen()
		return nil, fmt.Errorf("opening transaction on %s: %w", uri, err)
	}

	if err := tc.open(ctx, transactionURI, func() { m.removeIfCurrent(uri, tc) }); err != nil {
		m.removeIfCurrent(uri, tc)
		return nil, err
	}

	m.logger.Info("transaction opened", "model_uri", uri.String(), "uuid", tc.UUID())
	return tc, nil
}

// removeIfCurrent drops the map entry only while it still points at this
// context, so a replacement session opened in the meantime is not clobbered.
func (m *Manager) removeIfCurrent(uri model.ModelURI, tc *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open[uri] == tc {
		delete(m.open, uri)
	}
}

// OpenCount returns the number of live root transactions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// CloseAll rolls back every open transaction, best-effort. Used on shutdown.
func (m *Manager) CloseAll(ctx context.Context, reason string) {
	m.mu.Lock()
	contexts := make([]*Context, 0, len(m.open))
	for _, tc := range m.open {
		contexts = append(contexts, tc)
	}
	m.mu.Unlock()

	for _, tc := range contexts {
		tc.Rollback(ctx, reason)
	}
}
