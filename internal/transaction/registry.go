// ABOUTME: Thread-safe registries for command and trigger providers.
// ABOUTME: Command providers expand commands; trigger providers react to applied deltas.

package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/trestle-gateway/internal/model"
)

// Executor is the capability surface handed to command and trigger providers.
// Edits performed through it land in the frame of the transaction that invoked
// the provider.
type Executor interface {
	Execute(ctx context.Context, uri model.ModelURI, cmd model.Command) (model.ModelUpdateResult, error)
	ApplyPatch(ctx context.Context, patch []model.Operation) (model.ModelUpdateResult, error)
	OpenTransaction() Transaction
}

// Transaction is the full client-facing surface of a transactional session.
// Root transactions are obtained from the Manager; nested ones from
// OpenTransaction on an open transaction.
type Transaction interface {
	Executor

	// Edit dispatches a command or patch, whichever the payload carries.
	Edit(ctx context.Context, edit model.CommandOrPatch) (model.ModelUpdateResult, error)

	// Commit runs triggers to quiescence and terminates the session. On a
	// nested transaction it only folds the nested frame into its parent.
	Commit(ctx context.Context) (model.ModelUpdateResult, error)

	// Rollback abandons the session. Idempotent; always returns the closed
	// sentinel {success: false}.
	Rollback(ctx context.Context, reason string) model.ModelUpdateResult

	ModelURI() model.ModelURI
	UUID() string
	IsOpen() bool
}

// Func performs further edits on the given executor and reports whether they
// succeeded. A false return or an error abandons the enclosing frame and rolls
// the transaction back.
type Func func(ctx context.Context, tx Executor) (bool, error)

// Expansion is what a command provider yields for a command: either a
// substitute command/patch sent in the original's place, or a function run
// inside a nested frame. Exactly one of the fields is set.
type Expansion struct {
	Substitute *model.CommandOrPatch
	Run        Func
}

// CommandProvider maps a command to its expansion.
type CommandProvider func(uri model.ModelURI, cmd model.Command) Expansion

// CommandRegistry maps command types to providers. Reads vastly outnumber
// writes; lookups never block each other.
type CommandRegistry struct {
	mu        sync.RWMutex
	providers map[string]CommandProvider
	logger    *slog.Logger
}

// NewCommandRegistry creates an empty command provider registry.
func NewCommandRegistry(logger *slog.Logger) *CommandRegistry {
	return &CommandRegistry{
		providers: make(map[string]CommandProvider),
		logger:    logger,
	}
}

// Register binds a provider to a command type. The first registration for a
// type wins; later ones are rejected.
func (r *CommandRegistry) Register(commandType string, provider CommandProvider) error {
	if commandType == "" {
		return fmt.Errorf("command type must be non-empty")
	}
	if provider == nil {
		return fmt.Errorf("provider for %q must be non-nil", commandType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[commandType]; exists {
		return fmt.Errorf("%w: %s", ErrProviderCollision, commandType)
	}
	r.providers[commandType] = provider

	r.logger.Info("command provider registered", "command_type", commandType)
	return nil
}

// HasProvider reports whether a provider is registered for the command type.
func (r *CommandRegistry) HasProvider(commandType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[commandType]
	return exists
}

// Commands resolves the expansion for a command. The second return is false
// when no provider covers the command's type.
func (r *CommandRegistry) Commands(uri model.ModelURI, cmd model.Command) (Expansion, bool) {
	r.mu.RLock()
	provider, exists := r.providers[cmd.Type()]
	r.mu.RUnlock()

	if !exists {
		return Expansion{}, false
	}
	return provider(uri, cmd), true
}

// Triggers is what trigger providers yield for a just-applied delta: further
// patch operations, or a function run inside the commit loop. Empty means
// nothing further is required.
type Triggers struct {
	Patch []model.Operation
	Run   Func
}

// Empty reports whether the triggers require no further work.
func (t Triggers) Empty() bool {
	return t.Run == nil && len(t.Patch) == 0
}

// TriggerProvider inspects a delta and yields follow-up edits.
type TriggerProvider func(uri model.ModelURI, delta []model.Operation) Triggers

// TriggerRegistry holds trigger providers consulted during commit.
type TriggerRegistry struct {
	mu        sync.RWMutex
	providers []TriggerProvider
	logger    *slog.Logger
}

// NewTriggerRegistry creates an empty trigger provider registry.
func NewTriggerRegistry(logger *slog.Logger) *TriggerRegistry {
	return &TriggerRegistry{logger: logger}
}

// Register adds a trigger provider.
func (r *TriggerRegistry) Register(provider TriggerProvider) {
	if provider == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, provider)
	r.logger.Info("trigger provider registered", "total", len(r.providers))
}

// Triggers folds the providers over the delta in registration order. The first
// provider returning a transaction function wins outright: its function is
// returned alone, earlier patch results are discarded, and later providers are
// not consulted. Otherwise the patch results of all providers concatenate.
func (r *TriggerRegistry) Triggers(uri model.ModelURI, delta []model.Operation) Triggers {
	r.mu.RLock()
	providers := r.providers
	r.mu.RUnlock()

	var combined Triggers
	for _, provider := range providers {
		t := provider(uri, delta)
		if t.Run != nil {
			return Triggers{Run: t.Run}
		}
		combined.Patch = append(combined.Patch, t.Patch...)
	}
	return combined
}
