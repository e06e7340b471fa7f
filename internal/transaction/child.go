// ABOUTME: Nested child transaction: a proxy sharing the root's socket and
// ABOUTME: frame stack. Child commit folds a frame; child rollback ends the session.

package transaction

import (
	"context"

	"github.com/2389/trestle-gateway/internal/model"
)

// childTransaction is returned by OpenTransaction on an open transaction. It
// owns no socket; a frame was pushed for it on creation.
type childTransaction struct {
	parent *Context
}

func (t *childTransaction) Edit(ctx context.Context, edit model.CommandOrPatch) (model.ModelUpdateResult, error) {
	return t.parent.Edit(ctx, edit)
}

func (t *childTransaction) Execute(ctx context.Context, uri model.ModelURI, cmd model.Command) (model.ModelUpdateResult, error) {
	return t.parent.Execute(ctx, uri, cmd)
}

func (t *childTransaction) ApplyPatch(ctx context.Context, patch []model.Operation) (model.ModelUpdateResult, error) {
	return t.parent.ApplyPatch(ctx, patch)
}

func (t *childTransaction) OpenTransaction() Transaction {
	return t.parent.OpenTransaction()
}

// Commit pops the child's frame, folding it into the parent frame. No close
// message goes on the wire; only the root commit terminates the session.
func (t *childTransaction) Commit(_ context.Context) (model.ModelUpdateResult, error) {
	r, alive := t.parent.popFrame()
	if !alive {
		return closedResult(), nil
	}
	return r, nil
}

// Rollback bubbles up: abandoning a child abandons the whole session.
func (t *childTransaction) Rollback(ctx context.Context, reason string) model.ModelUpdateResult {
	return t.parent.Rollback(ctx, reason)
}

func (t *childTransaction) ModelURI() model.ModelURI {
	return t.parent.ModelURI()
}

func (t *childTransaction) UUID() string {
	return t.parent.UUID()
}

func (t *childTransaction) IsOpen() bool {
	return t.parent.IsOpen()
}
