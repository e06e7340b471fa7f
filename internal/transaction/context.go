// ABOUTME: TransactionContext: one per open transaction, owning the WebSocket
// ABOUTME: to Upstream, the nested frame stack, and the aggregated result.

package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/trestle-gateway/internal/model"
	"github.com/2389/trestle-gateway/internal/upstream"
)

// State is the lifecycle state of a transaction socket.
type State int32

// Lifecycle: Connecting → AwaitingUUID → Open → Closing(commit|rollback) → Closed.
const (
	StateConnecting State = iota
	StateAwaitingUUID
	StateOpen
	StateClosingCommit
	StateClosingRollback
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingUUID:
		return "awaiting-uuid"
	case StateOpen:
		return "open"
	case StateClosingCommit:
		return "closing(commit)"
	case StateClosingRollback:
		return "closing(rollback)"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// closedResult is the sentinel returned from operations on a closed or rolled
// back transaction.
func closedResult() model.ModelUpdateResult {
	return model.ModelUpdateResult{Success: false}
}

// Context is a root transactional session on one model. It is driven by a
// single caller; edits are serialized on the wire in call order, each awaiting
// its Upstream reply before the next send.
type Context struct {
	modelURI       model.ModelURI
	transactionURI string
	clientID       string

	commands *CommandRegistry
	triggers *TriggerRegistry
	client   *upstream.Client
	stats    Stats
	logger   *slog.Logger

	connectTimeout   time.Duration
	replyTimeout     time.Duration
	maxTriggerRounds int

	conn   *websocket.Conn
	sendMu sync.Mutex

	mu       sync.Mutex
	state    State
	uuid     string
	uuidSeen bool
	frames   []*model.ModelUpdateResult

	uuidReceived chan struct{}
	replies      chan model.Envelope
	done         chan struct{}
	ready        chan struct{}
	readyOnce    sync.Once
	closeOnce    sync.Once

	closeCallback func()
}

func newContext(uri model.ModelURI, clientID string, client *upstream.Client, commands *CommandRegistry, triggers *TriggerRegistry, connectTimeout, replyTimeout time.Duration, maxTriggerRounds int, stats Stats, logger *slog.Logger) *Context {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	if replyTimeout <= 0 {
		replyTimeout = 30 * time.Second
	}
	if maxTriggerRounds <= 0 {
		maxTriggerRounds = 100
	}
	return &Context{
		modelURI:         uri,
		clientID:         clientID,
		commands:         commands,
		triggers:         triggers,
		client:           client,
		stats:            stats,
		logger:           logger.With("model_uri", uri.String()),
		connectTimeout:   connectTimeout,
		replyTimeout:     replyTimeout,
		maxTriggerRounds: maxTriggerRounds,
		state:            StateConnecting,
		uuidReceived:     make(chan struct{}),
		replies:          make(chan model.Envelope, 1),
		done:             make(chan struct{}),
		ready:            make(chan struct{}),
	}
}

// open dials the transaction WebSocket and waits for the UUID frame. The
// closeCallback fires exactly once, when the socket closes.
func (c *Context) open(ctx context.Context, transactionURI string, closeCallback func()) error {
	c.transactionURI = transactionURI
	c.closeCallback = closeCallback
	defer c.finishOpen()

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.client.DialWebSocket(dialCtx, transactionURI)
	if err != nil {
		c.markClosed()
		return fmt.Errorf("opening transaction socket: %w", err)
	}
	c.conn = conn
	c.setState(StateAwaitingUUID)

	go c.readPump()

	// No outbound message may precede the UUID frame.
	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()
	select {
	case <-c.uuidReceived:
	case <-c.done:
		return fmt.Errorf("awaiting transaction uuid: %w", ErrSocketClosed)
	case <-ctx.Done():
		c.markClosed()
		return fmt.Errorf("awaiting transaction uuid: %w", ctx.Err())
	case <-timer.C:
		c.markClosed()
		return fmt.Errorf("awaiting transaction uuid: %w", ErrReplyTimeout)
	}

	c.mu.Lock()
	c.state = StateOpen
	agg := model.NewAggregate()
	c.frames = []*model.ModelUpdateResult{&agg}
	c.mu.Unlock()

	c.logger.Debug("transaction open", "uuid", c.UUID(), "transaction_uri", transactionURI)
	return nil
}

// failOpen aborts an opening context before its socket ever existed, e.g.
// when the transaction POST to Upstream failed.
func (c *Context) failOpen() {
	c.markClosed()
	c.finishOpen()
}

func (c *Context) finishOpen() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// waitOpen blocks until the context reaches Open or terminally fails.
func (c *Context) waitOpen(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !c.IsOpen() {
		return ErrSocketClosed
	}
	return nil
}

// readPump owns all reads from the socket. The first textual frame is the
// transaction UUID; everything after is treated as the reply to the most
// recent send. Replies with no outstanding request are dropped.
func (c *Context) readPump() {
	defer c.markClosed()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				c.logger.Debug("transaction socket read ended", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("dropping non-text frame on transaction socket")
			continue
		}

		c.mu.Lock()
		first := !c.uuidSeen
		if first {
			c.uuidSeen = true
			c.uuid = parseUUIDFrame(data)
		}
		c.mu.Unlock()

		if first {
			close(c.uuidReceived)
			continue
		}

		env, err := model.ParseEnvelope(data)
		if err != nil {
			c.logger.Warn("dropping malformed transaction message", "error", err)
			continue
		}
		select {
		case c.replies <- env:
		default:
			c.logger.Warn("dropping reply with no outstanding request", "type", env.Type)
		}
	}
}

// parseUUIDFrame interprets the first textual frame as the transaction UUID,
// accepting either a bare string or a JSON-quoted one.
func parseUUIDFrame(data []byte) string {
	s := strings.TrimSpace(string(data))
	var quoted string
	if err := json.Unmarshal([]byte(s), &quoted); err == nil {
		return quoted
	}
	return s
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

// markClosed transitions to Closed, discards frames, closes the socket, and
// fires the close callback. Safe to call multiple times; everything inside
// runs at most once.
func (c *Context) markClosed() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.frames = nil
		c.mu.Unlock()

		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.done)
		c.finishOpen()

		if c.closeCallback != nil {
			c.closeCallback()
		}
		c.logger.Debug("transaction closed")
	})
}

func (c *Context) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ModelURI returns the model this transaction edits.
func (c *Context) ModelURI() model.ModelURI {
	return c.modelURI
}

// TransactionURI returns the upstream session URI.
func (c *Context) TransactionURI() string {
	return c.transactionURI
}

// UUID returns the transaction UUID delivered by Upstream, or "" before open.
func (c *Context) UUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uuid
}

// IsOpen reports whether edits can still be sent on this transaction.
func (c *Context) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// --- frame stack ---

func (c *Context) pushFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg := model.NewAggregate()
	c.frames = append(c.frames, &agg)
}

// popFrame removes the top frame and merges it into the parent frame when one
// exists. The second return is false when the stack was already torn down by
// a rollback or socket close.
func (c *Context) popFrame() (model.ModelUpdateResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.frames)
	if n == 0 {
		return model.ModelUpdateResult{}, false
	}
	top := *c.frames[n-1]
	c.frames = c.frames[:n-1]
	if n > 1 {
		c.frames[n-2].Merge(top)
	}
	return top, true
}

// popFrameDiscard removes the top frame without merging it anywhere.
func (c *Context) popFrameDiscard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.frames); n > 0 {
		c.frames = c.frames[:n-1]
	}
}

func (c *Context) mergeIntoTop(r model.ModelUpdateResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.frames); n > 0 {
		c.frames[n-1].Merge(r)
	}
}

func (c *Context) frameDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// --- wire ---

func (c *Context) send(env model.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.replyTimeout))
	return c.conn.WriteJSON(env)
}

// roundTrip sends one message and waits for its single reply.
func (c *Context) roundTrip(ctx context.Context, env model.Envelope) (model.ModelUpdateResult, error) {
	if !c.IsOpen() {
		return closedResult(), ErrSocketClosed
	}
	// Sends are serialized, so anything already buffered arrived unasked.
	select {
	case stale := <-c.replies:
		c.logger.Warn("dropping reply with no outstanding request", "type", stale.Type)
	default:
	}
	if err := c.send(env); err != nil {
		return closedResult(), fmt.Errorf("sending %s: %w", env.Type, err)
	}

	timer := time.NewTimer(c.replyTimeout)
	defer timer.Stop()
	select {
	case reply := <-c.replies:
		return reply.UpdateResult(), nil
	case <-c.done:
		return closedResult(), ErrSocketClosed
	case <-ctx.Done():
		return closedResult(), ctx.Err()
	case <-timer.C:
		return closedResult(), fmt.Errorf("reply to %s: %w", env.Type, ErrReplyTimeout)
	}
}

// sendExecute performs one execute round trip and merges the reply into the
// current frame. Wire failures roll the transaction back.
func (c *Context) sendExecute(ctx context.Context, payload model.CommandOrPatch) (model.ModelUpdateResult, error) {
	env, err := model.NewEnvelope(model.MessageExecute, c.modelURI, payload)
	if err != nil {
		return closedResult(), fmt.Errorf("encoding execute payload: %w", err)
	}
	reply, err := c.roundTrip(ctx, env)
	if err != nil {
		return closedResult(), c.autoRollback(ctx, "execute failed", err)
	}
	c.mergeIntoTop(reply)
	return reply, nil
}

// autoRollback logs the reason, rolls the transaction back best-effort, and
// returns the wrapped error for re-raising.
func (c *Context) autoRollback(ctx context.Context, reason string, err error) error {
	c.logger.Error("rolling back transaction", "reason", reason, "error", err)
	c.Rollback(ctx, reason)
	return fmt.Errorf("%s: %w", reason, err)
}

// --- edits ---

// Edit is the single entry point for all edits: commands dispatch through the
// provider registry, patches go straight to the wire.
func (c *Context) Edit(ctx context.Context, edit model.CommandOrPatch) (model.ModelUpdateResult, error) {
	if edit.IsPatch() {
		return c.ApplyPatch(ctx, edit.Patch)
	}
	return c.Execute(ctx, c.modelURI, edit.Command)
}

// Execute dispatches a command. Commands with a registered provider expand
// into substitutes or nested transaction functions; everything else is sent
// to Upstream as-is.
func (c *Context) Execute(ctx context.Context, uri model.ModelURI, cmd model.Command) (model.ModelUpdateResult, error) {
	expansion, handled := c.commands.Commands(uri, cmd)
	if !handled {
		return c.sendExecute(ctx, model.FromCommand(cmd))
	}

	switch {
	case expansion.Run != nil:
		c.pushFrame()
		ok, err := expansion.Run(ctx, c)
		if err != nil {
			c.popFrameDiscard()
			return closedResult(), c.autoRollback(ctx, "command provider failed", err)
		}
		if !ok {
			c.popFrameDiscard()
			return closedResult(), c.autoRollback(ctx, "command provider reported failure", ErrCommandFailed)
		}
		agg, alive := c.popFrame()
		if !alive {
			return closedResult(), ErrSocketClosed
		}
		return agg, nil

	case expansion.Substitute != nil:
		if expansion.Substitute.IsPatch() {
			return c.ApplyPatch(ctx, expansion.Substitute.Patch)
		}
		// Substitute commands are sent directly, never re-expanded.
		return c.sendExecute(ctx, *expansion.Substitute)

	default:
		return c.sendExecute(ctx, model.FromCommand(cmd))
	}
}

// ApplyPatch sends a patch. An empty patch yields {success: false} without
// touching the wire.
func (c *Context) ApplyPatch(ctx context.Context, patch []model.Operation) (model.ModelUpdateResult, error) {
	if len(patch) == 0 {
		return model.ModelUpdateResult{Success: false}, nil
	}
	return c.sendExecute(ctx, model.FromPatch(patch))
}

// OpenTransaction opens a nested child sharing this context's socket and
// frame stack.
func (c *Context) OpenTransaction() Transaction {
	c.pushFrame()
	return &childTransaction{parent: c}
}

// --- commit / rollback ---

// Commit runs the trigger loop to quiescence, sends the close message, and
// returns the aggregated result of the whole transaction. On a closed socket
// it returns the closed sentinel, mirroring a rollback.
func (c *Context) Commit(ctx context.Context) (model.ModelUpdateResult, error) {
	u, alive := c.popFrame()
	if !alive || !c.IsOpen() {
		return closedResult(), nil
	}

	delta := u.Patch
	for round := 0; len(delta) > 0; round++ {
		t := c.triggers.Triggers(c.modelURI, delta)
		if t.Empty() {
			break
		}
		if round >= c.maxTriggerRounds {
			return closedResult(), c.autoRollback(ctx, "trigger loop did not quiesce", ErrTriggerLimit)
		}
		r, err := c.performTriggers(ctx, t)
		if err != nil {
			return closedResult(), err
		}
		u.Merge(r)
		delta = r.Patch
	}

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return closedResult(), nil
	}
	c.state = StateClosingCommit
	c.mu.Unlock()

	env, err := model.NewEnvelope(model.MessageClose, c.modelURI, nil)
	if err == nil {
		if sendErr := c.send(env); sendErr != nil {
			c.logger.Warn("sending close", "error", sendErr)
		}
	}
	if c.stats != nil {
		c.stats.TransactionCommitted()
	}
	c.logger.Info("transaction committed", "uuid", c.UUID(), "ops", len(u.Patch), "success", u.Success)
	return u, nil
}

// performTriggers runs one trigger step inside its own frame. The frame is
// popped even on error; failures roll the transaction back.
func (c *Context) performTriggers(ctx context.Context, t Triggers) (model.ModelUpdateResult, error) {
	c.pushFrame()

	var runErr error
	if t.Run != nil {
		ok, err := t.Run(ctx, c)
		switch {
		case err != nil:
			runErr = err
		case !ok:
			runErr = ErrTriggerFailed
		}
	} else if _, err := c.ApplyPatch(ctx, t.Patch); err != nil {
		runErr = err
	}

	r, alive := c.popFrame()
	if runErr != nil {
		return closedResult(), c.autoRollback(ctx, "trigger step failed", runErr)
	}
	if !alive {
		return closedResult(), ErrSocketClosed
	}
	return r, nil
}

// Rollback abandons the transaction. Best-effort on the wire and idempotent:
// once the socket is closing or closed it only returns the sentinel.
func (c *Context) Rollback(ctx context.Context, reason string) model.ModelUpdateResult {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return closedResult()
	}
	c.state = StateClosingRollback
	c.frames = nil
	c.mu.Unlock()

	env, err := model.NewEnvelope(model.MessageRollback, c.modelURI, reason)
	if err == nil {
		if sendErr := c.send(env); sendErr != nil {
			c.logger.Warn("sending roll-back", "error", sendErr)
		}
	}
	if c.stats != nil {
		c.stats.TransactionRolledBack()
	}
	c.logger.Info("transaction rolled back", "uuid", c.UUID(), "reason", reason)
	return closedResult()
}
