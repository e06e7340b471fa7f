// ABOUTME: Sentinel errors for the transaction core.
// ABOUTME: Callers test against these with errors.Is.

package transaction

import "errors"

// ErrSocketClosed indicates an operation was attempted after the transaction
// WebSocket transitioned to Closed.
var ErrSocketClosed = errors.New("transaction socket closed")

// ErrProviderCollision indicates a command provider is already registered for
// the command type.
var ErrProviderCollision = errors.New("command provider already registered")

// ErrCommandFailed indicates a command provider's transaction function
// reported failure.
var ErrCommandFailed = errors.New("command execution failed")

// ErrTriggerFailed indicates a trigger's transaction function reported
// failure during commit.
var ErrTriggerFailed = errors.New("trigger execution failed")

// ErrTriggerLimit indicates the commit trigger loop did not reach quiescence
// within the configured round limit.
var ErrTriggerLimit = errors.New("trigger loop exceeded round limit")

// ErrReplyTimeout indicates Upstream did not answer an execute message in
// time.
var ErrReplyTimeout = errors.New("timed out awaiting upstream reply")
