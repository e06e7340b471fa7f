// Package transaction implements the transactional edit core of the gateway.
//
// A transaction is a server-side session on one model within which a batch of
// edits is applied atomically on Upstream. The Manager negotiates sessions
// over HTTP, each Context drives a WebSocket dialogue of execute messages and
// incremental-update replies, and a stack of frames aggregates results so that
// recursively expanded commands and commit-time triggers each observe the full
// effect of the edits they caused. On the wire Upstream only ever sees a flat
// sequence of executes followed by a single close or roll-back.
//
// Plug-ins extend the core through two registries: command providers expand
// command types into substitute edits or nested transaction functions, and
// trigger providers turn just-applied deltas into follow-up edits during
// commit, consulted in a loop until quiescence.
package transaction
