// Package upstream provides the typed HTTP and WebSocket client for the model
// server this gateway fronts.
//
// The client knows the upstream addressing conventions (the /api/v<N> prefix
// and the modeluri query parameter) and the {data: ...} response wrapper, and
// nothing else; payloads pass through opaque.
package upstream
