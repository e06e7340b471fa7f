// Package gateway implements the HTTP and WebSocket front door.
//
// The gateway sits between editing clients and the upstream model server.
// Plug-in routers contribute locally answered routes (the backstop set),
// WebSocket upgrades on unclaimed paths are bridged frame-for-frame to
// Upstream, and every other request is reverse proxied with method, URL, and
// body preserved. Gateway failures never touch in-flight transactions; those
// live in the transaction package and are only rolled back on shutdown.
package gateway
