// ABOUTME: WebSocket bridge between client connections and Upstream.
// ABOUTME: Pipes text as text and binary as binary; close and errors propagate both ways.

package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// handleBridge upgrades the client connection and splices it to a WebSocket
// opened against the same path on Upstream.
func (g *Gateway) handleBridge(w http.ResponseWriter, r *http.Request) {
	upstreamConn, err := g.upstream.DialWebSocket(r.Context(), g.upstream.BridgeURL(r.URL.RequestURI()))
	if err != nil {
		g.logger.Error("bridging websocket failed", "path", r.URL.Path, "error", err)
		http.Error(w, "upstream websocket unreachable", http.StatusBadGateway)
		return
	}

	clientConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		_ = upstreamConn.Close()
		g.logger.Error("upgrading client websocket failed", "path", r.URL.Path, "error", err)
		return
	}

	g.metrics.bridgeOpened()
	g.logger.Debug("websocket bridge open", "path", r.URL.Path)

	done := make(chan struct{}, 2)
	go pipeWebSocket(clientConn, upstreamConn, done)
	go pipeWebSocket(upstreamConn, clientConn, done)
	<-done

	_ = clientConn.Close()
	_ = upstreamConn.Close()
	g.metrics.bridgeClosed()
	g.logger.Debug("websocket bridge closed", "path", r.URL.Path)
}

// pipeWebSocket copies frames from src to dst, preserving the message type.
// Close frames are relayed so either side ending the session ends the other.
func pipeWebSocket(src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				message := websocket.FormatCloseMessage(closeErr.Code, closeErr.Text)
				_ = dst.WriteMessage(websocket.CloseMessage, message)
			}
			return
		}
		if err := dst.WriteMessage(messageType, data); err != nil {
			return
		}
	}
}
