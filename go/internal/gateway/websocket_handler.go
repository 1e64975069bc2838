package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	onConnect         func(c *Connection)
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// OnConnect registers a callback run for every new connection, e.g. to push
// the current state.
func (h *WebSocketHandler) OnConnect(fn func(c *Connection)) {
	h.onConnect = fn
}

// HandleConnection upgrades a client. All clients share one pool; the
// console, tablets and displays differ only in what they send.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connectionManager.UpgradeConnection(w, r)
	if err != nil {
		// The upgrader has already written the HTTP error
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade rejected")
		return
	}

	if h.onConnect != nil {
		h.onConnect(conn)
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
