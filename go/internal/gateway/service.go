// Package gateway is the broadcast transport: a WebSocket hub that fans every
// state change out to all clients and hands client commands to the authority.
package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/clocksync"
)

// Service ties the connection manager and HTTP handlers together
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service
func NewService(config Config, stateProvider StateProvider, clock *clocksync.Server) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(stateProvider, clock),
	}
}

// Start runs the broadcast loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")

	s.connectionManager.Start(ctx)

	log.Info().Msg("gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("gateway routes registered")
}

// SetCommandHandler routes client messages to h
func (s *Service) SetCommandHandler(h CommandHandler) {
	s.connectionManager.SetCommandHandler(h)
}

// SetMirror copies every broadcast to m
func (s *Service) SetMirror(m Mirror) {
	s.connectionManager.SetMirror(m)
}

// OnConnect runs fn for each new client
func (s *Service) OnConnect(fn func(c *Connection)) {
	s.wsHandler.OnConnect(fn)
}

// Broadcast publishes an event to every client
func (s *Service) Broadcast(name string, data any) {
	s.connectionManager.Broadcast(name, data)
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "timetrial_gateway"
	stats["status"] = "running"
	return stats
}
