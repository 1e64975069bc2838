package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager fans events out to every connected client. Broadcasts are
// queued in order and delivered by a single goroutine, so all clients see
// them in the order they were published.
type ConnectionManager struct {
	// Active connections
	connections map[*Connection]bool
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Outbound queue. Unbounded so publishing never blocks or drops.
	queueMu sync.Mutex
	queue   []outbound
	wake    chan struct{}

	handler CommandHandler
	mirror  Mirror
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID         string
	RemoteAddr string
	Conn       *websocket.Conn
	Send       chan []byte
	Manager    *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
	lastPong    atomic.Int64
}

// LastPong is when the client last answered a ping, or connected.
func (c *Connection) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// CommandHandler receives decoded client messages
type CommandHandler func(c *Connection, evt *Event)

// Mirror receives a copy of every broadcast, in broadcast order
type Mirror interface {
	Mirror(evt *Event)
}

// outbound is a queued event; a nil target means every connection
type outbound struct {
	event  *Event
	target *Connection
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // full state merges from the console
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Single trusted LAN deployment
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		wake:   make(chan struct{}, 1),
	}
}

// SetCommandHandler sets the receiver of client messages. Call before Start.
func (cm *ConnectionManager) SetCommandHandler(h CommandHandler) {
	cm.handler = h
}

// SetMirror sets the broadcast mirror. Call before Start.
func (cm *ConnectionManager) SetMirror(m Mirror) {
	cm.mirror = m
}

// Start delivers queued events until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case <-cm.wake:
			for _, msg := range cm.drain() {
				cm.deliver(msg)
			}
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		RemoteAddr:  r.RemoteAddr,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	connection.lastPong.Store(connection.ConnectedAt.UnixNano())

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", connection.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

// registerConnection adds a connection to the pool
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the pool
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn]; exists {
		delete(cm.connections, conn)
		close(conn.Send)

		log.Info().
			Str("connection_id", conn.ID).
			Str("remote_addr", conn.RemoteAddr).
			Msg("connection unregistered")
	}
}

// Broadcast encodes data and queues it for every connection
func (cm *ConnectionManager) Broadcast(name string, data any) {
	evt, err := NewEvent(name, data)
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("failed to encode broadcast")
		return
	}
	cm.BroadcastEvent(evt)
}

// BroadcastEvent queues evt for every connection
func (cm *ConnectionManager) BroadcastEvent(evt *Event) {
	cm.enqueue(outbound{event: evt})
}

// SendTo queues evt for a single connection, ordered after earlier broadcasts
func (cm *ConnectionManager) SendTo(conn *Connection, name string, data any) {
	evt, err := NewEvent(name, data)
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("failed to encode reply")
		return
	}
	cm.enqueue(outbound{event: evt, target: conn})
}

func (cm *ConnectionManager) enqueue(msg outbound) {
	cm.queueMu.Lock()
	cm.queue = append(cm.queue, msg)
	cm.queueMu.Unlock()

	select {
	case cm.wake <- struct{}{}:
	default:
	}
}

func (cm *ConnectionManager) drain() []outbound {
	cm.queueMu.Lock()
	defer cm.queueMu.Unlock()
	msgs := cm.queue
	cm.queue = nil
	return msgs
}

// deliver sends one queued event
func (cm *ConnectionManager) deliver(msg outbound) {
	data, err := json.Marshal(msg.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	sent := 0

	// Sending under the read lock keeps unregisterConnection from closing a
	// channel mid-send.
	cm.mu.RLock()
	for conn := range cm.connections {
		if msg.target != nil && conn != msg.target {
			continue
		}
		select {
		case conn.Send <- data:
			sent++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	// Connection is slow/dead, close it
	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("event", msg.event.Event).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	if msg.target == nil && cm.mirror != nil {
		cm.mirror.Mirror(msg.event)
	}

	log.Debug().
		Str("event", msg.event.Event).
		Bool("direct", msg.target != nil).
		Int("connections", sent).
		Msg("event delivered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
	}
}

// ConnectionCount returns the number of open connections
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	total := len(cm.connections)
	cm.mu.RUnlock()

	cm.queueMu.Lock()
	queued := len(cm.queue)
	cm.queueMu.Unlock()

	return map[string]interface{}{
		"total_connections": total,
		"queued_events":     queued,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage decodes a client message and hands it to the command
// handler. Malformed messages are dropped.
func (c *Connection) handleClientMessage(message []byte) {
	evt, err := ParseEvent(message)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping client message")
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("event", evt.Event).
		Msg("received client message")

	if c.Manager.handler != nil {
		c.Manager.handler(c, evt)
	}
}

// Reply queues an event for this connection only
func (c *Connection) Reply(name string, data any) {
	c.Manager.SendTo(c, name, data)
}
