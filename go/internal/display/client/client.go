// Package client connects a display to the timing server over WebSocket and
// keeps a local mirror of the shared state and leaderboard.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/authority"
	"github.com/mcdev12/timetrial/go/internal/clocksync"
	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/gateway"
	"github.com/mcdev12/timetrial/go/internal/leaderboard"
	"github.com/mcdev12/timetrial/go/internal/models"
)

var ErrNotConnected = errors.New("not connected to server")

// Config controls the client.
type Config struct {
	URL            string
	ResyncInterval time.Duration
	SyncTimeout    time.Duration
	WriteWait      time.Duration
	ReconnectWait  time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		ResyncInterval: clocksync.DefaultResyncInterval,
		SyncTimeout:    5 * time.Second,
		WriteWait:      10 * time.Second,
		ReconnectWait:  time.Second,
	}
}

// Handlers are called from the read loop as events arrive.
type Handlers struct {
	State       func(state document.Map)
	Leaderboard func(ranked []models.Entry)
	NewScore    func(score leaderboard.NewScore)
}

// Client is a display's connection to the server.
type Client struct {
	config   Config
	clock    clockwork.Clock
	dialer   *websocket.Dialer
	handlers Handlers
	tracker  *clocksync.Tracker

	mu      sync.RWMutex
	conn    *websocket.Conn
	state   document.Map
	ranked  []models.Entry
	pending map[uint64]chan clocksync.Reply
	nextID  uint64

	writeMu sync.Mutex
}

// New creates a new Client
func New(cfg Config, clock clockwork.Clock, handlers Handlers) *Client {
	c := &Client{
		config:   cfg,
		clock:    clock,
		dialer:   websocket.DefaultDialer,
		handlers: handlers,
		state:    document.Map{},
		pending:  make(map[uint64]chan clocksync.Reply),
	}
	c.tracker = clocksync.NewTracker(clock, c.requestTime, cfg.ResyncInterval)
	return c
}

// State returns a copy of the mirrored GameState.
func (c *Client) State() document.Map {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return document.CloneMap(c.state)
}

// Leaderboard returns the mirrored ranking.
func (c *Client) Leaderboard() []models.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Entry(nil), c.ranked...)
}

// ServerNow estimates the server's clock.
func (c *Client) ServerNow() time.Time {
	return c.tracker.ServerNow()
}

// Tracker exposes the clock offset tracker.
func (c *Client) Tracker() *clocksync.Tracker {
	return c.tracker
}

// Run connects, and reconnects after failures, until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	syncCtx, cancelSync := context.WithCancel(ctx)
	defer cancelSync()
	go c.tracker.Run(syncCtx)

	for {
		conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
			conn, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
			return conn, err
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(c.config.ReconnectWait)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Warn().Err(err).Str("url", c.config.URL).Dur("retry_in", next).Msg("server unreachable")
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect to %s: %w", c.config.URL, err)
		}

		log.Info().Str("url", c.config.URL).Msg("connected to server")
		c.serve(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Str("url", c.config.URL).Msg("connection lost, reconnecting")
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.Send(authority.CmdRequestState, nil); err != nil {
		log.Warn().Err(err).Msg("failed to request state")
	}
	if err := c.Send(authority.CmdRequestLeaderboard, nil); err != nil {
		log.Warn().Err(err).Msg("failed to request leaderboard")
	}
	go func() {
		if err := c.tracker.Sync(ctx); err != nil {
			log.Debug().Err(err).Msg("clock sync after connect failed")
		}
	}()

	for {
		var evt gateway.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.handle(&evt)
	}
}

func (c *Client) handle(evt *gateway.Event) {
	switch evt.Event {
	case gateway.EventSetState:
		var state document.Map
		if err := json.Unmarshal(evt.Data, &state); err != nil || state == nil {
			log.Warn().Err(err).Msg("invalid state from server")
			return
		}
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()
		if c.handlers.State != nil {
			c.handlers.State(document.CloneMap(state))
		}

	case gateway.EventSetLeaderboard:
		var ranked []models.Entry
		if err := json.Unmarshal(evt.Data, &ranked); err != nil {
			log.Warn().Err(err).Msg("invalid leaderboard from server")
			return
		}
		c.mu.Lock()
		c.ranked = ranked
		c.mu.Unlock()
		if c.handlers.Leaderboard != nil {
			c.handlers.Leaderboard(ranked)
		}

	case gateway.EventShowNewScore:
		var score leaderboard.NewScore
		if err := json.Unmarshal(evt.Data, &score); err != nil {
			log.Warn().Err(err).Msg("invalid score from server")
			return
		}
		if c.handlers.NewScore != nil {
			c.handlers.NewScore(score)
		}

	case gateway.EventTimesync:
		var reply clocksync.Reply
		if err := json.Unmarshal(evt.Data, &reply); err != nil {
			log.Warn().Err(err).Msg("invalid timesync reply")
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[reply.ID]
		delete(c.pending, reply.ID)
		c.mu.Unlock()
		if ok {
			ch <- reply
		}

	default:
		log.Debug().Str("event", evt.Event).Msg("ignoring event")
	}
}

// Send issues a command to the server.
func (c *Client) Send(command string, data any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	msg := map[string]any{"event": command}
	if data != nil {
		msg["data"] = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	return nil
}

// requestTime is the tracker's round trip: a timesync command answered by a
// timesync event echoing our request id.
func (c *Client) requestTime(ctx context.Context) (time.Time, error) {
	ch := make(chan clocksync.Reply, 1)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload := map[string]any{"clientTime": c.clock.Now().UnixMilli(), "id": id}
	if err := c.Send(authority.CmdTimesync, payload); err != nil {
		return time.Time{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.SyncTimeout)
	defer cancel()
	select {
	case reply := <-ch:
		return time.UnixMilli(reply.ServerTime), nil
	case <-ctx.Done():
		return time.Time{}, fmt.Errorf("timesync: %w", ctx.Err())
	}
}
