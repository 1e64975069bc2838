// Package clocksync lets clients render server-owned timestamps against their
// own clocks. The server only answers "what time is it here"; clients derive
// an offset and re-sync periodically. Nothing on the server depends on it.
package clocksync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultResyncInterval is how often clients refresh their offset.
const DefaultResyncInterval = 60 * time.Second

// Reply answers a timesync request. Times are Unix milliseconds. ClientTime
// and ID echo what the client supplied.
type Reply struct {
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime,omitempty"`
	ID         uint64 `json:"id,omitempty"`
}

// Server answers timesync requests.
type Server struct {
	clock clockwork.Clock
}

// NewServer creates a server reading time from clock.
func NewServer(clock clockwork.Clock) *Server {
	return &Server{clock: clock}
}

// Now returns the authoritative server time.
func (s *Server) Now() time.Time {
	return s.clock.Now()
}

// Reply builds the response to a request sent at clientTime (Unix ms, 0 if
// unknown).
func (s *Server) Reply(clientTime int64) Reply {
	return Reply{
		ServerTime: s.clock.Now().UnixMilli(),
		ClientTime: clientTime,
	}
}

// Offset estimates serverClock - localClock from one round trip: the request
// left at sent, the server stamped server, the reply arrived at received.
// The server stamp is assumed to sit halfway through the round trip.
func Offset(sent, server, received time.Time) time.Duration {
	rtt := received.Sub(sent)
	if rtt < 0 {
		rtt = 0
	}
	return server.Sub(sent.Add(rtt / 2))
}

// Requester performs one timesync round trip and returns the server time.
type Requester func(ctx context.Context) (time.Time, error)

// Tracker keeps a client's current offset to the server clock.
type Tracker struct {
	clock    clockwork.Clock
	request  Requester
	interval time.Duration

	mu      sync.RWMutex
	offset  time.Duration
	rtt     time.Duration
	synced  bool
	updated time.Time
}

// NewTracker creates a tracker that syncs through request every interval.
func NewTracker(clock clockwork.Clock, request Requester, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	return &Tracker{clock: clock, request: request, interval: interval}
}

// Sync performs one round trip and updates the offset.
func (t *Tracker) Sync(ctx context.Context) error {
	sent := t.clock.Now()
	server, err := t.request(ctx)
	if err != nil {
		return err
	}
	received := t.clock.Now()
	t.Observe(sent, server, received)
	return nil
}

// Observe records a completed round trip.
func (t *Tracker) Observe(sent, server, received time.Time) {
	offset := Offset(sent, server, received)

	t.mu.Lock()
	t.offset = offset
	t.rtt = received.Sub(sent)
	t.synced = true
	t.updated = received
	t.mu.Unlock()

	log.Debug().Dur("offset", offset).Dur("rtt", received.Sub(sent)).Msg("clock offset updated")
}

// Offset returns the last measured offset and whether one exists.
func (t *Tracker) Offset() (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offset, t.synced
}

// ServerNow estimates the current server time.
func (t *Tracker) ServerNow() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clock.Now().Add(t.offset)
}

// Run syncs immediately and then every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	if err := t.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("initial clock sync failed")
	}

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := t.Sync(ctx); err != nil {
				log.Warn().Err(err).Msg("clock sync failed")
			}
		}
	}
}
