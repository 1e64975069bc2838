package relay

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/sensor"
)

// PortHeader names the hub's port when a remote hub sets it.
const PortHeader = "Port"

// SensorSubscriber feeds sensor lines published by remote hubs into the same
// sink as the local serial bridge.
type SensorSubscriber struct {
	conn   Conn
	prefix string
	sink   sensor.Sink
	clock  clockwork.Clock

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewSensorSubscriber creates a new SensorSubscriber
func NewSensorSubscriber(conn Conn, prefix string, sink sensor.Sink, clock clockwork.Clock) *SensorSubscriber {
	return &SensorSubscriber{conn: conn, prefix: prefix, sink: sink, clock: clock}
}

// Start subscribes to the sensor subject.
func (s *SensorSubscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject := SensorSubject(s.prefix)
	sub, err := s.conn.Subscribe(subject, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	log.Info().Str("subject", subject).Msg("listening for remote sensor lines")
	return nil
}

// Stop removes the subscription.
func (s *SensorSubscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}

func (s *SensorSubscriber) handle(msg *nats.Msg) {
	port := msg.Header.Get(PortHeader)
	if port == "" {
		port = "nats:" + msg.Subject
	}
	at := s.clock.Now()

	// A message may carry several lines.
	for _, line := range strings.Split(string(msg.Data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.sink.RawLine(port, line)

		ev, ok := sensor.Parse(line)
		if !ok {
			continue
		}
		ev.Port = port
		ev.At = at
		s.sink.SensorEvent(ev)
	}
}
