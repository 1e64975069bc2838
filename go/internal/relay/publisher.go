package relay

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/gateway"
)

// Publisher mirrors gateway broadcasts onto NATS. It implements
// gateway.Mirror.
type Publisher struct {
	conn   Conn
	prefix string
}

// NewPublisher creates a new Publisher
func NewPublisher(conn Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: prefix}
}

// Mirror publishes evt as its JSON envelope. Failures are logged; the local
// broadcast has already happened.
func (p *Publisher) Mirror(evt *gateway.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("event", evt.Event).Msg("failed to marshal mirrored event")
		return
	}

	subject := EventSubject(p.prefix, evt.Event)
	if err := p.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to mirror event")
		return
	}
	log.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("event mirrored")
}
