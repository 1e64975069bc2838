// Package relay bridges the timing server to a NATS bus. Broadcast events are
// mirrored out for remote displays, and remote sensor hubs can publish raw
// sensor lines in.
package relay

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the NATS connection
type Config struct {
	URL           string
	Prefix        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default relay configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Prefix:        "timetrial",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Conn is the part of *nats.Conn the relay uses.
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Connect dials NATS with reconnects enabled.
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("timetrial"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Str("prefix", cfg.Prefix).Msg("connected to NATS")
	return nc, nil
}

// EventSubject is the subject a broadcast event is mirrored to.
func EventSubject(prefix, event string) string {
	return fmt.Sprintf("%s.events.%s", prefix, event)
}

// SensorSubject is the subject remote sensor hubs publish lines to.
func SensorSubject(prefix string) string {
	return prefix + ".sensor.lines"
}
