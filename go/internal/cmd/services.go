package main

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/authority"
	"github.com/mcdev12/timetrial/go/internal/clocksync"
	"github.com/mcdev12/timetrial/go/internal/config"
	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/export"
	"github.com/mcdev12/timetrial/go/internal/gateway"
	"github.com/mcdev12/timetrial/go/internal/leaderboard"
	"github.com/mcdev12/timetrial/go/internal/models"
	"github.com/mcdev12/timetrial/go/internal/relay"
	"github.com/mcdev12/timetrial/go/internal/sensor"
	"github.com/mcdev12/timetrial/go/internal/store"
	"github.com/mcdev12/timetrial/go/internal/timer"
)

type Services struct {
	State     *store.State
	Authority *authority.Authority
	Gateway   *gateway.Service
	Exports   *export.Handler
	Bridge    *sensor.Bridge
	Relay     *Relay
}

// Relay is the optional NATS link.
type Relay struct {
	Conn       *nats.Conn
	Subscriber *relay.SensorSubscriber
}

// stateProvider serves the gateway's REST snapshots.
type stateProvider struct {
	state *store.State
	board *leaderboard.Engine
}

func (p *stateProvider) State() document.Map {
	return p.state.Get()
}

func (p *stateProvider) Leaderboard() []models.Entry {
	return p.board.Ranked()
}

func setupServices(cfg config.Config, clock clockwork.Clock) *Services {
	// Wire up dependency injection chain
	// Documents → Authority → Gateway; sensors feed the authority

	state, sessions := setupStorage(cfg, clock)
	clockSync := clocksync.NewServer(clock)

	provider := &stateProvider{state: state}
	gw := gateway.NewService(gateway.DefaultConfig(), provider, clockSync)

	auth := authority.New(authority.Config{
		State:       state,
		Sessions:    sessions,
		Timer:       timer.NewMachine(state, clock),
		Exporter:    export.NewExporter(cfg.ExportDir, clock, time.Local),
		ClockSync:   clockSync,
		Clock:       clock,
		Broadcaster: gw,
	})
	provider.board = auth.Leaderboard()

	gw.SetCommandHandler(auth.HandleClientEvent)
	// New clients get the current state through the intake so the snapshot
	// is ordered with the broadcasts around it.
	gw.OnConnect(func(c *gateway.Connection) {
		auth.HandleClientEvent(c, &gateway.Event{Event: authority.CmdRequestState})
		auth.HandleClientEvent(c, &gateway.Event{Event: authority.CmdRequestLeaderboard})
	})

	services := &Services{
		State:     state,
		Authority: auth,
		Gateway:   gw,
		Exports:   export.NewHandler(auth.Leaderboard().Entries, clock, time.Local),
	}

	if cfg.SerialDisabled {
		log.Info().Msg("serial sensors disabled")
	} else {
		services.Bridge = sensor.NewBridge(sensor.SerialPorts{}, auth, clock, sensor.Config{
			BaudRate:       cfg.SerialBaud,
			RetryInterval:  cfg.SerialRetry,
			RescanInterval: cfg.SerialRescan,
		})
	}

	if cfg.NATSURL != "" {
		services.Relay = setupRelay(cfg, clock, gw, auth)
	}

	return services
}

// setupRelay connects to NATS. A failure leaves the server running without
// the relay.
func setupRelay(cfg config.Config, clock clockwork.Clock, gw *gateway.Service, sink sensor.Sink) *Relay {
	relayCfg := relay.DefaultConfig()
	relayCfg.URL = cfg.NATSURL
	relayCfg.Prefix = cfg.NATSPrefix

	nc, err := relay.Connect(relayCfg)
	if err != nil {
		log.Error().Err(err).Str("url", cfg.NATSURL).Msg("NATS relay disabled")
		return nil
	}

	gw.SetMirror(relay.NewPublisher(nc, relayCfg.Prefix))

	sub := relay.NewSensorSubscriber(nc, relayCfg.Prefix, sink, clock)
	if err := sub.Start(); err != nil {
		log.Error().Err(err).Msg("remote sensor lines disabled")
		sub = nil
	}
	return &Relay{Conn: nc, Subscriber: sub}
}

// Close drains the NATS link.
func (r *Relay) Close() {
	if r.Subscriber != nil {
		if err := r.Subscriber.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe sensor lines")
		}
	}
	if err := r.Conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain NATS connection")
		r.Conn.Close()
	}
}
