// Package authority is the single writer of the shared documents. Client
// commands and sensor events arrive on one intake channel and are applied in
// arrival order by one goroutine.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/clocksync"
	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/export"
	"github.com/mcdev12/timetrial/go/internal/gateway"
	"github.com/mcdev12/timetrial/go/internal/leaderboard"
	"github.com/mcdev12/timetrial/go/internal/models"
	"github.com/mcdev12/timetrial/go/internal/sensor"
	"github.com/mcdev12/timetrial/go/internal/store"
	"github.com/mcdev12/timetrial/go/internal/timer"
)

// DefaultIntakeSize bounds the number of commands waiting to be applied.
const DefaultIntakeSize = 256

// Broadcaster publishes an event to every client.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// Config wires the authority to its documents and collaborators.
type Config struct {
	State       *store.State
	Sessions    *store.Document[[]models.Entry]
	Timer       *timer.Machine
	Exporter    *export.Exporter
	ClockSync   *clocksync.Server
	Clock       clockwork.Clock
	Broadcaster Broadcaster
	IntakeSize  int
}

// ExportResult is sent back after a successful export.
type ExportResult struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

// ErrorPayload is sent back when a command fails after being accepted.
type ErrorPayload struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

// Authority applies commands to the documents.
type Authority struct {
	state     *store.State
	sessions  *store.Document[[]models.Entry]
	timer     *timer.Machine
	board     *leaderboard.Engine
	exporter  *export.Exporter
	clockSync *clocksync.Server
	out       Broadcaster

	intake chan Command
	done   chan struct{}
}

// New creates the authority and subscribes the broadcaster to every
// document change.
func New(cfg Config) *Authority {
	if cfg.IntakeSize <= 0 {
		cfg.IntakeSize = DefaultIntakeSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	a := &Authority{
		state:     cfg.State,
		sessions:  cfg.Sessions,
		timer:     cfg.Timer,
		exporter:  cfg.Exporter,
		clockSync: cfg.ClockSync,
		out:       cfg.Broadcaster,
		intake:    make(chan Command, cfg.IntakeSize),
		done:      make(chan struct{}),
	}

	a.state.OnChange(func(v document.Map) {
		a.out.Broadcast(gateway.EventSetState, v)
	})
	a.board = leaderboard.NewEngine(cfg.Sessions, cfg.Clock, a)
	return a
}

// Leaderboard exposes the leaderboard engine.
func (a *Authority) Leaderboard() *leaderboard.Engine {
	return a.board
}

// Submit queues cmd. It blocks while the intake is full and fails once ctx is
// done or the authority has stopped.
func (a *Authority) Submit(ctx context.Context, cmd Command) error {
	select {
	case a.intake <- cmd:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleClientEvent is the gateway's command handler.
func (a *Authority) HandleClientEvent(c *gateway.Connection, evt *gateway.Event) {
	cmd := Command{Type: evt.Event, Payload: evt.Data, Reply: c.Reply}
	if err := a.Submit(context.Background(), cmd); err != nil {
		log.Warn().Err(err).Str("command", evt.Event).Str("connection_id", c.ID).Msg("command not accepted")
	}
}

// RawLine implements sensor.Sink. Raw lines are diagnostics and bypass the
// intake.
func (a *Authority) RawLine(port, line string) {
	a.out.Broadcast(gateway.EventSerialData, gateway.SerialDataPayload{Port: port, Line: line})
}

// SensorEvent implements sensor.Sink.
func (a *Authority) SensorEvent(ev sensor.Event) {
	if err := a.Submit(context.Background(), Command{Type: cmdSensor, sensor: &ev}); err != nil {
		log.Warn().Err(err).Int("unit", ev.Unit).Msg("sensor event not accepted")
	}
}

// LeaderboardChanged implements leaderboard.Listener.
func (a *Authority) LeaderboardChanged(ranked []models.Entry) {
	a.out.Broadcast(gateway.EventSetLeaderboard, ranked)
}

// NewScore implements leaderboard.Listener.
func (a *Authority) NewScore(score leaderboard.NewScore) {
	a.out.Broadcast(gateway.EventShowNewScore, score)
}

// Run applies commands until ctx is cancelled.
func (a *Authority) Run(ctx context.Context) {
	log.Info().Msg("authority started")
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("authority stopping")
			return
		case cmd := <-a.intake:
			if err := a.apply(cmd); err != nil {
				log.Warn().Err(err).Str("command", cmd.Type).Msg("command dropped")
			}
		}
	}
}

// Shutdown writes both documents to disk.
func (a *Authority) Shutdown() error {
	return errors.Join(a.state.Close(), a.sessions.Close())
}

func (a *Authority) apply(cmd Command) error {
	if cmd.Type == cmdSensor {
		ev := cmd.sensor
		a.timer.Sensor(ev.PlayerIndex, ev.Open, ev.At)
		return nil
	}

	payload, err := normalizePayload(cmd.Payload)
	if err != nil {
		return err
	}

	switch cmd.Type {
	case CmdRequestState:
		a.reply(cmd, gateway.EventSetState, a.state.Get())
		return nil

	case CmdMergeState:
		var partial document.Map
		if err := json.Unmarshal(payload, &partial); err != nil || partial == nil {
			return ErrNotObject
		}
		return a.state.Merge(partial)

	case CmdSetInState:
		var p setInStatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		var value any
		if len(p.Value) > 0 {
			if err := json.Unmarshal(p.Value, &value); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
		}
		return a.state.SetPath(p.Path, value)

	case CmdStartTimer, CmdStopTimer, CmdResetPlayer, CmdPlayAgain:
		i, err := decodePlayerIndex(payload)
		if err != nil {
			return err
		}
		switch cmd.Type {
		case CmdStartTimer:
			a.timer.Start(i)
		case CmdStopTimer:
			a.timer.Stop(i)
		case CmdResetPlayer:
			a.timer.Reset(i)
		case CmdPlayAgain:
			a.timer.PlayAgain(i)
		}
		return nil

	case CmdCompleteForm:
		var p completeFormPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		i, err := requireIndex(p.PlayerIndex)
		if err != nil {
			return err
		}
		a.timer.CompleteForm(i, p.Form)
		return nil

	case CmdSetManual:
		var p setManualPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		i, err := requireIndex(p.PlayerIndex)
		if err != nil {
			return err
		}
		a.timer.SetManual(i, p.Manual)
		return nil

	case CmdManualTime:
		var p manualTimePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		i, err := requireIndex(p.PlayerIndex)
		if err != nil {
			return err
		}
		a.timer.ManualTime(i, time.Duration(p.ElapsedMs)*time.Millisecond)
		return nil

	case CmdSubmitScore:
		var session models.Session
		if len(payload) == 0 {
			return fmt.Errorf("%w: empty session", ErrMalformedPayload)
		}
		if err := json.Unmarshal(payload, &session); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		a.board.Submit(session)
		return nil

	case CmdRequestLeaderboard:
		a.reply(cmd, gateway.EventSetLeaderboard, a.board.Ranked())
		return nil

	case CmdExportSessions:
		return a.exportSessions(cmd, payload)

	case CmdDeleteData:
		a.board.DeleteAll()
		return nil

	case CmdTimesync:
		var p timesyncPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				if err := json.Unmarshal(payload, &p.ClientTime); err != nil {
					return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
				}
			}
		}
		reply := a.clockSync.Reply(p.ClientTime)
		reply.ID = p.ID
		a.reply(cmd, gateway.EventTimesync, reply)
		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
}

func (a *Authority) exportSessions(cmd Command, payload json.RawMessage) error {
	var rng *export.Range
	if len(payload) > 0 {
		var dates []string
		if err := json.Unmarshal(payload, &dates); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if len(dates) >= 2 && dates[0] != "" && dates[1] != "" {
			parsed, err := export.ParseRange(dates[0], dates[1], a.exporter.Location())
			if err != nil {
				a.reply(cmd, gateway.EventError, ErrorPayload{Command: cmd.Type, Message: err.Error()})
				return err
			}
			rng = parsed
		}
	}

	entries := a.board.Entries()
	path, err := a.exporter.Export(entries, rng)
	if err != nil {
		a.reply(cmd, gateway.EventError, ErrorPayload{Command: cmd.Type, Message: err.Error()})
		return err
	}
	a.reply(cmd, gateway.EventExportComplete, ExportResult{Path: path, Rows: len(export.Filter(entries, rng))})
	return nil
}

func (a *Authority) reply(cmd Command, event string, data any) {
	if cmd.Reply == nil {
		return
	}
	cmd.Reply(event, data)
}
