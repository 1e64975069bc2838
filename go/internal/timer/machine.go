// Package timer implements the per-player session lifecycle
// form -> ready -> playing -> finished on top of the GameState document.
package timer

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/models"
	"github.com/mcdev12/timetrial/go/internal/store"
)

// Machine applies timer transitions to player sessions. Every method returns
// whether the transition was accepted; a rejected transition changes nothing.
type Machine struct {
	state *store.State
	clock clockwork.Clock
}

// NewMachine creates a machine mutating state.
func NewMachine(state *store.State, clock clockwork.Clock) *Machine {
	return &Machine{state: state, clock: clock}
}

// Session returns the current session of player i.
func (m *Machine) Session(i int) (models.Session, bool) {
	return models.SessionFromValue(m.state.Get()[models.PlayerKey(i)])
}

// Start moves a ready player to playing.
func (m *Machine) Start(i int) bool {
	return m.start(i, m.clock.Now(), false)
}

// Stop moves a playing player to finished.
func (m *Machine) Stop(i int) bool {
	return m.stop(i, m.clock.Now(), false)
}

// Sensor applies a sensor transition stamped at. Sensors are ignored while
// the session is under manual control.
func (m *Machine) Sensor(i int, open bool, at time.Time) bool {
	if at.IsZero() {
		at = m.clock.Now()
	}
	if open {
		return m.start(i, at, true)
	}
	return m.stop(i, at, true)
}

func (m *Machine) start(i int, at time.Time, sensor bool) bool {
	return m.transition(i, transitionName("start", sensor), func(s *models.Session) bool {
		if sensor && s.Manual {
			return false
		}
		if s.CurrentPhase() != models.PhaseReady {
			return false
		}
		s.Phase = models.PhasePlaying
		s.StartTime = &at
		s.EndTime = nil
		return true
	})
}

func (m *Machine) stop(i int, at time.Time, sensor bool) bool {
	return m.transition(i, transitionName("stop", sensor), func(s *models.Session) bool {
		if sensor && s.Manual {
			return false
		}
		if s.CurrentPhase() != models.PhasePlaying {
			return false
		}
		if s.StartTime != nil && at.Before(*s.StartTime) {
			at = *s.StartTime
		}
		s.Phase = models.PhaseFinished
		s.EndTime = &at
		return true
	})
}

func transitionName(name string, sensor bool) string {
	if sensor {
		return "sensor " + name
	}
	return name
}

// Reset deletes the session of player i.
func (m *Machine) Reset(i int) bool {
	key := models.PlayerKey(i)
	m.state.Update(func(v document.Map) (document.Map, bool) {
		delete(v, key)
		return v, true
	})
	log.Info().Int("player", i).Msg("player reset")
	return true
}

// ManualTime records a run of duration d ending now and finishes the
// session regardless of its phase. It corrects sensor misfires.
func (m *Machine) ManualTime(i int, d time.Duration) bool {
	if d < 0 {
		log.Debug().Int("player", i).Dur("duration", d).Msg("negative manual time rejected")
		return false
	}
	end := m.clock.Now()
	start := end.Add(-d)
	return m.transition(i, "manual time", func(s *models.Session) bool {
		s.Phase = models.PhaseFinished
		s.StartTime = &start
		s.EndTime = &end
		return true
	})
}

// CompleteForm stores the player's form and makes them ready to run.
func (m *Machine) CompleteForm(i int, form map[string]string) bool {
	return m.transition(i, "complete form", func(s *models.Session) bool {
		if s.CurrentPhase() != models.PhaseForm {
			return false
		}
		s.Phase = models.PhaseReady
		s.Form = form
		s.ClearTimes()
		return true
	})
}

// PlayAgain returns a finished player to ready, keeping the form.
func (m *Machine) PlayAgain(i int) bool {
	return m.transition(i, "play again", func(s *models.Session) bool {
		if s.CurrentPhase() != models.PhaseFinished {
			return false
		}
		s.Phase = models.PhaseReady
		s.ClearTimes()
		return true
	})
}

// SetManual toggles operator control of the clock for player i.
func (m *Machine) SetManual(i int, manual bool) bool {
	return m.transition(i, "set manual", func(s *models.Session) bool {
		if s.Manual == manual {
			return false
		}
		s.Manual = manual
		return true
	})
}

// transition runs fn against player i's session inside a single state
// update. Keys in the stored session that Session does not model are kept.
func (m *Machine) transition(i int, name string, fn func(s *models.Session) bool) bool {
	key := models.PlayerKey(i)

	accepted := m.state.Update(func(v document.Map) (document.Map, bool) {
		raw := v[key]
		s, _ := models.SessionFromValue(raw)
		if !s.Phase.Valid() {
			s.Phase = models.PhaseForm
		}
		if !fn(&s) {
			return v, false
		}

		out, ok := raw.(map[string]any)
		if !ok {
			out = map[string]any{}
		}
		delete(out, "startTime")
		delete(out, "endTime")
		delete(out, "form")
		delete(out, "manual")
		for k, val := range s.Value() {
			out[k] = val
		}
		v[key] = out
		return v, true
	})

	evt := log.Debug()
	if accepted {
		evt = log.Info()
	}
	evt.Int("player", i).Str("transition", name).Bool("accepted", accepted).Msg("timer transition")
	return accepted
}
