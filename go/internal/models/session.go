package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Phase is the step of a player's timer lifecycle.
type Phase string

const (
	PhaseForm     Phase = "form"
	PhaseReady    Phase = "ready"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseForm, PhaseReady, PhasePlaying, PhaseFinished:
		return true
	}
	return false
}

// PlayerKeyPrefix prefixes the GameState key holding a player's session.
const PlayerKeyPrefix = "player-"

// PlayerKey returns the GameState key for the session of player i.
func PlayerKey(i int) string {
	return PlayerKeyPrefix + strconv.Itoa(i)
}

// ParsePlayerKey is the inverse of PlayerKey.
func ParsePlayerKey(key string) (int, bool) {
	if !strings.HasPrefix(key, PlayerKeyPrefix) {
		return 0, false
	}
	i, err := strconv.Atoi(key[len(PlayerKeyPrefix):])
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Session is one player's attempt. Absent timestamps mean the phase that sets
// them has not been reached yet.
type Session struct {
	Phase     Phase             `json:"phase"`
	StartTime *time.Time        `json:"startTime,omitempty"`
	EndTime   *time.Time        `json:"endTime,omitempty"`
	Form      map[string]string `json:"form,omitempty"`
	Manual    bool              `json:"manual,omitempty"`
}

// CurrentPhase treats a missing or unknown phase as the form step.
func (s Session) CurrentPhase() Phase {
	if !s.Phase.Valid() {
		return PhaseForm
	}
	return s.Phase
}

// Elapsed returns endTime - startTime. ok is false unless both timestamps are
// present and ordered.
func (s Session) Elapsed() (d time.Duration, ok bool) {
	if s.StartTime == nil || s.EndTime == nil {
		return 0, false
	}
	if s.EndTime.Before(*s.StartTime) {
		return 0, false
	}
	return s.EndTime.Sub(*s.StartTime), true
}

// ClearTimes drops both timestamps.
func (s *Session) ClearTimes() {
	s.StartTime = nil
	s.EndTime = nil
}

// sessionWire tolerates the loose shapes tablets write: empty-string or
// epoch-millisecond timestamps, numeric form values and null maps.
type sessionWire struct {
	Phase     json.RawMessage            `json:"phase"`
	StartTime json.RawMessage            `json:"startTime"`
	EndTime   json.RawMessage            `json:"endTime"`
	Form      map[string]json.RawMessage `json:"form"`
	Manual    json.RawMessage            `json:"manual"`
}

// UnmarshalJSON implements json.Unmarshaler. Only a non-object fails; a
// field of the wrong type decodes as absent.
func (s *Session) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("decode session: not an object")
	}

	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		// Only form can mismatch here; drop it.
		w = sessionWire{
			Phase:     fields["phase"],
			StartTime: fields["startTime"],
			EndTime:   fields["endTime"],
			Manual:    fields["manual"],
		}
	}

	var phase string
	_ = json.Unmarshal(w.Phase, &phase)
	var manual bool
	_ = json.Unmarshal(w.Manual, &manual)

	*s = Session{
		Phase:     Phase(phase),
		StartTime: ParseTimestamp(w.StartTime),
		EndTime:   ParseTimestamp(w.EndTime),
		Manual:    manual,
	}
	if len(w.Form) > 0 {
		s.Form = make(map[string]string, len(w.Form))
		for k, raw := range w.Form {
			s.Form[k] = formValue(raw)
		}
	}
	return nil
}

// ParseTimestamp reads a stored timestamp: an RFC 3339 string or a number of
// milliseconds since the Unix epoch. Anything else, including "" and null,
// is absent.
func ParseTimestamp(raw json.RawMessage) *time.Time {
	if len(raw) == 0 {
		return nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if str == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return nil
		}
		return &t
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		t := time.UnixMilli(int64(ms)).UTC()
		return &t
	}
	return nil
}

// formValue flattens a form value to text; non-string JSON is kept verbatim.
func formValue(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// SessionFromValue decodes a GameState value (as produced by encoding/json
// into an any) into a Session.
func SessionFromValue(v any) (Session, bool) {
	if v == nil {
		return Session{}, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Session{}, false
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, false
	}
	return s, true
}

// Value converts the session to the generic JSON shape stored in GameState.
func (s Session) Value() map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		// Session only holds strings, bools and times.
		panic(fmt.Sprintf("marshal session: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("unmarshal session: %v", err))
	}
	return out
}
