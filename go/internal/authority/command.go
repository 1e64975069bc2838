package authority

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mcdev12/timetrial/go/internal/sensor"
)

// Client -> server command names
const (
	CmdRequestState       = "requestState"
	CmdMergeState         = "mergeState"
	CmdSetInState         = "setInState"
	CmdStartTimer         = "startTimer"
	CmdStopTimer          = "stopTimer"
	CmdResetPlayer        = "resetPlayer"
	CmdSubmitScore        = "submitScore"
	CmdRequestLeaderboard = "requestLeaderboard"
	CmdExportSessions     = "exportSessions"
	CmdDeleteData         = "deleteData"
	CmdTimesync           = "timesync"
	CmdCompleteForm       = "completeForm"
	CmdPlayAgain          = "playAgain"
	CmdSetManual          = "setManual"
	CmdManualTime         = "manualTime"

	// cmdSensor carries a parsed sensor line; it has no wire name.
	cmdSensor = "sensor"
)

// ReplyFunc sends an event back to the command's sender only.
type ReplyFunc func(event string, data any)

// Command is one unit of work for the authority.
type Command struct {
	Type    string
	Payload json.RawMessage
	Reply   ReplyFunc

	sensor *sensor.Event
}

type setInStatePayload struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

type playerPayload struct {
	PlayerIndex *int `json:"playerIndex"`
}

type completeFormPayload struct {
	PlayerIndex *int              `json:"playerIndex"`
	Form        map[string]string `json:"form"`
}

type setManualPayload struct {
	PlayerIndex *int `json:"playerIndex"`
	Manual      bool `json:"manual"`
}

type manualTimePayload struct {
	PlayerIndex *int  `json:"playerIndex"`
	ElapsedMs   int64 `json:"elapsedMs"`
}

type timesyncPayload struct {
	ClientTime int64  `json:"clientTime"`
	ID         uint64 `json:"id"`
}

// normalizePayload accepts a payload either as JSON or as a JSON document
// encoded in a string. An empty payload normalizes to nil.
func normalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: not JSON", ErrMalformedPayload)
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}

	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	innerBytes := bytes.TrimSpace([]byte(inner))
	if len(innerBytes) == 0 {
		return nil, nil
	}
	if !json.Valid(innerBytes) {
		return nil, fmt.Errorf("%w: string payload is not JSON", ErrMalformedPayload)
	}
	return innerBytes, nil
}

// decodePlayerIndex reads a bare index (2), or an object with playerIndex.
func decodePlayerIndex(payload json.RawMessage) (int, error) {
	if len(payload) == 0 {
		return 0, ErrMissingPlayer
	}

	var n json.Number
	if err := json.Unmarshal(payload, &n); err == nil {
		return checkIndex(n.String())
	}

	var p playerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.PlayerIndex == nil {
		return 0, ErrMissingPlayer
	}
	return checkIndex(strconv.Itoa(*p.PlayerIndex))
}

func checkIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPlayer, s)
	}
	if i < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPlayer, i)
	}
	return i, nil
}

func requireIndex(p *int) (int, error) {
	if p == nil {
		return 0, ErrMissingPlayer
	}
	return checkIndex(strconv.Itoa(*p))
}
