package sensor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// linePattern matches "<prefix?> <unit> <state>" lines such as "3 opened",
// "sensor 2: close" or "unit#4=OPEN".
var linePattern = regexp.MustCompile(`(?i)^\s*(?:(?:sensor|unit)\s*)?#?(\d+)\s*[:=\-]?\s*(open|opened|close|closed)\s*$`)

// Event is one parsed sensor transition.
type Event struct {
	Port        string    `json:"port,omitempty"`
	Unit        int       `json:"unit"`
	PlayerIndex int       `json:"playerIndex"`
	Open        bool      `json:"open"`
	Raw         string    `json:"raw"`
	At          time.Time `json:"at"`
}

// Parse turns a raw line into an Event. Units are numbered from 1; the
// player index is unit-1. Lines that do not match return false.
func Parse(line string) (Event, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}

	unit, err := strconv.Atoi(m[1])
	if err != nil || unit < 1 {
		return Event{}, false
	}

	return Event{
		Unit:        unit,
		PlayerIndex: unit - 1,
		Open:        strings.HasPrefix(strings.ToLower(m[2]), "open"),
		Raw:         line,
	}, true
}
