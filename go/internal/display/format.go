// Package display holds the presentation logic shared by the public
// displays: timer text, score formatting and leaderboard paging.
package display

import (
	"fmt"
	"time"

	"github.com/mcdev12/timetrial/go/internal/export"
	"github.com/mcdev12/timetrial/go/internal/models"
)

// IdleTimer is shown for a player who has not started.
const IdleTimer = "00:00"

// FormatElapsed renders a running timer as mm:ss.S. Negative durations show
// as zero.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	tenths := d / (100 * time.Millisecond)
	minutes := tenths / 600
	seconds := (tenths / 10) % 60
	return fmt.Sprintf("%02d:%02d.%d", minutes, seconds, tenths%10)
}

// FormatScore renders a final time the way the leaderboard and exports show
// it.
func FormatScore(d time.Duration) string {
	return export.FormatScore(d)
}

// TimerText is the timer shown for s at serverNow. A session without a start
// is idle; one whose end is missing or precedes its start is still running.
func TimerText(s models.Session, serverNow time.Time) string {
	if s.StartTime == nil {
		return IdleTimer
	}
	if d, ok := s.Elapsed(); ok {
		return FormatElapsed(d)
	}
	return FormatElapsed(serverNow.Sub(*s.StartTime))
}
