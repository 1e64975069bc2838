// Package export writes submitted sessions as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/models"
)

const (
	DateLayout = "01/02/2006"
	TimeLayout = "15:04:05"
)

// Columns is the fixed CSV header.
var Columns = append(append([]string{}, models.FormFields...), "date", "time", "score")

// Range bounds an export by submission time. Both bounds are exclusive.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies strictly between the bounds.
func (r Range) Contains(t time.Time) bool {
	return t.After(r.Start) && t.Before(r.End)
}

// Filter keeps the entries submitted strictly inside rng. A nil range keeps
// everything.
func Filter(entries []models.Entry, rng *Range) []models.Entry {
	if rng == nil {
		return entries
	}
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if rng.Contains(e.SubmissionTime) {
			out = append(out, e)
		}
	}
	return out
}

// Record flattens an entry into CSV cells in Columns order. Missing form
// fields or times become empty cells.
func Record(e models.Entry, loc *time.Location) []string {
	rec := make([]string, 0, len(Columns))
	for _, field := range models.FormFields {
		rec = append(rec, e.Session.Form[field])
	}

	if e.SubmissionTime.IsZero() {
		rec = append(rec, "", "")
	} else {
		ts := e.SubmissionTime.In(loc)
		rec = append(rec, ts.Format(DateLayout), ts.Format(TimeLayout))
	}

	if d, ok := e.Elapsed(); ok {
		rec = append(rec, FormatScore(d))
	} else {
		rec = append(rec, "")
	}
	return rec
}

// FormatScore renders d as minutes:seconds.milliseconds, e.g. 1:05.250.
func FormatScore(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

// Write emits the header and one row per entry.
func Write(w io.Writer, entries []models.Entry, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write(Record(e, loc)); err != nil {
			return fmt.Errorf("write entry %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Exporter writes export files into a directory.
type Exporter struct {
	dir      string
	clock    clockwork.Clock
	location *time.Location
}

// NewExporter creates an exporter writing into dir.
func NewExporter(dir string, clock clockwork.Clock, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{dir: dir, clock: clock, location: loc}
}

// Export filters entries by rng and writes them to a new timestamped file.
// It returns the file's path.
func (x *Exporter) Export(entries []models.Entry, rng *Range) (string, error) {
	selected := Filter(entries, rng)

	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	name := fmt.Sprintf("sessions-%s.csv", x.clock.Now().In(x.location).Format("20060102-150405"))
	path := filepath.Join(x.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := Write(f, selected, x.location); err != nil {
		f.Close()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("rows", len(selected)).
		Int("total", len(entries)).
		Msg("sessions exported")
	return path, nil
}

// Location is the zone used for the date and time columns.
func (x *Exporter) Location() *time.Location {
	return x.location
}
