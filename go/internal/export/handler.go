package export

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/models"
)

// EntrySource returns the sessions in submission order.
type EntrySource func() []models.Entry

// Handler serves GET /api/sessions.csv?start=&end= as a download.
type Handler struct {
	entries  EntrySource
	clock    clockwork.Clock
	location *time.Location
}

// NewHandler creates the download handler.
func NewHandler(entries EntrySource, clock clockwork.Clock, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{entries: entries, clock: clock, location: loc}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rng *Range
	start, end := r.URL.Query().Get("start"), r.URL.Query().Get("end")
	if start != "" || end != "" {
		parsed, err := ParseRange(start, end, h.location)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rng = parsed
	}

	selected := Filter(h.entries(), rng)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="sessions-%s.csv"`, h.clock.Now().In(h.location).Format("20060102-150405")))
	if err := Write(w, selected, h.location); err != nil {
		log.Error().Err(err).Msg("failed to stream sessions export")
	}
}
