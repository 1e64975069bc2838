// Package leaderboard keeps completed sessions and ranks them by elapsed
// time. The submitted sessions are the only stored data; the ranking is
// recomputed from them on every change.
package leaderboard

import (
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/models"
	"github.com/mcdev12/timetrial/go/internal/store"
)

// NewScore announces a submission and where it landed.
type NewScore struct {
	Rank  int          `json:"rank"`
	Entry models.Entry `json:"entry"`
}

// Listener is told about leaderboard changes.
type Listener interface {
	// LeaderboardChanged receives the ranked view after every commit, in
	// commit order. It runs under the sessions document lock.
	LeaderboardChanged(ranked []models.Entry)
	NewScore(score NewScore)
}

// Engine owns the sessions document.
type Engine struct {
	sessions *store.Document[[]models.Entry]
	clock    clockwork.Clock
	listener Listener
}

// NewEngine wires the ranking into the sessions document's change hook.
func NewEngine(sessions *store.Document[[]models.Entry], clock clockwork.Clock, listener Listener) *Engine {
	e := &Engine{sessions: sessions, clock: clock, listener: listener}
	sessions.OnChange(func(entries []models.Entry) {
		if e.listener != nil {
			e.listener.LeaderboardChanged(Rank(entries))
		}
	})
	return e
}

// Submit stamps and appends a completed session. It returns the zero-based
// rank of the new entry in the refreshed ranking.
func (e *Engine) Submit(session models.Session) NewScore {
	entry := models.Entry{
		ID:             uuid.New(),
		SubmissionTime: e.clock.Now(),
		Session:        session,
	}

	var score NewScore
	e.sessions.Update(func(entries []models.Entry) ([]models.Entry, bool) {
		entries = append(entries, entry)
		score = NewScore{Rank: rankOf(Rank(entries), entry.ID), Entry: entry}
		return entries, true
	})

	elapsed, ok := session.Elapsed()
	log.Info().
		Str("entry_id", entry.ID.String()).
		Int("rank", score.Rank).
		Dur("elapsed", elapsed).
		Bool("timed", ok).
		Msg("score submitted")

	if e.listener != nil {
		e.listener.NewScore(score)
	}
	return score
}

// DeleteAll truncates the sessions document.
func (e *Engine) DeleteAll() {
	var removed int
	e.sessions.Update(func(entries []models.Entry) ([]models.Entry, bool) {
		removed = len(entries)
		return []models.Entry{}, true
	})
	log.Warn().Int("removed", removed).Msg("all session data deleted")
}

// Entries returns the sessions in submission order.
func (e *Engine) Entries() []models.Entry {
	entries := e.sessions.Get()
	if entries == nil {
		return []models.Entry{}
	}
	return entries
}

// Ranked returns the current leaderboard.
func (e *Engine) Ranked() []models.Entry {
	return Rank(e.Entries())
}

func rankOf(ranked []models.Entry, id uuid.UUID) int {
	for i, entry := range ranked {
		if entry.ID == id {
			return i
		}
	}
	return -1
}
