package leaderboard

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/models"
	"github.com/mcdev12/timetrial/go/internal/store"
)

var epoch = time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)

type recordingListener struct {
	mu     sync.Mutex
	boards [][]models.Entry
	scores []NewScore
}

func (l *recordingListener) LeaderboardChanged(ranked []models.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.boards = append(l.boards, ranked)
}

func (l *recordingListener) NewScore(score NewScore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scores = append(l.scores, score)
}

func newEngine(t *testing.T) (*Engine, *recordingListener, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	cfg := store.DefaultConfig("sessions")
	cfg.Clock = clock
	doc := store.Open(store.NewFilePersister(filepath.Join(t.TempDir(), "sessions.json"), nil), []models.Entry{}, cfg)
	t.Cleanup(func() { _ = doc.Close() })

	l := &recordingListener{}
	return NewEngine(doc, clock, l), l, clock
}

func timed(name string, d time.Duration) models.Session {
	start := epoch.Add(-time.Hour)
	end := start.Add(d)
	return models.Session{
		Phase:     models.PhaseFinished,
		StartTime: &start,
		EndTime:   &end,
		Form:      map[string]string{"firstName": name},
	}
}

func names(entries []models.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Session.Form["firstName"]
	}
	return out
}

func TestSubmit_RanksAscendingWithStableTies(t *testing.T) {
	e, l, clock := newEngine(t)

	first := e.Submit(timed("slow", 12500*time.Millisecond))
	clock.Advance(time.Second)
	second := e.Submit(timed("tie-a", 8250*time.Millisecond))
	clock.Advance(time.Second)
	third := e.Submit(timed("tie-b", 8250*time.Millisecond))

	assert.Equal(t, []string{"tie-a", "tie-b", "slow"}, names(e.Ranked()))
	assert.Equal(t, []string{"slow", "tie-a", "tie-b"}, names(e.Entries()))

	assert.Equal(t, 0, first.Rank)
	assert.Equal(t, 0, second.Rank)
	assert.Equal(t, 1, third.Rank)

	require.Len(t, l.boards, 3)
	assert.Equal(t, []string{"tie-a", "tie-b", "slow"}, names(l.boards[2]))
	require.Len(t, l.scores, 3)
	assert.Equal(t, third, l.scores[2])
}

func TestSubmit_StampsSubmissionTimeAndID(t *testing.T) {
	e, _, clock := newEngine(t)
	clock.Advance(90 * time.Second)

	score := e.Submit(timed("a", time.Second))

	assert.True(t, score.Entry.SubmissionTime.Equal(epoch.Add(90*time.Second)))
	assert.NotEqual(t, uuid.Nil, score.Entry.ID)

	stored := e.Entries()
	require.Len(t, stored, 1)
	assert.Equal(t, score.Entry.ID, stored[0].ID)
	assert.True(t, stored[0].SubmissionTime.Equal(score.Entry.SubmissionTime))
}

func TestSubmit_UntimedSessionRanksLast(t *testing.T) {
	e, _, _ := newEngine(t)

	e.Submit(timed("timed", 20*time.Second))
	score := e.Submit(models.Session{Phase: models.PhaseFinished, Form: map[string]string{"firstName": "untimed"}})
	e.Submit(timed("fast", 5*time.Second))

	assert.Equal(t, 1, score.Rank)
	assert.Equal(t, []string{"fast", "timed", "untimed"}, names(e.Ranked()))
}

func TestDeleteAll_TruncatesAndBroadcastsEmpty(t *testing.T) {
	e, l, _ := newEngine(t)
	e.Submit(timed("a", time.Second))
	e.Submit(timed("b", 2*time.Second))

	e.DeleteAll()

	assert.Empty(t, e.Entries())
	assert.Empty(t, e.Ranked())
	require.Len(t, l.boards, 3)
	assert.Empty(t, l.boards[2])
}

func TestSettingsFromState(t *testing.T) {
	assert.Equal(t, DefaultSettings(), SettingsFromState(document.Map{}))

	s := SettingsFromState(document.Map{
		models.KeyLeaderboardPageSize:    5.0,
		models.KeyLeaderboardPages:       "3",
		models.KeyLeaderboardPageTimeout: 4.0,
	})
	assert.Equal(t, Settings{PageSize: 5, Pages: 3, PageTimeout: 4 * time.Second}, s)

	s = SettingsFromState(document.Map{models.KeyLeaderboardPageSize: 0.0, models.KeyLeaderboardPages: "x"})
	assert.Equal(t, DefaultSettings(), s)
}

func TestSettings_Page(t *testing.T) {
	var ranked []models.Entry
	for i := 0; i < 12; i++ {
		ranked = append(ranked, models.Entry{Session: timed(string(rune('a'+i)), time.Duration(i+1)*time.Second)})
	}
	s := Settings{PageSize: 5, Pages: 2}

	assert.Equal(t, 2, s.PageCount(len(ranked)), "limited to Pages")
	assert.Equal(t, 1, s.PageCount(0))

	page, first := s.Page(ranked, 1)
	assert.Equal(t, 5, first)
	assert.Equal(t, []string{"f", "g", "h", "i", "j"}, names(page))

	page, first = s.Page(ranked, 2)
	assert.Equal(t, 0, first, "wraps to page 0")
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names(page))

	page, _ = s.Page(nil, 0)
	assert.Empty(t, page)
}
