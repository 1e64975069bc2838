package leaderboard

import (
	"sort"
	"time"

	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/models"
)

const (
	DefaultPageSize    = 10
	DefaultPages       = 1
	DefaultPageTimeout = 10 * time.Second
)

// Rank returns entries ordered by elapsed time ascending. Ties keep
// submission order; entries without a usable elapsed time sort last.
func Rank(entries []models.Entry) []models.Entry {
	ranked := make([]models.Entry, len(entries))
	copy(ranked, entries)

	sort.SliceStable(ranked, func(a, b int) bool {
		da, okA := ranked[a].Elapsed()
		db, okB := ranked[b].Elapsed()
		switch {
		case okA && okB:
			return da < db
		case okA:
			return true
		default:
			return false
		}
	})
	return ranked
}

// Settings are the leaderboard pagination parameters held in GameState.
type Settings struct {
	PageSize    int           `json:"pageSize"`
	Pages       int           `json:"pages"`
	PageTimeout time.Duration `json:"pageTimeout"`
}

// DefaultSettings shows one page of ten, flipping every ten seconds.
func DefaultSettings() Settings {
	return Settings{
		PageSize:    DefaultPageSize,
		Pages:       DefaultPages,
		PageTimeout: DefaultPageTimeout,
	}
}

// SettingsFromState reads the pagination keys, falling back to defaults for
// missing or non-positive values. The timeout is stored in seconds.
func SettingsFromState(state document.Map) Settings {
	s := DefaultSettings()
	if n, ok := document.Int(state, models.KeyLeaderboardPageSize); ok && n > 0 {
		s.PageSize = n
	}
	if n, ok := document.Int(state, models.KeyLeaderboardPages); ok && n > 0 {
		s.Pages = n
	}
	if n, ok := document.Int(state, models.KeyLeaderboardPageTimeout); ok && n > 0 {
		s.PageTimeout = time.Duration(n) * time.Second
	}
	return s
}

// PageCount is the number of pages shown for total ranked entries. There is
// always at least one page, possibly empty.
func (s Settings) PageCount(total int) int {
	if s.PageSize <= 0 {
		return 1
	}
	n := (total + s.PageSize - 1) / s.PageSize
	if n > s.Pages {
		n = s.Pages
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Page returns page n of ranked, wrapping past the last page to 0. The
// second value is the first rank on the page.
func (s Settings) Page(ranked []models.Entry, n int) ([]models.Entry, int) {
	count := s.PageCount(len(ranked))
	n %= count
	if n < 0 {
		n += count
	}

	start := n * s.PageSize
	if start >= len(ranked) {
		return nil, start
	}
	end := start + s.PageSize
	if end > len(ranked) {
		end = len(ranked)
	}
	return ranked[start:end], start
}
