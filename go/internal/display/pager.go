package display

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/timetrial/go/internal/leaderboard"
	"github.com/mcdev12/timetrial/go/internal/models"
)

// Page is one screen of the leaderboard.
type Page struct {
	Index     int
	Count     int
	FirstRank int
	Entries   []models.Entry
}

// Pager flips through the ranked leaderboard every PageTimeout, wrapping
// after the last allowed page.
type Pager struct {
	clock  clockwork.Clock
	onPage func(Page)

	mu       sync.Mutex
	settings leaderboard.Settings
	ranked   []models.Entry
	index    int
	retime   chan struct{}
}

// NewPager creates a pager. onPage, if set, is called with every page shown.
func NewPager(clock clockwork.Clock, onPage func(Page)) *Pager {
	return &Pager{
		clock:    clock,
		onPage:   onPage,
		settings: leaderboard.DefaultSettings(),
		retime:   make(chan struct{}, 1),
	}
}

// Update replaces the ranking and settings. The current page is kept when it
// still exists.
func (p *Pager) Update(settings leaderboard.Settings, ranked []models.Entry) {
	p.mu.Lock()
	if settings.PageTimeout != p.settings.PageTimeout {
		select {
		case p.retime <- struct{}{}:
		default:
		}
	}
	p.settings = settings
	p.ranked = ranked
	if p.index >= settings.PageCount(len(ranked)) {
		p.index = 0
	}
	page := p.pageLocked()
	p.mu.Unlock()

	p.emit(page)
}

// Current returns the page on screen.
func (p *Pager) Current() Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageLocked()
}

// Next advances one page, wrapping to the first.
func (p *Pager) Next() Page {
	p.mu.Lock()
	p.index = (p.index + 1) % p.settings.PageCount(len(p.ranked))
	page := p.pageLocked()
	p.mu.Unlock()

	p.emit(page)
	return page
}

// Run advances pages until ctx is done.
func (p *Pager) Run(ctx context.Context) {
	// The ticker below already uses the current timeout.
	select {
	case <-p.retime:
	default:
	}
	ticker := p.clock.NewTicker(p.timeout())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.retime:
			ticker.Reset(p.timeout())
		case <-ticker.Chan():
			p.Next()
		}
	}
}

func (p *Pager) timeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settings.PageTimeout <= 0 {
		return leaderboard.DefaultPageTimeout
	}
	return p.settings.PageTimeout
}

func (p *Pager) pageLocked() Page {
	entries, first := p.settings.Page(p.ranked, p.index)
	return Page{
		Index:     p.index,
		Count:     p.settings.PageCount(len(p.ranked)),
		FirstRank: first,
		Entries:   entries,
	}
}

func (p *Pager) emit(page Page) {
	if p.onPage != nil {
		p.onPage(page)
	}
}
