package store

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Debouncer runs fn once, window after the last Reset. It only fires on the
// trailing edge. Each Reset cancels the pending run and schedules a new one.
type Debouncer struct {
	clock  clockwork.Clock
	window time.Duration
	fn     func() error

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	pending bool
}

// NewDebouncer creates a debouncer that calls fn on clock.
func NewDebouncer(clock clockwork.Clock, window time.Duration, fn func() error) *Debouncer {
	return &Debouncer{
		clock:  clock,
		window: window,
		fn:     fn,
	}
}

// Reset (re)schedules fn to run window from now.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(gen) })
}

// Cancel drops the pending run, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	d.pending = false
}

// Flush runs fn now if a run is pending and returns its error.
func (d *Debouncer) Flush() error {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return nil
	}
	d.stopLocked()
	d.gen++
	d.pending = false
	d.mu.Unlock()

	return d.fn()
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A Reset or Cancel raced with this timer; the newer schedule wins.
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	_ = d.fn()
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
