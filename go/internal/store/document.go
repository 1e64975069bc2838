// Package store owns the canonical in-memory documents and persists them on a
// trailing debounce. Every mutation runs read-modify-broadcast-schedule under
// the document lock, so observers see changes in commit order.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultSaveWindow is the quiet period after the last mutation before a
// document is written.
const DefaultSaveWindow = 400 * time.Millisecond

// Config holds the tunables shared by all documents.
type Config struct {
	Name          string
	Clock         clockwork.Clock
	SaveWindow    time.Duration
	SaveTries     uint
	RetryInterval time.Duration
}

// DefaultConfig returns production settings for a document called name.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		Clock:         clockwork.NewRealClock(),
		SaveWindow:    DefaultSaveWindow,
		SaveTries:     5,
		RetryInterval: 200 * time.Millisecond,
	}
}

// Document is a single-writer container for a JSON-shaped value of type T.
type Document[T any] struct {
	name      string
	persister Persister
	config    Config
	debounce  *Debouncer

	mu       sync.Mutex
	value    T
	version  uint64
	saved    uint64
	onChange func(T)

	saveMu sync.Mutex
}

// Open loads a document through p. Any load failure falls back to def and is
// logged; Open never fails.
func Open[T any](p Persister, def T, cfg Config) *Document[T] {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SaveWindow <= 0 {
		cfg.SaveWindow = DefaultSaveWindow
	}
	if cfg.SaveTries == 0 {
		cfg.SaveTries = 1
	}

	d := &Document[T]{
		name:      cfg.Name,
		persister: p,
		config:    cfg,
		value:     load(p, def, cfg),
	}
	d.debounce = NewDebouncer(cfg.Clock, cfg.SaveWindow, d.scheduledSave)
	return d
}

func load[T any](p Persister, def T, cfg Config) T {
	data, err := p.Load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info().Str("document", cfg.Name).Msg("no stored document, using defaults")
		} else {
			log.Warn().Err(err).Str("document", cfg.Name).Msg("failed to load document, using defaults")
			quarantine(p, cfg)
		}
		return clone(def)
	}

	if string(data) == "null" {
		return clone(def)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		log.Warn().Err(err).Str("document", cfg.Name).Msg("stored document is malformed, using defaults")
		quarantine(p, cfg)
		return clone(def)
	}

	log.Info().Str("document", cfg.Name).Int("bytes", len(data)).Msg("document loaded")
	return v
}

// quarantine keeps an unreadable document from being overwritten by the
// defaults on the first save.
func quarantine(p Persister, cfg Config) {
	q, ok := p.(Quarantiner)
	if !ok {
		return
	}
	dst, err := q.Quarantine(cfg.Clock.Now().UTC().Format("20060102T150405Z"))
	if err != nil {
		log.Error().Err(err).Str("document", cfg.Name).Msg("failed to move unreadable document aside")
		return
	}
	log.Warn().Str("document", cfg.Name).Str("path", dst).Msg("unreadable document moved aside")
}

// OnChange registers fn to receive every committed value. fn runs while the
// document is locked: it must not retain v or call back into the document.
func (d *Document[T]) OnChange(fn func(v T)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// Get returns a deep copy of the current value.
func (d *Document[T]) Get() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return clone(d.value)
}

// Update applies fn to a copy of the current value. When fn reports a change
// the result becomes the new value, observers are notified and a save is
// scheduled. It returns whether a change was committed.
func (d *Document[T]) Update(fn func(v T) (T, bool)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, changed := fn(clone(d.value))
	if !changed {
		return false
	}

	d.value = next
	d.version++
	if d.onChange != nil {
		d.onChange(d.value)
	}
	d.debounce.Reset()
	return true
}

// Replace swaps the whole value.
func (d *Document[T]) Replace(v T) {
	d.Update(func(T) (T, bool) { return clone(v), true })
}

// Flush writes any unsaved change now.
func (d *Document[T]) Flush() error {
	d.debounce.Cancel()
	return d.save(false)
}

// Close flushes pending changes. The document stays readable.
func (d *Document[T]) Close() error {
	if err := d.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", d.name, err)
	}
	return nil
}

// Dirty reports whether the in-memory value is newer than the stored one.
func (d *Document[T]) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version != d.saved
}

func (d *Document[T]) scheduledSave() error {
	return d.save(true)
}

// save writes the latest value. Writes are serialized and each one snapshots
// under the lock, so a later write never carries an older value.
func (d *Document[T]) save(rearm bool) error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.mu.Lock()
	if d.version == d.saved {
		d.mu.Unlock()
		return nil
	}
	version := d.version
	data, err := json.Marshal(d.value)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.name, err)
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = d.config.RetryInterval

	_, err = backoff.Retry(context.Background(), func() (struct{}, error) {
		return struct{}{}, d.persister.Save(data)
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxTries(d.config.SaveTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("document", d.name).Dur("retry_in", next).Msg("document save failed, retrying")
		}),
	)
	if err != nil {
		log.Error().Err(err).Str("document", d.name).Bool("rescheduled", rearm).Msg("document save failed")
		// Keep the change dirty; try again after another quiet window.
		if rearm {
			d.debounce.Reset()
		}
		return fmt.Errorf("save %s: %w", d.name, err)
	}

	d.mu.Lock()
	if version > d.saved {
		d.saved = version
	}
	d.mu.Unlock()

	log.Debug().Str("document", d.name).Int("bytes", len(data)).Msg("document saved")
	return nil
}

func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: clone: %v", err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("store: clone: %v", err))
	}
	return out
}
