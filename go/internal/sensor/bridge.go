// Package sensor ingests line-oriented sensor output from serial ports and
// turns it into open/close events per physical unit.
package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate      = 9600
	DefaultRetryInterval = 10 * time.Second
)

// Sink receives everything the bridge reads. Implementations must not block
// for long: calls happen on the port's reader goroutine.
type Sink interface {
	// RawLine is called for every line, matched or not.
	RawLine(port, line string)
	// SensorEvent is called for lines that parse as a sensor transition.
	SensorEvent(ev Event)
}

// Ports lists and opens serial devices.
type Ports interface {
	List() ([]string, error)
	Open(name string, baud int) (io.ReadCloser, error)
}

// SerialPorts is the Ports implementation backed by the OS serial driver.
type SerialPorts struct{}

// List returns the names of the serial ports present on the system.
func (SerialPorts) List() ([]string, error) {
	return serial.GetPortsList()
}

// Open opens name at baud 8N1.
func (SerialPorts) Open(name string, baud int) (io.ReadCloser, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// Config controls the bridge.
type Config struct {
	BaudRate int
	// RetryInterval is the fixed wait between attempts to open a port.
	RetryInterval time.Duration
	// RescanInterval re-enumerates ports to pick up devices plugged in after
	// startup. Zero disables rescanning.
	RescanInterval time.Duration
}

// Bridge watches every serial port independently. A port that cannot be
// opened is retried forever without affecting the others.
type Bridge struct {
	ports  Ports
	sink   Sink
	clock  clockwork.Clock
	config Config

	mu      sync.Mutex
	watched map[string]struct{}
	running bool
	wg      sync.WaitGroup
}

// NewBridge creates a bridge over ports delivering to sink.
func NewBridge(ports Ports, sink Sink, clock clockwork.Clock, cfg Config) *Bridge {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Bridge{
		ports:   ports,
		sink:    sink,
		clock:   clock,
		config:  cfg,
		watched: make(map[string]struct{}),
	}
}

// Run enumerates ports and watches them until ctx is cancelled. It returns
// once every port goroutine has exited.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrBridgeState
	}
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.wg.Wait()
		b.mu.Lock()
		b.running = false
		b.watched = make(map[string]struct{})
		b.mu.Unlock()
	}()

	if err := b.scan(ctx); err != nil {
		log.Warn().Err(err).Msg("serial port scan failed")
	}

	if b.config.RescanInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := b.clock.NewTicker(b.config.RescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := b.scan(ctx); err != nil {
				log.Debug().Err(err).Msg("serial port rescan failed")
			}
		}
	}
}

// Watched returns the names of the ports currently being watched.
func (b *Bridge) Watched() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.watched))
	for name := range b.watched {
		names = append(names, name)
	}
	return names
}

func (b *Bridge) scan(ctx context.Context) error {
	names, err := b.ports.List()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	if len(names) == 0 {
		return ErrNoPorts
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		if _, ok := b.watched[name]; ok {
			continue
		}
		b.watched[name] = struct{}{}
		b.wg.Add(1)
		go b.watch(ctx, name)
		log.Info().Str("port", name).Msg("watching serial port")
	}
	return nil
}

// watch keeps one port open for the lifetime of ctx, reopening it after read
// failures.
func (b *Bridge) watch(ctx context.Context, name string) {
	defer b.wg.Done()

	for {
		port, err := b.open(ctx, name)
		if err != nil {
			// Only cancellation ends the retry loop.
			log.Debug().Err(err).Str("port", name).Msg("stopped watching serial port")
			return
		}

		err = b.read(ctx, name, port)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("port", name).Dur("retry_in", b.config.RetryInterval).Msg("serial port disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-b.clock.After(b.config.RetryInterval):
		}
	}
}

// open retries until the port opens or ctx is cancelled. Waits run on the
// bridge clock.
func (b *Bridge) open(ctx context.Context, name string) (io.ReadCloser, error) {
	policy := backoff.NewConstantBackOff(b.config.RetryInterval)
	for {
		port, err := b.ports.Open(name, b.config.BaudRate)
		if err == nil {
			return port, nil
		}

		next := policy.NextBackOff()
		log.Warn().Err(err).Str("port", name).Dur("retry_in", next).Msg("failed to open serial port")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.clock.After(next):
		}
	}
}

// read forwards lines until the port fails or ctx is cancelled.
func (b *Bridge) read(ctx context.Context, name string, port io.ReadCloser) error {
	log.Info().Str("port", name).Int("baud", b.config.BaudRate).Msg("serial port opened")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		port.Close()
	}()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.sink.RawLine(name, line)

		ev, ok := Parse(line)
		if !ok {
			log.Debug().Str("port", name).Str("line", line).Msg("ignoring unrecognized sensor line")
			continue
		}
		ev.Port = name
		ev.At = b.clock.Now()
		b.sink.SensorEvent(ev)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return ErrPortClosed
}
