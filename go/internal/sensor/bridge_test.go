package sensor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakePorts struct {
	mu       sync.Mutex
	names    []string
	failures map[string]int
	attempts map[string]int
	writers  map[string]*io.PipeWriter
}

func newFakePorts(names ...string) *fakePorts {
	return &fakePorts{
		names:    names,
		failures: make(map[string]int),
		attempts: make(map[string]int),
		writers:  make(map[string]*io.PipeWriter),
	}
}

func (f *fakePorts) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...), nil
}

func (f *fakePorts) Open(name string, _ int) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[name]++
	if f.failures[name] > 0 {
		f.failures[name]--
		return nil, errors.New("device busy")
	}
	r, w := io.Pipe()
	f.writers[name] = w
	return r, nil
}

func (f *fakePorts) addPort(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
}

func (f *fakePorts) attemptsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[name]
}

func (f *fakePorts) writer(name string) *io.PipeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writers[name]
}

// waitOpen waits for the attempt-th open of name to produce a live pipe.
func (f *fakePorts) waitOpen(t *testing.T, name string, attempt int) *io.PipeWriter {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.attemptsFor(name) >= attempt && f.writer(name) != nil
	}, 2*time.Second, 2*time.Millisecond)
	return f.writer(name)
}

type recordingSink struct {
	mu     sync.Mutex
	lines  []string
	events []Event
}

func (s *recordingSink) RawLine(_ string, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordingSink) SensorEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) snapshot() ([]string, []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...), append([]Event(nil), s.events...)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) RawLine(port, line string) {
	m.Called(port, line)
}

func (m *mockSink) SensorEvent(ev Event) {
	m.Called(ev)
}

func testBridgeConfig() Config {
	return Config{RetryInterval: 5 * time.Millisecond}
}

func startBridge(t *testing.T, b *Bridge) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop")
		}
	})
	return cancel, done
}

func TestBridge_ForwardsLinesAndEvents(t *testing.T) {
	ports := newFakePorts("COM1")
	sink := &recordingSink{}
	b := NewBridge(ports, sink, clockwork.NewRealClock(), testBridgeConfig())
	startBridge(t, b)

	w := ports.waitOpen(t, "COM1", 1)
	_, err := io.WriteString(w, "3 opened\r\nnoise\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		lines, _ := sink.snapshot()
		return len(lines) == 2
	}, time.Second, 2*time.Millisecond)

	lines, events := sink.snapshot()
	assert.Equal(t, []string{"3 opened", "noise"}, lines)
	require.Len(t, events, 1)
	assert.Equal(t, "COM1", events[0].Port)
	assert.Equal(t, 2, events[0].PlayerIndex)
	assert.True(t, events[0].Open)
	assert.False(t, events[0].At.IsZero())
}

func TestBridge_FailingPortDoesNotBlockOthers(t *testing.T) {
	ports := newFakePorts("COM1", "COM2")
	ports.failures["COM1"] = 1 << 30
	sink := &recordingSink{}
	b := NewBridge(ports, sink, clockwork.NewRealClock(), testBridgeConfig())
	startBridge(t, b)

	w := ports.waitOpen(t, "COM2", 1)
	_, err := io.WriteString(w, "2 closed\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, events := sink.snapshot()
		return len(events) == 1
	}, time.Second, 2*time.Millisecond)

	require.Eventually(t, func() bool { return ports.attemptsFor("COM1") >= 3 }, time.Second, 2*time.Millisecond,
		"open keeps being retried")
}

func TestBridge_ReconnectsAfterReadError(t *testing.T) {
	ports := newFakePorts("COM1")
	sink := &recordingSink{}
	b := NewBridge(ports, sink, clockwork.NewRealClock(), testBridgeConfig())
	startBridge(t, b)

	first := ports.waitOpen(t, "COM1", 1)
	first.CloseWithError(errors.New("cable pulled"))

	require.Eventually(t, func() bool {
		return ports.attemptsFor("COM1") >= 2 && ports.writer("COM1") != first
	}, 2*time.Second, 2*time.Millisecond)

	_, err := io.WriteString(ports.writer("COM1"), "1 open\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, events := sink.snapshot()
		return len(events) == 1
	}, time.Second, 2*time.Millisecond)
}

func TestBridge_OpenRetriesFollowBridgeClock(t *testing.T) {
	ports := newFakePorts("COM1")
	ports.failures["COM1"] = 2
	clock := clockwork.NewFakeClock()
	b := NewBridge(ports, &recordingSink{}, clock, Config{RetryInterval: time.Minute})
	startBridge(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		assert.Equal(t, attempt, ports.attemptsFor("COM1"))
		clock.Advance(time.Minute)
	}
	ports.waitOpen(t, "COM1", 3)
}

func TestBridge_RescanPicksUpNewPorts(t *testing.T) {
	ports := newFakePorts("COM1")
	cfg := testBridgeConfig()
	cfg.RescanInterval = 10 * time.Millisecond
	b := NewBridge(ports, &recordingSink{}, clockwork.NewRealClock(), cfg)
	startBridge(t, b)

	ports.waitOpen(t, "COM1", 1)
	ports.addPort("COM9")
	ports.waitOpen(t, "COM9", 1)

	assert.ElementsMatch(t, []string{"COM1", "COM9"}, b.Watched())
}

func TestBridge_StopsOnCancel(t *testing.T) {
	ports := newFakePorts("COM1", "COM2")
	ports.failures["COM2"] = 1 << 30
	b := NewBridge(ports, &recordingSink{}, clockwork.NewRealClock(), testBridgeConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	ports.waitOpen(t, "COM1", 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.Empty(t, b.Watched())
}

func TestBridge_RunTwice(t *testing.T) {
	ports := newFakePorts("COM1")
	b := NewBridge(ports, &recordingSink{}, clockwork.NewRealClock(), testBridgeConfig())
	startBridge(t, b)
	ports.waitOpen(t, "COM1", 1)

	assert.ErrorIs(t, b.Run(context.Background()), ErrBridgeState)
}

func TestBridge_MockSinkReceivesParsedEvent(t *testing.T) {
	ports := newFakePorts("ttyUSB0")
	sink := &mockSink{}
	got := make(chan Event, 1)
	sink.On("RawLine", "ttyUSB0", "unit 3 opened").Return().Once()
	sink.On("SensorEvent", mock.MatchedBy(func(ev Event) bool {
		return ev.Unit == 3 && ev.Open && ev.Port == "ttyUSB0"
	})).Run(func(args mock.Arguments) {
		got <- args.Get(0).(Event)
	}).Return().Once()

	b := NewBridge(ports, sink, clockwork.NewRealClock(), testBridgeConfig())
	startBridge(t, b)

	w := ports.waitOpen(t, "ttyUSB0", 1)
	_, err := io.WriteString(w, "unit 3 opened\n")
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, 2, ev.PlayerIndex)
	case <-time.After(time.Second):
		t.Fatal("no sensor event")
	}
	sink.AssertExpectations(t)
}
