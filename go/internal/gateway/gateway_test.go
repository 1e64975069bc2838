package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timetrial/go/internal/clocksync"
	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/models"
)

type staticState struct {
	state document.Map
}

func (s staticState) State() document.Map         { return s.state }
func (s staticState) Leaderboard() []models.Entry { return []models.Entry{} }

type recordingMirror struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMirror) Mirror(evt *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt.Event)
}

func (m *recordingMirror) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

var serverNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	return newTestServiceWith(t, DefaultConfig())
}

func newTestServiceWith(t *testing.T, cfg Config) (*Service, *httptest.Server) {
	t.Helper()
	svc := NewService(cfg, staticState{state: document.Map{"players": []any{}}},
		clocksync.NewServer(clockwork.NewFakeClockAt(serverNow)))

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(CORSMiddleware(mux))
	t.Cleanup(srv.Close)
	return svc, srv
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func waitConnections(t *testing.T, svc *Service, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return svc.connectionManager.ConnectionCount() == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBroadcast_AllClientsSeeSameOrder(t *testing.T) {
	svc, srv := newTestService(t)
	mirror := &recordingMirror{}
	svc.SetMirror(mirror)
	startService(t, svc)

	a := dial(t, srv)
	b := dial(t, srv)
	waitConnections(t, svc, 2)

	for i := 0; i < 20; i++ {
		svc.Broadcast(EventSetState, map[string]int{"n": i})
	}

	for _, conn := range []*websocket.Conn{a, b} {
		for i := 0; i < 20; i++ {
			evt := readEvent(t, conn)
			assert.Equal(t, EventSetState, evt.Event)
			var data map[string]int
			require.NoError(t, json.Unmarshal(evt.Data, &data))
			assert.Equal(t, i, data["n"])
		}
	}

	require.Eventually(t, func() bool { return len(mirror.names()) == 20 }, time.Second, 5*time.Millisecond)
}

func TestCommandHandler_ReceivesClientMessagesAndReplies(t *testing.T) {
	svc, srv := newTestService(t)

	received := make(chan *Event, 4)
	svc.SetCommandHandler(func(c *Connection, evt *Event) {
		received <- evt
		c.Reply(EventSetState, map[string]string{"echo": evt.Event})
	})
	startService(t, svc)

	requester := dial(t, srv)
	bystander := dial(t, srv)
	waitConnections(t, svc, 2)

	require.NoError(t, requester.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, requester.WriteJSON(map[string]any{"event": "requestState"}))

	select {
	case evt := <-received:
		assert.Equal(t, "requestState", evt.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("command not received")
	}

	reply := readEvent(t, requester)
	assert.Equal(t, EventSetState, reply.Event)
	assert.JSONEq(t, `{"echo":"requestState"}`, string(reply.Data))

	// Replies are not broadcast.
	svc.Broadcast(EventSerialData, SerialDataPayload{Port: "COM1", Line: "1 open"})
	assert.Equal(t, EventSerialData, readEvent(t, bystander).Event)
}

func TestOnConnect_PushesToNewClient(t *testing.T) {
	svc, srv := newTestService(t)
	svc.OnConnect(func(c *Connection) {
		c.Reply(EventSetState, document.Map{"hello": true})
	})
	startService(t, svc)

	conn := dial(t, srv)
	evt := readEvent(t, conn)
	assert.Equal(t, EventSetState, evt.Event)
	assert.JSONEq(t, `{"hello":true}`, string(evt.Data))
}

func TestSlowClientIsEvicted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectionConfig.SendBufferSize = 1
	svc := NewService(cfg, staticState{}, clocksync.NewServer(clockwork.NewRealClock()))
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	startService(t, svc)

	dial(t, srv) // never reads
	waitConnections(t, svc, 1)

	big := strings.Repeat("x", 1<<20)
	for i := 0; i < 64; i++ {
		svc.Broadcast(EventSetState, big)
	}

	waitConnections(t, svc, 0)
}

func TestPongRefreshesLastPong(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectionConfig.PingInterval = 20 * time.Millisecond
	svc, srv := newTestServiceWith(t, cfg)

	connected := make(chan *Connection, 1)
	svc.OnConnect(func(c *Connection) { connected <- c })
	startService(t, svc)

	client := dial(t, srv)
	// The client answers pings while it reads.
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var c *Connection
	select {
	case c = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}

	first := c.LastPong()
	assert.False(t, first.IsZero())
	require.Eventually(t, func() bool {
		return c.LastPong().After(first)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStateRoutes(t *testing.T) {
	_, srv := newTestService(t)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var state map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Contains(t, state, "players")

	resp, err = http.Get(srv.URL + "/api/time?clientTime=123")
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply clocksync.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, serverNow.UnixMilli(), reply.ServerTime)
	assert.Equal(t, int64(123), reply.ClientTime)

	resp, err = http.Get(srv.URL + "/api/time?clientTime=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Contains(t, stats, "total_connections")
}

func TestParseEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"event":"startTimer","data":2}`))
	require.NoError(t, err)
	assert.Equal(t, "startTimer", evt.Event)
	assert.Equal(t, "2", string(evt.Data))

	_, err = ParseEvent([]byte(`{"data":2}`))
	assert.ErrorIs(t, err, ErrMissingEventName)

	_, err = ParseEvent([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
