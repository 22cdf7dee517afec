package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor()
	assert.False(t, m.Online())
}

func TestSetOnlineNotifiesOnEdgesOnly(t *testing.T) {
	m := NewMonitor()

	var mu sync.Mutex
	var got []bool
	unsubscribe := m.Subscribe(func(online bool) {
		mu.Lock()
		got = append(got, online)
		mu.Unlock()
	})

	m.SetOnline(true)
	m.SetOnline(true) // no edge
	m.SetOnline(false)

	mu.Lock()
	assert.Equal(t, []bool{true, false}, got)
	mu.Unlock()

	unsubscribe()
	m.SetOnline(true)

	mu.Lock()
	assert.Len(t, got, 2, "unsubscribed callback is not invoked")
	mu.Unlock()
}

func TestRunTracksHeartbeatConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
		// Pump the connection so ping/pong control frames are processed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewMonitor()
	transitions := make(chan bool, 8)
	m.Subscribe(func(online bool) { transitions <- online })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		m.Run(ctx, HeartbeatConfig{
			URL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
			Interval:      50 * time.Millisecond,
			ReconnectBase: 20 * time.Millisecond,
			ReconnectMax:  100 * time.Millisecond,
		})
	}()

	select {
	case online := <-transitions:
		assert.True(t, online, "a live heartbeat connection means online")
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never came online")
	}
	assert.True(t, m.Online())

	// Killing the connection server-side must flip the monitor offline.
	conn := <-accepted
	conn.Close()

	select {
	case online := <-transitions:
		assert.False(t, online, "a dead heartbeat connection means offline")
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never went offline after the connection died")
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunGoesOfflineWhenDialFails(t *testing.T) {
	m := NewMonitor()
	m.SetOnline(true) // host believed it was online

	transitions := make(chan bool, 8)
	m.Subscribe(func(online bool) { transitions <- online })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, HeartbeatConfig{
		URL:           "ws://127.0.0.1:1/heartbeat", // nothing listens here
		Interval:      50 * time.Millisecond,
		ReconnectBase: 20 * time.Millisecond,
		ReconnectMax:  100 * time.Millisecond,
	})

	select {
	case online := <-transitions:
		assert.False(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never reported the dial failure")
	}
	assert.False(t, m.Online())
}

func TestDefaultHeartbeatConfig(t *testing.T) {
	cfg := DefaultHeartbeatConfig("wss://sync.example.com/heartbeat")
	require.Equal(t, "wss://sync.example.com/heartbeat", cfg.URL)
	assert.Equal(t, 15*time.Second, cfg.Interval)
	assert.Equal(t, time.Second, cfg.ReconnectBase)
	assert.Equal(t, time.Minute, cfg.ReconnectMax)
}
