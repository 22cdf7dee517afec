// Package connectivity tracks whether the host has a usable network path
// to the authoritative store and notifies subscribers on transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quillforge/inkwell/internal/logging"
)

// Monitor holds the current online state and a set of edge subscribers.
// The state can be driven by the host environment via SetOnline, by the
// websocket heartbeat loop in Run, or both.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewMonitor creates a monitor that starts offline.
func NewMonitor() *Monitor {
	return &Monitor{
		subs: make(map[int]func(bool)),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state and notifies subscribers on an edge.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	logging.Info("connectivity changed", map[string]interface{}{"online": online})
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers an edge callback and returns an unsubscribe function.
// The callback is invoked with the new state on every transition.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// HeartbeatConfig tunes the websocket heartbeat loop.
type HeartbeatConfig struct {
	// URL is the websocket endpoint kept open as a liveness signal.
	URL string

	// Interval between pings; a missed pong within 2x the interval marks
	// the connection dead.
	Interval time.Duration

	// ReconnectBase/ReconnectMax bound the redial backoff.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// DefaultHeartbeatConfig returns the reference heartbeat configuration.
func DefaultHeartbeatConfig(url string) HeartbeatConfig {
	return HeartbeatConfig{
		URL:           url,
		Interval:      15 * time.Second,
		ReconnectBase: time.Second,
		ReconnectMax:  time.Minute,
	}
}

// Run keeps a websocket connection to the configured endpoint as an
// online/offline signal: a live connection means online, a dial or read
// failure means offline. It redials with capped backoff and returns when
// the context is cancelled.
func (m *Monitor) Run(ctx context.Context, cfg HeartbeatConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}

	delay := cfg.ReconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
		if err != nil {
			m.SetOnline(false)
			logging.Debug("connectivity dial failed",
				map[string]interface{}{"url": cfg.URL, "error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > cfg.ReconnectMax {
				delay = cfg.ReconnectMax
			}
			continue
		}

		delay = cfg.ReconnectBase
		m.SetOnline(true)
		m.hold(ctx, conn, cfg.Interval)
		m.SetOnline(false)
	}
}

// hold pumps pings and reads until the connection dies or ctx is done.
func (m *Monitor) hold(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * interval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * interval))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				return
			}
		}
	}
}
