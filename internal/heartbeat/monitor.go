package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sockpulse/sockpulse/internal/envelope"
	"github.com/sockpulse/sockpulse/internal/metrics"
)

const sendTimeout = 5 * time.Second

// Sender is the minimal transport surface the monitor needs to push pings.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Config holds heartbeat timing. PongTimeout must be strictly greater than
// PingInterval: a timeout at or below the interval can never be satisfied.
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
}

func (c Config) validate() error {
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive, got %v", c.PingInterval)
	}
	if c.PongTimeout <= 0 {
		return fmt.Errorf("pong timeout must be positive, got %v", c.PongTimeout)
	}
	if c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("pong timeout (%v) must be greater than ping interval (%v)", c.PongTimeout, c.PingInterval)
	}
	return nil
}

// Health describes the liveness of a single watched connection.
type Health struct {
	ConnectionID string
	LastPong     time.Time
	Alive        bool
}

// Metrics aggregates liveness across all watched connections.
type Metrics struct {
	Monitored int
	Alive     int
	Stale     int
}

type watch struct {
	lastPong time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// Monitor runs one heartbeat loop per watched connection.
type Monitor struct {
	cfg    Config
	clock  clockwork.Clock
	onBeat func(connectionID string)

	mu      sync.Mutex
	watches map[string]*watch
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithBeatHook registers a hook invoked after every successful ping send.
// The registry uses it to refresh distributed record TTLs.
func WithBeatHook(hook func(connectionID string)) Option {
	return func(m *Monitor) { m.onBeat = hook }
}

// NewMonitor validates cfg and creates a monitor. No goroutines are started
// until Watch is called.
func NewMonitor(cfg Config, clock clockwork.Clock, opts ...Option) (*Monitor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("heartbeat config: %w", err)
	}
	m := &Monitor{
		cfg:     cfg,
		clock:   clock,
		watches: make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Watch starts heartbeat monitoring for a connection. onDead is invoked at
// most once, from the connection's own heartbeat goroutine, when the pong
// timeout lapses or a ping send fails; the goroutine then exits.
func (m *Monitor) Watch(connectionID string, sender Sender, onDead func(connectionID string)) error {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{
		lastPong: m.clock.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.watches[connectionID]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("connection %s is already monitored", connectionID)
	}
	m.watches[connectionID] = w
	monitored := len(m.watches)
	m.mu.Unlock()

	metrics.HeartbeatMonitoredConnections.Set(float64(monitored))

	go m.run(ctx, connectionID, sender, onDead, w)
	return nil
}

func (m *Monitor) run(ctx context.Context, connectionID string, sender Sender, onDead func(string), w *watch) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.cfg.PingInterval):
		}

		lastPong, ok := m.lastPong(connectionID)
		if !ok {
			// Stopped concurrently.
			return
		}

		if m.clock.Since(lastPong) >= m.cfg.PongTimeout {
			slog.Info("Connection heartbeat timed out",
				"connection_id", connectionID,
				"last_pong", lastPong,
				"pong_timeout", m.cfg.PongTimeout,
			)
			metrics.HeartbeatTimeoutsTotal.Inc()
			m.discard(connectionID)
			onDead(connectionID)
			return
		}

		data, err := envelope.Ping().Encode()
		if err != nil {
			// Pings carry no data; encoding cannot realistically fail.
			slog.Error("Failed to encode ping", "error", err)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = sender.Send(sendCtx, data)
		cancel()
		if err != nil {
			slog.Debug("Ping send failed, marking connection dead",
				"connection_id", connectionID,
				"error", err,
			)
			metrics.HeartbeatPingFailuresTotal.Inc()
			m.discard(connectionID)
			onDead(connectionID)
			return
		}

		if m.onBeat != nil {
			m.onBeat(connectionID)
		}
	}
}

// RecordPong updates the last-pong timestamp. Unknown connection ids are a
// no-op: a pong may race the teardown of its own connection.
func (m *Monitor) RecordPong(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watches[connectionID]; ok {
		w.lastPong = m.clock.Now()
	}
}

// Stop cancels the heartbeat task for a connection and discards its record.
// Safe to call for unknown ids. Returns whether a watch was removed.
// Stop does not wait for the goroutine to exit: it may currently be inside
// the onDead callback, which itself often calls Stop.
func (m *Monitor) Stop(connectionID string) bool {
	m.mu.Lock()
	w, ok := m.watches[connectionID]
	if ok {
		delete(m.watches, connectionID)
	}
	monitored := len(m.watches)
	m.mu.Unlock()

	if !ok {
		return false
	}
	w.cancel()
	metrics.HeartbeatMonitoredConnections.Set(float64(monitored))
	return true
}

// StopAll cancels every heartbeat task and waits for the goroutines to exit.
// Intended for process shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	watches := m.watches
	m.watches = make(map[string]*watch)
	m.mu.Unlock()

	for _, w := range watches {
		w.cancel()
	}
	for _, w := range watches {
		<-w.done
	}
	metrics.HeartbeatMonitoredConnections.Set(0)
}

// IsAlive reports whether a connection's last pong is within the timeout.
// Unknown connections are not alive.
func (m *Monitor) IsAlive(connectionID string) bool {
	lastPong, ok := m.lastPong(connectionID)
	if !ok {
		return false
	}
	return m.clock.Since(lastPong) < m.cfg.PongTimeout
}

// ConnectionHealth returns the health record for one connection.
func (m *Monitor) ConnectionHealth(connectionID string) (Health, bool) {
	lastPong, ok := m.lastPong(connectionID)
	if !ok {
		return Health{}, false
	}
	return Health{
		ConnectionID: connectionID,
		LastPong:     lastPong,
		Alive:        m.clock.Since(lastPong) < m.cfg.PongTimeout,
	}, true
}

// AllHealth returns aggregate liveness counts for observability.
func (m *Monitor) AllHealth() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := Metrics{Monitored: len(m.watches)}
	for _, w := range m.watches {
		if m.clock.Since(w.lastPong) < m.cfg.PongTimeout {
			agg.Alive++
		} else {
			agg.Stale++
		}
	}
	return agg
}

func (m *Monitor) lastPong(connectionID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[connectionID]
	if !ok {
		return time.Time{}, false
	}
	return w.lastPong, true
}

func (m *Monitor) discard(connectionID string) {
	m.mu.Lock()
	delete(m.watches, connectionID)
	monitored := len(m.watches)
	m.mu.Unlock()
	metrics.HeartbeatMonitoredConnections.Set(float64(monitored))
}
