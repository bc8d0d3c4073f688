package httpserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/sockpulse/sockpulse/internal/adapter/jwtauth"
	"github.com/sockpulse/sockpulse/internal/envelope"
	"github.com/sockpulse/sockpulse/internal/heartbeat"
	"github.com/sockpulse/sockpulse/internal/platform/config"
	"github.com/sockpulse/sockpulse/internal/registry"
)

const testSecret = "test-secret"

type published struct {
	route  string
	target string
	env    *envelope.Envelope
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) PublishBroadcast(_ context.Context, env *envelope.Envelope) {
	p.record(published{route: "broadcast", env: env})
}

func (p *fakePublisher) PublishToUser(_ context.Context, env *envelope.Envelope, userID string) {
	p.record(published{route: "user", target: userID, env: env})
}

func (p *fakePublisher) PublishToConnection(_ context.Context, env *envelope.Envelope, connectionID string) {
	p.record(published{route: "connection", target: connectionID, env: env})
}

func (p *fakePublisher) PublishToRoom(_ context.Context, env *envelope.Envelope, roomID string) {
	p.record(published{route: "room", target: roomID, env: env})
}

func (p *fakePublisher) record(msg published) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:              "development",
		Port:                "0",
		AppURL:              "http://localhost",
		JWTSecret:           testSecret,
		PingInterval:        50 * time.Millisecond,
		PongTimeout:         150 * time.Millisecond,
		ConnectionTTL:       time.Minute,
		ReconnectBaseDelay:  time.Second,
		ReconnectMaxDelay:   30 * time.Second,
		MaxConnections:      100,
		MaxConnectionsPerIP: 10,
		ConnectionsPerSec:   1000,
		ConnectionBurst:     1000,
	}
}

type serverOption func(*serverDeps)

type serverDeps struct {
	cfg          *config.Config
	healthChecks []HealthCheck
}

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(d *serverDeps) { d.healthChecks = checks }
}

func withConfig(cfg *config.Config) serverOption {
	return func(d *serverDeps) { d.cfg = cfg }
}

func newTestServer(t *testing.T, publisher Publisher, opts ...serverOption) *Server {
	t.Helper()

	deps := &serverDeps{cfg: testConfig()}
	for _, opt := range opts {
		opt(deps)
	}

	clock := clockwork.NewRealClock()
	reg := registry.New(clock)
	monitor, err := heartbeat.NewMonitor(heartbeat.Config{
		PingInterval: deps.cfg.PingInterval,
		PongTimeout:  deps.cfg.PongTimeout,
	}, clock)
	require.NoError(t, err)
	t.Cleanup(monitor.StopAll)

	auth := jwtauth.New(deps.cfg.JWTSecret)
	return NewServer(deps.cfg, reg, monitor, publisher, auth, deps.healthChecks)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
