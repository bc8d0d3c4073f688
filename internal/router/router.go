package router

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sockpulse/sockpulse/internal/envelope"
	"github.com/sockpulse/sockpulse/internal/metrics"
	apperrors "github.com/sockpulse/sockpulse/internal/platform/errors"
)

// BrokerMessage is a single message delivered by the broker. Pattern is set
// only for messages matched through a pattern subscription.
type BrokerMessage struct {
	Channel string
	Pattern string
	Payload []byte
}

// BrokerClient abstracts the pub/sub broker. Connect establishes a fresh
// connection and returns its message stream; the stream closing signals a
// lost connection. Subscribe and PSubscribe apply to the current connection
// only, so subscriptions must be replayed after every Connect.
type BrokerClient interface {
	Connect(ctx context.Context) (<-chan BrokerMessage, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) error
	PSubscribe(ctx context.Context, patterns ...string) error
	Close() error
}

// Handler processes one routed message.
type Handler func(ctx context.Context, msg BrokerMessage)

// Config holds the reconnect backoff bounds.
type Config struct {
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (c Config) validate() error {
	if c.ReconnectBaseDelay <= 0 {
		return apperrors.ValidationError("reconnect base delay must be positive")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return apperrors.ValidationError("reconnect max delay must be >= base delay")
	}
	return nil
}

// Router owns the broker connection for a process. A single goroutine
// consumes the broker stream and dispatches to registered handlers; when the
// stream dies it reconnects with capped exponential backoff and replays all
// subscriptions before processing resumes.
type Router struct {
	broker BrokerClient
	cfg    Config
	clock  clockwork.Clock
	jitter func() float64

	mu              sync.Mutex
	channelHandlers map[string]Handler
	patternHandlers map[string]Handler
	running         bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Router.
type Option func(*Router)

// WithJitterSource overrides the backoff jitter source.
func WithJitterSource(f func() float64) Option {
	return func(r *Router) { r.jitter = f }
}

// New creates a router over the given broker.
func New(broker BrokerClient, cfg Config, clock clockwork.Clock, opts ...Option) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Router{
		broker:          broker,
		cfg:             cfg,
		clock:           clock,
		jitter:          rand.Float64,
		channelHandlers: make(map[string]Handler),
		patternHandlers: make(map[string]Handler),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SubscribeChannel registers a handler for one channel. Registrations
// survive reconnects. When the router is running the subscription is also
// applied to the live connection; otherwise it takes effect on Start.
func (r *Router) SubscribeChannel(ctx context.Context, channel string, h Handler) {
	r.mu.Lock()
	r.channelHandlers[channel] = h
	running := r.running
	r.mu.Unlock()

	if running {
		if err := r.broker.Subscribe(ctx, channel); err != nil {
			slog.Warn("Live subscribe failed, will retry on reconnect",
				"channel", channel, "error", err)
		}
	}
}

// SubscribePattern registers a handler for a channel pattern.
func (r *Router) SubscribePattern(ctx context.Context, pattern string, h Handler) {
	r.mu.Lock()
	r.patternHandlers[pattern] = h
	running := r.running
	r.mu.Unlock()

	if running {
		if err := r.broker.PSubscribe(ctx, pattern); err != nil {
			slog.Warn("Live psubscribe failed, will retry on reconnect",
				"pattern", pattern, "error", err)
		}
	}
}

// Start connects to the broker and begins dispatching. The initial connect
// must succeed; later disconnects are retried internally until Close.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return apperrors.InternalError("router already started", nil)
	}
	r.running = true
	r.mu.Unlock()

	msgs, err := r.broker.Connect(ctx)
	if err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return apperrors.BrokerError("initial broker connect failed", err)
	}
	if err := r.resubscribe(ctx); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return apperrors.BrokerError("initial subscribe failed", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	go r.run(runCtx, msgs)

	slog.Info("Broadcast router started")
	return nil
}

// run is the single consumer loop. It owns reconnection: every time the
// stream closes it redials with backoff and replays subscriptions before
// touching another message.
func (r *Router) run(ctx context.Context, msgs <-chan BrokerMessage) {
	defer close(r.done)

	for {
		if !r.consume(ctx, msgs) {
			return
		}

		var ok bool
		msgs, ok = r.reconnect(ctx)
		if !ok {
			return
		}
	}
}

// consume drains one connection's stream. Returns false when the router is
// shutting down, true when the stream closed and a reconnect is due.
func (r *Router) consume(ctx context.Context, msgs <-chan BrokerMessage) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-msgs:
			if !ok {
				slog.Warn("Broker stream closed, reconnecting")
				return true
			}
			r.dispatch(ctx, msg)
		}
	}
}

// reconnect redials with capped exponential backoff until a connection is
// established and all subscriptions are replayed.
func (r *Router) reconnect(ctx context.Context) (<-chan BrokerMessage, bool) {
	for attempt := 0; ; attempt++ {
		delay := backoffDelay(r.cfg.ReconnectBaseDelay, r.cfg.ReconnectMaxDelay, attempt, r.jitter())
		slog.Info("Broker reconnect scheduled", "attempt", attempt+1, "delay", delay)

		select {
		case <-ctx.Done():
			return nil, false
		case <-r.clock.After(delay):
		}

		msgs, err := r.broker.Connect(ctx)
		if err != nil {
			slog.Warn("Broker reconnect failed", "attempt", attempt+1, "error", err)
			continue
		}
		if err := r.resubscribe(ctx); err != nil {
			slog.Warn("Resubscribe after reconnect failed", "attempt", attempt+1, "error", err)
			continue
		}

		metrics.RouterReconnectsTotal.Inc()
		slog.Info("Broker reconnected", "attempts", attempt+1)
		return msgs, true
	}
}

// resubscribe replays every registered channel and pattern subscription on
// the current connection.
func (r *Router) resubscribe(ctx context.Context) error {
	r.mu.Lock()
	channels := make([]string, 0, len(r.channelHandlers))
	for ch := range r.channelHandlers {
		channels = append(channels, ch)
	}
	patterns := make([]string, 0, len(r.patternHandlers))
	for p := range r.patternHandlers {
		patterns = append(patterns, p)
	}
	r.mu.Unlock()

	if len(channels) > 0 {
		if err := r.broker.Subscribe(ctx, channels...); err != nil {
			return err
		}
	}
	if len(patterns) > 0 {
		if err := r.broker.PSubscribe(ctx, patterns...); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, msg BrokerMessage) {
	metrics.RouterMessagesReceivedTotal.WithLabelValues(channelKind(msg.Channel)).Inc()

	r.mu.Lock()
	h, ok := r.channelHandlers[msg.Channel]
	if !ok && msg.Pattern != "" {
		h, ok = r.patternHandlers[msg.Pattern]
	}
	r.mu.Unlock()

	if !ok {
		metrics.RouterDroppedMessagesTotal.WithLabelValues("no_handler").Inc()
		slog.Debug("No handler for message", "channel", msg.Channel, "pattern", msg.Pattern)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			metrics.RouterHandlerPanicsTotal.Inc()
			slog.Error("Message handler panicked",
				"channel", msg.Channel,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(ctx, msg)
}

// PublishBroadcast publishes an envelope to every instance. Fire and forget:
// failures are logged and counted, never propagated.
func (r *Router) PublishBroadcast(ctx context.Context, env *envelope.Envelope) {
	r.publish(ctx, ChannelBroadcast, env)
}

// PublishToUser publishes an envelope addressed to all connections of a user.
func (r *Router) PublishToUser(ctx context.Context, env *envelope.Envelope, userID string) {
	r.publish(ctx, ChannelForUser(userID), env)
}

// PublishToConnection publishes an envelope addressed to one connection.
func (r *Router) PublishToConnection(ctx context.Context, env *envelope.Envelope, connectionID string) {
	r.publish(ctx, ChannelForConnection(connectionID), env)
}

// PublishToRoom publishes an envelope addressed to all members of a room.
func (r *Router) PublishToRoom(ctx context.Context, env *envelope.Envelope, roomID string) {
	r.publish(ctx, ChannelForRoom(roomID), env)
}

func (r *Router) publish(ctx context.Context, channel string, env *envelope.Envelope) {
	data, err := env.Encode()
	if err != nil {
		metrics.RouterPublishFailuresTotal.Inc()
		slog.Error("Failed to encode envelope for publish",
			"channel", channel, "event_id", env.EventID, "error", err)
		return
	}
	if err := r.broker.Publish(ctx, channel, data); err != nil {
		metrics.RouterPublishFailuresTotal.Inc()
		slog.Warn("Publish failed",
			"channel", channel, "event_id", env.EventID, "error", err)
	}
}

// Close stops the consumer loop, closes the broker connection, and clears
// all handler registrations. Safe to call on a router that never started.
func (r *Router) Close() error {
	r.mu.Lock()
	started := r.running
	r.running = false
	r.mu.Unlock()

	if started && r.cancel != nil {
		r.cancel()
		<-r.done
	}

	err := r.broker.Close()

	r.mu.Lock()
	r.channelHandlers = make(map[string]Handler)
	r.patternHandlers = make(map[string]Handler)
	r.mu.Unlock()

	slog.Info("Broadcast router closed")
	return err
}

// backoffDelay computes the wait before reconnect attempt n (zero-based):
// base doubled per attempt, capped at max, with equal jitter so half the
// delay is deterministic and half scales with the jitter source in [0,1).
func backoffDelay(base, max time.Duration, attempt int, jitter float64) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		delay = max
	}
	half := delay / 2
	return half + time.Duration(jitter*float64(half))
}
