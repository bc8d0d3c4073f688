// Package relay turns routed broker messages into local deliveries. It
// subscribes the process to the broadcast channel and the targeted channel
// families and hands decoded envelopes to the connection registry.
package relay

import (
	"context"
	"log/slog"

	"github.com/sockpulse/sockpulse/internal/envelope"
	"github.com/sockpulse/sockpulse/internal/metrics"
	"github.com/sockpulse/sockpulse/internal/router"
)

// Subscriber registers handlers for broker channels and patterns.
type Subscriber interface {
	SubscribeChannel(ctx context.Context, channel string, h router.Handler)
	SubscribePattern(ctx context.Context, pattern string, h router.Handler)
}

// Deliverer fans envelopes out to locally held connections.
type Deliverer interface {
	Broadcast(ctx context.Context, env *envelope.Envelope) int
	SendToUser(ctx context.Context, env *envelope.Envelope, userID string) int
	SendPersonal(ctx context.Context, env *envelope.Envelope, connectionID string) bool
	SendToRoom(ctx context.Context, env *envelope.Envelope, roomID string) int
}

// Relay wires a subscriber to a deliverer.
type Relay struct {
	deliverer Deliverer
}

// New creates a relay delivering into the given registry.
func New(deliverer Deliverer) *Relay {
	return &Relay{deliverer: deliverer}
}

// Attach registers all channel subscriptions on the subscriber. Call before
// the router starts so the initial connection already carries them.
func (r *Relay) Attach(ctx context.Context, sub Subscriber) {
	sub.SubscribeChannel(ctx, router.ChannelBroadcast, r.handleBroadcast)
	sub.SubscribePattern(ctx, router.PatternUserChannels, r.handleUser)
	sub.SubscribePattern(ctx, router.PatternConnectionChannels, r.handleConnection)
	sub.SubscribePattern(ctx, router.PatternRoomChannels, r.handleRoom)
}

func (r *Relay) handleBroadcast(ctx context.Context, msg router.BrokerMessage) {
	env, ok := r.decode(msg)
	if !ok {
		return
	}
	count := r.deliverer.Broadcast(ctx, env)
	slog.Debug("Relayed broadcast", "event_id", env.EventID, "delivered", count)
}

func (r *Relay) handleUser(ctx context.Context, msg router.BrokerMessage) {
	userID, ok := router.UserFromChannel(msg.Channel)
	if !ok {
		r.dropUnroutable(msg)
		return
	}
	env, ok := r.decode(msg)
	if !ok {
		return
	}
	count := r.deliverer.SendToUser(ctx, env, userID)
	slog.Debug("Relayed user message",
		"event_id", env.EventID, "user_id", userID, "delivered", count)
}

func (r *Relay) handleConnection(ctx context.Context, msg router.BrokerMessage) {
	connectionID, ok := router.ConnectionFromChannel(msg.Channel)
	if !ok {
		r.dropUnroutable(msg)
		return
	}
	env, ok := r.decode(msg)
	if !ok {
		return
	}
	// Misses are normal: the target connection usually lives on one
	// instance while every instance sees the message.
	r.deliverer.SendPersonal(ctx, env, connectionID)
}

func (r *Relay) handleRoom(ctx context.Context, msg router.BrokerMessage) {
	roomID, ok := router.RoomFromChannel(msg.Channel)
	if !ok {
		r.dropUnroutable(msg)
		return
	}
	env, ok := r.decode(msg)
	if !ok {
		return
	}
	count := r.deliverer.SendToRoom(ctx, env, roomID)
	slog.Debug("Relayed room message",
		"event_id", env.EventID, "room_id", roomID, "delivered", count)
}

func (r *Relay) decode(msg router.BrokerMessage) (*envelope.Envelope, bool) {
	env, err := envelope.Decode(msg.Payload)
	if err != nil {
		metrics.RouterDroppedMessagesTotal.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping malformed broker payload",
			"channel", msg.Channel, "error", err)
		return nil, false
	}
	return env, true
}

func (r *Relay) dropUnroutable(msg router.BrokerMessage) {
	metrics.RouterDroppedMessagesTotal.WithLabelValues("unroutable").Inc()
	slog.Warn("Dropping message with unroutable channel", "channel", msg.Channel)
}
