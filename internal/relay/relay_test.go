package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sockpulse/sockpulse/internal/envelope"
	"github.com/sockpulse/sockpulse/internal/router"
)

type fakeSubscriber struct {
	channels map[string]router.Handler
	patterns map[string]router.Handler
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		channels: make(map[string]router.Handler),
		patterns: make(map[string]router.Handler),
	}
}

func (s *fakeSubscriber) SubscribeChannel(_ context.Context, channel string, h router.Handler) {
	s.channels[channel] = h
}

func (s *fakeSubscriber) SubscribePattern(_ context.Context, pattern string, h router.Handler) {
	s.patterns[pattern] = h
}

type delivery struct {
	route  string
	target string
	env    *envelope.Envelope
}

type fakeDeliverer struct {
	deliveries []delivery
}

func (d *fakeDeliverer) Broadcast(_ context.Context, env *envelope.Envelope) int {
	d.deliveries = append(d.deliveries, delivery{route: "broadcast", env: env})
	return 3
}

func (d *fakeDeliverer) SendToUser(_ context.Context, env *envelope.Envelope, userID string) int {
	d.deliveries = append(d.deliveries, delivery{route: "user", target: userID, env: env})
	return 1
}

func (d *fakeDeliverer) SendPersonal(_ context.Context, env *envelope.Envelope, connectionID string) bool {
	d.deliveries = append(d.deliveries, delivery{route: "personal", target: connectionID, env: env})
	return true
}

func (d *fakeDeliverer) SendToRoom(_ context.Context, env *envelope.Envelope, roomID string) int {
	d.deliveries = append(d.deliveries, delivery{route: "room", target: roomID, env: env})
	return 2
}

func encoded(t *testing.T) (*envelope.Envelope, []byte) {
	t.Helper()
	env, err := envelope.New("notice", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return env, data
}

func attach(t *testing.T) (*fakeSubscriber, *fakeDeliverer) {
	t.Helper()
	sub := newFakeSubscriber()
	deliverer := &fakeDeliverer{}
	New(deliverer).Attach(context.Background(), sub)
	return sub, deliverer
}

func TestAttach_RegistersAllChannelFamilies(t *testing.T) {
	sub, _ := attach(t)

	assert.Contains(t, sub.channels, router.ChannelBroadcast)
	assert.Contains(t, sub.patterns, router.PatternUserChannels)
	assert.Contains(t, sub.patterns, router.PatternConnectionChannels)
	assert.Contains(t, sub.patterns, router.PatternRoomChannels)
}

func TestRelay_RoutesByChannel(t *testing.T) {
	sub, deliverer := attach(t)
	env, data := encoded(t)
	ctx := context.Background()

	sub.channels[router.ChannelBroadcast](ctx, router.BrokerMessage{
		Channel: router.ChannelBroadcast, Payload: data,
	})
	sub.patterns[router.PatternUserChannels](ctx, router.BrokerMessage{
		Channel: router.ChannelForUser("u1"), Pattern: router.PatternUserChannels, Payload: data,
	})
	sub.patterns[router.PatternConnectionChannels](ctx, router.BrokerMessage{
		Channel: router.ChannelForConnection("c1"), Pattern: router.PatternConnectionChannels, Payload: data,
	})
	sub.patterns[router.PatternRoomChannels](ctx, router.BrokerMessage{
		Channel: router.ChannelForRoom("lobby"), Pattern: router.PatternRoomChannels, Payload: data,
	})

	require.Len(t, deliverer.deliveries, 4)
	assert.Equal(t, "broadcast", deliverer.deliveries[0].route)
	assert.Equal(t, delivery{route: "user", target: "u1", env: deliverer.deliveries[1].env}, deliverer.deliveries[1])
	assert.Equal(t, "c1", deliverer.deliveries[2].target)
	assert.Equal(t, "lobby", deliverer.deliveries[3].target)

	for _, d := range deliverer.deliveries {
		assert.Equal(t, env.EventID, d.env.EventID)
	}
}

func TestRelay_DropsMalformedPayloads(t *testing.T) {
	sub, deliverer := attach(t)

	sub.channels[router.ChannelBroadcast](context.Background(), router.BrokerMessage{
		Channel: router.ChannelBroadcast, Payload: []byte("not json"),
	})

	assert.Empty(t, deliverer.deliveries)
}

func TestRelay_DropsUnroutableChannels(t *testing.T) {
	sub, deliverer := attach(t)
	_, data := encoded(t)

	// Empty target segment cannot be routed.
	sub.patterns[router.PatternUserChannels](context.Background(), router.BrokerMessage{
		Channel: "ws:user:", Pattern: router.PatternUserChannels, Payload: data,
	})

	assert.Empty(t, deliverer.deliveries)
}
