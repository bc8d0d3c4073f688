package natsbroker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sockpulse/sockpulse/internal/router"
)

func TestSubjectTranslation(t *testing.T) {
	tests := []struct {
		channel string
		subject string
	}{
		{"ws:broadcast", "ws.broadcast"},
		{"ws:user:u1", "ws.user.u1"},
		{"ws:connection:8d5f9c2a", "ws.connection.8d5f9c2a"},
		{"ws:room:lobby", "ws.room.lobby"},
		{"ws:user:*", "ws.user.*"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.subject, subjectFromChannel(tt.channel))
	}
}

func TestChannelReconstruction(t *testing.T) {
	assert.Equal(t, "ws:user:u1", channelFromSubject("ws.user.u1"))
	assert.Equal(t, "ws:broadcast", channelFromSubject("ws.broadcast"))

	// Round trip holds for dot-free ids.
	for _, channel := range []string{router.ChannelForUser("u1"), router.ChannelForRoom("lobby")} {
		assert.Equal(t, channel, channelFromSubject(subjectFromChannel(channel)))
	}
}

func TestOperationsWithoutConnection(t *testing.T) {
	b := NewBroker("nats://localhost:4222")

	assert.Error(t, b.Publish(context.Background(), "ws:broadcast", []byte("x")))
	assert.Error(t, b.Subscribe(context.Background(), "ws:broadcast"))
	assert.Error(t, b.PSubscribe(context.Background(), "ws:user:*"))
	assert.NoError(t, b.Close())
}
