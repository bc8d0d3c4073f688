package redisbroker

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/sockpulse/sockpulse/internal/router"
)

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()

	if err := redisContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, testRedisURL)
	require.NoError(t, err)

	require.NoError(t, client.FlushAll(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestStore_ConnectionRecordRoundTrip(t *testing.T) {
	client := setupClient(t)
	store := NewStore(client)
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "ws:connection:c1", map[string]string{
		"user_id":      "u1",
		"connected_at": "2026-08-30T12:00:00Z",
	}))
	require.NoError(t, store.SAdd(ctx, "ws:user:u1:connections", "c1"))
	require.NoError(t, store.Expire(ctx, "ws:connection:c1", 60))

	fields, err := client.HGetAll(ctx, "ws:connection:c1").Result()
	require.NoError(t, err)
	assert.Equal(t, "u1", fields["user_id"])

	ttl, err := client.TTL(ctx, "ws:connection:c1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	keys, err := store.Keys(ctx, "ws:connection:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"ws:connection:c1"}, keys)

	require.NoError(t, store.SRem(ctx, "ws:user:u1:connections", "c1"))
	require.NoError(t, store.Del(ctx, "ws:connection:c1"))

	keys, err = store.Keys(ctx, "ws:connection:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBroker_PublishSubscribe(t *testing.T) {
	client := setupClient(t)
	broker := NewBroker(client)
	ctx := context.Background()

	msgs, err := broker.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })

	require.NoError(t, broker.Subscribe(ctx, "ws:broadcast"))
	require.NoError(t, broker.PSubscribe(ctx, "ws:user:*"))

	require.NoError(t, broker.Publish(ctx, "ws:broadcast", []byte("all")))
	require.NoError(t, broker.Publish(ctx, "ws:user:u1", []byte("one")))

	received := make(map[string]router.BrokerMessage)
	for len(received) < 2 {
		select {
		case msg := <-msgs:
			received[msg.Channel] = msg
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}

	assert.Equal(t, []byte("all"), received["ws:broadcast"].Payload)
	assert.Empty(t, received["ws:broadcast"].Pattern)
	assert.Equal(t, []byte("one"), received["ws:user:u1"].Payload)
	assert.Equal(t, "ws:user:*", received["ws:user:u1"].Pattern)
}

func TestBroker_SubscribeWithoutConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupClient(t)
	broker := NewBroker(client)

	assert.Error(t, broker.Subscribe(context.Background(), "ws:broadcast"))
	assert.NoError(t, broker.Close())
}

func TestBroker_ReconnectReplacesStream(t *testing.T) {
	client := setupClient(t)
	broker := NewBroker(client)
	ctx := context.Background()

	first, err := broker.Connect(ctx)
	require.NoError(t, err)

	second, err := broker.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })

	// The first stream closes once its connection is replaced.
	select {
	case _, ok := <-first:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("first stream did not close")
	}

	require.NoError(t, broker.Subscribe(ctx, "ws:broadcast"))
	require.NoError(t, broker.Publish(ctx, "ws:broadcast", []byte("hi")))

	select {
	case msg := <-second:
		assert.Equal(t, "ws:broadcast", msg.Channel)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message on second stream")
	}
}
