// Package natsbroker backs the broadcast router with NATS core pub/sub as an
// alternative to Redis. Channel names are translated to NATS subjects by
// swapping the ":" separator for ".", and trailing-* patterns become
// single-token subject wildcards. Target ids therefore must not contain
// dots; the uuid-based connection and anonymous user ids never do.
package natsbroker

import (
	"context"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/sockpulse/sockpulse/internal/router"
)

// subjectFromChannel maps "ws:user:u1" to "ws.user.u1" and the pattern
// "ws:user:*" to "ws.user.*".
func subjectFromChannel(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// channelFromSubject is the inverse, used for wildcard deliveries where only
// the concrete subject is known.
func channelFromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", ":")
}

// Broker implements the router's broker client on a NATS connection. The
// router owns reconnection, so the NATS client's own reconnect machinery is
// disabled; a dropped connection closes the stream and the router redials.
type Broker struct {
	url string

	mu   sync.Mutex
	conn *nats.Conn
	out  chan router.BrokerMessage
}

// NewBroker creates a broker dialing the given NATS URL.
func NewBroker(url string) *Broker {
	return &Broker{url: url}
}

// Connect dials NATS and returns the message stream for this connection.
// A previous connection, if any, is closed first.
func (b *Broker) Connect(_ context.Context) (<-chan router.BrokerMessage, error) {
	out := make(chan router.BrokerMessage, 64)

	conn, err := nats.Connect(b.url,
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) { close(out) }),
	)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.out = out
	b.mu.Unlock()

	return out, nil
}

// Publish sends a payload to a channel's subject.
func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nats.ErrConnectionClosed
	}
	return conn.Publish(subjectFromChannel(channel), payload)
}

// Subscribe adds exact channel subscriptions to the current connection.
func (b *Broker) Subscribe(_ context.Context, channels ...string) error {
	b.mu.Lock()
	conn, out := b.conn, b.out
	b.mu.Unlock()
	if conn == nil {
		return nats.ErrConnectionClosed
	}

	for _, channel := range channels {
		channel := channel
		_, err := conn.Subscribe(subjectFromChannel(channel), func(msg *nats.Msg) {
			b.forward(out, router.BrokerMessage{Channel: channel, Payload: msg.Data})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// PSubscribe adds pattern subscriptions to the current connection. The
// concrete channel is reconstructed from the delivered subject.
func (b *Broker) PSubscribe(_ context.Context, patterns ...string) error {
	b.mu.Lock()
	conn, out := b.conn, b.out
	b.mu.Unlock()
	if conn == nil {
		return nats.ErrConnectionClosed
	}

	for _, pattern := range patterns {
		pattern := pattern
		_, err := conn.Subscribe(subjectFromChannel(pattern), func(msg *nats.Msg) {
			b.forward(out, router.BrokerMessage{
				Channel: channelFromSubject(msg.Subject),
				Pattern: pattern,
				Payload: msg.Data,
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// forward hands a message to the stream without blocking the NATS callback
// goroutine. The stream is buffered; a full buffer means the consumer is
// wedged and dropping is better than stalling the connection.
func (b *Broker) forward(out chan router.BrokerMessage, msg router.BrokerMessage) {
	select {
	case out <- msg:
	default:
	}
}

// Close tears down the current connection. The closed handler closes the
// stream.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	b.conn.Close()
	b.conn = nil
	return nil
}
