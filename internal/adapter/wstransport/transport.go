// Package wstransport implements the registry's transport on gorilla
// WebSocket connections. Writes go through a buffered channel drained by a
// dedicated goroutine so one slow client never blocks a fanout sweep.
package wstransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sockpulse/sockpulse/internal/envelope"
)

const (
	writeDeadline  = 5 * time.Second
	sendBufferSize = 16
	maxMessageSize = 64 * 1024
)

var errNotAccepted = errors.New("transport not accepted")

// Upgrader creates transports from incoming HTTP requests.
type Upgrader struct {
	upgrader websocket.Upgrader
}

// NewUpgrader configures the WebSocket upgrader with the origin policy.
func NewUpgrader(appURL string, isDevelopment bool) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     newCheckOrigin(appURL, isDevelopment),
		},
	}
}

// Transport wraps a pending request. The WebSocket handshake is deferred
// until Accept so authentication can run first; a pre-Accept Close still
// completes the handshake in order to deliver a proper close frame.
func (u *Upgrader) Transport(w http.ResponseWriter, r *http.Request) *Conn {
	return &Conn{
		upgrader: &u.upgrader,
		w:        w,
		r:        r,
		sendCh:   make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Conn is a single WebSocket transport.
type Conn struct {
	upgrader *websocket.Upgrader
	w        http.ResponseWriter
	r        *http.Request

	mu sync.Mutex
	ws *websocket.Conn

	sendCh    chan []byte
	done      chan struct{}
	pump      sync.WaitGroup
	closeOnce sync.Once
}

// Accept completes the WebSocket handshake and starts the writer.
func (c *Conn) Accept(_ context.Context) error {
	if err := c.upgrade(); err != nil {
		return err
	}
	c.pump.Add(1)
	go c.writePump()
	return nil
}

func (c *Conn) upgrade() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return nil
	}
	ws, err := c.upgrader.Upgrade(c.w, c.r, nil)
	if err != nil {
		return err
	}
	ws.SetReadLimit(maxMessageSize)
	c.ws = ws
	return nil
}

func (c *Conn) conn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

func (c *Conn) writePump() {
	defer c.pump.Done()
	ws := c.conn()
	for {
		select {
		case data := <-c.sendCh:
			_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send queues a message for the writer. Fails when the transport was never
// accepted, is closed, or the client is too slow to drain its buffer.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.conn() == nil {
		return errNotAccepted
	}
	select {
	case <-c.done:
		return errors.New("transport closed")
	case <-ctx.Done():
		return ctx.Err()
	case c.sendCh <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close sends a close frame with the given code and tears the connection
// down. Called before Accept it completes the handshake first so the client
// sees the code instead of a dropped socket. Idempotent.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		if upgradeErr := c.upgrade(); upgradeErr != nil {
			err = upgradeErr
			return
		}
		close(c.done)

		// The writer may be mid-WriteMessage; writing the close frame
		// before it exits would be a concurrent write on the gorilla
		// connection. On the pre-Accept path no writer ever started and
		// this returns immediately.
		c.pump.Wait()

		ws := c.conn()
		frame := websocket.FormatCloseMessage(code, reason)
		_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = ws.WriteMessage(websocket.CloseMessage, frame)
		err = ws.Close()
	})
	return err
}

// ReadHooks receive inbound traffic from ReadLoop.
type ReadHooks struct {
	// OnPong fires for each pong message.
	OnPong func()
	// OnEnvelope fires for every other well-formed message.
	OnEnvelope func(ctx context.Context, env *envelope.Envelope)
}

// ReadLoop consumes inbound messages until the connection dies and returns
// the terminating error. Malformed payloads get an error envelope in reply
// and do not end the loop.
func (c *Conn) ReadLoop(ctx context.Context, hooks ReadHooks) error {
	ws := c.conn()
	if ws == nil {
		return errNotAccepted
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		env, err := envelope.Decode(data)
		if err != nil {
			slog.Debug("Malformed client message", "remote_addr", c.r.RemoteAddr, "error", err)
			c.replyError(ctx, "malformed message", map[string]any{"reason": err.Error()})
			continue
		}

		if env.Type == envelope.TypePong {
			if hooks.OnPong != nil {
				hooks.OnPong()
			}
			continue
		}

		if hooks.OnEnvelope != nil {
			hooks.OnEnvelope(ctx, env)
		}
	}
}

func (c *Conn) replyError(ctx context.Context, message string, details map[string]any) {
	data, err := envelope.Error(message, details).Encode()
	if err != nil {
		return
	}
	_ = c.Send(ctx, data)
}
