// Package ws is the realtime gateway: it authenticates websocket handshakes,
// pumps events in both directions, and supervises connection liveness.
package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pulseapp/pulse/internal/metrics"
)

const writeWait = 10 * time.Second

// Conn wraps one websocket session. All writes go through a single pump
// goroutine fed by a buffered channel, so fan-out paths never block on a
// slow peer and never interleave frames.
type Conn struct {
	id         string
	identityID string
	name       string

	sock *websocket.Conn
	send chan any

	closeOnce sync.Once
	done      chan struct{}
	logger    *slog.Logger
}

func newConn(log *slog.Logger, sock *websocket.Conn, identityID, name string, buffer int) *Conn {
	c := &Conn{
		id:         uuid.NewString(),
		identityID: identityID,
		name:       name,
		sock:       sock,
		send:       make(chan any, buffer),
		done:       make(chan struct{}),
	}
	c.logger = log.With(
		slog.String("conn_id", c.id),
		slog.String("user_id", identityID),
	)
	go c.writePump()
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// IdentityID returns the authenticated identity behind the connection.
func (c *Conn) IdentityID() string { return c.identityID }

// Send enqueues an outbound event. It never blocks: a full buffer or a
// closed connection reports false and the event is dropped.
func (c *Conn) Send(event any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		metrics.EventsDropped.Inc()
		return false
	}
}

// Close tears the connection down. Idempotent; closing the underlying socket
// unblocks the read loop, which drives the rest of the cleanup.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

func (c *Conn) writePump() {
	for {
		select {
		case ev := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(ev); err != nil {
				c.logger.Debug("write failed", slog.Any("error", err))
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// ping sends a liveness probe. Control frames are safe to write concurrently
// with the pump goroutine.
func (c *Conn) ping() error {
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
