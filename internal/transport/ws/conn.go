package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stacklok/notes-collab-server/internal/collab"
)

var (
	// ErrClosed is returned by Send after the connection has been closed.
	ErrClosed = errors.New("connection closed")

	// ErrSlowConsumer is returned by Send when the outbound queue is full.
	// The connection is closed.
	ErrSlowConsumer = errors.New("outbound queue full")
)

// Conn is one upgraded websocket connection. Outbound frames go through a
// bounded queue drained by a single writer goroutine.
type Conn struct {
	id   string
	ws   *websocket.Conn
	cfg  Config
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
}

func newConn(id string, ws *websocket.Conn, cfg Config) *Conn {
	return &Conn{
		id:        id,
		ws:        ws,
		cfg:       cfg,
		send:      make(chan []byte, cfg.SendBufferSize),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Send queues ev without blocking.
func (c *Conn) Send(ev collab.OutboundEvent) error {
	frame, err := collab.EncodeEvent(ev)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.closeWith(websocket.ClosePolicyViolation)
		return ErrSlowConsumer
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
func (c *Conn) Close() {
	c.closeWith(websocket.CloseNormalClosure)
}

func (c *Conn) closeWith(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}

// writePump is the only goroutine writing data frames to the socket. It owns
// closing the socket, which unblocks the reader.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(c.closeCode, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}
