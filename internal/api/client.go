package api

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clbarrell/cube-builder/internal/game"
	"github.com/clbarrell/cube-builder/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// SendBufferSize is the per-client outbound queue. A client that falls
	// this far behind is disconnected.
	SendBufferSize = 256
)

// Client is one websocket connection. send is written only by the hub loop
// and closed by it when the client is removed.
type Client struct {
	id      game.ConnID
	ip      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// inbound is a decoded frame handed to the hub loop. err is set when the
// frame failed to decode; msg.Event may still name the event.
type inbound struct {
	client *Client
	msg    protocol.Message
	err    error
}

// enqueue queues a frame without blocking. False means the client is too
// slow and must be dropped.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// writePump drains the send queue to the socket and keeps it alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debugw("write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes frames off the loop and hands them to the hub. When the
// socket closes the hub is told to remove the client.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("read failed", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			RecordRejection("rate_limit")
			continue
		}

		msg, err := protocol.Decode(frame)
		if !h.submit(inbound{client: c, msg: msg, err: err}) {
			return
		}
	}
}
