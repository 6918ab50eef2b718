package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/clbarrell/cube-builder/internal/game"
)

// HandleWebSocket upgrades a connection and attaches it to the hub, with
// total and per-IP connection caps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r, h.cfg.TrustProxy)

	if total := h.clientCount.Load(); total >= int64(h.cfg.MaxConnections) {
		h.log.Warnw("websocket rejected: total limit reached", "total", total, "ip", ip)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if held, ok := h.conns.acquire(ip); !ok {
		h.log.Warnw("websocket rejected: per-IP limit reached", "ip", ip, "held", held)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugw("websocket upgrade failed", "ip", ip, "error", err)
		h.conns.release(ip)
		return
	}

	id := game.ConnID(uuid.NewString())
	c := &Client{
		id:      id,
		ip:      ip,
		conn:    conn,
		send:    make(chan []byte, SendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.EventsPerSecond), h.cfg.EventBurst),
		log:     h.log.With("conn", id),
	}

	if !h.join(c) {
		conn.Close()
		h.conns.release(ip)
		return
	}

	go c.writePump()
	go c.readPump(h)
}

// handleSocketIO serves the Socket.IO-compatible path. Only the websocket
// transport is supported.
func (h *Hub) handleSocketIO(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.HandleWebSocket(w, r)
		return
	}
	writeError(w, "use websocket", http.StatusNotFound)
}
