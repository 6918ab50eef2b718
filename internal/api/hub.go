package api

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clbarrell/cube-builder/internal/command"
	"github.com/clbarrell/cube-builder/internal/game"
	"github.com/clbarrell/cube-builder/internal/protocol"
)

// snapshotInterval bounds how long a move-only change waits before readers see it
const snapshotInterval = 250 * time.Millisecond

// HubConfig configures the connection event router.
type HubConfig struct {
	Game        game.Options
	DevCommands bool

	MaxConnections      int
	MaxConnectionsPerIP int
	EventsPerSecond     float64
	EventBurst          int
	Origins             []string
	TrustProxy          bool // key per-IP caps by proxy headers
}

// Hub is the connection event router. A single goroutine (Run) owns the
// engine and every client's send queue; read pumps, HTTP handlers and timer
// tickers only talk to it through channels or read the published snapshot.
type Hub struct {
	cfg      HubConfig
	engine   *game.Engine
	commands *command.Processor
	sched    *tickScheduler
	log      *zap.SugaredLogger

	// loop-owned
	clients map[game.ConnID]*Client
	dirty   bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	ticks      chan uint64
	done       chan struct{}

	snapshot    atomic.Pointer[game.Snapshot]
	clientCount atomic.Int64
	started     atomic.Bool
	startedAt   time.Time

	conns       *connCounter
	httpLimiter *IPRateLimiter // optional, reported in Stats
	upgrader    websocket.Upgrader
}

// NewHub creates the hub and its engine. Nothing runs until Run is called.
func NewHub(cfg HubConfig, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 500
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		cfg.MaxConnectionsPerIP = 10
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 60
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 120
	}

	h := &Hub{
		cfg:        cfg,
		log:        log,
		clients:    make(map[game.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		ticks:      make(chan uint64, 8),
		done:       make(chan struct{}),
		startedAt:  time.Now(),
		conns:      newConnCounter(cfg.MaxConnectionsPerIP),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(cfg.Origins),
		},
	}

	h.sched = newTickScheduler(h.ticks, h.done)

	opts := cfg.Game
	opts.Scheduler = h.sched
	if opts.Logger == nil {
		opts.Logger = log.Named("game")
	}
	h.engine = game.NewEngine(opts)
	h.commands = command.NewProcessor(h.engine, command.Options{
		DevCommands: cfg.DevCommands,
		Logger:      log.Named("command"),
	})

	h.snapshot.Store(h.engine.Snapshot())
	return h
}

// Run processes registrations, inbound events and timer ticks one at a time
// until ctx is cancelled. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)
	defer h.shutdown()

	snapTicker := time.NewTicker(snapshotInterval)
	defer snapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c.id] = c
			n := h.clientCount.Add(1)
			UpdateWSConnections(int(n))
			h.log.Infow("client connected", "conn", c.id, "ip", c.ip, "total", n)

		case c := <-h.unregister:
			h.remove(c, "disconnect")

		case in := <-h.inbound:
			h.handle(in)

		case gen := <-h.ticks:
			h.deliver(nil, h.engine.Tick(gen))
			h.publish()

		case <-snapTicker.C:
			if h.dirty {
				h.publish()
			}
		}
	}
}

// Done is closed after Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Snapshot returns the latest published state. Safe from any goroutine.
func (h *Hub) Snapshot() *game.Snapshot {
	return h.snapshot.Load()
}

// Stats is the /api/stats payload.
type Stats struct {
	Connections  int64          `json:"connections"`
	Players      int            `json:"players"`
	Cubes        int            `json:"cubes"`
	MaxCubes     int            `json:"maxCubes"`
	Phase        game.Phase     `json:"gamePhase"`
	TimerRunning bool           `json:"timerRunning"`
	Sequence     uint64         `json:"sequence"`
	Uptime       string         `json:"uptime"`
	RateLimits   map[string]any `json:"rateLimits"`
	EventLog     map[string]any `json:"eventLog,omitempty"`
}

// Stats summarizes the session. Safe from any goroutine.
func (h *Hub) Stats() Stats {
	snap := h.Snapshot()
	st := Stats{
		Connections:  h.clientCount.Load(),
		Players:      snap.PlayerCount,
		Cubes:        snap.CubeCount,
		MaxCubes:     snap.MaxCubes,
		Phase:        snap.State.GamePhase,
		TimerRunning: snap.State.Timer.Running(),
		Sequence:     snap.Sequence,
		Uptime:       time.Since(h.startedAt).Round(time.Second).String(),
		RateLimits: map[string]any{
			"wsRejected": h.conns.rejected.Load(),
			"wsIPs":      h.conns.tracked(),
			"timers":     h.sched.active(),
		},
	}
	if h.httpLimiter != nil {
		st.RateLimits["http"] = h.httpLimiter.Stats()
	}
	if h.cfg.Game.EventLog != nil {
		st.EventLog = h.cfg.Game.EventLog.GetStats()
	}
	return st
}

// submit hands a decoded frame to the loop. False once the hub has stopped.
func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// join registers a new client with the loop.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave asks the loop to remove a client whose socket closed.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// handle processes one inbound event to completion. A panic is contained
// here so one bad event cannot take down the loop.
func (h *Hub) handle(in inbound) {
	c := in.client
	if _, ok := h.clients[c.id]; !ok {
		return
	}

	start := time.Now()
	label := in.msg.Event
	if in.err != nil || label == "" {
		label = "invalid"
	}
	defer func() {
		if r := recover(); r != nil {
			RecordRejection("panic")
			h.log.Errorw("event handler panic", "event", in.msg.Event, "conn", c.id, "panic", r)
			if in.msg.Event == game.EventCommand {
				h.sendTo(c, game.EventCommandError, game.CommandError{Message: "Command failed"})
			}
		}
		RecordEvent(label, time.Since(start))
	}()

	if in.err != nil {
		h.rejectFrame(c, in)
		return
	}

	var (
		out game.Effects
		err error
	)
	switch p := in.msg.Payload.(type) {
	case game.JoinRequest:
		out, err = h.engine.Join(c.id, p)
	case game.MoveRequest:
		out, err = h.engine.Move(c.id, p)
	case game.AddCubeRequest:
		out, err = h.engine.AddCube(c.id, p)
		if err == nil && len(out) > 1 {
			RecordEviction()
		}
	case game.RemoveCubeRequest:
		out, err = h.engine.RemoveCube(c.id, p)
	case protocol.CommandRequest:
		out = h.runCommand(c, p)
	default:
		err = fmt.Errorf("unhandled payload %T", p)
	}

	if err != nil {
		h.reject(c, in.msg.Event, err)
		return
	}

	h.deliver(c, out)
	if in.msg.Event == game.EventPlayerMove {
		h.dirty = true
		return
	}
	h.publish()
}

func (h *Hub) runCommand(c *Client, req protocol.CommandRequest) game.Effects {
	caller, _ := h.engine.NameOf(c.id)
	h.log.Debugw("command received", "conn", c.id, "caller", caller, "command", req.Command)

	resp, out := h.commands.Process(req.Command, caller)
	RecordCommand(resp.Success)
	return append(out, game.Outbound{Event: game.EventCommandResponse, Data: resp, To: game.ToSender})
}

// rejectFrame handles frames that failed to decode.
func (h *Hub) rejectFrame(c *Client, in inbound) {
	RecordRejection(game.KindValidation.String())

	var pe *protocol.PayloadError
	if errors.As(in.err, &pe) && pe.Event == game.EventCommand {
		h.sendTo(c, game.EventCommandError, game.CommandError{Message: "Invalid command format"})
		return
	}
	h.log.Warnw("invalid frame dropped", "conn", c.id, "event", in.msg.Event, "error", in.err)
}

// reject applies the error policy: authorization and precondition failures
// are reported to the sender, everything else is logged and dropped.
func (h *Hub) reject(c *Client, event string, err error) {
	var ge *game.Error
	if !errors.As(err, &ge) {
		RecordRejection("internal")
		h.log.Errorw("event failed", "event", event, "conn", c.id, "error", err)
		return
	}

	RecordRejection(ge.Kind.String())
	name, _ := h.engine.NameOf(c.id)
	if ge.Notify() {
		h.log.Infow("request rejected", "event", event, "conn", c.id, "player", name, "kind", ge.Kind, "reason", ge.Msg)
		h.sendTo(c, game.EventCommandError, game.CommandError{Message: ge.Msg})
		return
	}
	h.log.Debugw("request dropped", "event", event, "conn", c.id, "player", name, "kind", ge.Kind, "reason", ge.Msg)
}

// deliver sends effects in order. sender is nil for timer ticks and
// disconnects. Clients whose queue is full are removed afterwards.
func (h *Hub) deliver(sender *Client, out game.Effects) {
	var slow []*Client
	sent := 0

	for _, o := range out {
		frame, err := protocol.Encode(o.Event, o.Data)
		if err != nil {
			h.log.Errorw("encode failed", "event", o.Event, "error", err)
			continue
		}

		switch o.To {
		case game.ToSender:
			if sender == nil || h.clients[sender.id] != sender {
				continue
			}
			if !sender.enqueue(frame) {
				slow = append(slow, sender)
			}
			sent++
		case game.ToOthers, game.ToAll:
			for _, c := range h.clients {
				if o.To == game.ToOthers && c == sender {
					continue
				}
				if !c.enqueue(frame) {
					slow = append(slow, c)
				}
				sent++
			}
		}
	}
	AddWSMessages(sent)

	for _, c := range slow {
		if _, ok := h.clients[c.id]; !ok {
			continue
		}
		RecordConnectionRejected("slow_client")
		h.log.Warnw("dropping slow client", "conn", c.id, "ip", c.ip)
		h.remove(c, "slow")
	}
}

func (h *Hub) sendTo(c *Client, event string, data any) {
	if h.clients[c.id] != c {
		return
	}
	h.deliver(c, game.Effects{{Event: event, Data: data, To: game.ToSender}})
}

// remove forgets a client, releases its identity and broadcasts the departure.
func (h *Hub) remove(c *Client, reason string) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.conns.release(c.ip)

	n := h.clientCount.Add(-1)
	UpdateWSConnections(int(n))
	h.log.Infow("client disconnected", "conn", c.id, "reason", reason, "remaining", n)

	h.deliver(nil, h.engine.Disconnect(c.id))
	h.publish()
}

func (h *Hub) publish() {
	snap := h.engine.Snapshot()
	h.snapshot.Store(snap)
	h.dirty = false
	UpdateSessionGauges(snap.PlayerCount, snap.CubeCount)
}

// shutdown stops the countdown and closes every client. Runs on the loop.
func (h *Hub) shutdown() {
	h.engine.Stop()
	h.sched.Stop()
	h.commands.Stop()

	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		h.conns.release(c.ip)
	}
	h.clientCount.Store(0)
	UpdateWSConnections(0)
	h.publish()
	h.log.Info("hub stopped")
}
