package game

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options configures an Engine.
type Options struct {
	MaxCubes           int
	NamePolicy         NamePolicy
	NameHold           time.Duration // name reservation after disconnect, 0 frees immediately
	ClearCubesOnExpiry bool          // natural timer expiry also clears cubes
	TimerTick          time.Duration

	Scheduler Scheduler
	Clock     func() time.Time
	Logger    *zap.SugaredLogger
	EventLog  *EventLog // optional audit trail
}

// JoinRequest is the player:join payload.
type JoinRequest struct {
	Name     string `json:"name"`
	Position *Vec3  `json:"position"`
}

// MoveRequest is the player:move payload.
type MoveRequest struct {
	Position *Vec3     `json:"position"`
	Rotation *Rotation `json:"rotation"`
}

// AddCubeRequest is the cube:add payload.
type AddCubeRequest struct {
	Position   *Vec3  `json:"position"`
	PlayerName string `json:"playerName"`
}

// RemoveCubeRequest is the cube:remove payload.
type RemoveCubeRequest struct {
	Position *Vec3 `json:"position"`
}

// Engine is the authoritative session state: identities, players, cubes and
// the game phase. It is not safe for concurrent use; a single goroutine owns
// it and processes one event to completion before the next.
//
// Every operation validates before it mutates, and returns the messages to
// deliver instead of sending them.
type Engine struct {
	identity *IdentityRegistry
	players  *PlayerDirectory
	cubes    *CubeIndex
	phase    *PhaseMachine

	clearOnExpiry bool

	now      func() time.Time
	log      *zap.SugaredLogger
	eventLog *EventLog

	seq uint64 // bumped on every mutation, stamped into snapshots
}

// NewEngine creates an engine in LOBBY with no players or cubes.
func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Engine{
		identity:      NewIdentityRegistry(opts.NamePolicy, opts.NameHold),
		players:       NewPlayerDirectory(),
		cubes:         NewCubeIndex(opts.MaxCubes),
		phase:         NewPhaseMachine(opts.Scheduler, opts.TimerTick),
		clearOnExpiry: opts.ClearCubesOnExpiry,
		now:           opts.Clock,
		log:           opts.Logger,
		eventLog:      opts.EventLog,
	}
}

// =============================================================================
// PLAYERS
// =============================================================================

// Join resolves the caller's identity, creates or refreshes its player and
// replies with the full state.
func (e *Engine) Join(conn ConnID, req JoinRequest) (Effects, error) {
	requested := strings.TrimSpace(req.Name)
	if requested == "" {
		return nil, ErrInvalidName
	}
	if req.Position == nil || !req.Position.Finite() {
		return nil, ErrInvalidPosition
	}

	now := e.now()
	res, err := e.identity.Resolve(requested, conn, e.players.Exists, now)
	if err != nil {
		return nil, err
	}
	e.seq++

	var out Effects
	if res.Released != "" && e.players.Leave(res.Released) {
		out = append(out, toAll(EventPlayerLeave, PlayerLeft{ID: res.Released}))
		e.emit(EventTypePlayerLeave, res.Released, PlayerLeft{ID: res.Released})
	}

	player := e.players.Join(res.Name, *req.Position)
	out = append(out,
		toOthers(EventPlayerJoin, player),
		toSender(EventStateSync, e.State()),
	)
	// trimming alone is a modification too
	if res.Modified || res.Name != req.Name {
		out = append(out, toSender(EventNameModified, NameModified{Original: req.Name, Modified: res.Name}))
	}

	e.emit(EventTypePlayerJoin, res.Name, JoinPayload{Requested: req.Name, Name: res.Name, Position: player.Position})
	e.log.Infow("player joined", "name", res.Name, "requested", req.Name, "conn", conn)
	return out, nil
}

// Move updates the caller's position and rotation. Moves from connections
// without a player are stale and ignored.
func (e *Engine) Move(conn ConnID, req MoveRequest) (Effects, error) {
	if req.Position == nil || !req.Position.Finite() {
		return nil, ErrInvalidPosition
	}
	var rot Rotation
	if req.Rotation != nil {
		rot = *req.Rotation
	}

	name, ok := e.identity.NameOf(conn)
	if !ok {
		return nil, &Error{KindStale, "move before join"}
	}
	player, ok := e.players.Move(name, *req.Position, rot)
	if !ok {
		return nil, &Error{KindStale, "move for departed player"}
	}
	e.seq++

	return Effects{toOthers(EventPlayerMove, PlayerMoved{
		ID:       player.ID,
		Position: player.Position,
		Rotation: player.Rotation,
	})}, nil
}

// Disconnect releases the caller's identity. Only the connection that owns
// a name removes the player; a stale connection's disconnect changes nothing.
func (e *Engine) Disconnect(conn ConnID) Effects {
	name, owned := e.identity.Release(conn, e.now())
	if !owned {
		return nil
	}
	if !e.players.Leave(name) {
		return nil
	}
	e.seq++

	e.emit(EventTypePlayerLeave, name, PlayerLeft{ID: name})
	e.log.Infow("player left", "name", name, "conn", conn)
	return Effects{toAll(EventPlayerLeave, PlayerLeft{ID: name})}
}

// NameOf returns the identity bound to conn.
func (e *Engine) NameOf(conn ConnID) (string, bool) {
	return e.identity.NameOf(conn)
}

// =============================================================================
// CUBES
// =============================================================================

// AddCube places a cube for the caller. At capacity the oldest cube is
// evicted and its removal goes to every connection before the addition.
func (e *Engine) AddCube(conn ConnID, req AddCubeRequest) (Effects, error) {
	if req.Position == nil || !req.Position.Finite() {
		return nil, ErrInvalidPosition
	}
	if req.PlayerName == "" {
		return nil, ErrInvalidName
	}
	if e.phase.Phase() != PhaseActive {
		return nil, ErrGameNotActiveAdd
	}
	caller, ok := e.identity.NameOf(conn)
	if !ok {
		return nil, ErrNotJoined
	}
	if req.PlayerName != caller {
		e.log.Warnw("cube add under another name", "caller", caller, "claimed", req.PlayerName)
		return nil, ErrIdentityMismatch
	}
	pos := *req.Position
	if e.cubes.Exists(pos) {
		return nil, ErrCellOccupied
	}

	added, evicted := e.cubes.Add(pos, caller)
	e.seq++

	var out Effects
	if evicted != nil {
		out = append(out, toAll(EventCubeRemove, CubeRemoved{Position: evicted.Position}))
		e.emit(EventTypeCubeEvict, evicted.PlayerID, CubePayload{Position: evicted.Position, Owner: evicted.PlayerID, Total: e.cubes.Len()})
		e.log.Debugw("evicted oldest cube", "position", evicted.Position, "max", e.cubes.Max())
	}
	out = append(out, toOthers(EventCubeAdd, added))

	e.emit(EventTypeCubeAdd, caller, CubePayload{Position: pos, Owner: caller, Total: e.cubes.Len()})
	return out, nil
}

// RemoveCube deletes the caller's cube at position.
func (e *Engine) RemoveCube(conn ConnID, req RemoveCubeRequest) (Effects, error) {
	if req.Position == nil || !req.Position.Finite() {
		return nil, ErrInvalidPosition
	}
	if e.phase.Phase() != PhaseActive {
		return nil, ErrGameNotActiveRemove
	}
	caller, ok := e.identity.NameOf(conn)
	if !ok {
		return nil, ErrNotJoined
	}
	pos := *req.Position
	owner, ok := e.cubes.OwnerAt(pos)
	if !ok {
		return nil, ErrNoCube
	}
	if owner != caller {
		e.log.Warnw("cube remove by non-owner", "caller", caller, "owner", owner)
		return nil, ErrNotOwner
	}

	e.cubes.Remove(pos)
	e.seq++

	e.emit(EventTypeCubeRemove, caller, CubePayload{Position: pos, Owner: caller, Total: e.cubes.Len()})
	return Effects{toOthers(EventCubeRemove, CubeRemoved{Position: pos})}, nil
}

// =============================================================================
// PHASE & TIMER
// =============================================================================

// Phase returns the current game phase.
func (e *Engine) Phase() Phase { return e.phase.Phase() }

// TimerGeneration returns the live countdown generation, 0 when none runs.
func (e *Engine) TimerGeneration() uint64 { return e.phase.Generation() }

// StartGame moves the game to ACTIVE without a countdown.
func (e *Engine) StartGame() (Effects, error) {
	from := e.phase.Phase()
	out, err := e.phase.StartGame()
	if err != nil {
		return nil, err
	}
	e.seq++
	e.emit(EventTypePhaseChange, "", PhasePayload{From: from, To: PhaseActive, Reason: "startgame"})
	return out, nil
}

// StartTimer moves the game to ACTIVE with a countdown.
func (e *Engine) StartTimer(minutes float64) (Effects, error) {
	from := e.phase.Phase()
	out, err := e.phase.StartTimer(minutes, e.now())
	if err != nil {
		return nil, err
	}
	e.seq++
	e.emit(EventTypePhaseChange, "", PhasePayload{From: from, To: PhaseActive, Reason: "timer"})
	e.log.Infow("timer started", "minutes", minutes)
	return out, nil
}

// Tick advances countdown generation gen. Ticks for a cancelled generation
// produce nothing.
func (e *Engine) Tick(gen uint64) Effects {
	out, expired := e.phase.Tick(gen, e.now())
	if !expired {
		return out
	}
	e.seq++
	e.emit(EventTypePhaseChange, "", PhasePayload{From: PhaseActive, To: PhaseFinished, Reason: "expired"})
	e.log.Info("timer expired")

	if e.clearOnExpiry {
		n := e.cubes.Reset()
		out = append(out, toAll(EventCubesReset, nil))
		e.emit(EventTypeReset, "", ResetPayload{Cubes: n})
	}
	return out
}

// Reset clears all cubes, cancels the countdown and returns to LOBBY.
// It returns the number of cubes removed.
func (e *Engine) Reset() (int, Effects) {
	from := e.phase.Phase()
	n := e.cubes.Reset()
	out := append(Effects{toAll(EventCubesReset, nil)}, e.phase.Reset()...)
	e.seq++

	e.emit(EventTypeReset, "", ResetPayload{Cubes: n})
	e.emit(EventTypePhaseChange, "", PhasePayload{From: from, To: PhaseLobby, Reason: "reset"})
	e.log.Infow("world reset", "cubes", n)
	return n, out
}

// Stop cancels the countdown. Used on shutdown.
func (e *Engine) Stop() {
	e.phase.Stop()
}

// =============================================================================
// STATE
// =============================================================================

// State returns a deep copy of the aggregate state.
func (e *Engine) State() GameState {
	return GameState{
		Players:   e.players.Snapshot(),
		Cubes:     e.cubes.Snapshot(),
		GamePhase: e.phase.Phase(),
		Timer:     e.phase.Timer(),
	}
}

// Snapshot builds an immutable copy for readers on other goroutines.
func (e *Engine) Snapshot() *Snapshot {
	return &Snapshot{
		State:       e.State(),
		PlayerCount: e.players.Len(),
		CubeCount:   e.cubes.Len(),
		MaxCubes:    e.cubes.Max(),
		Sequence:    e.seq,
		TakenAt:     e.now(),
	}
}

// Sequence increases on every mutation.
func (e *Engine) Sequence() uint64 { return e.seq }

// PlayerCount returns the number of joined players.
func (e *Engine) PlayerCount() int { return e.players.Len() }

// CubeCount returns the number of placed cubes.
func (e *Engine) CubeCount() int { return e.cubes.Len() }

func (e *Engine) emit(t EventType, playerID string, payload any) {
	if e.eventLog == nil {
		return
	}
	e.eventLog.Emit(NewEvent(t, e.now(), playerID, payload))
}
