package game

// Wire event names shared by the router and clients.
const (
	EventPlayerJoin   = "player:join"
	EventPlayerMove   = "player:move"
	EventPlayerLeave  = "player:leave"
	EventNameModified = "player:name:modified"
	EventStateSync    = "state:sync"

	EventCubeAdd    = "cube:add"
	EventCubeRemove = "cube:remove"
	EventCubesReset = "cubes:reset"

	EventPhaseChange = "game:state:change"
	EventTimerUpdate = "timer:update"
	EventTimerEnd    = "timer:end"

	EventCommand         = "server:command"
	EventCommandResponse = "server:command:response"
	EventCommandError    = "server:command:error"
)

// Audience selects which connections receive an outbound event.
type Audience uint8

const (
	// ToSender targets only the connection whose event caused the change.
	ToSender Audience = iota
	// ToOthers targets every connection except the sender.
	ToOthers
	// ToAll targets every connection.
	ToAll
)

// Outbound describes one message to deliver. Engine operations return these
// instead of sending; the router owns delivery.
type Outbound struct {
	Event string
	Data  any // nil for signal-only events
	To    Audience
}

// Effects is the ordered list of messages produced by one operation.
type Effects []Outbound

// PlayerMoved is the player:move broadcast payload.
type PlayerMoved struct {
	ID       string   `json:"id"`
	Position Vec3     `json:"position"`
	Rotation Rotation `json:"rotation"`
}

// PlayerLeft is the player:leave payload.
type PlayerLeft struct {
	ID string `json:"id"`
}

// NameModified tells a joining client its requested name was changed.
type NameModified struct {
	Original string `json:"original"`
	Modified string `json:"modified"`
}

// CubeRemoved is the cube:remove payload.
type CubeRemoved struct {
	Position Vec3 `json:"position"`
}

// PhaseChanged is the game:state:change payload.
type PhaseChanged struct {
	Phase Phase `json:"phase"`
}

// TimerUpdate carries the countdown. The first update after a timer starts
// includes the full timer; later ones only timeLeft and endTime.
type TimerUpdate struct {
	TimeLeft  int64  `json:"timeLeft"`
	EndTime   int64  `json:"endTime"`
	StartTime *int64 `json:"startTime,omitempty"`
	Duration  *int64 `json:"duration,omitempty"`
}

// CommandResponse is the result of a server command.
type CommandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CommandError reports a rejected request to its sender.
type CommandError struct {
	Message string `json:"message"`
}

func toAll(event string, data any) Outbound {
	return Outbound{Event: event, Data: data, To: ToAll}
}

func toOthers(event string, data any) Outbound {
	return Outbound{Event: event, Data: data, To: ToOthers}
}

func toSender(event string, data any) Outbound {
	return Outbound{Event: event, Data: data, To: ToSender}
}
