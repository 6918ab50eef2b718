package game

import (
	"encoding/json"
	"time"
)

// EventType enum for audit event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypePlayerJoin
	EventTypePlayerLeave
	EventTypeCubeAdd
	EventTypeCubeRemove
	EventTypeCubeEvict
	EventTypePhaseChange
	EventTypeReset
)

// EventVersion for backwards compatibility when reading old logs
const EventVersion uint8 = 1

// Event is one line of the audit log
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix milli
	Sequence  uint64          `json:"sequence"`
	PlayerID  string          `json:"playerId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypePlayerJoin:
		return "player_join"
	case EventTypePlayerLeave:
		return "player_leave"
	case EventTypeCubeAdd:
		return "cube_add"
	case EventTypeCubeRemove:
		return "cube_remove"
	case EventTypeCubeEvict:
		return "cube_evict"
	case EventTypePhaseChange:
		return "phase_change"
	case EventTypeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// MarshalText writes the readable name into the log.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Typed payloads

// JoinPayload records identity resolution
type JoinPayload struct {
	Requested string `json:"requested"`
	Name      string `json:"name"`
	Position  Vec3   `json:"position"`
}

// CubePayload records a cube change
type CubePayload struct {
	Position Vec3   `json:"position"`
	Owner    string `json:"owner"`
	Total    int    `json:"total"`
}

// PhasePayload records a phase transition
type PhasePayload struct {
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
	Reason string `json:"reason"`
}

// ResetPayload records a reset command
type ResetPayload struct {
	Cubes int `json:"cubes"`
}

// NewEvent creates a new event stamped with now
func NewEvent(eventType EventType, now time.Time, playerID string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: now.UnixMilli(),
		PlayerID:  playerID,
		Payload:   data,
	}
}
