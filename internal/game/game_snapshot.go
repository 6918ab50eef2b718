package game

import "time"

// GameState is the full state sent to a newly joined client.
type GameState struct {
	Players   map[string]Player `json:"players"`
	Cubes     []Cube            `json:"cubes"`
	GamePhase Phase             `json:"gamePhase"`
	Timer     TimerState        `json:"timer"`
}

// Snapshot is an immutable copy of the session published after every
// processed event. Readers outside the state goroutine use it instead of
// touching live state.
type Snapshot struct {
	State       GameState `json:"state"`
	PlayerCount int       `json:"playerCount"`
	CubeCount   int       `json:"cubeCount"`
	MaxCubes    int       `json:"maxCubes"`
	Sequence    uint64    `json:"sequence"`
	TakenAt     time.Time `json:"takenAt"`
}

// EmptySnapshot is served before the state goroutine publishes anything.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		State: GameState{
			Players:   map[string]Player{},
			Cubes:     []Cube{},
			GamePhase: PhaseLobby,
		},
	}
}
