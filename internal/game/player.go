package game

import "math"

// Vec3 is a world position. Cube positions are grid-aligned and compared
// by exact value, so Vec3 doubles as the cube index key.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Finite reports whether all components are finite numbers.
func (v Vec3) Finite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// Rotation is a player's view orientation (pitch, yaw).
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is a connected participant. ID always equals Name so that a
// reconnect under the same name resumes the same identity.
type Player struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Vec3     `json:"position"`
	Rotation Rotation `json:"rotation"`
}

// PlayerDirectory tracks the transient state of joined players.
// The owning connection is the only writer of an entry.
type PlayerDirectory struct {
	players map[string]*Player
}

// NewPlayerDirectory creates an empty directory.
func NewPlayerDirectory() *PlayerDirectory {
	return &PlayerDirectory{players: make(map[string]*Player)}
}

// Join creates or refreshes the entry for name with zero rotation.
func (d *PlayerDirectory) Join(name string, position Vec3) Player {
	p, ok := d.players[name]
	if !ok {
		p = &Player{ID: name, Name: name}
		d.players[name] = p
	}
	p.Position = position
	p.Rotation = Rotation{}
	return *p
}

// Move updates position and rotation in place. Moves for unknown names
// (a disconnect raced the update) are ignored.
func (d *PlayerDirectory) Move(name string, position Vec3, rotation Rotation) (Player, bool) {
	p, ok := d.players[name]
	if !ok {
		return Player{}, false
	}
	p.Position = position
	p.Rotation = rotation
	return *p, true
}

// Leave removes the entry for name.
func (d *PlayerDirectory) Leave(name string) bool {
	if _, ok := d.players[name]; !ok {
		return false
	}
	delete(d.players, name)
	return true
}

// Exists reports whether a player is registered under name.
func (d *PlayerDirectory) Exists(name string) bool {
	_, ok := d.players[name]
	return ok
}

// Get returns a copy of the player entry.
func (d *PlayerDirectory) Get(name string) (Player, bool) {
	p, ok := d.players[name]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Len returns the number of joined players.
func (d *PlayerDirectory) Len() int {
	return len(d.players)
}

// Snapshot copies all entries keyed by name.
func (d *PlayerDirectory) Snapshot() map[string]Player {
	out := make(map[string]Player, len(d.players))
	for name, p := range d.players {
		out[name] = *p
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
