package game

// DefaultMaxCubes is the global cube capacity.
const DefaultMaxCubes = 1000

// Cube is a placed unit cube. Ownership never changes after creation.
type Cube struct {
	Position   Vec3   `json:"position"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// CubeIndex holds cubes in creation order plus a position -> sequence index
// map for O(1) existence and ownership checks. Keys are exact coordinates.
//
// Invariant: index[c.Position] == i for every cubes[i], and len(index) == len(cubes).
type CubeIndex struct {
	max   int
	cubes []Cube
	index map[Vec3]int
}

// NewCubeIndex creates an index bounded to max cubes.
func NewCubeIndex(max int) *CubeIndex {
	if max <= 0 {
		max = DefaultMaxCubes
	}
	return &CubeIndex{
		max:   max,
		cubes: make([]Cube, 0, min(max, 1024)),
		index: make(map[Vec3]int),
	}
}

// Exists reports whether a cube occupies position.
func (ci *CubeIndex) Exists(position Vec3) bool {
	_, ok := ci.index[position]
	return ok
}

// OwnerAt returns the playerId of the cube at position.
func (ci *CubeIndex) OwnerAt(position Vec3) (string, bool) {
	i, ok := ci.index[position]
	if !ok {
		return "", false
	}
	return ci.cubes[i].PlayerID, true
}

// Add places a cube owned by owner. When the index is full the oldest cube is
// evicted first and returned so callers can announce its removal before the
// addition. Callers must check Exists beforehand.
func (ci *CubeIndex) Add(position Vec3, owner string) (added Cube, evicted *Cube) {
	if len(ci.cubes) >= ci.max {
		oldest := ci.cubes[0]
		ci.cubes = ci.cubes[1:]
		delete(ci.index, oldest.Position)
		for pos := range ci.index {
			ci.index[pos]--
		}
		evicted = &oldest
	}

	added = Cube{Position: position, PlayerID: owner, PlayerName: owner}
	ci.cubes = append(ci.cubes, added)
	ci.index[position] = len(ci.cubes) - 1
	return added, evicted
}

// Remove deletes the cube at position and shifts every later index entry
// down by one. Ownership is checked by the caller.
func (ci *CubeIndex) Remove(position Vec3) (Cube, bool) {
	i, ok := ci.index[position]
	if !ok {
		return Cube{}, false
	}
	removed := ci.cubes[i]
	ci.cubes = append(ci.cubes[:i], ci.cubes[i+1:]...)
	delete(ci.index, position)
	for pos, j := range ci.index {
		if j > i {
			ci.index[pos] = j - 1
		}
	}
	return removed, true
}

// Reset clears every cube and returns how many were removed.
func (ci *CubeIndex) Reset() int {
	n := len(ci.cubes)
	ci.cubes = ci.cubes[:0]
	clear(ci.index)
	return n
}

// Len returns the number of cubes.
func (ci *CubeIndex) Len() int {
	return len(ci.cubes)
}

// Max returns the capacity.
func (ci *CubeIndex) Max() int {
	return ci.max
}

// Snapshot copies the cube sequence in creation order.
func (ci *CubeIndex) Snapshot() []Cube {
	out := make([]Cube, len(ci.cubes))
	copy(out, ci.cubes)
	return out
}
