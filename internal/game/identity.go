package game

import (
	"strconv"
	"time"
)

// ConnID identifies a transport connection. It is assigned by the transport
// layer and never reused.
type ConnID string

// NamePolicy decides what happens when a requested name is held by another
// live connection.
type NamePolicy int

const (
	// NameSuffix appends 1, 2, 3... until an unused name is found.
	NameSuffix NamePolicy = iota
	// NameReject refuses the join.
	NameReject
)

// Resolution is the outcome of a join request.
type Resolution struct {
	Name      string // final name, the only place a name is minted
	Requested string
	Modified  bool   // Name differs from Requested
	Released  string // name this connection owned before, now given up
}

// IdentityRegistry keeps nameToConn and connToName in lockstep.
type IdentityRegistry struct {
	nameToConn map[string]ConnID
	connToName map[ConnID]string

	policy NamePolicy

	// hold keeps a name reserved after its owner disconnects
	hold time.Duration
	held map[string]time.Time
}

// NewIdentityRegistry creates a registry with the given contention policy.
// A zero hold frees names as soon as their owner disconnects.
func NewIdentityRegistry(policy NamePolicy, hold time.Duration) *IdentityRegistry {
	return &IdentityRegistry{
		nameToConn: make(map[string]ConnID),
		connToName: make(map[ConnID]string),
		policy:     policy,
		hold:       hold,
		held:       make(map[string]time.Time),
	}
}

// Resolve maps conn to a final name. exists reports whether a player is
// currently registered under a name.
//
// The request is a reconnection when the name is already bound to conn or is
// not taken at all. Otherwise the name is contended and the policy applies.
func (r *IdentityRegistry) Resolve(requested string, conn ConnID, exists func(string) bool, now time.Time) (Resolution, error) {
	res := Resolution{Requested: requested, Name: requested}

	if r.takenBy(requested, conn, exists, now) {
		if r.policy == NameReject {
			return Resolution{}, ErrNameTaken
		}
		for i := 1; ; i++ {
			candidate := requested + strconv.Itoa(i)
			if !r.takenBy(candidate, conn, exists, now) {
				res.Name = candidate
				break
			}
		}
		res.Modified = true
	}

	if prev, ok := r.connToName[conn]; ok && prev != res.Name {
		if r.nameToConn[prev] == conn {
			delete(r.nameToConn, prev)
		}
		res.Released = prev
	}

	r.nameToConn[res.Name] = conn
	r.connToName[conn] = res.Name
	delete(r.held, res.Name)
	return res, nil
}

// Release drops the mapping for conn. owned reports whether conn still
// owned its name; a stale connection never evicts a name someone else holds.
func (r *IdentityRegistry) Release(conn ConnID, now time.Time) (name string, owned bool) {
	name, ok := r.connToName[conn]
	if !ok {
		return "", false
	}
	delete(r.connToName, conn)

	if r.nameToConn[name] != conn {
		return name, false
	}
	delete(r.nameToConn, name)
	if r.hold > 0 {
		r.held[name] = now.Add(r.hold)
	}
	return name, true
}

// NameOf returns the name bound to conn.
func (r *IdentityRegistry) NameOf(conn ConnID) (string, bool) {
	name, ok := r.connToName[conn]
	return name, ok
}

// ConnOf returns the connection that owns name.
func (r *IdentityRegistry) ConnOf(name string) (ConnID, bool) {
	conn, ok := r.nameToConn[name]
	return conn, ok
}

// takenBy reports whether name is unavailable to conn.
func (r *IdentityRegistry) takenBy(name string, conn ConnID, exists func(string) bool, now time.Time) bool {
	if owner, ok := r.nameToConn[name]; ok {
		return owner != conn
	}
	if exists != nil && exists(name) {
		return true
	}
	if until, ok := r.held[name]; ok {
		if now.Before(until) {
			return true
		}
		delete(r.held, name)
	}
	return false
}
