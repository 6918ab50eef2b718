package game

import "errors"

// Kind classifies a rejected request and decides whether the sender hears about it.
type Kind uint8

const (
	// KindValidation is a malformed payload: a client bug, logged and dropped.
	KindValidation Kind = iota + 1
	// KindAuthorization is an identity mismatch; the sender is told.
	KindAuthorization
	// KindPrecondition is a state that forbids the request; the sender is told.
	KindPrecondition
	// KindStale is a request overtaken by other events; dropped silently.
	KindStale
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindPrecondition:
		return "precondition"
	case KindStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Error is a rejected operation. Msg is safe to show to players.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Notify reports whether the sender should receive an error event.
func (e *Error) Notify() bool {
	return e.Kind == KindAuthorization || e.Kind == KindPrecondition
}

// Rejections. Messages for precondition errors match what clients display.
var (
	ErrInvalidName     = &Error{KindValidation, "Name is required"}
	ErrInvalidPosition = &Error{KindValidation, "Position is required"}
	ErrNameTaken       = &Error{KindPrecondition, "Name is already taken"}

	ErrNotJoined        = &Error{KindAuthorization, "You must join before playing"}
	ErrIdentityMismatch = &Error{KindAuthorization, "Cannot act on behalf of another player"}
	ErrNotOwner         = &Error{KindAuthorization, "You can only remove your own cubes"}

	ErrGameNotActiveAdd    = &Error{KindPrecondition, "Cannot add cubes outside of active game"}
	ErrGameNotActiveRemove = &Error{KindPrecondition, "Cannot remove cubes outside of active game"}
	ErrCellOccupied        = &Error{KindPrecondition, "A cube already exists at this position"}
	ErrGameActive          = &Error{KindPrecondition, "Game is already active"}
	ErrInvalidTime         = &Error{KindPrecondition, "Invalid time. Usage: timer <minutes>"}

	ErrNoCube = &Error{KindStale, "No cube at this position"}
)

// KindOf returns the kind of err, or zero when err is not a rejection.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}
