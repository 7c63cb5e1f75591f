package session

import "fmt"

// Status is the lifecycle state of the call session. Exactly one holds at any time.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusCreating   Status = "creating"
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnding     Status = "ending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed" // reserved; the controller returns to idle directly
	StatusError      Status = "error"
)

// transitions lists the legal moves. Any state except Idle and Error may also move to Error.
//
// Beyond the happy path:
// - creating, ringing and connecting may move to ending when the user cancels before connect.
// - ending moves straight to idle when no room was ever established.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusCreating, StatusConnecting},
	StatusCreating:   {StatusRinging, StatusEnding},
	StatusRinging:    {StatusConnecting, StatusEnding},
	StatusConnecting: {StatusActive, StatusEnding},
	StatusActive:     {StatusEnding},
	StatusEnding:     {StatusProcessing, StatusIdle},
	StatusProcessing: {StatusIdle},
	StatusCompleted:  {StatusIdle},
	StatusError:      {StatusIdle},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether s -> to is legal.
func (s Status) CanTransition(to Status) bool {
	if to == StatusError {
		return s != StatusError && s != StatusIdle && s.Valid()
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// InFlight reports whether a call attempt or call is under way (not idle and not failed).
func (s Status) InFlight() bool {
	switch s {
	case StatusCreating, StatusRinging, StatusConnecting, StatusActive, StatusEnding, StatusProcessing:
		return true
	default:
		return false
	}
}

type transitionError struct {
	from, to Status
}

func (e transitionError) Error() string {
	return fmt.Sprintf("session: illegal transition %s -> %s", e.from, e.to)
}

func (e transitionError) Unwrap() error { return ErrInvalidTransition }
