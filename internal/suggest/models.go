package suggest

import (
	"errors"
	"time"
)

// Suggestion is an action item extracted from a call transcript by the external analysis pipeline.
//
// Invariants:
// - status moves pending -> accepted|rejected exactly once.
// - modified is reserved for edit-then-accept and never returns to pending.
type Suggestion struct {
	ID          string  `json:"id" db:"id"`
	RoomID      string  `json:"room_id" db:"room_id"`
	Type        Type    `json:"suggestion_type" db:"suggestion_type"`
	Title       string  `json:"title" db:"title"`
	Description string  `json:"description,omitempty" db:"description"`
	Status      Status  `json:"status" db:"status"`
	Confidence  float64 `json:"confidence" db:"confidence"`
	SourceQuote string  `json:"source_quote,omitempty" db:"source_quote"`

	// Event fields.
	EventStart *time.Time `json:"event_start,omitempty" db:"event_start"`
	EventEnd   *time.Time `json:"event_end,omitempty" db:"event_end"`

	// Todo fields.
	Assignee string     `json:"assignee,omitempty" db:"assignee"`
	DueDate  *time.Time `json:"due_date,omitempty" db:"due_date"`
	Priority string     `json:"priority,omitempty" db:"priority"`

	// Note fields.
	Category string `json:"category,omitempty" db:"category"`

	AcceptedAt *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type Type string

const (
	TypeEvent Type = "event"
	TypeTodo  Type = "todo"
	TypeNote  Type = "note"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusModified Status = "modified"
)

// Decided reports whether a user decision has already been applied.
func (s Status) Decided() bool {
	return s == StatusAccepted || s == StatusRejected
}

var (
	ErrNotFound        = errors.New("suggest: not found")
	ErrAlreadyDecided  = errors.New("suggest: already decided")
	ErrInvalidArgument = errors.New("suggest: invalid argument")
)
