package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor capture is best-effort; do not block call teardown or decisions on audit failures.
//
// Storage (Postgres): table audit_events, INSERT only.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if known).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Target identifiers (optional, depending on the event type).
	SessionID    string `json:"session_id,omitempty" db:"session_id"`
	RoomID       string `json:"room_id,omitempty" db:"room_id"`
	SuggestionID string `json:"suggestion_id,omitempty" db:"suggestion_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated        EventType = "call.created"
	EventTypeCallJoined         EventType = "call.joined"
	EventTypeCallFailed         EventType = "call.failed"
	EventTypeCallEnded          EventType = "call.ended"
	EventTypeSuggestionAccepted EventType = "suggestion.accepted"
	EventTypeSuggestionRejected EventType = "suggestion.rejected"
)
