package suggest

import (
	"context"
	"time"
)

// Repository reads and decides suggestions. SetStatus is idempotent for a repeated decision and
// returns ErrAlreadyDecided when the opposite decision was already applied.
type Repository interface {
	ListByRoom(ctx context.Context, roomID string) ([]Suggestion, error)
	SetStatus(ctx context.Context, id string, status Status, at time.Time) error
}
