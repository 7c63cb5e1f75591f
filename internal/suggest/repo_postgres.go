package suggest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Schema creates call_suggestions for local development. In production the analysis pipeline owns the table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS call_suggestions (
  id              TEXT PRIMARY KEY,
  room_id         TEXT NOT NULL,
  suggestion_type TEXT NOT NULL,
  title           TEXT NOT NULL,
  description     TEXT,
  status          TEXT NOT NULL DEFAULT 'pending',
  confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
  source_quote    TEXT,
  event_start     TIMESTAMPTZ,
  event_end       TIMESTAMPTZ,
  assignee        TEXT,
  due_date        TIMESTAMPTZ,
  priority        TEXT,
  category        TEXT,
  accepted_at     TIMESTAMPTZ,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS call_suggestions_room_idx ON call_suggestions (room_id, created_at)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ListByRoom(ctx context.Context, roomID string) ([]Suggestion, error) {
	const q = `
SELECT id, room_id, suggestion_type, title, description, status, confidence, source_quote,
       event_start, event_end, assignee, due_date, priority, category, accepted_at, created_at
FROM call_suggestions
WHERE room_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var (
			s                                     Suggestion
			desc, quote, assignee, prio, category sql.NullString
			start, end, due, accepted             sql.NullTime
		)
		if err := rows.Scan(
			&s.ID,
			&s.RoomID,
			&s.Type,
			&s.Title,
			&desc,
			&s.Status,
			&s.Confidence,
			&quote,
			&start,
			&end,
			&assignee,
			&due,
			&prio,
			&category,
			&accepted,
			&s.CreatedAt,
		); err != nil {
			return nil, err
		}
		s.Description, s.SourceQuote = desc.String, quote.String
		s.Assignee, s.Priority, s.Category = assignee.String, prio.String, category.String
		s.EventStart, s.EventEnd = timePtr(start), timePtr(end)
		s.DueDate, s.AcceptedAt = timePtr(due), timePtr(accepted)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetStatus applies a decision to an undecided row. When no row changes it resolves why:
// missing row, a repeat of the same decision, or a conflicting earlier decision.
func (r *PostgresRepo) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	const upd = `
UPDATE call_suggestions
SET status = $2::text,
    accepted_at = CASE WHEN $2::text = 'accepted' THEN COALESCE(accepted_at, $3) ELSE accepted_at END,
    updated_at = $3
WHERE id = $1 AND status IN ('pending', 'modified')
`
	res, err := r.db.ExecContext(ctx, upd, id, string(status), at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current Status
	if err := r.db.QueryRowContext(ctx, `SELECT status FROM call_suggestions WHERE id = $1`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if current == status {
		return nil
	}
	return fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, current)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
