package audit

import (
	"context"
	"database/sql"
)

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
  id            TEXT PRIMARY KEY,
  type          TEXT NOT NULL,
  actor_user_id TEXT,
  session_id    TEXT,
  room_id       TEXT,
  suggestion_id TEXT,
  message       TEXT,
  metadata      JSONB,
  created_at    TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS audit_events_room_idx ON audit_events (room_id, created_at)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, session_id, room_id, suggestion_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		nullString(e.ActorUserID),
		nullString(e.SessionID),
		nullString(e.RoomID),
		nullString(e.SuggestionID),
		nullString(e.Message),
		nullString(e.Metadata),
		e.CreatedAt,
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
