package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"callplane/internal/session"
	"callplane/internal/suggest"
	"callplane/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records session milestones and suggestion decisions.
//
// Callers treat audit logging as best-effort: the session.Auditor and suggest.Auditor
// adapters log write failures and never return them.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, clock: time.Now, log: logger.OrDefault(log)}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.SessionID == "" && e.RoomID == "" && e.SuggestionID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

var sessionTypes = map[session.AuditKind]EventType{
	session.AuditCreated: EventTypeCallCreated,
	session.AuditJoined:  EventTypeCallJoined,
	session.AuditFailed:  EventTypeCallFailed,
	session.AuditEnded:   EventTypeCallEnded,
}

// RecordSession implements session.Auditor.
func (s *Service) RecordSession(ctx context.Context, rec session.AuditRecord) {
	typ, ok := sessionTypes[rec.Kind]
	if !ok {
		s.log.Warn("audit: unknown session record", "kind", rec.Kind)
		return
	}
	meta, _ := json.Marshal(struct {
		DurationSeconds int  `json:"duration_seconds"`
		Recorded        bool `json:"recorded"`
	}{rec.DurationSeconds, rec.Recorded})

	e := Event{
		Type:        typ,
		ActorUserID: rec.UserID,
		SessionID:   rec.SessionID,
		RoomID:      rec.RoomID,
		Message:     rec.Error,
		Metadata:    string(meta),
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "type", typ, "err", err)
	}
}

// RecordDecision implements suggest.Auditor.
func (s *Service) RecordDecision(ctx context.Context, d suggest.Decision) {
	typ := EventTypeSuggestionRejected
	if d.Status == suggest.StatusAccepted {
		typ = EventTypeSuggestionAccepted
	}
	e := Event{
		Type:         typ,
		ActorUserID:  d.ActorUserID,
		RoomID:       d.RoomID,
		SuggestionID: d.SuggestionID,
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "type", typ, "err", err)
	}
}
