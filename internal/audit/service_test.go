package audit

import (
	"context"
	"errors"
	"testing"

	"callplane/internal/session"
	"callplane/internal/suggest"
	"callplane/pkg/logger"
)

func TestService_AppendRequiresTypeAndTarget(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())

	if err := svc.Append(context.Background(), Event{RoomID: "r1"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeCallEnded}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
}

func TestService_RecordSessionAppendsEvent(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())

	svc.RecordSession(context.Background(), session.AuditRecord{
		Kind:            session.AuditEnded,
		SessionID:       "s1",
		RoomID:          "r1",
		UserID:          "u1",
		DurationSeconds: 65,
		Recorded:        true,
	})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.Type != EventTypeCallEnded || e.RoomID != "r1" || e.ActorUserID != "u1" {
		t.Fatalf("unexpected event %+v", e)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp filled")
	}
	if e.Metadata != `{"duration_seconds":65,"recorded":true}` {
		t.Fatalf("unexpected metadata %s", e.Metadata)
	}
}

func TestService_RecordDecision(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())

	svc.RecordDecision(context.Background(), suggest.Decision{SuggestionID: "x", RoomID: "r1", Status: suggest.StatusAccepted})
	svc.RecordDecision(context.Background(), suggest.Decision{SuggestionID: "y", RoomID: "r1", Status: suggest.StatusRejected})

	evs := repo.Events()
	if len(evs) != 2 || evs[0].Type != EventTypeSuggestionAccepted || evs[1].Type != EventTypeSuggestionRejected {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestService_UnknownSessionKindIsDropped(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())
	svc.RecordSession(context.Background(), session.AuditRecord{Kind: "call.bogus", RoomID: "r1"})
	if len(repo.Events()) != 0 {
		t.Fatalf("expected nothing appended")
	}
}
