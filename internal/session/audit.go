package session

import "context"

type AuditKind string

const (
	AuditCreated AuditKind = "call.created"
	AuditJoined  AuditKind = "call.joined"
	AuditFailed  AuditKind = "call.failed"
	AuditEnded   AuditKind = "call.ended"
)

// AuditRecord describes one lifecycle milestone of a session.
type AuditRecord struct {
	Kind            AuditKind
	SessionID       string
	RoomID          string
	UserID          string
	DurationSeconds int
	Recorded        bool
	Error           string
}

// Auditor persists lifecycle records. Failures are the implementation's to log.
type Auditor interface {
	RecordSession(ctx context.Context, rec AuditRecord)
}

func (c *Controller) auditRecordLocked(kind AuditKind) AuditRecord {
	rec := AuditRecord{
		Kind:            kind,
		SessionID:       c.s.id,
		UserID:          c.s.userID,
		DurationSeconds: c.s.duration,
	}
	if c.s.room != nil {
		rec.RoomID = c.s.room.ID
	}
	return rec
}

func (c *Controller) recordAudit(ctx context.Context, rec AuditRecord) {
	if c.deps.Auditor == nil {
		return
	}
	c.deps.Auditor.RecordSession(context.WithoutCancel(ctx), rec)
}
