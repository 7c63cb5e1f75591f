package suggest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callplane/internal/session"
	"callplane/pkg/logger"
)

// Trigger starts polling once a call has fully ended. It remembers the room and frozen duration
// seen in Processing and polls on the following Idle.
type Trigger struct {
	ctx context.Context
	r   *Retriever
	log *slog.Logger

	mu       sync.Mutex
	roomID   string
	duration int
	wg       sync.WaitGroup
}

func NewTrigger(ctx context.Context, r *Retriever, log *slog.Logger) *Trigger {
	return &Trigger{ctx: ctx, r: r, log: logger.OrDefault(log).With("component", "suggest-trigger")}
}

// Observe is a session bus observer. It never blocks.
func (t *Trigger) Observe(s session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch s.Status {
	case session.StatusProcessing:
		if s.Room != nil {
			t.roomID, t.duration = s.Room.ID, s.DurationSeconds
		}
	case session.StatusIdle:
		if t.roomID == "" {
			return
		}
		roomID, d := t.roomID, time.Duration(t.duration)*time.Second
		t.roomID, t.duration = "", 0
		t.log.Debug("call ended, polling for suggestions", "room_id", roomID, "duration", d)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.r.Poll(t.ctx, roomID, d)
		}()
	case session.StatusCreating, session.StatusConnecting:
		t.roomID, t.duration = "", 0
	}
}

// Wait blocks until every poll started so far has finished.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
