package suggest

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs without a database.
type MemoryRepo struct {
	mu    sync.Mutex
	order []string
	byID  map[string]Suggestion

	listCalls int
	setCalls  int

	// ListErr and SetErr, when set, are returned instead of touching the data.
	ListErr error
	SetErr  map[string]error
}

func NewMemoryRepo(seed ...Suggestion) *MemoryRepo {
	r := &MemoryRepo{byID: make(map[string]Suggestion)}
	r.Put(seed...)
	return r
}

func (r *MemoryRepo) Put(ss ...Suggestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range ss {
		if _, ok := r.byID[s.ID]; !ok {
			r.order = append(r.order, s.ID)
		}
		r.byID[s.ID] = s
	}
}

func (r *MemoryRepo) Get(id string) (Suggestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *MemoryRepo) ListCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

func (r *MemoryRepo) SetCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setCalls
}

func (r *MemoryRepo) ListByRoom(ctx context.Context, roomID string) ([]Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	var out []Suggestion
	for _, id := range r.order {
		if s := r.byID[id]; s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setCalls++
	if err := r.SetErr[id]; err != nil {
		return err
	}
	s, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status == status {
		return nil
	}
	if s.Status.Decided() {
		return ErrAlreadyDecided
	}
	s.Status = status
	if status == StatusAccepted && s.AcceptedAt == nil {
		ts := at
		s.AcceptedAt = &ts
	}
	r.byID[id] = s
	return nil
}
