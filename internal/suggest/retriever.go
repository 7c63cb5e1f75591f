// Package suggest retrieves and decides the follow-up suggestions produced for a finished call.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callplane/internal/auth"
	"callplane/pkg/logger"
)

type State string

const (
	StateNone    State = "none"
	StateSkipped State = "skipped"
	StatePolling State = "polling"
	StateFound   State = "found"
	StateEmpty   State = "empty"
)

// Result is the retrieval outcome for one room. Empty covers both "nothing produced"
// and fetch failures.
type Result struct {
	RoomID      string       `json:"room_id"`
	State       State        `json:"state"`
	Attempts    int          `json:"attempts"`
	Suggestions []Suggestion `json:"suggestions"`
}

type Options struct {
	Interval        time.Duration
	MaxAttempts     int
	MinCallDuration time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.Interval <= 0 {
		out.Interval = 3 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 20
	}
	if out.MinCallDuration < 0 {
		out.MinCallDuration = 0
	}
	return out
}

// Decision is one accept or reject applied to a suggestion.
type Decision struct {
	SuggestionID string
	RoomID       string
	Status       Status
	ActorUserID  string
}

type Auditor interface {
	RecordDecision(ctx context.Context, d Decision)
}

// Retriever polls for suggestions after a call and applies user decisions to them.
// It keeps the latest result per room so decisions are reflected locally before the remote write returns.
type Retriever struct {
	repo    Repository
	opts    Options
	log     *slog.Logger
	auditor Auditor
	clock   func() time.Time

	mu      sync.Mutex
	results map[string]*Result
}

func NewRetriever(repo Repository, opts Options, auditor Auditor, log *slog.Logger) *Retriever {
	return &Retriever{
		repo:    repo,
		opts:    opts.withDefaults(),
		log:     logger.OrDefault(log).With("component", "suggest"),
		auditor: auditor,
		clock:   time.Now,
		results: make(map[string]*Result),
	}
}

// Poll fetches suggestions for roomID every Interval until a non-empty set arrives or MaxAttempts
// is reached. Calls shorter than MinCallDuration are skipped without any fetch.
func (r *Retriever) Poll(ctx context.Context, roomID string, callDuration time.Duration) Result {
	if strings.TrimSpace(roomID) == "" {
		return Result{State: StateEmpty, Suggestions: []Suggestion{}}
	}
	if callDuration < r.opts.MinCallDuration {
		r.log.Info("call too short for suggestions", "room_id", roomID, "duration", callDuration)
		return r.store(Result{RoomID: roomID, State: StateSkipped})
	}

	r.store(Result{RoomID: roomID, State: StatePolling})
	for attempt := 1; ; attempt++ {
		list, err := r.repo.ListByRoom(ctx, roomID)
		if err != nil {
			r.log.Warn("suggestion fetch failed, giving up", "room_id", roomID, "attempt", attempt, "err", err)
			return r.store(Result{RoomID: roomID, State: StateEmpty, Attempts: attempt})
		}
		if len(list) > 0 {
			r.log.Info("suggestions ready", "room_id", roomID, "attempt", attempt, "count", len(list))
			return r.store(Result{RoomID: roomID, State: StateFound, Attempts: attempt, Suggestions: list})
		}
		if attempt >= r.opts.MaxAttempts {
			r.log.Info("no suggestions produced", "room_id", roomID, "attempts", attempt)
			return r.store(Result{RoomID: roomID, State: StateEmpty, Attempts: attempt})
		}
		r.setAttempts(roomID, attempt)

		wait := time.NewTimer(r.opts.Interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return r.store(Result{RoomID: roomID, State: StateEmpty, Attempts: attempt})
		case <-wait.C:
		}
	}
}

// GetSuggestions returns the latest known result for roomID.
func (r *Retriever) GetSuggestions(roomID string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[roomID]
	if !ok {
		return Result{RoomID: roomID, State: StateNone, Suggestions: []Suggestion{}}
	}
	return copyResult(res)
}

func (r *Retriever) Accept(ctx context.Context, id string) error {
	return r.decide(ctx, id, StatusAccepted)
}

func (r *Retriever) Reject(ctx context.Context, id string) error {
	return r.decide(ctx, id, StatusRejected)
}

// AcceptAll accepts every pending suggestion of roomID in order. A failure does not stop the batch;
// all failures are returned joined.
func (r *Retriever) AcceptAll(ctx context.Context, roomID string) (int, error) {
	if strings.TrimSpace(roomID) == "" {
		return 0, ErrInvalidArgument
	}
	r.mu.Lock()
	cached, ok := r.results[roomID]
	found := ok && cached.State == StateFound
	r.mu.Unlock()
	if !found {
		list, err := r.repo.ListByRoom(ctx, roomID)
		if err != nil {
			return 0, fmt.Errorf("suggest: list %s: %w", roomID, err)
		}
		r.merge(roomID, list)
	}

	var ids []string
	r.mu.Lock()
	for _, s := range r.results[roomID].Suggestions {
		if s.Status == StatusPending {
			ids = append(ids, s.ID)
		}
	}
	r.mu.Unlock()

	accepted := 0
	var errs []error
	for _, id := range ids {
		if err := r.Accept(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		accepted++
	}
	return accepted, errors.Join(errs...)
}

// decide marks the local copy first and reverts it if the remote write fails.
// Repeating a decision already held locally is a no-op without a remote call.
func (r *Retriever) decide(ctx context.Context, id string, to Status) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidArgument
	}

	r.mu.Lock()
	roomID, prev, found := r.findLocked(id)
	if found {
		if prev == to {
			r.mu.Unlock()
			return nil
		}
		if prev.Decided() {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, prev)
		}
		r.setStatusLocked(roomID, id, prev, to)
	}
	r.mu.Unlock()

	if err := r.repo.SetStatus(ctx, id, to, r.clock().UTC()); err != nil {
		if found {
			r.mu.Lock()
			r.setStatusLocked(roomID, id, to, prev)
			r.mu.Unlock()
		}
		return fmt.Errorf("suggest: %s %s: %w", to, id, err)
	}

	if r.auditor != nil {
		actor, _ := auth.UserID(ctx)
		r.auditor.RecordDecision(context.WithoutCancel(ctx), Decision{SuggestionID: id, RoomID: roomID, Status: to, ActorUserID: actor})
	}
	return nil
}

func (r *Retriever) findLocked(id string) (roomID string, status Status, ok bool) {
	for room, res := range r.results {
		for _, s := range res.Suggestions {
			if s.ID == id {
				return room, s.Status, true
			}
		}
	}
	return "", "", false
}

// setStatusLocked moves id from -> to; it leaves the entry alone if another decision raced ahead.
func (r *Retriever) setStatusLocked(roomID, id string, from, to Status) {
	res, ok := r.results[roomID]
	if !ok {
		return
	}
	for i := range res.Suggestions {
		if res.Suggestions[i].ID == id && res.Suggestions[i].Status == from {
			res.Suggestions[i].Status = to
			return
		}
	}
}

// merge installs a late fetch for roomID. An empty fetch leaves an existing entry alone.
func (r *Retriever) merge(roomID string, list []Suggestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.results[roomID]
	if len(list) == 0 {
		if !ok {
			r.results[roomID] = &Result{RoomID: roomID, State: StateEmpty, Suggestions: []Suggestion{}}
		}
		return
	}
	next := Result{RoomID: roomID, State: StateFound, Suggestions: list}
	if ok {
		next.Attempts = cur.Attempts
	}
	cp := copyResult(&next)
	r.results[roomID] = &cp
}

func (r *Retriever) setAttempts(roomID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.results[roomID]; ok && res.State == StatePolling {
		res.Attempts = n
	}
}

func (r *Retriever) store(res Result) Result {
	if res.Suggestions == nil {
		res.Suggestions = []Suggestion{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := copyResult(&res)
	r.results[res.RoomID] = &cp
	return copyResult(&res)
}

func copyResult(res *Result) Result {
	out := *res
	out.Suggestions = make([]Suggestion, len(res.Suggestions))
	copy(out.Suggestions, res.Suggestions)
	return out
}
