// Package events fans session snapshots out to observers.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"callplane/pkg/logger"
)

// Bus holds one current value and a registry of observers.
//
// Subscribe replays the current value before any later Publish reaches the new observer.
// Observers run on the publisher's goroutine and must not block for long; they may
// unsubscribe themselves (or others) mid-broadcast, but must not call Subscribe or Publish.
type Bus[T any] struct {
	log *slog.Logger

	// deliverMu orders publishes against subscribe replays.
	deliverMu sync.Mutex

	mu      sync.Mutex
	current T
	subs    []*subscription[T] // replaced on every mutation, never modified in place
}

type subscription[T any] struct {
	fn     func(T)
	active atomic.Bool
}

func NewBus[T any](initial T, log *slog.Logger) *Bus[T] {
	return &Bus[T]{current: initial, log: logger.OrDefault(log)}
}

// Publish stores v as the current value and delivers it to every active observer in registration order.
func (b *Bus[T]) Publish(v T) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.current = v
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		b.deliver(s, v)
	}
}

// Subscribe registers fn, immediately calls it with the current value, and returns an idempotent unsubscribe.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s := &subscription[T]{fn: fn}
	s.active.Store(true)

	b.deliverMu.Lock()
	b.mu.Lock()
	cur := b.current
	next := make([]*subscription[T], len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, s)
	b.mu.Unlock()
	b.deliver(s, cur)
	b.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s) })
	}
}

// Current returns the last published value.
func (b *Bus[T]) Current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Len reports the number of registered observers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus[T]) remove(target *subscription[T]) {
	target.active.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]*subscription[T], 0, len(b.subs))
	for _, s := range b.subs {
		if s != target {
			next = append(next, s)
		}
	}
	b.subs = next
}

func (b *Bus[T]) deliver(s *subscription[T], v T) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("event observer panicked", "panic", p)
		}
	}()
	s.fn(v)
}
