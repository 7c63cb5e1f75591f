package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"callplane/pkg/logger"
	"callplane/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const mirrorWriteTimeout = 2 * time.Second

// RedisMirror copies every observed value into Redis: SET on the snapshot key and PUBLISH on the channel,
// so dashboards in other processes can follow the live session.
// Writes happen on one goroutine in observation order; when Redis falls behind the oldest queued value is dropped.
type RedisMirror[T any] struct {
	write func(ctx context.Context, v T) error
	read  func(ctx context.Context) (T, bool, error)
	log   *slog.Logger

	queue  chan T
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

func NewRedisMirror[T any](rdb *redis.Client, key, channel string, log *slog.Logger) *RedisMirror[T] {
	write := func(ctx context.Context, v T) error {
		if err := utils.SetJSON(ctx, rdb, key, v, 0); err != nil {
			return err
		}
		return utils.PublishJSON(ctx, rdb, channel, v)
	}
	m := newMirror(write, 16, log)
	m.read = func(ctx context.Context) (T, bool, error) {
		var v T
		ok, err := utils.GetJSON(ctx, rdb, key, &v)
		return v, ok, err
	}
	return m
}

func newMirror[T any](write func(context.Context, T) error, depth int, log *slog.Logger) *RedisMirror[T] {
	m := &RedisMirror[T]{
		write: write,
		log:   logger.OrDefault(log),
		queue: make(chan T, depth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go m.run()
	return m
}

// Observe enqueues v without blocking. Suitable as a Bus observer.
func (m *RedisMirror[T]) Observe(v T) {
	if m.closed.Load() {
		return
	}
	for {
		select {
		case m.queue <- v:
			return
		default:
		}
		select {
		case <-m.queue:
			m.log.Warn("redis mirror behind, dropping oldest snapshot")
		default:
		}
	}
}

// Reconcile loads the value left under the snapshot key by an earlier process and, when stale
// reports true for it, queues reset in its place. It reports whether a reset was queued.
func (m *RedisMirror[T]) Reconcile(ctx context.Context, stale func(T) bool, reset T) (bool, error) {
	if m.read == nil {
		return false, nil
	}
	prev, ok, err := m.read(ctx)
	if err != nil {
		return false, err
	}
	if !ok || !stale(prev) {
		return false, nil
	}
	m.Observe(reset)
	return true, nil
}

// Close flushes queued values and stops the writer.
func (m *RedisMirror[T]) Close() {
	m.once.Do(func() {
		m.closed.Store(true)
		close(m.stop)
	})
	<-m.done
}

func (m *RedisMirror[T]) run() {
	defer close(m.done)
	for {
		select {
		case v := <-m.queue:
			m.flush(v)
		case <-m.stop:
			for {
				select {
				case v := <-m.queue:
					m.flush(v)
				default:
					return
				}
			}
		}
	}
}

func (m *RedisMirror[T]) flush(v T) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	if err := m.write(ctx, v); err != nil {
		m.log.Warn("redis mirror write failed", "err", err)
	}
}
