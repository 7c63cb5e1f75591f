package session

import (
	"context"
	"time"

	"callplane/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Guard limits a user to one live session across processes.
// Acquire reports false when another session already holds the slot.
type Guard interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// RedisGuard is a Guard backed by the shared concurrency-cap scripts. The TTL bounds how long a
// crashed process can hold a slot.
type RedisGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, ttl: ttl, prefix: "callplane:active:"}
}

func (g *RedisGuard) key(userID string) string { return g.prefix + userID }

func (g *RedisGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, g.key(userID), 1, g.ttl)
}

func (g *RedisGuard) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, g.key(userID))
}
