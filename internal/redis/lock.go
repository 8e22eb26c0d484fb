package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot offer lock not acquired")
)

// Locker serialises processing of one slot offer across dispatcher instances
type Locker interface {
	WithSlotOfferLock(ctx context.Context, slotOfferID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisSlotOfferLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSlotOfferLocker creates a locker that uses a per slot offer Redis key
func NewRedisSlotOfferLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisSlotOfferLocker{
		client: client,
		ttl:    ttl,
	}
}

func lockKey(slotOfferID uuid.UUID) string {
	return fmt.Sprintf("lock:slot_offer:%s", slotOfferID.String())
}

func (l *redisSlotOfferLocker) WithSlotOfferLock(ctx context.Context, slotOfferID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(slotOfferID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire slot offer lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotOfferLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot offer lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn directly. Used when no Redis is configured (memory store)
type NoopLocker struct{}

func (NoopLocker) WithSlotOfferLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
