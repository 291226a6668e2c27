// Package lock implements bank.Locker for a single process and for a fleet
// sharing one Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/deposit-engine/bank"
)

var (
	_ bank.Locker = (*Local)(nil)
	_ bank.Locker = (*Redis)(nil)
)

// =============================================================================
// LOCAL
// =============================================================================

// Local holds keys in process memory.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, bank.Errorf(bank.ErrStateConflict, bank.CodeOperationInProgress, "operation in progress for %s", key)
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// =============================================================================
// REDIS
// =============================================================================

// releaseScript deletes the key only while it still carries our token, so a
// holder whose TTL lapsed cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis takes keys with SET NX PX. The TTL bounds how long a crashed holder
// blocks others; it must exceed the longest posting run.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

const DefaultTTL = 2 * time.Minute

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: "deposit-engine:lock:", ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := r.prefix + key
	err := r.client.SetArgs(ctx, full, token, redis.SetArgs{Mode: "NX", TTL: r.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, bank.Errorf(bank.ErrStateConflict, bank.CodeOperationInProgress, "operation in progress for %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must outlive a cancelled request context.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{full}, token).Err()
		})
	}, nil
}
