package businessflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ExpertLocker serializes assignment operations per expert. The database's
// partial unique index on live assignments is the hard guarantee; the lock
// exists so a losing concurrent request fails fast with a clean error
// instead of a constraint violation after a provider purchase.
type ExpertLocker interface {
	Acquire(ctx context.Context, expertUUID string) (release func(), err error)
}

// unlockScript releases a lock only if the caller still owns it
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisExpertLocker implements ExpertLocker with SET NX and a TTL. The TTL
// bounds how long a crashed process can hold an expert's slot.
type RedisExpertLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisExpertLocker creates a redis-backed expert locker
func NewRedisExpertLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisExpertLocker {
	return &RedisExpertLocker{
		client: client,
		prefix: prefix + "lock:expert:",
		ttl:    ttl,
	}
}

func (l *RedisExpertLocker) Acquire(ctx context.Context, expertUUID string) (func(), error) {
	key := l.prefix + expertUUID
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssignmentLockBusy
	}

	release := func() {
		// Release outlives the request context on purpose.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = unlockScript.Run(releaseCtx, l.client, []string{key}, token).Result()
	}

	return release, nil
}

// LocalExpertLocker is an in-process fallback for deployments without redis
// and for tests. Single-instance deployments only.
type LocalExpertLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalExpertLocker creates an in-process expert locker
func NewLocalExpertLocker() *LocalExpertLocker {
	return &LocalExpertLocker{
		held: make(map[string]bool),
	}
}

func (l *LocalExpertLocker) Acquire(ctx context.Context, expertUUID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[expertUUID] {
		return nil, ErrAssignmentLockBusy
	}
	l.held[expertUUID] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, expertUUID)
			l.mu.Unlock()
		})
	}

	return release, nil
}

// NewExpertLocker picks the redis locker when a client is available and the
// local locker otherwise
func NewExpertLocker(client *redis.Client, prefix string, ttl time.Duration) ExpertLocker {
	if client != nil {
		return NewRedisExpertLocker(client, prefix, ttl)
	}
	return NewLocalExpertLocker()
}
