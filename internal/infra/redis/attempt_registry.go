package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"horizon-apply-service/internal/app"
)

// AttemptRegistry is a Redis-aware implementation of app.AttemptRegistry.
// Notes:
//   - Attempt sessions are in-process objects (countdowns and subscriber
//     channels don't serialize), so the registry keeps a local map.
//   - Redis marks attempt liveness with a TTL key, which gives operators
//     visibility into in-flight attempts and could route cross-instance
//     coordination later.
type AttemptRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	attempts map[string]*app.AttemptSession
}

func NewAttemptRegistry(client *redis.Client, ttl time.Duration) *AttemptRegistry {
	return &AttemptRegistry{
		client:   client,
		ttl:      ttl,
		attempts: make(map[string]*app.AttemptSession),
	}
}

func (r *AttemptRegistry) Put(key string, session *app.AttemptSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[key] = session
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(key), "1", r.ttl).Err()
}

func (r *AttemptRegistry) Get(key string) (*app.AttemptSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.attempts[key]
	return session, ok
}

func (r *AttemptRegistry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, key)
	_ = r.client.Del(context.Background(), r.key(key)).Err()
}

func (r *AttemptRegistry) key(attemptKey string) string {
	return "attempt:live:" + attemptKey
}
