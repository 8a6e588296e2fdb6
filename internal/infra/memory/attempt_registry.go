package memory

import (
	"sync"

	"horizon-apply-service/internal/app"
)

// AttemptRegistry is an in-memory implementation of app.AttemptRegistry.
type AttemptRegistry struct {
	mu       sync.RWMutex
	attempts map[string]*app.AttemptSession
}

func NewAttemptRegistry() *AttemptRegistry {
	return &AttemptRegistry{
		attempts: make(map[string]*app.AttemptSession),
	}
}

func (r *AttemptRegistry) Put(key string, session *app.AttemptSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[key] = session
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
}
