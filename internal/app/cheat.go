package app

import (
	"time"

	"horizon-apply-service/internal/domain"
)

// cheatDebounce is the window inside which a second signal is treated as
// the same physical event (tab switch fires both visibility and focus
// transitions on most platforms).
const cheatDebounce = 200 * time.Millisecond

// cheatRecorder keeps the append-only cheat log of one attempt. Entries
// are never mutated or removed; reviewers get a copy. The recorder itself
// is not goroutine-safe; the owning session serializes access.
type cheatRecorder struct {
	attempts []domain.CheatAttempt
	lastAt   time.Time
}

// record appends one cheat attempt unless it falls inside the debounce
// window of the previous one. Returns whether an entry was added.
func (r *cheatRecorder) record(method domain.CheatMethod, at time.Time) bool {
	if !r.lastAt.IsZero() && at.Sub(r.lastAt) < cheatDebounce {
		return false
	}
	r.attempts = append(r.attempts, domain.CheatAttempt{Method: method, Timestamp: at})
	r.lastAt = at
	return true
}

// snapshot returns a copy of the log captured so far.
func (r *cheatRecorder) snapshot() []domain.CheatAttempt {
	out := make([]domain.CheatAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}
