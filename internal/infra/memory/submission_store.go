package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"horizon-apply-service/internal/domain"
)

// SubmissionStore is an in-memory implementation of app.SubmissionStore.
// Status transitions are compare-and-swap under the store mutex, so the
// pending->taken claim race has exactly one winner per submission.
type SubmissionStore struct {
	mu          sync.RWMutex
	submissions map[string]domain.Submission
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		submissions: make(map[string]domain.Submission),
	}
}

func (s *SubmissionStore) Create(_ context.Context, sub domain.Submission) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = domain.StatusPending
	}
	s.submissions[sub.ID] = sub
	return sub, nil
}

func (s *SubmissionStore) Get(_ context.Context, id string) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return sub, nil
}

func (s *SubmissionStore) List(_ context.Context, filter domain.SubmissionFilter) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Submission, 0, len(s.submissions))
	for _, sub := range s.submissions {
		if filter.QuizID != "" && sub.QuizID != filter.QuizID {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *SubmissionStore) ListByUser(_ context.Context, userID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Submission, 0)
	for _, sub := range s.submissions {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *SubmissionStore) UpdateStatus(_ context.Context, id string, expected, next domain.SubmissionStatus, reviewer domain.User, reason string) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	if sub.Status != expected {
		return domain.Submission{}, domain.ErrConflict
	}
	sub.Status = next
	if next == domain.StatusPending {
		// release: clear the claim
		sub.AdminID = ""
		sub.AdminUsername = ""
		sub.Reason = ""
	} else {
		sub.AdminID = reviewer.ID
		sub.AdminUsername = reviewer.Username
		if reason != "" {
			sub.Reason = reason
		}
	}
	s.submissions[id] = sub
	return sub, nil
}
