package app

import (
	"context"
	"fmt"
	"time"

	"horizon-apply-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListOpenQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// SubmissionStore persists submissions and performs the guarded status
// transitions of the review workflow. UpdateStatus must be atomic per
// submission: the update applies only if the current status equals
// expected, otherwise domain.ErrConflict is returned.
type SubmissionStore interface {
	Create(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	Get(ctx context.Context, id string) (domain.Submission, error)
	List(ctx context.Context, filter domain.SubmissionFilter) ([]domain.Submission, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Submission, error)
	UpdateStatus(ctx context.Context, id string, expected, next domain.SubmissionStatus, reviewer domain.User, reason string) (domain.Submission, error)
}

// CaptchaVerifier checks an anti-bot token. Tokens are single-use: one is
// consumed when an attempt begins and another at final submit.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) error
}

// AttemptRegistry tracks live attempt sessions by key (userID+quizID).
type AttemptRegistry interface {
	Put(key string, session *AttemptSession)
	Get(key string) (*AttemptSession, bool)
	Delete(key string)
}

// ApplyService runs the applicant side: eligibility checks, attempt
// lifecycle, and final submission.
type ApplyService struct {
	quizzes     QuizRepository
	submissions SubmissionStore
	verifier    CaptchaVerifier
	attempts    AttemptRegistry
	now         func() time.Time
	ticker      TickerSource
}

func NewApplyService(quizzes QuizRepository, submissions SubmissionStore, verifier CaptchaVerifier, attempts AttemptRegistry) *ApplyService {
	return &ApplyService{
		quizzes:     quizzes,
		submissions: submissions,
		verifier:    verifier,
		attempts:    attempts,
		now:         time.Now,
		ticker:      RealTicker,
	}
}

// WithClock overrides the service clock and ticker source, for tests.
func (s *ApplyService) WithClock(now func() time.Time, ticker TickerSource) *ApplyService {
	s.now = now
	s.ticker = ticker
	return s
}

// ListOpenQuizzes returns the quizzes currently accepting attempts.
func (s *ApplyService) ListOpenQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	return s.quizzes.ListOpenQuizzes(ctx)
}

// MySubmissions returns the caller's submission history.
func (s *ApplyService) MySubmissions(ctx context.Context, userID string) ([]domain.Submission, error) {
	return s.submissions.ListByUser(ctx, userID)
}

// BeginAttempt verifies the anti-bot token, checks that the quiz is open
// and that the user has not already applied in the current season, then
// starts a live attempt session. An existing unfinished attempt for the
// same quiz is forfeited and replaced.
func (s *ApplyService) BeginAttempt(ctx context.Context, quizID string, user domain.User, captchaToken string) (*AttemptSession, error) {
	if captchaToken == "" {
		return nil, domain.ErrMissingCaptcha
	}
	if err := s.verifier.Verify(ctx, captchaToken); err != nil {
		return nil, err
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.IsOpen {
		return nil, domain.ErrQuizClosed
	}
	for _, q := range quiz.Questions {
		if q.TimeLimit <= 0 {
			return nil, fmt.Errorf("%w: question %s has no time limit", domain.ErrValidation, q.ID)
		}
	}

	prior, err := s.submissions.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list submissions: %v", domain.ErrUpstream, err)
	}
	for _, sub := range prior {
		if quiz.SatisfiesSeason(sub) {
			return nil, domain.ErrAlreadyApplied
		}
	}

	key := attemptKey(user.ID, quizID)
	if old, ok := s.attempts.Get(key); ok {
		old.Abandon()
		s.attempts.Delete(key)
	}

	session := NewAttemptSession(quiz, user, s.now, s.ticker)
	if err := session.Begin(); err != nil {
		return nil, err
	}
	s.attempts.Put(key, session)
	return session, nil
}

// Attempt returns the live attempt session for a user and quiz.
func (s *ApplyService) Attempt(userID, quizID string) (*AttemptSession, error) {
	session, ok := s.attempts.Get(attemptKey(userID, quizID))
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return session, nil
}

// Submit re-verifies the anti-bot token and posts the finished attempt to
// the submission store. On upstream failure the attempt stays in the
// submitting state so the user can retry explicitly, with a fresh token
// since tokens are single-use.
func (s *ApplyService) Submit(ctx context.Context, userID, quizID, captchaToken string) (domain.Submission, error) {
	session, err := s.Attempt(userID, quizID)
	if err != nil {
		return domain.Submission{}, err
	}
	if captchaToken == "" {
		return domain.Submission{}, domain.ErrMissingCaptcha
	}
	if err := s.verifier.Verify(ctx, captchaToken); err != nil {
		return domain.Submission{}, err
	}

	pending, err := session.PendingSubmission()
	if err != nil {
		return domain.Submission{}, err
	}

	created, err := s.submissions.Create(ctx, pending)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("%w: create submission: %v", domain.ErrUpstream, err)
	}

	session.markSubmitted()
	s.attempts.Delete(attemptKey(userID, quizID))
	return created, nil
}

// AbandonAttempt tears down a live attempt (page navigation, logout).
func (s *ApplyService) AbandonAttempt(userID, quizID string) {
	key := attemptKey(userID, quizID)
	if session, ok := s.attempts.Get(key); ok {
		session.Abandon()
		s.attempts.Delete(key)
	}
}

func attemptKey(userID, quizID string) string {
	return userID + ":" + quizID
}
