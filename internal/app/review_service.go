package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"horizon-apply-service/internal/domain"
)

// NotificationProbe is a cheap reachability check of the downstream
// notifier (the Discord delivery path). Purely advisory: a failing probe
// never blocks a decision, it only forces the caller to acknowledge that
// the applicant will not be informed.
type NotificationProbe interface {
	Probe(ctx context.Context) error
}

// Notifier delivers decision notifications. Fire-and-forget from the
// workflow's point of view: a delivery failure does not roll back the
// state transition.
type Notifier interface {
	Notify(ctx context.Context, event string, payload domain.Submission) error
}

// DecisionRequest carries one accept/refuse call.
type DecisionRequest struct {
	SubmissionID string
	Accept       bool
	Reason       string
	// ProceedWithoutNotify acknowledges a failed notification probe. Without
	// it, Decide returns ErrNotificationUnavailable when the probe fails so
	// the caller can present the choice instead of failing silently.
	ProceedWithoutNotify bool
}

// ReviewService runs the admin side of the workflow: claim ("take"),
// decide, and release. Every operation takes the acting reviewer with an
// already-resolved permission set; there is no ambient auth state.
type ReviewService struct {
	submissions SubmissionStore
	quizzes     QuizRepository
	probe       NotificationProbe
	notifier    Notifier
	now         func() time.Time
}

func NewReviewService(submissions SubmissionStore, quizzes QuizRepository, probe NotificationProbe, notifier Notifier) *ReviewService {
	return &ReviewService{
		submissions: submissions,
		quizzes:     quizzes,
		probe:       probe,
		notifier:    notifier,
		now:         time.Now,
	}
}

// List returns submissions matching the filter. Requires submission
// handling permission.
func (s *ReviewService) List(ctx context.Context, reviewer domain.User, filter domain.SubmissionFilter) ([]domain.Submission, error) {
	if !reviewer.Permissions.Has(domain.PermAdminSubmissions) {
		return nil, domain.ErrPermission
	}
	return s.submissions.List(ctx, filter)
}

// Take claims a pending submission for the reviewer. The transition is a
// compare-and-swap on pending->taken at the store; when two reviewers race,
// exactly one wins and the other gets domain.ErrConflict.
func (s *ReviewService) Take(ctx context.Context, reviewer domain.User, submissionID string) (domain.Submission, error) {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := s.authorizeTake(ctx, reviewer, sub); err != nil {
		return domain.Submission{}, err
	}
	return s.submissions.UpdateStatus(ctx, submissionID, domain.StatusPending, domain.StatusTaken, reviewer, "")
}

// Decide finalizes a taken submission. Only the claimant or a super admin
// may decide. The notification channel is probed first; if it is down the
// caller must explicitly acknowledge proceeding without notification. The
// state transition is identical either way, only the side effect differs.
func (s *ReviewService) Decide(ctx context.Context, reviewer domain.User, req DecisionRequest) (domain.Submission, error) {
	sub, err := s.submissions.Get(ctx, req.SubmissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := authorizeClaimant(reviewer, sub); err != nil {
		return domain.Submission{}, err
	}

	notifiable := true
	if err := s.probe.Probe(ctx); err != nil {
		if !req.ProceedWithoutNotify {
			return domain.Submission{}, fmt.Errorf("%w: %v", domain.ErrNotificationUnavailable, err)
		}
		notifiable = false
	}

	next := domain.StatusRefused
	event := "application_refused"
	if req.Accept {
		next = domain.StatusAccepted
		event = "application_accepted"
	}

	decided, err := s.submissions.UpdateStatus(ctx, req.SubmissionID, domain.StatusTaken, next, reviewer, req.Reason)
	if err != nil {
		return domain.Submission{}, err
	}

	if notifiable {
		if err := s.notifier.Notify(ctx, event, decided); err != nil {
			log.Printf("notify %s for submission %s failed: %v", event, decided.ID, err)
		}
	}
	return decided, nil
}

// Release returns a taken submission to the pending pool, clearing the
// claim. Only the claimant or a super admin may release; there is no
// automatic staleness timeout.
func (s *ReviewService) Release(ctx context.Context, reviewer domain.User, submissionID string) (domain.Submission, error) {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := authorizeClaimant(reviewer, sub); err != nil {
		return domain.Submission{}, err
	}
	return s.submissions.UpdateStatus(ctx, submissionID, domain.StatusTaken, domain.StatusPending, domain.User{}, "")
}

// authorizeTake gates the claim: super admins always may. When the quiz
// restricts takers by role, intersecting that list authorizes on its own;
// an unrestricted quiz falls back to the submission-handling permission.
func (s *ReviewService) authorizeTake(ctx context.Context, reviewer domain.User, sub domain.Submission) error {
	if reviewer.Permissions.IsSuperAdmin() {
		return nil
	}
	quiz, err := s.quizzes.GetQuiz(ctx, sub.QuizID)
	if err != nil {
		return err
	}
	if len(quiz.AllowedTakeRoles) > 0 {
		if domain.RolesIntersect(reviewer.Roles, quiz.AllowedTakeRoles) {
			return nil
		}
		return domain.ErrPermission
	}
	if !reviewer.Permissions.Has(domain.PermAdminSubmissions) {
		return domain.ErrPermission
	}
	return nil
}

func authorizeClaimant(reviewer domain.User, sub domain.Submission) error {
	if reviewer.Permissions.IsSuperAdmin() {
		return nil
	}
	if sub.AdminID != "" && sub.AdminID == reviewer.ID {
		return nil
	}
	return domain.ErrPermission
}
