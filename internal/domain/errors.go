package domain

import "errors"

var (
	// ErrValidation covers rejected input: invalid CAPTCHA tokens, empty
	// answers where one is required, malformed requests.
	ErrValidation = errors.New("validation failed")
	// ErrMissingCaptcha is returned when an operation that requires anti-bot
	// verification is attempted without a token.
	ErrMissingCaptcha = errors.New("missing captcha token")
	// ErrPermission is returned when take/decide is attempted without authorization.
	ErrPermission = errors.New("permission denied")
	// ErrConflict is returned to the loser of the claim race on a submission.
	ErrConflict = errors.New("submission already taken")
	// ErrUpstream indicates the backing store or identity provider is unreachable.
	ErrUpstream = errors.New("upstream unavailable")
	// ErrNotificationUnavailable is advisory: the notification channel failed
	// its health probe and the caller has not acknowledged proceeding without it.
	ErrNotificationUnavailable = errors.New("notification channel unavailable")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizClosed is returned when starting an attempt on a closed quiz.
	ErrQuizClosed = errors.New("quiz is closed")
	// ErrAlreadyApplied is returned when the user has a submission in the
	// quiz's current season.
	ErrAlreadyApplied = errors.New("already applied this season")
	// ErrSubmissionNotFound indicates an unknown submission ID.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrAttemptNotFound is returned when acting on an attempt session that
	// was never started or has been torn down.
	ErrAttemptNotFound = errors.New("attempt not found")
)
