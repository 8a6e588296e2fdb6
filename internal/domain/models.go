package domain

import "time"

// Quiz is an application form: an ordered set of timed questions a user
// completes to apply for an in-community role. Question order is
// significant (presentation order = answer order).
type Quiz struct {
	ID               string     `json:"id"`
	TitleKey         string     `json:"titleKey"`
	DescriptionKey   string     `json:"descriptionKey,omitempty"`
	InstructionsKey  string     `json:"instructionsKey,omitempty"`
	IsOpen           bool       `json:"isOpen"`
	Questions        []Question `json:"questions"`
	AllowedTakeRoles []string   `json:"allowedTakeRoles,omitempty"`
	LogoURL          string     `json:"logoUrl,omitempty"`
	BannerURL        string     `json:"bannerUrl,omitempty"`
	LastOpenedAt     *time.Time `json:"lastOpenedAt,omitempty"`
	ParentQuizID     string     `json:"parentQuizId,omitempty"`
}

// Question is immutable once an attempt has started; the running session
// works on a snapshot. TimeLimit is in seconds and must be positive.
type Question struct {
	ID        string `json:"id"`
	TextKey   string `json:"textKey"`
	TimeLimit int    `json:"timeLimit"`
}

// CheatMethod enumerates the signals the cheat detector records.
type CheatMethod string

const (
	CheatSwitchedTab CheatMethod = "switched_tab"
	CheatLostFocus   CheatMethod = "lost_focus"
)

// CheatAttempt is one entry in the append-only cheat log of an attempt.
type CheatAttempt struct {
	Method    CheatMethod `json:"method"`
	Timestamp time.Time   `json:"timestamp"`
}

// Answer captures one completed question. QuestionText is denormalized at
// submit time so reviewers see what the applicant saw.
type Answer struct {
	QuestionID   string `json:"questionId"`
	QuestionText string `json:"questionText"`
	Answer       string `json:"answer"`
	TimeTaken    int    `json:"timeTaken"`
}

// SubmissionStatus is the review state machine: pending -> taken -> accepted|refused.
type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusTaken    SubmissionStatus = "taken"
	StatusAccepted SubmissionStatus = "accepted"
	StatusRefused  SubmissionStatus = "refused"
)

// Submission is one completed attempt at a Quiz. It is created exactly once
// by the applicant and thereafter only transitioned by reviewers.
type Submission struct {
	ID            string           `json:"id"`
	QuizID        string           `json:"quizId"`
	QuizTitle     string           `json:"quizTitle"`
	UserID        string           `json:"userId"`
	Username      string           `json:"username"`
	Answers       []Answer         `json:"answers"`
	CheatAttempts []CheatAttempt   `json:"cheatAttempts"`
	SubmittedAt   time.Time        `json:"submittedAt"`
	Status        SubmissionStatus `json:"status"`
	AdminID       string           `json:"adminId,omitempty"`
	AdminUsername string           `json:"adminUsername,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// SubmissionFilter narrows listing; the zero value matches everything.
type SubmissionFilter struct {
	QuizID string
	Status SubmissionStatus
}

// User is an authenticated community member with resolved permissions.
// Permissions are derived from Roles via ResolvePermissions, never stored.
type User struct {
	ID          string
	Username    string
	Roles       []string
	Permissions PermissionSet
}

// RolePermission grants a set of permission keys to one Discord role.
// A role without a row has an empty grant; that is not an error.
type RolePermission struct {
	RoleID      string          `json:"roleId"`
	Permissions []PermissionKey `json:"permissions"`
}

// SatisfiesSeason reports whether a prior submission still counts against
// reapplying: it does only if it was submitted at or after the quiz's
// current season start (lastOpenedAt). A quiz that was never reopened
// treats any prior submission as current.
func (q Quiz) SatisfiesSeason(s Submission) bool {
	if s.QuizID != q.ID {
		return false
	}
	if q.LastOpenedAt == nil {
		return true
	}
	return !s.SubmittedAt.Before(*q.LastOpenedAt)
}
