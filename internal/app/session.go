package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"horizon-apply-service/internal/domain"
)

// AttemptState is the lifecycle of one application attempt.
type AttemptState string

const (
	// StateRules shows the quiz instructions; the attempt is not yet live.
	StateRules AttemptState = "rules"
	// StateTaking iterates the questions, one active at a time.
	StateTaking AttemptState = "taking"
	// StateSubmitting means all questions are answered and the attempt is
	// waiting for (or retrying) the final submit.
	StateSubmitting AttemptState = "submitting"
	// StateSubmitted is terminal.
	StateSubmitted AttemptState = "submitted"
)

// QuestionView is what the client sees of the active question.
type QuestionView struct {
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	ID        string `json:"id"`
	TextKey   string `json:"textKey"`
	TimeLimit int    `json:"timeLimit"`
}

// AttemptEvent is pushed to attempt subscribers (the websocket connection).
type AttemptEvent struct {
	Type      string                `json:"type"`
	Question  *QuestionView         `json:"question,omitempty"`
	Remaining int                   `json:"remaining,omitempty"`
	Cheat     *domain.CheatAttempt  `json:"cheat,omitempty"`
	Summary   []domain.CheatAttempt `json:"summary,omitempty"`
}

const (
	EventQuestion  = "question"
	EventTick      = "tick"
	EventCheat     = "cheat"
	EventCompleted = "completed"
	EventSubmitted = "submitted"
)

// AttemptSession runs one user's timed attempt at a quiz. It owns a
// snapshot of the quiz content, the per-question countdown, the answer
// list, and the cheat log. A full teardown (page reload, logout) forfeits
// the in-progress attempt; nothing is persisted until final submit.
type AttemptSession struct {
	quiz   domain.Quiz
	user   domain.User
	now    func() time.Time
	ticker TickerSource

	mu          sync.Mutex
	state       AttemptState
	idx         int
	remaining   int
	buffer      string
	answers     []domain.Answer
	cheats      cheatRecorder
	countdown   *Countdown
	subscribers map[chan AttemptEvent]struct{}
}

// NewAttemptSession snapshots the quiz and prepares an attempt in the
// rules state. The caller is responsible for having verified eligibility
// and the anti-bot token before calling Begin.
func NewAttemptSession(quiz domain.Quiz, user domain.User, now func() time.Time, ticker TickerSource) *AttemptSession {
	snapshot := quiz
	snapshot.Questions = make([]domain.Question, len(quiz.Questions))
	copy(snapshot.Questions, quiz.Questions)
	return &AttemptSession{
		quiz:        snapshot,
		user:        user,
		now:         now,
		ticker:      ticker,
		state:       StateRules,
		subscribers: make(map[chan AttemptEvent]struct{}),
	}
}

// Begin moves the attempt from rules to taking and starts the first
// question's countdown.
func (s *AttemptSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRules {
		return fmt.Errorf("%w: attempt already started", domain.ErrValidation)
	}
	if len(s.quiz.Questions) == 0 {
		return fmt.Errorf("%w: quiz has no questions", domain.ErrValidation)
	}
	s.state = StateTaking
	s.startQuestionLocked()
	return nil
}

// BufferAnswer stores the draft answer text for the active question. The
// buffered text is what gets recorded if the countdown expires.
func (s *AttemptSession) BufferAnswer(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTaking {
		return fmt.Errorf("%w: no active question", domain.ErrValidation)
	}
	s.buffer = text
	return nil
}

// Advance records the buffered answer for the active question and moves
// on. Unlike a timeout, an explicit advance requires a non-empty answer.
func (s *AttemptSession) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTaking {
		return fmt.Errorf("%w: no active question", domain.ErrValidation)
	}
	if strings.TrimSpace(s.buffer) == "" {
		return fmt.Errorf("%w: answer is empty", domain.ErrValidation)
	}
	s.countdown.Stop()
	s.recordAnswerLocked(s.remaining)
	return nil
}

// ReportCheat appends a cheat signal to the attempt log. The detector is
// inert outside the taking state; duplicate signals from one physical
// event are debounced. Returns whether an entry was recorded.
func (s *AttemptSession) ReportCheat(method domain.CheatMethod) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTaking {
		return false
	}
	if !s.cheats.record(method, s.now()) {
		return false
	}
	attempt := s.cheats.attempts[len(s.cheats.attempts)-1]
	s.broadcastLocked(AttemptEvent{Type: EventCheat, Cheat: &attempt})
	return true
}

// State returns the current lifecycle state.
func (s *AttemptSession) State() AttemptState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentQuestion returns the active question view, if any.
func (s *AttemptSession) CurrentQuestion() (QuestionView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTaking {
		return QuestionView{}, false
	}
	return s.questionViewLocked(), true
}

// Remaining returns the seconds left on the active question.
func (s *AttemptSession) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Answers returns a copy of the answers recorded so far.
func (s *AttemptSession) Answers() []domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Answer, len(s.answers))
	copy(out, s.answers)
	return out
}

// CheatAttempts returns a read-only copy of the cheat log.
func (s *AttemptSession) CheatAttempts() []domain.CheatAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cheats.snapshot()
}

// PendingSubmission builds the submission for the final submit call. Valid
// only while the attempt is in the submitting state, which it stays in
// when a submit fails upstream, so retries rebuild the same payload.
func (s *AttemptSession) PendingSubmission() (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubmitting {
		return domain.Submission{}, fmt.Errorf("%w: attempt not ready to submit", domain.ErrValidation)
	}
	answers := make([]domain.Answer, len(s.answers))
	copy(answers, s.answers)
	return domain.Submission{
		QuizID:        s.quiz.ID,
		QuizTitle:     s.quiz.TitleKey,
		UserID:        s.user.ID,
		Username:      s.user.Username,
		Answers:       answers,
		CheatAttempts: s.cheats.snapshot(),
		SubmittedAt:   s.now(),
		Status:        domain.StatusPending,
	}, nil
}

// markSubmitted finalizes the attempt after the store accepted the
// submission. The cheat-log summary goes out with the terminal event.
func (s *AttemptSession) markSubmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubmitting {
		return
	}
	s.state = StateSubmitted
	s.broadcastLocked(AttemptEvent{Type: EventSubmitted, Summary: s.cheats.snapshot()})
}

// Abandon tears the attempt down: the countdown is cancelled and all
// subscriber channels are closed. No further events are emitted.
func (s *AttemptSession) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// Subscribe returns a channel of attempt events. The caller must invoke
// the cancel function to avoid leaks.
func (s *AttemptSession) Subscribe() (<-chan AttemptEvent, func()) {
	ch := make(chan AttemptEvent, 16)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	if s.state == StateTaking {
		view := s.questionViewLocked()
		ch <- AttemptEvent{Type: EventQuestion, Question: &view, Remaining: s.remaining}
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *AttemptSession) questionViewLocked() QuestionView {
	q := s.quiz.Questions[s.idx]
	return QuestionView{
		Index:     s.idx,
		Total:     len(s.quiz.Questions),
		ID:        q.ID,
		TextKey:   q.TextKey,
		TimeLimit: q.TimeLimit,
	}
}

func (s *AttemptSession) startQuestionLocked() {
	q := s.quiz.Questions[s.idx]
	s.remaining = q.TimeLimit
	s.buffer = ""
	cd := startCountdown(q.TimeLimit, s.ticker)
	// The countdown preloads the full limit; the question event below
	// already carries it, so the first tick forwarded is limit-1.
	<-cd.Ticks()
	s.countdown = cd

	view := s.questionViewLocked()
	s.broadcastLocked(AttemptEvent{Type: EventQuestion, Question: &view, Remaining: q.TimeLimit})

	go s.pump(cd)
}

// pump forwards countdown ticks and the expiry into the session. It exits
// when the countdown expires or is stopped.
func (s *AttemptSession) pump(cd *Countdown) {
	for {
		select {
		case rem := <-cd.Ticks():
			s.onTick(cd, rem)
		case <-cd.Expired():
			s.onExpire(cd)
			return
		case <-cd.Done():
			return
		}
	}
}

func (s *AttemptSession) onTick(cd *Countdown, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTaking || s.countdown != cd {
		return
	}
	s.remaining = remaining
	s.broadcastLocked(AttemptEvent{Type: EventTick, Remaining: remaining})
}

// onExpire auto-advances with whatever answer text is buffered, empty
// string included.
func (s *AttemptSession) onExpire(cd *Countdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTaking || s.countdown != cd {
		return
	}
	s.recordAnswerLocked(0)
}

// recordAnswerLocked appends the answer for the active question with
// timeTaken clamped to [0, timeLimit], then advances the index. Past the
// last question the attempt moves to submitting.
func (s *AttemptSession) recordAnswerLocked(remaining int) {
	q := s.quiz.Questions[s.idx]
	taken := q.TimeLimit - remaining
	if taken < 0 {
		taken = 0
	}
	if taken > q.TimeLimit {
		taken = q.TimeLimit
	}
	s.answers = append(s.answers, domain.Answer{
		QuestionID:   q.ID,
		QuestionText: q.TextKey,
		Answer:       s.buffer,
		TimeTaken:    taken,
	})
	s.buffer = ""
	s.idx++

	if s.idx >= len(s.quiz.Questions) {
		s.state = StateSubmitting
		s.countdown = nil
		s.broadcastLocked(AttemptEvent{Type: EventCompleted})
		return
	}
	s.startQuestionLocked()
}

func (s *AttemptSession) broadcastLocked(ev AttemptEvent) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop the oldest buffered event rather than block the session
			// on a slow subscriber.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
