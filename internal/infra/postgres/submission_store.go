package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"horizon-apply-service/internal/domain"
)

// SubmissionStore is the bun-backed implementation of app.SubmissionStore.
// The claim race is settled by the database: UpdateStatus is a single
// conditional UPDATE keyed on (id, current status), so concurrent takers
// of the same pending submission see exactly one winner.
type SubmissionStore struct {
	db *bun.DB
}

func NewSubmissionStore(db *bun.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

type submissionRow struct {
	bun.BaseModel `bun:"table:submissions"`

	ID            string          `bun:"id,pk"`
	QuizID        string          `bun:"quiz_id,notnull"`
	QuizTitle     string          `bun:"quiz_title,notnull"`
	UserID        string          `bun:"user_id,notnull"`
	Username      string          `bun:"username,notnull"`
	Answers       json.RawMessage `bun:"answers,type:jsonb"`
	CheatAttempts json.RawMessage `bun:"cheat_attempts,type:jsonb"`
	SubmittedAt   time.Time       `bun:"submitted_at,notnull"`
	Status        string          `bun:"status,notnull"`
	AdminID       string          `bun:"admin_id,nullzero"`
	AdminUsername string          `bun:"admin_username,nullzero"`
	Reason        string          `bun:"reason,nullzero"`
}

func toRow(sub domain.Submission) (submissionRow, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return submissionRow{}, fmt.Errorf("marshal answers: %w", err)
	}
	cheats, err := json.Marshal(sub.CheatAttempts)
	if err != nil {
		return submissionRow{}, fmt.Errorf("marshal cheat attempts: %w", err)
	}
	return submissionRow{
		ID:            sub.ID,
		QuizID:        sub.QuizID,
		QuizTitle:     sub.QuizTitle,
		UserID:        sub.UserID,
		Username:      sub.Username,
		Answers:       answers,
		CheatAttempts: cheats,
		SubmittedAt:   sub.SubmittedAt,
		Status:        string(sub.Status),
		AdminID:       sub.AdminID,
		AdminUsername: sub.AdminUsername,
		Reason:        sub.Reason,
	}, nil
}

func (r submissionRow) toDomain() (domain.Submission, error) {
	sub := domain.Submission{
		ID:            r.ID,
		QuizID:        r.QuizID,
		QuizTitle:     r.QuizTitle,
		UserID:        r.UserID,
		Username:      r.Username,
		SubmittedAt:   r.SubmittedAt,
		Status:        domain.SubmissionStatus(r.Status),
		AdminID:       r.AdminID,
		AdminUsername: r.AdminUsername,
		Reason:        r.Reason,
	}
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &sub.Answers); err != nil {
			return domain.Submission{}, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	if len(r.CheatAttempts) > 0 {
		if err := json.Unmarshal(r.CheatAttempts, &sub.CheatAttempts); err != nil {
			return domain.Submission{}, fmt.Errorf("unmarshal cheat attempts: %w", err)
		}
	}
	return sub, nil
}

func (s *SubmissionStore) Create(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = domain.StatusPending
	}
	row, err := toRow(sub)
	if err != nil {
		return domain.Submission{}, err
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return sub, nil
}

func (s *SubmissionStore) Get(ctx context.Context, id string) (domain.Submission, error) {
	var row submissionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("select submission: %w", err)
	}
	return row.toDomain()
}

func (s *SubmissionStore) List(ctx context.Context, filter domain.SubmissionFilter) ([]domain.Submission, error) {
	var rows []submissionRow
	q := s.db.NewSelect().Model(&rows).Order("submitted_at DESC")
	if filter.QuizID != "" {
		q = q.Where("quiz_id = ?", filter.QuizID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return rowsToDomain(rows)
}

func (s *SubmissionStore) ListByUser(ctx context.Context, userID string) ([]domain.Submission, error) {
	var rows []submissionRow
	err := s.db.NewSelect().Model(&rows).Where("user_id = ?", userID).Order("submitted_at DESC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list submissions by user: %w", err)
	}
	return rowsToDomain(rows)
}

func (s *SubmissionStore) UpdateStatus(ctx context.Context, id string, expected, next domain.SubmissionStatus, reviewer domain.User, reason string) (domain.Submission, error) {
	q := s.db.NewUpdate().Model((*submissionRow)(nil)).
		Set("status = ?", string(next)).
		Where("id = ?", id).
		Where("status = ?", string(expected))

	if next == domain.StatusPending {
		// release: clear the claim
		q = q.Set("admin_id = NULL").Set("admin_username = NULL").Set("reason = NULL")
	} else {
		q = q.Set("admin_id = ?", reviewer.ID).Set("admin_username = ?", reviewer.Username)
		if reason != "" {
			q = q.Set("reason = ?", reason)
		}
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("update submission status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Submission{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or someone else won the transition.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return domain.Submission{}, getErr
		}
		return domain.Submission{}, domain.ErrConflict
	}
	return s.Get(ctx, id)
}

func rowsToDomain(rows []submissionRow) ([]domain.Submission, error) {
	out := make([]domain.Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}
