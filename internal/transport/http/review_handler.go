package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"horizon-apply-service/internal/app"
	"horizon-apply-service/internal/domain"
)

// ReviewHandler exposes the admin review workflow and the applicant's own
// submission history as a JSON API.
type ReviewHandler struct {
	apply  *app.ApplyService
	review *app.ReviewService
	auth   *Authenticator
	pool   *app.RevalidatorPool
}

func NewReviewHandler(apply *app.ApplyService, review *app.ReviewService, auth *Authenticator, pool *app.RevalidatorPool) *ReviewHandler {
	return &ReviewHandler{apply: apply, review: review, auth: auth, pool: pool}
}

// Register mounts the API routes on mux.
func (h *ReviewHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/quizzes", h.listQuizzes)
	mux.HandleFunc("GET /api/submissions", h.listSubmissions)
	mux.HandleFunc("GET /api/submissions/mine", h.mySubmissions)
	mux.HandleFunc("POST /api/submissions/{id}/take", h.takeSubmission)
	mux.HandleFunc("POST /api/submissions/{id}/decide", h.decideSubmission)
	mux.HandleFunc("POST /api/submissions/{id}/release", h.releaseSubmission)
	mux.HandleFunc("POST /api/session/revalidate", h.revalidate)
}

func (h *ReviewHandler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.apply.ListOpenQuizzes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (h *ReviewHandler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.UserFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter := domain.SubmissionFilter{
		QuizID: r.URL.Query().Get("quizId"),
		Status: domain.SubmissionStatus(r.URL.Query().Get("status")),
	}
	subs, err := h.review.List(r.Context(), user, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *ReviewHandler) mySubmissions(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.UserFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	subs, err := h.apply.MySubmissions(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *ReviewHandler) takeSubmission(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.UserFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sub, err := h.review.Take(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("submission %s taken by %s", sub.ID, user.Username)
	writeJSON(w, http.StatusOK, sub)
}

type decideRequest struct {
	Accept               bool   `json:"accept"`
	Reason               string `json:"reason"`
	ProceedWithoutNotify bool   `json:"proceedWithoutNotify"`
}

func (h *ReviewHandler) decideSubmission(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.UserFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	sub, err := h.review.Decide(r.Context(), user, app.DecisionRequest{
		SubmissionID:         r.PathValue("id"),
		Accept:               req.Accept,
		Reason:               req.Reason,
		ProceedWithoutNotify: req.ProceedWithoutNotify,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("submission %s decided (%s) by %s", sub.ID, sub.Status, user.Username)
	writeJSON(w, http.StatusOK, sub)
}

func (h *ReviewHandler) releaseSubmission(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.UserFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sub, err := h.review.Release(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("submission %s released by %s", sub.ID, user.Username)
	writeJSON(w, http.StatusOK, sub)
}

// revalidate is the focus-event trigger of permission revalidation. It
// funnels into the same rate-limited entry point as the scheduled task.
func (h *ReviewHandler) revalidate(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.UserFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	perms, refreshed, err := h.pool.ForUser(user.ID).Revalidate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	keys := make([]domain.PermissionKey, 0, len(perms))
	for k := range perms {
		keys = append(keys, k)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"refreshed":   refreshed,
		"permissions": keys,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMissingCaptcha):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrSubmissionNotFound), errors.Is(err, domain.ErrAttemptNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrQuizClosed), errors.Is(err, domain.ErrAlreadyApplied):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotificationUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
