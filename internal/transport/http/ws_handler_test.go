package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"horizon-apply-service/internal/app"
	"horizon-apply-service/internal/domain"
	"horizon-apply-service/internal/infra/memory"
)

func newWSFixture(t *testing.T) (*httptest.Server, *memory.SubmissionStore, *app.ApplyService) {
	t.Helper()
	quiz := domain.Quiz{
		ID:       "quiz-1",
		TitleKey: "apply.quiz1.title",
		IsOpen:   true,
		Questions: []domain.Question{
			{ID: "q1", TextKey: "apply.quiz1.q1", TimeLimit: 60},
			{ID: "q2", TextKey: "apply.quiz1.q2", TimeLimit: 60},
		},
	}
	grants := memory.NewStaticGrantSource(nil)
	store := memory.NewSubmissionStore()
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.ID: quiz}), time.Minute)
	service := app.NewApplyService(repo, store, okVerifier{}, memory.NewAttemptRegistry())
	auth := NewAuthenticator(testSecret, grants, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/attempt", NewWSHandler(service, auth).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store, service
}

func dialAttempt(t *testing.T, server *httptest.Server, token, quizID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/attempt?quizId=" + quizID + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readUntil skips intermediate messages (ticks mostly) until one of the
// wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for %s: %v", msgType, err)
		}
		if msg.Type == "error" {
			t.Fatalf("error message while waiting for %s: %s", msgType, msg.Payload)
		}
		if msg.Type == msgType {
			return msg.Payload
		}
	}
	t.Fatalf("no %s message in time", msgType)
	return nil
}

func TestServeWSRejectsMissingAuth(t *testing.T) {
	server, _, _ := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/attempt?quizId=quiz-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake, got %+v", resp)
	}
}

func TestServeWSRejectsMissingQuizID(t *testing.T) {
	server, _, _ := newWSFixture(t)
	tok := signToken(t, "u1", "Dima", nil)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/attempt?token=" + tok
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 handshake, got %+v", resp)
	}
}

func TestServeWSFullAttemptFlow(t *testing.T) {
	server, store, _ := newWSFixture(t)
	tok := signToken(t, "u1", "Dima", nil)
	conn := dialAttempt(t, server, tok, "quiz-1")

	sendMessage(t, conn, "begin", map[string]string{"captchaToken": "tok"})

	var question app.AttemptEvent
	if err := json.Unmarshal(readUntil(t, conn, app.EventQuestion), &question); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if question.Question == nil || question.Question.ID != "q1" {
		t.Fatalf("unexpected first question: %+v", question)
	}

	// Anti-cheat signal is acknowledged as an event.
	sendMessage(t, conn, "signal", map[string]string{"method": string(domain.CheatSwitchedTab)})
	var cheat app.AttemptEvent
	if err := json.Unmarshal(readUntil(t, conn, app.EventCheat), &cheat); err != nil {
		t.Fatalf("decode cheat: %v", err)
	}
	if cheat.Cheat == nil || cheat.Cheat.Method != domain.CheatSwitchedTab {
		t.Fatalf("unexpected cheat event: %+v", cheat)
	}

	sendMessage(t, conn, "answer", map[string]string{"text": "Alpha"})
	sendMessage(t, conn, "advance", struct{}{})
	if err := json.Unmarshal(readUntil(t, conn, app.EventQuestion), &question); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if question.Question == nil || question.Question.ID != "q2" {
		t.Fatalf("unexpected second question: %+v", question)
	}

	sendMessage(t, conn, "answer", map[string]string{"text": "Beta"})
	sendMessage(t, conn, "advance", struct{}{})
	readUntil(t, conn, app.EventCompleted)

	sendMessage(t, conn, "submit", map[string]string{"captchaToken": "tok2"})

	// The session broadcasts the terminal submitted event and the handler
	// acks with its own message type; their relative order is not fixed.
	var terminal app.AttemptEvent
	var submitted struct {
		SubmissionID string                `json:"submissionId"`
		CheatSummary []domain.CheatAttempt `json:"cheatSummary"`
	}
	seenTerminal, seenAck := false, false
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !seenTerminal || !seenAck {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read after submit: %v", err)
		}
		switch msg.Type {
		case app.EventSubmitted:
			if err := json.Unmarshal(msg.Payload, &terminal); err != nil {
				t.Fatalf("decode submitted: %v", err)
			}
			seenTerminal = true
		case "submission_created":
			if err := json.Unmarshal(msg.Payload, &submitted); err != nil {
				t.Fatalf("decode ack: %v", err)
			}
			seenAck = true
		case "error":
			t.Fatalf("error after submit: %s", msg.Payload)
		}
	}
	if len(terminal.Summary) != 1 {
		t.Fatalf("expected cheat summary on terminal event, got %+v", terminal)
	}
	if submitted.SubmissionID == "" {
		t.Fatalf("ack must carry the stored submission id")
	}
	if len(submitted.CheatSummary) != 1 || submitted.CheatSummary[0].Method != domain.CheatSwitchedTab {
		t.Fatalf("unexpected cheat summary: %+v", submitted.CheatSummary)
	}

	stored, err := store.Get(context.Background(), submitted.SubmissionID)
	if err != nil {
		t.Fatalf("stored submission: %v", err)
	}
	if stored.Status != domain.StatusPending || len(stored.Answers) != 2 {
		t.Fatalf("unexpected stored submission: %+v", stored)
	}
	if stored.Answers[0].Answer != "Alpha" || stored.Answers[1].Answer != "Beta" {
		t.Fatalf("unexpected answers: %+v", stored.Answers)
	}
}

func TestServeWSDisconnectForfeitsAttempt(t *testing.T) {
	server, _, service := newWSFixture(t)
	tok := signToken(t, "u1", "Dima", nil)
	conn := dialAttempt(t, server, tok, "quiz-1")

	sendMessage(t, conn, "begin", map[string]string{"captchaToken": "tok"})
	readUntil(t, conn, app.EventQuestion)

	if _, err := service.Attempt("u1", "quiz-1"); err != nil {
		t.Fatalf("attempt should be live: %v", err)
	}

	// Dropping the connection mid-attempt must unwind the handler and
	// forfeit the attempt, even with events still flowing.
	_ = conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := service.Attempt("u1", "quiz-1"); errors.Is(err, domain.ErrAttemptNotFound) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("attempt was not forfeited after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeWSBeginRequiresCaptcha(t *testing.T) {
	server, _, _ := newWSFixture(t)
	tok := signToken(t, "u1", "Dima", nil)
	conn := dialAttempt(t, server, tok, "quiz-1")

	sendMessage(t, conn, "begin", map[string]string{})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			Message string `json:"message"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" || msg.Payload.Message == "" {
		t.Fatalf("expected error message, got %+v", msg)
	}
}
