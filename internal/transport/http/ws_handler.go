package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"horizon-apply-service/internal/app"
	"horizon-apply-service/internal/domain"
)

// WSHandler drives one live application attempt over a websocket.
type WSHandler struct {
	service  *app.ApplyService
	auth     *Authenticator
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ApplyService, auth *Authenticator) *WSHandler {
	return &WSHandler{
		service: service,
		auth:    auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type captchaPayload struct {
	CaptchaToken string `json:"captchaToken"`
}

type answerPayload struct {
	Text string `json:"text"`
}

type signalPayload struct {
	Method string `json:"method"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type submittedPayload struct {
	SubmissionID string                `json:"submissionId"`
	CheatSummary []domain.CheatAttempt `json:"cheatSummary"`
}

// ServeWS upgrades the request and wires the connection into the attempt
// lifecycle. The client sends begin/answer/advance/signal/submit; the
// server pushes question, tick, cheat, completed, and submitted events,
// plus a submission_created acknowledgement carrying the stored id.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}
	user, err := h.auth.UserFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	var eventsDone chan struct{}
	var cancelEvents func()

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// A disconnect mid-attempt forfeits the attempt; nothing is persisted
	// until final submit.
	defer h.service.AbandonAttempt(user.ID, quizID)

	// enqueue hands a message to the writer. It reports false once the
	// writer has exited, so a dead connection cannot back the read loop up
	// behind a full send buffer.
	enqueue := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	forwardEvents := func(events <-chan app.AttemptEvent, done chan struct{}) {
		defer close(done)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: ev.Type, Payload: ev}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			case <-writerDone:
				return
			}
		}
	}

readLoop:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "begin":
			var payload captchaPayload
			_ = json.Unmarshal(inbound.Payload, &payload)
			session, err := h.service.BeginAttempt(r.Context(), quizID, user, payload.CaptchaToken)
			if err != nil {
				if !enqueue(errorMessage(err)) {
					break readLoop
				}
				continue
			}
			if cancelEvents != nil {
				cancelEvents()
				<-eventsDone
			}
			events, cancel := session.Subscribe()
			cancelEvents = cancel
			eventsDone = make(chan struct{})
			go forwardEvents(events, eventsDone)
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				if !enqueue(errorMessage(domain.ErrValidation)) {
					break readLoop
				}
				continue
			}
			session, err := h.service.Attempt(user.ID, quizID)
			if err != nil {
				if !enqueue(errorMessage(err)) {
					break readLoop
				}
				continue
			}
			if err := session.BufferAnswer(payload.Text); err != nil {
				if !enqueue(errorMessage(err)) {
					break readLoop
				}
			}
		case "advance":
			session, err := h.service.Attempt(user.ID, quizID)
			if err != nil {
				if !enqueue(errorMessage(err)) {
					break readLoop
				}
				continue
			}
			if err := session.Advance(); err != nil {
				if !enqueue(errorMessage(err)) {
					break readLoop
				}
			}
		case "signal":
			var payload signalPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				if !enqueue(errorMessage(domain.ErrValidation)) {
					break readLoop
				}
				continue
			}
			session, err := h.service.Attempt(user.ID, quizID)
			if err != nil {
				if !enqueue(errorMessage(err)) {
					break readLoop
				}
				continue
			}
			session.ReportCheat(domain.CheatMethod(payload.Method))
		case "submit":
			var payload captchaPayload
			_ = json.Unmarshal(inbound.Payload, &payload)
			created, err := h.service.Submit(r.Context(), user.ID, quizID, payload.CaptchaToken)
			if err != nil {
				// Attempt stays retryable; client must refresh its captcha
				// widget since tokens are single-use.
				if !enqueue(errorMessage(err)) {
					break readLoop
				}
				continue
			}
			ack := outboundMessage[any]{Type: "submission_created", Payload: submittedPayload{
				SubmissionID: created.ID,
				CheatSummary: created.CheatAttempts,
			}}
			if !enqueue(ack) {
				break readLoop
			}
		default:
			if !enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}) {
				break readLoop
			}
		}
	}

	close(closeSignals)
	if cancelEvents != nil {
		cancelEvents()
		<-eventsDone
	}
	close(send)
	<-writerDone
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}
