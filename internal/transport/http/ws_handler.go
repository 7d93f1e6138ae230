package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"assessment-engine/internal/domain"
	"assessment-engine/internal/engine"
	"assessment-engine/internal/infra/memory"
)

// WSHandler drives one quiz session per websocket connection.
type WSHandler struct {
	service  *engine.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(service *engine.Service) *WSHandler {
	return &WSHandler{
		service: service,
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

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Selected   []int  `json:"selected"`
}

type togglePayload struct {
	QuestionID string `json:"questionId"`
	Option     int    `json:"option"`
}

type statePayload struct {
	Phase             string           `json:"phase"`
	Index             int              `json:"index"`
	QuestionCount     int              `json:"questionCount"`
	Question          *questionPayload `json:"question,omitempty"`
	RemainingSeconds  *int             `json:"remainingSeconds,omitempty"`
	AttemptsRemaining int              `json:"attemptsRemaining"`
	HistoryLoaded     bool             `json:"historyLoaded"`
}

// questionPayload is the learner-facing question view: the correct set stays
// server-side.
type questionPayload struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	Kind     string   `json:"kind"`
	Options  []string `json:"options"`
	Selected []int    `json:"selected"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and translates websocket messages into
// session-controller operations.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	learnerID := r.URL.Query().Get("learnerId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := memory.WithLearner(r.Context(), learnerID)
	ctrl, err := h.service.OpenQuiz(ctx, quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: userMessage(err)}})
		return
	}
	defer h.service.CloseQuiz(ctx, quizID)

	send := make(chan outboundMessage, 16)
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})
	forwarderDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// Timer-forced submissions reach the client through the same writer.
	// send stays open until this goroutine has finished.
	go func() {
		defer close(forwarderDone)
		select {
		case outcome := <-ctrl.AutoSubmitted():
			select {
			case send <- h.resultsMessage(ctrl, outcome):
			case <-readerDone:
			}
		case <-readerDone:
		}
	}()

	send <- h.stateMessage(ctrl)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		for _, out := range h.handle(ctx, ctrl, msg) {
			send <- out
		}
	}
	close(readerDone)
	<-forwarderDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, ctrl *engine.Controller, msg inboundMessage) []outboundMessage {
	fail := func(err error) []outboundMessage {
		return []outboundMessage{{Type: "error", Payload: errorPayload{Message: userMessage(err)}}}
	}

	switch msg.Type {
	case "start":
		if err := ctrl.Start(); err != nil {
			return fail(err)
		}
	case "retry":
		if err := ctrl.Retry(); err != nil {
			return fail(err)
		}
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fail(err)
		}
		if err := ctrl.Answer(p.QuestionID, p.Selected); err != nil {
			return fail(err)
		}
	case "toggle":
		var p togglePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fail(err)
		}
		if err := ctrl.ToggleOption(p.QuestionID, p.Option); err != nil {
			return fail(err)
		}
	case "next":
		if err := ctrl.Next(); err != nil {
			return fail(err)
		}
	case "previous":
		if err := ctrl.Previous(); err != nil {
			return fail(err)
		}
	case "submit":
		outcome, err := h.service.Submit(ctx, ctrl)
		if err != nil {
			return fail(err)
		}
		return []outboundMessage{h.resultsMessage(ctrl, outcome)}
	case "state":
		// fallthrough to the snapshot below
	default:
		return fail(errors.New("unknown message type: " + msg.Type))
	}
	return []outboundMessage{h.stateMessage(ctrl)}
}

func (h *WSHandler) stateMessage(ctrl *engine.Controller) outboundMessage {
	quiz := ctrl.Quiz()
	history, loaded := ctrl.History()

	state := statePayload{
		Phase:             string(ctrl.Phase()),
		Index:             ctrl.Index(),
		QuestionCount:     len(quiz.Questions),
		AttemptsRemaining: engine.AttemptsRemaining(history, quiz),
		HistoryLoaded:     loaded,
	}
	if remaining, ok := ctrl.Remaining(); ok {
		state.RemainingSeconds = &remaining
	}
	if q, err := ctrl.CurrentQuestion(); err == nil {
		answers := ctrl.Answers()
		state.Question = &questionPayload{
			ID:       q.ID,
			Prompt:   q.Prompt,
			Kind:     string(q.Kind),
			Options:  q.Options,
			Selected: answers[q.ID].Selected,
		}
	}
	return outboundMessage{Type: "state", Payload: state}
}

func (h *WSHandler) resultsMessage(ctrl *engine.Controller, outcome engine.Outcome) outboundMessage {
	view := engine.PresentResults(ctrl.Quiz(), outcome.Record.Answers, outcome.Result)
	return outboundMessage{Type: "results", Payload: struct {
		engine.ResultsView
		AttemptsRemaining int `json:"attemptsRemaining"`
	}{ResultsView: view, AttemptsRemaining: outcome.AttemptsRemaining}}
}

// userMessage keeps wire errors actionable without leaking internals.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return "sign in to take this quiz"
	case errors.Is(err, domain.ErrGateDenied):
		return "no attempts remaining"
	case errors.Is(err, domain.ErrHistoryPending):
		return "loading your attempt history, try again in a moment"
	default:
		return err.Error()
	}
}
