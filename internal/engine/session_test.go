package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"assessment-engine/internal/domain"
)

type spyStore struct {
	mu      sync.Mutex
	history []domain.AttemptRecord
	saves   []domain.AttemptRecord
	listErr error
	saveErr error
}

func (s *spyStore) ListAttempts(_ context.Context, quizID, learnerID string) ([]domain.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.AttemptRecord(nil), s.history...), nil
}

func (s *spyStore) SaveAttempt(_ context.Context, record domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, record)
	return nil
}

func (s *spyStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:           "quiz-1",
		Title:        "Basics",
		PassingScore: 50,
		MaxAttempts:  2,
		Questions: []domain.Question{
			{ID: "qa", Kind: domain.SingleChoice, Prompt: "Pick one", Options: []string{"w", "x"}, Correct: []int{1}, Points: 1},
			{ID: "qb", Kind: domain.MultiChoice, Prompt: "Pick all", Options: []string{"a", "b", "c"}, Correct: []int{0, 2}, Points: 1},
		},
	}
}

func readyController(t *testing.T, quiz domain.Quiz, store *spyStore) *Controller {
	t.Helper()
	ctrl := NewController(quiz, "learner-1", store)
	if err := ctrl.LoadHistory(context.Background()); err != nil {
		t.Fatalf("load history: %v", err)
	}
	return ctrl
}

func waitRemaining(t *testing.T, ctrl *Controller, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if remaining, ok := ctrl.Remaining(); ok && remaining == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	remaining, _ := ctrl.Remaining()
	t.Fatalf("countdown never reached %d, at %d", want, remaining)
}

func waitDone(t *testing.T, outcome Outcome) {
	t.Helper()
	select {
	case <-outcome.Done:
	case <-time.After(time.Second):
		t.Fatalf("attempt write did not settle")
	}
}

func TestStartIsFailClosedUntilHistoryLoads(t *testing.T) {
	ctrl := NewController(testQuiz(), "learner-1", &spyStore{})
	if err := ctrl.Start(); !errors.Is(err, domain.ErrHistoryPending) {
		t.Fatalf("expected ErrHistoryPending, got %v", err)
	}
	if err := ctrl.LoadHistory(context.Background()); err != nil {
		t.Fatalf("load history: %v", err)
	}
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start after history load: %v", err)
	}
	if ctrl.Phase() != PhaseInProgress {
		t.Fatalf("expected InProgress, got %s", ctrl.Phase())
	}
}

func TestHistoryReadFailureBlocksStart(t *testing.T) {
	store := &spyStore{listErr: errors.New("network down")}
	ctrl := NewController(testQuiz(), "learner-1", store)
	err := ctrl.LoadHistory(context.Background())
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.Op != "list" {
		t.Fatalf("expected list persistence error, got %v", err)
	}
	if err := ctrl.Start(); !errors.Is(err, domain.ErrHistoryPending) {
		t.Fatalf("expected start blocked, got %v", err)
	}
}

func TestStartDeniedAtAttemptLimit(t *testing.T) {
	store := &spyStore{history: []domain.AttemptRecord{
		{QuizID: "quiz-1", LearnerID: "learner-1"},
		{QuizID: "quiz-1", LearnerID: "learner-1"},
	}}
	ctrl := readyController(t, testQuiz(), store)
	if err := ctrl.Start(); !errors.Is(err, domain.ErrGateDenied) {
		t.Fatalf("expected ErrGateDenied, got %v", err)
	}
	if ctrl.Phase() != PhaseNotStarted {
		t.Fatalf("denied start must leave phase unchanged, got %s", ctrl.Phase())
	}
}

func TestNavigationClampsAtBounds(t *testing.T) {
	ctrl := readyController(t, testQuiz(), &spyStore{})
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := ctrl.Previous(); err != nil {
		t.Fatalf("previous at start must be a no-op, got %v", err)
	}
	if ctrl.Index() != 0 {
		t.Fatalf("expected index 0, got %d", ctrl.Index())
	}

	_ = ctrl.Next()
	_ = ctrl.Next() // already at the last question
	if ctrl.Index() != 1 {
		t.Fatalf("expected index clamped at 1, got %d", ctrl.Index())
	}
}

func TestAnswerReplacesAndToggleFlips(t *testing.T) {
	ctrl := readyController(t, testQuiz(), &spyStore{})
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := ctrl.Answer("qa", []int{0}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := ctrl.Answer("qa", []int{1}); err != nil {
		t.Fatalf("re-answer: %v", err)
	}
	if got := ctrl.Answers()["qa"].Selected; len(got) != 1 || got[0] != 1 {
		t.Fatalf("re-answer must replace, got %v", got)
	}

	if err := ctrl.ToggleOption("qb", 0); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := ctrl.ToggleOption("qb", 2); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := ctrl.ToggleOption("qb", 0); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if got := ctrl.Answers()["qb"].Selected; len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected toggled selection {2}, got %v", got)
	}

	if err := ctrl.ToggleOption("qa", 0); err == nil {
		t.Fatalf("toggle on single-choice must fail")
	}
	if err := ctrl.Answer("missing", []int{0}); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	store := &spyStore{}
	ctrl := readyController(t, testQuiz(), store)
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = ctrl.Answer("qa", []int{1})

	first, submitted, err := ctrl.Submit(context.Background())
	if err != nil || !submitted {
		t.Fatalf("first submit: submitted=%v err=%v", submitted, err)
	}
	second, submitted, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if submitted {
		t.Fatalf("second submit must be a no-op")
	}
	if second.Record.ID != first.Record.ID {
		t.Fatalf("second submit must return the same record")
	}

	waitDone(t, first)
	if store.saveCount() != 1 {
		t.Fatalf("expected exactly one attempt write, got %d", store.saveCount())
	}
}

func TestSubmitComputesScorePassAndElapsed(t *testing.T) {
	quiz := testQuiz()
	quiz.TimeLimitMinutes = 2
	store := &spyStore{}
	ctrl := readyController(t, quiz, store)

	ticks := make(chan time.Time)
	ctrl.newTimer = func(minutes int) *Timer { return newTimer(minutes*60, ticks) }
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ctrl.now = func() time.Time { return fixed }

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = ctrl.Answer("qa", []int{1})
	_ = ctrl.Answer("qb", []int{0}) // partial, no credit

	ticks <- time.Now()
	ticks <- time.Now()
	// A tick send returns before the countdown decrements; wait for both
	// ticks to land before submitting.
	waitRemaining(t, ctrl, 118)

	outcome, _, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Result.Percent != 50 || !outcome.Passed {
		t.Fatalf("expected 50/pass, got %d passed=%v", outcome.Result.Percent, outcome.Passed)
	}
	if outcome.Record.TimeTakenSeconds == nil {
		t.Fatalf("expected elapsed seconds recorded")
	}
	if *outcome.Record.TimeTakenSeconds != 2 {
		t.Fatalf("expected 2 seconds elapsed, got %d", *outcome.Record.TimeTakenSeconds)
	}
	if !outcome.Record.CompletedAt.Equal(fixed) {
		t.Fatalf("expected injected completion time")
	}
	if outcome.AttemptsRemaining != 1 {
		t.Fatalf("expected 1 attempt remaining, got %d", outcome.AttemptsRemaining)
	}
}

func TestUntimedSubmitHasNilTimeTaken(t *testing.T) {
	store := &spyStore{}
	ctrl := readyController(t, testQuiz(), store)
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	outcome, _, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Record.TimeTakenSeconds != nil {
		t.Fatalf("untimed attempt must have nil time taken")
	}
}

func TestTimerExpiryForcesSubmission(t *testing.T) {
	quiz := testQuiz()
	quiz.TimeLimitMinutes = 1
	store := &spyStore{}
	ctrl := readyController(t, quiz, store)

	ticks := make(chan time.Time)
	ctrl.newTimer = func(minutes int) *Timer { return newTimer(2, ticks) }

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = ctrl.Answer("qa", []int{1})

	ticks <- time.Now()
	ticks <- time.Now()

	var outcome Outcome
	select {
	case outcome = <-ctrl.AutoSubmitted():
	case <-time.After(time.Second):
		t.Fatalf("expected timer-forced submission")
	}

	if ctrl.Phase() != PhaseResults {
		t.Fatalf("expected Results, got %s", ctrl.Phase())
	}
	// qb was never answered and scores as incorrect.
	if outcome.Result.Percent != 50 {
		t.Fatalf("expected 50%%, got %d", outcome.Result.Percent)
	}

	// A late manual submit after expiry is the losing trigger: same record.
	manual, submitted, err := ctrl.Submit(context.Background())
	if err != nil || submitted {
		t.Fatalf("manual submit after expiry: submitted=%v err=%v", submitted, err)
	}
	if manual.Record.ID != outcome.Record.ID {
		t.Fatalf("expected the auto-submitted record")
	}

	waitDone(t, outcome)
	if store.saveCount() != 1 {
		t.Fatalf("expected exactly one attempt write, got %d", store.saveCount())
	}
}

func TestManualSubmitStopsTimer(t *testing.T) {
	quiz := testQuiz()
	quiz.TimeLimitMinutes = 1
	ctrl := readyController(t, quiz, &spyStore{})

	ticks := make(chan time.Time)
	ctrl.newTimer = func(minutes int) *Timer { return newTimer(2, ticks) }

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The stopped countdown may drain a racing tick but must neither count
	// down nor fire a second submission.
	select {
	case ticks <- time.Now():
	case <-time.After(50 * time.Millisecond):
	}
	if remaining, ok := ctrl.Remaining(); !ok || remaining != 2 {
		t.Fatalf("stopped countdown must hold at 2, got %d", remaining)
	}
	select {
	case <-ctrl.AutoSubmitted():
		t.Fatalf("stray expiry drove a second submission")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPersistenceFailureStillShowsResults(t *testing.T) {
	store := &spyStore{saveErr: errors.New("storage offline")}
	ctrl := readyController(t, testQuiz(), store)
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = ctrl.Answer("qa", []int{1})

	outcome, _, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit must not fail on write errors, got %v", err)
	}
	if ctrl.Phase() != PhaseResults {
		t.Fatalf("expected Results despite write failure, got %s", ctrl.Phase())
	}

	waitDone(t, outcome)
	saved, ok := ctrl.Outcome()
	if !ok {
		t.Fatalf("expected outcome retained")
	}
	if saved.Persisted {
		t.Fatalf("outcome must not claim persistence")
	}
	var perr *domain.PersistenceError
	if !errors.As(saved.PersistErr, &perr) || perr.Op != "save" {
		t.Fatalf("expected save persistence error, got %v", saved.PersistErr)
	}
	if len(saved.Events) != 0 {
		t.Fatalf("reward events must be skipped on write failure, got %v", saved.Events)
	}
}

func TestRewardEventsAfterSuccessfulWrite(t *testing.T) {
	store := &spyStore{}
	ctrl := readyController(t, testQuiz(), store)

	var got []Event
	done := make(chan struct{})
	ctrl.onPersisted = func(outcome Outcome) {
		got = outcome.Events
		close(done)
	}

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = ctrl.Answer("qa", []int{1})
	_ = ctrl.Answer("qb", []int{0, 2})

	if _, _, err := ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("onPersisted not called")
	}
	if len(got) != 2 || got[0] != EventQuizPassed || got[1] != EventQuizPerfect {
		t.Fatalf("expected passed+perfect events, got %v", got)
	}
}

func TestRetryGatedByAttemptLimit(t *testing.T) {
	store := &spyStore{}
	ctrl := readyController(t, testQuiz(), store) // MaxAttempts: 2
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = ctrl.Answer("qa", []int{0})
	outcome, _, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, outcome)

	if err := ctrl.Retry(); err != nil {
		t.Fatalf("first retry within limit: %v", err)
	}
	if len(ctrl.Answers()) != 0 {
		t.Fatalf("retry must reset the answer map")
	}

	outcome, _, err = ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	waitDone(t, outcome)

	if err := ctrl.Retry(); !errors.Is(err, domain.ErrGateDenied) {
		t.Fatalf("expected retry denied at limit, got %v", err)
	}
	if ctrl.Phase() != PhaseResults {
		t.Fatalf("denied retry must keep Results viewable, got %s", ctrl.Phase())
	}
}

func TestLeaveDiscardsSessionButNotInFlightWrite(t *testing.T) {
	store := &spyStore{}
	ctrl := readyController(t, testQuiz(), store)
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	outcome, _, err := ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctrl.Leave()
	waitDone(t, outcome)
	if store.saveCount() != 1 {
		t.Fatalf("leave must not cancel the in-flight write, got %d saves", store.saveCount())
	}
}
