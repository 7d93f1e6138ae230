package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"assessment-engine/internal/domain"
)

// Phase is the lifecycle state of one quiz session.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseSubmitting Phase = "submitting"
	PhaseResults    Phase = "results"
)

// Event is a post-submission side effect the caller dispatches. Reward events
// are attached to an outcome only after the attempt record write succeeded.
type Event string

const (
	EventQuizPassed  Event = "quiz_passed"
	EventQuizPerfect Event = "quiz_perfect"
)

// Outcome is everything produced by one submission. Done is closed when the
// best-effort attempt-record write settles either way; Persisted and Events
// are valid only after that.
type Outcome struct {
	Record            domain.AttemptRecord
	Result            Result
	Passed            bool
	AttemptsRemaining int
	Persisted         bool
	PersistErr        error
	Events            []Event
	Done              <-chan struct{}

	doneCh chan struct{}
}

// Controller runs one learner's session for one quiz: it owns the session
// state (current index, answer map, timer) and the read-through cache of
// attempt history used for gating. All mutation goes through its methods.
type Controller struct {
	quiz    domain.Quiz
	learner string
	store   AttemptStore

	now      func() time.Time
	newID    func() string
	newTimer func(minutes int) *Timer

	// onSubmitted runs once per attempt when the winning trigger (manual or
	// timer) completes submission; onPersisted runs after a successful
	// attempt write. Both are called off the lock.
	onSubmitted func(Outcome)
	onPersisted func(Outcome)

	mu            sync.Mutex
	history       []domain.AttemptRecord
	historyLoaded bool

	phase   Phase
	index   int
	answers domain.AnswerMap
	timer   *Timer
	outcome *Outcome

	autoSubmitted chan Outcome
}

// NewController builds a controller in NotStarted with no history loaded.
// Starting is fail-closed until LoadHistory has succeeded.
func NewController(quiz domain.Quiz, learnerID string, store AttemptStore) *Controller {
	c := &Controller{
		quiz:          quiz,
		learner:       learnerID,
		store:         store,
		now:           time.Now,
		newID:         uuid.NewString,
		newTimer:      StartTimer,
		phase:         PhaseNotStarted,
		answers:       domain.AnswerMap{},
		autoSubmitted: make(chan Outcome, 1),
	}
	return c
}

// LoadHistory fills the gating cache from the attempt store. A read failure
// leaves starting blocked rather than risking an attempt past the limit.
func (c *Controller) LoadHistory(ctx context.Context) error {
	history, err := c.store.ListAttempts(ctx, c.quiz.ID, c.learner)
	if err != nil {
		return &domain.PersistenceError{Op: "list", Err: err}
	}
	c.mu.Lock()
	c.history = history
	c.historyLoaded = true
	c.mu.Unlock()
	return nil
}

// History returns the cached attempt records (newest first) and whether the
// cache has been loaded.
func (c *Controller) History() ([]domain.AttemptRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.AttemptRecord(nil), c.history...), c.historyLoaded
}

// Quiz returns the quiz definition this session runs against.
func (c *Controller) Quiz() domain.Quiz {
	return c.quiz
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Start moves NotStarted to InProgress if the attempt gate permits.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseNotStarted {
		return domain.ErrAlreadyStarted
	}
	return c.beginLocked()
}

// Retry starts a fresh attempt from Results, discarding the previous session
// state entirely. The gate is re-evaluated against the updated history.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseResults {
		return fmt.Errorf("retry from %s: %w", c.phase, domain.ErrNotInProgress)
	}
	return c.beginLocked()
}

func (c *Controller) beginLocked() error {
	if !c.historyLoaded {
		return domain.ErrHistoryPending
	}
	if !CanAttempt(c.history, c.quiz) {
		return domain.ErrGateDenied
	}
	c.index = 0
	c.answers = domain.AnswerMap{}
	c.outcome = nil
	c.phase = PhaseInProgress
	if c.quiz.TimeLimitMinutes > 0 {
		c.timer = c.newTimer(c.quiz.TimeLimitMinutes)
		go c.watchTimer(c.timer)
	} else {
		c.timer = nil
	}
	return nil
}

// watchTimer forces submission when the countdown expires. A timer stopped by
// manual submit or Leave ends the watch without a second trigger.
func (c *Controller) watchTimer(t *Timer) {
	select {
	case <-t.Expired():
		outcome, submitted, err := c.Submit(context.Background())
		if err != nil {
			log.Printf("timer-forced submit failed: %v", err)
			return
		}
		if submitted {
			c.autoSubmitted <- outcome
		}
	case <-t.stop:
	}
}

// AutoSubmitted delivers the outcome of a timer-forced submission.
func (c *Controller) AutoSubmitted() <-chan Outcome {
	return c.autoSubmitted
}

// CurrentQuestion returns the question at the session index.
func (c *Controller) CurrentQuestion() (domain.Question, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return domain.Question{}, domain.ErrNotInProgress
	}
	return c.quiz.Questions[c.index], nil
}

// Index returns the current question index.
func (c *Controller) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Next advances the index; a no-op at the last question.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return domain.ErrNotInProgress
	}
	if c.index < len(c.quiz.Questions)-1 {
		c.index++
	}
	return nil
}

// Previous moves the index back; a no-op at the first question.
func (c *Controller) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return domain.ErrNotInProgress
	}
	if c.index > 0 {
		c.index--
	}
	return nil
}

// Answer overwrites the response for a question. Re-answering replaces the
// previous selection outright.
func (c *Controller) Answer(questionID string, selected []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return domain.ErrNotInProgress
	}
	if c.questionByID(questionID) == nil {
		return domain.ErrQuestionNotFound
	}
	sel := append([]int(nil), selected...)
	c.answers[questionID] = domain.Answer{Selected: sel}
	return nil
}

// ToggleOption adds or removes one index from a multi-choice selection.
func (c *Controller) ToggleOption(questionID string, option int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return domain.ErrNotInProgress
	}
	q := c.questionByID(questionID)
	if q == nil {
		return domain.ErrQuestionNotFound
	}
	if q.Kind != domain.MultiChoice {
		return fmt.Errorf("question %s is not multi-choice", questionID)
	}
	current := c.answers[questionID].Selected
	next := make([]int, 0, len(current)+1)
	removed := false
	for _, idx := range current {
		if idx == option {
			removed = true
			continue
		}
		next = append(next, idx)
	}
	if !removed {
		next = append(next, option)
	}
	c.answers[questionID] = domain.Answer{Selected: next}
	return nil
}

// Answers returns a copy of the answer map recorded so far.
func (c *Controller) Answers() domain.AnswerMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers.Clone()
}

// Remaining reports the timer's remaining seconds; ok is false when untimed.
func (c *Controller) Remaining() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return 0, false
	}
	return c.timer.Remaining(), true
}

// Submit finishes the attempt. It is idempotent per session: whichever of the
// manual trigger and the timer gets here first wins, and the loser receives
// the same outcome with submitted=false. The attempt record write is
// best-effort and off the lock; the learner sees results either way, and
// reward events attach only once the write is acknowledged.
func (c *Controller) Submit(ctx context.Context) (Outcome, bool, error) {
	c.mu.Lock()

	switch c.phase {
	case PhaseResults:
		outcome := *c.outcome
		c.mu.Unlock()
		return outcome, false, nil
	case PhaseInProgress:
	default:
		c.mu.Unlock()
		return Outcome{}, false, domain.ErrNotInProgress
	}

	c.phase = PhaseSubmitting
	outcome, err := c.buildOutcomeLocked()
	if err != nil {
		// Anything unexpected during scoring bounces back to InProgress so
		// the learner can retry instead of hanging in Submitting.
		c.phase = PhaseInProgress
		c.mu.Unlock()
		return Outcome{}, false, err
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.history = append([]domain.AttemptRecord{outcome.Record}, c.history...)
	c.phase = PhaseResults
	c.outcome = &outcome
	onSubmitted := c.onSubmitted
	c.mu.Unlock()

	if onSubmitted != nil {
		onSubmitted(outcome)
	}
	go c.persist(outcome)
	return outcome, true, nil
}

// buildOutcomeLocked scores the session and assembles the attempt record.
// Panics from malformed data are converted to an error at this boundary.
func (c *Controller) buildOutcomeLocked() (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submission failed: %v", r)
		}
	}()

	result := Score(c.quiz, c.answers)
	passed := result.Percent >= c.quiz.PassingScore

	var taken *int
	if c.timer != nil {
		elapsed := c.quiz.TimeLimitMinutes*60 - c.timer.Remaining()
		taken = &elapsed
	}

	record := domain.AttemptRecord{
		ID:               c.newID(),
		QuizID:           c.quiz.ID,
		LearnerID:        c.learner,
		Answers:          c.answers.Clone(),
		Score:            result.Percent,
		Passed:           passed,
		TimeTakenSeconds: taken,
		CompletedAt:      c.now(),
	}

	done := make(chan struct{})
	return Outcome{
		Record:            record,
		Result:            result,
		Passed:            passed,
		AttemptsRemaining: AttemptsRemaining(append([]domain.AttemptRecord{record}, c.history...), c.quiz),
		Done:              done,
		doneCh:            done,
	}, nil
}

// persist writes the attempt record with a background context: leaving the
// quiz view must not cancel a write already in flight.
func (c *Controller) persist(outcome Outcome) {
	defer close(outcome.doneCh)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.SaveAttempt(ctx, outcome.Record); err != nil {
		perr := &domain.PersistenceError{Op: "save", Err: err}
		log.Printf("attempt for quiz %s not saved: %v", c.quiz.ID, perr)
		c.mu.Lock()
		if c.outcome != nil && c.outcome.Record.ID == outcome.Record.ID {
			c.outcome.PersistErr = perr
		}
		c.mu.Unlock()
		return
	}

	outcome.Persisted = true
	if outcome.Passed {
		outcome.Events = append(outcome.Events, EventQuizPassed)
	}
	if outcome.Result.Percent == 100 {
		outcome.Events = append(outcome.Events, EventQuizPerfect)
	}

	c.mu.Lock()
	if c.outcome != nil && c.outcome.Record.ID == outcome.Record.ID {
		c.outcome.Persisted = true
		c.outcome.Events = outcome.Events
	}
	onPersisted := c.onPersisted
	c.mu.Unlock()

	if onPersisted != nil {
		onPersisted(outcome)
	}
}

// Leave discards the session: the timer is cancelled so a stray tick cannot
// drive a submission, but an in-flight attempt write keeps running.
func (c *Controller) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.index = 0
	c.answers = domain.AnswerMap{}
	if c.phase == PhaseInProgress || c.phase == PhaseSubmitting {
		c.phase = PhaseNotStarted
	}
}

// Outcome returns the most recent submission outcome, if any.
func (c *Controller) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return Outcome{}, false
	}
	return *c.outcome, true
}

func (c *Controller) questionByID(id string) *domain.Question {
	for i := range c.quiz.Questions {
		if c.quiz.Questions[i].ID == id {
			return &c.quiz.Questions[i]
		}
	}
	return nil
}
