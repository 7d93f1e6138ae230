package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"assessment-engine/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptStore persists and retrieves a learner's attempt history. Failures
// carry a message and are never retried automatically by the engine.
type AttemptStore interface {
	// ListAttempts returns the learner's records for a quiz, newest first.
	ListAttempts(ctx context.Context, quizID, learnerID string) ([]domain.AttemptRecord, error)
	SaveAttempt(ctx context.Context, record domain.AttemptRecord) error
}

// IdentityProvider supplies the current learner, or domain.ErrAuthRequired
// when nobody is signed in.
type IdentityProvider interface {
	CurrentLearner(ctx context.Context) (string, error)
}

// Notifier consumes the pass/fail summary for display.
type Notifier interface {
	NotifyResult(ctx context.Context, notice domain.ResultNotice)
}

// RewardService awards points for passing events. Calls are best-effort: a
// failure is logged and the quiz result is unaffected.
type RewardService interface {
	AwardPoints(ctx context.Context, kind string, idempotencyKey string) error
}

// CompletionMarker records a "quiz completed" flag in caller-owned local
// state. Fire-and-forget, no return contract.
type CompletionMarker interface {
	MarkCompleted(quizID string)
}

// Service wires the session controller to its collaborators: identity, quiz
// content, attempt persistence, and the best-effort post-submission side
// effects (notification, rewards, completion marker).
type Service struct {
	quizzes    QuizRepository
	store      AttemptStore
	identity   IdentityProvider
	notifier   Notifier
	rewards    RewardService
	completion CompletionMarker

	now func() time.Time

	mu    sync.Mutex
	views map[string]*Controller // keyed by quizID + learnerID
}

// Option configures optional collaborators on a Service.
type Option func(*Service)

// WithNotifier attaches a notification surface.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithRewards attaches a rewards service.
func WithRewards(r RewardService) Option { return func(s *Service) { s.rewards = r } }

// WithCompletionMarker attaches a local completion marker.
func WithCompletionMarker(m CompletionMarker) Option { return func(s *Service) { s.completion = m } }

// WithClock is test-only for deterministic timestamps and reward periods.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(quizzes QuizRepository, store AttemptStore, identity IdentityProvider, opts ...Option) *Service {
	s := &Service{
		quizzes:  quizzes,
		store:    store,
		identity: identity,
		now:      time.Now,
		views:    make(map[string]*Controller),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenQuiz resolves the learner, loads the quiz, and returns its session
// controller, kicking off the history read in the background. Until that
// read succeeds, starting an attempt is denied fail-closed.
func (s *Service) OpenQuiz(ctx context.Context, quizID string) (*Controller, error) {
	learnerID, err := s.identity.CurrentLearner(ctx)
	if err != nil {
		return nil, domain.ErrAuthRequired
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	key := quizID + "/" + learnerID
	s.mu.Lock()
	if ctrl, ok := s.views[key]; ok {
		s.mu.Unlock()
		return ctrl, nil
	}
	ctrl := NewController(quiz, learnerID, s.store)
	ctrl.now = s.now
	ctrl.onSubmitted = func(outcome Outcome) { s.notify(context.Background(), quiz, outcome) }
	ctrl.onPersisted = func(outcome Outcome) { s.dispatch(quiz, outcome) }
	s.views[key] = ctrl
	s.mu.Unlock()

	go func() {
		if err := ctrl.LoadHistory(context.Background()); err != nil {
			log.Printf("history for quiz %s: %v", quizID, err)
		}
	}()
	return ctrl, nil
}

// CloseQuiz discards the learner's session for a quiz. In-flight attempt
// writes keep running.
func (s *Service) CloseQuiz(ctx context.Context, quizID string) {
	learnerID, err := s.identity.CurrentLearner(ctx)
	if err != nil {
		return
	}
	key := quizID + "/" + learnerID
	s.mu.Lock()
	ctrl, ok := s.views[key]
	if ok {
		delete(s.views, key)
	}
	s.mu.Unlock()
	if ok {
		ctrl.Leave()
	}
}

// Submit finishes the session. The learner notification fires from the
// controller on whichever trigger wins, so a timer-forced submission is
// announced the same way as a manual one; it does not wait for the attempt
// write, while reward dispatch does.
func (s *Service) Submit(ctx context.Context, ctrl *Controller) (Outcome, error) {
	outcome, _, err := ctrl.Submit(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (s *Service) notify(ctx context.Context, quiz domain.Quiz, outcome Outcome) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyResult(ctx, domain.ResultNotice{
		QuizID:            quiz.ID,
		Passed:            outcome.Passed,
		Score:             outcome.Result.Percent,
		PassingScore:      quiz.PassingScore,
		AttemptsRemaining: outcome.AttemptsRemaining,
	})
}

// dispatch performs the post-submission side effects once the attempt record
// write has been acknowledged. Reward failures are swallowed: rewards are a
// bonus, not part of the quiz result.
func (s *Service) dispatch(quiz domain.Quiz, outcome Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, event := range outcome.Events {
		if s.rewards == nil {
			break
		}
		key := RewardKey(quiz.ID, string(event), s.now())
		if err := s.rewards.AwardPoints(ctx, string(event), key); err != nil {
			log.Printf("award %s for quiz %s: %v", event, quiz.ID, err)
		}
	}

	if s.completion != nil {
		s.completion.MarkCompleted(quiz.ID)
	}
}

// RewardKey builds the idempotency key for a reward call: quiz, event kind,
// and the calendar month in UTC, so repeated passes within the same month do
// not double-award.
func RewardKey(quizID, kind string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", quizID, kind, now.UTC().Format("2006-01"))
}
