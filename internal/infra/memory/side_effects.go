package memory

import (
	"context"
	"log"
	"sync"

	"assessment-engine/internal/domain"
)

// RewardLedger is an in-memory rewards sink with idempotency-key dedup.
// The Redis-backed ledger replaces it in multi-instance deployments.
type RewardLedger struct {
	mu      sync.Mutex
	awarded map[string]string // idempotency key -> event kind
}

func NewRewardLedger() *RewardLedger {
	return &RewardLedger{awarded: make(map[string]string)}
}

func (l *RewardLedger) AwardPoints(_ context.Context, kind, idempotencyKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.awarded[idempotencyKey]; ok {
		return nil
	}
	l.awarded[idempotencyKey] = kind
	return nil
}

// Awarded reports whether a key has been consumed.
func (l *RewardLedger) Awarded(idempotencyKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.awarded[idempotencyKey]
	return ok
}

// LogNotifier writes pass/fail summaries to the process log. It stands in for
// a real toast surface when the engine runs headless.
type LogNotifier struct{}

func (LogNotifier) NotifyResult(_ context.Context, notice domain.ResultNotice) {
	verdict := "failed"
	if notice.Passed {
		verdict = "passed"
	}
	log.Printf("quiz %s %s: %d%% (needed %d%%), %d attempts remaining",
		notice.QuizID, verdict, notice.Score, notice.PassingScore, notice.AttemptsRemaining)
}

// CompletionList tracks locally completed quizzes, fire-and-forget.
type CompletionList struct {
	mu        sync.Mutex
	completed map[string]bool
}

func NewCompletionList() *CompletionList {
	return &CompletionList{completed: make(map[string]bool)}
}

func (c *CompletionList) MarkCompleted(quizID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[quizID] = true
}

// Completed reports whether a quiz has been marked done.
func (c *CompletionList) Completed(quizID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed[quizID]
}

// QueryIdentity resolves the learner from a value the transport stashed in
// the request context; absent identity surfaces as a sign-in-required state.
type QueryIdentity struct{}

type contextKey string

const learnerKey contextKey = "learnerID"

// WithLearner returns a context carrying the learner identity.
func WithLearner(ctx context.Context, learnerID string) context.Context {
	return context.WithValue(ctx, learnerKey, learnerID)
}

func (QueryIdentity) CurrentLearner(ctx context.Context) (string, error) {
	if learnerID, ok := ctx.Value(learnerKey).(string); ok && learnerID != "" {
		return learnerID, nil
	}
	return "", domain.ErrAuthRequired
}
