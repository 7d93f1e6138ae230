package memory

import (
	"context"
	"sort"
	"sync"

	"assessment-engine/internal/domain"
)

// AttemptStore is an in-memory implementation of engine.AttemptStore, used
// when no Postgres is configured and as the fixture store in tests.
type AttemptStore struct {
	mu      sync.RWMutex
	records map[string][]domain.AttemptRecord // quizID/learnerID -> records
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{records: make(map[string][]domain.AttemptRecord)}
}

func (s *AttemptStore) SaveAttempt(_ context.Context, record domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := record.QuizID + "/" + record.LearnerID
	s.records[key] = append(s.records[key], record)
	return nil
}

// ListAttempts returns the learner's records for a quiz, newest first.
func (s *AttemptStore) ListAttempts(_ context.Context, quizID, learnerID string) ([]domain.AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.records[quizID+"/"+learnerID]
	out := append([]domain.AttemptRecord(nil), stored...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out, nil
}
