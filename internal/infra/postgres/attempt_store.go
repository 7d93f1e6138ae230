package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"assessment-engine/internal/domain"
)

// AttemptStore persists attempt records in Postgres. Records are append-only:
// there is no update or delete path.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) SaveAttempt(ctx context.Context, record domain.AttemptRecord) error {
	answers, err := json.Marshal(record.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (id, quiz_id, learner_id, answers, score, passed, time_taken_seconds, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.QuizID, record.LearnerID, answers,
		record.Score, record.Passed, record.TimeTakenSeconds, record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the learner's records for a quiz, newest first.
func (s *AttemptStore) ListAttempts(ctx context.Context, quizID, learnerID string) ([]domain.AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, learner_id, answers, score, passed, time_taken_seconds, completed_at
		 FROM quiz_attempts
		 WHERE quiz_id=$1 AND learner_id=$2
		 ORDER BY completed_at DESC`,
		quizID, learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var records []domain.AttemptRecord
	for rows.Next() {
		var rec domain.AttemptRecord
		var answers []byte
		if err := rows.Scan(&rec.ID, &rec.QuizID, &rec.LearnerID, &answers,
			&rec.Score, &rec.Passed, &rec.TimeTakenSeconds, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if err := json.Unmarshal(answers, &rec.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return records, nil
}
