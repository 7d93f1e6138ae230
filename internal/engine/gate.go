package engine

import "assessment-engine/internal/domain"

// CanAttempt reports whether a learner may start another attempt: the number
// of recorded attempts for this quiz must be below the quiz's limit.
func CanAttempt(history []domain.AttemptRecord, quiz domain.Quiz) bool {
	return countAttempts(history, quiz.ID) < quiz.MaxAttempts
}

// AttemptsRemaining never goes below zero, even if stored history somehow
// exceeds the limit.
func AttemptsRemaining(history []domain.AttemptRecord, quiz domain.Quiz) int {
	remaining := quiz.MaxAttempts - countAttempts(history, quiz.ID)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func countAttempts(history []domain.AttemptRecord, quizID string) int {
	n := 0
	for _, rec := range history {
		if rec.QuizID == quizID {
			n++
		}
	}
	return n
}
