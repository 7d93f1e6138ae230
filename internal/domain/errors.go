package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthRequired is returned when no learner identity is present.
	ErrAuthRequired = errors.New("sign-in required")
	// ErrGateDenied is returned when the attempt limit has been reached.
	ErrGateDenied = errors.New("no attempts remaining")
	// ErrHistoryPending blocks a start while attempt history is still loading.
	ErrHistoryPending = errors.New("attempt history not loaded yet")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrNotInProgress is returned for session operations outside InProgress.
	ErrNotInProgress = errors.New("session not in progress")
	// ErrAlreadyStarted is returned when starting an active session.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
)

// StructuralProblem describes why one question (or the quiz itself, when
// QuestionID is empty) is malformed.
type StructuralProblem struct {
	QuestionID string
	Reasons    []string
}

// StructuralError marks malformed quiz content. It is recovered locally:
// offending questions are shown inert and excluded from scoring, never
// crashing the session.
type StructuralError struct {
	Problems []StructuralProblem
}

func (e *StructuralError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.QuestionID == "" {
			parts = append(parts, strings.Join(p.Reasons, ", "))
			continue
		}
		parts = append(parts, fmt.Sprintf("question %s: %s", p.QuestionID, strings.Join(p.Reasons, ", ")))
	}
	return "structural error: " + strings.Join(parts, "; ")
}

func (e *StructuralError) add(questionID string, reasons ...string) {
	e.Problems = append(e.Problems, StructuralProblem{QuestionID: questionID, Reasons: reasons})
}

// QuestionIDs lists the malformed question IDs, skipping quiz-level problems.
func (e *StructuralError) QuestionIDs() []string {
	var ids []string
	for _, p := range e.Problems {
		if p.QuestionID != "" {
			ids = append(ids, p.QuestionID)
		}
	}
	return ids
}

// PersistenceError wraps an attempt-store failure. Reads before a session
// starts are fail-closed; writes after submission are logged and non-blocking.
type PersistenceError struct {
	Op  string // "list" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("attempt store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
