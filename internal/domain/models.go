package domain

import "time"

// AnswerKind describes how a question is answered and scored.
type AnswerKind string

const (
	SingleChoice AnswerKind = "single_choice"
	MultiChoice  AnswerKind = "multi_choice"
	TrueFalse    AnswerKind = "true_false"
)

// Question is an immutable description of one quiz question. Questions are
// authored externally; the engine only validates and scores them.
type Question struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Kind        AnswerKind `json:"kind"`
	Options     []string   `json:"options"`
	Correct     []int      `json:"correct"` // option indices
	Points      int        `json:"points"`
	Explanation string     `json:"explanation,omitempty"`
}

// Quiz is an ordered set of questions plus the policy the engine enforces.
type Quiz struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Questions        []Question `json:"questions"`
	PassingScore     int        `json:"passingScore"`     // percent, 0-100
	TimeLimitMinutes int        `json:"timeLimitMinutes"` // 0 means untimed
	MaxAttempts      int        `json:"maxAttempts"`
}

// Answer is a learner's response to one question. Single-choice and
// true/false answers carry exactly one index; multi-choice answers carry a
// set of indices.
type Answer struct {
	Selected []int `json:"selected"`
}

// AnswerMap accumulates responses during a session, keyed by question ID.
// It is never persisted until submission.
type AnswerMap map[string]Answer

// Clone returns a deep copy so a persisted record cannot alias live session state.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for id, a := range m {
		sel := make([]int, len(a.Selected))
		copy(sel, a.Selected)
		out[id] = Answer{Selected: sel}
	}
	return out
}

// AttemptRecord is one completed run of a quiz. Records are append-only: the
// engine creates exactly one per submission and never mutates or deletes it.
type AttemptRecord struct {
	ID               string    `json:"id"`
	QuizID           string    `json:"quizId"`
	LearnerID        string    `json:"learnerId"`
	Answers          AnswerMap `json:"answers"`
	Score            int       `json:"score"` // percent, 0-100
	Passed           bool      `json:"passed"`
	TimeTakenSeconds *int      `json:"timeTakenSeconds,omitempty"` // nil when untimed
	CompletedAt      time.Time `json:"completedAt"`
}

// ResultNotice is the pass/fail summary handed to the notification surface.
type ResultNotice struct {
	QuizID            string `json:"quizId"`
	Passed            bool   `json:"passed"`
	Score             int    `json:"score"`
	PassingScore      int    `json:"passingScore"`
	AttemptsRemaining int    `json:"attemptsRemaining"`
}

// EffectiveCorrect returns the single index evaluated for single-choice and
// true/false questions. Multi-choice questions compare against the whole set.
func (q Question) EffectiveCorrect() int {
	if len(q.Correct) == 0 {
		return -1
	}
	return q.Correct[0]
}

// Validate reports the structural problems that make a question unscorable.
func (q Question) Validate() error {
	var reasons []string
	if len(q.Options) < 2 {
		reasons = append(reasons, "needs at least two options")
	}
	if len(q.Correct) == 0 {
		reasons = append(reasons, "has no correct answer")
	}
	for _, idx := range q.Correct {
		if idx < 0 || idx >= len(q.Options) {
			reasons = append(reasons, "correct index out of range")
			break
		}
	}
	if q.Points <= 0 {
		reasons = append(reasons, "has non-positive points")
	}
	if len(reasons) == 0 {
		return nil
	}
	return &StructuralError{Problems: []StructuralProblem{{QuestionID: q.ID, Reasons: reasons}}}
}

// Validate checks quiz-level invariants. A quiz whose valid questions sum to
// zero points cannot be scored and is flagged as structurally broken.
func (z Quiz) Validate() error {
	se := &StructuralError{}
	if len(z.Questions) == 0 {
		se.add("", "quiz has no questions")
	}
	if z.PassingScore < 0 || z.PassingScore > 100 {
		se.add("", "passing score out of range")
	}
	if z.MaxAttempts <= 0 {
		se.add("", "max attempts must be positive")
	}
	total := 0
	for _, q := range z.Questions {
		if err := q.Validate(); err != nil {
			if qse, ok := err.(*StructuralError); ok {
				se.Problems = append(se.Problems, qse.Problems...)
			}
			continue
		}
		total += q.Points
	}
	if total == 0 && len(z.Questions) > 0 {
		se.add("", "total points is zero")
	}
	if len(se.Problems) == 0 {
		return nil
	}
	return se
}
