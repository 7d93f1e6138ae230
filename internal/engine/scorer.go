package engine

import (
	"math"

	"assessment-engine/internal/domain"
)

// QuestionResult is the scoring outcome for a single question.
type QuestionResult struct {
	QuestionID   string `json:"questionId"`
	Answered     bool   `json:"answered"`
	Correct      bool   `json:"correct"`
	Unscorable   bool   `json:"unscorable"`
	PointsEarned int    `json:"pointsEarned"`
}

// Result is the full scoring outcome for one submission.
type Result struct {
	Percent      int                     `json:"percent"`
	EarnedPoints int                     `json:"earnedPoints"`
	TotalPoints  int                     `json:"totalPoints"`
	Questions    []QuestionResult        `json:"questions"`
	Structural   *domain.StructuralError `json:"-"`
}

// Score computes the integer percentage for an answer map against a quiz.
// It is a pure function: no side effects, deterministic for a given input.
//
// A malformed question contributes to neither total: it is skipped fail-safe
// and surfaced as unscorable. If no question is scorable the result is 0 with
// the structural problems attached rather than a divide-by-zero.
func Score(quiz domain.Quiz, answers domain.AnswerMap) Result {
	res := Result{Questions: make([]QuestionResult, 0, len(quiz.Questions))}
	structural := &domain.StructuralError{}

	for _, q := range quiz.Questions {
		qr := QuestionResult{QuestionID: q.ID}
		if err := q.Validate(); err != nil {
			if se, ok := err.(*domain.StructuralError); ok {
				structural.Problems = append(structural.Problems, se.Problems...)
			}
			qr.Unscorable = true
			res.Questions = append(res.Questions, qr)
			continue
		}

		res.TotalPoints += q.Points
		answer, ok := answers[q.ID]
		qr.Answered = ok
		if ok && answerCorrect(q, answer) {
			qr.Correct = true
			qr.PointsEarned = q.Points
			res.EarnedPoints += q.Points
		}
		res.Questions = append(res.Questions, qr)
	}

	if res.TotalPoints == 0 {
		structural.Problems = append(structural.Problems, domain.StructuralProblem{
			Reasons: []string{"total points is zero"},
		})
		res.Structural = structural
		return res
	}

	res.Percent = int(math.Round(100 * float64(res.EarnedPoints) / float64(res.TotalPoints)))
	if len(structural.Problems) > 0 {
		res.Structural = structural
	}
	return res
}

// answerCorrect applies the per-kind rule. Single-choice and true/false match
// when the chosen index is in the correct set; multi-choice requires exact
// set equality, so partial overlap earns nothing.
func answerCorrect(q domain.Question, a domain.Answer) bool {
	switch q.Kind {
	case domain.MultiChoice:
		return sameIndexSet(a.Selected, q.Correct)
	default:
		if len(a.Selected) != 1 {
			return false
		}
		for _, idx := range q.Correct {
			if a.Selected[0] == idx {
				return true
			}
		}
		return false
	}
}

func sameIndexSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]int, len(a))
	for _, idx := range a {
		seen[idx]++
	}
	for _, idx := range b {
		seen[idx]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
