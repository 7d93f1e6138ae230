package engine

import (
	"sort"
	"strings"

	"assessment-engine/internal/domain"
)

// QuestionReview is one row of the results breakdown, rendered as text.
type QuestionReview struct {
	QuestionID    string `json:"questionId"`
	Prompt        string `json:"prompt"`
	YourAnswer    string `json:"yourAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
	Correct       bool   `json:"correct"`
	Unscorable    bool   `json:"unscorable"`
	Explanation   string `json:"explanation,omitempty"`
}

// ResultsView is the full presentation of one submission.
type ResultsView struct {
	QuizTitle    string           `json:"quizTitle"`
	Score        int              `json:"score"`
	PassingScore int              `json:"passingScore"`
	Passed       bool             `json:"passed"`
	Questions    []QuestionReview `json:"questions"`
}

// PresentResults derives the per-question breakdown for display. It holds no
// state and is recomputed fresh each time results are viewed, so past
// attempts can be re-rendered without re-submission.
func PresentResults(quiz domain.Quiz, answers domain.AnswerMap, result Result) ResultsView {
	byID := make(map[string]QuestionResult, len(result.Questions))
	for _, qr := range result.Questions {
		byID[qr.QuestionID] = qr
	}

	view := ResultsView{
		QuizTitle:    quiz.Title,
		Score:        result.Percent,
		PassingScore: quiz.PassingScore,
		Passed:       result.Percent >= quiz.PassingScore,
		Questions:    make([]QuestionReview, 0, len(quiz.Questions)),
	}

	for _, q := range quiz.Questions {
		qr := byID[q.ID]
		review := QuestionReview{
			QuestionID:  q.ID,
			Prompt:      q.Prompt,
			Correct:     qr.Correct,
			Unscorable:  qr.Unscorable,
			Explanation: q.Explanation,
		}
		if qr.Unscorable {
			review.YourAnswer = "n/a"
			review.CorrectAnswer = "n/a"
			view.Questions = append(view.Questions, review)
			continue
		}
		if answer, ok := answers[q.ID]; ok {
			review.YourAnswer = renderSelection(q, answer.Selected)
		} else {
			review.YourAnswer = "not answered"
		}
		review.CorrectAnswer = renderCorrect(q)
		view.Questions = append(view.Questions, review)
	}
	return view
}

// renderSelection turns option indices into the option text the learner saw.
func renderSelection(q domain.Question, selected []int) string {
	if len(selected) == 0 {
		return "not answered"
	}
	sorted := append([]int(nil), selected...)
	sort.Ints(sorted)
	parts := make([]string, 0, len(sorted))
	for _, idx := range sorted {
		if idx < 0 || idx >= len(q.Options) {
			continue
		}
		parts = append(parts, q.Options[idx])
	}
	if len(parts) == 0 {
		return "not answered"
	}
	return strings.Join(parts, ", ")
}

func renderCorrect(q domain.Question) string {
	if q.Kind == domain.MultiChoice {
		return renderSelection(q, q.Correct)
	}
	return renderSelection(q, []int{q.EffectiveCorrect()})
}
