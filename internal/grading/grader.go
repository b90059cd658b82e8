// Package grading scores canonical answers against question definitions.
// Everything here is pure: no I/O, no clocks, no shared state.
package grading

import (
	"strings"

	"quiz-attempt-service/internal/domain"
)

// SchemeVersion identifies the scoring rules below. It is stored with every
// graded attempt so a future partial-credit scheme can be told apart.
const SchemeVersion = "binary-v1"

// Grade scores a single response. Points are all-or-nothing.
func Grade(q domain.Question, r domain.Response) domain.QuestionResult {
	res := domain.QuestionResult{
		QuestionID:     q.ID,
		PointsPossible: q.Points,
		Blank:          domain.IsBlank(r),
	}
	if res.Blank {
		return res
	}

	switch q.Type {
	case domain.MultipleChoice, domain.TrueFalse:
		choice, ok := r.(domain.ChoiceResponse)
		res.Correct = ok && sameSet(choice.OptionIDs, q.CorrectOptionIDs())
	case domain.ShortAnswer:
		text, ok := r.(domain.TextResponse)
		res.Correct = ok && matchText(text.Text, q.CorrectAnswer)
	}
	if res.Correct {
		res.PointsAwarded = q.Points
	}
	return res
}

// sameSet is exact set equality; neither subsets nor supersets match.
func sameSet(selected, correct []string) bool {
	want := make(map[string]struct{}, len(correct))
	for _, id := range correct {
		want[id] = struct{}{}
	}
	got := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := want[id]; !ok {
			return false
		}
		got[id] = struct{}{}
	}
	return len(got) == len(want)
}

func matchText(submitted, canonical string) bool {
	return normalize(submitted) == normalize(canonical)
}

// normalize trims surrounding whitespace and folds case.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
