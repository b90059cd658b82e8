package grading

import (
	"testing"

	"quiz-attempt-service/internal/domain"
)

func capitalQuestion() domain.Question {
	return domain.Question{ID: "q-capital", Type: domain.ShortAnswer, Points: 2, CorrectAnswer: "Paris"}
}

func colourQuestion() domain.Question {
	return domain.Question{
		ID:     "q-colour",
		Type:   domain.MultipleChoice,
		Points: 3,
		Options: []domain.Option{
			{ID: "A", Text: "Red", Correct: true},
			{ID: "B", Text: "Green"},
			{ID: "C", Text: "Blue"},
			{ID: "D", Text: "Black"},
		},
	}
}

func TestGradeMultipleChoiceSetEquality(t *testing.T) {
	q := colourQuestion()
	cases := []struct {
		name     string
		selected []string
		points   float64
	}{
		{"exact", []string{"A"}, 3},
		{"superset", []string{"A", "B"}, 0},
		{"wrong", []string{"C"}, 0},
		{"duplicate selection", []string{"A", "A"}, 3},
	}
	for _, tc := range cases {
		res := Grade(q, domain.NewChoiceResponse(tc.selected))
		if res.PointsAwarded != tc.points {
			t.Fatalf("%s: expected %v points, got %v", tc.name, tc.points, res.PointsAwarded)
		}
		if res.Correct != (tc.points > 0) {
			t.Fatalf("%s: correctness flag mismatch", tc.name)
		}
	}
}

func TestGradeMultiSelectNoPartialCredit(t *testing.T) {
	q := domain.Question{
		ID:     "q-primes",
		Type:   domain.MultipleChoice,
		Points: 4,
		Options: []domain.Option{
			{ID: "2", Correct: true},
			{ID: "3", Correct: true},
			{ID: "4"},
			{ID: "5", Correct: true},
		},
	}
	if res := Grade(q, domain.NewChoiceResponse([]string{"2", "3"})); res.PointsAwarded != 0 {
		t.Fatalf("subset must score zero, got %v", res.PointsAwarded)
	}
	if res := Grade(q, domain.NewChoiceResponse([]string{"5", "3", "2"})); res.PointsAwarded != 4 {
		t.Fatalf("exact set must score full points, got %v", res.PointsAwarded)
	}
}

func TestGradeShortAnswer(t *testing.T) {
	q := capitalQuestion()
	cases := map[string]float64{
		"Paris":   2,
		"paris":   2,
		" Paris ": 2,
		"PARIS\n": 2,
		"Pari":    0,
		"Paris!":  0,
	}
	for text, want := range cases {
		res := Grade(q, domain.TextResponse{Text: text})
		if res.PointsAwarded != want {
			t.Fatalf("%q: expected %v, got %v", text, want, res.PointsAwarded)
		}
	}
}

func TestGradeBlankAndMismatchedShapes(t *testing.T) {
	if res := Grade(capitalQuestion(), domain.BlankResponse{}); !res.Blank || res.Correct || res.PointsAwarded != 0 {
		t.Fatalf("blank answer must be incorrect with zero points: %+v", res)
	}
	if res := Grade(capitalQuestion(), domain.TextResponse{Text: "   "}); !res.Blank || res.PointsAwarded != 0 {
		t.Fatalf("whitespace answer must be blank: %+v", res)
	}
	if res := Grade(colourQuestion(), domain.TextResponse{Text: "A"}); res.Correct {
		t.Fatalf("text response to a choice question must not be correct")
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	questions := []domain.Question{colourQuestion(), capitalQuestion()}
	answers := []domain.Answer{
		{QuestionID: "q-capital", Response: domain.TextResponse{Text: "paris"}},
	}

	first := Aggregate(questions, answers)
	if first.Score != 2 || first.TotalPossible != 5 {
		t.Fatalf("expected 2/5, got %v/%v", first.Score, first.TotalPossible)
	}
	if len(first.Questions) != 2 || !first.Questions[0].Blank {
		t.Fatalf("expected unanswered question recorded as blank: %+v", first.Questions)
	}
	if first.ScoringVersion != SchemeVersion {
		t.Fatalf("expected scoring version %s, got %s", SchemeVersion, first.ScoringVersion)
	}

	graded := Apply("att-1", questions, answers, first)
	if len(graded) != 2 {
		t.Fatalf("expected one graded answer per question, got %d", len(graded))
	}
	again := Aggregate(questions, graded)
	if again.Score != first.Score {
		t.Fatalf("re-aggregation drifted: %v != %v", again.Score, first.Score)
	}
	for _, ans := range graded {
		if ans.PointsAwarded == nil || ans.Correct == nil {
			t.Fatalf("graded answer %s missing results", ans.QuestionID)
		}
	}
}
