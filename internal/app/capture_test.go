package app

import (
	"errors"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func captureQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:   "mc",
			Type: domain.MultipleChoice,
			Options: []domain.Option{
				{ID: "A", Correct: true},
				{ID: "B", Correct: true},
				{ID: "C"},
			},
			Points: 2,
		},
		{ID: "sa", Type: domain.ShortAnswer, CorrectAnswer: "blue", Points: 1},
	}
}

func TestCaptureAnswersCanonicalizes(t *testing.T) {
	blank := "   "
	answers, err := CaptureAnswers(captureQuestions(), "att-1", []domain.RawAnswer{
		{QuestionID: "mc", SelectedOptionIDs: []string{"B", "A", "B"}},
		{QuestionID: "sa", Text: &blank},
	}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
	choice, ok := answers[0].Response.(domain.ChoiceResponse)
	if !ok || len(choice.OptionIDs) != 2 || choice.OptionIDs[0] != "A" || choice.OptionIDs[1] != "B" {
		t.Fatalf("expected sorted unique set, got %#v", answers[0].Response)
	}
	if _, ok := answers[1].Response.(domain.BlankResponse); !ok {
		t.Fatalf("expected blank text to be recorded blank, got %#v", answers[1].Response)
	}
	if answers[0].AttemptID != "att-1" {
		t.Fatalf("attempt id not stamped")
	}
}

func TestCaptureAnswersLastWriteWins(t *testing.T) {
	first, second := "red", "blue"
	answers, err := CaptureAnswers(captureQuestions(), "att-1", []domain.RawAnswer{
		{QuestionID: "sa", Text: &first},
		{QuestionID: "mc", SelectedOptionIDs: []string{"C"}},
		{QuestionID: "sa", Text: &second},
	}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(answers) != 2 || answers[0].QuestionID != "sa" {
		t.Fatalf("expected first-appearance order, got %+v", answers)
	}
	if r := answers[0].Response.(domain.TextResponse); r.Text != "blue" {
		t.Fatalf("expected last write to win, got %q", r.Text)
	}
}

func TestCaptureAnswersRejects(t *testing.T) {
	word := "x"
	cases := []struct {
		name string
		raw  domain.RawAnswer
		want error
	}{
		{"unknown question", domain.RawAnswer{QuestionID: "zz", Text: &word}, domain.ErrUnknownQuestion},
		{"empty selection", domain.RawAnswer{QuestionID: "mc"}, domain.ErrInvalidOptionSelection},
		{"foreign option", domain.RawAnswer{QuestionID: "mc", SelectedOptionIDs: []string{"D"}}, domain.ErrInvalidOptionSelection},
		{"text for choice", domain.RawAnswer{QuestionID: "mc", Text: &word}, domain.ErrInvalidAnswerShape},
		{"options for text", domain.RawAnswer{QuestionID: "sa", SelectedOptionIDs: []string{"A"}}, domain.ErrInvalidAnswerShape},
	}
	for _, tc := range cases {
		_, err := CaptureAnswers(captureQuestions(), "att-1", []domain.RawAnswer{tc.raw}, time.Unix(0, 0))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}
