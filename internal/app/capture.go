package app

import (
	"fmt"
	"strings"
	"time"

	"quiz-attempt-service/internal/domain"
)

// CaptureAnswers validates raw client answers against the quiz's questions and
// normalizes them into canonical responses. Only the questions present in raw
// are returned; a later entry for the same question replaces an earlier one.
func CaptureAnswers(questions []domain.Question, attemptID string, raw []domain.RawAnswer, now time.Time) ([]domain.Answer, error) {
	index := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		index[q.ID] = q
	}

	captured := make(map[string]domain.Answer, len(raw))
	order := make([]string, 0, len(raw))
	for _, in := range raw {
		q, ok := index[in.QuestionID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownQuestion, in.QuestionID)
		}
		resp, err := canonicalize(q, in)
		if err != nil {
			return nil, err
		}
		if _, seen := captured[q.ID]; !seen {
			order = append(order, q.ID)
		}
		captured[q.ID] = domain.Answer{
			AttemptID:  attemptID,
			QuestionID: q.ID,
			Response:   resp,
			AnsweredAt: now,
		}
	}

	out := make([]domain.Answer, 0, len(order))
	for _, id := range order {
		out = append(out, captured[id])
	}
	return out, nil
}

func canonicalize(q domain.Question, in domain.RawAnswer) (domain.Response, error) {
	switch q.Type {
	case domain.MultipleChoice, domain.TrueFalse:
		if in.Text != nil {
			return nil, fmt.Errorf("%w: question %s expects selected options", domain.ErrInvalidAnswerShape, q.ID)
		}
		choice := domain.NewChoiceResponse(in.SelectedOptionIDs)
		if len(choice.OptionIDs) == 0 {
			return nil, fmt.Errorf("%w: question %s needs at least one option", domain.ErrInvalidOptionSelection, q.ID)
		}
		// Single-correct multiple choice still accepts several options; grading decides.
		if q.Type == domain.TrueFalse && len(choice.OptionIDs) != 1 {
			return nil, fmt.Errorf("%w: question %s needs exactly one option", domain.ErrInvalidOptionSelection, q.ID)
		}
		for _, id := range choice.OptionIDs {
			if !q.HasOption(id) {
				return nil, fmt.Errorf("%w: option %q is not part of question %s", domain.ErrInvalidOptionSelection, id, q.ID)
			}
		}
		return choice, nil
	case domain.ShortAnswer:
		if len(in.SelectedOptionIDs) > 0 {
			return nil, fmt.Errorf("%w: question %s expects text", domain.ErrInvalidAnswerShape, q.ID)
		}
		if in.Text == nil || strings.TrimSpace(*in.Text) == "" {
			return domain.BlankResponse{}, nil
		}
		return domain.TextResponse{Text: *in.Text}, nil
	}
	return nil, fmt.Errorf("%w: question %s has type %q", domain.ErrInvalidQuestion, q.ID, q.Type)
}
