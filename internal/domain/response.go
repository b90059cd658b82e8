package domain

import (
	"sort"
	"strings"
)

// Response is the canonical, type-checked answer to one question.
// The concrete type is one of ChoiceResponse, TextResponse or BlankResponse.
type Response interface {
	isResponse()
}

// ChoiceResponse holds a de-duplicated, sorted set of option IDs.
type ChoiceResponse struct {
	OptionIDs []string
}

// TextResponse holds a non-blank free-text answer as typed by the student.
type TextResponse struct {
	Text string
}

// BlankResponse marks a question left unanswered, or answered with blank text.
type BlankResponse struct{}

func (ChoiceResponse) isResponse() {}
func (TextResponse) isResponse()   {}
func (BlankResponse) isResponse()  {}

// NewChoiceResponse normalizes ids into set form.
func NewChoiceResponse(ids []string) ChoiceResponse {
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return ChoiceResponse{OptionIDs: out}
}

// IsBlank reports whether r carries no answer.
func IsBlank(r Response) bool {
	switch v := r.(type) {
	case nil, BlankResponse:
		return true
	case TextResponse:
		return strings.TrimSpace(v.Text) == ""
	case ChoiceResponse:
		return len(v.OptionIDs) == 0
	}
	return true
}

// View flattens the answer into its transport shape.
func (a Answer) View() AnswerView {
	v := AnswerView{
		QuestionID:    a.QuestionID,
		PointsAwarded: a.PointsAwarded,
		Correct:       a.Correct,
	}
	switch r := a.Response.(type) {
	case ChoiceResponse:
		v.SelectedOptionIDs = append([]string(nil), r.OptionIDs...)
	case TextResponse:
		text := r.Text
		v.Text = &text
	}
	v.Blank = IsBlank(a.Response)
	return v
}
