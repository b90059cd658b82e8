package grading

import "quiz-attempt-service/internal/domain"

// Aggregate grades every question of the quiz in catalog order. Questions
// without an answer count as blank and score zero. The result depends only
// on its inputs, so re-running it on stored answers reproduces the score.
func Aggregate(questions []domain.Question, answers []domain.Answer) domain.Scorecard {
	byQuestion := make(map[string]domain.Response, len(answers))
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = ans.Response
	}

	card := domain.Scorecard{
		ScoringVersion: SchemeVersion,
		Questions:      make([]domain.QuestionResult, 0, len(questions)),
	}
	for _, q := range questions {
		resp, ok := byQuestion[q.ID]
		if !ok {
			resp = domain.BlankResponse{}
		}
		res := Grade(q, resp)
		card.Score += res.PointsAwarded
		card.TotalPossible += res.PointsPossible
		card.Questions = append(card.Questions, res)
	}
	return card
}

// Apply returns graded copies of answers, one per question, filling blanks
// for questions that were never answered.
func Apply(attemptID string, questions []domain.Question, answers []domain.Answer, card domain.Scorecard) []domain.Answer {
	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = ans
	}
	results := make(map[string]domain.QuestionResult, len(card.Questions))
	for _, res := range card.Questions {
		results[res.QuestionID] = res
	}

	out := make([]domain.Answer, 0, len(questions))
	for _, q := range questions {
		ans, ok := byQuestion[q.ID]
		if !ok {
			ans = domain.Answer{AttemptID: attemptID, QuestionID: q.ID, Response: domain.BlankResponse{}}
		}
		res := results[q.ID]
		points := res.PointsAwarded
		correct := res.Correct
		ans.PointsAwarded = &points
		ans.Correct = &correct
		out = append(out, ans)
	}
	return out
}
