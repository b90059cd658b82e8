package domain

import (
	"fmt"
	"strings"
	"time"
)

// QuestionType enumerates the auto-gradable question kinds.
type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
)

// Option represents a possible answer for a choice question.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Question is immutable for the lifetime of any attempt referencing it.
type Question struct {
	ID            string       `json:"id" yaml:"id"`
	QuizID        string       `json:"quizId" yaml:"quiz_id"`
	Text          string       `json:"text" yaml:"text"`
	Type          QuestionType `json:"type" yaml:"type"`
	Points        float64      `json:"points" yaml:"points"`
	Options       []Option     `json:"options,omitempty" yaml:"options"`
	CorrectAnswer string       `json:"correctAnswer,omitempty" yaml:"correct_answer"`
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// CorrectOptionIDs returns the IDs flagged correct, in declaration order.
func (q Question) CorrectOptionIDs() []string {
	ids := make([]string, 0, 1)
	for _, opt := range q.Options {
		if opt.Correct {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}

// Validate checks the catalog invariants for a question definition.
func (q Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidQuestion)
	}
	if q.Points <= 0 {
		return fmt.Errorf("%w: question %s has non-positive points", ErrInvalidQuestion, q.ID)
	}
	switch q.Type {
	case MultipleChoice, TrueFalse:
		if q.Type == TrueFalse && len(q.Options) != 2 {
			return fmt.Errorf("%w: true_false question %s needs exactly two options", ErrInvalidQuestion, q.ID)
		}
		seen := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			if opt.ID == "" {
				return fmt.Errorf("%w: question %s has an option without id", ErrInvalidQuestion, q.ID)
			}
			if _, dup := seen[opt.ID]; dup {
				return fmt.Errorf("%w: question %s repeats option %s", ErrInvalidQuestion, q.ID, opt.ID)
			}
			seen[opt.ID] = struct{}{}
		}
		if len(q.CorrectOptionIDs()) == 0 {
			return fmt.Errorf("%w: question %s has no correct option", ErrInvalidQuestion, q.ID)
		}
	case ShortAnswer:
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			return fmt.Errorf("%w: short_answer question %s has no correct answer", ErrInvalidQuestion, q.ID)
		}
	default:
		return fmt.Errorf("%w: question %s has unsupported type %q", ErrInvalidQuestion, q.ID, q.Type)
	}
	return nil
}

// QuizPolicy governs who may attempt a quiz and for how long.
type QuizPolicy struct {
	AllowedAttempts  int        `json:"allowedAttempts" yaml:"allowed_attempts"`
	TimeLimitSeconds *int       `json:"timeLimitSeconds,omitempty" yaml:"time_limit_seconds"`
	Published        bool       `json:"published" yaml:"published"`
	OpensAt          *time.Time `json:"opensAt,omitempty" yaml:"opens_at"`
	ClosesAt         *time.Time `json:"closesAt,omitempty" yaml:"closes_at"`
}

// IsOpen reports whether new attempts may start at now.
func (p QuizPolicy) IsOpen(now time.Time) bool {
	if !p.Published {
		return false
	}
	if p.OpensAt != nil && now.Before(*p.OpensAt) {
		return false
	}
	if p.ClosesAt != nil && !now.Before(*p.ClosesAt) {
		return false
	}
	return true
}

// TimeLimit returns the limit as a duration; zero means unlimited.
func (p QuizPolicy) TimeLimit() time.Duration {
	if p.TimeLimitSeconds == nil || *p.TimeLimitSeconds <= 0 {
		return 0
	}
	return time.Duration(*p.TimeLimitSeconds) * time.Second
}

// Quiz is a collection of questions plus its attempt policy.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Policy    QuizPolicy `json:"policy" yaml:"policy"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Validate checks every question and the attempt ceiling.
func (q Quiz) Validate() error {
	if q.Policy.AllowedAttempts <= 0 {
		return fmt.Errorf("%w: quiz %s allows no attempts", ErrInvalidQuestion, q.ID)
	}
	seen := make(map[string]struct{}, len(q.Questions))
	for _, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return err
		}
		if _, dup := seen[question.ID]; dup {
			return fmt.Errorf("%w: quiz %s repeats question %s", ErrInvalidQuestion, q.ID, question.ID)
		}
		seen[question.ID] = struct{}{}
	}
	return nil
}

// TotalPoints sums the point value of every question.
func (q Quiz) TotalPoints() float64 {
	total := 0.0
	for _, question := range q.Questions {
		total += question.Points
	}
	return total
}

// Attempt is one student's timed session on a quiz.
type Attempt struct {
	ID               string        `json:"id"`
	QuizID           string        `json:"quizId"`
	StudentID        string        `json:"studentId"`
	Status           AttemptStatus `json:"status"`
	Sequence         int           `json:"sequence"`
	StartedAt        time.Time     `json:"startedAt"`
	SubmittedAt      *time.Time    `json:"submittedAt,omitempty"`
	TimeLimitSeconds *int          `json:"timeLimitSeconds,omitempty"`
	FinalScore       *float64      `json:"finalScore,omitempty"`
	ScoringVersion   string        `json:"scoringVersion,omitempty"`
	Answers          []Answer      `json:"answers,omitempty"`
}

// Deadline returns when the attempt's time limit runs out.
func (a Attempt) Deadline() (time.Time, bool) {
	if a.TimeLimitSeconds == nil || *a.TimeLimitSeconds <= 0 {
		return time.Time{}, false
	}
	return a.StartedAt.Add(time.Duration(*a.TimeLimitSeconds) * time.Second), true
}

// Overdue reports whether elapsed server time exceeds the time limit.
func (a Attempt) Overdue(now time.Time) bool {
	deadline, ok := a.Deadline()
	return ok && now.After(deadline)
}

// AnswerFor returns the stored answer for questionID, if any.
func (a Attempt) AnswerFor(questionID string) (Answer, bool) {
	for _, ans := range a.Answers {
		if ans.QuestionID == questionID {
			return ans, true
		}
	}
	return Answer{}, false
}

// Answer is the stored response to one question in an attempt.
type Answer struct {
	AttemptID     string    `json:"attemptId"`
	QuestionID    string    `json:"questionId"`
	Response      Response  `json:"-"`
	PointsAwarded *float64  `json:"pointsAwarded,omitempty"`
	Correct       *bool     `json:"isCorrect,omitempty"`
	AnsweredAt    time.Time `json:"answeredAt"`
}

// RawAnswer is the unvalidated per-question payload from a client.
type RawAnswer struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds,omitempty"`
	Text              *string  `json:"text,omitempty"`
}

// QuestionResult is the graded outcome for one question.
type QuestionResult struct {
	QuestionID     string  `json:"questionId"`
	PointsAwarded  float64 `json:"pointsAwarded"`
	PointsPossible float64 `json:"pointsPossible"`
	Correct        bool    `json:"isCorrect"`
	Blank          bool    `json:"blank"`
}

// Scorecard is the aggregated result of grading an attempt.
type Scorecard struct {
	Score          float64          `json:"score"`
	TotalPossible  float64          `json:"totalPossiblePoints"`
	ScoringVersion string           `json:"scoringVersion"`
	Questions      []QuestionResult `json:"perQuestion"`
}

// AttemptResult is returned by a submit or expiry.
type AttemptResult struct {
	AttemptID string        `json:"attemptId"`
	Status    AttemptStatus `json:"status"`
	Scorecard
}

// AttemptView is the full read model of an attempt.
type AttemptView struct {
	Attempt       Attempt          `json:"attempt"`
	Answers       []AnswerView     `json:"answers"`
	TotalPossible float64          `json:"totalPossiblePoints"`
	Results       []QuestionResult `json:"perQuestion,omitempty"`
}

// AnswerView flattens an Answer for transport.
type AnswerView struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds,omitempty"`
	Text              *string  `json:"text,omitempty"`
	Blank             bool     `json:"blank"`
	PointsAwarded     *float64 `json:"pointsAwarded,omitempty"`
	Correct           *bool    `json:"isCorrect,omitempty"`
}
