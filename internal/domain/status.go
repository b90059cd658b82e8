package domain

import "time"

// AttemptStatus is the lifecycle state of an attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
	StatusGraded     AttemptStatus = "graded"
	StatusExpired    AttemptStatus = "expired"
	StatusCancelled  AttemptStatus = "cancelled"
)

var transitions = map[AttemptStatus][]AttemptStatus{
	StatusInProgress: {StatusSubmitted, StatusExpired, StatusCancelled},
	StatusSubmitted:  {StatusGraded},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to AttemptStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s AttemptStatus) Terminal() bool {
	return s == StatusGraded || s == StatusExpired || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s AttemptStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusSubmitted, StatusGraded, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Transition is the payload written atomically with a status change.
type Transition struct {
	From           AttemptStatus
	To             AttemptStatus
	SubmittedAt    *time.Time
	FinalScore     *float64
	ScoringVersion string
	// Answers replaces the stored answers for the listed questions.
	Answers []Answer
}
