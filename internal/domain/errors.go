package domain

import (
	"errors"
	"fmt"
)

// Kind classifies errors for callers deciding how to react.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindPolicyViolation
	KindConflict
	KindValidation
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPolicyViolation:
		return "policy_violation"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage_failure"
	}
	return "unknown"
}

// Error is a classified domain error with a stable machine code.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = newError(KindNotFound, "quiz_not_found", "quiz not found")
	// ErrQuestionNotFound indicates a question lookup failed.
	ErrQuestionNotFound = newError(KindNotFound, "question_not_found", "question not found")
	// ErrAttemptNotFound is returned for unknown attempts and attempts owned by someone else.
	ErrAttemptNotFound = newError(KindNotFound, "attempt_not_found", "attempt not found")

	// ErrAttemptLimitExceeded means the student used every allowed attempt.
	ErrAttemptLimitExceeded = newError(KindPolicyViolation, "attempt_limit_exceeded", "attempt limit exceeded")
	// ErrQuizNotOpen means the quiz is unpublished or outside its scheduling window.
	ErrQuizNotOpen = newError(KindPolicyViolation, "quiz_not_open", "quiz is not open for attempts")
	// ErrAttemptExpired means the attempt ran past its time limit.
	ErrAttemptExpired = newError(KindPolicyViolation, "attempt_expired", "attempt time limit exceeded")

	// ErrAttemptNotInProgress rejects writes to submitted or terminal attempts.
	ErrAttemptNotInProgress = newError(KindConflict, "attempt_not_in_progress", "attempt is not in progress")
	// ErrAttemptAlreadyInProgress is returned by a store whose conditional create found an active attempt.
	ErrAttemptAlreadyInProgress = newError(KindConflict, "attempt_already_in_progress", "an attempt is already in progress")
	// ErrStatusConflict is returned when a conditional transition finds an unexpected status.
	ErrStatusConflict = newError(KindConflict, "status_conflict", "attempt status changed concurrently")
	// ErrInvalidTransition rejects edges missing from the lifecycle table.
	ErrInvalidTransition = newError(KindConflict, "invalid_transition", "invalid attempt status transition")

	// ErrUnknownQuestion rejects answers to questions outside the attempt's quiz.
	ErrUnknownQuestion = newError(KindValidation, "unknown_question", "question does not belong to this quiz")
	// ErrInvalidOptionSelection rejects empty or foreign option selections.
	ErrInvalidOptionSelection = newError(KindValidation, "invalid_option_selection", "invalid option selection")
	// ErrInvalidAnswerShape rejects a payload whose shape does not match the question type.
	ErrInvalidAnswerShape = newError(KindValidation, "invalid_answer_shape", "answer shape does not match question type")
	// ErrInvalidQuestion flags catalog content that breaks question invariants.
	ErrInvalidQuestion = newError(KindValidation, "invalid_question", "invalid question definition")
)

// StorageError wraps a failure of the underlying persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it is already classified.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// KindOf classifies err by the first domain error found in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var se *StorageError
	if errors.As(err, &se) {
		return KindStorage
	}
	return KindUnknown
}

// CodeOf returns the machine code of the first domain error in err's chain.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	if KindOf(err) == KindStorage {
		return "storage_failure"
	}
	return "internal"
}
