package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"quiz-attempt-service/internal/domain"
)

func newAttempt(id string) domain.Attempt {
	return domain.Attempt{
		ID:        id,
		QuizID:    "quiz-1",
		StudentID: "s1",
		Status:    domain.StatusInProgress,
		StartedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestAttemptStoreCreateEnforcesSingleActive(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	first, err := store.CreateAttempt(ctx, newAttempt("a1"), 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", first.Sequence)
	}

	active, err := store.CreateAttempt(ctx, newAttempt("a2"), 3)
	if !errors.Is(err, domain.ErrAttemptAlreadyInProgress) {
		t.Fatalf("expected already in progress, got %v", err)
	}
	if active.ID != "a1" {
		t.Fatalf("expected active attempt a1, got %s", active.ID)
	}
}

func TestAttemptStoreLimitIgnoresCancelled(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	if _, err := store.CreateAttempt(ctx, newAttempt("a1"), 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Transition(ctx, "a1", domain.Transition{From: domain.StatusInProgress, To: domain.StatusCancelled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second, err := store.CreateAttempt(ctx, newAttempt("a2"), 1)
	if err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
	if second.Sequence != 1 {
		t.Fatalf("cancelled attempts must not consume a sequence, got %d", second.Sequence)
	}
	score := 0.0
	if _, err := store.Transition(ctx, "a2", domain.Transition{From: domain.StatusInProgress, To: domain.StatusExpired, FinalScore: &score}); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, err := store.CreateAttempt(ctx, newAttempt("a3"), 1); !errors.Is(err, domain.ErrAttemptLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}
}

func TestAttemptStoreTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	if _, err := store.CreateAttempt(ctx, newAttempt("a1"), 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	submit := domain.Transition{From: domain.StatusInProgress, To: domain.StatusSubmitted}
	if _, err := store.Transition(ctx, "a1", submit); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.Transition(ctx, "a1", submit); !errors.Is(err, domain.ErrStatusConflict) {
		t.Fatalf("expected status conflict on second submit, got %v", err)
	}
	if err := store.SaveAnswers(ctx, "a1", nil); !errors.Is(err, domain.ErrAttemptNotInProgress) {
		t.Fatalf("expected not in progress, got %v", err)
	}
	if _, err := store.Transition(ctx, "missing", submit); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAttemptStoreAnswersUpsertAndCopy(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	if _, err := store.CreateAttempt(ctx, newAttempt("a1"), 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	save := func(options ...string) {
		t.Helper()
		err := store.SaveAnswers(ctx, "a1", []domain.Answer{{
			AttemptID:  "a1",
			QuestionID: "q1",
			Response:   domain.NewChoiceResponse(options),
		}})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	save("A")
	save("B")

	got, err := store.GetAttempt(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Answers) != 1 {
		t.Fatalf("expected one answer per question, got %d", len(got.Answers))
	}
	choice := got.Answers[0].Response.(domain.ChoiceResponse)
	if choice.OptionIDs[0] != "B" {
		t.Fatalf("expected last save to win, got %v", choice.OptionIDs)
	}

	choice.OptionIDs[0] = "mutated"
	again, _ := store.GetAttempt(ctx, "a1")
	if again.Answers[0].Response.(domain.ChoiceResponse).OptionIDs[0] != "B" {
		t.Fatalf("store leaked internal state")
	}
}

func TestAttemptStoreListByStatus(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	for i := 0; i < 3; i++ {
		a := newAttempt(fmt.Sprintf("a%d", i))
		a.StudentID = fmt.Sprintf("s%d", i)
		if _, err := store.CreateAttempt(ctx, a, 1); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := store.Transition(ctx, a.ID, domain.Transition{From: domain.StatusInProgress, To: domain.StatusSubmitted}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	stuck, err := store.ListByStatus(ctx, domain.StatusSubmitted, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stuck) != 2 || stuck[0].ID != "a0" || stuck[1].ID != "a1" {
		t.Fatalf("unexpected listing: %+v", stuck)
	}
}

func TestAttemptStoreConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	var (
		mu      sync.Mutex
		created int
	)
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		id := fmt.Sprintf("a%d", i)
		g.Go(func() error {
			_, err := store.CreateAttempt(ctx, newAttempt(id), 5)
			switch {
			case err == nil:
				mu.Lock()
				created++
				mu.Unlock()
				return nil
			case errors.Is(err, domain.ErrAttemptAlreadyInProgress):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent create: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected exactly one created attempt, got %d", created)
	}
}
