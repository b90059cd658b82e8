// Package sqlstore persists attempts and answers through bun, on Postgres in
// production and SQLite for single-node setups and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"quiz-attempt-service/internal/domain"
)

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts"`

	ID               string     `bun:"id,pk"`
	QuizID           string     `bun:"quiz_id"`
	StudentID        string     `bun:"student_id"`
	Status           string     `bun:"status"`
	Sequence         int        `bun:"sequence"`
	StartedAt        time.Time  `bun:"started_at"`
	SubmittedAt      *time.Time `bun:"submitted_at"`
	TimeLimitSeconds *int       `bun:"time_limit_seconds"`
	FinalScore       *float64   `bun:"final_score"`
	ScoringVersion   *string    `bun:"scoring_version"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:attempt_answers"`

	AttemptID         string    `bun:"attempt_id,pk"`
	QuestionID        string    `bun:"question_id,pk"`
	Kind              string    `bun:"kind"`
	SelectedOptionIDs *string   `bun:"selected_option_ids"`
	Text              *string   `bun:"text_value"`
	PointsAwarded     *float64  `bun:"points_awarded"`
	Correct           *bool     `bun:"is_correct"`
	AnsweredAt        time.Time `bun:"answered_at"`
}

const (
	kindChoice = "choice"
	kindText   = "text"
	kindBlank  = "blank"
)

// AttemptStore implements app.AttemptStore on a bun database. Every
// mutation runs in a transaction and is conditional on the stored status.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) CreateAttempt(ctx context.Context, a domain.Attempt, maxAttempts int) (domain.Attempt, error) {
	var (
		created domain.Attempt
		active  domain.Attempt
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if s.db.Dialect().Name() == dialect.PG {
			// Serializes the count-then-insert for one student and quiz.
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext(?))`, a.StudentID+"/"+a.QuizID); err != nil {
				return err
			}
		}

		found, err := selectActive(ctx, tx, a.StudentID, a.QuizID)
		if err != nil {
			return err
		}
		if found != nil {
			if active, err = loadAttempt(ctx, tx, found.ID); err != nil {
				return err
			}
			return domain.ErrAttemptAlreadyInProgress
		}

		used, err := countAttempts(ctx, tx, a.StudentID, a.QuizID, domain.StatusCancelled)
		if err != nil {
			return err
		}
		if used >= maxAttempts {
			return domain.ErrAttemptLimitExceeded
		}

		row := fromDomain(a)
		row.Status = string(domain.StatusInProgress)
		row.Sequence = used + 1
		row.SubmittedAt = nil
		row.FinalScore = nil
		row.ScoringVersion = nil
		res, err := tx.NewInsert().Model(row).On("CONFLICT DO NOTHING").Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Lost the race on the partial unique index.
			found, err := selectActive(ctx, tx, a.StudentID, a.QuizID)
			if err != nil {
				return err
			}
			if found == nil {
				return fmt.Errorf("%w: attempt id %s already used", domain.ErrStatusConflict, a.ID)
			}
			if active, err = loadAttempt(ctx, tx, found.ID); err != nil {
				return err
			}
			return domain.ErrAttemptAlreadyInProgress
		}
		created, err = row.toDomain(nil)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrAttemptAlreadyInProgress):
		return active, err
	case err != nil:
		return domain.Attempt{}, domain.Storage("create attempt", err)
	}
	return created, nil
}

func (s *AttemptStore) Transition(ctx context.Context, attemptID string, t domain.Transition) (domain.Attempt, error) {
	var out domain.Attempt
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*attemptRow)(nil)).
			Set("status = ?", string(t.To)).
			Where("id = ?", attemptID).
			Where("status = ?", string(t.From))
		if t.SubmittedAt != nil {
			q = q.Set("submitted_at = ?", t.SubmittedAt.UTC())
		}
		if t.FinalScore != nil {
			// A recorded final score is never overwritten.
			q = q.Set("final_score = COALESCE(final_score, ?)", *t.FinalScore)
		}
		if t.ScoringVersion != "" {
			q = q.Set("scoring_version = ?", t.ScoringVersion)
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			current, err := selectAttempt(ctx, tx, attemptID)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: attempt %s is %s, expected %s", domain.ErrStatusConflict, attemptID, current.Status, t.From)
		}
		if err := upsertAnswers(ctx, tx, attemptID, t.Answers); err != nil {
			return err
		}
		out, err = loadAttempt(ctx, tx, attemptID)
		return err
	})
	if err != nil {
		return domain.Attempt{}, domain.Storage("transition attempt", err)
	}
	return out, nil
}

func (s *AttemptStore) SaveAnswers(ctx context.Context, attemptID string, answers []domain.Answer) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Touch the row so the status check and the upsert share one lock.
		res, err := tx.NewUpdate().
			Model((*attemptRow)(nil)).
			Set("status = status").
			Where("id = ?", attemptID).
			Where("status = ?", string(domain.StatusInProgress)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := selectAttempt(ctx, tx, attemptID); err != nil {
				return err
			}
			return domain.ErrAttemptNotInProgress
		}
		return upsertAnswers(ctx, tx, attemptID, answers)
	})
	return domain.Storage("save answers", err)
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	a, err := loadAttempt(ctx, s.db, attemptID)
	if err != nil {
		return domain.Attempt{}, domain.Storage("get attempt", err)
	}
	return a, nil
}

func (s *AttemptStore) CountAttempts(ctx context.Context, studentID, quizID string, excluding ...domain.AttemptStatus) (int, error) {
	n, err := countAttempts(ctx, s.db, studentID, quizID, excluding...)
	if err != nil {
		return 0, domain.Storage("count attempts", err)
	}
	return n, nil
}

func (s *AttemptStore) ListByStatus(ctx context.Context, status domain.AttemptStatus, limit int) ([]domain.Attempt, error) {
	var rows []attemptRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("status = ?", string(status)).
		Order("started_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Storage("list attempts", err)
	}
	out := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		answers, err := selectAnswers(ctx, s.db, row.ID)
		if err != nil {
			return nil, domain.Storage("list attempts", err)
		}
		a, err := row.toDomain(answers)
		if err != nil {
			return nil, domain.Storage("list attempts", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func selectActive(ctx context.Context, db bun.IDB, studentID, quizID string) (*attemptRow, error) {
	row := new(attemptRow)
	err := db.NewSelect().
		Model(row).
		Where("student_id = ?", studentID).
		Where("quiz_id = ?", quizID).
		Where("status = ?", string(domain.StatusInProgress)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func selectAttempt(ctx context.Context, db bun.IDB, attemptID string) (*attemptRow, error) {
	row := new(attemptRow)
	err := db.NewSelect().Model(row).Where("id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func selectAnswers(ctx context.Context, db bun.IDB, attemptID string) ([]answerRow, error) {
	var rows []answerRow
	err := db.NewSelect().
		Model(&rows).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return rows, nil
}

func loadAttempt(ctx context.Context, db bun.IDB, attemptID string) (domain.Attempt, error) {
	row, err := selectAttempt(ctx, db, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	answers, err := selectAnswers(ctx, db, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	return row.toDomain(answers)
}

func countAttempts(ctx context.Context, db bun.IDB, studentID, quizID string, excluding ...domain.AttemptStatus) (int, error) {
	q := db.NewSelect().
		Model((*attemptRow)(nil)).
		Where("student_id = ?", studentID).
		Where("quiz_id = ?", quizID)
	if len(excluding) > 0 {
		statuses := make([]string, len(excluding))
		for i, st := range excluding {
			statuses[i] = string(st)
		}
		q = q.Where("status NOT IN (?)", bun.In(statuses))
	}
	return q.Count(ctx)
}

func upsertAnswers(ctx context.Context, db bun.IDB, attemptID string, answers []domain.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	rows := make([]answerRow, 0, len(answers))
	for _, ans := range answers {
		row, err := answerFromDomain(attemptID, ans)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (attempt_id, question_id) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("selected_option_ids = EXCLUDED.selected_option_ids").
		Set("text_value = EXCLUDED.text_value").
		Set("points_awarded = EXCLUDED.points_awarded").
		Set("is_correct = EXCLUDED.is_correct").
		Set("answered_at = EXCLUDED.answered_at").
		Exec(ctx)
	return err
}

func fromDomain(a domain.Attempt) *attemptRow {
	row := &attemptRow{
		ID:               a.ID,
		QuizID:           a.QuizID,
		StudentID:        a.StudentID,
		Status:           string(a.Status),
		Sequence:         a.Sequence,
		StartedAt:        a.StartedAt.UTC(),
		TimeLimitSeconds: a.TimeLimitSeconds,
		FinalScore:       a.FinalScore,
	}
	if a.SubmittedAt != nil {
		at := a.SubmittedAt.UTC()
		row.SubmittedAt = &at
	}
	if a.ScoringVersion != "" {
		v := a.ScoringVersion
		row.ScoringVersion = &v
	}
	return row
}

func (r *attemptRow) toDomain(answers []answerRow) (domain.Attempt, error) {
	a := domain.Attempt{
		ID:               r.ID,
		QuizID:           r.QuizID,
		StudentID:        r.StudentID,
		Status:           domain.AttemptStatus(r.Status),
		Sequence:         r.Sequence,
		StartedAt:        r.StartedAt.UTC(),
		TimeLimitSeconds: r.TimeLimitSeconds,
		FinalScore:       r.FinalScore,
	}
	if r.SubmittedAt != nil {
		at := r.SubmittedAt.UTC()
		a.SubmittedAt = &at
	}
	if r.ScoringVersion != nil {
		a.ScoringVersion = *r.ScoringVersion
	}
	if len(answers) > 0 {
		a.Answers = make([]domain.Answer, 0, len(answers))
		for _, row := range answers {
			ans, err := row.toDomain()
			if err != nil {
				return domain.Attempt{}, err
			}
			a.Answers = append(a.Answers, ans)
		}
	}
	return a, nil
}

func answerFromDomain(attemptID string, ans domain.Answer) (answerRow, error) {
	row := answerRow{
		AttemptID:     attemptID,
		QuestionID:    ans.QuestionID,
		Kind:          kindBlank,
		PointsAwarded: ans.PointsAwarded,
		Correct:       ans.Correct,
		AnsweredAt:    ans.AnsweredAt.UTC(),
	}
	switch r := ans.Response.(type) {
	case domain.ChoiceResponse:
		data, err := json.Marshal(r.OptionIDs)
		if err != nil {
			return answerRow{}, err
		}
		encoded := string(data)
		row.Kind = kindChoice
		row.SelectedOptionIDs = &encoded
	case domain.TextResponse:
		text := r.Text
		row.Kind = kindText
		row.Text = &text
	}
	return row, nil
}

func (r answerRow) toDomain() (domain.Answer, error) {
	ans := domain.Answer{
		AttemptID:     r.AttemptID,
		QuestionID:    r.QuestionID,
		Response:      domain.BlankResponse{},
		PointsAwarded: r.PointsAwarded,
		Correct:       r.Correct,
		AnsweredAt:    r.AnsweredAt.UTC(),
	}
	switch r.Kind {
	case kindChoice:
		var ids []string
		if r.SelectedOptionIDs != nil {
			if err := json.Unmarshal([]byte(*r.SelectedOptionIDs), &ids); err != nil {
				return domain.Answer{}, fmt.Errorf("decode options of %s/%s: %w", r.AttemptID, r.QuestionID, err)
			}
		}
		ans.Response = domain.NewChoiceResponse(ids)
	case kindText:
		if r.Text != nil {
			ans.Response = domain.TextResponse{Text: *r.Text}
		}
	}
	return ans, nil
}
