package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
	"quiz-attempt-service/internal/metrics"
)

// QuestionCatalog is the read-only source of question definitions and quiz policy.
type QuestionCatalog interface {
	GetQuizQuestions(ctx context.Context, quizID string) ([]domain.Question, error)
	GetQuizPolicy(ctx context.Context, quizID string) (domain.QuizPolicy, error)
}

// AttemptStore persists attempts and answers. Every mutation is conditional
// on the attempt's current state; the service never does read-modify-write.
type AttemptStore interface {
	// CreateAttempt inserts the attempt as in_progress unless the student already
	// holds an in_progress attempt on the quiz, in which case that attempt is
	// returned with ErrAttemptAlreadyInProgress. When maxAttempts non-cancelled
	// attempts exist it fails with ErrAttemptLimitExceeded. The store assigns
	// the sequence number.
	CreateAttempt(ctx context.Context, a domain.Attempt, maxAttempts int) (domain.Attempt, error)
	// Transition moves the attempt from t.From to t.To and writes the payload,
	// or fails with ErrStatusConflict if the current status is not t.From.
	// It returns the attempt as stored afterwards, answers included.
	Transition(ctx context.Context, attemptID string, t domain.Transition) (domain.Attempt, error)
	// SaveAnswers upserts answers while the attempt is in_progress, otherwise
	// it fails with ErrAttemptNotInProgress.
	SaveAnswers(ctx context.Context, attemptID string, answers []domain.Answer) error
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	CountAttempts(ctx context.Context, studentID, quizID string, excluding ...domain.AttemptStatus) (int, error)
	ListByStatus(ctx context.Context, status domain.AttemptStatus, limit int) ([]domain.Attempt, error)
}

// ResultCache holds read models of terminal attempts. It is best effort:
// misses and write failures never affect correctness.
type ResultCache interface {
	Get(ctx context.Context, attemptID string) (domain.AttemptView, bool)
	Put(ctx context.Context, view domain.AttemptView)
}

// StartResult describes the attempt a StartAttempt call landed on.
type StartResult struct {
	Attempt      domain.Attempt `json:"attempt"`
	Resumed      bool           `json:"resumed"`
	AttemptsUsed int            `json:"attemptsUsed"`
}

// AttemptService is the attempt lifecycle manager.
type AttemptService struct {
	catalog QuestionCatalog
	store   AttemptStore
	cache   ResultCache
	log     *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option configures an AttemptService.
type Option func(*AttemptService)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *AttemptService) { s.log = log }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *AttemptService) { s.metrics = m }
}

func WithResultCache(c ResultCache) Option {
	return func(s *AttemptService) { s.cache = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *AttemptService) { s.tracer = t }
}

// WithIDGenerator replaces the UUID generator for attempt IDs.
func WithIDGenerator(gen func() string) Option {
	return func(s *AttemptService) { s.newID = gen }
}

func NewAttemptService(catalog QuestionCatalog, store AttemptStore, opts ...Option) *AttemptService {
	s := &AttemptService{
		catalog: catalog,
		store:   store,
		log:     zap.NewNop(),
		tracer:  otel.Tracer("quiz-attempt-service/app"),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// maxStartRounds bounds how often StartAttempt retries after expiring a stale attempt.
const maxStartRounds = 3

// StartAttempt creates a new in_progress attempt, or resumes the student's
// active one. An active attempt past its time limit is expired first.
func (s *AttemptService) StartAttempt(ctx context.Context, studentID, quizID string) (res StartResult, err error) {
	ctx, done := s.begin(ctx, "StartAttempt", attribute.String("student_id", studentID), attribute.String("quiz_id", quizID))
	defer func() { done(err) }()

	policy, err := s.catalog.GetQuizPolicy(ctx, quizID)
	if err != nil {
		return StartResult{}, err
	}
	now := s.now()
	if !policy.IsOpen(now) {
		return StartResult{}, domain.ErrQuizNotOpen
	}

	for round := 0; round < maxStartRounds; round++ {
		candidate := domain.Attempt{
			ID:               s.newID(),
			QuizID:           quizID,
			StudentID:        studentID,
			Status:           domain.StatusInProgress,
			StartedAt:        now,
			TimeLimitSeconds: policy.TimeLimitSeconds,
		}
		attempt, err := s.store.CreateAttempt(ctx, candidate, policy.AllowedAttempts)
		switch {
		case err == nil:
			s.metrics.Event("started")
			s.log.Info("attempt started", attemptFields(attempt)...)
			return s.startResult(ctx, attempt, false)
		case errors.Is(err, domain.ErrAttemptAlreadyInProgress):
			if !attempt.Overdue(now) {
				s.metrics.Event("resumed")
				return s.startResult(ctx, attempt, true)
			}
			if _, err := s.expire(ctx, attempt, nil); err != nil && !errors.Is(err, domain.ErrStatusConflict) {
				return StartResult{}, err
			}
			now = s.now()
		default:
			return StartResult{}, err
		}
	}
	return StartResult{}, fmt.Errorf("%w: could not start attempt after %d rounds", domain.ErrStatusConflict, maxStartRounds)
}

func (s *AttemptService) startResult(ctx context.Context, attempt domain.Attempt, resumed bool) (StartResult, error) {
	used, err := s.store.CountAttempts(ctx, attempt.StudentID, attempt.QuizID, domain.StatusCancelled)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Attempt: attempt, Resumed: resumed, AttemptsUsed: used}, nil
}

// SubmitAttempt captures the final answers and grades the attempt. Submitting
// twice is rejected with ErrAttemptNotInProgress. If the time limit has passed
// the submitted answers are discarded, the attempt is graded on what was
// captured before, and the result is returned together with ErrAttemptExpired.
func (s *AttemptService) SubmitAttempt(ctx context.Context, studentID, attemptID string, raw []domain.RawAnswer) (res domain.AttemptResult, err error) {
	ctx, done := s.begin(ctx, "SubmitAttempt", attribute.String("attempt_id", attemptID))
	defer func() { done(err) }()

	attempt, err := s.owned(ctx, studentID, attemptID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if attempt.Status != domain.StatusInProgress {
		return domain.AttemptResult{}, domain.ErrAttemptNotInProgress
	}
	questions, err := s.catalog.GetQuizQuestions(ctx, attempt.QuizID)
	if err != nil {
		return domain.AttemptResult{}, err
	}

	now := s.now()
	if attempt.Overdue(now) {
		result, err := s.expire(ctx, attempt, &now)
		if err != nil {
			return domain.AttemptResult{}, notInProgress(err)
		}
		return result, domain.ErrAttemptExpired
	}

	answers, err := CaptureAnswers(questions, attempt.ID, raw, now)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	submitted, err := s.transition(ctx, attempt, domain.Transition{
		From:        domain.StatusInProgress,
		To:          domain.StatusSubmitted,
		SubmittedAt: &now,
		Answers:     answers,
	})
	if err != nil {
		return domain.AttemptResult{}, notInProgress(err)
	}
	s.metrics.Event("submitted")
	return s.finalize(ctx, submitted, questions)
}

// SaveAnswers records in-progress answers, replacing earlier answers to the
// same questions. A save after the time limit expires the attempt instead.
func (s *AttemptService) SaveAnswers(ctx context.Context, studentID, attemptID string, raw []domain.RawAnswer) (views []domain.AnswerView, err error) {
	ctx, done := s.begin(ctx, "SaveAnswers", attribute.String("attempt_id", attemptID))
	defer func() { done(err) }()

	attempt, err := s.owned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != domain.StatusInProgress {
		return nil, domain.ErrAttemptNotInProgress
	}
	now := s.now()
	if attempt.Overdue(now) {
		if _, err := s.expire(ctx, attempt, nil); err != nil {
			return nil, notInProgress(err)
		}
		return nil, domain.ErrAttemptExpired
	}

	questions, err := s.catalog.GetQuizQuestions(ctx, attempt.QuizID)
	if err != nil {
		return nil, err
	}
	answers, err := CaptureAnswers(questions, attempt.ID, raw, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveAnswers(ctx, attempt.ID, answers); err != nil {
		return nil, err
	}

	views = make([]domain.AnswerView, 0, len(answers))
	for _, ans := range answers {
		views = append(views, ans.View())
	}
	s.log.Debug("answers saved", zap.String("attempt_id", attempt.ID), zap.Int("count", len(answers)))
	return views, nil
}

// CancelAttempt abandons an in_progress attempt. Cancelled attempts do not
// count toward the quiz's attempt limit.
func (s *AttemptService) CancelAttempt(ctx context.Context, studentID, attemptID string) (attempt domain.Attempt, err error) {
	ctx, done := s.begin(ctx, "CancelAttempt", attribute.String("attempt_id", attemptID))
	defer func() { done(err) }()

	current, err := s.owned(ctx, studentID, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	cancelled, err := s.transition(ctx, current, domain.Transition{
		From: domain.StatusInProgress,
		To:   domain.StatusCancelled,
	})
	if err != nil {
		return domain.Attempt{}, notInProgress(err)
	}
	s.metrics.Event("cancelled")
	return cancelled, nil
}

// GetAttempt returns the attempt with its answers, and per-question results
// once it has been graded or expired.
func (s *AttemptService) GetAttempt(ctx context.Context, studentID, attemptID string) (view domain.AttemptView, err error) {
	ctx, done := s.begin(ctx, "GetAttempt", attribute.String("attempt_id", attemptID))
	defer func() { done(err) }()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, attemptID); ok && (studentID == "" || cached.Attempt.StudentID == studentID) {
			return cached, nil
		}
	}

	attempt, err := s.owned(ctx, studentID, attemptID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	questions, err := s.catalog.GetQuizQuestions(ctx, attempt.QuizID)
	if err != nil {
		return domain.AttemptView{}, err
	}

	view = buildView(attempt, questions)
	if s.cache != nil && attempt.Status.Terminal() && attempt.FinalScore != nil {
		s.cache.Put(ctx, view)
	}
	return view, nil
}

// Rescore re-aggregates the stored answers of a finalized attempt without
// writing anything. The score always matches the stored final score.
func (s *AttemptService) Rescore(ctx context.Context, attemptID string) (domain.Scorecard, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Scorecard{}, err
	}
	if attempt.FinalScore == nil {
		return domain.Scorecard{}, fmt.Errorf("%w: attempt %s has no final score", domain.ErrStatusConflict, attemptID)
	}
	questions, err := s.catalog.GetQuizQuestions(ctx, attempt.QuizID)
	if err != nil {
		return domain.Scorecard{}, err
	}
	return grading.Aggregate(questions, attempt.Answers), nil
}

// FinalizeSubmitted grades an attempt stuck in submitted, e.g. after a crash
// between the submit gate and the grade write.
func (s *AttemptService) FinalizeSubmitted(ctx context.Context, attemptID string) (domain.AttemptResult, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if attempt.Status != domain.StatusSubmitted {
		return domain.AttemptResult{}, fmt.Errorf("%w: attempt %s is %s", domain.ErrStatusConflict, attemptID, attempt.Status)
	}
	questions, err := s.catalog.GetQuizQuestions(ctx, attempt.QuizID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	return s.finalize(ctx, attempt, questions)
}

// Reconcile finalizes up to limit attempts left in submitted and reports how
// many it graded. Attempts finalized concurrently by someone else are skipped.
func (s *AttemptService) Reconcile(ctx context.Context, limit int) (int, error) {
	stuck, err := s.store.ListByStatus(ctx, domain.StatusSubmitted, limit)
	if err != nil {
		return 0, err
	}
	graded := 0
	for _, attempt := range stuck {
		if _, err := s.FinalizeSubmitted(ctx, attempt.ID); err != nil {
			if errors.Is(err, domain.ErrStatusConflict) {
				continue
			}
			s.log.Error("reconcile attempt", zap.String("attempt_id", attempt.ID), zap.Error(err))
			continue
		}
		graded++
	}
	return graded, nil
}

// finalize grades a submitted attempt from its stored answers.
func (s *AttemptService) finalize(ctx context.Context, attempt domain.Attempt, questions []domain.Question) (domain.AttemptResult, error) {
	card := grading.Aggregate(questions, attempt.Answers)
	score := card.Score
	graded, err := s.transition(ctx, attempt, domain.Transition{
		From:           domain.StatusSubmitted,
		To:             domain.StatusGraded,
		FinalScore:     &score,
		ScoringVersion: card.ScoringVersion,
		Answers:        grading.Apply(attempt.ID, questions, attempt.Answers, card),
	})
	if err != nil {
		return domain.AttemptResult{}, err
	}
	s.metrics.Event("graded")
	s.metrics.Scored(card)
	return domain.AttemptResult{AttemptID: graded.ID, Status: graded.Status, Scorecard: card}, nil
}

// expire grades an overdue in_progress attempt from the answers captured so
// far and moves it to expired. Answers are re-read from the store so the grade
// covers everything captured, whatever copy of the attempt the caller holds.
func (s *AttemptService) expire(ctx context.Context, attempt domain.Attempt, submittedAt *time.Time) (domain.AttemptResult, error) {
	current, err := s.store.GetAttempt(ctx, attempt.ID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if current.Status != domain.StatusInProgress {
		return domain.AttemptResult{}, fmt.Errorf("%w: attempt %s is %s", domain.ErrStatusConflict, current.ID, current.Status)
	}
	questions, err := s.catalog.GetQuizQuestions(ctx, current.QuizID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	card := grading.Aggregate(questions, current.Answers)
	score := card.Score
	expired, err := s.transition(ctx, current, domain.Transition{
		From:           domain.StatusInProgress,
		To:             domain.StatusExpired,
		SubmittedAt:    submittedAt,
		FinalScore:     &score,
		ScoringVersion: card.ScoringVersion,
		Answers:        capturedOnly(grading.Apply(current.ID, questions, current.Answers, card), current.Answers),
	})
	if err != nil {
		return domain.AttemptResult{}, err
	}
	s.metrics.Event("expired")
	s.metrics.Scored(card)
	return domain.AttemptResult{AttemptID: expired.ID, Status: expired.Status, Scorecard: card}, nil
}

// capturedOnly keeps the graded copies of answers that were actually stored.
// The attempt is still open to autosave until the expiry write lands, so
// questions without a stored answer are left untouched.
func capturedOnly(graded, captured []domain.Answer) []domain.Answer {
	stored := make(map[string]struct{}, len(captured))
	for _, ans := range captured {
		stored[ans.QuestionID] = struct{}{}
	}
	out := make([]domain.Answer, 0, len(captured))
	for _, ans := range graded {
		if _, ok := stored[ans.QuestionID]; ok {
			out = append(out, ans)
		}
	}
	return out
}

// transition enforces the lifecycle table before asking the store for the
// conditional write.
func (s *AttemptService) transition(ctx context.Context, attempt domain.Attempt, t domain.Transition) (domain.Attempt, error) {
	if !domain.CanTransition(t.From, t.To) {
		return domain.Attempt{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, t.From, t.To)
	}
	next, err := s.store.Transition(ctx, attempt.ID, t)
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			s.log.Warn("attempt transition lost race",
				zap.String("attempt_id", attempt.ID),
				zap.String("from", string(t.From)),
				zap.String("to", string(t.To)))
		} else {
			s.log.Error("attempt transition failed", zap.String("attempt_id", attempt.ID), zap.Error(err))
		}
		return domain.Attempt{}, err
	}
	s.log.Info("attempt transitioned", attemptFields(next)...)
	return next, nil
}

// owned loads an attempt and hides attempts that belong to another student.
func (s *AttemptService) owned(ctx context.Context, studentID, attemptID string) (domain.Attempt, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if studentID != "" && attempt.StudentID != studentID {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *AttemptService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil && !errors.Is(err, domain.ErrAttemptExpired) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.Observe(op, start, err)
	}
}

// notInProgress reports a lost conditional write the way callers see it.
func notInProgress(err error) error {
	if errors.Is(err, domain.ErrStatusConflict) {
		return fmt.Errorf("%w: %v", domain.ErrAttemptNotInProgress, err)
	}
	return err
}

func attemptFields(a domain.Attempt) []zap.Field {
	fields := []zap.Field{
		zap.String("attempt_id", a.ID),
		zap.String("student_id", a.StudentID),
		zap.String("quiz_id", a.QuizID),
		zap.String("status", string(a.Status)),
		zap.Int("sequence", a.Sequence),
	}
	if a.FinalScore != nil {
		fields = append(fields, zap.Float64("final_score", *a.FinalScore))
	}
	return fields
}

func buildView(attempt domain.Attempt, questions []domain.Question) domain.AttemptView {
	view := domain.AttemptView{
		Attempt: attempt,
		Answers: make([]domain.AnswerView, 0, len(attempt.Answers)),
	}
	view.Attempt.Answers = nil
	for _, q := range questions {
		view.TotalPossible += q.Points
		ans, ok := attempt.AnswerFor(q.ID)
		if ok {
			view.Answers = append(view.Answers, ans.View())
		}
		if attempt.FinalScore == nil {
			continue
		}
		res := domain.QuestionResult{QuestionID: q.ID, PointsPossible: q.Points, Blank: true}
		if ok {
			res.Blank = domain.IsBlank(ans.Response)
			if ans.PointsAwarded != nil {
				res.PointsAwarded = *ans.PointsAwarded
			}
			if ans.Correct != nil {
				res.Correct = *ans.Correct
			}
		}
		view.Results = append(view.Results, res)
	}
	return view
}
