package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	pgloader "quiz-attempt-service/internal/infra/postgres"
	infraredis "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/infra/sqlstore"
	"quiz-attempt-service/internal/metrics"
)

// runtime holds the wired service and the resources it owns.
type runtime struct {
	service *app.AttemptService
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func buildRuntime(ctx context.Context, cfg config.Config, log *zap.Logger, reg prometheus.Registerer) (*runtime, error) {
	rt := &runtime{}
	fail := func(err error) (*runtime, error) {
		rt.Close()
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, pool.Close)
	}

	var loader memory.QuizLoader
	switch {
	case pool != nil:
		loader = pgloader.NewQuizLoader(pool)
	case cfg.Quiz.SeedFile != "":
		quizzes, err := memory.LoadSeedFile(cfg.Quiz.SeedFile)
		if err != nil {
			return fail(err)
		}
		loader = memory.NewStaticQuizLoader(quizzes)
	default:
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var catalog app.QuestionCatalog
	if redisClient != nil {
		catalog = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		catalog = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.AttemptStore
	switch cfg.Storage.Driver {
	case "memory":
		store = memory.NewAttemptStore()
	case "sqlite", "postgres":
		db, err := sqlstore.Open(ctx, sqlstore.Driver(cfg.Storage.Driver), cfg.Storage.DSN)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		store = sqlstore.NewAttemptStore(db)
	default:
		return fail(fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver))
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithMetrics(metrics.New(reg)),
	}
	if redisClient != nil {
		opts = append(opts, app.WithResultCache(infraredis.NewResultCache(redisClient, redisTTL, log)))
	}
	rt.service = app.NewAttemptService(catalog, store, opts...)
	log.Info("attempt service wired",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis", redisClient != nil),
		zap.Bool("postgres_catalog", pool != nil))
	return rt, nil
}

// sampleQuizzes provides a minimal quiz for local runs without a catalog source.
func sampleQuizzes() map[string]domain.Quiz {
	limit := 600
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Policy: domain.QuizPolicy{
				AllowedAttempts:  3,
				TimeLimitSeconds: &limit,
				Published:        true,
			},
			Questions: []domain.Question{
				{
					ID:   "q1",
					Text: "What is 2 + 2?",
					Type: domain.MultipleChoice,
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
				{
					ID:   "q2",
					Text: "The sun rises in the east.",
					Type: domain.TrueFalse,
					Options: []domain.Option{
						{ID: "t", Text: "True", Correct: true},
						{ID: "f", Text: "False"},
					},
					Points: 1,
				},
				{
					ID:            "q3",
					Text:          "Capital of France?",
					Type:          domain.ShortAnswer,
					CorrectAnswer: "Paris",
					Points:        2,
				},
			},
		},
	}
}
