package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (e.g., document DB).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches quiz content in Redis (hash per quiz) and falls back to a loader on cache miss.
// Layout: HSET quiz:{quizID} title {title} policy {policy json} questions {questions json}
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.fromCache(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := r.fromCache(ctx, quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		for i := range quiz.Questions {
			quiz.Questions[i].QuizID = quiz.ID
		}
		if err := quiz.Validate(); err != nil {
			return domain.Quiz{}, fmt.Errorf("load quiz %s: %w", quizID, err)
		}
		r.store(ctx, quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizRepository) GetQuizQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	quiz, err := r.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return quiz.Questions, nil
}

func (r *QuizRepository) GetQuizPolicy(ctx context.Context, quizID string) (domain.QuizPolicy, error) {
	quiz, err := r.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.QuizPolicy{}, err
	}
	return quiz.Policy, nil
}

// Invalidate drops the cached quiz so edits to the source become visible.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID string) error {
	return r.client.Del(ctx, r.key(quizID)).Err()
}

func (r *QuizRepository) fromCache(ctx context.Context, quizID string) (domain.Quiz, bool) {
	fields, err := r.client.HGetAll(ctx, r.key(quizID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.Quiz{}, false
	}
	quiz := domain.Quiz{ID: quizID, Title: fields["title"]}
	if err := json.Unmarshal([]byte(fields["policy"]), &quiz.Policy); err != nil {
		return domain.Quiz{}, false
	}
	if err := json.Unmarshal([]byte(fields["questions"]), &quiz.Questions); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

// store is best effort; a failed write only costs another loader call.
func (r *QuizRepository) store(ctx context.Context, quiz domain.Quiz) {
	policy, err := json.Marshal(quiz.Policy)
	if err != nil {
		return
	}
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return
	}

	key := r.key(quiz.ID)
	ttl := r.ttlWithJitter()
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, "title", quiz.Title, "policy", policy, "questions", questions)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func (r *QuizRepository) key(quizID string) string {
	return "quiz:" + quizID
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
