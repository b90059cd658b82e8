package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/domain"
)

// ResultCache keeps read models of finalized attempts under
// attempt:result:{attemptID}. Terminal attempts never change, so entries are
// only bounded by TTL.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewResultCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *ResultCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResultCache{client: client, ttl: ttl, log: log}
}

func (c *ResultCache) Get(ctx context.Context, attemptID string) (domain.AttemptView, bool) {
	data, err := c.client.Get(ctx, c.key(attemptID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("result cache read failed", zap.String("attempt_id", attemptID), zap.Error(err))
		}
		return domain.AttemptView{}, false
	}
	var view domain.AttemptView
	if err := json.Unmarshal(data, &view); err != nil {
		c.log.Warn("result cache entry corrupt", zap.String("attempt_id", attemptID), zap.Error(err))
		return domain.AttemptView{}, false
	}
	return view, true
}

func (c *ResultCache) Put(ctx context.Context, view domain.AttemptView) {
	if !view.Attempt.Status.Terminal() {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(view.Attempt.ID), data, c.ttl).Err(); err != nil {
		c.log.Warn("result cache write failed", zap.String("attempt_id", view.Attempt.ID), zap.Error(err))
	}
}

func (c *ResultCache) key(attemptID string) string {
	return "attempt:result:" + attemptID
}
