package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"

	"safety-service/models"
)

// ScoreCache fronts the safety-score read interface with Redis so the
// dashboard polling load stays off MySQL. A nil cache is a no-op.
type ScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Open returns nil (cache disabled) when no address is configured.
func Open(host, port, password string, ttl time.Duration) *ScoreCache {
	if host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Password: password,
	})
	return &ScoreCache{client: client, ttl: ttl}
}

func scoreKey(touristId string) string {
	return "safety:score:" + touristId
}

func (c *ScoreCache) Get(ctx context.Context, touristId string) (*models.SafetyScore, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, scoreKey(touristId)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("Score cache read for %s failed: %v", touristId, err)
		}
		return nil, false
	}
	score := &models.SafetyScore{}
	if err := json.Unmarshal(data, score); err != nil {
		log.Warnf("Score cache entry for %s unparsable: %v", touristId, err)
		return nil, false
	}
	return score, true
}

func (c *ScoreCache) Set(ctx context.Context, score *models.SafetyScore) {
	if c == nil {
		return
	}
	data, err := json.Marshal(score)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, scoreKey(score.TouristId), data, c.ttl).Err(); err != nil {
		log.Warnf("Score cache write for %s failed: %v", score.TouristId, err)
	}
}

// Invalidate drops the cached score after a pipeline update so readers
// never see a value older than the TTL allows.
func (c *ScoreCache) Invalidate(ctx context.Context, touristId string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, scoreKey(touristId)).Err(); err != nil {
		log.Warnf("Score cache invalidation for %s failed: %v", touristId, err)
	}
}

// Close releases the underlying client.
func (c *ScoreCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
