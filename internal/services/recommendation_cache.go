package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/pkg/models"
)

// RecommendationCache stores served results in Redis. Each user has a
// generation counter folded into the key; bumping it invalidates every
// cached result for that user at once. A nil client disables caching.
type RecommendationCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRecommendationCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RecommendationCache {
	return &RecommendationCache{redis: client, ttl: ttl, logger: logger}
}

func (c *RecommendationCache) Enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

func (c *RecommendationCache) Get(ctx context.Context, req *models.RecommendationRequest, variant string) (*models.RecommendationResult, bool) {
	if !c.Enabled() {
		return nil, false
	}
	key, err := c.key(ctx, req, variant)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to build recommendation cache key")
		return nil, false
	}

	cached, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Warn("Recommendation cache read failed")
		}
		recommendationCacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}

	var result models.RecommendationResult
	if err := json.Unmarshal([]byte(cached), &result); err != nil {
		recommendationCacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}
	recommendationCacheHits.WithLabelValues("hit").Inc()
	result.CacheHit = true
	return &result, true
}

func (c *RecommendationCache) Set(ctx context.Context, req *models.RecommendationRequest, variant string, result *models.RecommendationResult) {
	if !c.Enabled() {
		return
	}
	key, err := c.key(ctx, req, variant)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to build recommendation cache key")
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to cache recommendations")
	}
}

// InvalidateUser drops all cached results of a user.
func (c *RecommendationCache) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	if !c.Enabled() {
		return
	}
	if err := c.redis.Incr(ctx, generationKey(userID)).Err(); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate recommendation cache")
	}
}

func (c *RecommendationCache) key(ctx context.Context, req *models.RecommendationRequest, variant string) (string, error) {
	generation, err := c.redis.Get(ctx, generationKey(req.UserID)).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}

	exclude := make([]string, len(req.ExcludeIDs))
	for i, id := range req.ExcludeIDs {
		exclude[i] = id.String()
	}
	sort.Strings(exclude)

	fingerprint, err := json.Marshal(struct {
		Limit      int            `json:"l"`
		Context    string         `json:"c"`
		Filters    models.Filters `json:"f"`
		Exclude    []string       `json:"x"`
		Experiment string         `json:"e"`
		Variant    string         `json:"v"`
	}{req.Limit, req.Context, req.Filters, exclude, req.ExperimentID, variant})
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write(fingerprint)
	return fmt.Sprintf("recommendations:%s:%d:%x", req.UserID, generation, h.Sum64()), nil
}

func generationKey(userID uuid.UUID) string {
	return fmt.Sprintf("recommendations:generation:%s", userID)
}
