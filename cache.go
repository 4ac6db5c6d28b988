package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/inventory/models"
)

// ResultCache caches composed reservation results keyed by tenant and
// reservation ID. It is advisory only: a miss falls through to the store and
// correctness never depends on a hit.
type ResultCache interface {
	Get(ctx context.Context, tenantID, reservationID string) (*models.ReservationResult, error)
	Put(ctx context.Context, tenantID, reservationID string, result *models.ReservationResult) error
}

type redisResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewResultCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) ResultCache {
	return &redisResultCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *redisResultCache) key(tenantID, reservationID string) string {
	return fmt.Sprintf("reservation_result:%s:%s", tenantID, reservationID)
}

func (c *redisResultCache) Get(ctx context.Context, tenantID, reservationID string) (*models.ReservationResult, error) {
	data, err := c.client.Get(ctx, c.key(tenantID, reservationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result models.ReservationResult
	if err = json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Warn("failed to unmarshal cached reservation result", zap.Error(err))
		return nil, nil
	}
	return &result, nil
}

func (c *redisResultCache) Put(ctx context.Context, tenantID, reservationID string, result *models.ReservationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(tenantID, reservationID), data, c.ttl).Err()
}
