// Package cache кэш доступности номеров поверх Redis. Только для read path:
// допускает устаревшие ответы, путь записи всегда ходит в БД под блокировкой.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *AvailabilityCache {
	return &AvailabilityCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// generation версия календаря номера: инкрементируется на каждой мутации,
// зашивается в ключ доступности — старые записи становятся недостижимыми
// и доезжают по TTL
func (c *AvailabilityCache) generation(ctx context.Context, roomID int64) (int64, error) {
	gen, err := c.client.Get(ctx, fmt.Sprintf("avail:gen:%d", roomID)).Int64()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return gen, nil
}

func (c *AvailabilityCache) key(roomID, gen int64, checkIn, checkOut time.Time) string {
	return fmt.Sprintf("avail:%d:%d:%s:%s", roomID, gen,
		checkIn.Format("2006-01-02"), checkOut.Format("2006-01-02"))
}

// Get возвращает закэшированный ответ о доступности. ok=false — промах
// или недоступный Redis, вызывающий идёт в репозиторий.
func (c *AvailabilityCache) Get(ctx context.Context, roomID int64, checkIn, checkOut time.Time) (available, ok bool) {
	gen, err := c.generation(ctx, roomID)
	if err != nil {
		c.logger.Warn("Availability cache unavailable", zap.Error(err))
		return false, false
	}

	val, err := c.client.Get(ctx, c.key(roomID, gen, checkIn, checkOut)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Availability cache read failed", zap.Error(err))
		}
		return false, false
	}

	return val == "1", true
}

// Set сохраняет ответ о доступности с ограниченным TTL
func (c *AvailabilityCache) Set(ctx context.Context, roomID int64, checkIn, checkOut time.Time, available bool) {
	gen, err := c.generation(ctx, roomID)
	if err != nil {
		return
	}

	val := "0"
	if available {
		val = "1"
	}

	if err := c.client.Set(ctx, c.key(roomID, gen, checkIn, checkOut), val, c.ttl).Err(); err != nil {
		c.logger.Warn("Availability cache write failed", zap.Error(err))
	}
}

// Invalidate сбрасывает кэш номера после любой мутации его календаря
func (c *AvailabilityCache) Invalidate(ctx context.Context, roomID int64) {
	if err := c.client.Incr(ctx, fmt.Sprintf("avail:gen:%d", roomID)).Err(); err != nil {
		c.logger.Warn("Availability cache invalidation failed",
			zap.Int64("room_id", roomID),
			zap.Error(err),
		)
	}
}
