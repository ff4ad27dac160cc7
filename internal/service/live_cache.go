package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// liveLocationTTL bounds how long a stale position survives in the cache
const liveLocationTTL = 24 * time.Hour

// LiveCache mirrors each device's last persisted position into Redis for
// real-time fleet queries: a per-device hash plus a shared geo index for
// proximity lookups. A nil cache is a no-op so ingestion works without
// Redis.
type LiveCache struct {
	rdb *redis.Client
	log *logger.Logger
}

// NewLiveCache creates a live position cache
func NewLiveCache(rdb *redis.Client, log *logger.Logger) *LiveCache {
	return &LiveCache{rdb: rdb, log: log}
}

// Update stores the fix as the device's current position
func (c *LiveCache) Update(ctx context.Context, fix *domain.GpsFix) error {
	if c == nil || c.rdb == nil {
		return nil
	}

	key := fmt.Sprintf("location:current:%s", fix.DeviceID)

	data := map[string]interface{}{
		"latitude":  fix.Latitude,
		"longitude": fix.Longitude,
		"altitude":  fix.Altitude,
		"accuracy":  fix.Accuracy,
		"timestamp": fix.Timestamp.Unix(),
		"trip_id":   "",
	}
	if fix.TripID != nil {
		data["trip_id"] = *fix.TripID
	}

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, liveLocationTTL)
	pipe.GeoAdd(ctx, "location:geo", &redis.GeoLocation{
		Name:      fix.DeviceID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
	})
	_, err := pipe.Exec(ctx)
	return err
}
