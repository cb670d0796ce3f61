// Package analytics keeps per-device command counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// Config controls counter bucketing and key expiry.
type Config struct {
	Window    time.Duration
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{Window: time.Hour, Retention: 7 * 24 * time.Hour}
}

type RedisSink struct {
	client redis.UniversalClient
	config Config
	logger *zap.Logger
}

func NewRedisSink(client redis.UniversalClient, config Config, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	return &RedisSink{client: client, config: config, logger: logger.Named("analytics")}
}

// Write increments the counter for the command's time bucket.
func (s *RedisSink) Write(ctx context.Context, deviceID string, cmd domain.Command, at time.Time) error {
	key := buildKey(deviceID, cmd, at, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// RecordCommand is Write with errors logged instead of returned.
func (s *RedisSink) RecordCommand(ctx context.Context, deviceID string, cmd domain.Command, at time.Time) {
	if err := s.Write(ctx, deviceID, cmd, at); err != nil {
		s.logger.Warn("record command", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// Count returns the counter for the bucket containing at.
func (s *RedisSink) Count(ctx context.Context, deviceID string, cmd domain.Command, at time.Time) (int64, error) {
	n, err := s.client.Get(ctx, buildKey(deviceID, cmd, at, s.config.Window)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func buildKey(deviceID string, cmd domain.Command, t time.Time, window time.Duration) string {
	return fmt.Sprintf("d:%s:cmd:%s:%s", deviceID, cmd, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("200601021504")
	}
}
