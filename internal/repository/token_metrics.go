package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/melodia-ai/melodia/internal/pkg/logger"
	"github.com/melodia-ai/melodia/internal/service"
)

const (
	tokenMetricsKey       = "spotify:metrics"
	tokenMetricsRetention = 24 * time.Hour
)

type tokenMetrics struct {
	rdb   *redis.Client
	clock service.Clock
}

// NewTokenMetrics keeps token-flow counters in a redis hash next to the
// cached token. Recording is best effort: a metrics failure never blocks
// a token operation.
func NewTokenMetrics(rdb *redis.Client) service.MetricsStore {
	return &tokenMetrics{rdb: rdb, clock: time.Now}
}

func (m *tokenMetrics) Incr(ctx context.Context, name string) {
	pipe := m.rdb.TxPipeline()
	pipe.HIncrBy(ctx, tokenMetricsKey, name, 1)
	pipe.HSet(ctx, tokenMetricsKey, name+"_last", m.clock().Unix())
	pipe.Expire(ctx, tokenMetricsKey, tokenMetricsRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.L().Debug("token metric not recorded", zap.String("metric", name), zap.Error(err))
	}
}

func (m *tokenMetrics) Snapshot(ctx context.Context) (map[string]string, error) {
	return m.rdb.HGetAll(ctx, tokenMetricsKey).Result()
}
