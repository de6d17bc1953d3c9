package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/melodia-ai/melodia/internal/config"
	"github.com/melodia-ai/melodia/internal/pkg/logger"
	"github.com/melodia-ai/melodia/internal/service"
)

// NewRedisClient builds the shared-store client. An unreachable store is
// not fatal: the credential manager degrades to direct refreshes and the
// client reconnects on its own once the store comes back.
func NewRedisClient(cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  time.Duration(cfg.Redis.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.Redis.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Redis.WriteTimeoutSeconds) * time.Second,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.L().Warn("redis unreachable at startup, token management degrades to direct refresh",
			zap.String("addr", cfg.Redis.Addr()),
			zap.Error(err))
	} else {
		logger.L().Info("connected to redis for token management", zap.String("addr", cfg.Redis.Addr()))
	}
	return rdb
}

type storeHealth struct {
	rdb *redis.Client
}

func NewStoreHealth(rdb *redis.Client) service.StoreHealth {
	return &storeHealth{rdb: rdb}
}

func (s *storeHealth) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
