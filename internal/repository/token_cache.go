package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/melodia-ai/melodia/internal/config"
	"github.com/melodia-ai/melodia/internal/pkg/logger"
	"github.com/melodia-ai/melodia/internal/service"
)

const (
	tokenCacheKey = "spotify:access_token"

	fieldAccessToken = "access_token"
	fieldExpiresAt   = "expires_at"
	fieldScope       = "scope"
	fieldCachedAt    = "cached_at"
)

type tokenCache struct {
	rdb       *redis.Client
	ttlBuffer time.Duration
	clock     service.Clock
}

// NewTokenCache stores the service-account access token as a redis hash.
// The key TTL is set strictly shorter than the token lifetime so redis
// never serves a token that Spotify has already expired.
func NewTokenCache(rdb *redis.Client, cfg *config.Config) service.TokenCache {
	return &tokenCache{
		rdb:       rdb,
		ttlBuffer: cfg.Token.RedisTTLBuffer(),
		clock:     time.Now,
	}
}

func (c *tokenCache) Read(ctx context.Context) (*service.CachedCredential, error) {
	fields, err := c.rdb.HGetAll(ctx, tokenCacheKey).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	expiresAt, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		// A record we cannot interpret is treated as a miss; the next
		// write replaces it wholesale.
		logger.L().Warn("discarding malformed token record",
			zap.String("expires_at", fields[fieldExpiresAt]),
			zap.Error(err))
		return nil, nil
	}
	cred := &service.CachedCredential{
		AccessToken: fields[fieldAccessToken],
		ExpiresAt:   time.Unix(expiresAt, 0),
		Scope:       fields[fieldScope],
	}
	if cachedAt, err := strconv.ParseInt(fields[fieldCachedAt], 10, 64); err == nil {
		cred.CachedAt = time.Unix(cachedAt, 0)
	}
	return cred, nil
}

func (c *tokenCache) Write(ctx context.Context, cred *service.CachedCredential) error {
	ttl := cred.ExpiresAt.Sub(c.clock()) - c.ttlBuffer
	if ttl <= 0 {
		// Token expires inside the safety buffer; caching it would only
		// hand out a token about to die. Callers still get the in-flight
		// copy they refreshed.
		logger.L().Debug("skipping cache write for near-expiry token",
			zap.Time("expires_at", cred.ExpiresAt))
		return nil
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, tokenCacheKey, map[string]interface{}{
		fieldAccessToken: cred.AccessToken,
		fieldExpiresAt:   strconv.FormatInt(cred.ExpiresAt.Unix(), 10),
		fieldScope:       cred.Scope,
		fieldCachedAt:    strconv.FormatInt(cred.CachedAt.Unix(), 10),
	})
	pipe.Expire(ctx, tokenCacheKey, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *tokenCache) Clear(ctx context.Context) error {
	return c.rdb.Del(ctx, tokenCacheKey).Err()
}
