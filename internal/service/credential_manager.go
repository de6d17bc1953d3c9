package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/melodia-ai/melodia/internal/config"
	infraerrors "github.com/melodia-ai/melodia/internal/pkg/errors"
	"github.com/melodia-ai/melodia/internal/pkg/logger"
)

const (
	// How long a successful/failed store ping is trusted before re-checking.
	storePingInterval = 30 * time.Second
	// Pause between lock re-acquisition attempts while another holder is
	// refreshing.
	lockPollInterval = time.Second
)

// CredentialManager keeps the shared service-account access token fresh and
// safely shared across concurrent callers and process instances. Within a
// process a singleflight group collapses simultaneous refreshes; across
// processes the Redis-backed RefreshLock deduplicates them. Neither is load
// bearing for correctness: every path re-validates the cache, and when the
// store is unreachable the manager degrades to direct refreshes.
type CredentialManager struct {
	cache     TokenCache
	lock      RefreshLock
	refresher TokenRefresher
	metrics   MetricsStore
	store     StoreHealth

	storeEnabled bool
	threshold    time.Duration
	lockTimeout  time.Duration

	clock  Clock
	sleep  func(ctx context.Context, d time.Duration) error
	flight singleflight.Group

	healthMu   sync.Mutex
	lastPingAt time.Time
	lastPingOK bool
}

func NewCredentialManager(
	cfg *config.Config,
	cache TokenCache,
	lock RefreshLock,
	refresher TokenRefresher,
	metrics MetricsStore,
	store StoreHealth,
) *CredentialManager {
	return &CredentialManager{
		cache:        cache,
		lock:         lock,
		refresher:    refresher,
		metrics:      metrics,
		store:        store,
		storeEnabled: cfg.Redis.Enabled,
		threshold:    cfg.Token.RefreshThreshold(),
		lockTimeout:  cfg.Token.LockTimeout(),
		clock:        time.Now,
		sleep:        sleepContext,
	}
}

// GetValidToken returns an access token with more than the refresh
// threshold of life remaining, refreshing through the distributed lock when
// the cache is stale. This is the main entry point for token access.
func (m *CredentialManager) GetValidToken(ctx context.Context) (string, error) {
	log := logger.FromContext(ctx)

	if !m.storeAvailable(ctx) {
		m.metrics.Incr(ctx, MetricDirectRefresh)
		log.Warn("token store unavailable, performing direct refresh")
		return m.directRefresh(ctx)
	}

	if cred := m.readUsable(ctx); cred != nil {
		m.metrics.Incr(ctx, MetricCacheHit)
		return cred.AccessToken, nil
	}
	m.metrics.Incr(ctx, MetricCacheMiss)

	token, err, _ := m.flight.Do("token_refresh", func() (any, error) {
		return m.refreshWithLock(ctx)
	})
	if err == nil {
		return token.(string), nil
	}
	if infraerrors.Reason(err) == ReasonConfigInvalid {
		// Retrying cannot fix the app's registration; surface immediately.
		return "", err
	}

	// Last resort before failing the caller: one unlocked, uncached refresh.
	log.Warn("locked refresh failed, falling back to direct refresh", zap.Error(err))
	m.metrics.Incr(ctx, MetricDirectRefresh)
	tokenValue, directErr := m.directRefresh(ctx)
	if directErr != nil {
		return "", ErrAuthUnavailable.WithCause(directErr)
	}
	return tokenValue, nil
}

// ForceRefresh discards any cached record and mints a new token, for
// callers that hit a 401/403 with a token the cache believed was valid.
func (m *CredentialManager) ForceRefresh(ctx context.Context) (string, error) {
	log := logger.FromContext(ctx)
	log.Info("force refreshing access token")
	m.metrics.Incr(ctx, MetricForceRefresh)

	if !m.storeAvailable(ctx) {
		return m.directRefresh(ctx)
	}

	if err := m.cache.Clear(ctx); err != nil {
		log.Warn("failed to clear cached token", zap.Error(err))
	}

	// Unlike the stale path there is no double-check here: the cache was
	// just cleared, and the caller needs a token provably newer than the
	// one that failed.
	var token string
	var err error
	if m.acquireWithWait(ctx) {
		token, err = m.refreshHoldingLock(ctx)
	} else {
		token, err = m.refreshAndCache(ctx)
	}
	if err == nil {
		return token, nil
	}
	if infraerrors.Reason(err) == ReasonConfigInvalid {
		return "", err
	}
	log.Warn("force refresh failed, falling back to direct refresh", zap.Error(err))
	tokenValue, directErr := m.directRefresh(ctx)
	if directErr != nil {
		return "", ErrAuthUnavailable.WithCause(directErr)
	}
	return tokenValue, nil
}

// WarmRefresh refreshes proactively when the cached token will cross the
// refresh threshold within horizon, so scheduled runs absorb the refresh
// latency instead of interactive requests. It never waits on the lock: when
// another process is already refreshing, this run has nothing to do.
func (m *CredentialManager) WarmRefresh(ctx context.Context, horizon time.Duration) error {
	if horizon < m.threshold {
		horizon = m.threshold
	}
	if !m.storeAvailable(ctx) {
		// Without a shared cache there is nothing to warm.
		return nil
	}
	if cred, err := m.cache.Read(ctx); err == nil && cred.Usable(m.clock(), horizon) {
		return nil
	}
	_, err, _ := m.flight.Do("token_warm", func() (any, error) {
		acquired, err := m.lock.TryAcquire(ctx)
		if err != nil || !acquired {
			// Held or erroring; leave the refresh to the holder or to the
			// next interactive request.
			return "", err
		}
		m.metrics.Incr(ctx, MetricLockAcquired)
		return m.refreshHoldingLock(ctx)
	})
	return err
}

// refreshWithLock runs the stale-path protocol: take the distributed lock,
// double-check the cache, refresh if still stale. When another holder has
// the lock, poll the cache until their refresh lands or the lock window
// elapses, then refresh without coordination rather than hang.
func (m *CredentialManager) refreshWithLock(ctx context.Context) (string, error) {
	acquired, err := m.lock.TryAcquire(ctx)
	if err != nil {
		// An erroring lock means the store itself is failing; waiting on it
		// cannot help, so skip coordination entirely.
		m.metrics.Incr(ctx, MetricLockFailed)
		logger.FromContext(ctx).Warn("refresh lock acquire failed, refreshing without lock", zap.Error(err))
		return m.refreshAndCache(ctx)
	}
	if acquired {
		m.metrics.Incr(ctx, MetricLockAcquired)
		// Double-check before refreshing: another process may have
		// refreshed between our cache miss and the lock grant.
		if cred := m.readUsable(ctx); cred != nil {
			logger.FromContext(ctx).Debug("token was refreshed by another process")
			if err := m.lock.Release(ctx); err != nil {
				logger.FromContext(ctx).Debug("refresh lock release failed", zap.Error(err))
			}
			return cred.AccessToken, nil
		}
		return m.refreshHoldingLock(ctx)
	}
	m.metrics.Incr(ctx, MetricLockFailed)

	deadline := m.clock().Add(m.lockTimeout)
	for m.clock().Before(deadline) {
		if err := m.sleep(ctx, lockPollInterval); err != nil {
			return "", err
		}
		// Another process may have finished refreshing while we waited.
		if cred := m.readUsable(ctx); cred != nil {
			return cred.AccessToken, nil
		}
		acquired, err = m.lock.TryAcquire(ctx)
		if err != nil {
			m.metrics.Incr(ctx, MetricLockFailed)
			logger.FromContext(ctx).Warn("refresh lock acquire failed, refreshing without lock", zap.Error(err))
			return m.refreshAndCache(ctx)
		}
		if acquired {
			m.metrics.Incr(ctx, MetricLockAcquired)
			if cred := m.readUsable(ctx); cred != nil {
				if err := m.lock.Release(ctx); err != nil {
					logger.FromContext(ctx).Debug("refresh lock release failed", zap.Error(err))
				}
				return cred.AccessToken, nil
			}
			return m.refreshHoldingLock(ctx)
		}
	}

	// Liveness over strict deduplication: the lock window elapsed without a
	// usable record appearing.
	m.metrics.Incr(ctx, MetricLockTimeout)
	logger.FromContext(ctx).Warn("could not acquire refresh lock within timeout, refreshing without lock")
	return m.refreshAndCache(ctx)
}

// refreshHoldingLock refreshes and caches while owning the lock, releasing
// it on every exit path.
func (m *CredentialManager) refreshHoldingLock(ctx context.Context) (string, error) {
	defer func() {
		if err := m.lock.Release(ctx); err != nil {
			// The lock self-expires; a failed release only widens the
			// exclusion window, it cannot wedge other processes.
			logger.FromContext(ctx).Debug("refresh lock release failed", zap.Error(err))
		}
	}()
	return m.refreshAndCache(ctx)
}

// acquireWithWait tries for the lock until the lock-timeout window elapses,
// returning false when the window closes without a grant. A lock operation
// error fails fast: the store is misbehaving and polling it cannot help.
func (m *CredentialManager) acquireWithWait(ctx context.Context) bool {
	acquired, err := m.lock.TryAcquire(ctx)
	if err != nil {
		m.metrics.Incr(ctx, MetricLockFailed)
		logger.FromContext(ctx).Warn("refresh lock acquire failed, proceeding without lock", zap.Error(err))
		return false
	}
	if acquired {
		m.metrics.Incr(ctx, MetricLockAcquired)
		return true
	}

	deadline := m.clock().Add(m.lockTimeout)
	for m.clock().Before(deadline) {
		if err := m.sleep(ctx, lockPollInterval); err != nil {
			return false
		}
		acquired, err = m.lock.TryAcquire(ctx)
		if err != nil {
			m.metrics.Incr(ctx, MetricLockFailed)
			logger.FromContext(ctx).Warn("refresh lock acquire failed, proceeding without lock", zap.Error(err))
			return false
		}
		if acquired {
			m.metrics.Incr(ctx, MetricLockAcquired)
			return true
		}
	}
	m.metrics.Incr(ctx, MetricLockFailed)
	logger.FromContext(ctx).Warn("could not acquire refresh lock, proceeding without lock")
	return false
}

func (m *CredentialManager) refreshAndCache(ctx context.Context) (string, error) {
	grant, err := m.refresher.Refresh(ctx)
	if err != nil {
		m.metrics.Incr(ctx, MetricRefreshFailure)
		return "", err
	}
	m.metrics.Incr(ctx, MetricRefreshSuccess)

	cred := &CachedCredential{
		AccessToken: grant.AccessToken,
		ExpiresAt:   grant.ExpiresAt,
		Scope:       grant.Scope,
		CachedAt:    m.clock(),
	}
	if err := m.cache.Write(ctx, cred); err != nil {
		logger.FromContext(ctx).Warn("failed to cache refreshed token", zap.Error(err))
	}
	logger.FromContext(ctx).Info("refreshed and cached access token",
		zap.Time("expires_at", grant.ExpiresAt))
	return grant.AccessToken, nil
}

// directRefresh talks to Spotify without touching the store at all.
func (m *CredentialManager) directRefresh(ctx context.Context) (string, error) {
	grant, err := m.refresher.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return grant.AccessToken, nil
}

// readUsable returns the cached credential only when it clears the refresh
// threshold. Store errors count as a miss.
func (m *CredentialManager) readUsable(ctx context.Context) *CachedCredential {
	cred, err := m.cache.Read(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("token cache read failed, treating as miss", zap.Error(err))
		return nil
	}
	if cred.Usable(m.clock(), m.threshold) {
		return cred
	}
	return nil
}

// storeAvailable reports shared-store reachability, trusting the last ping
// for a short interval so the hot path does not ping on every call.
func (m *CredentialManager) storeAvailable(ctx context.Context) bool {
	if !m.storeEnabled {
		return false
	}

	m.healthMu.Lock()
	defer m.healthMu.Unlock()

	now := m.clock()
	if now.Sub(m.lastPingAt) < storePingInterval {
		return m.lastPingOK
	}

	err := m.store.Ping(ctx)
	m.lastPingAt = now
	m.lastPingOK = err == nil
	if err != nil {
		logger.FromContext(ctx).Warn("token store ping failed, degrading to direct refresh", zap.Error(err))
	}
	return m.lastPingOK
}

// TokenInfo describes the cached credential for health reporting.
type TokenInfo struct {
	Cached          bool      `json:"cached"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	TimeUntilExpiry int64     `json:"time_until_expiry_seconds,omitempty"`
	NeedsRefresh    bool      `json:"needs_refresh,omitempty"`
}

// HealthStatus is the consumed-by surface for the health endpoint.
type HealthStatus struct {
	Status        string         `json:"status"`
	RedisStatus   string         `json:"redis_status"`
	TokenInfo     TokenInfo      `json:"token_info"`
	Configuration map[string]any `json:"configuration"`
}

func (m *CredentialManager) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:      "healthy",
		RedisStatus: "disabled",
		Configuration: map[string]any{
			"refresh_threshold_seconds": int(m.threshold.Seconds()),
			"lock_timeout_seconds":      int(m.lockTimeout.Seconds()),
		},
	}

	if m.storeEnabled {
		if m.storeAvailable(ctx) {
			status.RedisStatus = "connected"
		} else {
			status.RedisStatus = "unavailable"
		}
	}

	if status.RedisStatus == "connected" {
		cred, err := m.cache.Read(ctx)
		if err == nil && cred != nil {
			now := m.clock()
			remaining := cred.ExpiresAt.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			status.TokenInfo = TokenInfo{
				Cached:          true,
				ExpiresAt:       cred.ExpiresAt,
				TimeUntilExpiry: int64(remaining.Seconds()),
				NeedsRefresh:    !cred.Usable(now, m.threshold),
			}
		}
	}
	return status
}

// MetricsSnapshot aggregates the store counters for monitoring.
type MetricsSnapshot struct {
	CacheHits        int64  `json:"cache_hits"`
	CacheMisses      int64  `json:"cache_misses"`
	RefreshSuccesses int64  `json:"refresh_successes"`
	RefreshFailures  int64  `json:"refresh_failures"`
	LockAcquisitions int64  `json:"lock_acquisitions"`
	LockFailures     int64  `json:"lock_failures"`
	LockTimeouts     int64  `json:"lock_timeouts"`
	ForceRefreshes   int64  `json:"force_refreshes"`
	DirectRefreshes  int64  `json:"direct_refreshes"`
	LastRefresh      string `json:"last_refresh,omitempty"`
	RedisConnected   bool   `json:"redis_connected"`
}

func (m *CredentialManager) GetMetrics(ctx context.Context) (*MetricsSnapshot, error) {
	if !m.storeAvailable(ctx) {
		return &MetricsSnapshot{RedisConnected: false}, nil
	}
	raw, err := m.metrics.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	counter := func(name string) int64 {
		n, _ := strconv.ParseInt(raw[name], 10, 64)
		return n
	}
	return &MetricsSnapshot{
		CacheHits:        counter(MetricCacheHit),
		CacheMisses:      counter(MetricCacheMiss),
		RefreshSuccesses: counter(MetricRefreshSuccess),
		RefreshFailures:  counter(MetricRefreshFailure),
		LockAcquisitions: counter(MetricLockAcquired),
		LockFailures:     counter(MetricLockFailed),
		LockTimeouts:     counter(MetricLockTimeout),
		ForceRefreshes:   counter(MetricForceRefresh),
		DirectRefreshes:  counter(MetricDirectRefresh),
		LastRefresh:      raw[MetricRefreshSuccess+"_last"],
		RedisConnected:   true,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
