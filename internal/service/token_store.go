package service

import (
	"context"
	"time"

	infraerrors "github.com/melodia-ai/melodia/internal/pkg/errors"
)

// Reasons for credential-subsystem failures. Callers branch on these
// instead of message text; SpotifyAuthUnavailable is the label the serving
// layer uses to tell credential failures apart from domain failures.
const (
	ReasonConfigInvalid   = "SPOTIFY_CONFIG_INVALID"
	ReasonRefreshFailed   = "SPOTIFY_REFRESH_FAILED"
	ReasonAuthUnavailable = "SPOTIFY_AUTH_UNAVAILABLE"
)

var (
	ErrConfigInvalid   = infraerrors.InternalServer(ReasonConfigInvalid, "spotify credentials misconfigured")
	ErrRefreshFailed   = infraerrors.BadGateway(ReasonRefreshFailed, "spotify token refresh failed")
	ErrAuthUnavailable = infraerrors.ServiceUnavailable(ReasonAuthUnavailable, "spotify credential unavailable")
)

// Clock supplies the current time. Injected so expiry-boundary behavior is
// deterministic under test.
type Clock func() time.Time

// CachedCredential is the shared-store representation of the service
// account's access token.
type CachedCredential struct {
	AccessToken string
	ExpiresAt   time.Time
	Scope       string
	CachedAt    time.Time
}

// Usable reports whether the credential still has more than threshold of
// life left. Tokens inside the threshold are treated as expired so a
// request never starts with a token about to die under it.
func (c *CachedCredential) Usable(now time.Time, threshold time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt.Sub(now) > threshold
}

// TokenCache reads and writes the shared credential record. Implementations
// must never hand back a record past its expiry; the store-level TTL is
// kept shorter than the token lifetime so stale records vanish on their own.
type TokenCache interface {
	// Read returns (nil, nil) on a clean miss. Store errors are returned so
	// the manager can log them, but are always treated as a miss.
	Read(ctx context.Context) (*CachedCredential, error)
	// Write persists the record with a TTL buffered below the token expiry.
	// Records expiring too soon to be worth caching are silently skipped.
	Write(ctx context.Context, cred *CachedCredential) error
	Clear(ctx context.Context) error
}

// RefreshLock is the cross-process mutual exclusion used to deduplicate
// refresh work. It is advisory: losing it never blocks correctness, it only
// costs an extra upstream call.
type RefreshLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Counter names recorded by the credential manager.
const (
	MetricCacheHit       = "cache_hit"
	MetricCacheMiss      = "cache_miss"
	MetricRefreshSuccess = "refresh_success"
	MetricRefreshFailure = "refresh_failure"
	MetricLockAcquired   = "lock_acquired"
	MetricLockFailed     = "lock_failed"
	MetricLockTimeout    = "lock_timeout"
	MetricForceRefresh   = "force_refresh"
	MetricDirectRefresh  = "direct_refresh"
)

// MetricsStore records best-effort counters in the shared store. Incr must
// never fail loudly; metrics are observational only.
type MetricsStore interface {
	Incr(ctx context.Context, counter string)
	Snapshot(ctx context.Context) (map[string]string, error)
}

// TokenGrant is the result of one successful refresh exchange.
type TokenGrant struct {
	AccessToken string
	ExpiresAt   time.Time
	Scope       string
}

// TokenRefresher exchanges the static long-lived refresh credential for a
// new access token. Implementations retry transient failures internally and
// report configuration problems (bad refresh token, bad client creds,
// missing scopes) as non-retryable ErrConfigInvalid.
type TokenRefresher interface {
	Refresh(ctx context.Context) (*TokenGrant, error)
}

// StoreHealth exposes reachability of the shared store.
type StoreHealth interface {
	Ping(ctx context.Context) error
}
