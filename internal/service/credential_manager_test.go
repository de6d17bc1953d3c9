package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/melodia-ai/melodia/internal/config"
	infraerrors "github.com/melodia-ai/melodia/internal/pkg/errors"
)

type fakeCache struct {
	mu         sync.Mutex
	cred       *CachedCredential
	readErr    error
	writeErr   error
	clearCalls int
	writeCalls int
}

func (f *fakeCache) Read(ctx context.Context) (*CachedCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.cred == nil {
		return nil, nil
	}
	cred := *f.cred
	return &cred, nil
}

func (f *fakeCache) Write(ctx context.Context, cred *CachedCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	if f.writeErr != nil {
		return f.writeErr
	}
	copied := *cred
	f.cred = &copied
	return nil
}

func (f *fakeCache) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	f.cred = nil
	return nil
}

func (f *fakeCache) set(cred *CachedCredential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cred = cred
}

// fakeLock behaves like the redis SetNX lock: first acquirer wins, others
// fail until release.
type fakeLock struct {
	mu       sync.Mutex
	held     bool
	disabled bool  // when true, TryAcquire always fails
	err      error // when set, TryAcquire errors
	acquires int
	releases int
}

func (f *fakeLock) TryAcquire(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.disabled || f.held {
		return false, nil
	}
	f.held = true
	f.acquires++
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.releases++
	return nil
}

type fakeRefresher struct {
	calls int64
	fn    func(call int64) (*TokenGrant, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*TokenGrant, error) {
	call := atomic.AddInt64(&f.calls, 1)
	return f.fn(call)
}

func (f *fakeRefresher) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{counts: make(map[string]int64)}
}

func (f *fakeMetrics) Incr(ctx context.Context, counter string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[counter]++
}

func (f *fakeMetrics) Snapshot(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.counts))
	for k, v := range f.counts {
		out[k] = strconv.FormatInt(v, 10)
	}
	return out, nil
}

func (f *fakeMetrics) count(counter string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[counter]
}

type fakeHealth struct {
	mu  sync.Mutex
	err error
}

func (f *fakeHealth) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func testConfig(storeEnabled bool) *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{Enabled: storeEnabled},
		Token: config.TokenConfig{
			RefreshThresholdSeconds: 300,
			LockTimeoutSeconds:      30,
			RedisTTLBufferSeconds:   60,
			RefreshMaxAttempts:      3,
		},
	}
}

func staticGrant(token string, ttl time.Duration) func(int64) (*TokenGrant, error) {
	return func(int64) (*TokenGrant, error) {
		return &TokenGrant{
			AccessToken: token,
			ExpiresAt:   time.Now().Add(ttl),
			Scope:       "playlist-modify-public",
		}, nil
	}
}

type managerFixture struct {
	manager   *CredentialManager
	cache     *fakeCache
	lock      *fakeLock
	refresher *fakeRefresher
	metrics   *fakeMetrics
	health    *fakeHealth
}

func newFixture(storeEnabled bool, refreshFn func(int64) (*TokenGrant, error)) *managerFixture {
	f := &managerFixture{
		cache:     &fakeCache{},
		lock:      &fakeLock{},
		refresher: &fakeRefresher{fn: refreshFn},
		metrics:   newFakeMetrics(),
		health:    &fakeHealth{},
	}
	f.manager = NewCredentialManager(testConfig(storeEnabled), f.cache, f.lock, f.refresher, f.metrics, f.health)
	f.manager.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func TestGetValidToken_CacheHit(t *testing.T) {
	f := newFixture(true, staticGrant("fresh-token", time.Hour))
	f.cache.set(&CachedCredential{
		AccessToken: "cached-token",
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	})

	token, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cached-token", token)
	require.EqualValues(t, 0, f.refresher.callCount(), "fresh cache must not trigger a refresh")
	require.EqualValues(t, 1, f.metrics.count(MetricCacheHit))
}

func TestGetValidToken_WithinThresholdRefreshes(t *testing.T) {
	f := newFixture(true, staticGrant("fresh-token", time.Hour))
	// Exactly at the threshold counts as stale.
	f.cache.set(&CachedCredential{
		AccessToken: "dying-token",
		ExpiresAt:   time.Now().Add(300 * time.Second),
	})

	token, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh-token", token)
	require.EqualValues(t, 1, f.refresher.callCount())
	require.EqualValues(t, 1, f.metrics.count(MetricCacheMiss))
}

func TestGetValidToken_MissRefreshesAndCaches(t *testing.T) {
	f := newFixture(true, staticGrant("fresh-token", time.Hour))

	token, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh-token", token)

	f.cache.mu.Lock()
	cached := f.cache.cred
	f.cache.mu.Unlock()
	require.NotNil(t, cached, "refreshed token must be cached")
	require.Equal(t, "fresh-token", cached.AccessToken)
	require.False(t, cached.CachedAt.IsZero())

	require.Equal(t, 1, f.lock.acquires)
	require.Equal(t, 1, f.lock.releases, "lock must be released after the refresh")
	require.EqualValues(t, 1, f.metrics.count(MetricRefreshSuccess))
}

func TestGetValidToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(true, func(call int64) (*TokenGrant, error) {
		<-release
		return &TokenGrant{
			AccessToken: "shared-token",
			ExpiresAt:   time.Now().Add(time.Hour),
		}, nil
	})

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.manager.GetValidToken(context.Background())
		}(i)
	}

	// Give the goroutines time to pile onto the in-flight refresh before
	// letting it complete.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "shared-token", tokens[i])
	}
	require.EqualValues(t, 1, f.refresher.callCount(), "concurrent callers must share one refresh")
}

func TestGetValidToken_SecondProcessWaitsForLockHolder(t *testing.T) {
	// Two managers share the same cache and lock, simulating two processes
	// against one redis.
	sharedCache := &fakeCache{}
	sharedLock := &fakeLock{}
	var refreshes int64
	refreshFn := func(int64) (*TokenGrant, error) {
		atomic.AddInt64(&refreshes, 1)
		time.Sleep(30 * time.Millisecond)
		return &TokenGrant{
			AccessToken: "holder-token",
			ExpiresAt:   time.Now().Add(time.Hour),
		}, nil
	}

	newManager := func() *CredentialManager {
		m := NewCredentialManager(testConfig(true),
			sharedCache, sharedLock,
			&fakeRefresher{fn: refreshFn},
			newFakeMetrics(), &fakeHealth{})
		m.sleep = func(ctx context.Context, d time.Duration) error {
			time.Sleep(time.Millisecond)
			return nil
		}
		return m
	}
	a, b := newManager(), newManager()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0], errs[0] = a.GetValidToken(context.Background()) }()
	go func() { defer wg.Done(); results[1], errs[1] = b.GetValidToken(context.Background()) }()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, "holder-token", results[0])
	require.Equal(t, "holder-token", results[1])
	require.EqualValues(t, 1, atomic.LoadInt64(&refreshes), "waiter must reuse the holder's refresh")
}

func TestGetValidToken_StoreDownFallsBackToDirectRefresh(t *testing.T) {
	f := newFixture(true, staticGrant("direct-token", time.Hour))
	f.health.err = errors.New("connection refused")

	token, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "direct-token", token)
	require.EqualValues(t, 1, f.metrics.count(MetricDirectRefresh))
	require.Equal(t, 0, f.lock.acquires, "degraded path must not touch the lock")
	f.cache.mu.Lock()
	writes := f.cache.writeCalls
	f.cache.mu.Unlock()
	require.Equal(t, 0, writes, "degraded path must not write the cache")
}

func TestGetValidToken_StoreDisabledGoesDirect(t *testing.T) {
	f := newFixture(false, staticGrant("direct-token", time.Hour))

	token, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "direct-token", token)
	require.Equal(t, 0, f.lock.acquires)
}

func TestGetValidToken_ConfigErrorSurfacesWithoutFallback(t *testing.T) {
	f := newFixture(true, func(int64) (*TokenGrant, error) {
		return nil, ErrConfigInvalid.WithCause(errors.New("refresh token rejected"))
	})

	_, err := f.manager.GetValidToken(context.Background())
	require.Error(t, err)
	require.Equal(t, ReasonConfigInvalid, infraerrors.Reason(err))
	require.EqualValues(t, 1, f.refresher.callCount(), "invalid credentials must not be retried")
}

func TestGetValidToken_TransientFailureExhaustedReportsUnavailable(t *testing.T) {
	f := newFixture(true, func(int64) (*TokenGrant, error) {
		return nil, ErrRefreshFailed.WithCause(errors.New("upstream 503"))
	})

	_, err := f.manager.GetValidToken(context.Background())
	require.Error(t, err)
	require.Equal(t, ReasonAuthUnavailable, infraerrors.Reason(err))
	// Locked attempt plus one direct fallback.
	require.EqualValues(t, 2, f.refresher.callCount())
}

func TestGetValidToken_LockHeldElsewhereReadsRefreshedCache(t *testing.T) {
	f := newFixture(true, staticGrant("unwanted-token", time.Hour))
	f.lock.disabled = true

	// Simulate the lock holder finishing its refresh while we wait.
	var once sync.Once
	f.manager.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() {
			f.cache.set(&CachedCredential{
				AccessToken: "other-process-token",
				ExpiresAt:   time.Now().Add(time.Hour),
			})
		})
		return nil
	}

	token, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "other-process-token", token)
	require.EqualValues(t, 0, f.refresher.callCount())
}

func TestGetValidToken_LockTimeoutRefreshesUnlocked(t *testing.T) {
	f := newFixture(true, staticGrant("unlocked-token", time.Hour))
	f.lock.disabled = true

	// Manual clock: each poll sleep advances time so the lock window
	// elapses without real waiting.
	var mu sync.Mutex
	now := time.Now()
	f.manager.clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f.manager.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
		return nil
	}

	token, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "unlocked-token", token)
	require.EqualValues(t, 1, f.refresher.callCount())
	require.EqualValues(t, 1, f.metrics.count(MetricLockTimeout))
}

func TestGetValidToken_ErroringLockRefreshesImmediately(t *testing.T) {
	f := newFixture(true, staticGrant("unlocked-token", time.Hour))
	// The store answers pings but lock operations fail, e.g. redis started
	// refusing writes mid-window.
	f.lock.err = errors.New("READONLY You can't write against a read only replica")

	var sleeps int
	f.manager.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	token, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "unlocked-token", token)
	require.EqualValues(t, 1, f.refresher.callCount())
	require.Equal(t, 0, sleeps, "erroring lock must not be polled")
	require.EqualValues(t, 1, f.metrics.count(MetricLockFailed))

	f.cache.mu.Lock()
	cached := f.cache.cred
	f.cache.mu.Unlock()
	require.NotNil(t, cached, "unlocked refresh still caches the token")
	require.Equal(t, "unlocked-token", cached.AccessToken)
}

func TestWarmRefresh_RefreshesAheadOfThreshold(t *testing.T) {
	f := newFixture(true, staticGrant("warmed-token", time.Hour))
	// Above the 300s refresh threshold, so no interactive request would
	// refresh it yet, but inside the warm horizon.
	f.cache.set(&CachedCredential{
		AccessToken: "aging-token",
		ExpiresAt:   time.Now().Add(500 * time.Second),
	})

	err := f.manager.WarmRefresh(context.Background(), 600*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.refresher.callCount())

	f.cache.mu.Lock()
	cached := f.cache.cred
	f.cache.mu.Unlock()
	require.Equal(t, "warmed-token", cached.AccessToken)
	require.Equal(t, 1, f.lock.releases)
}

func TestWarmRefresh_SkipsFreshToken(t *testing.T) {
	f := newFixture(true, staticGrant("unwanted-token", time.Hour))
	f.cache.set(&CachedCredential{
		AccessToken: "fresh-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	err := f.manager.WarmRefresh(context.Background(), 600*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 0, f.refresher.callCount(), "a token outside the horizon must not be refreshed")
}

func TestWarmRefresh_LeavesHeldLockAlone(t *testing.T) {
	f := newFixture(true, staticGrant("unwanted-token", time.Hour))
	f.lock.disabled = true

	err := f.manager.WarmRefresh(context.Background(), 600*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 0, f.refresher.callCount(), "warming must not compete with the lock holder")
}

func TestWarmRefresh_StoreDownDoesNothing(t *testing.T) {
	f := newFixture(true, staticGrant("unwanted-token", time.Hour))
	f.health.err = errors.New("connection refused")

	err := f.manager.WarmRefresh(context.Background(), 600*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 0, f.refresher.callCount())
}

func TestForceRefresh_DiscardsCacheAndMintsNewToken(t *testing.T) {
	f := newFixture(true, staticGrant("minted-token", time.Hour))
	f.cache.set(&CachedCredential{
		AccessToken: "rejected-token",
		ExpiresAt:   time.Now().Add(time.Hour), // looks valid, but spotify 401'd it
	})

	token, err := f.manager.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "minted-token", token)
	require.NotEqual(t, "rejected-token", token)

	f.cache.mu.Lock()
	clears, cached := f.cache.clearCalls, f.cache.cred
	f.cache.mu.Unlock()
	require.Equal(t, 1, clears)
	require.Equal(t, "minted-token", cached.AccessToken)
	require.EqualValues(t, 1, f.metrics.count(MetricForceRefresh))
	require.Equal(t, 1, f.lock.releases)
}

func TestForceRefresh_ErroringLockStillMints(t *testing.T) {
	f := newFixture(true, staticGrant("minted-token", time.Hour))
	f.lock.err = errors.New("broken pipe")

	var sleeps int
	f.manager.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	token, err := f.manager.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "minted-token", token)
	require.Equal(t, 0, sleeps, "erroring lock must not be polled")
	require.Equal(t, 0, f.lock.releases)
}

func TestForceRefresh_StoreDownStillMints(t *testing.T) {
	f := newFixture(true, staticGrant("minted-token", time.Hour))
	f.health.err = errors.New("connection refused")

	token, err := f.manager.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "minted-token", token)
}

func TestHealthCheck_ReportsCachedToken(t *testing.T) {
	f := newFixture(true, staticGrant("x", time.Hour))
	f.cache.set(&CachedCredential{
		AccessToken: "cached-token",
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	})

	status := f.manager.HealthCheck(context.Background())
	require.Equal(t, "healthy", status.Status)
	require.Equal(t, "connected", status.RedisStatus)
	require.True(t, status.TokenInfo.Cached)
	require.False(t, status.TokenInfo.NeedsRefresh)
	require.Greater(t, status.TokenInfo.TimeUntilExpiry, int64(0))
}

func TestHealthCheck_StoreDisabled(t *testing.T) {
	f := newFixture(false, staticGrant("x", time.Hour))

	status := f.manager.HealthCheck(context.Background())
	require.Equal(t, "healthy", status.Status)
	require.Equal(t, "disabled", status.RedisStatus)
	require.False(t, status.TokenInfo.Cached)
}

func TestGetMetrics_ParsesCounters(t *testing.T) {
	f := newFixture(true, staticGrant("fresh-token", time.Hour))

	_, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)

	snapshot, err := f.manager.GetMetrics(context.Background())
	require.NoError(t, err)
	require.True(t, snapshot.RedisConnected)
	require.EqualValues(t, 1, snapshot.CacheMisses)
	require.EqualValues(t, 1, snapshot.RefreshSuccesses)
	require.EqualValues(t, 1, snapshot.LockAcquisitions)
}

func TestCachedCredential_Usable(t *testing.T) {
	now := time.Now()
	threshold := 300 * time.Second

	tests := []struct {
		name string
		cred *CachedCredential
		want bool
	}{
		{"nil", nil, false},
		{"empty_token", &CachedCredential{ExpiresAt: now.Add(time.Hour)}, false},
		{"fresh", &CachedCredential{AccessToken: "t", ExpiresAt: now.Add(time.Hour)}, true},
		{"exactly_threshold", &CachedCredential{AccessToken: "t", ExpiresAt: now.Add(threshold)}, false},
		{"just_over_threshold", &CachedCredential{AccessToken: "t", ExpiresAt: now.Add(threshold + time.Second)}, true},
		{"expired", &CachedCredential{AccessToken: "t", ExpiresAt: now.Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.cred.Usable(now, threshold))
		})
	}
}
