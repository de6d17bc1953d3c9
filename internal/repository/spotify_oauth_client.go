package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"go.uber.org/zap"

	"github.com/melodia-ai/melodia/internal/config"
	"github.com/melodia-ai/melodia/internal/pkg/logger"
	"github.com/melodia-ai/melodia/internal/pkg/oauth"
	"github.com/melodia-ai/melodia/internal/service"
)

const refreshBackoffBase = time.Second

// NewSpotifyTokenRefresher builds the refresher that exchanges the static
// service-account refresh token for short-lived access tokens at the
// Spotify accounts service.
func NewSpotifyTokenRefresher(cfg *config.Config) service.TokenRefresher {
	client := req.C().SetTimeout(cfg.Token.RefreshHTTPTimeout())

	return &spotifyTokenRefresher{
		tokenURL:       cfg.Spotify.TokenURL,
		clientID:       cfg.Spotify.ClientID,
		clientSecret:   cfg.Spotify.ClientSecret,
		refreshToken:   cfg.Spotify.ServiceRefreshToken,
		requiredScopes: cfg.Spotify.RequiredScopes,
		maxAttempts:    cfg.Token.RefreshMaxAttempts,
		client:         client,
		clock:          time.Now,
		sleep:          sleepContext,
	}
}

type spotifyTokenRefresher struct {
	tokenURL       string
	clientID       string
	clientSecret   string
	refreshToken   string
	requiredScopes []string
	maxAttempts    int

	client *req.Client
	clock  service.Clock
	sleep  func(ctx context.Context, d time.Duration) error
}

// Refresh performs the refresh-grant exchange, retrying transient failures
// with exponential backoff. Configuration errors (invalid refresh token,
// bad client credentials, missing scopes) are returned immediately; no
// number of retries can fix the app's registration.
func (r *spotifyTokenRefresher) Refresh(ctx context.Context) (*service.TokenGrant, error) {
	var lastErr error
	backoff := refreshBackoffBase

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		grant, retryable, err := r.refreshOnce(ctx)
		if err == nil {
			return grant, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		logger.FromContext(ctx).Warn("token refresh attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Error(err))
	}
	return nil, service.ErrRefreshFailed.WithCause(lastErr)
}

func (r *spotifyTokenRefresher) refreshOnce(ctx context.Context) (*service.TokenGrant, bool, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBasicAuth(r.clientID, r.clientSecret).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": r.refreshToken,
		}).
		Post(r.tokenURL)
	if err != nil {
		// Timeouts and connection failures are transient by definition.
		return nil, true, err
	}

	switch {
	case resp.IsSuccessState():
		// parsed below
	case resp.StatusCode == 400:
		return nil, false, service.ErrConfigInvalid.WithCause(
			&upstreamError{status: resp.StatusCode, body: resp.String(), hint: "refresh token rejected, re-run the authorization flow"})
	case resp.StatusCode == 401:
		return nil, false, service.ErrConfigInvalid.WithCause(
			&upstreamError{status: resp.StatusCode, body: resp.String(), hint: "client credentials rejected"})
	default:
		return nil, true, &upstreamError{status: resp.StatusCode, body: resp.String()}
	}

	var tokenResp oauth.TokenResponse
	if err := json.Unmarshal(resp.Bytes(), &tokenResp); err != nil {
		return nil, true, err
	}
	if tokenResp.AccessToken == "" {
		return nil, true, &upstreamError{status: resp.StatusCode, body: "no access_token in refresh response"}
	}

	if tokenResp.RefreshToken != "" && tokenResp.RefreshToken != r.refreshToken {
		// Spotify rotated the long-lived credential. This service never
		// rewrites its own configuration; the operator must persist it.
		logger.FromContext(ctx).Warn("received rotated refresh token, update spotify.service_refresh_token",
			zap.String("refresh_token_prefix", tokenPrefix(tokenResp.RefreshToken)))
	}

	if missing := oauth.MissingScopes(tokenResp.Scope, r.requiredScopes); len(missing) > 0 {
		return nil, false, service.ErrConfigInvalid.WithCause(
			&upstreamError{status: resp.StatusCode, body: "granted scopes missing: " + strings.Join(missing, " ")})
	}

	return &service.TokenGrant{
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   r.clock().Add(time.Duration(tokenResp.ExpiresInOrDefault()) * time.Second),
		Scope:       tokenResp.Scope,
	}, false, nil
}

type upstreamError struct {
	status int
	body   string
	hint   string
}

func (e *upstreamError) Error() string {
	if e.hint != "" {
		return fmt.Sprintf("token refresh failed: status %d, %s, body: %s", e.status, e.hint, e.body)
	}
	return fmt.Sprintf("token refresh failed: status %d, body: %s", e.status, e.body)
}

// tokenPrefix keeps enough of a secret to correlate logs without leaking it.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return "********"
	}
	return token[:8] + "..."
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
