package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/melodia-ai/melodia/internal/config"
	"github.com/melodia-ai/melodia/internal/pkg/logger"
	"github.com/melodia-ai/melodia/internal/pkg/spotify"
)

// defaultClientAuthRetries bounds how many times a dead token is
// force-refreshed before the failure is surfaced to the caller.
const defaultClientAuthRetries = 2

// SpotifyClientService hands out Web API clients bound to the current
// service-account token. Clients are cheap but not free, so the last one is
// reused until the token it carries rotates.
type SpotifyClientService struct {
	credentials *CredentialManager
	baseURL     string
	serviceUser string

	mu     sync.Mutex
	client *spotify.Client
}

func NewSpotifyClientService(cfg *config.Config, credentials *CredentialManager) *SpotifyClientService {
	return &SpotifyClientService{
		credentials: credentials,
		baseURL:     cfg.Spotify.APIBaseURL,
		serviceUser: cfg.Spotify.ServiceUserID,
	}
}

// GetClient returns a client carrying a token that currently clears the
// refresh threshold. The token may still be revoked server-side; callers
// that need certainty use GetClientWithRetry.
func (s *SpotifyClientService) GetClient(ctx context.Context) (*spotify.Client, error) {
	token, err := s.credentials.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.clientFor(token), nil
}

// GetClientWithRetry probes the Web API before returning a client. A
// 401/403 on the probe forces a token refresh and retries up to maxRetries
// times, so a token revoked out from under the cache never reaches the
// caller. maxRetries <= 0 selects the default of 2.
func (s *SpotifyClientService) GetClientWithRetry(ctx context.Context, maxRetries int) (*spotify.Client, error) {
	if maxRetries <= 0 {
		maxRetries = defaultClientAuthRetries
	}
	client, err := s.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		_, probeErr := client.CurrentUser(ctx)
		if probeErr == nil {
			return client, nil
		}
		var authErr *spotify.AuthError
		if !errors.As(probeErr, &authErr) || attempt >= maxRetries {
			return nil, probeErr
		}

		logger.FromContext(ctx).Warn("cached token rejected by spotify, forcing refresh",
			zap.Int("status", authErr.StatusCode),
			zap.Int("attempt", attempt+1))
		token, refreshErr := s.credentials.ForceRefresh(ctx)
		if refreshErr != nil {
			return nil, refreshErr
		}
		client = s.clientFor(token)
	}
}

// ValidateServiceAccount confirms the token belongs to the configured
// service account, guarding against a refresh token pasted in from the
// wrong Spotify login.
func (s *SpotifyClientService) ValidateServiceAccount(ctx context.Context) (*spotify.User, error) {
	client, err := s.GetClientWithRetry(ctx, 0)
	if err != nil {
		return nil, err
	}
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if s.serviceUser != "" && user.ID != s.serviceUser {
		return nil, ErrConfigInvalid.WithCause(
			errors.New("refresh token belongs to spotify user " + user.ID + ", expected " + s.serviceUser))
	}
	return user, nil
}

// clientFor reuses the cached client while the token is unchanged.
func (s *SpotifyClientService) clientFor(token string) *spotify.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.client.AccessToken() != token {
		s.client = spotify.NewClient(s.baseURL, token)
	}
	return s.client
}
