package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	infraerrors "github.com/melodia-ai/melodia/internal/pkg/errors"
	"github.com/melodia-ai/melodia/internal/pkg/spotify"
)

// newClientFixture wires a SpotifyClientService against a fake Web API and
// a credential manager whose refresher mints token-1, token-2, ... in order.
func newClientFixture(t *testing.T, apiURL, serviceUser string) (*SpotifyClientService, *managerFixture) {
	t.Helper()

	f := newFixture(true, func(call int64) (*TokenGrant, error) {
		return &TokenGrant{
			AccessToken: fmt.Sprintf("token-%d", call),
			ExpiresAt:   time.Now().Add(time.Hour),
		}, nil
	})

	cfg := testConfig(true)
	cfg.Spotify.APIBaseURL = apiURL
	cfg.Spotify.ServiceUserID = serviceUser
	return NewSpotifyClientService(cfg, f.manager), f
}

func TestGetClientWithRetry_RetriesOnceAfterRevokedToken(t *testing.T) {
	// token-1 was revoked server-side; only token-2 works.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"status":401,"message":"The access token expired"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"melodia-bot","display_name":"Melodia"}`)
	}))
	defer srv.Close()

	svc, f := newClientFixture(t, srv.URL, "")

	client, err := svc.GetClientWithRetry(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, "token-2", client.AccessToken())
	require.EqualValues(t, 2, f.refresher.callCount())
	require.EqualValues(t, 1, f.metrics.count(MetricForceRefresh))
}

func TestGetClientWithRetry_NonAuthErrorIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, f := newClientFixture(t, srv.URL, "")

	_, err := svc.GetClientWithRetry(context.Background(), 0)
	require.Error(t, err)
	var apiErr *spotify.APIError
	require.ErrorAs(t, err, &apiErr)
	require.EqualValues(t, 1, f.refresher.callCount(), "server errors must not burn refreshes")
}

func TestGetClientWithRetry_GivesUpAfterRepeatedAuthFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	svc, f := newClientFixture(t, srv.URL, "")

	_, err := svc.GetClientWithRetry(context.Background(), 0)
	require.Error(t, err)
	var authErr *spotify.AuthError
	require.ErrorAs(t, err, &authErr)
	// Initial token plus two forced refreshes.
	require.EqualValues(t, 3, f.refresher.callCount())
}

func TestGetClient_ReusesClientWhileTokenUnchanged(t *testing.T) {
	svc, _ := newClientFixture(t, "http://unused.invalid", "")

	first, err := svc.GetClient(context.Background())
	require.NoError(t, err)
	second, err := svc.GetClient(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestValidateServiceAccount_RejectsWrongAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"someones-personal-login"}`)
	}))
	defer srv.Close()

	svc, _ := newClientFixture(t, srv.URL, "melodia-bot")

	_, err := svc.ValidateServiceAccount(context.Background())
	require.Error(t, err)
	require.Equal(t, ReasonConfigInvalid, infraerrors.Reason(err))
}

func TestValidateServiceAccount_AcceptsConfiguredAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"melodia-bot","display_name":"Melodia","product":"premium"}`)
	}))
	defer srv.Close()

	svc, _ := newClientFixture(t, srv.URL, "melodia-bot")

	user, err := svc.ValidateServiceAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, "melodia-bot", user.ID)
	require.Equal(t, "premium", user.Product)
}
