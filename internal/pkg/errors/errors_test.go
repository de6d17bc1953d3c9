package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeAndReason(t *testing.T) {
	err := ServiceUnavailable("SPOTIFY_AUTH_UNAVAILABLE", "credential unavailable")
	require.Equal(t, http.StatusServiceUnavailable, Code(err))
	require.Equal(t, "SPOTIFY_AUTH_UNAVAILABLE", Reason(err))

	require.Equal(t, http.StatusOK, Code(nil))
	require.Equal(t, "", Reason(nil))
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	plain := errors.New("boom")
	ae := FromError(plain)
	require.Equal(t, http.StatusInternalServerError, ae.Code)
	require.Equal(t, "UNKNOWN", ae.Reason)
	require.ErrorIs(t, ae, plain)
}

func TestCodeSurvivesWrapping(t *testing.T) {
	base := InternalServer("SPOTIFY_CONFIG_INVALID", "refresh token not configured")
	wrapped := fmt.Errorf("startup validation: %w", base)
	require.Equal(t, http.StatusInternalServerError, Code(wrapped))
	require.Equal(t, "SPOTIFY_CONFIG_INVALID", Reason(wrapped))
	require.ErrorIs(t, wrapped, base)
}

func TestWithCausePreservesIdentity(t *testing.T) {
	base := BadGateway("SPOTIFY_REFRESH_FAILED", "token refresh failed")
	cause := errors.New("connection reset")
	err := base.WithCause(cause)
	require.ErrorIs(t, err, base)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "SPOTIFY_REFRESH_FAILED", Reason(err))
}
