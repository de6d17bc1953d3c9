package oauth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenResponse_ExpiresInOrDefault(t *testing.T) {
	require.EqualValues(t, 1800, (&TokenResponse{ExpiresIn: 1800}).ExpiresInOrDefault())
	require.EqualValues(t, DefaultExpiresIn, (&TokenResponse{}).ExpiresInOrDefault())
	require.EqualValues(t, DefaultExpiresIn, (&TokenResponse{ExpiresIn: -1}).ExpiresInOrDefault())
}

func TestTokenResponse_Unmarshal(t *testing.T) {
	var resp TokenResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"access_token": "BQDtoken",
		"token_type": "Bearer",
		"expires_in": 3600,
		"scope": "playlist-modify-public user-read-private"
	}`), &resp))
	require.Equal(t, "BQDtoken", resp.AccessToken)
	require.Empty(t, resp.RefreshToken)
	require.EqualValues(t, 3600, resp.ExpiresIn)
}

func TestMissingScopes(t *testing.T) {
	tests := []struct {
		name     string
		granted  string
		required []string
		want     []string
	}{
		{
			name:     "all_present",
			granted:  "playlist-modify-public user-read-private",
			required: []string{"user-read-private"},
			want:     []string{},
		},
		{
			name:     "one_missing",
			granted:  "user-read-private",
			required: []string{"user-read-private", "playlist-modify-public"},
			want:     []string{"playlist-modify-public"},
		},
		{
			name:     "sorted_output",
			granted:  "user-read-email",
			required: []string{"user-top-read", "playlist-read-private"},
			want:     []string{"playlist-read-private", "user-top-read"},
		},
		{
			name:     "empty_granted_is_unverifiable",
			granted:  "",
			required: []string{"user-read-private"},
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, MissingScopes(tt.granted, tt.required))
		})
	}
}
