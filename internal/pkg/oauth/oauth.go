// Package oauth provides helpers for the OAuth refresh-grant flow used by
// this service.
package oauth

import (
	"sort"
	"strings"
)

// DefaultExpiresIn is assumed when the token endpoint omits expires_in.
const DefaultExpiresIn = 3600

// TokenResponse represents the token response from the authorization server.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ExpiresInOrDefault returns expires_in, substituting DefaultExpiresIn when
// the server left it out.
func (t *TokenResponse) ExpiresInOrDefault() int64 {
	if t.ExpiresIn <= 0 {
		return DefaultExpiresIn
	}
	return t.ExpiresIn
}

// ParseScopes splits a space-delimited scope string into a set.
func ParseScopes(scope string) map[string]struct{} {
	scopes := make(map[string]struct{})
	for _, s := range strings.Fields(scope) {
		scopes[s] = struct{}{}
	}
	return scopes
}

// MissingScopes returns the required scopes absent from granted, sorted for
// stable diagnostics. An empty granted string cannot be validated and
// reports nothing missing.
func MissingScopes(granted string, required []string) []string {
	if strings.TrimSpace(granted) == "" {
		return nil
	}
	grantedSet := ParseScopes(granted)
	missing := make([]string, 0)
	for _, scope := range required {
		if _, ok := grantedSet[scope]; !ok {
			missing = append(missing, scope)
		}
	}
	sort.Strings(missing)
	return missing
}
