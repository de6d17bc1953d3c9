package repository

import (
	"github.com/google/wire"
)

// ProviderSet is the Wire provider set for the redis-backed repositories
// and the Spotify upstream client.
var ProviderSet = wire.NewSet(
	NewRedisClient,
	NewStoreHealth,
	NewTokenCache,
	NewRefreshLock,
	NewTokenMetrics,
	NewSpotifyTokenRefresher,
)
