package service

import (
	"github.com/google/wire"
)

// ProviderSet is the Wire provider set for the service layer.
var ProviderSet = wire.NewSet(
	NewCredentialManager,
	NewSpotifyClientService,
	NewTokenWarmupService,
)
