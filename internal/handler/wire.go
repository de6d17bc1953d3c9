package handler

import (
	"github.com/google/wire"
)

// Handlers groups every HTTP handler for router registration.
type Handlers struct {
	Token   *TokenHandler
	Account *AccountHandler
	Ops     *OpsHandler
}

func ProvideHandlers(tokenHandler *TokenHandler, accountHandler *AccountHandler, opsHandler *OpsHandler) *Handlers {
	return &Handlers{
		Token:   tokenHandler,
		Account: accountHandler,
		Ops:     opsHandler,
	}
}

// ProviderSet is the Wire provider set for all handlers.
var ProviderSet = wire.NewSet(
	NewTokenHandler,
	NewAccountHandler,
	NewOpsHandler,
	ProvideHandlers,
)
