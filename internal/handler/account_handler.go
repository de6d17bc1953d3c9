package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/melodia-ai/melodia/internal/pkg/response"
	"github.com/melodia-ai/melodia/internal/service"
)

// AccountHandler reports the Spotify service-account profile.
type AccountHandler struct {
	clients *service.SpotifyClientService
}

func NewAccountHandler(clients *service.SpotifyClientService) *AccountHandler {
	return &AccountHandler{clients: clients}
}

// Profile fetches the service-account profile through a verified client, so
// a 200 here proves the whole token path works end to end.
func (h *AccountHandler) Profile(c *gin.Context) {
	user, err := h.clients.ValidateServiceAccount(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, user)
}
