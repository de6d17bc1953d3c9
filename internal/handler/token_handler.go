package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/melodia-ai/melodia/internal/pkg/response"
	"github.com/melodia-ai/melodia/internal/service"
)

// TokenHandler exposes the token lifecycle over HTTP: health, metrics and
// a manual force refresh for operators.
type TokenHandler struct {
	credentials *service.CredentialManager
}

func NewTokenHandler(credentials *service.CredentialManager) *TokenHandler {
	return &TokenHandler{credentials: credentials}
}

// Health reports credential-manager health. Degraded mode (store down) is
// still a 200: the service keeps working, just without caching.
func (h *TokenHandler) Health(c *gin.Context) {
	status := h.credentials.HealthCheck(c.Request.Context())
	response.Success(c, status)
}

// Metrics returns the token-flow counters.
func (h *TokenHandler) Metrics(c *gin.Context) {
	snapshot, err := h.credentials.GetMetrics(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, snapshot)
}

// ForceRefresh discards the cached token and mints a new one.
func (h *TokenHandler) ForceRefresh(c *gin.Context) {
	token, err := h.credentials.ForceRefresh(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	// The token itself is not echoed back; operators only need to know the
	// refresh landed.
	response.Success(c, gin.H{
		"refreshed":    true,
		"token_length": len(token),
	})
}
