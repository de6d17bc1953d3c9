package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/melodia-ai/melodia/internal/pkg/logger"
	"github.com/melodia-ai/melodia/internal/pkg/response"
)

// OpsHandler exposes small operational knobs that do not need a restart.
type OpsHandler struct{}

func NewOpsHandler() *OpsHandler {
	return &OpsHandler{}
}

// GetLogLevel returns the current global log level.
// GET /api/v1/ops/log-level
func (h *OpsHandler) GetLogLevel(c *gin.Context) {
	response.Success(c, gin.H{"level": logger.CurrentLevel()})
}

// SetLogLevel adjusts the global log level at runtime, e.g. to debug a
// misbehaving refresh flow without redeploying.
// PUT /api/v1/ops/log-level
func (h *OpsHandler) SetLogLevel(c *gin.Context) {
	var req struct {
		Level string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if err := logger.SetLevel(req.Level); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, gin.H{"level": logger.CurrentLevel()})
}
