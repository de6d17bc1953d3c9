// Package response provides gin JSON response helpers with a uniform
// envelope, so handlers never hand-build status/error payloads.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/melodia-ai/melodia/internal/pkg/errors"
)

type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: http.StatusOK, Data: data})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Body{Code: status, Message: message})
}

// ErrorFrom maps an ApplicationError (or anything FromError can classify)
// to a response, preserving its status code and reason.
func ErrorFrom(c *gin.Context, err error) {
	ae := infraerrors.FromError(err)
	if ae == nil {
		Success(c, nil)
		return
	}
	c.JSON(ae.Code, Body{Code: ae.Code, Message: ae.Message, Reason: ae.Reason})
}
