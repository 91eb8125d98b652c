package http

import (
	"errors"
	"net/http"

	"pair-canvas/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HandleServiceError 把 Service 层的业务错误映射为 HTTP 状态码。
func HandleServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrRoomNotFound) {
		ErrorResponse(c, http.StatusNotFound, service.ErrorMessage(err))
	} else if errors.Is(err, service.ErrRoomFull) {
		ErrorResponse(c, http.StatusConflict, service.ErrorMessage(err))
	} else {
		// Log the internal error for debugging
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
