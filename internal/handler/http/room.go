package http

import (
	"net/http"
	"strings"

	"pair-canvas/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 封装了与房间查询相关的 HTTP 处理逻辑。
// 房间的创建/加入走 WebSocket 命令；这里只提供加入页在连接前
// 校验邀请码用的只读视图。
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例。
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// RoomInfoResponse 定义房间查询成功的响应结构体。
type RoomInfoResponse struct {
	RoomID   string `json:"room_id"`
	Status   string `json:"status"`
	HostName string `json:"host_name"`
}

// GetRoom 处理查询房间状态的请求。
// URL: GET /api/rooms/:code
func (h *RoomHandler) GetRoom(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	if code == "" {
		ErrorResponse(c, http.StatusBadRequest, "Room code is required")
		return
	}
	logCtx := logrus.WithField("room", code)

	info, err := h.roomService.GetRoomInfo(code)
	if err != nil {
		logCtx.WithError(err).Debug("Handler.GetRoom: Lookup failed")
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, RoomInfoResponse{
		RoomID:   info.RoomID,
		Status:   string(info.Status),
		HostName: info.HostName,
	})
}
