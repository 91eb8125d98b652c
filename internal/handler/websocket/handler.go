package websocket

import (
	"net/http"

	"pair-canvas/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册。
// 房间命令（create-room / join-room / approve-guest）都在升级后的
// 连接上传输，升级端点本身不带房间参数。
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub

	msgsPerSec float64
	burst      int
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
func NewWebSocketHandler(h *hub.Hub, msgsPerSec float64, burst int) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// 允许所有来源连接（生产环境应配置具体的允许来源）
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return &WebSocketHandler{
		upgrader:   upgrader,
		hub:        h,
		msgsPerSec: msgsPerSec,
		burst:      burst,
	}
}

// HandleConnection 处理 WebSocket 连接请求。
// URL: GET /ws
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时已经写回了 HTTP 错误响应，这里只记录日志
		logrus.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, h.msgsPerSec, h.burst)
	logCtx := logrus.WithField("conn", client.ID())
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		conn.Close()
		return
	}

	client.Run()
}
