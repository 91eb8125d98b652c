package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	// 绘图路径可能包含较多坐标点，给到 64KB
	maxMessageSize = 64 * 1024
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
// 连接 ID 在升级时分配，是整个会话期间的不透明身份。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	send    chan []byte
	limiter *rate.Limiter // 入站消息限速，超出直接丢弃

	closeOnce sync.Once
}

// NewClient 创建一个新的 Client 实例。
func NewClient(hub *Hub, conn *websocket.Conn, msgsPerSec float64, burst int) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		id:      uuid.NewString(),
		send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(rate.Limit(msgsPerSec), burst),
	}
}

// ID 返回连接 ID。
func (c *Client) ID() string { return c.id }

// Run 启动客户端的读写 goroutine。
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// trySend 非阻塞地把数据放入发送队列。
func (c *Client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送通道，令 WritePump 退出。只允许 Hub 调用。
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub 的处理通道。
// 在自己的 goroutine 中运行；退出时请求 Hub 注销此客户端。
func (c *Client) ReadPump() {
	defer func() {
		c.hub.QueueMessage(HubMessage{Type: "unregister", Client: c})
		c.conn.Close()
		logrus.WithField("conn", c.id).Info("readPump exited")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithField("conn", c.id)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		// 每连接限速：光标移动事件可能非常密集，超出配额直接丢弃，
		// 不断开连接
		if !c.limiter.Allow() {
			logrus.WithField("conn", c.id).Debug("Inbound message rate limit exceeded, dropping message")
			continue
		}

		if !c.hub.QueueMessage(HubMessage{Type: "message", Client: c, RawData: message}) {
			logrus.WithField("conn", c.id).Warn("Hub message channel full, dropping client message")
		}
	}
}

// WritePump 将消息从 send 通道泵送到 WebSocket 连接，
// 并周期性发送 Ping 保活。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithField("conn", c.id).Info("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭（注销时）
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithField("conn", c.id).WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
