package hub

import (
	"encoding/json"
	"sync"

	"pair-canvas/internal/dto"
	"pair-canvas/internal/service"

	"github.com/sirupsen/logrus"
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型。
type HubMessage struct {
	Type    string  // "register", "unregister", "message"
	Client  *Client // 来源客户端
	RawData []byte  // 仅用于 message（原始 WebSocket 消息）
}

// Hub 维护活跃连接集合，并把入站命令串行地分发到 Service 层。
// 所有消息在 Run 的单个 goroutine 中按到达顺序处理：
// 这同时给了我们单发送者事件顺序保证，以及对同一房间并发加入
// 等竞争场景的天然串行化。
type Hub struct {
	messageChan chan HubMessage
	clients     map[string]*Client // connID -> client

	roomService  *service.RoomService
	relayService *service.RelayService

	stopOnce sync.Once
	log      *logrus.Entry
}

// NewHub 创建并返回一个新的 Hub 实例。
func NewHub(roomService *service.RoomService, relayService *service.RelayService) *Hub {
	if roomService == nil {
		panic("RoomService cannot be nil for Hub")
	}
	if relayService == nil {
		panic("RelayService cannot be nil for Hub")
	}
	return &Hub{
		messageChan:  make(chan HubMessage, 512),
		clients:      make(map[string]*Client),
		roomService:  roomService,
		relayService: relayService,
		log:          logrus.WithField("component", "hub"),
	}
}

// Run 启动 Hub 的主事件处理循环，应该在单独的 goroutine 中运行。
// messageChan 关闭时循环结束。
func (h *Hub) Run() {
	h.log.Info("Hub is running...")
	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			h.registerClient(msg.Client)
		case "unregister":
			h.unregisterClient(msg.Client)
		case "message":
			// 注意：必须同步处理，中继的单发送者顺序依赖于此
			h.dispatch(msg.Client, msg.RawData)
		default:
			h.log.Warnf("Received unknown hub message type: %s", msg.Type)
		}
	}
	h.log.Info("Hub is shutting down...")
}

// Stop 关闭消息通道，让 Run 退出。重复调用是安全的。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.messageChan)
	})
}

// QueueMessage 将消息放入 Hub 的处理队列（非阻塞）。
// 返回 false 表示队列已满、消息被丢弃。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		h.log.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		h.log.Error("Attempted to register a nil client")
		return
	}
	h.clients[client.ID()] = client
	h.log.WithField("conn", client.ID()).Info("Client registered to Hub")
}

// unregisterClient 移除客户端并通知注册表处理断线。
// 断线可能触发访客离场或房主宽限期，产生的通知照常投递。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		h.log.Error("Attempted to unregister a nil client")
		return
	}
	if _, ok := h.clients[client.ID()]; !ok {
		return
	}
	delete(h.clients, client.ID())
	client.closeSend()

	notifs := h.roomService.Disconnect(client.ID())
	h.deliver(notifs)
	h.log.WithField("conn", client.ID()).Info("Client unregistered from Hub")
}

// dispatch 解析入站消息并路由到对应的 Service 方法。
// 消息类型是封闭集合；未知类型记录后忽略。
func (h *Hub) dispatch(client *Client, raw []byte) {
	if client == nil {
		return
	}
	logCtx := h.log.WithField("conn", client.ID())

	var env dto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logCtx.WithError(err).Warn("Dropping malformed inbound message")
		return
	}

	var (
		notifs []service.Notification
		err    error
	)

	switch env.Type {
	case dto.TypeCreateRoom:
		var p dto.CreateRoomPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			notifs, err = h.roomService.CreateRoom(client.ID(), p.UserName)
		}
	case dto.TypeJoinRoom:
		var p dto.JoinRoomPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			notifs, err = h.roomService.JoinRoom(client.ID(), p.RoomID, p.UserName, p.UserRole)
		}
	case dto.TypeApproveGuest:
		var p dto.ApproveGuestPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			notifs, err = h.roomService.ApproveGuest(client.ID(), p.RoomID, p.Approved)
		}
	case dto.TypeDrawingData, dto.TypeCursorMove, dto.TypeCanvasClear, dto.TypeCanvasUndo:
		notifs = h.relayService.Relay(client.ID(), env.Type, env.Payload)
	default:
		logCtx.WithField("type", env.Type).Warn("Ignoring unknown inbound message type")
		return
	}

	if err != nil {
		logCtx.WithError(err).WithField("type", env.Type).Warn("Command failed")
		h.sendError(client, err)
		return
	}
	h.deliver(notifs)
}

// sendError 把业务错误作为 room-error 事件回给请求方，连接保持打开。
func (h *Hub) sendError(client *Client, err error) {
	env, mErr := dto.NewEnvelope(dto.TypeRoomError, dto.RoomErrorPayload{Message: service.ErrorMessage(err)})
	if mErr != nil {
		h.log.WithError(mErr).Error("Failed to marshal room-error event")
		return
	}
	h.sendEnvelope(client, env)
}

// deliver 把 Service 产出的通知逐条投递。
// 连接 ID 查不到客户端（对方刚好断线）时按 no-op 处理。
func (h *Hub) deliver(notifs []service.Notification) {
	for _, n := range notifs {
		client, ok := h.clients[n.ConnID]
		if !ok {
			continue
		}
		h.sendEnvelope(client, n.Event)
	}
}

// sendEnvelope 非阻塞发送，避免单个慢客户端阻塞整个分发循环。
func (h *Hub) sendEnvelope(client *Client, env dto.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal outbound envelope")
		return
	}
	if !client.trySend(data) {
		h.log.WithField("conn", client.ID()).Warn("Client send channel full, dropping outbound event")
	}
}
