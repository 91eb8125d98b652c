package dto

import "encoding/json"

// 客户端 -> 服务端 的命令类型
const (
	TypeCreateRoom   = "create-room"
	TypeJoinRoom     = "join-room"
	TypeApproveGuest = "approve-guest"

	// 会话事件：载荷对中继层不透明，原样转发给对端
	TypeDrawingData = "drawing-data"
	TypeCursorMove  = "cursor-move"
	TypeCanvasClear = "canvas-clear"
	TypeCanvasUndo  = "canvas-undo"
)

// 服务端 -> 客户端 的事件类型
const (
	TypeRoomCreated         = "room-created"
	TypeRoomJoined          = "room-joined"
	TypeRoomActive          = "room-active"
	TypeRoomError           = "room-error"
	TypeJoinRequest         = "join-request"
	TypeAwaitingApproval    = "awaiting-approval"
	TypeJoinRejected        = "join-rejected"
	TypePartnerJoined       = "partner-joined"
	TypePartnerLeft         = "partner-left"
	TypePartnerDisconnected = "partner-disconnected"
)

// Envelope 是 WebSocket 上传输的统一消息结构。
// Type 是封闭的标签集合（见上面的常量），Payload 按 Type 解析。
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope 构造一个出站消息，失败时返回错误（载荷无法序列化）。
func NewEnvelope(msgType string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// --- 入站命令载荷 ---

type CreateRoomPayload struct {
	UserName string `json:"userName"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
	UserRole string `json:"userRole,omitempty"` // "host" 表示房主重连
}

type ApproveGuestPayload struct {
	RoomID   string `json:"roomId"`
	Approved bool   `json:"approved"`
}

// --- 出站事件载荷 ---

type RoomCreatedPayload struct {
	RoomID   string `json:"roomId"`
	RoomURL  string `json:"roomUrl"`
	UserName string `json:"userName"`
}

type RoomJoinedPayload struct {
	RoomID      string `json:"roomId"`
	Role        string `json:"role"`
	PartnerName string `json:"partnerName,omitempty"`
}

type RoomActivePayload struct {
	Host   string `json:"host"`
	Guest  string `json:"guest"`
	RoomID string `json:"roomId"`
}

type RoomErrorPayload struct {
	Message string `json:"message"`
}

type JoinRequestPayload struct {
	GuestName string `json:"guestName"`
	RoomID    string `json:"roomId"`
}

type AwaitingApprovalPayload struct {
	HostName string `json:"hostName"`
	RoomID   string `json:"roomId"`
}

type JoinRejectedPayload struct {
	RoomID string `json:"roomId"`
}

// PartnerPayload 用于 partner-joined / partner-left / partner-disconnected。
type PartnerPayload struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}
