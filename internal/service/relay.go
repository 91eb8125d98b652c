package service

import (
	"encoding/json"

	"pair-canvas/internal/dto"

	"github.com/sirupsen/logrus"
)

// RelayService 负责会话事件的扇出：把一个成员发出的不透明载荷
// 原样转发给同房间的另一名成员。载荷内容不做任何解释，
// 只附加发送者的展示名和连接 ID。
type RelayService struct {
	rooms *RoomService
	log   *logrus.Entry
}

// NewRelayService 创建 RelayService 实例。
func NewRelayService(rooms *RoomService) *RelayService {
	if rooms == nil {
		panic("RoomService cannot be nil for RelayService")
	}
	return &RelayService{
		rooms: rooms,
		log:   logrus.WithField("component", "relay"),
	}
}

// Relay 转发一条会话事件。
// 发送者不在房间内、或房间不是 active 时静默丢弃 —— 对端尚未就位
// 是预期情况，不是需要上报给用户的错误。单发送者的事件顺序由
// Hub 的串行分发保证。
func (s *RelayService) Relay(connID, msgType string, payload json.RawMessage) []Notification {
	peerConnID, senderName, ok := s.rooms.relayTarget(connID)
	if !ok {
		// StaleEventDrop：房间未激活或对端已离开
		return nil
	}

	annotated, err := annotatePayload(payload, senderName, connID)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"type": msgType, "conn": connID}).Warn("Dropping relay event with non-object payload")
		return nil
	}

	return []Notification{{
		ConnID: peerConnID,
		Event:  dto.Envelope{Type: msgType, Payload: annotated},
	}}
}

// annotatePayload 在不透明的 JSON 对象上附加 user / senderId 字段。
// 载荷必须是 JSON 对象（中继层对其结构的唯一要求）。
func annotatePayload(payload json.RawMessage, userName, connID string) (json.RawMessage, error) {
	fields := make(map[string]interface{})
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
	}
	fields["user"] = userName
	fields["senderId"] = connID
	return json.Marshal(fields)
}
