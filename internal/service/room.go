package service

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"pair-canvas/internal/domain"
	"pair-canvas/internal/dto"

	"github.com/sirupsen/logrus"
)

// Notification 表示一条待投递的出站事件：由 Hub 负责真正发送。
// Service 层只产出通知，不直接接触连接对象。
type Notification struct {
	ConnID string
	Event  dto.Envelope
}

// RoomServiceConfig 汇总房间生命周期相关的策略参数。
type RoomServiceConfig struct {
	AppURL      string        // 用于拼接 room-created 中的分享链接
	AutoApprove bool          // true: 第一个访客自动批准（canonical 行为）；false: 显式批准门
	GracePeriod time.Duration // 房主断线后的重连宽限时长
	RoomIdleTTL time.Duration // waiting 状态房间的空闲回收阈值
}

// session 记录一个连接当前关联的用户名、角色和房间。
// 连接对象本身归传输层所有，这里只保存注册表需要的关联关系。
type session struct {
	name   string
	role   domain.Role
	roomID string
}

// RoomService 是房间注册表：进程内唯一的共享可变结构。
// 所有房间字段的修改都必须在 mu 保护下、通过 domain.Room 的
// 状态转移方法完成；宽限定时器和空闲回收同样走这把锁，
// 以保证 join/断线/定时器触发之间的竞争有确定的结果。
type RoomService struct {
	mu          sync.Mutex
	rooms       map[string]*domain.Room
	sessions    map[string]*session
	graceTimers map[string]*time.Timer

	cfg RoomServiceConfig
	log *logrus.Entry
}

// NewRoomService 创建房间注册表实例。
func NewRoomService(cfg RoomServiceConfig) *RoomService {
	if cfg.GracePeriod <= 0 {
		panic("GracePeriod must be positive for RoomService")
	}
	if cfg.RoomIdleTTL <= 0 {
		panic("RoomIdleTTL must be positive for RoomService")
	}
	return &RoomService{
		rooms:       make(map[string]*domain.Room),
		sessions:    make(map[string]*session),
		graceTimers: make(map[string]*time.Timer),
		cfg:         cfg,
		log:         logrus.WithField("component", "room_service"),
	}
}

// CreateRoom 创建新房间，把请求连接绑定为房主。
func (s *RoomService) CreateRoom(connID, userName string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[connID]; ok && sess.roomID != "" {
		return nil, ErrAlreadyInRoom
	}

	code, err := s.generateUniqueRoomCode()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate unique room code")
		return nil, ErrInternalServer
	}

	room := domain.NewRoom(code, connID, userName, time.Now())
	s.rooms[code] = room
	s.sessions[connID] = &session{name: userName, role: domain.RoleHost, roomID: code}

	s.log.WithFields(logrus.Fields{"room": code, "host": userName}).Info("Room created")

	created, err := dto.NewEnvelope(dto.TypeRoomCreated, dto.RoomCreatedPayload{
		RoomID:   code,
		RoomURL:  s.cfg.AppURL + "/room/" + code,
		UserName: userName,
	})
	if err != nil {
		return nil, ErrInternalServer
	}
	return []Notification{{ConnID: connID, Event: created}}, nil
}

// JoinRoom 处理加入请求。三个分支：
//  1. 声称 host 且用户名与房主一致 -> 房主重连（宽限期取消 + 重绑定）
//  2. 访客位已被占用 -> ErrRoomFull
//  3. 接纳访客（按配置走自动批准或显式批准门）
func (s *RoomService) JoinRoom(connID, roomID, userName, claimedRole string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	if claimedRole == string(domain.RoleHost) && room.Host.Name == userName {
		return s.reconnectHost(room, connID)
	}

	if room.Guest != nil {
		return nil, ErrRoomFull
	}

	s.sessions[connID] = &session{name: userName, role: domain.RoleGuest, roomID: roomID}

	if s.cfg.AutoApprove {
		room.AdmitGuest(connID, userName, true)
		s.log.WithFields(logrus.Fields{"room": roomID, "guest": userName}).Info("Guest auto-approved, room active")
		return s.activationNotifs(room, connID)
	}

	room.AdmitGuest(connID, userName, false)
	s.log.WithFields(logrus.Fields{"room": roomID, "guest": userName}).Info("Guest awaiting host approval")

	var notifs []Notification
	notifs = appendEvent(notifs, room.Host.ConnID, dto.TypeJoinRequest, dto.JoinRequestPayload{
		GuestName: userName,
		RoomID:    roomID,
	})
	notifs = appendEvent(notifs, connID, dto.TypeAwaitingApproval, dto.AwaitingApprovalPayload{
		HostName: room.Host.Name,
		RoomID:   roomID,
	})
	return notifs, nil
}

// reconnectHost 房主重连：取消宽限定时器必须发生在重绑定之前，
// 确保定时器回调在锁内再检查 HostDisconnectedAt 时得到确定结果。
func (s *RoomService) reconnectHost(room *domain.Room, connID string) ([]Notification, error) {
	s.cancelGraceTimerLocked(room.Code)

	oldConnID := room.Host.ConnID
	if oldConnID != connID {
		delete(s.sessions, oldConnID)
	}
	room.HostReconnect(connID)
	s.sessions[connID] = &session{name: room.Host.Name, role: domain.RoleHost, roomID: room.Code}

	s.log.WithFields(logrus.Fields{"room": room.Code, "host": room.Host.Name}).Info("Host reconnected within grace window")

	partnerName := ""
	if room.Guest != nil {
		partnerName = room.Guest.Name
	}
	var notifs []Notification
	notifs = appendEvent(notifs, connID, dto.TypeRoomJoined, dto.RoomJoinedPayload{
		RoomID:      room.Code,
		Role:        string(domain.RoleHost),
		PartnerName: partnerName,
	})

	// 访客在场且已批准时，向双方重发 room-active 让 UI 重新同步；
	// 访客恰好收到一次，不触发重新加入流程。
	if room.Guest != nil && room.Guest.Approved {
		notifs = appendEvent(notifs, room.Host.ConnID, dto.TypeRoomActive, dto.RoomActivePayload{
			Host: room.Host.Name, Guest: room.Guest.Name, RoomID: room.Code,
		})
		notifs = appendEvent(notifs, room.Guest.ConnID, dto.TypeRoomActive, dto.RoomActivePayload{
			Host: room.Host.Name, Guest: room.Guest.Name, RoomID: room.Code,
		})
	}
	return notifs, nil
}

// ApproveGuest 房主批准或拒绝待定访客。
// 发送者不是当前房主、或没有待批准的访客时静默忽略（陈旧客户端）。
func (s *RoomService) ApproveGuest(connID, roomID string, approved bool) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok || !room.IsHostConn(connID) || !room.PendingGuest() {
		return nil, nil
	}

	if !approved {
		guestConnID := room.RejectGuest()
		if sess, ok := s.sessions[guestConnID]; ok && sess.roomID == roomID {
			delete(s.sessions, guestConnID)
		}
		s.log.WithField("room", roomID).Info("Guest rejected, room back to waiting")
		return []Notification{mustEvent(guestConnID, dto.TypeJoinRejected, dto.JoinRejectedPayload{RoomID: roomID})}, nil
	}

	room.ApproveGuest()
	s.log.WithFields(logrus.Fields{"room": roomID, "host": room.Host.Name, "guest": room.Guest.Name}).Info("Guest approved, room active")
	return s.activationNotifs(room, room.Guest.ConnID)
}

// activationNotifs 房间进入 active 时的完整通知集：
// 访客收到 room-joined，房主收到 partner-joined，双方各收到一次 room-active。
func (s *RoomService) activationNotifs(room *domain.Room, guestConnID string) ([]Notification, error) {
	var notifs []Notification
	notifs = appendEvent(notifs, guestConnID, dto.TypeRoomJoined, dto.RoomJoinedPayload{
		RoomID:      room.Code,
		Role:        string(domain.RoleGuest),
		PartnerName: room.Host.Name,
	})
	notifs = appendEvent(notifs, room.Host.ConnID, dto.TypePartnerJoined, dto.PartnerPayload{
		Name: room.Guest.Name,
		ID:   room.Guest.ConnID,
	})
	active := dto.RoomActivePayload{Host: room.Host.Name, Guest: room.Guest.Name, RoomID: room.Code}
	notifs = appendEvent(notifs, room.Host.ConnID, dto.TypeRoomActive, active)
	notifs = appendEvent(notifs, guestConnID, dto.TypeRoomActive, active)
	return notifs, nil
}

// Disconnect 处理传输层上报的连接断开。
// 陈旧或未知的连接 ID 是 no-op。访客断线立即离场；
// 房主断线进入宽限窗口，窗口内房间保持原状态。
func (s *RoomService) Disconnect(connID string) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[connID]
	if !ok {
		return nil
	}
	delete(s.sessions, connID)

	room, ok := s.rooms[sess.roomID]
	if !ok {
		return nil
	}

	var notifs []Notification

	if sess.role == domain.RoleGuest {
		if room.Guest == nil || room.Guest.ConnID != connID {
			return nil // 陈旧的访客连接
		}
		guestName := room.Guest.Name
		room.ClearGuest()
		s.log.WithFields(logrus.Fields{"room": room.Code, "guest": guestName}).Info("Guest left, room back to waiting")
		notifs = appendEvent(notifs, room.Host.ConnID, dto.TypePartnerDisconnected, dto.PartnerPayload{Name: guestName, ID: connID})
		notifs = appendEvent(notifs, room.Host.ConnID, dto.TypePartnerLeft, dto.PartnerPayload{Name: guestName, ID: connID})
		return notifs
	}

	if !room.IsHostConn(connID) {
		return nil // 陈旧的房主连接（已被重连替换）
	}

	room.MarkHostDisconnected(time.Now())
	if room.Guest != nil {
		notifs = appendEvent(notifs, room.Guest.ConnID, dto.TypePartnerDisconnected, dto.PartnerPayload{Name: room.Host.Name, ID: connID})
	}

	code := room.Code
	s.log.WithFields(logrus.Fields{"room": code, "grace": s.cfg.GracePeriod}).Info("Host disconnected, grace window started")
	s.graceTimers[code] = time.AfterFunc(s.cfg.GracePeriod, func() {
		s.expireGrace(code)
	})
	return notifs
}

// expireGrace 宽限定时器回调。在锁内重新检查 HostDisconnectedAt：
// 房主已经重连（或房间已被其他途径删除）时是 no-op。
func (s *RoomService) expireGrace(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok || room.HostDisconnectedAt == nil {
		return
	}
	s.deleteRoomLocked(code)
	s.log.WithField("room", code).Info("Grace period expired, room deleted")
}

// SweepIdleRooms 删除创建后超过空闲阈值且仍处于 waiting 的房间。
// 状态和年龄在锁内、删除时刻重新确认，不会误删刚刚有人加入的房间。
// 返回被删除的数量，供调用方记录。
func (s *RoomService) SweepIdleRooms(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for code, room := range s.rooms {
		if room.Status == domain.StatusWaiting && now.Sub(room.CreatedAt) > s.cfg.RoomIdleTTL {
			s.deleteRoomLocked(code)
			removed++
			s.log.WithField("room", code).Info("Idle room swept")
		}
	}
	return removed
}

// RoomInfo 是提供给 HTTP 层的只读视图。
type RoomInfo struct {
	RoomID   string
	Status   domain.RoomStatus
	HostName string
}

// GetRoomInfo 查询房间当前状态，供加入页在连接前校验邀请码。
func (s *RoomService) GetRoomInfo(code string) (RoomInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return RoomInfo{}, ErrRoomNotFound
	}
	return RoomInfo{RoomID: room.Code, Status: room.Status, HostName: room.Host.Name}, nil
}

// RoomCount 返回当前注册的房间数量（健康检查/日志用途）。
func (s *RoomService) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// relayTarget 在一次加锁内解析中继目标：
// 发送者必须属于某个 active 房间，返回对端连接 ID 和发送者展示名。
func (s *RoomService) relayTarget(connID string) (peerConnID, senderName string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, found := s.sessions[connID]
	if !found || sess.roomID == "" {
		return "", "", false
	}
	room, found := s.rooms[sess.roomID]
	if !found || room.Status != domain.StatusActive {
		return "", "", false
	}
	peer := room.PeerConnID(connID)
	if peer == "" {
		return "", "", false
	}
	return peer, sess.name, true
}

// deleteRoomLocked 删除房间及其关联的定时器和成员会话。调用方必须持有 mu。
func (s *RoomService) deleteRoomLocked(code string) {
	room, ok := s.rooms[code]
	if !ok {
		return
	}
	s.cancelGraceTimerLocked(code)
	if sess, ok := s.sessions[room.Host.ConnID]; ok && sess.roomID == code {
		delete(s.sessions, room.Host.ConnID)
	}
	if room.Guest != nil {
		if sess, ok := s.sessions[room.Guest.ConnID]; ok && sess.roomID == code {
			delete(s.sessions, room.Guest.ConnID)
		}
	}
	delete(s.rooms, code)
}

func (s *RoomService) cancelGraceTimerLocked(code string) {
	if timer, ok := s.graceTimers[code]; ok {
		timer.Stop()
		delete(s.graceTimers, code)
	}
}

// generateUniqueRoomCode 生成 8 位大写字母数字房间码。
// 碰撞概率极低，但仍对注册表做存在性检查并重试，确保正确性。
func (s *RoomService) generateUniqueRoomCode() (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const codeLength = 8
	const maxAttempts = 10

	b := make([]byte, codeLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = letters[int(b[i])%len(letters)]
		}
		code := string(b)
		if _, exists := s.rooms[code]; !exists {
			return code, nil
		}
		s.log.WithField("room", code).Warnf("Generated room code already exists, retrying (attempt %d)", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique room code after %d attempts", maxAttempts)
}

// --- 通知构造辅助 ---

func appendEvent(notifs []Notification, connID, msgType string, payload interface{}) []Notification {
	env, err := dto.NewEnvelope(msgType, payload)
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Failed to marshal outbound event")
		return notifs
	}
	return append(notifs, Notification{ConnID: connID, Event: env})
}

func mustEvent(connID, msgType string, payload interface{}) Notification {
	env, err := dto.NewEnvelope(msgType, payload)
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Failed to marshal outbound event")
	}
	return Notification{ConnID: connID, Event: env}
}
