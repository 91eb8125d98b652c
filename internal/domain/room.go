package domain

import "time"

// RoomStatus 表示房间状态机中的一个状态。
type RoomStatus string

const (
	// StatusWaiting 仅房主在场，等待访客加入
	StatusWaiting RoomStatus = "waiting"
	// StatusPendingApproval 访客已请求加入，等待房主批准
	StatusPendingApproval RoomStatus = "pending_approval"
	// StatusActive 双方在场且均已批准，可以互相转发绘图事件
	StatusActive RoomStatus = "active"
)

// Role 表示成员在房间中的角色。
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Member 表示房间中的一名成员。
// 只保存连接 ID（弱引用），绝不持有连接对象本身；
// 如果底层连接已经消失，这个 ID 就是陈旧的，按 no-op 处理。
type Member struct {
	ConnID   string
	Name     string
	Approved bool
}

// Room 表示一个双人协作绘图房间。
// 所有字段的修改必须通过下面的状态转移方法进行，
// 并由 RoomService 在注册表锁内串行化，不允许外部直接改写。
type Room struct {
	Code      string     // 房间邀请码，大写字母数字，可分享
	Host      Member     // 房主，创建时设置，房间存在期间不为空
	Guest     *Member    // 访客，最多一个
	Status    RoomStatus // 状态机当前状态
	CreatedAt time.Time  // 创建时间，用于空闲回收

	// HostDisconnectedAt 标记房主宽限期的开始时间。
	// 仅当房主临时掉线时非 nil；此时 Status 保持掉线前的值，
	// Host.ConnID 在重连之前是陈旧的。
	HostDisconnectedAt *time.Time
}

// NewRoom 创建一个新房间，进入初始状态 waiting。
func NewRoom(code, hostConnID, hostName string, now time.Time) *Room {
	return &Room{
		Code:      code,
		Host:      Member{ConnID: hostConnID, Name: hostName, Approved: true},
		Status:    StatusWaiting,
		CreatedAt: now,
	}
}

// AdmitGuest 接纳一名访客。
// approved 为 true 时直接进入 active（自动批准策略），
// 否则进入 pending_approval 等待房主决定。
// 调用方必须先确认 Guest 为空。
func (r *Room) AdmitGuest(connID, name string, approved bool) {
	r.Guest = &Member{ConnID: connID, Name: name, Approved: approved}
	if approved {
		r.Status = StatusActive
	} else {
		r.Status = StatusPendingApproval
	}
}

// ApproveGuest 房主批准当前待定的访客，房间进入 active。
func (r *Room) ApproveGuest() {
	if r.Guest == nil {
		return
	}
	r.Guest.Approved = true
	r.Status = StatusActive
}

// RejectGuest 房主拒绝访客：清除访客并回到 waiting。
// 返回被拒绝访客的连接 ID，便于调用方通知对方。
func (r *Room) RejectGuest() string {
	if r.Guest == nil {
		return ""
	}
	connID := r.Guest.ConnID
	r.Guest = nil
	r.Status = StatusWaiting
	return connID
}

// ClearGuest 访客离开（断线即视为离开，访客没有宽限期），房间回到 waiting。
func (r *Room) ClearGuest() {
	r.Guest = nil
	r.Status = StatusWaiting
}

// MarkHostDisconnected 记录房主掉线时刻，开始宽限窗口。
// 状态保持不变（房间记住掉线前的状态）。
func (r *Room) MarkHostDisconnected(now time.Time) {
	t := now
	r.HostDisconnectedAt = &t
}

// HostReconnect 房主在宽限窗口内重连：
// 清除宽限标记，并把房主重新绑定到新的连接 ID。
func (r *Room) HostReconnect(connID string) {
	r.HostDisconnectedAt = nil
	r.Host.ConnID = connID
}

// IsHostConn 判断给定连接当前是否是房主。
func (r *Room) IsHostConn(connID string) bool {
	return r.Host.ConnID == connID
}

// PendingGuest 判断是否有一名未批准的访客在等待。
func (r *Room) PendingGuest() bool {
	return r.Guest != nil && !r.Guest.Approved
}

// PeerConnID 返回给定成员连接的对端连接 ID。
// 没有对端（访客缺席）或连接不属于该房间时返回空字符串。
func (r *Room) PeerConnID(connID string) string {
	if r.Host.ConnID == connID {
		if r.Guest != nil {
			return r.Guest.ConnID
		}
		return ""
	}
	if r.Guest != nil && r.Guest.ConnID == connID {
		return r.Host.ConnID
	}
	return ""
}
