package domain_test

import (
	"testing"
	"time"

	"pair-canvas/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoom_InitialState(t *testing.T) {
	now := time.Now()
	room := domain.NewRoom("ABCD2345", "conn-host", "Ava", now)

	assert.Equal(t, domain.StatusWaiting, room.Status, "新房间应处于 waiting")
	assert.Equal(t, "conn-host", room.Host.ConnID)
	assert.Equal(t, "Ava", room.Host.Name)
	assert.True(t, room.Host.Approved, "房主始终视为已批准")
	assert.Nil(t, room.Guest)
	assert.Nil(t, room.HostDisconnectedAt)
	assert.Equal(t, now, room.CreatedAt)
}

func TestAdmitGuest_PendingApproval(t *testing.T) {
	room := domain.NewRoom("ABCD2345", "conn-host", "Ava", time.Now())

	room.AdmitGuest("conn-guest", "Ben", false)

	require.NotNil(t, room.Guest)
	assert.Equal(t, domain.StatusPendingApproval, room.Status)
	assert.False(t, room.Guest.Approved)
	assert.True(t, room.PendingGuest())
}

func TestAdmitGuest_AutoApprove(t *testing.T) {
	room := domain.NewRoom("ABCD2345", "conn-host", "Ava", time.Now())

	room.AdmitGuest("conn-guest", "Ben", true)

	require.NotNil(t, room.Guest)
	assert.Equal(t, domain.StatusActive, room.Status)
	assert.True(t, room.Guest.Approved)
	assert.False(t, room.PendingGuest())
}

func TestApproveGuest_Transition(t *testing.T) {
	room := domain.NewRoom("ABCD2345", "conn-host", "Ava", time.Now())
	room.AdmitGuest("conn-guest", "Ben", false)

	room.ApproveGuest()

	// 状态蕴含：active 当且仅当双方在场且均已批准
	assert.Equal(t, domain.StatusActive, room.Status)
	require.NotNil(t, room.Guest)
	assert.True(t, room.Host.Approved)
	assert.True(t, room.Guest.Approved)
}

func TestRejectGuest_BackToWaiting(t *testing.T) {
	room := domain.NewRoom("ABCD2345", "conn-host", "Ava", time.Now())
	room.AdmitGuest("conn-guest", "Ben", false)

	rejected := room.RejectGuest()

	assert.Equal(t, "conn-guest", rejected, "应返回被拒绝访客的连接 ID")
	assert.Equal(t, domain.StatusWaiting, room.Status)
	assert.Nil(t, room.Guest)
}

func TestClearGuest_BackToWaiting(t *testing.T) {
	room := domain.NewRoom("ABCD2345", "conn-host", "Ava", time.Now())
	room.AdmitGuest("conn-guest", "Ben", true)

	room.ClearGuest()

	assert.Equal(t, domain.StatusWaiting, room.Status)
	assert.Nil(t, room.Guest)
}

func TestHostDisconnectAndReconnect(t *testing.T) {
	room := domain.NewRoom("ABCD2345", "conn-host", "Ava", time.Now())
	room.AdmitGuest("conn-guest", "Ben", true)

	room.MarkHostDisconnected(time.Now())

	// 宽限窗口内状态保持不变
	require.NotNil(t, room.HostDisconnectedAt)
	assert.Equal(t, domain.StatusActive, room.Status)

	room.HostReconnect("conn-host-2")

	assert.Nil(t, room.HostDisconnectedAt)
	assert.Equal(t, "conn-host-2", room.Host.ConnID)
	assert.True(t, room.IsHostConn("conn-host-2"))
	assert.False(t, room.IsHostConn("conn-host"))
	assert.Equal(t, domain.StatusActive, room.Status)
}

func TestPeerConnID(t *testing.T) {
	room := domain.NewRoom("ABCD2345", "conn-host", "Ava", time.Now())

	assert.Equal(t, "", room.PeerConnID("conn-host"), "访客缺席时没有对端")
	assert.Equal(t, "", room.PeerConnID("conn-stranger"))

	room.AdmitGuest("conn-guest", "Ben", true)

	assert.Equal(t, "conn-guest", room.PeerConnID("conn-host"))
	assert.Equal(t, "conn-host", room.PeerConnID("conn-guest"))
	assert.Equal(t, "", room.PeerConnID("conn-stranger"))
}
