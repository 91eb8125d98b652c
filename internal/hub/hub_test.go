package hub

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"pair-canvas/internal/dto"
	"pair-canvas/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHub 构造不依赖真实 WebSocket 连接的 Hub。
// 测试直接调用 registerClient / dispatch / unregisterClient，
// 与 Run 循环的串行处理等价。
func newTestHub(autoApprove bool) *Hub {
	rooms := service.NewRoomService(service.RoomServiceConfig{
		AppURL:      "http://localhost:8080",
		AutoApprove: autoApprove,
		GracePeriod: time.Second,
		RoomIdleTTL: time.Hour,
	})
	return NewHub(rooms, service.NewRelayService(rooms))
}

// newTestClient 创建未启动读写泵的客户端（conn 为 nil 也不会被触碰）。
func newTestClient(h *Hub) *Client {
	return NewClient(h, nil, 60, 120)
}

// recvEvent 从客户端发送队列取出下一条事件。
// dispatch 是同步的，事件要么已经入队要么不存在，无需等待。
func recvEvent(t *testing.T, c *Client) (dto.Envelope, bool) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			return dto.Envelope{}, false
		}
		var env dto.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env, true
	default:
		return dto.Envelope{}, false
	}
}

// drain 清空客户端发送队列，返回取出的事件类型序列。
func drain(t *testing.T, c *Client) []string {
	t.Helper()
	var types []string
	for {
		env, ok := recvEvent(t, c)
		if !ok {
			return types
		}
		types = append(types, env.Type)
	}
}

// dispatchRaw 以 JSON 文本形式下发一条入站命令。
func dispatchRaw(h *Hub, c *Client, format string, args ...interface{}) {
	h.dispatch(c, []byte(fmt.Sprintf(format, args...)))
}

func TestHub_CreateRoomCommand(t *testing.T) {
	h := newTestHub(false)
	host := newTestClient(h)
	h.registerClient(host)

	dispatchRaw(h, host, `{"type":"create-room","payload":{"userName":"Ava"}}`)

	env, ok := recvEvent(t, host)
	require.True(t, ok, "房主应收到 room-created")
	assert.Equal(t, dto.TypeRoomCreated, env.Type)

	var payload dto.RoomCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Len(t, payload.RoomID, 8)
	assert.Equal(t, "Ava", payload.UserName)
}

func TestHub_JoinMissingRoom_Error(t *testing.T) {
	h := newTestHub(false)
	guest := newTestClient(h)
	h.registerClient(guest)

	dispatchRaw(h, guest, `{"type":"join-room","payload":{"roomId":"NOPE1234","userName":"Ben","userRole":"guest"}}`)

	env, ok := recvEvent(t, guest)
	require.True(t, ok)
	assert.Equal(t, dto.TypeRoomError, env.Type)

	var payload dto.RoomErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "Room not found", payload.Message)
}

// setupActivePair 走完整的创建+加入流程，返回已激活房间的双方客户端和房间码。
func setupActivePair(t *testing.T, h *Hub) (host, guest *Client, code string) {
	t.Helper()
	host = newTestClient(h)
	guest = newTestClient(h)
	h.registerClient(host)
	h.registerClient(guest)

	dispatchRaw(h, host, `{"type":"create-room","payload":{"userName":"Ava"}}`)
	env, ok := recvEvent(t, host)
	require.True(t, ok)
	var created dto.RoomCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &created))
	code = created.RoomID

	dispatchRaw(h, guest, `{"type":"join-room","payload":{"roomId":%q,"userName":"Ben","userRole":"guest"}}`, code)
	return host, guest, code
}

func TestHub_SessionFlow_AutoApprove(t *testing.T) {
	h := newTestHub(true)
	host, guest, _ := setupActivePair(t, h)

	assert.Equal(t, []string{dto.TypePartnerJoined, dto.TypeRoomActive}, drain(t, host))
	assert.Equal(t, []string{dto.TypeRoomJoined, dto.TypeRoomActive}, drain(t, guest))
}

func TestHub_SessionFlow_ApprovalGate(t *testing.T) {
	h := newTestHub(false)
	host, guest, code := setupActivePair(t, h)

	assert.Equal(t, []string{dto.TypeJoinRequest}, drain(t, host))
	assert.Equal(t, []string{dto.TypeAwaitingApproval}, drain(t, guest))

	dispatchRaw(h, host, `{"type":"approve-guest","payload":{"roomId":%q,"approved":true}}`, code)

	assert.Equal(t, []string{dto.TypePartnerJoined, dto.TypeRoomActive}, drain(t, host))
	assert.Equal(t, []string{dto.TypeRoomJoined, dto.TypeRoomActive}, drain(t, guest))
}

func TestHub_RelayDrawingData(t *testing.T) {
	h := newTestHub(true)
	host, guest, _ := setupActivePair(t, h)
	drain(t, host)
	drain(t, guest)

	dispatchRaw(h, host, `{"type":"drawing-data","payload":{"path":{"color":"#000"}}}`)

	env, ok := recvEvent(t, guest)
	require.True(t, ok, "对端应收到转发的绘图事件")
	assert.Equal(t, dto.TypeDrawingData, env.Type)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Payload, &fields))
	assert.Equal(t, "Ava", fields["user"])
	assert.Equal(t, host.ID(), fields["senderId"])

	// 不回显给发送者
	assert.Empty(t, drain(t, host))
}

func TestHub_IgnoresMalformedAndUnknown(t *testing.T) {
	h := newTestHub(true)
	host, guest, _ := setupActivePair(t, h)
	drain(t, host)
	drain(t, guest)

	h.dispatch(host, []byte(`not json at all`))
	dispatchRaw(h, host, `{"type":"self-destruct","payload":{}}`)

	assert.Empty(t, drain(t, host))
	assert.Empty(t, drain(t, guest))
}

func TestHub_UnregisterGuest_NotifiesHost(t *testing.T) {
	h := newTestHub(true)
	host, guest, code := setupActivePair(t, h)
	drain(t, host)
	drain(t, guest)

	h.unregisterClient(guest)

	assert.Equal(t, []string{dto.TypePartnerDisconnected, dto.TypePartnerLeft}, drain(t, host))

	// 访客离开后房间回到 waiting，允许新访客加入
	replacement := newTestClient(h)
	h.registerClient(replacement)
	dispatchRaw(h, replacement, `{"type":"join-room","payload":{"roomId":%q,"userName":"Cleo","userRole":"guest"}}`, code)
	assert.Equal(t, []string{dto.TypeRoomJoined, dto.TypeRoomActive}, drain(t, replacement))
	drain(t, host)

	// 重复注销是 no-op
	h.unregisterClient(guest)
	assert.Empty(t, drain(t, host))
}

func TestHub_UnregisterHost_NotifiesGuest(t *testing.T) {
	h := newTestHub(true)
	host, guest, _ := setupActivePair(t, h)
	drain(t, host)
	drain(t, guest)

	h.unregisterClient(host)

	assert.Equal(t, []string{dto.TypePartnerDisconnected}, drain(t, guest))
}

func TestHub_RunAndStop(t *testing.T) {
	h := newTestHub(true)
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	client := newTestClient(h)
	require.True(t, h.QueueMessage(HubMessage{Type: "register", Client: client}))

	h.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}

	// Run 退出前已处理完队列中的注册消息
	_, registered := h.clients[client.ID()]
	assert.True(t, registered)

	// 重复 Stop 是安全的
	h.Stop()
}
