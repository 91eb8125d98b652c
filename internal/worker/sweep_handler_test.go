package worker_test

import (
	"context"
	"testing"
	"time"

	"pair-canvas/internal/service"
	"pair-canvas/internal/tasks"
	"pair-canvas/internal/worker"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoomService(t *testing.T, idleTTL time.Duration) *service.RoomService {
	t.Helper()
	return service.NewRoomService(service.RoomServiceConfig{
		AppURL:      "http://localhost:8080",
		AutoApprove: true,
		GracePeriod: time.Second,
		RoomIdleTTL: idleTTL,
	})
}

func TestProcessTask_SweepsIdleRooms(t *testing.T) {
	// TTL 设为极短，使刚创建的 waiting 房间立刻过期
	roomService := newRoomService(t, time.Nanosecond)
	_, err := roomService.CreateRoom("conn-ava", "Ava")
	require.NoError(t, err)
	require.Equal(t, 1, roomService.RoomCount())

	payload, err := tasks.NewRoomSweepTask()
	require.NoError(t, err)

	handler := worker.NewRoomSweepHandler(roomService)
	err = handler.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeRoomSweep, payload))

	assert.NoError(t, err)
	assert.Equal(t, 0, roomService.RoomCount())
}

func TestProcessTask_MalformedPayloadSkipsRetry(t *testing.T) {
	handler := worker.NewRoomSweepHandler(newRoomService(t, time.Hour))

	err := handler.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeRoomSweep, []byte("{not json")))

	// 载荷损坏时不值得重试
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
