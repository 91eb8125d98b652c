package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"pair-canvas/internal/service"
	"pair-canvas/internal/tasks"
)

// RoomSweepHandler 处理周期性的空闲房间回收任务。
// 真正的状态/年龄检查在 RoomService 的锁内完成；
// 与正在进行的加入请求竞争时以注册表为准，不会误删。
type RoomSweepHandler struct {
	roomService *service.RoomService
}

// NewRoomSweepHandler 创建 Handler 实例。
func NewRoomSweepHandler(roomService *service.RoomService) *RoomSweepHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomSweepHandler")
	}
	return &RoomSweepHandler{roomService: roomService}
}

// ProcessTask 实现 asynq.Handler 接口。
func (h *RoomSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	var payload tasks.RoomSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	removed := h.roomService.SweepIdleRooms(time.Now())
	logCtx.WithFields(logrus.Fields{
		"removed":      removed,
		"remaining":    h.roomService.RoomCount(),
		"scheduled_at": payload.ScheduledAt,
	}).Info("Idle room sweep completed")
	return nil
}
