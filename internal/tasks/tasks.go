package tasks

import (
	"encoding/json"
	"time"
)

// 定义任务类型常量
const (
	// TypeRoomSweep 周期性空闲房间回收任务
	TypeRoomSweep = "room:sweep"
)

// RoomSweepPayload 定义空闲房间回收任务的数据结构。
// 回收是建议性清理而非正确性关键路径，载荷只携带调度时刻用于日志。
type RoomSweepPayload struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NewRoomSweepTask 创建一个新的空闲房间回收任务载荷。
func NewRoomSweepTask() ([]byte, error) {
	payload := RoomSweepPayload{ScheduledAt: time.Now()}
	return json.Marshal(payload)
}
