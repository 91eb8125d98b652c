package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"pair-canvas/internal/service"
	"pair-canvas/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑。
type WorkerServer struct {
	server      *asynq.Server
	log         *logrus.Entry
	roomService *service.RoomService
}

// NewWorkerServer 创建一个新的 WorkerServer 实例。
func NewWorkerServer(redisOpt asynq.RedisClientOpt, roomService *service.RoomService, logger *logrus.Logger) *WorkerServer {
	if roomService == nil {
		panic("RoomService cannot be nil for WorkerServer")
	}
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:      server,
		log:         logEntry,
		roomService: roomService,
	}
}

// Start 运行 Worker Server，应该在单独的 goroutine 中调用。
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()

	sweepHandler := NewRoomSweepHandler(ws.roomService)
	mux.HandleFunc(tasks.TypeRoomSweep, sweepHandler.ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown 优雅地关闭 Worker Server。
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
