package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	// --- 导入内部包 ---
	httpHandler "pair-canvas/internal/handler/http"
	wsHandler "pair-canvas/internal/handler/websocket"
	"pair-canvas/internal/hub"
	"pair-canvas/internal/middleware"
	"pair-canvas/internal/service"
	"pair-canvas/internal/tasks"
	"pair-canvas/internal/worker"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	ServerPort        string
	LogLevel          string
	AppEnv            string // development / production
	AppURL            string // 用于拼接分享链接
	CorsAllowedOrigin string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis key 前缀

	RateLimitMax    int
	RateLimitWindow time.Duration

	// 房间生命周期策略
	AutoApproveGuests bool          // true: 第一个访客自动批准；false: 显式批准门（默认）
	GracePeriod       time.Duration // 房主断线重连宽限
	RoomIdleTTL       time.Duration // waiting 房间空闲回收阈值
	SweepInterval     time.Duration // 回收任务调度间隔

	// 每连接入站消息限速
	WSMsgsPerSec float64
	WSBurst      int
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件（如果存在），忽略错误，允许只使用环境变量
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:        os.Getenv("SERVER_PORT"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		AppEnv:            os.Getenv("APP_ENV"),
		AppURL:            os.Getenv("APP_URL"),
		CorsAllowedOrigin: os.Getenv("CORS_ALLOWED_ORIGIN"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         os.Getenv("REDIS_KEY_PREFIX"),
		// --- 默认值 ---
		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
		GracePeriod:     10 * time.Second,
		RoomIdleTTL:     1 * time.Hour,
		SweepInterval:   5 * time.Minute,
		WSMsgsPerSec:    60,
		WSBurst:         120,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB")) // 忽略错误，默认为 0
	cfg.AutoApproveGuests = os.Getenv("AUTO_APPROVE_GUESTS") == "true"

	if d, err := time.ParseDuration(os.Getenv("GRACE_PERIOD")); err == nil && d > 0 {
		cfg.GracePeriod = d
	}
	if d, err := time.ParseDuration(os.Getenv("ROOM_IDLE_TTL")); err == nil && d > 0 {
		cfg.RoomIdleTTL = d
	}
	if d, err := time.ParseDuration(os.Getenv("SWEEP_INTERVAL")); err == nil && d > 0 {
		cfg.SweepInterval = d
	}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_MAX")); err == nil && n > 0 {
		cfg.RateLimitMax = n
	}
	if f, err := strconv.ParseFloat(os.Getenv("WS_MSGS_PER_SEC"), 64); err == nil && f > 0 {
		cfg.WSMsgsPerSec = f
	}
	if n, err := strconv.Atoi(os.Getenv("WS_BURST")); err == nil && n > 0 {
		cfg.WSBurst = n
	}

	// --- 设置其他默认值和进行必要检查 ---
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "pc:"
	}
	if cfg.AppURL == "" {
		cfg.AppURL = "http://localhost:" + cfg.ServerPort
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // 已在 LoadConfig 中验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	log.Infof("Logger initialized (Level: %s)", logLevel.String())
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	// 4. 初始化 Services
	log.Info("Initializing services...")
	roomService := service.NewRoomService(service.RoomServiceConfig{
		AppURL:      cfg.AppURL,
		AutoApprove: cfg.AutoApproveGuests,
		GracePeriod: cfg.GracePeriod,
		RoomIdleTTL: cfg.RoomIdleTTL,
	})
	relayService := service.NewRelayService(roomService)
	log.Infof("Services initialized (join policy: auto-approve=%v)", cfg.AutoApproveGuests)

	// 5. 初始化 Hub
	hubInstance := hub.NewHub(roomService, relayService)
	log.Info("Hub initialized")

	// 6. 初始化 Handlers
	roomHandler := httpHandler.NewRoomHandler(roomService)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, cfg.WSMsgsPerSec, cfg.WSBurst)
	log.Info("Handlers initialized")

	// 7. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, roomService, log)
	log.Info("Worker server initialized")

	// 8. 初始化 Gin Engine 和路由
	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))

	router.Use(func(c *gin.Context) { /* CORS */
		allowedOrigin := cfg.CorsAllowedOrigin
		if allowedOrigin == "" {
			allowedOrigin = "http://localhost:3000" // 开发默认
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))

	// --- 设置路由 ---
	api := router.Group("/api")
	{
		api.GET("/rooms/:code", roomHandler.GetRoom)
	}
	router.GET("/ws", websocketHandler.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	// 9. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}
	log.Info("HTTP server initialized")

	// 10. 组装 App 对象
	app := &App{
		Config:         cfg,
		Log:            log,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")

	return app, nil
}

// Start 启动应用的所有后台 goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 注册周期性的空闲房间回收任务
func (a *App) registerPeriodicTasks() {
	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	taskPayload, err := tasks.NewRoomSweepTask()
	if err != nil {
		a.Log.Errorf("Failed to create room sweep task payload: %v", err)
		return
	}
	task := asynq.NewTask(tasks.TypeRoomSweep, taskPayload)

	schedule := fmt.Sprintf("@every %s", a.Config.SweepInterval)
	entryID, err := a.scheduler.Register(schedule, task, asynq.Queue("default"))
	if err != nil {
		a.Log.Errorf("Could not register periodic room sweep task: %v", err)
	} else {
		a.Log.Infof("Periodic room sweep task registered with schedule '%s' (EntryID: %s)", schedule, entryID)
	}

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.scheduler.Run(); err != nil {
			if !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止调度器和 Worker
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 2. 停止 Hub 的分发循环
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 3. 优雅关闭 HTTP 服务器
	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 4. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		} else {
			a.Log.Info("Asynq client closed.")
		}
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else {
			if statusCode >= 500 {
				entry.Error("Server error")
			} else if statusCode >= 400 {
				entry.Warn("Client error")
			} else {
				entry.Info("Request handled")
			}
		}
	}
}
