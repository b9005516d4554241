package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	redisDriver "github.com/redis/go-redis/v9"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	"chatsync/internal/feed"
	"chatsync/internal/handlers/chatserver"
	"chatsync/internal/notifier"
	appRedis "chatsync/internal/redis"
	"chatsync/internal/services"
	"chatsync/internal/storage"
	"chatsync/internal/websocket"
	"chatsync/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, !cfg.IsProduction())
	defer logger.Sync()
	logger.Info("Chat 服务器配置加载成功", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 数据库
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		logger.Fatal("无法初始化数据库", err)
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		logger.Fatal("数据库表迁移失败", err)
	}

	// 3. Redis
	var (
		redisClient redisDriver.UniversalClient
		blacklist   auth.TokenBlacklist
	)
	client, err := appRedis.NewClient(ctx, cfg.Redis)
	switch {
	case err == nil:
		defer client.Close()
		redisClient = client
		blacklist = appRedis.NewRedisTokenBlacklist(client)
	case cfg.Feed.Type == "redis":
		logger.Fatal("无法连接到 Redis", err)
	default:
		// 没有共享黑名单时，在 API 服务器上注销的 token 在这里仍然有效
		logger.Warn("Redis 不可用，使用进程内 token 黑名单", "error", err)
		blacklist = auth.NewMemoryTokenBlacklist()
	}

	// 4. 变更通知：推送服务器只消费，写入都发生在 API 服务器上
	if cfg.Feed.Type == "local" {
		logger.Warn("FEED.TYPE=local：API 服务器产生的变更不会推送到本进程")
	}
	instanceID := feed.InstanceID(cfg)
	changeFeed, closeFeed, err := feed.Build(cfg, redisClient, instanceID)
	if err != nil {
		logger.Fatal("无法创建变更通道", err)
	}
	defer closeFeed()
	broker := notifier.NewBroker(cfg.Feed.QueueSize)
	defer broker.Close()
	n := notifier.New(broker, changeFeed, instanceID)
	go func() {
		if err := n.Run(ctx); err != nil {
			logger.Error("变更通道停止", "error", err)
		}
	}()

	// 5. 会话解析和会话查询用到的服务
	userRepo := storage.NewGormUserRepository(db)
	profileRepo := storage.NewGormProfileRepository(db)
	chatRepo := storage.NewGormChatRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	media, err := storage.NewLocalMediaStore(cfg.Storage)
	if err != nil {
		logger.Fatal("无法初始化本地存储服务", err)
	}
	unreadService := services.NewUnreadService(chatRepo, msgRepo)
	relationshipService := services.NewRelationshipService(db, userRepo, profileRepo,
		storage.NewGormFriendshipRepository(db), chatRepo, storage.NewGormBlockedUserRepository(db), unreadService, n)
	userService := services.NewUserService(userRepo, profileRepo, media)
	authService := services.NewAuthService(userRepo, profileRepo, blacklist, cfg.Auth)

	// 6. WebSocket Hub
	hub := websocket.NewHub()
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()
	logger.Info("WebSocket Hub 已启动")

	wsHandler := chatserver.NewWebSocketHandler(ctx, hub, n, relationshipService, authService, userService, blacklist, cfg)

	r := mux.NewRouter()
	r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok clients=%d\n", hub.ClientCount())
	}).Methods(http.MethodGet)

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	// WebSocket 连接是长连接，不设置 Read/WriteTimeout
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Info("Chat 服务器启动", "addr", serverAddr, "path", cfg.Server.WebSocketPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Chat 服务器启动失败", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Chat 服务器准备关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Chat 服务器关闭失败", "error", err)
	}
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		logger.Warn("等待 WebSocket 连接关闭超时")
	}
	logger.Info("Chat 服务器已关闭")
}
