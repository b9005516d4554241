package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	redisDriver "github.com/redis/go-redis/v9"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	"chatsync/internal/feed"
	"chatsync/internal/handlers/apiserver"
	"chatsync/internal/middleware"
	"chatsync/internal/notifier"
	appRedis "chatsync/internal/redis"
	"chatsync/internal/services"
	"chatsync/internal/storage"
	"chatsync/pkg/logger"
)

func main() {
	// .env 只在本地开发时存在
	_ = godotenv.Load()

	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, !cfg.IsProduction())
	defer logger.Sync()
	logger.Info("API 服务器配置加载成功", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		logger.Fatal("无法初始化数据库", err)
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		logger.Fatal("数据库表迁移失败", err)
	}

	// 3. Redis：redis 变更通道必须有；否则连不上就退回进程内实现
	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		logger.Fatal("无法连接到 Redis", err)
	}
	var (
		blacklist    auth.TokenBlacklist
		rankingCache services.RankingCache
	)
	if redisClient != nil {
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
		rankingCache = appRedis.NewRankingCache(redisClient)
	} else {
		logger.Warn("Redis 不可用，token 黑名单和排行榜缓存只在本实例内生效")
		blacklist = auth.NewMemoryTokenBlacklist()
		rankingCache = services.NewMemoryRankingCache()
	}

	// 4. 变更通知
	instanceID := feed.InstanceID(cfg)
	changeFeed, closeFeed, err := feed.Build(cfg, redisClientOrNil(redisClient), instanceID)
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
	logger.Info("变更通知已启动", "feed", cfg.Feed.Type, "instance", instanceID)

	// 5. Repositories
	userRepo := storage.NewGormUserRepository(db)
	profileRepo := storage.NewGormProfileRepository(db)
	chatRepo := storage.NewGormChatRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	friendshipRepo := storage.NewGormFriendshipRepository(db)
	blockRepo := storage.NewGormBlockedUserRepository(db)
	prizeRepo := storage.NewGormCoinPrizeRepository(db)

	media, err := storage.NewLocalMediaStore(cfg.Storage)
	if err != nil {
		logger.Fatal("无法初始化本地存储服务", err)
	}

	// 6. Services
	unreadService := services.NewUnreadService(chatRepo, msgRepo)
	messageService := services.NewMessageService(db, chatRepo, msgRepo, media, n, nil)
	relationshipService := services.NewRelationshipService(db, userRepo, profileRepo, friendshipRepo, chatRepo, blockRepo, unreadService, n)
	userService := services.NewUserService(userRepo, profileRepo, media)
	authService := services.NewAuthService(userRepo, profileRepo, blacklist, cfg.Auth)
	rankingService := services.NewRankingService(msgRepo, prizeRepo, rankingCache, cfg.Ranking, nil)

	// 7. Handlers 和路由
	limiter := middleware.NewRateLimiter(cfg.RateLimit.MessagesPerWindow, cfg.RateLimit.Window)
	defer limiter.Close()

	authMW := func(next http.Handler) http.Handler {
		return middleware.AuthMiddleware(next, cfg.Auth, blacklist)
	}

	r := mux.NewRouter()
	apiserver.RegisterRoutes(r, apiserver.Handlers{
		Auth:    apiserver.NewAuthHandler(authService, userService),
		User:    apiserver.NewUserHandler(userService, rankingService),
		Upload:  apiserver.NewUploadHandler(userService, messageService, cfg.Storage),
		Chat:    apiserver.NewChatHandler(relationshipService, messageService, unreadService),
		Ranking: apiserver.NewRankingHandler(rankingService),
	}, authMW, limiter)

	// 上传文件的静态访问
	if cfg.Storage.Type == "local" {
		staticPath := strings.TrimSuffix(cfg.Storage.PublicBaseURL, "/") + "/"
		r.PathPrefix(staticPath).Handler(http.StripPrefix(staticPath, http.FileServer(http.Dir(cfg.Storage.LocalPath))))
		logger.Info("提供静态文件服务", "path", staticPath, "dir", cfg.Storage.LocalPath)
	}

	// 8. CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}

	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handlers.CORS(corsOptions...)(r),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		IdleTimeout:    60 * time.Second,
	}

	go func() {
		logger.Info("API 服务器启动", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API 服务器启动失败", err)
		}
	}()

	<-ctx.Done()
	logger.Info("收到关闭信号，正在关闭 API 服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API 服务器强制关闭", "error", err)
	}
	logger.Info("API 服务器已关闭")
}

// connectRedis 在 FEED.TYPE=redis 时要求 Redis 可用；其它情况下连接失败返回 nil 客户端。
func connectRedis(ctx context.Context, cfg config.Config) (*redisDriver.Client, error) {
	client, err := appRedis.NewClient(ctx, cfg.Redis)
	if err == nil {
		return client, nil
	}
	if cfg.Feed.Type == "redis" {
		return nil, err
	}
	logger.Warn("Redis 连接失败", "addr", cfg.Redis.Addr, "error", err)
	return nil, nil
}

// redisClientOrNil 避免把 nil *Client 包成非 nil 接口。
func redisClientOrNil(c *redisDriver.Client) redisDriver.UniversalClient {
	if c == nil {
		return nil
	}
	return c
}
