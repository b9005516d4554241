// Package redis holds the Redis-backed pieces shared by every instance:
// the token blacklist, the change feed and the ranking cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatsync/internal/config"
	"chatsync/pkg/logger"
)

// NewClient 创建 Redis 客户端并确认连接可用。
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("无法连接到 Redis (%s): %w", cfg.Addr, err)
	}
	logger.Info("Redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
