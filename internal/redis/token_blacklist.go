package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatsync/internal/auth"

	"github.com/redis/go-redis/v9"
)

// redisTokenBlacklist 是 auth.TokenBlacklist 的 Redis 实现，所有实例共享同一份黑名单。
type redisTokenBlacklist struct {
	client redis.UniversalClient
}

// NewRedisTokenBlacklist 创建一个新的 redisTokenBlacklist 实例。
func NewRedisTokenBlacklist(client redis.UniversalClient) auth.TokenBlacklist {
	return &redisTokenBlacklist{client: client}
}

const blacklistKeyPrefix = "chatsync:bl:jti:"

// Add 写入 jti，键的 TTL 等于 token 剩余的有效期。已经过期的 token 不需要记录。
func (r *redisTokenBlacklist) Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error {
	ttl := time.Until(originalTokenExpTime)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, blacklistKeyPrefix+jti, "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("写入 Redis 黑名单失败 (jti %s): %w", jti, err)
	}
	return nil
}

func (r *redisTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("查询 Redis 黑名单失败 (jti %s): %w", jti, err)
	}
	return n > 0, nil
}
