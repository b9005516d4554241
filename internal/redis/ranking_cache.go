package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatsync/internal/models"
)

const rankingKeyPrefix = "chatsync:"

// RankingCache 把排行榜快照以 JSON 存进 Redis，多个实例共享。
type RankingCache struct {
	client redis.UniversalClient
}

func NewRankingCache(client redis.UniversalClient) *RankingCache {
	return &RankingCache{client: client}
}

func (c *RankingCache) Get(ctx context.Context, key string) ([]models.RankingEntry, bool, error) {
	data, err := c.client.Get(ctx, rankingKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var entries []models.RankingEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// 损坏的缓存当作未命中
		return nil, false, nil
	}
	return entries, true, nil
}

func (c *RankingCache) Set(ctx context.Context, key string, entries []models.RankingEntry, ttl time.Duration) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, rankingKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
