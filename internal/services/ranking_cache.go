package services

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/models"
)

// RankingCache 保存短期的排行榜快照。实现可以是进程内的，也可以是 Redis。
type RankingCache interface {
	Get(ctx context.Context, key string) ([]models.RankingEntry, bool, error)
	Set(ctx context.Context, key string, entries []models.RankingEntry, ttl time.Duration) error
}

type memoryEntry struct {
	entries []models.RankingEntry
	expires time.Time
}

// MemoryRankingCache is a process-local RankingCache.
type MemoryRankingCache struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryRankingCache() *MemoryRankingCache {
	return &MemoryRankingCache{items: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryRankingCache) Get(_ context.Context, key string) ([]models.RankingEntry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(item.expires) {
		return nil, false, nil
	}
	out := make([]models.RankingEntry, len(item.entries))
	copy(out, item.entries)
	return out, true, nil
}

func (c *MemoryRankingCache) Set(_ context.Context, key string, entries []models.RankingEntry, ttl time.Duration) error {
	stored := make([]models.RankingEntry, len(entries))
	copy(stored, entries)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// 顺便清理过期项，键按窗口起点区分，旧窗口的键不会再被读到
	for k, item := range c.items {
		if !now.Before(item.expires) {
			delete(c.items, k)
		}
	}
	c.items[key] = memoryEntry{entries: stored, expires: now.Add(ttl)}
	return nil
}
