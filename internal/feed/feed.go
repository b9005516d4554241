// Package feed picks the change feed that links notifier instances.
package feed

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chatsync/internal/config"
	appKafka "chatsync/internal/kafka"
	"chatsync/internal/notifier"
	appRedis "chatsync/internal/redis"
)

// InstanceID 返回配置的实例 id，未配置时每次启动生成一个新的。
func InstanceID(cfg config.Config) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	return uuid.NewString()
}

// Build 按 FEED.TYPE 创建变更通道。local 返回 nil：事件只在本进程内投递。
// 返回的 closeFn 总是非 nil。
func Build(cfg config.Config, client redis.UniversalClient, instanceID string) (notifier.Feed, func(), error) {
	noop := func() {}
	switch cfg.Feed.Type {
	case "", "local":
		return nil, noop, nil
	case "redis":
		if client == nil {
			return nil, noop, fmt.Errorf("feed: redis change feed needs a redis client")
		}
		return appRedis.NewChangeFeed(client), noop, nil
	case "kafka":
		f, err := appKafka.NewChangeFeed(cfg.Kafka, instanceID)
		if err != nil {
			return nil, noop, err
		}
		return f, f.Close, nil
	default:
		return nil, noop, fmt.Errorf("feed: unsupported type %q", cfg.Feed.Type)
	}
}
