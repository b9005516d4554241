package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"chatsync/internal/notifier"
	"chatsync/pkg/logger"
)

const channelPrefix = "chatsync:scope:"

// ChangeFeed 通过 Redis Pub/Sub 在实例之间转发变更事件。
// 每个 scope 一个频道，接收端用模式订阅一次拿到全部 scope。
// Pub/Sub 不持久化：实例离线期间的事件会丢失，客户端重连后重新查询即可。
type ChangeFeed struct {
	client redis.UniversalClient
}

// NewChangeFeed 创建基于 Redis 的变更通道。
func NewChangeFeed(client redis.UniversalClient) *ChangeFeed {
	return &ChangeFeed{client: client}
}

// ChannelFor returns the Pub/Sub channel used for scope.
func ChannelFor(scope notifier.Scope) string {
	return channelPrefix + scope.String()
}

func (f *ChangeFeed) Publish(ctx context.Context, ev notifier.Event) error {
	data, err := notifier.Encode(ev)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, ChannelFor(ev.Scope), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Scope, err)
	}
	return nil
}

// Run 订阅全部 scope 频道，直到 ctx 结束。
func (f *ChangeFeed) Run(ctx context.Context, deliver func(notifier.Event)) error {
	pubsub := f.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	// 等待订阅确认，连接失败时尽早返回
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	logger.Info("redis change feed subscribed", "pattern", channelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := notifier.Decode([]byte(msg.Payload))
			if err != nil {
				logger.Warn("dropping malformed change event", "channel", msg.Channel, "error", err)
				continue
			}
			if want := strings.TrimPrefix(msg.Channel, channelPrefix); want != ev.Scope.String() {
				logger.Warn("change event scope does not match channel", "channel", msg.Channel, "scope", ev.Scope.String())
				continue
			}
			deliver(ev)
		}
	}
}
