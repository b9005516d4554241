package notifier

import (
	"context"
	"time"

	"chatsync/pkg/logger"
)

// Feed 是跨实例的实时变更通道（Redis pub/sub 或 Kafka）。
// 它只负责把事件带到其它实例，不保证离线投递。
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	// Run 阻塞消费远端事件直到 ctx 结束。
	Run(ctx context.Context, deliver func(Event)) error
}

// Notifier 组合本地 Broker 和可选的 Feed：
// 本地发布立即投递给本进程的订阅者，同时转发到 Feed；其它实例发布的事件经 Run 重新在本地发布。
type Notifier struct {
	broker *Broker
	feed   Feed
	origin string
	now    func() time.Time

	// publishTimeout 限制单次转发到 Feed 的等待时间，写路径的响应不能被 Feed 拖住
	publishTimeout time.Duration
	// Feed 断开后按指数退避重连
	retryMin, retryMax time.Duration
}

const (
	feedPublishTimeout = 2 * time.Second
	feedRetryMin       = 500 * time.Millisecond
	feedRetryMax       = 30 * time.Second
)

// New creates a notifier. feed may be nil for a single-instance deployment.
func New(broker *Broker, feed Feed, origin string) *Notifier {
	return &Notifier{
		broker:         broker,
		feed:           feed,
		origin:         origin,
		now:            func() time.Time { return time.Now().UTC() },
		publishTimeout: feedPublishTimeout,
		retryMin:       feedRetryMin,
		retryMax:       feedRetryMax,
	}
}

// Publish emits one event for scope. Failures to reach the feed are logged, never returned:
// the change it signals has already been committed.
func (n *Notifier) Publish(ctx context.Context, scope Scope, kind EventKind, chatID, actorID uint) {
	ev := Event{
		Scope:   scope,
		Kind:    kind,
		ChatID:  chatID,
		ActorID: actorID,
		At:      n.now(),
		Origin:  n.origin,
	}
	n.broker.Publish(ev)
	if n.feed == nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, n.publishTimeout)
	defer cancel()
	if err := n.feed.Publish(fctx, ev); err != nil {
		logger.Warn("failed to forward change event to feed", "scope", scope.String(), "kind", string(kind), "error", err)
	}
}

func (n *Notifier) Subscribe(scope Scope, handler Handler) *Subscription {
	return n.broker.Subscribe(scope, handler)
}

func (n *Notifier) Unsubscribe(sub *Subscription) {
	n.broker.Unsubscribe(sub)
}

// Origin is this instance's id as stamped on outgoing events.
func (n *Notifier) Origin() string {
	return n.origin
}

// Run relays remote events into the local broker until ctx is done.
// 订阅失败或连接断开时按退避重新订阅，只在 ctx 结束时返回。
func (n *Notifier) Run(ctx context.Context) error {
	if n.feed == nil {
		<-ctx.Done()
		return nil
	}
	deliver := func(ev Event) {
		if ev.Origin == n.origin {
			return
		}
		n.broker.Publish(ev)
	}

	backoff := n.retryMin
	for {
		logger.Info("change feed consumer started", "origin", n.origin)
		started := time.Now()
		err := n.feed.Run(ctx, deliver)
		if ctx.Err() != nil {
			return nil
		}
		// 运行了足够久说明之前连接正常，从最小间隔重新开始
		if time.Since(started) > n.retryMax {
			backoff = n.retryMin
		}
		logger.Error("change feed consumer stopped, retrying", "origin", n.origin, "retryIn", backoff.String(), "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, n.retryMax)
	}
}
