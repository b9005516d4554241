package kafka

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"chatsync/internal/config"
	"chatsync/internal/notifier"
	"chatsync/pkg/logger"
)

// ChangeFeed 通过一个 Kafka topic 在实例之间转发变更事件。
// 消息 key 是 scope，同一 scope 的事件落在同一分区，保持顺序。
// 每个实例使用独立的消费者组，这样每个实例都能收到全部事件。
type ChangeFeed struct {
	producer MessageProducer
	consumer MessageConsumer
	topic    string
	groupID  string
}

// NewChangeFeed 创建基于 Kafka 的变更通道。
func NewChangeFeed(cfg config.KafkaConfig, instanceID string) (*ChangeFeed, error) {
	if cfg.ChangeFeedTopic == "" {
		return nil, fmt.Errorf("kafka change feed: topic is not configured")
	}
	producer, err := NewConfluentKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	return &ChangeFeed{
		producer: producer,
		// 新实例只关心启动之后的事件
		consumer: NewConfluentKafkaConsumer(cfg, "latest"),
		topic:    cfg.ChangeFeedTopic,
		groupID:  GroupID(cfg.ConsumerGroupPrefix, instanceID),
	}, nil
}

// GroupID returns the per-instance consumer group.
func GroupID(prefix, instanceID string) string {
	if prefix == "" {
		prefix = "chatsync-notifier"
	}
	return prefix + "-" + instanceID
}

func (f *ChangeFeed) Publish(ctx context.Context, ev notifier.Event) error {
	data, err := notifier.Encode(ev)
	if err != nil {
		return err
	}
	return f.producer.SendMessage(ctx, f.topic, []byte(ev.Scope.String()), data)
}

// Run 消费变更 topic 直到 ctx 结束。
func (f *ChangeFeed) Run(ctx context.Context, deliver func(notifier.Event)) error {
	return f.consumer.Consume(ctx, []string{f.topic}, f.groupID, func(_ context.Context, msg *kafka.Message) error {
		ev, err := notifier.Decode(msg.Value)
		if err != nil {
			// 格式错误的消息不重试，提交 offset 跳过它
			logger.Warn("dropping malformed change event", "offset", msg.TopicPartition.Offset.String(), "error", err)
			return nil
		}
		deliver(ev)
		return nil
	})
}

// Close 释放生产者和消费者。
func (f *ChangeFeed) Close() {
	f.consumer.Close()
	f.producer.Close()
}
