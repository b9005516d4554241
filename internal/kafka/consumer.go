package kafka

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"chatsync/internal/config"
	"chatsync/pkg/logger"
)

// MessageHandler processes one consumed Kafka message.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer    *kafka.Consumer
	cfg         config.KafkaConfig
	groupID     string
	offsetReset string
}

// NewConfluentKafkaConsumer 创建消费者。offsetReset 为 "earliest" 或 "latest"，
// 决定新消费者组从哪里开始读。
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, offsetReset string) MessageConsumer {
	if offsetReset == "" {
		offsetReset = "earliest"
	}
	return &confluentKafkaConsumer{cfg: cfg, offsetReset: offsetReset}
}

// Consume blocks until ctx is cancelled or a fatal error occurs.
// 处理成功的消息才提交 offset。
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID
	// 上一次 Consume 因致命错误退出后会被重新调用，先释放旧的消费者
	c.Close()

	configMap := baseConfigMap(c.cfg)
	_ = configMap.SetKey("group.id", groupID)
	_ = configMap.SetKey("auto.offset.reset", c.offsetReset)
	_ = configMap.SetKey("enable.auto.commit", false)

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}
	logger.Info("Kafka consumer started", "group", groupID, "topics", topics)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Kafka consumer stopping", "group", groupID)
			return nil
		default:
		}

		ev := c.consumer.Poll(500)
		if ev == nil {
			continue
		}
		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				logger.Warn("kafka message handler failed",
					"group", groupID, "topic", *e.TopicPartition.Topic, "offset", e.TopicPartition.Offset.String(), "error", err)
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				logger.Warn("kafka offset commit failed", "group", groupID, "error", err)
			}
		case kafka.Error:
			if e.IsFatal() {
				logger.Error("fatal Kafka consumer error", "group", groupID, "error", e)
				c.Close()
				return e
			}
			logger.Warn("kafka consumer error", "group", groupID, "error", e, "code", e.Code().String())
		case kafka.AssignedPartitions:
			logger.Info("kafka partitions assigned", "group", groupID, "count", len(e.Partitions))
			_ = c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			logger.Info("kafka partitions revoked", "group", groupID, "count", len(e.Partitions))
			_ = c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		logger.Warn("error closing Kafka consumer", "group", c.groupID, "error", err)
	}
	c.consumer = nil
}
