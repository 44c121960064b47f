// Package mq 提供 Kafka producer/consumer 通用实现，支持重试、死信队列与至少一次消费
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	SessionTimeout int
	MaxRetries     int
	RetryBackoff   int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer Kafka 生产者
type Producer struct {
	writer messageWriter
	log    *slog.Logger
}

// NewProducer 创建 Kafka 生产者，topic 由每条消息指定
func NewProducer(cfg KafkaConfig, log *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}
	log.Info("kafka producer created", "brokers", cfg.Brokers)
	return &Producer{writer: writer, log: log}
}

// Publish 发送一条已序列化的消息
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.ErrorContext(ctx, "failed to send kafka message", "topic", topic, "key", key, "error", err)
		return err
	}
	p.log.DebugContext(ctx, "kafka message sent", "topic", topic, "key", key)
	return nil
}

// PublishJSON 序列化后发送
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Publish(ctx, topic, key, data, nil)
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler 消息处理函数
type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer Kafka 消费者，手动提交位点
type Consumer struct {
	reader messageReader
	dlq    *DeadLetterQueue
	log    *slog.Logger
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg KafkaConfig, topic string, dlq *DeadLetterQueue, log *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: time.Duration(cfg.SessionTimeout) * time.Second,
		StartOffset:    kafka.LastOffset,
		MaxBytes:       10e6,
	})
	log.Info("kafka consumer created", "brokers", cfg.Brokers, "topic", topic, "group_id", cfg.GroupID)
	return &Consumer{reader: reader, dlq: dlq, log: log}
}

// Run 循环拉取并处理消息，处理失败的消息转入死信队列后提交位点
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.log.ErrorContext(ctx, "failed to fetch kafka message", "error", err)
			return err
		}

		if herr := handle(ctx, msg); herr != nil {
			c.log.ErrorContext(ctx, "kafka message handling failed",
				"topic", msg.Topic, "offset", msg.Offset, "key", string(msg.Key), "error", herr)
			if c.dlq != nil {
				if derr := c.dlq.Send(ctx, msg, herr); derr != nil {
					// 死信也失败时不提交，等待重投
					return derr
				}
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.ErrorContext(ctx, "failed to commit kafka offset", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			return err
		}
	}
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	producer *Producer
	topic    string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer *Producer, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{producer: producer, topic: topic}
}

// Send 发送消息到死信队列
func (d *DeadLetterQueue) Send(ctx context.Context, original kafka.Message, cause error) error {
	return d.producer.PublishJSON(ctx, d.topic, string(original.Key), map[string]any{
		"original_topic":    original.Topic,
		"original_key":      string(original.Key),
		"original_value":    string(original.Value),
		"original_offset":   original.Offset,
		"original_time":     original.Time,
		"failure_error":     cause.Error(),
		"failure_timestamp": time.Now().UTC(),
	})
}
