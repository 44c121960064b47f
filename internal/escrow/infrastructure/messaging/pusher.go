package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Publisher 消息发布，*mq.Producer 实现
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

// DispatchMetrics outbox 投递指标
type DispatchMetrics interface {
	RecordOutboxDispatch(result string, n int)
}

// eventHeader 账本事件中用于消息头的字段
type eventHeader struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

// NewKafkaPusher 把 outbox 消息推送到 Kafka，event_id/event_type 同时写入消息头供下游去重与路由
// metrics 可为 nil
func NewKafkaPusher(publisher Publisher, metrics DispatchMetrics, logger *slog.Logger) func(ctx context.Context, topic, key string, payload []byte) error {
	return func(ctx context.Context, topic, key string, payload []byte) error {
		var headers map[string]string
		var h eventHeader
		if err := json.Unmarshal(payload, &h); err == nil && h.EventID != "" {
			headers = map[string]string{"event_id": h.EventID, "event_type": h.EventType}
		}

		if err := publisher.Publish(ctx, topic, key, payload, headers); err != nil {
			logger.WarnContext(ctx, "failed to push outbox message", "topic", topic, "key", key, "event_type", h.EventType, "error", err)
			record(metrics, "failed")
			return err
		}
		record(metrics, "sent")
		return nil
	}
}

func record(m DispatchMetrics, result string) {
	if m != nil {
		m.RecordOutboxDispatch(result, 1)
	}
}
