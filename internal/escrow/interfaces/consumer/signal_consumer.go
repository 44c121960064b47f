// Package consumer 托管账本的事件消费入口：Kafka 信号与进程内信号
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
)

// SignalHandler 条件信号处理，由 AutoReleaseScheduler 实现
type SignalHandler interface {
	OnSignal(ctx context.Context, signal domain.Signal) (int, error)
}

// SignalConsumer 把外部业务事件翻译为放款条件信号
type SignalConsumer struct {
	handler SignalHandler
	topics  map[string]domain.ConditionType
	logger  *slog.Logger
}

// NewSignalConsumer topics 为 topic 到条件类型的映射
func NewSignalConsumer(handler SignalHandler, topics map[string]domain.ConditionType, logger *slog.Logger) *SignalConsumer {
	return &SignalConsumer{handler: handler, topics: topics, logger: logger}
}

type signalPayload struct {
	Type          string `json:"type"`
	ReferenceID   string `json:"reference_id"`
	MilestoneID   string `json:"milestone_id"`
	DocumentType  string `json:"document_type"`
	OpportunityID string `json:"opportunity_id"`
}

// Decode 解析消息；显式 type/reference_id 优先，否则按 topic 推断
// 缺少 opportunity_id 的里程碑与文档信号视为非法
func (s *SignalConsumer) Decode(msg kafka.Message) (domain.Signal, error) {
	var p signalPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return domain.Signal{}, fmt.Errorf("%w: malformed signal payload: %v", domain.ErrInvalidInput, err)
	}
	sig := domain.Signal{Type: domain.ConditionType(p.Type), OpportunityID: p.OpportunityID, ReferenceID: p.ReferenceID}
	if p.Type == "" {
		typ, ok := s.topics[msg.Topic]
		if !ok {
			return domain.Signal{}, fmt.Errorf("%w: no condition type bound to topic %q", domain.ErrInvalidInput, msg.Topic)
		}
		sig.Type = typ
	}
	if sig.ReferenceID == "" {
		switch sig.Type {
		case domain.ConditionMilestoneCompletion:
			sig.ReferenceID = p.MilestoneID
		case domain.ConditionDocumentUpload:
			sig.ReferenceID = p.DocumentType
		case domain.ConditionValidationCompliant:
			sig.ReferenceID = p.OpportunityID
		}
	}
	if err := sig.Validate(); err != nil {
		return domain.Signal{}, err
	}
	return sig, nil
}

// Handle 实现 mq.Handler，返回错误时消息进入死信队列
func (s *SignalConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	sig, err := s.Decode(msg)
	if err != nil {
		return err
	}
	released, err := s.handler.OnSignal(ctx, sig)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "release signal consumed",
		"topic", msg.Topic, "type", sig.Type, "opportunity_id", sig.OpportunityID, "reference_id", sig.ReferenceID, "released", released)
	return nil
}

// LocalSink 进程内信号出口，供同进程的校验服务直接投递
type LocalSink struct {
	handler SignalHandler
}

// NewLocalSink 创建进程内信号出口
func NewLocalSink(handler SignalHandler) *LocalSink {
	return &LocalSink{handler: handler}
}

// Emit 投递信号
func (l *LocalSink) Emit(ctx context.Context, signalType, opportunityID, referenceID string) error {
	_, err := l.handler.OnSignal(ctx, domain.Signal{
		Type:          domain.ConditionType(signalType),
		OpportunityID: opportunityID,
		ReferenceID:   referenceID,
	})
	return err
}
