// Package messaging 托管账本消息投递：outbox 事务写入与 Kafka 推送
package messaging

import (
	"context"
	"fmt"

	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"gorm.io/gorm"

	"github.com/wyfcoding/investportal/pkg/db"
)

// OutboxPublisher 基于 Outbox 模式的账本事件发布者
type OutboxPublisher struct {
	manager *outbox.Manager
}

// NewOutboxPublisher 创建 OutboxPublisher
func NewOutboxPublisher(manager *outbox.Manager) *OutboxPublisher {
	return &OutboxPublisher{manager: manager}
}

// Publish 写入 outbox，ctx 中有事务时与业务写入同事务提交
func (p *OutboxPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	tx, ok := db.TxFromContext(ctx)
	if !ok {
		tx = p.manager.DB()
	}
	return p.manager.PublishInTx(tx, topic, key, event)
}

// PublishInTx 在显式事务中写入 outbox
func (p *OutboxPublisher) PublishInTx(ctx context.Context, tx any, topic, key string, event any) error {
	gormTx, ok := tx.(*gorm.DB)
	if !ok {
		return fmt.Errorf("tx must be *gorm.DB, got %T", tx)
	}
	return p.manager.PublishInTx(gormTx, topic, key, event)
}
