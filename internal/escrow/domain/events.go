package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 托管账本集成事件类型
const (
	EventAccountCreated   = "escrow.account.created"
	EventAccountFunded    = "escrow.account.funded"
	EventFundsReleased    = "escrow.funds.released"
	EventFeeCharged       = "escrow.fee.charged"
	EventAccountDisputed  = "escrow.account.disputed"
	EventAccountCancelled = "escrow.account.cancelled"
	EventConditionMet     = "escrow.condition.met"
)

// LedgerEvent 通过 outbox 投递到消息总线的账本事件
type LedgerEvent struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	AccountID        string          `json:"account_id"`
	OpportunityID    string          `json:"opportunity_id"`
	Status           AccountStatus   `json:"status"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	TransactionType  TransactionType `json:"transaction_type,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	ConditionID      string          `json:"condition_id,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// NewLedgerEvent 根据账户当前快照构造事件，tx 可为 nil
func NewLedgerEvent(eventType string, a *EscrowAccount, tx *EscrowTransaction, now time.Time) *LedgerEvent {
	e := &LedgerEvent{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		AccountID:        a.AccountID,
		OpportunityID:    a.OpportunityID,
		Status:           a.Status,
		AvailableBalance: a.AvailableBalance,
		OccurredAt:       now,
	}
	if tx != nil {
		e.TransactionID = tx.TransactionID
		e.TransactionType = tx.Type
		e.Amount = tx.Amount
		e.Reason = tx.Reason
	}
	return e
}
