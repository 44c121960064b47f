package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType 资金流水类型
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionRelease    TransactionType = "release"
	TransactionRefund     TransactionType = "refund"
	TransactionFee        TransactionType = "fee"
)

// IsDebit 是否为流出类流水
func (t TransactionType) IsDebit() bool {
	switch t {
	case TransactionWithdrawal, TransactionRelease, TransactionRefund, TransactionFee:
		return true
	default:
		return false
	}
}

// TransactionStatus 流水状态
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
)

// EscrowTransaction 托管账户资金流水，只追加不修改
type EscrowTransaction struct {
	TransactionID string            `json:"transaction_id"`
	AccountID     string            `json:"account_id"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	Reference     string            `json:"reference,omitempty"`
	RecipientID   string            `json:"recipient_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func newTransaction(a *EscrowAccount, typ TransactionType, amount decimal.Decimal, now time.Time) *EscrowTransaction {
	return &EscrowTransaction{
		TransactionID: "ETX-" + uuid.NewString(),
		AccountID:     a.AccountID,
		Type:          typ,
		Amount:        amount,
		Currency:      a.Currency,
		Status:        TransactionCompleted,
		CreatedAt:     now,
	}
}

// NetLedgerBalance 按流水推导托管余额：入金合计减去各类出金合计
func NetLedgerBalance(txs []*EscrowTransaction) decimal.Decimal {
	net := decimal.Zero
	for _, tx := range txs {
		if tx.Status != TransactionCompleted {
			continue
		}
		switch {
		case tx.Type == TransactionDeposit:
			net = net.Add(tx.Amount)
		case tx.Type.IsDebit():
			net = net.Sub(tx.Amount)
		}
	}
	return net
}
