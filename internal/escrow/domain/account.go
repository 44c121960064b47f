// Package domain 托管账本领域模型
package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
)

// AccountStatus 托管账户状态
type AccountStatus string

const (
	AccountPending   AccountStatus = "pending"
	AccountFunded    AccountStatus = "funded"
	AccountActive    AccountStatus = "active"
	AccountReleased  AccountStatus = "released"
	AccountDisputed  AccountStatus = "disputed"
	AccountCancelled AccountStatus = "cancelled"
)

// IsTerminal released 与 cancelled 为终态
func (s AccountStatus) IsTerminal() bool {
	return s == AccountReleased || s == AccountCancelled
}

// CanRelease 只有 funded/active 可以出金
func (s AccountStatus) CanRelease() bool {
	return s == AccountFunded || s == AccountActive
}

// 生命周期事件
const (
	eventFund    = "FUND"
	eventDebit   = "DEBIT"
	eventDrain   = "DRAIN"
	eventDispute = "DISPUTE"
	eventCancel  = "CANCEL"
)

// lifecycle 托管账户状态迁移表，DEBIT 后仍有余额，DRAIN 后余额归零
var lifecycle = []struct {
	from  AccountStatus
	event string
	to    AccountStatus
}{
	{AccountPending, eventFund, AccountFunded},
	{AccountFunded, eventDebit, AccountActive},
	{AccountActive, eventDebit, AccountActive},
	{AccountFunded, eventDrain, AccountReleased},
	{AccountActive, eventDrain, AccountReleased},
	{AccountFunded, eventDispute, AccountDisputed},
	{AccountActive, eventDispute, AccountDisputed},
	{AccountPending, eventCancel, AccountCancelled},
	{AccountFunded, eventCancel, AccountCancelled},
	{AccountActive, eventCancel, AccountCancelled},
}

// newLifecycle 以 current 为初始状态构建状态机
func newLifecycle(current AccountStatus) *fsm.Machine {
	m := fsm.NewMachine(fsm.State(current))
	for _, t := range lifecycle {
		m.AddTransition(fsm.State(t.from), fsm.Event(t.event), fsm.State(t.to))
	}
	return m
}

// PlatformRecipient 平台手续费收款方
const PlatformRecipient = "platform"

// EscrowAccount 托管账户聚合根
// 不变量: TotalAmount == AvailableBalance + HeldAmount
// pending 状态下 HeldAmount 是投资人的认缴额，尚未实际入账
type EscrowAccount struct {
	AccountID        string             `json:"account_id"`
	OpportunityID    string             `json:"opportunity_id"`
	InvestorID       string             `json:"investor_id"`
	EntrepreneurID   string             `json:"entrepreneur_id"`
	TotalAmount      decimal.Decimal    `json:"total_amount"`
	AvailableBalance decimal.Decimal    `json:"available_balance"`
	HeldAmount       decimal.Decimal    `json:"held_amount"`
	Currency         string             `json:"currency"`
	Status           AccountStatus      `json:"status"`
	Conditions       []ReleaseCondition `json:"conditions"`
	DisputeReason    string             `json:"dispute_reason,omitempty"`
	CancelReason     string             `json:"cancel_reason,omitempty"`
	Version          int64              `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	FundedAt         *time.Time         `json:"funded_at,omitempty"`
	ClosedAt         *time.Time         `json:"closed_at,omitempty"`
}

// NewEscrowAccount 创建 pending 托管账户，认缴额计入 HeldAmount
func NewEscrowAccount(opportunityID, investorID, entrepreneurID string, amount decimal.Decimal, currency string, conditions []ReleaseCondition, now time.Time) (*EscrowAccount, error) {
	if opportunityID == "" || investorID == "" || entrepreneurID == "" {
		return nil, fmt.Errorf("%w: opportunity, investor and entrepreneur are required", ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if len(conditions) == 0 {
		return nil, ErrNoReleaseConditions
	}
	if currency == "" {
		currency = "USD"
	}

	a := &EscrowAccount{
		AccountID:        "ESC-" + uuid.NewString(),
		OpportunityID:    opportunityID,
		InvestorID:       investorID,
		EntrepreneurID:   entrepreneurID,
		TotalAmount:      amount,
		AvailableBalance: decimal.Zero,
		HeldAmount:       amount,
		Currency:         currency,
		Status:           AccountPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for i, c := range conditions {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		c.ConditionID = "ERC-" + uuid.NewString()
		c.AccountID = a.AccountID
		c.Position = i
		c.IsMet = false
		c.CompletedAt = nil
		a.Conditions = append(a.Conditions, c)
	}
	return a, nil
}

// Fund 入金，仅 pending 可操作
func (a *EscrowAccount) Fund(ctx context.Context, amount decimal.Decimal, reference string, now time.Time) (*EscrowTransaction, error) {
	next, err := a.fire(ctx, eventFund, "fund")
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx := newTransaction(a, TransactionDeposit, amount, now)
	tx.Reference = reference

	a.AvailableBalance = amount
	a.HeldAmount = decimal.Zero
	a.TotalAmount = amount
	a.Status = next
	a.FundedAt = &now
	a.UpdatedAt = now
	return tx, nil
}

// Release 向收款方放款，余额归零后账户变为 released
func (a *EscrowAccount) Release(ctx context.Context, amount decimal.Decimal, recipientID, reason string, now time.Time) (*EscrowTransaction, error) {
	if recipientID == "" {
		recipientID = a.EntrepreneurID
	}
	return a.debit(ctx, TransactionRelease, amount, recipientID, reason, now)
}

// ChargeFee 扣收平台手续费，余额规则与放款一致
func (a *EscrowAccount) ChargeFee(ctx context.Context, amount decimal.Decimal, reason string, now time.Time) (*EscrowTransaction, error) {
	return a.debit(ctx, TransactionFee, amount, PlatformRecipient, reason, now)
}

func (a *EscrowAccount) debit(ctx context.Context, typ TransactionType, amount decimal.Decimal, recipientID, reason string, now time.Time) (*EscrowTransaction, error) {
	// released 表示余额已全部放出，并发竞争的后到者看到的是余额不足
	if a.Status == AccountReleased {
		return nil, fmt.Errorf("%w: account %s fully released", ErrInsufficientFunds, a.AccountID)
	}
	event := eventDebit
	if amount.Equal(a.AvailableBalance) {
		event = eventDrain
	}
	next, err := a.fire(ctx, event, string(typ))
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(a.AvailableBalance) {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount, a.AvailableBalance)
	}

	tx := newTransaction(a, typ, amount, now)
	tx.RecipientID = recipientID
	tx.Reason = reason

	a.AvailableBalance = a.AvailableBalance.Sub(amount)
	a.TotalAmount = a.AvailableBalance.Add(a.HeldAmount)
	a.Status = next
	if next == AccountReleased {
		a.ClosedAt = &now
	}
	a.UpdatedAt = now
	return tx, nil
}

// Dispute 发起争议，冻结后续放款
func (a *EscrowAccount) Dispute(ctx context.Context, reason string, now time.Time) error {
	next, err := a.fire(ctx, eventDispute, "dispute")
	if err != nil {
		return err
	}
	a.Status = next
	a.DisputeReason = reason
	a.UpdatedAt = now
	return nil
}

// Cancel 取消托管，可用余额全额退回投资人，认缴额作废
// 无可退余额时返回 nil 流水
func (a *EscrowAccount) Cancel(ctx context.Context, reason string, now time.Time) (*EscrowTransaction, error) {
	next, err := a.fire(ctx, eventCancel, "cancel")
	if err != nil {
		return nil, err
	}

	var refund *EscrowTransaction
	if a.AvailableBalance.IsPositive() {
		refund = newTransaction(a, TransactionRefund, a.AvailableBalance, now)
		refund.RecipientID = a.InvestorID
		refund.Reason = reason
	}

	a.AvailableBalance = decimal.Zero
	a.HeldAmount = decimal.Zero
	a.TotalAmount = decimal.Zero
	a.Status = next
	a.CancelReason = reason
	a.ClosedAt = &now
	a.UpdatedAt = now
	return refund, nil
}

// CustodiedBalance 实际托管的资金，pending 的认缴额不计入
func (a *EscrowAccount) CustodiedBalance() decimal.Decimal {
	if a.Status == AccountPending {
		return decimal.Zero
	}
	return a.AvailableBalance.Add(a.HeldAmount)
}

// VerifyConservation 校验账户余额与流水推导一致
func (a *EscrowAccount) VerifyConservation(txs []*EscrowTransaction) error {
	if !a.TotalAmount.Equal(a.AvailableBalance.Add(a.HeldAmount)) {
		return fmt.Errorf("%w: account %s total %s != available %s + held %s",
			ErrConservationViolated, a.AccountID, a.TotalAmount, a.AvailableBalance, a.HeldAmount)
	}
	net := NetLedgerBalance(txs)
	if custodied := a.CustodiedBalance(); !net.Equal(custodied) {
		return fmt.Errorf("%w: account %s ledger %s != custodied %s",
			ErrConservationViolated, a.AccountID, net, custodied)
	}
	return nil
}

// fire 在状态机上触发事件并返回目标状态，账户本身不被修改
func (a *EscrowAccount) fire(ctx context.Context, event, op string) (AccountStatus, error) {
	if err := newLifecycle(a.Status).Trigger(ctx, fsm.Event(event)); err != nil {
		return "", fmt.Errorf("%w: cannot %s account %s in status %s: %v", ErrInvalidState, op, a.AccountID, a.Status, err)
	}
	for _, t := range lifecycle {
		if t.from == a.Status && t.event == event {
			return t.to, nil
		}
	}
	return "", fmt.Errorf("%w: cannot %s account %s in status %s", ErrInvalidState, op, a.AccountID, a.Status)
}
