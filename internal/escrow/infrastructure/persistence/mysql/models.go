package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"gorm.io/gorm"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
)

// AccountModel 托管账户数据库模型
type AccountModel struct {
	gorm.Model
	AccountID        string          `gorm:"column:account_id;type:varchar(64);uniqueIndex;not null;comment:托管账户ID"`
	OpportunityID    string          `gorm:"column:opportunity_id;type:varchar(64);index;not null;comment:投资机会ID"`
	InvestorID       string          `gorm:"column:investor_id;type:varchar(64);index;not null;comment:投资人ID"`
	EntrepreneurID   string          `gorm:"column:entrepreneur_id;type:varchar(64);not null;comment:创业者ID"`
	TotalAmount      decimal.Decimal `gorm:"column:total_amount;type:decimal(32,8);not null;default:0;comment:总额=可用+冻结"`
	AvailableBalance decimal.Decimal `gorm:"column:available_balance;type:decimal(32,8);not null;default:0;comment:可用余额"`
	HeldAmount       decimal.Decimal `gorm:"column:held_amount;type:decimal(32,8);not null;default:0;comment:冻结/认缴额"`
	Currency         string          `gorm:"column:currency;type:varchar(10);not null;comment:币种"`
	Status           string          `gorm:"column:status;type:varchar(20);index;not null;comment:状态"`
	DisputeReason    string          `gorm:"column:dispute_reason;type:varchar(512);not null;default:'';comment:争议原因"`
	CancelReason     string          `gorm:"column:cancel_reason;type:varchar(512);not null;default:'';comment:取消原因"`
	FundedAt         *time.Time      `gorm:"column:funded_at;comment:入金时间"`
	ClosedAt         *time.Time      `gorm:"column:closed_at;comment:结束时间"`
	Version          int64           `gorm:"column:version;not null;default:0;comment:乐观锁版本"`
}

func (AccountModel) TableName() string { return "escrow_accounts" }

// TransactionModel 资金流水数据库模型
type TransactionModel struct {
	gorm.Model
	TransactionID string          `gorm:"column:transaction_id;type:varchar(64);uniqueIndex;not null;comment:流水ID"`
	AccountID     string          `gorm:"column:account_id;type:varchar(64);index;not null;comment:托管账户ID"`
	Type          string          `gorm:"column:type;type:varchar(20);not null;comment:类型"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(32,8);not null;comment:金额"`
	Currency      string          `gorm:"column:currency;type:varchar(10);not null;comment:币种"`
	Status        string          `gorm:"column:status;type:varchar(20);not null;comment:状态"`
	Reference     string          `gorm:"column:reference;type:varchar(128);not null;default:'';comment:外部参考号"`
	RecipientID   string          `gorm:"column:recipient_id;type:varchar(64);not null;default:'';comment:收款方"`
	Reason        string          `gorm:"column:reason;type:varchar(512);not null;default:'';comment:原因"`
}

func (TransactionModel) TableName() string { return "escrow_transactions" }

// ConditionModel 放款条件数据库模型
type ConditionModel struct {
	gorm.Model
	ConditionID   string     `gorm:"column:condition_id;type:varchar(64);uniqueIndex;not null;comment:条件ID"`
	AccountID     string     `gorm:"column:account_id;type:varchar(64);index;not null;comment:托管账户ID"`
	ConditionType string     `gorm:"column:condition_type;type:varchar(32);index:idx_condition_signal;not null;comment:条件类型"`
	ReferenceID   string     `gorm:"column:reference_id;type:varchar(128);index:idx_condition_signal;not null;default:'';comment:关联ID"`
	Description   string     `gorm:"column:description;type:varchar(512);not null;default:'';comment:描述"`
	IsMet         bool       `gorm:"column:is_met;not null;default:false;comment:是否满足"`
	DueDate       *time.Time `gorm:"column:due_date;comment:截止日期"`
	CompletedAt   *time.Time `gorm:"column:completed_at;comment:满足时间"`
	Position      int        `gorm:"column:position;not null;default:0;comment:顺序"`
}

func (ConditionModel) TableName() string { return "escrow_release_conditions" }

// AutoMigrate 建表，outbox 消息表与账本同库以便同事务写入
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&AccountModel{}, &TransactionModel{}, &ConditionModel{}, &outbox.OutboxMessage{})
}

func toAccountModel(a *domain.EscrowAccount) *AccountModel {
	m := &AccountModel{
		AccountID:        a.AccountID,
		OpportunityID:    a.OpportunityID,
		InvestorID:       a.InvestorID,
		EntrepreneurID:   a.EntrepreneurID,
		TotalAmount:      a.TotalAmount,
		AvailableBalance: a.AvailableBalance,
		HeldAmount:       a.HeldAmount,
		Currency:         a.Currency,
		Status:           string(a.Status),
		DisputeReason:    a.DisputeReason,
		CancelReason:     a.CancelReason,
		FundedAt:         a.FundedAt,
		ClosedAt:         a.ClosedAt,
		Version:          a.Version,
	}
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
	return m
}

func toAccount(m *AccountModel, conds []*ConditionModel) *domain.EscrowAccount {
	a := &domain.EscrowAccount{
		AccountID:        m.AccountID,
		OpportunityID:    m.OpportunityID,
		InvestorID:       m.InvestorID,
		EntrepreneurID:   m.EntrepreneurID,
		TotalAmount:      m.TotalAmount,
		AvailableBalance: m.AvailableBalance,
		HeldAmount:       m.HeldAmount,
		Currency:         m.Currency,
		Status:           domain.AccountStatus(m.Status),
		DisputeReason:    m.DisputeReason,
		CancelReason:     m.CancelReason,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		FundedAt:         m.FundedAt,
		ClosedAt:         m.ClosedAt,
		Conditions:       make([]domain.ReleaseCondition, 0, len(conds)),
	}
	for _, c := range conds {
		a.Conditions = append(a.Conditions, toCondition(c))
	}
	return a
}

func toTransactionModel(tx *domain.EscrowTransaction) *TransactionModel {
	m := &TransactionModel{
		TransactionID: tx.TransactionID,
		AccountID:     tx.AccountID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        string(tx.Status),
		Reference:     tx.Reference,
		RecipientID:   tx.RecipientID,
		Reason:        tx.Reason,
	}
	m.CreatedAt = tx.CreatedAt
	return m
}

func toTransaction(m *TransactionModel) *domain.EscrowTransaction {
	return &domain.EscrowTransaction{
		TransactionID: m.TransactionID,
		AccountID:     m.AccountID,
		Type:          domain.TransactionType(m.Type),
		Amount:        m.Amount,
		Currency:      m.Currency,
		Status:        domain.TransactionStatus(m.Status),
		Reference:     m.Reference,
		RecipientID:   m.RecipientID,
		Reason:        m.Reason,
		CreatedAt:     m.CreatedAt,
	}
}

func toConditionModel(c domain.ReleaseCondition) *ConditionModel {
	return &ConditionModel{
		ConditionID:   c.ConditionID,
		AccountID:     c.AccountID,
		ConditionType: string(c.ConditionType),
		ReferenceID:   c.ReferenceID,
		Description:   c.Description,
		IsMet:         c.IsMet,
		DueDate:       c.DueDate,
		CompletedAt:   c.CompletedAt,
		Position:      c.Position,
	}
}

func toCondition(m *ConditionModel) domain.ReleaseCondition {
	return domain.ReleaseCondition{
		ConditionID:   m.ConditionID,
		AccountID:     m.AccountID,
		ConditionType: domain.ConditionType(m.ConditionType),
		ReferenceID:   m.ReferenceID,
		Description:   m.Description,
		IsMet:         m.IsMet,
		DueDate:       m.DueDate,
		CompletedAt:   m.CompletedAt,
		Position:      m.Position,
	}
}
