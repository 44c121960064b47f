package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
	"github.com/wyfcoding/investportal/pkg/db"
	"github.com/wyfcoding/investportal/pkg/logger"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(db.Config{Driver: "sqlite", DSN: "file::memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })
	require.NoError(t, AutoMigrate(gdb.DB))
	return gdb.DB
}

func newAccount(t *testing.T, opportunityID, amount string) *domain.EscrowAccount {
	t.Helper()
	a, err := domain.NewEscrowAccount(opportunityID, "inv-1", "ent-1", decimal.RequireFromString(amount), "EUR",
		[]domain.ReleaseCondition{
			{ConditionType: domain.ConditionMilestoneCompletion, ReferenceID: "m1", Description: "MVP shipped"},
			{ConditionType: domain.ConditionDocumentUpload, ReferenceID: "audit_report"},
		}, now)
	require.NoError(t, err)
	return a
}

func TestAccountRoundTripAndCAS(t *testing.T) {
	gdb := newTestDB(t)
	repo := NewAccountRepository(gdb)
	ctx := context.Background()

	a := newAccount(t, "OPP-1", "1500.25")
	require.NoError(t, repo.Create(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	got, err := repo.Get(ctx, a.AccountID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountPending, got.Status)
	assert.True(t, got.HeldAmount.Equal(decimal.RequireFromString("1500.25")))
	assert.Equal(t, "EUR", got.Currency)
	require.Len(t, got.Conditions, 2)
	assert.Equal(t, "m1", got.Conditions[0].ReferenceID)
	assert.Equal(t, "MVP shipped", got.Conditions[0].Description)
	assert.Equal(t, domain.ConditionDocumentUpload, got.Conditions[1].ConditionType)

	_, err = got.Fund(ctx, decimal.RequireFromString("1500.25"), "wire", now)
	require.NoError(t, err)
	stale := *got
	require.NoError(t, repo.Update(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	assert.ErrorIs(t, repo.Update(ctx, &stale), domain.ErrConcurrentModification)

	locked, err := repo.GetForUpdate(ctx, a.AccountID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountFunded, locked.Status)
	require.NotNil(t, locked.FundedAt)

	_, err = repo.Get(ctx, "ESC-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListReleasableAndByOpportunity(t *testing.T) {
	gdb := newTestDB(t)
	repo := NewAccountRepository(gdb)
	ctx := context.Background()

	var funded []string
	for i := 0; i < 3; i++ {
		a := newAccount(t, "OPP-L", "100")
		require.NoError(t, repo.Create(ctx, a))
		if i < 2 {
			_, err := a.Fund(ctx, decimal.NewFromInt(100), "", now)
			require.NoError(t, err)
			require.NoError(t, repo.Update(ctx, a))
			funded = append(funded, a.AccountID)
		}
	}
	require.NoError(t, repo.Create(ctx, newAccount(t, "OPP-other", "50")))

	byOpp, err := repo.ListByOpportunity(ctx, "OPP-L")
	require.NoError(t, err)
	assert.Len(t, byOpp, 3)

	page, err := repo.ListReleasable(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Len(t, page[0].Conditions, 2)

	rest, err := repo.ListReleasable(ctx, page[0].AccountID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.ElementsMatch(t, funded, []string{page[0].AccountID, rest[0].AccountID})
}

func TestTransactionsAndConditions(t *testing.T) {
	gdb := newTestDB(t)
	accounts := NewAccountRepository(gdb)
	txs := NewTransactionRepository(gdb)
	conds := NewConditionRepository(gdb)
	ctx := context.Background()

	a := newAccount(t, "OPP-T", "300")
	require.NoError(t, accounts.Create(ctx, a))

	dep, err := a.Fund(ctx, decimal.NewFromInt(300), "wire-9", now)
	require.NoError(t, err)
	rel, err := a.Release(ctx, decimal.RequireFromString("120.5"), "", "tranche", now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, txs.Append(ctx, dep))
	require.NoError(t, txs.Append(ctx, rel))

	list, err := txs.ListByAccount(ctx, a.AccountID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.TransactionDeposit, list[0].Type)
	assert.Equal(t, "wire-9", list[0].Reference)
	assert.True(t, list[1].Amount.Equal(decimal.RequireFromString("120.5")))
	assert.Equal(t, "ent-1", list[1].RecipientID)
	assert.True(t, list[1].CreatedAt.Equal(now.Add(time.Minute)))
	assert.True(t, domain.NetLedgerBalance(list).Equal(decimal.RequireFromString("179.5")))

	hits, err := conds.ListUnmetBySignal(ctx, domain.Signal{Type: domain.ConditionDocumentUpload, OpportunityID: "OPP-T", ReferenceID: "audit_report"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	changed, err := conds.MarkMet(ctx, hits[0].ConditionID, now)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = conds.MarkMet(ctx, hits[0].ConditionID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	c, err := conds.Get(ctx, hits[0].ConditionID)
	require.NoError(t, err)
	assert.True(t, c.IsMet)
	require.NotNil(t, c.CompletedAt)
	assert.True(t, c.CompletedAt.Equal(now))

	hits, err = conds.ListUnmetBySignal(ctx, domain.Signal{Type: domain.ConditionDocumentUpload, OpportunityID: "OPP-T", ReferenceID: "audit_report"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = conds.MarkMet(ctx, "ERC-missing", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListUnmetBySignalScopedToOpportunity(t *testing.T) {
	gdb := newTestDB(t)
	accounts := NewAccountRepository(gdb)
	conds := NewConditionRepository(gdb)
	ctx := context.Background()

	a := newAccount(t, "OPP-A", "100")
	b := newAccount(t, "OPP-B", "100")
	require.NoError(t, accounts.Create(ctx, a))
	require.NoError(t, accounts.Create(ctx, b))

	hits, err := conds.ListUnmetBySignal(ctx, domain.Signal{Type: domain.ConditionMilestoneCompletion, OpportunityID: "OPP-A", ReferenceID: "m1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.AccountID, hits[0].AccountID)

	hits, err = conds.ListUnmetBySignal(ctx, domain.Signal{Type: domain.ConditionMilestoneCompletion, OpportunityID: "OPP-C", ReferenceID: "m1"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
