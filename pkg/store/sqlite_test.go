package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bankcore_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAccount(number string) *models.Account {
	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	return &models.Account{
		ID:                     uuid.New(),
		AccountNumber:          number,
		CustomerKey:            "cust-1",
		Type:                   models.AccountTypeSavings,
		Balance:                decimal.NewFromInt(5000),
		TodayTransactionAmount: decimal.Zero,
		MonthTransactionAmount: decimal.Zero,
		LastDailyReset:         now,
		LastMonthlyReset:       now,
		Active:                 true,
		FreezeReason:           models.FreezeReasonNone,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleAccount("SAV0000000001")
	require.NoError(t, s.CreateAccount(ctx, a))

	got, err := s.GetAccount(ctx, "SAV0000000001")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.CustomerKey, got.CustomerKey)
	assert.Equal(t, models.AccountTypeSavings, got.Type)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5000)))
	assert.True(t, got.Active)
	assert.Equal(t, models.FreezeReasonNone, got.FreezeReason)
	assert.True(t, got.LastDailyReset.Equal(a.LastDailyReset))

	ok, err := s.AccountExists(ctx, "SAV0000000001")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AccountExists(ctx, "SAV9999999999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleAccount("SAV0000000001")
	require.NoError(t, s.CreateAccount(ctx, a))

	a.Balance = decimal.NewFromInt(7500)
	a.TodayTransactionAmount = decimal.NewFromInt(2500)
	a.FreezeReason = models.FreezeReasonCustomerRequest
	a.Active = false
	require.NoError(t, s.UpdateAccount(ctx, a))

	got, err := s.GetAccount(ctx, "SAV0000000001")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(7500)))
	assert.True(t, got.TodayTransactionAmount.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, models.FreezeReasonCustomerRequest, got.FreezeReason)
	assert.False(t, got.Active)
}

func TestAccountNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAccount(ctx, "SAV9999999999")
	assert.ErrorIs(t, err, ErrNotFound)

	missing := sampleAccount("SAV9999999999")
	assert.ErrorIs(t, s.UpdateAccount(ctx, missing), ErrNotFound)
}

func TestAccountNumberUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, sampleAccount("SAV0000000001")))
	assert.Error(t, s.CreateAccount(ctx, sampleAccount("SAV0000000001")))
}

func TestTransactionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	txn := &models.Transaction{
		ID:            uuid.New(),
		TransactionID: "TXN20260310000001",
		FromAccount:   "SAV0000000001",
		ToAccount:     "SAV0000000002",
		Amount:        decimal.NewFromInt(2000),
		Type:          models.TransactionTypeTransfer,
		Status:        models.TransactionStatusPending,
		Description:   "rent",
		Fee:           decimal.Zero,
		GST:           decimal.Zero,
		CreatedAt:     now,
	}
	require.NoError(t, s.CreateTransaction(ctx, txn))

	got, err := s.GetTransaction(ctx, "TXN20260310000001")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, got.Status)
	assert.Nil(t, got.FromBalanceAfter)
	assert.Nil(t, got.ToBalanceAfter)
	assert.Nil(t, got.ProcessedAt)
	assert.Empty(t, got.ReversalOf)

	// Complete and persist the snapshots.
	fromBal := decimal.NewFromInt(3000)
	toBal := decimal.NewFromInt(4000)
	require.NoError(t, got.Complete(now, &fromBal, &toBal))
	require.NoError(t, s.UpdateTransaction(ctx, got))

	got, err = s.GetTransaction(ctx, "TXN20260310000001")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, got.Status)
	require.NotNil(t, got.FromBalanceAfter)
	assert.True(t, got.FromBalanceAfter.Equal(fromBal))
	require.NotNil(t, got.ToBalanceAfter)
	assert.True(t, got.ToBalanceAfter.Equal(toBal))
	require.NotNil(t, got.ProcessedAt)
}

func TestTransactionsForAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	mk := func(id string, from, to string, offset time.Duration) *models.Transaction {
		return &models.Transaction{
			ID:            uuid.New(),
			TransactionID: id,
			FromAccount:   from,
			ToAccount:     to,
			Amount:        decimal.NewFromInt(100),
			Type:          models.TransactionTypeTransfer,
			Status:        models.TransactionStatusCompleted,
			Fee:           decimal.Zero,
			GST:           decimal.Zero,
			CreatedAt:     base.Add(offset),
		}
	}
	require.NoError(t, s.CreateTransaction(ctx, mk("TXN20260310000001", "SAV0000000001", "SAV0000000002", 0)))
	require.NoError(t, s.CreateTransaction(ctx, mk("TXN20260310000002", "SAV0000000002", "SAV0000000001", time.Minute)))
	require.NoError(t, s.CreateTransaction(ctx, mk("TXN20260310000003", "SAV0000000003", "SAV0000000004", 2*time.Minute)))

	txns, err := s.GetTransactionsForAccount(ctx, "SAV0000000001")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	// Ordered by creation time, both directions included.
	assert.Equal(t, "TXN20260310000001", txns[0].TransactionID)
	assert.Equal(t, "TXN20260310000002", txns[1].TransactionID)

	txns, err = s.GetTransactionsForAccount(ctx, "SAV0000000009")
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestFixedDepositRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateAccount(ctx, sampleAccount("SAV0000000001")))

	fd := &models.FixedDeposit{
		ID:                uuid.New(),
		FDNumber:          "FD2026000001",
		AccountNumber:     "SAV0000000001",
		CustomerKey:       "cust-1",
		Principal:         decimal.NewFromInt(100000),
		InterestRate:      decimal.NewFromFloat(7.5),
		TenureMonths:      36,
		PayoutMode:        models.PayoutModeCumulative,
		StartDate:         now,
		MaturityDate:      now.AddDate(0, 36, 0),
		MaturityAmount:    decimal.NewFromFloat(125145.71),
		TotalInterestPaid: decimal.Zero,
		ClosurePenalty:    decimal.Zero,
		ClosurePayout:     decimal.Zero,
		Status:            models.FDStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.CreateFixedDeposit(ctx, fd))

	got, err := s.GetFixedDeposit(ctx, "FD2026000001")
	require.NoError(t, err)
	assert.True(t, got.Principal.Equal(fd.Principal))
	assert.True(t, got.InterestRate.Equal(fd.InterestRate))
	assert.Equal(t, 36, got.TenureMonths)
	assert.Equal(t, models.PayoutModeCumulative, got.PayoutMode)
	assert.Empty(t, got.PayoutAccount)
	assert.Nil(t, got.LastPayoutDate)
	assert.Nil(t, got.ClosedAt)

	active, err := s.GetActiveFixedDeposits(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	closed := now.AddDate(0, 6, 0)
	got.Status = models.FDStatusPrematureClosed
	got.ClosurePenalty = decimal.NewFromFloat(1025.50)
	got.ClosurePayout = decimal.NewFromFloat(101524.50)
	got.ClosedAt = &closed
	got.UpdatedAt = closed
	require.NoError(t, s.UpdateFixedDeposit(ctx, got))

	got, err = s.GetFixedDeposit(ctx, "FD2026000001")
	require.NoError(t, err)
	assert.Equal(t, models.FDStatusPrematureClosed, got.Status)
	assert.True(t, got.ClosurePenalty.Equal(decimal.NewFromFloat(1025.50)))
	require.NotNil(t, got.ClosedAt)

	active, err = s.GetActiveFixedDeposits(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = s.GetFixedDeposit(ctx, "FD2026999999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecurringDepositRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateAccount(ctx, sampleAccount("SAV0000000001")))

	rd := &models.RecurringDeposit{
		ID:               uuid.New(),
		RDNumber:         "RD2026000001",
		AccountNumber:    "SAV0000000001",
		CustomerKey:      "cust-1",
		MonthlyAmount:    decimal.NewFromInt(1000),
		InterestRate:     decimal.NewFromFloat(6.8),
		TenureMonths:     12,
		StartDate:        now,
		NextDueDate:      now,
		MaturityAmount:   decimal.NewFromFloat(12445.72),
		TotalDeposited:   decimal.Zero,
		PenaltyAmount:    decimal.Zero,
		InterestEarned:   decimal.Zero,
		ClosurePenalty:   decimal.Zero,
		AutoDebitEnabled: true,
		Status:           models.RDStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateRecurringDeposit(ctx, rd))

	got, err := s.GetRecurringDeposit(ctx, "RD2026000001")
	require.NoError(t, err)
	assert.True(t, got.MonthlyAmount.Equal(rd.MonthlyAmount))
	assert.Equal(t, 0, got.InstallmentsPaid)
	assert.True(t, got.AutoDebitEnabled)
	assert.Nil(t, got.LastFailureAt)

	failedAt := now.AddDate(0, 1, 0)
	got.InstallmentsPaid = 1
	got.TotalDeposited = decimal.NewFromInt(1000)
	got.NextDueDate = now.AddDate(0, 1, 0)
	got.AutoDebitFailures = 2
	got.LastFailureReason = "insufficient balance"
	got.LastFailureAt = &failedAt
	require.NoError(t, s.UpdateRecurringDeposit(ctx, got))

	got, err = s.GetRecurringDeposit(ctx, "RD2026000001")
	require.NoError(t, err)
	assert.Equal(t, 1, got.InstallmentsPaid)
	assert.Equal(t, 2, got.AutoDebitFailures)
	assert.Equal(t, "insufficient balance", got.LastFailureReason)
	require.NotNil(t, got.LastFailureAt)

	active, err := s.GetActiveRecurringDeposits(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	got.Status = models.RDStatusMatured
	require.NoError(t, s.UpdateRecurringDeposit(ctx, got))
	active, err = s.GetActiveRecurringDeposits(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestInstallmentSchedule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateAccount(ctx, sampleAccount("SAV0000000001")))
	rd := &models.RecurringDeposit{
		ID:             uuid.New(),
		RDNumber:       "RD2026000001",
		AccountNumber:  "SAV0000000001",
		CustomerKey:    "cust-1",
		MonthlyAmount:  decimal.NewFromInt(1000),
		InterestRate:   decimal.NewFromFloat(6.8),
		TenureMonths:   3,
		StartDate:      now,
		NextDueDate:    now,
		MaturityAmount: decimal.NewFromInt(3034),
		TotalDeposited: decimal.Zero,
		PenaltyAmount:  decimal.Zero,
		InterestEarned: decimal.Zero,
		ClosurePenalty: decimal.Zero,
		Status:         models.RDStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateRecurringDeposit(ctx, rd))

	var schedule []*models.Installment
	for i := 0; i < 3; i++ {
		schedule = append(schedule, &models.Installment{
			ID:       uuid.New(),
			RDNumber: "RD2026000001",
			Number:   i + 1,
			DueDate:  now.AddDate(0, i, 0),
			Amount:   decimal.NewFromInt(1000),
			Penalty:  decimal.Zero,
			Total:    decimal.Zero,
			Status:   models.InstallmentStatusPending,
		})
	}
	require.NoError(t, s.CreateInstallments(ctx, schedule))

	got, err := s.GetInstallments(ctx, "RD2026000001")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, inst := range got {
		assert.Equal(t, i+1, inst.Number)
		assert.Equal(t, models.InstallmentStatusPending, inst.Status)
		assert.Nil(t, inst.PaidAt)
	}

	paidAt := now.AddDate(0, 0, 2)
	first := got[0]
	first.Status = models.InstallmentStatusPaid
	first.Penalty = decimal.NewFromInt(20)
	first.Total = decimal.NewFromInt(1020)
	first.PaidAt = &paidAt
	first.TransactionID = "TXN20260312000001"
	require.NoError(t, s.UpdateInstallment(ctx, first))

	got, err = s.GetInstallments(ctx, "RD2026000001")
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusPaid, got[0].Status)
	assert.True(t, got[0].Total.Equal(decimal.NewFromInt(1020)))
	assert.Equal(t, "TXN20260312000001", got[0].TransactionID)
	require.NotNil(t, got[0].PaidAt)

	// One row per (rd, number): re-inserting the same slot must fail.
	dup := &models.Installment{
		ID:       uuid.New(),
		RDNumber: "RD2026000001",
		Number:   1,
		DueDate:  now,
		Amount:   decimal.NewFromInt(1000),
		Penalty:  decimal.Zero,
		Total:    decimal.Zero,
		Status:   models.InstallmentStatusPending,
	}
	assert.Error(t, s.CreateInstallments(ctx, []*models.Installment{dup}))
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(txs Storage) error {
		if err := txs.CreateAccount(ctx, sampleAccount("SAV0000000001")); err != nil {
			return err
		}
		return txs.CreateAccount(ctx, sampleAccount("SAV0000000002"))
	})
	require.NoError(t, err)

	_, err = s.GetAccount(ctx, "SAV0000000001")
	assert.NoError(t, err)
	_, err = s.GetAccount(ctx, "SAV0000000002")
	assert.NoError(t, err)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := assert.AnError
	err := s.InTx(ctx, func(txs Storage) error {
		if err := txs.CreateAccount(ctx, sampleAccount("SAV0000000001")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetAccount(ctx, "SAV0000000001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNestedInTxSharesTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(txs Storage) error {
		return txs.InTx(ctx, func(inner Storage) error {
			return inner.CreateAccount(ctx, sampleAccount("SAV0000000001"))
		})
	})
	require.NoError(t, err)

	_, err = s.GetAccount(ctx, "SAV0000000001")
	assert.NoError(t, err)

	// An error from the outer scope rolls back work done in the nested one.
	err = s.InTx(ctx, func(txs Storage) error {
		if err := txs.InTx(ctx, func(inner Storage) error {
			return inner.CreateAccount(ctx, sampleAccount("SAV0000000002"))
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)
	_, err = s.GetAccount(ctx, "SAV0000000002")
	assert.ErrorIs(t, err, ErrNotFound)
}
