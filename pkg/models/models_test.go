package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionComplete(t *testing.T) {
	txn := &Transaction{Status: TransactionStatusPending}
	now := time.Now()
	bal := decimal.NewFromInt(900)

	require.NoError(t, txn.Complete(now, &bal, nil))
	assert.Equal(t, TransactionStatusCompleted, txn.Status)
	require.NotNil(t, txn.ProcessedAt)
	assert.Equal(t, now, *txn.ProcessedAt)
	require.NotNil(t, txn.FromBalanceAfter)
	assert.True(t, txn.FromBalanceAfter.Equal(bal))
	assert.Nil(t, txn.ToBalanceAfter)
}

func TestTransactionTerminalStatesAreImmutable(t *testing.T) {
	now := time.Now()

	completed := &Transaction{Status: TransactionStatusCompleted}
	assert.ErrorIs(t, completed.Complete(now, nil, nil), ErrTerminalState)
	assert.ErrorIs(t, completed.Fail(now, "late"), ErrTerminalState)

	failed := &Transaction{Status: TransactionStatusFailed}
	assert.ErrorIs(t, failed.Complete(now, nil, nil), ErrTerminalState)

	reversed := &Transaction{Status: TransactionStatusReversed}
	assert.ErrorIs(t, reversed.Fail(now, "no"), ErrTerminalState)
}

func TestTransactionFail(t *testing.T) {
	txn := &Transaction{Status: TransactionStatusPending}
	now := time.Now()

	require.NoError(t, txn.Fail(now, "insufficient balance"))
	assert.Equal(t, TransactionStatusFailed, txn.Status)
	assert.Equal(t, "insufficient balance", txn.FailureReason)
}

func TestAccountStatusDerivation(t *testing.T) {
	a := &Account{Active: true, FreezeReason: FreezeReasonNone}
	assert.Equal(t, AccountStatusActive, a.Status())
	assert.False(t, a.Frozen())

	a.FreezeReason = FreezeReasonLegalHold
	assert.Equal(t, AccountStatusFrozen, a.Status())
	assert.True(t, a.Frozen())

	// Inactive wins over frozen.
	a.Active = false
	assert.Equal(t, AccountStatusInactive, a.Status())
}

func TestPayoutModePeriodMonths(t *testing.T) {
	assert.Equal(t, 1, PayoutModeMonthly.PeriodMonths())
	assert.Equal(t, 3, PayoutModeQuarterly.PeriodMonths())
	assert.Equal(t, 6, PayoutModeHalfYearly.PeriodMonths())
	assert.Equal(t, 12, PayoutModeYearly.PeriodMonths())
	assert.Equal(t, 0, PayoutModeCumulative.PeriodMonths())
}
