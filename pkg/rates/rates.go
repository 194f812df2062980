// Package rates holds the static configuration tables the banking core is
// parameterized with: tenure→rate bands for term deposit products, the
// fee/GST schedule, and per-account-type balance and limit parameters.
// Injected into the services so tests can swap tables.
package rates

import (
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/shopspring/decimal"
)

// Band maps a half-open tenure range [MinMonths, MaxMonths) to an annual
// interest rate in percent. MaxMonths == 0 marks the open-ended top band.
type Band struct {
	MinMonths int
	MaxMonths int
	Rate      decimal.Decimal
}

// RateFor resolves the rate for a tenure. Bands are evaluated in the order
// given and the first match wins; callers keep them sorted ascending. A tenure
// below the lowest band floor is unknown and returns false.
func RateFor(bands []Band, tenureMonths int) (decimal.Decimal, bool) {
	for _, b := range bands {
		if tenureMonths < b.MinMonths {
			continue
		}
		if b.MaxMonths == 0 || tenureMonths < b.MaxMonths {
			return b.Rate, true
		}
	}
	return decimal.Zero, false
}

// Config is the full parameter set for the core. Treated as read-only after
// construction.
type Config struct {
	FDBands []Band
	RDBands []Band

	// Account parameters.
	MinimumBalance decimal.Decimal // savings floor
	OverdraftLimit decimal.Decimal // current accounts may go negative down to -OverdraftLimit
	DailyLimit     decimal.Decimal
	MonthlyLimit   decimal.Decimal

	// Fee schedule. A flat fee applies above the threshold, zero otherwise;
	// GST is charged as a fraction of the fee.
	TransferFeeThreshold   decimal.Decimal
	TransferFee            decimal.Decimal
	WithdrawalFeeThreshold decimal.Decimal
	WithdrawalFee          decimal.Decimal
	GSTRate                decimal.Decimal

	// Recurring deposit parameters.
	RDDailyPenalty    decimal.Decimal // per overdue day
	RDPenaltyCap      decimal.Decimal // fraction of the monthly amount
	RDMinTenureMonths int
	RDMinPaidForClose int // installments required before premature closure

	// Premature closure parameters.
	ClosurePenaltyRate decimal.Decimal // fraction of current value / total deposited
	FDPrematureRateCut decimal.Decimal // percentage points knocked off the FD rate
}

// Default returns the standard rate tables and parameters.
func Default() *Config {
	return &Config{
		FDBands: []Band{
			{MinMonths: 6, MaxMonths: 12, Rate: decimal.NewFromFloat(6.5)},
			{MinMonths: 12, MaxMonths: 24, Rate: decimal.NewFromFloat(7.0)},
			{MinMonths: 24, MaxMonths: 36, Rate: decimal.NewFromFloat(7.25)},
			{MinMonths: 36, MaxMonths: 60, Rate: decimal.NewFromFloat(7.5)},
			{MinMonths: 60, Rate: decimal.NewFromFloat(7.0)},
		},
		RDBands: []Band{
			{MinMonths: 12, MaxMonths: 24, Rate: decimal.NewFromFloat(6.8)},
			{MinMonths: 24, MaxMonths: 36, Rate: decimal.NewFromFloat(7.0)},
			{MinMonths: 36, MaxMonths: 60, Rate: decimal.NewFromFloat(7.3)},
			{MinMonths: 60, Rate: decimal.NewFromFloat(7.5)},
		},

		MinimumBalance: decimal.NewFromInt(1000),
		OverdraftLimit: decimal.NewFromInt(50000),
		DailyLimit:     decimal.NewFromInt(100000),
		MonthlyLimit:   decimal.NewFromInt(1000000),

		TransferFeeThreshold:   decimal.NewFromInt(100000),
		TransferFee:            decimal.NewFromInt(10),
		WithdrawalFeeThreshold: decimal.NewFromInt(50000),
		WithdrawalFee:          decimal.NewFromInt(5),
		GSTRate:                decimal.NewFromFloat(0.18),

		RDDailyPenalty:    decimal.NewFromInt(10),
		RDPenaltyCap:      decimal.NewFromFloat(0.10),
		RDMinTenureMonths: 12,
		RDMinPaidForClose: 12,

		ClosurePenaltyRate: decimal.NewFromFloat(0.01),
		FDPrematureRateCut: decimal.NewFromInt(1),
	}
}

// FeeFor computes the fee and GST for a movement of the given type and
// amount. Types outside the schedule carry no fee.
func (c *Config) FeeFor(txType models.TransactionType, amount decimal.Decimal) (fee, gst decimal.Decimal) {
	switch txType {
	case models.TransactionTypeTransfer:
		if amount.GreaterThan(c.TransferFeeThreshold) {
			fee = c.TransferFee
		}
	case models.TransactionTypeWithdrawal:
		if amount.GreaterThan(c.WithdrawalFeeThreshold) {
			fee = c.WithdrawalFee
		}
	}
	if fee.IsPositive() {
		gst = fee.Mul(c.GSTRate).Round(2)
	}
	return fee, gst
}

// FloorFor returns the lowest balance a debit may leave on an account of the
// given type.
func (c *Config) FloorFor(typ models.AccountType) decimal.Decimal {
	if typ == models.AccountTypeCurrent {
		return c.OverdraftLimit.Neg()
	}
	return c.MinimumBalance
}
