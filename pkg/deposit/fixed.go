// Package deposit implements the two term deposit products: fixed deposits
// with cumulative or periodic interest payout, and recurring deposits with a
// monthly installment schedule. Both engines drive the ledger's movement
// service for every balance mutation, so account state, transaction records,
// and deposit entities change together or not at all.
package deposit

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmercer/bankcore/pkg/identifier"
	"github.com/jmercer/bankcore/pkg/ledger"
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/jmercer/bankcore/pkg/rates"
	"github.com/jmercer/bankcore/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	hundred       = decimal.NewFromInt(100)
	twelve        = decimal.NewFromInt(12)
	twelveHundred = decimal.NewFromInt(1200)
)

// FDService handles the fixed deposit lifecycle.
type FDService struct {
	storage store.Storage
	cfg     *rates.Config
	ledger  *ledger.Service
	ids     *identifier.Generator
	now     func() time.Time
}

// NewFDService creates an FDService sharing the ledger's storage.
func NewFDService(l *ledger.Service, cfg *rates.Config) *FDService {
	return &FDService{
		storage: l.Storage(),
		cfg:     cfg,
		ledger:  l,
		ids:     identifier.New(),
		now:     time.Now,
	}
}

// WithClock replaces the time source; used by tests and the maturity sweeps.
func (f *FDService) WithClock(now func() time.Time) *FDService {
	f.now = now
	return f
}

// compoundMonthly computes principal × (1 + rate/1200)^months.
func compoundMonthly(principal, annualRatePct decimal.Decimal, months int) decimal.Decimal {
	monthlyRate := annualRatePct.Div(twelveHundred)
	factor := decimal.NewFromInt(1).Add(monthlyRate).Pow(decimal.NewFromInt(int64(months)))
	return principal.Mul(factor)
}

// monthsBetween returns the number of whole calendar months from from to to.
func monthsBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// Create opens a fixed deposit: resolves the rate from the tenure table,
// debits the principal from the source account, and persists the deposit and
// its fd_deposit transaction in one unit. For cumulative mode the maturity
// amount compounds monthly over the tenure; other modes pay interest out
// periodically and return the principal unchanged at maturity.
func (f *FDService) Create(ctx context.Context, accountNumber string, principal decimal.Decimal, tenureMonths int, mode models.PayoutMode, payoutAccount, nominee string) (*models.FixedDeposit, error) {
	if !principal.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if mode != models.PayoutModeCumulative && mode.PeriodMonths() == 0 {
		return nil, fmt.Errorf("unknown payout mode %q", mode)
	}
	rate, ok := rates.RateFor(f.cfg.FDBands, tenureMonths)
	if !ok {
		return nil, &ledger.RuleError{Reason: fmt.Sprintf("no rate defined for a tenure of %d months", tenureMonths)}
	}
	account, err := f.storage.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if payoutAccount != "" && payoutAccount != accountNumber {
		if _, err := f.storage.GetAccount(ctx, payoutAccount); err != nil {
			return nil, err
		}
	}

	fdNumber, err := f.ids.DepositNumber(ctx, "FD", f.storage.FixedDepositExists)
	if err != nil {
		return nil, fmt.Errorf("failed to assign FD number: %w", err)
	}
	now := f.now()
	maturityAmount := principal
	if mode == models.PayoutModeCumulative {
		maturityAmount = compoundMonthly(principal, rate, tenureMonths).Round(2)
	}
	fd := &models.FixedDeposit{
		ID:                uuid.New(),
		FDNumber:          fdNumber,
		AccountNumber:     accountNumber,
		CustomerKey:       account.CustomerKey,
		Principal:         principal,
		InterestRate:      rate,
		TenureMonths:      tenureMonths,
		PayoutMode:        mode,
		PayoutAccount:     payoutAccount,
		Nominee:           nominee,
		StartDate:         now,
		MaturityDate:      now.AddDate(0, tenureMonths, 0),
		MaturityAmount:    maturityAmount,
		TotalInterestPaid: decimal.Zero,
		ClosurePenalty:    decimal.Zero,
		ClosurePayout:     decimal.Zero,
		Status:            models.FDStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err = f.ledger.Move(ctx, ledger.MoveRequest{
		From:        accountNumber,
		Amount:      principal,
		Type:        models.TransactionTypeFDDeposit,
		Description: "fixed deposit " + fdNumber,
	}, func(txs store.Storage, _ *models.Transaction) error {
		return txs.CreateFixedDeposit(ctx, fd)
	})
	if err != nil {
		return nil, err
	}
	return fd, nil
}

// Get retrieves a fixed deposit by its number.
func (f *FDService) Get(ctx context.Context, fdNumber string) (*models.FixedDeposit, error) {
	return f.storage.GetFixedDeposit(ctx, fdNumber)
}

// PayoutResult reports the outcome of an interest payout attempt. Due is
// false when no whole payout period has elapsed; nothing was mutated then.
type PayoutResult struct {
	FDNumber      string          `json:"fd_number"`
	Due           bool            `json:"due"`
	Periods       int             `json:"periods,omitempty"`
	Interest      decimal.Decimal `json:"interest"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// ProcessInterestPayout credits the elapsed whole periods of simple interest
// to the payout account. Applicable only to non-cumulative deposits with a
// payout account set.
func (f *FDService) ProcessInterestPayout(ctx context.Context, fdNumber string) (*PayoutResult, error) {
	fd, err := f.storage.GetFixedDeposit(ctx, fdNumber)
	if err != nil {
		return nil, err
	}
	if fd.Status != models.FDStatusActive {
		return nil, &ledger.StateError{Entity: "fixed deposit " + fdNumber, Current: string(fd.Status), Required: string(models.FDStatusActive)}
	}
	if fd.PayoutMode == models.PayoutModeCumulative || fd.PayoutAccount == "" {
		return nil, &ledger.RuleError{Reason: "interest payout is not applicable to this deposit"}
	}

	periodMonths := fd.PayoutMode.PeriodMonths()
	last := fd.StartDate
	if fd.LastPayoutDate != nil {
		last = *fd.LastPayoutDate
	}
	// Interest accrues only up to the maturity date; a deposit left active
	// past it earns nothing further until maturity processing runs.
	now := f.now()
	asOf := now
	if asOf.After(fd.MaturityDate) {
		asOf = fd.MaturityDate
	}
	periods := monthsBetween(last, asOf) / periodMonths
	if periods < 1 {
		return &PayoutResult{FDNumber: fdNumber, Interest: decimal.Zero}, nil
	}

	spanMonths := periods * periodMonths
	interest := fd.Principal.Mul(fd.InterestRate).Div(hundred).
		Mul(decimal.NewFromInt(int64(spanMonths))).Div(twelve).Round(2)
	nextLast := last.AddDate(0, spanMonths, 0)

	res, err := f.ledger.Move(ctx, ledger.MoveRequest{
		To:          fd.PayoutAccount,
		Amount:      interest,
		Type:        models.TransactionTypeInterestCredit,
		Description: fmt.Sprintf("interest payout for %s", fdNumber),
	}, func(txs store.Storage, _ *models.Transaction) error {
		fd.LastPayoutDate = &nextLast
		fd.TotalInterestPaid = fd.TotalInterestPaid.Add(interest)
		fd.UpdatedAt = now
		return txs.UpdateFixedDeposit(ctx, fd)
	})
	if err != nil {
		return nil, err
	}
	return &PayoutResult{
		FDNumber:      fdNumber,
		Due:           true,
		Periods:       periods,
		Interest:      interest,
		TransactionID: res.TransactionID,
	}, nil
}

// ClosureResult reports a premature closure.
type ClosureResult struct {
	FDNumber      string          `json:"fd_number"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	Penalty       decimal.Decimal `json:"penalty"`
	Payout        decimal.Decimal `json:"payout"`
	TransactionID string          `json:"transaction_id"`
}

// ClosePremature closes an active deposit before maturity. The current value
// compounds at one percentage point below the contracted rate over the
// elapsed fraction of the tenure (elapsed days / total days × tenure, as a
// fractional month exponent), and a 1% penalty is netted off the payout.
func (f *FDService) ClosePremature(ctx context.Context, fdNumber, reason string) (*ClosureResult, error) {
	fd, err := f.storage.GetFixedDeposit(ctx, fdNumber)
	if err != nil {
		return nil, err
	}
	if fd.Status != models.FDStatusActive {
		return nil, &ledger.StateError{Entity: "fixed deposit " + fdNumber, Current: string(fd.Status), Required: string(models.FDStatusActive)}
	}
	now := f.now()
	if !now.Before(fd.MaturityDate) {
		return nil, &ledger.RuleError{Reason: "deposit has reached maturity; use maturity processing"}
	}

	elapsedDays := now.Sub(fd.StartDate).Hours() / 24
	totalDays := fd.MaturityDate.Sub(fd.StartDate).Hours() / 24
	fracMonths := elapsedDays / totalDays * float64(fd.TenureMonths)
	reducedRate := fd.InterestRate.Sub(f.cfg.FDPrematureRateCut)
	monthlyRate := reducedRate.InexactFloat64() / 1200
	currentValue := decimal.NewFromFloat(fd.Principal.InexactFloat64() * math.Pow(1+monthlyRate, fracMonths)).Round(2)
	penalty := currentValue.Mul(f.cfg.ClosurePenaltyRate).Round(2)
	payout := currentValue.Sub(penalty)

	res, err := f.ledger.Move(ctx, ledger.MoveRequest{
		To:          fd.AccountNumber,
		Amount:      payout,
		Type:        models.TransactionTypeFDMaturity,
		Description: "premature closure of " + fdNumber + ": " + reason,
	}, func(txs store.Storage, _ *models.Transaction) error {
		fd.Status = models.FDStatusPrematureClosed
		fd.ClosurePenalty = penalty
		fd.ClosurePayout = payout
		fd.ClosedAt = &now
		fd.UpdatedAt = now
		return txs.UpdateFixedDeposit(ctx, fd)
	})
	if err != nil {
		return nil, err
	}
	return &ClosureResult{
		FDNumber:      fdNumber,
		CurrentValue:  currentValue,
		Penalty:       penalty,
		Payout:        payout,
		TransactionID: res.TransactionID,
	}, nil
}

// ProcessMaturity credits the maturity amount back to the holder account and
// marks the deposit matured. Requires the maturity date to have passed.
func (f *FDService) ProcessMaturity(ctx context.Context, fdNumber string) (*ledger.MovementResult, error) {
	fd, err := f.storage.GetFixedDeposit(ctx, fdNumber)
	if err != nil {
		return nil, err
	}
	if fd.Status != models.FDStatusActive {
		return nil, &ledger.StateError{Entity: "fixed deposit " + fdNumber, Current: string(fd.Status), Required: string(models.FDStatusActive)}
	}
	now := f.now()
	if now.Before(fd.MaturityDate) {
		return nil, &ledger.RuleError{Reason: "deposit has not yet reached maturity"}
	}

	return f.ledger.Move(ctx, ledger.MoveRequest{
		To:          fd.AccountNumber,
		Amount:      fd.MaturityAmount,
		Type:        models.TransactionTypeFDMaturity,
		Description: "maturity of " + fdNumber,
	}, func(txs store.Storage, _ *models.Transaction) error {
		fd.Status = models.FDStatusMatured
		fd.ClosedAt = &now
		fd.UpdatedAt = now
		return txs.UpdateFixedDeposit(ctx, fd)
	})
}

// MaturitySweepResult is one fixed deposit's outcome within a maturity sweep.
type MaturitySweepResult struct {
	FDNumber      string `json:"fd_number"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ProcessMaturitySweep matures every active deposit past its maturity date.
// Each deposit is its own unit of work; one failure does not stop the sweep.
func (f *FDService) ProcessMaturitySweep(ctx context.Context) ([]MaturitySweepResult, error) {
	fds, err := f.storage.GetActiveFixedDeposits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active fixed deposits: %w", err)
	}
	now := f.now()

	var results []MaturitySweepResult
	for _, fd := range fds {
		if now.Before(fd.MaturityDate) {
			continue
		}
		res, err := f.ProcessMaturity(ctx, fd.FDNumber)
		if err != nil {
			log.Printf("maturity processing for %s failed: %v", fd.FDNumber, err)
			results = append(results, MaturitySweepResult{FDNumber: fd.FDNumber, Error: err.Error()})
			continue
		}
		results = append(results, MaturitySweepResult{FDNumber: fd.FDNumber, TransactionID: res.TransactionID})
	}
	return results, nil
}
