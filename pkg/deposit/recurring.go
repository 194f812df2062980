package deposit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmercer/bankcore/pkg/identifier"
	"github.com/jmercer/bankcore/pkg/ledger"
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/jmercer/bankcore/pkg/rates"
	"github.com/jmercer/bankcore/pkg/store"
	"github.com/shopspring/decimal"
)

// maxAutoDebitFailures is the consecutive-failure count at which the auto
// debit sweep stops attempting an RD.
const maxAutoDebitFailures = 3

// PaymentError means an installment payment was denied by the source
// account's transactability check. The failure is counted on the RD.
type PaymentError struct {
	RDNumber string
	Reason   string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("installment payment for %s failed: %s", e.RDNumber, e.Reason)
}

// RDService handles the recurring deposit lifecycle and its installment
// schedule.
type RDService struct {
	storage store.Storage
	cfg     *rates.Config
	ledger  *ledger.Service
	ids     *identifier.Generator
	now     func() time.Time
}

// NewRDService creates an RDService sharing the ledger's storage.
func NewRDService(l *ledger.Service, cfg *rates.Config) *RDService {
	return &RDService{
		storage: l.Storage(),
		cfg:     cfg,
		ledger:  l,
		ids:     identifier.New(),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (r *RDService) WithClock(now func() time.Time) *RDService {
	r.now = now
	return r
}

// rdMaturityAmount sums monthly × (1+r)^(tenure-i) over installments
// i=0..tenure-1, compounding each installment for its remaining tenure.
func rdMaturityAmount(monthly, annualRatePct decimal.Decimal, tenureMonths int) decimal.Decimal {
	monthlyRate := annualRatePct.Div(twelveHundred)
	base := decimal.NewFromInt(1).Add(monthlyRate)
	total := decimal.Zero
	for i := 0; i < tenureMonths; i++ {
		total = total.Add(monthly.Mul(base.Pow(decimal.NewFromInt(int64(tenureMonths - i)))))
	}
	return total
}

// buildSchedule generates the full installment schedule: due dates are the
// start date plus i months for i=0..tenure-1, all initially pending.
func buildSchedule(rdNumber string, monthly decimal.Decimal, start time.Time, tenureMonths int) []*models.Installment {
	schedule := make([]*models.Installment, 0, tenureMonths)
	for i := 0; i < tenureMonths; i++ {
		schedule = append(schedule, &models.Installment{
			ID:       uuid.New(),
			RDNumber: rdNumber,
			Number:   i + 1,
			DueDate:  start.AddDate(0, i, 0),
			Amount:   monthly,
			Penalty:  decimal.Zero,
			Total:    decimal.Zero,
			Status:   models.InstallmentStatusPending,
		})
	}
	return schedule
}

// Create opens a recurring deposit: resolves the rate, persists the RD with
// its full installment schedule, then immediately processes the first
// installment. If that first payment fails the RD remains persisted with the
// failure recorded, and the payment error is returned alongside it.
func (r *RDService) Create(ctx context.Context, accountNumber string, monthlyAmount decimal.Decimal, tenureMonths int, nominee string, autoDebit bool) (*models.RecurringDeposit, error) {
	if !monthlyAmount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if tenureMonths < r.cfg.RDMinTenureMonths {
		return nil, &ledger.RuleError{Reason: fmt.Sprintf("tenure must be at least %d months", r.cfg.RDMinTenureMonths)}
	}
	rate, ok := rates.RateFor(r.cfg.RDBands, tenureMonths)
	if !ok {
		return nil, &ledger.RuleError{Reason: fmt.Sprintf("no rate defined for a tenure of %d months", tenureMonths)}
	}
	account, err := r.storage.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if d, err := r.ledger.CanTransact(ctx, accountNumber, monthlyAmount); err != nil {
		return nil, err
	} else if !d.Allowed {
		return nil, &ledger.RuleError{Reason: d.Reason}
	}

	rdNumber, err := r.ids.DepositNumber(ctx, "RD", r.storage.RecurringDepositExists)
	if err != nil {
		return nil, fmt.Errorf("failed to assign RD number: %w", err)
	}
	now := r.now()
	rd := &models.RecurringDeposit{
		ID:               uuid.New(),
		RDNumber:         rdNumber,
		AccountNumber:    accountNumber,
		CustomerKey:      account.CustomerKey,
		MonthlyAmount:    monthlyAmount,
		InterestRate:     rate,
		TenureMonths:     tenureMonths,
		Nominee:          nominee,
		StartDate:        now,
		NextDueDate:      now,
		MaturityAmount:   rdMaturityAmount(monthlyAmount, rate, tenureMonths).Round(2),
		TotalDeposited:   decimal.Zero,
		PenaltyAmount:    decimal.Zero,
		InterestEarned:   decimal.Zero,
		ClosurePenalty:   decimal.Zero,
		AutoDebitEnabled: autoDebit,
		Status:           models.RDStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	schedule := buildSchedule(rdNumber, monthlyAmount, now, tenureMonths)

	err = r.storage.InTx(ctx, func(txs store.Storage) error {
		if err := txs.CreateRecurringDeposit(ctx, rd); err != nil {
			return err
		}
		return txs.CreateInstallments(ctx, schedule)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recurring deposit: %w", err)
	}

	if _, err := r.ProcessInstallment(ctx, rdNumber); err != nil {
		return rd, fmt.Errorf("recurring deposit %s created but first installment failed: %w", rdNumber, err)
	}
	return r.storage.GetRecurringDeposit(ctx, rdNumber)
}

// Get retrieves a recurring deposit and its installment schedule.
func (r *RDService) Get(ctx context.Context, rdNumber string) (*models.RecurringDeposit, []*models.Installment, error) {
	rd, err := r.storage.GetRecurringDeposit(ctx, rdNumber)
	if err != nil {
		return nil, nil, err
	}
	schedule, err := r.storage.GetInstallments(ctx, rdNumber)
	if err != nil {
		return nil, nil, err
	}
	return rd, schedule, nil
}

// InstallmentResult reports a successful installment payment.
type InstallmentResult struct {
	RDNumber      string          `json:"rd_number"`
	Installment   int             `json:"installment"`
	Penalty       decimal.Decimal `json:"penalty"`
	Total         decimal.Decimal `json:"total"`
	TransactionID string          `json:"transaction_id"`
	Matured       bool            `json:"matured"`
}

// overduePenalty charges per overdue day, capped at a fraction of the
// monthly amount.
func (r *RDService) overduePenalty(rd *models.RecurringDeposit, now time.Time) decimal.Decimal {
	if !now.After(rd.NextDueDate) {
		return decimal.Zero
	}
	overdueDays := int(now.Sub(rd.NextDueDate).Hours() / 24)
	byDays := r.cfg.RDDailyPenalty.Mul(decimal.NewFromInt(int64(overdueDays)))
	capped := rd.MonthlyAmount.Mul(r.cfg.RDPenaltyCap)
	return decimal.Min(byDays, capped)
}

// ProcessInstallment pays the next due installment: monthly amount plus any
// overdue penalty is debited from the source account, the installment row is
// marked paid, and the RD counters advance, all in one unit. A denied debit
// increments the auto-debit failure count and returns a PaymentError with no
// further mutation. Paying the final installment triggers maturity
// processing within the same call.
func (r *RDService) ProcessInstallment(ctx context.Context, rdNumber string) (*InstallmentResult, error) {
	rd, err := r.storage.GetRecurringDeposit(ctx, rdNumber)
	if err != nil {
		return nil, err
	}
	if rd.Status != models.RDStatusActive {
		return nil, &ledger.StateError{Entity: "recurring deposit " + rdNumber, Current: string(rd.Status), Required: string(models.RDStatusActive)}
	}

	now := r.now()
	penalty := r.overduePenalty(rd, now)
	total := rd.MonthlyAmount.Add(penalty)

	decision, err := r.ledger.CanTransact(ctx, rd.AccountNumber, total)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		rd.AutoDebitFailures++
		rd.LastFailureReason = decision.Reason
		rd.LastFailureAt = &now
		rd.UpdatedAt = now
		if err := r.storage.UpdateRecurringDeposit(ctx, rd); err != nil {
			return nil, fmt.Errorf("failed to record payment failure: %w", err)
		}
		if rd.AutoDebitFailures >= maxAutoDebitFailures {
			r.markCurrentOverdue(ctx, rd)
		}
		return nil, &PaymentError{RDNumber: rdNumber, Reason: decision.Reason}
	}

	schedule, err := r.storage.GetInstallments(ctx, rdNumber)
	if err != nil {
		return nil, err
	}
	var inst *models.Installment
	for _, candidate := range schedule {
		if candidate.Number == rd.InstallmentsPaid+1 {
			inst = candidate
			break
		}
	}
	if inst == nil {
		return nil, fmt.Errorf("no schedule row for installment %d of %s", rd.InstallmentsPaid+1, rdNumber)
	}

	res, err := r.ledger.Move(ctx, ledger.MoveRequest{
		From:        rd.AccountNumber,
		Amount:      total,
		Type:        models.TransactionTypeRDDeposit,
		Description: fmt.Sprintf("installment %d for %s", inst.Number, rdNumber),
	}, func(txs store.Storage, txn *models.Transaction) error {
		inst.Status = models.InstallmentStatusPaid
		inst.Penalty = penalty
		inst.Total = total
		inst.PaidAt = &now
		inst.TransactionID = txn.TransactionID
		if err := txs.UpdateInstallment(ctx, inst); err != nil {
			return err
		}
		rd.InstallmentsPaid++
		rd.TotalDeposited = rd.TotalDeposited.Add(rd.MonthlyAmount)
		rd.PenaltyAmount = rd.PenaltyAmount.Add(penalty)
		rd.AutoDebitFailures = 0
		rd.LastFailureReason = ""
		rd.NextDueDate = rd.NextDueDate.AddDate(0, 1, 0)
		rd.UpdatedAt = now
		return txs.UpdateRecurringDeposit(ctx, rd)
	})
	if err != nil {
		return nil, err
	}

	result := &InstallmentResult{
		RDNumber:      rdNumber,
		Installment:   inst.Number,
		Penalty:       penalty,
		Total:         total,
		TransactionID: res.TransactionID,
	}
	if rd.InstallmentsPaid == rd.TenureMonths {
		if _, err := r.ProcessMaturity(ctx, rdNumber); err != nil {
			return result, fmt.Errorf("final installment paid but maturity processing failed: %w", err)
		}
		result.Matured = true
	}
	return result, nil
}

// markCurrentOverdue flags the next unpaid installment overdue. Best effort;
// the payment failure itself is already recorded on the RD.
func (r *RDService) markCurrentOverdue(ctx context.Context, rd *models.RecurringDeposit) {
	schedule, err := r.storage.GetInstallments(ctx, rd.RDNumber)
	if err != nil {
		log.Printf("failed to load schedule for %s: %v", rd.RDNumber, err)
		return
	}
	for _, inst := range schedule {
		if inst.Number == rd.InstallmentsPaid+1 && inst.Status == models.InstallmentStatusPending {
			inst.Status = models.InstallmentStatusOverdue
			if err := r.storage.UpdateInstallment(ctx, inst); err != nil {
				log.Printf("failed to mark installment %d of %s overdue: %v", inst.Number, rd.RDNumber, err)
			}
			return
		}
	}
}

// ProcessMaturity pays out the maturity amount net of accumulated penalties
// and marks the RD matured. Requires every installment to be paid.
func (r *RDService) ProcessMaturity(ctx context.Context, rdNumber string) (*ledger.MovementResult, error) {
	rd, err := r.storage.GetRecurringDeposit(ctx, rdNumber)
	if err != nil {
		return nil, err
	}
	if rd.Status != models.RDStatusActive {
		return nil, &ledger.StateError{Entity: "recurring deposit " + rdNumber, Current: string(rd.Status), Required: string(models.RDStatusActive)}
	}
	if rd.InstallmentsPaid < rd.TenureMonths {
		return nil, &ledger.RuleError{Reason: fmt.Sprintf("only %d of %d installments paid", rd.InstallmentsPaid, rd.TenureMonths)}
	}

	now := r.now()
	payout := rd.MaturityAmount.Sub(rd.PenaltyAmount)
	return r.ledger.Move(ctx, ledger.MoveRequest{
		To:          rd.AccountNumber,
		Amount:      payout,
		Type:        models.TransactionTypeRDMaturity,
		Description: "maturity of " + rdNumber,
	}, func(txs store.Storage, _ *models.Transaction) error {
		rd.Status = models.RDStatusMatured
		rd.InterestEarned = payout.Sub(rd.TotalDeposited)
		rd.ClosedAt = &now
		rd.UpdatedAt = now
		return txs.UpdateRecurringDeposit(ctx, rd)
	})
}

// ClosePremature closes an active RD before its schedule completes. Allowed
// only after the minimum number of paid installments; the payout is the total
// deposited less a 1% penalty, with no interest.
func (r *RDService) ClosePremature(ctx context.Context, rdNumber, reason string) (*ledger.MovementResult, error) {
	rd, err := r.storage.GetRecurringDeposit(ctx, rdNumber)
	if err != nil {
		return nil, err
	}
	if rd.Status != models.RDStatusActive {
		return nil, &ledger.StateError{Entity: "recurring deposit " + rdNumber, Current: string(rd.Status), Required: string(models.RDStatusActive)}
	}
	if rd.InstallmentsPaid < r.cfg.RDMinPaidForClose {
		return nil, &ledger.RuleError{Reason: fmt.Sprintf("premature closure requires at least %d paid installments", r.cfg.RDMinPaidForClose)}
	}

	now := r.now()
	penalty := rd.TotalDeposited.Mul(r.cfg.ClosurePenaltyRate).Round(2)
	payout := rd.TotalDeposited.Sub(penalty)
	return r.ledger.Move(ctx, ledger.MoveRequest{
		To:          rd.AccountNumber,
		Amount:      payout,
		Type:        models.TransactionTypeRDMaturity,
		Description: "premature closure of " + rdNumber + ": " + reason,
	}, func(txs store.Storage, _ *models.Transaction) error {
		rd.Status = models.RDStatusClosed
		rd.ClosurePenalty = penalty
		rd.ClosedAt = &now
		rd.UpdatedAt = now
		return txs.UpdateRecurringDeposit(ctx, rd)
	})
}

// ToggleAutoDebit flips the auto-debit flag; enabling also clears the
// consecutive failure count.
func (r *RDService) ToggleAutoDebit(ctx context.Context, rdNumber string, enabled bool) (*models.RecurringDeposit, error) {
	rd, err := r.storage.GetRecurringDeposit(ctx, rdNumber)
	if err != nil {
		return nil, err
	}
	rd.AutoDebitEnabled = enabled
	if enabled {
		rd.AutoDebitFailures = 0
	}
	rd.UpdatedAt = r.now()
	if err := r.storage.UpdateRecurringDeposit(ctx, rd); err != nil {
		return nil, fmt.Errorf("failed to update auto debit: %w", err)
	}
	return rd, nil
}

// AutoDebitResult is one RD's outcome within an auto-debit sweep.
type AutoDebitResult struct {
	RDNumber      string `json:"rd_number"`
	Installment   int    `json:"installment,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Matured       bool   `json:"matured,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ProcessAutoDue attempts the next installment for every active RD that is
// due, has auto-debit enabled, and has not hit the failure cutoff. Each RD is
// an independent unit of work; one failure never aborts the sweep.
func (r *RDService) ProcessAutoDue(ctx context.Context) ([]AutoDebitResult, error) {
	rds, err := r.storage.GetActiveRecurringDeposits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active recurring deposits: %w", err)
	}
	now := r.now()

	var results []AutoDebitResult
	for _, rd := range rds {
		if !rd.AutoDebitEnabled || rd.AutoDebitFailures >= maxAutoDebitFailures || rd.NextDueDate.After(now) {
			continue
		}
		res, err := r.ProcessInstallment(ctx, rd.RDNumber)
		if err != nil {
			log.Printf("auto debit for %s failed: %v", rd.RDNumber, err)
			results = append(results, AutoDebitResult{RDNumber: rd.RDNumber, Error: err.Error()})
			continue
		}
		results = append(results, AutoDebitResult{
			RDNumber:      rd.RDNumber,
			Installment:   res.Installment,
			TransactionID: res.TransactionID,
			Matured:       res.Matured,
		})
	}
	return results, nil
}
