package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeSavings AccountType = "savings"
	AccountTypeCurrent AccountType = "current"
)

// FreezeReason explains why an account is frozen. FreezeReasonNone means the
// account is not frozen.
type FreezeReason string

const (
	FreezeReasonNone               FreezeReason = "none"
	FreezeReasonSuspiciousActivity FreezeReason = "suspicious_activity"
	FreezeReasonCustomerRequest    FreezeReason = "customer_request"
	FreezeReasonAdminAction        FreezeReason = "admin_action"
	FreezeReasonLegalHold          FreezeReason = "legal_hold"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusFrozen   AccountStatus = "frozen"
)

type Account struct {
	ID            uuid.UUID       `json:"id"`
	AccountNumber string          `json:"account_number"` // Business identifier, immutable once assigned
	CustomerKey   string          `json:"customer_key"`   // Link to external customer system
	Type          AccountType     `json:"type"`
	Balance       decimal.Decimal `json:"balance"`

	// Transaction-limit window counters. Reset lazily when the calendar
	// day/month rolls over relative to the stored reset timestamps.
	TodayTransactionAmount decimal.Decimal `json:"today_transaction_amount"`
	MonthTransactionAmount decimal.Decimal `json:"month_transaction_amount"`
	LastDailyReset         time.Time       `json:"last_daily_reset"`
	LastMonthlyReset       time.Time       `json:"last_monthly_reset"`

	Active       bool         `json:"active"`
	FreezeReason FreezeReason `json:"freeze_reason"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Status derives the effective account status: inactive wins over frozen.
func (a *Account) Status() AccountStatus {
	if !a.Active {
		return AccountStatusInactive
	}
	if a.FreezeReason != FreezeReasonNone {
		return AccountStatusFrozen
	}
	return AccountStatusActive
}

func (a *Account) Frozen() bool {
	return a.FreezeReason != FreezeReasonNone
}

type TransactionType string

const (
	TransactionTypeTransfer       TransactionType = "transfer"
	TransactionTypeDeposit        TransactionType = "deposit"
	TransactionTypeWithdrawal     TransactionType = "withdrawal"
	TransactionTypeFDDeposit      TransactionType = "fd_deposit"
	TransactionTypeFDMaturity     TransactionType = "fd_maturity"
	TransactionTypeRDDeposit      TransactionType = "rd_deposit"
	TransactionTypeRDMaturity     TransactionType = "rd_maturity"
	TransactionTypeInterestCredit TransactionType = "interest_credit"
	TransactionTypeFeeDebit       TransactionType = "fee_debit"
	TransactionTypePenaltyDebit   TransactionType = "penalty_debit"
	TransactionTypeReversal       TransactionType = "reversal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

// ErrTerminalState is returned when completing or failing a transaction that
// has already left the pending state.
var ErrTerminalState = errors.New("transaction already in a terminal state")

// Transaction is a record of one money movement. At most one of FromAccount /
// ToAccount may be empty, modeling an external cash leg. Once completed or
// failed the record is immutable, except for the one-time reversal link.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	TransactionID string            `json:"transaction_id"` // "TXN" + date + random suffix
	FromAccount   string            `json:"from_account,omitempty"`
	ToAccount     string            `json:"to_account,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Description   string            `json:"description,omitempty"`
	Fee           decimal.Decimal   `json:"fee"`
	GST           decimal.Decimal   `json:"gst"`

	// Post-transaction balance snapshots, captured at completion for audit
	// and statement reconstruction. Nil for an external leg.
	FromBalanceAfter *decimal.Decimal `json:"from_balance_after,omitempty"`
	ToBalanceAfter   *decimal.Decimal `json:"to_balance_after,omitempty"`

	FailureReason string     `json:"failure_reason,omitempty"`
	ReversalOf    string     `json:"reversal_of,omitempty"` // on a reversal record: the original transaction ID
	ReversedBy    string     `json:"reversed_by,omitempty"` // on the original: the reversal transaction ID
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// Complete moves a pending transaction to completed, stamping the processing
// time and whichever balance snapshots apply.
func (t *Transaction) Complete(now time.Time, fromBalance, toBalance *decimal.Decimal) error {
	if t.Status != TransactionStatusPending {
		return ErrTerminalState
	}
	t.Status = TransactionStatusCompleted
	t.ProcessedAt = &now
	t.FromBalanceAfter = fromBalance
	t.ToBalanceAfter = toBalance
	return nil
}

// Fail moves a pending transaction to failed with the triggering reason.
func (t *Transaction) Fail(now time.Time, reason string) error {
	if t.Status != TransactionStatusPending {
		return ErrTerminalState
	}
	t.Status = TransactionStatusFailed
	t.ProcessedAt = &now
	t.FailureReason = reason
	return nil
}

type PayoutMode string

const (
	PayoutModeCumulative PayoutMode = "cumulative"
	PayoutModeMonthly    PayoutMode = "monthly"
	PayoutModeQuarterly  PayoutMode = "quarterly"
	PayoutModeHalfYearly PayoutMode = "half_yearly"
	PayoutModeYearly     PayoutMode = "yearly"
)

// PeriodMonths returns the payout period length in months, or 0 for
// cumulative mode.
func (m PayoutMode) PeriodMonths() int {
	switch m {
	case PayoutModeMonthly:
		return 1
	case PayoutModeQuarterly:
		return 3
	case PayoutModeHalfYearly:
		return 6
	case PayoutModeYearly:
		return 12
	}
	return 0
}

type FDStatus string

const (
	FDStatusActive          FDStatus = "active"
	FDStatusMatured         FDStatus = "matured"
	FDStatusClosed          FDStatus = "closed"
	FDStatusPrematureClosed FDStatus = "premature_closed"
)

type FixedDeposit struct {
	ID             uuid.UUID       `json:"id"`
	FDNumber       string          `json:"fd_number"`
	AccountNumber  string          `json:"account_number"` // Source account; also receives principal at maturity
	CustomerKey    string          `json:"customer_key"`
	Principal      decimal.Decimal `json:"principal"`
	InterestRate   decimal.Decimal `json:"interest_rate"` // Annual percentage, fixed at creation
	TenureMonths   int             `json:"tenure_months"`
	PayoutMode     PayoutMode      `json:"payout_mode"`
	PayoutAccount  string          `json:"payout_account,omitempty"` // Receives periodic interest for non-cumulative modes
	Nominee        string          `json:"nominee,omitempty"`
	StartDate      time.Time       `json:"start_date"`
	MaturityDate   time.Time       `json:"maturity_date"`
	MaturityAmount decimal.Decimal `json:"maturity_amount"`

	LastPayoutDate    *time.Time      `json:"last_payout_date,omitempty"`
	TotalInterestPaid decimal.Decimal `json:"total_interest_paid"`
	ClosurePenalty    decimal.Decimal `json:"closure_penalty"`
	ClosurePayout     decimal.Decimal `json:"closure_payout"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`

	Status    FDStatus  `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RDStatus string

const (
	RDStatusActive    RDStatus = "active"
	RDStatusMatured   RDStatus = "matured"
	RDStatusClosed    RDStatus = "closed"
	RDStatusDefaulted RDStatus = "defaulted"
)

type RecurringDeposit struct {
	ID             uuid.UUID       `json:"id"`
	RDNumber       string          `json:"rd_number"`
	AccountNumber  string          `json:"account_number"`
	CustomerKey    string          `json:"customer_key"`
	MonthlyAmount  decimal.Decimal `json:"monthly_amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	TenureMonths   int             `json:"tenure_months"`
	Nominee        string          `json:"nominee,omitempty"`
	StartDate      time.Time       `json:"start_date"`
	NextDueDate    time.Time       `json:"next_due_date"`
	MaturityAmount decimal.Decimal `json:"maturity_amount"`

	InstallmentsPaid int             `json:"installments_paid"`
	TotalDeposited   decimal.Decimal `json:"total_deposited"`
	PenaltyAmount    decimal.Decimal `json:"penalty_amount"` // Accumulated overdue penalties, deducted at maturity
	InterestEarned   decimal.Decimal `json:"interest_earned"`
	ClosurePenalty   decimal.Decimal `json:"closure_penalty"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`

	AutoDebitEnabled  bool       `json:"auto_debit_enabled"`
	AutoDebitFailures int        `json:"auto_debit_failures"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty"`

	Status    RDStatus  `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type InstallmentStatus string

const (
	InstallmentStatusPending   InstallmentStatus = "pending"
	InstallmentStatusPaid      InstallmentStatus = "paid"
	InstallmentStatusOverdue   InstallmentStatus = "overdue"
	InstallmentStatusDefaulted InstallmentStatus = "defaulted"
)

// Installment is one row of a recurring deposit's payment schedule. The full
// schedule (1..tenure) is generated when the RD is created.
type Installment struct {
	ID            uuid.UUID         `json:"id"`
	RDNumber      string            `json:"rd_number"`
	Number        int               `json:"number"` // 1..tenure
	DueDate       time.Time         `json:"due_date"`
	Amount        decimal.Decimal   `json:"amount"`
	Penalty       decimal.Decimal   `json:"penalty"`
	Total         decimal.Decimal   `json:"total"`
	Status        InstallmentStatus `json:"status"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
}
