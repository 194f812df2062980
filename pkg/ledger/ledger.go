// Package ledger owns the account and money movement business logic: balance
// mutation under limit enforcement, freeze state, and the transaction record
// lifecycle. All multi-entity mutations run inside a storage transaction, and
// every balance read-modify-write happens under a per-account lock.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmercer/bankcore/pkg/identifier"
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/jmercer/bankcore/pkg/rates"
	"github.com/jmercer/bankcore/pkg/store"
	"github.com/shopspring/decimal"
)

// Service handles account and money movement operations against a Storage
// implementation.
type Service struct {
	storage store.Storage
	cfg     *rates.Config
	ids     *identifier.Generator
	now     func() time.Time
	locks   lockTable
}

// NewService creates a Service with the given Storage and rate configuration.
func NewService(s store.Storage, cfg *rates.Config) *Service {
	return &Service{
		storage: s,
		cfg:     cfg,
		ids:     identifier.New(),
		now:     time.Now,
		locks:   lockTable{locks: make(map[string]*sync.Mutex)},
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Storage exposes the backing store for collaborating services.
func (s *Service) Storage() store.Storage { return s.storage }

// lockTable hands out one mutex per account number. Locks are always taken in
// sorted order so a transfer A→B and a concurrent B→A cannot deadlock.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *lockTable) acquire(numbers ...string) func() {
	uniq := make([]string, 0, len(numbers))
	seen := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, n := range uniq {
		l.mu.Lock()
		m, ok := l.locks[n]
		if !ok {
			m = &sync.Mutex{}
			l.locks[n] = m
		}
		l.mu.Unlock()
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// Decision is the outcome of a transactability check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// resetWindows zeroes the daily counter when the calendar day has rolled over
// since the stored reset timestamp, and the monthly counter likewise. Returns
// whether anything changed; callers persist the account when it did.
func resetWindows(a *models.Account, now time.Time) bool {
	changed := false
	ny, nm, nd := now.Date()
	dy, dm, dd := a.LastDailyReset.Date()
	if ny != dy || nm != dm || nd != dd {
		a.TodayTransactionAmount = decimal.Zero
		a.LastDailyReset = now
		changed = true
	}
	my, mm, _ := a.LastMonthlyReset.Date()
	if ny != my || nm != mm {
		a.MonthTransactionAmount = decimal.Zero
		a.LastMonthlyReset = now
		changed = true
	}
	return changed
}

// canTransact checks the limit windows and the type-specific balance floor.
// The first violated rule is returned; reasons are not combined. Counters
// must already be current (resetWindows has run).
func (s *Service) canTransact(a *models.Account, amount decimal.Decimal) Decision {
	if a.TodayTransactionAmount.Add(amount).GreaterThan(s.cfg.DailyLimit) {
		return Decision{Reason: ReasonDailyLimit}
	}
	if a.MonthTransactionAmount.Add(amount).GreaterThan(s.cfg.MonthlyLimit) {
		return Decision{Reason: ReasonMonthlyLimit}
	}
	remaining := a.Balance.Sub(amount)
	if a.Type == models.AccountTypeCurrent {
		if remaining.LessThan(s.cfg.OverdraftLimit.Neg()) {
			return Decision{Reason: ReasonOverdraftLimit}
		}
	} else if remaining.LessThan(s.cfg.MinimumBalance) {
		return Decision{Reason: ReasonInsufficientBalance}
	}
	return Decision{Allowed: true}
}

// CanTransact reports whether the account could debit the given amount right
// now. Note the documented side effect: stale daily/monthly limit windows are
// reset and persisted even though this is otherwise a read-only check.
func (s *Service) CanTransact(ctx context.Context, accountNumber string, amount decimal.Decimal) (Decision, error) {
	unlock := s.locks.acquire(accountNumber)
	defer unlock()

	a, err := s.storage.GetAccount(ctx, accountNumber)
	if err != nil {
		return Decision{}, err
	}
	now := s.now()
	if resetWindows(a, now) {
		a.UpdatedAt = now
		if err := s.storage.UpdateAccount(ctx, a); err != nil {
			return Decision{}, fmt.Errorf("failed to persist window reset: %w", err)
		}
	}
	return s.canTransact(a, amount), nil
}

// OpenAccount creates a new account with the given initial deposit. Savings
// accounts must open at or above the minimum balance.
func (s *Service) OpenAccount(ctx context.Context, customerKey string, typ models.AccountType, initialDeposit decimal.Decimal) (*models.Account, error) {
	if typ != models.AccountTypeSavings && typ != models.AccountTypeCurrent {
		return nil, fmt.Errorf("unknown account type %q", typ)
	}
	if initialDeposit.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if typ == models.AccountTypeSavings && initialDeposit.LessThan(s.cfg.MinimumBalance) {
		return nil, &RuleError{Reason: fmt.Sprintf("initial deposit below minimum balance of %s", s.cfg.MinimumBalance)}
	}

	number, err := s.ids.AccountNumber(ctx, typ, s.storage.AccountExists)
	if err != nil {
		return nil, fmt.Errorf("failed to assign account number: %w", err)
	}
	now := s.now()
	a := &models.Account{
		ID:                     uuid.New(),
		AccountNumber:          number,
		CustomerKey:            customerKey,
		Type:                   typ,
		Balance:                initialDeposit,
		TodayTransactionAmount: decimal.Zero,
		MonthTransactionAmount: decimal.Zero,
		LastDailyReset:         now,
		LastMonthlyReset:       now,
		Active:                 true,
		FreezeReason:           models.FreezeReasonNone,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	err = s.storage.InTx(ctx, func(txs store.Storage) error {
		if err := txs.CreateAccount(ctx, a); err != nil {
			return err
		}
		if !initialDeposit.IsPositive() {
			return nil
		}
		txnID, err := s.ids.TransactionID(ctx, txs.TransactionExists)
		if err != nil {
			return err
		}
		bal := a.Balance
		processed := now
		txn := &models.Transaction{
			ID:             uuid.New(),
			TransactionID:  txnID,
			ToAccount:      number,
			Amount:         initialDeposit,
			Type:           models.TransactionTypeDeposit,
			Status:         models.TransactionStatusCompleted,
			Description:    "initial deposit",
			ToBalanceAfter: &bal,
			CreatedAt:      now,
			ProcessedAt:    &processed,
		}
		return txs.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open account: %w", err)
	}
	return a, nil
}

// GetAccount retrieves an account by its number.
func (s *Service) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	return s.storage.GetAccount(ctx, accountNumber)
}

// Statement returns the full transaction history touching the account.
func (s *Service) Statement(ctx context.Context, accountNumber string) ([]*models.Transaction, error) {
	if _, err := s.storage.GetAccount(ctx, accountNumber); err != nil {
		return nil, err
	}
	return s.storage.GetTransactionsForAccount(ctx, accountNumber)
}

// GetTransaction retrieves a transaction record by its business ID.
func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.storage.GetTransaction(ctx, transactionID)
}

// Credit increases the account balance. Credits do not count against the
// transaction limit windows.
func (s *Service) Credit(ctx context.Context, accountNumber string, amount decimal.Decimal) (*models.Account, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	unlock := s.locks.acquire(accountNumber)
	defer unlock()

	a, err := s.storage.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = s.now()
	if err := s.storage.UpdateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}
	return a, nil
}

// Debit runs the transactability check and, if allowed, decreases the balance
// and advances the limit counters. A denial returns a RuleError and performs
// no mutation beyond a stale window reset.
func (s *Service) Debit(ctx context.Context, accountNumber string, amount decimal.Decimal) (*models.Account, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	unlock := s.locks.acquire(accountNumber)
	defer unlock()

	a, err := s.storage.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	now := s.now()
	windowsChanged := resetWindows(a, now)
	if d := s.canTransact(a, amount); !d.Allowed {
		if windowsChanged {
			a.UpdatedAt = now
			if err := s.storage.UpdateAccount(ctx, a); err != nil {
				return nil, fmt.Errorf("failed to persist window reset: %w", err)
			}
		}
		return nil, &RuleError{Reason: d.Reason}
	}
	a.Balance = a.Balance.Sub(amount)
	a.TodayTransactionAmount = a.TodayTransactionAmount.Add(amount)
	a.MonthTransactionAmount = a.MonthTransactionAmount.Add(amount)
	a.UpdatedAt = now
	if err := s.storage.UpdateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}
	return a, nil
}

// Freeze marks the account frozen for the given reason.
func (s *Service) Freeze(ctx context.Context, accountNumber string, reason models.FreezeReason) (*models.Account, error) {
	if reason == models.FreezeReasonNone {
		return nil, fmt.Errorf("freeze requires a reason")
	}
	return s.setFreeze(ctx, accountNumber, reason)
}

// Unfreeze clears the freeze state. Resetting any owner-level lock state is
// the caller's concern.
func (s *Service) Unfreeze(ctx context.Context, accountNumber string) (*models.Account, error) {
	return s.setFreeze(ctx, accountNumber, models.FreezeReasonNone)
}

func (s *Service) setFreeze(ctx context.Context, accountNumber string, reason models.FreezeReason) (*models.Account, error) {
	unlock := s.locks.acquire(accountNumber)
	defer unlock()

	a, err := s.storage.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	a.FreezeReason = reason
	a.UpdatedAt = s.now()
	if err := s.storage.UpdateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to update freeze state: %w", err)
	}
	return a, nil
}

// CloseAccount deactivates the account. Accounts are never physically
// deleted.
func (s *Service) CloseAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	unlock := s.locks.acquire(accountNumber)
	defer unlock()

	a, err := s.storage.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, &StateError{Entity: "account " + accountNumber, Current: "inactive", Required: "active"}
	}
	a.Active = false
	a.UpdatedAt = s.now()
	if err := s.storage.UpdateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to close account: %w", err)
	}
	return a, nil
}

// validateOperational rejects movements touching inactive or frozen accounts.
func validateOperational(a *models.Account) error {
	if !a.Active {
		return &RuleError{Reason: ReasonAccountInactive}
	}
	if a.Frozen() {
		return &RuleError{Reason: ReasonAccountFrozen}
	}
	return nil
}
