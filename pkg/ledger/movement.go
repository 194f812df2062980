package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/jmercer/bankcore/pkg/store"
	"github.com/shopspring/decimal"
)

// MoveRequest describes one money movement. An empty From or To models an
// external cash leg; at most one may be empty.
type MoveRequest struct {
	From        string
	To          string
	Amount      decimal.Decimal
	Type        models.TransactionType
	Description string
}

// MovementResult is returned to callers on a successful movement. Balances
// are the post-mutation snapshots stored on the transaction record.
type MovementResult struct {
	TransactionID string           `json:"transaction_id"`
	FromBalance   *decimal.Decimal `json:"from_balance,omitempty"`
	ToBalance     *decimal.Decimal `json:"to_balance,omitempty"`
	Fee           decimal.Decimal  `json:"fee"`
	GST           decimal.Decimal  `json:"gst"`
}

// Transfer moves amount between two accounts as one atomic unit.
func (s *Service) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, description string) (*MovementResult, error) {
	if from == to {
		return nil, ErrSameAccount
	}
	return s.Move(ctx, MoveRequest{
		From:        from,
		To:          to,
		Amount:      amount,
		Type:        models.TransactionTypeTransfer,
		Description: description,
	}, nil)
}

// Deposit credits an account from an external cash leg.
func (s *Service) Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal, method string) (*MovementResult, error) {
	return s.Move(ctx, MoveRequest{
		To:          accountNumber,
		Amount:      amount,
		Type:        models.TransactionTypeDeposit,
		Description: "deposit via " + method,
	}, nil)
}

// Withdraw debits an account to an external cash leg.
func (s *Service) Withdraw(ctx context.Context, accountNumber string, amount decimal.Decimal, method string) (*MovementResult, error) {
	return s.Move(ctx, MoveRequest{
		From:        accountNumber,
		Amount:      amount,
		Type:        models.TransactionTypeWithdrawal,
		Description: "withdrawal via " + method,
	}, nil)
}

// Move executes one movement: validate the legs, create a pending transaction
// record, then apply all balance mutations and complete the record inside a
// single storage transaction. linked, when set, runs in that same storage
// transaction so callers (the deposit engines) can persist related entities
// atomically with the money movement.
//
// On success the stored snapshot balances exactly equal the post-mutation
// account balances. On any failure after the pending record exists, the
// record is marked failed and no balance changes survive.
func (s *Service) Move(ctx context.Context, req MoveRequest, linked func(store.Storage, *models.Transaction) error) (*MovementResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.From == "" && req.To == "" {
		return nil, fmt.Errorf("movement requires at least one account leg")
	}
	if req.From != "" && req.From == req.To {
		return nil, ErrSameAccount
	}

	unlock := s.locks.acquire(req.From, req.To)
	defer unlock()
	now := s.now()

	var from, to *models.Account
	var err error
	if req.From != "" {
		if from, err = s.storage.GetAccount(ctx, req.From); err != nil {
			return nil, err
		}
		if err := validateOperational(from); err != nil {
			return nil, err
		}
	}
	if req.To != "" {
		if to, err = s.storage.GetAccount(ctx, req.To); err != nil {
			return nil, err
		}
		if err := validateOperational(to); err != nil {
			return nil, err
		}
	}
	if from != nil {
		// The window reset persists even when the check below denies.
		if resetWindows(from, now) {
			from.UpdatedAt = now
			if err := s.storage.UpdateAccount(ctx, from); err != nil {
				return nil, fmt.Errorf("failed to persist window reset: %w", err)
			}
		}
		if d := s.canTransact(from, req.Amount); !d.Allowed {
			return nil, &RuleError{Reason: d.Reason}
		}
	}

	fee, gst := s.cfg.FeeFor(req.Type, req.Amount)
	txnID, err := s.ids.TransactionID(ctx, s.storage.TransactionExists)
	if err != nil {
		return nil, fmt.Errorf("failed to assign transaction ID: %w", err)
	}
	txn := &models.Transaction{
		ID:            uuid.New(),
		TransactionID: txnID,
		FromAccount:   req.From,
		ToAccount:     req.To,
		Amount:        req.Amount,
		Type:          req.Type,
		Status:        models.TransactionStatusPending,
		Description:   req.Description,
		Fee:           fee,
		GST:           gst,
		CreatedAt:     now,
	}
	if err := s.storage.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	err = s.storage.InTx(ctx, func(txs store.Storage) error {
		if from != nil {
			if d := s.canTransact(from, req.Amount); !d.Allowed {
				return &RuleError{Reason: d.Reason}
			}
			from.Balance = from.Balance.Sub(req.Amount)
			from.TodayTransactionAmount = from.TodayTransactionAmount.Add(req.Amount)
			from.MonthTransactionAmount = from.MonthTransactionAmount.Add(req.Amount)
			from.UpdatedAt = now
			if err := txs.UpdateAccount(ctx, from); err != nil {
				return err
			}
		}
		if to != nil {
			to.Balance = to.Balance.Add(req.Amount)
			to.UpdatedAt = now
			if err := txs.UpdateAccount(ctx, to); err != nil {
				return err
			}
		}
		var fromBal, toBal *decimal.Decimal
		if from != nil {
			b := from.Balance
			fromBal = &b
		}
		if to != nil {
			b := to.Balance
			toBal = &b
		}
		if err := txn.Complete(now, fromBal, toBal); err != nil {
			return err
		}
		if err := txs.UpdateTransaction(ctx, txn); err != nil {
			return err
		}
		if linked != nil {
			return linked(txs, txn)
		}
		return nil
	})
	if err != nil {
		// The unit of work rolled back; record why the movement failed.
		// The in-memory record may have been completed before the rollback,
		// so rewind it before marking failed.
		txn.Status = models.TransactionStatusPending
		txn.FromBalanceAfter = nil
		txn.ToBalanceAfter = nil
		if failErr := txn.Fail(now, err.Error()); failErr == nil {
			if uerr := s.storage.UpdateTransaction(ctx, txn); uerr != nil {
				log.Printf("failed to mark transaction %s failed: %v", txnID, uerr)
			}
		}
		return nil, err
	}

	return &MovementResult{
		TransactionID: txnID,
		FromBalance:   txn.FromBalanceAfter,
		ToBalance:     txn.ToBalanceAfter,
		Fee:           fee,
		GST:           gst,
	}, nil
}

// Reverse creates a linked reversal record for a completed transaction and
// re-applies the inverse balance deltas in the same storage transaction. The
// original from-account is restored without a transactability re-check; the
// original to-account is debited without touching its limit counters but
// still may not breach its balance floor.
func (s *Service) Reverse(ctx context.Context, transactionID, reason string) (*models.Transaction, error) {
	orig, err := s.storage.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if orig.Status != models.TransactionStatusCompleted {
		return nil, &StateError{
			Entity:   "transaction " + transactionID,
			Current:  string(orig.Status),
			Required: string(models.TransactionStatusCompleted),
		}
	}

	unlock := s.locks.acquire(orig.FromAccount, orig.ToAccount)
	defer unlock()
	now := s.now()

	// Re-read under the account locks; a concurrent reversal may have
	// flipped the status between the first read and acquisition.
	if orig, err = s.storage.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	if orig.Status != models.TransactionStatusCompleted {
		return nil, &StateError{
			Entity:   "transaction " + transactionID,
			Current:  string(orig.Status),
			Required: string(models.TransactionStatusCompleted),
		}
	}

	var origFrom, origTo *models.Account
	if orig.FromAccount != "" {
		if origFrom, err = s.storage.GetAccount(ctx, orig.FromAccount); err != nil {
			return nil, err
		}
	}
	if orig.ToAccount != "" {
		if origTo, err = s.storage.GetAccount(ctx, orig.ToAccount); err != nil {
			return nil, err
		}
		if origTo.Balance.Sub(orig.Amount).LessThan(s.cfg.FloorFor(origTo.Type)) {
			return nil, &RuleError{Reason: "reversal would breach the balance floor of " + orig.ToAccount}
		}
	}

	revID, err := s.ids.TransactionID(ctx, s.storage.TransactionExists)
	if err != nil {
		return nil, fmt.Errorf("failed to assign transaction ID: %w", err)
	}
	rev := &models.Transaction{
		ID:            uuid.New(),
		TransactionID: revID,
		FromAccount:   orig.ToAccount,
		ToAccount:     orig.FromAccount,
		Amount:        orig.Amount,
		Type:          models.TransactionTypeReversal,
		Status:        models.TransactionStatusPending,
		Description:   reason,
		ReversalOf:    orig.TransactionID,
		CreatedAt:     now,
	}

	err = s.storage.InTx(ctx, func(txs store.Storage) error {
		var fromBal, toBal *decimal.Decimal
		if origTo != nil {
			origTo.Balance = origTo.Balance.Sub(orig.Amount)
			origTo.UpdatedAt = now
			if err := txs.UpdateAccount(ctx, origTo); err != nil {
				return err
			}
			b := origTo.Balance
			fromBal = &b
		}
		if origFrom != nil {
			origFrom.Balance = origFrom.Balance.Add(orig.Amount)
			origFrom.UpdatedAt = now
			if err := txs.UpdateAccount(ctx, origFrom); err != nil {
				return err
			}
			b := origFrom.Balance
			toBal = &b
		}
		if err := rev.Complete(now, fromBal, toBal); err != nil {
			return err
		}
		if err := txs.CreateTransaction(ctx, rev); err != nil {
			return err
		}
		orig.Status = models.TransactionStatusReversed
		orig.ReversedBy = revID
		return txs.UpdateTransaction(ctx, orig)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reverse transaction %s: %w", transactionID, err)
	}
	return rev, nil
}
