package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects non-positive credit/debit/movement amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrSameAccount rejects transfers where both legs are the same account.
	ErrSameAccount = errors.New("from and to accounts are the same")
)

// Denial reasons returned by CanTransact. The first violated rule wins;
// reasons are never combined.
const (
	ReasonDailyLimit          = "daily transaction limit exceeded"
	ReasonMonthlyLimit        = "monthly transaction limit exceeded"
	ReasonInsufficientBalance = "insufficient balance"
	ReasonOverdraftLimit      = "overdraft limit exceeded"
	ReasonAccountInactive     = "account is inactive"
	ReasonAccountFrozen       = "account is frozen"
)

// RuleError is a business rule violation: limit exceeded, insufficient
// balance, frozen account, ineligible closure. Surfaced to the caller with a
// human-readable reason and never retried automatically.
type RuleError struct {
	Reason string
}

func (e *RuleError) Error() string {
	return e.Reason
}

// StateError means an operation was attempted on an entity not in the
// required status.
type StateError struct {
	Entity   string
	Current  string
	Required string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is %s, must be %s", e.Entity, e.Current, e.Required)
}

// IsRuleError reports whether err is (or wraps) a business rule violation.
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}

// IsStateError reports whether err is (or wraps) a state conflict.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
