package store

import (
	"context"
	"errors"

	"github.com/jmercer/bankcore/pkg/models"
)

// ErrNotFound is wrapped by all lookups that miss.
var ErrNotFound = errors.New("record not found")

// Storage defines the persistence operations for accounts, transactions, and
// term deposit products. InTx runs a function against a transaction-scoped
// Storage; every multi-entity mutation in the services goes through it so a
// failure mid-way leaves no partial state.
type Storage interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, accountNumber string) (*models.Account, error)
	UpdateAccount(ctx context.Context, a *models.Account) error
	AccountExists(ctx context.Context, accountNumber string) (bool, error)

	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, t *models.Transaction) error
	TransactionExists(ctx context.Context, transactionID string) (bool, error)
	GetTransactionsForAccount(ctx context.Context, accountNumber string) ([]*models.Transaction, error)

	CreateFixedDeposit(ctx context.Context, fd *models.FixedDeposit) error
	GetFixedDeposit(ctx context.Context, fdNumber string) (*models.FixedDeposit, error)
	UpdateFixedDeposit(ctx context.Context, fd *models.FixedDeposit) error
	FixedDepositExists(ctx context.Context, fdNumber string) (bool, error)
	GetActiveFixedDeposits(ctx context.Context) ([]*models.FixedDeposit, error)

	CreateRecurringDeposit(ctx context.Context, rd *models.RecurringDeposit) error
	GetRecurringDeposit(ctx context.Context, rdNumber string) (*models.RecurringDeposit, error)
	UpdateRecurringDeposit(ctx context.Context, rd *models.RecurringDeposit) error
	RecurringDepositExists(ctx context.Context, rdNumber string) (bool, error)
	GetActiveRecurringDeposits(ctx context.Context) ([]*models.RecurringDeposit, error)

	CreateInstallments(ctx context.Context, installments []*models.Installment) error
	GetInstallments(ctx context.Context, rdNumber string) ([]*models.Installment, error)
	UpdateInstallment(ctx context.Context, inst *models.Installment) error

	// InTx executes fn within a storage transaction, committing on nil and
	// rolling back on error. Calling InTx on an already transaction-scoped
	// Storage runs fn in the enclosing transaction.
	InTx(ctx context.Context, fn func(Storage) error) error

	Close() error
}
