// Package storetest provides an in-memory store.Storage for service tests.
// Reads hand out copies and InTx snapshots all state, so rollback behavior
// matches the SQLite store closely enough to test atomicity.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmercer/bankcore/pkg/models"
	"github.com/jmercer/bankcore/pkg/store"
)

// Store is a map-backed Storage. A single mutex serializes every method, so
// concurrent service tests can run under the race detector. InTx assumes
// units of work do not overlap; the services' per-account locks provide that.
type Store struct {
	mu sync.Mutex

	Accounts          map[string]*models.Account
	Transactions      map[string]*models.Transaction
	FixedDeposits     map[string]*models.FixedDeposit
	RecurringDeposits map[string]*models.RecurringDeposit
	Installments      map[string][]*models.Installment

	txnOrder []string

	// Errs forces the named method to fail, e.g. Errs["UpdateAccount"].
	Errs map[string]error

	// UpdateAccountHook, when set, runs before an account update persists.
	// Returning an error aborts the update. Lets tests fail one leg of a
	// movement. The hook runs outside the store mutex, so it may block
	// without stalling reads from other goroutines.
	UpdateAccountHook func(a *models.Account) error
}

func New() *Store {
	return &Store{
		Accounts:          make(map[string]*models.Account),
		Transactions:      make(map[string]*models.Transaction),
		FixedDeposits:     make(map[string]*models.FixedDeposit),
		RecurringDeposits: make(map[string]*models.RecurringDeposit),
		Installments:      make(map[string][]*models.Installment),
		Errs:              make(map[string]error),
	}
}

func (s *Store) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["CreateAccount"]; err != nil {
		return err
	}
	if _, ok := s.Accounts[a.AccountNumber]; ok {
		return fmt.Errorf("account %s already exists", a.AccountNumber)
	}
	c := *a
	s.Accounts[a.AccountNumber] = &c
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountNumber string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["GetAccount"]; err != nil {
		return nil, err
	}
	a, ok := s.Accounts[accountNumber]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountNumber, store.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (s *Store) UpdateAccount(_ context.Context, a *models.Account) error {
	if hook := s.UpdateAccountHook; hook != nil {
		if err := hook(a); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["UpdateAccount"]; err != nil {
		return err
	}
	if _, ok := s.Accounts[a.AccountNumber]; !ok {
		return fmt.Errorf("account %s: %w", a.AccountNumber, store.ErrNotFound)
	}
	c := *a
	s.Accounts[a.AccountNumber] = &c
	return nil
}

func (s *Store) AccountExists(_ context.Context, accountNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["AccountExists"]; err != nil {
		return false, err
	}
	_, ok := s.Accounts[accountNumber]
	return ok, nil
}

func (s *Store) CreateTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["CreateTransaction"]; err != nil {
		return err
	}
	if _, ok := s.Transactions[t.TransactionID]; ok {
		return fmt.Errorf("transaction %s already exists", t.TransactionID)
	}
	c := *t
	s.Transactions[t.TransactionID] = &c
	s.txnOrder = append(s.txnOrder, t.TransactionID)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, transactionID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["GetTransaction"]; err != nil {
		return nil, err
	}
	t, ok := s.Transactions[transactionID]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, store.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["UpdateTransaction"]; err != nil {
		return err
	}
	if _, ok := s.Transactions[t.TransactionID]; !ok {
		return fmt.Errorf("transaction %s: %w", t.TransactionID, store.ErrNotFound)
	}
	c := *t
	s.Transactions[t.TransactionID] = &c
	return nil
}

func (s *Store) TransactionExists(_ context.Context, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["TransactionExists"]; err != nil {
		return false, err
	}
	_, ok := s.Transactions[transactionID]
	return ok, nil
}

func (s *Store) GetTransactionsForAccount(_ context.Context, accountNumber string) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["GetTransactionsForAccount"]; err != nil {
		return nil, err
	}
	var out []*models.Transaction
	for _, id := range s.txnOrder {
		t, ok := s.Transactions[id]
		if !ok {
			continue
		}
		if t.FromAccount == accountNumber || t.ToAccount == accountNumber {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) CreateFixedDeposit(_ context.Context, fd *models.FixedDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["CreateFixedDeposit"]; err != nil {
		return err
	}
	if _, ok := s.FixedDeposits[fd.FDNumber]; ok {
		return fmt.Errorf("fixed deposit %s already exists", fd.FDNumber)
	}
	c := *fd
	s.FixedDeposits[fd.FDNumber] = &c
	return nil
}

func (s *Store) GetFixedDeposit(_ context.Context, fdNumber string) (*models.FixedDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["GetFixedDeposit"]; err != nil {
		return nil, err
	}
	fd, ok := s.FixedDeposits[fdNumber]
	if !ok {
		return nil, fmt.Errorf("fixed deposit %s: %w", fdNumber, store.ErrNotFound)
	}
	c := *fd
	return &c, nil
}

func (s *Store) UpdateFixedDeposit(_ context.Context, fd *models.FixedDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["UpdateFixedDeposit"]; err != nil {
		return err
	}
	if _, ok := s.FixedDeposits[fd.FDNumber]; !ok {
		return fmt.Errorf("fixed deposit %s: %w", fd.FDNumber, store.ErrNotFound)
	}
	c := *fd
	s.FixedDeposits[fd.FDNumber] = &c
	return nil
}

func (s *Store) FixedDepositExists(_ context.Context, fdNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["FixedDepositExists"]; err != nil {
		return false, err
	}
	_, ok := s.FixedDeposits[fdNumber]
	return ok, nil
}

func (s *Store) GetActiveFixedDeposits(_ context.Context) ([]*models.FixedDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["GetActiveFixedDeposits"]; err != nil {
		return nil, err
	}
	var out []*models.FixedDeposit
	for _, fd := range s.FixedDeposits {
		if fd.Status == models.FDStatusActive {
			c := *fd
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FDNumber < out[j].FDNumber })
	return out, nil
}

func (s *Store) CreateRecurringDeposit(_ context.Context, rd *models.RecurringDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["CreateRecurringDeposit"]; err != nil {
		return err
	}
	if _, ok := s.RecurringDeposits[rd.RDNumber]; ok {
		return fmt.Errorf("recurring deposit %s already exists", rd.RDNumber)
	}
	c := *rd
	s.RecurringDeposits[rd.RDNumber] = &c
	return nil
}

func (s *Store) GetRecurringDeposit(_ context.Context, rdNumber string) (*models.RecurringDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["GetRecurringDeposit"]; err != nil {
		return nil, err
	}
	rd, ok := s.RecurringDeposits[rdNumber]
	if !ok {
		return nil, fmt.Errorf("recurring deposit %s: %w", rdNumber, store.ErrNotFound)
	}
	c := *rd
	return &c, nil
}

func (s *Store) UpdateRecurringDeposit(_ context.Context, rd *models.RecurringDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["UpdateRecurringDeposit"]; err != nil {
		return err
	}
	if _, ok := s.RecurringDeposits[rd.RDNumber]; !ok {
		return fmt.Errorf("recurring deposit %s: %w", rd.RDNumber, store.ErrNotFound)
	}
	c := *rd
	s.RecurringDeposits[rd.RDNumber] = &c
	return nil
}

func (s *Store) RecurringDepositExists(_ context.Context, rdNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["RecurringDepositExists"]; err != nil {
		return false, err
	}
	_, ok := s.RecurringDeposits[rdNumber]
	return ok, nil
}

func (s *Store) GetActiveRecurringDeposits(_ context.Context) ([]*models.RecurringDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["GetActiveRecurringDeposits"]; err != nil {
		return nil, err
	}
	var out []*models.RecurringDeposit
	for _, rd := range s.RecurringDeposits {
		if rd.Status == models.RDStatusActive {
			c := *rd
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RDNumber < out[j].RDNumber })
	return out, nil
}

func (s *Store) CreateInstallments(_ context.Context, installments []*models.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["CreateInstallments"]; err != nil {
		return err
	}
	for _, inst := range installments {
		c := *inst
		s.Installments[inst.RDNumber] = append(s.Installments[inst.RDNumber], &c)
	}
	return nil
}

func (s *Store) GetInstallments(_ context.Context, rdNumber string) ([]*models.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["GetInstallments"]; err != nil {
		return nil, err
	}
	out := make([]*models.Installment, 0, len(s.Installments[rdNumber]))
	for _, inst := range s.Installments[rdNumber] {
		c := *inst
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) UpdateInstallment(_ context.Context, inst *models.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["UpdateInstallment"]; err != nil {
		return err
	}
	for i, existing := range s.Installments[inst.RDNumber] {
		if existing.Number == inst.Number {
			c := *inst
			s.Installments[inst.RDNumber][i] = &c
			return nil
		}
	}
	return fmt.Errorf("installment %d of %s: %w", inst.Number, inst.RDNumber, store.ErrNotFound)
}

// InTx snapshots all state, runs fn against the store itself, and restores
// the snapshot when fn fails. Nested calls run in the enclosing scope. The
// mutex is released while fn runs so fn's own storage calls can lock it.
func (s *Store) InTx(ctx context.Context, fn func(store.Storage) error) error {
	s.mu.Lock()
	if err := s.Errs["InTx"]; err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshot()
	s.mu.Unlock()
	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

type snapshot struct {
	accounts          map[string]*models.Account
	transactions      map[string]*models.Transaction
	fixedDeposits     map[string]*models.FixedDeposit
	recurringDeposits map[string]*models.RecurringDeposit
	installments      map[string][]*models.Installment
	txnOrder          []string
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		accounts:          make(map[string]*models.Account, len(s.Accounts)),
		transactions:      make(map[string]*models.Transaction, len(s.Transactions)),
		fixedDeposits:     make(map[string]*models.FixedDeposit, len(s.FixedDeposits)),
		recurringDeposits: make(map[string]*models.RecurringDeposit, len(s.RecurringDeposits)),
		installments:      make(map[string][]*models.Installment, len(s.Installments)),
		txnOrder:          append([]string(nil), s.txnOrder...),
	}
	for k, v := range s.Accounts {
		c := *v
		snap.accounts[k] = &c
	}
	for k, v := range s.Transactions {
		c := *v
		snap.transactions[k] = &c
	}
	for k, v := range s.FixedDeposits {
		c := *v
		snap.fixedDeposits[k] = &c
	}
	for k, v := range s.RecurringDeposits {
		c := *v
		snap.recurringDeposits[k] = &c
	}
	for k, v := range s.Installments {
		rows := make([]*models.Installment, 0, len(v))
		for _, inst := range v {
			c := *inst
			rows = append(rows, &c)
		}
		snap.installments[k] = rows
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.Accounts = snap.accounts
	s.Transactions = snap.transactions
	s.FixedDeposits = snap.fixedDeposits
	s.RecurringDeposits = snap.recurringDeposits
	s.Installments = snap.installments
	s.txnOrder = snap.txnOrder
}
