package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
	queries
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the query code below is
// shared between the plain store and the transaction-scoped store.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	dbx dbtx
}

// txStore is a Storage scoped to one database transaction.
type txStore struct {
	queries
}

func (t *txStore) InTx(ctx context.Context, fn func(Storage) error) error {
	// Already inside a transaction; run in the enclosing one.
	return fn(t)
}

func (t *txStore) Close() error { return nil }

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, queries: queries{dbx: db}}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Println("Database connection established and schema initialized.")
	return s, nil
}

// initSchema creates the tables if they don't already exist. Decimal fields
// use TEXT so no precision is lost; business identifiers carry UNIQUE
// constraints, which are the authoritative guard behind the identifier
// generator's collision checks.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL UNIQUE,
		customer_key TEXT NOT NULL,
		type TEXT NOT NULL,
		balance TEXT NOT NULL,
		today_txn_amount TEXT NOT NULL DEFAULT '0',
		month_txn_amount TEXT NOT NULL DEFAULT '0',
		last_daily_reset DATETIME NOT NULL,
		last_monthly_reset DATETIME NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		freeze_reason TEXT NOT NULL DEFAULT 'none',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		from_account TEXT,
		to_account TEXT,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT,
		fee TEXT NOT NULL DEFAULT '0',
		gst TEXT NOT NULL DEFAULT '0',
		from_balance_after TEXT,
		to_balance_after TEXT,
		failure_reason TEXT,
		reversal_of TEXT,
		reversed_by TEXT,
		created_at DATETIME NOT NULL,
		processed_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS fixed_deposits (
		id TEXT PRIMARY KEY,
		fd_number TEXT NOT NULL UNIQUE,
		account_number TEXT NOT NULL REFERENCES accounts(account_number),
		customer_key TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		tenure_months INTEGER NOT NULL,
		payout_mode TEXT NOT NULL,
		payout_account TEXT,
		nominee TEXT,
		start_date DATETIME NOT NULL,
		maturity_date DATETIME NOT NULL,
		maturity_amount TEXT NOT NULL,
		last_payout_date DATETIME,
		total_interest_paid TEXT NOT NULL DEFAULT '0',
		closure_penalty TEXT NOT NULL DEFAULT '0',
		closure_payout TEXT NOT NULL DEFAULT '0',
		closed_at DATETIME,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS recurring_deposits (
		id TEXT PRIMARY KEY,
		rd_number TEXT NOT NULL UNIQUE,
		account_number TEXT NOT NULL REFERENCES accounts(account_number),
		customer_key TEXT NOT NULL,
		monthly_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		tenure_months INTEGER NOT NULL,
		nominee TEXT,
		start_date DATETIME NOT NULL,
		next_due_date DATETIME NOT NULL,
		maturity_amount TEXT NOT NULL,
		installments_paid INTEGER NOT NULL DEFAULT 0,
		total_deposited TEXT NOT NULL DEFAULT '0',
		penalty_amount TEXT NOT NULL DEFAULT '0',
		interest_earned TEXT NOT NULL DEFAULT '0',
		closure_penalty TEXT NOT NULL DEFAULT '0',
		closed_at DATETIME,
		auto_debit_enabled INTEGER NOT NULL DEFAULT 0,
		auto_debit_failures INTEGER NOT NULL DEFAULT 0,
		last_failure_reason TEXT,
		last_failure_at DATETIME,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		rd_number TEXT NOT NULL REFERENCES recurring_deposits(rd_number),
		installment_no INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		amount TEXT NOT NULL,
		penalty TEXT NOT NULL DEFAULT '0',
		total TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		paid_at DATETIME,
		transaction_id TEXT,
		UNIQUE(rd_number, installment_no)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InTx runs fn against a transaction-scoped Storage, committing on success.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Storage) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{queries{dbx: tx}}); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullStr(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullDec(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}

func (q queries) exists(ctx context.Context, query, id string) (bool, error) {
	var n int
	if err := q.dbx.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, fmt.Errorf("existence check failed: %w", err)
	}
	return n > 0, nil
}

func requireRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// --- accounts ---

const accountCols = `id, account_number, customer_key, type, balance, today_txn_amount, month_txn_amount,
	last_daily_reset, last_monthly_reset, active, freeze_reason, created_at, updated_at`

func (q queries) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := q.dbx.ExecContext(ctx,
		`INSERT INTO accounts (`+accountCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.AccountNumber, a.CustomerKey, string(a.Type), a.Balance,
		a.TodayTransactionAmount, a.MonthTransactionAmount, a.LastDailyReset, a.LastMonthlyReset,
		a.Active, string(a.FreezeReason), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func scanAccount(row interface{ Scan(dest ...any) error }) (*models.Account, error) {
	var a models.Account
	var idStr string
	if err := row.Scan(&idStr, &a.AccountNumber, &a.CustomerKey, &a.Type, &a.Balance,
		&a.TodayTransactionAmount, &a.MonthTransactionAmount, &a.LastDailyReset, &a.LastMonthlyReset,
		&a.Active, &a.FreezeReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = uuid.MustParse(idStr)
	return &a, nil
}

func (q queries) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	row := q.dbx.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE account_number = ?`, accountNumber)
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("account %s: %w", accountNumber, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (q queries) UpdateAccount(ctx context.Context, a *models.Account) error {
	result, err := q.dbx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, today_txn_amount = ?, month_txn_amount = ?, last_daily_reset = ?,
			last_monthly_reset = ?, active = ?, freeze_reason = ?, updated_at = ? WHERE account_number = ?`,
		a.Balance, a.TodayTransactionAmount, a.MonthTransactionAmount, a.LastDailyReset,
		a.LastMonthlyReset, a.Active, string(a.FreezeReason), a.UpdatedAt, a.AccountNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return requireRow(result, "account "+a.AccountNumber)
}

func (q queries) AccountExists(ctx context.Context, accountNumber string) (bool, error) {
	return q.exists(ctx, `SELECT COUNT(1) FROM accounts WHERE account_number = ?`, accountNumber)
}

// --- transactions ---

const txnCols = `id, transaction_id, from_account, to_account, amount, type, status, description, fee, gst,
	from_balance_after, to_balance_after, failure_reason, reversal_of, reversed_by, created_at, processed_at`

func (q queries) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := q.dbx.ExecContext(ctx,
		`INSERT INTO transactions (`+txnCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.TransactionID, nullStr(t.FromAccount), nullStr(t.ToAccount), t.Amount,
		string(t.Type), string(t.Status), nullStr(t.Description), t.Fee, t.GST,
		nullDec(t.FromBalanceAfter), nullDec(t.ToBalanceAfter), nullStr(t.FailureReason),
		nullStr(t.ReversalOf), nullStr(t.ReversedBy), t.CreatedAt, nullTime(t.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func scanTransaction(row interface{ Scan(dest ...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	var idStr string
	var from, to, desc, failure, revOf, revBy sql.NullString
	var fromBal, toBal decimal.NullDecimal
	var processed sql.NullTime
	if err := row.Scan(&idStr, &t.TransactionID, &from, &to, &t.Amount, &t.Type, &t.Status, &desc,
		&t.Fee, &t.GST, &fromBal, &toBal, &failure, &revOf, &revBy, &t.CreatedAt, &processed); err != nil {
		return nil, err
	}
	t.ID = uuid.MustParse(idStr)
	t.FromAccount = from.String
	t.ToAccount = to.String
	t.Description = desc.String
	t.FailureReason = failure.String
	t.ReversalOf = revOf.String
	t.ReversedBy = revBy.String
	t.FromBalanceAfter = decPtr(fromBal)
	t.ToBalanceAfter = decPtr(toBal)
	t.ProcessedAt = timePtr(processed)
	return &t, nil
}

func (q queries) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	row := q.dbx.QueryRowContext(ctx, `SELECT `+txnCols+` FROM transactions WHERE transaction_id = ?`, transactionID)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (q queries) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	result, err := q.dbx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, from_balance_after = ?, to_balance_after = ?, failure_reason = ?,
			reversal_of = ?, reversed_by = ?, processed_at = ? WHERE transaction_id = ?`,
		string(t.Status), nullDec(t.FromBalanceAfter), nullDec(t.ToBalanceAfter), nullStr(t.FailureReason),
		nullStr(t.ReversalOf), nullStr(t.ReversedBy), nullTime(t.ProcessedAt), t.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireRow(result, "transaction "+t.TransactionID)
}

func (q queries) TransactionExists(ctx context.Context, transactionID string) (bool, error) {
	return q.exists(ctx, `SELECT COUNT(1) FROM transactions WHERE transaction_id = ?`, transactionID)
}

func (q queries) GetTransactionsForAccount(ctx context.Context, accountNumber string) ([]*models.Transaction, error) {
	rows, err := q.dbx.QueryContext(ctx,
		`SELECT `+txnCols+` FROM transactions WHERE from_account = ? OR to_account = ? ORDER BY created_at ASC`,
		accountNumber, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for account %s: %w", accountNumber, err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return txns, nil
}

// --- fixed deposits ---

const fdCols = `id, fd_number, account_number, customer_key, principal, interest_rate, tenure_months,
	payout_mode, payout_account, nominee, start_date, maturity_date, maturity_amount, last_payout_date,
	total_interest_paid, closure_penalty, closure_payout, closed_at, status, created_at, updated_at`

func (q queries) CreateFixedDeposit(ctx context.Context, fd *models.FixedDeposit) error {
	_, err := q.dbx.ExecContext(ctx,
		`INSERT INTO fixed_deposits (`+fdCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fd.ID.String(), fd.FDNumber, fd.AccountNumber, fd.CustomerKey, fd.Principal, fd.InterestRate,
		fd.TenureMonths, string(fd.PayoutMode), nullStr(fd.PayoutAccount), nullStr(fd.Nominee),
		fd.StartDate, fd.MaturityDate, fd.MaturityAmount, nullTime(fd.LastPayoutDate),
		fd.TotalInterestPaid, fd.ClosurePenalty, fd.ClosurePayout, nullTime(fd.ClosedAt),
		string(fd.Status), fd.CreatedAt, fd.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create fixed deposit: %w", err)
	}
	return nil
}

func scanFixedDeposit(row interface{ Scan(dest ...any) error }) (*models.FixedDeposit, error) {
	var fd models.FixedDeposit
	var idStr string
	var payoutAcct, nominee sql.NullString
	var lastPayout, closedAt sql.NullTime
	if err := row.Scan(&idStr, &fd.FDNumber, &fd.AccountNumber, &fd.CustomerKey, &fd.Principal,
		&fd.InterestRate, &fd.TenureMonths, &fd.PayoutMode, &payoutAcct, &nominee, &fd.StartDate,
		&fd.MaturityDate, &fd.MaturityAmount, &lastPayout, &fd.TotalInterestPaid, &fd.ClosurePenalty,
		&fd.ClosurePayout, &closedAt, &fd.Status, &fd.CreatedAt, &fd.UpdatedAt); err != nil {
		return nil, err
	}
	fd.ID = uuid.MustParse(idStr)
	fd.PayoutAccount = payoutAcct.String
	fd.Nominee = nominee.String
	fd.LastPayoutDate = timePtr(lastPayout)
	fd.ClosedAt = timePtr(closedAt)
	return &fd, nil
}

func (q queries) GetFixedDeposit(ctx context.Context, fdNumber string) (*models.FixedDeposit, error) {
	row := q.dbx.QueryRowContext(ctx, `SELECT `+fdCols+` FROM fixed_deposits WHERE fd_number = ?`, fdNumber)
	fd, err := scanFixedDeposit(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("fixed deposit %s: %w", fdNumber, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get fixed deposit: %w", err)
	}
	return fd, nil
}

func (q queries) UpdateFixedDeposit(ctx context.Context, fd *models.FixedDeposit) error {
	result, err := q.dbx.ExecContext(ctx,
		`UPDATE fixed_deposits SET last_payout_date = ?, total_interest_paid = ?, closure_penalty = ?,
			closure_payout = ?, closed_at = ?, status = ?, updated_at = ? WHERE fd_number = ?`,
		nullTime(fd.LastPayoutDate), fd.TotalInterestPaid, fd.ClosurePenalty, fd.ClosurePayout,
		nullTime(fd.ClosedAt), string(fd.Status), fd.UpdatedAt, fd.FDNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update fixed deposit: %w", err)
	}
	return requireRow(result, "fixed deposit "+fd.FDNumber)
}

func (q queries) FixedDepositExists(ctx context.Context, fdNumber string) (bool, error) {
	return q.exists(ctx, `SELECT COUNT(1) FROM fixed_deposits WHERE fd_number = ?`, fdNumber)
}

func (q queries) GetActiveFixedDeposits(ctx context.Context) ([]*models.FixedDeposit, error) {
	rows, err := q.dbx.QueryContext(ctx, `SELECT `+fdCols+` FROM fixed_deposits WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("failed to get active fixed deposits: %w", err)
	}
	defer rows.Close()

	var fds []*models.FixedDeposit
	for rows.Next() {
		fd, err := scanFixedDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fixed deposit row: %w", err)
		}
		fds = append(fds, fd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return fds, nil
}

// --- recurring deposits ---

const rdCols = `id, rd_number, account_number, customer_key, monthly_amount, interest_rate, tenure_months,
	nominee, start_date, next_due_date, maturity_amount, installments_paid, total_deposited, penalty_amount,
	interest_earned, closure_penalty, closed_at, auto_debit_enabled, auto_debit_failures,
	last_failure_reason, last_failure_at, status, created_at, updated_at`

func (q queries) CreateRecurringDeposit(ctx context.Context, rd *models.RecurringDeposit) error {
	_, err := q.dbx.ExecContext(ctx,
		`INSERT INTO recurring_deposits (`+rdCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rd.ID.String(), rd.RDNumber, rd.AccountNumber, rd.CustomerKey, rd.MonthlyAmount, rd.InterestRate,
		rd.TenureMonths, nullStr(rd.Nominee), rd.StartDate, rd.NextDueDate, rd.MaturityAmount,
		rd.InstallmentsPaid, rd.TotalDeposited, rd.PenaltyAmount, rd.InterestEarned, rd.ClosurePenalty,
		nullTime(rd.ClosedAt), rd.AutoDebitEnabled, rd.AutoDebitFailures, nullStr(rd.LastFailureReason),
		nullTime(rd.LastFailureAt), string(rd.Status), rd.CreatedAt, rd.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recurring deposit: %w", err)
	}
	return nil
}

func scanRecurringDeposit(row interface{ Scan(dest ...any) error }) (*models.RecurringDeposit, error) {
	var rd models.RecurringDeposit
	var idStr string
	var nominee, failureReason sql.NullString
	var closedAt, failureAt sql.NullTime
	if err := row.Scan(&idStr, &rd.RDNumber, &rd.AccountNumber, &rd.CustomerKey, &rd.MonthlyAmount,
		&rd.InterestRate, &rd.TenureMonths, &nominee, &rd.StartDate, &rd.NextDueDate, &rd.MaturityAmount,
		&rd.InstallmentsPaid, &rd.TotalDeposited, &rd.PenaltyAmount, &rd.InterestEarned, &rd.ClosurePenalty,
		&closedAt, &rd.AutoDebitEnabled, &rd.AutoDebitFailures, &failureReason, &failureAt,
		&rd.Status, &rd.CreatedAt, &rd.UpdatedAt); err != nil {
		return nil, err
	}
	rd.ID = uuid.MustParse(idStr)
	rd.Nominee = nominee.String
	rd.LastFailureReason = failureReason.String
	rd.ClosedAt = timePtr(closedAt)
	rd.LastFailureAt = timePtr(failureAt)
	return &rd, nil
}

func (q queries) GetRecurringDeposit(ctx context.Context, rdNumber string) (*models.RecurringDeposit, error) {
	row := q.dbx.QueryRowContext(ctx, `SELECT `+rdCols+` FROM recurring_deposits WHERE rd_number = ?`, rdNumber)
	rd, err := scanRecurringDeposit(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("recurring deposit %s: %w", rdNumber, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get recurring deposit: %w", err)
	}
	return rd, nil
}

func (q queries) UpdateRecurringDeposit(ctx context.Context, rd *models.RecurringDeposit) error {
	result, err := q.dbx.ExecContext(ctx,
		`UPDATE recurring_deposits SET next_due_date = ?, installments_paid = ?, total_deposited = ?,
			penalty_amount = ?, interest_earned = ?, closure_penalty = ?, closed_at = ?,
			auto_debit_enabled = ?, auto_debit_failures = ?, last_failure_reason = ?, last_failure_at = ?,
			status = ?, updated_at = ? WHERE rd_number = ?`,
		rd.NextDueDate, rd.InstallmentsPaid, rd.TotalDeposited, rd.PenaltyAmount, rd.InterestEarned,
		rd.ClosurePenalty, nullTime(rd.ClosedAt), rd.AutoDebitEnabled, rd.AutoDebitFailures,
		nullStr(rd.LastFailureReason), nullTime(rd.LastFailureAt), string(rd.Status), rd.UpdatedAt, rd.RDNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update recurring deposit: %w", err)
	}
	return requireRow(result, "recurring deposit "+rd.RDNumber)
}

func (q queries) RecurringDepositExists(ctx context.Context, rdNumber string) (bool, error) {
	return q.exists(ctx, `SELECT COUNT(1) FROM recurring_deposits WHERE rd_number = ?`, rdNumber)
}

func (q queries) GetActiveRecurringDeposits(ctx context.Context) ([]*models.RecurringDeposit, error) {
	rows, err := q.dbx.QueryContext(ctx, `SELECT `+rdCols+` FROM recurring_deposits WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("failed to get active recurring deposits: %w", err)
	}
	defer rows.Close()

	var rds []*models.RecurringDeposit
	for rows.Next() {
		rd, err := scanRecurringDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring deposit row: %w", err)
		}
		rds = append(rds, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return rds, nil
}

// --- installments ---

const instCols = `id, rd_number, installment_no, due_date, amount, penalty, total, status, paid_at, transaction_id`

func (q queries) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	for _, inst := range installments {
		_, err := q.dbx.ExecContext(ctx,
			`INSERT INTO installments (`+instCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID.String(), inst.RDNumber, inst.Number, inst.DueDate, inst.Amount, inst.Penalty,
			inst.Total, string(inst.Status), nullTime(inst.PaidAt), nullStr(inst.TransactionID),
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d for %s: %w", inst.Number, inst.RDNumber, err)
		}
	}
	return nil
}

func (q queries) GetInstallments(ctx context.Context, rdNumber string) ([]*models.Installment, error) {
	rows, err := q.dbx.QueryContext(ctx,
		`SELECT `+instCols+` FROM installments WHERE rd_number = ? ORDER BY installment_no ASC`, rdNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for %s: %w", rdNumber, err)
	}
	defer rows.Close()

	var insts []*models.Installment
	for rows.Next() {
		var inst models.Installment
		var idStr string
		var paidAt sql.NullTime
		var txnID sql.NullString
		if err := rows.Scan(&idStr, &inst.RDNumber, &inst.Number, &inst.DueDate, &inst.Amount,
			&inst.Penalty, &inst.Total, &inst.Status, &paidAt, &txnID); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.ID = uuid.MustParse(idStr)
		inst.PaidAt = timePtr(paidAt)
		inst.TransactionID = txnID.String
		insts = append(insts, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return insts, nil
}

func (q queries) UpdateInstallment(ctx context.Context, inst *models.Installment) error {
	result, err := q.dbx.ExecContext(ctx,
		`UPDATE installments SET penalty = ?, total = ?, status = ?, paid_at = ?, transaction_id = ?
			WHERE rd_number = ? AND installment_no = ?`,
		inst.Penalty, inst.Total, string(inst.Status), nullTime(inst.PaidAt), nullStr(inst.TransactionID),
		inst.RDNumber, inst.Number,
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	return requireRow(result, fmt.Sprintf("installment %d of %s", inst.Number, inst.RDNumber))
}
