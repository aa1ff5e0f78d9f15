/*
Package sqlstore provides a database/sql implementation of deposit.TxStore.

PURPOSE:
  Persists accounts, schedules, the ledger, charges, penalty history and
  premature-closure history. The same code runs on SQLite (development,
  tests, single-node) and PostgreSQL (production); only the placeholder
  style, the auto-increment column and row locking differ.

DIALECTS:
  sqlite3:  mattn/go-sqlite3, opened in WAL mode. Writers are serialized by
            a mutex around WithTx (SQLite allows a single writer anyway).
  postgres: lib/pq. LockAccount issues SELECT ... FOR UPDATE inside a
            transaction so concurrent units of work on one account queue
            at the row instead of in the process.

STORAGE FORMAT:
  Amounts are TEXT (decimal strings, never floats). Dates are TEXT in
  YYYY-MM-DD, NULL when unset. The contract terms of an account (currency,
  amount, term, frequency, rate, conventions) are immutable after creation
  and live in one terms_json column.

APPEND-ONLY LEDGER:
  transactions rows are never updated except for the reversed flag, which
  is how a penalty waiver takes a charge out of the ledger.

CHARGE TYPES:
  Created lazily per (name, currency). A concurrent creator is resolved by
  the unique index and a re-read (INSERT ... ON CONFLICT DO NOTHING), never
  by a lock.

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - deposit/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/generic"
)

// Dialect selects the SQL flavour. Its value is the database/sql driver name.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// Store implements deposit.TxStore. Outside WithTx every call is its own
// statement against the pool.
type Store struct {
	*conn
	db *sql.DB
	mu sync.Mutex
}

// New opens a SQLite database at dbPath. Use ":memory:" for an in-memory
// database.
func New(dbPath string) (*Store, error) {
	return Open(SQLite, dbPath)
}

// Open connects with the given dialect and migrates the schema.
func Open(dialect Dialect, dsn string) (*Store, error) {
	switch dialect {
	case SQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case Postgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite && strings.HasPrefix(dsn, ":memory:") {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{conn: &conn{q: db, dialect: dialect}, db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == Postgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	schema := strings.ReplaceAll(`
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL DEFAULT '',
		group_id TEXT NOT NULL DEFAULT '',
		product_id TEXT NOT NULL,
		status TEXT NOT NULL,
		terms_json TEXT NOT NULL,
		allow_withdrawal BOOLEAN NOT NULL DEFAULT FALSE,
		allow_premature_closure BOOLEAN NOT NULL DEFAULT FALSE,
		allow_renewal BOOLEAN NOT NULL DEFAULT FALSE,
		total_deposits TEXT NOT NULL,
		total_withdrawals TEXT NOT NULL,
		interest_earned TEXT NOT NULL,
		total_withholdings TEXT NOT NULL,
		charges_outstanding TEXT NOT NULL,
		expected_maturity_date TEXT,
		expected_maturity_amount TEXT NOT NULL,
		actual_maturity_date TEXT,
		matured_amount TEXT NOT NULL,
		closure_type TEXT NOT NULL,
		transfer_to_account_id TEXT NOT NULL DEFAULT '',
		linked_account_id TEXT NOT NULL DEFAULT '',
		transfer_interest_to_linked BOOLEAN NOT NULL DEFAULT FALSE,
		submitted_on TEXT,
		approved_on TEXT,
		activated_on TEXT,
		term_start_date TEXT,
		last_interest_posted_on TEXT,
		closed_on TEXT,
		renewal_count INTEGER NOT NULL DEFAULT 0,
		approval_note TEXT NOT NULL DEFAULT '',
		overdue_installments INTEGER NOT NULL DEFAULT 0,
		overdue_amount TEXT NOT NULL DEFAULT '0',
		overdue_as_of TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Batch jobs scan active accounts
	CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);

	CREATE TABLE IF NOT EXISTS installments (
		account_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		expected_amount TEXT NOT NULL,
		amount_completed TEXT NOT NULL,
		paid_early TEXT NOT NULL,
		paid_late TEXT NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		obligations_met_on TEXT,
		PRIMARY KEY (account_id, number)
	);

	-- Ledger is append-only, only the reversed flag ever changes
	CREATE TABLE IF NOT EXISTS transactions (
		seq {{serial}},
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		running_balance TEXT NOT NULL,
		installment_number INTEGER NOT NULL DEFAULT 0,
		reversed BOOLEAN NOT NULL DEFAULT FALSE,
		reference_id TEXT,
		reason TEXT,
		payment_detail TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, seq);

	CREATE TABLE IF NOT EXISTS charge_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		UNIQUE (name, currency)
	);

	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		charge_type_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_outstanding TEXT NOT NULL,
		due_date TEXT,
		installment_number INTEGER NOT NULL DEFAULT 0,
		waived BOOLEAN NOT NULL DEFAULT FALSE,
		waived_on TEXT,
		transaction_id TEXT
	);

	CREATE TABLE IF NOT EXISTS penalties (
		seq {{serial}},
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		charge_id TEXT NOT NULL,
		tier_number INTEGER NOT NULL DEFAULT 0,
		penalty_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		days_overdue INTEGER NOT NULL,
		occurrence INTEGER NOT NULL,
		applied_on TEXT NOT NULL,
		waived BOOLEAN NOT NULL DEFAULT FALSE,
		waived_on TEXT,
		waive_reason TEXT
	);

	-- Occurrence count per installment (idempotency guard, hot path)
	CREATE INDEX IF NOT EXISTS idx_penalties_installment ON penalties(account_id, installment_number);

	CREATE TABLE IF NOT EXISTS premature_closures (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		closed_on TEXT NOT NULL,
		days_completed INTEGER NOT NULL,
		total_term_days INTEGER NOT NULL,
		total_deposits TEXT NOT NULL,
		interest_earned TEXT NOT NULL,
		penalty_amount TEXT NOT NULL,
		payout TEXT NOT NULL,
		closure_type TEXT NOT NULL,
		reason TEXT,
		transaction_id TEXT
	);

	-- Product definitions (factory.Catalog source)
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);
	`, "{{serial}}", serial)

	// One statement per Exec so a failure names the statement.
	for _, stmt := range strings.Split(stripComments(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (deposit.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Any error rolls back
// every write fn made.
func (s *Store) WithTx(ctx context.Context, fn func(deposit.Store) error) error {
	if s.dialect == SQLite {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CONNECTION - statements against the pool or an open transaction
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q       queryer
	dialect Dialect
	inTx    bool
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.dialect.rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.dialect.rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.dialect.rebind(query), args...)
}

// rebind turns ? placeholders into $1, $2, ... for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

var accountColumns = []string{
	"id", "client_id", "group_id", "product_id", "status", "terms_json",
	"allow_withdrawal", "allow_premature_closure", "allow_renewal",
	"total_deposits", "total_withdrawals", "interest_earned", "total_withholdings", "charges_outstanding",
	"expected_maturity_date", "expected_maturity_amount", "actual_maturity_date", "matured_amount",
	"closure_type", "transfer_to_account_id", "linked_account_id", "transfer_interest_to_linked",
	"submitted_on", "approved_on", "activated_on", "term_start_date", "last_interest_posted_on", "closed_on",
	"renewal_count", "approval_note", "overdue_installments", "overdue_amount", "overdue_as_of",
	"version", "created_at", "updated_at",
}

var selectAccount = "SELECT " + strings.Join(accountColumns, ", ") + " FROM accounts"

// accountTerms is the immutable contract part of an account.
type accountTerms struct {
	Currency           generic.Currency                `json:"currency"`
	DepositAmount      decimal.Decimal                 `json:"deposit_amount"`
	DepositTerm        generic.Term                    `json:"deposit_term"`
	RecurringFrequency generic.Term                    `json:"recurring_frequency"`
	NominalAnnualRate  decimal.Decimal                 `json:"nominal_annual_rate"`
	Compounding        generic.CompoundingFrequency    `json:"compounding"`
	CalculationType    deposit.InterestCalculationType `json:"calculation_type"`
	DaysInYear         deposit.DaysInYear              `json:"days_in_year"`
}

func accountArgs(acc *deposit.Account) ([]any, error) {
	terms, err := json.Marshal(accountTerms{
		Currency:           acc.Currency,
		DepositAmount:      acc.DepositAmount,
		DepositTerm:        acc.DepositTerm,
		RecurringFrequency: acc.RecurringFrequency,
		NominalAnnualRate:  acc.NominalAnnualRate,
		Compounding:        acc.Compounding,
		CalculationType:    acc.CalculationType,
		DaysInYear:         acc.DaysInYear,
	})
	if err != nil {
		return nil, fmt.Errorf("encode terms of account %s: %w", acc.ID, err)
	}
	return []any{
		acc.ID, acc.ClientID, acc.GroupID, acc.ProductID, acc.Status, string(terms),
		acc.AllowWithdrawal, acc.AllowPrematureClosure, acc.AllowRenewal,
		amount(acc.TotalDeposits), amount(acc.TotalWithdrawals), amount(acc.InterestEarned), amount(acc.TotalWithholdings), amount(acc.ChargesOutstanding),
		dateArg(acc.ExpectedMaturityDate), amount(acc.ExpectedMaturityAmount), dateArg(acc.ActualMaturityDate), amount(acc.MaturedAmount),
		acc.ClosureType, acc.TransferToAccountID, acc.LinkedAccountID, acc.TransferInterestToLinked,
		dateArg(acc.SubmittedOn), dateArg(acc.ApprovedOn), dateArg(acc.ActivatedOn), dateArg(acc.TermStartDate), dateArg(acc.LastInterestPostedOn), dateArg(acc.ClosedOn),
		acc.RenewalCount, acc.ApprovalNote, acc.Overdue.Installments, amount(acc.Overdue.Amount), dateArg(acc.Overdue.AsOf),
		acc.Version, timestamp(acc.CreatedAt), timestamp(acc.UpdatedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*deposit.Account, error) {
	var (
		acc                                        deposit.Account
		terms                                      string
		deposits, withdrawals, interest, withheld  string
		charges, expectedAmount, matured, overdue  string
		expectedDate, actualDate, submitted        sql.NullString
		approved, activated, termStart, lastPosted sql.NullString
		closed, overdueAsOf                        sql.NullString
		createdAt, updatedAt                       string
	)
	err := row.Scan(
		&acc.ID, &acc.ClientID, &acc.GroupID, &acc.ProductID, &acc.Status, &terms,
		&acc.AllowWithdrawal, &acc.AllowPrematureClosure, &acc.AllowRenewal,
		&deposits, &withdrawals, &interest, &withheld, &charges,
		&expectedDate, &expectedAmount, &actualDate, &matured,
		&acc.ClosureType, &acc.TransferToAccountID, &acc.LinkedAccountID, &acc.TransferInterestToLinked,
		&submitted, &approved, &activated, &termStart, &lastPosted, &closed,
		&acc.RenewalCount, &acc.ApprovalNote, &acc.Overdue.Installments, &overdue, &overdueAsOf,
		&acc.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var t accountTerms
	if err := json.Unmarshal([]byte(terms), &t); err != nil {
		return nil, fmt.Errorf("decode terms of account %s: %w", acc.ID, err)
	}
	acc.Currency = t.Currency
	acc.DepositAmount = t.DepositAmount
	acc.DepositTerm = t.DepositTerm
	acc.RecurringFrequency = t.RecurringFrequency
	acc.NominalAnnualRate = t.NominalAnnualRate
	acc.Compounding = t.Compounding
	acc.CalculationType = t.CalculationType
	acc.DaysInYear = t.DaysInYear

	acc.TotalDeposits = parseAmount(deposits)
	acc.TotalWithdrawals = parseAmount(withdrawals)
	acc.InterestEarned = parseAmount(interest)
	acc.TotalWithholdings = parseAmount(withheld)
	acc.ChargesOutstanding = parseAmount(charges)
	acc.ExpectedMaturityDate = parseDate(expectedDate)
	acc.ExpectedMaturityAmount = parseAmount(expectedAmount)
	acc.ActualMaturityDate = parseDate(actualDate)
	acc.MaturedAmount = parseAmount(matured)
	acc.SubmittedOn = parseDate(submitted)
	acc.ApprovedOn = parseDate(approved)
	acc.ActivatedOn = parseDate(activated)
	acc.TermStartDate = parseDate(termStart)
	acc.LastInterestPostedOn = parseDate(lastPosted)
	acc.ClosedOn = parseDate(closed)
	acc.Overdue.Amount = parseAmount(overdue)
	acc.Overdue.AsOf = parseDate(overdueAsOf)
	acc.CreatedAt = parseTimestamp(createdAt)
	acc.UpdatedAt = parseTimestamp(updatedAt)
	return &acc, nil
}

func (c *conn) CreateAccount(ctx context.Context, acc *deposit.Account) error {
	acc.Version = 1
	args, err := accountArgs(acc)
	if err != nil {
		return err
	}
	query := "INSERT INTO accounts (" + strings.Join(accountColumns, ", ") + ") VALUES (" + placeholders(len(accountColumns)) + ")"
	if _, err := c.exec(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (c *conn) GetAccount(ctx context.Context, id generic.AccountID) (*deposit.Account, error) {
	return c.getAccount(ctx, id, false)
}

// LockAccount reads the account for update. On PostgreSQL inside a
// transaction the row stays locked until commit or rollback.
func (c *conn) LockAccount(ctx context.Context, id generic.AccountID) (*deposit.Account, error) {
	return c.getAccount(ctx, id, c.inTx && c.dialect == Postgres)
}

func (c *conn) getAccount(ctx context.Context, id generic.AccountID, forUpdate bool) (*deposit.Account, error) {
	query := selectAccount + " WHERE id = ?"
	if forUpdate {
		query += " FOR UPDATE"
	}
	acc, err := scanAccount(c.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	return acc, nil
}

// UpdateAccount writes every mutable column if the stored version still
// matches acc.Version, then bumps the version.
func (c *conn) UpdateAccount(ctx context.Context, acc *deposit.Account) error {
	args, err := accountArgs(acc)
	if err != nil {
		return err
	}
	// every column except id and the version/created_at/updated_at trailer
	mutable := accountColumns[1:33]
	sets := make([]string, 0, len(mutable)+2)
	for _, col := range mutable {
		sets = append(sets, col+" = ?")
	}
	sets = append(sets, "updated_at = ?", "version = version + 1")

	values := make([]any, 0, len(mutable)+3)
	values = append(values, args[1:33]...)
	values = append(values, timestamp(acc.UpdatedAt), acc.ID, acc.Version)

	res, err := c.exec(ctx, "UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE id = ? AND version = ?", values...)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", acc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := c.GetAccount(ctx, acc.ID); err != nil {
			return err
		}
		return generic.ErrConcurrentModification
	}
	acc.Version++
	return nil
}

func (c *conn) ListAccountsByStatus(ctx context.Context, status deposit.Status) ([]*deposit.Account, error) {
	rows, err := c.query(ctx, selectAccount+" WHERE status = ? ORDER BY created_at, id", status)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []*deposit.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (c *conn) SaveInstallments(ctx context.Context, insts []deposit.ScheduleInstallment) error {
	const query = `
		INSERT INTO installments
		(account_id, number, due_date, expected_amount, amount_completed, paid_early, paid_late, completed, obligations_met_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, inst := range insts {
		_, err := c.exec(ctx, query,
			inst.AccountID, inst.Number, dateArg(inst.DueDate),
			amount(inst.ExpectedAmount), amount(inst.AmountCompleted), amount(inst.PaidEarly), amount(inst.PaidLate),
			inst.Completed, dateArg(inst.ObligationsMetOn),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.ErrDuplicate
			}
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

func (c *conn) UpdateInstallment(ctx context.Context, inst deposit.ScheduleInstallment) error {
	res, err := c.exec(ctx, `
		UPDATE installments
		SET due_date = ?, expected_amount = ?, amount_completed = ?, paid_early = ?, paid_late = ?,
		    completed = ?, obligations_met_on = ?
		WHERE account_id = ? AND number = ?`,
		dateArg(inst.DueDate), amount(inst.ExpectedAmount), amount(inst.AmountCompleted),
		amount(inst.PaidEarly), amount(inst.PaidLate), inst.Completed, dateArg(inst.ObligationsMetOn),
		inst.AccountID, inst.Number,
	)
	if err != nil {
		return fmt.Errorf("failed to update installment %d: %w", inst.Number, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("installment", inst.Number)
	}
	return nil
}

func (c *conn) ListInstallments(ctx context.Context, id generic.AccountID) ([]deposit.ScheduleInstallment, error) {
	rows, err := c.query(ctx, `
		SELECT account_id, number, due_date, expected_amount, amount_completed, paid_early, paid_late,
		       completed, obligations_met_on
		FROM installments WHERE account_id = ? ORDER BY number`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var out []deposit.ScheduleInstallment
	for rows.Next() {
		var (
			inst                deposit.ScheduleInstallment
			due                 sql.NullString
			expected, completed string
			early, late         string
			met                 sql.NullString
		)
		if err := rows.Scan(&inst.AccountID, &inst.Number, &due, &expected, &completed, &early, &late, &inst.Completed, &met); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		inst.DueDate = parseDate(due)
		inst.ExpectedAmount = parseAmount(expected)
		inst.AmountCompleted = parseAmount(completed)
		inst.PaidEarly = parseAmount(early)
		inst.PaidLate = parseAmount(late)
		inst.ObligationsMetOn = parseDate(met)
		out = append(out, inst)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

func (c *conn) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	_, err := c.exec(ctx, `
		INSERT INTO transactions
		(id, account_id, tx_type, amount, tx_date, running_balance, installment_number,
		 reversed, reference_id, reason, payment_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Type, amount(tx.Amount), dateArg(tx.Date), amount(tx.RunningBalance),
		tx.InstallmentNumber, tx.Reversed, nullString(tx.ReferenceID), nullString(tx.Reason),
		nullString(tx.PaymentDetail), timestamp(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the account's ledger in the order it was written.
func (c *conn) ListTransactions(ctx context.Context, id generic.AccountID) ([]generic.Transaction, error) {
	rows, err := c.query(ctx, `
		SELECT id, account_id, tx_type, amount, tx_date, running_balance, installment_number,
		       reversed, reference_id, reason, payment_detail, created_at
		FROM transactions WHERE account_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		var (
			tx                        generic.Transaction
			amt, running, createdAt   string
			date                      sql.NullString
			reference, reason, detail sql.NullString
		)
		err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Type, &amt, &date, &running, &tx.InstallmentNumber,
			&tx.Reversed, &reference, &reason, &detail, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount = parseAmount(amt)
		tx.Date = parseDate(date)
		tx.RunningBalance = parseAmount(running)
		tx.ReferenceID = reference.String
		tx.Reason = reason.String
		tx.PaymentDetail = detail.String
		tx.CreatedAt = parseTimestamp(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (c *conn) MarkTransactionReversed(ctx context.Context, id generic.TransactionID) error {
	res, err := c.exec(ctx, "UPDATE transactions SET reversed = ? WHERE id = ?", true, id)
	if err != nil {
		return fmt.Errorf("failed to reverse transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("transaction", id)
	}
	return nil
}

// =============================================================================
// CHARGES
// =============================================================================

// UpsertChargeType returns the charge type for (name, currency), creating it
// on first use.
func (c *conn) UpsertChargeType(ctx context.Context, name, currency string) (deposit.ChargeType, error) {
	_, err := c.exec(ctx, `
		INSERT INTO charge_types (id, name, currency) VALUES (?, ?, ?)
		ON CONFLICT (name, currency) DO NOTHING`,
		uuid.NewString(), name, currency,
	)
	if err != nil {
		return deposit.ChargeType{}, fmt.Errorf("failed to upsert charge type: %w", err)
	}

	ct := deposit.ChargeType{Name: name, Currency: currency}
	err = c.queryRow(ctx, "SELECT id FROM charge_types WHERE name = ? AND currency = ?", name, currency).Scan(&ct.ID)
	if err != nil {
		return deposit.ChargeType{}, fmt.Errorf("failed to read charge type: %w", err)
	}
	return ct, nil
}

func (c *conn) SaveCharge(ctx context.Context, ch deposit.Charge) error {
	_, err := c.exec(ctx, `
		INSERT INTO charges
		(id, account_id, charge_type_id, amount, amount_outstanding, due_date, installment_number,
		 waived, waived_on, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.AccountID, ch.ChargeTypeID, amount(ch.Amount), amount(ch.AmountOutstanding),
		dateArg(ch.DueDate), ch.InstallmentNumber, ch.Waived, dateArg(ch.WaivedOn), nullString(string(ch.TransactionID)),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		return fmt.Errorf("failed to insert charge: %w", err)
	}
	return nil
}

func (c *conn) GetCharge(ctx context.Context, id deposit.ChargeID) (*deposit.Charge, error) {
	var (
		ch                  deposit.Charge
		amt, outstanding    string
		due, waivedOn, txID sql.NullString
	)
	err := c.queryRow(ctx, `
		SELECT id, account_id, charge_type_id, amount, amount_outstanding, due_date, installment_number,
		       waived, waived_on, transaction_id
		FROM charges WHERE id = ?`, id,
	).Scan(&ch.ID, &ch.AccountID, &ch.ChargeTypeID, &amt, &outstanding, &due, &ch.InstallmentNumber,
		&ch.Waived, &waivedOn, &txID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("charge", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load charge %s: %w", id, err)
	}
	ch.Amount = parseAmount(amt)
	ch.AmountOutstanding = parseAmount(outstanding)
	ch.DueDate = parseDate(due)
	ch.WaivedOn = parseDate(waivedOn)
	ch.TransactionID = generic.TransactionID(txID.String)
	return &ch, nil
}

func (c *conn) UpdateCharge(ctx context.Context, ch deposit.Charge) error {
	res, err := c.exec(ctx, `
		UPDATE charges SET amount_outstanding = ?, waived = ?, waived_on = ? WHERE id = ?`,
		amount(ch.AmountOutstanding), ch.Waived, dateArg(ch.WaivedOn), ch.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update charge %s: %w", ch.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("charge", ch.ID)
	}
	return nil
}

// =============================================================================
// PENALTY HISTORY
// =============================================================================

const selectPenalty = `
	SELECT id, account_id, installment_number, charge_id, tier_number, penalty_type, amount,
	       days_overdue, occurrence, applied_on, waived, waived_on, waive_reason
	FROM penalties`

func scanPenalty(row scanner) (deposit.PenaltyHistory, error) {
	var (
		p                 deposit.PenaltyHistory
		amt               string
		applied, waivedOn sql.NullString
		reason            sql.NullString
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.InstallmentNumber, &p.ChargeID, &p.TierNumber, &p.PenaltyType,
		&amt, &p.DaysOverdue, &p.Occurrence, &applied, &p.Waived, &waivedOn, &reason)
	if err != nil {
		return p, err
	}
	p.Amount = parseAmount(amt)
	p.AppliedOn = parseDate(applied)
	p.WaivedOn = parseDate(waivedOn)
	p.WaiveReason = reason.String
	return p, nil
}

func (c *conn) SavePenalty(ctx context.Context, p deposit.PenaltyHistory) error {
	_, err := c.exec(ctx, `
		INSERT INTO penalties
		(id, account_id, installment_number, charge_id, tier_number, penalty_type, amount,
		 days_overdue, occurrence, applied_on, waived, waived_on, waive_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, p.InstallmentNumber, p.ChargeID, p.TierNumber, p.PenaltyType, amount(p.Amount),
		p.DaysOverdue, p.Occurrence, dateArg(p.AppliedOn), p.Waived, dateArg(p.WaivedOn), nullString(p.WaiveReason),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		return fmt.Errorf("failed to insert penalty: %w", err)
	}
	return nil
}

func (c *conn) GetPenalty(ctx context.Context, id deposit.PenaltyID) (*deposit.PenaltyHistory, error) {
	p, err := scanPenalty(c.queryRow(ctx, selectPenalty+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("penalty", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load penalty %s: %w", id, err)
	}
	return &p, nil
}

func (c *conn) UpdatePenalty(ctx context.Context, p deposit.PenaltyHistory) error {
	res, err := c.exec(ctx, "UPDATE penalties SET waived = ?, waived_on = ?, waive_reason = ? WHERE id = ?",
		p.Waived, dateArg(p.WaivedOn), nullString(p.WaiveReason), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update penalty %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("penalty", p.ID)
	}
	return nil
}

// CountPenalties counts applied penalties for one installment, waived ones
// included.
func (c *conn) CountPenalties(ctx context.Context, id generic.AccountID, installment int) (int, error) {
	var n int
	err := c.queryRow(ctx, "SELECT COUNT(*) FROM penalties WHERE account_id = ? AND installment_number = ?",
		id, installment).Scan(&n)
	return n, err
}

func (c *conn) ListPenalties(ctx context.Context, id generic.AccountID) ([]deposit.PenaltyHistory, error) {
	rows, err := c.query(ctx, selectPenalty+" WHERE account_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalties: %w", err)
	}
	defer rows.Close()

	var out []deposit.PenaltyHistory
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan penalty: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// PREMATURE CLOSURE HISTORY
// =============================================================================

func (c *conn) SavePrematureClosure(ctx context.Context, h deposit.PrematureClosureHistory) error {
	_, err := c.exec(ctx, `
		INSERT INTO premature_closures
		(id, account_id, closed_on, days_completed, total_term_days, total_deposits, interest_earned,
		 penalty_amount, payout, closure_type, reason, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.AccountID, dateArg(h.ClosedOn), h.DaysCompleted, h.TotalTermDays, amount(h.TotalDeposits),
		amount(h.InterestEarned), amount(h.PenaltyAmount), amount(h.Payout), h.ClosureType,
		nullString(h.Reason), nullString(string(h.TransactionID)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert premature closure: %w", err)
	}
	return nil
}

// PrematureClosures returns the recorded closure history for an account.
func (s *Store) PrematureClosures(ctx context.Context, id generic.AccountID) ([]deposit.PrematureClosureHistory, error) {
	rows, err := s.query(ctx, `
		SELECT id, account_id, closed_on, days_completed, total_term_days, total_deposits, interest_earned,
		       penalty_amount, payout, closure_type, reason, transaction_id
		FROM premature_closures WHERE account_id = ? ORDER BY closed_on`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query premature closures: %w", err)
	}
	defer rows.Close()

	var out []deposit.PrematureClosureHistory
	for rows.Next() {
		var (
			h                                   deposit.PrematureClosureHistory
			closedOn                            sql.NullString
			deposits, interest, penalty, payout string
			reason, txID                        sql.NullString
		)
		err := rows.Scan(&h.ID, &h.AccountID, &closedOn, &h.DaysCompleted, &h.TotalTermDays,
			&deposits, &interest, &penalty, &payout, &h.ClosureType, &reason, &txID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan premature closure: %w", err)
		}
		h.ClosedOn = parseDate(closedOn)
		h.TotalDeposits = parseAmount(deposits)
		h.InterestEarned = parseAmount(interest)
		h.PenaltyAmount = parseAmount(penalty)
		h.Payout = parseAmount(payout)
		h.Reason = reason.String
		h.TransactionID = generic.TransactionID(txID.String)
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// PRODUCTS (raw JSON definitions, parsed by the factory package)
// =============================================================================

// SaveProduct stores a product definition, bumping its version on update.
func (s *Store) SaveProduct(ctx context.Context, id, name string, configJSON []byte) error {
	_, err := s.exec(ctx, `
		INSERT INTO products (id, name, config_json, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = products.version + 1,
			updated_at = excluded.updated_at`,
		id, name, string(configJSON), timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save product %s: %w", id, err)
	}
	return nil
}

// ProductJSON returns the stored definition of a product.
func (s *Store) ProductJSON(ctx context.Context, id string) ([]byte, error) {
	var raw string
	err := s.queryRow(ctx, "SELECT config_json FROM products WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", id, err)
	}
	return []byte(raw), nil
}

var (
	_ deposit.TxStore = (*Store)(nil)
	_ deposit.Store   = (*conn)(nil)
)

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func amount(d decimal.Decimal) string { return d.String() }

func parseAmount(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func dateArg(tp generic.TimePoint) any {
	if tp.IsZero() {
		return nil
	}
	return tp.String()
}

func parseDate(s sql.NullString) generic.TimePoint {
	if !s.Valid || s.String == "" {
		return generic.TimePoint{}
	}
	tp, err := generic.ParseDate(s.String)
	if err != nil {
		return generic.TimePoint{}
	}
	return tp
}

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key")
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stripComments(stmt))
	if i := strings.IndexByte(stmt, '\n'); i > 0 {
		return stmt[:i]
	}
	return stmt
}
