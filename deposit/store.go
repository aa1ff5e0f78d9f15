/*
store.go - Persistence interface for the deposit core

PURPOSE:
  The boundary between the deposit operations and the database. Accounts,
  installments, ledger transactions, charges, penalty history and closure
  records are the only shared mutable state; everything else is derived.

UNIT OF WORK:
  TxStore.WithTx runs fn against a Store bound to one database transaction.
  If fn returns an error every write inside it is rolled back. Every
  mutating Service operation is exactly one WithTx call.

PER-ACCOUNT SERIALIZATION:
  LockAccount loads an account for update. SQL stores take a row lock
  (SELECT ... FOR UPDATE on PostgreSQL, a writer lock on SQLite); the memory
  store serializes whole transactions. UpdateAccount additionally checks
  Version and fails with generic.ErrConcurrentModification when the row
  moved underneath.

APPEND-ONLY LEDGER:
  Transactions are appended and never deleted. MarkTransactionReversed is
  the only mutation and only flips the reversal flag.

LOOKUP ROWS:
  UpsertChargeType creates a (name, currency) charge type at most once and
  returns the existing row on conflict.

IMPLEMENTATIONS:
  - store/memory: in-memory, snapshot/rollback transactions
  - store/sqlstore: SQLite and PostgreSQL via database/sql
*/
package deposit

import (
	"context"

	"github.com/warp/deposit-engine/generic"
)

type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, acc *Account) error
	GetAccount(ctx context.Context, id generic.AccountID) (*Account, error)
	LockAccount(ctx context.Context, id generic.AccountID) (*Account, error)
	UpdateAccount(ctx context.Context, acc *Account) error
	ListAccountsByStatus(ctx context.Context, status Status) ([]*Account, error)

	// Schedule
	SaveInstallments(ctx context.Context, insts []ScheduleInstallment) error
	UpdateInstallment(ctx context.Context, inst ScheduleInstallment) error
	ListInstallments(ctx context.Context, id generic.AccountID) ([]ScheduleInstallment, error)

	// Ledger
	AppendTransaction(ctx context.Context, tx generic.Transaction) error
	ListTransactions(ctx context.Context, id generic.AccountID) ([]generic.Transaction, error)
	MarkTransactionReversed(ctx context.Context, id generic.TransactionID) error

	// Charges
	UpsertChargeType(ctx context.Context, name, currency string) (ChargeType, error)
	SaveCharge(ctx context.Context, c Charge) error
	GetCharge(ctx context.Context, id ChargeID) (*Charge, error)
	UpdateCharge(ctx context.Context, c Charge) error

	// Penalties
	SavePenalty(ctx context.Context, p PenaltyHistory) error
	GetPenalty(ctx context.Context, id PenaltyID) (*PenaltyHistory, error)
	UpdatePenalty(ctx context.Context, p PenaltyHistory) error
	CountPenalties(ctx context.Context, id generic.AccountID, installment int) (int, error)
	ListPenalties(ctx context.Context, id generic.AccountID) ([]PenaltyHistory, error)

	// Premature closure
	SavePrematureClosure(ctx context.Context, h PrematureClosureHistory) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
