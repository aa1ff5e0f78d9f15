package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/generic"
	"github.com/warp/deposit-engine/store/memory"
)

func newAccount(id generic.AccountID) *deposit.Account {
	return &deposit.Account{
		ID:            id,
		Status:        deposit.StatusActive,
		Currency:      generic.Currency{Code: "USD", DecimalPlaces: 2},
		TotalDeposits: decimal.NewFromInt(100),
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: An account with one transaction
	// WHEN: A unit of work writes and then fails
	// THEN: None of its writes are visible

	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateAccount(ctx, newAccount("a-1")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(st deposit.Store) error {
		acc, err := st.LockAccount(ctx, "a-1")
		require.NoError(t, err)
		acc.TotalDeposits = decimal.NewFromInt(999)
		require.NoError(t, st.UpdateAccount(ctx, acc))
		require.NoError(t, st.AppendTransaction(ctx, generic.Transaction{ID: "tx-1", AccountID: "a-1", Type: generic.TxDeposit, Amount: decimal.NewFromInt(899)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acc, err := s.GetAccount(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, acc.TotalDeposits.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, acc.Version)
	txs, err := s.ListTransactions(ctx, "a-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestUpdateAccount_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateAccount(ctx, newAccount("a-1")))

	first, err := s.GetAccount(ctx, "a-1")
	require.NoError(t, err)
	stale, err := s.GetAccount(ctx, "a-1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateAccount(ctx, first))
	assert.Equal(t, 2, first.Version)

	err = s.UpdateAccount(ctx, stale)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))
}

func TestCreateAccount_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateAccount(ctx, newAccount("a-1")))

	assert.ErrorIs(t, s.CreateAccount(ctx, newAccount("a-1")), generic.ErrDuplicate)
	_, err := s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestReturnedAccountsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateAccount(ctx, newAccount("a-1")))

	acc, err := s.GetAccount(ctx, "a-1")
	require.NoError(t, err)
	acc.Status = deposit.StatusClosed

	again, err := s.GetAccount(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusActive, again.Status)
}

func TestUpsertChargeType_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first, err := s.UpsertChargeType(ctx, deposit.MissedInstallmentCharge, "USD")
	require.NoError(t, err)
	second, err := s.UpsertChargeType(ctx, deposit.MissedInstallmentCharge, "USD")
	require.NoError(t, err)
	other, err := s.UpsertChargeType(ctx, deposit.MissedInstallmentCharge, "EUR")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestInstallmentsAndPenalties(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	schedule := deposit.GenerateSchedule("a-1", generic.MustParseDate("2024-01-01"),
		generic.Term{Value: 1, Unit: generic.UnitMonths}, 3, 1, decimal.NewFromInt(100))

	require.NoError(t, s.SaveInstallments(ctx, schedule))
	assert.ErrorIs(t, s.SaveInstallments(ctx, schedule[:1]), generic.ErrDuplicate)

	schedule[1].Completed = true
	require.NoError(t, s.UpdateInstallment(ctx, schedule[1]))
	got, err := s.ListInstallments(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[1].Completed)

	require.NoError(t, s.SavePenalty(ctx, deposit.PenaltyHistory{ID: "p-1", AccountID: "a-1", InstallmentNumber: 2, Amount: decimal.NewFromInt(25)}))
	require.NoError(t, s.SavePenalty(ctx, deposit.PenaltyHistory{ID: "p-2", AccountID: "a-1", InstallmentNumber: 3, Amount: decimal.NewFromInt(25)}))

	n, err := s.CountPenalties(ctx, "a-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.ListPenalties(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, deposit.PenaltyID("p-1"), list[0].ID)
}

func TestMarkTransactionReversed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.AppendTransaction(ctx, generic.Transaction{ID: "tx-1", AccountID: "a-1", Type: generic.TxPenaltyCharge, Amount: decimal.NewFromInt(25)}))

	require.NoError(t, s.MarkTransactionReversed(ctx, "tx-1"))
	txs, err := s.ListTransactions(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, txs[0].Reversed)

	assert.ErrorIs(t, s.MarkTransactionReversed(ctx, "tx-2"), generic.ErrNotFound)
}
