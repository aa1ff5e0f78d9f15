package deposit_test

import (
	"context"
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/generic"
	"github.com/warp/deposit-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var usd = generic.Currency{Code: "USD", DecimalPlaces: 2}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

func boolp(v bool) *bool { return &v }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func monthlyProduct(id deposit.ProductID, months int) *deposit.Product {
	return &deposit.Product{
		ID:                    id,
		Name:                  "Monthly recurring deposit",
		Currency:              usd,
		MinDepositAmount:      dec("10"),
		DepositTerm:           generic.Term{Value: months, Unit: generic.UnitMonths},
		RecurringFrequency:    generic.Term{Value: 1, Unit: generic.UnitMonths},
		NominalAnnualRate:     dec("12"),
		Compounding:           generic.CompoundMonthly,
		CalculationType:       deposit.CalcDailyBalance,
		DaysInYear:            deposit.DaysInYear365,
		AllowWithdrawal:       true,
		AllowPrematureClosure: true,
		AllowRenewal:          true,
		DefaultClosureType:    deposit.ClosureWithdraw,
		Penalties: deposit.PenaltyConfig{
			Enabled:         true,
			DefaultType:     deposit.PenaltyFixed,
			DefaultAmount:   dec("25"),
			GracePeriodDays: 5,
			MaxOccurrences:  1,
		},
		PrematureClosure: deposit.PrematureClosurePolicy{
			PenaltyApplicable: true,
			PenaltyRate:       dec("20"),
			ApplyOn:           deposit.BaseInterest,
		},
	}
}

type fixture struct {
	ctx     context.Context
	svc     *deposit.Service
	store   *memory.Store
	catalog deposit.StaticCatalog
}

func newFixture(t *testing.T, products ...*deposit.Product) *fixture {
	t.Helper()
	if len(products) == 0 {
		products = []*deposit.Product{monthlyProduct("rd-12", 12)}
	}
	catalog := deposit.StaticCatalog{}
	for _, p := range products {
		catalog[p.ID] = p
	}
	store := memory.New()
	logger, _ := test.NewNullLogger()
	return &fixture{
		ctx:     context.Background(),
		svc:     deposit.NewService(store, catalog, deposit.WithLogger(logger)),
		store:   store,
		catalog: catalog,
	}
}

func (f *fixture) submit(t *testing.T, product deposit.ProductID, amount, on string) *deposit.Account {
	t.Helper()
	acc, err := f.svc.CreateAccount(f.ctx, deposit.CreateAccountRequest{
		ProductID:     product,
		ClientID:      "client-1",
		DepositAmount: dec(amount),
		SubmittedOn:   date(on),
	})
	require.NoError(t, err)
	return acc
}

// openActive submits, approves and funds the first installment on the same day.
func (f *fixture) openActive(t *testing.T, product deposit.ProductID, amount, on string) *deposit.Account {
	t.Helper()
	acc := f.submit(t, product, amount, on)
	_, err := f.svc.ApproveAccount(f.ctx, acc.ID, date(on), "")
	require.NoError(t, err)
	f.deposit(t, acc.ID, amount, on)
	return f.get(t, acc.ID)
}

func (f *fixture) deposit(t *testing.T, id generic.AccountID, amount, on string) deposit.TransactionResult {
	t.Helper()
	res, err := f.svc.Deposit(f.ctx, deposit.DepositRequest{AccountID: id, Amount: dec(amount), Date: date(on)})
	require.NoError(t, err)
	return res
}

func (f *fixture) get(t *testing.T, id generic.AccountID) *deposit.Account {
	t.Helper()
	acc, err := f.svc.GetAccount(f.ctx, id)
	require.NoError(t, err)
	return acc
}

// assertBalanceInvariant checks the totals against the ledger replay.
func (f *fixture) assertBalanceInvariant(t *testing.T, id generic.AccountID) {
	t.Helper()
	acc := f.get(t, id)
	txs, err := f.svc.ListTransactions(f.ctx, id)
	require.NoError(t, err)

	expected := acc.TotalDeposits.Add(acc.InterestEarned).Sub(acc.TotalWithdrawals).Sub(acc.TotalWithholdings)
	assert.True(t, acc.Balance().Equal(expected))
	assert.False(t, acc.Balance().IsNegative(), "balance must never be negative")

	replayed := decimal.Zero
	for _, tx := range txs {
		replayed = replayed.Add(tx.Delta())
	}
	if acc.RenewalCount == 0 {
		assert.True(t, replayed.Equal(acc.Balance()), "ledger %s != balance %s", replayed, acc.Balance())
	}
	assert.Nil(t, generic.NewTimeline(txs).Validate())
	if len(txs) > 0 {
		assert.True(t, txs[len(txs)-1].RunningBalance.Equal(acc.Balance()))
	}
}

// =============================================================================
// CREATE / APPROVE / ACTIVATE
// =============================================================================

func TestCreateAccount_GeneratesScheduleAndMaturity(t *testing.T) {
	f := newFixture(t)

	acc := f.submit(t, "rd-12", "1000", "2024-01-01")

	assert.Equal(t, deposit.StatusPendingApproval, acc.Status)
	assert.Equal(t, "2025-01-01", acc.ExpectedMaturityDate.String())
	assert.True(t, acc.ExpectedMaturityAmount.GreaterThan(dec("12000")))
	assert.Equal(t, deposit.CalcDailyBalance, acc.CalculationType)

	insts, err := f.svc.ListInstallments(f.ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, insts, 12)
	assert.Equal(t, "2024-01-01", insts[0].DueDate.String())
	assert.Equal(t, "2024-12-01", insts[11].DueDate.String())
}

func TestCreateAccount_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  deposit.CreateAccountRequest
	}{
		{"no client", deposit.CreateAccountRequest{ProductID: "rd-12", DepositAmount: dec("100"), SubmittedOn: date("2024-01-01")}},
		{"zero amount", deposit.CreateAccountRequest{ProductID: "rd-12", ClientID: "c", DepositAmount: decimal.Zero, SubmittedOn: date("2024-01-01")}},
		{"below minimum", deposit.CreateAccountRequest{ProductID: "rd-12", ClientID: "c", DepositAmount: dec("5"), SubmittedOn: date("2024-01-01")}},
		{"frequency longer than term", deposit.CreateAccountRequest{
			ProductID: "rd-12", ClientID: "c", DepositAmount: dec("100"), SubmittedOn: date("2024-01-01"),
			DepositTerm:        generic.Term{Value: 1, Unit: generic.UnitMonths},
			RecurringFrequency: generic.Term{Value: 1, Unit: generic.UnitYears},
		}},
		{"transfer without target", deposit.CreateAccountRequest{
			ProductID: "rd-12", ClientID: "c", DepositAmount: dec("100"), SubmittedOn: date("2024-01-01"),
			ClosureType: deposit.ClosureTransferToSavings,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAccount(f.ctx, tt.req)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	_, err := f.svc.CreateAccount(f.ctx, deposit.CreateAccountRequest{ProductID: "missing", ClientID: "c", DepositAmount: dec("100"), SubmittedOn: date("2024-01-01")})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestApprove_OnlyFromPendingApproval(t *testing.T) {
	f := newFixture(t)
	acc := f.submit(t, "rd-12", "1000", "2024-01-01")

	_, err := f.svc.ApproveAccount(f.ctx, acc.ID, date("2023-12-31"), "")
	assert.ErrorIs(t, err, generic.ErrValidation, "before submission")

	approved, err := f.svc.ApproveAccount(f.ctx, acc.ID, date("2024-01-02"), "ok")
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusApproved, approved.Status)
	assert.Equal(t, "2024-01-02", approved.ApprovedOn.String())

	_, err = f.svc.ApproveAccount(f.ctx, acc.ID, date("2024-01-03"), "")
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
}

func TestDeposit_FirstDepositActivates(t *testing.T) {
	// GIVEN: An approved account
	// WHEN: The first deposit arrives
	// THEN: It becomes active with the activation date set

	f := newFixture(t)
	acc := f.submit(t, "rd-12", "1000", "2024-01-01")
	_, err := f.svc.ApproveAccount(f.ctx, acc.ID, date("2024-01-01"), "")
	require.NoError(t, err)

	res := f.deposit(t, acc.ID, "1000", "2024-01-01")

	assert.Equal(t, deposit.StatusActive, res.Status)
	assert.True(t, res.Balance.Equal(dec("1000")))
	got := f.get(t, acc.ID)
	assert.Equal(t, "2024-01-01", got.ActivatedOn.String())

	insts, err := f.svc.ListInstallments(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, insts[0].Completed)
	assert.False(t, insts[1].Completed)
}

func TestDeposit_RejectedBeforeApproval(t *testing.T) {
	f := newFixture(t)
	acc := f.submit(t, "rd-12", "1000", "2024-01-01")

	_, err := f.svc.Deposit(f.ctx, deposit.DepositRequest{AccountID: acc.ID, Amount: dec("1000"), Date: date("2024-01-01")})
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
}

func TestDeposit_PartialInstallmentStaysIncomplete(t *testing.T) {
	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	f.deposit(t, acc.ID, "400", "2024-02-01")

	insts, err := f.svc.ListInstallments(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, insts[1].Completed)
	assert.True(t, insts[1].AmountCompleted.Equal(dec("400")))

	f.deposit(t, acc.ID, "600", "2024-02-03")
	insts, err = f.svc.ListInstallments(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, insts[1].Completed)
	assert.True(t, insts[1].PaidLate.Equal(dec("600")))
}

func TestDeposit_ExplicitInstallmentErrors(t *testing.T) {
	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	_, err := f.svc.Deposit(f.ctx, deposit.DepositRequest{AccountID: acc.ID, Amount: dec("1000"), Date: date("2024-01-02"), InstallmentNumber: 1})
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed)

	_, err = f.svc.Deposit(f.ctx, deposit.DepositRequest{AccountID: acc.ID, Amount: dec("1000"), Date: date("2024-01-02"), InstallmentNumber: 40})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	// nothing was written by the failed attempts
	assert.True(t, f.get(t, acc.ID).TotalDeposits.Equal(dec("1000")))
}

// =============================================================================
// WITHDRAW
// =============================================================================

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	_, err := f.svc.Withdraw(f.ctx, deposit.WithdrawalRequest{AccountID: acc.ID, Amount: dec("1500"), Date: date("2024-01-10")})
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)

	res, err := f.svc.Withdraw(f.ctx, deposit.WithdrawalRequest{AccountID: acc.ID, Amount: dec("300"), Date: date("2024-01-10")})
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(dec("700")))
	f.assertBalanceInvariant(t, acc.ID)
}

func TestWithdraw_DisallowedByAccount(t *testing.T) {
	f := newFixture(t)
	acc, err := f.svc.CreateAccount(f.ctx, deposit.CreateAccountRequest{
		ProductID: "rd-12", ClientID: "c", DepositAmount: dec("1000"), SubmittedOn: date("2024-01-01"),
		AllowWithdrawal: boolp(false),
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveAccount(f.ctx, acc.ID, date("2024-01-01"), "")
	require.NoError(t, err)
	f.deposit(t, acc.ID, "1000", "2024-01-01")

	_, err = f.svc.Withdraw(f.ctx, deposit.WithdrawalRequest{AccountID: acc.ID, Amount: dec("100"), Date: date("2024-01-10")})
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
}

// =============================================================================
// INTEREST
// =============================================================================

func TestCalculateAndPostInterest(t *testing.T) {
	// GIVEN: 1000 on deposit since Jan 1 at 12% / 365
	// WHEN: Interest is calculated to Jan 31 and posted
	// THEN: 9.86 is credited and the period cannot be posted again

	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	calc, err := f.svc.CalculateInterest(f.ctx, acc.ID, date("2024-01-31"), generic.TimePoint{}, generic.TimePoint{})
	require.NoError(t, err)
	assert.Equal(t, "9.86", calc.Amount.String())
	assert.Equal(t, "2024-01-01", calc.From.String())

	posting, err := f.svc.PostInterest(f.ctx, deposit.PostInterestRequest{
		AccountID: acc.ID, Amount: calc.Amount, From: calc.From, To: calc.To,
	})
	require.NoError(t, err)
	assert.True(t, posting.Balance.Equal(dec("1009.86")))

	got := f.get(t, acc.ID)
	assert.True(t, got.InterestEarned.Equal(dec("9.86")))
	assert.Equal(t, "2024-01-31", got.LastInterestPostedOn.String())

	_, err = f.svc.PostInterest(f.ctx, deposit.PostInterestRequest{AccountID: acc.ID, Amount: dec("9.86"), To: date("2024-01-31")})
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed)

	// the next window starts where the last posting ended
	next, err := f.svc.CalculateInterest(f.ctx, acc.ID, date("2024-02-01"), generic.TimePoint{}, generic.TimePoint{})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", next.From.String())
	assert.True(t, next.OpeningBalance.Equal(dec("1009.86")))

	f.assertBalanceInvariant(t, acc.ID)
}

func TestPostInterest_WithholdsTax(t *testing.T) {
	p := monthlyProduct("rd-tax", 12)
	p.WithholdTaxRate = dec("10")
	f := newFixture(t, p)
	acc := f.openActive(t, "rd-tax", "1000", "2024-01-01")

	posting, err := f.svc.PostInterest(f.ctx, deposit.PostInterestRequest{AccountID: acc.ID, Amount: dec("9.86"), To: date("2024-01-31")})
	require.NoError(t, err)

	assert.Equal(t, "0.99", posting.Withheld.String())
	assert.True(t, posting.Balance.Equal(dec("1008.87")))
	got := f.get(t, acc.ID)
	assert.True(t, got.TotalWithholdings.Equal(dec("0.99")))
	f.assertBalanceInvariant(t, acc.ID)
}

func TestPostInterest_SweepsToLinkedAccount(t *testing.T) {
	f := newFixture(t)
	savings := f.openActive(t, "rd-12", "500", "2024-01-01")
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	_, err := f.svc.UpdateMaturityOptions(f.ctx, acc.ID, deposit.MaturityOptions{
		LinkedAccountID:          &savings.ID,
		TransferInterestToLinked: boolp(true),
	})
	require.NoError(t, err)

	posting, err := f.svc.PostInterest(f.ctx, deposit.PostInterestRequest{AccountID: acc.ID, Amount: dec("9.86"), To: date("2024-01-31")})
	require.NoError(t, err)

	assert.True(t, posting.Swept.Equal(dec("9.86")))
	assert.True(t, posting.Balance.Equal(dec("1000")))
	assert.True(t, f.get(t, acc.ID).InterestEarned.Equal(dec("9.86")))
	assert.True(t, f.get(t, savings.ID).Balance().Equal(dec("509.86")))
	f.assertBalanceInvariant(t, acc.ID)
	f.assertBalanceInvariant(t, savings.ID)
}

func TestPostInterest_SweepTargetMustBeActive(t *testing.T) {
	f := newFixture(t)
	pending := f.submit(t, "rd-12", "500", "2024-01-01")
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")
	_, err := f.svc.UpdateMaturityOptions(f.ctx, acc.ID, deposit.MaturityOptions{
		LinkedAccountID:          &pending.ID,
		TransferInterestToLinked: boolp(true),
	})
	require.NoError(t, err)

	_, err = f.svc.PostInterest(f.ctx, deposit.PostInterestRequest{AccountID: acc.ID, Amount: dec("9.86"), To: date("2024-01-31")})
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)

	// the posting rolled back together with the failed sweep
	got := f.get(t, acc.ID)
	assert.True(t, got.InterestEarned.IsZero())
	assert.True(t, got.LastInterestPostedOn.IsZero())
}

// =============================================================================
// INSTRUCTIONS
// =============================================================================

func TestUpdateMaturityInstructions(t *testing.T) {
	f := newFixture(t)
	target := f.openActive(t, "rd-12", "100", "2024-01-01")
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	_, err := f.svc.UpdateMaturityInstructions(f.ctx, acc.ID, deposit.ClosureTransferToSavings, "")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.svc.UpdateMaturityInstructions(f.ctx, acc.ID, deposit.ClosureTransferToSavings, "nope")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	got, err := f.svc.UpdateMaturityInstructions(f.ctx, acc.ID, deposit.ClosureTransferToSavings, target.ID)
	require.NoError(t, err)
	assert.Equal(t, deposit.ClosureTransferToSavings, got.ClosureType)
	assert.Equal(t, target.ID, got.TransferToAccountID)
	assert.Equal(t, deposit.StatusActive, got.Status)

	pending := f.submit(t, "rd-12", "100", "2024-01-01")
	_, err = f.svc.UpdateMaturityInstructions(f.ctx, pending.ID, deposit.ClosureWithdraw, "")
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestBalanceInvariant_AcrossOperations(t *testing.T) {
	p := monthlyProduct("rd-tax", 12)
	p.WithholdTaxRate = dec("15")
	f := newFixture(t, p)
	acc := f.openActive(t, "rd-tax", "250.50", "2024-01-15")

	f.deposit(t, acc.ID, "250.50", "2024-02-15")
	_, err := f.svc.Withdraw(f.ctx, deposit.WithdrawalRequest{AccountID: acc.ID, Amount: dec("100.25"), Date: date("2024-02-20")})
	require.NoError(t, err)
	calc, err := f.svc.CalculateInterest(f.ctx, acc.ID, date("2024-02-29"), generic.TimePoint{}, generic.TimePoint{})
	require.NoError(t, err)
	_, err = f.svc.PostInterest(f.ctx, deposit.PostInterestRequest{AccountID: acc.ID, Amount: calc.Amount, To: calc.To})
	require.NoError(t, err)
	f.deposit(t, acc.ID, "250.50", "2024-03-15")

	f.assertBalanceInvariant(t, acc.ID)
}

// =============================================================================
// LOCK ORDER
// =============================================================================

// lockLog records every LockAccount made inside a unit of work.
type lockLog struct {
	deposit.TxStore
	locks *[]generic.AccountID
}

func (l lockLog) WithTx(ctx context.Context, fn func(deposit.Store) error) error {
	return l.TxStore.WithTx(ctx, func(st deposit.Store) error {
		return fn(lockingStore{Store: st, locks: l.locks})
	})
}

type lockingStore struct {
	deposit.Store
	locks *[]generic.AccountID
}

func (l lockingStore) LockAccount(ctx context.Context, id generic.AccountID) (*deposit.Account, error) {
	*l.locks = append(*l.locks, id)
	return l.Store.LockAccount(ctx, id)
}

func TestPostInterest_LocksBothAccountsInIDOrder(t *testing.T) {
	// GIVEN: Two accounts each sweeping interest into the other
	// WHEN: Interest is posted on either of them
	// THEN: The smaller id is always locked first

	var locks []generic.AccountID
	logger, _ := test.NewNullLogger()
	svc := deposit.NewService(
		lockLog{TxStore: memory.New(), locks: &locks},
		deposit.StaticCatalog{"rd-12": monthlyProduct("rd-12", 12)},
		deposit.WithLogger(logger),
	)
	f := &fixture{ctx: context.Background(), svc: svc}

	a := f.openActive(t, "rd-12", "1000", "2024-01-01")
	b := f.openActive(t, "rd-12", "1000", "2024-01-01")
	ordered := []generic.AccountID{a.ID, b.ID}
	slices.Sort(ordered)

	_, err := svc.UpdateMaturityOptions(f.ctx, b.ID, deposit.MaturityOptions{LinkedAccountID: &a.ID, TransferInterestToLinked: boolp(true)})
	require.NoError(t, err)
	_, err = svc.UpdateMaturityOptions(f.ctx, a.ID, deposit.MaturityOptions{LinkedAccountID: &b.ID, TransferInterestToLinked: boolp(true)})
	require.NoError(t, err)

	for _, id := range []generic.AccountID{b.ID, a.ID} {
		locks = nil
		_, err := svc.PostInterest(f.ctx, deposit.PostInterestRequest{AccountID: id, Amount: dec("5"), To: date("2024-01-31")})
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(locks), 2)
		assert.Equal(t, ordered, locks[:2], "posting on %s", id)
	}
}
