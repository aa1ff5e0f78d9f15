package deposit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/generic"
)

// threeMonthAccount is fully funded: 1000 on Jan 1, Feb 1 and Mar 1 2024.
// Daily balance interest to Apr 1 is
// (1000x31 + 2000x29 + 3000x31) x 0.12/365 = 59.835... -> 59.84
func threeMonthAccount(t *testing.T, f *fixture) *deposit.Account {
	t.Helper()
	acc := f.openActive(t, "rd-3", "1000", "2024-01-01")
	f.deposit(t, acc.ID, "1000", "2024-02-01")
	f.deposit(t, acc.ID, "1000", "2024-03-01")
	return f.get(t, acc.ID)
}

// =============================================================================
// NORMAL MATURITY
// =============================================================================

func TestProcessMaturity_Withdraw(t *testing.T) {
	// GIVEN: A fully funded 3-month account
	// WHEN: It matures on its maturity date
	// THEN: Interest is settled, the balance is paid out and status is matured

	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc := threeMonthAccount(t, f)
	assert.Equal(t, "2024-04-01", acc.ExpectedMaturityDate.String())

	res, err := f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-04-01")})
	require.NoError(t, err)

	assert.Equal(t, deposit.ClosureWithdraw, res.ClosureType)
	assert.Equal(t, "59.84", res.InterestPosted.String())
	assert.Equal(t, "3059.84", res.MaturityAmount.String())
	assert.Equal(t, "3059.84", res.Payout.String())
	assert.NotEmpty(t, res.TransactionID)

	got := f.get(t, acc.ID)
	assert.Equal(t, deposit.StatusMatured, got.Status)
	assert.Equal(t, "2024-04-01", got.ActualMaturityDate.String())
	assert.True(t, got.MaturedAmount.Equal(dec("3059.84")))
	assert.True(t, got.Balance().IsZero())
	f.assertBalanceInvariant(t, acc.ID)
}

func TestProcessMaturity_BeforeMaturityDate(t *testing.T) {
	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc := threeMonthAccount(t, f)

	_, err := f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-03-31")})

	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
	assert.Equal(t, deposit.StatusActive, f.get(t, acc.ID).Status)
}

func TestProcessMaturity_Twice(t *testing.T) {
	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc := threeMonthAccount(t, f)

	_, err := f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-04-01")})
	require.NoError(t, err)

	_, err = f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-04-02")})
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed)

	txs, err := f.svc.ListTransactions(f.ctx, acc.ID)
	require.NoError(t, err)
	payouts := 0
	for _, tx := range txs {
		if tx.Type == generic.TxMaturityPayout {
			payouts++
		}
	}
	assert.Equal(t, 1, payouts)
}

func TestProcessMaturity_PendingAccount(t *testing.T) {
	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc := f.submit(t, "rd-3", "1000", "2024-01-01")

	_, err := f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-04-01")})
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
}

func TestProcessMaturity_TransferToSavingsThenClose(t *testing.T) {
	// GIVEN: A matured account instructed to transfer to another account
	// WHEN: Maturity is processed and the account closed
	// THEN: The target receives the payout and the source ends closed at zero

	f := newFixture(t, monthlyProduct("rd-3", 3), monthlyProduct("rd-12", 12))
	savings := f.openActive(t, "rd-12", "100", "2024-01-01")
	acc := threeMonthAccount(t, f)
	_, err := f.svc.UpdateMaturityInstructions(f.ctx, acc.ID, deposit.ClosureTransferToSavings, savings.ID)
	require.NoError(t, err)

	res, err := f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-04-01")})
	require.NoError(t, err)

	assert.Equal(t, savings.ID, res.TransferredTo)
	assert.True(t, f.get(t, savings.ID).Balance().Equal(dec("3159.84")))

	_, err = f.svc.CloseAccount(f.ctx, acc.ID, date("2024-03-31"))
	assert.ErrorIs(t, err, generic.ErrValidation, "before maturity")

	closed, err := f.svc.CloseAccount(f.ctx, acc.ID, date("2024-04-02"))
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusClosed, closed.Status)
	assert.Equal(t, "2024-04-02", closed.ClosedOn.String())

	f.assertBalanceInvariant(t, acc.ID)
	f.assertBalanceInvariant(t, savings.ID)
}

func TestProcessMaturity_CollectsPenaltyCharges(t *testing.T) {
	// GIVEN: A 3-month account penalised 25 for paying installment 2 late
	// WHEN: It matures
	// THEN: The charge is collected before the payout and the account can close

	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc := f.openActive(t, "rd-3", "1000", "2024-01-01")
	sum, err := f.svc.ApplyPenalties(f.ctx, date("2024-02-10"))
	require.NoError(t, err)
	require.Len(t, sum.Penalties, 1)
	f.deposit(t, acc.ID, "1000", "2024-02-15")
	f.deposit(t, acc.ID, "1000", "2024-03-01")
	require.True(t, f.get(t, acc.ID).ChargesOutstanding.Equal(dec("25")))

	res, err := f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-04-01")})
	require.NoError(t, err)

	assert.True(t, res.ChargesCollected.Equal(dec("25")), "collected %s", res.ChargesCollected)
	assert.True(t, res.Payout.Equal(res.MaturityAmount.Sub(dec("25"))), "payout %s", res.Payout)

	got := f.get(t, acc.ID)
	assert.True(t, got.ChargesOutstanding.IsZero())
	assert.True(t, got.TotalWithholdings.Equal(dec("25")))
	assert.True(t, got.Balance().IsZero())
	f.assertBalanceInvariant(t, acc.ID)

	penalties, err := f.svc.ListPenalties(f.ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, penalties, 1)
	charge, err := f.store.GetCharge(f.ctx, penalties[0].ChargeID)
	require.NoError(t, err)
	assert.True(t, charge.AmountOutstanding.IsZero())
	assert.False(t, charge.Waived)

	_, err = f.svc.CloseAccount(f.ctx, acc.ID, date("2024-04-02"))
	assert.NoError(t, err)
}

func TestCloseAccount_BlockedByUnpaidCharges(t *testing.T) {
	// GIVEN: A 10-a-month account whose 25 penalty exceeds what it holds
	// WHEN: It matures
	// THEN: The whole balance goes to the charge, the rest stays owed and
	//       closing waits until the penalty is waived

	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc := f.openActive(t, "rd-3", "10", "2024-01-01")
	sum, err := f.svc.ApplyPenalties(f.ctx, date("2024-02-10"))
	require.NoError(t, err)
	require.Len(t, sum.Penalties, 1)

	res, err := f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-04-01")})
	require.NoError(t, err)
	assert.True(t, res.ChargesCollected.Equal(res.MaturityAmount))
	assert.True(t, res.Payout.IsZero())
	assert.Empty(t, res.TransactionID)

	owed := f.get(t, acc.ID).ChargesOutstanding
	assert.True(t, owed.Equal(dec("25").Sub(res.ChargesCollected)), "owed %s", owed)

	_, err = f.svc.CloseAccount(f.ctx, acc.ID, date("2024-04-02"))
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
	assert.Equal(t, deposit.StatusMatured, f.get(t, acc.ID).Status)

	_, err = f.svc.WaivePenalty(f.ctx, sum.Penalties[0].PenaltyID, "uncollectable", date("2024-04-02"))
	require.NoError(t, err)
	closed, err := f.svc.CloseAccount(f.ctx, acc.ID, date("2024-04-02"))
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusClosed, closed.Status)
}

func TestCloseAccount_RequiresMatured(t *testing.T) {
	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	_, err := f.svc.CloseAccount(f.ctx, acc.ID, date("2024-02-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
}

// =============================================================================
// RENEWAL
// =============================================================================

func TestRenewAccount(t *testing.T) {
	// GIVEN: A fully funded 3-month account at the end of its term
	// WHEN: It is renewed
	// THEN: The settled balance carries into a new term with continued numbering

	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc := threeMonthAccount(t, f)

	res, err := f.svc.RenewAccount(f.ctx, acc.ID, date("2024-04-01"))
	require.NoError(t, err)

	assert.Equal(t, "59.84", res.InterestPosted.String())
	assert.Equal(t, "3059.84", res.CarriedBalance.String())
	assert.Equal(t, "2024-07-01", res.NewMaturityDate.String())
	assert.Equal(t, 3, res.Installments)
	assert.Equal(t, 1, res.RenewalCount)
	assert.True(t, res.ExpectedMaturityAmount.GreaterThan(res.CarriedBalance))

	got := f.get(t, acc.ID)
	assert.Equal(t, deposit.StatusActive, got.Status)
	assert.True(t, got.TotalDeposits.Equal(dec("3059.84")))
	assert.True(t, got.InterestEarned.IsZero())
	assert.Equal(t, "2024-04-01", got.TermStartDate.String())
	assert.Equal(t, "2024-04-01", got.LastInterestPostedOn.String())

	insts, err := f.svc.ListInstallments(f.ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, insts, 6)
	for _, inst := range insts[:3] {
		assert.True(t, inst.Completed)
	}
	assert.Equal(t, 4, insts[3].Number)
	assert.Equal(t, "2024-04-01", insts[3].DueDate.String())
	assert.Equal(t, 6, insts[5].Number)
	assert.False(t, insts[5].Completed)

	// deposits continue against the new schedule
	dep := f.deposit(t, acc.ID, "1000", "2024-04-01")
	require.Len(t, dep.Allocations, 1)
	assert.Equal(t, 4, dep.Allocations[0].Number)
	f.assertBalanceInvariant(t, acc.ID)
}

func TestProcessMaturity_RenewInstruction(t *testing.T) {
	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc := threeMonthAccount(t, f)
	_, err := f.svc.UpdateMaturityInstructions(f.ctx, acc.ID, deposit.ClosureRenew, "")
	require.NoError(t, err)

	res, err := f.svc.ProcessMaturity(f.ctx, deposit.MaturityRequest{AccountID: acc.ID, MaturedOn: date("2024-04-01")})
	require.NoError(t, err)

	require.NotNil(t, res.Renewal)
	assert.True(t, res.Payout.IsZero())
	assert.Equal(t, "2024-07-01", res.Renewal.NewMaturityDate.String())
	assert.Equal(t, deposit.StatusActive, f.get(t, acc.ID).Status)
}

func TestRenewAccount_NotPermitted(t *testing.T) {
	f := newFixture(t, monthlyProduct("rd-3", 3))
	acc, err := f.svc.CreateAccount(f.ctx, deposit.CreateAccountRequest{
		ProductID: "rd-3", ClientID: "c", DepositAmount: dec("1000"), SubmittedOn: date("2024-01-01"),
		AllowRenewal: boolp(false),
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveAccount(f.ctx, acc.ID, date("2024-01-01"), "")
	require.NoError(t, err)
	f.deposit(t, acc.ID, "1000", "2024-01-01")

	_, err = f.svc.RenewAccount(f.ctx, acc.ID, date("2024-04-01"))
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)

	_, err = f.svc.UpdateMaturityInstructions(f.ctx, acc.ID, deposit.ClosureRenew, "")
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
}

// =============================================================================
// PREMATURE CLOSURE
// =============================================================================

func TestCalculatePrematureClosure_PenaltyOnPostedInterest(t *testing.T) {
	// GIVEN: 1000 deposited and 50 interest posted through Jan 31
	// WHEN: A closure on Jan 31 is quoted with a 20% penalty on interest
	// THEN: penalty 10, payout 1040

	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")
	_, err := f.svc.PostInterest(f.ctx, deposit.PostInterestRequest{AccountID: acc.ID, Amount: dec("50"), To: date("2024-01-31")})
	require.NoError(t, err)

	q, err := f.svc.CalculatePrematureClosure(f.ctx, acc.ID, date("2024-01-31"))
	require.NoError(t, err)

	assert.True(t, q.InterestAccrued.IsZero())
	assert.True(t, q.TotalInterest.Equal(dec("50")))
	assert.True(t, q.PenaltyAmount.Equal(dec("10")), "got %s", q.PenaltyAmount)
	assert.True(t, q.Payout.Equal(dec("1040")), "got %s", q.Payout)
	assert.Equal(t, deposit.BaseInterest, q.PenaltyBase)
	assert.Equal(t, 30, q.DaysCompleted)
	assert.Equal(t, 366, q.TotalTermDays)

	// the quote writes nothing
	assert.Equal(t, deposit.StatusActive, f.get(t, acc.ID).Status)
}

func TestCalculatePrematureClosure_IncludesAccruedInterest(t *testing.T) {
	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	q, err := f.svc.CalculatePrematureClosure(f.ctx, acc.ID, date("2024-01-31"))
	require.NoError(t, err)

	// accrued 9.86, penalty 20% = 1.972 -> 1.97
	assert.Equal(t, "9.86", q.InterestAccrued.String())
	assert.Equal(t, "1.97", q.PenaltyAmount.String())
	assert.Equal(t, "1007.89", q.Payout.String())
}

func TestCalculatePrematureClosure_PrincipalBase(t *testing.T) {
	p := monthlyProduct("rd-p", 12)
	p.PrematureClosure = deposit.PrematureClosurePolicy{PenaltyApplicable: true, PenaltyRate: dec("2"), ApplyOn: deposit.BasePrincipal}
	f := newFixture(t, p)
	acc := f.openActive(t, "rd-p", "1000", "2024-01-01")

	q, err := f.svc.CalculatePrematureClosure(f.ctx, acc.ID, date("2024-01-01"))
	require.NoError(t, err)

	assert.True(t, q.PenaltyAmount.Equal(dec("20")))
	assert.True(t, q.Payout.Equal(dec("980")))
}

func TestProcessPrematureClosure(t *testing.T) {
	// GIVEN: An active account with posted interest
	// WHEN: It is closed early
	// THEN: Penalty and payout leave the account, it ends at zero and is terminal

	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")
	_, err := f.svc.PostInterest(f.ctx, deposit.PostInterestRequest{AccountID: acc.ID, Amount: dec("50"), To: date("2024-01-31")})
	require.NoError(t, err)

	res, err := f.svc.ProcessPrematureClosure(f.ctx, deposit.PrematureClosureRequest{
		AccountID: acc.ID, ClosedOn: date("2024-01-31"), Reason: "customer request",
	})
	require.NoError(t, err)

	assert.True(t, res.Quote.PenaltyAmount.Equal(dec("10")))
	assert.True(t, res.Quote.Payout.Equal(dec("1040")))
	assert.NotEmpty(t, res.TransactionID)
	assert.NotEmpty(t, res.HistoryID)

	got := f.get(t, acc.ID)
	assert.Equal(t, deposit.StatusPrematurelyClosed, got.Status)
	assert.Equal(t, "2024-01-31", got.ClosedOn.String())
	assert.True(t, got.Balance().IsZero())
	f.assertBalanceInvariant(t, acc.ID)

	history := f.store.PrematureClosures(acc.ID)
	require.Len(t, history, 1)
	assert.Equal(t, "customer request", history[0].Reason)
	assert.True(t, history[0].Payout.Equal(dec("1040")))

	// terminal: nothing else moves money
	_, err = f.svc.Deposit(f.ctx, deposit.DepositRequest{AccountID: acc.ID, Amount: dec("100"), Date: date("2024-02-01")})
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
	_, err = f.svc.ProcessPrematureClosure(f.ctx, deposit.PrematureClosureRequest{AccountID: acc.ID, ClosedOn: date("2024-02-01")})
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
}

func TestProcessPrematureClosure_MatchesQuoteWithSweepAndCharges(t *testing.T) {
	// GIVEN: An account sweeping interest to a linked account, with a 25
	//        penalty charge outstanding
	// WHEN: It is quoted and then closed early on the same day
	// THEN: The quote names the swept interest and the charge, and the closure
	//       pays out exactly the quoted amount

	f := newFixture(t)
	savings := f.openActive(t, "rd-12", "500", "2024-01-01")
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")
	_, err := f.svc.UpdateMaturityOptions(f.ctx, acc.ID, deposit.MaturityOptions{
		LinkedAccountID:          &savings.ID,
		TransferInterestToLinked: boolp(true),
	})
	require.NoError(t, err)
	_, err = f.svc.ApplyPenalties(f.ctx, date("2024-02-10"))
	require.NoError(t, err)
	savingsBefore := f.get(t, savings.ID).Balance()

	q, err := f.svc.CalculatePrematureClosure(f.ctx, acc.ID, date("2024-02-10"))
	require.NoError(t, err)
	require.True(t, q.InterestAccrued.IsPositive())
	assert.True(t, q.InterestSwept.Equal(q.InterestAccrued))
	assert.True(t, q.Charges.Equal(dec("25")))
	assert.True(t, q.Payout.Equal(dec("1000").Sub(q.PenaltyAmount).Sub(dec("25"))), "payout %s", q.Payout)

	res, err := f.svc.ProcessPrematureClosure(f.ctx, deposit.PrematureClosureRequest{AccountID: acc.ID, ClosedOn: date("2024-02-10")})
	require.NoError(t, err)
	assert.True(t, res.Quote.InterestSwept.Equal(q.InterestSwept))
	assert.True(t, res.Quote.PenaltyAmount.Equal(q.PenaltyAmount))
	assert.True(t, res.Quote.Charges.Equal(q.Charges))
	assert.True(t, res.Quote.Payout.Equal(q.Payout), "paid %s, quoted %s", res.Quote.Payout, q.Payout)

	got := f.get(t, acc.ID)
	assert.True(t, got.Balance().IsZero())
	assert.True(t, got.ChargesOutstanding.IsZero())
	assert.True(t, f.get(t, savings.ID).Balance().Equal(savingsBefore.Add(q.InterestSwept)))
	f.assertBalanceInvariant(t, acc.ID)
	f.assertBalanceInvariant(t, savings.ID)
}

func TestProcessPrematureClosure_NotPermitted(t *testing.T) {
	f := newFixture(t)
	acc, err := f.svc.CreateAccount(f.ctx, deposit.CreateAccountRequest{
		ProductID: "rd-12", ClientID: "c", DepositAmount: dec("1000"), SubmittedOn: date("2024-01-01"),
		AllowPrematureClosure: boolp(false),
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveAccount(f.ctx, acc.ID, date("2024-01-01"), "")
	require.NoError(t, err)
	f.deposit(t, acc.ID, "1000", "2024-01-01")

	_, err = f.svc.ProcessPrematureClosure(f.ctx, deposit.PrematureClosureRequest{AccountID: acc.ID, ClosedOn: date("2024-02-01")})
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
	assert.Equal(t, deposit.StatusActive, f.get(t, acc.ID).Status)
}

func TestProcessPrematureClosure_RejectsRenew(t *testing.T) {
	f := newFixture(t)
	acc := f.openActive(t, "rd-12", "1000", "2024-01-01")

	_, err := f.svc.ProcessPrematureClosure(f.ctx, deposit.PrematureClosureRequest{
		AccountID: acc.ID, ClosedOn: date("2024-02-01"), ClosureType: deposit.ClosureRenew,
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
}
