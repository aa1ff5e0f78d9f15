/*
maturity.go - Maturity, renewal and premature closure

PURPOSE:
  The three ways a term ends. All of them first settle interest up to the
  closing date so the payout includes everything earned, then empty the
  account through a ledger row so the balance ends where the totals say.

NORMAL MATURITY:
  maturityAmount = totalDeposits + interestEarned (gross)
  charges        = min(chargesOutstanding, balance), collected as a withholding
  payout         = account balance after charges
  withdraw             -> maturity_payout row on the account
  transfer_to_savings  -> maturity_payout row + deposit on the target
  renew                -> handled as a renewal

RENEWAL:
  The balance at renewal becomes the opening deposit total of the new term.
  Interest, withdrawal and withholding totals restart at zero. Incomplete
  installments of the old term are force-completed and a fresh schedule is
  numbered after the last one.

PREMATURE CLOSURE:
  interest = posted + accrued to the closure date
  swept    = accrued - withholding tax, when interest goes to the linked account
  penalty  = rate% x base (principal | interest | principal_and_interest)
  charges  = outstanding penalty charges, capped at what is left
  payout   = balance + accrued - withholding tax - swept - penalty - charges
  The penalty and the charges leave the account as withholding rows, the
  payout as a premature_closure row, so the account closes at zero.

CHARGES:
  Unwaived penalty charges are settled from the balance before any payout.
  What the balance cannot cover stays outstanding and blocks closing until
  it is waived.
*/
package deposit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// NORMAL MATURITY
// =============================================================================

type MaturityRequest struct {
	AccountID           generic.AccountID
	MaturedOn           generic.TimePoint
	ClosureType         ClosureType       // empty = account instruction
	TransferToAccountID generic.AccountID // empty = account instruction
}

type MaturityResult struct {
	AccountID      generic.AccountID
	ClosureType    ClosureType
	MaturityAmount   decimal.Decimal
	ChargesCollected decimal.Decimal
	Payout           decimal.Decimal
	InterestPosted   decimal.Decimal
	TransactionID    generic.TransactionID
	TransferredTo  generic.AccountID
	MaturedOn      generic.TimePoint
	Renewal        *RenewalResult
}

// ProcessMaturity settles the account at the end of its term.
func (s *Service) ProcessMaturity(ctx context.Context, req MaturityRequest) (MaturityResult, error) {
	if req.MaturedOn.IsZero() {
		return MaturityResult{}, &generic.FieldError{Field: "matured_on", Message: "required"}
	}
	if req.ClosureType != "" && !req.ClosureType.Valid() {
		return MaturityResult{}, &generic.FieldError{Field: "closure_type", Message: "unknown closure type " + string(req.ClosureType)}
	}

	targets := func(acc *Account) []generic.AccountID {
		return acc.payoutTargets(req.ClosureType, req.TransferToAccountID)
	}
	var res MaturityResult
	_, err := s.mutateWith(ctx, req.AccountID, targets, func(st Store, acc *Account, p *Product) error {
		if acc.Status == StatusMatured {
			return &generic.AlreadyProcessedError{What: "maturity of account " + string(acc.ID)}
		}
		if _, err := acc.guard(ActMature); err != nil {
			return err
		}
		if req.MaturedOn.Before(acc.ExpectedMaturityDate) {
			return &generic.PolicyViolationError{AccountID: acc.ID, Rule: "term ends on " + acc.ExpectedMaturityDate.String()}
		}

		closure := req.ClosureType
		if closure == "" {
			closure = acc.ClosureType
		}
		if closure == ClosureRenew {
			renewal, err := s.renew(ctx, st, acc, p, req.MaturedOn)
			if err != nil {
				return err
			}
			res = MaturityResult{
				AccountID: acc.ID, ClosureType: closure, MaturedOn: req.MaturedOn,
				MaturityAmount: renewal.CarriedBalance, ChargesCollected: decimal.Zero, Payout: decimal.Zero,
				InterestPosted: renewal.InterestPosted, Renewal: &renewal,
			}
			return nil
		}

		posted, err := s.settleInterest(ctx, st, acc, p, req.MaturedOn)
		if err != nil {
			return err
		}
		collected, err := s.collectCharges(ctx, st, acc, req.MaturedOn)
		if err != nil {
			return err
		}

		res = MaturityResult{
			AccountID:        acc.ID,
			ClosureType:      closure,
			MaturityAmount:   acc.TotalDeposits.Add(acc.InterestEarned),
			ChargesCollected: collected,
			Payout:           acc.Balance(),
			InterestPosted:   posted.Amount,
			MaturedOn:        req.MaturedOn,
		}
		if res.Payout.IsPositive() {
			tx, err := s.payOut(ctx, st, acc, generic.TxMaturityPayout, closure, req.TransferToAccountID, res.Payout, req.MaturedOn, "maturity")
			if err != nil {
				return err
			}
			res.TransactionID = tx.ID
			if closure == ClosureTransferToSavings {
				res.TransferredTo = generic.AccountID(tx.ReferenceID)
			}
		}

		acc.MaturedAmount = res.MaturityAmount
		_, err = acc.transition(ActMature, req.MaturedOn)
		return err
	})
	if err != nil {
		return MaturityResult{}, err
	}

	s.log.WithFields(logrus.Fields{
		"account_id": res.AccountID,
		"closure":    res.ClosureType,
		"payout":     res.Payout.String(),
		"charges":    res.ChargesCollected.String(),
		"interest":   res.InterestPosted.String(),
	}).Info("account matured")
	return res, nil
}

// payOut empties amount from the account, either as a plain payout row or
// as a transfer into the target account.
func (s *Service) payOut(ctx context.Context, st Store, acc *Account, typ generic.TransactionType, closure ClosureType, target generic.AccountID, amount decimal.Decimal, on generic.TimePoint, reason string) (generic.Transaction, error) {
	if closure == ClosureTransferToSavings {
		if target == "" {
			target = acc.TransferToAccountID
		}
		return s.transfer(ctx, st, acc, target, typ, amount, on, reason)
	}
	return s.record(ctx, st, acc, generic.Transaction{Type: typ, Amount: amount, Date: on, Reason: reason})
}

// collectCharges settles unwaived penalty charges out of the balance, oldest
// first, as one withholding row. It returns the amount collected.
func (s *Service) collectCharges(ctx context.Context, st Store, acc *Account, on generic.TimePoint) (decimal.Decimal, error) {
	due := decimal.Min(acc.ChargesOutstanding, acc.Balance())
	if !due.IsPositive() {
		return decimal.Zero, nil
	}
	penalties, err := st.ListPenalties(ctx, acc.ID)
	if err != nil {
		return decimal.Zero, err
	}

	left := due
	for _, p := range penalties {
		if p.Waived || !left.IsPositive() {
			continue
		}
		charge, err := st.GetCharge(ctx, p.ChargeID)
		if err != nil {
			return decimal.Zero, err
		}
		if charge.Waived || !charge.AmountOutstanding.IsPositive() {
			continue
		}
		paid := decimal.Min(charge.AmountOutstanding, left)
		charge.AmountOutstanding = charge.AmountOutstanding.Sub(paid)
		if err := st.UpdateCharge(ctx, *charge); err != nil {
			return decimal.Zero, err
		}
		left = left.Sub(paid)
	}

	if _, err := s.record(ctx, st, acc, generic.Transaction{
		Type: generic.TxWithholding, Amount: due, Date: on, Reason: "penalty charges collected",
	}); err != nil {
		return decimal.Zero, err
	}
	acc.ChargesOutstanding = acc.ChargesOutstanding.Sub(due)
	return due, nil
}

// CloseAccount closes a matured account once nothing is left on it.
func (s *Service) CloseAccount(ctx context.Context, id generic.AccountID, on generic.TimePoint) (*Account, error) {
	acc, err := s.mutate(ctx, id, func(_ Store, acc *Account) error {
		if _, err := acc.guard(ActClose); err != nil {
			return err
		}
		if !acc.Balance().IsZero() {
			return &generic.PolicyViolationError{AccountID: acc.ID, Rule: "balance " + acc.Currency.Format(acc.Balance()) + " must be paid out before closing"}
		}
		if acc.ChargesOutstanding.IsPositive() {
			return &generic.PolicyViolationError{AccountID: acc.ID, Rule: "charges " + acc.Currency.Format(acc.ChargesOutstanding) + " must be paid or waived before closing"}
		}
		if on.IsZero() || on.Before(acc.ActualMaturityDate) {
			return &generic.FieldError{Field: "closed_on", Message: "must be on or after maturity date " + acc.ActualMaturityDate.String()}
		}
		_, err := acc.transition(ActClose, on)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"account_id": id, "closed_on": on.String()}).Info("account closed")
	return acc, nil
}

// =============================================================================
// RENEWAL
// =============================================================================

type RenewalResult struct {
	AccountID              generic.AccountID
	RenewedOn              generic.TimePoint
	InterestPosted         decimal.Decimal
	CarriedBalance         decimal.Decimal
	NewMaturityDate        generic.TimePoint
	ExpectedMaturityAmount decimal.Decimal
	Installments           int
	RenewalCount           int
}

// RenewAccount starts a new term carrying the current balance forward.
func (s *Service) RenewAccount(ctx context.Context, id generic.AccountID, on generic.TimePoint) (RenewalResult, error) {
	if on.IsZero() {
		return RenewalResult{}, &generic.FieldError{Field: "renewal_date", Message: "required"}
	}
	var res RenewalResult
	_, err := s.mutateWith(ctx, id, (*Account).sweepTargets, func(st Store, acc *Account, p *Product) error {
		var err error
		res, err = s.renew(ctx, st, acc, p, on)
		return err
	})
	if err != nil {
		return RenewalResult{}, err
	}
	s.log.WithFields(logrus.Fields{
		"account_id": id,
		"carried":    res.CarriedBalance.String(),
		"maturity":   res.NewMaturityDate.String(),
		"renewals":   res.RenewalCount,
	}).Info("account renewed")
	return res, nil
}

func (s *Service) renew(ctx context.Context, st Store, acc *Account, p *Product, on generic.TimePoint) (RenewalResult, error) {
	if _, err := acc.guard(ActRenew); err != nil {
		return RenewalResult{}, err
	}
	if !acc.AllowRenewal {
		return RenewalResult{}, &generic.PolicyViolationError{AccountID: acc.ID, Rule: "renewal is not permitted"}
	}
	if on.Before(acc.interestFrom()) {
		return RenewalResult{}, &generic.FieldError{Field: "renewal_date", Message: "before last interest posting"}
	}
	posted, err := s.settleInterest(ctx, st, acc, p, on)
	if err != nil {
		return RenewalResult{}, err
	}

	schedule, err := st.ListInstallments(ctx, acc.ID)
	if err != nil {
		return RenewalResult{}, err
	}
	for _, inst := range schedule {
		if inst.Completed {
			continue
		}
		inst.Completed = true
		inst.ObligationsMetOn = on
		if err := st.UpdateInstallment(ctx, inst); err != nil {
			return RenewalResult{}, err
		}
	}

	carried := acc.Balance()
	acc.TotalDeposits = carried
	acc.InterestEarned = decimal.Zero
	acc.TotalWithdrawals = decimal.Zero
	acc.TotalWithholdings = decimal.Zero

	n := generic.ExpectedNumberOfDeposits(acc.DepositTerm, acc.RecurringFrequency)
	fresh := GenerateSchedule(acc.ID, on, acc.RecurringFrequency, n, lastNumber(schedule)+1, acc.DepositAmount)
	if err := st.SaveInstallments(ctx, fresh); err != nil {
		return RenewalResult{}, err
	}

	acc.TermStartDate = on
	acc.LastInterestPostedOn = on
	acc.ExpectedMaturityDate = acc.DepositTerm.AddTo(on, 1)
	acc.ExpectedMaturityAmount = acc.Currency.Round(generic.MaturityAmount(generic.MaturityInput{
		Opening:            carried,
		DepositAmount:      acc.DepositAmount,
		NumberOfDeposits:   n,
		RecurringFrequency: acc.RecurringFrequency,
		Term:               acc.DepositTerm,
		AnnualRate:         acc.NominalAnnualRate,
		Compounding:        acc.Compounding,
	}))
	acc.Overdue = OverdueSummary{Amount: decimal.Zero, AsOf: on}
	acc.RenewalCount++
	if _, err := acc.transition(ActRenew, on); err != nil {
		return RenewalResult{}, err
	}

	return RenewalResult{
		AccountID:              acc.ID,
		RenewedOn:              on,
		InterestPosted:         posted.Amount,
		CarriedBalance:         carried,
		NewMaturityDate:        acc.ExpectedMaturityDate,
		ExpectedMaturityAmount: acc.ExpectedMaturityAmount,
		Installments:           n,
		RenewalCount:           acc.RenewalCount,
	}, nil
}

// =============================================================================
// PREMATURE CLOSURE
// =============================================================================

// PrematureClosureQuote is the full payout breakdown for closing on a date.
type PrematureClosureQuote struct {
	AccountID       generic.AccountID
	ClosureDate     generic.TimePoint
	DaysCompleted   int
	TotalTermDays   int
	TotalDeposits   decimal.Decimal
	InterestPosted  decimal.Decimal
	InterestAccrued decimal.Decimal
	TotalInterest   decimal.Decimal
	WithholdingTax  decimal.Decimal
	InterestSwept   decimal.Decimal // net accrued interest moved to the linked account
	PenaltyRate     decimal.Decimal
	PenaltyBase     PenaltyBase
	PenaltyAmount   decimal.Decimal
	Charges         decimal.Decimal // outstanding penalty charges collected
	Payout          decimal.Decimal
}

// CalculatePrematureClosure is the read-only projection of a premature closure.
func (s *Service) CalculatePrematureClosure(ctx context.Context, id generic.AccountID, on generic.TimePoint) (PrematureClosureQuote, error) {
	if on.IsZero() {
		return PrematureClosureQuote{}, &generic.FieldError{Field: "closure_date", Message: "required"}
	}
	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return PrematureClosureQuote{}, err
	}
	p, err := s.product(ctx, acc)
	if err != nil {
		return PrematureClosureQuote{}, err
	}
	txs, err := s.store.ListTransactions(ctx, id)
	if err != nil {
		return PrematureClosureQuote{}, err
	}
	return quotePrematureClosure(acc, p, txs, on)
}

func quotePrematureClosure(acc *Account, p *Product, txs []generic.Transaction, on generic.TimePoint) (PrematureClosureQuote, error) {
	if _, err := acc.guard(ActPrematureClose); err != nil {
		return PrematureClosureQuote{}, err
	}
	if !acc.AllowPrematureClosure {
		return PrematureClosureQuote{}, &generic.PolicyViolationError{AccountID: acc.ID, Rule: "premature closure is not permitted"}
	}
	from := acc.interestFrom()
	if on.Before(from) {
		return PrematureClosureQuote{}, &generic.FieldError{Field: "closure_date", Message: "before " + from.String()}
	}

	accrued := decimal.Zero
	if on.After(from) {
		calc, err := CalculateInterest(acc, txs, from, on)
		if err != nil {
			return PrematureClosureQuote{}, err
		}
		accrued = calc.Amount
	}
	tax := decimal.Zero
	if p.WithholdTaxRate.IsPositive() {
		tax = acc.Currency.Round(generic.Percent(accrued, p.WithholdTaxRate))
	}

	q := PrematureClosureQuote{
		AccountID:       acc.ID,
		ClosureDate:     on,
		DaysCompleted:   generic.DaysBetween(acc.TermStartDate, on),
		TotalTermDays:   generic.DaysBetween(acc.TermStartDate, acc.ExpectedMaturityDate),
		TotalDeposits:   acc.TotalDeposits,
		InterestPosted:  acc.InterestEarned,
		InterestAccrued: accrued,
		TotalInterest:   acc.InterestEarned.Add(accrued),
		WithholdingTax:  tax,
		InterestSwept:   decimal.Zero,
		PenaltyRate:     decimal.Zero,
		PenaltyAmount:   decimal.Zero,
		Charges:         decimal.Zero,
	}
	if len(acc.sweepTargets()) > 0 && accrued.Sub(tax).IsPositive() {
		q.InterestSwept = accrued.Sub(tax)
	}

	available := acc.Balance().Add(accrued).Sub(tax).Sub(q.InterestSwept)
	pc := p.PrematureClosure
	if pc.PenaltyApplicable && pc.PenaltyRate.IsPositive() {
		base := pc.ApplyOn
		if base == "" {
			base = BaseInterest
		}
		var amount decimal.Decimal
		switch base {
		case BasePrincipal:
			amount = q.TotalDeposits
		case BasePrincipalAndInterest:
			amount = q.TotalDeposits.Add(q.TotalInterest)
		default:
			amount = q.TotalInterest
		}
		q.PenaltyRate = pc.PenaltyRate
		q.PenaltyBase = base
		q.PenaltyAmount = decimal.Min(acc.Currency.Round(generic.Percent(amount, pc.PenaltyRate)), available)
	}
	available = available.Sub(q.PenaltyAmount)
	if acc.ChargesOutstanding.IsPositive() {
		q.Charges = decimal.Min(acc.ChargesOutstanding, available)
	}
	q.Payout = available.Sub(q.Charges)
	return q, nil
}

type PrematureClosureRequest struct {
	AccountID           generic.AccountID
	ClosedOn            generic.TimePoint
	Reason              string
	ClosureType         ClosureType // withdraw (default) or transfer_to_savings
	TransferToAccountID generic.AccountID
}

type PrematureClosureResult struct {
	Quote         PrematureClosureQuote
	TransactionID generic.TransactionID
	HistoryID     string
}

// ProcessPrematureClosure closes an active account before its maturity date.
func (s *Service) ProcessPrematureClosure(ctx context.Context, req PrematureClosureRequest) (PrematureClosureResult, error) {
	if req.ClosedOn.IsZero() {
		return PrematureClosureResult{}, &generic.FieldError{Field: "closed_on", Message: "required"}
	}
	closure := req.ClosureType
	if closure == "" {
		closure = ClosureWithdraw
	}
	if closure != ClosureWithdraw && closure != ClosureTransferToSavings {
		return PrematureClosureResult{}, &generic.FieldError{Field: "closure_type", Message: "must be withdraw or transfer_to_savings"}
	}

	targets := func(acc *Account) []generic.AccountID {
		return acc.payoutTargets(closure, req.TransferToAccountID)
	}
	var res PrematureClosureResult
	_, err := s.mutateWith(ctx, req.AccountID, targets, func(st Store, acc *Account, p *Product) error {
		txs, err := st.ListTransactions(ctx, acc.ID)
		if err != nil {
			return err
		}
		q, err := quotePrematureClosure(acc, p, txs, req.ClosedOn)
		if err != nil {
			return err
		}

		if q.InterestAccrued.IsPositive() {
			if _, err := s.postInterest(ctx, st, acc, p, q.InterestAccrued, req.ClosedOn); err != nil {
				return err
			}
		}
		if q.PenaltyAmount.IsPositive() {
			if _, err := s.record(ctx, st, acc, generic.Transaction{
				Type: generic.TxWithholding, Amount: q.PenaltyAmount, Date: req.ClosedOn, Reason: "premature closure penalty",
			}); err != nil {
				return err
			}
		}
		if _, err := s.collectCharges(ctx, st, acc, req.ClosedOn); err != nil {
			return err
		}
		if !acc.Balance().Equal(q.Payout) {
			return fmt.Errorf("premature closure of %s: balance %s differs from quoted payout %s", acc.ID, acc.Balance(), q.Payout)
		}
		if q.Payout.IsPositive() {
			tx, err := s.payOut(ctx, st, acc, generic.TxPrematureClosure, closure, req.TransferToAccountID, q.Payout, req.ClosedOn, req.Reason)
			if err != nil {
				return err
			}
			res.TransactionID = tx.ID
		}

		h := PrematureClosureHistory{
			ID:             s.newID(),
			AccountID:      acc.ID,
			ClosedOn:       req.ClosedOn,
			DaysCompleted:  q.DaysCompleted,
			TotalTermDays:  q.TotalTermDays,
			TotalDeposits:  q.TotalDeposits,
			InterestEarned: q.TotalInterest,
			PenaltyAmount:  q.PenaltyAmount,
			Payout:         q.Payout,
			ClosureType:    closure,
			Reason:         req.Reason,
			TransactionID:  res.TransactionID,
		}
		if err := st.SavePrematureClosure(ctx, h); err != nil {
			return err
		}
		res.Quote = q
		res.HistoryID = h.ID
		_, err = acc.transition(ActPrematureClose, req.ClosedOn)
		return err
	})
	if err != nil {
		return PrematureClosureResult{}, err
	}

	s.log.WithFields(logrus.Fields{
		"account_id": req.AccountID,
		"penalty":    res.Quote.PenaltyAmount.String(),
		"payout":     res.Quote.Payout.String(),
		"days":       res.Quote.DaysCompleted,
	}).Info("account prematurely closed")
	return res, nil
}
