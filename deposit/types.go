/*
Package deposit implements the recurring-deposit core.

PURPOSE:
  A recurring deposit is a savings contract: the client pays a fixed amount
  every period for a term, earns interest on the running balance, pays
  penalties for missed installments and receives a payout at maturity or
  on premature closure. This package owns the account model and the four
  pieces that must agree with the running balance:

    lifecycle.go - the status state machine every operation goes through
    interest.go  - interest accrual over balance history
    schedule.go  - installment generation, deposit allocation, overdue scan
    penalty.go   - tiered, idempotent missed-installment penalties
    maturity.go  - maturity, renewal and premature-closure payouts

  service.go exposes one method per operation and runs each inside a single
  store transaction; jobs.go holds the batch tracking/penalty runs.

BALANCE INVARIANT:
  Balance = TotalDeposits + InterestEarned - TotalWithdrawals - TotalWithholdings
  and never negative for an active account. Totals move only together with
  the ledger transaction that explains them.
*/
package deposit

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPendingApproval   Status = "pending_approval"
	StatusApproved          Status = "approved"
	StatusActive            Status = "active"
	StatusMatured           Status = "matured"
	StatusPrematurelyClosed Status = "prematurely_closed"
	StatusClosed            Status = "closed"
)

// IsTerminal reports whether no further mutation is possible.
func (s Status) IsTerminal() bool {
	return s == StatusMatured || s == StatusPrematurelyClosed || s == StatusClosed
}

// =============================================================================
// CONVENTIONS
// =============================================================================

// InterestCalculationType selects how balance history becomes interest.
type InterestCalculationType string

const (
	CalcDailyBalance        InterestCalculationType = "daily_balance"
	CalcAverageDailyBalance InterestCalculationType = "average_daily_balance"
	CalcMinimumBalance      InterestCalculationType = "minimum_balance"
)

// DaysInYear is the day-count denominator.
type DaysInYear string

const (
	DaysInYearActual DaysInYear = "actual"
	DaysInYear360    DaysInYear = "360"
	DaysInYear365    DaysInYear = "365"
)

// ClosureType is what happens to the money at maturity.
type ClosureType string

const (
	ClosureWithdraw          ClosureType = "withdraw"
	ClosureTransferToSavings ClosureType = "transfer_to_savings"
	ClosureRenew             ClosureType = "renew"
)

func (c ClosureType) Valid() bool {
	return c == ClosureWithdraw || c == ClosureTransferToSavings || c == ClosureRenew
}

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID        generic.AccountID
	ClientID  string
	GroupID   string
	ProductID ProductID
	Status    Status
	Currency  generic.Currency

	// Contract terms
	DepositAmount      decimal.Decimal
	DepositTerm        generic.Term
	RecurringFrequency generic.Term
	NominalAnnualRate  decimal.Decimal
	Compounding        generic.CompoundingFrequency
	CalculationType    InterestCalculationType
	DaysInYear         DaysInYear

	// Flags copied from the product at creation (overridable)
	AllowWithdrawal       bool
	AllowPrematureClosure bool
	AllowRenewal          bool

	// Running totals
	TotalDeposits      decimal.Decimal
	TotalWithdrawals   decimal.Decimal
	InterestEarned     decimal.Decimal
	TotalWithholdings  decimal.Decimal
	ChargesOutstanding decimal.Decimal

	// Maturity
	ExpectedMaturityDate   generic.TimePoint
	ExpectedMaturityAmount decimal.Decimal
	ActualMaturityDate     generic.TimePoint
	MaturedAmount          decimal.Decimal

	// Closure instructions
	ClosureType              ClosureType
	TransferToAccountID      generic.AccountID
	LinkedAccountID          generic.AccountID
	TransferInterestToLinked bool

	// Lifecycle dates
	SubmittedOn          generic.TimePoint
	ApprovedOn           generic.TimePoint
	ActivatedOn          generic.TimePoint
	TermStartDate        generic.TimePoint
	LastInterestPostedOn generic.TimePoint
	ClosedOn             generic.TimePoint
	RenewalCount         int
	ApprovalNote         string

	// Denormalized overdue summary written by TrackInstallments
	Overdue OverdueSummary

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is the running ledger balance derived from the totals.
func (a *Account) Balance() decimal.Decimal {
	return a.TotalDeposits.Add(a.InterestEarned).Sub(a.TotalWithdrawals).Sub(a.TotalWithholdings)
}

// sweepTargets names the linked account when posted interest moves there.
func (a *Account) sweepTargets() []generic.AccountID {
	if a.TransferInterestToLinked && a.LinkedAccountID != "" {
		return []generic.AccountID{a.LinkedAccountID}
	}
	return nil
}

// payoutTargets adds the account a transfer_to_savings payout lands on.
func (a *Account) payoutTargets(closure ClosureType, target generic.AccountID) []generic.AccountID {
	ids := a.sweepTargets()
	if closure == "" {
		closure = a.ClosureType
	}
	if closure == ClosureTransferToSavings {
		if target == "" {
			target = a.TransferToAccountID
		}
		ids = append(ids, target)
	}
	return ids
}

// OverdueSummary is the fast-read snapshot of missed installments.
type OverdueSummary struct {
	Installments int
	Amount       decimal.Decimal
	AsOf         generic.TimePoint
}

// =============================================================================
// SCHEDULE
// =============================================================================

type ScheduleInstallment struct {
	AccountID        generic.AccountID
	Number           int
	DueDate          generic.TimePoint
	ExpectedAmount   decimal.Decimal
	AmountCompleted  decimal.Decimal
	PaidEarly        decimal.Decimal
	PaidLate         decimal.Decimal
	Completed        bool
	ObligationsMetOn generic.TimePoint
}

// Outstanding is what is still expected on the installment (never negative).
func (i ScheduleInstallment) Outstanding() decimal.Decimal {
	rem := i.ExpectedAmount.Sub(i.AmountCompleted)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// =============================================================================
// CHARGES / PENALTIES
// =============================================================================

type ChargeTypeID string

// ChargeType is a lazily created lookup row, unique per (name, currency).
type ChargeType struct {
	ID       ChargeTypeID
	Name     string
	Currency string
}

// MissedInstallmentCharge is the charge type every penalty is booked under.
const MissedInstallmentCharge = "Missed Installment Penalty"

type ChargeID string

// Charge is an amount owed by the account holder.
type Charge struct {
	ID                ChargeID
	AccountID         generic.AccountID
	ChargeTypeID      ChargeTypeID
	Amount            decimal.Decimal
	AmountOutstanding decimal.Decimal
	DueDate           generic.TimePoint
	InstallmentNumber int
	Waived            bool
	WaivedOn          generic.TimePoint
	TransactionID     generic.TransactionID
}

type PenaltyID string

// PenaltyHistory records one applied penalty; it is both the audit trail and
// the idempotency guard for reapplication.
type PenaltyHistory struct {
	ID                PenaltyID
	AccountID         generic.AccountID
	InstallmentNumber int
	ChargeID          ChargeID
	TierNumber        int // 0 = product default penalty
	PenaltyType       PenaltyType
	Amount            decimal.Decimal
	DaysOverdue       int
	Occurrence        int
	AppliedOn         generic.TimePoint
	Waived            bool
	WaivedOn          generic.TimePoint
	WaiveReason       string
}

// PrematureClosureHistory records the breakdown of a premature closure.
type PrematureClosureHistory struct {
	ID             string
	AccountID      generic.AccountID
	ClosedOn       generic.TimePoint
	DaysCompleted  int
	TotalTermDays  int
	TotalDeposits  decimal.Decimal
	InterestEarned decimal.Decimal
	PenaltyAmount  decimal.Decimal
	Payout         decimal.Decimal
	ClosureType    ClosureType
	Reason         string
	TransactionID  generic.TransactionID
}
