/*
ledger.go - Append-only account ledger records

PURPOSE:
  Every balance change on an account is recorded as an immutable
  Transaction consumed by the external general ledger. The running balance
  of an account can always be rebuilt by replaying its transactions, which
  is what the interest calculator does to obtain balance history.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: transactions are never updated or deleted
  2. REVERSAL IS A FLAG: a reversed transaction stays in the ledger and
     stops contributing to the balance
  3. SIGN BY TYPE: amounts are stored positive; the type decides direction

SIGN TABLE:
  deposit, interest_posting                                  +amount
  withdrawal, withholding, maturity_payout, premature_closure -amount
  penalty_charge                                              0 (charge is
                                                                an outstanding
                                                                receivable)

SEE ALSO:
  - deposit/interest.go: replays a Timeline to accrue interest
*/
package generic

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION - Immutable ledger-facing event
// =============================================================================

type TransactionType string

const (
	TxDeposit          TransactionType = "deposit"
	TxWithdrawal       TransactionType = "withdrawal"
	TxInterestPosting  TransactionType = "interest_posting"
	TxWithholding      TransactionType = "withholding"
	TxPenaltyCharge    TransactionType = "penalty_charge"
	TxPrematureClosure TransactionType = "premature_closure"
	TxMaturityPayout   TransactionType = "maturity_payout"
)

// Sign returns +1, -1 or 0: the direction the type moves the balance.
func (t TransactionType) Sign() int {
	switch t {
	case TxDeposit, TxInterestPosting:
		return 1
	case TxWithdrawal, TxWithholding, TxPrematureClosure, TxMaturityPayout:
		return -1
	default:
		return 0
	}
}

type Transaction struct {
	ID                TransactionID
	AccountID         AccountID
	Type              TransactionType
	Amount            decimal.Decimal // always positive
	Date              TimePoint
	RunningBalance    decimal.Decimal // account balance after this transaction
	InstallmentNumber int             // 0 when not linked to an installment
	Reversed          bool
	ReferenceID       string // related account, penalty or closure record
	Reason            string
	PaymentDetail     string
	CreatedAt         time.Time
}

// Delta is the signed effect of the transaction on the balance.
func (tx Transaction) Delta() decimal.Decimal {
	if tx.Reversed {
		return decimal.Zero
	}
	switch tx.Type.Sign() {
	case 1:
		return tx.Amount
	case -1:
		return tx.Amount.Neg()
	default:
		return decimal.Zero
	}
}

// =============================================================================
// TIMELINE - Balance history rebuilt from the ledger
// =============================================================================

type TimelineEvent struct {
	At    TimePoint
	Delta decimal.Decimal
	Type  TransactionType
	Ref   TransactionID
}

// Timeline is the chronological list of balance-affecting events.
type Timeline struct {
	Events []TimelineEvent
}

// NewTimeline keeps balance-affecting transactions, ordered by date.
// Same-day events keep their ledger order.
func NewTimeline(txs []Transaction) Timeline {
	events := make([]TimelineEvent, 0, len(txs))
	for _, tx := range txs {
		d := tx.Delta()
		if d.IsZero() {
			continue
		}
		events = append(events, TimelineEvent{At: tx.Date, Delta: d, Type: tx.Type, Ref: tx.ID})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].At.Before(events[j].At)
	})
	return Timeline{Events: events}
}

// BalanceAt sums every event on or before at.
func (t Timeline) BalanceAt(at TimePoint) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range t.Events {
		if e.At.After(at) {
			break
		}
		balance = balance.Add(e.Delta)
	}
	return balance
}

// Within returns the events that fall in (p.Start, p.End].
func (t Timeline) Within(p Period) []TimelineEvent {
	var out []TimelineEvent
	for _, e := range t.Events {
		if p.Covers(e.At) {
			out = append(out, e)
		}
	}
	return out
}

// LastOf returns the date of the latest event of the given type.
func (t Timeline) LastOf(typ TransactionType) (TimePoint, bool) {
	for i := len(t.Events) - 1; i >= 0; i-- {
		if t.Events[i].Type == typ {
			return t.Events[i].At, true
		}
	}
	return TimePoint{}, false
}

// Validate replays the timeline and reports the first point where the
// balance goes negative.
func (t Timeline) Validate() *BalanceViolation {
	balance := decimal.Zero
	for _, e := range t.Events {
		balance = balance.Add(e.Delta)
		if balance.IsNegative() {
			return &BalanceViolation{At: e.At, Balance: balance}
		}
	}
	return nil
}

type BalanceViolation struct {
	At      TimePoint
	Balance decimal.Decimal
}

func (e *BalanceViolation) Error() string {
	return "negative balance " + e.Balance.String() + " at " + e.At.String()
}
