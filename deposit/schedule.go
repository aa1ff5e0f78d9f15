/*
schedule.go - Installment schedule generation, deposit allocation, tracking

PURPOSE:
  An account expects N deposits, one per recurring period, where
  N = floor(termInYears / frequencyInYears). Installments are created in bulk
  at account creation (and again on renewal) and are never deleted: deposits
  fill them and they are marked completed.

DUE DATES:
  Installment k (0-based) is due at firstDepositDate + k*frequency, computed
  from the anchor rather than from the previous due date so a month-end
  anchor does not drift (Jan 31, Feb 28, Mar 31, ...).

ALLOCATION:
  A deposit with an explicit installment number goes entirely to that
  installment. Otherwise it fills incomplete installments in number order;
  whatever exceeds the schedule stays on the last installment touched.
  Payments before the due date count as paid early, after it as paid late.

SEE ALSO:
  - penalty.go: consumes OverdueInstallments
*/
package deposit

import (
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/deposit-engine/generic"
)

// GenerateSchedule creates n installments starting at number startAt.
func GenerateSchedule(accountID generic.AccountID, first generic.TimePoint, freq generic.Term, n, startAt int, amount decimal.Decimal) []ScheduleInstallment {
	out := make([]ScheduleInstallment, 0, n)
	for k := 0; k < n; k++ {
		out = append(out, ScheduleInstallment{
			AccountID:       accountID,
			Number:          startAt + k,
			DueDate:         freq.AddTo(first, k),
			ExpectedAmount:  amount,
			AmountCompleted: decimal.Zero,
			PaidEarly:       decimal.Zero,
			PaidLate:        decimal.Zero,
		})
	}
	return out
}

// Allocation is the part of a deposit credited to one installment.
type Allocation struct {
	Number int
	Amount decimal.Decimal
}

// ApplyDeposit credits amount to the schedule and returns the installments
// it changed. The input slice is not modified.
func ApplyDeposit(schedule []ScheduleInstallment, amount decimal.Decimal, on generic.TimePoint, number int) ([]ScheduleInstallment, []Allocation, error) {
	if number > 0 {
		for _, inst := range schedule {
			if inst.Number != number {
				continue
			}
			if inst.Completed {
				return nil, nil, &generic.AlreadyProcessedError{What: "installment " + strconv.Itoa(number)}
			}
			credit(&inst, amount, on)
			return []ScheduleInstallment{inst}, []Allocation{{Number: number, Amount: amount}}, nil
		}
		return nil, nil, generic.NotFound("installment", number)
	}

	var (
		changed   []ScheduleInstallment
		allocs    []Allocation
		remaining = amount
	)
	for _, inst := range schedule {
		if inst.Completed {
			continue
		}
		if !remaining.IsPositive() {
			break
		}
		portion := decimal.Min(remaining, inst.Outstanding())
		credit(&inst, portion, on)
		remaining = remaining.Sub(portion)
		changed = append(changed, inst)
		allocs = append(allocs, Allocation{Number: inst.Number, Amount: portion})
	}
	if len(changed) == 0 {
		return nil, nil, &generic.AlreadyProcessedError{What: "schedule (all installments completed)"}
	}
	if remaining.IsPositive() {
		last := len(changed) - 1
		credit(&changed[last], remaining, on)
		allocs[last].Amount = allocs[last].Amount.Add(remaining)
	}
	return changed, allocs, nil
}

func credit(inst *ScheduleInstallment, amount decimal.Decimal, on generic.TimePoint) {
	inst.AmountCompleted = inst.AmountCompleted.Add(amount)
	switch {
	case on.Before(inst.DueDate):
		inst.PaidEarly = inst.PaidEarly.Add(amount)
	case on.After(inst.DueDate):
		inst.PaidLate = inst.PaidLate.Add(amount)
	}
	if !inst.Completed && inst.AmountCompleted.GreaterThanOrEqual(inst.ExpectedAmount) {
		inst.Completed = true
		inst.ObligationsMetOn = on
	}
}

// =============================================================================
// TRACKING
// =============================================================================

type OverdueInstallment struct {
	Installment ScheduleInstallment
	DaysOverdue int
	Amount      decimal.Decimal
}

// OverdueInstallments returns incomplete installments due strictly before asOf.
func OverdueInstallments(schedule []ScheduleInstallment, asOf generic.TimePoint) []OverdueInstallment {
	var out []OverdueInstallment
	for _, inst := range schedule {
		if inst.Completed || !inst.DueDate.Before(asOf) {
			continue
		}
		out = append(out, OverdueInstallment{
			Installment: inst,
			DaysOverdue: generic.DaysBetween(inst.DueDate, asOf),
			Amount:      inst.Outstanding(),
		})
	}
	return out
}

// Summarize folds overdue installments into the account's overdue summary.
func Summarize(overdue []OverdueInstallment, asOf generic.TimePoint) OverdueSummary {
	s := OverdueSummary{Amount: decimal.Zero, AsOf: asOf}
	for _, o := range overdue {
		s.Installments++
		s.Amount = s.Amount.Add(o.Amount)
	}
	return s
}

func lastNumber(schedule []ScheduleInstallment) int {
	n := 0
	for _, inst := range schedule {
		if inst.Number > n {
			n = inst.Number
		}
	}
	return n
}
