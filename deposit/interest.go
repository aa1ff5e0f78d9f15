/*
interest.go - Interest accrual over balance history

PURPOSE:
  Computes the interest earned by an account over a period (exclusive start,
  inclusive end, measured in days elapsed) by replaying its ledger. The
  calculation is pure: the same history and parameters always give the same
  amount. Posting is a separate step in service.go.

CONVENTIONS:
  daily_balance         accrue the running balance for every gap between
                        balance changes, then the tail up to the end date
  average_daily_balance weight each balance by the days it was held,
                        average over the period, accrue the average once
  minimum_balance       accrue the opening balance over the whole period.
                        This is a single-accrual simplification, not a true
                        minimum scan, and is kept that way on purpose.

  Anything unrecognised falls back to minimum_balance.

DAYS IN YEAR:
  actual  366 when the period's starting calendar year is a leap year, else 365
  360     fixed
  365     fixed (default)

ROUNDING:
  Segments accumulate unrounded. The total is rounded once, half-up, to the
  currency's minor unit.
*/
package deposit

import (
	"github.com/shopspring/decimal"
	"github.com/warp/deposit-engine/generic"
)

// InterestCalculation is the read-only projection returned to callers.
type InterestCalculation struct {
	AccountID      generic.AccountID
	From           generic.TimePoint
	To             generic.TimePoint
	Days           int
	DaysInYear     int
	Convention     InterestCalculationType
	AnnualRate     decimal.Decimal
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	Amount         decimal.Decimal
}

// =============================================================================
// ACCRUAL STRATEGIES
// =============================================================================

// accrualInput is the balance history clipped to one period.
type accrualInput struct {
	opening   decimal.Decimal
	events    []generic.TimelineEvent // strictly inside (period.Start, period.End]
	period    generic.Period
	dailyRate decimal.Decimal
}

type accrualStrategy interface {
	accrue(in accrualInput) decimal.Decimal
}

func strategyFor(t InterestCalculationType) accrualStrategy {
	switch t {
	case CalcDailyBalance:
		return dailyBalance{}
	case CalcAverageDailyBalance:
		return averageDailyBalance{}
	default:
		return minimumBalance{}
	}
}

// walk calls fn(balance, days) for every stretch the balance was constant.
func walk(in accrualInput, fn func(balance decimal.Decimal, days int)) {
	running := in.opening
	cursor := in.period.Start
	for _, e := range in.events {
		if gap := generic.DaysBetween(cursor, e.At); gap > 0 {
			fn(running, gap)
		}
		running = running.Add(e.Delta)
		cursor = e.At
	}
	if tail := generic.DaysBetween(cursor, in.period.End); tail > 0 {
		fn(running, tail)
	}
}

type dailyBalance struct{}

func (dailyBalance) accrue(in accrualInput) decimal.Decimal {
	total := decimal.Zero
	walk(in, func(balance decimal.Decimal, days int) {
		total = total.Add(balance.Mul(in.dailyRate).Mul(decimal.NewFromInt(int64(days))))
	})
	return total
}

type averageDailyBalance struct{}

func (averageDailyBalance) accrue(in accrualInput) decimal.Decimal {
	totalDays := in.period.Days()
	if totalDays <= 0 {
		return decimal.Zero
	}
	weighted := decimal.Zero
	walk(in, func(balance decimal.Decimal, days int) {
		weighted = weighted.Add(balance.Mul(decimal.NewFromInt(int64(days))))
	})
	n := decimal.NewFromInt(int64(totalDays))
	average := weighted.Div(n)
	return average.Mul(in.dailyRate).Mul(n)
}

type minimumBalance struct{}

func (minimumBalance) accrue(in accrualInput) decimal.Decimal {
	return in.opening.Mul(in.dailyRate).Mul(decimal.NewFromInt(int64(in.period.Days())))
}

// =============================================================================
// CALCULATOR
// =============================================================================

// ResolveDaysInYear returns the day-count denominator for a period starting in year.
func ResolveDaysInYear(c DaysInYear, year int) int {
	switch c {
	case DaysInYearActual:
		if generic.IsLeapYear(year) {
			return 366
		}
		return 365
	case DaysInYear360:
		return 360
	default:
		return 365
	}
}

// CalculateInterest accrues interest for the account over (from, to] using
// history as the balance timeline.
func CalculateInterest(acc *Account, history []generic.Transaction, from, to generic.TimePoint) (InterestCalculation, error) {
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		return InterestCalculation{}, err
	}

	timeline := generic.NewTimeline(history)
	diy := ResolveDaysInYear(acc.DaysInYear, from.Year())
	dailyRate := acc.NominalAnnualRate.
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(diy)))

	in := accrualInput{
		opening:   timeline.BalanceAt(from),
		events:    timeline.Within(period),
		period:    period,
		dailyRate: dailyRate,
	}
	raw := strategyFor(acc.CalculationType).accrue(in)
	if raw.IsNegative() {
		raw = decimal.Zero
	}

	return InterestCalculation{
		AccountID:      acc.ID,
		From:           from,
		To:             to,
		Days:           period.Days(),
		DaysInYear:     diy,
		Convention:     acc.CalculationType,
		AnnualRate:     acc.NominalAnnualRate,
		OpeningBalance: in.opening,
		ClosingBalance: timeline.BalanceAt(to),
		Amount:         acc.Currency.Round(raw),
	}, nil
}

// interestFrom is the default start of the next accrual window: the last
// posting, else activation.
func (a *Account) interestFrom() generic.TimePoint {
	if !a.LastInterestPostedOn.IsZero() {
		return a.LastInterestPostedOn
	}
	return a.ActivatedOn
}
