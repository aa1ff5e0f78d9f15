package generic

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FREQUENCY UNIT / TERM - "12 months", "1 week"
// =============================================================================

type FrequencyUnit string

const (
	UnitDays   FrequencyUnit = "days"
	UnitWeeks  FrequencyUnit = "weeks"
	UnitMonths FrequencyUnit = "months"
	UnitYears  FrequencyUnit = "years"
)

// perYear is the number of units in one year, used to express a term as a
// rational number of years (value / perYear).
func (u FrequencyUnit) perYear() int {
	switch u {
	case UnitDays:
		return 365
	case UnitWeeks:
		return 52
	case UnitMonths:
		return 12
	case UnitYears:
		return 1
	default:
		return 0
	}
}

func (u FrequencyUnit) Valid() bool { return u.perYear() > 0 }

// Term is a duration expressed in calendar units.
type Term struct {
	Value int
	Unit  FrequencyUnit
}

func (t Term) String() string { return fmt.Sprintf("%d %s", t.Value, t.Unit) }

func (t Term) Validate(field string) error {
	if t.Value <= 0 {
		return &FieldError{Field: field, Message: "must be a positive number of units"}
	}
	if !t.Unit.Valid() {
		return &FieldError{Field: field, Message: fmt.Sprintf("unknown unit %q", t.Unit)}
	}
	return nil
}

// AddTo advances date by n repetitions of the term.
func (t Term) AddTo(date TimePoint, n int) TimePoint {
	switch t.Unit {
	case UnitDays:
		return date.AddDays(t.Value * n)
	case UnitWeeks:
		return date.AddDays(7 * t.Value * n)
	case UnitMonths:
		return date.AddMonths(t.Value * n)
	case UnitYears:
		return date.AddYears(t.Value * n)
	default:
		return date
	}
}

// InYears returns the term as a decimal number of years.
func (t Term) InYears() decimal.Decimal {
	if !t.Unit.Valid() {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(t.Value)).Div(decimal.NewFromInt(int64(t.Unit.perYear())))
}

// ExpectedNumberOfDeposits is floor(termInYears / frequencyInYears). The
// division is done on integers so 12 months / 1 month is exactly 12.
func ExpectedNumberOfDeposits(term, frequency Term) int {
	if !term.Unit.Valid() || !frequency.Unit.Valid() || frequency.Value <= 0 {
		return 0
	}
	num := term.Value * frequency.Unit.perYear()
	den := frequency.Value * term.Unit.perYear()
	return num / den
}

// =============================================================================
// COMPOUNDING
// =============================================================================

type CompoundingFrequency string

const (
	CompoundDaily      CompoundingFrequency = "daily"
	CompoundMonthly    CompoundingFrequency = "monthly"
	CompoundQuarterly  CompoundingFrequency = "quarterly"
	CompoundSemiAnnual CompoundingFrequency = "semi_annual"
	CompoundAnnual     CompoundingFrequency = "annual"
)

// PeriodsPerYear maps a compounding convention to n in (1 + r/n).
func (c CompoundingFrequency) PeriodsPerYear() int {
	switch c {
	case CompoundDaily:
		return 365
	case CompoundMonthly:
		return 12
	case CompoundQuarterly:
		return 4
	case CompoundSemiAnnual:
		return 2
	case CompoundAnnual:
		return 1
	default:
		return 0
	}
}

func (c CompoundingFrequency) Valid() bool { return c.PeriodsPerYear() > 0 }

// growth returns (1 + r/n)^(n*years). Fractional exponents go through
// math.Pow; the factor is only used for projections and the caller rounds.
func growth(annualRate decimal.Decimal, c CompoundingFrequency, years decimal.Decimal) decimal.Decimal {
	n := c.PeriodsPerYear()
	if n == 0 || annualRate.IsZero() {
		return decimal.NewFromInt(1)
	}
	r, _ := annualRate.Div(hundred).Float64()
	y, _ := years.Float64()
	return decimal.NewFromFloat(math.Pow(1+r/float64(n), float64(n)*y))
}

// MaturityInput describes a recurring deposit plan for the maturity formula.
type MaturityInput struct {
	Opening            decimal.Decimal // balance carried into the term (renewals)
	DepositAmount      decimal.Decimal
	NumberOfDeposits   int
	RecurringFrequency Term
	Term               Term
	AnnualRate         decimal.Decimal
	Compounding        CompoundingFrequency
}

// MaturityAmount projects the balance at the end of the term:
//
//	Opening*(1+r/n)^(n*T) + sum_k P*(1+r/n)^(n*t_k)
//
// where installment k (1..N) stays invested t_k = (N-k+1) * frequency years.
// The result is unrounded.
func MaturityAmount(in MaturityInput) decimal.Decimal {
	total := in.Opening.Mul(growth(in.AnnualRate, in.Compounding, in.Term.InYears()))
	freqYears := in.RecurringFrequency.InYears()
	for k := 1; k <= in.NumberOfDeposits; k++ {
		years := freqYears.Mul(decimal.NewFromInt(int64(in.NumberOfDeposits - k + 1)))
		total = total.Add(in.DepositAmount.Mul(growth(in.AnnualRate, in.Compounding, years)))
	}
	return total
}
