/*
penalty.go - Tiered missed-installment penalty engine

PURPOSE:
  Decides, for one overdue installment, whether a penalty applies and how
  much. There is one engine: the product's flat default penalty is the
  fallback used when no tier matches, not a second code path.

EVALUATION (per overdue installment, asOf date):
  1. daysOverdue <= gracePeriodDays          -> skip
  2. existing penalties >= maxOccurrences    -> skip (idempotency boundary)
  3. first tier with
       daysStart <= daysOverdue <= daysEnd (open end = infinity) AND
       occStart  <= existing+1  <= occEnd  (open end = infinity)
     else the product default
  4. fixed      -> configured amount
     percentage -> amount% of the installment's expected amount,
                   clamped to the tier cap when present
     then rounded to the currency

  EvaluatePenalty is pure; service.go persists the decision (charge,
  history entry and ledger marker) inside one store transaction.

IDEMPOTENCY:
  The count of PenaltyHistory rows per installment is the only guard.
  Re-running for the same asOf against an unchanged overdue set only adds a
  penalty when the occurrence budget still allows one.
*/
package deposit

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type PenaltyType string

const (
	PenaltyFixed      PenaltyType = "fixed"
	PenaltyPercentage PenaltyType = "percentage"
)

// DefaultMaxOccurrences applies when a product leaves the limit unset.
const DefaultMaxOccurrences = 1

type PenaltyConfig struct {
	Enabled         bool
	DefaultType     PenaltyType
	DefaultAmount   decimal.Decimal
	GracePeriodDays int
	MaxOccurrences  int
	Tiers           []PenaltyTier
}

// PenaltyTier is one rule scoped to a days-overdue and occurrence range.
// Nil end bounds and a nil cap mean unbounded.
type PenaltyTier struct {
	Number           int
	DaysOverdueStart int
	DaysOverdueEnd   *int
	OccurrencesStart int
	OccurrencesEnd   *int
	Type             PenaltyType
	Amount           decimal.Decimal
	MaxAmount        *decimal.Decimal
}

func (c PenaltyConfig) maxOccurrences() int {
	if c.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return c.MaxOccurrences
}

func (c PenaltyConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.GracePeriodDays < 0 {
		return &generic.FieldError{Field: "penalty.grace_period_days", Message: "must not be negative"}
	}
	if c.DefaultType != "" {
		if _, ok := calculators[c.DefaultType]; !ok {
			return &generic.FieldError{Field: "penalty.type", Message: fmt.Sprintf("unknown penalty type %q", c.DefaultType)}
		}
	}
	for i, t := range c.Tiers {
		field := fmt.Sprintf("penalty.tiers[%d]", i)
		if _, ok := calculators[t.Type]; !ok {
			return &generic.FieldError{Field: field + ".type", Message: fmt.Sprintf("unknown penalty type %q", t.Type)}
		}
		if t.Amount.IsNegative() {
			return &generic.FieldError{Field: field + ".amount", Message: "must not be negative"}
		}
		if t.DaysOverdueEnd != nil && *t.DaysOverdueEnd < t.DaysOverdueStart {
			return &generic.FieldError{Field: field + ".days_overdue_end", Message: "before days_overdue_start"}
		}
		if t.OccurrencesEnd != nil && *t.OccurrencesEnd < t.OccurrencesStart {
			return &generic.FieldError{Field: field + ".occurrences_end", Message: "before occurrences_start"}
		}
	}
	return nil
}

func (t PenaltyTier) matches(daysOverdue, occurrence int) bool {
	if daysOverdue < t.DaysOverdueStart {
		return false
	}
	if t.DaysOverdueEnd != nil && daysOverdue > *t.DaysOverdueEnd {
		return false
	}
	if occurrence < t.OccurrencesStart {
		return false
	}
	if t.OccurrencesEnd != nil && occurrence > *t.OccurrencesEnd {
		return false
	}
	return true
}

// =============================================================================
// PENALTY TYPE STRATEGIES
// =============================================================================

type penaltyCalculator interface {
	compute(configured, installmentAmount decimal.Decimal) decimal.Decimal
}

type fixedPenalty struct{}

func (fixedPenalty) compute(configured, _ decimal.Decimal) decimal.Decimal {
	return configured
}

type percentagePenalty struct{}

func (percentagePenalty) compute(configured, installmentAmount decimal.Decimal) decimal.Decimal {
	return generic.Percent(installmentAmount, configured)
}

var calculators = map[PenaltyType]penaltyCalculator{
	PenaltyFixed:      fixedPenalty{},
	PenaltyPercentage: percentagePenalty{},
}

// =============================================================================
// EVALUATION
// =============================================================================

type SkipReason string

const (
	SkipDisabled       SkipReason = "penalties disabled"
	SkipGracePeriod    SkipReason = "within grace period"
	SkipMaxOccurrences SkipReason = "max occurrences reached"
	SkipZeroAmount     SkipReason = "zero amount"
)

// PenaltyDecision is the outcome of evaluating one overdue installment.
type PenaltyDecision struct {
	Apply       bool
	Skip        SkipReason
	TierNumber  int // 0 = product default
	Type        PenaltyType
	Amount      decimal.Decimal
	DaysOverdue int
	Occurrence  int // 1-based occurrence this penalty would be
}

// EvaluatePenalty decides the penalty for an installment that has existing
// penalties recorded against it already.
func EvaluatePenalty(cfg PenaltyConfig, inst ScheduleInstallment, asOf generic.TimePoint, existing int, cur generic.Currency) PenaltyDecision {
	d := PenaltyDecision{
		DaysOverdue: generic.DaysBetween(inst.DueDate, asOf),
		Occurrence:  existing + 1,
		Amount:      decimal.Zero,
	}
	if !cfg.Enabled {
		d.Skip = SkipDisabled
		return d
	}
	if d.DaysOverdue <= cfg.GracePeriodDays {
		d.Skip = SkipGracePeriod
		return d
	}
	if existing >= cfg.maxOccurrences() {
		d.Skip = SkipMaxOccurrences
		return d
	}

	typ, configured, limit := cfg.DefaultType, cfg.DefaultAmount, (*decimal.Decimal)(nil)
	for _, t := range cfg.Tiers {
		if t.matches(d.DaysOverdue, d.Occurrence) {
			d.TierNumber = t.Number
			typ, configured, limit = t.Type, t.Amount, t.MaxAmount
			break
		}
	}
	calc, ok := calculators[typ]
	if !ok {
		typ, calc = PenaltyFixed, fixedPenalty{}
	}
	d.Type = typ

	amount := calc.compute(configured, inst.ExpectedAmount)
	if limit != nil && amount.GreaterThan(*limit) {
		amount = *limit
	}
	amount = cur.Round(amount)
	if !amount.IsPositive() {
		d.Skip = SkipZeroAmount
		return d
	}
	d.Amount = amount
	d.Apply = true
	return d
}

// =============================================================================
// BATCH RESULTS
// =============================================================================

// AppliedPenalty is one line of the apply-penalties detail list.
type AppliedPenalty struct {
	PenaltyID         PenaltyID
	AccountID         generic.AccountID
	InstallmentNumber int
	TierNumber        int
	Type              PenaltyType
	Amount            decimal.Decimal
	DaysOverdue       int
	Occurrence        int
}
