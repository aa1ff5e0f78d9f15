/*
Package factory provides JSON to Go product conversion.

PURPOSE:
  Converts JSON product definitions into deposit.Product values. Products
  are configured, stored (products table, a file, or the built-in presets)
  and cached as JSON; the deposit core only ever sees the parsed struct.

JSON SCHEMA:
  {
    "id": "rd-monthly-12",
    "name": "Monthly Recurring Deposit 12M",
    "currency": "USD",
    "decimal_places": 2,
    "min_deposit_amount": "10",
    "deposit_term": {"value": 12, "unit": "months"},
    "recurring_frequency": {"value": 1, "unit": "months"},
    "nominal_annual_rate": "7.5",
    "compounding": "quarterly",
    "interest_calculation": "daily_balance",
    "days_in_year": "365",
    "allow_premature_closure": true,
    "allow_renewal": true,
    "default_closure_type": "withdraw",
    "withhold_tax_rate": "10",
    "penalties": {
      "enabled": true,
      "type": "fixed",
      "amount": "25",
      "grace_period_days": 5,
      "max_occurrences": 3,
      "tiers": [
        {"number": 1, "days_overdue_start": 1, "days_overdue_end": 30,
         "occurrences_start": 1, "type": "percentage", "amount": "10",
         "max_amount": "50"}
      ]
    },
    "premature_closure": {
      "penalty_applicable": true, "penalty_rate": "1", "apply_on": "interest"
    }
  }

  Amounts and rates are decimal strings (numbers are accepted too).

DEFAULTS:
  decimal_places 2, compounding quarterly, interest_calculation
  daily_balance, days_in_year 365, default_closure_type withdraw.

USAGE:
  f := NewProductFactory()
  product, err := f.ParseProduct(MonthlyDepositJSON("rd-12", "Monthly", 12, "7.5"))

SEE ALSO:
  - deposit/product.go: Product type definition
  - factory/catalog.go: cached deposit.ProductCatalog over JSON sources
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProductJSON is the JSON representation of a product.
type ProductJSON struct {
	ID                    string                `json:"id"`
	Name                  string                `json:"name"`
	Currency              string                `json:"currency"`
	DecimalPlaces         *int32                `json:"decimal_places,omitempty"`
	MinDepositAmount      decimal.Decimal       `json:"min_deposit_amount"`
	DepositTerm           TermJSON              `json:"deposit_term"`
	RecurringFrequency    TermJSON              `json:"recurring_frequency"`
	NominalAnnualRate     decimal.Decimal       `json:"nominal_annual_rate"`
	Compounding           string                `json:"compounding,omitempty"`
	InterestCalculation   string                `json:"interest_calculation,omitempty"`
	DaysInYear            string                `json:"days_in_year,omitempty"`
	AllowWithdrawal       bool                  `json:"allow_withdrawal,omitempty"`
	AllowPrematureClosure bool                  `json:"allow_premature_closure,omitempty"`
	AllowRenewal          bool                  `json:"allow_renewal,omitempty"`
	DefaultClosureType    string                `json:"default_closure_type,omitempty"`
	WithholdTaxRate       decimal.Decimal       `json:"withhold_tax_rate"`
	Penalties             *PenaltiesJSON        `json:"penalties,omitempty"`
	PrematureClosure      *PrematureClosureJSON `json:"premature_closure,omitempty"`
}

// TermJSON is a calendar duration: {"value": 12, "unit": "months"}.
type TermJSON struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// PenaltiesJSON is the missed-installment penalty configuration.
type PenaltiesJSON struct {
	Enabled         bool              `json:"enabled"`
	Type            string            `json:"type,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	GracePeriodDays int               `json:"grace_period_days,omitempty"`
	MaxOccurrences  int               `json:"max_occurrences,omitempty"`
	Tiers           []PenaltyTierJSON `json:"tiers,omitempty"`
}

// PenaltyTierJSON is one tier. Omitted end bounds and max_amount are unbounded.
type PenaltyTierJSON struct {
	Number           int              `json:"number"`
	DaysOverdueStart int              `json:"days_overdue_start"`
	DaysOverdueEnd   *int             `json:"days_overdue_end,omitempty"`
	OccurrencesStart int              `json:"occurrences_start"`
	OccurrencesEnd   *int             `json:"occurrences_end,omitempty"`
	Type             string           `json:"type"`
	Amount           decimal.Decimal  `json:"amount"`
	MaxAmount        *decimal.Decimal `json:"max_amount,omitempty"`
}

// PrematureClosureJSON is the early-closure penalty rule.
type PrematureClosureJSON struct {
	PenaltyApplicable bool            `json:"penalty_applicable"`
	PenaltyRate       decimal.Decimal `json:"penalty_rate"`
	ApplyOn           string          `json:"apply_on,omitempty"`
}

// =============================================================================
// PRODUCT FACTORY
// =============================================================================

// ProductFactory converts JSON products to deposit.Product.
type ProductFactory struct{}

// NewProductFactory creates a new product factory.
func NewProductFactory() *ProductFactory {
	return &ProductFactory{}
}

// ParseProduct parses a JSON string into a validated Product.
func (f *ProductFactory) ParseProduct(jsonStr string) (*deposit.Product, error) {
	var pj ProductJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, &generic.FieldError{Field: "product", Message: fmt.Sprintf("failed to parse product JSON: %v", err)}
	}
	return f.FromJSON(pj)
}

// FromJSON converts ProductJSON to a validated deposit.Product.
func (f *ProductFactory) FromJSON(pj ProductJSON) (*deposit.Product, error) {
	places := generic.DefaultDecimalPlaces
	if pj.DecimalPlaces != nil {
		places = *pj.DecimalPlaces
	}

	p := &deposit.Product{
		ID:                    deposit.ProductID(pj.ID),
		Name:                  pj.Name,
		Currency:              generic.Currency{Code: pj.Currency, DecimalPlaces: places},
		MinDepositAmount:      pj.MinDepositAmount,
		DepositTerm:           parseTerm(pj.DepositTerm),
		RecurringFrequency:    parseTerm(pj.RecurringFrequency),
		NominalAnnualRate:     pj.NominalAnnualRate,
		AllowWithdrawal:       pj.AllowWithdrawal,
		AllowPrematureClosure: pj.AllowPrematureClosure,
		AllowRenewal:          pj.AllowRenewal,
		WithholdTaxRate:       pj.WithholdTaxRate,
	}

	var err error
	if p.Compounding, err = parseCompounding(pj.Compounding); err != nil {
		return nil, err
	}
	if p.CalculationType, err = parseCalculationType(pj.InterestCalculation); err != nil {
		return nil, err
	}
	if p.DaysInYear, err = parseDaysInYear(pj.DaysInYear); err != nil {
		return nil, err
	}
	if p.DefaultClosureType, err = parseClosureType(pj.DefaultClosureType); err != nil {
		return nil, err
	}

	if pj.Penalties != nil {
		p.Penalties = parsePenalties(*pj.Penalties)
	}
	if pj.PrematureClosure != nil {
		pc := *pj.PrematureClosure
		p.PrematureClosure = deposit.PrematureClosurePolicy{
			PenaltyApplicable: pc.PenaltyApplicable,
			PenaltyRate:       pc.PenaltyRate,
			ApplyOn:           deposit.BaseInterest,
		}
		if p.PrematureClosure.ApplyOn, err = parsePenaltyBase(pc.ApplyOn); err != nil {
			return nil, err
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ToJSON converts a Product to ProductJSON.
func (f *ProductFactory) ToJSON(p *deposit.Product) ProductJSON {
	places := p.Currency.DecimalPlaces
	pj := ProductJSON{
		ID:                    string(p.ID),
		Name:                  p.Name,
		Currency:              p.Currency.Code,
		DecimalPlaces:         &places,
		MinDepositAmount:      p.MinDepositAmount,
		DepositTerm:           TermJSON{Value: p.DepositTerm.Value, Unit: string(p.DepositTerm.Unit)},
		RecurringFrequency:    TermJSON{Value: p.RecurringFrequency.Value, Unit: string(p.RecurringFrequency.Unit)},
		NominalAnnualRate:     p.NominalAnnualRate,
		Compounding:           string(p.Compounding),
		InterestCalculation:   string(p.CalculationType),
		DaysInYear:            string(p.DaysInYear),
		AllowWithdrawal:       p.AllowWithdrawal,
		AllowPrematureClosure: p.AllowPrematureClosure,
		AllowRenewal:          p.AllowRenewal,
		DefaultClosureType:    string(p.DefaultClosureType),
		WithholdTaxRate:       p.WithholdTaxRate,
	}

	if p.Penalties.Enabled || len(p.Penalties.Tiers) > 0 {
		pen := &PenaltiesJSON{
			Enabled:         p.Penalties.Enabled,
			Type:            string(p.Penalties.DefaultType),
			Amount:          p.Penalties.DefaultAmount,
			GracePeriodDays: p.Penalties.GracePeriodDays,
			MaxOccurrences:  p.Penalties.MaxOccurrences,
		}
		for _, t := range p.Penalties.Tiers {
			pen.Tiers = append(pen.Tiers, PenaltyTierJSON{
				Number:           t.Number,
				DaysOverdueStart: t.DaysOverdueStart,
				DaysOverdueEnd:   t.DaysOverdueEnd,
				OccurrencesStart: t.OccurrencesStart,
				OccurrencesEnd:   t.OccurrencesEnd,
				Type:             string(t.Type),
				Amount:           t.Amount,
				MaxAmount:        t.MaxAmount,
			})
		}
		pj.Penalties = pen
	}

	if p.PrematureClosure.PenaltyApplicable {
		pj.PrematureClosure = &PrematureClosureJSON{
			PenaltyApplicable: true,
			PenaltyRate:       p.PrematureClosure.PenaltyRate,
			ApplyOn:           string(p.PrematureClosure.ApplyOn),
		}
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseTerm(tj TermJSON) generic.Term {
	return generic.Term{Value: tj.Value, Unit: generic.FrequencyUnit(tj.Unit)}
}

func parseCompounding(s string) (generic.CompoundingFrequency, error) {
	if s == "" {
		return generic.CompoundQuarterly, nil
	}
	c := generic.CompoundingFrequency(s)
	if !c.Valid() {
		return "", &generic.FieldError{Field: "compounding", Message: fmt.Sprintf("unknown convention %q", s)}
	}
	return c, nil
}

func parseCalculationType(s string) (deposit.InterestCalculationType, error) {
	switch deposit.InterestCalculationType(s) {
	case "":
		return deposit.CalcDailyBalance, nil
	case deposit.CalcDailyBalance, deposit.CalcAverageDailyBalance, deposit.CalcMinimumBalance:
		return deposit.InterestCalculationType(s), nil
	default:
		return "", &generic.FieldError{Field: "interest_calculation", Message: fmt.Sprintf("unknown calculation type %q", s)}
	}
}

func parseDaysInYear(s string) (deposit.DaysInYear, error) {
	switch deposit.DaysInYear(s) {
	case "":
		return deposit.DaysInYear365, nil
	case deposit.DaysInYearActual, deposit.DaysInYear360, deposit.DaysInYear365:
		return deposit.DaysInYear(s), nil
	default:
		return "", &generic.FieldError{Field: "days_in_year", Message: fmt.Sprintf("unknown day count %q", s)}
	}
}

func parseClosureType(s string) (deposit.ClosureType, error) {
	if s == "" {
		return deposit.ClosureWithdraw, nil
	}
	c := deposit.ClosureType(s)
	if !c.Valid() {
		return "", &generic.FieldError{Field: "default_closure_type", Message: fmt.Sprintf("unknown closure type %q", s)}
	}
	return c, nil
}

func parsePenaltyBase(s string) (deposit.PenaltyBase, error) {
	switch deposit.PenaltyBase(s) {
	case "":
		return deposit.BaseInterest, nil
	case deposit.BasePrincipal, deposit.BaseInterest, deposit.BasePrincipalAndInterest:
		return deposit.PenaltyBase(s), nil
	default:
		return "", &generic.FieldError{Field: "premature_closure.apply_on", Message: fmt.Sprintf("unknown base %q", s)}
	}
}

// parsePenalties maps the JSON block; unknown penalty types are rejected
// later by Product.Validate.
func parsePenalties(pj PenaltiesJSON) deposit.PenaltyConfig {
	cfg := deposit.PenaltyConfig{
		Enabled:         pj.Enabled,
		DefaultType:     deposit.PenaltyType(pj.Type),
		DefaultAmount:   pj.Amount,
		GracePeriodDays: pj.GracePeriodDays,
		MaxOccurrences:  pj.MaxOccurrences,
	}
	if cfg.DefaultType == "" {
		cfg.DefaultType = deposit.PenaltyFixed
	}
	for i, tj := range pj.Tiers {
		number := tj.Number
		if number == 0 {
			number = i + 1
		}
		cfg.Tiers = append(cfg.Tiers, deposit.PenaltyTier{
			Number:           number,
			DaysOverdueStart: tj.DaysOverdueStart,
			DaysOverdueEnd:   tj.DaysOverdueEnd,
			OccurrencesStart: tj.OccurrencesStart,
			OccurrencesEnd:   tj.OccurrencesEnd,
			Type:             deposit.PenaltyType(tj.Type),
			Amount:           tj.Amount,
			MaxAmount:        tj.MaxAmount,
		})
	}
	return cfg
}
