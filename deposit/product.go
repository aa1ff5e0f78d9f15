package deposit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// PRODUCT - Read-only parameters an account is created from
// =============================================================================

type ProductID string

type Product struct {
	ID       ProductID
	Name     string
	Currency generic.Currency

	MinDepositAmount   decimal.Decimal
	DepositTerm        generic.Term
	RecurringFrequency generic.Term
	NominalAnnualRate  decimal.Decimal
	Compounding        generic.CompoundingFrequency
	CalculationType    InterestCalculationType
	DaysInYear         DaysInYear

	AllowWithdrawal       bool
	AllowPrematureClosure bool
	AllowRenewal          bool
	DefaultClosureType    ClosureType

	// WithholdTaxRate is a percentage of every interest posting withheld.
	WithholdTaxRate decimal.Decimal

	Penalties        PenaltyConfig
	PrematureClosure PrematureClosurePolicy
}

// PrematureClosurePolicy is the early-closure penalty rule.
type PrematureClosurePolicy struct {
	PenaltyApplicable bool
	PenaltyRate       decimal.Decimal // percent of the base
	ApplyOn           PenaltyBase
}

// PenaltyBase is what the early-closure penalty rate is applied to.
type PenaltyBase string

const (
	BasePrincipal            PenaltyBase = "principal"
	BaseInterest             PenaltyBase = "interest"
	BasePrincipalAndInterest PenaltyBase = "principal_and_interest"
)

// ProductCatalog resolves product parameters. Product CRUD lives elsewhere.
type ProductCatalog interface {
	Product(ctx context.Context, id ProductID) (*Product, error)
}

// StaticCatalog is a fixed in-memory catalog.
type StaticCatalog map[ProductID]*Product

func (c StaticCatalog) Product(_ context.Context, id ProductID) (*Product, error) {
	p, ok := c[id]
	if !ok {
		return nil, generic.NotFound("product", id)
	}
	return p, nil
}

// Validate checks the parameters an account relies on.
func (p *Product) Validate() error {
	if p.ID == "" {
		return &generic.FieldError{Field: "id", Message: "required"}
	}
	if p.Currency.Code == "" {
		return &generic.FieldError{Field: "currency", Message: "required"}
	}
	if err := p.DepositTerm.Validate("deposit_term"); err != nil {
		return err
	}
	if err := p.RecurringFrequency.Validate("recurring_frequency"); err != nil {
		return err
	}
	if p.NominalAnnualRate.IsNegative() {
		return &generic.FieldError{Field: "nominal_annual_rate", Message: "must not be negative"}
	}
	if !p.Compounding.Valid() {
		return &generic.FieldError{Field: "compounding", Message: fmt.Sprintf("unknown convention %q", p.Compounding)}
	}
	if p.DefaultClosureType != "" && !p.DefaultClosureType.Valid() {
		return &generic.FieldError{Field: "closure_type", Message: fmt.Sprintf("unknown closure type %q", p.DefaultClosureType)}
	}
	return p.Penalties.Validate()
}
