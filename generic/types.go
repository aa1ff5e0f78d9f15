/*
Package generic provides the financial primitives shared by the deposit engine.

PURPOSE:
  This package holds the pure, stateless building blocks: calendar dates,
  term and frequency arithmetic, compounding conventions, currency rounding,
  the ledger transaction record and the error taxonomy. Nothing here touches
  storage or knows about account status.

KEY CONCEPTS IN THIS FILE (types.go):
  - Currency: ISO code plus minor-unit precision, owns rounding
  - Identifiers: type-safe account/transaction IDs
  - Decimal helpers: percentage, parsing

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Explicit rounding: amounts are rounded at defined points only
     (interest posting, penalty capping, payout), never implicitly
  3. Type Safety: distinct ID types prevent mixing accounts and transactions

USAGE:
  usd := generic.Currency{Code: "USD", DecimalPlaces: 2}
  interest := usd.Round(generic.MustParseDecimal("9.863013"))  // 9.86

SEE ALSO:
  - term.go: term/frequency arithmetic and the maturity formula
  - ledger.go: the ledger transaction and balance replay
  - errors.go: error taxonomy
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY - Code plus minor-unit precision
// =============================================================================

type Currency struct {
	Code          string
	DecimalPlaces int32
}

// DefaultDecimalPlaces is used when a product does not configure precision.
const DefaultDecimalPlaces int32 = 2

// Round rounds half-up (away from zero) to the currency's minor unit.
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(c.places())
}

// Format renders an amount at the currency's precision.
func (c Currency) Format(d decimal.Decimal) string {
	return d.StringFixed(c.places())
}

func (c Currency) places() int32 {
	if c.DecimalPlaces < 0 {
		return DefaultDecimalPlaces
	}
	return c.DecimalPlaces
}

var hundred = decimal.NewFromInt(100)

// Percent returns rate% of base, unrounded.
func Percent(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred)
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseAmount parses a positive monetary amount.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &FieldError{Field: field, Message: "not a decimal number"}
	}
	if !d.IsPositive() {
		return decimal.Zero, &FieldError{Field: field, Message: "must be greater than zero"}
	}
	return d, nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string
