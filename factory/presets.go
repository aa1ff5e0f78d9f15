package factory

import (
	"context"
	"encoding/json"

	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// PRESET PRODUCTS
// =============================================================================

// MonthlyDepositJSON returns JSON for a plain monthly recurring deposit:
// quarterly compounding on the daily balance, renewable, closable early with
// a 1% penalty on interest and a flat 25 penalty per missed installment.
func MonthlyDepositJSON(id, name string, months int, rate string) string {
	pj := map[string]interface{}{
		"id":                      id,
		"name":                    name,
		"currency":                "USD",
		"decimal_places":          2,
		"min_deposit_amount":      "10",
		"deposit_term":            map[string]interface{}{"value": months, "unit": "months"},
		"recurring_frequency":     map[string]interface{}{"value": 1, "unit": "months"},
		"nominal_annual_rate":     rate,
		"compounding":             "quarterly",
		"interest_calculation":    "daily_balance",
		"days_in_year":            "365",
		"allow_premature_closure": true,
		"allow_renewal":           true,
		"default_closure_type":    "withdraw",
		"penalties": map[string]interface{}{
			"enabled":           true,
			"type":              "fixed",
			"amount":            "25",
			"grace_period_days": 5,
			"max_occurrences":   1,
		},
		"premature_closure": map[string]interface{}{
			"penalty_applicable": true,
			"penalty_rate":       "1",
			"apply_on":           "interest",
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// QuarterlyDepositJSON returns JSON for a quarterly deposit with withholding
// tax and no premature closure.
func QuarterlyDepositJSON(id, name string, years int, rate, withholdTax string) string {
	pj := map[string]interface{}{
		"id":                   id,
		"name":                 name,
		"currency":             "USD",
		"min_deposit_amount":   "100",
		"deposit_term":         map[string]interface{}{"value": years, "unit": "years"},
		"recurring_frequency":  map[string]interface{}{"value": 3, "unit": "months"},
		"nominal_annual_rate":  rate,
		"compounding":          "quarterly",
		"interest_calculation": "average_daily_balance",
		"days_in_year":         "actual",
		"allow_renewal":        true,
		"default_closure_type": "withdraw",
		"withhold_tax_rate":    withholdTax,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// TieredPenaltyDepositJSON returns JSON for a monthly deposit whose missed
// installments escalate: 10% of the installment capped at 50 for the first
// month overdue, then a flat 75, up to three penalties per installment.
func TieredPenaltyDepositJSON(id, name string, months int, rate string) string {
	pj := map[string]interface{}{
		"id":                      id,
		"name":                    name,
		"currency":                "USD",
		"min_deposit_amount":      "50",
		"deposit_term":            map[string]interface{}{"value": months, "unit": "months"},
		"recurring_frequency":     map[string]interface{}{"value": 1, "unit": "months"},
		"nominal_annual_rate":     rate,
		"compounding":             "monthly",
		"interest_calculation":    "daily_balance",
		"days_in_year":            "365",
		"allow_withdrawal":        true,
		"allow_premature_closure": true,
		"default_closure_type":    "withdraw",
		"penalties": map[string]interface{}{
			"enabled":           true,
			"type":              "fixed",
			"amount":            "25",
			"grace_period_days": 3,
			"max_occurrences":   3,
			"tiers": []map[string]interface{}{
				{"number": 1, "days_overdue_start": 1, "days_overdue_end": 30, "occurrences_start": 1,
					"type": "percentage", "amount": "10", "max_amount": "50"},
				{"number": 2, "days_overdue_start": 31, "occurrences_start": 1,
					"type": "fixed", "amount": "75"},
			},
		},
		"premature_closure": map[string]interface{}{
			"penalty_applicable": true,
			"penalty_rate":       "2",
			"apply_on":           "principal",
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// Presets is the built-in product set, keyed by product ID.
func Presets() MapSource {
	return MapSource{
		"rd-monthly-12":  []byte(MonthlyDepositJSON("rd-monthly-12", "Monthly Recurring Deposit 12M", 12, "7.5")),
		"rd-monthly-24":  []byte(MonthlyDepositJSON("rd-monthly-24", "Monthly Recurring Deposit 24M", 24, "8")),
		"rd-quarterly-3": []byte(QuarterlyDepositJSON("rd-quarterly-3", "Quarterly Recurring Deposit 3Y", 3, "8.25", "10")),
		"rd-tiered-12":   []byte(TieredPenaltyDepositJSON("rd-tiered-12", "Monthly Deposit, tiered penalties", 12, "7")),
	}
}

// MapSource serves product JSON from memory.
type MapSource map[string][]byte

func (m MapSource) ProductJSON(_ context.Context, id string) ([]byte, error) {
	raw, ok := m[id]
	if !ok {
		return nil, generic.NotFound("product", id)
	}
	return raw, nil
}
