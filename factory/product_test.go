package factory_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-engine/cache"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/generic"
)

func TestParseProduct_Preset(t *testing.T) {
	f := factory.NewProductFactory()

	p, err := f.ParseProduct(factory.MonthlyDepositJSON("rd-12", "Monthly", 12, "7.5"))
	require.NoError(t, err)

	assert.Equal(t, deposit.ProductID("rd-12"), p.ID)
	assert.Equal(t, generic.Currency{Code: "USD", DecimalPlaces: 2}, p.Currency)
	assert.Equal(t, generic.Term{Value: 12, Unit: generic.UnitMonths}, p.DepositTerm)
	assert.Equal(t, generic.Term{Value: 1, Unit: generic.UnitMonths}, p.RecurringFrequency)
	assert.True(t, p.NominalAnnualRate.Equal(decimal.RequireFromString("7.5")))
	assert.Equal(t, generic.CompoundQuarterly, p.Compounding)
	assert.Equal(t, deposit.CalcDailyBalance, p.CalculationType)
	assert.True(t, p.AllowRenewal)
	assert.False(t, p.AllowWithdrawal)
	assert.True(t, p.Penalties.Enabled)
	assert.Equal(t, 5, p.Penalties.GracePeriodDays)
	assert.Equal(t, deposit.BaseInterest, p.PrematureClosure.ApplyOn)
}

func TestParseProduct_Defaults(t *testing.T) {
	// GIVEN: A product with only the required fields
	// WHEN: It is parsed
	// THEN: Conventions fall back to the documented defaults

	f := factory.NewProductFactory()
	p, err := f.ParseProduct(`{
		"id": "rd-min", "name": "Minimal", "currency": "EUR",
		"deposit_term": {"value": 6, "unit": "months"},
		"recurring_frequency": {"value": 1, "unit": "months"},
		"nominal_annual_rate": 5
	}`)
	require.NoError(t, err)

	assert.Equal(t, int32(2), p.Currency.DecimalPlaces)
	assert.Equal(t, generic.CompoundQuarterly, p.Compounding)
	assert.Equal(t, deposit.CalcDailyBalance, p.CalculationType)
	assert.Equal(t, deposit.DaysInYear365, p.DaysInYear)
	assert.Equal(t, deposit.ClosureWithdraw, p.DefaultClosureType)
	assert.False(t, p.Penalties.Enabled)
	assert.True(t, p.NominalAnnualRate.Equal(decimal.NewFromInt(5)))
}

func TestParseProduct_Tiers(t *testing.T) {
	f := factory.NewProductFactory()
	p, err := f.ParseProduct(factory.TieredPenaltyDepositJSON("rd-t", "Tiered", 12, "7"))
	require.NoError(t, err)

	require.Len(t, p.Penalties.Tiers, 2)
	first := p.Penalties.Tiers[0]
	assert.Equal(t, deposit.PenaltyPercentage, first.Type)
	require.NotNil(t, first.DaysOverdueEnd)
	assert.Equal(t, 30, *first.DaysOverdueEnd)
	require.NotNil(t, first.MaxAmount)
	assert.True(t, first.MaxAmount.Equal(decimal.NewFromInt(50)))
	assert.Nil(t, p.Penalties.Tiers[1].DaysOverdueEnd)
	assert.Nil(t, p.Penalties.Tiers[1].MaxAmount)
	assert.Equal(t, 3, p.Penalties.MaxOccurrences)
	assert.Equal(t, deposit.BasePrincipal, p.PrematureClosure.ApplyOn)
}

func TestParseProduct_Invalid(t *testing.T) {
	base := map[string]interface{}{
		"id": "rd-x", "name": "X", "currency": "USD",
		"deposit_term":        map[string]interface{}{"value": 12, "unit": "months"},
		"recurring_frequency": map[string]interface{}{"value": 1, "unit": "months"},
		"nominal_annual_rate": "5",
	}
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"unknown compounding", "compounding", "hourly"},
		{"unknown calculation", "interest_calculation", "max_balance"},
		{"unknown day count", "days_in_year", "364"},
		{"unknown closure", "default_closure_type", "burn"},
		{"bad term unit", "deposit_term", map[string]interface{}{"value": 12, "unit": "eons"}},
		{"negative rate", "nominal_annual_rate", "-1"},
		{"unknown penalty type", "penalties", map[string]interface{}{"enabled": true, "type": "compound", "amount": "5"}},
		{"bad closure base", "premature_closure", map[string]interface{}{"penalty_applicable": true, "apply_on": "fees"}},
	}
	f := factory.NewProductFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pj := map[string]interface{}{}
			for k, v := range base {
				pj[k] = v
			}
			pj[tt.key] = tt.value
			b, err := json.Marshal(pj)
			require.NoError(t, err)

			_, err = f.ParseProduct(string(b))
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	_, err := f.ParseProduct("{not json")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewProductFactory()
	p, err := f.ParseProduct(factory.TieredPenaltyDepositJSON("rd-t", "Tiered", 12, "7"))
	require.NoError(t, err)

	b, err := json.Marshal(f.ToJSON(p))
	require.NoError(t, err)
	again, err := f.ParseProduct(string(b))
	require.NoError(t, err)

	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, p.DepositTerm, again.DepositTerm)
	assert.Equal(t, p.Compounding, again.Compounding)
	assert.Equal(t, p.Penalties.GracePeriodDays, again.Penalties.GracePeriodDays)
	require.Len(t, again.Penalties.Tiers, 2)
	assert.True(t, again.Penalties.Tiers[0].Amount.Equal(p.Penalties.Tiers[0].Amount))
	assert.True(t, again.PrematureClosure.PenaltyRate.Equal(p.PrematureClosure.PenaltyRate))
}

// =============================================================================
// CATALOG
// =============================================================================

type countingSource struct {
	factory.MapSource
	reads int
}

func (s *countingSource) ProductJSON(ctx context.Context, id string) ([]byte, error) {
	s.reads++
	return s.MapSource.ProductJSON(ctx, id)
}

func TestCatalog_CachesSourceReads(t *testing.T) {
	// GIVEN: A catalog over one source
	// WHEN: The same product is resolved twice
	// THEN: The source is read once

	ctx := context.Background()
	src := &countingSource{MapSource: factory.Presets()}
	logger, _ := test.NewNullLogger()
	c := factory.NewCatalog(cache.NewMemory(), 0, logger, src)

	p, err := c.Product(ctx, "rd-monthly-12")
	require.NoError(t, err)
	assert.Equal(t, "Monthly Recurring Deposit 12M", p.Name)
	_, err = c.Product(ctx, "rd-monthly-12")
	require.NoError(t, err)
	assert.Equal(t, 1, src.reads)

	require.NoError(t, c.Invalidate(ctx, "rd-monthly-12"))
	_, err = c.Product(ctx, "rd-monthly-12")
	require.NoError(t, err)
	assert.Equal(t, 2, src.reads)
}

func TestCatalog_SourceOrder(t *testing.T) {
	ctx := context.Background()
	override := factory.MapSource{
		"rd-monthly-12": []byte(factory.MonthlyDepositJSON("rd-monthly-12", "Overridden", 12, "9")),
	}
	logger, _ := test.NewNullLogger()
	c := factory.NewCatalog(cache.NewMemory(), 0, logger, override, factory.Presets())

	p, err := c.Product(ctx, "rd-monthly-12")
	require.NoError(t, err)
	assert.Equal(t, "Overridden", p.Name)

	p, err = c.Product(ctx, "rd-quarterly-3")
	require.NoError(t, err)
	assert.Equal(t, generic.Term{Value: 3, Unit: generic.UnitYears}, p.DepositTerm)

	_, err = c.Product(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestCatalog_IgnoresCorruptCacheEntry(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	require.NoError(t, mem.Set(ctx, "product:rd-monthly-12", "{broken", 0))
	logger, _ := test.NewNullLogger()
	c := factory.NewCatalog(mem, 0, logger, factory.Presets())

	p, err := c.Product(ctx, "rd-monthly-12")
	require.NoError(t, err)
	assert.Equal(t, deposit.ProductID("rd-monthly-12"), p.ID)

	raw, ok, err := mem.Get(ctx, "product:rd-monthly-12")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, "rd-monthly-12")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.json")
	content := "[" + factory.MonthlyDepositJSON("file-12", "From file", 12, "6") + "]"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	src, err := factory.LoadFile(path)
	require.NoError(t, err)
	_, err = src.ProductJSON(context.Background(), "file-12")
	assert.NoError(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"id":"x"}]`), 0o600))
	_, err = factory.LoadFile(bad)
	assert.Error(t, err)
}
