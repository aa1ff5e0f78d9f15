package deposit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-engine/generic"
)

var monthly = generic.Term{Value: 1, Unit: generic.UnitMonths}

func TestGenerateSchedule_MonthEndAnchorDoesNotDrift(t *testing.T) {
	schedule := GenerateSchedule("acc-1", date("2024-01-31"), monthly, 4, 1, dec("100"))

	require.Len(t, schedule, 4)
	assert.Equal(t, "2024-01-31", schedule[0].DueDate.String())
	assert.Equal(t, "2024-02-29", schedule[1].DueDate.String())
	assert.Equal(t, "2024-03-31", schedule[2].DueDate.String())
	assert.Equal(t, "2024-04-30", schedule[3].DueDate.String())
	for i, inst := range schedule {
		assert.Equal(t, i+1, inst.Number)
		assert.False(t, inst.Completed)
	}
}

func TestGenerateSchedule_NumbersContinueAfterRenewal(t *testing.T) {
	schedule := GenerateSchedule("acc-1", date("2025-01-01"), generic.Term{Value: 2, Unit: generic.UnitWeeks}, 3, 13, dec("50"))

	assert.Equal(t, 13, schedule[0].Number)
	assert.Equal(t, 15, schedule[2].Number)
	assert.Equal(t, "2025-01-29", schedule[2].DueDate.String())
}

func TestApplyDeposit_PartialDoesNotComplete(t *testing.T) {
	// GIVEN: An installment expecting 100
	// WHEN: 60 is deposited
	// THEN: It stays incomplete with 60 recorded

	schedule := GenerateSchedule("acc-1", date("2024-01-01"), monthly, 3, 1, dec("100"))

	changed, allocs, err := ApplyDeposit(schedule, dec("60"), date("2024-01-01"), 0)
	require.NoError(t, err)

	require.Len(t, changed, 1)
	assert.False(t, changed[0].Completed)
	assert.True(t, changed[0].AmountCompleted.Equal(dec("60")))
	assert.True(t, changed[0].Outstanding().Equal(dec("40")))
	require.Len(t, allocs, 1)
	assert.Equal(t, 1, allocs[0].Number)
	assert.True(t, allocs[0].Amount.Equal(dec("60")))
	assert.False(t, schedule[0].AmountCompleted.IsPositive(), "input must not be modified")
}

func TestApplyDeposit_CompletesAtExpectedAmount(t *testing.T) {
	schedule := GenerateSchedule("acc-1", date("2024-01-01"), monthly, 3, 1, dec("100"))
	schedule[0].AmountCompleted = dec("60")

	changed, _, err := ApplyDeposit(schedule, dec("40"), date("2024-01-05"), 1)
	require.NoError(t, err)

	assert.True(t, changed[0].Completed)
	assert.Equal(t, "2024-01-05", changed[0].ObligationsMetOn.String())
}

func TestApplyDeposit_SpreadsAcrossInstallments(t *testing.T) {
	schedule := GenerateSchedule("acc-1", date("2024-01-01"), monthly, 3, 1, dec("100"))

	changed, allocs, err := ApplyDeposit(schedule, dec("250"), date("2024-01-01"), 0)
	require.NoError(t, err)

	require.Len(t, changed, 3)
	assert.True(t, changed[0].Completed)
	assert.True(t, changed[1].Completed)
	assert.False(t, changed[2].Completed)
	assert.True(t, allocs[2].Amount.Equal(dec("50")))

	// installments 2 and 3 were paid ahead of their due dates
	assert.True(t, changed[1].PaidEarly.Equal(dec("100")))
	assert.True(t, changed[0].PaidEarly.IsZero())
}

func TestApplyDeposit_ExcessStaysOnLastInstallment(t *testing.T) {
	schedule := GenerateSchedule("acc-1", date("2024-01-01"), monthly, 2, 1, dec("100"))

	changed, allocs, err := ApplyDeposit(schedule, dec("230"), date("2024-03-01"), 0)
	require.NoError(t, err)

	require.Len(t, changed, 2)
	assert.True(t, changed[1].AmountCompleted.Equal(dec("130")))
	assert.True(t, allocs[1].Amount.Equal(dec("130")))
	assert.True(t, changed[1].PaidLate.Equal(dec("130")))
}

func TestApplyDeposit_Errors(t *testing.T) {
	schedule := GenerateSchedule("acc-1", date("2024-01-01"), monthly, 2, 1, dec("100"))
	schedule[0].Completed = true
	schedule[0].AmountCompleted = dec("100")

	_, _, err := ApplyDeposit(schedule, dec("100"), date("2024-01-01"), 1)
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed, "completed installment")

	_, _, err = ApplyDeposit(schedule, dec("100"), date("2024-01-01"), 9)
	assert.ErrorIs(t, err, generic.ErrNotFound, "nonexistent installment")

	schedule[1].Completed = true
	_, _, err = ApplyDeposit(schedule, dec("100"), date("2024-01-01"), 0)
	assert.ErrorIs(t, err, generic.ErrAlreadyProcessed, "nothing left to fill")
}

func TestOverdueInstallments(t *testing.T) {
	schedule := GenerateSchedule("acc-1", date("2024-01-01"), monthly, 3, 1, dec("100"))
	schedule[0].Completed = true
	schedule[1].AmountCompleted = dec("30")

	overdue := OverdueInstallments(schedule, date("2024-03-01"))

	// installment 3 is due on the as-of date itself, so not overdue yet
	require.Len(t, overdue, 1)
	assert.Equal(t, 2, overdue[0].Installment.Number)
	assert.Equal(t, 29, overdue[0].DaysOverdue)
	assert.True(t, overdue[0].Amount.Equal(dec("70")))

	sum := Summarize(overdue, date("2024-03-01"))
	assert.Equal(t, 1, sum.Installments)
	assert.True(t, sum.Amount.Equal(dec("70")))
}
