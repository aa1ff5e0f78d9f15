package deposit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-engine/generic"
)

func TestNextStatus_TransitionTable(t *testing.T) {
	tests := []struct {
		from   Status
		action Action
		want   Status
		ok     bool
	}{
		{StatusPendingApproval, ActApprove, StatusApproved, true},
		{StatusPendingApproval, ActDeposit, "", false},
		{StatusApproved, ActDeposit, StatusActive, true},
		{StatusApproved, ActWithdraw, "", false},
		{StatusActive, ActDeposit, StatusActive, true},
		{StatusActive, ActRenew, StatusActive, true},
		{StatusActive, ActMature, StatusMatured, true},
		{StatusActive, ActPrematureClose, StatusPrematurelyClosed, true},
		{StatusActive, ActApprove, "", false},
		{StatusMatured, ActClose, StatusClosed, true},
		{StatusMatured, ActDeposit, "", false},
		{StatusPrematurelyClosed, ActDeposit, "", false},
		{StatusPrematurelyClosed, ActClose, "", false},
		{StatusClosed, ActUpdateInstructions, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, ok := NextStatus(tt.from, tt.action)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_FirstDepositActivates(t *testing.T) {
	acc := &Account{ID: "acc-1", Status: StatusApproved}

	changed, err := acc.transition(ActDeposit, date("2024-01-05"))
	require.NoError(t, err)

	assert.True(t, changed)
	assert.Equal(t, StatusActive, acc.Status)
	assert.Equal(t, "2024-01-05", acc.ActivatedOn.String())
	assert.Equal(t, "2024-01-05", acc.TermStartDate.String())

	changed, err = acc.transition(ActDeposit, date("2024-02-05"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "2024-01-05", acc.ActivatedOn.String())
}

func TestTransition_RejectionLeavesAccountUntouched(t *testing.T) {
	acc := &Account{ID: "acc-1", Status: StatusPrematurelyClosed, ClosedOn: date("2024-03-01")}
	before := *acc

	_, err := acc.transition(ActDeposit, date("2024-04-01"))

	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
	var stErr *generic.StateTransitionError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "prematurely_closed", stErr.From)
	assert.Equal(t, "deposit", stErr.Action)
	assert.Equal(t, before, *acc)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusActive.IsTerminal())
	assert.True(t, StatusMatured.IsTerminal())
	assert.True(t, StatusPrematurelyClosed.IsTerminal())
	assert.True(t, StatusClosed.IsTerminal())
}
