/*
lifecycle.go - Account status state machine

PURPOSE:
  Every mutating operation asks the state machine first. The transition
  table below is the single source of truth for which action is legal from
  which status and what status results. Actions that do not move the status
  (deposit into an active account, withdrawal, instruction updates) are
  listed as self-transitions so that they are guarded the same way.

STATES:
  pending_approval --approve--> approved
  approved --deposit--> active            (first deposit activates)
  approved --activate--> active
  active --mature--> matured
  active --renew--> active                (fresh term)
  active --premature_close--> prematurely_closed
  matured --close--> closed

  matured, prematurely_closed and closed are terminal for money movement.

GUARD FAILURES:
  A disallowed action returns a *generic.StateTransitionError before any
  write happens, so the account is left exactly as loaded.
*/
package deposit

import (
	"github.com/warp/deposit-engine/generic"
)

type Action string

const (
	ActApprove            Action = "approve"
	ActActivate           Action = "activate"
	ActDeposit            Action = "deposit"
	ActWithdraw           Action = "withdraw"
	ActPostInterest       Action = "post_interest"
	ActApplyPenalty       Action = "apply_penalty"
	ActMature             Action = "mature"
	ActRenew              Action = "renew"
	ActPrematureClose     Action = "premature_close"
	ActUpdateInstructions Action = "update_instructions"
	ActClose              Action = "close"
)

type transitionKey struct {
	from   Status
	action Action
}

var transitions = map[transitionKey]Status{
	{StatusPendingApproval, ActApprove}: StatusApproved,

	{StatusApproved, ActActivate}: StatusActive,
	{StatusApproved, ActDeposit}:  StatusActive,

	{StatusActive, ActDeposit}:            StatusActive,
	{StatusActive, ActWithdraw}:           StatusActive,
	{StatusActive, ActPostInterest}:       StatusActive,
	{StatusActive, ActApplyPenalty}:       StatusActive,
	{StatusActive, ActUpdateInstructions}: StatusActive,
	{StatusActive, ActRenew}:              StatusActive,
	{StatusActive, ActMature}:             StatusMatured,
	{StatusActive, ActPrematureClose}:     StatusPrematurelyClosed,

	{StatusMatured, ActClose}: StatusClosed,
}

// NextStatus returns the status reached by performing action from status.
func NextStatus(from Status, action Action) (Status, bool) {
	to, ok := transitions[transitionKey{from, action}]
	return to, ok
}

// Allowed reports whether the action is legal for the account right now.
func (a *Account) Allowed(action Action) bool {
	_, ok := NextStatus(a.Status, action)
	return ok
}

// guard checks the action without mutating the account.
func (a *Account) guard(action Action) (Status, error) {
	to, ok := NextStatus(a.Status, action)
	if !ok {
		return "", &generic.StateTransitionError{
			AccountID: a.ID,
			From:      string(a.Status),
			Action:    string(action),
		}
	}
	return to, nil
}

// transition moves the account and stamps the date the new status implies.
// It returns true when the status actually changed.
func (a *Account) transition(action Action, on generic.TimePoint) (bool, error) {
	to, err := a.guard(action)
	if err != nil {
		return false, err
	}
	changed := to != a.Status
	a.Status = to

	switch action {
	case ActApprove:
		a.ApprovedOn = on
	case ActActivate, ActDeposit:
		if changed {
			a.ActivatedOn = on
			if a.TermStartDate.IsZero() {
				a.TermStartDate = on
			}
		}
	case ActMature:
		a.ActualMaturityDate = on
	case ActPrematureClose, ActClose:
		a.ClosedOn = on
	}
	return changed, nil
}
