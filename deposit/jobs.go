/*
jobs.go - Batch installment tracking and penalty application

PURPOSE:
  Periodic jobs run over every active account as of a date. They are plain
  Service methods so they can be triggered on demand (HTTP) or on a schedule
  (api.JobScheduler); neither caller is special.

ISOLATION:
  Accounts are processed sequentially, each inside its own store
  transaction. A failure on one account rolls back that account only, is
  recorded in the summary's Failures list and the run moves on.

RE-RUNS:
  Tracking only rewrites the overdue summary, so re-running for the same date
  is harmless. Penalty application relies on the per-installment occurrence
  count (penalty.go) to avoid charging twice.
*/
package deposit

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/deposit-engine/generic"
)

// BatchFailure identifies an account a batch run could not process.
type BatchFailure struct {
	AccountID generic.AccountID
	Reason    string
}

type TrackingSummary struct {
	AsOf                generic.TimePoint
	AccountsChecked     int
	AccountsWithOverdue int
	OverdueInstallments int
	OverdueAmount       decimal.Decimal
	PenaltiesApplied    int
	PenaltyAmount       decimal.Decimal
	Penalties           []AppliedPenalty
	Failures            []BatchFailure
}

type PenaltySummary struct {
	AsOf               generic.TimePoint
	AccountsProcessed  int
	PenaltiesApplied   int
	TotalPenaltyAmount decimal.Decimal
	Penalties          []AppliedPenalty
	Failures           []BatchFailure
}

// Succeeded reports whether every account was processed.
func (s TrackingSummary) Succeeded() bool { return len(s.Failures) == 0 }
func (s PenaltySummary) Succeeded() bool  { return len(s.Failures) == 0 }

// =============================================================================
// TRACK INSTALLMENTS
// =============================================================================

// TrackInstallments refreshes the overdue summary of every active account
// and, when applyPenalties is set, charges penalties in the same pass.
func (s *Service) TrackInstallments(ctx context.Context, asOf generic.TimePoint, applyPenalties bool) (TrackingSummary, error) {
	sum := TrackingSummary{AsOf: asOf, OverdueAmount: decimal.Zero, PenaltyAmount: decimal.Zero}
	if asOf.IsZero() {
		return sum, &generic.FieldError{Field: "as_of", Message: "required"}
	}
	accounts, err := s.store.ListAccountsByStatus(ctx, StatusActive)
	if err != nil {
		return sum, err
	}

	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.AccountsChecked++

		var (
			overdue []OverdueInstallment
			applied []AppliedPenalty
			prod    *Product
		)
		if applyPenalties {
			var err error
			if prod, err = s.product(ctx, a); err != nil {
				s.fail(&sum.Failures, a.ID, "track installments", err)
				continue
			}
		}
		_, err := s.mutate(ctx, a.ID, func(st Store, acc *Account) error {
			schedule, err := st.ListInstallments(ctx, acc.ID)
			if err != nil {
				return err
			}
			overdue = OverdueInstallments(schedule, asOf)
			acc.Overdue = Summarize(overdue, asOf)
			if !applyPenalties || len(overdue) == 0 {
				return nil
			}
			applied, err = s.applyPenalties(ctx, st, acc, prod, overdue, asOf)
			return err
		})
		if err != nil {
			s.fail(&sum.Failures, a.ID, "track installments", err)
			continue
		}

		if len(overdue) > 0 {
			sum.AccountsWithOverdue++
		}
		for _, o := range overdue {
			sum.OverdueInstallments++
			sum.OverdueAmount = sum.OverdueAmount.Add(o.Amount)
		}
		for _, p := range applied {
			sum.PenaltiesApplied++
			sum.PenaltyAmount = sum.PenaltyAmount.Add(p.Amount)
		}
		sum.Penalties = append(sum.Penalties, applied...)
	}

	s.log.WithFields(logrus.Fields{
		"as_of":     asOf.String(),
		"accounts":  sum.AccountsChecked,
		"overdue":   sum.OverdueInstallments,
		"amount":    sum.OverdueAmount.String(),
		"penalties": sum.PenaltiesApplied,
		"failures":  len(sum.Failures),
	}).Info("installments tracked")
	return sum, nil
}

// =============================================================================
// APPLY PENALTIES
// =============================================================================

// ApplyPenalties charges penalties on every overdue installment of every
// active account.
func (s *Service) ApplyPenalties(ctx context.Context, asOf generic.TimePoint) (PenaltySummary, error) {
	sum := PenaltySummary{AsOf: asOf, TotalPenaltyAmount: decimal.Zero}
	if asOf.IsZero() {
		return sum, &generic.FieldError{Field: "as_of", Message: "required"}
	}
	accounts, err := s.store.ListAccountsByStatus(ctx, StatusActive)
	if err != nil {
		return sum, err
	}

	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		prod, err := s.product(ctx, a)
		if err != nil {
			s.fail(&sum.Failures, a.ID, "apply penalties", err)
			continue
		}
		var applied []AppliedPenalty
		_, err = s.mutate(ctx, a.ID, func(st Store, acc *Account) error {
			schedule, err := st.ListInstallments(ctx, acc.ID)
			if err != nil {
				return err
			}
			overdue := OverdueInstallments(schedule, asOf)
			if len(overdue) == 0 {
				return nil
			}
			applied, err = s.applyPenalties(ctx, st, acc, prod, overdue, asOf)
			return err
		})
		if err != nil {
			s.fail(&sum.Failures, a.ID, "apply penalties", err)
			continue
		}
		sum.AccountsProcessed++
		for _, p := range applied {
			sum.PenaltiesApplied++
			sum.TotalPenaltyAmount = sum.TotalPenaltyAmount.Add(p.Amount)
		}
		sum.Penalties = append(sum.Penalties, applied...)
	}

	s.log.WithFields(logrus.Fields{
		"as_of":     asOf.String(),
		"accounts":  sum.AccountsProcessed,
		"penalties": sum.PenaltiesApplied,
		"amount":    sum.TotalPenaltyAmount.String(),
		"failures":  len(sum.Failures),
	}).Info("penalties applied")
	return sum, nil
}

func (s *Service) fail(list *[]BatchFailure, id generic.AccountID, op string, err error) {
	s.log.WithFields(logrus.Fields{"account_id": id, "op": op}).WithError(err).Warn("batch item failed")
	*list = append(*list, BatchFailure{AccountID: id, Reason: err.Error()})
}

// applyPenalties evaluates and books penalties for one locked account. The
// caller owns the transaction, resolves the product and saves the account.
func (s *Service) applyPenalties(ctx context.Context, st Store, acc *Account, p *Product, overdue []OverdueInstallment, asOf generic.TimePoint) ([]AppliedPenalty, error) {
	if _, err := acc.guard(ActApplyPenalty); err != nil {
		return nil, err
	}
	if !p.Penalties.Enabled {
		return nil, nil
	}

	var (
		applied    []AppliedPenalty
		chargeType *ChargeType
	)
	for _, o := range overdue {
		existing, err := st.CountPenalties(ctx, acc.ID, o.Installment.Number)
		if err != nil {
			return nil, err
		}
		d := EvaluatePenalty(p.Penalties, o.Installment, asOf, existing, acc.Currency)
		if !d.Apply {
			continue
		}

		if chargeType == nil {
			ct, err := st.UpsertChargeType(ctx, MissedInstallmentCharge, acc.Currency.Code)
			if err != nil {
				return nil, err
			}
			chargeType = &ct
		}

		penaltyID := PenaltyID(s.newID())
		chargeID := ChargeID(s.newID())
		tx, err := s.record(ctx, st, acc, generic.Transaction{
			Type:              generic.TxPenaltyCharge,
			Amount:            d.Amount,
			Date:              asOf,
			InstallmentNumber: o.Installment.Number,
			ReferenceID:       string(penaltyID),
			Reason:            "missed installment " + strconv.Itoa(o.Installment.Number),
		})
		if err != nil {
			return nil, err
		}
		if err := st.SaveCharge(ctx, Charge{
			ID:                chargeID,
			AccountID:         acc.ID,
			ChargeTypeID:      chargeType.ID,
			Amount:            d.Amount,
			AmountOutstanding: d.Amount,
			DueDate:           asOf,
			InstallmentNumber: o.Installment.Number,
			TransactionID:     tx.ID,
		}); err != nil {
			return nil, err
		}
		if err := st.SavePenalty(ctx, PenaltyHistory{
			ID:                penaltyID,
			AccountID:         acc.ID,
			InstallmentNumber: o.Installment.Number,
			ChargeID:          chargeID,
			TierNumber:        d.TierNumber,
			PenaltyType:       d.Type,
			Amount:            d.Amount,
			DaysOverdue:       d.DaysOverdue,
			Occurrence:        d.Occurrence,
			AppliedOn:         asOf,
		}); err != nil {
			return nil, err
		}

		applied = append(applied, AppliedPenalty{
			PenaltyID:         penaltyID,
			AccountID:         acc.ID,
			InstallmentNumber: o.Installment.Number,
			TierNumber:        d.TierNumber,
			Type:              d.Type,
			Amount:            d.Amount,
			DaysOverdue:       d.DaysOverdue,
			Occurrence:        d.Occurrence,
		})
	}
	return applied, nil
}
