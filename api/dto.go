/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the deposit model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Amounts and rates are decimal strings ("1000.50"); numbers are accepted
  on input. Dates are "YYYY-MM-DD"; an omitted date means today.

VALIDATION:
  Validation is done by the deposit service, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/product.go: ProductJSON type
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateAccountRequest submits a new account application.
type CreateAccountRequest struct {
	ProductID                string            `json:"product_id"`
	ClientID                 string            `json:"client_id"`
	GroupID                  string            `json:"group_id,omitempty"`
	DepositAmount            decimal.Decimal   `json:"deposit_amount"`
	DepositTerm              *factory.TermJSON `json:"deposit_term,omitempty"`
	RecurringFrequency       *factory.TermJSON `json:"recurring_frequency,omitempty"`
	SubmittedOn              generic.TimePoint `json:"submitted_on"`
	ExpectedFirstDepositOn   generic.TimePoint `json:"expected_first_deposit_on"`
	NominalAnnualRate        *decimal.Decimal  `json:"nominal_annual_rate,omitempty"`
	ClosureType              string            `json:"closure_type,omitempty"`
	TransferToAccountID      string            `json:"transfer_to_account_id,omitempty"`
	LinkedAccountID          string            `json:"linked_account_id,omitempty"`
	TransferInterestToLinked bool              `json:"transfer_interest_to_linked,omitempty"`
	AllowWithdrawal          *bool             `json:"allow_withdrawal,omitempty"`
	AllowPrematureClosure    *bool             `json:"allow_premature_closure,omitempty"`
	AllowRenewal             *bool             `json:"allow_renewal,omitempty"`
}

type ApproveRequest struct {
	ApprovedOn generic.TimePoint `json:"approved_on"`
	Note       string            `json:"note,omitempty"`
}

// MoneyRequest is the body of deposits and withdrawals.
type MoneyRequest struct {
	Amount            decimal.Decimal   `json:"amount"`
	Date              generic.TimePoint `json:"date"`
	InstallmentNumber int               `json:"installment_number,omitempty"`
	PaymentDetail     string            `json:"payment_detail,omitempty"`
}

// PostInterestRequest posts interest. A zero amount posts the calculated
// interest for the window.
type PostInterestRequest struct {
	Amount      decimal.Decimal   `json:"amount"`
	From        generic.TimePoint `json:"from"`
	To          generic.TimePoint `json:"to"`
	PostingDate generic.TimePoint `json:"posting_date"`
}

type MaturityRequest struct {
	MaturedOn           generic.TimePoint `json:"matured_on"`
	ClosureType         string            `json:"closure_type,omitempty"`
	TransferToAccountID string            `json:"transfer_to_account_id,omitempty"`
}

// DateRequest carries the effective date of renew and close.
type DateRequest struct {
	Date generic.TimePoint `json:"date"`
}

type PrematureClosureRequest struct {
	ClosedOn            generic.TimePoint `json:"closed_on"`
	Reason              string            `json:"reason,omitempty"`
	ClosureType         string            `json:"closure_type,omitempty"`
	TransferToAccountID string            `json:"transfer_to_account_id,omitempty"`
}

type MaturityInstructionsRequest struct {
	ClosureType         string `json:"closure_type"`
	TransferToAccountID string `json:"transfer_to_account_id,omitempty"`
}

type MaturityOptionsRequest struct {
	AllowRenewal             *bool   `json:"allow_renewal,omitempty"`
	TransferInterestToLinked *bool   `json:"transfer_interest_to_linked,omitempty"`
	LinkedAccountID          *string `json:"linked_account_id,omitempty"`
}

type WaivePenaltyRequest struct {
	Reason   string            `json:"reason"`
	WaivedOn generic.TimePoint `json:"waived_on"`
}

type JobRequest struct {
	AsOf           generic.TimePoint `json:"as_of"`
	ApplyPenalties bool              `json:"apply_penalties"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID                       string            `json:"id"`
	ClientID                 string            `json:"client_id"`
	GroupID                  string            `json:"group_id,omitempty"`
	ProductID                string            `json:"product_id"`
	Status                   string            `json:"status"`
	Currency                 string            `json:"currency"`
	DepositAmount            decimal.Decimal   `json:"deposit_amount"`
	DepositTerm              factory.TermJSON  `json:"deposit_term"`
	RecurringFrequency       factory.TermJSON  `json:"recurring_frequency"`
	NominalAnnualRate        decimal.Decimal   `json:"nominal_annual_rate"`
	Compounding              string            `json:"compounding"`
	Balance                  decimal.Decimal   `json:"balance"`
	TotalDeposits            decimal.Decimal   `json:"total_deposits"`
	TotalWithdrawals         decimal.Decimal   `json:"total_withdrawals"`
	InterestEarned           decimal.Decimal   `json:"interest_earned"`
	TotalWithholdings        decimal.Decimal   `json:"total_withholdings"`
	ChargesOutstanding       decimal.Decimal   `json:"charges_outstanding"`
	ExpectedMaturityDate     generic.TimePoint `json:"expected_maturity_date"`
	ExpectedMaturityAmount   decimal.Decimal   `json:"expected_maturity_amount"`
	ActualMaturityDate       generic.TimePoint `json:"actual_maturity_date"`
	MaturedAmount            decimal.Decimal   `json:"matured_amount"`
	ClosureType              string            `json:"closure_type"`
	TransferToAccountID      string            `json:"transfer_to_account_id,omitempty"`
	LinkedAccountID          string            `json:"linked_account_id,omitempty"`
	TransferInterestToLinked bool              `json:"transfer_interest_to_linked"`
	AllowWithdrawal          bool              `json:"allow_withdrawal"`
	AllowPrematureClosure    bool              `json:"allow_premature_closure"`
	AllowRenewal             bool              `json:"allow_renewal"`
	SubmittedOn              generic.TimePoint `json:"submitted_on"`
	ApprovedOn               generic.TimePoint `json:"approved_on"`
	ActivatedOn              generic.TimePoint `json:"activated_on"`
	LastInterestPostedOn     generic.TimePoint `json:"last_interest_posted_on"`
	ClosedOn                 generic.TimePoint `json:"closed_on"`
	RenewalCount             int               `json:"renewal_count"`
	OverdueInstallments      int               `json:"overdue_installments"`
	OverdueAmount            decimal.Decimal   `json:"overdue_amount"`
	Version                  int               `json:"version"`
}

type InstallmentDTO struct {
	Number           int               `json:"number"`
	DueDate          generic.TimePoint `json:"due_date"`
	ExpectedAmount   decimal.Decimal   `json:"expected_amount"`
	AmountCompleted  decimal.Decimal   `json:"amount_completed"`
	PaidEarly        decimal.Decimal   `json:"paid_early"`
	PaidLate         decimal.Decimal   `json:"paid_late"`
	Completed        bool              `json:"completed"`
	ObligationsMetOn generic.TimePoint `json:"obligations_met_on"`
}

// TransactionDTO represents a ledger transaction in API responses.
type TransactionDTO struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Date              generic.TimePoint `json:"date"`
	RunningBalance    decimal.Decimal   `json:"running_balance"`
	InstallmentNumber int               `json:"installment_number,omitempty"`
	Reversed          bool              `json:"reversed"`
	ReferenceID       string            `json:"reference_id,omitempty"`
	Reason            string            `json:"reason,omitempty"`
}

type PenaltyDTO struct {
	ID                string            `json:"id"`
	InstallmentNumber int               `json:"installment_number"`
	TierNumber        int               `json:"tier_number"`
	Type              string            `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	DaysOverdue       int               `json:"days_overdue"`
	Occurrence        int               `json:"occurrence"`
	AppliedOn         generic.TimePoint `json:"applied_on"`
	Waived            bool              `json:"waived"`
	WaivedOn          generic.TimePoint `json:"waived_on"`
	WaiveReason       string            `json:"waive_reason,omitempty"`
}

type AllocationDTO struct {
	InstallmentNumber int             `json:"installment_number"`
	Amount            decimal.Decimal `json:"amount"`
}

type TransactionResultDTO struct {
	TransactionID string            `json:"transaction_id"`
	AccountID     string            `json:"account_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Date          generic.TimePoint `json:"date"`
	Balance       decimal.Decimal   `json:"balance"`
	Status        string            `json:"status"`
	Allocations   []AllocationDTO   `json:"allocations,omitempty"`
}

type InterestCalculationDTO struct {
	AccountID      string            `json:"account_id"`
	From           generic.TimePoint `json:"from"`
	To             generic.TimePoint `json:"to"`
	Days           int               `json:"days"`
	DaysInYear     int               `json:"days_in_year"`
	Convention     string            `json:"convention"`
	AnnualRate     decimal.Decimal   `json:"annual_rate"`
	OpeningBalance decimal.Decimal   `json:"opening_balance"`
	ClosingBalance decimal.Decimal   `json:"closing_balance"`
	Amount         decimal.Decimal   `json:"amount"`
}

type InterestPostingDTO struct {
	TransactionID string            `json:"transaction_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Withheld      decimal.Decimal   `json:"withheld"`
	Swept         decimal.Decimal   `json:"swept"`
	Date          generic.TimePoint `json:"date"`
	Balance       decimal.Decimal   `json:"balance"`
}

type RenewalDTO struct {
	RenewedOn              generic.TimePoint `json:"renewed_on"`
	InterestPosted         decimal.Decimal   `json:"interest_posted"`
	CarriedBalance         decimal.Decimal   `json:"carried_balance"`
	NewMaturityDate        generic.TimePoint `json:"new_maturity_date"`
	ExpectedMaturityAmount decimal.Decimal   `json:"expected_maturity_amount"`
	Installments           int               `json:"installments"`
	RenewalCount           int               `json:"renewal_count"`
}

type MaturityDTO struct {
	AccountID        string            `json:"account_id"`
	ClosureType      string            `json:"closure_type"`
	MaturityAmount   decimal.Decimal   `json:"maturity_amount"`
	ChargesCollected decimal.Decimal   `json:"charges_collected"`
	Payout           decimal.Decimal   `json:"payout"`
	InterestPosted   decimal.Decimal   `json:"interest_posted"`
	TransactionID    string            `json:"transaction_id,omitempty"`
	TransferredTo    string            `json:"transferred_to,omitempty"`
	MaturedOn        generic.TimePoint `json:"matured_on"`
	Renewal          *RenewalDTO       `json:"renewal,omitempty"`
}

type PrematureClosureDTO struct {
	AccountID       string            `json:"account_id"`
	ClosureDate     generic.TimePoint `json:"closure_date"`
	DaysCompleted   int               `json:"days_completed"`
	TotalTermDays   int               `json:"total_term_days"`
	TotalDeposits   decimal.Decimal   `json:"total_deposits"`
	InterestPosted  decimal.Decimal   `json:"interest_posted"`
	InterestAccrued decimal.Decimal   `json:"interest_accrued"`
	TotalInterest   decimal.Decimal   `json:"total_interest"`
	WithholdingTax  decimal.Decimal   `json:"withholding_tax"`
	InterestSwept   decimal.Decimal   `json:"interest_swept"`
	PenaltyRate     decimal.Decimal   `json:"penalty_rate"`
	PenaltyBase     string            `json:"penalty_base"`
	PenaltyAmount   decimal.Decimal   `json:"penalty_amount"`
	Charges         decimal.Decimal   `json:"charges"`
	Payout          decimal.Decimal   `json:"payout"`
	TransactionID   string            `json:"transaction_id,omitempty"`
}

type AppliedPenaltyDTO struct {
	PenaltyID         string          `json:"penalty_id"`
	AccountID         string          `json:"account_id"`
	InstallmentNumber int             `json:"installment_number"`
	TierNumber        int             `json:"tier_number"`
	Type              string          `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	DaysOverdue       int             `json:"days_overdue"`
	Occurrence        int             `json:"occurrence"`
}

type BatchFailureDTO struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

type TrackingSummaryDTO struct {
	AsOf                generic.TimePoint   `json:"as_of"`
	AccountsChecked     int                 `json:"accounts_checked"`
	AccountsWithOverdue int                 `json:"accounts_with_overdue"`
	OverdueInstallments int                 `json:"overdue_installments"`
	OverdueAmount       decimal.Decimal     `json:"overdue_amount"`
	PenaltiesApplied    int                 `json:"penalties_applied"`
	PenaltyAmount       decimal.Decimal     `json:"penalty_amount"`
	Penalties           []AppliedPenaltyDTO `json:"penalties"`
	Failures            []BatchFailureDTO   `json:"failures"`
}

type PenaltySummaryDTO struct {
	AsOf               generic.TimePoint   `json:"as_of"`
	AccountsProcessed  int                 `json:"accounts_processed"`
	PenaltiesApplied   int                 `json:"penalties_applied"`
	TotalPenaltyAmount decimal.Decimal     `json:"total_penalty_amount"`
	Penalties          []AppliedPenaltyDTO `json:"penalties"`
	Failures           []BatchFailureDTO   `json:"failures"`
}

type JobRunDTO struct {
	AsOf    generic.TimePoint  `json:"as_of"`
	Summary TrackingSummaryDTO `json:"summary"`
	Error   string             `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func termJSON(t generic.Term) factory.TermJSON {
	return factory.TermJSON{Value: t.Value, Unit: string(t.Unit)}
}

func toAccountDTO(a *deposit.Account) AccountDTO {
	return AccountDTO{
		ID:                       string(a.ID),
		ClientID:                 a.ClientID,
		GroupID:                  a.GroupID,
		ProductID:                string(a.ProductID),
		Status:                   string(a.Status),
		Currency:                 a.Currency.Code,
		DepositAmount:            a.DepositAmount,
		DepositTerm:              termJSON(a.DepositTerm),
		RecurringFrequency:       termJSON(a.RecurringFrequency),
		NominalAnnualRate:        a.NominalAnnualRate,
		Compounding:              string(a.Compounding),
		Balance:                  a.Balance(),
		TotalDeposits:            a.TotalDeposits,
		TotalWithdrawals:         a.TotalWithdrawals,
		InterestEarned:           a.InterestEarned,
		TotalWithholdings:        a.TotalWithholdings,
		ChargesOutstanding:       a.ChargesOutstanding,
		ExpectedMaturityDate:     a.ExpectedMaturityDate,
		ExpectedMaturityAmount:   a.ExpectedMaturityAmount,
		ActualMaturityDate:       a.ActualMaturityDate,
		MaturedAmount:            a.MaturedAmount,
		ClosureType:              string(a.ClosureType),
		TransferToAccountID:      string(a.TransferToAccountID),
		LinkedAccountID:          string(a.LinkedAccountID),
		TransferInterestToLinked: a.TransferInterestToLinked,
		AllowWithdrawal:          a.AllowWithdrawal,
		AllowPrematureClosure:    a.AllowPrematureClosure,
		AllowRenewal:             a.AllowRenewal,
		SubmittedOn:              a.SubmittedOn,
		ApprovedOn:               a.ApprovedOn,
		ActivatedOn:              a.ActivatedOn,
		LastInterestPostedOn:     a.LastInterestPostedOn,
		ClosedOn:                 a.ClosedOn,
		RenewalCount:             a.RenewalCount,
		OverdueInstallments:      a.Overdue.Installments,
		OverdueAmount:            a.Overdue.Amount,
		Version:                  a.Version,
	}
}

func toInstallmentDTOs(insts []deposit.ScheduleInstallment) []InstallmentDTO {
	out := make([]InstallmentDTO, 0, len(insts))
	for _, i := range insts {
		out = append(out, InstallmentDTO{
			Number:           i.Number,
			DueDate:          i.DueDate,
			ExpectedAmount:   i.ExpectedAmount,
			AmountCompleted:  i.AmountCompleted,
			PaidEarly:        i.PaidEarly,
			PaidLate:         i.PaidLate,
			Completed:        i.Completed,
			ObligationsMetOn: i.ObligationsMetOn,
		})
	}
	return out
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionDTO{
			ID:                string(tx.ID),
			Type:              string(tx.Type),
			Amount:            tx.Amount,
			Date:              tx.Date,
			RunningBalance:    tx.RunningBalance,
			InstallmentNumber: tx.InstallmentNumber,
			Reversed:          tx.Reversed,
			ReferenceID:       tx.ReferenceID,
			Reason:            tx.Reason,
		})
	}
	return out
}

func toPenaltyDTO(p deposit.PenaltyHistory) PenaltyDTO {
	return PenaltyDTO{
		ID:                string(p.ID),
		InstallmentNumber: p.InstallmentNumber,
		TierNumber:        p.TierNumber,
		Type:              string(p.PenaltyType),
		Amount:            p.Amount,
		DaysOverdue:       p.DaysOverdue,
		Occurrence:        p.Occurrence,
		AppliedOn:         p.AppliedOn,
		Waived:            p.Waived,
		WaivedOn:          p.WaivedOn,
		WaiveReason:       p.WaiveReason,
	}
}

func toTransactionResultDTO(r deposit.TransactionResult) TransactionResultDTO {
	dto := TransactionResultDTO{
		TransactionID: string(r.TransactionID),
		AccountID:     string(r.AccountID),
		Amount:        r.Amount,
		Date:          r.Date,
		Balance:       r.Balance,
		Status:        string(r.Status),
	}
	for _, a := range r.Allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{InstallmentNumber: a.Number, Amount: a.Amount})
	}
	return dto
}

func toInterestCalculationDTO(c deposit.InterestCalculation) InterestCalculationDTO {
	return InterestCalculationDTO{
		AccountID:      string(c.AccountID),
		From:           c.From,
		To:             c.To,
		Days:           c.Days,
		DaysInYear:     c.DaysInYear,
		Convention:     string(c.Convention),
		AnnualRate:     c.AnnualRate,
		OpeningBalance: c.OpeningBalance,
		ClosingBalance: c.ClosingBalance,
		Amount:         c.Amount,
	}
}

func toInterestPostingDTO(p deposit.InterestPosting) InterestPostingDTO {
	return InterestPostingDTO{
		TransactionID: string(p.TransactionID),
		Amount:        p.Amount,
		Withheld:      p.Withheld,
		Swept:         p.Swept,
		Date:          p.Date,
		Balance:       p.Balance,
	}
}

func toRenewalDTO(r deposit.RenewalResult) RenewalDTO {
	return RenewalDTO{
		RenewedOn:              r.RenewedOn,
		InterestPosted:         r.InterestPosted,
		CarriedBalance:         r.CarriedBalance,
		NewMaturityDate:        r.NewMaturityDate,
		ExpectedMaturityAmount: r.ExpectedMaturityAmount,
		Installments:           r.Installments,
		RenewalCount:           r.RenewalCount,
	}
}

func toMaturityDTO(m deposit.MaturityResult) MaturityDTO {
	dto := MaturityDTO{
		AccountID:        string(m.AccountID),
		ClosureType:      string(m.ClosureType),
		MaturityAmount:   m.MaturityAmount,
		ChargesCollected: m.ChargesCollected,
		Payout:           m.Payout,
		InterestPosted:   m.InterestPosted,
		TransactionID:    string(m.TransactionID),
		TransferredTo:    string(m.TransferredTo),
		MaturedOn:        m.MaturedOn,
	}
	if m.Renewal != nil {
		r := toRenewalDTO(*m.Renewal)
		dto.Renewal = &r
	}
	return dto
}

func toPrematureClosureDTO(q deposit.PrematureClosureQuote, txID generic.TransactionID) PrematureClosureDTO {
	return PrematureClosureDTO{
		AccountID:       string(q.AccountID),
		ClosureDate:     q.ClosureDate,
		DaysCompleted:   q.DaysCompleted,
		TotalTermDays:   q.TotalTermDays,
		TotalDeposits:   q.TotalDeposits,
		InterestPosted:  q.InterestPosted,
		InterestAccrued: q.InterestAccrued,
		TotalInterest:   q.TotalInterest,
		WithholdingTax:  q.WithholdingTax,
		InterestSwept:   q.InterestSwept,
		PenaltyRate:     q.PenaltyRate,
		PenaltyBase:     string(q.PenaltyBase),
		PenaltyAmount:   q.PenaltyAmount,
		Charges:         q.Charges,
		Payout:          q.Payout,
		TransactionID:   string(txID),
	}
}

func toAppliedPenaltyDTOs(ps []deposit.AppliedPenalty) []AppliedPenaltyDTO {
	out := make([]AppliedPenaltyDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, AppliedPenaltyDTO{
			PenaltyID:         string(p.PenaltyID),
			AccountID:         string(p.AccountID),
			InstallmentNumber: p.InstallmentNumber,
			TierNumber:        p.TierNumber,
			Type:              string(p.Type),
			Amount:            p.Amount,
			DaysOverdue:       p.DaysOverdue,
			Occurrence:        p.Occurrence,
		})
	}
	return out
}

func toFailureDTOs(fs []deposit.BatchFailure) []BatchFailureDTO {
	out := make([]BatchFailureDTO, 0, len(fs))
	for _, f := range fs {
		out = append(out, BatchFailureDTO{AccountID: string(f.AccountID), Reason: f.Reason})
	}
	return out
}

func toTrackingSummaryDTO(s deposit.TrackingSummary) TrackingSummaryDTO {
	return TrackingSummaryDTO{
		AsOf:                s.AsOf,
		AccountsChecked:     s.AccountsChecked,
		AccountsWithOverdue: s.AccountsWithOverdue,
		OverdueInstallments: s.OverdueInstallments,
		OverdueAmount:       s.OverdueAmount,
		PenaltiesApplied:    s.PenaltiesApplied,
		PenaltyAmount:       s.PenaltyAmount,
		Penalties:           toAppliedPenaltyDTOs(s.Penalties),
		Failures:            toFailureDTOs(s.Failures),
	}
}

func toPenaltySummaryDTO(s deposit.PenaltySummary) PenaltySummaryDTO {
	return PenaltySummaryDTO{
		AsOf:               s.AsOf,
		AccountsProcessed:  s.AccountsProcessed,
		PenaltiesApplied:   s.PenaltiesApplied,
		TotalPenaltyAmount: s.TotalPenaltyAmount,
		Penalties:          toAppliedPenaltyDTOs(s.Penalties),
		Failures:           toFailureDTOs(s.Failures),
	}
}
