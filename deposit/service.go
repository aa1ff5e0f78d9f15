/*
service.go - One method per account operation

PURPOSE:
  The Service is the entry point for callers (HTTP adapter, scheduler,
  tests). Each mutating method is a single unit of work:

    1. open a store transaction
    2. lock the account row
    3. ask the state machine (lifecycle.go)
    4. run the calculator (interest / schedule / penalty / maturity)
    5. append ledger rows, update installments and totals
    6. check the balance invariant and save the account

  Any error in steps 2-6 rolls everything back, so an operation either
  happens completely or not at all. Read methods go straight to the store.

TOTALS AND LEDGER:
  record() is the only place a ledger row is written and it moves the
  matching account total in the same call, so totals and ledger cannot
  drift apart.

SEE ALSO:
  - maturity.go: maturity, renewal, premature closure
  - jobs.go: batch installment tracking and penalty application
*/
package deposit

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store   TxStore
	catalog ProductCatalog
	log     logrus.FieldLogger
	newID   func() string
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

// WithIDGenerator replaces the UUID generator (deterministic ids in tests).
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func WithClock(f func() time.Time) Option { return func(s *Service) { s.now = f } }

func NewService(store TxStore, catalog ProductCatalog, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		log:     logrus.StandardLogger(),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutate loads the account for update, runs fn and saves the account, all in
// one store transaction.
func (s *Service) mutate(ctx context.Context, id generic.AccountID, fn func(st Store, acc *Account) error) (*Account, error) {
	return s.mutateLocked(ctx, id, nil, fn)
}

// mutateWith is mutate for operations that need the product or move money to
// other accounts. Both are resolved from a plain read before the transaction
// opens, so the catalog is never consulted while it holds a connection. The
// counterparties are locked together with the account, in id order.
func (s *Service) mutateWith(ctx context.Context, id generic.AccountID, counterparties func(*Account) []generic.AccountID, fn func(st Store, acc *Account, p *Product) error) (*Account, error) {
	cur, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.product(ctx, cur)
	if err != nil {
		return nil, err
	}
	var others []generic.AccountID
	if counterparties != nil {
		others = counterparties(cur)
	}
	return s.mutateLocked(ctx, id, others, func(st Store, acc *Account) error {
		return fn(st, acc, p)
	})
}

func (s *Service) mutateLocked(ctx context.Context, id generic.AccountID, others []generic.AccountID, fn func(st Store, acc *Account) error) (*Account, error) {
	var out *Account
	err := s.store.WithTx(ctx, func(st Store) error {
		var acc *Account
		for _, lid := range lockOrder(id, others) {
			locked, err := st.LockAccount(ctx, lid)
			// a missing counterparty is reported by the transfer itself
			if err != nil && (lid == id || !generic.IsNotFound(err)) {
				return err
			}
			if lid == id {
				acc = locked
			}
		}
		if err := fn(st, acc); err != nil {
			return err
		}
		if err := s.save(ctx, st, acc); err != nil {
			return err
		}
		out = acc
		return nil
	})
	return out, err
}

// lockOrder returns id and the distinct non-empty others, sorted.
func lockOrder(id generic.AccountID, others []generic.AccountID) []generic.AccountID {
	ids := []generic.AccountID{id}
	for _, o := range others {
		if o != "" && !slices.Contains(ids, o) {
			ids = append(ids, o)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Service) save(ctx context.Context, st Store, acc *Account) error {
	if acc.Balance().IsNegative() {
		return &generic.InsufficientBalanceError{
			AccountID: acc.ID,
			Available: acc.Currency.Format(acc.Balance()),
			Requested: "0",
		}
	}
	acc.UpdatedAt = s.now()
	return st.UpdateAccount(ctx, acc)
}

// record appends a ledger row and moves the total its type belongs to.
func (s *Service) record(ctx context.Context, st Store, acc *Account, tx generic.Transaction) (generic.Transaction, error) {
	switch tx.Type {
	case generic.TxDeposit:
		acc.TotalDeposits = acc.TotalDeposits.Add(tx.Amount)
	case generic.TxWithdrawal, generic.TxMaturityPayout, generic.TxPrematureClosure:
		acc.TotalWithdrawals = acc.TotalWithdrawals.Add(tx.Amount)
	case generic.TxInterestPosting:
		acc.InterestEarned = acc.InterestEarned.Add(tx.Amount)
	case generic.TxWithholding:
		acc.TotalWithholdings = acc.TotalWithholdings.Add(tx.Amount)
	case generic.TxPenaltyCharge:
		acc.ChargesOutstanding = acc.ChargesOutstanding.Add(tx.Amount)
	}
	tx.ID = generic.TransactionID(s.newID())
	tx.AccountID = acc.ID
	tx.RunningBalance = acc.Balance()
	tx.CreatedAt = s.now()
	if err := st.AppendTransaction(ctx, tx); err != nil {
		return generic.Transaction{}, fmt.Errorf("append %s: %w", tx.Type, err)
	}
	return tx, nil
}

// transfer moves amount out of src (as typ) into the target account as a deposit.
func (s *Service) transfer(ctx context.Context, st Store, src *Account, target generic.AccountID, typ generic.TransactionType, amount decimal.Decimal, on generic.TimePoint, reason string) (generic.Transaction, error) {
	if target == "" {
		return generic.Transaction{}, &generic.FieldError{Field: "transfer_to_account_id", Message: "required"}
	}
	if target == src.ID {
		return generic.Transaction{}, &generic.FieldError{Field: "transfer_to_account_id", Message: "must differ from the source account"}
	}
	// already locked when the caller named it as a counterparty
	dst, err := st.LockAccount(ctx, target)
	if err != nil {
		return generic.Transaction{}, err
	}
	if dst.Status != StatusActive {
		return generic.Transaction{}, &generic.PolicyViolationError{AccountID: dst.ID, Rule: "transfer target is not active"}
	}
	if dst.Currency.Code != src.Currency.Code {
		return generic.Transaction{}, &generic.PolicyViolationError{AccountID: dst.ID, Rule: "transfer target currency differs"}
	}

	out, err := s.record(ctx, st, src, generic.Transaction{
		Type: typ, Amount: amount, Date: on, Reason: reason, ReferenceID: string(dst.ID),
	})
	if err != nil {
		return generic.Transaction{}, err
	}
	if _, err := s.record(ctx, st, dst, generic.Transaction{
		Type: generic.TxDeposit, Amount: amount, Date: on, Reason: reason, ReferenceID: string(src.ID),
	}); err != nil {
		return generic.Transaction{}, err
	}
	if err := s.save(ctx, st, dst); err != nil {
		return generic.Transaction{}, err
	}
	return out, nil
}

func (s *Service) product(ctx context.Context, acc *Account) (*Product, error) {
	p, err := s.catalog.Product(ctx, acc.ProductID)
	if err != nil {
		return nil, fmt.Errorf("product for account %s: %w", acc.ID, err)
	}
	return p, nil
}

// =============================================================================
// CREATE / APPROVE
// =============================================================================

type CreateAccountRequest struct {
	ProductID     ProductID
	ClientID      string
	GroupID       string
	DepositAmount decimal.Decimal

	// Zero values fall back to the product.
	DepositTerm        generic.Term
	RecurringFrequency generic.Term

	SubmittedOn            generic.TimePoint
	ExpectedFirstDepositOn generic.TimePoint // defaults to SubmittedOn

	// Optional overrides
	NominalAnnualRate        *decimal.Decimal
	ClosureType              ClosureType
	TransferToAccountID      generic.AccountID
	LinkedAccountID          generic.AccountID
	TransferInterestToLinked bool
	AllowWithdrawal          *bool
	AllowPrematureClosure    *bool
	AllowRenewal             *bool
}

// CreateAccount submits a new account in pending_approval with its full
// installment schedule.
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	p, err := s.catalog.Product(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	acc, err := s.newAccount(p, req)
	if err != nil {
		return nil, err
	}
	n := generic.ExpectedNumberOfDeposits(acc.DepositTerm, acc.RecurringFrequency)
	schedule := GenerateSchedule(acc.ID, acc.TermStartDate, acc.RecurringFrequency, n, 1, acc.DepositAmount)
	acc.ExpectedMaturityAmount = acc.Currency.Round(generic.MaturityAmount(generic.MaturityInput{
		Opening:            decimal.Zero,
		DepositAmount:      acc.DepositAmount,
		NumberOfDeposits:   n,
		RecurringFrequency: acc.RecurringFrequency,
		Term:               acc.DepositTerm,
		AnnualRate:         acc.NominalAnnualRate,
		Compounding:        acc.Compounding,
	}))

	err = s.store.WithTx(ctx, func(st Store) error {
		if err := st.CreateAccount(ctx, acc); err != nil {
			return err
		}
		return st.SaveInstallments(ctx, schedule)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"account_id":   acc.ID,
		"product_id":   acc.ProductID,
		"installments": n,
		"maturity":     acc.ExpectedMaturityDate.String(),
	}).Info("account submitted")
	return acc, nil
}

func (s *Service) newAccount(p *Product, req CreateAccountRequest) (*Account, error) {
	if req.ClientID == "" && req.GroupID == "" {
		return nil, &generic.FieldError{Field: "client_id", Message: "client or group is required"}
	}
	if !req.DepositAmount.IsPositive() {
		return nil, &generic.FieldError{Field: "deposit_amount", Message: "must be greater than zero"}
	}
	if req.DepositAmount.LessThan(p.MinDepositAmount) {
		return nil, &generic.FieldError{Field: "deposit_amount", Message: "below product minimum " + p.Currency.Format(p.MinDepositAmount)}
	}
	if req.SubmittedOn.IsZero() {
		return nil, &generic.FieldError{Field: "submitted_on", Message: "required"}
	}

	term, freq := req.DepositTerm, req.RecurringFrequency
	if term.Value == 0 {
		term = p.DepositTerm
	}
	if freq.Value == 0 {
		freq = p.RecurringFrequency
	}
	if err := term.Validate("deposit_term"); err != nil {
		return nil, err
	}
	if err := freq.Validate("recurring_frequency"); err != nil {
		return nil, err
	}
	if generic.ExpectedNumberOfDeposits(term, freq) < 1 {
		return nil, &generic.FieldError{Field: "recurring_frequency", Message: "longer than the deposit term"}
	}

	first := req.ExpectedFirstDepositOn
	if first.IsZero() {
		first = req.SubmittedOn
	}
	if first.Before(req.SubmittedOn) {
		return nil, &generic.FieldError{Field: "expected_first_deposit_on", Message: "before submission date"}
	}

	closure := req.ClosureType
	if closure == "" {
		closure = p.DefaultClosureType
	}
	if closure == "" {
		closure = ClosureWithdraw
	}
	if !closure.Valid() {
		return nil, &generic.FieldError{Field: "closure_type", Message: fmt.Sprintf("unknown closure type %q", closure)}
	}
	if closure == ClosureTransferToSavings && req.TransferToAccountID == "" {
		return nil, &generic.FieldError{Field: "transfer_to_account_id", Message: "required for transfer_to_savings"}
	}
	if req.TransferInterestToLinked && req.LinkedAccountID == "" {
		return nil, &generic.FieldError{Field: "linked_account_id", Message: "required to transfer interest"}
	}

	rate := p.NominalAnnualRate
	if req.NominalAnnualRate != nil {
		if req.NominalAnnualRate.IsNegative() {
			return nil, &generic.FieldError{Field: "nominal_annual_rate", Message: "must not be negative"}
		}
		rate = *req.NominalAnnualRate
	}
	calc := p.CalculationType
	if calc == "" {
		calc = CalcDailyBalance
	}
	diy := p.DaysInYear
	if diy == "" {
		diy = DaysInYear365
	}

	now := s.now()
	return &Account{
		ID:                       generic.AccountID(s.newID()),
		ClientID:                 req.ClientID,
		GroupID:                  req.GroupID,
		ProductID:                p.ID,
		Status:                   StatusPendingApproval,
		Currency:                 p.Currency,
		DepositAmount:            req.DepositAmount,
		DepositTerm:              term,
		RecurringFrequency:       freq,
		NominalAnnualRate:        rate,
		Compounding:              p.Compounding,
		CalculationType:          calc,
		DaysInYear:               diy,
		AllowWithdrawal:          boolOr(req.AllowWithdrawal, p.AllowWithdrawal),
		AllowPrematureClosure:    boolOr(req.AllowPrematureClosure, p.AllowPrematureClosure),
		AllowRenewal:             boolOr(req.AllowRenewal, p.AllowRenewal),
		TotalDeposits:            decimal.Zero,
		TotalWithdrawals:         decimal.Zero,
		InterestEarned:           decimal.Zero,
		TotalWithholdings:        decimal.Zero,
		ChargesOutstanding:       decimal.Zero,
		MaturedAmount:            decimal.Zero,
		ExpectedMaturityDate:     term.AddTo(first, 1),
		ClosureType:              closure,
		TransferToAccountID:      req.TransferToAccountID,
		LinkedAccountID:          req.LinkedAccountID,
		TransferInterestToLinked: req.TransferInterestToLinked,
		SubmittedOn:              req.SubmittedOn,
		TermStartDate:            first,
		Overdue:                  OverdueSummary{Amount: decimal.Zero},
		CreatedAt:                now,
		UpdatedAt:                now,
	}, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// ApproveAccount moves a submitted account to approved.
func (s *Service) ApproveAccount(ctx context.Context, id generic.AccountID, on generic.TimePoint, note string) (*Account, error) {
	acc, err := s.mutate(ctx, id, func(_ Store, acc *Account) error {
		if _, err := acc.guard(ActApprove); err != nil {
			return err
		}
		if on.IsZero() || on.Before(acc.SubmittedOn) {
			return &generic.FieldError{Field: "approved_on", Message: "must be on or after submission date " + acc.SubmittedOn.String()}
		}
		acc.ApprovalNote = note
		_, err := acc.transition(ActApprove, on)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"account_id": id, "approved_on": on.String()}).Info("account approved")
	return acc, nil
}

// =============================================================================
// DEPOSIT / WITHDRAW
// =============================================================================

type DepositRequest struct {
	AccountID         generic.AccountID
	Amount            decimal.Decimal
	Date              generic.TimePoint
	InstallmentNumber int // 0 = earliest incomplete
	PaymentDetail     string
}

type TransactionResult struct {
	TransactionID generic.TransactionID
	AccountID     generic.AccountID
	Amount        decimal.Decimal
	Date          generic.TimePoint
	Balance       decimal.Decimal
	Status        Status
	Allocations   []Allocation
}

// Deposit credits the account and its schedule. The first deposit into an
// approved account activates it.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (TransactionResult, error) {
	if !req.Amount.IsPositive() {
		return TransactionResult{}, &generic.FieldError{Field: "amount", Message: "must be greater than zero"}
	}
	if req.Date.IsZero() {
		return TransactionResult{}, &generic.FieldError{Field: "transaction_date", Message: "required"}
	}

	var res TransactionResult
	acc, err := s.mutate(ctx, req.AccountID, func(st Store, acc *Account) error {
		if _, err := acc.guard(ActDeposit); err != nil {
			return err
		}
		if err := acc.checkPostingDate(req.Date); err != nil {
			return err
		}

		schedule, err := st.ListInstallments(ctx, acc.ID)
		if err != nil {
			return err
		}
		changed, allocs, err := ApplyDeposit(schedule, req.Amount, req.Date, req.InstallmentNumber)
		if err != nil {
			return err
		}
		for _, inst := range changed {
			if err := st.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
		}

		if _, err := acc.transition(ActDeposit, req.Date); err != nil {
			return err
		}
		tx, err := s.record(ctx, st, acc, generic.Transaction{
			Type:              generic.TxDeposit,
			Amount:            req.Amount,
			Date:              req.Date,
			InstallmentNumber: allocs[0].Number,
			PaymentDetail:     req.PaymentDetail,
		})
		if err != nil {
			return err
		}
		res = TransactionResult{TransactionID: tx.ID, Amount: tx.Amount, Date: tx.Date, Allocations: allocs}
		return nil
	})
	if err != nil {
		return TransactionResult{}, err
	}
	res.AccountID, res.Balance, res.Status = acc.ID, acc.Balance(), acc.Status

	s.log.WithFields(logrus.Fields{
		"account_id": acc.ID,
		"amount":     req.Amount.String(),
		"balance":    res.Balance.String(),
	}).Info("deposit posted")
	return res, nil
}

type WithdrawalRequest struct {
	AccountID     generic.AccountID
	Amount        decimal.Decimal
	Date          generic.TimePoint
	PaymentDetail string
}

func (s *Service) Withdraw(ctx context.Context, req WithdrawalRequest) (TransactionResult, error) {
	if !req.Amount.IsPositive() {
		return TransactionResult{}, &generic.FieldError{Field: "amount", Message: "must be greater than zero"}
	}
	if req.Date.IsZero() {
		return TransactionResult{}, &generic.FieldError{Field: "transaction_date", Message: "required"}
	}

	var res TransactionResult
	acc, err := s.mutate(ctx, req.AccountID, func(st Store, acc *Account) error {
		if _, err := acc.guard(ActWithdraw); err != nil {
			return err
		}
		if !acc.AllowWithdrawal {
			return &generic.PolicyViolationError{AccountID: acc.ID, Rule: "withdrawals are not permitted"}
		}
		if err := acc.checkPostingDate(req.Date); err != nil {
			return err
		}
		if req.Amount.GreaterThan(acc.Balance()) {
			return &generic.InsufficientBalanceError{
				AccountID: acc.ID,
				Available: acc.Currency.Format(acc.Balance()),
				Requested: acc.Currency.Format(req.Amount),
			}
		}
		tx, err := s.record(ctx, st, acc, generic.Transaction{
			Type:          generic.TxWithdrawal,
			Amount:        req.Amount,
			Date:          req.Date,
			PaymentDetail: req.PaymentDetail,
		})
		if err != nil {
			return err
		}
		res = TransactionResult{TransactionID: tx.ID, Amount: tx.Amount, Date: tx.Date}
		return nil
	})
	if err != nil {
		return TransactionResult{}, err
	}
	res.AccountID, res.Balance, res.Status = acc.ID, acc.Balance(), acc.Status

	s.log.WithFields(logrus.Fields{
		"account_id": acc.ID,
		"amount":     req.Amount.String(),
		"balance":    res.Balance.String(),
	}).Info("withdrawal posted")
	return res, nil
}

// checkPostingDate rejects money movement dated before approval or inside an
// interest period that is already posted.
func (a *Account) checkPostingDate(on generic.TimePoint) error {
	if !a.ApprovedOn.IsZero() && on.Before(a.ApprovedOn) {
		return &generic.FieldError{Field: "transaction_date", Message: "before approval date " + a.ApprovedOn.String()}
	}
	if !a.LastInterestPostedOn.IsZero() && on.Before(a.LastInterestPostedOn) {
		return &generic.FieldError{Field: "transaction_date", Message: "before last interest posting " + a.LastInterestPostedOn.String()}
	}
	return nil
}

// =============================================================================
// INTEREST
// =============================================================================

// CalculateInterest projects interest without persisting anything. Zero
// from/to default to the last posting (or activation) and asOf.
func (s *Service) CalculateInterest(ctx context.Context, id generic.AccountID, asOf, from, to generic.TimePoint) (InterestCalculation, error) {
	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return InterestCalculation{}, err
	}
	if to.IsZero() {
		to = asOf
	}
	if to.IsZero() {
		return InterestCalculation{}, &generic.FieldError{Field: "as_of", Message: "required"}
	}
	if from.IsZero() {
		from = acc.interestFrom()
	}
	if from.IsZero() || from.After(to) {
		from = to
	}
	txs, err := s.store.ListTransactions(ctx, id)
	if err != nil {
		return InterestCalculation{}, err
	}
	return CalculateInterest(acc, txs, from, to)
}

type PostInterestRequest struct {
	AccountID   generic.AccountID
	Amount      decimal.Decimal
	PostingDate generic.TimePoint // defaults to To
	From        generic.TimePoint
	To          generic.TimePoint
}

type InterestPosting struct {
	AccountID     generic.AccountID
	TransactionID generic.TransactionID
	Amount        decimal.Decimal
	Withheld      decimal.Decimal
	Swept         decimal.Decimal
	Date          generic.TimePoint
	Balance       decimal.Decimal
}

// PostInterest books an interest amount computed for (From, To]. The amount
// is not recomputed; re-posting a period already covered is rejected.
func (s *Service) PostInterest(ctx context.Context, req PostInterestRequest) (InterestPosting, error) {
	if !req.Amount.IsPositive() {
		return InterestPosting{}, &generic.FieldError{Field: "amount", Message: "must be greater than zero"}
	}
	if req.To.IsZero() {
		return InterestPosting{}, &generic.FieldError{Field: "to_date", Message: "required"}
	}
	if !req.From.IsZero() && req.To.Before(req.From) {
		return InterestPosting{}, generic.ErrInvalidPeriod
	}
	if req.PostingDate.IsZero() {
		req.PostingDate = req.To
	}

	var posting InterestPosting
	acc, err := s.mutateWith(ctx, req.AccountID, (*Account).sweepTargets, func(st Store, acc *Account, p *Product) error {
		if _, err := acc.guard(ActPostInterest); err != nil {
			return err
		}
		if !acc.LastInterestPostedOn.IsZero() && !req.To.After(acc.LastInterestPostedOn) {
			return &generic.AlreadyProcessedError{What: "interest through " + acc.LastInterestPostedOn.String()}
		}
		var err error
		posting, err = s.postInterest(ctx, st, acc, p, acc.Currency.Round(req.Amount), req.PostingDate)
		if err != nil {
			return err
		}
		acc.LastInterestPostedOn = req.To
		return nil
	})
	if err != nil {
		return InterestPosting{}, err
	}
	posting.Balance = acc.Balance()

	s.log.WithFields(logrus.Fields{
		"account_id": acc.ID,
		"amount":     posting.Amount.String(),
		"withheld":   posting.Withheld.String(),
		"swept":      posting.Swept.String(),
	}).Info("interest posted")
	return posting, nil
}

// postInterest writes the posting, the withholding tax on it and the sweep to
// the linked account.
func (s *Service) postInterest(ctx context.Context, st Store, acc *Account, p *Product, amount decimal.Decimal, on generic.TimePoint) (InterestPosting, error) {
	posting := InterestPosting{AccountID: acc.ID, Amount: amount, Withheld: decimal.Zero, Swept: decimal.Zero, Date: on}
	tx, err := s.record(ctx, st, acc, generic.Transaction{Type: generic.TxInterestPosting, Amount: amount, Date: on})
	if err != nil {
		return posting, err
	}
	posting.TransactionID = tx.ID
	acc.LastInterestPostedOn = on

	if p.WithholdTaxRate.IsPositive() {
		tax := acc.Currency.Round(generic.Percent(amount, p.WithholdTaxRate))
		if tax.IsPositive() {
			if _, err := s.record(ctx, st, acc, generic.Transaction{
				Type: generic.TxWithholding, Amount: tax, Date: on, Reason: "withholding tax", ReferenceID: string(tx.ID),
			}); err != nil {
				return posting, err
			}
			posting.Withheld = tax
		}
	}

	if acc.TransferInterestToLinked && acc.LinkedAccountID != "" {
		net := amount.Sub(posting.Withheld)
		if net.IsPositive() {
			if _, err := s.transfer(ctx, st, acc, acc.LinkedAccountID, generic.TxWithdrawal, net, on, "interest transfer"); err != nil {
				return posting, err
			}
			posting.Swept = net
		}
	}
	return posting, nil
}

// settleInterest accrues and posts interest up to on when the last posting
// predates it. Used before any payout.
func (s *Service) settleInterest(ctx context.Context, st Store, acc *Account, p *Product, on generic.TimePoint) (InterestPosting, error) {
	none := InterestPosting{AccountID: acc.ID, Amount: decimal.Zero, Withheld: decimal.Zero, Swept: decimal.Zero, Date: on}
	from := acc.interestFrom()
	if from.IsZero() || !on.After(from) {
		return none, nil
	}
	txs, err := st.ListTransactions(ctx, acc.ID)
	if err != nil {
		return none, err
	}
	calc, err := CalculateInterest(acc, txs, from, on)
	if err != nil {
		return none, err
	}
	if !calc.Amount.IsPositive() {
		acc.LastInterestPostedOn = on
		return none, nil
	}
	return s.postInterest(ctx, st, acc, p, calc.Amount, on)
}

// =============================================================================
// INSTRUCTIONS
// =============================================================================

// UpdateMaturityInstructions changes what happens to the money at maturity.
func (s *Service) UpdateMaturityInstructions(ctx context.Context, id generic.AccountID, closure ClosureType, transferTo generic.AccountID) (*Account, error) {
	return s.mutate(ctx, id, func(st Store, acc *Account) error {
		if _, err := acc.guard(ActUpdateInstructions); err != nil {
			return err
		}
		if !closure.Valid() {
			return &generic.FieldError{Field: "closure_type", Message: fmt.Sprintf("unknown closure type %q", closure)}
		}
		if closure == ClosureRenew && !acc.AllowRenewal {
			return &generic.PolicyViolationError{AccountID: acc.ID, Rule: "renewal is not permitted"}
		}
		if closure == ClosureTransferToSavings {
			if transferTo == "" {
				return &generic.FieldError{Field: "transfer_to_account_id", Message: "required for transfer_to_savings"}
			}
			if _, err := st.GetAccount(ctx, transferTo); err != nil {
				return err
			}
		} else {
			transferTo = ""
		}
		acc.ClosureType = closure
		acc.TransferToAccountID = transferTo
		return nil
	})
}

// MaturityOptions holds the optional flags; nil fields are left unchanged.
type MaturityOptions struct {
	AllowRenewal             *bool
	TransferInterestToLinked *bool
	LinkedAccountID          *generic.AccountID
}

func (s *Service) UpdateMaturityOptions(ctx context.Context, id generic.AccountID, opts MaturityOptions) (*Account, error) {
	return s.mutate(ctx, id, func(st Store, acc *Account) error {
		if _, err := acc.guard(ActUpdateInstructions); err != nil {
			return err
		}
		if opts.AllowRenewal != nil {
			acc.AllowRenewal = *opts.AllowRenewal
		}
		if opts.LinkedAccountID != nil {
			if *opts.LinkedAccountID != "" {
				if *opts.LinkedAccountID == acc.ID {
					return &generic.FieldError{Field: "linked_account_id", Message: "must differ from the account"}
				}
				if _, err := st.GetAccount(ctx, *opts.LinkedAccountID); err != nil {
					return err
				}
			}
			acc.LinkedAccountID = *opts.LinkedAccountID
		}
		if opts.TransferInterestToLinked != nil {
			acc.TransferInterestToLinked = *opts.TransferInterestToLinked
		}
		if acc.TransferInterestToLinked && acc.LinkedAccountID == "" {
			return &generic.FieldError{Field: "linked_account_id", Message: "required to transfer interest"}
		}
		if !acc.AllowRenewal && acc.ClosureType == ClosureRenew {
			acc.ClosureType = ClosureWithdraw
		}
		return nil
	})
}

// =============================================================================
// PENALTY WAIVER
// =============================================================================

// WaivePenalty forgives an applied penalty and its charge.
func (s *Service) WaivePenalty(ctx context.Context, id PenaltyID, reason string, on generic.TimePoint) (*PenaltyHistory, error) {
	if on.IsZero() {
		return nil, &generic.FieldError{Field: "waive_date", Message: "required"}
	}
	var out *PenaltyHistory
	err := s.store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPenalty(ctx, id)
		if err != nil {
			return err
		}
		if p.Waived {
			return &generic.AlreadyProcessedError{What: "waiver of penalty " + string(id)}
		}
		acc, err := st.LockAccount(ctx, p.AccountID)
		if err != nil {
			return err
		}
		charge, err := st.GetCharge(ctx, p.ChargeID)
		if err != nil {
			return err
		}

		forgiven := charge.AmountOutstanding
		charge.Waived = true
		charge.WaivedOn = on
		charge.AmountOutstanding = decimal.Zero
		if err := st.UpdateCharge(ctx, *charge); err != nil {
			return err
		}
		if charge.TransactionID != "" {
			if err := st.MarkTransactionReversed(ctx, charge.TransactionID); err != nil {
				return err
			}
		}

		p.Waived = true
		p.WaivedOn = on
		p.WaiveReason = reason
		if err := st.UpdatePenalty(ctx, *p); err != nil {
			return err
		}

		acc.ChargesOutstanding = decimal.Max(decimal.Zero, acc.ChargesOutstanding.Sub(forgiven))
		if err := s.save(ctx, st, acc); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"account_id": out.AccountID,
		"penalty_id": id,
		"amount":     out.Amount.String(),
	}).Info("penalty waived")
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetAccount(ctx context.Context, id generic.AccountID) (*Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *Service) ListInstallments(ctx context.Context, id generic.AccountID) ([]ScheduleInstallment, error) {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListInstallments(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, id generic.AccountID) ([]generic.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, id)
}

func (s *Service) ListPenalties(ctx context.Context, id generic.AccountID) ([]PenaltyHistory, error) {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListPenalties(ctx, id)
}
