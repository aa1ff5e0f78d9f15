/*
handlers.go - HTTP API handlers for the recurring deposit engine

PURPOSE:
  Exposes the deposit service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to deposit.Service.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                                 Submit application
    GET    /api/accounts/{id}                            Account details
    POST   /api/accounts/{id}/approve                    Approve application
    POST   /api/accounts/{id}/close                      Close a matured account

  Money:
    POST   /api/accounts/{id}/deposits                   Deposit an installment
    POST   /api/accounts/{id}/withdrawals                Withdraw (if allowed)
    GET    /api/accounts/{id}/interest?from=&to=&as_of=  Calculate interest
    POST   /api/accounts/{id}/interest                   Post interest

  Maturity:
    POST   /api/accounts/{id}/maturity                   Process maturity
    POST   /api/accounts/{id}/renew                      Start a fresh term
    GET    /api/accounts/{id}/premature-closure?closed_on=  Closure quote
    POST   /api/accounts/{id}/premature-closure          Close before maturity
    PUT    /api/accounts/{id}/maturity-instructions      Closure type / target
    PUT    /api/accounts/{id}/maturity-options           Renewal and sweep flags

  History:
    GET    /api/accounts/{id}/installments
    GET    /api/accounts/{id}/transactions
    GET    /api/accounts/{id}/penalties
    POST   /api/penalties/{id}/waive

  Jobs:
    POST   /api/jobs/track-installments
    POST   /api/jobs/apply-penalties

  Products:
    GET    /api/products/{id}

ERROR HANDLING:
  Errors are returned as JSON with the status taken from the error taxonomy:
  - 400: Validation errors, invalid input
  - 404: Account, penalty or product not found
  - 409: Invalid state transition, already processed, concurrent update
  - 422: Policy violation, insufficient balance
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Cron-driven batch jobs
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *deposit.Service
	Products deposit.ProductCatalog
	Factory  *factory.ProductFactory
	Log      logrus.FieldLogger

	// Scheduler is optional; nil when cron jobs are disabled
	Scheduler *JobScheduler

	// today fills in omitted dates
	today func() generic.TimePoint
}

// NewHandler creates a new handler over the service and its product catalog.
func NewHandler(svc *deposit.Service, products deposit.ProductCatalog, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Service:  svc,
		Products: products,
		Factory:  factory.NewProductFactory(),
		Log:      log,
		today:    generic.Today,
	}
}

// WithToday overrides the date used for omitted request dates.
func (h *Handler) WithToday(f func() generic.TimePoint) *Handler {
	h.today = f
	return h
}

func (h *Handler) dateOr(tp generic.TimePoint) generic.TimePoint {
	if tp.IsZero() {
		return h.today()
	}
	return tp
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount submits a new application.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := deposit.CreateAccountRequest{
		ProductID:                deposit.ProductID(req.ProductID),
		ClientID:                 req.ClientID,
		GroupID:                  req.GroupID,
		DepositAmount:            req.DepositAmount,
		SubmittedOn:              h.dateOr(req.SubmittedOn),
		ExpectedFirstDepositOn:   req.ExpectedFirstDepositOn,
		NominalAnnualRate:        req.NominalAnnualRate,
		ClosureType:              deposit.ClosureType(req.ClosureType),
		TransferToAccountID:      generic.AccountID(req.TransferToAccountID),
		LinkedAccountID:          generic.AccountID(req.LinkedAccountID),
		TransferInterestToLinked: req.TransferInterestToLinked,
		AllowWithdrawal:          req.AllowWithdrawal,
		AllowPrematureClosure:    req.AllowPrematureClosure,
		AllowRenewal:             req.AllowRenewal,
	}
	if req.DepositTerm != nil {
		in.DepositTerm = toTerm(*req.DepositTerm)
	}
	if req.RecurringFrequency != nil {
		in.RecurringFrequency = toTerm(*req.RecurringFrequency)
	}

	acc, err := h.Service.CreateAccount(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

// GetAccount returns account details.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Service.GetAccount(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// ApproveAccount moves a pending application to approved.
// POST /api/accounts/{id}/approve
func (h *Handler) ApproveAccount(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	acc, err := h.Service.ApproveAccount(r.Context(), accountID(r), h.dateOr(req.ApprovedOn), req.Note)
	if err != nil {
		h.fail(w, "Failed to approve account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// CloseAccount closes a matured account.
// POST /api/accounts/{id}/close
func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	var req DateRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	acc, err := h.Service.CloseAccount(r.Context(), accountID(r), h.dateOr(req.Date))
	if err != nil {
		h.fail(w, "Failed to close account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// =============================================================================
// MONEY HANDLERS
// =============================================================================

// Deposit records an installment payment.
// POST /api/accounts/{id}/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req MoneyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.Service.Deposit(r.Context(), deposit.DepositRequest{
		AccountID:         accountID(r),
		Amount:            req.Amount,
		Date:              h.dateOr(req.Date),
		InstallmentNumber: req.InstallmentNumber,
		PaymentDetail:     req.PaymentDetail,
	})
	if err != nil {
		h.fail(w, "Failed to deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResultDTO(res))
}

// Withdraw takes money out of an account that allows it.
// POST /api/accounts/{id}/withdrawals
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req MoneyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.Service.Withdraw(r.Context(), deposit.WithdrawalRequest{
		AccountID:     accountID(r),
		Amount:        req.Amount,
		Date:          h.dateOr(req.Date),
		PaymentDetail: req.PaymentDetail,
	})
	if err != nil {
		h.fail(w, "Failed to withdraw", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResultDTO(res))
}

// CalculateInterest returns the interest for a window without posting it.
// GET /api/accounts/{id}/interest?from=YYYY-MM-DD&to=YYYY-MM-DD&as_of=YYYY-MM-DD
func (h *Handler) CalculateInterest(w http.ResponseWriter, r *http.Request) {
	from, to, asOf, err := queryDates(r, "from", "to", "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	to = h.dateOr(to)
	if asOf.IsZero() {
		asOf = to
	}

	calc, err := h.Service.CalculateInterest(r.Context(), accountID(r), asOf, from, to)
	if err != nil {
		h.fail(w, "Failed to calculate interest", err)
		return
	}
	writeJSON(w, http.StatusOK, toInterestCalculationDTO(calc))
}

// PostInterest books interest. Without an amount the calculated interest for
// the window is posted.
// POST /api/accounts/{id}/interest
func (h *Handler) PostInterest(w http.ResponseWriter, r *http.Request) {
	var req PostInterestRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := accountID(r)
	to := h.dateOr(req.To)

	in := deposit.PostInterestRequest{
		AccountID:   id,
		Amount:      req.Amount,
		PostingDate: req.PostingDate,
		From:        req.From,
		To:          to,
	}
	if req.Amount.IsZero() {
		calc, err := h.Service.CalculateInterest(ctx, id, to, req.From, to)
		if err != nil {
			h.fail(w, "Failed to calculate interest", err)
			return
		}
		in.Amount, in.From, in.To = calc.Amount, calc.From, calc.To
	}

	posting, err := h.Service.PostInterest(ctx, in)
	if err != nil {
		h.fail(w, "Failed to post interest", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInterestPostingDTO(posting))
}

// =============================================================================
// MATURITY HANDLERS
// =============================================================================

// ProcessMaturity settles a matured account per its instructions.
// POST /api/accounts/{id}/maturity
func (h *Handler) ProcessMaturity(w http.ResponseWriter, r *http.Request) {
	var req MaturityRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := h.Service.ProcessMaturity(r.Context(), deposit.MaturityRequest{
		AccountID:           accountID(r),
		MaturedOn:           h.dateOr(req.MaturedOn),
		ClosureType:         deposit.ClosureType(req.ClosureType),
		TransferToAccountID: generic.AccountID(req.TransferToAccountID),
	})
	if err != nil {
		h.fail(w, "Failed to process maturity", err)
		return
	}
	writeJSON(w, http.StatusOK, toMaturityDTO(res))
}

// RenewAccount starts a fresh term, carrying the balance forward.
// POST /api/accounts/{id}/renew
func (h *Handler) RenewAccount(w http.ResponseWriter, r *http.Request) {
	var req DateRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := h.Service.RenewAccount(r.Context(), accountID(r), h.dateOr(req.Date))
	if err != nil {
		h.fail(w, "Failed to renew account", err)
		return
	}
	writeJSON(w, http.StatusOK, toRenewalDTO(res))
}

// QuotePrematureClosure previews a premature closure.
// GET /api/accounts/{id}/premature-closure?closed_on=YYYY-MM-DD
func (h *Handler) QuotePrematureClosure(w http.ResponseWriter, r *http.Request) {
	on, _, _, err := queryDates(r, "closed_on", "", "")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	q, err := h.Service.CalculatePrematureClosure(r.Context(), accountID(r), h.dateOr(on))
	if err != nil {
		h.fail(w, "Failed to calculate premature closure", err)
		return
	}
	writeJSON(w, http.StatusOK, toPrematureClosureDTO(q, ""))
}

// ProcessPrematureClosure closes an active account before maturity.
// POST /api/accounts/{id}/premature-closure
func (h *Handler) ProcessPrematureClosure(w http.ResponseWriter, r *http.Request) {
	var req PrematureClosureRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := h.Service.ProcessPrematureClosure(r.Context(), deposit.PrematureClosureRequest{
		AccountID:           accountID(r),
		ClosedOn:            h.dateOr(req.ClosedOn),
		Reason:              req.Reason,
		ClosureType:         deposit.ClosureType(req.ClosureType),
		TransferToAccountID: generic.AccountID(req.TransferToAccountID),
	})
	if err != nil {
		h.fail(w, "Failed to close account", err)
		return
	}
	writeJSON(w, http.StatusOK, toPrematureClosureDTO(res.Quote, res.TransactionID))
}

// UpdateMaturityInstructions changes what happens at maturity.
// PUT /api/accounts/{id}/maturity-instructions
func (h *Handler) UpdateMaturityInstructions(w http.ResponseWriter, r *http.Request) {
	var req MaturityInstructionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	acc, err := h.Service.UpdateMaturityInstructions(r.Context(), accountID(r),
		deposit.ClosureType(req.ClosureType), generic.AccountID(req.TransferToAccountID))
	if err != nil {
		h.fail(w, "Failed to update maturity instructions", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// UpdateMaturityOptions changes the renewal and interest sweep flags.
// PUT /api/accounts/{id}/maturity-options
func (h *Handler) UpdateMaturityOptions(w http.ResponseWriter, r *http.Request) {
	var req MaturityOptionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts := deposit.MaturityOptions{
		AllowRenewal:             req.AllowRenewal,
		TransferInterestToLinked: req.TransferInterestToLinked,
	}
	if req.LinkedAccountID != nil {
		linked := generic.AccountID(*req.LinkedAccountID)
		opts.LinkedAccountID = &linked
	}
	acc, err := h.Service.UpdateMaturityOptions(r.Context(), accountID(r), opts)
	if err != nil {
		h.fail(w, "Failed to update maturity options", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

// ListInstallments returns the schedule in installment order.
// GET /api/accounts/{id}/installments
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	insts, err := h.Service.ListInstallments(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, "Failed to list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(insts))
}

// ListTransactions returns the ledger in posting order.
// GET /api/accounts/{id}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Service.ListTransactions(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// ListPenalties returns the penalty history, waived entries included.
// GET /api/accounts/{id}/penalties
func (h *Handler) ListPenalties(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListPenalties(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, "Failed to list penalties", err)
		return
	}
	dtos := make([]PenaltyDTO, 0, len(ps))
	for _, p := range ps {
		dtos = append(dtos, toPenaltyDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// WaivePenalty forgives an applied penalty.
// POST /api/penalties/{id}/waive
func (h *Handler) WaivePenalty(w http.ResponseWriter, r *http.Request) {
	var req WaivePenaltyRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	id := deposit.PenaltyID(chi.URLParam(r, "id"))
	p, err := h.Service.WaivePenalty(r.Context(), id, req.Reason, h.dateOr(req.WaivedOn))
	if err != nil {
		h.fail(w, "Failed to waive penalty", err)
		return
	}
	writeJSON(w, http.StatusOK, toPenaltyDTO(*p))
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// TrackInstallments runs the overdue tracking batch on demand.
// POST /api/jobs/track-installments
func (h *Handler) TrackInstallments(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	sum, err := h.Service.TrackInstallments(r.Context(), h.dateOr(req.AsOf), req.ApplyPenalties)
	if err != nil {
		h.fail(w, "Failed to track installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackingSummaryDTO(sum))
}

// ApplyPenalties runs the penalty batch on demand.
// POST /api/jobs/apply-penalties
func (h *Handler) ApplyPenalties(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	sum, err := h.Service.ApplyPenalties(r.Context(), h.dateOr(req.AsOf))
	if err != nil {
		h.fail(w, "Failed to apply penalties", err)
		return
	}
	writeJSON(w, http.StatusOK, toPenaltySummaryDTO(sum))
}

// LastJobRun reports the most recent scheduled or manual tracking run.
// GET /api/jobs/last-run
func (h *Handler) LastJobRun(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Scheduler disabled", nil)
		return
	}
	run := h.Scheduler.LastRun()
	if run == nil {
		writeError(w, http.StatusNotFound, "No run yet", nil)
		return
	}
	dto := JobRunDTO{AsOf: run.AsOf, Summary: toTrackingSummaryDTO(run.Summary)}
	if run.Err != nil {
		dto.Error = run.Err.Error()
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// GetProduct returns a product definition in its JSON config form.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.Product(r.Context(), deposit.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.ToJSON(p))
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func accountID(r *http.Request) generic.AccountID {
	return generic.AccountID(chi.URLParam(r, "id"))
}

func toTerm(tj factory.TermJSON) generic.Term {
	return generic.Term{Value: tj.Value, Unit: generic.FrequencyUnit(tj.Unit)}
}

// decodeBody requires a JSON body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body and leaves v untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", err)
	return false
}

// queryDates parses up to three optional date query parameters.
func queryDates(r *http.Request, names ...string) (a, b, c generic.TimePoint, err error) {
	out := [3]generic.TimePoint{}
	q := r.URL.Query()
	for i, name := range names {
		if name == "" || q.Get(name) == "" {
			continue
		}
		if out[i], err = generic.ParseDate(q.Get(name)); err != nil {
			return a, b, c, fmt.Errorf("%s: %w", name, err)
		}
	}
	return out[0], out[1], out[2], nil
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrInvalidStateTransition),
		errors.Is(err, generic.ErrAlreadyProcessed),
		errors.Is(err, generic.ErrConcurrentModification),
		errors.Is(err, generic.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, generic.ErrPolicyViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).Error(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
