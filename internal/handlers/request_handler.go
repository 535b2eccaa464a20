package handlers

import (
	"context"
	"net/http"

	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

// Requests is the withdrawal and loan workflow.
type Requests interface {
	RequestWithdrawal(ctx context.Context, userID string, amount int64, bank models.BankDetails) (*models.Withdrawal, error)
	RequestLoan(ctx context.Context, userID string, amount int64, reason string, bank models.BankDetails) (*models.Loan, error)
	ResolveWithdrawal(ctx context.Context, admin models.Identity, withdrawalID string, decision models.Decision) (*models.Withdrawal, error)
	ResolveLoan(ctx context.Context, admin models.Identity, loanID string, decision models.Decision) (*models.Loan, error)
	ListWithdrawals(ctx context.Context, status models.RequestStatus, userID string, page, pageSize int) (models.Page[models.Withdrawal], error)
	ListLoans(ctx context.Context, status models.RequestStatus, userID string, page, pageSize int) (models.Page[models.Loan], error)
}

// WithdrawalRequest is the member payload for a withdrawal. The bank
// fields may be left out to pay the saved account.
// @Description Withdrawal request structure
type WithdrawalRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0" example:"5000"`
	*models.BankDetails
}

// LoanRequest is the member payload for a loan. The bank fields may be
// left out to pay the saved account.
// @Description Loan request structure
type LoanRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0" example:"10000"`
	Reason string `json:"reason" validate:"required,min=3,max=500" example:"School fees"`
	*models.BankDetails
}

// destination returns the submitted bank, or the zero value when the
// payload had no bank fields.
func destination(bank *models.BankDetails) models.BankDetails {
	if bank == nil {
		return models.BankDetails{}
	}
	return *bank
}

// ResolveRequest is an admin decision on a pending request
type ResolveRequest struct {
	Decision models.Decision `json:"decision" validate:"required,oneof=approve reject" example:"approve"`
}

type RequestHandler struct {
	requests  Requests
	validator *services.ValidationHelper
}

func NewRequestHandler(requests Requests) *RequestHandler {
	return &RequestHandler{requests: requests, validator: services.NewValidationHelper()}
}

func statusFilter(w http.ResponseWriter, r *http.Request) (models.RequestStatus, bool) {
	status := models.RequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.RequestPending, models.RequestApproved, models.RequestRejected:
		return status, true
	}
	services.SendErrorResponse(w, "Unknown status filter", http.StatusBadRequest, nil)
	return "", false
}

// Withdraw places a withdrawal request and holds the amount
// @Summary Request withdrawal
// @Tags Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body WithdrawalRequest true "Withdrawal"
// @Success 201 {object} models.Withdrawal
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /withdrawals [post]
func (h *RequestHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req WithdrawalRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	wd, err := h.requests.RequestWithdrawal(r.Context(), id.UserID, req.Amount, destination(req.BankDetails))
	if err != nil {
		sendServiceError(w, "WITHDRAWAL", err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// MyWithdrawals lists the caller's withdrawals
// @Summary List own withdrawals
// @Tags Requests
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Success 200 {object} models.Page[models.Withdrawal]
// @Router /withdrawals [get]
func (h *RequestHandler) MyWithdrawals(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	h.listWithdrawals(w, r, id.UserID)
}

// Withdrawals lists every withdrawal, optionally filtered
// @Summary List withdrawals (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Param user_id query string false "User ID"
// @Success 200 {object} models.Page[models.Withdrawal]
// @Router /admin/withdrawals [get]
func (h *RequestHandler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	h.listWithdrawals(w, r, r.URL.Query().Get("user_id"))
}

func (h *RequestHandler) listWithdrawals(w http.ResponseWriter, r *http.Request, userID string) {
	status, ok := statusFilter(w, r)
	if !ok {
		return
	}
	page, pageSize := pageParams(r)
	list, err := h.requests.ListWithdrawals(r.Context(), status, userID, page, pageSize)
	if err != nil {
		sendServiceError(w, "WITHDRAWAL", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ResolveWithdrawal approves or rejects a pending withdrawal
// @Summary Resolve withdrawal (admin)
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param withdrawalId path string true "Withdrawal ID"
// @Param request body ResolveRequest true "Decision"
// @Success 200 {object} models.Withdrawal
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /admin/withdrawals/{withdrawalId}/resolve [post]
func (h *RequestHandler) ResolveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	wd, err := h.requests.ResolveWithdrawal(r.Context(), id, chi.URLParam(r, "withdrawalId"), req.Decision)
	if err != nil {
		sendServiceError(w, "WITHDRAWAL", err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// Borrow places a loan request. VIP members only.
// @Summary Request loan
// @Tags Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body LoanRequest true "Loan"
// @Success 201 {object} models.Loan
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /loans [post]
func (h *RequestHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req LoanRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	loan, err := h.requests.RequestLoan(r.Context(), id.UserID, req.Amount, req.Reason, destination(req.BankDetails))
	if err != nil {
		sendServiceError(w, "LOAN", err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// MyLoans lists the caller's loans
// @Summary List own loans
// @Tags Requests
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Success 200 {object} models.Page[models.Loan]
// @Router /loans [get]
func (h *RequestHandler) MyLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	h.listLoans(w, r, id.UserID)
}

// Loans lists every loan, optionally filtered
// @Summary List loans (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Param user_id query string false "User ID"
// @Success 200 {object} models.Page[models.Loan]
// @Router /admin/loans [get]
func (h *RequestHandler) Loans(w http.ResponseWriter, r *http.Request) {
	h.listLoans(w, r, r.URL.Query().Get("user_id"))
}

func (h *RequestHandler) listLoans(w http.ResponseWriter, r *http.Request, userID string) {
	status, ok := statusFilter(w, r)
	if !ok {
		return
	}
	page, pageSize := pageParams(r)
	list, err := h.requests.ListLoans(r.Context(), status, userID, page, pageSize)
	if err != nil {
		sendServiceError(w, "LOAN", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ResolveLoan approves or rejects a pending loan
// @Summary Resolve loan (admin)
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param loanId path string true "Loan ID"
// @Param request body ResolveRequest true "Decision"
// @Success 200 {object} models.Loan
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/loans/{loanId}/resolve [post]
func (h *RequestHandler) ResolveLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	loan, err := h.requests.ResolveLoan(r.Context(), id, chi.URLParam(r, "loanId"), req.Decision)
	if err != nil {
		sendServiceError(w, "LOAN", err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}
