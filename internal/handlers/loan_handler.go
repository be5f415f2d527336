package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

type loanService interface {
	Request(ctx context.Context, ident *models.Identity, amount decimal.Decimal, purpose string) (*models.Loan, error)
	Mine(ctx context.Context, ident *models.Identity) ([]models.Loan, error)
	ForChild(ctx context.Context, ident *models.Identity, childID int64) ([]models.Loan, error)
	Approve(ctx context.Context, ident *models.Identity, id int64, rate decimal.Decimal, terms string) (*models.Loan, error)
	Deny(ctx context.Context, ident *models.Identity, id int64) (*models.Loan, error)
	Accept(ctx context.Context, ident *models.Identity, id int64) (*models.Loan, error)
	Decline(ctx context.Context, ident *models.Identity, id int64) (*models.Loan, error)
	Payment(ctx context.Context, ident *models.Identity, id int64, amount decimal.Decimal) (*models.Loan, error)
	SetRate(ctx context.Context, ident *models.Identity, id int64, rate decimal.Decimal) (*models.Loan, error)
	Close(ctx context.Context, ident *models.Identity, id int64) (*models.Loan, error)
	Transactions(ctx context.Context, ident *models.Identity, id int64) ([]models.LoanTransaction, error)
}

type LoanHandler struct {
	base
	service loanService
}

func NewLoanHandler(service loanService, logger *zap.Logger) *LoanHandler {
	return &LoanHandler{base: newBase(logger), service: service}
}

func (h *LoanHandler) Routes(r chi.Router) {
	r.Post("/loans/", h.Request)
	r.Post("/loans/request", h.Request)
	r.Get("/loans/mine", h.Mine)
	r.Get("/loans/child/{id}", h.ForChild)
	r.Get("/loans/{id}/transactions", h.Transactions)
	r.Post("/loans/{id}/approve", h.Approve)
	r.Post("/loans/{id}/deny", h.simple(loanService.Deny))
	r.Post("/loans/{id}/accept", h.simple(loanService.Accept))
	r.Post("/loans/{id}/decline", h.simple(loanService.Decline))
	r.Post("/loans/{id}/close", h.simple(loanService.Close))
	r.Post("/loans/{id}/payment", h.Payment)
	r.Post("/loans/{id}/interest", h.SetRate)
}

type loanRequest struct {
	Amount  decimal.Decimal `json:"amount" validate:"gt=0" swaggertype:"number" example:"20"`
	Purpose string          `json:"purpose" validate:"max=255" example:"New bike"`
}

type loanApproval struct {
	InterestRate decimal.Decimal `json:"interest_rate" validate:"gte=0" swaggertype:"number" example:"0.001"`
	Terms        string          `json:"terms" validate:"max=1000"`
}

type loanPayment struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0" swaggertype:"number" example:"5"`
}

type loanRate struct {
	InterestRate decimal.Decimal `json:"interest_rate" validate:"gte=0" swaggertype:"number" example:"0.002"`
}

// simple adapts a lifecycle call that takes only the loan id.
//
// @Summary Loan lifecycle action
// @Description deny and close need offer_loan/manage_loan; accept and decline are for the borrowing child
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Success 200 {object} models.Loan
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /loans/{id}/deny [post]
// @Router /loans/{id}/accept [post]
// @Router /loans/{id}/decline [post]
// @Router /loans/{id}/close [post]
func (h *LoanHandler) simple(call func(loanService, context.Context, *models.Identity, int64) (*models.Loan, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identity(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		l, err := call(h.service, r.Context(), ident, id)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

// Request asks for a loan
// @Summary Request loan
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body loanRequest true "Loan"
// @Success 200 {object} models.Loan
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /loans/request [post]
func (h *LoanHandler) Request(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req loanRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.service.Request(r.Context(), ident, req.Amount, req.Purpose)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// @Summary My loans
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Loan
// @Router /loans/mine [get]
func (h *LoanHandler) Mine(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.Mine(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary A child's loans
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {array} models.Loan
// @Failure 403 {object} services.ErrorResponse
// @Router /loans/child/{id} [get]
func (h *LoanHandler) ForChild(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.service.ForChild(r.Context(), ident, childID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Loan history
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Success 200 {array} models.LoanTransaction
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /loans/{id}/transactions [get]
func (h *LoanHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.service.Transactions(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Approve offers the requested loan at a rate
// @Summary Approve loan
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Param request body loanApproval true "Offer"
// @Success 200 {object} models.Loan
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /loans/{id}/approve [post]
func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req loanApproval
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.service.Approve(r.Context(), ident, id, req.InterestRate, req.Terms)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// Payment repays principal. Overpayment is clamped to what is owed.
// @Summary Loan payment
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Param request body loanPayment true "Payment"
// @Success 200 {object} models.Loan
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /loans/{id}/payment [post]
func (h *LoanHandler) Payment(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req loanPayment
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.service.Payment(r.Context(), ident, id, req.Amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// @Summary Change loan rate
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Param request body loanRate true "New rate"
// @Success 200 {object} models.Loan
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /loans/{id}/interest [post]
func (h *LoanHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req loanRate
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.service.SetRate(r.Context(), ident, id, req.InterestRate)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
