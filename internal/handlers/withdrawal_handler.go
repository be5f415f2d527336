package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

type withdrawalService interface {
	Request(ctx context.Context, ident *models.Identity, amount decimal.Decimal, memo string) (*models.WithdrawalRequest, error)
	Mine(ctx context.Context, ident *models.Identity) ([]models.WithdrawalRequest, error)
	Pending(ctx context.Context, ident *models.Identity) ([]models.WithdrawalRequest, error)
	Approve(ctx context.Context, ident *models.Identity, id int64) (*models.WithdrawalRequest, *models.Transaction, error)
	Deny(ctx context.Context, ident *models.Identity, id int64, reason string) (*models.WithdrawalRequest, error)
	Cancel(ctx context.Context, ident *models.Identity, id int64) (*models.WithdrawalRequest, error)
}

type WithdrawalHandler struct {
	base
	service withdrawalService
}

func NewWithdrawalHandler(service withdrawalService, logger *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{base: newBase(logger), service: service}
}

func (h *WithdrawalHandler) Routes(r chi.Router) {
	r.Post("/withdrawals/", h.Request)
	r.Get("/withdrawals/", h.Pending)
	r.Get("/withdrawals/mine", h.Mine)
	r.Post("/withdrawals/{id}/approve", h.Approve)
	r.Post("/withdrawals/{id}/deny", h.Deny)
	r.Post("/withdrawals/{id}/cancel", h.Cancel)
}

type withdrawalRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0" swaggertype:"number" example:"5"`
	Memo   string          `json:"memo" validate:"max=255" example:"Comic book"`
}

type denyRequest struct {
	Reason string `json:"reason" validate:"max=255" example:"Not this week"`
}

type approvedWithdrawal struct {
	Withdrawal  *models.WithdrawalRequest `json:"withdrawal"`
	Transaction *models.Transaction       `json:"transaction"`
}

// Request asks a parent for money
// @Summary Request withdrawal
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body withdrawalRequest true "Withdrawal"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /withdrawals/ [post]
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if !h.decode(w, r, &req) {
		return
	}
	wr, err := h.service.Request(r.Context(), ident, req.Amount, req.Memo)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

// Mine lists the calling child's requests
// @Summary My withdrawals
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.WithdrawalRequest
// @Router /withdrawals/mine [get]
func (h *WithdrawalHandler) Mine(w http.ResponseWriter, r *http.Request) {
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

// Pending lists requests the caller may decide on
// @Summary Pending withdrawals
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.WithdrawalRequest
// @Router /withdrawals/ [get]
func (h *WithdrawalHandler) Pending(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.Pending(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Approve debits the child and closes the request
// @Summary Approve withdrawal
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Param id path int true "Withdrawal ID"
// @Success 200 {object} approvedWithdrawal
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /withdrawals/{id}/approve [post]
func (h *WithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	wr, t, err := h.service.Approve(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvedWithdrawal{Withdrawal: wr, Transaction: t})
}

// Deny rejects a request with an optional reason
// @Summary Deny withdrawal
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Withdrawal ID"
// @Param request body denyRequest false "Reason"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /withdrawals/{id}/deny [post]
func (h *WithdrawalHandler) Deny(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req denyRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	wr, err := h.service.Deny(r.Context(), ident, id, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

// Cancel withdraws the child's own pending request
// @Summary Cancel withdrawal
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Param id path int true "Withdrawal ID"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /withdrawals/{id}/cancel [post]
func (h *WithdrawalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	wr, err := h.service.Cancel(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}
