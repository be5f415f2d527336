package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type ledgerService interface {
	Statement(ctx context.Context, ident *models.Identity, childID int64, order ledger.Order, offset, limit int) (*ledger.Statement, error)
	Project(ctx context.Context, ident *models.Identity, childID int64, days int, rate *decimal.Decimal) (*ledger.Projection, error)
	Post(ctx context.Context, ident *models.Identity, in services.PostInput) (*services.PostResult, error)
	Edit(ctx context.Context, ident *models.Identity, id int64, in services.EditInput) (*models.Transaction, error)
	Delete(ctx context.Context, ident *models.Identity, id int64) error
}

type TransactionHandler struct {
	base
	service ledgerService
}

func NewTransactionHandler(service ledgerService, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{base: newBase(logger), service: service}
}

func (h *TransactionHandler) Routes(r chi.Router) {
	r.Post("/transactions/", h.Post)
	r.Get("/transactions/child/{id}", h.Statement)
	r.Get("/transactions/child/{id}/projection", h.Projection)
	r.Put("/transactions/{id}", h.Edit)
	r.Delete("/transactions/{id}", h.Delete)
}

type postTransactionRequest struct {
	ChildID int64           `json:"child_id" validate:"required,gt=0" example:"3"`
	Type    models.TxType   `json:"type" validate:"required,oneof=credit debit" example:"credit"`
	Amount  decimal.Decimal `json:"amount" validate:"gt=0" swaggertype:"number" example:"12.5"`
	Memo    string          `json:"memo" validate:"max=255" example:"Birthday money"`
}

type editTransactionRequest struct {
	Type   *models.TxType   `json:"type" validate:"omitempty,oneof=credit debit"`
	Amount *decimal.Decimal `json:"amount" swaggertype:"number"`
	Memo   *string          `json:"memo" validate:"omitempty,max=255"`
}

// Post records a manual credit or debit
// @Summary Post transaction
// @Description Credit or debit a child's account. Returns the new balance.
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body postTransactionRequest true "Posting"
// @Success 200 {object} services.PostResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /transactions/ [post]
func (h *TransactionHandler) Post(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req postTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Post(r.Context(), ident, services.PostInput{
		ChildID: req.ChildID,
		Type:    req.Type,
		Amount:  req.Amount,
		Memo:    req.Memo,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Statement returns a child's ledger with running balances
// @Summary Child ledger
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param order query string false "asc or desc (default desc)"
// @Param limit query int false "Page size, 0 for all"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} ledger.Statement
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /transactions/child/{id} [get]
func (h *TransactionHandler) Statement(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := ledger.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		h.fail(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	st, err := h.service.Statement(r.Context(), ident, childID, order, offset, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Projection estimates future balance with daily compounding
// @Summary Balance projection
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param days query int true "Days ahead"
// @Param rate query number false "Daily rate override"
// @Success 200 {object} ledger.Projection
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /transactions/child/{id}/projection [get]
func (h *TransactionHandler) Projection(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	days, err := queryInt(r, "days", 0)
	if err != nil || days < 0 {
		services.SendErrorResponse(w, "days must be a non-negative integer", http.StatusBadRequest, nil)
		return
	}
	var rate *decimal.Decimal
	if raw := r.URL.Query().Get("rate"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			services.SendErrorResponse(w, "rate must be a non-negative number", http.StatusBadRequest, nil)
			return
		}
		rate = &d
	}

	p, err := h.service.Project(r.Context(), ident, childID, days, rate)
	if err != nil {
		h.fail(w, err)
		return
	}
	p.Balance = p.Balance.Round(2)
	p.Interest = p.Interest.Round(2)
	p.Total = p.Total.Round(2)
	writeJSON(w, http.StatusOK, p)
}

// Edit changes a posted transaction
// @Summary Edit transaction
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction ID"
// @Param request body editTransactionRequest true "Fields to change"
// @Success 200 {object} models.Transaction
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{id} [put]
func (h *TransactionHandler) Edit(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req editTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.service.Edit(r.Context(), ident, id, services.EditInput{Type: req.Type, Amount: req.Amount, Memo: req.Memo})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Delete removes a transaction
// @Summary Delete transaction
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction ID"
// @Success 200 {object} messageResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{id} [delete]
func (h *TransactionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), ident, id); err != nil {
		h.fail(w, err)
		return
	}
	writeMessage(w, "transaction deleted")
}
