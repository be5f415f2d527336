package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type recurringService interface {
	Create(ctx context.Context, ident *models.Identity, childID int64, in services.RecurringInput) (*models.RecurringCharge, error)
	List(ctx context.Context, ident *models.Identity, childID int64) ([]models.RecurringCharge, error)
	Mine(ctx context.Context, ident *models.Identity) ([]models.RecurringCharge, error)
	Update(ctx context.Context, ident *models.Identity, id int64, in services.RecurringUpdate) (*models.RecurringCharge, error)
	Delete(ctx context.Context, ident *models.Identity, id int64) error
}

type RecurringHandler struct {
	base
	service recurringService
}

func NewRecurringHandler(service recurringService, logger *zap.Logger) *RecurringHandler {
	return &RecurringHandler{base: newBase(logger), service: service}
}

func (h *RecurringHandler) Routes(r chi.Router) {
	r.Post("/recurring/child/{id}", h.Create)
	r.Get("/recurring/child/{id}", h.List)
	r.Get("/recurring/mine", h.Mine)
	r.Put("/recurring/{id}", h.Update)
	r.Delete("/recurring/{id}", h.Delete)
}

type recurringRequest struct {
	Amount       decimal.Decimal `json:"amount" validate:"gt=0" swaggertype:"number" example:"2"`
	Type         models.TxType   `json:"type" validate:"required,oneof=credit debit" example:"debit"`
	Memo         string          `json:"memo" validate:"max=255" example:"Phone plan"`
	IntervalDays int             `json:"interval_days" validate:"gt=0" example:"7"`
	NextRun      *time.Time      `json:"next_run"`
}

type recurringUpdateRequest struct {
	Amount       *decimal.Decimal `json:"amount" swaggertype:"number"`
	Type         *models.TxType   `json:"type" validate:"omitempty,oneof=credit debit"`
	Memo         *string          `json:"memo" validate:"omitempty,max=255"`
	IntervalDays *int             `json:"interval_days" validate:"omitempty,gt=0"`
	NextRun      *time.Time       `json:"next_run"`
	Active       *bool            `json:"active"`
}

// Create schedules a repeating posting
// @Summary Create recurring charge
// @Tags Recurring
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param request body recurringRequest true "Charge"
// @Success 200 {object} models.RecurringCharge
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /recurring/child/{id} [post]
func (h *RecurringHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req recurringRequest
	if !h.decode(w, r, &req) {
		return
	}
	rc, err := h.service.Create(r.Context(), ident, childID, services.RecurringInput{
		Amount:       req.Amount,
		Type:         req.Type,
		Memo:         req.Memo,
		IntervalDays: req.IntervalDays,
		NextRun:      req.NextRun,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// @Summary A child's recurring charges
// @Tags Recurring
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {array} models.RecurringCharge
// @Failure 403 {object} services.ErrorResponse
// @Router /recurring/child/{id} [get]
func (h *RecurringHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), ident, childID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary My recurring charges
// @Tags Recurring
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.RecurringCharge
// @Router /recurring/mine [get]
func (h *RecurringHandler) Mine(w http.ResponseWriter, r *http.Request) {
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

// @Summary Update recurring charge
// @Tags Recurring
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Charge ID"
// @Param request body recurringUpdateRequest true "Fields to change"
// @Success 200 {object} models.RecurringCharge
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /recurring/{id} [put]
func (h *RecurringHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req recurringUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rc, err := h.service.Update(r.Context(), ident, id, services.RecurringUpdate{
		Amount:       req.Amount,
		Type:         req.Type,
		Memo:         req.Memo,
		IntervalDays: req.IntervalDays,
		NextRun:      req.NextRun,
		Active:       req.Active,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// @Summary Delete recurring charge
// @Tags Recurring
// @Produce json
// @Security BearerAuth
// @Param id path int true "Charge ID"
// @Success 200 {object} messageResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /recurring/{id} [delete]
func (h *RecurringHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	writeMessage(w, "recurring charge deleted")
}
