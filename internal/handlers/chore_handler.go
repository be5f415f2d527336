package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type choreService interface {
	Create(ctx context.Context, ident *models.Identity, childID int64, in services.ChoreInput) (*models.Chore, error)
	Propose(ctx context.Context, ident *models.Identity, in services.ChoreInput) (*models.Chore, error)
	List(ctx context.Context, ident *models.Identity, childID int64) ([]models.Chore, error)
	Mine(ctx context.Context, ident *models.Identity) ([]models.Chore, error)
	Pending(ctx context.Context, ident *models.Identity) ([]models.Chore, error)
	Complete(ctx context.Context, ident *models.Identity, id int64) (*models.Chore, error)
	Approve(ctx context.Context, ident *models.Identity, id int64) (*models.Chore, *models.Transaction, error)
	Reject(ctx context.Context, ident *models.Identity, id int64) (*models.Chore, error)
	Update(ctx context.Context, ident *models.Identity, id int64, in services.ChoreUpdate) (*models.Chore, error)
	Delete(ctx context.Context, ident *models.Identity, id int64) error
}

type ChoreHandler struct {
	base
	service choreService
}

func NewChoreHandler(service choreService, logger *zap.Logger) *ChoreHandler {
	return &ChoreHandler{base: newBase(logger), service: service}
}

func (h *ChoreHandler) Routes(r chi.Router) {
	r.Post("/chores/child/{id}", h.Create)
	r.Post("/chores/propose", h.Propose)
	r.Get("/chores/child/{id}", h.List)
	r.Get("/chores/mine", h.Mine)
	r.Get("/chores/pending", h.Pending)
	r.Post("/chores/{id}/complete", h.Complete)
	r.Post("/chores/{id}/approve", h.Approve)
	r.Post("/chores/{id}/reject", h.Reject)
	r.Put("/chores/{id}", h.Update)
	r.Delete("/chores/{id}", h.Delete)
}

type choreRequest struct {
	Description  string          `json:"description" validate:"required,max=255" example:"Walk the dog"`
	Amount       decimal.Decimal `json:"amount" validate:"gt=0" swaggertype:"number" example:"1.5"`
	IntervalDays *int            `json:"interval_days" validate:"omitempty,gt=0" example:"7"`
}

func (c choreRequest) input() services.ChoreInput {
	return services.ChoreInput{Description: c.Description, Amount: c.Amount, IntervalDays: c.IntervalDays}
}

type choreUpdateRequest struct {
	Description  *string          `json:"description" validate:"omitempty,max=255"`
	Amount       *decimal.Decimal `json:"amount" swaggertype:"number"`
	IntervalDays *int             `json:"interval_days" validate:"omitempty,gt=0"`
	Active       *bool            `json:"active"`
}

type approvedChore struct {
	Chore       *models.Chore       `json:"chore"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

// Create assigns a chore to a child
// @Summary Create chore
// @Tags Chores
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param request body choreRequest true "Chore"
// @Success 200 {object} models.Chore
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /chores/child/{id} [post]
func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req choreRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Create(r.Context(), ident, childID, req.input())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Propose lets a child suggest a paid chore
// @Summary Propose chore
// @Tags Chores
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body choreRequest true "Chore"
// @Success 200 {object} models.Chore
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /chores/propose [post]
func (h *ChoreHandler) Propose(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req choreRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Propose(r.Context(), ident, req.input())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// @Summary A child's chores
// @Tags Chores
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {array} models.Chore
// @Router /chores/child/{id} [get]
func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
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

// @Summary My chores
// @Tags Chores
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Chore
// @Router /chores/mine [get]
func (h *ChoreHandler) Mine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Mine)
}

// @Summary Chores awaiting a decision
// @Tags Chores
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Chore
// @Router /chores/pending [get]
func (h *ChoreHandler) Pending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Pending)
}

func (h *ChoreHandler) list(w http.ResponseWriter, r *http.Request, call func(context.Context, *models.Identity) ([]models.Chore, error)) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := call(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Mark chore done
// @Tags Chores
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chore ID"
// @Success 200 {object} models.Chore
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /chores/{id}/complete [post]
func (h *ChoreHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete)
}

// @Summary Reject chore proposal or completion
// @Tags Chores
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chore ID"
// @Success 200 {object} models.Chore
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /chores/{id}/reject [post]
func (h *ChoreHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reject)
}

func (h *ChoreHandler) transition(w http.ResponseWriter, r *http.Request, call func(context.Context, *models.Identity, int64) (*models.Chore, error)) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := call(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Approve accepts a proposal, or pays out a completed chore
// @Summary Approve chore
// @Tags Chores
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chore ID"
// @Success 200 {object} approvedChore
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /chores/{id}/approve [post]
func (h *ChoreHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, t, err := h.service.Approve(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvedChore{Chore: c, Transaction: t})
}

// @Summary Update chore
// @Tags Chores
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chore ID"
// @Param request body choreUpdateRequest true "Fields to change"
// @Success 200 {object} models.Chore
// @Failure 403 {object} services.ErrorResponse
// @Router /chores/{id} [put]
func (h *ChoreHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req choreUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Update(r.Context(), ident, id, services.ChoreUpdate{
		Description:  req.Description,
		Amount:       req.Amount,
		IntervalDays: req.IntervalDays,
		Active:       req.Active,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// @Summary Delete chore
// @Tags Chores
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chore ID"
// @Success 200 {object} messageResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /chores/{id} [delete]
func (h *ChoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	writeMessage(w, "chore deleted")
}
