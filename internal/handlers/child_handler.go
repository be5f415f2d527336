package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type childService interface {
	Create(ctx context.Context, ident *models.Identity, firstName, accessCode string) (*services.ChildCreated, error)
	List(ctx context.Context, ident *models.Identity) ([]models.ChildView, error)
	Get(ctx context.Context, ident *models.Identity, id int64) (*models.ChildView, error)
	Me(ctx context.Context, ident *models.Identity) (*models.ChildView, error)
	SetFrozen(ctx context.Context, ident *models.Identity, id int64, frozen bool) (*models.ChildView, error)
	SetRate(ctx context.Context, ident *models.Identity, id int64, field services.RateField, rate decimal.Decimal) (*models.ChildView, error)
	RotateAccessCode(ctx context.Context, ident *models.Identity, id int64, code string) (string, error)
	CreateShareCode(ctx context.Context, ident *models.Identity, childID int64, perms acl.Set) (*models.ShareCode, error)
	RedeemShareCode(ctx context.Context, ident *models.Identity, code string) (*models.Grant, error)
	Parents(ctx context.Context, ident *models.Identity, childID int64) ([]models.ParentAccess, error)
	UpdateParent(ctx context.Context, ident *models.Identity, childID, parentID int64, perms acl.Set) (*models.Grant, error)
	RemoveParent(ctx context.Context, ident *models.Identity, childID, parentID int64) error
}

type ChildHandler struct {
	base
	service childService
}

func NewChildHandler(service childService, logger *zap.Logger) *ChildHandler {
	return &ChildHandler{base: newBase(logger), service: service}
}

func (h *ChildHandler) Routes(r chi.Router) {
	r.Post("/children/", h.Create)
	r.Get("/children/", h.List)
	r.Get("/children/me", h.Me)
	r.Post("/children/sharecode/{code}", h.RedeemShareCode)
	r.Get("/children/{id}", h.Get)
	r.Post("/children/{id}/freeze", h.freeze(true))
	r.Post("/children/{id}/unfreeze", h.freeze(false))
	r.Put("/children/{id}/interest-rate", h.rate(services.InterestRate))
	r.Put("/children/{id}/penalty-interest-rate", h.rate(services.PenaltyInterestRate))
	r.Put("/children/{id}/cd-penalty-rate", h.rate(services.CDPenaltyRate))
	r.Put("/children/{id}/access-code", h.RotateAccessCode)
	r.Post("/children/{id}/sharecode", h.CreateShareCode)
	r.Get("/children/{id}/parents", h.Parents)
	r.Put("/children/{id}/parents/{pid}", h.UpdateParent)
	r.Delete("/children/{id}/parents/{pid}", h.RemoveParent)
}

type createChildRequest struct {
	FirstName  string `json:"first_name" validate:"required,max=50" example:"Ada"`
	AccessCode string `json:"access_code" validate:"omitempty,max=64" example:"ABCD2345"`
}

type rateRequest struct {
	Rate decimal.Decimal `json:"rate" validate:"gte=0" swaggertype:"number" example:"0.001"`
}

type accessCodeRequest struct {
	AccessCode string `json:"access_code" validate:"omitempty,max=64"`
}

type accessCodeResponse struct {
	AccessCode string `json:"access_code" example:"ABCD2345"`
}

type permissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,capability" example:"view_transactions,deposit"`
}

type shareCodeResponse struct {
	Code string `json:"code" example:"A1B2C3D4E5F6"`
}

// Create adds a child owned by the caller
// @Summary Create child
// @Tags Children
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createChildRequest true "Child"
// @Success 201 {object} services.ChildCreated
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /children/ [post]
func (h *ChildHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req createChildRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Create(r.Context(), ident, req.FirstName, req.AccessCode)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// @Summary List children
// @Tags Children
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ChildView
// @Router /children/ [get]
func (h *ChildHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Own child record
// @Tags Children
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ChildView
// @Failure 403 {object} services.ErrorResponse
// @Router /children/me [get]
func (h *ChildHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	v, err := h.service.Me(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// @Summary Get child
// @Tags Children
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {object} models.ChildView
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /children/{id} [get]
func (h *ChildHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.service.Get(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// freeze serves both freeze routes.
//
// @Summary Freeze or unfreeze a child
// @Tags Children
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {object} models.ChildView
// @Failure 403 {object} services.ErrorResponse
// @Router /children/{id}/freeze [post]
// @Router /children/{id}/unfreeze [post]
func (h *ChildHandler) freeze(frozen bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identity(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		v, err := h.service.SetFrozen(r.Context(), ident, id, frozen)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// rate serves the three rate routes.
//
// @Summary Update a child rate
// @Description Interest rate changes accrue at the old rate up to today first
// @Tags Children
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param request body rateRequest true "Rate"
// @Success 200 {object} models.ChildView
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /children/{id}/interest-rate [put]
// @Router /children/{id}/penalty-interest-rate [put]
// @Router /children/{id}/cd-penalty-rate [put]
func (h *ChildHandler) rate(field services.RateField) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identity(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req rateRequest
		if !h.decode(w, r, &req) {
			return
		}
		v, err := h.service.SetRate(r.Context(), ident, id, field, req.Rate)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// RotateAccessCode replaces the child's login code. The new code is only
// returned here.
// @Summary Rotate access code
// @Tags Children
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param request body accessCodeRequest false "Explicit code"
// @Success 200 {object} accessCodeResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /children/{id}/access-code [put]
func (h *ChildHandler) RotateAccessCode(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req accessCodeRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	code, err := h.service.RotateAccessCode(r.Context(), ident, id, req.AccessCode)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessCodeResponse{AccessCode: code})
}

// CreateShareCode lets the owner invite another parent
// @Summary Create share code
// @Tags Sharing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param request body permissionsRequest true "Granted capabilities"
// @Success 200 {object} shareCodeResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /children/{id}/sharecode [post]
func (h *ChildHandler) CreateShareCode(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req permissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	perms, ok := parsePermissions(w, req.Permissions)
	if !ok {
		return
	}
	sc, err := h.service.CreateShareCode(r.Context(), ident, id, perms)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shareCodeResponse{Code: sc.Code})
}

// RedeemShareCode links the calling parent to a child
// @Summary Redeem share code
// @Tags Sharing
// @Produce json
// @Security BearerAuth
// @Param code path string true "Share code"
// @Success 200 {object} models.Grant
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /children/sharecode/{code} [post]
func (h *ChildHandler) RedeemShareCode(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		services.SendErrorResponse(w, "code is required", http.StatusBadRequest, nil)
		return
	}
	g, err := h.service.RedeemShareCode(r.Context(), ident, code)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// @Summary Linked parents
// @Tags Sharing
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {array} models.ParentAccess
// @Failure 403 {object} services.ErrorResponse
// @Router /children/{id}/parents [get]
func (h *ChildHandler) Parents(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.service.Parents(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Change a parent's grant
// @Tags Sharing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param pid path int true "Parent user ID"
// @Param request body permissionsRequest true "Capabilities"
// @Success 200 {object} models.Grant
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /children/{id}/parents/{pid} [put]
func (h *ChildHandler) UpdateParent(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pid, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	var req permissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	perms, ok := parsePermissions(w, req.Permissions)
	if !ok {
		return
	}
	g, err := h.service.UpdateParent(r.Context(), ident, id, pid, perms)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// @Summary Unlink a parent
// @Tags Sharing
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Param pid path int true "Parent user ID"
// @Success 200 {object} messageResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /children/{id}/parents/{pid} [delete]
func (h *ChildHandler) RemoveParent(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pid, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	if err := h.service.RemoveParent(r.Context(), ident, id, pid); err != nil {
		h.fail(w, err)
		return
	}
	writeMessage(w, "parent removed")
}
