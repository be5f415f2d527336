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

type cdService interface {
	Offer(ctx context.Context, ident *models.Identity, in services.CDOffer) (*models.CertificateDeposit, error)
	Mine(ctx context.Context, ident *models.Identity) ([]models.CertificateDeposit, error)
	ForChild(ctx context.Context, ident *models.Identity, childID int64) ([]models.CertificateDeposit, error)
	Accept(ctx context.Context, ident *models.Identity, id int64) (*models.CertificateDeposit, error)
	Reject(ctx context.Context, ident *models.Identity, id int64) (*models.CertificateDeposit, error)
	RedeemEarly(ctx context.Context, ident *models.Identity, id int64) (*models.CertificateDeposit, *models.Transaction, error)
}

type CDHandler struct {
	base
	service cdService
}

func NewCDHandler(service cdService, logger *zap.Logger) *CDHandler {
	return &CDHandler{base: newBase(logger), service: service}
}

func (h *CDHandler) Routes(r chi.Router) {
	r.Post("/cds/", h.Offer)
	r.Get("/cds/mine", h.Mine)
	r.Get("/cds/child/{id}", h.ForChild)
	r.Post("/cds/{id}/accept", h.Accept)
	r.Post("/cds/{id}/reject", h.Reject)
	r.Post("/cds/{id}/redeem-early", h.RedeemEarly)
}

type cdOfferRequest struct {
	ChildID      int64           `json:"child_id" validate:"required,gt=0" example:"3"`
	Amount       decimal.Decimal `json:"amount" validate:"gt=0" swaggertype:"number" example:"50"`
	InterestRate decimal.Decimal `json:"interest_rate" validate:"gte=0" swaggertype:"number" example:"0.001"`
	TermDays     int             `json:"term_days" validate:"gt=0" example:"30"`
}

type cdRedemption struct {
	CD          *models.CertificateDeposit `json:"cd"`
	Transaction *models.Transaction        `json:"transaction"`
}

// Offer proposes a CD to a child
// @Summary Offer CD
// @Tags CDs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body cdOfferRequest true "Offer"
// @Success 200 {object} models.CertificateDeposit
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /cds/ [post]
func (h *CDHandler) Offer(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req cdOfferRequest
	if !h.decode(w, r, &req) {
		return
	}
	cd, err := h.service.Offer(r.Context(), ident, services.CDOffer{
		ChildID:      req.ChildID,
		Amount:       req.Amount,
		InterestRate: req.InterestRate,
		TermDays:     req.TermDays,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cd)
}

// @Summary My CDs
// @Tags CDs
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.CertificateDeposit
// @Router /cds/mine [get]
func (h *CDHandler) Mine(w http.ResponseWriter, r *http.Request) {
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

// @Summary A child's CDs
// @Tags CDs
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {array} models.CertificateDeposit
// @Failure 403 {object} services.ErrorResponse
// @Router /cds/child/{id} [get]
func (h *CDHandler) ForChild(w http.ResponseWriter, r *http.Request) {
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

// Accept locks the offered amount away
// @Summary Accept CD
// @Tags CDs
// @Produce json
// @Security BearerAuth
// @Param id path int true "CD ID"
// @Success 200 {object} models.CertificateDeposit
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /cds/{id}/accept [post]
func (h *CDHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Accept)
}

// @Summary Reject CD
// @Tags CDs
// @Produce json
// @Security BearerAuth
// @Param id path int true "CD ID"
// @Success 200 {object} models.CertificateDeposit
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /cds/{id}/reject [post]
func (h *CDHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reject)
}

func (h *CDHandler) transition(w http.ResponseWriter, r *http.Request, call func(context.Context, *models.Identity, int64) (*models.CertificateDeposit, error)) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cd, err := call(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cd)
}

// RedeemEarly pays out the CD minus the early penalty
// @Summary Redeem CD early
// @Tags CDs
// @Produce json
// @Security BearerAuth
// @Param id path int true "CD ID"
// @Success 200 {object} cdRedemption
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /cds/{id}/redeem-early [post]
func (h *CDHandler) RedeemEarly(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cd, t, err := h.service.RedeemEarly(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cdRedemption{CD: cd, Transaction: t})
}
