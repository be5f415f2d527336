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

type couponService interface {
	Create(ctx context.Context, ident *models.Identity, in services.CouponInput) (*models.Coupon, error)
	ListMine(ctx context.Context, ident *models.Identity) ([]models.Coupon, error)
	ListAll(ctx context.Context, ident *models.Identity, search string, scope models.CouponScope) ([]models.Coupon, error)
	Delete(ctx context.Context, ident *models.Identity, id int64) error
	Redeem(ctx context.Context, ident *models.Identity, code string) (*services.RedeemResult, error)
	Redemptions(ctx context.Context, ident *models.Identity) ([]models.CouponRedemption, error)
}

type CouponHandler struct {
	base
	service couponService
}

func NewCouponHandler(service couponService, logger *zap.Logger) *CouponHandler {
	return &CouponHandler{base: newBase(logger), service: service}
}

func (h *CouponHandler) Routes(r chi.Router) {
	r.Post("/coupons/", h.Create)
	r.Get("/coupons/", h.ListMine)
	r.Get("/coupons/all", h.ListAll)
	r.Delete("/coupons/{id}", h.Delete)
	r.Post("/coupons/redeem", h.Redeem)
	r.Get("/coupons/redemptions", h.Redemptions)
}

type createCouponRequest struct {
	Code       string             `json:"code" validate:"omitempty,alphanum,max=32" example:"SAVE10"`
	Amount     decimal.Decimal    `json:"amount" validate:"gt=0" swaggertype:"number" example:"10"`
	Memo       string             `json:"memo" validate:"max=255"`
	Expiration *time.Time         `json:"expiration"`
	MaxUses    int                `json:"max_uses" validate:"gt=0" example:"1"`
	Scope      models.CouponScope `json:"scope" validate:"required,oneof=child my_children all_children" example:"my_children"`
	ChildID    *int64             `json:"child_id" validate:"omitempty,gt=0"`
	QRCode     bool               `json:"qr_code"`
}

type redeemCouponRequest struct {
	Code string `json:"code" validate:"required,max=32" example:"SAVE10"`
}

// Create issues a coupon
// @Summary Create coupon
// @Tags Coupons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createCouponRequest true "Coupon"
// @Success 201 {object} models.Coupon
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /coupons/ [post]
func (h *CouponHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req createCouponRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Create(r.Context(), ident, services.CouponInput{
		Code:       req.Code,
		Amount:     req.Amount,
		Memo:       req.Memo,
		Expiration: req.Expiration,
		MaxUses:    req.MaxUses,
		Scope:      req.Scope,
		ChildID:    req.ChildID,
		WithQRCode: req.QRCode,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// @Summary My coupons
// @Tags Coupons
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Coupon
// @Router /coupons/ [get]
func (h *CouponHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListMine(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary All coupons
// @Tags Coupons
// @Produce json
// @Security BearerAuth
// @Param search query string false "Code or memo contains"
// @Param scope query string false "child, my_children or all_children"
// @Success 200 {array} models.Coupon
// @Failure 403 {object} services.ErrorResponse
// @Router /coupons/all [get]
func (h *CouponHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	scope := models.CouponScope(r.URL.Query().Get("scope"))
	if scope != "" && !scope.Valid() {
		services.SendErrorResponse(w, "invalid scope", http.StatusBadRequest, nil)
		return
	}
	list, err := h.service.ListAll(r.Context(), ident, r.URL.Query().Get("search"), scope)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Delete coupon
// @Tags Coupons
// @Produce json
// @Security BearerAuth
// @Param id path int true "Coupon ID"
// @Success 200 {object} messageResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /coupons/{id} [delete]
func (h *CouponHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	writeMessage(w, "coupon deleted")
}

// Redeem credits the calling child with a coupon
// @Summary Redeem coupon
// @Tags Coupons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body redeemCouponRequest true "Code"
// @Success 200 {object} services.RedeemResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /coupons/redeem [post]
func (h *CouponHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req redeemCouponRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Redeem(r.Context(), ident, req.Code)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// @Summary My redemptions
// @Tags Coupons
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.CouponRedemption
// @Router /coupons/redemptions [get]
func (h *CouponHandler) Redemptions(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.Redemptions(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
