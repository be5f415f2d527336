package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type settingsService interface {
	Get(ctx context.Context) (*models.Settings, error)
	Update(ctx context.Context, ident *models.Identity, in services.SettingsUpdate) (*models.Settings, error)
}

type SettingsHandler struct {
	base
	service settingsService
}

func NewSettingsHandler(service settingsService, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{base: newBase(logger), service: service}
}

func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/settings", h.Get)
	r.Put("/settings", h.Update)
}

// @Summary Site settings
// @Tags Settings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Settings
// @Router /settings [get]
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}
	st, err := h.service.Get(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Update changes site settings. Omitted fields keep their value.
// @Summary Update settings
// @Tags Settings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.SettingsUpdate true "Fields to change"
// @Success 200 {object} models.Settings
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /settings [put]
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req services.SettingsUpdate
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.service.Update(r.Context(), ident, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
