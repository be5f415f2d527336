package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type educationService interface {
	ListModules(ctx context.Context, ident *models.Identity) ([]models.EducationModule, error)
	GetModule(ctx context.Context, ident *models.Identity, id int64) (*models.EducationModule, error)
	SubmitQuiz(ctx context.Context, ident *models.Identity, id int64, answers []int) (*models.QuizResult, error)
	Award(ctx context.Context, ident *models.Identity, moduleID, childID int64) (*models.Badge, error)
	Badges(ctx context.Context, ident *models.Identity, childID int64) ([]models.Badge, error)
	SetEnabled(ctx context.Context, ident *models.Identity, id int64, enabled bool) (*models.EducationModule, error)
}

type EducationHandler struct {
	base
	service educationService
}

func NewEducationHandler(service educationService, logger *zap.Logger) *EducationHandler {
	return &EducationHandler{base: newBase(logger), service: service}
}

func (h *EducationHandler) Routes(r chi.Router) {
	r.Get("/education/modules", h.ListModules)
	r.Get("/education/modules/{id}", h.GetModule)
	r.Put("/education/modules/{id}", h.SetEnabled)
	r.Post("/education/modules/{id}/quiz", h.SubmitQuiz)
	r.Post("/education/modules/{id}/award/{child_id}", h.Award)
	r.Get("/education/badges/me", h.MyBadges)
	r.Get("/education/badges/child/{id}", h.ChildBadges)
}

type quizRequest struct {
	Answers []int `json:"answers" validate:"required,dive,gte=0" example:"1,2,0"`
}

type moduleToggle struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// @Summary Education modules
// @Tags Education
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.EducationModule
// @Router /education/modules [get]
func (h *EducationHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListModules(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Education module
// @Tags Education
// @Produce json
// @Security BearerAuth
// @Param id path int true "Module ID"
// @Success 200 {object} models.EducationModule
// @Failure 404 {object} services.ErrorResponse
// @Router /education/modules/{id} [get]
func (h *EducationHandler) GetModule(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.service.GetModule(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// SubmitQuiz grades the child's answers
// @Summary Submit quiz
// @Tags Education
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Module ID"
// @Param request body quizRequest true "Answers in question order"
// @Success 200 {object} models.QuizResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /education/modules/{id}/quiz [post]
func (h *EducationHandler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req quizRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.SubmitQuiz(r.Context(), ident, id, req.Answers)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// @Summary Award badge
// @Tags Education
// @Produce json
// @Security BearerAuth
// @Param id path int true "Module ID"
// @Param child_id path int true "Child ID"
// @Success 200 {object} models.Badge
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /education/modules/{id}/award/{child_id} [post]
func (h *EducationHandler) Award(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "child_id")
	if !ok {
		return
	}
	b, err := h.service.Award(r.Context(), ident, id, childID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// @Summary My badges
// @Tags Education
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Badge
// @Failure 403 {object} services.ErrorResponse
// @Router /education/badges/me [get]
func (h *EducationHandler) MyBadges(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	if !ident.IsChild() {
		h.fail(w, services.ErrForbidden)
		return
	}
	h.badges(w, r, ident, ident.ChildID)
}

// @Summary A child's badges
// @Tags Education
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {array} models.Badge
// @Failure 403 {object} services.ErrorResponse
// @Router /education/badges/child/{id} [get]
func (h *EducationHandler) ChildBadges(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.badges(w, r, ident, childID)
}

func (h *EducationHandler) badges(w http.ResponseWriter, r *http.Request, ident *models.Identity, childID int64) {
	list, err := h.service.Badges(r.Context(), ident, childID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Enable or disable a module
// @Tags Education
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Module ID"
// @Param request body moduleToggle true "Flag"
// @Success 200 {object} models.EducationModule
// @Failure 403 {object} services.ErrorResponse
// @Router /education/modules/{id} [put]
func (h *EducationHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req moduleToggle
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.SetEnabled(r.Context(), ident, id, *req.Enabled)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
