package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type adminService interface {
	ListUsers(ctx context.Context, ident *models.Identity) ([]models.User, error)
	GetUser(ctx context.Context, ident *models.Identity, id int64) (*models.User, error)
	CreateUser(ctx context.Context, ident *models.Identity, name, email, password string, role models.Role) (*models.User, error)
	UpdateUser(ctx context.Context, ident *models.Identity, id int64, in services.UserUpdate) (*models.User, error)
	DeleteUser(ctx context.Context, ident *models.Identity, id int64) error
	ListChildren(ctx context.Context, ident *models.Identity) ([]models.ChildView, error)
	DeleteChild(ctx context.Context, ident *models.Identity, id int64) error
	ListTransactions(ctx context.Context, ident *models.Identity, limit, offset int) ([]models.Transaction, error)
	Promote(ctx context.Context, ident *models.Identity, p services.Promotion) (*services.PromotionResult, error)
}

// AdminHandler serves /admin. The router guards it with RequireRole and
// every service call checks the role again.
type AdminHandler struct {
	base
	service adminService
}

func NewAdminHandler(service adminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{base: newBase(logger), service: service}
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/users", h.ListUsers)
	r.Post("/users", h.CreateUser)
	r.Get("/users/{id}", h.GetUser)
	r.Put("/users/{id}", h.UpdateUser)
	r.Delete("/users/{id}", h.DeleteUser)
	r.Get("/children", h.ListChildren)
	r.Delete("/children/{id}", h.DeleteChild)
	r.Get("/transactions", h.ListTransactions)
	r.Post("/promotions", h.Promote)
}

type createUserRequest struct {
	Name     string      `json:"name" validate:"required,max=100"`
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=8"`
	Role     models.Role `json:"role" validate:"required,oneof=parent admin" example:"parent"`
}

// @Summary List users
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.User
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListUsers(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Create user
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createUserRequest true "User"
// @Success 201 {object} models.User
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/users [post]
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.service.CreateUser(r.Context(), ident, req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// @Summary Get user
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} models.User
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/users/{id} [get]
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	u, err := h.service.GetUser(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// @Summary Update user
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body services.UserUpdate true "Fields to change"
// @Success 200 {object} models.User
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/users/{id} [put]
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req services.UserUpdate
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.service.UpdateUser(r.Context(), ident, id, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// @Summary Delete user
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} messageResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/users/{id} [delete]
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteUser(r.Context(), ident, id); err != nil {
		h.fail(w, err)
		return
	}
	writeMessage(w, "user deleted")
}

// @Summary List all children
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ChildView
// @Router /admin/children [get]
func (h *AdminHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListChildren(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Delete child
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Child ID"
// @Success 200 {object} messageResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/children/{id} [delete]
func (h *AdminHandler) DeleteChild(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteChild(r.Context(), ident, id); err != nil {
		h.fail(w, err)
		return
	}
	writeMessage(w, "child deleted")
}

// @Summary All transactions
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(100)
// @Param offset query int false "Rows to skip"
// @Success 200 {array} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/transactions [get]
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		services.SendErrorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest, nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		services.SendErrorResponse(w, "offset must be a non-negative integer", http.StatusBadRequest, nil)
		return
	}
	list, err := h.service.ListTransactions(r.Context(), ident, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Promote posts one promotion transaction per child
// @Summary Run promotion
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.Promotion true "Promotion"
// @Success 200 {object} services.PromotionResult
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/promotions [post]
func (h *AdminHandler) Promote(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req services.Promotion
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Promote(r.Context(), ident, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
