package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/unclejonsbank/backend/internal/middleware"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type authService interface {
	Register(ctx context.Context, name, email, password string) (*services.TokenResponse, error)
	Login(ctx context.Context, email, password string) (*services.TokenResponse, error)
	ChildLogin(ctx context.Context, clientIP, accessCode string) (*services.TokenResponse, error)
	Logout(ctx context.Context, ident *models.Identity, expiresAt time.Time) error
	Me(ctx context.Context, ident *models.Identity) (*models.User, error)
	ChangePassword(ctx context.Context, ident *models.Identity, current, next string) error
}

type AuthHandler struct {
	base
	service authService
}

func NewAuthHandler(service authService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{base: newBase(logger), service: service}
}

// PublicRoutes are reachable without a token.
func (h *AuthHandler) PublicRoutes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/token", h.Login)
	r.Post("/children/login", h.ChildLogin)
}

func (h *AuthHandler) Routes(r chi.Router) {
	r.Post("/auth/logout", h.Logout)
	r.Get("/users/me", h.Me)
	r.Put("/users/me/password", h.ChangePassword)
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100" example:"Jon Doe"`
	Email    string `json:"email" validate:"required,email" example:"jon@example.com"`
	Password string `json:"password" validate:"required,min=8" example:"correct-horse"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"jon@example.com"`
	Password string `json:"password" validate:"required" example:"correct-horse"`
}

type childLoginRequest struct {
	AccessCode string `json:"access_code" validate:"required" example:"ABCD2345"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// Register creates a parent account
// @Summary Register
// @Description Create a parent account and return an access token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body registerRequest true "Registration"
// @Success 201 {object} services.TokenResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Login authenticates a parent or admin
// @Summary Login
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body loginRequest true "Credentials"
// @Success 200 {object} services.TokenResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChildLogin authenticates a child by access code
// @Summary Child login
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body childLoginRequest true "Access code"
// @Success 200 {object} services.TokenResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /children/login [post]
func (h *AuthHandler) ChildLogin(w http.ResponseWriter, r *http.Request) {
	var req childLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.ChildLogin(r.Context(), clientIP(r), req.AccessCode)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout revokes the current token
// @Summary Logout
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} messageResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.service.Logout(r.Context(), ident, middleware.ExpiryFrom(r.Context())); err != nil {
		h.fail(w, err)
		return
	}
	writeMessage(w, "logged out")
}

// Me returns the current user
// @Summary Current user
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 403 {object} services.ErrorResponse
// @Router /users/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	u, err := h.service.Me(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ChangePassword updates the current user's password
// @Summary Change password
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body changePasswordRequest true "Passwords"
// @Success 200 {object} messageResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /users/me/password [put]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), ident, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, err)
		return
	}
	writeMessage(w, "password updated")
}
