package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

type messageService interface {
	Send(ctx context.Context, ident *models.Identity, in services.MessageInput) (*models.Message, error)
	Broadcast(ctx context.Context, ident *models.Identity, subject, body string, target models.BroadcastTarget) (int, error)
	Inbox(ctx context.Context, ident *models.Identity) ([]models.Message, error)
	Sent(ctx context.Context, ident *models.Identity) ([]models.Message, error)
	Archived(ctx context.Context, ident *models.Identity) ([]models.Message, error)
	All(ctx context.Context, ident *models.Identity) ([]models.Message, error)
	Get(ctx context.Context, ident *models.Identity, id int64) (*models.Message, error)
	Archive(ctx context.Context, ident *models.Identity, id int64) (*models.Message, error)
}

type MessageHandler struct {
	base
	service messageService
}

func NewMessageHandler(service messageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{base: newBase(logger), service: service}
}

func (h *MessageHandler) Routes(r chi.Router) {
	r.Post("/messages/", h.Send)
	r.Post("/messages/broadcast", h.Broadcast)
	r.Get("/messages/inbox", h.Inbox)
	r.Get("/messages/sent", h.Sent)
	r.Get("/messages/archive", h.Archived)
	r.Get("/messages/all", h.All)
	r.Get("/messages/{id}", h.Get)
	r.Post("/messages/{id}/archive", h.Archive)
}

type sendMessageRequest struct {
	Subject          string `json:"subject" validate:"required,max=200" example:"Allowance"`
	Body             string `json:"body" validate:"required,max=5000" example:"Can I get it early this week?"`
	RecipientUserID  *int64 `json:"recipient_user_id" validate:"omitempty,gt=0" example:"7"`
	RecipientChildID *int64 `json:"recipient_child_id" validate:"omitempty,gt=0"`
}

type broadcastRequest struct {
	Subject string                 `json:"subject" validate:"required,max=200" example:"Holiday"`
	Body    string                 `json:"body" validate:"required,max=5000" example:"The bank is closed on Monday"`
	Target  models.BroadcastTarget `json:"target" validate:"required,oneof=all parents children" example:"all"`
}

type broadcastResponse struct {
	Count int `json:"count" example:"12"`
}

// Send writes one message
// @Summary Send message
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body sendMessageRequest true "Exactly one recipient"
// @Success 201 {object} models.Message
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /messages/ [post]
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.Send(r.Context(), ident, services.MessageInput{
		Subject:          req.Subject,
		Body:             req.Body,
		RecipientUserID:  req.RecipientUserID,
		RecipientChildID: req.RecipientChildID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// @Summary Broadcast message
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body broadcastRequest true "Audience"
// @Success 200 {object} broadcastResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /messages/broadcast [post]
func (h *MessageHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req broadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.service.Broadcast(r.Context(), ident, req.Subject, req.Body, req.Target)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, broadcastResponse{Count: n})
}

// @Summary Inbox
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Message
// @Router /messages/inbox [get]
func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Inbox)
}

// @Summary Sent messages
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Message
// @Router /messages/sent [get]
func (h *MessageHandler) Sent(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Sent)
}

// @Summary Archived messages
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Message
// @Router /messages/archive [get]
func (h *MessageHandler) Archived(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Archived)
}

// @Summary Every message
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Message
// @Failure 403 {object} services.ErrorResponse
// @Router /messages/all [get]
func (h *MessageHandler) All(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.All)
}

func (h *MessageHandler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, *models.Identity) ([]models.Message, error)) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := fetch(r.Context(), ident)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get opens a message; the recipient's copy is marked read
// @Summary Read message
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Message ID"
// @Success 200 {object} models.Message
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /messages/{id} [get]
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.one(w, r, h.service.Get)
}

// @Summary Archive message
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Message ID"
// @Success 200 {object} models.Message
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /messages/{id}/archive [post]
func (h *MessageHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.one(w, r, h.service.Archive)
}

func (h *MessageHandler) one(w http.ResponseWriter, r *http.Request, fetch func(context.Context, *models.Identity, int64) (*models.Message, error)) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := fetch(r.Context(), ident, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
