// Package handlers exposes the services over HTTP. Handlers decode and
// validate requests, pass the caller's Identity to the service and render
// results; all rules live in the services.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/middleware"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"go.uber.org/zap"
)

const maxBodyBytes = 1_048_576

// base is embedded by every handler.
type base struct {
	validator *services.ValidationHelper
	logger    *zap.Logger
}

func newBase(logger *zap.Logger) base {
	return base{validator: services.NewValidationHelper(), logger: logger}
}

// decode reads exactly one JSON object into dst and validates it. On
// failure the response is already written.
func (b base) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := b.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (b base) fail(w http.ResponseWriter, err error) {
	services.WriteError(w, b.logger, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type messageResponse struct {
	Message string `json:"message" example:"ok"`
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// identity returns the authenticated caller or writes a 401.
func identity(w http.ResponseWriter, r *http.Request) (*models.Identity, bool) {
	ident := middleware.IdentityFrom(r.Context())
	if ident == nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return nil, false
	}
	return ident, true
}

// pathID parses a positive integer URL parameter or writes a 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter. Missing means def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func parsePermissions(w http.ResponseWriter, names []string) (acl.Set, bool) {
	perms, err := acl.Parse(names)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return 0, false
	}
	return perms, true
}

// clientIP is the remote host after chi's RealIP has run.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
