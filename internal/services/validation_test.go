package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/fsm"
	"github.com/unclejonsbank/backend/internal/ledger"
	"go.uber.org/zap"
)

type postRequest struct {
	ChildID int64           `validate:"required,gt=0"`
	Amount  decimal.Decimal `validate:"gt=0"`
	Memo    string          `validate:"max=10"`
}

type grantRequest struct {
	Permissions []string `validate:"dive,capability"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		err := vh.ValidateStruct(&postRequest{ChildID: 1, Amount: decimal.RequireFromString("2.50"), Memo: "candy"})
		assert.NoError(t, err)
	})

	t.Run("decimal amount must be positive", func(t *testing.T) {
		err := vh.ValidateStruct(&postRequest{ChildID: 1, Amount: decimal.RequireFromString("-1")})
		require.Error(t, err)

		var fieldErrs validator.ValidationErrors
		require.True(t, errors.As(err, &fieldErrs))
		require.Len(t, fieldErrs, 1)
		assert.Equal(t, "Amount", fieldErrs[0].Field())
		assert.Equal(t, "gt", fieldErrs[0].Tag())
	})

	t.Run("missing fields", func(t *testing.T) {
		err := vh.ValidateStruct(&postRequest{Memo: "far too long memo"})
		require.Error(t, err)

		var fieldErrs validator.ValidationErrors
		require.True(t, errors.As(err, &fieldErrs))
		assert.Len(t, fieldErrs, 3)
	})

	t.Run("capability names", func(t *testing.T) {
		assert.NoError(t, vh.ValidateStruct(&grantRequest{Permissions: []string{"deposit", "view_transactions"}}))

		err := vh.ValidateStruct(&grantRequest{Permissions: []string{"deposit", "launch_rockets"}})
		require.Error(t, err)
		var fieldErrs validator.ValidationErrors
		require.True(t, errors.As(err, &fieldErrs))
		assert.Equal(t, "capability", fieldErrs[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		validationErr := NewValidationHelper().ValidateStruct(&postRequest{})
		require.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "ChildID")
		assert.Contains(t, response.Details, "Amount")
	})
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", validationError("amount must be positive"), http.StatusBadRequest},
		{"ledger input", fmt.Errorf("wrapped: %w", ledger.ErrInvalidInput), http.StatusBadRequest},
		{"unauthorized", newError(ErrUnauthorized, "invalid token"), http.StatusUnauthorized},
		{"forbidden", forbiddenError("missing deposit"), http.StatusForbidden},
		{"not found", notFoundError("child not found"), http.StatusNotFound},
		{"conflict", conflictError("loan is already closed"), http.StatusConflict},
		{"invalid transition", &fsm.TransitionError{Machine: "withdrawal", From: "approved", Event: "approve"}, http.StatusConflict},
		{"rate limited", newError(ErrRateLimited, "slow down"), http.StatusTooManyRequests},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"forbidden is generic", forbiddenError("missing deposit"), http.StatusForbidden, "action not permitted"},
		{"internal is hidden", errors.New("pq: relation does not exist"), http.StatusInternalServerError, "An Internal Error Occurred"},
		{"conflict keeps message", conflictError("withdrawal is already approved"), http.StatusConflict, "withdrawal is already approved"},
		{"validation keeps message", validationError("reason is required"), http.StatusBadRequest, "reason is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, zap.NewNop(), tt.err)

			assert.Equal(t, tt.status, w.Code)
			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.message, response.Error)
		})
	}
}
