package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/fsm"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalDenied    WithdrawalStatus = "denied"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

type WithdrawalEvent string

const (
	WithdrawalApprove WithdrawalEvent = "approve"
	WithdrawalDeny    WithdrawalEvent = "deny"
	WithdrawalCancel  WithdrawalEvent = "cancel"
)

// WithdrawalMachine only lets a pending request move, and only once.
var WithdrawalMachine = fsm.New("withdrawal", map[WithdrawalStatus]map[WithdrawalEvent]WithdrawalStatus{
	WithdrawalPending: {
		WithdrawalApprove: WithdrawalApproved,
		WithdrawalDeny:    WithdrawalDenied,
		WithdrawalCancel:  WithdrawalCancelled,
	},
})

type WithdrawalRequest struct {
	ID           int64            `json:"id"`
	ChildID      int64            `json:"child_id"`
	Amount       decimal.Decimal  `json:"amount"`
	Memo         *string          `json:"memo,omitempty"`
	Status       WithdrawalStatus `json:"status"`
	RequestedAt  time.Time        `json:"requested_at"`
	RespondedAt  *time.Time       `json:"responded_at,omitempty"`
	ApproverID   *int64           `json:"approver_id,omitempty"`
	DenialReason *string          `json:"denial_reason,omitempty"`
}
