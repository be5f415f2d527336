package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/fsm"
)

type LoanStatus string

const (
	LoanRequested LoanStatus = "requested"
	LoanApproved  LoanStatus = "approved"
	LoanDenied    LoanStatus = "denied"
	LoanDeclined  LoanStatus = "declined"
	LoanActive    LoanStatus = "active"
	LoanClosed    LoanStatus = "closed"
)

type LoanEvent string

const (
	LoanApprove LoanEvent = "approve"
	LoanDeny    LoanEvent = "deny"
	LoanAccept  LoanEvent = "accept"
	LoanDecline LoanEvent = "decline"
	LoanPayment LoanEvent = "payment"
	LoanSetRate LoanEvent = "set_rate"
	LoanClose   LoanEvent = "close"
)

// LoanMachine: payments and rate changes loop on active; close is only
// reachable from active, so closing twice is a conflict.
var LoanMachine = fsm.New("loan", map[LoanStatus]map[LoanEvent]LoanStatus{
	LoanRequested: {
		LoanApprove: LoanApproved,
		LoanDeny:    LoanDenied,
	},
	LoanApproved: {
		LoanAccept:  LoanActive,
		LoanDecline: LoanDeclined,
	},
	LoanActive: {
		LoanPayment: LoanActive,
		LoanSetRate: LoanActive,
		LoanClose:   LoanClosed,
	},
})

type Loan struct {
	ID                  int64           `json:"id"`
	ChildID             int64           `json:"child_id"`
	ParentID            *int64          `json:"parent_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Purpose             *string         `json:"purpose,omitempty"`
	InterestRate        decimal.Decimal `json:"interest_rate"`
	Terms               *string         `json:"terms,omitempty"`
	Status              LoanStatus      `json:"status"`
	PrincipalRemaining  decimal.Decimal `json:"principal_remaining"`
	LastInterestApplied *time.Time      `json:"last_interest_applied,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

type LoanTxType string

const (
	LoanTxDisbursement LoanTxType = "disbursement"
	LoanTxPayment      LoanTxType = "payment"
	LoanTxInterest     LoanTxType = "interest"
	LoanTxRateChange   LoanTxType = "rate_change"
	LoanTxClose        LoanTxType = "close"
)

// LoanTransaction is an entry in a loan's own history, separate from the
// child's ledger.
type LoanTransaction struct {
	ID        int64           `json:"id"`
	LoanID    int64           `json:"loan_id"`
	Type      LoanTxType      `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      *string         `json:"memo,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
