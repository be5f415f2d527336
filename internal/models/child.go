package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Child is the child login record. The access code is only ever stored hashed.
type Child struct {
	ID             int64     `json:"id"`
	FirstName      string    `json:"first_name"`
	Frozen         bool      `json:"account_frozen"`
	AccessCodeHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Account holds the per-child rates and the bookkeeping dates of the
// accrual and fee jobs. It never holds a balance.
type Account struct {
	ChildID                 int64           `json:"child_id"`
	InterestRate            decimal.Decimal `json:"interest_rate"`
	PenaltyInterestRate     decimal.Decimal `json:"penalty_interest_rate"`
	CDPenaltyRate           decimal.Decimal `json:"cd_penalty_rate"`
	LastInterestApplied     *time.Time      `json:"last_interest_applied,omitempty"`
	ServiceFeeLastCharged   *time.Time      `json:"service_fee_last_charged,omitempty"`
	OverdraftFeeLastCharged *time.Time      `json:"overdraft_fee_last_charged,omitempty"`
	OverdraftFeeCharged     bool            `json:"overdraft_fee_charged"`
}

// ChildView is the read model returned by the API. Balance and
// TotalInterestEarned are derived from the ledger on every read.
type ChildView struct {
	ID                  int64           `json:"id"`
	FirstName           string          `json:"first_name"`
	Frozen              bool            `json:"account_frozen"`
	InterestRate        decimal.Decimal `json:"interest_rate"`
	PenaltyInterestRate decimal.Decimal `json:"penalty_interest_rate"`
	CDPenaltyRate       decimal.Decimal `json:"cd_penalty_rate"`
	Balance             decimal.Decimal `json:"balance"`
	TotalInterestEarned decimal.Decimal `json:"total_interest_earned"`
	CreatedAt           time.Time       `json:"created_at"`
}
