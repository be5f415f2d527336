package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType is the direction of a ledger entry.
type TxType string

const (
	Credit TxType = "credit"
	Debit  TxType = "debit"
)

func (t TxType) Valid() bool {
	return t == Credit || t == Debit
}

// Initiator records who caused a transaction to be posted.
type Initiator string

const (
	InitiatedByParent Initiator = "parent"
	InitiatedByChild  Initiator = "child"
	InitiatedBySystem Initiator = "system"
	InitiatedByAdmin  Initiator = "admin"
)

// TxKind tags the feature that produced a transaction.
type TxKind string

const (
	KindManual       TxKind = "manual"
	KindWithdrawal   TxKind = "withdrawal"
	KindLoan         TxKind = "loan"
	KindLoanInterest TxKind = "loan_interest"
	KindCD           TxKind = "cd"
	KindCoupon       TxKind = "coupon"
	KindChore        TxKind = "chore"
	KindRecurring    TxKind = "recurring"
	KindInterest     TxKind = "interest"
	KindFee          TxKind = "fee"
	KindPromotion    TxKind = "promotion"
)

// Transaction is a single ledger entry. Amount is always positive; Type
// carries the sign.
type Transaction struct {
	ID          int64           `json:"id" db:"id"`
	ChildID     int64           `json:"child_id" db:"child_id"`
	Type        TxType          `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Memo        *string         `json:"memo,omitempty" db:"memo"`
	Kind        TxKind          `json:"kind" db:"kind"`
	InitiatedBy Initiator       `json:"initiated_by" db:"initiated_by"`
	InitiatorID int64           `json:"initiator_id" db:"initiator_id"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// Signed returns the amount with the sign implied by Type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// LedgerRow is a transaction paired with the balance right after it.
type LedgerRow struct {
	Transaction
	Balance decimal.Decimal `json:"balance"`
}

// StringPtr returns nil for blank strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
