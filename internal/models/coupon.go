package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/fsm"
)

type CouponScope string

const (
	ScopeChild       CouponScope = "child"
	ScopeMyChildren  CouponScope = "my_children"
	ScopeAllChildren CouponScope = "all_children"
)

func (s CouponScope) Valid() bool {
	return s == ScopeChild || s == ScopeMyChildren || s == ScopeAllChildren
}

// CouponStatus is derived from uses_remaining and expiration, never stored.
type CouponStatus string

const (
	CouponAvailable CouponStatus = "available"
	CouponExhausted CouponStatus = "exhausted"
	CouponExpired   CouponStatus = "expired"
)

type CouponEvent string

const (
	CouponRedeem     CouponEvent = "redeem"
	CouponRedeemLast CouponEvent = "redeem_last"
	CouponExpire     CouponEvent = "expire"
)

var CouponMachine = fsm.New("coupon", map[CouponStatus]map[CouponEvent]CouponStatus{
	CouponAvailable: {
		CouponRedeem:     CouponAvailable,
		CouponRedeemLast: CouponExhausted,
		CouponExpire:     CouponExpired,
	},
})

type Coupon struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          *string         `json:"memo,omitempty"`
	Expiration    *time.Time      `json:"expiration,omitempty"`
	MaxUses       int             `json:"max_uses"`
	UsesRemaining int             `json:"uses_remaining"`
	Scope         CouponScope     `json:"scope"`
	ChildID       *int64          `json:"child_id,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	QRCode        *string         `json:"qr_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Status derives the coupon state at now.
func (c *Coupon) Status(now time.Time) CouponStatus {
	if c.Expiration != nil && !now.Before(*c.Expiration) {
		return CouponExpired
	}
	if c.UsesRemaining <= 0 {
		return CouponExhausted
	}
	return CouponAvailable
}

// RedeemEvent picks the event that consumes one use.
func (c *Coupon) RedeemEvent() CouponEvent {
	if c.UsesRemaining == 1 {
		return CouponRedeemLast
	}
	return CouponRedeem
}

type CouponRedemption struct {
	ID            int64           `json:"id"`
	CouponID      int64           `json:"coupon_id"`
	ChildID       int64           `json:"child_id"`
	TransactionID int64           `json:"transaction_id"`
	Code          string          `json:"code,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	RedeemedAt    time.Time       `json:"redeemed_at"`
}
