package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/fsm"
)

type CDStatus string

const (
	CDOffered       CDStatus = "offered"
	CDAccepted      CDStatus = "accepted"
	CDRejected      CDStatus = "rejected"
	CDMatured       CDStatus = "matured"
	CDRedeemedEarly CDStatus = "redeemed_early"
)

type CDEvent string

const (
	CDAccept      CDEvent = "accept"
	CDReject      CDEvent = "reject"
	CDMature      CDEvent = "mature"
	CDRedeemEarly CDEvent = "redeem_early"
)

// CDMachine makes maturity and early redemption mutually exclusive: both
// leave accepted and both targets are terminal.
var CDMachine = fsm.New("cd", map[CDStatus]map[CDEvent]CDStatus{
	CDOffered: {
		CDAccept: CDAccepted,
		CDReject: CDRejected,
	},
	CDAccepted: {
		CDMature:      CDMatured,
		CDRedeemEarly: CDRedeemedEarly,
	},
})

// CertificateDeposit is a CD offer and, once accepted, the locked funds.
type CertificateDeposit struct {
	ID           int64           `json:"id"`
	ChildID      int64           `json:"child_id"`
	ParentID     int64           `json:"parent_id"`
	Amount       decimal.Decimal `json:"amount"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	TermDays     int             `json:"term_days"`
	Status       CDStatus        `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	MaturesAt    *time.Time      `json:"matures_at,omitempty"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}
