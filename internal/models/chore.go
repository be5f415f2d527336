package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/fsm"
)

type ChoreStatus string

const (
	ChoreProposed         ChoreStatus = "proposed"
	ChorePending          ChoreStatus = "pending"
	ChoreAwaitingApproval ChoreStatus = "awaiting_approval"
	ChoreCompleted        ChoreStatus = "completed"
	ChoreRejected         ChoreStatus = "rejected"
)

type ChoreEvent string

const (
	ChoreComplete         ChoreEvent = "complete"
	ChoreApprove          ChoreEvent = "approve"
	ChoreApproveRecurring ChoreEvent = "approve_recurring"
	ChoreReject           ChoreEvent = "reject"
)

var ChoreMachine = fsm.New("chore", map[ChoreStatus]map[ChoreEvent]ChoreStatus{
	ChoreProposed: {
		ChoreApprove: ChorePending,
		ChoreReject:  ChoreRejected,
	},
	ChorePending: {
		ChoreComplete: ChoreAwaitingApproval,
	},
	ChoreAwaitingApproval: {
		ChoreApprove:          ChoreCompleted,
		ChoreApproveRecurring: ChorePending,
		ChoreReject:           ChorePending,
	},
})

type Chore struct {
	ID             int64           `json:"id"`
	ChildID        int64           `json:"child_id"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	IntervalDays   *int            `json:"interval_days,omitempty"`
	NextDue        *time.Time      `json:"next_due,omitempty"`
	Status         ChoreStatus     `json:"status"`
	Active         bool            `json:"active"`
	CreatedByChild bool            `json:"created_by_child"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Recurring reports whether approval re-arms the chore.
func (c *Chore) Recurring() bool {
	return c.IntervalDays != nil && *c.IntervalDays > 0
}
