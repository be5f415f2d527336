package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecurringCharge posts a system transaction every IntervalDays starting at NextRun.
type RecurringCharge struct {
	ID           int64           `json:"id"`
	ChildID      int64           `json:"child_id"`
	Amount       decimal.Decimal `json:"amount"`
	Type         TxType          `json:"type"`
	Memo         *string         `json:"memo,omitempty"`
	IntervalDays int             `json:"interval_days"`
	NextRun      time.Time       `json:"next_run"`
	Active       bool            `json:"active"`
}
