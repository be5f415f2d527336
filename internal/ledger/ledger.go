// Package ledger derives balances from transaction histories. Nothing in
// here touches storage; callers load the history and post the results.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/models"
)

// ErrInvalidInput marks caller-correctable input problems.
var ErrInvalidInput = errors.New("invalid ledger input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ValidateEntry checks the shape of a single transaction.
func ValidateEntry(t models.Transaction) error {
	if !t.Type.Valid() {
		return invalid("type must be credit or debit, got %q", t.Type)
	}
	if !t.Amount.IsPositive() {
		return invalid("amount must be positive, got %s", t.Amount)
	}
	return nil
}

// Balance is Σcredits − Σdebits. Input order does not matter.
func Balance(txs []models.Transaction) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range txs {
		if err := ValidateEntry(t); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(t.Signed())
	}
	return total, nil
}

// Chronological returns a copy sorted by timestamp, then id.
func Chronological(txs []models.Transaction) []models.Transaction {
	sorted := make([]models.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// Running folds the full history in chronological order and returns each
// row with the balance right after it.
func Running(txs []models.Transaction) ([]models.LedgerRow, error) {
	rows := make([]models.LedgerRow, 0, len(txs))
	bal := decimal.Zero
	for _, t := range Chronological(txs) {
		if err := ValidateEntry(t); err != nil {
			return nil, err
		}
		bal = bal.Add(t.Signed())
		rows = append(rows, models.LedgerRow{Transaction: t, Balance: bal})
	}
	return rows, nil
}

// Order is the display order of a statement.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// ParseOrder accepts "", "asc" and "desc". Empty means newest first.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "":
		return Descending, nil
	case Ascending, Descending:
		return Order(s), nil
	}
	return "", invalid("order must be asc or desc")
}

// Statement is a page of ledger rows plus the ending balance.
type Statement struct {
	Balance      decimal.Decimal    `json:"balance"`
	Total        int                `json:"total"`
	Transactions []models.LedgerRow `json:"transactions"`
}

// BuildStatement computes balances over the whole history first and only
// then reorders and pages, so every row keeps its true cumulative balance.
// A zero limit returns every row after offset.
func BuildStatement(txs []models.Transaction, order Order, offset, limit int) (*Statement, error) {
	if offset < 0 || limit < 0 {
		return nil, invalid("offset and limit must not be negative")
	}

	rows, err := Running(txs)
	if err != nil {
		return nil, err
	}

	st := &Statement{Balance: decimal.Zero, Total: len(rows)}
	if len(rows) > 0 {
		st.Balance = rows[len(rows)-1].Balance
	}

	if order == Descending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	if offset >= len(rows) {
		st.Transactions = []models.LedgerRow{}
		return st, nil
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	st.Transactions = rows[offset:end]
	return st, nil
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
