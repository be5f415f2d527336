package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/models"
)

// MaxDays bounds projection horizons and CD terms.
const MaxDays = 3650

const (
	growthPrecision   = 16
	interestPrecision = 4
)

var one = decimal.NewFromInt(1)

// Growth returns (1+rate)^days.
func Growth(rate decimal.Decimal, days int) decimal.Decimal {
	if days == 0 {
		return one
	}
	return one.Add(rate).Pow(decimal.NewFromInt(int64(days))).Round(growthPrecision)
}

// Projection is a what-if compounding result. For a negative balance the
// penalty rate applies and Interest is negative.
type Projection struct {
	Balance  decimal.Decimal `json:"balance"`
	Rate     decimal.Decimal `json:"rate"`
	Days     int             `json:"days"`
	Interest decimal.Decimal `json:"interest"`
	Total    decimal.Decimal `json:"total"`
	Penalty  bool            `json:"penalty"`
}

// Project compounds balance daily for days. Positive balances use rate;
// overdrawn balances use penaltyRate on abs(balance).
func Project(balance, rate, penaltyRate decimal.Decimal, days int) (*Projection, error) {
	if days < 0 || days > MaxDays {
		return nil, invalid("days must be between 0 and %d", MaxDays)
	}
	if rate.IsNegative() || penaltyRate.IsNegative() {
		return nil, invalid("rates must not be negative")
	}

	p := &Projection{Balance: balance, Rate: rate, Days: days}
	if balance.IsNegative() {
		p.Rate = penaltyRate
		p.Penalty = true
	}

	g := Growth(p.Rate, days)
	p.Interest = balance.Mul(g.Sub(one))
	p.Total = balance.Mul(g)
	return p, nil
}

// MaturityPayout is what an accepted CD pays back at maturity.
func MaturityPayout(amount, rate decimal.Decimal, termDays int) decimal.Decimal {
	return models.Cents(amount.Mul(Growth(rate, termDays)))
}

// EarlyRedemptionPayout is what a CD pays back before maturity. It never
// includes interest.
func EarlyRedemptionPayout(amount, penaltyRate decimal.Decimal) decimal.Decimal {
	factor := one.Sub(penaltyRate)
	if factor.IsNegative() {
		return decimal.Zero
	}
	return models.Cents(amount.Mul(factor))
}

// Fee computes a fee in cents. With percentage set, amount is a fraction
// of abs(balance) (0.05 is five percent).
func Fee(balance, amount decimal.Decimal, percentage bool) decimal.Decimal {
	if percentage {
		return models.Cents(balance.Abs().Mul(amount))
	}
	return models.Cents(amount)
}

// Accrual is one day of interest to post. Amount is signed.
type Accrual struct {
	At     time.Time
	Amount decimal.Decimal
}

// DailyAccruals walks each day in [from, to) starting at the opening
// balance. Each day first folds that day's transactions, then accrues
// interest on the result at rate (or penaltyRate when negative). Interest
// for day d is stamped at d+1 00:00 UTC and compounds into later days.
// txs before from or on/after to are ignored.
func DailyAccruals(opening decimal.Decimal, txs []models.Transaction, from, to time.Time, rate, penaltyRate decimal.Decimal) ([]Accrual, error) {
	from, to = Day(from), Day(to)
	sorted := Chronological(txs)

	var out []Accrual
	bal := opening
	i := 0
	for i < len(sorted) && sorted[i].Timestamp.Before(from) {
		i++
	}

	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		for i < len(sorted) && sorted[i].Timestamp.Before(next) {
			if err := ValidateEntry(sorted[i]); err != nil {
				return nil, err
			}
			bal = bal.Add(sorted[i].Signed())
			i++
		}

		r := rate
		if bal.IsNegative() {
			r = penaltyRate
		}
		interest := bal.Mul(r).Round(interestPrecision)
		if interest.IsZero() {
			continue
		}
		out = append(out, Accrual{At: next, Amount: interest})
		bal = bal.Add(interest)
	}
	return out, nil
}
