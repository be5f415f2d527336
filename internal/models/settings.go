package models

import "github.com/shopspring/decimal"

// Settings is the site-wide singleton row.
type Settings struct {
	SiteName                   string          `json:"site_name"`
	DefaultInterestRate        decimal.Decimal `json:"default_interest_rate"`
	DefaultPenaltyInterestRate decimal.Decimal `json:"default_penalty_interest_rate"`
	DefaultCDPenaltyRate       decimal.Decimal `json:"default_cd_penalty_rate"`
	ServiceFeeAmount           decimal.Decimal `json:"service_fee_amount"`
	ServiceFeeIsPercentage     bool            `json:"service_fee_is_percentage"`
	OverdraftFeeAmount         decimal.Decimal `json:"overdraft_fee_amount"`
	OverdraftFeeIsPercentage   bool            `json:"overdraft_fee_is_percentage"`
	OverdraftFeeDaily          bool            `json:"overdraft_fee_daily"`
	CurrencySymbol             string          `json:"currency_symbol"`
}
