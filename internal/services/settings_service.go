package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

type SettingsService struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSettingsService(db *sql.DB, logger *zap.Logger) *SettingsService {
	return &SettingsService{db: db, logger: logger}
}

// SettingsUpdate is a partial update of the site settings.
type SettingsUpdate struct {
	SiteName                   *string          `json:"site_name"`
	DefaultInterestRate        *decimal.Decimal `json:"default_interest_rate"`
	DefaultPenaltyInterestRate *decimal.Decimal `json:"default_penalty_interest_rate"`
	DefaultCDPenaltyRate       *decimal.Decimal `json:"default_cd_penalty_rate"`
	ServiceFeeAmount           *decimal.Decimal `json:"service_fee_amount"`
	ServiceFeeIsPercentage     *bool            `json:"service_fee_is_percentage"`
	OverdraftFeeAmount         *decimal.Decimal `json:"overdraft_fee_amount"`
	OverdraftFeeIsPercentage   *bool            `json:"overdraft_fee_is_percentage"`
	OverdraftFeeDaily          *bool            `json:"overdraft_fee_daily"`
	CurrencySymbol             *string          `json:"currency_symbol"`
}

func (s *SettingsService) load(ctx context.Context, q querier) (*models.Settings, error) {
	var st models.Settings
	err := q.QueryRowContext(ctx, `
		SELECT site_name, default_interest_rate, default_penalty_interest_rate, default_cd_penalty_rate,
			service_fee_amount, service_fee_is_percentage,
			overdraft_fee_amount, overdraft_fee_is_percentage, overdraft_fee_daily,
			currency_symbol
		FROM settings
		WHERE id = 1`).Scan(&st.SiteName, &st.DefaultInterestRate, &st.DefaultPenaltyInterestRate, &st.DefaultCDPenaltyRate,
		&st.ServiceFeeAmount, &st.ServiceFeeIsPercentage,
		&st.OverdraftFeeAmount, &st.OverdraftFeeIsPercentage, &st.OverdraftFeeDaily,
		&st.CurrencySymbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("settings not initialised")
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SettingsService) Get(ctx context.Context) (*models.Settings, error) {
	return s.load(ctx, s.db)
}

func validateSettings(st *models.Settings) error {
	switch {
	case strings.TrimSpace(st.SiteName) == "":
		return validationError("site_name is required")
	case strings.TrimSpace(st.CurrencySymbol) == "":
		return validationError("currency_symbol is required")
	case st.DefaultInterestRate.IsNegative(), st.DefaultPenaltyInterestRate.IsNegative():
		return validationError("default rates must not be negative")
	case st.DefaultCDPenaltyRate.IsNegative() || st.DefaultCDPenaltyRate.GreaterThan(decimal.NewFromInt(1)):
		return validationError("default_cd_penalty_rate must be between 0 and 1")
	case st.ServiceFeeAmount.IsNegative(), st.OverdraftFeeAmount.IsNegative():
		return validationError("fee amounts must not be negative")
	}
	return nil
}

// Update applies a partial update. Admin only.
func (s *SettingsService) Update(ctx context.Context, ident *models.Identity, in SettingsUpdate) (*models.Settings, error) {
	if !ident.IsAdmin() {
		return nil, forbiddenError("admin required")
	}

	st, err := s.load(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if in.SiteName != nil {
		st.SiteName = *in.SiteName
	}
	if in.DefaultInterestRate != nil {
		st.DefaultInterestRate = *in.DefaultInterestRate
	}
	if in.DefaultPenaltyInterestRate != nil {
		st.DefaultPenaltyInterestRate = *in.DefaultPenaltyInterestRate
	}
	if in.DefaultCDPenaltyRate != nil {
		st.DefaultCDPenaltyRate = *in.DefaultCDPenaltyRate
	}
	if in.ServiceFeeAmount != nil {
		st.ServiceFeeAmount = *in.ServiceFeeAmount
	}
	if in.ServiceFeeIsPercentage != nil {
		st.ServiceFeeIsPercentage = *in.ServiceFeeIsPercentage
	}
	if in.OverdraftFeeAmount != nil {
		st.OverdraftFeeAmount = *in.OverdraftFeeAmount
	}
	if in.OverdraftFeeIsPercentage != nil {
		st.OverdraftFeeIsPercentage = *in.OverdraftFeeIsPercentage
	}
	if in.OverdraftFeeDaily != nil {
		st.OverdraftFeeDaily = *in.OverdraftFeeDaily
	}
	if in.CurrencySymbol != nil {
		st.CurrencySymbol = *in.CurrencySymbol
	}
	if err := validateSettings(st); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE settings
		SET site_name = $1, default_interest_rate = $2, default_penalty_interest_rate = $3, default_cd_penalty_rate = $4,
			service_fee_amount = $5, service_fee_is_percentage = $6,
			overdraft_fee_amount = $7, overdraft_fee_is_percentage = $8, overdraft_fee_daily = $9,
			currency_symbol = $10
		WHERE id = 1`,
		st.SiteName, st.DefaultInterestRate, st.DefaultPenaltyInterestRate, st.DefaultCDPenaltyRate,
		st.ServiceFeeAmount, st.ServiceFeeIsPercentage,
		st.OverdraftFeeAmount, st.OverdraftFeeIsPercentage, st.OverdraftFeeDaily,
		st.CurrencySymbol); err != nil {
		return nil, err
	}

	s.logger.Info("settings updated", zap.Int64("admin_id", ident.UserID))
	return st, nil
}
