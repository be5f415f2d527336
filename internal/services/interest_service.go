package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const accountColumns = `child_id, interest_rate, penalty_interest_rate, cd_penalty_rate,
	last_interest_applied, service_fee_last_charged, overdraft_fee_last_charged, overdraft_fee_charged`

// InterestService accrues daily account interest and charges fees.
type InterestService struct {
	db       *sql.DB
	ledger   *LedgerService
	settings *SettingsService
	audit    *audit.AuditLogger
	logger   *zap.Logger
	now      func() time.Time
}

func NewInterestService(db *sql.DB, ledger *LedgerService, settings *SettingsService, auditLogger *audit.AuditLogger, logger *zap.Logger) *InterestService {
	return &InterestService{
		db:       db,
		ledger:   ledger,
		settings: settings,
		audit:    auditLogger,
		logger:   logger,
		now:      time.Now,
	}
}

func scanAccount(row scanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ChildID, &a.InterestRate, &a.PenaltyInterestRate, &a.CDPenaltyRate,
		&a.LastInterestApplied, &a.ServiceFeeLastCharged, &a.OverdraftFeeLastCharged, &a.OverdraftFeeCharged)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *InterestService) lockAccount(ctx context.Context, q querier, childID int64) (*models.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE child_id = $1
		FOR UPDATE`, childID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("account not found")
	}
	return a, err
}

func (s *InterestService) saveAccount(ctx context.Context, q querier, a *models.Account) error {
	_, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET interest_rate = $1, penalty_interest_rate = $2, cd_penalty_rate = $3,
			last_interest_applied = $4, service_fee_last_charged = $5, overdraft_fee_last_charged = $6, overdraft_fee_charged = $7
		WHERE child_id = $8`,
		a.InterestRate, a.PenaltyInterestRate, a.CDPenaltyRate,
		a.LastInterestApplied, a.ServiceFeeLastCharged, a.OverdraftFeeLastCharged, a.OverdraftFeeCharged,
		a.ChildID)
	return err
}

// accrue posts one interest transaction per day from the last accrual up to,
// but not including, today. The caller holds the account row lock and saves
// the account afterwards.
func (s *InterestService) accrue(ctx context.Context, q querier, a *models.Account, today time.Time) ([]*models.Transaction, error) {
	today = ledger.Day(today)

	var start time.Time
	if a.LastInterestApplied != nil {
		start = ledger.Day(*a.LastInterestApplied)
	} else {
		var first sql.NullTime
		err := q.QueryRowContext(ctx, `SELECT MIN(timestamp) FROM transactions WHERE child_id = $1`, a.ChildID).Scan(&first)
		if err != nil {
			return nil, err
		}
		if !first.Valid {
			a.LastInterestApplied = &today
			return nil, nil
		}
		start = ledger.Day(first.Time)
	}
	if !start.Before(today) {
		return nil, nil
	}

	opening, err := s.ledger.balanceBefore(ctx, q, a.ChildID, start)
	if err != nil {
		return nil, err
	}
	txs, err := s.ledger.historySince(ctx, q, a.ChildID, start)
	if err != nil {
		return nil, err
	}
	accruals, err := ledger.DailyAccruals(opening, txs, start, today, a.InterestRate, a.PenaltyInterestRate)
	if err != nil {
		return nil, err
	}

	postings := make([]*models.Transaction, 0, len(accruals))
	for _, acc := range accruals {
		t := &models.Transaction{
			ChildID:     a.ChildID,
			Type:        models.Credit,
			Amount:      acc.Amount,
			Memo:        models.StringPtr("Interest"),
			Kind:        models.KindInterest,
			InitiatedBy: models.InitiatedBySystem,
			Timestamp:   acc.At,
		}
		if acc.Amount.IsNegative() {
			t.Type = models.Debit
			t.Amount = acc.Amount.Neg()
		}
		if err := s.ledger.post(ctx, q, t); err != nil {
			return nil, err
		}
		postings = append(postings, t)
	}
	a.LastInterestApplied = &today
	return postings, nil
}

func (s *InterestService) chargeFee(ctx context.Context, q querier, childID int64, amount decimal.Decimal, memo string) (*models.Transaction, error) {
	t := &models.Transaction{
		ChildID:     childID,
		Type:        models.Debit,
		Amount:      amount,
		Memo:        models.StringPtr(memo),
		Kind:        models.KindFee,
		InitiatedBy: models.InitiatedBySystem,
	}
	if err := s.ledger.post(ctx, q, t); err != nil {
		return nil, err
	}
	return t, nil
}

// fees charges the monthly service fee and the overdraft fee configured in
// settings.
func (s *InterestService) fees(ctx context.Context, q querier, a *models.Account, st *models.Settings, today time.Time) ([]*models.Transaction, error) {
	today = ledger.Day(today)
	var postings []*models.Transaction

	lastService := a.ServiceFeeLastCharged
	chargedThisMonth := lastService != nil && lastService.Year() == today.Year() && lastService.Month() == today.Month()
	if today.Day() == 1 && !chargedThisMonth {
		bal, err := s.ledger.balance(ctx, q, a.ChildID)
		if err != nil {
			return nil, err
		}
		if fee := ledger.Fee(bal, st.ServiceFeeAmount, st.ServiceFeeIsPercentage); fee.IsPositive() {
			t, err := s.chargeFee(ctx, q, a.ChildID, fee, "Service Fee")
			if err != nil {
				return nil, err
			}
			postings = append(postings, t)
			a.ServiceFeeLastCharged = &today
		}
	}

	bal, err := s.ledger.balance(ctx, q, a.ChildID)
	if err != nil {
		return nil, err
	}
	if !bal.IsNegative() {
		a.OverdraftFeeCharged = false
		a.OverdraftFeeLastCharged = nil
		return postings, nil
	}

	fee := ledger.Fee(bal, st.OverdraftFeeAmount, st.OverdraftFeeIsPercentage)
	if !fee.IsPositive() {
		return postings, nil
	}
	chargedToday := a.OverdraftFeeLastCharged != nil && ledger.Day(*a.OverdraftFeeLastCharged).Equal(today)
	if (st.OverdraftFeeDaily && !chargedToday) || (!st.OverdraftFeeDaily && !a.OverdraftFeeCharged) {
		t, err := s.chargeFee(ctx, q, a.ChildID, fee, "Overdraft Fee")
		if err != nil {
			return nil, err
		}
		postings = append(postings, t)
		a.OverdraftFeeLastCharged = &today
		a.OverdraftFeeCharged = true
	}
	return postings, nil
}

// Process brings one child's account up to date: daily interest first, then
// fees on the resulting balance. Repeating it on the same day is a no-op.
func (s *InterestService) Process(ctx context.Context, childID int64, today time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	a, err := s.lockAccount(ctx, tx, childID)
	if err != nil {
		return 0, err
	}
	st, err := s.settings.load(ctx, tx)
	if err != nil {
		return 0, err
	}

	postings, err := s.accrue(ctx, tx, a, today)
	if err != nil {
		return 0, err
	}
	feePostings, err := s.fees(ctx, tx, a, st, today)
	if err != nil {
		return 0, err
	}
	postings = append(postings, feePostings...)

	if err := s.saveAccount(ctx, tx, a); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.ledger.committed(ctx, postings...)
	return len(postings), nil
}

// RunAll processes every account. A failing account is logged and skipped.
func (s *InterestService) RunAll(ctx context.Context, today time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT child_id FROM accounts ORDER BY child_id`)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	posted := 0
	for _, id := range ids {
		n, err := s.Process(ctx, id, today)
		if err != nil {
			s.logger.Error("account interest", zap.Int64("child_id", id), zap.Error(err))
			s.audit.LogError("account_interest", id, err)
			continue
		}
		posted += n
	}
	return posted, nil
}

// TotalInterest is the signed sum of interest postings for a child.
func (s *InterestService) TotalInterest(ctx context.Context, q querier, childID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE child_id = $1 AND kind = $2`, childID, models.KindInterest).Scan(&total)
	return total, err
}
