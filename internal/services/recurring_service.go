package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const recurringColumns = `id, child_id, amount, type, memo, interval_days, next_run, active`

type RecurringService struct {
	db     *sql.DB
	access *AccessService
	ledger *LedgerService
	audit  *audit.AuditLogger
	logger *zap.Logger
	now    func() time.Time
}

func NewRecurringService(db *sql.DB, access *AccessService, ledger *LedgerService, auditLogger *audit.AuditLogger, logger *zap.Logger) *RecurringService {
	return &RecurringService{
		db:     db,
		access: access,
		ledger: ledger,
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
}

type RecurringInput struct {
	Amount       decimal.Decimal
	Type         models.TxType
	Memo         string
	IntervalDays int
	NextRun      *time.Time
}

// RecurringUpdate is a partial update; nil fields are left unchanged.
type RecurringUpdate struct {
	Amount       *decimal.Decimal
	Type         *models.TxType
	Memo         *string
	IntervalDays *int
	NextRun      *time.Time
	Active       *bool
}

func scanRecurring(row scanner) (*models.RecurringCharge, error) {
	var r models.RecurringCharge
	err := row.Scan(&r.ID, &r.ChildID, &r.Amount, &r.Type, &r.Memo, &r.IntervalDays, &r.NextRun, &r.Active)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRecurring(rows *sql.Rows) ([]models.RecurringCharge, error) {
	defer rows.Close()
	out := []models.RecurringCharge{}
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func validateRecurring(r *models.RecurringCharge) error {
	switch {
	case !r.Amount.IsPositive():
		return validationError("amount must be positive")
	case !r.Type.Valid():
		return validationError("type must be credit or debit")
	case r.IntervalDays < 1 || r.IntervalDays > ledger.MaxDays:
		return validationError("interval_days must be between 1 and %d", ledger.MaxDays)
	}
	return nil
}

func (s *RecurringService) Create(ctx context.Context, ident *models.Identity, childID int64, in RecurringInput) (*models.RecurringCharge, error) {
	r := &models.RecurringCharge{
		ChildID:      childID,
		Amount:       in.Amount,
		Type:         in.Type,
		Memo:         models.StringPtr(in.Memo),
		IntervalDays: in.IntervalDays,
		NextRun:      ledger.Day(s.now()),
		Active:       true,
	}
	if r.Type == "" {
		r.Type = models.Debit
	}
	if in.NextRun != nil {
		r.NextRun = ledger.Day(*in.NextRun)
	}
	if err := validateRecurring(r); err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, s.db, ident, childID, acl.AddRecurringCharge); err != nil {
		return nil, err
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO recurring_charges (child_id, amount, type, memo, interval_days, next_run, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, r.ChildID, r.Amount, r.Type, r.Memo, r.IntervalDays, r.NextRun, r.Active).Scan(&r.ID)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RecurringService) List(ctx context.Context, ident *models.Identity, childID int64) ([]models.RecurringCharge, error) {
	if err := s.access.CanView(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recurringColumns+`
		FROM recurring_charges
		WHERE child_id = $1
		ORDER BY next_run, id`, childID)
	if err != nil {
		return nil, err
	}
	return collectRecurring(rows)
}

func (s *RecurringService) Mine(ctx context.Context, ident *models.Identity) ([]models.RecurringCharge, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recurringColumns+`
		FROM recurring_charges
		WHERE child_id = $1
		ORDER BY next_run, id`, ident.ChildID)
	if err != nil {
		return nil, err
	}
	return collectRecurring(rows)
}

func (s *RecurringService) get(ctx context.Context, q querier, id int64, lock bool) (*models.RecurringCharge, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_charges WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	r, err := scanRecurring(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("recurring charge not found")
	}
	return r, err
}

// Update edits a charge under its row lock. The write is conditional on the
// next_run that was read so a concurrent scheduler run is never undone.
func (s *RecurringService) Update(ctx context.Context, ident *models.Identity, id int64, in RecurringUpdate) (*models.RecurringCharge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	r, err := s.get(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, tx, ident, r.ChildID, acl.EditRecurringCharge); err != nil {
		return nil, err
	}

	loaded := r.NextRun
	if in.Amount != nil {
		r.Amount = *in.Amount
	}
	if in.Type != nil {
		r.Type = *in.Type
	}
	if in.Memo != nil {
		r.Memo = models.StringPtr(*in.Memo)
	}
	if in.IntervalDays != nil {
		r.IntervalDays = *in.IntervalDays
	}
	if in.NextRun != nil {
		r.NextRun = ledger.Day(*in.NextRun)
	}
	if in.Active != nil {
		r.Active = *in.Active
	}
	if err := validateRecurring(r); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE recurring_charges
		SET amount = $1, type = $2, memo = $3, interval_days = $4, next_run = $5, active = $6
		WHERE id = $7 AND next_run = $8`, r.Amount, r.Type, r.Memo, r.IntervalDays, r.NextRun, r.Active, r.ID, loaded)
	if err != nil {
		return nil, err
	}
	if err := expectOne(res, conflictError("recurring charge was run while updating")); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RecurringService) Delete(ctx context.Context, ident *models.Identity, id int64) error {
	r, err := s.get(ctx, s.db, id, false)
	if err != nil {
		return err
	}
	if err := s.access.Authorize(ctx, s.db, ident, r.ChildID, acl.DeleteRecurringCharge); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM recurring_charges WHERE id = $1`, id)
	return err
}

// RunDue posts every active charge whose next_run is on or before today,
// catching up one posting per missed interval. It returns the number of
// postings made.
func (s *RecurringService) RunDue(ctx context.Context, today time.Time) (int, error) {
	today = ledger.Day(today)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM recurring_charges
		WHERE active AND next_run <= $1
		ORDER BY next_run, id`, today)
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
		n, err := s.runOne(ctx, id, today)
		if err != nil {
			s.logger.Error("recurring charge", zap.Int64("charge_id", id), zap.Error(err))
			s.audit.LogError("recurring_charge", 0, err)
			continue
		}
		posted += n
	}
	return posted, nil
}

// runOne processes a single charge. A (charge_id, run_date) row claims each
// due date, so a date that was already posted is skipped rather than
// charged twice.
func (s *RecurringService) runOne(ctx context.Context, id int64, today time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	r, err := s.get(ctx, tx, id, true)
	if err != nil {
		return 0, err
	}
	if !r.Active || r.NextRun.After(today) {
		return 0, nil
	}

	old := r.NextRun
	var postings []*models.Transaction
	for runs := 0; !r.NextRun.After(today) && runs < ledger.MaxDays; runs++ {
		runDate := ledger.Day(r.NextRun)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO recurring_runs (charge_id, run_date)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, r.ID, runDate)
		if err != nil {
			return 0, err
		}
		claimed, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}

		if claimed == 1 {
			posting := &models.Transaction{
				ChildID:     r.ChildID,
				Type:        r.Type,
				Amount:      r.Amount,
				Memo:        r.Memo,
				Kind:        models.KindRecurring,
				InitiatedBy: models.InitiatedBySystem,
			}
			if err := s.ledger.post(ctx, tx, posting); err != nil {
				return 0, err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE recurring_runs
				SET transaction_id = $1
				WHERE charge_id = $2 AND run_date = $3`, posting.ID, r.ID, runDate); err != nil {
				return 0, err
			}
			postings = append(postings, posting)
		}
		r.NextRun = runDate.AddDate(0, 0, r.IntervalDays)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE recurring_charges
		SET next_run = $1
		WHERE id = $2 AND next_run = $3`, r.NextRun, r.ID, old)
	if err != nil {
		return 0, err
	}
	if err := expectOne(res, conflictError("recurring charge already advanced")); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.ledger.committed(ctx, postings...)
	return len(postings), nil
}
