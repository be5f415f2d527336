package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const choreColumns = `id, child_id, description, amount, interval_days, next_due, status, active, created_by_child, created_at`

type ChoreService struct {
	db     *sql.DB
	access *AccessService
	ledger *LedgerService
	audit  *audit.AuditLogger
	logger *zap.Logger
	now    func() time.Time
}

func NewChoreService(db *sql.DB, access *AccessService, ledger *LedgerService, auditLogger *audit.AuditLogger, logger *zap.Logger) *ChoreService {
	return &ChoreService{
		db:     db,
		access: access,
		ledger: ledger,
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
}

type ChoreInput struct {
	Description  string
	Amount       decimal.Decimal
	IntervalDays *int
}

type ChoreUpdate struct {
	Description  *string
	Amount       *decimal.Decimal
	IntervalDays *int
	Active       *bool
}

func scanChore(row scanner) (*models.Chore, error) {
	var c models.Chore
	err := row.Scan(&c.ID, &c.ChildID, &c.Description, &c.Amount, &c.IntervalDays, &c.NextDue, &c.Status, &c.Active,
		&c.CreatedByChild, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectChores(rows *sql.Rows) ([]models.Chore, error) {
	defer rows.Close()
	out := []models.Chore{}
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func validateChore(c *models.Chore) error {
	switch {
	case strings.TrimSpace(c.Description) == "":
		return validationError("description is required")
	case !c.Amount.IsPositive():
		return validationError("amount must be positive")
	case c.IntervalDays != nil && (*c.IntervalDays < 0 || *c.IntervalDays > ledger.MaxDays):
		return validationError("interval_days must be between 0 and %d", ledger.MaxDays)
	}
	return nil
}

func (s *ChoreService) insert(ctx context.Context, c *models.Chore) error {
	if err := validateChore(c); err != nil {
		return err
	}
	c.Active = true
	c.CreatedAt = s.now().UTC()
	if c.Recurring() {
		due := ledger.Day(s.now())
		c.NextDue = &due
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO chores (child_id, description, amount, interval_days, next_due, status, active, created_by_child, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		c.ChildID, c.Description, c.Amount, c.IntervalDays, c.NextDue, c.Status, c.Active, c.CreatedByChild, c.CreatedAt).Scan(&c.ID)
}

// Create assigns a chore to a linked child. It starts pending.
func (s *ChoreService) Create(ctx context.Context, ident *models.Identity, childID int64, in ChoreInput) (*models.Chore, error) {
	if err := s.access.RequireLinked(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}
	c := &models.Chore{
		ChildID:      childID,
		Description:  strings.TrimSpace(in.Description),
		Amount:       in.Amount,
		IntervalDays: in.IntervalDays,
		Status:       models.ChorePending,
	}
	if err := s.insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Propose lets a child suggest a chore for a parent to approve.
func (s *ChoreService) Propose(ctx context.Context, ident *models.Identity, in ChoreInput) (*models.Chore, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	c := &models.Chore{
		ChildID:        ident.ChildID,
		Description:    strings.TrimSpace(in.Description),
		Amount:         in.Amount,
		IntervalDays:   in.IntervalDays,
		Status:         models.ChoreProposed,
		CreatedByChild: true,
	}
	if err := s.insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ChoreService) List(ctx context.Context, ident *models.Identity, childID int64) ([]models.Chore, error) {
	if ident.IsChild() {
		if ident.ChildID != childID {
			return nil, s.access.deny(ident, childID, "linked")
		}
	} else if err := s.access.RequireLinked(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+choreColumns+`
		FROM chores
		WHERE child_id = $1
		ORDER BY created_at DESC, id DESC`, childID)
	if err != nil {
		return nil, err
	}
	return collectChores(rows)
}

func (s *ChoreService) Mine(ctx context.Context, ident *models.Identity) ([]models.Chore, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+choreColumns+`
		FROM chores
		WHERE child_id = $1 AND active
		ORDER BY created_at DESC, id DESC`, ident.ChildID)
	if err != nil {
		return nil, err
	}
	return collectChores(rows)
}

// Pending lists chores waiting on a parent: proposals and completions.
func (s *ChoreService) Pending(ctx context.Context, ident *models.Identity) ([]models.Chore, error) {
	if err := requireGuardian(ident); err != nil {
		return nil, err
	}

	var (
		rows *sql.Rows
		err  error
	)
	if ident.IsAdmin() {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+choreColumns+`
			FROM chores
			WHERE status IN ($1, $2)
			ORDER BY created_at, id`, models.ChoreAwaitingApproval, models.ChoreProposed)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT c.id, c.child_id, c.description, c.amount, c.interval_days, c.next_due, c.status, c.active, c.created_by_child, c.created_at
			FROM chores c
			JOIN child_grants g ON g.child_id = c.child_id
			WHERE g.user_id = $1 AND c.status IN ($2, $3)
			ORDER BY c.created_at, c.id`, ident.UserID, models.ChoreAwaitingApproval, models.ChoreProposed)
	}
	if err != nil {
		return nil, err
	}
	return collectChores(rows)
}

func (s *ChoreService) lock(ctx context.Context, q querier, id int64) (*models.Chore, error) {
	c, err := scanChore(q.QueryRowContext(ctx, `
		SELECT `+choreColumns+`
		FROM chores
		WHERE id = $1
		FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("chore not found")
	}
	return c, err
}

func (s *ChoreService) setStatus(ctx context.Context, q querier, c *models.Chore, from models.ChoreStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE chores
		SET status = $1, next_due = $2
		WHERE id = $3 AND status = $4`, c.Status, c.NextDue, c.ID, from)
	if err != nil {
		return err
	}
	return expectOne(res, conflictError("chore already processed"))
}

// Complete marks the calling child's pending chore as done.
func (s *ChoreService) Complete(ctx context.Context, ident *models.Identity, id int64) (*models.Chore, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if c.ChildID != ident.ChildID {
		return nil, notFoundError("chore not found")
	}
	if !c.Active {
		return nil, conflictError("chore is inactive")
	}

	from := c.Status
	to, err := advance(models.ChoreMachine, from, models.ChoreComplete)
	if err != nil {
		return nil, conflictError("chore is %s", from)
	}
	c.Status = to
	if err := s.setStatus(ctx, tx, c, from); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(models.ChoreMachine.Name(), c.ID, c.ChildID, string(from), string(to), ident)
	return c, nil
}

// Approve accepts a proposal, or pays out a completion. Recurring chores go
// back to pending with next_due moved forward.
func (s *ChoreService) Approve(ctx context.Context, ident *models.Identity, id int64) (*models.Chore, *models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	c, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.access.RequireLinked(ctx, tx, ident, c.ChildID); err != nil {
		return nil, nil, err
	}

	from := c.Status
	event := models.ChoreApprove
	if from == models.ChoreAwaitingApproval && c.Recurring() {
		event = models.ChoreApproveRecurring
	}
	to, err := advance(models.ChoreMachine, from, event)
	if err != nil {
		return nil, nil, conflictError("chore is %s", from)
	}
	c.Status = to
	if event == models.ChoreApproveRecurring {
		base := ledger.Day(s.now())
		if c.NextDue != nil && c.NextDue.After(base) {
			base = ledger.Day(*c.NextDue)
		}
		next := base.AddDate(0, 0, *c.IntervalDays)
		c.NextDue = &next
	}
	if err := s.setStatus(ctx, tx, c, from); err != nil {
		return nil, nil, err
	}

	var posting *models.Transaction
	if from == models.ChoreAwaitingApproval {
		initiator, initiatorID := ident.Initiator()
		posting = &models.Transaction{
			ChildID:     c.ChildID,
			Type:        models.Credit,
			Amount:      c.Amount,
			Memo:        models.StringPtr(c.Description),
			Kind:        models.KindChore,
			InitiatedBy: initiator,
			InitiatorID: initiatorID,
		}
		if err := s.ledger.post(ctx, tx, posting); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	s.ledger.committed(ctx, posting)
	s.audit.LogTransition(models.ChoreMachine.Name(), c.ID, c.ChildID, string(from), string(to), ident)
	return c, posting, nil
}

// Reject refuses a proposal, or sends a completion back to pending.
func (s *ChoreService) Reject(ctx context.Context, ident *models.Identity, id int64) (*models.Chore, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireLinked(ctx, tx, ident, c.ChildID); err != nil {
		return nil, err
	}

	from := c.Status
	to, err := advance(models.ChoreMachine, from, models.ChoreReject)
	if err != nil {
		return nil, conflictError("chore is %s", from)
	}
	c.Status = to
	if err := s.setStatus(ctx, tx, c, from); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(models.ChoreMachine.Name(), c.ID, c.ChildID, string(from), string(to), ident)
	return c, nil
}

func (s *ChoreService) Update(ctx context.Context, ident *models.Identity, id int64, in ChoreUpdate) (*models.Chore, error) {
	c, err := scanChore(s.db.QueryRowContext(ctx, `SELECT `+choreColumns+` FROM chores WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("chore not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireLinked(ctx, s.db, ident, c.ChildID); err != nil {
		return nil, err
	}

	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.Amount != nil {
		c.Amount = *in.Amount
	}
	if in.IntervalDays != nil {
		c.IntervalDays = in.IntervalDays
		if c.Recurring() && c.NextDue == nil {
			due := ledger.Day(s.now())
			c.NextDue = &due
		}
	}
	if in.Active != nil {
		c.Active = *in.Active
	}
	if err := validateChore(c); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE chores
		SET description = $1, amount = $2, interval_days = $3, next_due = $4, active = $5
		WHERE id = $6`, c.Description, c.Amount, c.IntervalDays, c.NextDue, c.Active, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ChoreService) Delete(ctx context.Context, ident *models.Identity, id int64) error {
	var childID int64
	err := s.db.QueryRowContext(ctx, `SELECT child_id FROM chores WHERE id = $1`, id).Scan(&childID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("chore not found")
	}
	if err != nil {
		return err
	}
	if err := s.access.RequireLinked(ctx, s.db, ident, childID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM chores WHERE id = $1`, id)
	return err
}
