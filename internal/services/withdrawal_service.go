package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const withdrawalColumns = `id, child_id, amount, memo, status, requested_at, responded_at, approver_id, denial_reason`

type WithdrawalService struct {
	db     *sql.DB
	access *AccessService
	ledger *LedgerService
	audit  *audit.AuditLogger
	logger *zap.Logger
	now    func() time.Time
}

func NewWithdrawalService(db *sql.DB, access *AccessService, ledger *LedgerService, auditLogger *audit.AuditLogger, logger *zap.Logger) *WithdrawalService {
	return &WithdrawalService{
		db:     db,
		access: access,
		ledger: ledger,
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
}

func scanWithdrawal(row scanner) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(&w.ID, &w.ChildID, &w.Amount, &w.Memo, &w.Status, &w.RequestedAt, &w.RespondedAt, &w.ApproverID, &w.DenialReason)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func collectWithdrawals(rows *sql.Rows) ([]models.WithdrawalRequest, error) {
	defer rows.Close()
	out := []models.WithdrawalRequest{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// Request opens a pending withdrawal for the calling child.
func (s *WithdrawalService) Request(ctx context.Context, ident *models.Identity, amount decimal.Decimal, memo string) (*models.WithdrawalRequest, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	child, err := lockChild(ctx, tx, ident.ChildID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveChild(child); err != nil {
		return nil, err
	}

	w := &models.WithdrawalRequest{
		ChildID:     child.ID,
		Amount:      amount,
		Memo:        models.StringPtr(memo),
		Status:      models.WithdrawalPending,
		RequestedAt: s.now().UTC(),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO withdrawal_requests (child_id, amount, memo, status, requested_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, w.ChildID, w.Amount, w.Memo, w.Status, w.RequestedAt).Scan(&w.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested", zap.Int64("withdrawal_id", w.ID), zap.Int64("child_id", w.ChildID))
	return w, nil
}

// Mine lists the calling child's requests, newest first.
func (s *WithdrawalService) Mine(ctx context.Context, ident *models.Identity) ([]models.WithdrawalRequest, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE child_id = $1
		ORDER BY requested_at DESC, id DESC`, ident.ChildID)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}

// Pending lists open requests the caller may act on.
func (s *WithdrawalService) Pending(ctx context.Context, ident *models.Identity) ([]models.WithdrawalRequest, error) {
	if err := requireGuardian(ident); err != nil {
		return nil, err
	}

	if ident.IsAdmin() {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+withdrawalColumns+`
			FROM withdrawal_requests
			WHERE status = $1
			ORDER BY requested_at, id`, models.WithdrawalPending)
		if err != nil {
			return nil, err
		}
		return collectWithdrawals(rows)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.child_id, w.amount, w.memo, w.status, w.requested_at, w.responded_at, w.approver_id, w.denial_reason,
			g.permissions, g.is_owner
		FROM withdrawal_requests w
		JOIN child_grants g ON g.child_id = w.child_id
		WHERE g.user_id = $1 AND w.status = $2
		ORDER BY w.requested_at, w.id`, ident.UserID, models.WithdrawalPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.WithdrawalRequest{}
	for rows.Next() {
		var w models.WithdrawalRequest
		var g models.Grant
		if err := rows.Scan(&w.ID, &w.ChildID, &w.Amount, &w.Memo, &w.Status, &w.RequestedAt, &w.RespondedAt, &w.ApproverID, &w.DenialReason,
			&g.Permissions, &g.IsOwner); err != nil {
			return nil, err
		}
		if g.Effective().Has(acl.ManageWithdrawals) {
			out = append(out, w)
		}
	}
	return out, rows.Err()
}

func (s *WithdrawalService) lock(ctx context.Context, q querier, id int64) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(q.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("withdrawal request not found")
	}
	return w, err
}

// respond flips the status of a locked request. The WHERE on the old status
// guards against a concurrent response that slipped past the row lock.
func (s *WithdrawalService) respond(ctx context.Context, tx *sql.Tx, w *models.WithdrawalRequest, to models.WithdrawalStatus, approver *int64, reason *string) error {
	from := w.Status
	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $1, responded_at = $2, approver_id = $3, denial_reason = $4
		WHERE id = $5 AND status = $6`, to, now, approver, reason, w.ID, from)
	if err != nil {
		return err
	}
	if err := expectOne(res, conflictError("withdrawal request already processed")); err != nil {
		return err
	}
	w.Status = to
	w.RespondedAt = &now
	w.ApproverID = approver
	w.DenialReason = reason
	return nil
}

// Approve accepts a pending request and debits the child exactly once.
func (s *WithdrawalService) Approve(ctx context.Context, ident *models.Identity, id int64) (*models.WithdrawalRequest, *models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	w, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.access.Authorize(ctx, tx, ident, w.ChildID, acl.ManageWithdrawals); err != nil {
		return nil, nil, err
	}
	if _, err := lockChild(ctx, tx, w.ChildID); err != nil {
		return nil, nil, err
	}

	from := w.Status
	to, err := advance(models.WithdrawalMachine, from, models.WithdrawalApprove)
	if err != nil {
		return nil, nil, conflictError("withdrawal request already %s", from)
	}
	approver := ident.UserID
	if err := s.respond(ctx, tx, w, to, &approver, nil); err != nil {
		return nil, nil, err
	}

	posting := &models.Transaction{
		ChildID:     w.ChildID,
		Type:        models.Debit,
		Amount:      w.Amount,
		Memo:        w.Memo,
		Kind:        models.KindWithdrawal,
		InitiatedBy: models.InitiatedByChild,
		InitiatorID: w.ChildID,
	}
	if err := s.ledger.post(ctx, tx, posting); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	s.ledger.committed(ctx, posting)
	s.audit.LogTransition(models.WithdrawalMachine.Name(), w.ID, w.ChildID, string(from), string(to), ident)
	return w, posting, nil
}

// Deny rejects a pending request. A reason is required.
func (s *WithdrawalService) Deny(ctx context.Context, ident *models.Identity, id int64, reason string) (*models.WithdrawalRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("a denial reason is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, tx, ident, w.ChildID, acl.ManageWithdrawals); err != nil {
		return nil, err
	}

	from := w.Status
	to, err := advance(models.WithdrawalMachine, from, models.WithdrawalDeny)
	if err != nil {
		return nil, conflictError("withdrawal request already %s", from)
	}
	approver := ident.UserID
	if err := s.respond(ctx, tx, w, to, &approver, &reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(models.WithdrawalMachine.Name(), w.ID, w.ChildID, string(from), string(to), ident)
	return w, nil
}

// Cancel withdraws the calling child's own pending request.
func (s *WithdrawalService) Cancel(ctx context.Context, ident *models.Identity, id int64) (*models.WithdrawalRequest, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if w.ChildID != ident.ChildID {
		return nil, notFoundError("withdrawal request not found")
	}

	from := w.Status
	to, err := advance(models.WithdrawalMachine, from, models.WithdrawalCancel)
	if err != nil {
		return nil, conflictError("withdrawal request already %s", from)
	}
	if err := s.respond(ctx, tx, w, to, nil, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(models.WithdrawalMachine.Name(), w.ID, w.ChildID, string(from), string(to), ident)
	return w, nil
}
