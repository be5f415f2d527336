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
	"github.com/unclejonsbank/backend/internal/metrics"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const transactionColumns = `id, child_id, type, amount, memo, kind, initiated_by, initiator_id, timestamp`

// LedgerService owns the transactions table. Every other service posts
// through it so validation, metrics, audit and events happen in one place.
type LedgerService struct {
	db     *sql.DB
	access *AccessService
	events *EventPublisher
	audit  *audit.AuditLogger
	logger *zap.Logger
	now    func() time.Time
}

func NewLedgerService(db *sql.DB, access *AccessService, events *EventPublisher, auditLogger *audit.AuditLogger, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		db:     db,
		access: access,
		events: events,
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
}

// PostInput is a manual posting by a parent, admin or child.
type PostInput struct {
	ChildID int64
	Type    models.TxType
	Amount  decimal.Decimal
	Memo    string
}

// EditInput carries the fields to change; nil leaves a field as is.
type EditInput struct {
	Type   *models.TxType
	Amount *decimal.Decimal
	Memo   *string
}

type PostResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Balance     decimal.Decimal     `json:"balance"`
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.ChildID, &t.Type, &t.Amount, &t.Memo, &t.Kind, &t.InitiatedBy, &t.InitiatorID, &t.Timestamp)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	txs := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// post validates and inserts t inside q. The caller must call committed
// once the surrounding transaction succeeds.
func (s *LedgerService) post(ctx context.Context, q querier, t *models.Transaction) error {
	if err := ledger.ValidateEntry(*t); err != nil {
		return err
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now().UTC()
	}
	if t.Kind == "" {
		t.Kind = models.KindManual
	}

	return q.QueryRowContext(ctx, `
		INSERT INTO transactions (child_id, type, amount, memo, kind, initiated_by, initiator_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		t.ChildID, t.Type, t.Amount, t.Memo, t.Kind, t.InitiatedBy, t.InitiatorID, t.Timestamp).Scan(&t.ID)
}

// committed records metrics and audit entries and queues events for
// postings whose transaction has committed.
func (s *LedgerService) committed(ctx context.Context, txs ...*models.Transaction) {
	for _, t := range txs {
		if t == nil {
			continue
		}
		metrics.TransactionsPosted.WithLabelValues(string(t.Kind), string(t.Type)).Inc()
		if s.audit != nil {
			s.audit.LogPosting(t)
		}
	}
	s.events.Posted(ctx, txs...)
}

// balance derives the current balance from the ledger.
func (s *LedgerService) balance(ctx context.Context, q querier, childID int64) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE child_id = $1`, childID).Scan(&bal)
	return bal, err
}

// balanceBefore derives the balance from postings strictly before at.
func (s *LedgerService) balanceBefore(ctx context.Context, q querier, childID int64, at time.Time) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE child_id = $1 AND timestamp < $2`, childID, at).Scan(&bal)
	return bal, err
}

func (s *LedgerService) history(ctx context.Context, q querier, childID int64) ([]models.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE child_id = $1
		ORDER BY timestamp, id`, childID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (s *LedgerService) historySince(ctx context.Context, q querier, childID int64, from time.Time) ([]models.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE child_id = $1 AND timestamp >= $2
		ORDER BY timestamp, id`, childID, from)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// Statement returns the ledger of a child in the requested display order.
// Running balances always come from the full chronological history.
func (s *LedgerService) Statement(ctx context.Context, ident *models.Identity, childID int64, order ledger.Order, offset, limit int) (*ledger.Statement, error) {
	if err := s.access.CanView(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}

	txs, err := s.history(ctx, s.db, childID)
	if err != nil {
		return nil, err
	}
	return ledger.BuildStatement(txs, order, offset, limit)
}

// Balance returns only the derived balance.
func (s *LedgerService) Balance(ctx context.Context, ident *models.Identity, childID int64) (decimal.Decimal, error) {
	if err := s.access.CanView(ctx, s.db, ident, childID); err != nil {
		return decimal.Zero, err
	}
	return s.balance(ctx, s.db, childID)
}

// Project runs a what-if compounding projection on the current balance.
// rate overrides the account's savings rate when set.
func (s *LedgerService) Project(ctx context.Context, ident *models.Identity, childID int64, days int, rate *decimal.Decimal) (*ledger.Projection, error) {
	if err := s.access.CanView(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}

	var savings, penalty decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT interest_rate, penalty_interest_rate
		FROM accounts
		WHERE child_id = $1`, childID).Scan(&savings, &penalty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("child not found")
	}
	if err != nil {
		return nil, err
	}
	if rate != nil {
		savings = *rate
	}

	bal, err := s.balance(ctx, s.db, childID)
	if err != nil {
		return nil, err
	}
	return ledger.Project(bal, savings, penalty, days)
}

// Post records a manual transaction. Parents need deposit or debit on the
// child; a child may only record its own debits and not while frozen.
func (s *LedgerService) Post(ctx context.Context, ident *models.Identity, in PostInput) (*PostResult, error) {
	t := &models.Transaction{
		ChildID: in.ChildID,
		Type:    in.Type,
		Amount:  in.Amount,
		Memo:    models.StringPtr(in.Memo),
		Kind:    models.KindManual,
	}
	t.InitiatedBy, t.InitiatorID = ident.Initiator()
	if err := ledger.ValidateEntry(*t); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if ident.IsChild() {
		if ident.ChildID != in.ChildID || in.Type != models.Debit {
			return nil, s.access.deny(ident, in.ChildID, string(acl.Deposit))
		}
	} else {
		need := acl.Deposit
		if in.Type == models.Debit {
			need = acl.Debit
		}
		if err := s.access.Authorize(ctx, tx, ident, in.ChildID, need); err != nil {
			return nil, err
		}
	}

	child, err := lockChild(ctx, tx, in.ChildID)
	if err != nil {
		return nil, err
	}
	if ident.IsChild() {
		if err := requireActiveChild(child); err != nil {
			return nil, err
		}
	}

	if err := s.post(ctx, tx, t); err != nil {
		return nil, err
	}
	bal, err := s.balance(ctx, tx, in.ChildID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.committed(ctx, t)
	return &PostResult{Transaction: t, Balance: bal}, nil
}

func (s *LedgerService) lockTransaction(ctx context.Context, q querier, id int64) (*models.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("transaction not found")
	}
	return t, err
}

// Edit changes type, amount or memo of an existing transaction.
func (s *LedgerService) Edit(ctx context.Context, ident *models.Identity, id int64, in EditInput) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := s.lockTransaction(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, tx, ident, t.ChildID, acl.EditTransaction); err != nil {
		return nil, err
	}

	before := *t
	if in.Type != nil {
		t.Type = *in.Type
	}
	if in.Amount != nil {
		t.Amount = *in.Amount
	}
	if in.Memo != nil {
		t.Memo = models.StringPtr(*in.Memo)
	}
	if err := ledger.ValidateEntry(*t); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET type = $1, amount = $2, memo = $3
		WHERE id = $4`, t.Type, t.Amount, t.Memo, t.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogEdit(&before, t, ident)
	s.events.Edited(ctx, t)
	s.logger.Info("transaction edited", zap.Int64("transaction_id", t.ID), zap.Int64("child_id", t.ChildID))
	return t, nil
}

// Delete removes a transaction.
func (s *LedgerService) Delete(ctx context.Context, ident *models.Identity, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := s.lockTransaction(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.access.Authorize(ctx, tx, ident, t.ChildID, acl.DeleteTransaction); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogDelete(t, ident)
	s.events.Deleted(ctx, t)
	s.logger.Info("transaction deleted", zap.Int64("transaction_id", id), zap.Int64("child_id", t.ChildID))
	return nil
}

// ListAll pages through every transaction, newest first. Admin only.
func (s *LedgerService) ListAll(ctx context.Context, ident *models.Identity, limit, offset int) ([]models.Transaction, error) {
	if !ident.IsAdmin() {
		return nil, forbiddenError("admin required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		return nil, validationError("offset must not be negative")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY timestamp DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}
