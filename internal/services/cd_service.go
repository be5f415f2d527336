package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const cdColumns = `id, child_id, parent_id, amount, interest_rate, term_days, status, created_at, accepted_at, matures_at, closed_at`

type CDService struct {
	db     *sql.DB
	access *AccessService
	ledger *LedgerService
	audit  *audit.AuditLogger
	logger *zap.Logger
	now    func() time.Time
}

func NewCDService(db *sql.DB, access *AccessService, ledger *LedgerService, auditLogger *audit.AuditLogger, logger *zap.Logger) *CDService {
	return &CDService{
		db:     db,
		access: access,
		ledger: ledger,
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
}

// CDOffer is a parent's offer to a child.
type CDOffer struct {
	ChildID      int64
	Amount       decimal.Decimal
	InterestRate decimal.Decimal
	TermDays     int
}

func scanCD(row scanner) (*models.CertificateDeposit, error) {
	var c models.CertificateDeposit
	err := row.Scan(&c.ID, &c.ChildID, &c.ParentID, &c.Amount, &c.InterestRate, &c.TermDays, &c.Status,
		&c.CreatedAt, &c.AcceptedAt, &c.MaturesAt, &c.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCDs(rows *sql.Rows) ([]models.CertificateDeposit, error) {
	defer rows.Close()
	out := []models.CertificateDeposit{}
	for rows.Next() {
		c, err := scanCD(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *CDService) lock(ctx context.Context, q querier, id int64) (*models.CertificateDeposit, error) {
	c, err := scanCD(q.QueryRowContext(ctx, `
		SELECT `+cdColumns+`
		FROM certificates
		WHERE id = $1
		FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("certificate not found")
	}
	return c, err
}

func (s *CDService) update(ctx context.Context, q querier, c *models.CertificateDeposit, from models.CDStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE certificates
		SET status = $1, accepted_at = $2, matures_at = $3, closed_at = $4
		WHERE id = $5 AND status = $6`, c.Status, c.AcceptedAt, c.MaturesAt, c.ClosedAt, c.ID, from)
	if err != nil {
		return err
	}
	return expectOne(res, conflictError("certificate already processed"))
}

// Offer creates a CD offer. The rate is a daily rate compounded over TermDays.
func (s *CDService) Offer(ctx context.Context, ident *models.Identity, in CDOffer) (*models.CertificateDeposit, error) {
	switch {
	case !in.Amount.IsPositive():
		return nil, validationError("amount must be positive")
	case in.InterestRate.IsNegative():
		return nil, validationError("interest_rate must not be negative")
	case in.TermDays <= 0 || in.TermDays > ledger.MaxDays:
		return nil, validationError("term_days must be between 1 and %d", ledger.MaxDays)
	}
	if err := requireGuardian(ident); err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, s.db, ident, in.ChildID, acl.OfferCD); err != nil {
		return nil, err
	}

	c := &models.CertificateDeposit{
		ChildID:      in.ChildID,
		ParentID:     ident.UserID,
		Amount:       in.Amount,
		InterestRate: in.InterestRate,
		TermDays:     in.TermDays,
		Status:       models.CDOffered,
		CreatedAt:    s.now().UTC(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO certificates (child_id, parent_id, amount, interest_rate, term_days, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, c.ChildID, c.ParentID, c.Amount, c.InterestRate, c.TermDays, c.Status, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("cd offered", zap.Int64("cd_id", c.ID), zap.Int64("child_id", c.ChildID))
	return c, nil
}

func (s *CDService) Mine(ctx context.Context, ident *models.Identity) ([]models.CertificateDeposit, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cdColumns+`
		FROM certificates
		WHERE child_id = $1
		ORDER BY created_at DESC, id DESC`, ident.ChildID)
	if err != nil {
		return nil, err
	}
	return collectCDs(rows)
}

func (s *CDService) ForChild(ctx context.Context, ident *models.Identity, childID int64) ([]models.CertificateDeposit, error) {
	if err := s.access.AuthorizeAny(ctx, s.db, ident, childID, acl.ViewTransactions, acl.OfferCD); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cdColumns+`
		FROM certificates
		WHERE child_id = $1
		ORDER BY created_at DESC, id DESC`, childID)
	if err != nil {
		return nil, err
	}
	return collectCDs(rows)
}

// childAction locks a CD owned by the calling child and, when financial,
// the unfrozen child row behind it.
func (s *CDService) childAction(ctx context.Context, tx *sql.Tx, ident *models.Identity, id int64, financial bool) (*models.CertificateDeposit, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	c, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if c.ChildID != ident.ChildID {
		return nil, notFoundError("certificate not found")
	}
	if financial {
		child, err := lockChild(ctx, tx, c.ChildID)
		if err != nil {
			return nil, err
		}
		if err := requireActiveChild(child); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Accept locks the CD amount out of the child's balance until maturity.
func (s *CDService) Accept(ctx context.Context, ident *models.Identity, id int64) (*models.CertificateDeposit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := s.childAction(ctx, tx, ident, id, true)
	if err != nil {
		return nil, err
	}

	from := c.Status
	to, err := advance(models.CDMachine, from, models.CDAccept)
	if err != nil {
		return nil, conflictError("certificate is %s", from)
	}

	bal, err := s.ledger.balance(ctx, tx, c.ChildID)
	if err != nil {
		return nil, err
	}
	if bal.LessThan(c.Amount) {
		return nil, validationError("insufficient balance to open this certificate")
	}

	now := s.now().UTC()
	matures := now.AddDate(0, 0, c.TermDays)
	c.Status = to
	c.AcceptedAt = &now
	c.MaturesAt = &matures
	if err := s.update(ctx, tx, c, from); err != nil {
		return nil, err
	}

	posting := &models.Transaction{
		ChildID:     c.ChildID,
		Type:        models.Debit,
		Amount:      c.Amount,
		Memo:        models.StringPtr(fmt.Sprintf("CD #%d opened", c.ID)),
		Kind:        models.KindCD,
		InitiatedBy: models.InitiatedByChild,
		InitiatorID: c.ChildID,
		Timestamp:   now,
	}
	if err := s.ledger.post(ctx, tx, posting); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.ledger.committed(ctx, posting)
	s.audit.LogTransition(models.CDMachine.Name(), c.ID, c.ChildID, string(from), string(to), ident)
	return c, nil
}

// Reject turns down an offer. Nothing is posted.
func (s *CDService) Reject(ctx context.Context, ident *models.Identity, id int64) (*models.CertificateDeposit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := s.childAction(ctx, tx, ident, id, false)
	if err != nil {
		return nil, err
	}

	from := c.Status
	to, err := advance(models.CDMachine, from, models.CDReject)
	if err != nil {
		return nil, conflictError("certificate is %s", from)
	}
	now := s.now().UTC()
	c.Status = to
	c.ClosedAt = &now
	if err := s.update(ctx, tx, c, from); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(models.CDMachine.Name(), c.ID, c.ChildID, string(from), string(to), ident)
	return c, nil
}

// RedeemEarly closes an accepted CD before maturity and pays back the amount
// less the account's CD penalty. No interest is paid.
func (s *CDService) RedeemEarly(ctx context.Context, ident *models.Identity, id int64) (*models.CertificateDeposit, *models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	c, err := s.childAction(ctx, tx, ident, id, true)
	if err != nil {
		return nil, nil, err
	}

	from := c.Status
	to, err := advance(models.CDMachine, from, models.CDRedeemEarly)
	if err != nil {
		return nil, nil, conflictError("certificate is %s", from)
	}
	now := s.now().UTC()
	if c.MaturesAt != nil && !now.Before(*c.MaturesAt) {
		return nil, nil, conflictError("certificate has matured")
	}

	var penalty decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT cd_penalty_rate FROM accounts WHERE child_id = $1`, c.ChildID).Scan(&penalty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, notFoundError("account not found")
	}
	if err != nil {
		return nil, nil, err
	}

	c.Status = to
	c.ClosedAt = &now
	if err := s.update(ctx, tx, c, from); err != nil {
		return nil, nil, err
	}

	var posting *models.Transaction
	if payout := ledger.EarlyRedemptionPayout(c.Amount, penalty); payout.IsPositive() {
		posting = &models.Transaction{
			ChildID:     c.ChildID,
			Type:        models.Credit,
			Amount:      payout,
			Memo:        models.StringPtr(fmt.Sprintf("CD #%d early redemption", c.ID)),
			Kind:        models.KindCD,
			InitiatedBy: models.InitiatedByChild,
			InitiatorID: c.ChildID,
			Timestamp:   now,
		}
		if err := s.ledger.post(ctx, tx, posting); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	s.ledger.committed(ctx, posting)
	s.audit.LogTransition(models.CDMachine.Name(), c.ID, c.ChildID, string(from), string(to), ident)
	return c, posting, nil
}

// MatureDue pays out every accepted CD whose term ended by now. Each CD
// runs in its own transaction; it returns how many matured.
func (s *CDService) MatureDue(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM certificates
		WHERE status = $1 AND matures_at <= $2
		ORDER BY matures_at, id`, models.CDAccepted, now)
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

	matured := 0
	for _, id := range ids {
		ok, err := s.matureOne(ctx, id, now)
		if err != nil {
			s.logger.Error("cd maturity", zap.Int64("cd_id", id), zap.Error(err))
			s.audit.LogError("cd_maturity", 0, err)
			continue
		}
		if ok {
			matured++
		}
	}
	return matured, nil
}

func (s *CDService) matureOne(ctx context.Context, id int64, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	c, err := s.lock(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if c.Status != models.CDAccepted || c.MaturesAt == nil || now.Before(*c.MaturesAt) {
		return false, nil
	}

	from := c.Status
	to, err := advance(models.CDMachine, from, models.CDMature)
	if err != nil {
		return false, err
	}
	closed := now.UTC()
	c.Status = to
	c.ClosedAt = &closed
	if err := s.update(ctx, tx, c, from); err != nil {
		return false, err
	}

	posting := &models.Transaction{
		ChildID:     c.ChildID,
		Type:        models.Credit,
		Amount:      ledger.MaturityPayout(c.Amount, c.InterestRate, c.TermDays),
		Memo:        models.StringPtr(fmt.Sprintf("CD #%d matured", c.ID)),
		Kind:        models.KindCD,
		InitiatedBy: models.InitiatedBySystem,
		Timestamp:   closed,
	}
	if err := s.ledger.post(ctx, tx, posting); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.ledger.committed(ctx, posting)
	s.audit.LogTransition(models.CDMachine.Name(), c.ID, c.ChildID, string(from), string(to), nil)
	return true, nil
}
