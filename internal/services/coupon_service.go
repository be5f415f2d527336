package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/database"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const couponColumns = `id, code, amount, memo, expiration, max_uses, uses_remaining, scope, child_id, created_by, qr_code, created_at`

type CouponService struct {
	db     *sql.DB
	access *AccessService
	ledger *LedgerService
	audit  *audit.AuditLogger
	logger *zap.Logger
	now    func() time.Time
}

func NewCouponService(db *sql.DB, access *AccessService, ledger *LedgerService, auditLogger *audit.AuditLogger, logger *zap.Logger) *CouponService {
	return &CouponService{
		db:     db,
		access: access,
		ledger: ledger,
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
}

type CouponInput struct {
	Code       string
	Amount     decimal.Decimal
	Memo       string
	Expiration *time.Time
	MaxUses    int
	Scope      models.CouponScope
	ChildID    *int64
	WithQRCode bool
}

// RedeemResult is what a child sees after a successful redemption.
type RedeemResult struct {
	Redemption  *models.CouponRedemption `json:"redemption"`
	Transaction *models.Transaction      `json:"transaction"`
}

func scanCoupon(row scanner) (*models.Coupon, error) {
	var c models.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Amount, &c.Memo, &c.Expiration, &c.MaxUses, &c.UsesRemaining, &c.Scope,
		&c.ChildID, &c.CreatedBy, &c.QRCode, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCoupons(rows *sql.Rows) ([]models.Coupon, error) {
	defer rows.Close()
	out := []models.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// newCouponCode returns eight upper-case hex characters.
func newCouponCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Create issues a coupon. Parents may target one child they can deposit to
// or all of their children; only admins may target every child.
func (s *CouponService) Create(ctx context.Context, ident *models.Identity, in CouponInput) (*models.Coupon, error) {
	if err := requireGuardian(ident); err != nil {
		return nil, err
	}
	switch {
	case !in.Amount.IsPositive():
		return nil, validationError("amount must be positive")
	case in.MaxUses < 1:
		return nil, validationError("max_uses must be at least 1")
	case !in.Scope.Valid():
		return nil, validationError("unknown scope %q", in.Scope)
	case in.Expiration != nil && !in.Expiration.After(s.now()):
		return nil, validationError("expiration must be in the future")
	}

	switch in.Scope {
	case models.ScopeChild:
		if in.ChildID == nil {
			return nil, validationError("child_id is required for scope child")
		}
		if err := s.access.Authorize(ctx, s.db, ident, *in.ChildID, acl.Deposit); err != nil {
			return nil, err
		}
	case models.ScopeMyChildren:
		in.ChildID = nil
	case models.ScopeAllChildren:
		if !ident.IsAdmin() {
			return nil, forbiddenError("scope all_children requires admin")
		}
		in.ChildID = nil
	}

	c := &models.Coupon{
		Code:          strings.ToUpper(strings.TrimSpace(in.Code)),
		Amount:        in.Amount,
		Memo:          models.StringPtr(in.Memo),
		Expiration:    in.Expiration,
		MaxUses:       in.MaxUses,
		UsesRemaining: in.MaxUses,
		Scope:         in.Scope,
		ChildID:       in.ChildID,
		CreatedBy:     ident.UserID,
		CreatedAt:     s.now().UTC(),
	}
	if c.Code == "" {
		c.Code = newCouponCode()
	}
	if in.WithQRCode {
		img, err := encodeQR(c.Code)
		if err != nil {
			return nil, err
		}
		c.QRCode = &img
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO coupons (code, amount, memo, expiration, max_uses, uses_remaining, scope, child_id, created_by, qr_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		c.Code, c.Amount, c.Memo, c.Expiration, c.MaxUses, c.UsesRemaining, c.Scope, c.ChildID, c.CreatedBy, c.QRCode, c.CreatedAt).Scan(&c.ID)
	if database.IsUniqueViolation(err) {
		return nil, conflictError("coupon code %s already exists", c.Code)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("coupon created", zap.Int64("coupon_id", c.ID), zap.String("scope", string(c.Scope)))
	return c, nil
}

// ListMine lists coupons created by the caller.
func (s *CouponService) ListMine(ctx context.Context, ident *models.Identity) ([]models.Coupon, error) {
	if err := requireGuardian(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE created_by = $1
		ORDER BY created_at DESC, id DESC`, ident.UserID)
	if err != nil {
		return nil, err
	}
	return collectCoupons(rows)
}

// ListAll searches every coupon by code or memo. Admin only.
func (s *CouponService) ListAll(ctx context.Context, ident *models.Identity, search string, scope models.CouponScope) ([]models.Coupon, error) {
	if !ident.IsAdmin() {
		return nil, forbiddenError("admin required")
	}
	if scope != "" && !scope.Valid() {
		return nil, validationError("unknown scope %q", scope)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR memo ILIKE '%' || $1 || '%')
			AND ($2 = '' OR scope = $2)
		ORDER BY created_at DESC, id DESC`, strings.TrimSpace(search), string(scope))
	if err != nil {
		return nil, err
	}
	return collectCoupons(rows)
}

// Delete removes a coupon. Only its creator or an admin may.
func (s *CouponService) Delete(ctx context.Context, ident *models.Identity, id int64) error {
	var createdBy int64
	err := s.db.QueryRowContext(ctx, `SELECT created_by FROM coupons WHERE id = $1`, id).Scan(&createdBy)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("coupon not found")
	}
	if err != nil {
		return err
	}
	if !ident.IsAdmin() && (!ident.IsParent() || ident.UserID != createdBy) {
		return forbiddenError("not the coupon creator")
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	return err
}

// Redeem credits the coupon amount to the calling child and consumes one use.
func (s *CouponService) Redeem(ctx context.Context, ident *models.Identity, code string) (*RedeemResult, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, validationError("code is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := scanCoupon(tx.QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE code = $1
		FOR UPDATE`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("coupon not found")
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	from := c.Status(now)
	switch from {
	case models.CouponExpired:
		return nil, validationError("coupon expired")
	case models.CouponExhausted:
		return nil, conflictError("coupon already redeemed")
	}
	if err := s.checkScope(ctx, tx, c, ident.ChildID); err != nil {
		return nil, err
	}

	child, err := lockChild(ctx, tx, ident.ChildID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveChild(child); err != nil {
		return nil, err
	}

	to, err := advance(models.CouponMachine, from, c.RedeemEvent())
	if err != nil {
		return nil, conflictError("coupon is %s", from)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE coupons
		SET uses_remaining = uses_remaining - 1
		WHERE id = $1 AND uses_remaining > 0 AND (expiration IS NULL OR expiration > $2)`, c.ID, now)
	if err != nil {
		return nil, err
	}
	if err := expectOne(res, conflictError("coupon already redeemed")); err != nil {
		return nil, err
	}

	memo := c.Memo
	if memo == nil {
		memo = models.StringPtr("Coupon " + c.Code)
	}
	posting := &models.Transaction{
		ChildID:     child.ID,
		Type:        models.Credit,
		Amount:      c.Amount,
		Memo:        memo,
		Kind:        models.KindCoupon,
		InitiatedBy: models.InitiatedByChild,
		InitiatorID: child.ID,
		Timestamp:   now,
	}
	if err := s.ledger.post(ctx, tx, posting); err != nil {
		return nil, err
	}

	r := &models.CouponRedemption{
		CouponID:      c.ID,
		ChildID:       child.ID,
		TransactionID: posting.ID,
		Code:          c.Code,
		Amount:        c.Amount,
		RedeemedAt:    now,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO coupon_redemptions (coupon_id, child_id, transaction_id, redeemed_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, r.CouponID, r.ChildID, r.TransactionID, r.RedeemedAt).Scan(&r.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.ledger.committed(ctx, posting)
	if from != to {
		s.audit.LogTransition(models.CouponMachine.Name(), c.ID, child.ID, string(from), string(to), ident)
	}
	return &RedeemResult{Redemption: r, Transaction: posting}, nil
}

func (s *CouponService) checkScope(ctx context.Context, q querier, c *models.Coupon, childID int64) error {
	switch c.Scope {
	case models.ScopeChild:
		if c.ChildID == nil || *c.ChildID != childID {
			return forbiddenError("coupon is for another child")
		}
	case models.ScopeMyChildren:
		g, err := s.access.Grant(ctx, q, c.CreatedBy, childID)
		if err != nil {
			return err
		}
		if g == nil {
			return forbiddenError("coupon is for another family")
		}
	}
	return nil
}

// Redemptions lists the calling child's redemptions, newest first.
func (s *CouponService) Redemptions(ctx context.Context, ident *models.Identity) ([]models.CouponRedemption, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.coupon_id, r.child_id, r.transaction_id, c.code, c.amount, r.redeemed_at
		FROM coupon_redemptions r
		JOIN coupons c ON c.id = r.coupon_id
		WHERE r.child_id = $1
		ORDER BY r.redeemed_at DESC, r.id DESC`, ident.ChildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.CouponRedemption{}
	for rows.Next() {
		var r models.CouponRedemption
		if err := rows.Scan(&r.ID, &r.CouponID, &r.ChildID, &r.TransactionID, &r.Code, &r.Amount, &r.RedeemedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
