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
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

// childViewSelect derives balance and total interest from the ledger.
const childViewSelect = `
	SELECT c.id, c.first_name, c.frozen, a.interest_rate, a.penalty_interest_rate, a.cd_penalty_rate,
		COALESCE((SELECT SUM(CASE WHEN t.type = 'credit' THEN t.amount ELSE -t.amount END)
			FROM transactions t WHERE t.child_id = c.id), 0),
		COALESCE((SELECT SUM(CASE WHEN t.type = 'credit' THEN t.amount ELSE -t.amount END)
			FROM transactions t WHERE t.child_id = c.id AND t.kind = 'interest'), 0),
		c.created_at
	FROM children c
	JOIN accounts a ON a.child_id = c.id`

// RateField names an account rate a parent can change.
type RateField string

const (
	InterestRate        RateField = "interest_rate"
	PenaltyInterestRate RateField = "penalty_interest_rate"
	CDPenaltyRate       RateField = "cd_penalty_rate"
)

type ChildService struct {
	db       *sql.DB
	access   *AccessService
	ledger   *LedgerService
	interest *InterestService
	settings *SettingsService
	audit    *audit.AuditLogger
	logger   *zap.Logger
	now      func() time.Time
}

func NewChildService(db *sql.DB, access *AccessService, ledger *LedgerService, interest *InterestService, settings *SettingsService, auditLogger *audit.AuditLogger, logger *zap.Logger) *ChildService {
	return &ChildService{
		db:       db,
		access:   access,
		ledger:   ledger,
		interest: interest,
		settings: settings,
		audit:    auditLogger,
		logger:   logger,
		now:      time.Now,
	}
}

// ChildCreated carries the plain access code. It is only returned once.
type ChildCreated struct {
	Child      *models.ChildView `json:"child"`
	AccessCode string            `json:"access_code"`
}

func scanChildView(row scanner) (*models.ChildView, error) {
	var v models.ChildView
	err := row.Scan(&v.ID, &v.FirstName, &v.Frozen, &v.InterestRate, &v.PenaltyInterestRate, &v.CDPenaltyRate,
		&v.Balance, &v.TotalInterestEarned, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *ChildService) view(ctx context.Context, q querier, id int64) (*models.ChildView, error) {
	v, err := scanChildView(q.QueryRowContext(ctx, childViewSelect+` WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("child not found")
	}
	return v, err
}

func (s *ChildService) collect(rows *sql.Rows) ([]models.ChildView, error) {
	defer rows.Close()
	out := []models.ChildView{}
	for rows.Next() {
		v, err := scanChildView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func validAccessCode(code string) error {
	if n := len(strings.TrimSpace(code)); n < 4 || n > 64 {
		return validationError("access_code must be between 4 and 64 characters")
	}
	return nil
}

// Create adds a child with rates copied from the site defaults. A parent
// creator becomes the owner.
func (s *ChildService) Create(ctx context.Context, ident *models.Identity, firstName, accessCode string) (*ChildCreated, error) {
	if err := requireGuardian(ident); err != nil {
		return nil, err
	}
	firstName = strings.TrimSpace(firstName)
	if firstName == "" {
		return nil, validationError("first_name is required")
	}
	if accessCode == "" {
		code, err := newAccessCode()
		if err != nil {
			return nil, err
		}
		accessCode = code
	} else if err := validAccessCode(accessCode); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	st, err := s.settings.load(ctx, tx)
	if err != nil {
		return nil, err
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO children (first_name, access_code_hash, frozen, created_at)
		VALUES ($1, $2, false, $3)
		RETURNING id`, firstName, hashAccessCode(accessCode), s.now().UTC()).Scan(&id)
	if database.IsUniqueViolation(err) {
		return nil, conflictError("access code already in use")
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (child_id, interest_rate, penalty_interest_rate, cd_penalty_rate)
		VALUES ($1, $2, $3, $4)`, id, st.DefaultInterestRate, st.DefaultPenaltyInterestRate, st.DefaultCDPenaltyRate); err != nil {
		return nil, err
	}

	if ident.IsParent() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO child_grants (user_id, child_id, permissions, is_owner)
			VALUES ($1, $2, $3, true)`, ident.UserID, id, acl.All); err != nil {
			return nil, err
		}
	}

	v, err := s.view(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("child created", zap.Int64("child_id", id), zap.Int64("created_by", ident.UserID))
	return &ChildCreated{Child: v, AccessCode: accessCode}, nil
}

// List returns the caller's children. Admins see every child.
func (s *ChildService) List(ctx context.Context, ident *models.Identity) ([]models.ChildView, error) {
	if err := requireGuardian(ident); err != nil {
		return nil, err
	}

	var (
		rows *sql.Rows
		err  error
	)
	if ident.IsAdmin() {
		rows, err = s.db.QueryContext(ctx, childViewSelect+` ORDER BY c.id`)
	} else {
		rows, err = s.db.QueryContext(ctx, childViewSelect+`
			JOIN child_grants g ON g.child_id = c.id
			WHERE g.user_id = $1
			ORDER BY c.id`, ident.UserID)
	}
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *ChildService) Get(ctx context.Context, ident *models.Identity, id int64) (*models.ChildView, error) {
	if err := s.access.CanView(ctx, s.db, ident, id); err != nil {
		return nil, err
	}
	return s.view(ctx, s.db, id)
}

func (s *ChildService) Me(ctx context.Context, ident *models.Identity) (*models.ChildView, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	return s.view(ctx, s.db, ident.ChildID)
}

func (s *ChildService) SetFrozen(ctx context.Context, ident *models.Identity, id int64, frozen bool) (*models.ChildView, error) {
	if err := s.access.Authorize(ctx, s.db, ident, id, acl.FreezeChild); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE children SET frozen = $1 WHERE id = $2`, frozen, id)
	if err != nil {
		return nil, err
	}
	if err := expectOne(res, notFoundError("child not found")); err != nil {
		return nil, err
	}

	s.logger.Info("child frozen flag changed", zap.Int64("child_id", id), zap.Bool("frozen", frozen))
	return s.view(ctx, s.db, id)
}

// SetRate changes one account rate. Savings and penalty changes first
// accrue interest up to today at the old rate.
func (s *ChildService) SetRate(ctx context.Context, ident *models.Identity, id int64, field RateField, rate decimal.Decimal) (*models.ChildView, error) {
	if rate.IsNegative() {
		return nil, validationError("%s must not be negative", field)
	}
	if field == CDPenaltyRate && rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, validationError("cd_penalty_rate must not exceed 1")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.access.Authorize(ctx, tx, ident, id, acl.ManageChildSettings); err != nil {
		return nil, err
	}
	a, err := s.interest.lockAccount(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	var postings []*models.Transaction
	switch field {
	case InterestRate, PenaltyInterestRate:
		postings, err = s.interest.accrue(ctx, tx, a, ledger.Day(s.now()))
		if err != nil {
			return nil, err
		}
		if field == InterestRate {
			a.InterestRate = rate
		} else {
			a.PenaltyInterestRate = rate
		}
	case CDPenaltyRate:
		a.CDPenaltyRate = rate
	default:
		return nil, validationError("unknown rate %q", field)
	}

	if err := s.interest.saveAccount(ctx, tx, a); err != nil {
		return nil, err
	}
	v, err := s.view(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.ledger.committed(ctx, postings...)
	return v, nil
}

// RotateAccessCode replaces the child's access code and returns the new one.
func (s *ChildService) RotateAccessCode(ctx context.Context, ident *models.Identity, id int64, code string) (string, error) {
	if err := s.access.Authorize(ctx, s.db, ident, id, acl.ManageChildSettings); err != nil {
		return "", err
	}
	if code == "" {
		generated, err := newAccessCode()
		if err != nil {
			return "", err
		}
		code = generated
	} else if err := validAccessCode(code); err != nil {
		return "", err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE children SET access_code_hash = $1 WHERE id = $2`, hashAccessCode(code), id)
	if database.IsUniqueViolation(err) {
		return "", conflictError("access code already in use")
	}
	if err != nil {
		return "", err
	}
	if err := expectOne(res, notFoundError("child not found")); err != nil {
		return "", err
	}
	return code, nil
}

// Delete removes a child and everything hanging off it. Admin only.
func (s *ChildService) Delete(ctx context.Context, ident *models.Identity, id int64) error {
	if !ident.IsAdmin() {
		return forbiddenError("admin required")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM children WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res, notFoundError("child not found"))
}

// CreateShareCode issues a single-use code granting perms on the child.
func (s *ChildService) CreateShareCode(ctx context.Context, ident *models.Identity, childID int64, perms acl.Set) (*models.ShareCode, error) {
	if err := s.access.RequireOwner(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}

	sc := &models.ShareCode{
		Code:        strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]),
		ChildID:     childID,
		CreatedBy:   ident.UserID,
		Permissions: perms,
		CreatedAt:   s.now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO share_codes (code, child_id, created_by, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5)`, sc.Code, sc.ChildID, sc.CreatedBy, sc.Permissions, sc.CreatedAt); err != nil {
		return nil, err
	}
	return sc, nil
}

// RedeemShareCode links the calling parent to the code's child. A code
// works exactly once.
func (s *ChildService) RedeemShareCode(ctx context.Context, ident *models.Identity, code string) (*models.Grant, error) {
	if !ident.IsParent() {
		return nil, forbiddenError("parent account required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var sc models.ShareCode
	err = tx.QueryRowContext(ctx, `
		SELECT code, child_id, created_by, permissions, used_by, created_at, used_at
		FROM share_codes
		WHERE code = $1
		FOR UPDATE`, strings.ToUpper(strings.TrimSpace(code))).Scan(&sc.Code, &sc.ChildID, &sc.CreatedBy, &sc.Permissions, &sc.UsedBy, &sc.CreatedAt, &sc.UsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("share code not found")
	}
	if err != nil {
		return nil, err
	}
	if sc.UsedBy != nil {
		return nil, conflictError("share code already used")
	}

	existing, err := s.access.Grant(ctx, tx, ident.UserID, sc.ChildID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, conflictError("already linked to this child")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE share_codes
		SET used_by = $1, used_at = $2
		WHERE code = $3 AND used_by IS NULL`, ident.UserID, s.now().UTC(), sc.Code)
	if err != nil {
		return nil, err
	}
	if err := expectOne(res, conflictError("share code already used")); err != nil {
		return nil, err
	}

	g := &models.Grant{UserID: ident.UserID, ChildID: sc.ChildID, Permissions: sc.Permissions}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO child_grants (user_id, child_id, permissions, is_owner)
		VALUES ($1, $2, $3, false)`, g.UserID, g.ChildID, g.Permissions); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("share code redeemed", zap.Int64("child_id", g.ChildID), zap.Int64("user_id", g.UserID))
	return g, nil
}

// Parents lists every parent linked to the child.
func (s *ChildService) Parents(ctx context.Context, ident *models.Identity, childID int64) ([]models.ParentAccess, error) {
	if err := s.access.RequireLinked(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.user_id, u.name, u.email, g.permissions, g.is_owner
		FROM child_grants g
		JOIN users u ON u.id = g.user_id
		WHERE g.child_id = $1
		ORDER BY g.is_owner DESC, u.name`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ParentAccess{}
	for rows.Next() {
		var p models.ParentAccess
		if err := rows.Scan(&p.UserID, &p.Name, &p.Email, &p.Permissions, &p.IsOwner); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ChildService) sharedGrant(ctx context.Context, q querier, ident *models.Identity, childID, parentID int64) (*models.Grant, error) {
	if err := s.access.RequireOwner(ctx, q, ident, childID); err != nil {
		return nil, err
	}
	g, err := s.access.Grant(ctx, q, parentID, childID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, notFoundError("parent is not linked to this child")
	}
	if g.IsOwner {
		return nil, conflictError("the owner grant cannot be changed")
	}
	return g, nil
}

// UpdateParent replaces a shared parent's capability set.
func (s *ChildService) UpdateParent(ctx context.Context, ident *models.Identity, childID, parentID int64, perms acl.Set) (*models.Grant, error) {
	g, err := s.sharedGrant(ctx, s.db, ident, childID, parentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE child_grants
		SET permissions = $1
		WHERE user_id = $2 AND child_id = $3`, perms, parentID, childID); err != nil {
		return nil, err
	}
	g.Permissions = perms
	return g, nil
}

// RemoveParent revokes a shared parent's access.
func (s *ChildService) RemoveParent(ctx context.Context, ident *models.Identity, childID, parentID int64) error {
	if _, err := s.sharedGrant(ctx, s.db, ident, childID, parentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM child_grants WHERE user_id = $1 AND child_id = $2`, parentID, childID)
	return err
}
