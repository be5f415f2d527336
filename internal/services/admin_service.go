package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/database"
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

// AdminService backs the /admin routes. Every method requires an admin.
type AdminService struct {
	db       *sql.DB
	auth     *AuthService
	children *ChildService
	ledger   *LedgerService
	logger   *zap.Logger
}

func NewAdminService(db *sql.DB, auth *AuthService, children *ChildService, ledger *LedgerService, logger *zap.Logger) *AdminService {
	return &AdminService{
		db:       db,
		auth:     auth,
		children: children,
		ledger:   ledger,
		logger:   logger,
	}
}

type UserUpdate struct {
	Name  *string      `json:"name"`
	Email *string      `json:"email"`
	Role  *models.Role `json:"role"`
}

// Promotion credits or debits every child at once.
type Promotion struct {
	Amount       decimal.Decimal `json:"amount"`
	IsPercentage bool            `json:"is_percentage"`
	Credit       bool            `json:"credit"`
	Memo         string          `json:"memo"`
}

type PromotionResult struct {
	Applied int              `json:"applied"`
	Skipped int              `json:"skipped"`
	Total   decimal.Decimal  `json:"total"`
	Errors  map[int64]string `json:"errors,omitempty"`
}

func requireAdmin(ident *models.Identity) error {
	if !ident.IsAdmin() {
		return forbiddenError("admin required")
	}
	return nil
}

const userColumns = `id, name, email, role, created_at`

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *AdminService) user(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("user not found")
	}
	return u, err
}

func (s *AdminService) ListUsers(ctx context.Context, ident *models.Identity) ([]models.User, error) {
	if err := requireAdmin(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *AdminService) GetUser(ctx context.Context, ident *models.Identity, id int64) (*models.User, error) {
	if err := requireAdmin(ident); err != nil {
		return nil, err
	}
	return s.user(ctx, id)
}

func (s *AdminService) CreateUser(ctx context.Context, ident *models.Identity, name, email, password string, role models.Role) (*models.User, error) {
	if err := requireAdmin(ident); err != nil {
		return nil, err
	}
	return s.auth.CreateUser(ctx, name, email, password, role)
}

func (s *AdminService) UpdateUser(ctx context.Context, ident *models.Identity, id int64, in UserUpdate) (*models.User, error) {
	if err := requireAdmin(ident); err != nil {
		return nil, err
	}
	u, err := s.user(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		u.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		u.Email = normalizeEmail(*in.Email)
	}
	if in.Role != nil {
		if *in.Role != models.RoleParent && *in.Role != models.RoleAdmin {
			return nil, validationError("role must be parent or admin")
		}
		if id == ident.UserID && *in.Role != models.RoleAdmin {
			return nil, conflictError("cannot demote yourself")
		}
		u.Role = *in.Role
	}
	if u.Name == "" || u.Email == "" {
		return nil, validationError("name and email are required")
	}

	_, err = s.db.ExecContext(ctx, `UPDATE users SET name = $1, email = $2, role = $3 WHERE id = $4`, u.Name, u.Email, u.Role, id)
	if database.IsUniqueViolation(err) {
		return nil, conflictError("email already registered")
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AdminService) DeleteUser(ctx context.Context, ident *models.Identity, id int64) error {
	if err := requireAdmin(ident); err != nil {
		return err
	}
	if id == ident.UserID {
		return conflictError("cannot delete yourself")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res, notFoundError("user not found"))
}

func (s *AdminService) ListChildren(ctx context.Context, ident *models.Identity) ([]models.ChildView, error) {
	if err := requireAdmin(ident); err != nil {
		return nil, err
	}
	return s.children.List(ctx, ident)
}

func (s *AdminService) DeleteChild(ctx context.Context, ident *models.Identity, id int64) error {
	return s.children.Delete(ctx, ident, id)
}

func (s *AdminService) ListTransactions(ctx context.Context, ident *models.Identity, limit, offset int) ([]models.Transaction, error) {
	return s.ledger.ListAll(ctx, ident, limit, offset)
}

// Promote posts one promotion transaction per child. Each child is its own
// SQL transaction; a failing child is reported and the rest still apply.
func (s *AdminService) Promote(ctx context.Context, ident *models.Identity, p Promotion) (*PromotionResult, error) {
	if err := requireAdmin(ident); err != nil {
		return nil, err
	}
	if !p.Amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM children ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res := &PromotionResult{Total: decimal.Zero}
	for _, id := range ids {
		t, err := s.promoteOne(ctx, id, p)
		if err != nil {
			s.logger.Error("promotion", zap.Int64("child_id", id), zap.Error(err))
			if res.Errors == nil {
				res.Errors = map[int64]string{}
			}
			res.Errors[id] = PublicMessage(err)
			continue
		}
		if t == nil {
			res.Skipped++
			continue
		}
		res.Applied++
		res.Total = res.Total.Add(t.Amount)
	}

	s.logger.Info("promotion applied",
		zap.Int64("admin_id", ident.UserID),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (s *AdminService) promoteOne(ctx context.Context, childID int64, p Promotion) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := lockChild(ctx, tx, childID); err != nil {
		return nil, err
	}
	bal, err := s.ledger.balance(ctx, tx, childID)
	if err != nil {
		return nil, err
	}
	amount := ledger.Fee(bal, p.Amount, p.IsPercentage)
	if !amount.IsPositive() {
		return nil, nil
	}

	memo := p.Memo
	if memo == "" {
		memo = "Promotion"
	}
	t := &models.Transaction{
		ChildID:     childID,
		Type:        models.Debit,
		Amount:      amount,
		Memo:        models.StringPtr(memo),
		Kind:        models.KindPromotion,
		InitiatedBy: models.InitiatedBySystem,
	}
	if p.Credit {
		t.Type = models.Credit
	}
	if err := s.ledger.post(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.ledger.committed(ctx, t)
	return t, nil
}
