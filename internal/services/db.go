package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclejonsbank/backend/internal/fsm"
	"github.com/unclejonsbank/backend/internal/metrics"
	"github.com/unclejonsbank/backend/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// expectOne turns a conditional update that matched nothing into err.
func expectOne(res sql.Result, err error) error {
	rows, rerr := res.RowsAffected()
	if rerr != nil {
		return rerr
	}
	if rows == 0 {
		return err
	}
	return nil
}

// lockChild loads and row-locks a child. Postings for one child serialize here.
func lockChild(ctx context.Context, q querier, childID int64) (*models.Child, error) {
	var c models.Child
	err := q.QueryRowContext(ctx, `
		SELECT id, first_name, frozen, created_at
		FROM children
		WHERE id = $1
		FOR UPDATE`, childID).Scan(&c.ID, &c.FirstName, &c.Frozen, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("child not found")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// requireActiveChild rejects child-initiated financial actions on frozen accounts.
func requireActiveChild(c *models.Child) error {
	if c.Frozen {
		return forbiddenError("account is frozen")
	}
	return nil
}

func requireChild(ident *models.Identity) error {
	if !ident.IsChild() {
		return forbiddenError("child account required")
	}
	return nil
}

func requireGuardian(ident *models.Identity) error {
	if !ident.IsParent() && !ident.IsAdmin() {
		return forbiddenError("parent account required")
	}
	return nil
}

// advance applies event to from on m and counts the outcome.
func advance[S ~string, E ~string](m *fsm.Machine[S, E], from S, event E) (S, error) {
	to, err := m.Next(from, event)
	metrics.Transition(m.Name(), string(event), err)
	return to, err
}
