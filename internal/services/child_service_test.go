package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/acl"
	"go.uber.org/zap"
)

var childViewCols = []string{"id", "first_name", "frozen", "interest_rate", "penalty_interest_rate", "cd_penalty_rate", "balance", "total_interest", "created_at"}

func newTestChildren(t *testing.T) (*ChildService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	l := newTestLedger(db)
	settings := NewSettingsService(db, zap.NewNop())
	interest := NewInterestService(db, l, settings, nil, zap.NewNop())
	interest.now = fixedClock
	s := NewChildService(db, NewAccessService(nil), l, interest, settings, nil, zap.NewNop())
	s.now = fixedClock
	return s, mock
}

func expectChildView(mock sqlmock.Sqlmock, id int64, balance string) {
	mock.ExpectQuery(q("WHERE c.id = $1")).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(childViewCols).AddRow(id, "Ada", false, "0.01", "0.02", "0.1", balance, "0", testNow))
}

func TestChildService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("parent becomes owner with default rates", func(t *testing.T) {
		s, mock := newTestChildren(t)

		mock.ExpectBegin()
		expectSettings(mock, "0", false)
		mock.ExpectQuery(q("INSERT INTO children")).
			WithArgs("Ada", hashAccessCode("ABCD2345"), testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectExec(q("INSERT INTO accounts")).
			WithArgs(int64(3), decimal.RequireFromString("0.01"), decimal.RequireFromString("0.02"), decimal.RequireFromString("0.1")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO child_grants")).
			WithArgs(parentIdent.UserID, int64(3), acl.All).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectChildView(mock, 3, "0")
		mock.ExpectCommit()

		res, err := s.Create(ctx, parentIdent, " Ada ", "ABCD2345")
		require.NoError(t, err)
		assert.Equal(t, "ABCD2345", res.AccessCode)
		assert.Equal(t, int64(3), res.Child.ID)
		assert.True(t, res.Child.Balance.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admin creates without a grant", func(t *testing.T) {
		s, mock := newTestChildren(t)

		mock.ExpectBegin()
		expectSettings(mock, "0", false)
		mock.ExpectQuery(q("INSERT INTO children")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
		mock.ExpectExec(q("INSERT INTO accounts")).WillReturnResult(sqlmock.NewResult(0, 1))
		expectChildView(mock, 4, "0")
		mock.ExpectCommit()

		res, err := s.Create(ctx, adminIdent, "Bo", "")
		require.NoError(t, err)
		assert.Len(t, res.AccessCode, 8)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("short access code", func(t *testing.T) {
		s, _ := newTestChildren(t)
		_, err := s.Create(ctx, parentIdent, "Ada", "abc")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("children cannot create children", func(t *testing.T) {
		s, _ := newTestChildren(t)
		_, err := s.Create(ctx, childIdent(3), "Ada", "")
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestChildService_RedeemShareCode(t *testing.T) {
	ctx := context.Background()
	coParent := parentIdentFor(8)
	cols := []string{"code", "child_id", "created_by", "permissions", "used_by", "created_at", "used_at"}
	perms := acl.Of(acl.ViewTransactions, acl.Deposit)
	value, _ := perms.Value()

	t.Run("links the parent once", func(t *testing.T) {
		s, mock := newTestChildren(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM share_codes")).WithArgs("A1B2C3D4E5F6").
			WillReturnRows(sqlmock.NewRows(cols).AddRow("A1B2C3D4E5F6", 3, 7, value, nil, testNow, nil))
		expectNoGrant(mock, 8, 3)
		mock.ExpectExec(q("UPDATE share_codes")).
			WithArgs(int64(8), testNow, "A1B2C3D4E5F6").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO child_grants")).
			WithArgs(int64(8), int64(3), perms).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		g, err := s.RedeemShareCode(ctx, coParent, " a1b2c3d4e5f6 ")
		require.NoError(t, err)
		assert.False(t, g.IsOwner)
		assert.Equal(t, perms, g.Permissions)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("used code conflicts", func(t *testing.T) {
		s, mock := newTestChildren(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM share_codes")).
			WillReturnRows(sqlmock.NewRows(cols).AddRow("A1B2C3D4E5F6", 3, 7, value, 9, testNow, testNow))
		mock.ExpectRollback()

		_, err := s.RedeemShareCode(ctx, coParent, "A1B2C3D4E5F6")
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already linked", func(t *testing.T) {
		s, mock := newTestChildren(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM share_codes")).
			WillReturnRows(sqlmock.NewRows(cols).AddRow("A1B2C3D4E5F6", 3, 7, value, nil, testNow, nil))
		expectGrant(mock, 8, 3, acl.Of(acl.ViewTransactions), false)
		mock.ExpectRollback()

		_, err := s.RedeemShareCode(ctx, coParent, "A1B2C3D4E5F6")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unknown code", func(t *testing.T) {
		s, mock := newTestChildren(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM share_codes")).WillReturnRows(sqlmock.NewRows(cols))
		mock.ExpectRollback()

		_, err := s.RedeemShareCode(ctx, coParent, "NOPE")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestChildService_SharedParents(t *testing.T) {
	ctx := context.Background()

	t.Run("owner grant cannot be removed", func(t *testing.T) {
		s, mock := newTestChildren(t)
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		expectGrant(mock, parentIdent.UserID, 3, 0, true)

		err := s.RemoveParent(ctx, parentIdent, 3, parentIdent.UserID)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("shared parent cannot manage others", func(t *testing.T) {
		s, mock := newTestChildren(t)
		expectGrant(mock, 8, 3, acl.All, false)

		_, err := s.UpdateParent(ctx, parentIdentFor(8), 3, 9, acl.Of(acl.Deposit))
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("owner narrows a shared grant", func(t *testing.T) {
		s, mock := newTestChildren(t)
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		expectGrant(mock, 8, 3, acl.All, false)
		mock.ExpectExec(q("UPDATE child_grants")).
			WithArgs(acl.Of(acl.ViewTransactions), int64(8), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		g, err := s.UpdateParent(ctx, parentIdent, 3, 8, acl.Of(acl.ViewTransactions))
		require.NoError(t, err)
		assert.Equal(t, acl.Of(acl.ViewTransactions), g.Permissions)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChildService_SetRate(t *testing.T) {
	ctx := context.Background()

	t.Run("negative rate", func(t *testing.T) {
		s, _ := newTestChildren(t)
		_, err := s.SetRate(ctx, parentIdent, 3, InterestRate, decimal.RequireFromString("-0.01"))
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("cd penalty above one", func(t *testing.T) {
		s, _ := newTestChildren(t)
		_, err := s.SetRate(ctx, parentIdent, 3, CDPenaltyRate, decimal.RequireFromString("1.5"))
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("cd penalty change skips accrual", func(t *testing.T) {
		s, mock := newTestChildren(t)

		mock.ExpectBegin()
		expectGrant(mock, parentIdent.UserID, 3, acl.Of(acl.ManageChildSettings), false)
		mock.ExpectQuery(q("FROM accounts")).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(3, "0.01", "0.02", "0.1", day(10), nil, nil, false))
		mock.ExpectExec(q("UPDATE accounts")).
			WithArgs(decimal.RequireFromString("0.01"), decimal.RequireFromString("0.02"), decimal.RequireFromString("0.25"), day(10), nil, nil, false, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectChildView(mock, 3, "10")
		mock.ExpectCommit()

		_, err := s.SetRate(ctx, parentIdent, 3, CDPenaltyRate, decimal.RequireFromString("0.25"))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("savings change accrues at the old rate first", func(t *testing.T) {
		s, mock := newTestChildren(t)

		mock.ExpectBegin()
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		mock.ExpectQuery(q("FROM accounts")).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(3, "0.01", "0.02", "0.1", day(14), nil, nil, false))
		mock.ExpectQuery(q("WHERE child_id = $1 AND timestamp < $2")).WithArgs(int64(3), day(14)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("200"))
		mock.ExpectQuery(q("WHERE child_id = $1 AND timestamp >= $2")).WithArgs(int64(3), day(14)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "child_id", "type", "amount", "memo", "kind", "initiated_by", "initiator_id", "timestamp"}))
		expectPosting(mock, 55)
		mock.ExpectExec(q("UPDATE accounts")).
			WithArgs(decimal.RequireFromString("0.05"), decimal.RequireFromString("0.02"), decimal.RequireFromString("0.1"), day(15), nil, nil, false, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectChildView(mock, 3, "202")
		mock.ExpectCommit()

		v, err := s.SetRate(ctx, parentIdent, 3, InterestRate, decimal.RequireFromString("0.05"))
		require.NoError(t, err)
		assert.True(t, v.Balance.Equal(decimal.NewFromInt(202)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
