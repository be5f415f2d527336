package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

var cdCols = []string{"id", "child_id", "parent_id", "amount", "interest_rate", "term_days", "status", "created_at", "accepted_at", "matures_at", "closed_at"}

func newTestCDs(t *testing.T) (*CDService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	s := NewCDService(db, NewAccessService(nil), newTestLedger(db), nil, zap.NewNop())
	s.now = fixedClock
	return s, mock
}

func cdRow(status models.CDStatus, accepted, matures any) *sqlmock.Rows {
	return sqlmock.NewRows(cdCols).
		AddRow(8, 3, 7, "100", "0.001", 10, string(status), testNow.AddDate(0, 0, -20), accepted, matures, nil)
}

func TestCDService_Offer(t *testing.T) {
	ctx := context.Background()

	t.Run("requires offer_cd", func(t *testing.T) {
		s, mock := newTestCDs(t)
		expectGrant(mock, parentIdent.UserID, 3, acl.Of(acl.Deposit), false)

		_, err := s.Offer(ctx, parentIdent, CDOffer{ChildID: 3, Amount: decimal.NewFromInt(100), InterestRate: decimal.RequireFromString("0.001"), TermDays: 10})
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects invalid term", func(t *testing.T) {
		s, _ := newTestCDs(t)

		_, err := s.Offer(ctx, parentIdent, CDOffer{ChildID: 3, Amount: decimal.NewFromInt(100), TermDays: 0})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("inserts an offer", func(t *testing.T) {
		s, mock := newTestCDs(t)
		expectGrant(mock, parentIdent.UserID, 3, acl.Of(acl.OfferCD), false)
		mock.ExpectQuery(q("INSERT INTO certificates")).
			WithArgs(int64(3), parentIdent.UserID, decimal.NewFromInt(100), decimal.RequireFromString("0.001"), 10, models.CDOffered, testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

		c, err := s.Offer(ctx, parentIdent, CDOffer{ChildID: 3, Amount: decimal.NewFromInt(100), InterestRate: decimal.RequireFromString("0.001"), TermDays: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(8), c.ID)
		assert.Equal(t, models.CDOffered, c.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCDService_Accept(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient balance", func(t *testing.T) {
		s, mock := newTestCDs(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM certificates")).WithArgs(int64(8)).
			WillReturnRows(cdRow(models.CDOffered, nil, nil))
		expectChildLock(mock, 3, false)
		expectBalance(mock, 3, "99.99")
		mock.ExpectRollback()

		_, err := s.Accept(ctx, childIdent(3), 8)
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks the amount until maturity", func(t *testing.T) {
		s, mock := newTestCDs(t)
		matures := testNow.AddDate(0, 0, 10)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM certificates")).WithArgs(int64(8)).
			WillReturnRows(cdRow(models.CDOffered, nil, nil))
		expectChildLock(mock, 3, false)
		expectBalance(mock, 3, "150")
		mock.ExpectExec(q("UPDATE certificates")).
			WithArgs(models.CDAccepted, testNow, matures, nil, int64(8), models.CDOffered).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Debit, decimal.NewFromInt(100), "CD #8 opened", models.KindCD, models.InitiatedByChild, int64(3), testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(500))
		mock.ExpectCommit()

		c, err := s.Accept(ctx, childIdent(3), 8)
		require.NoError(t, err)
		assert.Equal(t, models.CDAccepted, c.Status)
		assert.Equal(t, matures, *c.MaturesAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("accepting twice conflicts", func(t *testing.T) {
		s, mock := newTestCDs(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM certificates")).WithArgs(int64(8)).
			WillReturnRows(cdRow(models.CDAccepted, testNow, testNow.AddDate(0, 0, 10)))
		expectChildLock(mock, 3, false)
		mock.ExpectRollback()

		_, err := s.Accept(ctx, childIdent(3), 8)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCDService_RedeemEarly(t *testing.T) {
	ctx := context.Background()

	t.Run("pays amount less penalty", func(t *testing.T) {
		s, mock := newTestCDs(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM certificates")).WithArgs(int64(8)).
			WillReturnRows(cdRow(models.CDAccepted, testNow.AddDate(0, 0, -2), testNow.AddDate(0, 0, 8)))
		expectChildLock(mock, 3, false)
		mock.ExpectQuery(q("SELECT cd_penalty_rate FROM accounts")).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"cd_penalty_rate"}).AddRow("0.1"))
		mock.ExpectExec(q("UPDATE certificates")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Credit, decimal.NewFromInt(90), "CD #8 early redemption", models.KindCD, models.InitiatedByChild, int64(3), testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(501))
		mock.ExpectCommit()

		c, posting, err := s.RedeemEarly(ctx, childIdent(3), 8)
		require.NoError(t, err)
		assert.Equal(t, models.CDRedeemedEarly, c.Status)
		assert.True(t, posting.Amount.Equal(decimal.NewFromInt(90)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("matured certificate cannot be redeemed early", func(t *testing.T) {
		s, mock := newTestCDs(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM certificates")).WithArgs(int64(8)).
			WillReturnRows(cdRow(models.CDAccepted, testNow.AddDate(0, 0, -10), testNow.AddDate(0, 0, -1)))
		expectChildLock(mock, 3, false)
		mock.ExpectRollback()

		_, _, err := s.RedeemEarly(ctx, childIdent(3), 8)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("frozen child is blocked", func(t *testing.T) {
		s, mock := newTestCDs(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM certificates")).WithArgs(int64(8)).
			WillReturnRows(cdRow(models.CDAccepted, testNow.AddDate(0, 0, -2), testNow.AddDate(0, 0, 8)))
		expectChildLock(mock, 3, true)
		mock.ExpectRollback()

		_, _, err := s.RedeemEarly(ctx, childIdent(3), 8)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCDService_MatureDue(t *testing.T) {
	s, mock := newTestCDs(t)
	payout := ledger.MaturityPayout(decimal.NewFromInt(100), decimal.RequireFromString("0.001"), 10)

	mock.ExpectQuery(q("SELECT id FROM certificates WHERE status = $1 AND matures_at <= $2")).
		WithArgs(models.CDAccepted, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM certificates")).WithArgs(int64(8)).
		WillReturnRows(cdRow(models.CDAccepted, testNow.AddDate(0, 0, -10), testNow.AddDate(0, 0, 0)))
	mock.ExpectExec(q("UPDATE certificates")).
		WithArgs(models.CDMatured, sqlmock.AnyArg(), sqlmock.AnyArg(), testNow, int64(8), models.CDAccepted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO transactions")).
		WithArgs(int64(3), models.Credit, payout, "CD #8 matured", models.KindCD, models.InitiatedBySystem, int64(0), testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(502))
	mock.ExpectCommit()

	n, err := s.MatureDue(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, payout.GreaterThan(decimal.NewFromInt(100)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
