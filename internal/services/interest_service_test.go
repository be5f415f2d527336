package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

var (
	accountCols  = []string{"child_id", "interest_rate", "penalty_interest_rate", "cd_penalty_rate", "last_interest_applied", "service_fee_last_charged", "overdraft_fee_last_charged", "overdraft_fee_charged"}
	settingsCols = []string{"site_name", "default_interest_rate", "default_penalty_interest_rate", "default_cd_penalty_rate", "service_fee_amount", "service_fee_is_percentage", "overdraft_fee_amount", "overdraft_fee_is_percentage", "overdraft_fee_daily", "currency_symbol"}
)

func newTestInterest(t *testing.T) (*InterestService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	s := NewInterestService(db, newTestLedger(db), NewSettingsService(db, zap.NewNop()), nil, zap.NewNop())
	s.now = fixedClock
	return s, mock
}

func expectSettings(mock sqlmock.Sqlmock, overdraftFee string, daily bool) {
	mock.ExpectQuery(q("FROM settings")).
		WillReturnRows(sqlmock.NewRows(settingsCols).
			AddRow("Uncle Jon's Bank", "0.01", "0.02", "0.1", "0", false, overdraftFee, false, daily, "$"))
}

func TestInterestService_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("accrues each missed day and compounds", func(t *testing.T) {
		s, mock := newTestInterest(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM accounts")).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(3, "0.01", "0.02", "0.1", day(13), nil, nil, false))
		expectSettings(mock, "0", false)
		mock.ExpectQuery(q("WHERE child_id = $1 AND timestamp < $2")).WithArgs(int64(3), day(13)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100"))
		mock.ExpectQuery(q("WHERE child_id = $1 AND timestamp >= $2")).WithArgs(int64(3), day(13)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "child_id", "type", "amount", "memo", "kind", "initiated_by", "initiator_id", "timestamp"}))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Credit, decimal.NewFromInt(1), "Interest", models.KindInterest, models.InitiatedBySystem, int64(0), day(14)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Credit, decimal.RequireFromString("1.01"), "Interest", models.KindInterest, models.InitiatedBySystem, int64(0), day(15)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		expectBalance(mock, 3, "102.01")
		mock.ExpectExec(q("UPDATE accounts")).
			WithArgs(decimal.RequireFromString("0.01"), decimal.RequireFromString("0.02"), decimal.RequireFromString("0.1"), day(15), nil, nil, false, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := s.Process(ctx, 3, testNow)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second run the same day posts nothing", func(t *testing.T) {
		s, mock := newTestInterest(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM accounts")).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(3, "0.01", "0.02", "0.1", day(15), nil, nil, false))
		expectSettings(mock, "0", false)
		expectBalance(mock, 3, "102.01")
		mock.ExpectExec(q("UPDATE accounts")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := s.Process(ctx, 3, testNow)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("one-time overdraft fee", func(t *testing.T) {
		s, mock := newTestInterest(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM accounts")).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(3, "0.01", "0.02", "0.1", day(15), nil, nil, false))
		expectSettings(mock, "5", false)
		expectBalance(mock, 3, "-10")
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Debit, decimal.NewFromInt(5), "Overdraft Fee", models.KindFee, models.InitiatedBySystem, int64(0), testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectExec(q("UPDATE accounts")).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), day(15), nil, day(15), true, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := s.Process(ctx, 3, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overdraft fee is not repeated", func(t *testing.T) {
		s, mock := newTestInterest(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM accounts")).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(3, "0.01", "0.02", "0.1", day(15), nil, day(14), true))
		expectSettings(mock, "5", false)
		expectBalance(mock, 3, "-15")
		mock.ExpectExec(q("UPDATE accounts")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := s.Process(ctx, 3, testNow)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
