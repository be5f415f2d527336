package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

var loanCols = []string{"id", "child_id", "parent_id", "amount", "purpose", "interest_rate", "terms", "status", "principal_remaining", "last_interest_applied", "created_at"}

func newTestLoans(t *testing.T) (*LoanService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	s := NewLoanService(db, NewAccessService(nil), newTestLedger(db), nil, zap.NewNop())
	s.now = fixedClock
	return s, mock
}

func loanRow(status models.LoanStatus, principal, rate string, lastApplied any) *sqlmock.Rows {
	return sqlmock.NewRows(loanCols).
		AddRow(5, 3, 7, "50", "skateboard", rate, nil, string(status), principal, lastApplied, testNow.AddDate(0, -1, 0))
}

func TestLoanService_Payment(t *testing.T) {
	ctx := context.Background()
	manage := acl.Of(acl.ManageLoan)

	t.Run("partial payment keeps the loan active", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "40", "0.01", day(15)))
		expectGrant(mock, parentIdent.UserID, 3, manage, false)
		expectChildLock(mock, 3, false)
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanActive, decimal.RequireFromString("0.01"), nil, int64(7), decimal.NewFromInt(30), day(15), int64(5), models.LoanActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Debit, decimal.NewFromInt(10), "Loan #5 payment", models.KindLoan, models.InitiatedByParent, parentIdent.UserID, testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(200))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxPayment, decimal.NewFromInt(10), nil, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		l, err := s.Payment(ctx, parentIdent, 5, decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.Equal(t, models.LoanActive, l.Status)
		assert.True(t, l.PrincipalRemaining.Equal(decimal.NewFromInt(30)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overpayment is clamped and closes the loan", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "15", "0.01", day(15)))
		expectGrant(mock, parentIdent.UserID, 3, manage, false)
		expectChildLock(mock, 3, false)
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanClosed, sqlmock.AnyArg(), nil, int64(7), decimal.Zero, day(15), int64(5), models.LoanActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Debit, decimal.NewFromInt(15), "Loan #5 payment", models.KindLoan, models.InitiatedByParent, parentIdent.UserID, testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(201))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxPayment, decimal.NewFromInt(15), nil, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxClose, decimal.Zero, "paid off", testNow).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		l, err := s.Payment(ctx, parentIdent, 5, decimal.NewFromInt(100))
		require.NoError(t, err)
		assert.Equal(t, models.LoanClosed, l.Status)
		assert.True(t, l.PrincipalRemaining.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("interest due is charged before the payment", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "40", "0.01", day(12)))
		expectGrant(mock, parentIdent.UserID, 3, manage, false)
		expectChildLock(mock, 3, false)
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Debit, decimal.RequireFromString("1.2"), "Loan #5 interest (3 days)", models.KindLoanInterest, models.InitiatedBySystem, int64(0), day(15)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(199))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxInterest, decimal.RequireFromString("1.2"), nil, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanActive, sqlmock.AnyArg(), nil, int64(7), decimal.NewFromInt(30), day(15), int64(5), models.LoanActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Debit, decimal.NewFromInt(10), "Loan #5 payment", models.KindLoan, models.InitiatedByParent, parentIdent.UserID, testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(200))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxPayment, decimal.NewFromInt(10), nil, testNow).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		l, err := s.Payment(ctx, parentIdent, 5, decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.True(t, l.PrincipalRemaining.Equal(decimal.NewFromInt(30)))
		require.NotNil(t, l.LastInterestApplied)
		assert.Equal(t, day(15), *l.LastInterestApplied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("payment on a closed loan conflicts", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanClosed, "0", "0.01", nil))
		expectGrant(mock, parentIdent.UserID, 3, manage, false)
		expectChildLock(mock, 3, false)
		mock.ExpectRollback()

		_, err := s.Payment(ctx, parentIdent, 5, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("forgives remaining principal", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "12.34", "0.01", nil))
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanClosed, sqlmock.AnyArg(), nil, int64(7), decimal.Zero, nil, int64(5), models.LoanActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxClose, decimal.RequireFromString("12.34"), "closed", testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		l, err := s.Close(ctx, parentIdent, 5)
		require.NoError(t, err)
		assert.Equal(t, models.LoanClosed, l.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closing twice conflicts", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanClosed, "0", "0.01", nil))
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		mock.ExpectRollback()

		_, err := s.Close(ctx, parentIdent, 5)
		require.ErrorIs(t, err, ErrConflict)
		assert.Contains(t, err.Error(), "already closed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_Accept(t *testing.T) {
	ctx := context.Background()

	t.Run("frozen child cannot accept", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanApproved, "0", "0.01", nil))
		expectChildLock(mock, 3, true)
		mock.ExpectRollback()

		_, err := s.Accept(ctx, childIdent(3), 5)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disburses the full amount", func(t *testing.T) {
		s, mock := newTestLoans(t)
		today := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanApproved, "0", "0.01", nil))
		expectChildLock(mock, 3, false)
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanActive, sqlmock.AnyArg(), nil, int64(7), decimal.NewFromInt(50), today, int64(5), models.LoanApproved).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Credit, decimal.NewFromInt(50), "Loan #5 disbursement", models.KindLoan, models.InitiatedByChild, int64(3), testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(300))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxDisbursement, decimal.NewFromInt(50), nil, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		l, err := s.Accept(ctx, childIdent(3), 5)
		require.NoError(t, err)
		assert.Equal(t, models.LoanActive, l.Status)
		assert.True(t, l.PrincipalRemaining.Equal(decimal.NewFromInt(50)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_AccrueInterest(t *testing.T) {
	s, mock := newTestLoans(t)
	lastApplied := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	today := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("SELECT id FROM loans WHERE status = $1")).
		WithArgs(models.LoanActive, today).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
		WillReturnRows(loanRow(models.LoanActive, "100", "0.01", lastApplied))
	mock.ExpectQuery(q("INSERT INTO transactions")).
		WithArgs(int64(3), models.Debit, decimal.NewFromInt(3), "Loan #5 interest (3 days)", models.KindLoanInterest, models.InitiatedBySystem, int64(0), today).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(400))
	mock.ExpectExec(q("INSERT INTO loan_transactions")).
		WithArgs(int64(5), models.LoanTxInterest, decimal.NewFromInt(3), nil, testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("UPDATE loans")).
		WithArgs(models.LoanActive, sqlmock.AnyArg(), nil, int64(7), decimal.NewFromInt(100), today, int64(5), models.LoanActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := s.AccrueInterest(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanService_Request(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a requested loan", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		expectChildLock(mock, 3, false)
		mock.ExpectQuery(q("INSERT INTO loans")).
			WithArgs(int64(3), decimal.NewFromInt(50), "skateboard", decimal.Zero, models.LoanRequested, decimal.Zero, testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectCommit()

		l, err := s.Request(ctx, childIdent(3), decimal.NewFromInt(50), "skateboard")
		require.NoError(t, err)
		assert.Equal(t, int64(5), l.ID)
		assert.Equal(t, models.LoanRequested, l.Status)
		assert.True(t, l.PrincipalRemaining.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("frozen child cannot request", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		expectChildLock(mock, 3, true)
		mock.ExpectRollback()

		_, err := s.Request(ctx, childIdent(3), decimal.NewFromInt(50), "skateboard")
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	tests := []struct {
		name   string
		ident  *models.Identity
		amount decimal.Decimal
		want   error
	}{
		{"zero amount", childIdent(3), decimal.Zero, ErrValidation},
		{"negative amount", childIdent(3), decimal.NewFromInt(-5), ErrValidation},
		{"parents cannot request", parentIdent, decimal.NewFromInt(5), ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestLoans(t)
			_, err := s.Request(ctx, tt.ident, tt.amount, "")
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLoanService_Approve(t *testing.T) {
	ctx := context.Background()
	offer := acl.Of(acl.OfferLoan)

	t.Run("sets terms and records the approving parent", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanRequested, "0", "0", nil))
		expectGrant(mock, 8, 3, offer, false)
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanApproved, decimal.RequireFromString("0.02"), "weekly", int64(8), decimal.Zero, nil, int64(5), models.LoanRequested).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		l, err := s.Approve(ctx, parentIdentFor(8), 5, decimal.RequireFromString("0.02"), "weekly")
		require.NoError(t, err)
		assert.Equal(t, models.LoanApproved, l.Status)
		require.NotNil(t, l.ParentID)
		assert.Equal(t, int64(8), *l.ParentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("approving twice conflicts", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanApproved, "0", "0.02", nil))
		expectGrant(mock, parentIdent.UserID, 3, offer, false)
		mock.ExpectRollback()

		_, err := s.Approve(ctx, parentIdent, 5, decimal.RequireFromString("0.02"), "")
		require.ErrorIs(t, err, ErrConflict)
		assert.Contains(t, err.Error(), "approved")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race on the status guard", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanRequested, "0", "0", nil))
		expectGrant(mock, parentIdent.UserID, 3, offer, false)
		mock.ExpectExec(q("UPDATE loans")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := s.Approve(ctx, parentIdent, 5, decimal.Zero, "")
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires offer_loan", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanRequested, "0", "0", nil))
		expectGrant(mock, parentIdent.UserID, 3, acl.Of(acl.ViewTransactions, acl.ManageLoan), false)
		mock.ExpectRollback()

		_, err := s.Approve(ctx, parentIdent, 5, decimal.Zero, "")
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing loan", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows(loanCols))
		mock.ExpectRollback()

		_, err := s.Approve(ctx, parentIdent, 9, decimal.Zero, "")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative rate", func(t *testing.T) {
		s, mock := newTestLoans(t)
		_, err := s.Approve(ctx, parentIdent, 5, decimal.RequireFromString("-0.01"), "")
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_Deny(t *testing.T) {
	ctx := context.Background()

	t.Run("denies a request", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanRequested, "0", "0", nil))
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanDenied, decimal.Zero, nil, parentIdent.UserID, decimal.Zero, nil, int64(5), models.LoanRequested).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		l, err := s.Deny(ctx, parentIdent, 5)
		require.NoError(t, err)
		assert.Equal(t, models.LoanDenied, l.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("an active loan cannot be denied", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "50", "0.01", day(15)))
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		mock.ExpectRollback()

		_, err := s.Deny(ctx, parentIdent, 5)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unlinked parent", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanRequested, "0", "0", nil))
		expectNoGrant(mock, 8, 3)
		mock.ExpectRollback()

		_, err := s.Deny(ctx, parentIdentFor(8), 5)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_Decline(t *testing.T) {
	ctx := context.Background()

	t.Run("declines an approved offer", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanApproved, "0", "0.02", nil))
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanDeclined, sqlmock.AnyArg(), nil, int64(7), decimal.Zero, nil, int64(5), models.LoanApproved).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		l, err := s.Decline(ctx, childIdent(3), 5)
		require.NoError(t, err)
		assert.Equal(t, models.LoanDeclined, l.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("another child's loan is hidden", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanApproved, "0", "0.02", nil))
		mock.ExpectRollback()

		_, err := s.Decline(ctx, childIdent(4), 5)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a request awaiting terms cannot be declined", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanRequested, "0", "0", nil))
		mock.ExpectRollback()

		_, err := s.Decline(ctx, childIdent(3), 5)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("parents cannot decline", func(t *testing.T) {
		s, _ := newTestLoans(t)
		_, err := s.Decline(ctx, parentIdent, 5)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestLoanService_SetRate(t *testing.T) {
	ctx := context.Background()
	manage := acl.Of(acl.ManageLoan)

	t.Run("accrues at the old rate before switching", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "40", "0.01", day(13)))
		expectGrant(mock, parentIdent.UserID, 3, manage, false)
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Debit, decimal.RequireFromString("0.8"), "Loan #5 interest (2 days)", models.KindLoanInterest, models.InitiatedBySystem, int64(0), day(15)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(500))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxInterest, decimal.RequireFromString("0.8"), nil, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanActive, decimal.RequireFromString("0.05"), nil, int64(7), decimal.NewFromInt(40), day(15), int64(5), models.LoanActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxRateChange, decimal.RequireFromString("0.05"), nil, testNow).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		l, err := s.SetRate(ctx, parentIdent, 5, decimal.RequireFromString("0.05"))
		require.NoError(t, err)
		assert.True(t, l.InterestRate.Equal(decimal.RequireFromString("0.05")))
		assert.True(t, l.PrincipalRemaining.Equal(decimal.NewFromInt(40)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing due posts only the rate change", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "40", "0.01", day(15)))
		expectGrant(mock, parentIdent.UserID, 3, manage, false)
		mock.ExpectExec(q("UPDATE loans")).
			WithArgs(models.LoanActive, decimal.Zero, nil, int64(7), decimal.NewFromInt(40), day(15), int64(5), models.LoanActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO loan_transactions")).
			WithArgs(int64(5), models.LoanTxRateChange, decimal.Zero, nil, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err := s.SetRate(ctx, parentIdent, 5, decimal.Zero)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only active loans", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanApproved, "0", "0.01", nil))
		expectGrant(mock, parentIdent.UserID, 3, manage, false)
		mock.ExpectRollback()

		_, err := s.SetRate(ctx, parentIdent, 5, decimal.RequireFromString("0.05"))
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires manage_loan", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM loans")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "40", "0.01", day(15)))
		expectGrant(mock, parentIdent.UserID, 3, acl.Of(acl.OfferLoan), false)
		mock.ExpectRollback()

		_, err := s.SetRate(ctx, parentIdent, 5, decimal.RequireFromString("0.05"))
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative rate", func(t *testing.T) {
		s, mock := newTestLoans(t)
		_, err := s.SetRate(ctx, parentIdent, 5, decimal.RequireFromString("-0.05"))
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_Transactions(t *testing.T) {
	ctx := context.Background()
	loanTxCols := []string{"id", "loan_id", "type", "amount", "memo", "timestamp"}

	t.Run("lists the loan history in order", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectQuery(q("FROM loans WHERE id = $1")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "40", "0.01", day(15)))
		expectGrant(mock, parentIdent.UserID, 3, acl.Of(acl.ViewTransactions), false)
		mock.ExpectQuery(q("FROM loan_transactions")).WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(loanTxCols).
				AddRow(1, 5, string(models.LoanTxDisbursement), "50", nil, testNow.AddDate(0, 0, -10)).
				AddRow(2, 5, string(models.LoanTxPayment), "10", nil, testNow))

		txs, err := s.Transactions(ctx, parentIdent, 5)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, models.LoanTxDisbursement, txs[0].Type)
		assert.True(t, txs[1].Amount.Equal(decimal.NewFromInt(10)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("the borrowing child may view", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectQuery(q("FROM loans WHERE id = $1")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "40", "0.01", day(15)))
		mock.ExpectQuery(q("FROM loan_transactions")).WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(loanTxCols))

		txs, err := s.Transactions(ctx, childIdent(3), 5)
		require.NoError(t, err)
		assert.Empty(t, txs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unlinked parent", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectQuery(q("FROM loans WHERE id = $1")).WithArgs(int64(5)).
			WillReturnRows(loanRow(models.LoanActive, "40", "0.01", day(15)))
		expectNoGrant(mock, 8, 3)

		_, err := s.Transactions(ctx, parentIdentFor(8), 5)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing loan", func(t *testing.T) {
		s, mock := newTestLoans(t)

		mock.ExpectQuery(q("FROM loans WHERE id = $1")).WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows(loanCols))

		_, err := s.Transactions(ctx, parentIdent, 9)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
