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

var choreCols = []string{"id", "child_id", "description", "amount", "interval_days", "next_due", "status", "active", "created_by_child", "created_at"}

func newTestChores(t *testing.T) (*ChoreService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	s := NewChoreService(db, NewAccessService(nil), newTestLedger(db), nil, zap.NewNop())
	s.now = fixedClock
	return s, mock
}

func choreRow(status models.ChoreStatus, interval any, nextDue any) *sqlmock.Rows {
	return sqlmock.NewRows(choreCols).
		AddRow(5, 3, "Dishes", "2", interval, nextDue, string(status), true, false, testNow.AddDate(0, 0, -2))
}

func TestChoreService_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("one-off completion pays out and completes", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChoreAwaitingApproval, nil, nil))
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		mock.ExpectExec(q("UPDATE chores")).
			WithArgs(models.ChoreCompleted, nil, int64(5), models.ChoreAwaitingApproval).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO transactions")).
			WithArgs(int64(3), models.Credit, decimal.NewFromInt(2), "Dishes", models.KindChore, models.InitiatedByParent, parentIdent.UserID, testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(40))
		mock.ExpectCommit()

		c, tx, err := s.Approve(ctx, parentIdent, 5)
		require.NoError(t, err)
		assert.Equal(t, models.ChoreCompleted, c.Status)
		require.NotNil(t, tx)
		assert.Equal(t, int64(40), tx.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("recurring completion returns to pending", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChoreAwaitingApproval, 7, day(15)))
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		mock.ExpectExec(q("UPDATE chores")).
			WithArgs(models.ChorePending, day(22), int64(5), models.ChoreAwaitingApproval).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectPosting(mock, 41)
		mock.ExpectCommit()

		c, tx, err := s.Approve(ctx, parentIdent, 5)
		require.NoError(t, err)
		assert.Equal(t, models.ChorePending, c.Status)
		assert.Equal(t, day(22), *c.NextDue)
		assert.NotNil(t, tx)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("accepting a proposal posts nothing", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChoreProposed, nil, nil))
		expectGrant(mock, parentIdent.UserID, 3, 0, false)
		mock.ExpectExec(q("UPDATE chores")).
			WithArgs(models.ChorePending, nil, int64(5), models.ChoreProposed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		c, tx, err := s.Approve(ctx, parentIdent, 5)
		require.NoError(t, err)
		assert.Equal(t, models.ChorePending, c.Status)
		assert.Nil(t, tx)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending chore cannot be approved", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChorePending, nil, nil))
		expectGrant(mock, parentIdent.UserID, 3, 0, true)
		mock.ExpectRollback()

		_, _, err := s.Approve(ctx, parentIdent, 5)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unlinked parent", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChoreAwaitingApproval, nil, nil))
		expectNoGrant(mock, 8, 3)
		mock.ExpectRollback()

		_, _, err := s.Approve(ctx, parentIdentFor(8), 5)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChoreService_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("pending chore awaits approval", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChorePending, nil, nil))
		mock.ExpectExec(q("UPDATE chores")).
			WithArgs(models.ChoreAwaitingApproval, nil, int64(5), models.ChorePending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		c, err := s.Complete(ctx, childIdent(3), 5)
		require.NoError(t, err)
		assert.Equal(t, models.ChoreAwaitingApproval, c.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("another child's chore is hidden", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChorePending, nil, nil))
		mock.ExpectRollback()

		_, err := s.Complete(ctx, childIdent(4), 5)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("proposals cannot be completed", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChoreProposed, nil, nil))
		mock.ExpectRollback()

		_, err := s.Complete(ctx, childIdent(3), 5)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("lost race on the status guard", func(t *testing.T) {
		s, mock := newTestChores(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM chores")).WithArgs(int64(5)).
			WillReturnRows(choreRow(models.ChorePending, nil, nil))
		mock.ExpectExec(q("UPDATE chores")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := s.Complete(ctx, childIdent(3), 5)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("parents cannot complete", func(t *testing.T) {
		s, _ := newTestChores(t)
		_, err := s.Complete(ctx, parentIdent, 5)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestChoreService_Create(t *testing.T) {
	s, _ := newTestChores(t)
	_, err := s.Create(context.Background(), adminIdent, 3, ChoreInput{Description: "  ", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Create(context.Background(), adminIdent, 3, ChoreInput{Description: "Dishes", Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrValidation)
}
