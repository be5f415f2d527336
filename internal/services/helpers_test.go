package services

import (
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

var (
	parentIdent = &models.Identity{Role: models.RoleParent, UserID: 7, TokenID: "jti-parent"}
	adminIdent  = &models.Identity{Role: models.RoleAdmin, UserID: 1, TokenID: "jti-admin"}
)

func parentIdentFor(userID int64) *models.Identity {
	return &models.Identity{Role: models.RoleParent, UserID: userID, TokenID: "jti-coparent"}
}

func childIdent(id int64) *models.Identity {
	return &models.Identity{Role: models.RoleChild, ChildID: id, TokenID: "jti-child"}
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// q turns a SQL fragment into a literal sqlmock pattern.
func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func newTestLedger(db *sql.DB) *LedgerService {
	l := NewLedgerService(db, NewAccessService(nil), nil, audit.NewAuditLogger(zap.NewNop()), zap.NewNop())
	l.now = fixedClock
	return l
}

func expectGrant(mock sqlmock.Sqlmock, userID, childID int64, perms acl.Set, owner bool) {
	value, _ := perms.Value()
	mock.ExpectQuery(q("FROM child_grants")).
		WithArgs(userID, childID).
		WillReturnRows(sqlmock.NewRows([]string{"permissions", "is_owner"}).AddRow(value, owner))
}

func expectNoGrant(mock sqlmock.Sqlmock, userID, childID int64) {
	mock.ExpectQuery(q("FROM child_grants")).
		WithArgs(userID, childID).
		WillReturnError(sql.ErrNoRows)
}

func expectChildLock(mock sqlmock.Sqlmock, childID int64, frozen bool) {
	mock.ExpectQuery(q("FROM children")).
		WithArgs(childID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "frozen", "created_at"}).
			AddRow(childID, "Ada", frozen, testNow.AddDate(0, -1, 0)))
}

func expectPosting(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectQuery(q("INSERT INTO transactions")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
}

func expectBalance(mock sqlmock.Sqlmock, childID int64, balance string) {
	mock.ExpectQuery(q("SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0) FROM transactions WHERE child_id = $1")).
		WithArgs(childID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(balance))
}
