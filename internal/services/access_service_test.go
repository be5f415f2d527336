package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/audit"
	"go.uber.org/zap"
)

func TestAccessService_Effective(t *testing.T) {
	ctx := context.Background()
	s := NewAccessService(nil)

	t.Run("admin holds everything", func(t *testing.T) {
		db, mock := newMockDB(t)
		set, err := s.Effective(ctx, db, adminIdent, 3)
		require.NoError(t, err)
		assert.Equal(t, acl.All, set)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("child views only itself", func(t *testing.T) {
		db, _ := newMockDB(t)
		own, err := s.Effective(ctx, db, childIdent(3), 3)
		require.NoError(t, err)
		assert.Equal(t, acl.Of(acl.ViewTransactions), own)

		other, err := s.Effective(ctx, db, childIdent(3), 4)
		require.NoError(t, err)
		assert.Zero(t, other)
	})

	t.Run("owner resolves to all", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectGrant(mock, parentIdent.UserID, 3, 0, true)

		set, err := s.Effective(ctx, db, parentIdent, 3)
		require.NoError(t, err)
		assert.Equal(t, acl.All, set)
	})

	t.Run("shared grant is exactly its permissions", func(t *testing.T) {
		db, mock := newMockDB(t)
		perms := acl.Of(acl.ViewTransactions, acl.Deposit)
		expectGrant(mock, parentIdent.UserID, 3, perms, false)

		set, err := s.Effective(ctx, db, parentIdent, 3)
		require.NoError(t, err)
		assert.Equal(t, perms, set)
	})

	t.Run("no grant means nothing", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectNoGrant(mock, parentIdent.UserID, 3)

		set, err := s.Effective(ctx, db, parentIdent, 3)
		require.NoError(t, err)
		assert.Zero(t, set)
	})
}

func TestAccessService_Authorize(t *testing.T) {
	ctx := context.Background()
	s := NewAccessService(audit.NewAuditLogger(zap.NewNop()))

	t.Run("all capabilities required", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectGrant(mock, parentIdent.UserID, 3, acl.Of(acl.Deposit), false)

		err := s.Authorize(ctx, db, parentIdent, 3, acl.Deposit, acl.Debit)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("any capability suffices", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectGrant(mock, parentIdent.UserID, 3, acl.Of(acl.OfferCD), false)

		assert.NoError(t, s.AuthorizeAny(ctx, db, parentIdent, 3, acl.ViewTransactions, acl.OfferCD))
	})

	t.Run("denial message is generic", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectNoGrant(mock, parentIdent.UserID, 3)

		err := s.CanView(ctx, db, parentIdent, 3)
		require.ErrorIs(t, err, ErrForbidden)
		assert.Equal(t, "action not permitted", PublicMessage(err))
	})
}

func TestAccessService_RequireOwner(t *testing.T) {
	ctx := context.Background()
	s := NewAccessService(nil)

	t.Run("shared parent is not owner", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectGrant(mock, parentIdent.UserID, 3, acl.All, false)

		assert.ErrorIs(t, s.RequireOwner(ctx, db, parentIdent, 3), ErrForbidden)
	})

	t.Run("owner passes", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectGrant(mock, parentIdent.UserID, 3, 0, true)

		assert.NoError(t, s.RequireOwner(ctx, db, parentIdent, 3))
	})

	t.Run("children never own", func(t *testing.T) {
		db, _ := newMockDB(t)
		assert.ErrorIs(t, s.RequireOwner(ctx, db, childIdent(3), 3), ErrForbidden)
	})

	t.Run("linked accepts any grant", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectGrant(mock, parentIdent.UserID, 3, 0, false)

		assert.NoError(t, s.RequireLinked(ctx, db, parentIdent, 3))
	})
}
