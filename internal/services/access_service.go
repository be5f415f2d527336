package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/metrics"
	"github.com/unclejonsbank/backend/internal/models"
)

// AccessService resolves what a caller may do to a specific child.
type AccessService struct {
	audit *audit.AuditLogger
}

func NewAccessService(auditLogger *audit.AuditLogger) *AccessService {
	return &AccessService{audit: auditLogger}
}

// Grant loads the link between a parent and a child, or nil when none exists.
func (s *AccessService) Grant(ctx context.Context, q querier, userID, childID int64) (*models.Grant, error) {
	g := models.Grant{UserID: userID, ChildID: childID}
	err := q.QueryRowContext(ctx, `
		SELECT permissions, is_owner
		FROM child_grants
		WHERE user_id = $1 AND child_id = $2`, userID, childID).Scan(&g.Permissions, &g.IsOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Effective returns the capability set of ident over childID. Admins hold
// everything; a child may only view its own ledger.
func (s *AccessService) Effective(ctx context.Context, q querier, ident *models.Identity, childID int64) (acl.Set, error) {
	switch {
	case ident == nil:
		return 0, nil
	case ident.IsAdmin():
		return acl.All, nil
	case ident.IsChild():
		if ident.ChildID == childID {
			return acl.Of(acl.ViewTransactions), nil
		}
		return 0, nil
	}

	g, err := s.Grant(ctx, q, ident.UserID, childID)
	if err != nil {
		return 0, err
	}
	return g.Effective(), nil
}

// Authorize requires every capability in caps.
func (s *AccessService) Authorize(ctx context.Context, q querier, ident *models.Identity, childID int64, caps ...acl.Capability) error {
	set, err := s.Effective(ctx, q, ident, childID)
	if err != nil {
		return err
	}
	for _, c := range caps {
		if !set.Has(c) {
			return s.deny(ident, childID, string(c))
		}
	}
	return nil
}

// AuthorizeAny requires at least one capability in caps.
func (s *AccessService) AuthorizeAny(ctx context.Context, q querier, ident *models.Identity, childID int64, caps ...acl.Capability) error {
	set, err := s.Effective(ctx, q, ident, childID)
	if err != nil {
		return err
	}
	if !set.HasAny(caps...) {
		return s.deny(ident, childID, string(caps[0]))
	}
	return nil
}

// RequireOwner allows admins and the owning parent.
func (s *AccessService) RequireOwner(ctx context.Context, q querier, ident *models.Identity, childID int64) error {
	if ident.IsAdmin() {
		return nil
	}
	if !ident.IsParent() {
		return s.deny(ident, childID, "owner")
	}
	g, err := s.Grant(ctx, q, ident.UserID, childID)
	if err != nil {
		return err
	}
	if g == nil || !g.IsOwner {
		return s.deny(ident, childID, "owner")
	}
	return nil
}

// RequireLinked allows admins and any parent holding a grant on the child.
func (s *AccessService) RequireLinked(ctx context.Context, q querier, ident *models.Identity, childID int64) error {
	if ident.IsAdmin() {
		return nil
	}
	if !ident.IsParent() {
		return s.deny(ident, childID, "linked")
	}
	g, err := s.Grant(ctx, q, ident.UserID, childID)
	if err != nil {
		return err
	}
	if g == nil {
		return s.deny(ident, childID, "linked")
	}
	return nil
}

// CanView is the read gate shared by every ledger view.
func (s *AccessService) CanView(ctx context.Context, q querier, ident *models.Identity, childID int64) error {
	return s.Authorize(ctx, q, ident, childID, acl.ViewTransactions)
}

func (s *AccessService) deny(ident *models.Identity, childID int64, capability string) error {
	metrics.AuthorizationDenied.WithLabelValues(capability).Inc()
	if s.audit != nil {
		s.audit.LogDenied(ident, childID, capability)
	}
	return forbiddenError("missing %s", capability)
}
