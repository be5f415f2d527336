package models

import (
	"time"

	"github.com/unclejonsbank/backend/internal/acl"
)

// Grant links a parent to a child with a capability subset.
type Grant struct {
	UserID      int64   `json:"user_id"`
	ChildID     int64   `json:"child_id"`
	Permissions acl.Set `json:"permissions"`
	IsOwner     bool    `json:"is_owner"`
}

// Effective resolves the capabilities the grant confers. Owners hold all of them.
func (g *Grant) Effective() acl.Set {
	if g == nil {
		return 0
	}
	if g.IsOwner {
		return acl.All
	}
	return g.Permissions
}

// ParentAccess is a grant joined with the parent's profile.
type ParentAccess struct {
	UserID      int64   `json:"user_id"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Permissions acl.Set `json:"permissions"`
	IsOwner     bool    `json:"is_owner"`
}

// ShareCode is a single-use invitation to co-manage a child.
type ShareCode struct {
	Code        string     `json:"code"`
	ChildID     int64      `json:"child_id"`
	CreatedBy   int64      `json:"created_by"`
	Permissions acl.Set    `json:"permissions"`
	UsedBy      *int64     `json:"used_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}
