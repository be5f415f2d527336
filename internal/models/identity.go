package models

// Role is the kind of principal behind a token.
type Role string

const (
	RoleParent Role = "parent"
	RoleAdmin  Role = "admin"
	RoleChild  Role = "child"
)

func (r Role) Valid() bool {
	return r == RoleParent || r == RoleAdmin || r == RoleChild
}

// Identity is the authenticated caller of a request. It is built by the
// auth middleware and passed explicitly into every service call.
type Identity struct {
	Role    Role
	UserID  int64
	ChildID int64
	TokenID string
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

func (i *Identity) IsChild() bool {
	return i != nil && i.Role == RoleChild
}

func (i *Identity) IsParent() bool {
	return i != nil && i.Role == RoleParent
}

// Initiator maps the caller to the initiated_by value of postings they make.
func (i *Identity) Initiator() (Initiator, int64) {
	switch i.Role {
	case RoleChild:
		return InitiatedByChild, i.ChildID
	case RoleAdmin:
		return InitiatedByAdmin, i.UserID
	default:
		return InitiatedByParent, i.UserID
	}
}
