package models

import "time"

// Message is a note between two family members. Exactly one sender column
// and one recipient column is set; the other of each pair is nil.
type Message struct {
	ID                int64     `json:"id"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	SenderUserID      *int64    `json:"sender_user_id,omitempty"`
	SenderChildID     *int64    `json:"sender_child_id,omitempty"`
	RecipientUserID   *int64    `json:"recipient_user_id,omitempty"`
	RecipientChildID  *int64    `json:"recipient_child_id,omitempty"`
	Read              bool      `json:"read"`
	SenderArchived    bool      `json:"sender_archived"`
	RecipientArchived bool      `json:"recipient_archived"`
	CreatedAt         time.Time `json:"created_at"`
}

// BroadcastTarget selects the audience of an admin broadcast.
type BroadcastTarget string

const (
	BroadcastAll      BroadcastTarget = "all"
	BroadcastParents  BroadcastTarget = "parents"
	BroadcastChildren BroadcastTarget = "children"
)

func (t BroadcastTarget) Valid() bool {
	return t == BroadcastAll || t == BroadcastParents || t == BroadcastChildren
}

// SentBy reports whether ident wrote m.
func (m *Message) SentBy(ident *Identity) bool {
	if ident.IsChild() {
		return m.SenderChildID != nil && *m.SenderChildID == ident.ChildID
	}
	return m.SenderUserID != nil && *m.SenderUserID == ident.UserID
}

// SentTo reports whether ident is the recipient of m.
func (m *Message) SentTo(ident *Identity) bool {
	if ident.IsChild() {
		return m.RecipientChildID != nil && *m.RecipientChildID == ident.ChildID
	}
	return m.RecipientUserID != nil && *m.RecipientUserID == ident.UserID
}
