package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const messageColumns = `id, subject, body, sender_user_id, sender_child_id, recipient_user_id, recipient_child_id, read, sender_archived, recipient_archived, created_at`

// MessageService carries notes between parents, children and admins.
// Parents may write to children they are linked to, children to their
// linked parents, and admins to anyone.
type MessageService struct {
	db     *sql.DB
	access *AccessService
	logger *zap.Logger
	now    func() time.Time
}

func NewMessageService(db *sql.DB, access *AccessService, logger *zap.Logger) *MessageService {
	return &MessageService{db: db, access: access, logger: logger, now: time.Now}
}

// MessageInput names exactly one recipient.
type MessageInput struct {
	Subject          string
	Body             string
	RecipientUserID  *int64
	RecipientChildID *int64
}

func scanMessage(row scanner) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.Subject, &m.Body, &m.SenderUserID, &m.SenderChildID, &m.RecipientUserID,
		&m.RecipientChildID, &m.Read, &m.SenderArchived, &m.RecipientArchived, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	out := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// party is the column suffix and id that identify ident on a message.
func party(ident *models.Identity) (string, int64) {
	if ident.IsChild() {
		return "child_id", ident.ChildID
	}
	return "user_id", ident.UserID
}

func messageText(subject, body string) (string, string, error) {
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	if subject == "" || body == "" {
		return "", "", validationError("subject and body are required")
	}
	return subject, body, nil
}

func (s *MessageService) exists(ctx context.Context, table string, id int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *MessageService) Send(ctx context.Context, ident *models.Identity, in MessageInput) (*models.Message, error) {
	subject, body, err := messageText(in.Subject, in.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case in.RecipientUserID != nil && in.RecipientChildID != nil:
		return nil, validationError("specify only one recipient")
	case in.RecipientUserID == nil && in.RecipientChildID == nil:
		return nil, validationError("recipient required")
	}

	m := &models.Message{
		Subject:          subject,
		Body:             body,
		RecipientUserID:  in.RecipientUserID,
		RecipientChildID: in.RecipientChildID,
		CreatedAt:        s.now().UTC(),
	}

	switch {
	case ident.IsChild():
		if in.RecipientUserID == nil {
			return nil, validationError("children may only message a parent")
		}
		g, err := s.access.Grant(ctx, s.db, *in.RecipientUserID, ident.ChildID)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, notFoundError("parent not linked")
		}
		sender := ident.ChildID
		m.SenderChildID = &sender

	case in.RecipientChildID != nil:
		if err := s.access.RequireLinked(ctx, s.db, ident, *in.RecipientChildID); err != nil {
			if errors.Is(err, ErrForbidden) {
				return nil, notFoundError("child not found")
			}
			return nil, err
		}
		if ident.IsAdmin() {
			ok, err := s.exists(ctx, "children", *in.RecipientChildID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, notFoundError("child not found")
			}
		}
		sender := ident.UserID
		m.SenderUserID = &sender

	default:
		if !ident.IsAdmin() {
			return nil, forbiddenError("only admins may message other users")
		}
		ok, err := s.exists(ctx, "users", *in.RecipientUserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFoundError("user not found")
		}
		sender := ident.UserID
		m.SenderUserID = &sender
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages (subject, body, sender_user_id, sender_child_id, recipient_user_id, recipient_child_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		m.Subject, m.Body, m.SenderUserID, m.SenderChildID, m.RecipientUserID, m.RecipientChildID, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("message sent", zap.Int64("message_id", m.ID), zap.String("role", string(ident.Role)))
	return m, nil
}

// Broadcast sends one copy to every member of target and returns how many
// were written. The sender never receives its own broadcast.
func (s *MessageService) Broadcast(ctx context.Context, ident *models.Identity, subject, body string, target models.BroadcastTarget) (int, error) {
	if err := requireAdmin(ident); err != nil {
		return 0, err
	}
	if !target.Valid() {
		return 0, validationError("target must be all, parents or children")
	}
	subject, body, err := messageText(subject, body)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := s.now().UTC()
	var count int64
	if target == models.BroadcastAll || target == models.BroadcastParents {
		query := `
			INSERT INTO messages (subject, body, sender_user_id, recipient_user_id, created_at)
			SELECT $1, $2, $3, id, $4 FROM users WHERE id <> $3`
		if target == models.BroadcastParents {
			query += ` AND role = 'parent'`
		}
		res, err := tx.ExecContext(ctx, query, subject, body, ident.UserID, now)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		count += n
	}
	if target == models.BroadcastAll || target == models.BroadcastChildren {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (subject, body, sender_user_id, recipient_child_id, created_at)
			SELECT $1, $2, $3, id, $4 FROM children`, subject, body, ident.UserID, now)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		count += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Info("broadcast sent", zap.String("target", string(target)), zap.Int64("count", count))
	return int(count), nil
}

func (s *MessageService) received(ctx context.Context, ident *models.Identity, archived bool) ([]models.Message, error) {
	col, id := party(ident)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE recipient_`+col+` = $1 AND recipient_archived = $2
		ORDER BY created_at DESC, id DESC`, id, archived)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *MessageService) Inbox(ctx context.Context, ident *models.Identity) ([]models.Message, error) {
	return s.received(ctx, ident, false)
}

func (s *MessageService) Archived(ctx context.Context, ident *models.Identity) ([]models.Message, error) {
	return s.received(ctx, ident, true)
}

func (s *MessageService) Sent(ctx context.Context, ident *models.Identity) ([]models.Message, error) {
	col, id := party(ident)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_`+col+` = $1 AND NOT sender_archived
		ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// All lists every message. Admin only.
func (s *MessageService) All(ctx context.Context, ident *models.Identity) ([]models.Message, error) {
	if err := requireAdmin(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *MessageService) load(ctx context.Context, id int64) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("message not found")
	}
	return m, err
}

// Get returns a message to its sender or recipient. Opening it as the
// recipient marks it read.
func (s *MessageService) Get(ctx context.Context, ident *models.Identity, id int64) (*models.Message, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case m.SentTo(ident):
		if !m.Read {
			if _, err := s.db.ExecContext(ctx, `UPDATE messages SET read = true WHERE id = $1`, m.ID); err != nil {
				return nil, err
			}
			m.Read = true
		}
	case !m.SentBy(ident):
		return nil, forbiddenError("not a party to this message")
	}
	return m, nil
}

// Archive hides a message from the caller's inbox, or from their sent
// list when they wrote it.
func (s *MessageService) Archive(ctx context.Context, ident *models.Identity, id int64) (*models.Message, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	var column string
	switch {
	case m.SentTo(ident):
		column = "recipient_archived"
		m.RecipientArchived = true
	case m.SentBy(ident):
		column = "sender_archived"
		m.SenderArchived = true
	default:
		return nil, forbiddenError("not a party to this message")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET `+column+` = true WHERE id = $1`, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}
